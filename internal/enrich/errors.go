package enrich

import "fmt"

// ErrorKind classifies text-service failures. Both kinds are recovered
// locally by falling back to the unenriched input; neither ever fails a
// segment.
type ErrorKind string

const (
	ServiceTimeout ErrorKind = "service_timeout"
	ServiceFailure ErrorKind = "service_failure"
)

// Error is a text-service failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("enrich: %s", e.Kind)
	}
	return fmt.Sprintf("enrich: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as an enrichment error of the given kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
