package capture

import "fmt"

// ErrorKind classifies capture failures. All of them are fatal to the
// session and are never retried automatically.
type ErrorKind string

const (
	PermissionDenied  ErrorKind = "permission_denied"
	DeviceUnavailable ErrorKind = "device_unavailable"
	DeviceError       ErrorKind = "device_error"
)

// Error is a capture-level failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("capture: %s", e.Kind)
	}
	return fmt.Sprintf("capture: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a capture error of the given kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
