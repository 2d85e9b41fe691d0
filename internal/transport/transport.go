// Package transport maintains the duplex channel to the streaming
// recognizer: raw PCM16 chunks out, incremental recognition events in.
//
// The concrete backend is a Recognizer strategy chosen once at startup from
// configuration (ws, google or mock), never by runtime capability probing.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"voice-dictation-pipeline/internal/capture"
	"voice-dictation-pipeline/internal/config"
	"voice-dictation-pipeline/internal/models"
	"voice-dictation-pipeline/internal/observability/logging"
	"voice-dictation-pipeline/internal/observability/metrics"
	"voice-dictation-pipeline/internal/state"
)

// ErrorKind classifies transport failures.
type ErrorKind string

const (
	ConnectFailed      ErrorKind = "connect_failed"
	Disconnected       ErrorKind = "disconnected"
	TransportExhausted ErrorKind = "transport_exhausted"
)

// Error is a transport-level failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport: %s", e.Kind)
	}
	return fmt.Sprintf("transport: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a transport error of the given kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Result is one recognition event from the backend. When Err is non-nil the
// stream has failed fatally and no further results follow.
type Result struct {
	Text      string
	IsFinal   bool
	StartMs   int64
	EndMs     int64
	HasTiming bool
	Err       error
}

// Recognizer is the backend strategy interface. Implementations own their
// connection, including reconnect policy; Stop closes cleanly and must not
// trigger a reconnect.
type Recognizer interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, chunk []byte) error
	Results() <-chan Result
	Stop() error
}

// Event is a recognition event with timing guaranteed: backend timestamps
// when present and internally consistent, wall-clock estimates otherwise.
type Event struct {
	Text    string
	IsFinal bool
	StartMs int64
	EndMs   int64
}

// Transport pumps captured frames to a Recognizer in fixed-size chunks and
// normalizes the result stream.
type Transport struct {
	cfg     config.TransportConfig
	rec     Recognizer
	store   *state.Store
	metrics *metrics.Metrics
	log     zerolog.Logger

	events chan Event
	fatal  chan error
}

// New creates a transport over the given recognizer strategy.
func New(cfg config.TransportConfig, rec Recognizer, store *state.Store) *Transport {
	return &Transport{
		cfg:     cfg,
		rec:     rec,
		store:   store,
		metrics: metrics.DefaultMetrics,
		log:     logging.WithComponent("transport"),
		events:  make(chan Event, 64),
		fatal:   make(chan error, 1),
	}
}

// Events is the normalized recognition event stream.
func (t *Transport) Events() <-chan Event { return t.events }

// Fatal delivers at most one fatal transport error.
func (t *Transport) Fatal() <-chan error { return t.fatal }

// Run connects the recognizer and pumps frames until ctx is cancelled or
// the frame channel closes. Blocks; run in its own goroutine.
func (t *Transport) Run(ctx context.Context, frames <-chan capture.Frame, sampleRateHz int) error {
	if err := t.rec.Start(ctx); err != nil {
		t.store.SetStatus("recognition", models.StateError, err.Error())
		terr := NewError(ConnectFailed, err)
		t.reportFatal(terr)
		return terr
	}
	t.store.SetStatus("recognition", models.StateRunning, "")

	connectedAt := time.Now()
	go t.receiveLoop(connectedAt)

	// One chunk of buffering at most: frames accumulate only until the
	// chunk boundary, then go straight out.
	chunkBytes := sampleRateHz * 2 * int(t.cfg.ChunkDuration.Milliseconds()) / 1000
	if chunkBytes <= 0 {
		chunkBytes = 1600
	}
	pending := make([]byte, 0, chunkBytes)

	for {
		select {
		case <-ctx.Done():
			t.shutdown()
			return nil
		case f, ok := <-frames:
			if !ok {
				t.shutdown()
				return nil
			}
			pending = append(pending, f.Data...)
			for len(pending) >= chunkBytes {
				chunk := pending[:chunkBytes]
				if err := t.rec.Send(ctx, chunk); err != nil {
					t.log.Warn().Err(err).Msg("Chunk send failed")
				} else {
					t.metrics.ChunksSent.Inc()
				}
				pending = pending[chunkBytes:]
			}
			if len(pending) == 0 {
				pending = make([]byte, 0, chunkBytes)
			}
		}
	}
}

func (t *Transport) shutdown() {
	if err := t.rec.Stop(); err != nil {
		t.log.Warn().Err(err).Msg("Recognizer stop failed")
	}
	t.store.SetStatus("recognition", models.StateIdle, "")
}

// receiveLoop normalizes backend results into timed events. Backend
// timestamps win only when internally consistent (end >= start); otherwise
// the event span is estimated from elapsed time since connect.
func (t *Transport) receiveLoop(connectedAt time.Time) {
	var lastEndMs int64

	for res := range t.rec.Results() {
		if res.Err != nil {
			t.store.SetStatus("recognition", models.StateError, res.Err.Error())
			t.reportFatal(res.Err)
			return
		}

		ev := Event{Text: res.Text, IsFinal: res.IsFinal}
		if res.HasTiming && res.EndMs >= res.StartMs {
			ev.StartMs = res.StartMs
			ev.EndMs = res.EndMs
		} else {
			elapsed := time.Since(connectedAt).Milliseconds()
			ev.StartMs = lastEndMs
			ev.EndMs = elapsed
			if ev.EndMs < ev.StartMs {
				ev.EndMs = ev.StartMs
			}
		}
		if ev.IsFinal {
			lastEndMs = ev.EndMs
			t.metrics.RecordEvent("final")
		} else {
			t.metrics.RecordEvent("interim")
		}

		select {
		case t.events <- ev:
		default:
			t.log.Warn().Msg("Event buffer full, dropping oldest")
			select {
			case <-t.events:
			default:
			}
			select {
			case t.events <- ev:
			default:
			}
		}
	}
	close(t.events)
}

func (t *Transport) reportFatal(err error) {
	select {
	case t.fatal <- err:
	default:
	}
	close(t.events)
}
