package capture

import (
	"context"
	"time"
)

// Frame is one batch of raw PCM16 mono samples from the input device.
type Frame struct {
	Data     []byte
	Captured time.Time
}

// Source abstracts the microphone device. Implementations invoke the frame
// callback from the platform's audio thread; the callback must never block.
//
// Start fails with *Error (PermissionDenied or DeviceUnavailable) when the
// device cannot be acquired. A mid-session device failure is delivered
// through the error callback and ends the source.
type Source interface {
	Start(ctx context.Context, onFrame func(Frame), onError func(error)) error
	Stop() error
}
