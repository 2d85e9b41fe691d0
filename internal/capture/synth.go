package capture

import (
	"context"
	"math"
	"sync"
	"time"
)

// SynthSource generates PCM16 frames on a timer: a stand-in microphone for
// environments without an audio device. It produces a low-amplitude sine
// tone so level metering has something to show.
type SynthSource struct {
	sampleRate int
	frameDur   time.Duration
	freqHz     float64

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// NewSynthSource creates a synthetic source emitting frames of the given
// duration at the given sample rate.
func NewSynthSource(sampleRateHz int, frameDuration time.Duration) *SynthSource {
	if frameDuration <= 0 {
		frameDuration = 50 * time.Millisecond
	}
	return &SynthSource{
		sampleRate: sampleRateHz,
		frameDur:   frameDuration,
		freqHz:     440,
	}
}

func (s *SynthSource) Start(ctx context.Context, onFrame func(Frame), onError func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return NewError(DeviceUnavailable, context.Canceled)
	}
	ctx, s.cancel = context.WithCancel(ctx)

	samplesPerFrame := int(float64(s.sampleRate) * s.frameDur.Seconds())
	go func() {
		ticker := time.NewTicker(s.frameDur)
		defer ticker.Stop()
		var phase float64
		step := 2 * math.Pi * s.freqHz / float64(s.sampleRate)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				data := make([]byte, samplesPerFrame*2)
				for i := 0; i < samplesPerFrame; i++ {
					sample := int16(math.Sin(phase) * 0.1 * math.MaxInt16)
					phase += step
					data[2*i] = byte(sample)
					data[2*i+1] = byte(sample >> 8)
				}
				onFrame(Frame{Data: data, Captured: time.Now()})
			}
		}
	}()
	return nil
}

func (s *SynthSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
