// Package capture owns the microphone session: it feeds a long-running full
// recorder and a fixed-cadence segment recorder from one input stream,
// emits audio segments for transcription and upload, and exposes a live
// amplitude feed for visualization.
package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"voice-dictation-pipeline/internal/config"
	"voice-dictation-pipeline/internal/models"
	"voice-dictation-pipeline/internal/observability/logging"
	"voice-dictation-pipeline/internal/observability/metrics"
	"voice-dictation-pipeline/internal/state"
)

// Manager coordinates the two recorders sharing the device stream.
//
// The frame callback runs on the platform audio path and never blocks:
// both recorder appends happen under a briefly-held mutex and all channel
// handoffs drop the oldest entry instead of waiting.
type Manager struct {
	cfg     config.CaptureConfig
	store   *state.Store
	source  Source
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu           sync.Mutex
	running      bool
	paused       bool
	sessionID    string
	sessionStart time.Time
	segBuf       bytes.Buffer
	fullBuf      bytes.Buffer
	segStart     time.Time
	cancel       context.CancelFunc

	segCounter uint64

	frames   chan Frame
	segments chan models.AudioSegment
	levels   chan float64
	fatal    chan error
	done     chan struct{}
}

// NewManager creates a capture manager over the given device source.
func NewManager(cfg config.CaptureConfig, src Source, store *state.Store) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    store,
		source:   src,
		metrics:  metrics.DefaultMetrics,
		log:      logging.WithComponent("capture"),
		frames:   make(chan Frame, cfg.FrameBufferSize),
		segments: make(chan models.AudioSegment, 16),
		levels:   make(chan float64, 8),
		fatal:    make(chan error, 1),
	}
}

// Frames is the live PCM feed consumed by the recognition transport.
func (m *Manager) Frames() <-chan Frame { return m.frames }

// Segments emits one AudioSegment per cadence boundary.
func (m *Manager) Segments() <-chan models.AudioSegment { return m.segments }

// Levels is the live amplitude feed (RMS, 0..1) for visualization.
func (m *Manager) Levels() <-chan float64 { return m.levels }

// Fatal delivers at most one capture-level error that ends the session.
func (m *Manager) Fatal() <-chan error { return m.fatal }

// Start acquires the device and begins both recorders atomically: the
// segment clock and the full recorder observe the same first frame, so no
// audio is lost at the initial boundary.
func (m *Manager) Start(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("capture already running")
	}

	now := time.Now()
	m.sessionID = sessionID
	m.sessionStart = now
	m.segStart = now
	m.segBuf.Reset()
	m.fullBuf.Reset()
	m.paused = false
	m.segCounter = 0
	m.done = make(chan struct{})

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	if err := m.source.Start(runCtx, m.onFrame, m.onSourceError); err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		cancel()
		if cerr, ok := err.(*Error); ok {
			return cerr
		}
		return NewError(DeviceUnavailable, err)
	}

	// The first capture window opens with the session so transcripts can be
	// correlated before its audio is ever cut.
	m.store.OpenAudioWindow(sessionID, windowID(sessionID, 1), 0)

	m.store.SetStatus("recording", models.StateRunning, "")
	m.log.Info().
		Str("sessionId", sessionID).
		Dur("cadence", m.cfg.SegmentCadence).
		Int("sampleRateHz", m.cfg.SampleRateHz).
		Msg("Capture started")

	go m.cadenceLoop(runCtx)
	return nil
}

// Pause suspends both recorders without releasing the device handle.
// A no-op when no session is running.
func (m *Manager) Pause() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.paused = true
	m.mu.Unlock()
	m.store.SetStatus("recording", models.StatePaused, "")
	m.log.Info().Msg("Capture paused")
}

// Resume continues a paused session. The current segment window restarts so
// a pause gap never lands inside one segment. A no-op when no session is
// running.
func (m *Manager) Resume() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	if m.paused {
		m.paused = false
		m.segStart = time.Now()
		m.segBuf.Reset()
	}
	m.mu.Unlock()
	m.store.SetStatus("recording", models.StateRunning, "")
	m.log.Info().Msg("Capture resumed")
}

// Stop releases the device and returns the full-session recording.
// Idempotent: a second call returns an empty recording without error.
func (m *Manager) Stop() (models.AudioSegment, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return models.AudioSegment{}, nil
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	<-m.done

	if err := m.source.Stop(); err != nil {
		m.log.Warn().Err(err).Msg("Device release failed")
	}

	// Flush the trailing partial segment.
	m.cutSegment(time.Now())

	m.mu.Lock()
	full := models.AudioSegment{
		ID:           m.sessionID + "-full",
		SessionID:    m.sessionID,
		StartTime:    m.sessionStart,
		EndTime:      time.Now(),
		UploadStatus: models.UploadPending,
	}
	full.Duration = full.EndTime.Sub(full.StartTime)
	if m.fullBuf.Len() > 0 {
		wav, err := EncodeWAV(m.fullBuf.Bytes(), m.cfg.SampleRateHz)
		if err != nil {
			m.mu.Unlock()
			return models.AudioSegment{}, NewError(DeviceError, fmt.Errorf("encode full recording: %w", err))
		}
		full.Data = wav
		full.SizeBytes = int64(len(wav))
	}
	m.mu.Unlock()

	m.store.SetStatus("recording", models.StateIdle, "")
	m.log.Info().
		Str("sessionId", full.SessionID).
		Int64("sizeBytes", full.SizeBytes).
		Dur("duration", full.Duration).
		Msg("Capture stopped")
	return full, nil
}

// Elapsed returns milliseconds since recording start, for offset stamping.
func (m *Manager) Elapsed(at time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return at.Sub(m.sessionStart).Milliseconds()
}

func (m *Manager) onFrame(f Frame) {
	m.mu.Lock()
	if !m.running || m.paused {
		m.mu.Unlock()
		return
	}
	m.segBuf.Write(f.Data)
	m.fullBuf.Write(f.Data)
	m.mu.Unlock()

	m.offerFrame(f)
	m.offerLevel(rmsLevel(f.Data))
}

func (m *Manager) onSourceError(err error) {
	// The shared input stream failed, which breaks the full recorder:
	// the session cannot continue.
	m.store.SetStatus("recording", models.StateError, err.Error())
	select {
	case m.fatal <- NewError(DeviceError, err):
	default:
	}
}

func (m *Manager) cadenceLoop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.SegmentCadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.mu.Lock()
			paused := m.paused
			m.mu.Unlock()
			if paused {
				continue
			}
			m.cutSegment(now)
		}
	}
}

// cutSegment closes the current segment window and restarts the segment
// recorder. An encode failure loses only that window; the next one starts
// clean and the full recorder is unaffected.
func (m *Manager) cutSegment(now time.Time) {
	m.mu.Lock()
	sessionID := m.sessionID
	sessionStart := m.sessionStart
	if m.segBuf.Len() == 0 {
		// Nothing captured: restart the window clock in place.
		m.segStart = now
		running := m.running
		n := atomic.LoadUint64(&m.segCounter)
		m.mu.Unlock()
		if running {
			m.store.OpenAudioWindow(sessionID, windowID(sessionID, n+1), now.Sub(sessionStart).Milliseconds())
		}
		return
	}
	pcm := make([]byte, m.segBuf.Len())
	copy(pcm, m.segBuf.Bytes())
	m.segBuf.Reset()
	start := m.segStart
	m.segStart = now
	running := m.running
	n := atomic.AddUint64(&m.segCounter, 1)
	m.mu.Unlock()

	if running {
		m.store.OpenAudioWindow(sessionID, windowID(sessionID, n+1), now.Sub(sessionStart).Milliseconds())
	}

	wav, err := EncodeWAV(pcm, m.cfg.SampleRateHz)
	if err != nil {
		m.log.Error().Err(err).Msg("Segment recorder error, continuing with fresh segment")
		return
	}

	seg := models.AudioSegment{
		ID:           windowID(sessionID, n),
		SessionID:    sessionID,
		StartTime:    start,
		EndTime:      now,
		Duration:     now.Sub(start),
		SizeBytes:    int64(len(wav)),
		UploadStatus: models.UploadPending,
		Data:         wav,
	}

	if !m.store.PutAudioSegment(seg) {
		return
	}
	m.metrics.RecordAudioSegment(seg.SizeBytes)

	select {
	case m.segments <- seg:
	default:
		select {
		case <-m.segments:
		default:
		}
		select {
		case m.segments <- seg:
		default:
		}
		m.log.Warn().Str("segmentId", seg.ID).Msg("Segment channel full, dropped oldest")
	}
}

// windowID names the nth capture window of a session; the cut audio segment
// carries the same id.
func windowID(sessionID string, n uint64) string {
	return fmt.Sprintf("%s-audio-%d", sessionID, n)
}

// offerFrame hands a frame to the transport without ever blocking the
// audio callback: when the buffer is full the oldest frame is dropped.
func (m *Manager) offerFrame(f Frame) {
	select {
	case m.frames <- f:
		return
	default:
	}
	select {
	case <-m.frames:
	default:
	}
	select {
	case m.frames <- f:
	default:
	}
	m.metrics.FramesDropped.Inc()
}

func (m *Manager) offerLevel(level float64) {
	select {
	case m.levels <- level:
		return
	default:
	}
	select {
	case <-m.levels:
	default:
	}
	select {
	case m.levels <- level:
	default:
	}
}

// rmsLevel computes the normalized RMS amplitude of PCM16 samples.
func rmsLevel(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sum float64
	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}
