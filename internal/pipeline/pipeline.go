// Package pipeline wires the dictation components together and owns the
// session lifecycle: capture feeds the recognition transport, the
// aggregator turns recognition events into transcript segments, finalized
// segments fan out to enrichment and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voice-dictation-pipeline/internal/aggregator"
	"voice-dictation-pipeline/internal/capture"
	"voice-dictation-pipeline/internal/config"
	"voice-dictation-pipeline/internal/enrich"
	"voice-dictation-pipeline/internal/events"
	"voice-dictation-pipeline/internal/models"
	"voice-dictation-pipeline/internal/observability/logging"
	"voice-dictation-pipeline/internal/observability/metrics"
	"voice-dictation-pipeline/internal/persist"
	"voice-dictation-pipeline/internal/state"
	"voice-dictation-pipeline/internal/transport"
	"voice-dictation-pipeline/internal/transport/google"
	"voice-dictation-pipeline/internal/transport/mock"
	"voice-dictation-pipeline/internal/transport/ws"
)

// ErrSessionActive is returned by StartSession while a session is running.
var ErrSessionActive = errors.New("session already running")

// ErrNoSession is returned by session operations when nothing is running.
var ErrNoSession = errors.New("no active session")

// Pipeline is the top-level orchestrator. One Pipeline handles one session
// at a time; enrichment and persistence workers run for the process
// lifetime, independent of sessions.
type Pipeline struct {
	cfg       *config.Config
	store     *state.Store
	gateway   *persist.Gateway
	publisher *events.Publisher
	cleanup   *enrich.Cleanup
	extractor *enrich.Extractor
	newSource func() capture.Source
	metrics   *metrics.Metrics
	log       zerolog.Logger

	mu   sync.Mutex
	sess *session
}

type session struct {
	id     string
	cancel context.CancelFunc
	mgr    *capture.Manager
	wg     sync.WaitGroup
}

// New assembles a pipeline. newSource is called once per session to acquire
// a fresh device handle.
func New(
	cfg *config.Config,
	store *state.Store,
	gateway *persist.Gateway,
	publisher *events.Publisher,
	cleanup *enrich.Cleanup,
	extractor *enrich.Extractor,
	newSource func() capture.Source,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		gateway:   gateway,
		publisher: publisher,
		cleanup:   cleanup,
		extractor: extractor,
		newSource: newSource,
		metrics:   metrics.DefaultMetrics,
		log:       logging.WithComponent("pipeline"),
	}
}

// Run starts the process-lifetime workers and blocks until ctx is
// cancelled. Sessions started meanwhile are stopped on the way out.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); p.cleanup.Run(ctx) }()
	go func() { defer wg.Done(); p.extractor.Run(ctx) }()
	go func() { defer wg.Done(); p.gateway.Run(ctx) }()

	<-ctx.Done()
	if err := p.StopSession(context.Background()); err != nil && !errors.Is(err, ErrNoSession) {
		p.log.Warn().Err(err).Msg("Session stop during shutdown failed")
	}
	wg.Wait()
}

// StartSession begins a new dictation session: both recorders and the
// recognition stream start together. Only one session runs at a time.
func (p *Pipeline) StartSession(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess != nil {
		return "", ErrSessionActive
	}

	id := uuid.NewString()
	now := time.Now()
	p.store.BeginSession(id, now)

	rec, err := p.newRecognizer(ctx)
	if err != nil {
		p.store.EndSession(id)
		return "", err
	}

	mgr := capture.NewManager(p.cfg.Capture, p.newSource(), p.store)
	tr := transport.New(p.cfg.Transport, rec, p.store)
	agg := aggregator.New(p.store)
	agg.Begin(id, now)

	sctx, cancel := context.WithCancel(context.Background())
	if err := mgr.Start(sctx, id); err != nil {
		cancel()
		p.store.EndSession(id)
		return "", err
	}

	sess := &session{id: id, cancel: cancel, mgr: mgr}
	sess.wg.Add(5)
	go func() {
		defer sess.wg.Done()
		if err := tr.Run(sctx, mgr.Frames(), p.cfg.Capture.SampleRateHz); err != nil {
			p.log.Warn().Err(err).Msg("Transport exited with error")
		}
	}()
	go func() { defer sess.wg.Done(); agg.Run(sctx, tr.Events()) }()
	go func() { defer sess.wg.Done(); p.consumeFinals(agg) }()
	go func() { defer sess.wg.Done(); p.consumeUpdates(id, agg) }()
	go func() { defer sess.wg.Done(); p.consumeAudio(sctx, mgr) }()
	go p.watchFatal(sctx, id, mgr, tr)

	p.sess = sess
	p.metrics.RecordSessionStart()
	p.log.Info().Str("sessionId", id).Str("strategy", p.cfg.Transport.Strategy).Msg("Session started")
	return id, nil
}

// StopSession stops capture and transport, uploads the full-session
// recording, and leaves enrichment to drain in the background.
func (p *Pipeline) StopSession(ctx context.Context) error {
	p.mu.Lock()
	sess := p.sess
	p.sess = nil
	p.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}

	full, err := sess.mgr.Stop()
	sess.cancel()
	sess.wg.Wait()
	if err != nil {
		p.metrics.RecordSessionEnd()
		return err
	}

	if len(full.Data) > 0 && p.store.PutAudioSegment(full) {
		if uerr := p.gateway.UploadAudio(ctx, full, true); uerr != nil {
			p.log.Warn().Err(uerr).Str("sessionId", sess.id).Msg("Full recording upload failed")
		}
	}

	p.metrics.RecordSessionEnd()
	p.log.Info().Str("sessionId", sess.id).Msg("Session stopped")
	return nil
}

// Pause suspends capture without releasing the device.
func (p *Pipeline) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return ErrNoSession
	}
	p.sess.mgr.Pause()
	return nil
}

// Resume continues a paused session.
func (p *Pipeline) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return ErrNoSession
	}
	p.sess.mgr.Resume()
	return nil
}

// SessionID returns the running session's id, or "".
func (p *Pipeline) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return ""
	}
	return p.sess.id
}

// newRecognizer selects the transport backend once from configuration.
func (p *Pipeline) newRecognizer(ctx context.Context) (transport.Recognizer, error) {
	switch p.cfg.Transport.Strategy {
	case "ws":
		return ws.New(p.cfg.Transport), nil
	case "google":
		return google.New(ctx, p.cfg.Transport, p.cfg.Capture.SampleRateHz)
	case "mock", "":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown transport strategy %q", p.cfg.Transport.Strategy)
	}
}

// consumeFinals fans each finalized segment out to persistence, events and
// the cleanup queue.
func (p *Pipeline) consumeFinals(agg *aggregator.Aggregator) {
	for seg := range agg.Finals() {
		p.cleanup.Enqueue(seg)

		ev := models.TranscriptFinalEvent{
			EventType:      "dictation.transcript.final",
			SessionID:      seg.SessionID,
			SegmentID:      seg.ID,
			Text:           seg.RawText,
			AudioSegmentID: seg.AudioSegmentID,
			AudioStartMs:   seg.AudioStartMs,
			AudioEndMs:     seg.AudioEndMs,
			Timestamp:      time.Now().UnixMilli(),
		}
		if err := p.publisher.PublishFinal(context.Background(), seg.SessionID, ev); err != nil {
			p.log.Warn().Err(err).Str("segmentId", seg.ID).Msg("Final event publish failed")
		}

		if err := p.gateway.SaveTranscripts(context.Background(), []models.TranscriptSegment{seg}); err != nil {
			p.log.Warn().Err(err).Str("segmentId", seg.ID).Msg("Transcript save failed, queued for retry")
		}
	}
}

// consumeUpdates publishes interim transcript revisions.
func (p *Pipeline) consumeUpdates(sessionID string, agg *aggregator.Aggregator) {
	for seg := range agg.Updates() {
		if !seg.IsInterim {
			continue
		}
		ev := models.TranscriptPartialEvent{
			EventType: "dictation.transcript.partial",
			SessionID: sessionID,
			SegmentID: seg.ID,
			Text:      seg.RawText,
			Timestamp: time.Now().UnixMilli(),
		}
		if err := p.publisher.PublishPartial(context.Background(), sessionID, ev); err != nil {
			p.log.Warn().Err(err).Str("segmentId", seg.ID).Msg("Partial event publish failed")
		}
	}
}

// consumeAudio uploads each cadence segment as it is cut. Uploads use the
// background context so a session stop never aborts an in-flight blob.
func (p *Pipeline) consumeAudio(ctx context.Context, mgr *capture.Manager) {
	for {
		select {
		case <-ctx.Done():
			// Stop cuts a trailing segment before cancelling; drain it.
			for {
				select {
				case seg := <-mgr.Segments():
					p.uploadSegment(seg)
				default:
					return
				}
			}
		case seg, ok := <-mgr.Segments():
			if !ok {
				return
			}
			p.uploadSegment(seg)
		}
	}
}

func (p *Pipeline) uploadSegment(seg models.AudioSegment) {
	if err := p.gateway.UploadAudio(context.Background(), seg, false); err != nil {
		p.log.Warn().Err(err).Str("segmentId", seg.ID).Msg("Audio segment upload failed, queued for retry")
	}
}

// watchFatal stops the session on a capture or transport fatal error.
// Enrichment and persistence failures never land here; they degrade in
// place.
func (p *Pipeline) watchFatal(ctx context.Context, sessionID string, mgr *capture.Manager, tr *transport.Transport) {
	var err error
	select {
	case <-ctx.Done():
		return
	case err = <-mgr.Fatal():
	case err = <-tr.Fatal():
	}

	p.log.Error().Err(err).Str("sessionId", sessionID).Msg("Fatal pipeline error, stopping session")
	if serr := p.StopSession(context.Background()); serr != nil && !errors.Is(serr, ErrNoSession) {
		p.log.Warn().Err(serr).Msg("Stop after fatal error failed")
	}
}
