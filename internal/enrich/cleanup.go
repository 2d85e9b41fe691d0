package enrich

import (
	"context"

	"github.com/rs/zerolog"

	"voice-dictation-pipeline/internal/config"
	"voice-dictation-pipeline/internal/enrich/marker"
	"voice-dictation-pipeline/internal/models"
	"voice-dictation-pipeline/internal/observability/logging"
	"voice-dictation-pipeline/internal/observability/metrics"
	"voice-dictation-pipeline/internal/state"
)

// Cleanup drains the text-cleanup queue: each finalized segment's raw text
// goes through the text service, and the cleaned, marked text is written
// back to shared state. Cleanup failure never blocks the pipeline — the
// segment falls back to its raw text and still flows on to extraction.
type Cleanup struct {
	cfg      config.EnrichmentConfig
	queue    *Queue
	svc      TextCleaner
	store    *state.Store
	schedule *Queue
	todo     *Queue
	events   EventSink
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewCleanup wires the cleanup worker to its downstream extraction queues.
func NewCleanup(cfg config.EnrichmentConfig, svc TextCleaner, store *state.Store, schedule, todo *Queue, events EventSink) *Cleanup {
	return &Cleanup{
		cfg:      cfg,
		queue:    NewQueue("cleanup", cfg.QueueCapacity),
		svc:      svc,
		store:    store,
		schedule: schedule,
		todo:     todo,
		events:   events,
		metrics:  metrics.DefaultMetrics,
		log:      logging.WithComponent("cleanup"),
	}
}

// Enqueue submits a finalized segment for cleanup. Interim segments are
// never enriched and are silently ignored.
func (c *Cleanup) Enqueue(seg models.TranscriptSegment) {
	if seg.IsInterim {
		return
	}
	c.queue.Enqueue(seg)
}

// QueueLen reports the number of segments waiting for cleanup.
func (c *Cleanup) QueueLen() int { return c.queue.Len() }

// Run drains the queue until ctx is cancelled.
func (c *Cleanup) Run(ctx context.Context) {
	c.store.SetStatus("cleanup", models.StateRunning, "")
	defer c.store.SetStatus("cleanup", models.StateIdle, "")
	c.queue.Run(ctx, c.cfg.BatchSize, c.cfg.BatchDelay, c.process)
}

func (c *Cleanup) process(ctx context.Context, seg models.TranscriptSegment) error {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.ServiceTimeout)
	defer cancel()

	optimized, err := c.svc.Cleanup(callCtx, seg.RawText)
	if err != nil {
		// Fall back to the raw text and mark the segment optimized
		// anyway so it is never retried or stuck.
		optimized = seg.RawText
		c.metrics.CleanupFallbacks.Inc()
		c.log.Warn().Err(err).Str("segmentId", seg.ID).Msg("Cleanup failed, falling back to raw text")
	}

	containsSchedule := marker.HasSchedule(optimized)
	containsTodo := marker.HasTodo(optimized)

	if !c.store.ApplyCleanup(seg.SessionID, seg.ID, optimized, containsSchedule, containsTodo) {
		c.log.Debug().Str("segmentId", seg.ID).Msg("Discarded cleanup result for ended session")
		return nil
	}

	seg.OptimizedText = optimized
	seg.IsOptimized = true
	seg.ContainsSchedule = containsSchedule
	seg.ContainsTodo = containsTodo
	publishStage(ctx, c.events, c.log, seg, "cleanup", err == nil)

	// Schedules only when the marker is present; to-dos are scanned
	// unconditionally since the deadline field can carry implicit tasks.
	if containsSchedule {
		c.schedule.Enqueue(seg)
	}
	c.todo.Enqueue(seg)
	return err
}
