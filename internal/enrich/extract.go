package enrich

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voice-dictation-pipeline/internal/config"
	"voice-dictation-pipeline/internal/enrich/marker"
	"voice-dictation-pipeline/internal/models"
	"voice-dictation-pipeline/internal/observability/logging"
	"voice-dictation-pipeline/internal/state"
)

// Sink receives extracted items for durable storage. A nil sink keeps the
// items in shared state only.
type Sink interface {
	SaveSchedules(ctx context.Context, items []models.ScheduleItem) error
	SaveTodos(ctx context.Context, items []models.ExtractedTodo) error
}

// EventSink fans out enrichment stage events. A nil sink publishes nothing.
type EventSink interface {
	PublishEnrichment(ctx context.Context, key string, event any) error
}

// publishStage emits one enrichment event for a segment that completed a
// stage.
func publishStage(ctx context.Context, events EventSink, log zerolog.Logger, seg models.TranscriptSegment, stage string, succeeded bool) {
	if events == nil {
		return
	}
	ev := models.EnrichmentEvent{
		EventType: "dictation.enrichment",
		SessionID: seg.SessionID,
		SegmentID: seg.ID,
		Stage:     stage,
		Succeeded: succeeded,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := events.PublishEnrichment(ctx, seg.SessionID, ev); err != nil {
		log.Warn().Err(err).Str("segmentId", seg.ID).Str("stage", stage).Msg("Enrichment event publish failed")
	}
}

// Extractor drains the schedule and to-do extraction queues, turning
// cleaned marked-up text into structured items.
type Extractor struct {
	cfg      config.EnrichmentConfig
	schedule *Queue
	todo     *Queue
	store    *state.Store
	sink     Sink
	events   EventSink
	log      zerolog.Logger
}

// NewExtractor creates the extractor and its two queues.
func NewExtractor(cfg config.EnrichmentConfig, store *state.Store, sink Sink, events EventSink) *Extractor {
	return &Extractor{
		cfg:      cfg,
		schedule: NewQueue("schedule", cfg.QueueCapacity),
		todo:     NewQueue("todo", cfg.QueueCapacity),
		store:    store,
		sink:     sink,
		events:   events,
		log:      logging.WithComponent("extract"),
	}
}

// ScheduleQueue is the inbound queue for schedule extraction.
func (e *Extractor) ScheduleQueue() *Queue { return e.schedule }

// TodoQueue is the inbound queue for to-do extraction.
func (e *Extractor) TodoQueue() *Queue { return e.todo }

// Run drains both queues until ctx is cancelled.
func (e *Extractor) Run(ctx context.Context) {
	e.store.SetStatus("schedule-extraction", models.StateRunning, "")
	e.store.SetStatus("todo-extraction", models.StateRunning, "")
	defer func() {
		e.store.SetStatus("schedule-extraction", models.StateIdle, "")
		e.store.SetStatus("todo-extraction", models.StateIdle, "")
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.schedule.Run(ctx, e.cfg.BatchSize, e.cfg.BatchDelay, e.processSchedule)
	}()
	e.todo.Run(ctx, e.cfg.BatchSize, e.cfg.BatchDelay, e.processTodo)
	<-done
}

// enrichedText prefers the cleaned text; segments that fell back keep
// their raw text in OptimizedText, so this only guards early callers.
func enrichedText(seg models.TranscriptSegment) string {
	if seg.OptimizedText != "" {
		return seg.OptimizedText
	}
	return seg.RawText
}

func (e *Extractor) processSchedule(ctx context.Context, seg models.TranscriptSegment) error {
	text := enrichedText(seg)
	var items []models.ScheduleItem
	for _, m := range marker.Parse(text) {
		if m.Kind != marker.KindSchedule {
			continue
		}
		scheduledAt, resolved := ResolveTime(m.Text, seg.AbsoluteStart)
		if !resolved {
			e.log.Debug().Str("segmentId", seg.ID).Str("phrase", m.Text).
				Msg("Time phrase unresolved, using next-day fallback")
		}
		items = append(items, models.ScheduleItem{
			ID:          uuid.NewString(),
			SegmentID:   seg.ID,
			ExtractedAt: time.Now(),
			Description: m.Text,
			ScheduledAt: scheduledAt,
			SourceText:  text,
			Status:      models.ItemPending,
		})
	}
	if len(items) == 0 {
		return nil
	}

	if !e.store.AddSchedules(seg.SessionID, items) {
		e.log.Debug().Str("segmentId", seg.ID).Msg("Discarded schedules for ended session")
		return nil
	}
	e.log.Info().Str("segmentId", seg.ID).Int("count", len(items)).Msg("Schedules extracted")
	publishStage(ctx, e.events, e.log, seg, "schedule", true)

	if e.sink != nil {
		if err := e.sink.SaveSchedules(ctx, items); err != nil {
			e.log.Warn().Err(err).Str("segmentId", seg.ID).Msg("Schedule persistence failed")
		}
	}
	return nil
}

func (e *Extractor) processTodo(ctx context.Context, seg models.TranscriptSegment) error {
	text := enrichedText(seg)
	var items []models.ExtractedTodo
	for _, m := range marker.Parse(text) {
		if m.Kind != marker.KindTodo {
			continue
		}
		todo := models.ExtractedTodo{
			ID:          uuid.NewString(),
			SegmentID:   seg.ID,
			ExtractedAt: time.Now(),
			Title:       m.Text,
			Priority:    normalizePriority(m.Priority),
			Status:      models.ItemPending,
		}
		if m.Deadline != "" {
			deadline, resolved := ResolveTime(m.Deadline, seg.AbsoluteStart)
			if !resolved {
				e.log.Debug().Str("segmentId", seg.ID).Str("phrase", m.Deadline).
					Msg("Deadline unresolved, using next-day fallback")
			}
			todo.Deadline = &deadline
		}
		items = append(items, todo)
	}
	if len(items) == 0 {
		return nil
	}

	if !e.store.AddTodos(seg.SessionID, items) {
		e.log.Debug().Str("segmentId", seg.ID).Msg("Discarded todos for ended session")
		return nil
	}
	e.log.Info().Str("segmentId", seg.ID).Int("count", len(items)).Msg("Todos extracted")
	publishStage(ctx, e.events, e.log, seg, "todo", true)

	if e.sink != nil {
		if err := e.sink.SaveTodos(ctx, items); err != nil {
			e.log.Warn().Err(err).Str("segmentId", seg.ID).Msg("Todo persistence failed")
		}
	}
	return nil
}

func normalizePriority(p string) models.TodoPriority {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "high", "高":
		return models.PriorityHigh
	case "low", "低":
		return models.PriorityLow
	default:
		return models.PriorityMedium
	}
}
