package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voice-dictation-pipeline/internal/models"
	"voice-dictation-pipeline/internal/observability/logging"
	"voice-dictation-pipeline/internal/observability/metrics"
)

// Queue is a bounded FIFO of transcript segments, deduplicated by segment
// ID. Enqueue never blocks: past capacity the oldest entry is dropped with
// a warning. Re-enqueueing a queued ID replaces its payload in place, so a
// segment is processed at most once per drain with its latest text.
type Queue struct {
	name    string
	cap     int
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	order   []string
	pending map[string]models.TranscriptSegment
	wake    chan struct{}
}

// NewQueue creates an empty queue with the given capacity.
func NewQueue(name string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 100
	}
	return &Queue{
		name:    name,
		cap:     capacity,
		log:     logging.WithComponent("queue-" + name),
		metrics: metrics.DefaultMetrics,
		pending: make(map[string]models.TranscriptSegment),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue adds or replaces seg. Never blocks.
func (q *Queue) Enqueue(seg models.TranscriptSegment) {
	q.mu.Lock()
	if _, queued := q.pending[seg.ID]; queued {
		q.pending[seg.ID] = seg
		q.mu.Unlock()
		return
	}
	if len(q.order) >= q.cap {
		oldest := q.order[0]
		q.order = q.order[1:]
		delete(q.pending, oldest)
		q.metrics.QueueOverflows.WithLabelValues(q.name).Inc()
		q.log.Warn().Str("segmentId", oldest).Msg("Queue full, dropped oldest item")
	}
	q.order = append(q.order, seg.ID)
	q.pending[seg.ID] = seg
	q.metrics.QueueDepth.WithLabelValues(q.name).Set(float64(len(q.order)))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// take removes up to n items from the head, in FIFO order.
func (q *Queue) take(n int) []models.TranscriptSegment {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.order) {
		n = len(q.order)
	}
	batch := make([]models.TranscriptSegment, 0, n)
	for _, id := range q.order[:n] {
		batch = append(batch, q.pending[id])
		delete(q.pending, id)
	}
	q.order = q.order[n:]
	q.metrics.QueueDepth.WithLabelValues(q.name).Set(float64(len(q.order)))
	return batch
}

// Run drains the queue until ctx is cancelled: a batch of up to batchSize
// items is processed concurrently, then the worker sleeps the inter-batch
// delay before checking again. The delay caps the burst request rate to
// the downstream service.
func (q *Queue) Run(ctx context.Context, batchSize int, delay time.Duration, process func(context.Context, models.TranscriptSegment) error) {
	if batchSize <= 0 {
		batchSize = 3
	}
	for {
		batch := q.take(batchSize)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}

		var wg sync.WaitGroup
		for _, seg := range batch {
			wg.Add(1)
			go func(seg models.TranscriptSegment) {
				defer wg.Done()
				started := time.Now()
				err := process(ctx, seg)
				q.metrics.RecordQueueProcessed(q.name, err, time.Since(started).Seconds())
			}(seg)
		}
		wg.Wait()

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
