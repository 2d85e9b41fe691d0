package persist

import (
	"context"
	"sync"
)

// retryItem is one failed write waiting for the next sweep.
type retryItem struct {
	kind     string
	id       string
	attempts int
	attempt  func(ctx context.Context) error
}

// retryQueue holds failed writes between timer sweeps. Each item gets a
// capped number of retry attempts before it is dropped.
type retryQueue struct {
	maxRetries int

	mu    sync.Mutex
	items []retryItem
}

func newRetryQueue(maxRetries int) *retryQueue {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &retryQueue{maxRetries: maxRetries}
}

func (q *retryQueue) add(item retryItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// drain removes and returns everything currently queued. Items failing
// again must be handed back via requeue.
func (q *retryQueue) drain() []retryItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// requeue re-adds a failed item with its attempt count bumped. Returns
// false when the retry cap is exhausted and the item was dropped.
func (q *retryQueue) requeue(item retryItem) bool {
	item.attempts++
	if item.attempts >= q.maxRetries {
		return false
	}
	q.add(item)
	return true
}

func (q *retryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
