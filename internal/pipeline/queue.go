package pipeline

import (
	"sync"
	"time"
)

// queuedLine is one raw sentence with the wall-clock time it arrived from the
// transport. The arrival timestamp, not the processing time, is attached to
// the parsed sample.
type queuedLine struct {
	line string
	ts   time.Time
}

// lineQueue is an unbounded FIFO between the ingestion goroutine and the
// worker. Ingestion never blocks on a slow worker; backlog shows up as queue
// depth in the published status instead.
type lineQueue struct {
	mu    sync.Mutex
	items []queuedLine
}

func (q *lineQueue) Enqueue(item queuedLine) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// TryDequeue pops the oldest item, reporting false when the queue is empty.
func (q *lineQueue) TryDequeue() (queuedLine, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queuedLine{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	if len(q.items) == 0 {
		// release the backing array once drained
		q.items = nil
	}
	return item, true
}

func (q *lineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
