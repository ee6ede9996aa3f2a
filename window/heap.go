package window

import (
	"container/heap"
	"sync"
	"time"
)

// eventQueue implements heap.Interface and holds Events.
type eventQueue []Event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	// min heap: the oldest event is the root
	return q[i].Timestamp.Before(q[j].Timestamp)
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x interface{}) {
	*q = append(*q, x.(Event))
}

func (q *eventQueue) Pop() interface{} {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = Event{} // drop the topic string reference
	*q = old[0 : n-1]
	return ev
}

// HeapLog is an implementation of the Log interface using a min-heap keyed on the
// event timestamp. Events appended out of order are still pruned correctly because
// the oldest event is always at the root.
type HeapLog struct {
	q     eventQueue
	width time.Duration
	mutex sync.RWMutex
}

// NewHeapLog returns an empty HeapLog for a window of the given width.
func NewHeapLog(width time.Duration) *HeapLog {
	q := make(eventQueue, 0, 64)
	heap.Init(&q)
	return &HeapLog{
		q:     q,
		width: width,
	}
}

// Append adds an event to the log.
func (hl *HeapLog) Append(ev Event) {
	hl.mutex.Lock()
	defer hl.mutex.Unlock()
	heap.Push(&hl.q, ev)
}

// Prune removes every event older than the window at now and returns how many were removed.
func (hl *HeapLog) Prune(now time.Time) int {
	hl.mutex.Lock()
	defer hl.mutex.Unlock()

	removed := 0
	for hl.q.Len() > 0 && !inWindow(now, hl.q[0].Timestamp, hl.width) {
		heap.Pop(&hl.q)
		removed++
	}

	// give memory back after a burst
	if cap(hl.q) > 1024 && hl.q.Len() < cap(hl.q)/4 {
		q := make(eventQueue, hl.q.Len(), cap(hl.q)/2)
		copy(q, hl.q)
		hl.q = q
	}

	return removed
}

// Count returns the number of events inside the window at now. It filters live
// so a lagging prune never inflates the result.
func (hl *HeapLog) Count(now time.Time) int {
	hl.mutex.RLock()
	defer hl.mutex.RUnlock()

	n := 0
	for _, ev := range hl.q {
		if inWindow(now, ev.Timestamp, hl.width) {
			n++
		}
	}
	return n
}

// Len returns the number of retained events, expired or not.
func (hl *HeapLog) Len() int {
	hl.mutex.RLock()
	defer hl.mutex.RUnlock()
	return hl.q.Len()
}

// Width returns the window width.
func (hl *HeapLog) Width() time.Duration {
	return hl.width
}
