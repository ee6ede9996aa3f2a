package window

import (
	"container/ring"
	"sync"
	"time"
)

// RingLog is an implementation of the Log interface using a fixed size ring buffer.
// Memory is bounded by the capacity; once full the oldest entry is overwritten, so the
// count saturates at the capacity.
type RingLog struct {
	ring  *ring.Ring
	size  int
	len   int
	width time.Duration
	mutex sync.RWMutex
}

// NewRingLog creates a RingLog holding at most size events.
func NewRingLog(size int, width time.Duration) *RingLog {
	if size <= 0 {
		size = 1
	}
	return &RingLog{
		ring:  ring.New(size),
		size:  size,
		width: width,
	}
}

// Append writes the event into the next free slot and advances the ring. Only a full
// ring overwrites, and then it overwrites the slot at the cursor.
func (rl *RingLog) Append(ev Event) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	if rl.len < rl.size {
		// out-of-order events leave holes behind the cursor after a prune
		for rl.ring.Value != nil {
			rl.ring = rl.ring.Next()
		}
		rl.len++
	}
	rl.ring.Value = ev
	rl.ring = rl.ring.Next()
}

// Prune clears every slot holding an event older than the window at now.
func (rl *RingLog) Prune(now time.Time) int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	removed := 0
	p := rl.ring
	for i := 0; i < rl.size; i++ {
		if ev, ok := p.Value.(Event); ok && !inWindow(now, ev.Timestamp, rl.width) {
			p.Value = nil
			removed++
		}
		p = p.Next()
	}
	rl.len -= removed

	return removed
}

// Count returns the number of events inside the window at now.
func (rl *RingLog) Count(now time.Time) int {
	rl.mutex.RLock()
	defer rl.mutex.RUnlock()

	n := 0
	rl.ring.Do(func(v any) {
		if ev, ok := v.(Event); ok && inWindow(now, ev.Timestamp, rl.width) {
			n++
		}
	})
	return n
}

// Len returns the number of occupied slots.
func (rl *RingLog) Len() int {
	rl.mutex.RLock()
	defer rl.mutex.RUnlock()
	return rl.len
}

// Width returns the window width.
func (rl *RingLog) Width() time.Duration {
	return rl.width
}

// Cap returns the ring capacity.
func (rl *RingLog) Cap() int {
	return rl.size
}
