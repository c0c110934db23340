package bus

import (
	"fmt"
	"sync"
)

// RxQueue is a bounded ring shared between a driver goroutine and the spin
// loop. When full, the newest frame is dropped and counted.
type RxQueue struct {
	mu        sync.Mutex
	items     []RxCANFrame
	head      int
	n         int
	overflows uint64
}

func NewRxQueue(depth int) (*RxQueue, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("%w: rx queue depth %d", ErrInvalidConfig, depth)
	}
	return &RxQueue{items: make([]RxCANFrame, depth)}, nil
}

// Push reports false when the frame was dropped.
func (q *RxQueue) Push(f RxCANFrame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == len(q.items) {
		q.overflows++
		return false
	}
	q.items[(q.head+q.n)%len(q.items)] = f
	q.n++
	return true
}

func (q *RxQueue) Pop() (RxCANFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return RxCANFrame{}, false
	}
	f := q.items[q.head]
	q.items[q.head] = RxCANFrame{}
	q.head = (q.head + 1) % len(q.items)
	q.n--
	return f, true
}

func (q *RxQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

func (q *RxQueue) Cap() int { return len(q.items) }

func (q *RxQueue) Overflows() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflows
}
