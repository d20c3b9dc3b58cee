package event

import (
	"container/heap"
	"sync"
)

// Queue pops events by kind priority, then by push order.
// It is safe for concurrent use so a live broker can push fills from its own goroutine.
type Queue struct {
	mu   sync.Mutex
	h    entries
	next uint64
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, entry{ev: ev, seq: q.next})
	q.next++
}

// Pop returns the next event, or false when the queue is empty.
func (q *Queue) Pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return Event{}, false
	}
	e := heap.Pop(&q.h).(entry)
	return e.ev, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

type entry struct {
	ev  Event
	seq uint64
}

type entries []entry

func (h entries) Len() int { return len(h) }

func (h entries) Less(i, j int) bool {
	pi, pj := h[i].ev.Kind.Priority(), h[j].ev.Kind.Priority()
	if pi != pj {
		return pi < pj
	}
	return h[i].seq < h[j].seq
}

func (h entries) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entries) Push(x any) { *h = append(*h, x.(entry)) }

func (h *entries) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}
