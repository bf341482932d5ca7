package speech

import "container/heap"

// entry is one element of the scheduler's priority queue: a turn priority
// tuple ordered max-priority-first, then earliest timestamp.
type entry struct {
	priority Priority
	seq      uint64 // monotonic sequence number, substitutes for a nanosecond clock
	handle   *Handle
}

// Queue is a priority queue of pending speech handles. It carries no
// internal locking; callers serialize access (the activity guards it with
// its own mutex).
type Queue struct {
	h       entryHeap
	nextSeq uint64
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push enqueues a handle at the given priority, preserving FIFO order among
// equal priorities via an internal monotonic sequence counter.
func (q *Queue) Push(h *Handle, priority Priority) {
	heap.Push(&q.h, entry{priority: priority, seq: q.nextSeq, handle: h})
	q.nextSeq++
}

// Pop removes and returns the highest-priority, earliest-queued handle. The
// second return value is false if the queue is empty.
func (q *Queue) Pop() (*Handle, bool) {
	if q.h.Len() == 0 {
		return nil, false
	}
	e := heap.Pop(&q.h).(entry)
	return e.handle, true
}

// Len reports the number of queued handles.
func (q *Queue) Len() int { return q.h.Len() }

type entryHeap []entry

func (eh entryHeap) Len() int { return len(eh) }

func (eh entryHeap) Less(i, j int) bool {
	if eh[i].priority != eh[j].priority {
		return eh[i].priority > eh[j].priority // max-priority-first
	}
	return eh[i].seq < eh[j].seq // earliest timestamp first
}

func (eh entryHeap) Swap(i, j int) { eh[i], eh[j] = eh[j], eh[i] }

func (eh *entryHeap) Push(x any) { *eh = append(*eh, x.(entry)) }

func (eh *entryHeap) Pop() any {
	old := *eh
	n := len(old)
	item := old[n-1]
	*eh = old[:n-1]
	return item
}
