package webserver

import (
	"container/heap"
	"time"
)

var processEpoch = time.Now()

// nowMillis is the monotonic millisecond clock every timer expiry is keyed
// against.
func nowMillis() int64 {
	return time.Since(processEpoch).Milliseconds()
}

type timedConn interface {
	handleClose()
}

// timerEntry sits in exactly one reactor's heap until popped. Cancellation
// is lazy: detach clears the connection reference and flips deleted, and
// the entry physically departs only when it surfaces at the top. A request
// re-arriving inside the window therefore reuses the still-alive
// connection instead of reallocating.
type timerEntry struct {
	expireAt int64
	deleted  bool
	conn     timedConn
}

func (e *timerEntry) detach() {
	e.conn = nil
	e.deleted = true
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].expireAt < h[j].expireAt }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// timerQueue is owned by one reactor and only ever touched on its thread.
type timerQueue struct {
	h timerHeap
}

func (q *timerQueue) add(c timedConn, timeoutMs int64) *timerEntry {
	e := &timerEntry{expireAt: nowMillis() + timeoutMs, conn: c}
	heap.Push(&q.h, e)
	return e
}

// nextExpiry reports the top entry's deadline. Deleted entries at the top
// only make the poll wake early, which costs one empty pass.
func (q *timerQueue) nextExpiry() (int64, bool) {
	if len(q.h) == 0 {
		return 0, false
	}
	return q.h[0].expireAt, true
}

// expire pops deleted and overdue entries off the top. A popped live entry
// closes its connection; a detached one is discarded.
func (q *timerQueue) expire(now int64) {
	for len(q.h) > 0 {
		top := q.h[0]
		if top.deleted {
			heap.Pop(&q.h)
		} else if top.expireAt <= now {
			heap.Pop(&q.h)
			if top.conn != nil {
				top.conn.handleClose()
			}
		} else {
			break
		}
	}
}
