package scheduler

import "time"

// entry is a pending fire in the heap. version detects stale entries:
// re-arming or disarming a thread bumps its version, and the run loop
// discards popped entries whose version no longer matches. Deletion is
// lazy so the heap never needs random-access removal.
type entry struct {
	threadID string
	at       time.Time
	version  uint64
}

type fireHeap []*entry

func (h fireHeap) Len() int { return len(h) }

func (h fireHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].threadID < h[j].threadID
	}
	return h[i].at.Before(h[j].at)
}

func (h fireHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *fireHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *fireHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
