package scheduler

import "sync"

// tracker enforces at most one in-flight run per thread.
type tracker struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func newTracker() *tracker {
	return &tracker{inFlight: make(map[string]struct{})}
}

// tryBegin claims the thread for a run. Returns false if a run is
// already in flight.
func (t *tracker) tryBegin(threadID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.inFlight[threadID]; busy {
		return false
	}
	t.inFlight[threadID] = struct{}{}
	return true
}

func (t *tracker) end(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, threadID)
}

func (t *tracker) busy(threadID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, busy := t.inFlight[threadID]
	return busy
}
