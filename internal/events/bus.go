// Package events is the in-process feed of engine activity consumed by
// the gateway's websocket stream.
package events

import (
	"sync"
	"time"
)

const (
	TypeRunStarted  = "run_started"
	TypeRunFinished = "run_finished"
	TypeRunSkipped  = "run_skipped"
	TypePayment     = "payment"
	TypeThreadState = "thread_state"
)

type Event struct {
	Type     string    `json:"type"`
	ThreadID string    `json:"thread_id,omitempty"`
	RunID    string    `json:"run_id,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Bus fans events out to subscribers. Publish never blocks: a
// subscriber that falls behind loses events, not the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a buffered event channel and a cancel func that
// must be called to release it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
