package store

import (
	"errors"
	"time"

	"github.com/newsieai/newsie/internal/schedule"
)

// Sentinel errors.
var (
	ErrThreadNotFound = errors.New("store: thread not found")
	ErrRunNotFound    = errors.New("store: run not found")
)

// Job is one armed trigger: the durable record the scheduler heap is
// rebuilt from after a restart. Exactly one job exists per running
// thread; re-arming replaces it.
type Job struct {
	ThreadID string            `json:"thread_id"`
	NextFire time.Time         `json:"next_fire"`
	Schedule schedule.Schedule `json:"schedule"`
	Timezone string            `json:"timezone"`
}

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunSkipped   = "skipped" // coalesced fire: previous run still active
)

// Block outcome statuses.
const (
	OutcomeOK            = "ok"
	OutcomeFailed        = "failed"
	OutcomePaymentFailed = "payment_failed"
)

// BlockOutcome is the terminal result of one block within a run.
type BlockOutcome struct {
	Index  int    `json:"index"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Items  int    `json:"items,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Run is one end-to-end firing of a thread's blocks.
type Run struct {
	ID         string         `json:"id"`
	ThreadID   string         `json:"thread_id"`
	Status     string         `json:"status"`
	Outcomes   []BlockOutcome `json:"outcomes"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Item is one persisted retrieved item.
type Item struct {
	ID          int64     `json:"id"`
	ThreadID    string    `json:"thread_id"`
	RunID       string    `json:"run_id"`
	BlockIndex  int       `json:"block_index"`
	SourceKind  string    `json:"source_kind"`
	Author      string    `json:"author"`
	Text        string    `json:"text"`
	QuotedRef   string    `json:"quoted_ref,omitempty"`
	URL         string    `json:"url,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`
}
