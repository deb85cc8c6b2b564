// Package scheduler owns the fire loop: a min-heap of armed jobs, a
// single timer on the earliest fire time, and per-thread coalescing so
// a slow run never stacks up behind itself.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/newsieai/newsie/internal/schedule"
	"github.com/newsieai/newsie/internal/store"
	"github.com/newsieai/newsie/internal/telemetry"
	"github.com/newsieai/newsie/internal/thread"
)

// ErrRunInFlight is returned by Trigger when the thread already has a
// run executing.
var ErrRunInFlight = errors.New("scheduler: run already in flight")

// Runner executes (or records the skip of) one thread run. Execute is
// called on a dedicated goroutine; Skip is called inline.
type Runner interface {
	Execute(ctx context.Context, threadID string)
	Skip(ctx context.Context, threadID string)
}

// Store is the slice of the job store the scheduler needs.
type Store interface {
	ArmJob(ctx context.Context, job store.Job) error
	DisarmJob(ctx context.Context, threadID string) error
	ListArmed(ctx context.Context) ([]store.Job, error)
}

type Scheduler struct {
	store   Store
	runner  Runner
	metrics *telemetry.Metrics
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	heap    fireHeap
	jobs    map[string]store.Job
	version map[string]uint64

	wake    chan struct{}
	tracker *tracker
	wg      sync.WaitGroup
}

func New(st Store, runner Runner, metrics *telemetry.Metrics, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:   st,
		runner:  runner,
		metrics: metrics,
		log:     log.With("component", "scheduler"),
		now:     time.Now,
		jobs:    make(map[string]store.Job),
		version: make(map[string]uint64),
		wake:    make(chan struct{}, 1),
		tracker: newTracker(),
	}
}

// Reconcile rebuilds the heap from the durable jobs table. A job whose
// fire time passed while the process was down fires once immediately;
// the normal advance then puts it back on its schedule.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	jobs, err := s.store.ListArmed(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: reconcile: %w", err)
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range jobs {
		at := job.NextFire
		if at.Before(now) {
			s.log.Info("job past due, firing now",
				"thread_id", job.ThreadID, "missed", job.NextFire)
			at = now
		}
		s.jobs[job.ThreadID] = job
		s.push(job.ThreadID, at)
	}
	s.log.Info("reconciled jobs", "count", len(jobs))
	return nil
}

// Arm computes the thread's next fire time, persists the job, and puts
// it on the heap. Re-arming an armed thread replaces its entry; an
// in-flight run is left to finish.
func (s *Scheduler) Arm(ctx context.Context, th *thread.Thread) (time.Time, error) {
	loc, err := th.Location()
	if err != nil {
		return time.Time{}, err
	}
	next, err := schedule.NextFire(th.Schedule, loc, s.now())
	if err != nil {
		return time.Time{}, err
	}

	job := store.Job{
		ThreadID: th.ID,
		NextFire: next,
		Schedule: th.Schedule,
		Timezone: th.Timezone,
	}
	if err := s.store.ArmJob(ctx, job); err != nil {
		return time.Time{}, err
	}

	s.mu.Lock()
	s.jobs[th.ID] = job
	s.push(th.ID, next)
	s.mu.Unlock()
	s.wakeup()

	s.log.Info("thread armed", "thread_id", th.ID, "next_fire", next)
	return next, nil
}

// Disarm removes the thread's job. Heap entries are invalidated, not
// removed; the run loop drops them when they surface.
func (s *Scheduler) Disarm(ctx context.Context, threadID string) error {
	if err := s.store.DisarmJob(ctx, threadID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.jobs, threadID)
	s.version[threadID]++
	s.mu.Unlock()
	s.wakeup()

	s.log.Info("thread disarmed", "thread_id", threadID)
	return nil
}

// Trigger starts a run outside the schedule. The armed job is
// untouched. Fails if a run is already in flight.
func (s *Scheduler) Trigger(ctx context.Context, threadID string) error {
	if !s.tracker.tryBegin(threadID) {
		return ErrRunInFlight
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.tracker.end(threadID)
		s.runner.Execute(ctx, threadID)
	}()
	return nil
}

// NextFire reports the armed fire time for a thread, if any.
func (s *Scheduler) NextFire(threadID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[threadID]
	return job.NextFire, ok
}

// InFlight reports whether a run is currently executing for the thread.
func (s *Scheduler) InFlight(threadID string) bool {
	return s.tracker.busy(threadID)
}

// Run drives the fire loop until ctx is canceled, then waits for
// in-flight runs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.wg.Wait()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next, ok := s.peek()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
				continue
			}
		}

		wait := next.at.Sub(s.now())
		if wait > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
				continue
			case <-timer.C:
				continue
			}
		}

		s.fire(ctx, next)
	}
}

// peek discards stale entries and returns the earliest live one
// without removing it.
func (s *Scheduler) peek() (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.heap) > 0 {
		e := s.heap[0]
		if s.version[e.threadID] == e.version {
			if _, armed := s.jobs[e.threadID]; armed {
				return e, true
			}
		}
		heap.Pop(&s.heap)
	}
	return nil, false
}

// fire pops the due entry, advances the durable next-fire time, and
// only then dispatches. A crash mid-run therefore never replays the
// same fire, and a long run never delays the following one's arming.
func (s *Scheduler) fire(ctx context.Context, e *entry) {
	s.mu.Lock()
	if len(s.heap) == 0 || s.heap[0] != e {
		s.mu.Unlock()
		return
	}
	heap.Pop(&s.heap)
	job, armed := s.jobs[e.threadID]
	s.mu.Unlock()
	if !armed {
		return
	}

	s.metrics.FiresTotal.Inc()

	if err := s.advance(ctx, job, e.at); err != nil {
		s.log.Error("advancing job failed, disarming",
			"thread_id", job.ThreadID, "error", err)
		if derr := s.Disarm(ctx, job.ThreadID); derr != nil {
			s.log.Error("disarm failed", "thread_id", job.ThreadID, "error", derr)
		}
		return
	}

	if !s.tracker.tryBegin(job.ThreadID) {
		s.metrics.CoalescedTotal.Inc()
		s.log.Warn("fire coalesced, run still in flight", "thread_id", job.ThreadID)
		s.runner.Skip(ctx, job.ThreadID)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.tracker.end(job.ThreadID)
		s.runner.Execute(ctx, job.ThreadID)
	}()
}

func (s *Scheduler) advance(ctx context.Context, job store.Job, firedAt time.Time) error {
	loc, err := time.LoadLocation(job.Timezone)
	if err != nil {
		return fmt.Errorf("scheduler: load timezone %q: %w", job.Timezone, err)
	}
	after := s.now()
	if firedAt.After(after) {
		after = firedAt
	}
	next, err := schedule.NextFire(job.Schedule, loc, after)
	if err != nil {
		return err
	}

	job.NextFire = next
	if err := s.store.ArmJob(ctx, job); err != nil {
		return err
	}

	s.mu.Lock()
	s.jobs[job.ThreadID] = job
	s.push(job.ThreadID, next)
	s.mu.Unlock()
	return nil
}

// push must be called with s.mu held.
func (s *Scheduler) push(threadID string, at time.Time) {
	s.version[threadID]++
	heap.Push(&s.heap, &entry{threadID: threadID, at: at, version: s.version[threadID]})
}

func (s *Scheduler) wakeup() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
