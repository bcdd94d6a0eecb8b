package flexibility

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/flexgrid/core/logger"
)

// JobKind identifies the deferred phase a job runs.
type JobKind int

const (
	// JobExecute applies the requested power change at the request's
	// start time.
	JobExecute JobKind = iota
	// JobComplete restores the prior power at the request's end time.
	JobComplete
)

// String returns a human-readable representation of the job kind.
func (k JobKind) String() string {
	switch k {
	case JobExecute:
		return "execute"
	case JobComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// ParseJobKind converts a wire representation into a JobKind.
func ParseJobKind(s string) (JobKind, error) {
	switch s {
	case "execute":
		return JobExecute, nil
	case "complete":
		return JobComplete, nil
	default:
		return 0, fmt.Errorf("unknown job kind %q", s)
	}
}

// Job is a persisted deferred action. The ID doubles as the idempotency
// key; PriorPowerKW carries the power level the complete phase restores.
type Job struct {
	ID           string
	RequestID    string
	Kind         JobKind
	DueAt        time.Time
	PriorPowerKW float64
	Cancelled    bool
	Done         bool
}

// JobStore persists deferred jobs so process restarts do not lose
// pending executions.
type JobStore interface {
	SaveJob(ctx context.Context, j Job) error
	// PendingJobs returns jobs that are neither done nor cancelled,
	// ordered by due time.
	PendingJobs(ctx context.Context) ([]Job, error)
	// Job reloads a single job; ok is false when the job is unknown.
	Job(ctx context.Context, id string) (Job, bool, error)
	MarkJobDone(ctx context.Context, id string) error
	// CancelJobs flips the durable cancellation flag on every unfired
	// job of the request.
	CancelJobs(ctx context.Context, requestID string) error
}

// JobHandler runs a due job. Errors are the handler's to translate into
// request state; the scheduler never retries.
type JobHandler func(ctx context.Context, j Job) error

// Scheduler fires persisted jobs at their due time using a single timer
// loop. A fired job re-reads its durable record first, so a
// cancellation that lands before the timer fires suppresses the phase
// even if it raced the in-memory queue.
type Scheduler struct {
	store   JobStore
	handler JobHandler
	log     logger.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending []Job
	wake    chan struct{}
}

// NewScheduler creates a Scheduler. The handler runs every due job.
func NewScheduler(store JobStore, handler JobHandler, log logger.Logger) *Scheduler {
	return &Scheduler{
		store:   store,
		handler: handler,
		log:     log,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
}

// Schedule persists the job and arms the timer loop.
func (s *Scheduler) Schedule(ctx context.Context, j Job) error {
	if err := s.store.SaveJob(ctx, j); err != nil {
		return fmt.Errorf("persist job %s: %w", j.ID, err)
	}
	s.mu.Lock()
	s.pending = append(s.pending, j)
	s.sortPendingLocked()
	s.mu.Unlock()
	s.poke()
	return nil
}

// Cancel flips the durable cancellation flag for the request's unfired
// jobs. In-flight effects of already fired jobs are not undone.
func (s *Scheduler) Cancel(ctx context.Context, requestID string) error {
	if err := s.store.CancelJobs(ctx, requestID); err != nil {
		return fmt.Errorf("cancel jobs for %s: %w", requestID, err)
	}
	s.mu.Lock()
	for i := range s.pending {
		if s.pending[i].RequestID == requestID {
			s.pending[i].Cancelled = true
		}
	}
	s.mu.Unlock()
	return nil
}

// Run reloads pending jobs from the store and fires them as they come
// due, until the context is cancelled. Jobs already overdue at startup
// fire immediately. Reloaded jobs merge with any already queued, so a
// job cancelled between Schedule and Run still fires and is retired
// through its durable record.
func (s *Scheduler) Run(ctx context.Context) error {
	jobs, err := s.store.PendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("reload pending jobs: %w", err)
	}
	s.mu.Lock()
	queued := make(map[string]struct{}, len(s.pending))
	for _, j := range s.pending {
		queued[j.ID] = struct{}{}
	}
	for _, j := range jobs {
		if _, ok := queued[j.ID]; !ok {
			s.pending = append(s.pending, j)
		}
	}
	s.sortPendingLocked()
	s.mu.Unlock()
	if len(jobs) > 0 {
		s.log.Infof("reloaded %d pending jobs", len(jobs))
	}

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		next, ok := s.peek()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-s.wake:
				continue
			}
		}
		delay := next.DueAt.Sub(s.now())
		if delay > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(delay)
			select {
			case <-ctx.Done():
				return nil
			case <-s.wake:
				continue
			case <-timer.C:
			}
		}
		s.fire(ctx, next)
	}
}

// fire removes the job from the queue and runs it unless the durable
// record says it was cancelled or already done.
func (s *Scheduler) fire(ctx context.Context, j Job) {
	s.remove(j.ID)

	stored, ok, err := s.store.Job(ctx, j.ID)
	if err != nil {
		s.log.Errorf("reload job %s: %v", j.ID, err)
		return
	}
	if !ok || stored.Done || stored.Cancelled {
		if ok && !stored.Done {
			if err := s.store.MarkJobDone(ctx, j.ID); err != nil {
				s.log.Errorf("mark cancelled job %s done: %v", j.ID, err)
			}
		}
		s.log.Debugf("skipping job %s (cancelled or gone)", j.ID)
		return
	}

	scheduledJobsFired.WithLabelValues(j.Kind.String()).Inc()
	if err := s.handler(ctx, stored); err != nil {
		s.log.Errorf("job %s (%s) failed: %v", j.ID, j.Kind, err)
	}
	if err := s.store.MarkJobDone(ctx, j.ID); err != nil {
		s.log.Errorf("mark job %s done: %v", j.ID, err)
	}
}

func (s *Scheduler) peek() (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return Job{}, false
	}
	return s.pending[0], true
}

func (s *Scheduler) remove(id string) {
	s.mu.Lock()
	for i := range s.pending {
		if s.pending[i].ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

func (s *Scheduler) sortPendingLocked() {
	sort.Slice(s.pending, func(i, j int) bool {
		return s.pending[i].DueAt.Before(s.pending[j].DueAt)
	})
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
