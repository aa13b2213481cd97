package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type scheduledJob struct {
	job     Job
	readyAt time.Time
}

// Memory is an in-process delay queue. Jobs do not survive a restart,
// which is acceptable because the scheduler's stale sweep re-queues any
// record whose delivery was lost.
type Memory struct {
	mu      sync.Mutex
	pending []scheduledJob
	logger  *zap.Logger

	// tick controls how often the consumer scans for due jobs
	tick time.Duration
}

// NewMemory creates an in-memory queue
func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		logger: logger.Named("queue"),
		tick:   100 * time.Millisecond,
	}
}

// Enqueue schedules a job for delivery after delay
func (m *Memory) Enqueue(_ context.Context, job Job, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	m.pending = append(m.pending, scheduledJob{
		job:     job,
		readyAt: time.Now().Add(delay),
	})
	return nil
}

// Consume delivers due jobs to the handler until ctx is cancelled. Jobs
// are taken one at a time, so several consumers can drain the queue
// concurrently and a handler blocked on one job does not hold the rest.
func (m *Memory) Consume(ctx context.Context, handler Handler) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				job, ok := m.takeDue(time.Now())
				if !ok {
					break
				}
				m.dispatch(ctx, job, handler)
			}
		}
	}
}

// takeDue removes and returns the earliest job whose delay has elapsed
func (m *Memory) takeDue(now time.Time) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, s := range m.pending {
		if s.readyAt.After(now) {
			continue
		}
		if idx == -1 || s.readyAt.Before(m.pending[idx].readyAt) {
			idx = i
		}
	}
	if idx == -1 {
		return Job{}, false
	}

	job := m.pending[idx].job
	m.pending = append(m.pending[:idx], m.pending[idx+1:]...)
	return job, true
}

func (m *Memory) dispatch(ctx context.Context, job Job, handler Handler) {
	if err := handler(ctx, job); err != nil {
		job.Attempt++
		if job.Attempt >= MaxAttempts {
			m.logger.Error("Job exhausted retries, dropping",
				zap.String("job_id", job.ID),
				zap.String("transaction_id", job.TransactionID),
				zap.Error(err))
			return
		}

		m.logger.Warn("Job failed, scheduling retry",
			zap.String("job_id", job.ID),
			zap.String("transaction_id", job.TransactionID),
			zap.Int("attempt", job.Attempt),
			zap.Error(err))

		if err := m.Enqueue(ctx, job, RetryDelay); err != nil {
			m.logger.Error("Failed to requeue job", zap.Error(err))
		}
	}
}
