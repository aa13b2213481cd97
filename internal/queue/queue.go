// Package queue provides the durable, delay-capable work queue that
// decouples "detected" from "executed". Delivery is at-least-once;
// consumers must be idempotent. The scheduler guarantees that through the
// ledger's compare-and-set status transitions, so a duplicate delivery
// fails its transition and is dropped harmlessly.
package queue

import (
	"context"
	"time"

	"github.com/EmmanuelAmodu/cngn-app-sub000/internal/models"
)

// Job is one unit of settlement work referencing a ledger record
type Job struct {
	ID            string                 `json:"id"`
	Kind          models.TransactionKind `json:"kind"`
	TransactionID string                 `json:"transaction_id"`
	Attempt       int                    `json:"attempt"`
	EnqueuedAt    time.Time              `json:"enqueued_at"`
}

// Handler processes a delivered job. Returning an error requeues the job
// after RetryDelay, up to MaxAttempts deliveries.
type Handler func(ctx context.Context, job Job) error

// Queue is the minimal contract the scheduler needs. Memory backs tests
// and single-node runs; RedisQueue survives process crashes.
type Queue interface {
	// Enqueue schedules a job for delivery after the given delay
	Enqueue(ctx context.Context, job Job, delay time.Duration) error

	// Consume delivers ready jobs to the handler until ctx is cancelled.
	// It blocks; run it on its own goroutine.
	Consume(ctx context.Context, handler Handler)
}

const (
	// MaxAttempts bounds redelivery of a failing job. The record itself is
	// re-detected by the pollers, so dropping a poisoned job loses nothing.
	MaxAttempts = 5

	// RetryDelay is applied when a handler returns an error
	RetryDelay = 15 * time.Second
)
