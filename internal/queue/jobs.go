package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// ReconcileSweepTask drives one reconciliation pass. It is registered
	// with the scheduler on a fixed interval and can also be enqueued
	// manually for an immediate sweep.
	ReconcileSweepTask = "reconcile:sweep"
)

// NewSweepTask builds a sweep task. The task carries no payload; the sweep
// always covers the whole store and upload directory.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(ReconcileSweepTask, nil)
}

// EnqueueSweep schedules an immediate reconciliation sweep.
func EnqueueSweep(ctx context.Context, client *asynq.Client) error {
	if _, err := client.EnqueueContext(ctx, NewSweepTask(), asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("enqueue sweep task: %w", err)
	}
	return nil
}
