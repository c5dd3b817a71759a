// Package worker plugs the reconciliation sweep into the asynq worker loop.
package worker

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"taxlens/internal/queue"
	"taxlens/internal/reconcile"
)

// Processor handles scheduled reconciliation tasks.
type Processor struct {
	reconciler *reconcile.Reconciler
}

// NewProcessor constructs a worker processor.
func NewProcessor(reconciler *reconcile.Reconciler) *Processor {
	return &Processor{reconciler: reconciler}
}

// Handler registers the sweep job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ReconcileSweepTask, p.handleSweep)
	return mux
}

func (p *Processor) handleSweep(ctx context.Context, _ *asynq.Task) error {
	report, err := p.reconciler.Sweep(ctx)
	if err != nil {
		log.Printf("reconcile sweep failed: %v", err)
		return err
	}
	log.Printf("reconcile sweep: %d session(s) expired, %d orphan(s) removed, %d failure(s)",
		report.SessionsExpired, report.OrphansRemoved, report.Failures)
	return nil
}
