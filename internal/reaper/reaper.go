// Package reaper drives the onboarding pipeline's periodic maintenance: a
// robfig/cron schedule that sweeps orphaned queue work and stale runs on a
// cadence independent of (and slower than) the worker pool's own recovery
// loop, so maintenance keeps running even if every worker process is
// temporarily down.
package reaper

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/draup/onboarding-pipeline/pkg/execution"
)

// Reaper periodically invokes the durable engine's recovery routines.
type Reaper struct {
	engine        *execution.DurableEngine
	cron          *cron.Cron
	orphanTimeout time.Duration
}

// New builds a Reaper that runs on the given cron schedule (e.g. "*/5 * * * *").
func New(engine *execution.DurableEngine, schedule string, orphanTimeout time.Duration) (*Reaper, error) {
	c := cron.New()
	r := &Reaper{engine: engine, cron: c, orphanTimeout: orphanTimeout}

	if _, err := c.AddFunc(schedule, r.sweep); err != nil {
		return nil, err
	}
	return r, nil
}

// Start runs the cron scheduler until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	r.cron.Start()
	go func() {
		<-ctx.Done()
		stopCtx := r.cron.Stop()
		<-stopCtx.Done()
	}()
}

func (r *Reaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.engine.RecoverOrphanedWork(ctx, r.orphanTimeout); err != nil {
		log.Printf("reaper: recover orphaned work: %v", err)
	}
	if err := r.engine.RecoverFailedRuns(ctx); err != nil {
		log.Printf("reaper: recover stale runs: %v", err)
	}
}
