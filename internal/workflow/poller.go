package workflow

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Start recovers runs abandoned by a previous process and begins polling
// for due runs.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	e.mu.Unlock()

	e.recoverLeases()

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.cfg.PollInterval)
		defer ticker.Stop()

		e.ProcessDue(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.recoverLeases()
				e.ProcessDue(ctx)
			}
		}
	}()
}

// Stop cancels in-flight cycles and waits for the poller to exit.
func (e *Engine) Stop() {
	e.mu.RLock()
	cancel := e.cancel
	done := e.done
	e.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (e *Engine) recoverLeases() {
	n, err := e.runs.ResetExpiredLeases(e.now())
	if err != nil {
		e.logger.Error("reset expired leases", "error", err)
		return
	}
	if n > 0 {
		e.logger.Info("recovered abandoned runs", "count", n)
	}
}

// ProcessDue claims due runs and executes them on a bounded worker group.
// It returns the number of runs claimed.
func (e *Engine) ProcessDue(ctx context.Context) int {
	runs, err := e.runs.ClaimDue(e.now(), e.cfg.Lease, e.cfg.BatchSize)
	if err != nil {
		e.logger.Error("claim due runs", "error", err)
		return 0
	}
	if len(runs) == 0 {
		return 0
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i := range runs {
		r := &runs[i]
		g.Go(func() error {
			e.execute(ctx, r, false)
			return nil
		})
	}
	g.Wait()
	return len(runs)
}
