package router

import (
	"context"
	"time"

	"github.com/mcp-gateway/gateway/daemon/logger"
)

// DefaultProbeInterval is how often the health loop probes running
// instances with tools/list.
const DefaultProbeInterval = 30 * time.Second

// RunHealthLoop probes every running instance of every registered template
// on a ticker until ctx is cancelled, feeding outcomes into the registry's
// rolling metrics via the same RecordOutcome path Dispatch uses. Shaped
// after a ticking-with-panic-recovery runner loop.
func (r *Router) RunHealthLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	safeTick := func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("router: health probe panic: %v", rec)
			}
		}()
		r.probeAll(ctx)
	}

	safeTick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			safeTick()
		}
	}
}

func (r *Router) probeAll(ctx context.Context) {
	for _, tmpl := range r.reg.List() {
		for _, inst := range r.reg.RunningInstances(tmpl.Name) {
			stack, ok := r.sv.Stack(inst.ID)
			if !ok {
				continue
			}
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			start := time.Now()
			resp, err := stack.Call(probeCtx, "tools/list", struct{}{})
			cancel()

			success := err == nil && (resp == nil || resp.Error == nil)
			r.reg.RecordOutcome(tmpl.Name, success, time.Since(start).Nanoseconds())
			if !success {
				r.markUnhealthy(inst.ID)
				logger.Warning("router: health probe failed for instance %s (%v)", inst.ID, err)
			}
		}
	}
}
