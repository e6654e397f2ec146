package agent

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/lukaizhi5559/thinkdrop-ai-sub004/internal/logging"
)

// Prewarm loads and bootstraps the named capabilities in parallel so the
// first real invocation pays no compile or setup latency. Failures are
// isolated: one agent failing to warm never blocks the others or startup
// itself, so Prewarm only ever returns a context error.
func (r *Registry) Prewarm(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			inst, err := r.Load(name)
			if err != nil {
				logging.Get(logging.CategoryAgents).Warnw("prewarm load failed", "agent", name, "error", err)
				return nil
			}
			if inst.compileErr != nil {
				logging.Get(logging.CategoryAgents).Warnw("prewarm skipping uncompilable agent", "agent", name)
				return nil
			}
			merged := r.mergeCallContext(inst, nil)
			if err := r.ensureBootstrapped(ctx, inst, merged); err != nil {
				logging.Get(logging.CategoryAgents).Warnw("prewarm bootstrap failed", "agent", name, "error", err)
				return nil
			}
			logging.AgentsDebug("prewarmed agent %s", name)
			return nil
		})
	}
	return g.Wait()
}
