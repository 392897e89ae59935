package rewire

import (
	"context"
	"os/signal"
	"syscall"

	ireflect "github.com/danpasecinic/rewire/internal/reflect"
)

// LifecycleAware is implemented by node results that want to run tasks or
// register stop hooks once the graph is solved.
type LifecycleAware interface {
	RegisterLifecycle(lc *Lifecycle) error
}

// Launch solves c, lets every LifecycleAware result register itself with lc
// in flattening order, then starts lc and waits for it to stop.
func Launch(ctx context.Context, c *Container, lc *Lifecycle) error {
	results, err := c.Solve(ctx)
	if err != nil {
		return err
	}

	for _, n := range results.Nodes() {
		v, ok := results.Value(n)
		if !ok || ireflect.IsNil(v) {
			continue
		}
		if aware, ok := v.(LifecycleAware); ok {
			if err := aware.RegisterLifecycle(lc); err != nil {
				return errNodeFailed(n.label, err)
			}
		}
	}

	return lc.Start(ctx, true)
}

// LaunchUntilSignal is Launch with ctx cancelled on SIGINT or SIGTERM.
func LaunchUntilSignal(ctx context.Context, c *Container, lc *Lifecycle) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return Launch(ctx, c, lc)
}
