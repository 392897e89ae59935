package rewire

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	ireflect "github.com/danpasecinic/rewire/internal/reflect"
)

type HealthStatus string

const (
	HealthStatusUp      HealthStatus = "up"
	HealthStatusDown    HealthStatus = "down"
	HealthStatusUnknown HealthStatus = "unknown"
)

type HealthReport struct {
	Name    string
	Status  HealthStatus
	Error   error
	Latency time.Duration
}

// HealthChecker is implemented by node results that can report their health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Health checks every done node whose result implements HealthChecker,
// concurrently. Reports follow flattening order.
func (c *Container) Health(ctx context.Context) []HealthReport {
	reports, _ := c.checkHealth(ctx, false)
	return reports
}

// Live returns an error for the first checker reporting down and cancels the
// remaining checks.
func (c *Container) Live(ctx context.Context) error {
	_, err := c.checkHealth(ctx, true)
	return err
}

func (c *Container) checkHealth(ctx context.Context, failFast bool) ([]HealthReport, error) {
	type target struct {
		name    string
		checker HealthChecker
	}

	c.mu.Lock()
	last := c.last
	c.mu.Unlock()

	nodes := c.Nodes()
	if last != nil {
		nodes = last.nodes
	}

	var targets []target
	for _, n := range nodes {
		v, ok := n.Result()
		if !ok || ireflect.IsNil(v) {
			continue
		}
		if hc, ok := v.(HealthChecker); ok {
			targets = append(targets, target{name: n.label, checker: hc})
		}
	}

	reports := make([]HealthReport, len(targets))
	var mu sync.Mutex
	var firstDown error

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		g.Go(func() error {
			checkCtx := ctx
			if failFast {
				checkCtx = gctx
			}

			start := time.Now()
			err := t.checker.HealthCheck(checkCtx)

			report := HealthReport{Name: t.name, Status: HealthStatusUp, Latency: time.Since(start)}
			if err != nil {
				report.Status = HealthStatusDown
				report.Error = err
			}
			reports[i] = report

			if err != nil && failFast {
				mu.Lock()
				if firstDown == nil {
					firstDown = errHealthCheckFailed(t.name, err)
				}
				mu.Unlock()
				return firstDown
			}
			return nil
		})
	}
	_ = g.Wait()

	return reports, firstDown
}

func errHealthCheckFailed(name string, cause error) *Error {
	return newError(ErrCodeHealthCheckFailed, "health check failed", cause).WithNode(name)
}
