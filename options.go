package rewire

import (
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/danpasecinic/rewire/internal/scheduler"
)

// FailurePolicy decides what a solve pass does after a node fails.
type FailurePolicy uint8

const (
	// PolicyDrain skips the dependents of a failed node and lets every other
	// node run to completion.
	PolicyDrain FailurePolicy = iota
	// PolicyFailFast starts no further node after the first failure and
	// cancels the context of the nodes still running.
	PolicyFailFast
)

func (p FailurePolicy) String() string {
	switch p {
	case PolicyDrain:
		return "drain"
	case PolicyFailFast:
		return "fail-fast"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", p)
	}
}

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drain":
		return PolicyDrain, nil
	case "fail-fast", "failfast", "fail_fast":
		return PolicyFailFast, nil
	default:
		return 0, fmt.Errorf("unknown failure policy %q", s)
	}
}

func (p FailurePolicy) scheduler() scheduler.Policy {
	if p == PolicyFailFast {
		return scheduler.FailFast
	}
	return scheduler.Drain
}

type Option func(*containerConfig)

type containerConfig struct {
	logger         *slog.Logger
	policy         FailurePolicy
	maxConcurrency int
	reuseResults   bool
	onNode         []NodeObserver
	onSolve        []SolveObserver
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

func WithLogger(logger *slog.Logger) Option {
	return func(cfg *containerConfig) {
		cfg.logger = logger
	}
}

func WithFailurePolicy(policy FailurePolicy) Option {
	return func(cfg *containerConfig) {
		cfg.policy = policy
	}
}

// WithMaxConcurrency bounds the number of callbacks running at once. Zero
// means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(cfg *containerConfig) {
		cfg.maxConcurrency = n
	}
}

// WithReuseResults keeps nodes that are already done when Solve is called
// again, so only the remaining nodes run.
func WithReuseResults(reuse bool) Option {
	return func(cfg *containerConfig) {
		cfg.reuseResults = reuse
	}
}

func WithNodeObserver(hook NodeObserver) Option {
	return func(cfg *containerConfig) {
		cfg.onNode = append(cfg.onNode, hook)
	}
}

func WithSolveObserver(hook SolveObserver) Option {
	return func(cfg *containerConfig) {
		cfg.onSolve = append(cfg.onSolve, hook)
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *containerConfig) {
		cfg.tracerProvider = tp
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *containerConfig) {
		cfg.meterProvider = mp
	}
}
