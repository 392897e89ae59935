package promobserve_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpasecinic/rewire"
	"github.com/danpasecinic/rewire/promobserve"
)

func newMetrics(t *testing.T) (*promobserve.Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return promobserve.New(reg), reg
}

func TestNew_RegistersFamilies(t *testing.T) {
	t.Parallel()

	m, reg := newMetrics(t)
	m.SolveWaves.Set(1)
	m.SolveDuration.Observe(0.1)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "rewire_solve_waves")
	assert.Contains(t, names, "rewire_solve_duration_seconds")

	assert.Panics(t, func() { promobserve.New(reg) }, "registering twice must fail")
}

func TestNew_NilRegisterer(t *testing.T) {
	t.Parallel()

	m := promobserve.New(nil)
	m.ObserveSolve(rewire.SolveEvent{Waves: 2})
	assert.Equal(t, float64(2), testutil.ToFloat64(m.SolveWaves))
}

func TestSolveMetrics(t *testing.T) {
	t.Parallel()

	m, _ := newMetrics(t)
	c := rewire.New(append(m.Options(), rewire.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))...)

	boom := errors.New("boom")
	c.Bind(
		rewire.Value(1, rewire.WithLabel("one")),
		rewire.NewNode(func(context.Context) (any, error) { return nil, boom },
			rewire.WithLabel("broken"), rewire.Produces(rewire.TagOf[string]())),
		rewire.MustInjectAll(func(s string) bool { return s != "" }, rewire.WithLabel("dependent")),
	)

	_, err := c.Solve(context.Background())
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.NodesTotal.WithLabelValues("one", "done")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NodesTotal.WithLabelValues("broken", "failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NodesTotal.WithLabelValues("dependent", "skipped")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SolvesTotal.WithLabelValues("error")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.SolvesTotal.WithLabelValues("success")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.NodeDuration), "skipped nodes have no duration")
}

func TestLifecycleMetrics(t *testing.T) {
	t.Parallel()

	m, _ := newMetrics(t)
	lc := rewire.NewLifecycle(append(m.LifecycleOptions(),
		rewire.WithLifecycleLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		rewire.WithStopOnError(false),
	)...)

	running := make(chan struct{})
	require.NoError(t, lc.Run(func(ctx context.Context) error {
		if err := lc.OnStop(ctx, rewire.NewHook("flush", func(context.Context) error { return nil })); err != nil {
			return err
		}
		close(running)
		<-ctx.Done()
		return ctx.Err()
	}, rewire.WithTaskName("server")))
	require.NoError(t, lc.Run(func(context.Context) error {
		return errors.New("bad task")
	}, rewire.WithTaskName("bad")))

	require.NoError(t, lc.Start(context.Background(), false))
	<-running
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TasksActive.WithLabelValues("server")))

	require.Error(t, lc.Stop(context.Background()))

	assert.Equal(t, float64(0), testutil.ToFloat64(m.TasksActive.WithLabelValues("server")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TasksTotal.WithLabelValues("server", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TasksTotal.WithLabelValues("bad", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HooksTotal.WithLabelValues("server", "success")))
}
