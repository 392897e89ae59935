// Package rewiretest wraps containers and lifecycles with helpers that fail
// the test instead of returning errors.
package rewiretest

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/danpasecinic/rewire"
)

type TB interface {
	Helper()
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Cleanup(f func())
}

type TestContainer struct {
	*rewire.Container
	tb TB
}

// New returns a container logging nowhere. opts are applied after the quiet
// logger, so a test may still install its own.
func New(tb TB, opts ...rewire.Option) *TestContainer {
	tb.Helper()

	opts = append([]rewire.Option{rewire.WithLogger(discard())}, opts...)
	return &TestContainer{
		Container: rewire.New(opts...),
		tb:        tb,
	}
}

func (tc *TestContainer) MustSolve(ctx context.Context) *rewire.Results {
	tc.tb.Helper()

	results, err := tc.Solve(ctx)
	if err != nil {
		tc.tb.Fatalf("solve failed: %v", err)
	}
	return results
}

// RequireSolveError solves and fails the test unless the solve fails.
func (tc *TestContainer) RequireSolveError(ctx context.Context) *rewire.SolveError {
	tc.tb.Helper()

	_, err := tc.Solve(ctx)
	if err == nil {
		tc.tb.Fatal("expected solve to fail")
	}
	var solveErr *rewire.SolveError
	if !errors.As(err, &solveErr) {
		tc.tb.Fatalf("expected *rewire.SolveError, got %T: %v", err, err)
	}
	return solveErr
}

func (tc *TestContainer) RequireValidate() {
	tc.tb.Helper()

	if err := tc.Validate(); err != nil {
		tc.tb.Fatalf("container validation failed: %v", err)
	}
}

// RequireState fails unless every node is in state.
func (tc *TestContainer) RequireState(state rewire.State, nodes ...*rewire.Node) {
	tc.tb.Helper()

	for _, n := range nodes {
		if got := n.State(); got != state {
			tc.tb.Fatalf("node %s is %s, want %s (err: %v)", n.Label(), got, state, n.Err())
		}
	}
}

func (tc *TestContainer) RequireDone(nodes ...*rewire.Node) {
	tc.tb.Helper()
	tc.RequireState(rewire.StateDone, nodes...)
}

// Replace substitutes every producer of T with value.
func Replace[T any](tc *TestContainer, value T) *rewire.Node {
	tc.tb.Helper()
	return rewire.ReplaceValue(tc.Container, value, rewire.WithLabel("replace["+rewire.TagOf[T]().String()+"]"))
}

func ReplaceNamed[T any](tc *TestContainer, name string, value T) *rewire.Node {
	tc.tb.Helper()

	tag := rewire.NamedTagOf[T](name)
	n := rewire.Value(value, rewire.Produces(tag), rewire.WithLabel("replace["+tag.String()+"]"))
	tc.Replace(rewire.NamedType[T](name), n)
	return n
}

// ReplaceFunc substitutes every producer of T with a callback.
func ReplaceFunc[T any](tc *TestContainer, fn func(ctx context.Context) (T, error)) *rewire.Node {
	tc.tb.Helper()

	tag := rewire.TagOf[T]()
	n := rewire.NewNode(func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, rewire.Produces(tag), rewire.WithLabel("replace["+tag.String()+"]"))
	tc.Replace(rewire.Type[T](), n)
	return n
}

// AssertHas fails unless some node of the container produces T.
func AssertHas[T any](tc *TestContainer) {
	tc.tb.Helper()

	if !has(tc, rewire.TagOf[T]()) {
		tc.tb.Fatalf("expected container to have %s", rewire.TagOf[T]())
	}
}

func AssertHasNamed[T any](tc *TestContainer, name string) {
	tc.tb.Helper()

	if !has(tc, rewire.NamedTagOf[T](name)) {
		tc.tb.Fatalf("expected container to have %s", rewire.NamedTagOf[T](name))
	}
}

func AssertNotHas[T any](tc *TestContainer) {
	tc.tb.Helper()

	if has(tc, rewire.TagOf[T]()) {
		tc.tb.Fatalf("expected container to not have %s", rewire.TagOf[T]())
	}
}

func has(tc *TestContainer, tag rewire.TypeTag) bool {
	for _, n := range tc.Nodes() {
		if n.Produces() == tag {
			return true
		}
	}
	return false
}

func MustResolve[T any](tc *TestContainer) T {
	tc.tb.Helper()

	v, err := rewire.Resolve[T](tc.Container)
	if err != nil {
		tc.tb.Fatalf("failed to resolve %s: %v", rewire.TagOf[T](), err)
	}
	return v
}

func MustResolveNamed[T any](tc *TestContainer, name string) T {
	tc.tb.Helper()

	v, err := rewire.ResolveNamed[T](tc.Container, name)
	if err != nil {
		tc.tb.Fatalf("failed to resolve %s: %v", rewire.NamedTagOf[T](name), err)
	}
	return v
}

// TestLifecycle is a lifecycle stopped when the test ends.
type TestLifecycle struct {
	*rewire.Lifecycle
	tb TB
}

func NewLifecycle(tb TB, opts ...rewire.LifecycleOption) *TestLifecycle {
	tb.Helper()

	opts = append([]rewire.LifecycleOption{rewire.WithLifecycleLogger(discard())}, opts...)
	lc := rewire.NewLifecycle(opts...)

	tb.Cleanup(func() {
		if err := lc.Stop(context.Background()); err != nil {
			tb.Fatalf("failed to stop lifecycle: %v", err)
		}
	})

	return &TestLifecycle{Lifecycle: lc, tb: tb}
}

func (tl *TestLifecycle) RequireStart(ctx context.Context) {
	tl.tb.Helper()

	if err := tl.Start(ctx, false); err != nil {
		tl.tb.Fatalf("failed to start lifecycle: %v", err)
	}
}

func (tl *TestLifecycle) RequireStop(ctx context.Context) {
	tl.tb.Helper()

	if err := tl.Stop(ctx); err != nil {
		tl.tb.Fatalf("failed to stop lifecycle: %v", err)
	}
}

func (tl *TestLifecycle) RequireRun(fn rewire.Task, opts ...rewire.TaskOption) {
	tl.tb.Helper()

	if err := tl.Run(fn, opts...); err != nil {
		tl.tb.Fatalf("failed to run task: %v", err)
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
