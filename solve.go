package rewire

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	"github.com/danpasecinic/rewire/internal/scheduler"
)

// Results holds the values produced by a successful solve pass.
type Results struct {
	values map[*Node]any
	order  []*Node
}

func (r *Results) Value(n *Node) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.values[n]
	return v, ok
}

func (r *Results) Len() int {
	if r == nil {
		return 0
	}
	return len(r.values)
}

// Nodes returns the nodes of the pass in flattening order.
func (r *Results) Nodes() []*Node {
	if r == nil {
		return nil
	}
	return append([]*Node(nil), r.order...)
}

// Solve builds the graph and runs every node once. Build and cycle errors
// are returned before any callback runs. Execution failures are collected
// into a *SolveError; on failure no Results are returned, but every node
// keeps the state and result it reached.
func (c *Container) Solve(ctx context.Context) (*Results, error) {
	c.solveMu.Lock()
	defer c.solveMu.Unlock()

	start := time.Now()

	p, err := c.build()
	if err != nil {
		c.logger.Debug("build failed", "error", err)
		c.notifySolve(SolveEvent{Duration: time.Since(start), Err: err})
		return nil, err
	}

	ctx, span := c.telemetry.startSolve(ctx, len(p.nodes))

	executed := make(map[*Node]bool, len(p.nodes))
	for _, n := range slices.Concat(p.nodes, p.dropped) {
		if c.cfg.reuseResults && n.State() == StateDone {
			executed[n] = true
			continue
		}
		n.reset()
	}

	var (
		solveErr *SolveError
		waves    int
	)
	for {
		c.skipDropped(ctx, p, executed)

		var pending []*Node
		for _, n := range p.nodes {
			if !executed[n] {
				pending = append(pending, n)
			}
		}
		if len(pending) == 0 {
			break
		}

		waves++
		c.logger.Debug("solving wave", "wave", waves, "nodes", len(pending))

		report := c.runWave(ctx, p, pending)
		for _, n := range pending {
			executed[n] = true
		}
		if solveErr = c.collect(ctx, p, report); solveErr != nil {
			if ctx.Err() != nil {
				solveErr.Cause = context.Cause(ctx)
			}
			break
		}

		// Nodes bound by callbacks of this wave show up in a rebuild.
		if p, err = c.build(); err != nil {
			c.telemetry.endSolve(ctx, span, time.Since(start), err)
			c.notifySolve(SolveEvent{Waves: waves, Duration: time.Since(start), Err: err})
			return nil, err
		}
	}

	c.mu.Lock()
	c.last = p
	c.mu.Unlock()

	event := SolveEvent{Nodes: len(p.nodes), Waves: waves, Duration: time.Since(start)}
	if solveErr != nil {
		event.Failed = len(solveErr.Failures)
		event.Skipped = len(solveErr.Skipped) + len(solveErr.Aborted)
		event.Err = solveErr
		c.telemetry.endSolve(ctx, span, event.Duration, solveErr)
		c.notifySolve(event)
		return nil, solveErr
	}

	c.telemetry.endSolve(ctx, span, event.Duration, nil)
	c.notifySolve(event)

	results := &Results{values: make(map[*Node]any, len(p.nodes)), order: p.nodes}
	for _, n := range p.nodes {
		if v, ok := n.Result(); ok {
			results.values[n] = v
		}
	}
	return results, nil
}

func (c *Container) skipDropped(ctx context.Context, p *plan, executed map[*Node]bool) {
	for _, n := range p.dropped {
		if executed[n] {
			continue
		}
		executed[n] = true
		if n.transition(StateSkipped) {
			c.logger.Debug("optional node skipped", "node", n.label)
			c.telemetry.countNode(ctx, n, StateSkipped)
			c.notifyNode(NodeEvent{Node: n, State: StateSkipped})
		}
	}
}

func (c *Container) runWave(ctx context.Context, p *plan, pending []*Node) *scheduler.Report {
	tasks := make([]scheduler.Task, len(pending))
	for i, n := range pending {
		tasks[i] = scheduler.Task{ID: nodeKey(n), Deps: p.deps(n), Priority: n.priority}
	}

	return scheduler.Run(ctx, tasks,
		func(ctx context.Context, key string) error {
			return c.runNode(ctx, p, p.byKey[key])
		},
		scheduler.Options{
			MaxConcurrency: c.cfg.maxConcurrency,
			Policy:         c.cfg.policy.scheduler(),
			Logger:         c.logger,
			OnReady: func(key string) {
				p.byKey[key].transition(StateScheduled)
			},
		},
	)
}

func (c *Container) runNode(ctx context.Context, p *plan, n *Node) error {
	deps := p.inputs[n]
	args := make([]any, len(deps))
	for i, dep := range deps {
		v, ok := dep.Result()
		if !ok {
			err := fmt.Errorf("input %s is %s", dep.label, dep.State())
			n.fail(err)
			return err
		}
		args[i] = v
	}

	n.transition(StateRunning)
	c.logger.Debug("running node", "node", n.label)

	ctx, span := c.telemetry.startNode(ctx, n, deps)
	start := time.Now()
	v, err := call(withInputs(ctx, args), n, args)
	d := time.Since(start)
	c.telemetry.endNode(ctx, span, n, d, err)

	if err != nil {
		n.fail(err)
		c.logger.Debug("node failed", "node", n.label, "duration", d, "error", err)
		c.notifyNode(NodeEvent{Node: n, State: StateFailed, Duration: d, Err: err})
		return err
	}

	n.complete(v)
	c.logger.Debug("node done", "node", n.label, "duration", d)
	c.notifyNode(NodeEvent{Node: n, State: StateDone, Duration: d})
	return nil
}

func call(ctx context.Context, n *Node, args []any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &scheduler.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return n.invoke(ctx, args)
}

// collect maps the scheduler outcomes onto node states and builds the
// failure report of the wave.
func (c *Container) collect(ctx context.Context, p *plan, report *scheduler.Report) *SolveError {
	if report.OK() {
		return nil
	}

	solveErr := &SolveError{}
	for _, res := range report.Failed() {
		n := p.byKey[res.ID]
		n.fail(res.Err)
		solveErr.Failures = append(solveErr.Failures, errNodeFailed(n.label, res.Err))
	}

	skip := func(res *scheduler.Result) string {
		n := p.byKey[res.ID]
		if n.transition(StateSkipped) {
			c.telemetry.countNode(ctx, n, StateSkipped)
			c.notifyNode(NodeEvent{Node: n, State: StateSkipped, Err: res.Err})
		}
		return n.label
	}
	for _, res := range report.Skipped() {
		solveErr.Skipped = append(solveErr.Skipped, skip(res))
	}
	for _, res := range report.Aborted() {
		solveErr.Aborted = append(solveErr.Aborted, skip(res))
	}

	c.logger.Debug("solve failed",
		"failed", len(solveErr.Failures),
		"skipped", len(solveErr.Skipped),
		"aborted", len(solveErr.Aborted),
	)
	return solveErr
}

func (c *Container) notifyNode(e NodeEvent) {
	for _, hook := range c.cfg.onNode {
		hook(e)
	}
}

func (c *Container) notifySolve(e SolveEvent) {
	for _, hook := range c.cfg.onSolve {
		hook(e)
	}
}

// Resolve returns the value of the node producing T in the last successful
// solve, following wrappers of T.
func Resolve[T any](c *Container) (T, error) {
	return resolveTag[T](c, Type[T]())
}

func ResolveNamed[T any](c *Container, name string) (T, error) {
	return resolveTag[T](c, NamedType[T](name))
}

func resolveTag[T any](c *Container, ref TypeRef) (T, error) {
	var zero T

	c.mu.Lock()
	p := c.last
	c.mu.Unlock()

	if p == nil {
		return zero, errDependencyNotFound("Resolve", ref)
	}

	n, err := p.registry.resolve(&Node{label: "Resolve"}, ref)
	if err != nil {
		return zero, err
	}
	return ResultOf[T](n)
}

func MustResolve[T any](c *Container) T {
	v, err := Resolve[T](c)
	if err != nil {
		panic(err)
	}
	return v
}
