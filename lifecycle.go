package rewire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/danpasecinic/rewire/internal/scheduler"
)

type LifecycleState uint8

const (
	LifecycleIdle LifecycleState = iota
	LifecycleStarting
	LifecycleRunning
	LifecycleStopping
	LifecycleStopped
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleIdle:
		return "idle"
	case LifecycleStarting:
		return "starting"
	case LifecycleRunning:
		return "running"
	case LifecycleStopping:
		return "stopping"
	case LifecycleStopped:
		return "stopped"
	default:
		return fmt.Sprintf("LifecycleState(%d)", s)
	}
}

// Task is a long-running unit of work. It should return once ctx is done.
type Task func(ctx context.Context) error

type LifecycleOption func(*lifecycleConfig)

type lifecycleConfig struct {
	logger          *slog.Logger
	stopOnError     bool
	cancelOnStop    bool
	shutdownTimeout time.Duration
	onTask          []TaskObserver
	onHook          []HookObserver
	tracerProvider  trace.TracerProvider
	meterProvider   metric.MeterProvider
}

func WithLifecycleLogger(logger *slog.Logger) LifecycleOption {
	return func(cfg *lifecycleConfig) {
		cfg.logger = logger
	}
}

// WithStopOnError makes a failing task shut the whole lifecycle down.
// Enabled by default.
func WithStopOnError(stop bool) LifecycleOption {
	return func(cfg *lifecycleConfig) {
		cfg.stopOnError = stop
	}
}

// WithCancelOnStop cancels the context of running tasks once the stop hooks
// have run. Enabled by default.
func WithCancelOnStop(cancel bool) LifecycleOption {
	return func(cfg *lifecycleConfig) {
		cfg.cancelOnStop = cancel
	}
}

// WithShutdownTimeout bounds the time spent running stop hooks and waiting
// for tasks to exit. Scopes are exited regardless.
func WithShutdownTimeout(d time.Duration) LifecycleOption {
	return func(cfg *lifecycleConfig) {
		cfg.shutdownTimeout = d
	}
}

func WithTaskObserver(hook TaskObserver) LifecycleOption {
	return func(cfg *lifecycleConfig) {
		cfg.onTask = append(cfg.onTask, hook)
	}
}

func WithHookObserver(hook HookObserver) LifecycleOption {
	return func(cfg *lifecycleConfig) {
		cfg.onHook = append(cfg.onHook, hook)
	}
}

func WithLifecycleTracerProvider(tp trace.TracerProvider) LifecycleOption {
	return func(cfg *lifecycleConfig) {
		cfg.tracerProvider = tp
	}
}

func WithLifecycleMeterProvider(mp metric.MeterProvider) LifecycleOption {
	return func(cfg *lifecycleConfig) {
		cfg.meterProvider = mp
	}
}

type TaskOption func(*task)

func WithTaskName(name string) TaskOption {
	return func(t *task) {
		t.name = name
	}
}

type task struct {
	id   uint64
	name string
	fn   Task
}

// Lifecycle supervises long-running tasks, the stop hooks they register and
// the scopes wrapping the whole session.
type Lifecycle struct {
	cfg       *lifecycleConfig
	logger    *slog.Logger
	telemetry *telemetry

	mu        sync.Mutex
	state     LifecycleState
	queued    []*task
	nextID    uint64
	active    int
	scopes    []Scope
	entered   []Scope
	hooks     hookRegistry
	taskErrs  []error
	lateErrs  []error
	taskCtx   context.Context
	cancel    context.CancelFunc
	baseCtx   context.Context
	tasksDone sync.WaitGroup
	lateHooks sync.WaitGroup

	scopesExiting bool

	stopCh    chan struct{}
	stopOnce  sync.Once
	exited    chan struct{}
	exitOnce  sync.Once
	started   chan struct{}
	startOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	shutOnce  sync.Once
	stopErr   error
}

func NewLifecycle(opts ...LifecycleOption) *Lifecycle {
	cfg := &lifecycleConfig{
		logger:       slog.Default(),
		stopOnError:  true,
		cancelOnStop: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Lifecycle{
		cfg:       cfg,
		logger:    cfg.logger,
		telemetry: newTelemetry(cfg.tracerProvider, cfg.meterProvider, cfg.logger),
		hooks:     newHookRegistry(),
		stopCh:    make(chan struct{}),
		exited:    make(chan struct{}),
		started:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (l *Lifecycle) State() LifecycleState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done is closed once the lifecycle is stopped.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

// Run registers a task. Before Start it is queued; while running it starts
// immediately. Once stopping has begun it is rejected.
func (l *Lifecycle) Run(fn Task, opts ...TaskOption) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := &task{id: l.nextID + 1, fn: fn}
	l.nextID++
	for _, opt := range opts {
		opt(t)
	}
	if t.name == "" {
		t.name = fmt.Sprintf("task-%d", t.id)
	}

	switch l.state {
	case LifecycleIdle, LifecycleStarting:
		l.queued = append(l.queued, t)
	case LifecycleRunning:
		l.launchLocked(t)
	default:
		return newError(ErrCodeLifecycleStopping, "cannot run "+t.name+": lifecycle is "+l.state.String(), nil)
	}
	return nil
}

// RunBlocking registers a synchronous function. It runs on its own goroutine
// and does not observe cancellation; shutdown waits for it to return.
func (l *Lifecycle) RunBlocking(fn func() error, opts ...TaskOption) error {
	return l.Run(func(context.Context) error {
		return fn()
	}, opts...)
}

// Use registers a scope entered before any task starts and exited after
// every stop hook has run. Scopes must be registered before Start.
func (l *Lifecycle) Use(s Scope) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != LifecycleIdle {
		return newError(ErrCodeLifecycleStarted, "cannot add scope "+scopeName(s)+": lifecycle is "+l.state.String(), nil)
	}
	l.scopes = append(l.scopes, s)
	return nil
}

// Start enters every scope in registration order, then launches the queued
// tasks. If a scope fails to enter, the scopes already entered are exited in
// reverse order and no task is launched. With wait set, Start blocks like
// Wait and returns the result of the shutdown.
func (l *Lifecycle) Start(ctx context.Context, wait bool) error {
	l.mu.Lock()
	if l.state != LifecycleIdle {
		state := l.state
		l.mu.Unlock()
		return newError(ErrCodeLifecycleStarted, "lifecycle is "+state.String(), nil)
	}
	l.state = LifecycleStarting
	scopes := append([]Scope(nil), l.scopes...)
	l.mu.Unlock()

	l.logger.Info("starting lifecycle", "scopes", len(scopes))

	base := context.WithoutCancel(ctx)
	for _, s := range scopes {
		if err := s.Enter(ctx); err != nil {
			enterErr := errScopeEnterFailed(scopeName(s), err)
			l.logger.Error("scope enter failed", "scope", scopeName(s), "error", err)

			errs := []error{enterErr}
			errs = append(errs, l.exitScopes(base)...)

			l.mu.Lock()
			l.state = LifecycleStopped
			l.stopErr = errors.Join(errs...)
			l.mu.Unlock()

			l.startOnce.Do(func() { close(l.started) })
			l.finish()
			return l.stopErr
		}

		l.mu.Lock()
		l.entered = append(l.entered, s)
		l.mu.Unlock()
	}

	l.mu.Lock()
	l.baseCtx = base
	l.taskCtx, l.cancel = context.WithCancel(base)
	l.state = LifecycleRunning
	queued := l.queued
	l.queued = nil
	for _, t := range queued {
		l.launchLocked(t)
	}
	if l.active == 0 {
		l.exitOnce.Do(func() { close(l.exited) })
	}
	l.mu.Unlock()

	l.startOnce.Do(func() { close(l.started) })
	l.logger.Info("lifecycle running", "tasks", len(queued))

	if !wait {
		return nil
	}
	return l.Wait(ctx)
}

// Wait blocks until ctx is done, Stop is called, a task fails with
// stop-on-error, or every task has exited. It then shuts down and returns
// the aggregated error of the session.
func (l *Lifecycle) Wait(ctx context.Context) error {
	select {
	case <-l.started:
	case <-ctx.Done():
	}

	if l.State() == LifecycleIdle {
		return newError(ErrCodeLifecycleStopping, "lifecycle was not started", nil)
	}

	select {
	case <-ctx.Done():
		l.logger.Info("context done, stopping lifecycle", "cause", context.Cause(ctx))
	case <-l.stopCh:
	case <-l.exited:
		l.logger.Info("all tasks exited, stopping lifecycle")
	case <-l.done:
	}

	return l.Stop(context.WithoutCancel(ctx))
}

// Stop shuts the lifecycle down. It is idempotent: every caller, concurrent
// or later, gets the result of the single shutdown.
//
// Called from one of the lifecycle's own tasks, Stop starts the shutdown in
// the background and returns nil, since the shutdown waits for that task.
// Called from a stop hook, it returns nil at once; the shutdown running the
// hook completes on its own. Use Wait or Done to observe the outcome.
func (l *Lifecycle) Stop(ctx context.Context) error {
	if stoppingFrom(ctx, l) {
		return nil
	}
	l.requestStop()

	l.mu.Lock()
	if l.state == LifecycleIdle {
		l.state = LifecycleStopped
		l.mu.Unlock()
		l.startOnce.Do(func() { close(l.started) })
		l.finish()
		return nil
	}
	l.mu.Unlock()

	<-l.started
	if inTaskOf(ctx, l) {
		go l.shutOnce.Do(func() { l.shutdown(l.baseCtx) })
		return nil
	}
	l.shutOnce.Do(func() { l.shutdown(ctx) })
	<-l.done

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopErr
}

func (l *Lifecycle) requestStop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Lifecycle) finish() {
	l.doneOnce.Do(func() { close(l.done) })
}

func (l *Lifecycle) launchLocked(t *task) {
	l.active++
	l.tasksDone.Add(1)
	ctx := withTask(l.taskCtx, l, t)
	go l.runTask(ctx, t)
}

func (l *Lifecycle) runTask(ctx context.Context, t *task) {
	defer l.tasksDone.Done()

	l.logger.Debug("task started", "task", t.name)
	l.notifyTask(TaskEvent{Task: t.name, Started: true})

	start := time.Now()
	err := callTask(ctx, t.fn)
	d := time.Since(start)

	if err != nil && errors.Is(err, context.Canceled) && l.taskCtx.Err() != nil {
		err = nil
	}

	l.telemetry.countTask(ctx, t.name, err)
	l.notifyTask(TaskEvent{Task: t.name, Duration: d, Err: err})

	l.mu.Lock()
	if err != nil {
		l.taskErrs = append(l.taskErrs, errTaskFailed(t.name, err))
	}
	l.active--
	if l.active == 0 && l.state == LifecycleRunning {
		l.exitOnce.Do(func() { close(l.exited) })
	}
	l.mu.Unlock()

	if err == nil {
		l.logger.Debug("task exited", "task", t.name, "duration", d)
		return
	}

	l.logger.Error("task failed", "task", t.name, "error", err)
	if l.cfg.stopOnError {
		l.requestStop()
		go func() { _ = l.Stop(l.baseCtx) }()
	}
}

func callTask(ctx context.Context, fn Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &scheduler.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// shutdown runs stop hooks, cancels and awaits tasks, then exits scopes.
func (l *Lifecycle) shutdown(ctx context.Context) {
	l.mu.Lock()
	if l.state != LifecycleRunning {
		l.mu.Unlock()
		l.finish()
		return
	}
	l.state = LifecycleStopping
	groups := l.hooks.snapshot()
	l.mu.Unlock()

	l.logger.Info("stopping lifecycle", "hook_groups", len(groups))

	base := context.WithoutCancel(ctx)
	ctx, span := l.telemetry.tracer.Start(base, "rewire.Lifecycle.Stop")
	if l.cfg.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.shutdownTimeout)
		defer cancel()
	}

	var (
		errsMu sync.Mutex
		errs   []error
	)

	hookCtx := context.WithValue(ctx, shutdownKey{}, l)
	var g errgroup.Group
	for _, group := range groups {
		g.Go(func() error {
			for _, h := range group.hooks {
				if err := l.runHook(hookCtx, group.name, h); err != nil {
					errsMu.Lock()
					errs = append(errs, err)
					errsMu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if l.cfg.cancelOnStop {
		l.cancel()
	}

	if err := waitGroup(ctx, &l.tasksDone); err != nil {
		errs = append(errs, newError(ErrCodeShutdownFailed, "tasks did not exit in time", err))
		l.logger.Error("shutdown timed out waiting for tasks")
	}

	l.mu.Lock()
	l.scopesExiting = true
	l.mu.Unlock()
	if err := waitGroup(ctx, &l.lateHooks); err != nil {
		errs = append(errs, newError(ErrCodeShutdownFailed, "late stop hooks did not finish in time", err))
		l.logger.Error("shutdown timed out waiting for late stop hooks")
	}

	errs = append(errs, l.exitScopes(base)...)

	l.mu.Lock()
	l.state = LifecycleStopped
	all := append(append(append([]error(nil), l.taskErrs...), l.lateErrs...), errs...)
	l.stopErr = errors.Join(all...)
	l.mu.Unlock()

	if !l.cfg.cancelOnStop {
		l.cancel()
	}

	endSpan(span, l.stopErr)
	l.logger.Info("lifecycle stopped", "error", l.stopErr)
	l.finish()
}

// waitGroup waits for wg, giving up when ctx is done.
func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exitScopes exits entered scopes in reverse order, attempting every scope
// even when some fail.
func (l *Lifecycle) exitScopes(ctx context.Context) []error {
	l.mu.Lock()
	entered := l.entered
	l.entered = nil
	l.mu.Unlock()

	var errs []error
	for i := len(entered) - 1; i >= 0; i-- {
		s := entered[i]
		if err := s.Exit(ctx); err != nil {
			l.logger.Error("scope exit failed", "scope", scopeName(s), "error", err)
			errs = append(errs, errScopeExitFailed(scopeName(s), err))
		}
	}
	return errs
}

func (l *Lifecycle) notifyTask(e TaskEvent) {
	for _, hook := range l.cfg.onTask {
		hook(e)
	}
}

func (l *Lifecycle) notifyHook(e HookEvent) {
	for _, hook := range l.cfg.onHook {
		hook(e)
	}
}
