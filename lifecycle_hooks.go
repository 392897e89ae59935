package rewire

import (
	"context"
	"fmt"
	"time"
)

// Hook is a stop hook. Hooks are compared by pointer: registering the same
// *Hook twice keeps a single registration.
type Hook struct {
	Name string
	Fn   func(ctx context.Context) error
}

func NewHook(name string, fn func(ctx context.Context) error) *Hook {
	return &Hook{Name: name, Fn: fn}
}

type hookGroup struct {
	name  string
	hooks []*Hook
}

// hookRegistry keeps one append-only list per task plus a session list for
// hooks registered outside any task. Groups keep their creation order.
type hookRegistry struct {
	groups []*hookGroup
	byTask map[uint64]*hookGroup
	seen   map[*Hook]bool
}

const sessionGroup = "session"

func newHookRegistry() hookRegistry {
	return hookRegistry{
		byTask: make(map[uint64]*hookGroup),
		seen:   make(map[*Hook]bool),
	}
}

func (r *hookRegistry) add(taskID uint64, taskName string, h *Hook) bool {
	if r.seen[h] {
		return false
	}
	r.seen[h] = true

	g, ok := r.byTask[taskID]
	if !ok {
		name := taskName
		if taskID == 0 {
			name = sessionGroup
		}
		g = &hookGroup{name: name}
		r.byTask[taskID] = g
		r.groups = append(r.groups, g)
	}
	g.hooks = append(g.hooks, h)
	return true
}

func (r *hookRegistry) snapshot() []hookGroup {
	out := make([]hookGroup, len(r.groups))
	for i, g := range r.groups {
		out[i] = hookGroup{name: g.name, hooks: append([]*Hook(nil), g.hooks...)}
	}
	return out
}

type taskKey struct{}

type taskInfo struct {
	owner *Lifecycle
	id    uint64
	name  string
}

func withTask(ctx context.Context, l *Lifecycle, t *task) context.Context {
	return context.WithValue(ctx, taskKey{}, taskInfo{owner: l, id: t.id, name: t.name})
}

// shutdownKey marks the context handed to stop hooks.
type shutdownKey struct{}

func stoppingFrom(ctx context.Context, l *Lifecycle) bool {
	owner, _ := ctx.Value(shutdownKey{}).(*Lifecycle)
	return owner == l
}

func inTaskOf(ctx context.Context, l *Lifecycle) bool {
	info, ok := ctx.Value(taskKey{}).(taskInfo)
	return ok && info.owner == l
}

// TaskName returns the name of the lifecycle task running with ctx.
func TaskName(ctx context.Context) (string, bool) {
	info, ok := ctx.Value(taskKey{}).(taskInfo)
	return info.name, ok
}

// OnStop registers h to run once at shutdown. Called from inside a task, h
// joins that task's hooks, which run in registration order; otherwise it
// joins the session hooks. Registering the same hook again is a no-op. Once
// shutdown has begun, h runs immediately in the caller and its error is
// returned. Once scopes have started exiting, or once stopped, registration
// fails.
func (l *Lifecycle) OnStop(ctx context.Context, h *Hook) error {
	if h == nil || h.Fn == nil {
		return newError(ErrCodeInvalidCallback, "stop hook has no function", nil)
	}

	var (
		id   uint64
		name string
	)
	if info, ok := ctx.Value(taskKey{}).(taskInfo); ok && info.owner == l {
		id, name = info.id, info.name
	}

	l.mu.Lock()
	switch l.state {
	case LifecycleStopped:
		l.mu.Unlock()
		return newError(ErrCodeLifecycleStopping, "cannot register stop hook "+hookName(h)+": lifecycle is stopped", nil)

	case LifecycleStopping:
		if l.hooks.seen[h] {
			l.mu.Unlock()
			return nil
		}
		if l.scopesExiting {
			l.mu.Unlock()
			return newError(ErrCodeLifecycleStopping, "cannot register stop hook "+hookName(h)+": scopes are exiting", nil)
		}
		l.hooks.seen[h] = true
		l.lateHooks.Add(1)
		l.mu.Unlock()
		defer l.lateHooks.Done()

		group := name
		if id == 0 {
			group = sessionGroup
		}
		l.logger.Debug("running late stop hook", "hook", hookName(h), "group", group)

		if err := l.runHook(ctx, group, h); err != nil {
			l.mu.Lock()
			l.lateErrs = append(l.lateErrs, err)
			l.mu.Unlock()
			return err
		}
		return nil
	}

	added := l.hooks.add(id, name, h)
	l.mu.Unlock()

	if added {
		l.logger.Debug("stop hook registered", "hook", hookName(h), "task", name)
	}
	return nil
}

// OnStopFunc registers fn as a new stop hook and returns it.
func (l *Lifecycle) OnStopFunc(ctx context.Context, fn func(ctx context.Context) error) (*Hook, error) {
	h := &Hook{Fn: fn}
	return h, l.OnStop(ctx, h)
}

func (l *Lifecycle) runHook(ctx context.Context, group string, h *Hook) error {
	start := time.Now()
	err := callTask(ctx, h.Fn)
	d := time.Since(start)

	l.notifyHook(HookEvent{Hook: hookName(h), Group: group, Duration: d, Err: err})
	if err != nil {
		l.logger.Error("stop hook failed", "hook", hookName(h), "group", group, "error", err)
		return errHookFailed(hookName(h), err)
	}
	l.logger.Debug("stop hook done", "hook", hookName(h), "group", group, "duration", d)
	return nil
}

func hookName(h *Hook) string {
	if h.Name != "" {
		return h.Name
	}
	return fmt.Sprintf("hook-%p", h)
}
