// Package scheduler runs a set of tasks with dependencies between them using
// in-degree counting. A single coordinator goroutine owns the counters and
// launches every task whose dependencies have all completed.
package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"

	"golang.org/x/sync/semaphore"
)

type Policy uint8

const (
	// Drain lets in-flight tasks and unrelated subgraphs run to completion
	// after a failure. Only dependents of the failed task are skipped.
	Drain Policy = iota
	// FailFast stops launching tasks after the first failure and cancels
	// the context handed to in-flight tasks.
	FailFast
)

func (p Policy) String() string {
	switch p {
	case Drain:
		return "drain"
	case FailFast:
		return "fail-fast"
	default:
		return fmt.Sprintf("Policy(%d)", p)
	}
}

type Outcome uint8

const (
	Pending Outcome = iota
	Done
	Failed
	Skipped
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("Outcome(%d)", o)
	}
}

type Task struct {
	ID   string
	Deps []string
	// Priority orders tasks that are ready at the same time: lower values
	// launch first, equal values keep their order.
	Priority int
}

type ExecFunc func(ctx context.Context, id string) error

type Options struct {
	// MaxConcurrency bounds the number of tasks running at once. Zero or a
	// negative value means unbounded.
	MaxConcurrency int
	Policy         Policy
	Logger         *slog.Logger

	// OnReady is called by the coordinator when a task's dependencies are
	// all done, before it is launched.
	OnReady func(id string)
}

type Result struct {
	ID      string
	Outcome Outcome
	Err     error
	// Cause is the failed task that made this one skipped.
	Cause string
}

type Report struct {
	Results map[string]*Result
	// Completed lists successful tasks in completion order.
	Completed []string

	order []string
}

func (r *Report) Failed() []*Result  { return r.filter(Failed) }
func (r *Report) Skipped() []*Result { return r.filter(Skipped) }
func (r *Report) Aborted() []*Result { return r.filter(Aborted) }

func (r *Report) OK() bool {
	for _, res := range r.Results {
		if res.Outcome != Done {
			return false
		}
	}
	return true
}

func (r *Report) filter(o Outcome) []*Result {
	var out []*Result
	for _, id := range r.order {
		if res := r.Results[id]; res.Outcome == o {
			out = append(out, res)
		}
	}
	return out
}

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

type completion struct {
	id  string
	err error
}

// Run executes tasks and blocks until every launched task has returned.
// Dependencies naming tasks outside the set are ignored; the caller is
// expected to have validated the graph and rejected cycles.
func Run(ctx context.Context, tasks []Task, exec ExecFunc, opts Options) *Report {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	report := &Report{
		Results: make(map[string]*Result, len(tasks)),
		order:   make([]string, 0, len(tasks)),
	}
	for _, t := range tasks {
		if _, dup := report.Results[t.ID]; dup {
			continue
		}
		report.Results[t.ID] = &Result{ID: t.ID}
		report.order = append(report.order, t.ID)
	}

	priority := make(map[string]int, len(tasks))
	for _, t := range tasks {
		if _, ok := priority[t.ID]; !ok {
			priority[t.ID] = t.Priority
		}
	}
	byPriority := func(a, b string) int {
		return cmp.Compare(priority[a], priority[b])
	}

	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, id := range report.order {
		inDegree[id] = 0
	}
	for _, t := range tasks {
		seen := make(map[string]bool, len(t.Deps))
		for _, dep := range t.Deps {
			if _, ok := report.Results[dep]; !ok || seen[dep] {
				continue
			}
			seen[dep] = true
			inDegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var ready []string
	for _, id := range report.order {
		if inDegree[id] == 0 {
			ready = append(ready, id)
			notifyReady(opts, id)
		}
	}

	var sem *semaphore.Weighted
	if opts.MaxConcurrency > 0 {
		sem = semaphore.NewWeighted(int64(opts.MaxConcurrency))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	completions := make(chan completion, len(report.order))
	ctxDone := ctx.Done()
	inflight := 0
	halted := false

	skip := func(failed string) {
		queue := append([]string(nil), dependents[failed]...)
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]

			res := report.Results[id]
			if res.Outcome != Pending {
				continue
			}
			res.Outcome = Skipped
			res.Cause = failed
			queue = append(queue, dependents[id]...)
		}
	}

	for {
		if !halted && ctx.Err() != nil {
			halted = true
			ctxDone = nil
		}
		if !halted {
			slices.SortStableFunc(ready, byPriority)
			for len(ready) > 0 {
				if sem != nil && !sem.TryAcquire(1) {
					break
				}
				id := ready[0]
				ready = ready[1:]
				inflight++
				go runTask(runCtx, id, exec, completions)
			}
		}

		if inflight == 0 {
			break
		}

		select {
		case c := <-completions:
			inflight--
			if sem != nil {
				sem.Release(1)
			}

			res := report.Results[c.id]
			if c.err != nil {
				res.Outcome = Failed
				res.Err = c.err
				skip(c.id)
				logger.Debug("task failed", "task", c.id, "error", c.err)

				if opts.Policy == FailFast && !halted {
					halted = true
					cancel()
					logger.Debug("scheduler halted after failure", "task", c.id)
				}
				continue
			}

			res.Outcome = Done
			report.Completed = append(report.Completed, c.id)
			for _, dep := range dependents[c.id] {
				inDegree[dep]--
				if inDegree[dep] == 0 && report.Results[dep].Outcome == Pending {
					ready = append(ready, dep)
					notifyReady(opts, dep)
				}
			}

		case <-ctxDone:
			ctxDone = nil
			halted = true
			logger.Debug("scheduler halted by context", "error", ctx.Err())
		}
	}

	var abortErr error
	if ctx.Err() != nil {
		abortErr = context.Cause(ctx)
	}
	for _, id := range report.order {
		if res := report.Results[id]; res.Outcome == Pending {
			res.Outcome = Aborted
			res.Err = abortErr
		}
	}

	return report
}

func notifyReady(opts Options, id string) {
	if opts.OnReady != nil {
		opts.OnReady(id)
	}
}

func runTask(ctx context.Context, id string, exec ExecFunc, completions chan<- completion) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
		completions <- completion{id: id, err: err}
	}()

	err = exec(ctx, id)
}
