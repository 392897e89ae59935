package rewire

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorCode uint16

const (
	ErrCodeUnknown ErrorCode = iota
	ErrCodeDependencyNotFound
	ErrCodeAmbiguousDependency
	ErrCodeCircularDependency
	ErrCodeDuplicateNode
	ErrCodeInvalidCallback
	ErrCodeNodeFailed
	ErrCodeSolveFailed
	ErrCodeTaskFailed
	ErrCodeScopeEnterFailed
	ErrCodeScopeExitFailed
	ErrCodeHookFailed
	ErrCodeLifecycleStopping
	ErrCodeLifecycleStarted
	ErrCodeShutdownFailed
	ErrCodeHealthCheckFailed
)

var codeNames = map[ErrorCode]string{
	ErrCodeUnknown:             "UNKNOWN",
	ErrCodeDependencyNotFound:  "DEPENDENCY_NOT_FOUND",
	ErrCodeAmbiguousDependency: "AMBIGUOUS_DEPENDENCY",
	ErrCodeCircularDependency:  "CIRCULAR_DEPENDENCY",
	ErrCodeDuplicateNode:       "DUPLICATE_NODE",
	ErrCodeInvalidCallback:     "INVALID_CALLBACK",
	ErrCodeNodeFailed:          "NODE_FAILED",
	ErrCodeSolveFailed:         "SOLVE_FAILED",
	ErrCodeTaskFailed:          "TASK_FAILED",
	ErrCodeScopeEnterFailed:    "SCOPE_ENTER_FAILED",
	ErrCodeScopeExitFailed:     "SCOPE_EXIT_FAILED",
	ErrCodeHookFailed:          "HOOK_FAILED",
	ErrCodeLifecycleStopping:   "LIFECYCLE_STOPPING",
	ErrCodeLifecycleStarted:    "LIFECYCLE_STARTED",
	ErrCodeShutdownFailed:      "SHUTDOWN_FAILED",
	ErrCodeHealthCheckFailed:   "HEALTH_CHECK_FAILED",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", c)
}

// Error is the coded error returned by every build, solve and lifecycle
// operation. errors.Is matches two *Error values by code.
type Error struct {
	Code    ErrorCode
	Message string
	Node    string
	Cause   error
	// Stack holds the node labels forming a dependency cycle, or the
	// candidates of an ambiguous reference.
	Stack []string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Code)

	if e.Node != "" {
		fmt.Fprintf(&b, " node=%q:", e.Node)
	}

	b.WriteString(" ")
	b.WriteString(e.Message)

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

func (e *Error) WithNode(label string) *Error {
	e.Node = label
	return e
}

func (e *Error) WithStack(stack []string) *Error {
	e.Stack = stack
	return e
}

func newError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func errDependencyNotFound(consumer string, ref Ref) *Error {
	return newError(
		ErrCodeDependencyNotFound,
		fmt.Sprintf("no node provides %s", ref),
		nil,
	).WithNode(consumer)
}

func errAmbiguousDependency(consumer string, ref Ref, candidates []string) *Error {
	return newError(
		ErrCodeAmbiguousDependency,
		fmt.Sprintf("%s is provided by %d nodes: %s", ref, len(candidates), strings.Join(candidates, ", ")),
		nil,
	).WithNode(consumer).WithStack(candidates)
}

func errCircularDependency(chain []string) *Error {
	return newError(
		ErrCodeCircularDependency,
		fmt.Sprintf("circular dependency detected: %s", strings.Join(chain, " -> ")),
		nil,
	).WithStack(chain)
}

func errDuplicateNode(id string, labels []string) *Error {
	return newError(
		ErrCodeDuplicateNode,
		fmt.Sprintf("id %s is shared by distinct nodes %s", id, strings.Join(labels, ", ")),
		nil,
	).WithStack(labels)
}

func errInvalidCallback(label, message string, cause error) *Error {
	return newError(ErrCodeInvalidCallback, message, cause).WithNode(label)
}

func errNodeFailed(label string, cause error) *Error {
	return newError(ErrCodeNodeFailed, "callback failed", cause).WithNode(label)
}

func errTaskFailed(name string, cause error) *Error {
	return newError(ErrCodeTaskFailed, fmt.Sprintf("task %s failed", name), cause)
}

func errHookFailed(name string, cause error) *Error {
	return newError(ErrCodeHookFailed, fmt.Sprintf("stop hook %s failed", name), cause)
}

func errScopeEnterFailed(name string, cause error) *Error {
	return newError(ErrCodeScopeEnterFailed, fmt.Sprintf("failed to enter scope %s", name), cause)
}

func errScopeExitFailed(name string, cause error) *Error {
	return newError(ErrCodeScopeExitFailed, fmt.Sprintf("failed to exit scope %s", name), cause)
}

// SolveError aggregates every outcome of a failed solve pass. Failures holds
// one *Error per node whose callback failed; Skipped names nodes that never
// ran because a dependency failed; Aborted names nodes that never started
// because the pass was halted.
type SolveError struct {
	Failures []*Error
	Skipped  []string
	Aborted  []string
	Cause    error
}

func (e *SolveError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %d node(s) failed", ErrCodeSolveFailed, len(e.Failures))
	if len(e.Skipped) > 0 {
		fmt.Fprintf(&b, ", %d skipped", len(e.Skipped))
	}
	if len(e.Aborted) > 0 {
		fmt.Fprintf(&b, ", %d aborted", len(e.Aborted))
	}
	for _, f := range e.Failures {
		b.WriteString("\n\t")
		b.WriteString(f.Error())
	}
	if e.Cause != nil {
		b.WriteString("\n\t")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *SolveError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func (e *SolveError) Is(target error) bool {
	var t *Error
	return errors.As(target, &t) && t.Code == ErrCodeSolveFailed
}

// FailedNodes returns the labels of the nodes whose callback failed.
func (e *SolveError) FailedNodes() []string {
	labels := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		labels[i] = f.Node
	}
	return labels
}

func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeDependencyNotFound)
}

func IsAmbiguous(err error) bool {
	return hasCode(err, ErrCodeAmbiguousDependency)
}

func IsCircularDependency(err error) bool {
	return hasCode(err, ErrCodeCircularDependency)
}

func IsDuplicateNode(err error) bool {
	return hasCode(err, ErrCodeDuplicateNode)
}

func IsInvalidCallback(err error) bool {
	return hasCode(err, ErrCodeInvalidCallback)
}

func IsNodeFailed(err error) bool {
	return hasCode(err, ErrCodeNodeFailed)
}

func IsSolveFailed(err error) bool {
	var e *SolveError
	return errors.As(err, &e)
}

func IsTaskFailed(err error) bool {
	return hasCode(err, ErrCodeTaskFailed)
}

func IsScopeFailed(err error) bool {
	return hasCode(err, ErrCodeScopeEnterFailed) || hasCode(err, ErrCodeScopeExitFailed)
}

func IsLifecycleStopping(err error) bool {
	return hasCode(err, ErrCodeLifecycleStopping)
}

func hasCode(err error, code ErrorCode) bool {
	return errors.Is(err, &Error{Code: code})
}
