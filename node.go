package rewire

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type State uint8

const (
	StateUnresolved State = iota
	StateScheduled
	StateRunning
	StateDone
	StateFailed
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

func (s State) Terminal() bool {
	return s >= StateDone
}

// Callback is the unit of work of a plain node. The values of the node's
// declared inputs are available through Inputs(ctx).
type Callback func(ctx context.Context) (any, error)

type invoker func(ctx context.Context, args []any) (any, error)

// Node is a single unit of work. Nodes are compared by pointer; the ID is
// used for graph bookkeeping and diagnostics.
type Node struct {
	id       uuid.UUID
	label    string
	optional bool
	priority int
	produces TypeTag
	inputs   []Ref
	invoke   invoker

	mu     sync.RWMutex
	state  State
	result any
	err    error
}

type NodeOption func(*nodeConfig)

type nodeConfig struct {
	id       uuid.UUID
	label    string
	optional bool
	priority int
	produces *TypeTag
	inputs   []Ref
	params   []Param
}

func WithID(id uuid.UUID) NodeOption {
	return func(cfg *nodeConfig) {
		cfg.id = id
	}
}

func WithLabel(label string) NodeOption {
	return func(cfg *nodeConfig) {
		cfg.label = label
	}
}

// Optional marks a node that is skipped, instead of failing the build, when
// one of its inputs cannot be found.
func Optional() NodeOption {
	return func(cfg *nodeConfig) {
		cfg.optional = true
	}
}

// WithPriority orders nodes that become ready at the same time: lower values
// start first. It matters when WithMaxConcurrency leaves fewer slots than
// ready nodes.
func WithPriority(p int) NodeOption {
	return func(cfg *nodeConfig) {
		cfg.priority = p
	}
}

// Produces sets the tag the node's result is registered under.
func Produces(tag TypeTag) NodeOption {
	return func(cfg *nodeConfig) {
		cfg.produces = &tag
	}
}

// DependsOn appends declared inputs. For injected nodes they only add
// ordering edges; their values are not passed to the function.
func DependsOn(refs ...Ref) NodeOption {
	return func(cfg *nodeConfig) {
		cfg.inputs = append(cfg.inputs, refs...)
	}
}

func newNodeConfig(opts []NodeOption) *nodeConfig {
	cfg := &nodeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.id == uuid.Nil {
		cfg.id = uuid.New()
	}
	return cfg
}

// NewNode creates a plain node around cb.
func NewNode(cb Callback, opts ...NodeOption) *Node {
	cfg := newNodeConfig(opts)

	n := &Node{
		id:       cfg.id,
		label:    cfg.label,
		optional: cfg.optional,
		priority: cfg.priority,
		inputs:   cfg.inputs,
		invoke: func(ctx context.Context, _ []any) (any, error) {
			return cb(ctx)
		},
	}
	if cfg.produces != nil {
		n.produces = *cfg.produces
	}
	if n.label == "" {
		n.label = "node-" + n.id.String()[:8]
	}
	return n
}

// Value returns a node that produces v without doing any work.
func Value[T any](v T, opts ...NodeOption) *Node {
	opts = append([]NodeOption{Produces(TagOf[T]())}, opts...)
	return NewNode(func(context.Context) (any, error) {
		return v, nil
	}, opts...)
}

func (n *Node) ID() uuid.UUID      { return n.id }
func (n *Node) Label() string      { return n.label }
func (n *Node) String() string     { return n.label }
func (n *Node) Produces() TypeTag  { return n.produces }
func (n *Node) IsOptional() bool   { return n.optional }
func (n *Node) Priority() int      { return n.priority }
func (n *Node) Inputs() []Ref      { return append([]Ref(nil), n.inputs...) }
func (*Node) isRef()               {}

func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Result returns the value produced by the last pass. ok is false unless the
// node is done.
func (n *Node) Result() (v any, ok bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.state != StateDone {
		return nil, false
	}
	return n.result, true
}

// Err returns the failure of the last pass, if any.
func (n *Node) Err() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.err
}

// transition moves the node forward. Terminal states are final until reset.
func (n *Node) transition(to State) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transitionLocked(to)
}

func (n *Node) transitionLocked(to State) bool {
	if n.state.Terminal() || to <= n.state {
		return false
	}
	n.state = to
	return true
}

func (n *Node) complete(v any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.transitionLocked(StateDone) {
		return false
	}
	n.result = v
	return true
}

func (n *Node) fail(err error) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.transitionLocked(StateFailed) {
		return false
	}
	n.err = err
	return true
}

func (n *Node) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = StateUnresolved
	n.result = nil
	n.err = nil
}

type inputsKey struct{}

// Inputs returns the values of the running node's declared inputs, in
// declaration order. It returns nil outside a node callback.
func Inputs(ctx context.Context) []any {
	args, _ := ctx.Value(inputsKey{}).([]any)
	return args
}

// Input returns the i-th declared input of the running node as T.
func Input[T any](ctx context.Context, i int) (T, error) {
	var zero T
	args := Inputs(ctx)
	if i < 0 || i >= len(args) {
		return zero, fmt.Errorf("input %d out of range (%d inputs)", i, len(args))
	}
	v, ok := args[i].(T)
	if !ok && args[i] != nil {
		return zero, fmt.Errorf("input %d is %T, not %s", i, args[i], TagOf[T]())
	}
	return v, nil
}

func withInputs(ctx context.Context, args []any) context.Context {
	return context.WithValue(ctx, inputsKey{}, args)
}

// ResultOf returns the result of a done node as T.
func ResultOf[T any](n *Node) (T, error) {
	var zero T
	v, ok := n.Result()
	if !ok {
		return zero, fmt.Errorf("node %s is %s, not done", n.label, n.State())
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("node %s produced %T, not %s", n.label, v, TagOf[T]())
	}
	return t, nil
}
