package rewire

import (
	"log/slog"
	"slices"
	"sync"
)

// Linker adds nodes or child containers right before the first build.
type Linker func(c *Container) error

type replacement struct {
	target Ref
	with   *Node
}

// Container is an ordered set of nodes plus child containers. Children only
// organize declarations: the whole tree is flattened into one graph before
// it is built, and nesting never scopes type resolution.
type Container struct {
	cfg       *containerConfig
	logger    *slog.Logger
	telemetry *telemetry

	mu       sync.Mutex
	nodes    []*Node
	bound    map[*Node]struct{}
	children []*Container
	replaced []replacement
	linkers  []linkerEntry

	solveMu sync.Mutex
	last    *plan
}

type linkerEntry struct {
	fn  Linker
	ran bool
}

func New(opts ...Option) *Container {
	cfg := &containerConfig{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Container{
		cfg:       cfg,
		logger:    cfg.logger,
		telemetry: newTelemetry(cfg.tracerProvider, cfg.meterProvider, cfg.logger),
		bound:     make(map[*Node]struct{}),
	}
}

// Bind adds nodes to the container. Binding a node that is already bound is
// a no-op. Nodes bound while a solve is running are executed by a follow-up
// wave of that solve.
func (c *Container) Bind(nodes ...*Node) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range nodes {
		if n == nil {
			continue
		}
		if _, ok := c.bound[n]; ok {
			continue
		}
		c.bound[n] = struct{}{}
		c.nodes = append(c.nodes, n)
	}
	return c
}

// Add nests child containers.
func (c *Container) Add(children ...*Container) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, child := range children {
		if child == nil || child == c || slices.Contains(c.children, child) {
			continue
		}
		c.children = append(c.children, child)
	}
	return c
}

// Replace substitutes with for target in the whole graph. target is either
// a node or a TypeRef, in which case every producer of the tag is replaced.
// A replaced node never runs; its dependents receive with's result.
func (c *Container) Replace(target Ref, with *Node) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.replaced = append(c.replaced, replacement{target: target, with: with})
	return c
}

// ReplaceValue replaces every producer of T with a node yielding v.
func ReplaceValue[T any](c *Container, v T, opts ...NodeOption) *Node {
	n := Value(v, opts...)
	c.Replace(Type[T](), n)
	return n
}

func (c *Container) AddLinker(l Linker) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.linkers = append(c.linkers, linkerEntry{fn: l})
	return c
}

// Nodes returns the flattened node set in flattening order, before
// replacements are applied.
func (c *Container) Nodes() []*Node {
	nodes, _ := c.flatten()
	return nodes
}

func (c *Container) Size() int {
	return len(c.Nodes())
}

// Validate builds the graph without running anything.
func (c *Container) Validate() error {
	c.solveMu.Lock()
	defer c.solveMu.Unlock()

	_, err := c.build()
	return err
}

// containers walks the tree depth-first, parents before children, visiting
// each container once.
func (c *Container) containers() []*Container {
	var out []*Container
	seen := make(map[*Container]bool)

	var walk func(*Container)
	walk = func(cur *Container) {
		if seen[cur] {
			return
		}
		seen[cur] = true
		out = append(out, cur)

		cur.mu.Lock()
		children := slices.Clone(cur.children)
		cur.mu.Unlock()

		for _, child := range children {
			walk(child)
		}
	}
	walk(c)

	return out
}

func (c *Container) flatten() ([]*Node, []replacement) {
	var (
		nodes []*Node
		repl  []replacement
		seen  = make(map[*Node]bool)
	)

	for _, cur := range c.containers() {
		cur.mu.Lock()
		for _, n := range cur.nodes {
			if !seen[n] {
				seen[n] = true
				nodes = append(nodes, n)
			}
		}
		repl = append(repl, cur.replaced...)
		cur.mu.Unlock()
	}

	return nodes, repl
}

// runLinkers runs every linker of the tree that has not run yet, including
// linkers of children added by other linkers.
func (c *Container) runLinkers() error {
	for {
		ran := false
		for _, cur := range c.containers() {
			for {
				cur.mu.Lock()
				idx := slices.IndexFunc(cur.linkers, func(e linkerEntry) bool { return !e.ran })
				if idx < 0 {
					cur.mu.Unlock()
					break
				}
				cur.linkers[idx].ran = true
				fn := cur.linkers[idx].fn
				cur.mu.Unlock()

				ran = true
				if err := fn(cur); err != nil {
					return err
				}
			}
		}
		if !ran {
			return nil
		}
	}
}
