package rewire

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/danpasecinic/rewire/internal/graph"
)

// plan is a built, acyclic graph ready to be scheduled.
type plan struct {
	nodes    []*Node
	dropped  []*Node
	inputs   map[*Node][]*Node
	byKey    map[string]*Node
	registry *typeRegistry
	graph    *graph.Graph[*Node]
}

func nodeKey(n *Node) string {
	return n.id.String()
}

func (p *plan) deps(n *Node) []string {
	inputs := p.inputs[n]
	keys := make([]string, len(inputs))
	for i, in := range inputs {
		keys[i] = nodeKey(in)
	}
	return keys
}

func (c *Container) build() (*plan, error) {
	if err := c.runLinkers(); err != nil {
		return nil, fmt.Errorf("linker: %w", err)
	}

	nodes, repl := c.flatten()

	if err := checkIDs(nodes); err != nil {
		return nil, err
	}

	nodes, subst, err := applyReplacements(nodes, repl)
	if err != nil {
		return nil, err
	}

	if err := checkIDs(nodes); err != nil {
		return nil, err
	}

	p, err := resolveInputs(nodes, subst)
	if err != nil {
		return nil, err
	}

	g := graph.New[*Node]()
	for _, n := range p.nodes {
		g.Add(n, p.inputs[n]...)
	}
	if cycle := g.FindCycle(); cycle != nil {
		labels := make([]string, len(cycle))
		for i, n := range cycle {
			labels[i] = n.label
		}
		return nil, errCircularDependency(labels)
	}
	p.graph = g

	return p, nil
}

func checkIDs(nodes []*Node) error {
	byID := make(map[uuid.UUID]*Node, len(nodes))
	for _, n := range nodes {
		if other, ok := byID[n.id]; ok && other != n {
			return errDuplicateNode(n.id.String(), []string{other.label, n.label})
		}
		byID[n.id] = n
	}
	return nil
}

// applyReplacements swaps replaced nodes for their substitutes in place and
// returns the substitution map used to redirect direct references.
func applyReplacements(nodes []*Node, repl []replacement) ([]*Node, map[*Node]*Node, error) {
	subst := make(map[*Node]*Node)
	if len(repl) == 0 {
		return nodes, subst, nil
	}

	var extra []*Node
	for _, r := range repl {
		if r.with == nil {
			return nil, nil, errInvalidCallback("", fmt.Sprintf("replacement for %s is nil", r.target), nil)
		}

		switch target := r.target.(type) {
		case *Node:
			subst[target] = r.with
			if !slices.Contains(nodes, target) {
				extra = append(extra, r.with)
			}
		case TypeRef:
			found := false
			for _, n := range nodes {
				if n != r.with && n.produces == target.Tag && !wraps(n, target.Tag) {
					subst[n] = r.with
					found = true
				}
			}
			if !found {
				extra = append(extra, r.with)
			}
		default:
			return nil, nil, errInvalidCallback("", fmt.Sprintf("cannot replace %v", r.target), nil)
		}
	}

	out := make([]*Node, 0, len(nodes)+len(extra))
	seen := make(map[*Node]bool, len(nodes))
	push := func(n *Node) {
		n = follow(subst, n)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, n := range nodes {
		push(n)
	}
	for _, n := range extra {
		push(n)
	}

	return out, subst, nil
}

// follow resolves chained replacements. Replacing a node by itself, or a
// loop of replacements, stops at the first repeated node.
func follow(subst map[*Node]*Node, n *Node) *Node {
	seen := map[*Node]bool{n: true}
	for {
		next, ok := subst[n]
		if !ok || seen[next] {
			return n
		}
		seen[next] = true
		n = next
	}
}

// resolveInputs turns every declared input into a concrete node. An optional
// node with a missing input is dropped, which may in turn leave other
// optional nodes without inputs, so this runs until nothing changes.
func resolveInputs(nodes []*Node, subst map[*Node]*Node) (*plan, error) {
	active := slices.Clone(nodes)
	var dropped []*Node

	for {
		p := &plan{
			nodes:    active,
			dropped:  dropped,
			inputs:   make(map[*Node][]*Node, len(active)),
			byKey:    make(map[string]*Node, len(active)),
			registry: newTypeRegistry(active),
		}

		inSet := make(map[*Node]bool, len(active))
		for _, n := range active {
			inSet[n] = true
			p.byKey[nodeKey(n)] = n
		}

		var drop []*Node
		for _, n := range active {
			inputs, err := resolveNode(p.registry, n, inSet, subst)
			if err != nil {
				if n.optional && IsNotFound(err) {
					drop = append(drop, n)
					continue
				}
				return nil, err
			}
			p.inputs[n] = inputs
		}

		if len(drop) == 0 {
			return p, nil
		}

		dropped = append(dropped, drop...)
		active = slices.DeleteFunc(active, func(n *Node) bool {
			return slices.Contains(drop, n)
		})
	}
}

func resolveNode(reg *typeRegistry, n *Node, inSet map[*Node]bool, subst map[*Node]*Node) ([]*Node, error) {
	inputs := make([]*Node, 0, len(n.inputs))
	for _, ref := range n.inputs {
		switch r := ref.(type) {
		case *Node:
			dep := follow(subst, r)
			if !inSet[dep] {
				return nil, errDependencyNotFound(n.label, dep)
			}
			inputs = append(inputs, dep)
		case TypeRef:
			dep, err := reg.resolve(n, r)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, dep)
		default:
			return nil, errInvalidCallback(n.label, fmt.Sprintf("unsupported input %v", ref), nil)
		}
	}
	return inputs, nil
}
