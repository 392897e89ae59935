// Package graph holds the dependency graph of a build: an edge from A to B
// means A consumes the output of B.
package graph

import "errors"

var ErrCycle = errors.New("graph: cycle")

// Graph is built once and then only read. Every walk follows insertion order,
// so derived orders are deterministic for the same sequence of Add calls.
type Graph[K comparable] struct {
	order      []K
	deps       map[K][]K
	dependents map[K][]K
}

func New[K comparable]() *Graph[K] {
	return &Graph[K]{
		deps:       make(map[K][]K),
		dependents: make(map[K][]K),
	}
}

// Add records id with its dependencies. Dependencies that are never added
// themselves are ignored by every walk. Adding an id twice replaces its
// edges but keeps its first position.
func (g *Graph[K]) Add(id K, deps ...K) {
	old, exists := g.deps[id]
	if !exists {
		g.order = append(g.order, id)
	}
	for _, d := range old {
		g.dependents[d] = remove(g.dependents[d], id)
	}

	g.deps[id] = append([]K(nil), deps...)
	for _, d := range deps {
		g.dependents[d] = append(g.dependents[d], id)
	}
}

func remove[K comparable](s []K, v K) []K {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func (g *Graph[K]) Len() int {
	return len(g.order)
}

func (g *Graph[K]) Has(id K) bool {
	_, ok := g.deps[id]
	return ok
}

// Dependencies returns the added nodes id depends on.
func (g *Graph[K]) Dependencies(id K) []K {
	return g.known(g.deps[id])
}

// Dependents returns the nodes depending on id, in insertion order.
func (g *Graph[K]) Dependents(id K) []K {
	return g.known(g.dependents[id])
}

func (g *Graph[K]) known(ids []K) []K {
	out := make([]K, 0, len(ids))
	for _, id := range ids {
		if g.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// Sort orders the nodes so each one comes after its dependencies, breaking
// ties by insertion order.
func (g *Graph[K]) Sort() ([]K, error) {
	pending := make(map[K]int, len(g.order))
	var ready []K
	for _, id := range g.order {
		pending[id] = len(g.Dependencies(id))
		if pending[id] == 0 {
			ready = append(ready, id)
		}
	}

	sorted := make([]K, 0, len(g.order))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		sorted = append(sorted, id)

		for _, d := range g.dependents[id] {
			pending[d]--
			if pending[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(sorted) != len(g.order) {
		return nil, ErrCycle
	}
	return sorted, nil
}

// Levels maps every node to the length of its longest dependency chain.
// Nodes on the same level never depend on each other.
func (g *Graph[K]) Levels() (map[K]int, int, error) {
	sorted, err := g.Sort()
	if err != nil {
		return nil, 0, err
	}

	level := make(map[K]int, len(sorted))
	top := 0
	for _, id := range sorted {
		l := 0
		for _, d := range g.Dependencies(id) {
			l = max(l, level[d]+1)
		}
		level[id] = l
		top = max(top, l+1)
	}
	return level, top, nil
}
