package graph

type mark uint8

const (
	unvisited mark = iota
	onPath
	finished
)

// FindCycle returns the first cycle met by a depth-first walk in insertion
// order, as a closed path whose first and last elements are the same node.
// It returns nil when the graph is acyclic.
func (g *Graph[K]) FindCycle() []K {
	marks := make(map[K]mark, len(g.order))
	var path []K

	var visit func(id K) []K
	visit = func(id K) []K {
		marks[id] = onPath
		path = append(path, id)

		for _, d := range g.Dependencies(id) {
			switch marks[d] {
			case onPath:
				return closePath(path, d)
			case unvisited:
				if cycle := visit(d); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		marks[id] = finished
		return nil
	}

	for _, id := range g.order {
		if marks[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func closePath[K comparable](path []K, back K) []K {
	for i, id := range path {
		if id == back {
			return append(append([]K(nil), path[i:]...), back)
		}
	}
	return nil
}
