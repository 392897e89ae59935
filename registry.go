package rewire

// typeRegistry maps a produced tag to the nodes declaring it, in flattening
// order. A node that both produces and consumes the same tag is a wrapper of
// that tag rather than a candidate for it.
type typeRegistry struct {
	producers map[TypeTag][]*Node
	wrappers  map[TypeTag][]*Node
}

func newTypeRegistry(nodes []*Node) *typeRegistry {
	r := &typeRegistry{
		producers: make(map[TypeTag][]*Node),
		wrappers:  make(map[TypeTag][]*Node),
	}

	for _, n := range nodes {
		if n.produces.IsZero() {
			continue
		}
		if wraps(n, n.produces) {
			r.wrappers[n.produces] = append(r.wrappers[n.produces], n)
			continue
		}
		r.producers[n.produces] = append(r.producers[n.produces], n)
	}

	return r
}

func wraps(n *Node, tag TypeTag) bool {
	for _, in := range n.inputs {
		if ref, ok := in.(TypeRef); ok && ref.Tag == tag {
			return true
		}
	}
	return false
}

// resolve returns the single node that satisfies ref for consumer. Wrappers
// of a tag chain in registration order: the first wrapper gets the base
// producer, each later one gets its predecessor, everyone else gets the
// outermost wrapper.
func (r *typeRegistry) resolve(consumer *Node, ref TypeRef) (*Node, error) {
	candidates := r.producers[ref.Tag]
	switch len(candidates) {
	case 0:
		return nil, errDependencyNotFound(consumer.label, ref)
	case 1:
	default:
		labels := make([]string, len(candidates))
		for i, c := range candidates {
			labels[i] = c.label
		}
		return nil, errAmbiguousDependency(consumer.label, ref, labels)
	}

	base := candidates[0]
	chain := r.wrappers[ref.Tag]
	if len(chain) == 0 {
		return base, nil
	}

	if consumer.produces == ref.Tag {
		for i, w := range chain {
			if w != consumer {
				continue
			}
			if i == 0 {
				return base, nil
			}
			return chain[i-1], nil
		}
	}

	return chain[len(chain)-1], nil
}

func (r *typeRegistry) candidates(tag TypeTag) []*Node {
	return r.producers[tag]
}
