package config

import (
	"context"

	"github.com/danpasecinic/rewire"
)

// Node returns a node producing the section at path decoded into T. Decoding
// and validation happen when the node runs, so a bad section fails the solve
// like any other node.
func Node[T any](s *Source, path string, opts ...rewire.NodeOption) *rewire.Node {
	var zero T
	return NodeDefault(s, path, zero, opts...)
}

// NodeDefault is Node decoding over def: keys missing from the section keep
// the value they have in def.
func NodeDefault[T any](s *Source, path string, def T, opts ...rewire.NodeOption) *rewire.Node {
	opts = append([]rewire.NodeOption{
		rewire.WithLabel("config[" + path + "]"),
		rewire.Produces(rewire.TagOf[T]()),
	}, opts...)

	return rewire.NewNode(func(context.Context) (any, error) {
		v := def
		if err := s.Decode(path, &v); err != nil {
			return nil, err
		}
		return v, nil
	}, opts...)
}

// SourceNode exposes the whole source to nodes asking for *Source.
func SourceNode(s *Source, opts ...rewire.NodeOption) *rewire.Node {
	return rewire.Value(s, append([]rewire.NodeOption{rewire.WithLabel("config")}, opts...)...)
}
