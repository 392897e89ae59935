package rewire

import (
	"context"
	"fmt"
)

type Decorator[T any] func(ctx context.Context, base T) (T, error)

// Decorate returns a wrapper of T: a node that consumes the current T and
// produces a new one. Every other consumer of T receives the outermost
// wrapper; wrappers stack in the order they are bound.
func Decorate[T any](decorator Decorator[T], opts ...NodeOption) *Node {
	return decorate(TagOf[T](), decorator, opts)
}

func DecorateNamed[T any](name string, decorator Decorator[T], opts ...NodeOption) *Node {
	return decorate(NamedTagOf[T](name), decorator, opts)
}

func decorate[T any](tag TypeTag, decorator Decorator[T], opts []NodeOption) *Node {
	opts = append([]NodeOption{
		WithLabel("decorate[" + tag.String() + "]"),
		DependsOn(TypeRef{Tag: tag}),
		Produces(tag),
	}, opts...)

	return NewNode(func(ctx context.Context) (any, error) {
		base, err := Input[T](ctx, 0)
		if err != nil {
			return nil, errDecoratorTypeMismatch(tag, err)
		}
		return decorator(ctx, base)
	}, opts...)
}

// Alias returns a node producing I from the single node producing T, so that
// consumers can ask for an interface the concrete value implements.
func Alias[I, T any](opts ...NodeOption) *Node {
	opts = append([]NodeOption{
		WithLabel("alias[" + TagOf[I]().String() + "]"),
		DependsOn(Type[T]()),
		Produces(TagOf[I]()),
	}, opts...)

	return NewNode(func(ctx context.Context) (any, error) {
		v := Inputs(ctx)[0]
		if _, ok := v.(I); !ok && v != nil {
			return nil, fmt.Errorf("%T does not implement %s", v, TagOf[I]())
		}
		return v, nil
	}, opts...)
}

func errDecoratorTypeMismatch(tag TypeTag, cause error) *Error {
	return newError(
		ErrCodeInvalidCallback,
		"decorator type mismatch for "+tag.String(),
		cause,
	)
}
