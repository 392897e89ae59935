package rewire

import (
	"context"
	"fmt"
	"reflect"

	ireflect "github.com/danpasecinic/rewire/internal/reflect"
)

const TagKey = "rewire"

// InjectStruct returns a node producing T, a struct or pointer to struct,
// with every field tagged `rewire:""` filled from the node producing the
// field's type. `rewire:"name"` asks for the tag of that name instead.
func InjectStruct[T any](opts ...NodeOption) (*Node, error) {
	typ := ireflect.TypeOf[T]()
	isPtr := typ.Kind() == reflect.Ptr
	structType := typ
	if isPtr {
		structType = typ.Elem()
	}

	fields, err := ireflect.StructFields(typ, TagKey)
	if err != nil {
		return nil, errInvalidCallback(typ.String(), "cannot inject struct", err)
	}

	refs := make([]Ref, len(fields))
	for i, f := range fields {
		refs[i] = TypeRef{Tag: TagFor(f.Type).Named(f.Named)}
	}

	opts = append([]NodeOption{
		WithLabel(typ.String()),
		Produces(TagOf[T]()),
		DependsOn(refs...),
	}, opts...)

	return NewNode(func(ctx context.Context) (any, error) {
		args := Inputs(ctx)
		structVal := reflect.New(structType).Elem()

		for i, f := range fields {
			v, err := ireflect.Coerce(args[i], f.Type)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			structVal.Field(f.Index).Set(v)
		}

		if isPtr {
			return structVal.Addr().Interface(), nil
		}
		return structVal.Interface(), nil
	}, opts...), nil
}

func MustInjectStruct[T any](opts ...NodeOption) *Node {
	n, err := InjectStruct[T](opts...)
	if err != nil {
		panic(err)
	}
	return n
}
