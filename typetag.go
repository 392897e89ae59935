package rewire

import (
	"reflect"

	ireflect "github.com/danpasecinic/rewire/internal/reflect"
)

// TypeTag identifies the value a node produces. Two tags are equal when they
// wrap the same Go type and carry the same name, so a TypeTag can be used
// directly as a map key.
type TypeTag struct {
	typ  reflect.Type
	name string
}

func TagOf[T any]() TypeTag {
	return TypeTag{typ: ireflect.TypeOf[T]()}
}

// NamedTagOf distinguishes several producers of the same Go type.
func NamedTagOf[T any](name string) TypeTag {
	return TypeTag{typ: ireflect.TypeOf[T](), name: name}
}

func TagFor(t reflect.Type) TypeTag {
	return TypeTag{typ: t}
}

func (t TypeTag) Type() reflect.Type { return t.typ }
func (t TypeTag) Name() string       { return t.name }
func (t TypeTag) IsZero() bool       { return t.typ == nil }

func (t TypeTag) Named(name string) TypeTag {
	return TypeTag{typ: t.typ, name: name}
}

func (t TypeTag) String() string {
	if t.typ == nil {
		return "<none>"
	}
	if t.name == "" {
		return t.typ.String()
	}
	return t.typ.String() + "#" + t.name
}

// Ref is a declared input of a node: either a *Node or a TypeRef.
type Ref interface {
	String() string
	isRef()
}

// TypeRef asks for whichever single node produces Tag.
type TypeRef struct {
	Tag TypeTag
}

func Type[T any]() TypeRef {
	return TypeRef{Tag: TagOf[T]()}
}

func NamedType[T any](name string) TypeRef {
	return TypeRef{Tag: NamedTagOf[T](name)}
}

func (r TypeRef) String() string { return "type " + r.Tag.String() }
func (TypeRef) isRef()           {}
