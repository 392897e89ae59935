package rewire

import (
	"context"
	"fmt"
	"reflect"

	ireflect "github.com/danpasecinic/rewire/internal/reflect"
)

type paramKind uint8

const (
	paramFrom paramKind = iota + 1
	paramAuto
	paramDefault
)

// Param annotates one non-context parameter of an injected function.
type Param struct {
	kind  paramKind
	ref   Ref
	value any
}

// From binds the parameter to the result of a node, or of whichever node
// produces a TypeRef.
func From(ref Ref) Param {
	return Param{kind: paramFrom, ref: ref}
}

// Auto binds the parameter to the single node producing its Go type.
func Auto() Param {
	return Param{kind: paramAuto}
}

// Default passes v unchanged. Under InjectAll the parameter is injected by
// type instead.
func Default(v any) Param {
	return Param{kind: paramDefault, value: v}
}

// Params lists annotations positionally over the function's parameters,
// context.Context parameters excluded. A zero Param leaves the position
// unannotated.
func Params(params ...Param) NodeOption {
	return func(cfg *nodeConfig) {
		cfg.params = append(cfg.params, params...)
	}
}

type bindingKind uint8

const (
	bindContext bindingKind = iota
	bindInput
	bindValue
)

type binding struct {
	kind  bindingKind
	typ   reflect.Type
	input int
	value reflect.Value
}

// Inject builds a node from fn in selective mode: every parameter other than
// context.Context must be annotated with Params.
func Inject(fn any, opts ...NodeOption) (*Node, error) {
	return inject(fn, false, opts)
}

// InjectAll builds a node from fn in total mode: unannotated and defaulted
// parameters are injected by their Go type.
func InjectAll(fn any, opts ...NodeOption) (*Node, error) {
	return inject(fn, true, opts)
}

func MustInject(fn any, opts ...NodeOption) *Node {
	n, err := Inject(fn, opts...)
	if err != nil {
		panic(err)
	}
	return n
}

func MustInjectAll(fn any, opts ...NodeOption) *Node {
	n, err := InjectAll(fn, opts...)
	if err != nil {
		panic(err)
	}
	return n
}

func inject(fn any, total bool, opts []NodeOption) (*Node, error) {
	cfg := newNodeConfig(opts)

	label := cfg.label
	if label == "" {
		label = ireflect.FuncName(fn)
	}

	sig, err := ireflect.Inspect(fn)
	if err != nil {
		return nil, errInvalidCallback(label, "cannot inject", err)
	}

	var (
		inputs   []Ref
		bindings = make([]binding, len(sig.Params))
		pos      int
	)

	for i, p := range sig.Params {
		b := &bindings[i]
		b.typ = p.Type

		if p.IsContext {
			b.kind = bindContext
			continue
		}

		var ann Param
		if pos < len(cfg.params) {
			ann = cfg.params[pos]
		}
		pos++

		switch {
		case ann.kind == paramFrom:
			if ann.ref == nil {
				return nil, errInvalidCallback(label, fmt.Sprintf("parameter %d: From needs a node or a type", i), nil)
			}
			b.kind, b.input = bindInput, len(inputs)
			inputs = append(inputs, ann.ref)

		case ann.kind == paramAuto, total:
			b.kind, b.input = bindInput, len(inputs)
			inputs = append(inputs, TypeRef{Tag: TagFor(p.Type)})

		case ann.kind == paramDefault:
			v, err := ireflect.Coerce(ann.value, p.Type)
			if err != nil {
				return nil, errInvalidCallback(label, fmt.Sprintf("parameter %d: invalid default", i), err)
			}
			b.kind, b.value = bindValue, v

		default:
			return nil, errInvalidCallback(
				label,
				fmt.Sprintf("parameter %d (%s) has no injection annotation", i, p.Type),
				nil,
			)
		}
	}

	if len(cfg.params) > pos {
		return nil, errInvalidCallback(
			label,
			fmt.Sprintf("%d annotations for %d injectable parameters", len(cfg.params), pos),
			nil,
		)
	}

	n := &Node{
		id:       cfg.id,
		label:    label,
		optional: cfg.optional,
		priority: cfg.priority,
		inputs:   append(inputs, cfg.inputs...),
		invoke:   bindingInvoker(sig, bindings),
	}
	switch {
	case cfg.produces != nil:
		n.produces = *cfg.produces
	case sig.Result != nil:
		n.produces = TagFor(sig.Result)
	}
	if n.label == "" {
		n.label = "node-" + n.id.String()[:8]
	}
	return n, nil
}

func bindingInvoker(sig *ireflect.Signature, bindings []binding) invoker {
	return func(ctx context.Context, args []any) (any, error) {
		in := make([]reflect.Value, len(bindings))
		for i, b := range bindings {
			switch b.kind {
			case bindContext:
				in[i] = reflect.ValueOf(ctx)
			case bindValue:
				in[i] = b.value
			case bindInput:
				v, err := ireflect.Coerce(args[b.input], b.typ)
				if err != nil {
					return nil, fmt.Errorf("parameter %d: %w", i, err)
				}
				in[i] = v
			}
		}
		return sig.Call(in)
	}
}
