package reflect

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

var (
	contextType = TypeOf[context.Context]()
	errorType   = TypeOf[error]()
)

var (
	ErrNotAFunction = errors.New("not a function")
	ErrVariadic     = errors.New("variadic functions are not supported")
	ErrResults      = errors.New("function must return (), (T), (error) or (T, error)")
)

type Param struct {
	Index     int
	Type      reflect.Type
	IsContext bool
}

// Signature is the inspected shape of a function used as a node callback.
type Signature struct {
	Name         string
	Params       []Param
	Result       reflect.Type
	ReturnsError bool

	fn reflect.Value
}

func Inspect(fn any) (*Signature, error) {
	if fn == nil {
		return nil, ErrNotAFunction
	}

	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %s", ErrNotAFunction, t)
	}
	if v.IsNil() {
		return nil, ErrNotAFunction
	}
	if t.IsVariadic() {
		return nil, ErrVariadic
	}

	sig := &Signature{
		Name:   FuncName(fn),
		Params: make([]Param, t.NumIn()),
		fn:     v,
	}

	for i := range t.NumIn() {
		in := t.In(i)
		sig.Params[i] = Param{
			Index:     i,
			Type:      in,
			IsContext: in == contextType,
		}
	}

	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			sig.ReturnsError = true
		} else {
			sig.Result = t.Out(0)
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, ErrResults
		}
		sig.Result = t.Out(0)
		sig.ReturnsError = true
	default:
		return nil, ErrResults
	}

	return sig, nil
}

// Call invokes the function. args must hold one value per parameter.
func (s *Signature) Call(args []reflect.Value) (any, error) {
	out := s.fn.Call(args)

	var err error
	if s.ReturnsError {
		if e := out[len(out)-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
	}

	if s.Result == nil {
		return nil, err
	}
	return out[0].Interface(), err
}

// Coerce turns v into a value usable as an argument of type t. A nil v
// becomes the zero value of t.
func Coerce(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}

	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if rv.Type().ConvertibleTo(t) && rv.Kind() == t.Kind() {
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as %s", rv.Type(), t)
}

// FuncName returns the short package-qualified name of a function value,
// e.g. "main.newServer" or "main.run.func1".
func FuncName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}

	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return ""
	}

	name := f.Name()
	if idx := strings.LastIndex(name, "/"); idx != -1 {
		name = name[idx+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}
