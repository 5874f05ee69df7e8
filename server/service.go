package server

import (
	"context"
	"encoding/json"
	"reflect"
	"runtime"
	"strings"
	"unicode"

	"github.com/juju/errors"

	"user-rpc/codec"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// MethodHandler binds a method name to a unary function and its signature.
type MethodHandler struct {
	name       string
	fn         reflect.Value
	paramTypes []reflect.Type // Types payload elements are decoded into
	returnType reflect.Type
	codec      codec.CodecType
	raw        bool // Pass the whole decoded payload to a single interface parameter
}

// Name returns the method name the handler is registered under.
func (m *MethodHandler) Name() string { return m.name }

// Codec returns the frame codec the method accepts.
func (m *MethodHandler) Codec() codec.CodecType { return m.codec }

// ParamTypes returns the declared or inferred parameter types.
func (m *MethodHandler) ParamTypes() []reflect.Type { return append([]reflect.Type(nil), m.paramTypes...) }

// ReturnType returns the declared or inferred reply type.
func (m *MethodHandler) ReturnType() reflect.Type { return m.returnType }

type methodOptions struct {
	name       string
	paramTypes []reflect.Type
	returnType reflect.Type
	codec      codec.CodecType
}

// MethodOption adjusts how Unary registers a function.
type MethodOption func(*methodOptions)

// WithMethodName registers the method under name instead of the function's own name.
func WithMethodName(name string) MethodOption {
	return func(o *methodOptions) { o.name = name }
}

// WithParamTypes declares the types the payload is decoded into. Each type
// must be assignable to the matching function parameter. When a single type
// is declared and the payload is not a one-element array, the whole payload
// is decoded into it.
func WithParamTypes(types ...reflect.Type) MethodOption {
	return func(o *methodOptions) { o.paramTypes = types }
}

// WithReturnType declares the reply type. The function's result must be
// assignable to it.
func WithReturnType(t reflect.Type) MethodOption {
	return func(o *methodOptions) { o.returnType = t }
}

// WithCodec sets the frame codec the method accepts. Defaults to JSON.
func WithCodec(c codec.CodecType) MethodOption {
	return func(o *methodOptions) { o.codec = c }
}

// TypeOf returns the reflect.Type of T, for use with WithParamTypes and WithReturnType.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Unary builds a handler for fn, which must have the form
//
//	func(ctx context.Context, p1 P1, ..., pn Pn) (R, error)
//
// Anything not declared through options is inferred from fn: the method name
// from the function name, the parameter and return types from its signature.
func Unary(fn any, opts ...MethodOption) (*MethodHandler, error) {
	o := methodOptions{codec: codec.CodecTypeJSON}
	for _, opt := range opts {
		opt(&o)
	}

	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return nil, errors.NotValidf("unary handler of type %T", fn)
	}
	ft := fv.Type()
	if ft.NumIn() < 1 || ft.In(0) != contextType {
		return nil, errors.NotValidf("unary handler %s: first parameter must be context.Context", ft)
	}
	if ft.NumOut() != 2 || ft.Out(1) != errorType {
		return nil, errors.NotValidf("unary handler %s: must return (R, error)", ft)
	}
	if ft.IsVariadic() {
		return nil, errors.NotValidf("unary handler %s: variadic parameters", ft)
	}

	m := &MethodHandler{
		name:  o.name,
		fn:    fv,
		codec: o.codec,
	}

	if m.name == "" {
		m.name = funcName(fv)
		if m.name == "" {
			return nil, errors.NotValidf("unary handler %s: cannot infer a method name", ft)
		}
	}

	fnParams := make([]reflect.Type, ft.NumIn()-1)
	for i := range fnParams {
		fnParams[i] = ft.In(i + 1)
	}
	switch {
	case o.paramTypes != nil:
		if len(o.paramTypes) != len(fnParams) {
			return nil, errors.NotValidf("method %s: %d declared parameter types for %d parameters",
				m.name, len(o.paramTypes), len(fnParams))
		}
		for i, t := range o.paramTypes {
			if !t.AssignableTo(fnParams[i]) {
				return nil, errors.NotValidf("method %s: parameter %d type %s (declared %s)", m.name, i, fnParams[i], t)
			}
		}
		m.paramTypes = o.paramTypes
	default:
		m.paramTypes = fnParams
		m.raw = len(fnParams) == 1 && fnParams[0].Kind() == reflect.Interface
	}

	m.returnType = ft.Out(0)
	if o.returnType != nil {
		if !ft.Out(0).AssignableTo(o.returnType) {
			return nil, errors.NotValidf("method %s: return type %s (declared %s)", m.name, ft.Out(0), o.returnType)
		}
		m.returnType = o.returnType
	}
	return m, nil
}

// funcName infers a method name from a function value. Method values are
// reported by the runtime as "pkg.(*T).Name-fm"; only "Name" is kept.
func funcName(fv reflect.Value) string {
	f := runtime.FuncForPC(fv.Pointer())
	if f == nil {
		return ""
	}
	name := strings.TrimSuffix(f.Name(), "-fm")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	// Closures are named "func1", "func2", ...
	if name == "" || !unicode.IsLetter(rune(name[0])) || strings.HasPrefix(name, "func") && strings.Trim(name[4:], "0123456789") == "" {
		return ""
	}
	return name
}

// decodeArgs turns a JSON payload into call arguments.
func (m *MethodHandler) decodeArgs(payload []byte) ([]reflect.Value, error) {
	if m.raw {
		var v any
		if len(payload) > 0 {
			if err := codec.Payload.Decode(payload, &v); err != nil {
				return nil, errors.NotValidf("payload for %s: %v", m.name, err)
			}
		}
		arg := reflect.New(m.paramTypes[0]).Elem()
		if v != nil {
			rv := reflect.ValueOf(v)
			if !rv.Type().AssignableTo(arg.Type()) {
				return nil, errors.NotValidf("payload for %s: %s is not a %s", m.name, rv.Type(), arg.Type())
			}
			arg.Set(rv)
		}
		return []reflect.Value{arg}, nil
	}

	var elems []json.RawMessage
	if len(payload) > 0 {
		if err := codec.Payload.Decode(payload, &elems); err != nil {
			if len(m.paramTypes) != 1 {
				return nil, errors.NotValidf("payload for %s: %v", m.name, err)
			}
			elems = nil
		}
	}
	if len(elems) != len(m.paramTypes) {
		// A single parameter may also be sent bare, or as an argument list
		// of the wrong length; its type then decodes the whole payload.
		if len(m.paramTypes) != 1 || len(payload) == 0 {
			return nil, errors.NotValidf("payload for %s: %d arguments, want %d", m.name, len(elems), len(m.paramTypes))
		}
		elems = []json.RawMessage{payload}
	}
	args := make([]reflect.Value, len(elems))
	for i, t := range m.paramTypes {
		ptr := reflect.New(t)
		if err := codec.Payload.Decode(elems[i], ptr.Interface()); err != nil {
			return nil, errors.NotValidf("argument %d of %s: %v", i, m.name, err)
		}
		args[i] = ptr.Elem()
	}
	return args, nil
}

// call invokes the handler and returns its reply and error.
func (m *MethodHandler) call(ctx context.Context, args []reflect.Value) (any, error) {
	in := make([]reflect.Value, 0, len(args)+1)
	in = append(in, reflect.ValueOf(ctx))
	in = append(in, args...)
	out := m.fn.Call(in)
	if errv := out[1]; !errv.IsNil() {
		return nil, errv.Interface().(error)
	}
	return out[0].Interface(), nil
}

// ServiceHandler groups the methods served under one service name.
type ServiceHandler struct {
	name    string
	methods map[string]*MethodHandler
}

// NewServiceHandler groups methods under name. Method names must be unique.
func NewServiceHandler(name string, methods ...*MethodHandler) (*ServiceHandler, error) {
	if name == "" {
		return nil, errors.NotValidf("empty service name")
	}
	s := &ServiceHandler{name: name, methods: make(map[string]*MethodHandler, len(methods))}
	for _, m := range methods {
		if _, dup := s.methods[m.name]; dup {
			return nil, errors.AlreadyExistsf("method %s in service %s", m.name, name)
		}
		s.methods[m.name] = m
	}
	return s, nil
}

// Name returns the service name.
func (s *ServiceHandler) Name() string { return s.name }

// Method looks up a method by name.
func (s *ServiceHandler) Method(name string) (*MethodHandler, bool) {
	m, ok := s.methods[name]
	return m, ok
}

// MethodNames returns the registered method names in no particular order.
func (s *ServiceHandler) MethodNames() []string {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	return names
}
