package userservice

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/juju/errors"
	"github.com/mitchellh/mapstructure"

	"user-rpc/codec"
	"user-rpc/model"
)

// EnvelopeKey marks a mapping whose request fields are nested one level down.
const EnvelopeKey = "__model_data__"

// maxNesting bounds how many times a payload may be unwrapped.
const maxNesting = 8

// DefaultRequest is used when a payload carries no request at all, or one
// that cannot be read.
func DefaultRequest() model.UserRequest {
	return model.UserRequest{Name: "Unknown", Age: 0}
}

// Payload is the shape a list-users argument arrived in. It is one of
// TypedPayload, MappingPayload, SequencePayload, OpaquePayload or an already
// normalized WireRequest.
type Payload interface {
	payload()
}

// TypedPayload is an already decoded request.
type TypedPayload struct {
	Request model.UserRequest
}

// MappingPayload is a decoded JSON object.
type MappingPayload struct {
	Fields map[string]any
}

// SequencePayload is a decoded JSON array, usually the argument list itself.
type SequencePayload struct {
	Items []any
}

// OpaquePayload is anything else: raw JSON, foreign structs, scalars.
type OpaquePayload struct {
	Value any
}

// WireRequest is a request argument normalized while it is decoded. It is
// the declared parameter type of the explicitly typed registrations, so
// every mode reads requests the same way.
type WireRequest struct {
	Request model.UserRequest
	Err     error // Set when the argument could not be read

	decoded bool
}

// UnmarshalJSON accepts any JSON value and never fails.
func (w *WireRequest) UnmarshalJSON(data []byte) error {
	var v any
	if err := codec.Payload.Decode(data, &v); err != nil {
		w.Request, w.Err = DefaultRequest(), &NormalizeError{Value: string(data), Err: errors.Annotate(err, "parsing payload")}
	} else {
		w.Request, w.Err = Normalize(PayloadOf(v))
	}
	w.decoded = true
	return nil
}

func (TypedPayload) payload()    {}
func (MappingPayload) payload()  {}
func (SequencePayload) payload() {}
func (OpaquePayload) payload()   {}
func (WireRequest) payload()     {}

// PayloadOf classifies v.
func PayloadOf(v any) Payload {
	switch x := v.(type) {
	case Payload:
		return x
	case model.UserRequest:
		return TypedPayload{Request: x}
	case *model.UserRequest:
		if x != nil {
			return TypedPayload{Request: *x}
		}
		return OpaquePayload{Value: v}
	case map[string]any:
		return MappingPayload{Fields: x}
	case []any:
		return SequencePayload{Items: x}
	case []byte, json.RawMessage, string, nil:
		return OpaquePayload{Value: v}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		fields := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			fields[iter.Key().String()] = iter.Value().Interface()
		}
		return MappingPayload{Fields: fields}
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return SequencePayload{Items: items}
	}
	return OpaquePayload{Value: v}
}

// NormalizeError reports a payload that could not be read as a request.
type NormalizeError struct {
	Value any
	Err   error
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("cannot read %T as a user request: %v", e.Value, e.Err)
}

func (e *NormalizeError) Unwrap() error { return e.Err }

// Normalize resolves p into a request.
//
//   - A sequence resolves to its first element, or to DefaultRequest when empty.
//   - A mapping is read from its EnvelopeKey entry when present, otherwise from
//     its own fields; name and age must both be present.
//   - A typed request is returned unchanged.
//   - Opaque values are parsed as JSON when they are bytes or strings and
//     read field by field when they are structs.
//
// Normalize always returns a usable request. When the payload cannot be read
// it returns DefaultRequest together with a *NormalizeError.
func Normalize(p Payload) (model.UserRequest, error) {
	return normalize(p, maxNesting)
}

func normalize(p Payload, depth int) (model.UserRequest, error) {
	if depth == 0 {
		return DefaultRequest(), &NormalizeError{Value: p, Err: errors.New("payload nested too deeply")}
	}
	switch p := p.(type) {
	case TypedPayload:
		return p.Request, nil
	case WireRequest:
		if !p.decoded {
			return DefaultRequest(), &NormalizeError{Value: p, Err: errors.NotValidf("undecoded wire request")}
		}
		return p.Request, p.Err
	case SequencePayload:
		if len(p.Items) == 0 {
			return DefaultRequest(), nil
		}
		return normalize(PayloadOf(p.Items[0]), depth-1)
	case MappingPayload:
		fields := p.Fields
		if nested, ok := fields[EnvelopeKey]; ok {
			inner, ok := PayloadOf(nested).(MappingPayload)
			if !ok {
				return DefaultRequest(), &NormalizeError{Value: p.Fields, Err: errors.NotValidf("%s of type %T", EnvelopeKey, nested)}
			}
			fields = inner.Fields
		}
		req, err := fromMapping(fields)
		if err != nil {
			return DefaultRequest(), &NormalizeError{Value: p.Fields, Err: err}
		}
		return req, nil
	case OpaquePayload:
		return fromOpaque(p.Value, depth)
	}
	return DefaultRequest(), &NormalizeError{Value: p, Err: errors.NotSupportedf("payload %T", p)}
}

// fromMapping decodes a request from JSON-like fields. Both keys must be
// spelled exactly "name" and "age". Numbers given as strings are accepted,
// but an age with a fractional part is not.
func fromMapping(fields map[string]any) (model.UserRequest, error) {
	var req model.UserRequest
	for _, key := range []string{"name", "age"} {
		if v, ok := fields[key]; !ok || v == nil {
			return req, errors.NotFoundf("field %q", key)
		}
	}
	if age, ok := fields["age"].(float64); ok && age != math.Trunc(age) {
		return req, errors.NotValidf("age %v", age)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &req,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		MatchName:        func(mapKey, fieldName string) bool { return mapKey == fieldName },
	})
	if err != nil {
		return req, errors.Trace(err)
	}
	if err := dec.Decode(fields); err != nil {
		return req, errors.Annotate(err, "decoding request fields")
	}
	return req, nil
}

func fromOpaque(v any, depth int) (model.UserRequest, error) {
	var raw []byte
	switch x := v.(type) {
	case nil:
		return DefaultRequest(), &NormalizeError{Value: v, Err: errors.NotValidf("nil payload")}
	case []byte:
		raw = x
	case json.RawMessage:
		raw = x
	case string:
		raw = []byte(x)
	}
	if raw != nil {
		var decoded any
		if err := codec.Payload.Decode(raw, &decoded); err != nil {
			return DefaultRequest(), &NormalizeError{Value: v, Err: errors.Annotate(err, "parsing payload")}
		}
		return normalize(PayloadOf(decoded), depth-1)
	}

	rv := reflect.Indirect(reflect.ValueOf(v))
	if rv.Kind() != reflect.Struct {
		return DefaultRequest(), &NormalizeError{Value: v, Err: errors.NotSupportedf("payload of kind %s", rv.Kind())}
	}
	req, err := fromMapping(structFields(rv))
	if err != nil {
		return DefaultRequest(), &NormalizeError{Value: v, Err: err}
	}
	return req, nil
}

// structFields lists the exported fields of a struct under their JSON names,
// falling back to the lower-cased field name.
func structFields(rv reflect.Value) map[string]any {
	fields := make(map[string]any, rv.NumField())
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name := strings.ToLower(f.Name)
		if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag != "" && tag != "-" {
			name = tag
		}
		fields[name] = rv.Field(i).Interface()
	}
	return fields
}
