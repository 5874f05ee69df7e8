package userservice

import (
	"encoding/json"
	"testing"

	"github.com/juju/errors"

	"user-rpc/model"
)

type foreignRequest struct {
	Name  string `json:"name"`
	Age   int    `json:"age"`
	Extra bool
}

type bareRequest struct {
	Name string
	Age  int
}

func TestPayloadOf(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"typed", model.UserRequest{Name: "a", Age: 1}, "typed"},
		{"pointer", &model.UserRequest{Name: "a", Age: 1}, "typed"},
		{"nil pointer", (*model.UserRequest)(nil), "opaque"},
		{"mapping", map[string]any{"name": "a"}, "mapping"},
		{"string mapping", map[string]string{"name": "a"}, "mapping"},
		{"sequence", []any{1}, "sequence"},
		{"typed sequence", []model.UserRequest{{Name: "a"}}, "sequence"},
		{"bytes", []byte(`{}`), "opaque"},
		{"string", `{}`, "opaque"},
		{"struct", bareRequest{}, "opaque"},
		{"nil", nil, "opaque"},
		{"number", 42, "opaque"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			switch PayloadOf(tc.in).(type) {
			case TypedPayload:
				got = "typed"
			case MappingPayload:
				got = "mapping"
			case SequencePayload:
				got = "sequence"
			case OpaquePayload:
				got = "opaque"
			}
			if got != tc.want {
				t.Fatalf("PayloadOf(%#v) is %s, expect %s", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	want := model.UserRequest{Name: "dubbo-python", Age: 18}
	cases := []struct {
		name string
		in   any
	}{
		{"typed", want},
		{"pointer", &want},
		{"mapping", map[string]any{"name": "dubbo-python", "age": float64(18)}},
		{"mapping with extra keys", map[string]any{"name": "dubbo-python", "age": 18, "city": "x"}},
		{"loose age", map[string]any{"name": "dubbo-python", "age": "18"}},
		{"envelope", map[string]any{EnvelopeKey: map[string]any{"name": "dubbo-python", "age": 18}}},
		{"sequence of mapping", []any{map[string]any{"name": "dubbo-python", "age": 18}}},
		{"sequence of envelope", []any{map[string]any{EnvelopeKey: map[string]any{"name": "dubbo-python", "age": 18}}}},
		{"sequence of typed", []any{want}},
		{"raw json", json.RawMessage(`{"name":"dubbo-python","age":18}`)},
		{"json bytes", []byte(`[{"name":"dubbo-python","age":18}]`)},
		{"json string", `{"__model_data__":{"name":"dubbo-python","age":18}}`},
		{"tagged struct", foreignRequest{Name: "dubbo-python", Age: 18, Extra: true}},
		{"bare struct", &bareRequest{Name: "dubbo-python", Age: 18}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(PayloadOf(tc.in))
			if err != nil {
				t.Fatal(err)
			}
			if got != want {
				t.Fatalf("expect %+v, got %+v", want, got)
			}
		})
	}
}

func TestNormalizeEmptySequence(t *testing.T) {
	got, err := Normalize(PayloadOf([]any{}))
	if err != nil {
		t.Fatalf("empty sequence is not an error, got %v", err)
	}
	if got != DefaultRequest() {
		t.Fatalf("expect default request, got %+v", got)
	}
}

func TestNormalizeFallsBackToDefault(t *testing.T) {
	cases := []struct {
		name string
		in   any
	}{
		{"garbage mapping", map[string]any{"foo": "bar"}},
		{"missing age", map[string]any{"name": "x"}},
		{"null age", map[string]any{"name": "x", "age": nil}},
		{"bad age", map[string]any{"name": "x", "age": "old"}},
		{"fractional age", map[string]any{"name": "x", "age": 18.9}},
		{"fractional age string", map[string]any{"name": "x", "age": "18.9"}},
		{"upper-case key", map[string]any{"NAME": "x", "age": 18}},
		{"undecoded wire request", WireRequest{}},
		{"envelope not a mapping", map[string]any{EnvelopeKey: "x"}},
		{"sequence of garbage", []any{42}},
		{"not json", "hello"},
		{"nil", nil},
		{"number", 42},
		{"nil pointer", (*model.UserRequest)(nil)},
		{"struct without fields", struct{ X int }{1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(PayloadOf(tc.in))
			if got != DefaultRequest() {
				t.Fatalf("expect default request, got %+v", got)
			}
			var nerr *NormalizeError
			if !errors.As(err, &nerr) {
				t.Fatalf("expect *NormalizeError, got %T (%v)", err, err)
			}
		})
	}
}

func TestNormalizeNestingLimit(t *testing.T) {
	var v any = map[string]any{"name": "deep", "age": 1}
	for i := 0; i < 2*maxNesting; i++ {
		v = []any{v}
	}
	got, err := Normalize(PayloadOf(v))
	if err == nil || got != DefaultRequest() {
		t.Fatalf("expect nesting error with default request, got %+v, %v", got, err)
	}
}

func TestWireRequestUnmarshal(t *testing.T) {
	want := model.UserRequest{Name: "dubbo-python", Age: 18}
	cases := []struct {
		name    string
		data    string
		want    model.UserRequest
		wantErr bool
	}{
		{"object", `{"name":"dubbo-python","age":18}`, want, false},
		{"envelope", `{"__model_data__":{"name":"dubbo-python","age":18}}`, want, false},
		{"loose age", `{"name":"dubbo-python","age":"18"}`, want, false},
		{"argument list", `[{"name":"dubbo-python","age":18}]`, want, false},
		{"empty list", `[]`, DefaultRequest(), false},
		{"missing fields", `{}`, DefaultRequest(), true},
		{"null", `null`, DefaultRequest(), true},
		{"number", `7`, DefaultRequest(), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var w WireRequest
			if err := json.Unmarshal([]byte(tc.data), &w); err != nil {
				t.Fatalf("unmarshal must not fail, got %v", err)
			}
			got, err := Normalize(PayloadOf(w))
			if got != tc.want {
				t.Fatalf("expect %+v, got %+v", tc.want, got)
			}
			if (err != nil) != tc.wantErr {
				t.Fatalf("expect error %t, got %v", tc.wantErr, err)
			}
		})
	}
}
