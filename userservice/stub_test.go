package userservice

import (
	"context"
	"testing"
	"time"

	"github.com/juju/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"user-rpc/loadbalance"
	"user-rpc/model"
)

type fakeInvoker struct {
	result any
	err    error
	args   []any
	key    string
}

func (f *fakeInvoker) Invoke(ctx context.Context, args ...any) (any, error) {
	f.args = args
	f.key, _ = loadbalance.HashKey(ctx)
	return f.result, f.err
}

func TestStubTypedReply(t *testing.T) {
	want := model.NewUserListResponse([]model.User{model.NewUser(1, "Alice", "alice@example.com")}, "Hello a (age 1)!", epoch)
	inv := &fakeInvoker{result: want}
	stub := NewUserServiceStub(inv, nil)

	got, err := stub.ListUsers(context.Background(), model.UserRequest{Name: "a", Age: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatal("expect the typed reply to be returned as is")
	}
	if len(inv.args) != 1 || inv.args[0] != (model.UserRequest{Name: "a", Age: 1}) {
		t.Fatalf("unexpected call arguments %#v", inv.args)
	}
	if inv.key != "a" {
		t.Fatalf("expect hash key %q, got %q", "a", inv.key)
	}
}

func TestStubRebuildsMappingReply(t *testing.T) {
	inv := &fakeInvoker{result: map[string]any{
		"users": []any{
			map[string]any{
				"id":            float64(1),
				"name":          "Alice",
				"email":         "alice@example.com",
				"age":           float64(30),
				"created_at":    "2024-03-01T12:00:00Z",
				"uuid":          "6f1c2a8e-3b1d-4d8a-9f7e-2c5b8a9d0e11",
				"login_history": []any{map[string]any{"timestamp": "2024-03-01T11:00:00Z", "ip_address": "192.168.1.10"}},
				"meta":          map[string]any{"tags": []any{"beta", "admin"}, "scores": []any{float64(88), float64(92), float64(85)}},
			},
		},
		"total_count":  float64(1),
		"greeting":     "Hello dubbo-python (age 18)!",
		"generated_at": "2024-03-01T12:00:00Z",
	}}
	stub := NewUserServiceStub(inv, nil)

	resp, err := stub.ListUsers(context.Background(), model.UserRequest{Name: "dubbo-python", Age: 18})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Greeting != "Hello dubbo-python (age 18)!" || resp.TotalCount != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	alice := resp.Users[0]
	if !alice.IsActive {
		t.Fatal("missing is_active must default to true")
	}
	if *alice.Age != 30 || alice.UUID.String() != "6f1c2a8e-3b1d-4d8a-9f7e-2c5b8a9d0e11" {
		t.Fatalf("unexpected user %+v", alice)
	}
	if got := alice.Meta.Tags.Slice(); len(got) != 2 || got[0] != "admin" {
		t.Fatalf("unexpected tags %v", got)
	}
	if !resp.GeneratedAt.Equal(epoch) {
		t.Fatalf("unexpected generated_at %v", resp.GeneratedAt)
	}
}

func TestStubErrors(t *testing.T) {
	cases := []struct {
		name string
		inv  *fakeInvoker
		op   string
	}{
		{"transport", &fakeInvoker{err: errors.New("connection refused")}, "invoke"},
		{"wrong type", &fakeInvoker{result: "hello"}, "decode"},
		{"nil response", &fakeInvoker{result: (*model.UserListResponse)(nil)}, "decode"},
		{"bad mapping", &fakeInvoker{result: map[string]any{"users": "nope"}}, "decode"},
		{"bad scores", &fakeInvoker{result: map[string]any{"users": []any{
			map[string]any{"id": 1, "meta": map[string]any{"scores": []any{1, 2}}},
		}}}, "decode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := NewUserServiceStub(tc.inv, nil)
			_, err := stub.ListUsers(context.Background(), model.UserRequest{Name: "a", Age: 1})
			var cerr *CallError
			if !errors.As(err, &cerr) {
				t.Fatalf("expect *CallError, got %T (%v)", err, err)
			}
			if cerr.Op != tc.op {
				t.Fatalf("expect op %q, got %q", tc.op, cerr.Op)
			}
			if tc.inv.err != nil && cerr.Err != tc.inv.err {
				t.Fatal("expect the cause to be wrapped")
			}
		})
	}
}

func TestStubWarnsOnInconsistentCount(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	inv := &fakeInvoker{result: &model.UserListResponse{TotalCount: 5, GeneratedAt: time.Now()}}
	stub := NewUserServiceStub(inv, zap.New(core))

	if _, err := stub.ListUsers(context.Background(), model.UserRequest{Name: "a", Age: 1}); err != nil {
		t.Fatal(err)
	}
	if logs.FilterMessage("response total_count does not match users").Len() != 1 {
		t.Fatalf("expect a warning, got %v", logs.All())
	}
}
