package userservice

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"user-rpc/client"
	"user-rpc/codec"
	"user-rpc/loadbalance"
	"user-rpc/model"
	"user-rpc/registry"
	"user-rpc/server"
)

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"":          ModeManual,
		"manual":    ModeManual,
		"automatic": ModeAutomatic,
		"multiple":  ModeMultiple,
	} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}

	_, err := ParseMode("magic")
	if err == nil || err.Error() != "unknown mode: magic. Use: manual, automatic, or multiple" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestBuildServiceHandler(t *testing.T) {
	h := NewHandler(NewSampleStore(testclock.NewClock(epoch)), nil, nil)
	for _, mode := range []Mode{ModeManual, ModeAutomatic, ModeMultiple} {
		t.Run(string(mode), func(t *testing.T) {
			svc, err := BuildServiceHandler(mode, DefaultServiceName, codec.CodecTypeJSON, h)
			if err != nil {
				t.Fatal(err)
			}
			if svc.Name() != DefaultServiceName {
				t.Fatalf("unexpected service name %s", svc.Name())
			}
			names := svc.MethodNames()
			if len(names) != 1 || names[0] != mode.MethodName() {
				t.Fatalf("expect method %s, got %v", mode.MethodName(), names)
			}
			m, _ := svc.Method(mode.MethodName())
			if m.ReturnType() != server.TypeOf[*model.UserListResponse]() {
				t.Fatalf("unexpected return type %s", m.ReturnType())
			}
			if mode == ModeAutomatic {
				return
			}
			if pt := m.ParamTypes(); len(pt) != 1 || pt[0] != server.TypeOf[WireRequest]() {
				t.Fatalf("unexpected parameter types %v", pt)
			}
		})
	}

	if _, err := BuildServiceHandler(Mode("other"), DefaultServiceName, codec.CodecTypeJSON, h); err == nil {
		t.Fatal("expect error for unknown mode")
	}
}

// serve publishes the sample service in mode and returns a client bound to it.
func serve(t *testing.T, mode Mode, ct codec.CodecType) *client.Client {
	t.Helper()
	clk := testclock.NewClock(epoch)
	svc, err := BuildServiceHandler(mode, DefaultServiceName, ct, NewHandler(NewSampleStore(clk), clk, nil))
	if err != nil {
		t.Fatal(err)
	}
	svr := server.NewServer()
	if err := svr.Register(svc); err != nil {
		t.Fatal(err)
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.NewStaticRegistry()
	go svr.Serve(lis, lis.Addr().String(), reg)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	deadline := time.Now().Add(time.Second)
	for {
		if _, err := reg.Discover(context.Background(), DefaultServiceName); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("service was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c := client.NewClient(reg, loadbalance.NewConsistentHashBalancer(), ct)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRoundTrip(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		for _, mode := range []Mode{ModeManual, ModeAutomatic, ModeMultiple} {
			t.Run(string(mode)+"/"+ct.String(), func(t *testing.T) {
				c := serve(t, mode, ct)
				call := c.Unary(DefaultServiceName, mode.MethodName(),
					client.WithReturnType(server.TypeOf[model.UserListResponse]()))
				stub := NewUserServiceStub(call, nil)

				resp, err := stub.ListUsers(context.Background(), model.UserRequest{Name: "dubbo-python", Age: 18})
				if err != nil {
					t.Fatal(err)
				}
				if resp.Greeting != "Hello dubbo-python (age 18)!" {
					t.Fatalf("unexpected greeting %q", resp.Greeting)
				}
				if resp.TotalCount != 2 || len(resp.Users) != 2 {
					t.Fatalf("expect 2 users, got %d/%d", resp.TotalCount, len(resp.Users))
				}
				if !resp.GeneratedAt.Equal(epoch) {
					t.Fatalf("unexpected generated_at %v", resp.GeneratedAt)
				}
				alice := resp.Users[0]
				if alice.Name != "Alice" || len(alice.LoginHistory) != 2 || alice.Meta.Scores != (model.Scores{88, 92, 85}) {
					t.Fatalf("unexpected user %+v", alice)
				}
			})
		}
	}
}

func TestRoundTripLooseReply(t *testing.T) {
	c := serve(t, ModeManual, codec.CodecTypeJSON)
	stub := NewUserServiceStub(c.Unary(DefaultServiceName, ModeManual.MethodName()), nil)

	resp, err := stub.ListUsers(context.Background(), model.UserRequest{Name: "dubbo-python", Age: 18})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Greeting != "Hello dubbo-python (age 18)!" || !resp.Consistent() {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !resp.Users[1].Meta.Tags.Has("tester") {
		t.Fatalf("unexpected tags for %+v", resp.Users[1])
	}
}

func TestRoundTripWrongMethod(t *testing.T) {
	c := serve(t, ModeMultiple, codec.CodecTypeJSON)
	stub := NewUserServiceStub(c.Unary(DefaultServiceName, ModeManual.MethodName()), nil)

	_, err := stub.ListUsers(context.Background(), model.UserRequest{Name: "dubbo-python", Age: 18})
	cerr, ok := err.(*CallError)
	if !ok || cerr.Op != "invoke" {
		t.Fatalf("expect an invoke CallError, got %v", err)
	}
}

// Every mode must read the same payload the same way, whatever its shape.
func TestRoundTripRawPayloads(t *testing.T) {
	cases := []struct {
		name     string
		payload  string
		greeting string
	}{
		{"argument list", `[{"name":"x","age":18}]`, "Hello x (age 18)!"},
		{"envelope", `[{"__model_data__":{"name":"x","age":18}}]`, "Hello x (age 18)!"},
		{"bare envelope", `{"__model_data__":{"name":"x","age":18}}`, "Hello x (age 18)!"},
		{"bare object", `{"name":"x","age":18}`, "Hello x (age 18)!"},
		{"loose age", `[{"name":"x","age":"18"}]`, "Hello x (age 18)!"},
		{"extra arguments", `[{"name":"x","age":18},{"name":"y","age":1}]`, "Hello x (age 18)!"},
		{"empty list", `[]`, "Hello Unknown (age 0)!"},
		{"missing fields", `[{}]`, "Hello Unknown (age 0)!"},
		{"null argument", `[null]`, "Hello Unknown (age 0)!"},
		{"fractional age", `[{"name":"x","age":18.9}]`, "Hello Unknown (age 0)!"},
		{"string", `"garbage"`, "Hello Unknown (age 0)!"},
	}
	for _, mode := range []Mode{ModeManual, ModeAutomatic, ModeMultiple} {
		t.Run(string(mode), func(t *testing.T) {
			c := serve(t, mode, codec.CodecTypeJSON)
			for _, tc := range cases {
				t.Run(tc.name, func(t *testing.T) {
					reply, err := c.Call(context.Background(), DefaultServiceName, mode.MethodName(), []byte(tc.payload))
					if err != nil {
						t.Fatalf("expect no error, got %v", err)
					}
					var resp model.UserListResponse
					if err := codec.Payload.Decode(reply, &resp); err != nil {
						t.Fatal(err)
					}
					if resp.Greeting != tc.greeting {
						t.Fatalf("expect %q, got %q", tc.greeting, resp.Greeting)
					}
					if resp.TotalCount != 2 {
						t.Fatalf("expect 2 users, got %d", resp.TotalCount)
					}
				})
			}
		})
	}
}
