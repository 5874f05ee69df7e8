package registry

import (
	"context"
	"testing"
	"time"

	"github.com/juju/errors"
)

func TestStaticRegisterAndDiscover(t *testing.T) {
	reg := NewStaticRegistry()
	ctx := context.Background()

	if _, err := reg.Discover(ctx, "UserService"); !errors.IsNotFound(err) {
		t.Fatalf("expect not found on an empty registry, got %v", err)
	}

	reg.Register(ctx, "UserService", ServiceInstance{Addr: "127.0.0.1:8001", Weight: 1}, 10)
	reg.Register(ctx, "UserService", ServiceInstance{Addr: "127.0.0.1:8002", Weight: 1}, 10)
	// Re-registering an address replaces it instead of duplicating it.
	reg.Register(ctx, "UserService", ServiceInstance{Addr: "127.0.0.1:8001", Weight: 7}, 10)

	instances, err := reg.Discover(ctx, "UserService")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %v", instances)
	}

	instances[0].Addr = "mutated"
	again, _ := reg.Discover(ctx, "UserService")
	for _, inst := range again {
		if inst.Addr == "mutated" {
			t.Fatal("Discover must return a copy")
		}
	}

	reg.Deregister(ctx, "UserService", "127.0.0.1:8002")
	instances, _ = reg.Discover(ctx, "UserService")
	if len(instances) != 1 || instances[0].Weight != 7 {
		t.Fatalf("unexpected instances after deregister: %v", instances)
	}

	if err := reg.Register(ctx, "UserService", ServiceInstance{}, 10); !errors.IsNotValid(err) {
		t.Fatalf("expect not valid for an empty address, got %v", err)
	}
}

func TestStaticWatch(t *testing.T) {
	reg := NewStaticRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	updates := reg.Watch(ctx, "UserService")
	reg.Register(ctx, "UserService", ServiceInstance{Addr: "127.0.0.1:8001"}, 10)

	select {
	case insts := <-updates:
		if len(insts) != 1 || insts[0].Addr != "127.0.0.1:8001" {
			t.Fatalf("unexpected update %v", insts)
		}
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}

	cancel()
	select {
	case _, ok := <-updates:
		for ok {
			_, ok = <-updates
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}
