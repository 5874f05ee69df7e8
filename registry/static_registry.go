package registry

import (
	"context"
	"slices"
	"sync"

	"github.com/juju/errors"
)

// StaticRegistry keeps instances in memory. It serves direct references such
// as "tri://127.0.0.1:50051/Service", where no discovery backend is involved.
type StaticRegistry struct {
	mu        sync.RWMutex
	instances map[string][]ServiceInstance
	watchers  map[string][]chan []ServiceInstance
}

// NewStaticRegistry creates an empty registry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		instances: make(map[string][]ServiceInstance),
		watchers:  make(map[string][]chan []ServiceInstance),
	}
}

// Register adds or replaces the instance at instance.Addr. ttl is ignored.
func (r *StaticRegistry) Register(_ context.Context, serviceName string, instance ServiceInstance, _ int64) error {
	if instance.Addr == "" {
		return errors.NotValidf("empty instance address")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	insts := slices.DeleteFunc(slices.Clone(r.instances[serviceName]), func(i ServiceInstance) bool {
		return i.Addr == instance.Addr
	})
	r.instances[serviceName] = append(insts, instance)
	r.notify(serviceName)
	return nil
}

func (r *StaticRegistry) Deregister(_ context.Context, serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[serviceName] = slices.DeleteFunc(slices.Clone(r.instances[serviceName]), func(i ServiceInstance) bool {
		return i.Addr == addr
	})
	r.notify(serviceName)
	return nil
}

// Discover returns a copy of the instances registered for serviceName.
func (r *StaticRegistry) Discover(_ context.Context, serviceName string) ([]ServiceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	insts := r.instances[serviceName]
	if len(insts) == 0 {
		return nil, errors.NotFoundf("service %q", serviceName)
	}
	return slices.Clone(insts), nil
}

// Watch emits the instance list whenever it changes, until ctx is done.
func (r *StaticRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	r.mu.Lock()
	r.watchers[serviceName] = append(r.watchers[serviceName], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		r.watchers[serviceName] = slices.DeleteFunc(r.watchers[serviceName], func(c chan []ServiceInstance) bool {
			return c == ch
		})
		close(ch)
	}()
	return ch
}

// notify must be called with mu held. Slow watchers only see the latest list.
func (r *StaticRegistry) notify(serviceName string) {
	snapshot := slices.Clone(r.instances[serviceName])
	for _, ch := range r.watchers[serviceName] {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
