package scheduler

import (
	"context"
	"sort"
	"sync"
)

// Registry holds the services of every enabled source.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service
}

func NewRegistry() *Registry {
	return &Registry{services: make(map[string]*Service)}
}

// Add registers s, replacing any service with the same name.
func (r *Registry) Add(s *Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[s.Name()] = s
}

func (r *Registry) Get(name string) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[name]
	return s, ok
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.services))
	for n := range r.services {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) StartAll(ctx context.Context) {
	for _, n := range r.Names() {
		s, _ := r.Get(n)
		s.Start(ctx)
	}
}

// StopAll stops every service and waits for their loops to exit.
func (r *Registry) StopAll() {
	names := r.Names()
	for _, n := range names {
		s, _ := r.Get(n)
		s.Stop()
	}
	for _, n := range names {
		s, _ := r.Get(n)
		s.Wait()
	}
}
