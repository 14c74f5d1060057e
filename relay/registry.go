package relay

import (
	"context"
	"sync"
)

// Registry tracks live relay sessions so they can be counted and closed
// together on shutdown.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	wg       sync.WaitGroup
}

type entry struct {
	close func(reason string)
	once  sync.Once
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*entry)}
}

// Register adds a session. The returned func removes it and is safe to
// call more than once.
func (r *Registry) Register(id string, closeFn func(reason string)) (unregister func()) {
	if r == nil {
		return func() {}
	}
	e := &entry{close: closeFn}

	r.mu.Lock()
	if r.sessions == nil {
		r.sessions = make(map[string]*entry)
	}
	old := r.sessions[id]
	r.sessions[id] = e
	r.wg.Add(1)
	r.mu.Unlock()
	sessionsActive.Inc()

	if old != nil {
		r.unregister(id, old)
	}
	return func() { r.unregister(id, e) }
}

func (r *Registry) unregister(id string, e *entry) {
	e.once.Do(func() {
		r.mu.Lock()
		if r.sessions[id] == e {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
		sessionsActive.Dec()
		r.wg.Done()
	})
}

func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll asks every registered session to close and returns how many
// were asked.
func (r *Registry) CloseAll(reason string) (closed int) {
	if r == nil {
		return 0
	}
	var closers []func(string)
	r.mu.Lock()
	for _, e := range r.sessions {
		if e.close != nil {
			closers = append(closers, e.close)
		}
	}
	r.mu.Unlock()

	for _, c := range closers {
		c(reason)
		closed++
	}
	return closed
}

// Wait blocks until every session has unregistered or ctx ends. It
// reports whether the registry drained.
func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
