package registry

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry is a process-local registry for tests and local runs.
type MemoryRegistry struct {
	mu     sync.Mutex
	codes  map[string]time.Time
	closed bool
}

func NewMemory() *MemoryRegistry {
	return &MemoryRegistry{codes: make(map[string]time.Time)}
}

func (r *MemoryRegistry) Begin(context.Context) (UnitOfWork, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	return newCompensatingUnit(r), nil
}

func (r *MemoryRegistry) ReadAll(context.Context) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	snap := make(Snapshot, len(r.codes))
	for c := range r.codes {
		snap[c] = struct{}{}
	}
	return snap, nil
}

func (r *MemoryRegistry) Release(_ context.Context, codes []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	var released []string
	for _, c := range codes {
		if _, ok := r.codes[c]; ok {
			delete(r.codes, c)
			released = append(released, c)
		}
	}
	return released, nil
}

func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) insertIfAbsent(_ context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, ErrClosed
	}
	if _, ok := r.codes[code]; ok {
		return false, nil
	}
	r.codes[code] = time.Now()
	return true, nil
}

func (r *MemoryRegistry) remove(_ context.Context, codes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range codes {
		delete(r.codes, c)
	}
	return nil
}
