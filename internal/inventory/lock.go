package inventory

import "sync"

// keyedMutex hands out one mutex per document name and drops it once no
// goroutine holds or waits for it.
type keyedMutex struct {
	mu   sync.Mutex
	held map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(name string) func() {
	k.mu.Lock()
	e, ok := k.held[name]
	if !ok {
		e = &lockEntry{}
		k.held[name] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.held, name)
		}
		k.mu.Unlock()
	}
}
