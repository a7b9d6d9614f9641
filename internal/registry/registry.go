// Package registry is the durable set of codes that have been dispensed or
// discarded. Registration happens inside a UnitOfWork so a fulfillment run
// either commits all of its codes or none of them.
package registry

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"sync"
)

var (
	ErrClosed           = errors.New("registry: closed")
	ErrDone             = errors.New("registry: unit of work already finished")
	ErrUnknownSavepoint = errors.New("registry: unknown savepoint")
	ErrInvalidSavepoint = errors.New("registry: invalid savepoint name")
)

// Registry is the consumption registry.
type Registry interface {
	// Begin opens a unit of work. Every registration goes through one.
	Begin(ctx context.Context) (UnitOfWork, error)
	// ReadAll returns every registered code. Registrations that are not yet
	// committed may or may not be included.
	ReadAll(ctx context.Context) (Snapshot, error)
	// Release removes codes so their units can be dispensed again, returning
	// the codes that were present.
	Release(ctx context.Context, codes []string) ([]string, error)
	Close() error
}

// UnitOfWork groups registrations. Exactly one concurrent caller observes
// true from RegisterIfNew for a given code.
type UnitOfWork interface {
	RegisterIfNew(ctx context.Context, code string) (bool, error)
	// Savepoint marks the current state under name.
	Savepoint(ctx context.Context, name string) error
	// RollbackTo undoes registrations made since the named savepoint. The
	// savepoint stays valid.
	RollbackTo(ctx context.Context, name string) error
	Commit() error
	// Rollback undoes every registration of the unit. It is a no-op on a
	// finished unit.
	Rollback() error
}

// Snapshot is a point-in-time set of registered codes.
type Snapshot map[string]struct{}

func (s Snapshot) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// Sorted returns the codes in lexical order.
func (s Snapshot) Sorted() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

var reSavepoint = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkSavepoint(name string) error {
	if !reSavepoint.MatchString(name) {
		return ErrInvalidSavepoint
	}
	return nil
}

// compensator is a store without transactions. Undo is done by removing what
// the unit inserted.
type compensator interface {
	insertIfAbsent(ctx context.Context, code string) (bool, error)
	remove(ctx context.Context, codes []string) error
}

// compensatingUnit implements UnitOfWork over a compensator. Codes become
// visible to other units as soon as they are inserted. A crash between insert
// and rollback leaves them registered.
type compensatingUnit struct {
	store compensator

	mu      sync.Mutex
	created []string
	marks   map[string]int
	done    bool
}

func newCompensatingUnit(store compensator) *compensatingUnit {
	return &compensatingUnit{store: store, marks: make(map[string]int)}
}

func (u *compensatingUnit) RegisterIfNew(ctx context.Context, code string) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return false, ErrDone
	}
	inserted, err := u.store.insertIfAbsent(ctx, code)
	if err != nil {
		return false, err
	}
	if inserted {
		u.created = append(u.created, code)
	}
	return inserted, nil
}

func (u *compensatingUnit) Savepoint(_ context.Context, name string) error {
	if err := checkSavepoint(name); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return ErrDone
	}
	u.marks[name] = len(u.created)
	return nil
}

func (u *compensatingUnit) RollbackTo(ctx context.Context, name string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return ErrDone
	}
	mark, ok := u.marks[name]
	if !ok {
		return ErrUnknownSavepoint
	}
	if err := u.store.remove(ctx, u.created[mark:]); err != nil {
		return err
	}
	u.created = u.created[:mark]
	for n, m := range u.marks {
		if m > mark {
			delete(u.marks, n)
		}
	}
	return nil
}

func (u *compensatingUnit) Commit() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return ErrDone
	}
	u.done = true
	return nil
}

func (u *compensatingUnit) Rollback() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return nil
	}
	u.done = true
	return u.store.remove(context.Background(), u.created)
}
