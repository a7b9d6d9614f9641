package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lllllllleong/labelflow/internal/store"
)

func backends(t *testing.T) map[string]func(t *testing.T) Registry {
	return map[string]func(t *testing.T) Registry{
		"memory": func(t *testing.T) Registry { return NewMemory() },
		"sqlite": func(t *testing.T) Registry {
			ctx := context.Background()
			db, err := store.Open(ctx, filepath.Join(t.TempDir(), "registry.db"), 10*time.Second)
			if err != nil {
				t.Fatalf("store.Open: %v", err)
			}
			t.Cleanup(func() { db.Close() })
			r, err := NewSQLite(ctx, db)
			if err != nil {
				t.Fatalf("NewSQLite: %v", err)
			}
			return r
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, r Registry)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func register(t *testing.T, u UnitOfWork, code string) bool {
	t.Helper()
	ok, err := u.RegisterIfNew(context.Background(), code)
	if err != nil {
		t.Fatalf("RegisterIfNew(%s): %v", code, err)
	}
	return ok
}

func snapshot(t *testing.T, r Registry) Snapshot {
	t.Helper()
	snap, err := r.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return snap
}

func TestRegisterIfNewIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		u, err := r.Begin(ctx)
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		if !register(t, u, "A") {
			t.Error("first registration returned false")
		}
		if register(t, u, "A") {
			t.Error("second registration returned true")
		}
		if err := u.Commit(); err != nil {
			t.Fatalf("Commit: %v", err)
		}

		u2, _ := r.Begin(ctx)
		defer u2.Rollback()
		if register(t, u2, "A") {
			t.Error("committed code registered again")
		}
	})
}

func TestConcurrentRegistrationHasOneWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				u, err := r.Begin(ctx)
				if err != nil {
					errs <- err
					return
				}
				ok, err := u.RegisterIfNew(ctx, "RACE")
				if err != nil {
					u.Rollback()
					errs <- err
					return
				}
				if ok {
					wins.Add(1)
				}
				if err := u.Commit(); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("worker: %v", err)
		}
		if got := wins.Load(); got != 1 {
			t.Errorf("winners = %d, want 1", got)
		}
	})
}

func TestRollbackDiscardsRegistrations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		u, _ := r.Begin(ctx)
		register(t, u, "A")
		if err := u.Rollback(); err != nil {
			t.Fatalf("Rollback: %v", err)
		}
		if snapshot(t, r).Has("A") {
			t.Error("rolled back code is registered")
		}
		if err := u.Rollback(); err != nil {
			t.Errorf("second Rollback: %v", err)
		}
		if err := u.Commit(); !errors.Is(err, ErrDone) {
			t.Errorf("Commit after Rollback = %v, want ErrDone", err)
		}
	})
}

func TestSavepoints(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		u, _ := r.Begin(ctx)
		register(t, u, "A")
		if err := u.Savepoint(ctx, "doc_1"); err != nil {
			t.Fatalf("Savepoint: %v", err)
		}
		register(t, u, "B")
		if err := u.RollbackTo(ctx, "doc_1"); err != nil {
			t.Fatalf("RollbackTo: %v", err)
		}
		register(t, u, "C")
		if !register(t, u, "B") {
			t.Error("code rolled back to savepoint is still registered")
		}
		if err := u.RollbackTo(ctx, "nope"); !errors.Is(err, ErrUnknownSavepoint) {
			t.Errorf("RollbackTo(nope) = %v", err)
		}
		if err := u.Savepoint(ctx, "bad name;"); !errors.Is(err, ErrInvalidSavepoint) {
			t.Errorf("Savepoint(bad) = %v", err)
		}
		if err := u.Commit(); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		snap := snapshot(t, r)
		for _, c := range []string{"A", "B", "C"} {
			if !snap.Has(c) {
				t.Errorf("missing %s", c)
			}
		}
		if len(snap) != 3 {
			t.Errorf("snapshot size = %d, want 3", len(snap))
		}
	})
}

func TestRelease(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		u, _ := r.Begin(ctx)
		register(t, u, "A")
		register(t, u, "B")
		if err := u.Commit(); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		released, err := r.Release(ctx, []string{"A", "X"})
		if err != nil {
			t.Fatalf("Release: %v", err)
		}
		if fmt.Sprint(released) != "[A]" {
			t.Errorf("released = %v, want [A]", released)
		}
		if got := snapshot(t, r).Sorted(); fmt.Sprint(got) != "[B]" {
			t.Errorf("remaining = %v, want [B]", got)
		}
	})
}

func TestClosed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, r Registry) {
		if err := r.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if _, err := r.Begin(context.Background()); !errors.Is(err, ErrClosed) {
			t.Errorf("Begin after Close = %v, want ErrClosed", err)
		}
	})
}

func TestDocIDIsPathSafe(t *testing.T) {
	id := DocID("010460123456789021AB/CD")
	if len(id) != 64 {
		t.Errorf("DocID length = %d", len(id))
	}
	if DocID("x") == DocID("y") {
		t.Error("DocID collision")
	}
}
