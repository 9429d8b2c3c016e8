package persistence_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/basket/wolfpack/internal/persistence"
)

type storeFactory struct {
	name string
	open func(t *testing.T) persistence.Store
}

func drivers() []storeFactory {
	return []storeFactory{
		{"memory", func(t *testing.T) persistence.Store {
			s := persistence.NewMemoryStore()
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{"sqlite", func(t *testing.T) persistence.Store {
			s, err := persistence.OpenSQLite(filepath.Join(t.TempDir(), "wolfpack.db"))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

func member(id, email string) *persistence.User {
	deadline := time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)
	return &persistence.User{
		ID:           id,
		Kind:         persistence.KindMember,
		Email:        email,
		Name:         "Wolf " + id,
		City:         "Austin",
		Skills:       []string{"roasting"},
		PasswordHash: "hash",
		Tasks: []persistence.Task{
			{ID: "task-1", Title: "Source beans", Status: persistence.TaskStatusTodo, AssignedTo: persistence.RoleLabor, Budget: 100, Deadline: &deadline},
		},
		Wolfpack: []string{},
		Events:   []persistence.Event{},
	}
}

var ignoreStamps = cmpopts.IgnoreFields(persistence.User{}, "CreatedAt", "UpdatedAt")

func TestStore_CreateGetRoundTrip(t *testing.T) {
	for _, d := range drivers() {
		t.Run(d.name, func(t *testing.T) {
			ctx := context.Background()
			s := d.open(t)
			u := member("u1", " Ana@Example.COM ")
			if err := s.Create(ctx, u); err != nil {
				t.Fatalf("create: %v", err)
			}
			if u.Email != "ana@example.com" {
				t.Fatalf("expected normalized email, got %q", u.Email)
			}
			if u.CreatedAt.IsZero() {
				t.Fatalf("expected CreatedAt to be stamped")
			}

			got, err := s.Get(ctx, "u1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if diff := cmp.Diff(u, got, ignoreStamps); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}

			byEmail, err := s.GetByEmail(ctx, "ANA@example.com")
			if err != nil {
				t.Fatalf("get by email: %v", err)
			}
			if byEmail.ID != "u1" {
				t.Fatalf("expected u1 by email, got %q", byEmail.ID)
			}
		})
	}
}

func TestStore_CreateConflicts(t *testing.T) {
	for _, d := range drivers() {
		t.Run(d.name, func(t *testing.T) {
			ctx := context.Background()
			s := d.open(t)
			if err := s.Create(ctx, member("u1", "a@x.io")); err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := s.Create(ctx, member("u1", "b@x.io")); !errors.Is(err, persistence.ErrConflict) {
				t.Fatalf("expected ErrConflict on duplicate id, got %v", err)
			}
			if err := s.Create(ctx, member("u2", "A@x.io")); !errors.Is(err, persistence.ErrConflict) {
				t.Fatalf("expected ErrConflict on duplicate email, got %v", err)
			}
			// Candidates share no email namespace with members.
			cand := &persistence.User{ID: "c1", Kind: persistence.KindCandidate, Name: "Cleo"}
			if err := s.Create(ctx, cand); err != nil {
				t.Fatalf("create candidate: %v", err)
			}
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for _, d := range drivers() {
		t.Run(d.name, func(t *testing.T) {
			ctx := context.Background()
			s := d.open(t)
			if _, err := s.Get(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if _, err := s.GetByEmail(ctx, "nobody@x.io"); !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected ErrNotFound by email, got %v", err)
			}
			_, err := s.Update(ctx, "missing", func(*persistence.User) error { return nil })
			if !errors.Is(err, persistence.ErrNotFound) {
				t.Fatalf("expected ErrNotFound on update, got %v", err)
			}
		})
	}
}

func TestStore_UpdateAppliesOrDiscards(t *testing.T) {
	for _, d := range drivers() {
		t.Run(d.name, func(t *testing.T) {
			ctx := context.Background()
			s := d.open(t)
			if err := s.Create(ctx, member("u1", "a@x.io")); err != nil {
				t.Fatalf("create: %v", err)
			}

			updated, err := s.Update(ctx, "u1", func(u *persistence.User) error {
				u.IVP = 130
				u.Tasks[0].Status = persistence.TaskStatusDone
				return nil
			})
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if updated.IVP != 130 {
				t.Fatalf("expected returned ivp=130, got %d", updated.IVP)
			}

			boom := errors.New("boom")
			_, err = s.Update(ctx, "u1", func(u *persistence.User) error {
				u.IVP = 9999
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("expected callback error, got %v", err)
			}

			got, err := s.Get(ctx, "u1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.IVP != 130 || got.Tasks[0].Status != persistence.TaskStatusDone {
				t.Fatalf("expected first update kept and second discarded, got ivp=%d status=%s", got.IVP, got.Tasks[0].Status)
			}
		})
	}
}

func TestStore_UpdateIsAtomicPerUser(t *testing.T) {
	for _, d := range drivers() {
		t.Run(d.name, func(t *testing.T) {
			ctx := context.Background()
			s := d.open(t)
			if err := s.Create(ctx, member("u1", "a@x.io")); err != nil {
				t.Fatalf("create: %v", err)
			}

			const workers = 8
			const perWorker = 10
			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < perWorker; j++ {
						if _, err := s.Update(ctx, "u1", func(u *persistence.User) error {
							u.Tasks[0].GrindCount++
							return nil
						}); err != nil {
							errs <- err
							return
						}
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("concurrent update: %v", err)
			}

			got, err := s.Get(ctx, "u1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Tasks[0].GrindCount != workers*perWorker {
				t.Fatalf("expected %d grinds, got %d", workers*perWorker, got.Tasks[0].GrindCount)
			}
		})
	}
}

func TestStore_ListFiltersByKind(t *testing.T) {
	for _, d := range drivers() {
		t.Run(d.name, func(t *testing.T) {
			ctx := context.Background()
			s := d.open(t)
			for i := 0; i < 3; i++ {
				if err := s.Create(ctx, member(fmt.Sprintf("m%d", i), fmt.Sprintf("m%d@x.io", i))); err != nil {
					t.Fatalf("create member: %v", err)
				}
			}
			if err := s.Create(ctx, &persistence.User{ID: "c1", Kind: persistence.KindCandidate, Name: "Cleo"}); err != nil {
				t.Fatalf("create candidate: %v", err)
			}

			members, err := s.List(ctx, persistence.ListFilter{Kind: persistence.KindMember})
			if err != nil {
				t.Fatalf("list members: %v", err)
			}
			if len(members) != 3 {
				t.Fatalf("expected 3 members, got %d", len(members))
			}
			all, err := s.List(ctx, persistence.ListFilter{})
			if err != nil {
				t.Fatalf("list all: %v", err)
			}
			if len(all) != 4 {
				t.Fatalf("expected 4 users, got %d", len(all))
			}
			n, err := s.Count(ctx)
			if err != nil || n != 4 {
				t.Fatalf("expected count 4, got %d err=%v", n, err)
			}
		})
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := persistence.NewMemoryStore()
	if err := s.Create(ctx, member("u1", "a@x.io")); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := s.Get(ctx, "u1")
	got.Tasks[0].Title = "mutated"
	got.Wolfpack = append(got.Wolfpack, "x")

	again, _ := s.Get(ctx, "u1")
	if again.Tasks[0].Title != "Source beans" || len(again.Wolfpack) != 0 {
		t.Fatalf("store state leaked through returned copy: %+v", again)
	}
}

func TestSQLiteStore_SchemaAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wolfpack.db")
	s, err := persistence.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var journal string
	if err := s.DB().QueryRow("PRAGMA journal_mode;").Scan(&journal); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if journal != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journal)
	}
	version, checksum, err := s.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != 1 || checksum == "" {
		t.Fatalf("unexpected schema ledger: %d %q", version, checksum)
	}
	if err := s.Create(ctx, member("u1", "a@x.io")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.DB().Exec(`INSERT INTO audit_log (trace_id, subject, action, decision, reason) VALUES ('t', 's', 'a', 'ALLOW', 'r');`); err != nil {
		t.Fatalf("audit_log table missing: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := persistence.OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.PasswordHash != "hash" || got.Tasks[0].Deadline == nil {
		t.Fatalf("document not persisted intact: %+v", got)
	}
}

func TestSQLiteStore_RejectsChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wolfpack.db")
	s, err := persistence.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.DB().Exec(`UPDATE schema_migrations SET checksum = 'tampered' WHERE version = 1;`); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	_ = s.Close()

	if _, err := persistence.OpenSQLite(path); err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
}
