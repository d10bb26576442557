package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string {
	return &s
}

func TestApplyCreatesDeclaredTables(t *testing.T) {
	s := openTestStore(t)

	err := s.Apply(Version{Number: 1, Tables: map[string]*string{
		"books": strPtr("++id, title, &isbn, *author"),
		"tags":  strPtr("slug, label"),
	}})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}

	if s.Table("books") == nil || s.Table("tags") == nil {
		t.Fatal("expected both tables to be registered")
	}

	if _, err := s.Insert("books", Record{"title": "Dune", "isbn": "0441013597"}); err != nil {
		t.Fatalf("insert into created table failed: %v", err)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	decl := Version{Number: 1, Tables: map[string]*string{"books": strPtr("++id, title")}}
	if err := s.Apply(decl); err != nil {
		t.Fatalf("first Apply returned error: %v", err)
	}
	if _, err := s.Insert("books", Record{"title": "Dune"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := s.Apply(decl); err != nil {
		t.Fatalf("re-Apply returned error: %v", err)
	}
	s.Close()

	// Reopening and re-applying must rebuild the registry without touching data.
	s, err = Open(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s.Close()

	if err := s.Apply(decl); err != nil {
		t.Fatalf("Apply after reopen returned error: %v", err)
	}
	count, err := s.Count("books")
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record to survive reopen, got %d", count)
	}
}

func TestApplyRejectsBadVersionOrder(t *testing.T) {
	s := openTestStore(t)

	err := s.Apply(
		Version{Number: 2, Tables: map[string]*string{"a": strPtr("++id")}},
		Version{Number: 1, Tables: map[string]*string{"b": strPtr("++id")}},
	)
	if err == nil {
		t.Fatal("expected error for descending version numbers")
	}

	if err := s.Apply(Version{Number: 0, Tables: map[string]*string{"a": strPtr("++id")}}); err == nil {
		t.Fatal("expected error for non-positive version number")
	}
}

func TestApplyDropsTables(t *testing.T) {
	s := openTestStore(t)

	err := s.Apply(
		Version{Number: 1, Tables: map[string]*string{"drafts": strPtr("++id, title")}},
		Version{Number: 2, Tables: map[string]*string{"drafts": nil}},
	)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}

	if s.Table("drafts") != nil {
		t.Fatal("dropped table should not be registered")
	}
	if _, err := s.Insert("drafts", Record{"title": "x"}); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
}

func TestApplyRejectsDroppingUnknownTable(t *testing.T) {
	s := openTestStore(t)

	err := s.Apply(Version{Number: 1, Tables: map[string]*string{"ghost": nil}})
	if err == nil {
		t.Fatal("expected error when dropping a table that was never declared")
	}
}

func TestApplyEvolvesTableAcrossVersions(t *testing.T) {
	s := openTestStore(t)

	err := s.Apply(Version{Number: 1, Tables: map[string]*string{
		"books": strPtr("++id, title, notes"),
	}})
	if err != nil {
		t.Fatalf("Apply v1 returned error: %v", err)
	}
	if _, err := s.Insert("books", Record{"title": "Dune", "notes": "classic"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// v2 adds an indexed author field and stops declaring notes.
	err = s.Apply(
		Version{Number: 1, Tables: map[string]*string{"books": strPtr("++id, title, notes")}},
		Version{Number: 2, Tables: map[string]*string{"books": strPtr("++id, title, *author")}},
	)
	if err != nil {
		t.Fatalf("Apply v2 returned error: %v", err)
	}

	if _, err := s.Insert("books", Record{"title": "Hyperion", "author": "Simmons"}); err != nil {
		t.Fatalf("insert with new field failed: %v", err)
	}
	if _, err := s.Insert("books", Record{"title": "x", "notes": "y"}); !errors.Is(err, ErrFieldNotDeclared) {
		t.Fatalf("expected ErrFieldNotDeclared for removed field, got %v", err)
	}
}

func TestApplyRestoresRemovedField(t *testing.T) {
	s := openTestStore(t)

	v1 := Version{Number: 1, Tables: map[string]*string{"books": strPtr("++id, title, *notes")}}
	v2 := Version{Number: 2, Tables: map[string]*string{"books": strPtr("++id, title")}}
	if err := s.Apply(v1, v2); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}

	// The column for notes physically survives the removal, so a later
	// version may declare the field again without an ADD COLUMN conflict.
	v3 := Version{Number: 3, Tables: map[string]*string{"books": strPtr("++id, title, *notes")}}
	if err := s.Apply(v1, v2, v3); err != nil {
		t.Fatalf("re-declaring a removed field failed: %v", err)
	}

	if _, err := s.Insert("books", Record{"title": "Dune", "notes": "classic"}); err != nil {
		t.Fatalf("insert with restored field failed: %v", err)
	}
	recs, err := s.List("books", ListOptions{Where: Record{"notes": "classic"}})
	if err != nil {
		t.Fatalf("List on restored field returned error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record filtered on restored field, got %d", len(recs))
	}
}

func TestApplyRejectsReservedTableNames(t *testing.T) {
	s := openTestStore(t)

	for _, name := range []string{"settings", "tokens", "schema_versions"} {
		err := s.Apply(Version{Number: 1, Tables: map[string]*string{name: strPtr("++id")}})
		if err == nil {
			t.Errorf("expected error declaring reserved table %q", name)
		}
	}
}
