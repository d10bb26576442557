package store

import (
	"errors"
	"testing"
)

func openBooksStore(t *testing.T) *Store {
	t.Helper()

	s := openTestStore(t)
	err := s.Apply(Version{Number: 1, Tables: map[string]*string{
		"books": strPtr("++id, title, &isbn, *author, notes"),
		"tags":  strPtr("slug, label"),
	}})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	return s
}

func TestInsertAssignsAutoIncrementKeys(t *testing.T) {
	s := openBooksStore(t)

	first, err := s.Insert("books", Record{"title": "Dune", "isbn": "0441013597"})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	second, err := s.Insert("books", Record{"title": "Hyperion", "isbn": "0553283685"})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	if first != int64(1) || second != int64(2) {
		t.Fatalf("expected keys 1 and 2, got %v and %v", first, second)
	}

	rec, err := s.Get("books", first)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if rec["title"] != "Dune" {
		t.Fatalf("expected title Dune, got %v", rec["title"])
	}
	// The assigned key is folded back into the stored record. JSON decoding
	// yields float64 for numbers.
	if rec["id"] != float64(1) {
		t.Fatalf("expected stored key 1, got %v", rec["id"])
	}
}

func TestInsertGeneratesStringKeys(t *testing.T) {
	s := openBooksStore(t)

	key, err := s.Insert("tags", Record{"label": "Sci-Fi"})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	slug, ok := key.(string)
	if !ok || slug == "" {
		t.Fatalf("expected generated string key, got %v", key)
	}

	rec, err := s.Get("tags", slug)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if rec["slug"] != slug {
		t.Fatalf("expected stored key %q, got %v", slug, rec["slug"])
	}

	// Explicit keys pass through unchanged.
	key, err = s.Insert("tags", Record{"slug": "fantasy", "label": "Fantasy"})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if key != "fantasy" {
		t.Fatalf("expected explicit key, got %v", key)
	}
}

func TestInsertRejectsUndeclaredFields(t *testing.T) {
	s := openBooksStore(t)

	_, err := s.Insert("books", Record{"title": "Dune", "rating": 5})
	if !errors.Is(err, ErrFieldNotDeclared) {
		t.Fatalf("expected ErrFieldNotDeclared, got %v", err)
	}
}

func TestUnknownTableOperationsFail(t *testing.T) {
	s := openBooksStore(t)

	if _, err := s.Insert("ghost", Record{}); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("Insert: expected ErrTableNotFound, got %v", err)
	}
	if _, err := s.Get("ghost", int64(1)); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("Get: expected ErrTableNotFound, got %v", err)
	}
	if err := s.Clear("ghost"); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("Clear: expected ErrTableNotFound, got %v", err)
	}
}

func TestUniqueIndexEnforced(t *testing.T) {
	s := openBooksStore(t)

	if _, err := s.Insert("books", Record{"title": "Dune", "isbn": "same"}); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if _, err := s.Insert("books", Record{"title": "Copy", "isbn": "same"}); err == nil {
		t.Fatal("expected unique index violation")
	}
}

func TestPutReplacesRecord(t *testing.T) {
	s := openBooksStore(t)

	key, err := s.Insert("books", Record{"title": "Dune", "notes": "first read"})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	if _, err := s.Put("books", Record{"id": key, "title": "Dune (revised)"}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	rec, err := s.Get("books", key)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if rec["title"] != "Dune (revised)" {
		t.Fatalf("expected replaced title, got %v", rec["title"])
	}
	if _, ok := rec["notes"]; ok {
		t.Fatalf("Put should clear absent fields, still have notes=%v", rec["notes"])
	}

	count, err := s.Count("books")
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected Put to replace, not add; count=%d", count)
	}
}

func TestUpdateMergesPatch(t *testing.T) {
	s := openBooksStore(t)

	key, err := s.Insert("books", Record{"title": "Dune", "author": "Herbert"})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	if err := s.Update("books", key, Record{"title": "Dune Messiah"}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	rec, err := s.Get("books", key)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if rec["title"] != "Dune Messiah" {
		t.Fatalf("expected patched title, got %v", rec["title"])
	}
	if rec["author"] != "Herbert" {
		t.Fatalf("expected untouched author, got %v", rec["author"])
	}

	if err := s.Update("books", int64(999), Record{"title": "x"}); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if err := s.Update("books", key, Record{"id": int64(2)}); err == nil {
		t.Fatal("expected error when patching the primary key")
	}
	if err := s.Update("books", key, Record{"rating": 5}); !errors.Is(err, ErrFieldNotDeclared) {
		t.Fatalf("expected ErrFieldNotDeclared, got %v", err)
	}
}

func TestDeleteAndClear(t *testing.T) {
	s := openBooksStore(t)

	key, err := s.Insert("books", Record{"title": "Dune"})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if _, err := s.Insert("books", Record{"title": "Hyperion"}); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	if err := s.Delete("books", key); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := s.Get("books", key); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound after delete, got %v", err)
	}

	// Deleting a missing record is not an error.
	if err := s.Delete("books", key); err != nil {
		t.Fatalf("Delete of missing record returned error: %v", err)
	}

	if err := s.Clear("books"); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}
	count, err := s.Count("books")
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty table after Clear, count=%d", count)
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	s := openBooksStore(t)

	seed := []Record{
		{"title": "Dune", "author": "Herbert", "isbn": "1"},
		{"title": "Dune Messiah", "author": "Herbert", "isbn": "2"},
		{"title": "Hyperion", "author": "Simmons", "isbn": "3"},
	}
	for _, rec := range seed {
		if _, err := s.Insert("books", rec); err != nil {
			t.Fatalf("Insert returned error: %v", err)
		}
	}

	records, err := s.List("books", ListOptions{Where: Record{"author": "Herbert"}})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records by Herbert, got %d", len(records))
	}

	records, err = s.List("books", ListOptions{OrderBy: "title", Desc: true, Limit: 1})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(records) != 1 || records[0]["title"] != "Hyperion" {
		t.Fatalf("expected Hyperion first descending, got %v", records)
	}

	records, err = s.List("books", ListOptions{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record at offset 2, got %d", len(records))
	}

	if _, err := s.List("books", ListOptions{Where: Record{"rating": 5}}); !errors.Is(err, ErrFieldNotDeclared) {
		t.Fatalf("expected ErrFieldNotDeclared for filter, got %v", err)
	}
	if _, err := s.List("books", ListOptions{OrderBy: "rating"}); !errors.Is(err, ErrFieldNotDeclared) {
		t.Fatalf("expected ErrFieldNotDeclared for order, got %v", err)
	}
}

func TestChangeEventsFire(t *testing.T) {
	s := openBooksStore(t)

	var changes []Change
	s.OnChange(func(c Change) {
		changes = append(changes, c)
	})

	key, err := s.Insert("books", Record{"title": "Dune"})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if err := s.Update("books", key, Record{"title": "Dune Messiah"}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if err := s.Delete("books", key); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := s.Clear("books"); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}

	wantOps := []Op{OpInsert, OpUpdate, OpDelete, OpClear}
	if len(changes) != len(wantOps) {
		t.Fatalf("expected %d changes, got %d", len(wantOps), len(changes))
	}
	for i, want := range wantOps {
		if changes[i].Op != want {
			t.Fatalf("change %d: expected op %q, got %q", i, want, changes[i].Op)
		}
		if changes[i].Table != "books" {
			t.Fatalf("change %d: expected table books, got %q", i, changes[i].Table)
		}
	}
	if changes[0].Key != int64(1) {
		t.Fatalf("expected insert change to carry the key, got %v", changes[0].Key)
	}
}

func TestCompositeValuesRoundTrip(t *testing.T) {
	s := openBooksStore(t)

	key, err := s.Insert("books", Record{
		"title": "Dune",
		"notes": map[string]any{"shelf": "A3", "loaned": true},
	})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	rec, err := s.Get("books", key)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	notes, ok := rec["notes"].(map[string]any)
	if !ok {
		t.Fatalf("expected composite notes value, got %T", rec["notes"])
	}
	if notes["shelf"] != "A3" || notes["loaned"] != true {
		t.Fatalf("composite value lost content: %v", notes)
	}
}
