package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Record is one row of a declared table, keyed by field name.
type Record map[string]any

// ListOptions narrows a List call. Where matches declared fields (or the
// primary key) by equality; a nil value matches NULL.
type ListOptions struct {
	Where   Record
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// lookup resolves a registered table schema.
func (s *Store) lookup(table string) (*Table, error) {
	if t := s.Table(table); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("table %q: %w", table, ErrTableNotFound)
}

// validateFields enforces the schema contract: every field used in a record
// must be declared in the table's schema or be the primary key.
func validateFields(t *Table, rec Record) error {
	for name := range rec {
		if !t.HasField(name) {
			return fmt.Errorf("table %q: field %q: %w", t.Name, name, ErrFieldNotDeclared)
		}
	}
	return nil
}

// keyValue normalizes and validates the primary key value for t.
func keyValue(t *Table, v any) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("table %q: %w", t.Name, ErrMissingKey)
	}
	if t.AutoKey {
		switch k := v.(type) {
		case int:
			return int64(k), nil
		case int64:
			return k, nil
		case float64:
			// JSON round-trips integers as float64.
			if k == float64(int64(k)) {
				return int64(k), nil
			}
		}
		return nil, fmt.Errorf("table %q: auto-increment key must be an integer, got %T", t.Name, v)
	}

	k, ok := v.(string)
	if !ok || k == "" {
		return nil, fmt.Errorf("table %q: primary key %q must be a non-empty string, got %#v", t.Name, t.Key, v)
	}
	return k, nil
}

// Insert adds a new record and returns its primary key. String keys are
// generated when absent; auto-increment keys are assigned by the engine.
func (s *Store) Insert(table string, rec Record) (any, error) {
	key, err := s.write(table, rec, false)
	if err != nil {
		return nil, err
	}
	s.notify(Change{Table: table, Op: OpInsert, Key: key})
	return key, nil
}

// Put fully replaces the record with the same primary key, inserting it if
// no such record exists. Fields absent from rec are cleared.
func (s *Store) Put(table string, rec Record) (any, error) {
	key, err := s.write(table, rec, true)
	if err != nil {
		return nil, err
	}
	s.notify(Change{Table: table, Op: OpUpdate, Key: key})
	return key, nil
}

// write implements Insert and Put. The record is not mutated; the generated
// key is returned instead.
func (s *Store) write(table string, rec Record, upsert bool) (any, error) {
	t, err := s.lookup(table)
	if err != nil {
		return nil, err
	}
	if err := validateFields(t, rec); err != nil {
		return nil, err
	}

	stored := make(Record, len(rec)+1)
	for k, v := range rec {
		stored[k] = v
	}

	var key any
	if raw, ok := stored[t.Key]; ok {
		if key, err = keyValue(t, raw); err != nil {
			return nil, err
		}
		stored[t.Key] = key
	} else if !t.AutoKey {
		key = uuid.NewString()
		stored[t.Key] = key
	}

	err = s.Transaction(func(tx *sql.Tx) error {
		cols := make([]string, 0, len(t.Fields)+2)
		args := make([]any, 0, len(t.Fields)+2)

		if key != nil {
			cols = append(cols, t.Key)
			args = append(args, key)
		}
		for _, f := range t.Fields {
			cols = append(cols, f.Name)
			v, err := bindValue(t.Name, f.Name, stored[f.Name])
			if err != nil {
				return err
			}
			args = append(args, v)
		}

		data, err := encodeRecord(t.Name, stored)
		if err != nil {
			return err
		}
		cols = append(cols, dataColumn)
		args = append(args, data)

		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			t.Name, strings.Join(cols, ", "), placeholders(len(cols)))
		if upsert {
			query += fmt.Sprintf(" ON CONFLICT(%s) DO UPDATE SET %s", t.Key, excludedSet(t))
		}

		res, err := tx.Exec(query, args...)
		if err != nil {
			return fmt.Errorf("failed to write record to %s: %w", t.Name, err)
		}

		if key == nil {
			// Auto-increment key assigned by the engine: fold it back into
			// the canonical JSON so reads see it.
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to read assigned key for %s: %w", t.Name, err)
			}
			key = id
			stored[t.Key] = id

			data, err := encodeRecord(t.Name, stored)
			if err != nil {
				return err
			}
			query := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", t.Name, dataColumn, t.Key)
			if _, err := tx.Exec(query, data, id); err != nil {
				return fmt.Errorf("failed to store assigned key for %s: %w", t.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return key, nil
}

// Get returns the record with the given primary key.
func (s *Store) Get(table string, key any) (Record, error) {
	t, err := s.lookup(table)
	if err != nil {
		return nil, err
	}
	key, err = keyValue(t, key)
	if err != nil {
		return nil, err
	}

	var data string
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", dataColumn, t.Name, t.Key)
	err = s.QueryRow(query, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("table %q: key %v: %w", table, key, ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record from %s: %w", table, err)
	}

	return decodeRecord(table, data)
}

// Update merges patch into the existing record. The primary key cannot be
// patched.
func (s *Store) Update(table string, key any, patch Record) error {
	t, err := s.lookup(table)
	if err != nil {
		return err
	}
	if err := validateFields(t, patch); err != nil {
		return err
	}
	if _, ok := patch[t.Key]; ok {
		return fmt.Errorf("table %q: primary key %q cannot be updated", table, t.Key)
	}
	key, err = keyValue(t, key)
	if err != nil {
		return err
	}

	err = s.Transaction(func(tx *sql.Tx) error {
		var data string
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", dataColumn, t.Name, t.Key)
		err := tx.QueryRow(query, key).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("table %q: key %v: %w", table, key, ErrRecordNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load record from %s: %w", table, err)
		}

		rec, err := decodeRecord(table, data)
		if err != nil {
			return err
		}

		sets := make([]string, 0, len(patch)+1)
		args := make([]any, 0, len(patch)+2)
		for _, f := range t.Fields {
			v, ok := patch[f.Name]
			if !ok {
				continue
			}
			rec[f.Name] = v
			bound, err := bindValue(t.Name, f.Name, v)
			if err != nil {
				return err
			}
			sets = append(sets, fmt.Sprintf("%s = ?", f.Name))
			args = append(args, bound)
		}

		merged, err := encodeRecord(table, rec)
		if err != nil {
			return err
		}
		sets = append(sets, fmt.Sprintf("%s = ?", dataColumn))
		args = append(args, merged, key)

		query = fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", t.Name, strings.Join(sets, ", "), t.Key)
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("failed to update record in %s: %w", table, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notify(Change{Table: table, Op: OpUpdate, Key: key})
	return nil
}

// Delete removes the record with the given primary key. Deleting a missing
// record is not an error.
func (s *Store) Delete(table string, key any) error {
	t, err := s.lookup(table)
	if err != nil {
		return err
	}
	key, err = keyValue(t, key)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", t.Name, t.Key)
	res, err := s.Exec(query, key)
	if err != nil {
		return fmt.Errorf("failed to delete record from %s: %w", table, err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		s.notify(Change{Table: table, Op: OpDelete, Key: key})
	}
	return nil
}

// Clear removes every record from the table.
func (s *Store) Clear(table string) error {
	t, err := s.lookup(table)
	if err != nil {
		return err
	}

	if _, err := s.Exec(fmt.Sprintf("DELETE FROM %s", t.Name)); err != nil {
		return fmt.Errorf("failed to clear table %s: %w", table, err)
	}

	s.notify(Change{Table: table, Op: OpClear})
	return nil
}

// Count returns the number of records in the table.
func (s *Store) Count(table string) (int64, error) {
	t, err := s.lookup(table)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := s.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", t.Name)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records in %s: %w", table, err)
	}
	return n, nil
}

// List returns records matching opts in primary key order unless OrderBy
// names another declared field.
func (s *Store) List(table string, opts ListOptions) ([]Record, error) {
	t, err := s.lookup(table)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", dataColumn, t.Name)

	var args []any
	if len(opts.Where) > 0 {
		if err := validateFields(t, opts.Where); err != nil {
			return nil, err
		}
		conds := make([]string, 0, len(opts.Where))
		// Deterministic condition order keeps queries stable for the engine's
		// statement cache.
		for _, name := range sortedFieldNames(opts.Where) {
			v := opts.Where[name]
			if v == nil {
				conds = append(conds, fmt.Sprintf("%s IS NULL", name))
				continue
			}
			bound, err := bindValue(t.Name, name, v)
			if err != nil {
				return nil, err
			}
			conds = append(conds, fmt.Sprintf("%s = ?", name))
			args = append(args, bound)
		}
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	order := t.Key
	if opts.OrderBy != "" {
		if !t.HasField(opts.OrderBy) {
			return nil, fmt.Errorf("table %q: field %q: %w", table, opts.OrderBy, ErrFieldNotDeclared)
		}
		order = opts.OrderBy
	}
	fmt.Fprintf(&sb, " ORDER BY %s", order)
	if opts.Desc {
		sb.WriteString(" DESC")
	}

	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1 // SQLite: no limit, offset still applies
		}
		fmt.Fprintf(&sb, " LIMIT %d OFFSET %d", limit, opts.Offset)
	}

	rows, err := s.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records in %s: %w", table, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan record from %s: %w", table, err)
		}
		rec, err := decodeRecord(table, data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// excludedSet builds the DO UPDATE clause replacing every value column.
func excludedSet(t *Table) string {
	sets := make([]string, 0, len(t.Fields)+1)
	for _, f := range t.Fields {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", f.Name, f.Name))
	}
	sets = append(sets, fmt.Sprintf("%s = excluded.%s", dataColumn, dataColumn))
	return strings.Join(sets, ", ")
}

func sortedFieldNames(rec Record) []string {
	names := make([]string, 0, len(rec))
	for name := range rec {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
