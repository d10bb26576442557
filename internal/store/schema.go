package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sentinel errors for schema and record validation. Callers match with
// errors.Is; the wrapped messages carry the table/field/key details.
var (
	ErrTableNotFound    = errors.New("table not found")
	ErrFieldNotDeclared = errors.New("field not declared in table schema")
	ErrRecordNotFound   = errors.New("record not found")
	ErrMissingKey       = errors.New("record has no primary key")
)

// IndexKind describes how a declared field is indexed.
type IndexKind int

const (
	IndexNone   IndexKind = iota // plain column
	IndexPlain                   // *field
	IndexUnique                  // &field
)

// Field is a declared, non-key field of a table.
type Field struct {
	Name  string
	Index IndexKind
}

// Table is the parsed form of one index-definition string.
//
// The grammar is a comma-separated field list. The first entry names the
// primary key: "++id" declares an auto-increment integer key, a bare name
// declares a string key that is generated when a record arrives without one.
// Remaining entries declare the permitted record fields: "&name" adds a
// unique index, "*name" a non-unique index, a bare name a plain column.
type Table struct {
	Name    string
	Key     string
	AutoKey bool
	Fields  []Field

	spec   string
	byName map[string]int
}

// internalTables are reserved for the store's own bookkeeping.
var internalTables = map[string]bool{
	"schema_versions": true,
	"settings":        true,
	"tokens":          true,
}

// dataColumn holds the canonical JSON encoding of each record. Declared
// fields are extracted into real columns alongside it so SQLite can index
// and filter them.
const dataColumn = "data"

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseTable parses the index-definition string for a table.
func ParseTable(name, spec string) (*Table, error) {
	if !identPattern.MatchString(name) {
		return nil, fmt.Errorf("invalid table name %q", name)
	}
	if internalTables[name] || strings.HasPrefix(name, "sqlite_") {
		return nil, fmt.Errorf("table name %q is reserved", name)
	}

	parts := strings.Split(spec, ",")
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return nil, fmt.Errorf("table %q: schema must declare a primary key", name)
	}

	t := &Table{
		Name:   name,
		spec:   spec,
		byName: make(map[string]int),
	}

	key := strings.TrimSpace(parts[0])
	if strings.HasPrefix(key, "++") {
		t.AutoKey = true
		key = key[2:]
	}
	if !identPattern.MatchString(key) {
		return nil, fmt.Errorf("table %q: invalid primary key name %q", name, key)
	}
	if key == dataColumn {
		return nil, fmt.Errorf("table %q: field name %q is reserved", name, key)
	}
	t.Key = key

	for _, part := range parts[1:] {
		raw := strings.TrimSpace(part)
		if raw == "" {
			return nil, fmt.Errorf("table %q: empty field in schema %q", name, spec)
		}

		f := Field{Index: IndexNone}
		switch {
		case strings.HasPrefix(raw, "&"):
			f.Index = IndexUnique
			f.Name = raw[1:]
		case strings.HasPrefix(raw, "*"):
			f.Index = IndexPlain
			f.Name = raw[1:]
		default:
			f.Name = raw
		}

		if !identPattern.MatchString(f.Name) {
			return nil, fmt.Errorf("table %q: invalid field name %q", name, f.Name)
		}
		if f.Name == dataColumn {
			return nil, fmt.Errorf("table %q: field name %q is reserved", name, f.Name)
		}
		if f.Name == t.Key {
			return nil, fmt.Errorf("table %q: field %q duplicates the primary key", name, f.Name)
		}
		if _, dup := t.byName[f.Name]; dup {
			return nil, fmt.Errorf("table %q: duplicate field %q", name, f.Name)
		}

		t.Fields = append(t.Fields, f)
		t.byName[f.Name] = len(t.Fields) - 1
	}

	return t, nil
}

// Spec returns the index-definition string the table was declared with.
func (t *Table) Spec() string {
	return t.spec
}

// HasField reports whether name is the primary key or a declared field.
func (t *Table) HasField(name string) bool {
	if name == t.Key {
		return true
	}
	_, ok := t.byName[name]
	return ok
}

// field returns the declared non-key field, or nil.
func (t *Table) field(name string) *Field {
	if i, ok := t.byName[name]; ok {
		return &t.Fields[i]
	}
	return nil
}

// createSQL returns the DDL that brings the table into existence.
func (t *Table) createSQL() []string {
	var cols []string
	if t.AutoKey {
		cols = append(cols, fmt.Sprintf("%s INTEGER PRIMARY KEY AUTOINCREMENT", t.Key))
	} else {
		cols = append(cols, fmt.Sprintf("%s TEXT PRIMARY KEY", t.Key))
	}
	for _, f := range t.Fields {
		// Value columns are left untyped; SQLite's dynamic typing stores
		// whatever the record carries.
		cols = append(cols, f.Name)
	}
	cols = append(cols, fmt.Sprintf("%s TEXT NOT NULL DEFAULT '{}'", dataColumn))

	statements := []string{
		fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", t.Name, strings.Join(cols, ",\n\t")),
	}
	for _, f := range t.Fields {
		if stmt := t.indexSQL(f); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

// indexSQL returns the CREATE INDEX statement for f, or "" when the field is
// not indexed.
func (t *Table) indexSQL(f Field) string {
	switch f.Index {
	case IndexUnique:
		return fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s(%s)", t.indexName(f.Name), t.Name, f.Name)
	case IndexPlain:
		return fmt.Sprintf("CREATE INDEX %s ON %s(%s)", t.indexName(f.Name), t.Name, f.Name)
	default:
		return ""
	}
}

func (t *Table) indexName(field string) string {
	return fmt.Sprintf("idx_%s_%s", t.Name, field)
}

// alterSQL returns the DDL that evolves prev into t. New fields become ALTER
// TABLE ADD COLUMN; index changes become CREATE/DROP INDEX. Columns for
// removed fields stay in place (the store just stops accepting them), so
// existing carries the physically present columns, which can exceed prev's
// fields: a re-declared field reuses its surviving column. A primary key
// change is not supported by the engine.
func (t *Table) alterSQL(prev *Table, existing map[string]bool) ([]string, error) {
	if t.Key != prev.Key || t.AutoKey != prev.AutoKey {
		return nil, fmt.Errorf("table %q: changing the primary key requires dropping and redeclaring the table", t.Name)
	}

	var statements []string
	for _, f := range t.Fields {
		old := prev.field(f.Name)
		if old == nil {
			if !existing[f.Name] {
				statements = append(statements, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", t.Name, f.Name))
			}
			if stmt := t.indexSQL(f); stmt != "" {
				statements = append(statements, stmt)
			}
			continue
		}
		if old.Index == f.Index {
			continue
		}
		if old.Index != IndexNone {
			statements = append(statements, fmt.Sprintf("DROP INDEX IF EXISTS %s", t.indexName(f.Name)))
		}
		if stmt := t.indexSQL(f); stmt != "" {
			statements = append(statements, stmt)
		}
	}

	// Indexes on fields no longer declared are dropped with the field.
	for _, f := range prev.Fields {
		if t.field(f.Name) == nil && f.Index != IndexNone {
			statements = append(statements, fmt.Sprintf("DROP INDEX IF EXISTS %s", t.indexName(f.Name)))
		}
	}

	return statements, nil
}
