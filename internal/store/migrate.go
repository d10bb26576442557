package store

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
)

// Version is one step of the declarative schema. Tables maps a table name to
// its index-definition string; a nil definition marks the table for deletion.
type Version struct {
	Number int
	Tables map[string]*string
}

// Apply registers the declared schema and migrates the database to its
// newest version. Versions must be declared in ascending order. Versions at
// or below the recorded schema version only rebuild the in-memory registry;
// newer ones additionally run the derived DDL inside a transaction and are
// recorded in schema_versions, so re-applying a declaration is a no-op.
func (s *Store) Apply(versions ...Version) error {
	for i, v := range versions {
		if v.Number <= 0 {
			return fmt.Errorf("schema version %d: version numbers must be positive", v.Number)
		}
		if i > 0 && v.Number <= versions[i-1].Number {
			return fmt.Errorf("schema version %d: versions must be declared in ascending order", v.Number)
		}
	}

	var current int
	err := s.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	log.Debug().Int("current_version", current).Msg("Current schema version")

	registry := make(map[string]*Table)
	columns := make(map[string]map[string]bool)

	for _, v := range versions {
		statements, err := planVersion(registry, columns, v)
		if err != nil {
			return err
		}

		if v.Number <= current {
			continue
		}

		log.Info().Int("version", v.Number).Msg("Applying schema version")

		if err := s.Transaction(func(tx *sql.Tx) error {
			for i, stmt := range statements {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("schema version %d statement %d failed: %w", v.Number, i+1, err)
				}
			}
			if _, err := tx.Exec("INSERT INTO schema_versions (version) VALUES (?)", v.Number); err != nil {
				return fmt.Errorf("failed to record schema version %d: %w", v.Number, err)
			}
			return nil
		}); err != nil {
			return err
		}
	}

	s.regMu.Lock()
	s.tables = registry
	s.regMu.Unlock()

	log.Info().Int("tables", len(registry)).Msg("Schema applied")
	return nil
}

// planVersion parses one version against the inherited state and returns the
// DDL it contributes, advancing registry and columns in place. registry holds
// the declared schema; columns tracks the physically present value columns
// per table, which outlive field removal because removed columns stay in the
// table.
func planVersion(registry map[string]*Table, columns map[string]map[string]bool, v Version) ([]string, error) {
	// Iterate in name order so the generated DDL is deterministic.
	names := make([]string, 0, len(v.Tables))
	for name := range v.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	var statements []string
	for _, name := range names {
		spec := v.Tables[name]

		if spec == nil {
			if _, ok := registry[name]; !ok {
				return nil, fmt.Errorf("schema version %d: cannot drop table %q: not declared in an earlier version", v.Number, name)
			}
			statements = append(statements, fmt.Sprintf("DROP TABLE %s", name))
			delete(registry, name)
			delete(columns, name)
			continue
		}

		t, err := ParseTable(name, *spec)
		if err != nil {
			return nil, fmt.Errorf("schema version %d: %w", v.Number, err)
		}

		if prev, ok := registry[name]; ok {
			alter, err := t.alterSQL(prev, columns[name])
			if err != nil {
				return nil, fmt.Errorf("schema version %d: %w", v.Number, err)
			}
			statements = append(statements, alter...)
		} else {
			statements = append(statements, t.createSQL()...)
			columns[name] = make(map[string]bool)
		}
		for _, f := range t.Fields {
			columns[name][f.Name] = true
		}
		registry[name] = t
	}

	return statements, nil
}
