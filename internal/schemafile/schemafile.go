package schemafile

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/harvestbin/silo/internal/store"
)

// Document is the YAML schema declaration. Each version maps table names to
// index-definition strings; a null definition marks the table for deletion.
//
//	versions:
//	  - version: 1
//	    tables:
//	      books: "++id, title, &isbn, *author"
//	  - version: 2
//	    tables:
//	      drafts: ~
type Document struct {
	Versions []VersionDecl `koanf:"versions"`
}

// VersionDecl is one declared schema version.
type VersionDecl struct {
	Version int                `koanf:"version"`
	Tables  map[string]*string `koanf:"tables"`
}

// Load reads and parses the schema declaration at path.
func Load(path string) ([]store.Version, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load schema file %s: %w", path, err)
	}

	var doc Document
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}

	if len(doc.Versions) == 0 {
		return nil, fmt.Errorf("schema file %s declares no versions", path)
	}

	versions := make([]store.Version, 0, len(doc.Versions))
	for _, v := range doc.Versions {
		if len(v.Tables) == 0 {
			return nil, fmt.Errorf("schema file %s: version %d declares no tables", path, v.Version)
		}
		versions = append(versions, store.Version{Number: v.Version, Tables: v.Tables})
	}
	return versions, nil
}
