package handlers

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/harvestbin/silo/internal/store"
)

// TableSchema is the wire form of a registered table schema.
type TableSchema struct {
	Name    string        `json:"name"`
	Key     string        `json:"key"`
	AutoKey bool          `json:"auto_key"`
	Spec    string        `json:"spec"`
	Fields  []FieldSchema `json:"fields"`
}

// FieldSchema is the wire form of a declared field.
type FieldSchema struct {
	Name  string `json:"name"`
	Index string `json:"index"`
}

func tableSchema(t *store.Table) TableSchema {
	out := TableSchema{
		Name:    t.Name,
		Key:     t.Key,
		AutoKey: t.AutoKey,
		Spec:    t.Spec(),
		Fields:  []FieldSchema{},
	}
	for _, f := range t.Fields {
		fs := FieldSchema{Name: f.Name, Index: "none"}
		switch f.Index {
		case store.IndexUnique:
			fs.Index = "unique"
		case store.IndexPlain:
			fs.Index = "plain"
		}
		out.Fields = append(out.Fields, fs)
	}
	return out
}

// ListTables returns the registered table schemas.
func (h *Handlers) ListTables(w http.ResponseWriter, r *http.Request) {
	s := h.storeFrom(w, r)
	if s == nil {
		return
	}

	tables := s.Tables()
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })

	out := make([]TableSchema, 0, len(tables))
	for _, t := range tables {
		out = append(out, tableSchema(t))
	}
	h.jsonResponse(w, out, http.StatusOK)
}

// GetTable returns one table schema plus its record count.
func (h *Handlers) GetTable(w http.ResponseWriter, r *http.Request) {
	s := h.storeFrom(w, r)
	if s == nil {
		return
	}

	name := chi.URLParam(r, "table")
	t := s.Table(name)
	if t == nil {
		h.jsonError(w, "Table not found", http.StatusNotFound)
		return
	}

	count, err := s.Count(name)
	if err != nil {
		h.storeError(w, err)
		return
	}

	h.jsonResponse(w, map[string]any{
		"schema": tableSchema(t),
		"count":  count,
	}, http.StatusOK)
}
