package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/harvestbin/silo/internal/store"
)

// reserved query parameters on the list endpoint; everything else is treated
// as an equality filter on a declared field.
var listParams = map[string]bool{
	"limit":    true,
	"offset":   true,
	"order_by": true,
	"desc":     true,
}

// CreateRecord inserts the posted record and returns its assigned key.
func (h *Handlers) CreateRecord(w http.ResponseWriter, r *http.Request) {
	s := h.storeFrom(w, r)
	if s == nil {
		return
	}

	rec, ok := h.decodeRecord(w, r)
	if !ok {
		return
	}

	key, err := s.Insert(chi.URLParam(r, "table"), rec)
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.jsonResponse(w, map[string]any{"key": key}, http.StatusCreated)
}

// PutRecord fully replaces the record carried in the body, inserting it when
// no record with its key exists.
func (h *Handlers) PutRecord(w http.ResponseWriter, r *http.Request) {
	s := h.storeFrom(w, r)
	if s == nil {
		return
	}

	rec, ok := h.decodeRecord(w, r)
	if !ok {
		return
	}

	key, err := s.Put(chi.URLParam(r, "table"), rec)
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.jsonResponse(w, map[string]any{"key": key}, http.StatusOK)
}

// GetRecord returns one record by primary key.
func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	s := h.storeFrom(w, r)
	if s == nil {
		return
	}

	table := chi.URLParam(r, "table")
	key, ok := h.parseKey(w, r, s, table)
	if !ok {
		return
	}

	rec, err := s.Get(table, key)
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.jsonResponse(w, rec, http.StatusOK)
}

// PatchRecord merges the posted fields into an existing record.
func (h *Handlers) PatchRecord(w http.ResponseWriter, r *http.Request) {
	s := h.storeFrom(w, r)
	if s == nil {
		return
	}

	table := chi.URLParam(r, "table")
	key, ok := h.parseKey(w, r, s, table)
	if !ok {
		return
	}

	patch, ok := h.decodeRecord(w, r)
	if !ok {
		return
	}

	if err := s.Update(table, key, patch); err != nil {
		h.storeError(w, err)
		return
	}
	h.jsonSuccess(w, "updated")
}

// DeleteRecord removes one record by primary key.
func (h *Handlers) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	s := h.storeFrom(w, r)
	if s == nil {
		return
	}

	table := chi.URLParam(r, "table")
	key, ok := h.parseKey(w, r, s, table)
	if !ok {
		return
	}

	if err := s.Delete(table, key); err != nil {
		h.storeError(w, err)
		return
	}
	h.jsonSuccess(w, "deleted")
}

// ClearTable removes every record from the table.
func (h *Handlers) ClearTable(w http.ResponseWriter, r *http.Request) {
	s := h.storeFrom(w, r)
	if s == nil {
		return
	}

	if err := s.Clear(chi.URLParam(r, "table")); err != nil {
		h.storeError(w, err)
		return
	}
	h.jsonSuccess(w, "cleared")
}

// CountRecords returns the number of records in the table.
func (h *Handlers) CountRecords(w http.ResponseWriter, r *http.Request) {
	s := h.storeFrom(w, r)
	if s == nil {
		return
	}

	count, err := s.Count(chi.URLParam(r, "table"))
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.jsonResponse(w, map[string]int64{"count": count}, http.StatusOK)
}

// ListRecords returns records matching the query string. Reserved parameters
// control paging and ordering; any other parameter filters a declared field
// by equality.
func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	s := h.storeFrom(w, r)
	if s == nil {
		return
	}

	opts := store.ListOptions{}
	query := r.URL.Query()

	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.jsonError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		opts.Limit = n
	}
	if v := query.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.jsonError(w, "Invalid offset", http.StatusBadRequest)
			return
		}
		opts.Offset = n
	}
	opts.OrderBy = query.Get("order_by")
	opts.Desc = query.Get("desc") == "true"

	for name, values := range query {
		if listParams[name] || len(values) == 0 {
			continue
		}
		if opts.Where == nil {
			opts.Where = store.Record{}
		}
		opts.Where[name] = coerceValue(values[0])
	}

	records, err := s.List(chi.URLParam(r, "table"), opts)
	if err != nil {
		h.storeError(w, err)
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	h.jsonResponse(w, records, http.StatusOK)
}

// decodeRecord reads the request body as a JSON record.
func (h *Handlers) decodeRecord(w http.ResponseWriter, r *http.Request) (store.Record, bool) {
	var rec store.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		h.jsonError(w, "Invalid JSON body", http.StatusBadRequest)
		return nil, false
	}
	return rec, true
}

// parseKey reads the {key} URL parameter in the table's key type.
func (h *Handlers) parseKey(w http.ResponseWriter, r *http.Request, s *store.Store, table string) (any, bool) {
	raw := chi.URLParam(r, "key")
	t := s.Table(table)
	if t == nil {
		h.jsonError(w, "Table not found", http.StatusNotFound)
		return nil, false
	}
	if t.AutoKey {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.jsonError(w, "Invalid record key", http.StatusBadRequest)
			return nil, false
		}
		return id, true
	}
	return raw, true
}

// coerceValue interprets a query parameter as JSON when possible so numeric
// and boolean filters match typed columns; anything else stays a string.
func coerceValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		switch v.(type) {
		case float64, bool:
			return v
		}
	}
	return raw
}
