package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// bindValue converts a record value into something the driver stores
// directly. Scalars pass through; composite values (maps, slices, structs)
// are stored as JSON text in their extracted column.
func bindValue(table, field string, v any) (any, error) {
	switch v.(type) {
	case nil, bool, string, []byte,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		time.Time:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("table %q: failed to encode field %q: %w", table, field, err)
		}
		return string(data), nil
	}
}

// encodeRecord produces the canonical JSON stored in the data column.
func encodeRecord(table string, rec Record) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("table %q: failed to encode record: %w", table, err)
	}
	return string(data), nil
}

// decodeRecord rebuilds a record from the data column. Values come back with
// JSON types: numbers as float64, composites as map[string]any / []any.
func decodeRecord(table, data string) (Record, error) {
	rec := make(Record)
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("table %q: failed to decode record: %w", table, err)
	}
	return rec, nil
}
