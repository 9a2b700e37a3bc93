// Package models defines the records exchanged between agent and server.
//
// Collectors produce the typed structs below; the transformer and uploader
// work on the generic Record form; the server decodes each uploaded item
// back into the typed struct of its kind for validation.
package models

import (
	"encoding/json"
	"fmt"
)

// Record is a JSON object of a specific kind.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ToRecords converts typed items to generic records through their JSON form.
func ToRecords[T any](items []T) ([]Record, error) {
	out := make([]Record, 0, len(items))
	for i, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return nil, fmt.Errorf("marshal item %d: %w", i, err)
		}
		var r Record
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("unmarshal item %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}
