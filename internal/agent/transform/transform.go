// Package transform turns collected records into upload-ready payloads:
// search indexes are computed from plaintext, then configured fields are
// encrypted in place. Unconfigured fields pass through untouched.
package transform

import (
	"encoding/base64"
	"fmt"

	"github.com/dmitrijs2005/contexter/internal/cryptox"
	"github.com/dmitrijs2005/contexter/internal/kinds"
	"github.com/dmitrijs2005/contexter/internal/models"
	"github.com/dmitrijs2005/contexter/internal/normalize"
)

// Transform applies cfg to every record. Input records are not modified.
//
// Per record the order is fixed: scalar indexes, array indexes, encrypted
// scalars, encrypted arrays, binary fields. Indexes must read plaintext
// before it is overwritten.
func Transform(records []models.Record, cfg kinds.FieldConfig, keys *cryptox.Keys) ([]models.Record, error) {
	if keys == nil {
		return nil, cryptox.ErrNoKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	out := make([]models.Record, 0, len(records))
	for i, r := range records {
		t, err := transformOne(r, cfg, keys)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func transformOne(r models.Record, cfg kinds.FieldConfig, keys *cryptox.Keys) (models.Record, error) {
	out := r.Clone()

	for _, s := range cfg.SearchIndexes {
		v, ok := out[s.Field].(string)
		if !ok || v == "" {
			continue
		}
		if tok := IndexToken(v, s, keys); tok != "" {
			out[s.IndexField()] = tok
		}
	}

	for _, s := range cfg.SearchIndexArrays {
		raw, ok := out[s.Field]
		if !ok || raw == nil {
			continue
		}
		vals := stringSlice(raw)
		tokens := make([]string, 0, len(vals))
		for _, v := range vals {
			if tok := IndexToken(v, s, keys); tok != "" {
				tokens = append(tokens, tok)
			}
		}
		out[s.IndexField()] = tokens
	}

	for _, f := range cfg.EncryptedFields {
		v, ok := out[f].(string)
		if !ok || v == "" {
			continue
		}
		c, err := cryptox.Encrypt(v, keys)
		if err != nil {
			return nil, fmt.Errorf("encrypt %s: %w", f, err)
		}
		out[f] = c
	}

	for _, f := range cfg.EncryptedArrayFields {
		raw, ok := out[f]
		if !ok || raw == nil {
			continue
		}
		vals := stringSlice(raw)
		enc := make([]any, len(vals))
		for i, v := range vals {
			c, err := cryptox.Encrypt(v, keys)
			if err != nil {
				return nil, fmt.Errorf("encrypt %s[%d]: %w", f, i, err)
			}
			enc[i] = c
		}
		out[f] = enc
	}

	for _, p := range cfg.BinaryFields {
		if err := encryptBinaryPath(out, p, keys); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// IndexToken is the search index token of value under spec, the same one
// Transform stores, so a searching client can query by it. It is empty when
// value normalizes to nothing or the normalizer is unknown.
func IndexToken(value string, spec kinds.IndexSpec, keys *cryptox.Keys) string {
	norm, ok := normalize.Lookup(spec.Normalizer)
	if !ok {
		return ""
	}
	n := norm(value)
	if n == "" {
		return ""
	}
	return cryptox.SearchIndex(n, keys)
}

func encryptBinaryPath(r models.Record, path string, keys *cryptox.Keys) error {
	list, field, err := kinds.SplitBinaryPath(path)
	if err != nil {
		return err
	}
	if list == "" {
		return encryptBinaryField(r, field, keys)
	}

	items, ok := r[list].([]any)
	if !ok {
		return nil
	}
	copied := make([]any, len(items))
	for i, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			copied[i] = it
			continue
		}
		c := models.Record(obj).Clone()
		if err := encryptBinaryField(c, field, keys); err != nil {
			return fmt.Errorf("%s[%d]: %w", list, i, err)
		}
		copied[i] = map[string]any(c)
	}
	r[list] = copied
	return nil
}

func encryptBinaryField(r models.Record, field string, keys *cryptox.Keys) error {
	v, ok := r[field].(string)
	if !ok || v == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return fmt.Errorf("decode %s: %w", field, err)
	}
	c, err := cryptox.EncryptBinary(data, keys)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", field, err)
	}
	r[field] = c
	return nil
}

// stringSlice accepts []string or []any holding strings; other elements
// are skipped.
func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
