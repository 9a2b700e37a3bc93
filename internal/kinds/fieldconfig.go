package kinds

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dmitrijs2005/contexter/internal/normalize"
)

// IndexSuffix is appended to a field name to form its index field.
const IndexSuffix = "Index"

// IndexSpec attaches a search index to a source field.
type IndexSpec struct {
	Field      string `json:"field"`
	Normalizer string `json:"normalizer"`
}

// IndexField returns the name of the field holding the index tokens.
func (s IndexSpec) IndexField() string { return s.Field + IndexSuffix }

// FieldConfig declares, for one record kind, which fields are encrypted
// and which get a search index.
//
// BinaryFields hold base64 payloads and may address objects nested in an
// array with the "list[].field" form.
type FieldConfig struct {
	EncryptedFields      []string    `json:"encryptedFields,omitempty"`
	EncryptedArrayFields []string    `json:"encryptedArrayFields,omitempty"`
	SearchIndexes        []IndexSpec `json:"searchIndexes,omitempty"`
	SearchIndexArrays    []IndexSpec `json:"searchIndexArrays,omitempty"`
	BinaryFields         []string    `json:"binaryFields,omitempty"`
}

// Validate checks that every indexed field is also encrypted and that every
// normalizer is known. An index without encryption would leave plaintext
// in the uploaded record.
func (c FieldConfig) Validate() error {
	for _, s := range c.SearchIndexes {
		if !slices.Contains(c.EncryptedFields, s.Field) {
			return fmt.Errorf("search index on %q: field is not in encryptedFields", s.Field)
		}
		if _, ok := normalize.Lookup(s.Normalizer); !ok {
			return fmt.Errorf("search index on %q: unknown normalizer %q", s.Field, s.Normalizer)
		}
	}
	for _, s := range c.SearchIndexArrays {
		if !slices.Contains(c.EncryptedArrayFields, s.Field) {
			return fmt.Errorf("array search index on %q: field is not in encryptedArrayFields", s.Field)
		}
		if _, ok := normalize.Lookup(s.Normalizer); !ok {
			return fmt.Errorf("array search index on %q: unknown normalizer %q", s.Field, s.Normalizer)
		}
	}
	for _, p := range c.BinaryFields {
		if _, _, err := SplitBinaryPath(p); err != nil {
			return err
		}
	}
	return nil
}

// SplitBinaryPath splits "list[].field" into ("list", "field").
// A plain field name yields ("", field).
func SplitBinaryPath(p string) (list, field string, err error) {
	if p == "" {
		return "", "", fmt.Errorf("empty binary field path")
	}
	before, after, found := strings.Cut(p, "[].")
	if !found {
		if strings.Contains(p, "[") {
			return "", "", fmt.Errorf("binary field path %q: want name or list[].name", p)
		}
		return "", p, nil
	}
	if before == "" || after == "" || strings.Contains(after, "[") {
		return "", "", fmt.Errorf("binary field path %q: want name or list[].name", p)
	}
	return before, after, nil
}
