// Package kinds is the catalogue of record kinds shared by agent and server:
// upload paths, body keys, natural ids and field configurations.
package kinds

import (
	"slices"
	"sort"

	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/models"
	"github.com/dmitrijs2005/contexter/internal/normalize"
)

// Kind describes one record kind.
type Kind struct {
	// Name identifies the kind in URLs, scopes, metadata keys and storage.
	Name string
	// Plural is the upload body key holding the items.
	Plural string
	// Path is the upload endpoint.
	Path string
	// CountKey, when set, carries the chunk length in the upload body.
	CountKey string
	// IDField holds the natural id.
	IDField string
	// TimeField holds the timestamp used for checkpoints and read ordering.
	TimeField string
	Fields    FieldConfig
	// New returns a pointer to the typed struct items are validated against.
	New func() any
}

const (
	Message         = "imessage"
	WhatsAppMessage = "whatsapp"
	Contact         = "contacts"
	Reminder        = "reminders"
	Note            = "notes"
	Sticky          = "stickies"
	Screenshot      = "screenshots"
)

var catalogue = map[string]Kind{
	Message: {
		Name:      Message,
		Plural:    "messages",
		Path:      "/api/imessages",
		CountKey:  "messageCount",
		IDField:   "id",
		TimeField: "date",
		Fields: FieldConfig{
			EncryptedFields: []string{"text", "contact"},
			SearchIndexes:   []IndexSpec{{Field: "contact", Normalizer: normalize.NameContact}},
			BinaryFields:    []string{"attachments[].dataBase64"},
		},
		New: func() any { return &models.Message{} },
	},
	WhatsAppMessage: {
		Name:      WhatsAppMessage,
		Plural:    "messages",
		Path:      "/api/whatsapp/messages",
		CountKey:  "messageCount",
		IDField:   "id",
		TimeField: "timestamp",
		Fields: FieldConfig{
			EncryptedFields: []string{"text", "chatName", "senderName", "senderPhoneNumber"},
			SearchIndexes: []IndexSpec{
				{Field: "chatName", Normalizer: normalize.NameSearchString},
				{Field: "senderName", Normalizer: normalize.NameSearchString},
				{Field: "senderPhoneNumber", Normalizer: normalize.NamePhone},
			},
		},
		New: func() any { return &models.WhatsAppMessage{} },
	},
	Contact: {
		Name:    Contact,
		Plural:  "contacts",
		Path:    "/api/icontacts",
		IDField: "id",
		Fields: FieldConfig{
			EncryptedFields:      []string{"firstName", "lastName", "organization"},
			EncryptedArrayFields: []string{"emails", "phoneNumbers"},
			SearchIndexes: []IndexSpec{
				{Field: "firstName", Normalizer: normalize.NameSearchString},
				{Field: "lastName", Normalizer: normalize.NameSearchString},
			},
			SearchIndexArrays: []IndexSpec{{Field: "phoneNumbers", Normalizer: normalize.NamePhone}},
		},
		New: func() any { return &models.Contact{} },
	},
	Reminder: {
		Name:      Reminder,
		Plural:    "reminders",
		Path:      "/api/apple-reminders",
		IDField:   "id",
		TimeField: "lastModifiedDate",
		Fields:    FieldConfig{EncryptedFields: []string{"title", "notes", "listName"}},
		New:       func() any { return &models.Reminder{} },
	},
	Note: {
		Name:      Note,
		Plural:    "notes",
		Path:      "/api/apple-notes",
		IDField:   "id",
		TimeField: "modifiedAt",
		Fields:    FieldConfig{EncryptedFields: []string{"title", "body"}},
		New:       func() any { return &models.Note{} },
	},
	Sticky: {
		Name:      Sticky,
		Plural:    "stickies",
		Path:      "/api/macos-stickies",
		IDField:   "id",
		TimeField: "modifiedAt",
		Fields:    FieldConfig{EncryptedFields: []string{"text"}},
		New:       func() any { return &models.Sticky{} },
	},
	Screenshot: {
		Name:      Screenshot,
		Plural:    "screenshots",
		Path:      "/api/screenshots",
		IDField:   "id",
		TimeField: "capturedAt",
		Fields:    FieldConfig{BinaryFields: []string{"data"}},
		New:       func() any { return &models.Screenshot{} },
	},
}

// Get returns the kind registered under name.
func Get(name string) (Kind, error) {
	k, ok := catalogue[name]
	if !ok {
		return Kind{}, common.ErrorUnknownKind
	}
	return k, nil
}

// All returns every kind ordered by name.
func All() []Kind {
	out := make([]Kind, 0, len(catalogue))
	for _, k := range catalogue {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IndexSpec returns the search index configured on field. Both the source
// field name and its index field name are accepted.
func (k Kind) IndexSpec(field string) (IndexSpec, bool) {
	for _, s := range slices.Concat(k.Fields.SearchIndexes, k.Fields.SearchIndexArrays) {
		if s.Field == field || s.IndexField() == field {
			return s, true
		}
	}
	return IndexSpec{}, false
}

// IndexFields lists the index fields a kind's records may carry, scalar
// first, then array.
func (k Kind) IndexFields() (scalar, array []string) {
	for _, s := range k.Fields.SearchIndexes {
		scalar = append(scalar, s.IndexField())
	}
	for _, s := range k.Fields.SearchIndexArrays {
		array = append(array, s.IndexField())
	}
	return scalar, array
}
