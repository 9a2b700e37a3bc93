package transform

import (
	"encoding/base64"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/contexter/internal/cryptox"
	"github.com/dmitrijs2005/contexter/internal/kinds"
	"github.com/dmitrijs2005/contexter/internal/models"
	"github.com/dmitrijs2005/contexter/internal/normalize"
)

func testKeys(t *testing.T) *cryptox.Keys {
	t.Helper()
	k, err := cryptox.DeriveKeys("k1")
	require.NoError(t, err)
	return k
}

func contactConfig(t *testing.T) kinds.FieldConfig {
	t.Helper()
	k, err := kinds.Get(kinds.Contact)
	require.NoError(t, err)
	return k.Fields
}

func decrypt(t *testing.T, v any, keys *cryptox.Keys) string {
	t.Helper()
	s, ok := v.(string)
	require.True(t, ok, "expected string ciphertext, got %T", v)
	p, err := cryptox.Decrypt(s, keys)
	require.NoError(t, err)
	return p
}

func TestTransform_Contact(t *testing.T) {
	keys := testKeys(t)
	in := models.Record{
		"id":           "c1",
		"firstName":    "José",
		"lastName":     "",
		"organization": nil,
		"emails":       []any{"jose@example.com"},
		"phoneNumbers": []any{"+1 (234) 567-8900", "n/a", ""},
		"starred":      true,
	}

	out, err := Transform([]models.Record{in}, contactConfig(t), keys)
	require.NoError(t, err)
	require.Len(t, out, 1)
	r := out[0]

	assert.Equal(t, "José", decrypt(t, r["firstName"], keys))
	assert.Equal(t, cryptox.SearchIndex("jose", keys), r["firstNameIndex"])

	// empty values pass through and get no index
	assert.Equal(t, "", r["lastName"])
	assert.NotContains(t, r, "lastNameIndex")
	assert.Nil(t, r["organization"])

	// indexes of empty-normalized elements are dropped, not nulled
	assert.Equal(t, []string{cryptox.SearchIndex("+12345678900", keys)}, r["phoneNumbersIndex"])

	phones, ok := r["phoneNumbers"].([]any)
	require.True(t, ok)
	require.Len(t, phones, 3)
	assert.Equal(t, "+1 (234) 567-8900", decrypt(t, phones[0], keys))
	assert.Equal(t, "", decrypt(t, phones[2], keys))

	assert.Equal(t, true, r["starred"])
	assert.Equal(t, "c1", r["id"])
}

func TestTransform_DoesNotMutateInput(t *testing.T) {
	keys := testKeys(t)
	in := models.Record{"id": "c1", "firstName": "Alice", "phoneNumbers": []any{"555"}}
	snapshot := in.Clone()

	_, err := Transform([]models.Record{in}, contactConfig(t), keys)
	require.NoError(t, err)
	assert.True(t, cmp.Equal(snapshot, in))
}

func TestTransform_IndexComputedFromPlaintext(t *testing.T) {
	keys := testKeys(t)
	cfg := kinds.FieldConfig{
		EncryptedFields: []string{"name"},
		SearchIndexes:   []kinds.IndexSpec{{Field: "name", Normalizer: normalize.NameSearchString}},
	}
	out, err := Transform([]models.Record{{"name": "Ñoño"}}, cfg, keys)
	require.NoError(t, err)

	assert.Equal(t, cryptox.SearchIndex("nono", keys), out[0]["nameIndex"])
	assert.NotEqual(t, "Ñoño", out[0]["name"])
}

func TestIndexToken_MatchesStoredIndex(t *testing.T) {
	keys := testKeys(t)
	cfg := contactConfig(t)
	out, err := Transform([]models.Record{{
		"id":           "c1",
		"lastName":     "Müller",
		"phoneNumbers": []any{"+1 (415) 555-0100"},
	}}, cfg, keys)
	require.NoError(t, err)

	k, err := kinds.Get(kinds.Contact)
	require.NoError(t, err)
	last, _ := k.IndexSpec("lastName")
	phone, _ := k.IndexSpec("phoneNumbers")

	// a searching client types the value differently
	assert.Equal(t, out[0]["lastNameIndex"], IndexToken("  MULLER ", last, keys))
	assert.Equal(t, []string{IndexToken("1.415.555.0100", phone, keys)}, out[0]["phoneNumbersIndex"])

	assert.Empty(t, IndexToken("!!!", last, keys))
	assert.Empty(t, IndexToken("x", kinds.IndexSpec{Field: "x", Normalizer: "soundex"}, keys))
}

func TestTransform_RoundTripUnicode(t *testing.T) {
	keys := testKeys(t)
	cfg := kinds.FieldConfig{
		EncryptedFields:      []string{"text"},
		EncryptedArrayFields: []string{"tags"},
	}
	values := []string{"Alice", "Crème brûlée", "日本語テキスト", "🙂🙃", "line\nbreak", "x"}

	var in []models.Record
	for _, v := range values {
		in = append(in, models.Record{"text": v, "tags": []string{v, v + "!"}})
	}
	in = append(in, models.Record{"text": "", "tags": []string{}})

	out, err := Transform(in, cfg, keys)
	require.NoError(t, err)
	require.Len(t, out, len(in))

	for i, v := range values {
		assert.Equal(t, v, decrypt(t, out[i]["text"], keys))
		tags := out[i]["tags"].([]any)
		require.Len(t, tags, 2)
		assert.Equal(t, v, decrypt(t, tags[0], keys))
		assert.Equal(t, v+"!", decrypt(t, tags[1], keys))
	}

	last := out[len(out)-1]
	assert.Equal(t, "", last["text"])
	assert.Empty(t, last["tags"])
}

func TestTransform_MessageAttachments(t *testing.T) {
	keys := testKeys(t)
	k, err := kinds.Get(kinds.Message)
	require.NoError(t, err)

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	in := models.Record{
		"id":      "m1",
		"text":    "hello",
		"contact": "Bob@Example.com",
		"attachments": []any{
			map[string]any{"id": "a1", "dataBase64": base64.StdEncoding.EncodeToString(payload)},
			map[string]any{"id": "a2"},
		},
	}

	out, err := Transform([]models.Record{in}, k.Fields, keys)
	require.NoError(t, err)
	r := out[0]

	assert.Equal(t, cryptox.SearchIndex("bob@example.com", keys), r["contactIndex"])
	assert.Equal(t, "Bob@Example.com", decrypt(t, r["contact"], keys))

	atts := r["attachments"].([]any)
	a1 := atts[0].(map[string]any)
	got, err := cryptox.DecryptBinary(a1["dataBase64"].(string), keys)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.NotContains(t, atts[1].(map[string]any), "dataBase64")

	// input attachment untouched
	orig := in["attachments"].([]any)[0].(map[string]any)
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload), orig["dataBase64"])
}

func TestTransform_Screenshot(t *testing.T) {
	keys := testKeys(t)
	k, err := kinds.Get(kinds.Screenshot)
	require.NoError(t, err)

	png := []byte{0x89, 'P', 'N', 'G'}
	in := models.Record{
		"id":         "s1",
		"filename":   "shot.png",
		"mimeType":   "image/png",
		"width":      640,
		"capturedAt": "2025-05-01T10:00:00Z",
		"data":       base64.StdEncoding.EncodeToString(png),
	}

	out, err := Transform([]models.Record{in}, k.Fields, keys)
	require.NoError(t, err)
	r := out[0]

	got, err := cryptox.DecryptBinary(r["data"].(string), keys)
	require.NoError(t, err)
	assert.Equal(t, png, got)
	assert.Equal(t, "shot.png", r["filename"])
	assert.Equal(t, 640, r["width"])
	assert.Equal(t, "2025-05-01T10:00:00Z", r["capturedAt"])
}

func TestTransform_BadBinaryPayload(t *testing.T) {
	keys := testKeys(t)
	cfg := kinds.FieldConfig{BinaryFields: []string{"blob"}}
	_, err := Transform([]models.Record{{"blob": "%%%"}}, cfg, keys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 0")
}

func TestTransform_NoKey(t *testing.T) {
	_, err := Transform([]models.Record{{"a": "b"}}, kinds.FieldConfig{}, nil)
	require.ErrorIs(t, err, cryptox.ErrNoKey)
}

func TestTransform_InvalidConfig(t *testing.T) {
	cfg := kinds.FieldConfig{
		SearchIndexes: []kinds.IndexSpec{{Field: "name", Normalizer: normalize.NameSearchString}},
	}
	_, err := Transform([]models.Record{{"name": "x"}}, cfg, testKeys(t))
	require.Error(t, err)
}
