package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/contexter/internal/dbx"
	"github.com/dmitrijs2005/contexter/internal/kinds"
	"github.com/dmitrijs2005/contexter/internal/server/models"
)

var syncTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func rawItems(t *testing.T, items ...any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it)
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func note(id int, title string) map[string]any {
	return map[string]any{"id": id, "title": title, "body": "b", "modifiedAt": "2025-05-01T10:00:00Z"}
}

func mustKind(t *testing.T, name string) kinds.Kind {
	t.Helper()
	k, err := kinds.Get(name)
	require.NoError(t, err)
	return k
}

func expectSavepoint(mock sqlmock.Sqlmock, name string) {
	mock.ExpectExec("^SAVEPOINT " + name + "$").WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectRelease(mock sqlmock.Sqlmock, name string) {
	mock.ExpectExec("^RELEASE SAVEPOINT " + name + "$").WillReturnResult(sqlmock.NewResult(0, 0))
}

// expectTx expects one transaction writing the given number of sub-batches.
func expectTx(mock sqlmock.Sqlmock, batches int) {
	mock.ExpectBegin()
	for range batches {
		expectSavepoint(mock, "upsert_batch")
		expectRelease(mock, "upsert_batch")
	}
	mock.ExpectCommit()
}

func TestIngest_RejectsInvalidItemsIndividually(t *testing.T) {
	db, mock := newSQLMockDB(t)
	expectTx(mock, 1)
	rm := newFakeRepoManager()
	s := NewIngestService(db, rm, nil, nopLogger)

	items := rawItems(t,
		note(1, "ok"),
		map[string]any{"id": 2, "title": "no date"},
		map[string]any{"id": "three", "modifiedAt": "2025-05-01T10:00:00Z"},
		note(4, "also ok"),
	)

	c, err := s.Upsert(context.Background(), mustKind(t, kinds.Note), items, syncTime, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Inserted)
	assert.Zero(t, c.Updated)
	require.Len(t, c.Rejected, 2)
	assert.Equal(t, 1, c.Rejected[0].Index)
	assert.Contains(t, c.Rejected[0].Error, "ModifiedAt")
	assert.Equal(t, 2, c.Rejected[1].Index)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, rm.activity.entries, 1)
	a := rm.activity.entries[0]
	assert.Equal(t, models.DirectionWrite, a.Direction)
	assert.Equal(t, 2, a.Count)
	assert.Equal(t, "dev-1", a.Actor)
}

func TestIngest_ResubmitCountsUpdated(t *testing.T) {
	db, mock := newSQLMockDB(t)
	expectTx(mock, 1)
	expectTx(mock, 1)
	rm := newFakeRepoManager()
	s := NewIngestService(db, rm, nil, nopLogger)
	k := mustKind(t, kinds.Note)
	items := rawItems(t, note(1, "a"), note(2, "b"), note(3, "c"))

	first, err := s.Upsert(context.Background(), k, items, syncTime, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 3, first.Inserted)

	second, err := s.Upsert(context.Background(), k, items, syncTime.Add(time.Minute), "dev-1")
	require.NoError(t, err)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, 3, second.Updated)
	assert.Len(t, rm.records.rows, 3)
	assert.Equal(t, syncTime.Add(time.Minute), rm.records.rows["notes/2"].SyncTime)
}

func TestIngest_DuplicateIDsLastWins(t *testing.T) {
	db, mock := newSQLMockDB(t)
	expectTx(mock, 1)
	rm := newFakeRepoManager()
	s := NewIngestService(db, rm, nil, nopLogger)

	items := rawItems(t, note(7, "first"), note(8, "other"), note(7, "second"))
	c, err := s.Upsert(context.Background(), mustKind(t, kinds.Note), items, syncTime, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Inserted)
	assert.Equal(t, 1, c.Skipped)

	var stored map[string]any
	require.NoError(t, json.Unmarshal(rm.records.rows["notes/7"].Payload, &stored))
	assert.Equal(t, "second", stored["title"])
}

func TestIngest_SubBatches(t *testing.T) {
	db, mock := newSQLMockDB(t)
	expectTx(mock, 3)
	rm := newFakeRepoManager()
	s := NewIngestService(db, rm, nil, nopLogger)

	var items []any
	for i := 1; i <= 120; i++ {
		items = append(items, note(i, fmt.Sprintf("n%d", i)))
	}

	c, err := s.Upsert(context.Background(), mustKind(t, kinds.Note), rawItems(t, items...), syncTime, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 120, c.Inserted)
	assert.Equal(t, []int{50, 50, 20}, rm.records.chunks)
}

func TestIngest_IndexFieldsMovedToIndexes(t *testing.T) {
	db, mock := newSQLMockDB(t)
	expectTx(mock, 1)
	rm := newFakeRepoManager()
	s := NewIngestService(db, rm, nil, nopLogger)

	contact := map[string]any{
		"id":                "c1",
		"firstName":         "enc-first",
		"firstNameIndex":    "tok-first",
		"lastName":          "enc-last",
		"lastNameIndex":     "",
		"phoneNumbers":      []string{"enc-1", "enc-2"},
		"phoneNumbersIndex": []string{"tok-1", "tok-2"},
	}
	_, err := s.Upsert(context.Background(), mustKind(t, kinds.Contact), rawItems(t, contact), syncTime, "dev-1")
	require.NoError(t, err)

	row := rm.records.rows["contacts/c1"]
	assert.JSONEq(t, `{"firstNameIndex":"tok-first","phoneNumbersIndex":["tok-1","tok-2"]}`, string(row.Indexes))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(row.Payload, &payload))
	assert.NotContains(t, payload, "firstNameIndex")
	assert.NotContains(t, payload, "lastNameIndex")
	assert.NotContains(t, payload, "phoneNumbersIndex")
	assert.Equal(t, "enc-first", payload["firstName"])
}

func TestIngest_AttachmentsOffloaded(t *testing.T) {
	db, mock := newSQLMockDB(t)
	expectTx(mock, 1)
	rm := newFakeRepoManager()
	store := &fakeStore{objects: map[string]string{}}
	s := NewIngestService(db, rm, store, nopLogger)

	msg := map[string]any{
		"id":      "m1",
		"text":    "enc",
		"contact": "enc",
		"date":    "2025-05-01T10:00:00Z",
		"attachments": []any{
			map[string]any{"id": "a1", "filename": "x.png", "size": 3, "dataBase64": "cipher-bytes"},
			map[string]any{"id": "a2", "filename": "y.png", "size": 0},
		},
	}
	c, err := s.Upsert(context.Background(), mustKind(t, kinds.Message), rawItems(t, msg), syncTime, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Inserted)

	assert.Equal(t, map[string]string{"attachments/m1/a1": "cipher-bytes"}, store.objects)

	var payload struct {
		Attachments []map[string]any `json:"attachments"`
	}
	require.NoError(t, json.Unmarshal(rm.records.rows["imessage/m1"].Payload, &payload))
	require.Len(t, payload.Attachments, 2)
	assert.Equal(t, "attachments/m1/a1", payload.Attachments[0][StorageKeyField])
	assert.NotContains(t, payload.Attachments[0], "dataBase64")
	assert.NotContains(t, payload.Attachments[1], StorageKeyField)
}

func TestIngest_ScreenshotDataOffloaded(t *testing.T) {
	db, mock := newSQLMockDB(t)
	expectTx(mock, 1)
	rm := newFakeRepoManager()
	store := &fakeStore{objects: map[string]string{}}
	s := NewIngestService(db, rm, store, nopLogger)

	shot := map[string]any{
		"id":         "s1",
		"filename":   "shot.png",
		"mimeType":   "image/png",
		"width":      640,
		"height":     480,
		"size":       4,
		"capturedAt": "2025-05-01T10:00:00Z",
		"data":       "cipher-image",
	}
	c, err := s.Upsert(context.Background(), mustKind(t, kinds.Screenshot), rawItems(t, shot), syncTime, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Inserted)
	assert.Equal(t, map[string]string{"screenshots/s1/data": "cipher-image"}, store.objects)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rm.records.rows["screenshots/s1"].Payload, &payload))
	assert.Equal(t, "screenshots/s1/data", payload["dataStorageKey"])
	assert.NotContains(t, payload, "data")
	assert.Equal(t, "shot.png", payload["filename"])
}

func TestIngest_FailingRowIsRejectedOthersKept(t *testing.T) {
	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	expectSavepoint(mock, "upsert_batch")
	mock.ExpectExec("^ROLLBACK TO SAVEPOINT upsert_batch$").WillReturnResult(sqlmock.NewResult(0, 0))
	for i := 1; i <= 5; i++ {
		expectSavepoint(mock, "upsert_row")
		if i == 3 {
			mock.ExpectExec("^ROLLBACK TO SAVEPOINT upsert_row$").WillReturnResult(sqlmock.NewResult(0, 0))
			continue
		}
		expectRelease(mock, "upsert_row")
	}
	mock.ExpectCommit()

	rm := newFakeRepoManager()
	rm.records.failIDs = map[string]error{"3": errors.New("invalid byte sequence for encoding")}
	s := NewIngestService(db, rm, nil, nopLogger)

	items := rawItems(t,
		map[string]any{"id": 0},
		note(1, "a"), note(2, "b"), note(3, "poison"), note(4, "d"), note(5, "e"),
	)
	c, err := s.Upsert(context.Background(), mustKind(t, kinds.Note), items, syncTime, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 4, c.Inserted)
	require.Len(t, c.Rejected, 2)
	assert.Equal(t, 0, c.Rejected[0].Index)
	assert.Equal(t, 3, c.Rejected[1].Index, "position in the upload, not in the batch")
	assert.Contains(t, c.Rejected[1].Error, "invalid byte sequence")

	assert.Len(t, rm.records.rows, 4)
	assert.NotContains(t, rm.records.rows, "notes/3")
	require.Len(t, rm.activity.entries, 1)
	assert.Equal(t, 4, rm.activity.entries[0].Count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_BrokenTransactionRollsBack(t *testing.T) {
	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	expectSavepoint(mock, "upsert_batch")
	mock.ExpectExec("^ROLLBACK TO SAVEPOINT upsert_batch$").WillReturnError(errors.New("conn closed"))
	mock.ExpectRollback()
	rm := newFakeRepoManager()
	rm.records.upsertErr = errors.New("db down")
	s := NewIngestService(db, rm, nil, nopLogger)

	_, err := s.Upsert(context.Background(), mustKind(t, kinds.Note), rawItems(t, note(1, "a")), syncTime, "dev-1")
	require.ErrorContains(t, err, "db down")
	require.ErrorIs(t, err, dbx.ErrTxAborted)
	assert.Empty(t, rm.activity.entries)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_AllRejectedSkipsDatabase(t *testing.T) {
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	s := NewIngestService(db, rm, nil, nopLogger)

	c, err := s.Upsert(context.Background(), mustKind(t, kinds.Note), rawItems(t, map[string]any{"id": 0}), syncTime, "dev-1")
	require.NoError(t, err)
	assert.Len(t, c.Rejected, 1)
	assert.Empty(t, rm.records.chunks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIngest_NotAnObject(t *testing.T) {
	db, _ := newSQLMockDB(t)
	s := NewIngestService(db, newFakeRepoManager(), nil, nopLogger)

	c, err := s.Upsert(context.Background(), mustKind(t, kinds.Sticky), []json.RawMessage{json.RawMessage(`"text"`), json.RawMessage(`null`)}, syncTime, "dev-1")
	require.NoError(t, err)
	assert.Len(t, c.Rejected, 2)
}
