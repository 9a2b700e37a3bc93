package agent

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/contexter/internal/agent/backfill"
	"github.com/dmitrijs2005/contexter/internal/agent/config"
	"github.com/dmitrijs2005/contexter/internal/agent/sources/imagesrc"
	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/cryptox"
	"github.com/dmitrijs2005/contexter/internal/kinds"
	"github.com/dmitrijs2005/contexter/internal/shared"
)

type fakeServer struct {
	mu       sync.Mutex
	uploaded []map[string]any
	bodies   int
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/devices/register":
		_ = json.NewEncoder(w).Encode(shared.RegisterDeviceResponse{DeviceID: "dev-1", Secret: "s3cret"})
	case "/api/imessages":
		if r.Header.Get("x-device-id") != "dev-1" || r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			Messages []map[string]any `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.uploaded = append(f.uploaded, body.Messages...)
		f.bodies++
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(shared.SyncResponse{Success: true, InsertedCount: len(body.Messages)})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeChatDB(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
CREATE TABLE handle (ROWID INTEGER PRIMARY KEY, id TEXT);
CREATE TABLE chat (ROWID INTEGER PRIMARY KEY, guid TEXT, style INTEGER);
CREATE TABLE message (ROWID INTEGER PRIMARY KEY, guid TEXT, text TEXT, handle_id INTEGER,
    is_from_me INTEGER, date INTEGER, service TEXT);
CREATE TABLE chat_message_join (chat_id INTEGER, message_id INTEGER);
CREATE TABLE attachment (ROWID INTEGER PRIMARY KEY, guid TEXT, filename TEXT, mime_type TEXT, total_bytes INTEGER);
CREATE TABLE message_attachment_join (message_id INTEGER, attachment_id INTEGER);
INSERT INTO handle VALUES (1, 'friend@example.com');`)
	require.NoError(t, err)

	epoch := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now()
	for i := 1; i <= n; i++ {
		at := now.Add(-time.Duration(i) * time.Hour)
		_, err := db.Exec(`INSERT INTO message VALUES (?, ?, 'secret text', 1, 0, ?, 'iMessage')`,
			i, fmt.Sprintf("guid-%d", i), at.Sub(epoch).Nanoseconds())
		require.NoError(t, err)
	}
	return path
}

func newTestApp(t *testing.T, serverURL, chatDB string) *App {
	t.Helper()
	var c config.Config
	c.LoadDefaults()
	c.ServerURL = serverURL
	c.DataDir = t.TempDir()
	c.ExportDir = t.TempDir()
	c.BackfillBatchSize = 5
	c.ChunkSize = 3
	src := c.Sources[kinds.Message]
	src.Path = chatDB
	c.Sources[kinds.Message] = src

	app, err := NewApp(context.Background(), &c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestApp_RequiresRegistration(t *testing.T) {
	app := newTestApp(t, "http://127.0.0.1:1", writeChatDB(t, 1))

	_, err := app.Backfill(context.Background(), kinds.Message, 1)
	require.ErrorIs(t, err, ErrNotRegistered)
	require.ErrorIs(t, app.Run(context.Background()), ErrNotRegistered)
}

func TestApp_SetKeyFingerprintIsStable(t *testing.T) {
	app := newTestApp(t, "http://127.0.0.1:1", writeChatDB(t, 1))
	ctx := context.Background()

	a, err := app.SetKey(ctx, []byte("correct horse"), nil)
	require.NoError(t, err)
	b, err := app.SetKey(ctx, []byte("correct horse"), nil)
	require.NoError(t, err)
	c, err := app.SetKey(ctx, []byte("battery staple"), nil)
	require.NoError(t, err)

	assert.Len(t, a, 16)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err = app.SetKey(ctx, nil, nil)
	require.Error(t, err)
}

func TestApp_SamePassphraseSameTokensAcrossInstalls(t *testing.T) {
	ctx := context.Background()
	laptop := newTestApp(t, "http://127.0.0.1:1", writeChatDB(t, 1))
	desktop := newTestApp(t, "http://127.0.0.1:1", writeChatDB(t, 1))

	fpA, err := laptop.SetKey(ctx, []byte("correct horse"), nil)
	require.NoError(t, err)
	fpB, err := desktop.SetKey(ctx, []byte("correct horse"), nil)
	require.NoError(t, err)
	assert.Equal(t, fpA, fpB)

	keysA, err := laptop.store.Keys(ctx)
	require.NoError(t, err)
	keysB, err := desktop.store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, cryptox.SearchIndex("alice", keysA), cryptox.SearchIndex("alice", keysB))

	paramA, tokA, err := laptop.IndexToken(ctx, kinds.Contact, "lastName", "Müller")
	require.NoError(t, err)
	_, tokB, err := desktop.IndexToken(ctx, kinds.Contact, "lastNameIndex", "muller")
	require.NoError(t, err)
	assert.Equal(t, "lastNameIndex", paramA)
	assert.Equal(t, tokA, tokB)

	// an imported salt gives a different key
	fpC, err := desktop.SetKey(ctx, []byte("correct horse"), []byte("team-salt"))
	require.NoError(t, err)
	assert.NotEqual(t, fpA, fpC)
	_, tokC, err := desktop.IndexToken(ctx, kinds.Contact, "lastName", "Müller")
	require.NoError(t, err)
	assert.NotEqual(t, tokA, tokC)
}

func TestApp_IndexTokenErrors(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t, "http://127.0.0.1:1", writeChatDB(t, 1))

	_, _, err := app.IndexToken(ctx, kinds.Contact, "lastName", "x")
	require.ErrorIs(t, err, common.ErrNoEncryptionKey)

	_, err = app.SetKey(ctx, []byte("pass"), nil)
	require.NoError(t, err)

	_, _, err = app.IndexToken(ctx, "faxes", "number", "x")
	require.ErrorIs(t, err, common.ErrorUnknownKind)
	_, _, err = app.IndexToken(ctx, kinds.Contact, "organization", "Acme")
	require.ErrorIs(t, err, common.ErrorValidation)
	_, _, err = app.IndexToken(ctx, kinds.Contact, "lastName", "---")
	require.ErrorIs(t, err, common.ErrorValidation)

	param, tok, err := app.IndexToken(ctx, kinds.WhatsAppMessage, "senderPhoneNumber", "+44 20 7946 0000")
	require.NoError(t, err)
	assert.Equal(t, "senderPhoneNumberIndex", param)
	assert.Len(t, tok, 64)
}

func TestApp_ScreenshotCollector(t *testing.T) {
	app := newTestApp(t, "http://unused", writeChatDB(t, 0))
	k, err := kinds.Get(kinds.Screenshot)
	require.NoError(t, err)
	dir := t.TempDir()

	c, open, err := app.collector(k, config.Source{Path: dir})
	require.NoError(t, err)
	assert.Nil(t, open, "screenshots have no backfill database")
	src, ok := c.(*imagesrc.Source)
	require.True(t, ok)
	assert.Equal(t, dir, src.Dir)
}

func TestApp_RegisterAndBackfill(t *testing.T) {
	fs := &fakeServer{}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	app := newTestApp(t, srv.URL, writeChatDB(t, 30))
	ctx := context.Background()

	id, err := app.Register(ctx, "admin", "laptop")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", id)
	_, err = app.SetKey(ctx, []byte("pass"), nil)
	require.NoError(t, err)

	// 30 hourly messages, 24 of them inside one day
	p, err := app.Backfill(ctx, kinds.Message, 1)
	require.NoError(t, err)
	assert.Equal(t, backfill.StatusCompleted, p.Status)
	assert.Equal(t, 5, p.Total)
	assert.Equal(t, 5, p.Current)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Len(t, fs.uploaded, 23)
	for _, m := range fs.uploaded {
		assert.NotEqual(t, "secret text", m["text"])
		assert.NotEqual(t, "friend@example.com", m["contact"])
		assert.NotEmpty(t, m["contactIndex"])
	}

	var out bytes.Buffer
	require.NoError(t, app.Status(ctx, &out))
	assert.Contains(t, out.String(), "dev-1")
	assert.Contains(t, out.String(), "/api/imessages")
}

func TestApp_BackfillUnknownSource(t *testing.T) {
	fs := &fakeServer{}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	app := newTestApp(t, srv.URL, writeChatDB(t, 1))
	_, err := app.Register(context.Background(), "admin", "laptop")
	require.NoError(t, err)

	_, err = app.Backfill(context.Background(), kinds.Note, 1)
	require.Error(t, err)
}
