package sqlitesrc

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/contexter/internal/agent/backfill"
	"github.com/dmitrijs2005/contexter/internal/agent/sources"
	"github.com/dmitrijs2005/contexter/internal/filex"
	"github.com/dmitrijs2005/contexter/internal/logging"
	"github.com/dmitrijs2005/contexter/internal/models"
)

// MaxAttachmentBytes caps the size of attachment files read into records.
const MaxAttachmentBytes = 10 << 20

// chat.style value of group conversations.
const groupChatStyle = 43

var imessage = dialect{
	name: "imessage",
	from: `SELECT m.ROWID, COALESCE(m.guid, ''), COALESCE(m.text, ''), COALESCE(h.id, ''),
       COALESCE(m.is_from_me, 0), m.date, COALESCE(m.service, ''),
       COALESCE(c.guid, ''), COALESCE(c.style, 0)
  FROM message m
  LEFT JOIN handle h ON h.ROWID = m.handle_id
  LEFT JOIN chat c ON c.ROWID = (
       SELECT cmj.chat_id FROM chat_message_join cmj WHERE cmj.message_id = m.ROWID LIMIT 1)`,
	ts:     "m.date",
	id:     "m.ROWID",
	unit:   time.Nanosecond,
	scan:   scanMessage,
	enrich: attachMessageFiles,
}

// OpenIMessage opens a Messages chat.db read-only.
func OpenIMessage(ctx context.Context, path string, opts sources.FetchOptions, log logging.Logger) (*DB, error) {
	return open(ctx, path, imessage, opts, log)
}

func scanMessage(s *DB, rows *sql.Rows) (backfill.Row, error) {
	var (
		m         models.Message
		isFromMe  int
		date      int64
		chatStyle int
	)
	if err := rows.Scan(&m.RowID, &m.ID, &m.Text, &m.Contact, &isFromMe, &date, &m.Service, &m.ChatID, &chatStyle); err != nil {
		return backfill.Row{}, err
	}
	if m.ID == "" {
		m.ID = fmt.Sprintf("imessage-%d", m.RowID)
	}
	m.IsFromMe = isFromMe != 0
	m.IsGroup = chatStyle == groupChatStyle
	m.Date = s.d.fromDB(date)
	m.Attachments = []models.Attachment{}

	rec, err := toRecord(m)
	if err != nil {
		return backfill.Row{}, err
	}
	return backfill.Row{Cursor: backfill.Cursor{Timestamp: m.Date, ID: m.RowID}, Record: rec}, nil
}

// attachMessageFiles loads attachment metadata for a page of messages and,
// when enabled, the file contents.
func attachMessageFiles(ctx context.Context, s *DB, rows []backfill.Row) error {
	ids := make([]any, len(rows))
	byID := make(map[int64]int, len(rows))
	for i, r := range rows {
		ids[i] = r.Cursor.ID
		byID[r.Cursor.ID] = i
	}

	q := `SELECT maj.message_id, COALESCE(a.guid, ''), COALESCE(a.filename, ''),
       COALESCE(a.mime_type, ''), COALESCE(a.total_bytes, 0)
  FROM message_attachment_join maj
  JOIN attachment a ON a.ROWID = maj.attachment_id
 WHERE maj.message_id IN (` + placeholders(len(ids)) + `)
 ORDER BY maj.message_id, a.ROWID`

	res, err := s.db.QueryContext(ctx, q, ids...)
	if err != nil {
		return fmt.Errorf("query attachments: %w", err)
	}
	defer res.Close()

	found := make(map[int][]any)
	for res.Next() {
		var (
			msgID int64
			a     models.Attachment
		)
		if err := res.Scan(&msgID, &a.ID, &a.Filename, &a.MimeType, &a.Size); err != nil {
			return fmt.Errorf("scan attachment: %w", err)
		}
		if s.opts.IncludeAttachments {
			a.DataBase64 = s.readAttachment(ctx, a)
		}
		item, err := toRecord(a)
		if err != nil {
			return err
		}
		i := byID[msgID]
		found[i] = append(found[i], map[string]any(item))
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("iterate attachments: %w", err)
	}

	for i, list := range found {
		rows[i].Record["attachments"] = list
	}
	return nil
}

func (s *DB) readAttachment(ctx context.Context, a models.Attachment) string {
	if a.Filename == "" {
		return ""
	}
	if a.Size > MaxAttachmentBytes {
		s.log.Debug(ctx, "attachment too large, skipping data", "id", a.ID, "size", a.Size)
		return ""
	}
	path, err := filex.ExpandHome(a.Filename)
	if err != nil {
		s.log.Debug(ctx, "attachment path unresolved, skipping data", "id", a.ID, "error", err)
		return ""
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() > MaxAttachmentBytes {
		s.log.Debug(ctx, "attachment unreadable, skipping data", "id", a.ID, "path", path)
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		s.log.Debug(ctx, "attachment unreadable, skipping data", "id", a.ID, "error", err)
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}
