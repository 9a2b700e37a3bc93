package sqlitesrc

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/contexter/internal/agent/backfill"
	"github.com/dmitrijs2005/contexter/internal/agent/sources"
	"github.com/dmitrijs2005/contexter/internal/logging"
	"github.com/dmitrijs2005/contexter/internal/models"
)

// ZWACHATSESSION.ZSESSIONTYPE of group chats.
const groupSessionType = 1

// ZMESSAGEDATE is REAL seconds; it is compared as integer milliseconds so
// cursor values round-trip exactly.
var whatsapp = dialect{
	name: "whatsapp",
	from: `SELECT m.Z_PK, COALESCE(m.ZSTANZAID, ''), COALESCE(m.ZTEXT, ''),
       COALESCE(m.ZISFROMME, 0), CAST(ROUND(m.ZMESSAGEDATE * 1000) AS INTEGER),
       COALESCE(s.ZCONTACTJID, ''), COALESCE(s.ZPARTNERNAME, ''), COALESCE(s.ZSESSIONTYPE, 0),
       COALESCE(g.ZMEMBERJID, m.ZFROMJID, ''), COALESCE(g.ZCONTACTNAME, '')
  FROM ZWAMESSAGE m
  LEFT JOIN ZWACHATSESSION s ON s.Z_PK = m.ZCHATSESSION
  LEFT JOIN ZWAGROUPMEMBER g ON g.Z_PK = m.ZGROUPMEMBER`,
	ts:   "CAST(ROUND(m.ZMESSAGEDATE * 1000) AS INTEGER)",
	id:   "m.Z_PK",
	unit: time.Millisecond,
	scan: scanWhatsApp,
}

// OpenWhatsApp opens a WhatsApp ChatStorage.sqlite read-only.
func OpenWhatsApp(ctx context.Context, path string, opts sources.FetchOptions, log logging.Logger) (*DB, error) {
	return open(ctx, path, whatsapp, opts, log)
}

func scanWhatsApp(s *DB, rows *sql.Rows) (backfill.Row, error) {
	var (
		m           models.WhatsAppMessage
		isFromMe    int
		ts          int64
		sessionType int
		senderJID   string
		memberName  string
	)
	if err := rows.Scan(&m.RowID, &m.ID, &m.Text, &isFromMe, &ts,
		&m.ChatJID, &m.ChatName, &sessionType, &senderJID, &memberName); err != nil {
		return backfill.Row{}, err
	}
	if m.ID == "" {
		m.ID = fmt.Sprintf("whatsapp-%d", m.RowID)
	}
	m.IsFromMe = isFromMe != 0
	m.IsGroup = sessionType == groupSessionType
	m.Timestamp = s.d.fromDB(ts)

	if !m.IsFromMe {
		m.SenderPhoneNumber = jidPhone(senderJID)
		m.SenderName = memberName
		if !m.IsGroup && m.SenderName == "" {
			m.SenderName = m.ChatName
		}
	}

	rec, err := toRecord(m)
	if err != nil {
		return backfill.Row{}, err
	}
	return backfill.Row{Cursor: backfill.Cursor{Timestamp: m.Timestamp, ID: m.RowID}, Record: rec}, nil
}

// jidPhone turns "15551234567@s.whatsapp.net" into "+15551234567".
func jidPhone(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	if user == "" || strings.Trim(user, "0123456789") != "" {
		return ""
	}
	return "+" + user
}
