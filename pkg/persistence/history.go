package persistence

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
)

// DeliveryStatus mirrors a message's progress through PT and CHAIN.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// StoredMessage is one row of local, already-decrypted message history.
// The history database is a browsing convenience, not the authoritative
// ratchet state (that lives in the vault's encrypted chain files).
type StoredMessage struct {
	ID                int64
	ConversationToken [digest.Size]byte
	SenderHandleHash  [digest.Size]byte
	Text              string
	EagleTime         eagletime.Time
	IsOutgoing        bool
	Status            DeliveryStatus
}

// History is a local SQLite-backed store of delivered plaintext messages,
// used for browsing a conversation's history; never for ceremony or
// ratchet state, which stays in the vault's encrypted files.
type History struct {
	db *sql.DB
}

// OpenHistory opens (creating if needed) the SQLite history database at
// path, enabling WAL mode for concurrent reader/writer access.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("persistence: opening history db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: enabling WAL mode: %w", err)
	}

	h := &History{db: db}
	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

func (h *History) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_token BLOB NOT NULL,
		sender_handle_hash BLOB NOT NULL,
		text TEXT NOT NULL,
		eagle_time REAL NOT NULL,
		is_outgoing INTEGER NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_token, eagle_time);
	`
	if _, err := h.db.Exec(schema); err != nil {
		return fmt.Errorf("persistence: creating history schema: %w", err)
	}
	return nil
}

func (h *History) Close() error {
	return h.db.Close()
}

// Append inserts one message into history and returns its row id.
func (h *History) Append(m StoredMessage) (int64, error) {
	outgoing := 0
	if m.IsOutgoing {
		outgoing = 1
	}
	res, err := h.db.Exec(
		`INSERT INTO messages (conversation_token, sender_handle_hash, text, eagle_time, is_outgoing, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ConversationToken[:], m.SenderHandleHash[:], m.Text, float64(m.EagleTime), outgoing, string(m.Status),
	)
	if err != nil {
		return 0, fmt.Errorf("persistence: inserting message: %w", err)
	}
	return res.LastInsertId()
}

// UpdateStatus changes a message's delivery status.
func (h *History) UpdateStatus(id int64, status DeliveryStatus) error {
	if _, err := h.db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return fmt.Errorf("persistence: updating message status: %w", err)
	}
	return nil
}

// MarkDelivered flips an outgoing message's status to delivered, matched
// by conversation and eagle-time within the same 1ms window CHAIN's ACK
// matching uses.
func (h *History) MarkDelivered(token [digest.Size]byte, eagle eagletime.Time) error {
	const window = 0.001
	if _, err := h.db.Exec(
		`UPDATE messages SET status = ? WHERE conversation_token = ? AND is_outgoing = 1 AND ABS(eagle_time - ?) < ?`,
		string(StatusDelivered), token[:], float64(eagle), window,
	); err != nil {
		return fmt.Errorf("persistence: marking delivered: %w", err)
	}
	return nil
}

// Conversation returns the messages for a conversation token, oldest
// first, optionally limited to the oldest `limit` messages (0 means no limit).
func (h *History) Conversation(token [digest.Size]byte, limit int) ([]StoredMessage, error) {
	query := `SELECT id, conversation_token, sender_handle_hash, text, eagle_time, is_outgoing, status
		FROM messages WHERE conversation_token = ? ORDER BY eagle_time ASC`
	args := []any{token[:]}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := h.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("persistence: querying conversation: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var (
			m          StoredMessage
			convToken  []byte
			senderHash []byte
			outgoing   int
			status     string
			eagle      float64
		)
		if err := rows.Scan(&m.ID, &convToken, &senderHash, &m.Text, &eagle, &outgoing, &status); err != nil {
			return nil, fmt.Errorf("persistence: scanning message row: %w", err)
		}
		copy(m.ConversationToken[:], convToken)
		copy(m.SenderHandleHash[:], senderHash)
		m.EagleTime = eagletime.Time(eagle)
		m.IsOutgoing = outgoing != 0
		m.Status = DeliveryStatus(status)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persistence: iterating conversation rows: %w", err)
	}
	return out, nil
}
