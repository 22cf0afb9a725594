package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/petervdpas/peercall/internal/signaling"
)

var _ signaling.ConversationLog = (*DB)(nil)

// AppendSystemMessage stores a system line in conversationID.
func (d *DB) AppendSystemMessage(ctx context.Context, conversationID, text string) error {
	if conversationID == "" {
		return errors.New("storage: conversation id is required")
	}
	_, err := d.Exec(`INSERT INTO conversation_messages (id, conversation_id, kind, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), conversationID, signaling.MessageKindSystem, text, toNanos(d.clock()))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Messages returns up to limit lines of conversationID, oldest first. A limit
// of zero or less returns every line.
func (d *DB) Messages(ctx context.Context, conversationID string, limit int) ([]signaling.Message, error) {
	query := `SELECT id, conversation_id, kind, content, created_at FROM (
			SELECT seq, id, conversation_id, kind, content, created_at FROM conversation_messages
			WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.queryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []signaling.Message
	for rows.Next() {
		var m signaling.Message
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Kind, &m.Content, &created); err != nil {
			return nil, err
		}
		m.Timestamp = fromNanos(created)
		out = append(out, m)
	}
	return out, rows.Err()
}
