package redisstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/petervdpas/peercall/internal/signaling"
)

// AppendSystemMessage appends a system line to the conversation stream.
func (s *Store) AppendSystemMessage(ctx context.Context, conversationID, text string) error {
	if conversationID == "" {
		return errors.New("redisstore: conversation id is required")
	}
	err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.conversationKey(conversationID),
		Values: map[string]any{
			"id":      uuid.NewString(),
			"kind":    signaling.MessageKindSystem,
			"content": text,
			"ts":      strconv.FormatInt(s.clock().UnixNano(), 10),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Messages returns up to limit lines, oldest first. A limit of zero or less
// returns every line.
func (s *Store) Messages(ctx context.Context, conversationID string, limit int) ([]signaling.Message, error) {
	key := s.conversationKey(conversationID)

	var (
		entries []redis.XMessage
		err     error
	)
	if limit <= 0 {
		entries, err = s.rdb.XRange(ctx, key, "-", "+").Result()
	} else {
		entries, err = s.rdb.XRevRangeN(ctx, key, "+", "-", int64(limit)).Result()
		slices.Reverse(entries)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	out := make([]signaling.Message, 0, len(entries))
	for _, e := range entries {
		m := signaling.Message{ConversationID: conversationID}
		m.ID, _ = e.Values["id"].(string)
		m.Kind, _ = e.Values["kind"].(string)
		m.Content, _ = e.Values["content"].(string)
		if ts, ok := e.Values["ts"].(string); ok {
			if n, err := strconv.ParseInt(ts, 10, 64); err == nil {
				m.Timestamp = time.Unix(0, n)
			}
		}
		out = append(out, m)
	}
	return out, nil
}
