package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/petervdpas/peercall/internal/signaling"
)

var (
	_ signaling.Store           = (*Store)(nil)
	_ signaling.ConversationLog = (*Store)(nil)
)

// Store implements signaling.Store and signaling.ConversationLog on Redis.
type Store struct {
	rdb    *redis.Client
	prefix string
	poll   time.Duration

	mu  sync.RWMutex
	now func() time.Time
}

// Client exposes the underlying client.
func (s *Store) Client() *redis.Client { return s.rdb }

// Close closes the client.
func (s *Store) Close() error { return s.rdb.Close() }

// SetClock overrides the time source used for default timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) clock() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

func encodeDescription(d *signaling.SessionDescription) (string, error) {
	if d == nil {
		return "", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeDescription(v string) (*signaling.SessionDescription, error) {
	if v == "" {
		return nil, nil
	}
	var d signaling.SessionDescription
	if err := json.Unmarshal([]byte(v), &d); err != nil {
		return nil, fmt.Errorf("decode session description: %w", err)
	}
	return &d, nil
}

func decodeCall(h map[string]string) (signaling.CallRecord, int64, error) {
	if len(h) == 0 {
		return signaling.CallRecord{}, 0, signaling.ErrNotFound
	}
	rec := signaling.CallRecord{
		ID:             h["id"],
		CallerID:       h["callerId"],
		CallerName:     h["callerName"],
		CallerAvatar:   h["callerAvatar"],
		ReceiverID:     h["receiverId"],
		ReceiverName:   h["receiverName"],
		ReceiverAvatar: h["receiverAvatar"],
		ConversationID: h["conversationId"],
		Type:           signaling.CallType(h["type"]),
		Status:         signaling.Status(h["status"]),
	}
	nanos, err := strconv.ParseInt(h["timestamp"], 10, 64)
	if err != nil {
		return signaling.CallRecord{}, 0, fmt.Errorf("decode timestamp: %w", err)
	}
	rec.Timestamp = time.Unix(0, nanos)
	if rec.Offer, err = decodeDescription(h["offer"]); err != nil {
		return signaling.CallRecord{}, 0, err
	}
	if rec.Answer, err = decodeDescription(h["answer"]); err != nil {
		return signaling.CallRecord{}, 0, err
	}
	rev, _ := strconv.ParseInt(h["rev"], 10, 64)
	return rec, rev, nil
}

func (s *Store) writeCall(ctx context.Context, mode, id string, fields ...string) (int64, error) {
	args := make([]any, 0, 3+len(fields))
	args = append(args, mode, s.inboxPrefix(), id)
	for _, f := range fields {
		args = append(args, f)
	}
	return writeCallScript.Run(ctx, s.rdb, []string{s.revKey(), s.callKey(id)}, args...).Int64()
}

func (s *Store) CreateCall(ctx context.Context, rec signaling.CallRecord) (signaling.CallRecord, error) {
	if err := rec.Validate(); err != nil {
		return signaling.CallRecord{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.clock()
	}
	if rec.Status == "" {
		rec.Status = signaling.StatusRinging
	}
	offer, err := encodeDescription(rec.Offer)
	if err != nil {
		return signaling.CallRecord{}, err
	}
	answer, err := encodeDescription(rec.Answer)
	if err != nil {
		return signaling.CallRecord{}, err
	}

	_, err = s.writeCall(ctx, "create", rec.ID,
		"id", rec.ID,
		"callerId", rec.CallerID,
		"callerName", rec.CallerName,
		"callerAvatar", rec.CallerAvatar,
		"receiverId", rec.ReceiverID,
		"receiverName", rec.ReceiverName,
		"receiverAvatar", rec.ReceiverAvatar,
		"conversationId", rec.ConversationID,
		"type", string(rec.Type),
		"status", string(rec.Status),
		"timestamp", strconv.FormatInt(rec.Timestamp.UnixNano(), 10),
		"offer", offer,
		"answer", answer,
	)
	if err != nil {
		return signaling.CallRecord{}, fmt.Errorf("create call: %w", err)
	}
	return rec, nil
}

func (s *Store) UpdateCall(ctx context.Context, id string, u signaling.CallUpdate) error {
	offer, err := encodeDescription(u.Offer)
	if err != nil {
		return err
	}
	answer, err := encodeDescription(u.Answer)
	if err != nil {
		return err
	}
	mode := "update"
	if u.IfLive {
		mode = "update-live"
	}
	rev, err := s.writeCall(ctx, mode, id,
		"status", string(u.Status),
		"offer", offer,
		"answer", answer,
	)
	if err != nil {
		return fmt.Errorf("update call %s: %w", id, err)
	}
	switch {
	case rev == 0:
		return signaling.ErrNotFound
	case rev < 0:
		return signaling.ErrTerminal
	}
	return nil
}

func (s *Store) GetCall(ctx context.Context, id string) (signaling.CallRecord, error) {
	rec, _, err := s.getCall(ctx, id)
	return rec, err
}

func (s *Store) getCall(ctx context.Context, id string) (signaling.CallRecord, int64, error) {
	h, err := s.rdb.HGetAll(ctx, s.callKey(id)).Result()
	if err != nil {
		return signaling.CallRecord{}, 0, fmt.Errorf("get call %s: %w", id, err)
	}
	return decodeCall(h)
}

func (s *Store) AddCandidate(ctx context.Context, callID string, c signaling.CandidateRecord) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	err = addCandidateScript.Run(ctx, s.rdb,
		[]string{s.callKey(callID), s.candidatesKey(callID)}, string(data)).Err()
	if errors.Is(err, redis.Nil) {
		return signaling.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}
