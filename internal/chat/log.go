// Package chat keeps conversation lines in memory. The call package writes its
// outcome lines ("Video call ended (01:12)") here when no persistent store is
// configured.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/peercall/internal/signaling"
	"github.com/petervdpas/peercall/internal/util"
)

var log = logging.Logger("chat")

// DefaultBufferSize is the number of lines kept per conversation.
const DefaultBufferSize = 100

// Log is an in-memory signaling.ConversationLog with one ring buffer per
// conversation.
type Log struct {
	mu            sync.RWMutex
	conversations map[string]*util.RingBuffer[signaling.Message]
	bufferSize    int

	listenerMu sync.RWMutex
	listeners  map[chan signaling.Message]struct{}
}

// NewLog creates a log keeping bufferSize lines per conversation.
func NewLog(bufferSize int) *Log {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Log{
		conversations: make(map[string]*util.RingBuffer[signaling.Message]),
		bufferSize:    bufferSize,
		listeners:     make(map[chan signaling.Message]struct{}),
	}
}

// AppendSystemMessage stores a system line in conversationID.
func (l *Log) AppendSystemMessage(_ context.Context, conversationID, text string) error {
	if conversationID == "" {
		return errors.New("chat: conversation id is required")
	}
	msg := signaling.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Kind:           signaling.MessageKindSystem,
		Content:        text,
		Timestamp:      time.Now(),
	}

	l.mu.Lock()
	buf, ok := l.conversations[conversationID]
	if !ok {
		buf = util.NewRingBuffer[signaling.Message](l.bufferSize)
		l.conversations[conversationID] = buf
	}
	l.mu.Unlock()
	buf.Push(msg)

	log.Debugw("system message", "conversation", conversationID, "text", text)
	l.notify(msg)
	return nil
}

// Messages returns up to limit lines of conversationID, oldest first.
func (l *Log) Messages(_ context.Context, conversationID string, limit int) ([]signaling.Message, error) {
	l.mu.RLock()
	buf, ok := l.conversations[conversationID]
	l.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	msgs := buf.Snapshot()
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// Subscribe returns a channel receiving every appended line.
func (l *Log) Subscribe() (ch chan signaling.Message, cancel func()) {
	ch = make(chan signaling.Message, 32)

	l.listenerMu.Lock()
	l.listeners[ch] = struct{}{}
	l.listenerMu.Unlock()

	cancel = func() {
		l.listenerMu.Lock()
		if _, ok := l.listeners[ch]; ok {
			delete(l.listeners, ch)
			close(ch)
		}
		l.listenerMu.Unlock()
	}
	return ch, cancel
}

func (l *Log) notify(msg signaling.Message) {
	l.listenerMu.RLock()
	defer l.listenerMu.RUnlock()
	for ch := range l.listeners {
		select {
		case ch <- msg:
		default:
		}
	}
}
