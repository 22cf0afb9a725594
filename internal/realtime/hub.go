// Package realtime fans call events out to connected viewers. Each
// subscriber gets its own buffered channel; a subscriber that falls behind
// loses envelopes rather than stalling the publisher.
package realtime

import (
	"context"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("realtime")

// Envelope types published by the viewer.
const (
	TypeState  = "state"
	TypeTone   = "tone"
	TypeError  = "error"
	TypeTrack  = "track"
	TypeOutput = "output"
)

// Envelope is one event pushed to viewers.
type Envelope struct {
	Type    string    `json:"type"`
	CallID  string    `json:"callId,omitempty"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Hub is a publish/subscribe point for envelopes.
type Hub struct {
	mu        sync.RWMutex
	listeners map[chan *Envelope]struct{}
	last      map[string]*Envelope // latest envelope per type
	closed    bool
}

func NewHub() *Hub {
	return &Hub{
		listeners: make(map[chan *Envelope]struct{}),
		last:      make(map[string]*Envelope),
	}
}

// Publish delivers env to every subscriber without blocking.
func (h *Hub) Publish(env *Envelope) {
	if env.At.IsZero() {
		env.At = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.last[env.Type] = env
	for ch := range h.listeners {
		select {
		case ch <- env:
		default:
			log.Debugw("dropping envelope for slow subscriber", "type", env.Type)
		}
	}
}

// Last returns the most recent envelope of type typ.
func (h *Hub) Last(typ string) (*Envelope, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	env, ok := h.last[typ]
	return env, ok
}

// Subscribe returns a channel that receives envelopes published from now on.
func (h *Hub) Subscribe() (ch chan *Envelope, cancel func()) {
	ch = make(chan *Envelope, 64)

	h.mu.Lock()
	if h.closed {
		close(ch)
		h.mu.Unlock()
		return ch, func() {}
	}
	h.listeners[ch] = struct{}{}
	h.mu.Unlock()

	cancel = func() {
		h.mu.Lock()
		if _, ok := h.listeners[ch]; ok {
			delete(h.listeners, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Close closes every subscription. Later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.listeners {
		close(ch)
	}
	h.listeners = nil
}

// Forward publishes every value from src as an envelope of type typ until src
// closes or ctx is done.
func Forward[T any](ctx context.Context, h *Hub, typ string, src <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-src:
			if !ok {
				return
			}
			h.Publish(&Envelope{Type: typ, Payload: v})
		}
	}
}
