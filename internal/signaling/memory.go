package signaling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Several clients may share one instance,
// which makes it the backend for tests and single-host demos.
type MemoryStore struct {
	mu         sync.Mutex
	calls      map[string]CallRecord
	candidates map[string][]CandidateRecord

	callSubs  map[string]map[*Stream[CallRecord]]struct{}
	candSubs  map[string]map[*Stream[CandidateRecord]]struct{}
	inboxSubs map[string]map[*Stream[CallRecord]]struct{}

	now func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:      make(map[string]CallRecord),
		candidates: make(map[string][]CandidateRecord),
		callSubs:   make(map[string]map[*Stream[CallRecord]]struct{}),
		candSubs:   make(map[string]map[*Stream[CandidateRecord]]struct{}),
		inboxSubs:  make(map[string]map[*Stream[CallRecord]]struct{}),
		now:        time.Now,
	}
}

// SetClock overrides the time source used for default timestamps.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryStore) CreateCall(_ context.Context, rec CallRecord) (CallRecord, error) {
	if err := rec.Validate(); err != nil {
		return CallRecord{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, exists := m.calls[rec.ID]; exists {
		return CallRecord{}, fmt.Errorf("signaling: call %s already exists", rec.ID)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now()
	}
	if rec.Status == "" {
		rec.Status = StatusRinging
	}
	m.calls[rec.ID] = rec
	m.publishLocked(rec)
	return rec, nil
}

func (m *MemoryStore) UpdateCall(_ context.Context, id string, u CallUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.calls[id]
	if !ok {
		return ErrNotFound
	}
	if u.IfLive && rec.Status.Terminal() {
		return ErrTerminal
	}
	if u.Empty() {
		return nil
	}
	rec = u.Apply(rec)
	m.calls[id] = rec
	m.publishLocked(rec)
	return nil
}

func (m *MemoryStore) GetCall(_ context.Context, id string) (CallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.calls[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) AddCandidate(_ context.Context, callID string, c CandidateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.calls[callID]; !ok {
		return ErrNotFound
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	m.candidates[callID] = append(m.candidates[callID], c)
	for s := range m.candSubs[callID] {
		s.Push(c)
	}
	return nil
}

func (m *MemoryStore) WatchCall(ctx context.Context, id string) (<-chan CallRecord, error) {
	s := NewStream[CallRecord](ctx)

	m.mu.Lock()
	if rec, ok := m.calls[id]; ok {
		s.Push(rec)
	}
	addSub(m.callSubs, id, s)
	m.mu.Unlock()

	go m.dropOnDone(ctx, func() { removeSub(m.callSubs, id, s) })
	return s.C(), nil
}

func (m *MemoryStore) WatchCandidates(ctx context.Context, callID string) (<-chan CandidateRecord, error) {
	s := NewStream[CandidateRecord](ctx)

	m.mu.Lock()
	for _, c := range m.candidates[callID] {
		s.Push(c)
	}
	addSub(m.candSubs, callID, s)
	m.mu.Unlock()

	go m.dropOnDone(ctx, func() { removeSub(m.candSubs, callID, s) })
	return s.C(), nil
}

func (m *MemoryStore) WatchIncoming(ctx context.Context, receiverID string) (<-chan CallRecord, error) {
	s := NewStream[CallRecord](ctx)

	m.mu.Lock()
	var live []CallRecord
	for _, rec := range m.calls {
		if rec.ReceiverID == receiverID && rec.Status.Live() {
			live = append(live, rec)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Timestamp.After(live[j].Timestamp) })
	for _, rec := range live {
		s.Push(rec)
	}
	addSub(m.inboxSubs, receiverID, s)
	m.mu.Unlock()

	go m.dropOnDone(ctx, func() { removeSub(m.inboxSubs, receiverID, s) })
	return s.C(), nil
}

// publishLocked fans a changed record out to its call and inbox watchers.
func (m *MemoryStore) publishLocked(rec CallRecord) {
	for s := range m.callSubs[rec.ID] {
		s.Push(rec)
	}
	for s := range m.inboxSubs[rec.ReceiverID] {
		s.Push(rec)
	}
}

func (m *MemoryStore) dropOnDone(ctx context.Context, drop func()) {
	<-ctx.Done()
	m.mu.Lock()
	drop()
	m.mu.Unlock()
}

func addSub[T any](subs map[string]map[*Stream[T]]struct{}, key string, s *Stream[T]) {
	set, ok := subs[key]
	if !ok {
		set = make(map[*Stream[T]]struct{})
		subs[key] = set
	}
	set[s] = struct{}{}
}

func removeSub[T any](subs map[string]map[*Stream[T]]struct{}, key string, s *Stream[T]) {
	set := subs[key]
	delete(set, s)
	if len(set) == 0 {
		delete(subs, key)
	}
}
