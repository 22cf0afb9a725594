package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/peercall/internal/chat"
	"github.com/petervdpas/peercall/internal/signaling"
)

var (
	alice = Peer{ID: "alice", Name: "Alice", Avatar: "a.png"}
	bob   = Peer{ID: "bob", Name: "Bob", Avatar: "b.png"}
)

type client struct {
	m        *Manager
	notifier *fakeNotifier
	media    *fakeMedia
	net      *fakeNet
}

type pair struct {
	store signaling.Store
	log   *chat.Log
	clock *testClock
	a, b  *client
}

type pairOption func(*Options)

func withRingTimeout(d time.Duration) pairOption {
	return func(o *Options) { o.RingTimeout = d }
}

func newClient(t *testing.T, self Peer, st signaling.Store, convs *chat.Log, clock *testClock, opts ...pairOption) *client {
	t.Helper()
	c := &client{notifier: &fakeNotifier{}, media: &fakeMedia{}, net: &fakeNet{}}
	o := Options{
		Self:             self,
		Store:            st,
		Notifier:         c.notifier,
		Media:            c.media,
		Transport:        c.net.factory,
		FailureGrace:     100 * time.Millisecond,
		ErrorNoticeDelay: 10 * time.Millisecond,
		Now:              clock.Now,
	}
	if convs != nil {
		o.Conversations = convs
	}
	for _, opt := range opts {
		opt(&o)
	}
	m, err := New(o)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	c.m = m
	return c
}

func newPair(t *testing.T, st signaling.Store, opts ...pairOption) *pair {
	t.Helper()
	if st == nil {
		st = signaling.NewMemoryStore()
	}
	p := &pair{store: st, log: chat.NewLog(chat.DefaultBufferSize), clock: newTestClock()}
	p.a = newClient(t, alice, st, p.log, p.clock, opts...)
	p.b = newClient(t, bob, st, p.log, p.clock, opts...)
	return p
}

func (p *pair) lines(t *testing.T, conv string) []string {
	t.Helper()
	msgs, err := p.log.Messages(context.Background(), conv, 0)
	require.NoError(t, err)
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func (p *pair) status(t *testing.T, id string) signaling.Status {
	t.Helper()
	rec, err := p.store.GetCall(context.Background(), id)
	require.NoError(t, err)
	return rec.Status
}

func hasIncoming(m *Manager) func() bool {
	return func() bool { return m.State().Incoming != nil }
}

func isIdle(m *Manager) func() bool {
	return func() bool {
		st := m.State()
		return st.Active == nil && st.Incoming == nil && st.Phase == PhaseIdle
	}
}

func connected(m *Manager) func() bool {
	return func() bool {
		st := m.State()
		return st.Active != nil && st.Active.State == StateConnected
	}
}

func TestCallAnsweredAndEnded(t *testing.T) {
	p := newPair(t, nil)
	ctx := context.Background()

	active, err := p.a.m.StartCall(ctx, bob, signaling.CallTypeVideo, "conv-1")
	require.NoError(t, err)
	assert.True(t, active.IsCaller)
	assert.Equal(t, UserInfo{Name: "Bob", Avatar: "b.png"}, active.OtherUser)
	assert.Equal(t, PhaseDialing, p.a.m.State().Phase)
	assert.Equal(t, 1, p.a.notifier.dialToneCount())

	require.Eventually(t, hasIncoming(p.b.m), waitFor, tick)
	in := p.b.m.State().Incoming
	assert.Equal(t, active.ID, in.ID)
	assert.Equal(t, "Alice", in.Caller.Name)
	assert.Equal(t, PhaseRinging, p.b.m.State().Phase)
	assert.Equal(t, 1, p.b.notifier.ringtoneCount())

	require.NoError(t, p.b.m.AnswerCall(ctx))
	st := p.b.m.State()
	assert.Nil(t, st.Incoming)
	require.NotNil(t, st.Active)
	assert.False(t, st.Active.IsCaller)
	assert.Equal(t, PhaseInCall, st.Phase)

	require.Eventually(t, connected(p.a.m), waitFor, tick)
	require.Eventually(t, connected(p.b.m), waitFor, tick)
	assert.Equal(t, PhaseInCall, p.a.m.State().Phase)

	p.clock.Advance(2*time.Minute + 5*time.Second)
	require.NoError(t, p.a.m.EndActiveCall(ctx))
	assert.True(t, isIdle(p.a.m)())

	require.Eventually(t, isIdle(p.b.m), waitFor, tick)
	assert.Equal(t, signaling.StatusEnded, p.status(t, active.ID))
	assert.Equal(t, []string{"Video call ended (02:05)"}, p.lines(t, "conv-1"))
	assert.True(t, p.a.media.allStopped())
	require.Eventually(t, p.b.media.allStopped, waitFor, tick)
}

func TestSecondCallIsRefusedWhileActive(t *testing.T) {
	p := newPair(t, nil)
	ctx := context.Background()

	_, err := p.a.m.StartCall(ctx, bob, signaling.CallTypeAudio, "")
	require.NoError(t, err)

	_, err = p.a.m.StartCall(ctx, Peer{ID: "carol"}, signaling.CallTypeAudio, "")
	assert.ErrorIs(t, err, ErrCallActive)
	assert.ErrorIs(t, p.a.m.AnswerCall(ctx), ErrNoIncomingCall)
	assert.ErrorIs(t, p.a.m.DeclineCall(ctx), ErrNoIncomingCall)
}

func TestOperationsWithoutCall(t *testing.T) {
	p := newPair(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, p.a.m.EndActiveCall(ctx), ErrNoActiveCall)
	assert.ErrorIs(t, p.a.m.AnswerCall(ctx), ErrNoIncomingCall)
	_, err := p.a.m.ToggleAudio()
	assert.ErrorIs(t, err, ErrNoActiveCall)
	_, err = p.a.m.ToggleSpeaker()
	assert.ErrorIs(t, err, ErrNoActiveCall)
}

func TestDeclinedCall(t *testing.T) {
	p := newPair(t, nil)
	ctx := context.Background()

	active, err := p.a.m.StartCall(ctx, bob, signaling.CallTypeAudio, "conv-2")
	require.NoError(t, err)
	require.Eventually(t, hasIncoming(p.b.m), waitFor, tick)

	require.NoError(t, p.b.m.DeclineCall(ctx))
	assert.True(t, isIdle(p.b.m)())

	require.Eventually(t, isIdle(p.a.m), waitFor, tick)
	assert.Equal(t, signaling.StatusRejected, p.status(t, active.ID))
	assert.Equal(t, []string{"Audio call declined"}, p.lines(t, "conv-2"))
}

func TestUnansweredCallIsMissed(t *testing.T) {
	p := newPair(t, nil, withRingTimeout(150*time.Millisecond))
	ctx := context.Background()

	active, err := p.a.m.StartCall(ctx, bob, signaling.CallTypeAudio, "conv-3")
	require.NoError(t, err)
	require.Eventually(t, hasIncoming(p.b.m), waitFor, tick)

	require.Eventually(t, isIdle(p.a.m), waitFor, tick)
	require.Eventually(t, isIdle(p.b.m), waitFor, tick)
	assert.Equal(t, signaling.StatusMissed, p.status(t, active.ID))

	require.Eventually(t, func() bool { return len(p.lines(t, "conv-3")) == 1 }, waitFor, tick)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"Missed audio call"}, p.lines(t, "conv-3"))
}

func TestStaleIncomingRecordIsMarkedMissed(t *testing.T) {
	st := signaling.NewMemoryStore()
	rec, err := st.CreateCall(context.Background(), signaling.CallRecord{
		CallerID:   "carol",
		ReceiverID: "bob",
		Type:       signaling.CallTypeAudio,
		Status:     signaling.StatusRinging,
		Timestamp:  time.Now().Add(-45 * time.Second),
	})
	require.NoError(t, err)

	clock := newTestClock()
	b := newClient(t, bob, st, nil, clock)

	require.Eventually(t, func() bool {
		got, err := st.GetCall(context.Background(), rec.ID)
		return err == nil && got.Status == signaling.StatusMissed
	}, waitFor, tick)
	assert.Nil(t, b.m.State().Incoming)
	assert.Equal(t, 0, b.notifier.ringtoneCount())
}

func TestWithdrawnIncomingCall(t *testing.T) {
	p := newPair(t, nil)
	ctx := context.Background()

	_, err := p.a.m.StartCall(ctx, bob, signaling.CallTypeAudio, "")
	require.NoError(t, err)
	require.Eventually(t, hasIncoming(p.b.m), waitFor, tick)

	require.NoError(t, p.a.m.EndActiveCall(ctx))
	require.Eventually(t, isIdle(p.b.m), waitFor, tick)
	assert.ErrorIs(t, p.b.m.AnswerCall(ctx), ErrNoIncomingCall)
}

func TestStartCallWriteFailure(t *testing.T) {
	st := &faultyStore{Store: signaling.NewMemoryStore(), createErr: errors.New("offline")}
	p := newPair(t, st)

	_, err := p.a.m.StartCall(context.Background(), bob, signaling.CallTypeAudio, "")
	require.Error(t, err)
	assert.Nil(t, p.a.m.State().Active)
	assert.Equal(t, PhaseIdle, p.a.m.State().Phase)
	assert.Equal(t, 1, p.a.notifier.errorCount())
	assert.Equal(t, 0, p.a.net.count())
}

func TestEndCallCleansUpWhenWriteFails(t *testing.T) {
	st := &faultyStore{Store: signaling.NewMemoryStore()}
	p := newPair(t, st)
	ctx := context.Background()

	active, err := p.a.m.StartCall(ctx, bob, signaling.CallTypeAudio, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rec, err := st.GetCall(ctx, active.ID)
		return err == nil && rec.Offer != nil
	}, waitFor, tick)

	st.mu.Lock()
	st.updateErr = errors.New("offline")
	st.mu.Unlock()

	err = p.a.m.EndActiveCall(ctx)
	require.Error(t, err)
	assert.True(t, isIdle(p.a.m)())
	require.Eventually(t, p.a.net.get(0).isClosed, waitFor, tick)
}

func TestEndCallWriteOutlivesCancelledRequest(t *testing.T) {
	st := &faultyStore{Store: signaling.NewMemoryStore()}
	p := newPair(t, st)

	active, err := p.a.m.StartCall(context.Background(), bob, signaling.CallTypeAudio, "conv-6")
	require.NoError(t, err)
	require.Eventually(t, hasIncoming(p.b.m), waitFor, tick)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.a.m.EndActiveCall(ctx))

	assert.Equal(t, signaling.StatusEnded, p.status(t, active.ID))
	assert.Equal(t, []string{"Audio call ended (00:00)"}, p.lines(t, "conv-6"))
	require.Eventually(t, isIdle(p.b.m), waitFor, tick)
}

func TestDeclineWhileCallerAcquiresMedia(t *testing.T) {
	p := newPair(t, nil, withRingTimeout(300*time.Millisecond))
	gate := make(chan struct{})
	p.a.media.gate = gate
	ctx := context.Background()

	active, err := p.a.m.StartCall(ctx, bob, signaling.CallTypeAudio, "conv-7")
	require.NoError(t, err)
	require.Eventually(t, hasIncoming(p.b.m), waitFor, tick)
	require.NoError(t, p.b.m.DeclineCall(ctx))

	close(gate)

	require.Eventually(t, isIdle(p.a.m), waitFor, tick)
	assert.Equal(t, signaling.StatusRejected, p.status(t, active.ID))

	// Past both ring timers: nothing may reopen or re-mark the call.
	time.Sleep(400 * time.Millisecond)
	rec, err := p.store.GetCall(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, signaling.StatusRejected, rec.Status)
	assert.Nil(t, rec.Offer)
	assert.True(t, isIdle(p.b.m)())
	assert.Equal(t, 1, p.b.notifier.ringtoneCount())
	assert.Equal(t, []string{"Audio call declined"}, p.lines(t, "conv-7"))
	assert.True(t, p.a.media.allStopped())
}

func TestMediaFailureEndsCallWithDelayedNotice(t *testing.T) {
	p := newPair(t, nil)
	p.a.media.err = errors.New("no camera")
	ctx := context.Background()

	active, err := p.a.m.StartCall(ctx, bob, signaling.CallTypeVideo, "conv-4")
	require.NoError(t, err)

	require.Eventually(t, isIdle(p.a.m), waitFor, tick)
	assert.Equal(t, signaling.StatusEnded, p.status(t, active.ID))
	require.Eventually(t, func() bool { return p.a.notifier.errorCount() == 1 }, waitFor, tick)
	assert.Empty(t, p.lines(t, "conv-4"))
	require.Eventually(t, isIdle(p.b.m), waitFor, tick)
}

func TestSimultaneousCallsConverge(t *testing.T) {
	st := newGatedStore(signaling.NewMemoryStore())
	p := newPair(t, st)
	ctx := context.Background()

	fromAlice, err := p.a.m.StartCall(ctx, bob, signaling.CallTypeAudio, "")
	require.NoError(t, err)
	fromBob, err := p.b.m.StartCall(ctx, alice, signaling.CallTypeAudio, "")
	require.NoError(t, err)

	st.open()

	require.Eventually(t, func() bool {
		a, b := p.a.m.State().Active, p.b.m.State().Active
		return a != nil && b != nil && a.ID == fromAlice.ID && b.ID == fromAlice.ID
	}, waitFor, tick)
	assert.True(t, p.a.m.State().Active.IsCaller)
	assert.False(t, p.b.m.State().Active.IsCaller)

	require.Eventually(t, func() bool { return p.status(t, fromBob.ID) == signaling.StatusEnded }, waitFor, tick)
	require.Eventually(t, connected(p.a.m), waitFor, tick)
	require.Eventually(t, connected(p.b.m), waitFor, tick)
}

func TestToggleAndMinimize(t *testing.T) {
	p := newPair(t, nil)
	ctx := context.Background()

	_, err := p.a.m.StartCall(ctx, bob, signaling.CallTypeVideo, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.a.net.get(0) != nil }, waitFor, tick)

	muted, err := p.a.m.ToggleAudio()
	require.NoError(t, err)
	assert.True(t, muted)
	disabled, err := p.a.m.ToggleVideo()
	require.NoError(t, err)
	assert.True(t, disabled)

	updates, cancel := p.a.m.Subscribe()
	defer cancel()
	<-updates

	p.a.m.SetMinimized(true)
	select {
	case st := <-updates:
		assert.True(t, st.Minimized)
	case <-time.After(waitFor):
		t.Fatal("no state update")
	}
}

func TestManagerRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Self: alice})
	assert.Error(t, err)
	_, err = New(Options{Store: signaling.NewMemoryStore()})
	assert.Error(t, err)
}
