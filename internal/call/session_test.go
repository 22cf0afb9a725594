package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/peercall/internal/signaling"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type hookRecorder struct {
	mu        sync.Mutex
	answered  int
	remoteEnd []signaling.Status
	failures  []failureKind
	states    []NegotiationState
}

func (h *hookRecorder) hooks() sessionHooks {
	return sessionHooks{
		onAnswered: func(*Session) {
			h.mu.Lock()
			h.answered++
			h.mu.Unlock()
		},
		onStateChange: func(_ *Session, st NegotiationState) {
			h.mu.Lock()
			h.states = append(h.states, st)
			h.mu.Unlock()
		},
		onRemoteEnd: func(_ *Session, st signaling.Status) {
			h.mu.Lock()
			h.remoteEnd = append(h.remoteEnd, st)
			h.mu.Unlock()
		},
		onFailure: func(_ *Session, kind failureKind, _ error) {
			h.mu.Lock()
			h.failures = append(h.failures, kind)
			h.mu.Unlock()
		},
	}
}

func (h *hookRecorder) failureKinds() []failureKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]failureKind(nil), h.failures...)
}

func (h *hookRecorder) remoteEnds() []signaling.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]signaling.Status(nil), h.remoteEnd...)
}

func (h *hookRecorder) answeredCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.answered
}

type sessionFixture struct {
	store *signaling.MemoryStore
	net   *fakeNet
	media *fakeMedia
	hooks *hookRecorder
	rec   signaling.CallRecord
}

func newSessionFixture(t *testing.T, callType signaling.CallType) *sessionFixture {
	t.Helper()
	st := signaling.NewMemoryStore()
	rec, err := st.CreateCall(context.Background(), signaling.CallRecord{
		CallerID:   "alice",
		ReceiverID: "bob",
		Type:       callType,
		Status:     signaling.StatusRinging,
	})
	require.NoError(t, err)
	return &sessionFixture{
		store: st,
		net:   &fakeNet{},
		media: &fakeMedia{},
		hooks: &hookRecorder{},
		rec:   rec,
	}
}

func (f *sessionFixture) session(t *testing.T, role signaling.Role) *Session {
	t.Helper()
	s := newSession(sessionParams{
		record:    f.rec,
		role:      role,
		startedAt: time.Now(),
		store:     f.store,
		media:     f.media,
		transport: f.net.factory,
		cfg:       SessionConfig{FailureGrace: 300 * time.Millisecond},
		hooks:     f.hooks.hooks(),
	})
	t.Cleanup(s.Close)
	return s
}

func (f *sessionFixture) record(t *testing.T) signaling.CallRecord {
	t.Helper()
	rec, err := f.store.GetCall(context.Background(), f.rec.ID)
	require.NoError(t, err)
	return rec
}

func (f *sessionFixture) candidates(t *testing.T, role signaling.Role) []signaling.CandidateRecord {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := f.store.WatchCandidates(ctx, f.rec.ID)
	require.NoError(t, err)

	var out []signaling.CandidateRecord
	for {
		select {
		case c := <-ch:
			if c.SenderID == role {
				out = append(out, c)
			}
		case <-time.After(20 * time.Millisecond):
			return out
		}
	}
}

func TestCallerPublishesOfferAndCandidates(t *testing.T) {
	f := newSessionFixture(t, signaling.CallTypeAudio)
	s := f.session(t, signaling.RoleCaller)
	s.Start()

	require.Eventually(t, func() bool { return f.record(t).Offer != nil }, waitFor, tick)
	rec := f.record(t)
	assert.Equal(t, signaling.StatusCalling, rec.Status)
	assert.Equal(t, "offer", rec.Offer.Type)
	assert.Equal(t, StateNegotiating, s.State())

	require.Eventually(t, func() bool { return len(f.candidates(t, signaling.RoleCaller)) == 2 }, waitFor, tick)
}

func TestCalleeQueuesCandidatesUntilOffer(t *testing.T) {
	f := newSessionFixture(t, signaling.CallTypeAudio)
	ctx := context.Background()

	for _, port := range []int{40000, 40001} {
		require.NoError(t, f.store.AddCandidate(ctx, f.rec.ID, signaling.CandidateRecord{
			Candidate: testCandidate(port),
			SenderID:  signaling.RoleCaller,
		}))
	}
	// The callee's own candidates are never applied to its own transport.
	require.NoError(t, f.store.AddCandidate(ctx, f.rec.ID, signaling.CandidateRecord{
		Candidate: testCandidate(1),
		SenderID:  signaling.RoleCallee,
	}))

	s := f.session(t, signaling.RoleCallee)
	s.Start()
	require.Eventually(t, func() bool { return s.Status().QueuedCandidates == 2 }, waitFor, tick)

	tr := f.net.get(0)
	require.NotNil(t, tr)
	assert.Nil(t, tr.remoteDescription())
	assert.Empty(t, tr.appliedCandidates())

	offer := signaling.SessionDescription{Type: "offer", SDP: testSDP}
	require.NoError(t, f.store.UpdateCall(ctx, f.rec.ID, signaling.CallUpdate{Status: signaling.StatusCalling, Offer: &offer}))

	require.Eventually(t, func() bool { return f.record(t).Answer != nil }, waitFor, tick)
	assert.Equal(t, "answer", f.record(t).Answer.Type)
	assert.Equal(t, []string{testCandidate(40000), testCandidate(40001)}, tr.appliedCandidates())
	assert.Equal(t, 0, s.Status().QueuedCandidates)

	require.NoError(t, f.store.AddCandidate(ctx, f.rec.ID, signaling.CandidateRecord{
		Candidate: testCandidate(40002),
		SenderID:  signaling.RoleCaller,
	}))
	require.Eventually(t, func() bool { return len(tr.appliedCandidates()) == 3 }, waitFor, tick)
	require.Eventually(t, func() bool { return s.State() == StateConnected }, waitFor, tick)
	require.Eventually(t, func() bool { return len(f.candidates(t, signaling.RoleCallee)) == 3 }, waitFor, tick)
}

func TestCandidateRedeliveryIsAppliedOnce(t *testing.T) {
	f := newSessionFixture(t, signaling.CallTypeAudio)
	s := f.session(t, signaling.RoleCallee)
	s.Start()

	offer := signaling.SessionDescription{Type: "offer", SDP: testSDP}
	require.NoError(t, f.store.UpdateCall(context.Background(), f.rec.ID, signaling.CallUpdate{Offer: &offer}))
	require.Eventually(t, func() bool { return s.Status().RemoteSet }, waitFor, tick)

	c := signaling.CandidateRecord{ID: "cand-1", Candidate: testCandidate(40000), SenderID: signaling.RoleCaller}
	s.post(evCandidate{c})
	s.post(evCandidate{c})
	s.post(evCandidate{signaling.CandidateRecord{ID: "cand-2", Candidate: "garbage", SenderID: signaling.RoleCaller}})
	s.post(evCandidate{signaling.CandidateRecord{ID: "cand-3", Candidate: testCandidate(40001), SenderID: signaling.RoleCaller}})

	tr := f.net.get(0)
	require.Eventually(t, func() bool { return len(tr.appliedCandidates()) == 2 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{testCandidate(40000), testCandidate(40001)}, tr.appliedCandidates())
}

func TestCandidatesApplyInArrivalOrder(t *testing.T) {
	// c: a new caller candidate, d: redelivery of the last one, o: the offer.
	tests := []struct {
		name  string
		steps string
	}{
		{"offer first", "occc"},
		{"one queued", "cocc"},
		{"two queued", "ccoc"},
		{"all queued", "ccco"},
		{"redelivered around offer", "cdocd"},
		{"offer redelivered", "cococ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSessionFixture(t, signaling.CallTypeAudio)
			s := f.session(t, signaling.RoleCallee)
			s.Start()
			require.Eventually(t, func() bool { return f.net.get(0) != nil }, waitFor, tick)

			offered := f.rec
			offered.Status = signaling.StatusCalling
			offered.Offer = &signaling.SessionDescription{Type: "offer", SDP: testSDP}

			var want []string
			var last signaling.CandidateRecord
			for i, step := range tt.steps {
				switch step {
				case 'c':
					last = signaling.CandidateRecord{
						ID:        fmt.Sprintf("cand-%d", i),
						Candidate: testCandidate(40000 + i),
						SenderID:  signaling.RoleCaller,
					}
					want = append(want, last.Candidate)
					s.post(evCandidate{last})
				case 'd':
					s.post(evCandidate{last})
				case 'o':
					s.post(evRecord{offered})
				}
			}

			tr := f.net.get(0)
			require.Eventually(t, func() bool { return len(tr.appliedCandidates()) >= len(want) }, waitFor, tick)
			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, want, tr.appliedCandidates())
			assert.Equal(t, 0, s.Status().QueuedCandidates)
			assert.Empty(t, f.hooks.failureKinds())
		})
	}
}

func TestCallerSkipsOfferOnFinishedCall(t *testing.T) {
	f := newSessionFixture(t, signaling.CallTypeAudio)
	ctx := context.Background()
	require.NoError(t, f.store.UpdateCall(ctx, f.rec.ID, signaling.CallUpdate{Status: signaling.StatusRejected}))

	s := f.session(t, signaling.RoleCaller)
	s.Start()

	require.Eventually(t, func() bool { return len(f.hooks.remoteEnds()) == 1 }, waitFor, tick)
	assert.Equal(t, []signaling.Status{signaling.StatusRejected}, f.hooks.remoteEnds())
	rec := f.record(t)
	assert.Equal(t, signaling.StatusRejected, rec.Status)
	assert.Nil(t, rec.Offer)
	assert.Empty(t, f.hooks.failureKinds())
	require.Eventually(t, f.net.get(0).isClosed, waitFor, tick)
}

func TestSecondOfferIsIgnored(t *testing.T) {
	f := newSessionFixture(t, signaling.CallTypeAudio)
	s := f.session(t, signaling.RoleCallee)
	s.Start()

	ctx := context.Background()
	offer := signaling.SessionDescription{Type: "offer", SDP: testSDP}
	require.NoError(t, f.store.UpdateCall(ctx, f.rec.ID, signaling.CallUpdate{Offer: &offer}))
	require.Eventually(t, func() bool { return f.record(t).Answer != nil }, waitFor, tick)

	again := signaling.SessionDescription{Type: "offer", SDP: testSDP + "a=ice-lite\r\n"}
	require.NoError(t, f.store.UpdateCall(ctx, f.rec.ID, signaling.CallUpdate{Offer: &again}))
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, testSDP, f.net.get(0).remoteDescription().SDP)
	assert.Empty(t, f.hooks.failureKinds())
}

func TestCallerAppliesAnswer(t *testing.T) {
	f := newSessionFixture(t, signaling.CallTypeVideo)
	s := f.session(t, signaling.RoleCaller)
	s.Start()
	require.Eventually(t, func() bool { return f.record(t).Offer != nil }, waitFor, tick)

	answer := signaling.SessionDescription{Type: "answer", SDP: testSDP}
	require.NoError(t, f.store.UpdateCall(context.Background(), f.rec.ID, signaling.CallUpdate{Answer: &answer}))

	require.Eventually(t, func() bool { return f.hooks.answeredCount() == 1 }, waitFor, tick)
	assert.True(t, s.Status().RemoteSet)
	assert.Equal(t, 2, f.net.get(0).attached)
}

func TestMismatchedDescriptionFailsNegotiation(t *testing.T) {
	f := newSessionFixture(t, signaling.CallTypeAudio)
	s := f.session(t, signaling.RoleCaller)
	s.Start()
	require.Eventually(t, func() bool { return f.record(t).Offer != nil }, waitFor, tick)

	bogus := signaling.SessionDescription{Type: "offer", SDP: testSDP}
	require.NoError(t, f.store.UpdateCall(context.Background(), f.rec.ID, signaling.CallUpdate{Answer: &bogus}))

	require.Eventually(t, func() bool { return len(f.hooks.failureKinds()) == 1 }, waitFor, tick)
	assert.Equal(t, failNegotiation, f.hooks.failureKinds()[0])
	assert.Equal(t, StateEnded, s.State())
	assert.True(t, f.net.get(0).isClosed())
}

func TestRemoteTerminalStatusTearsDown(t *testing.T) {
	f := newSessionFixture(t, signaling.CallTypeVideo)
	s := f.session(t, signaling.RoleCaller)
	s.Start()
	require.Eventually(t, func() bool { return f.record(t).Offer != nil }, waitFor, tick)

	require.NoError(t, f.store.UpdateCall(context.Background(), f.rec.ID, signaling.CallUpdate{Status: signaling.StatusRejected}))

	require.Eventually(t, func() bool { return len(f.hooks.remoteEnds()) == 1 }, waitFor, tick)
	assert.Equal(t, signaling.StatusRejected, f.hooks.remoteEnds()[0])
	assert.Equal(t, StateEnded, s.State())
	assert.True(t, f.net.get(0).isClosed())
	assert.True(t, f.media.allStopped())

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("session goroutine did not exit")
	}
}

func TestTransportFailureGracePeriod(t *testing.T) {
	f := newSessionFixture(t, signaling.CallTypeAudio)
	s := f.session(t, signaling.RoleCaller)
	s.Start()
	require.Eventually(t, func() bool { return f.net.get(0) != nil && s.State() == StateNegotiating }, waitFor, tick)
	tr := f.net.get(0)

	tr.emit(TransportConnected)
	require.Eventually(t, func() bool { return s.State() == StateConnected }, waitFor, tick)

	// Recovery inside the grace period keeps the call.
	tr.emit(TransportFailed)
	require.Eventually(t, func() bool { return s.State() == StateFailed }, waitFor, tick)
	tr.emit(TransportConnected)
	require.Eventually(t, func() bool { return s.State() == StateConnected }, waitFor, tick)
	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, f.hooks.failureKinds())

	tr.emit(TransportDisconnected)
	require.Eventually(t, func() bool { return s.State() == StateReconnecting }, waitFor, tick)
	tr.emit(TransportFailed)
	require.Eventually(t, func() bool { return len(f.hooks.failureKinds()) == 1 }, waitFor, tick)
	assert.Equal(t, failTransport, f.hooks.failureKinds()[0])
	assert.Equal(t, StateEnded, s.State())
}

func TestMediaFailureAbortsBeforeTransport(t *testing.T) {
	f := newSessionFixture(t, signaling.CallTypeVideo)
	f.media.err = errors.New("camera busy")
	s := f.session(t, signaling.RoleCaller)
	s.Start()

	require.Eventually(t, func() bool { return len(f.hooks.failureKinds()) == 1 }, waitFor, tick)
	assert.Equal(t, failMedia, f.hooks.failureKinds()[0])
	assert.Equal(t, 0, f.net.count())
	assert.Nil(t, f.record(t).Offer)
}

func TestCloseIsIdempotentAndReleasesEverything(t *testing.T) {
	f := newSessionFixture(t, signaling.CallTypeVideo)
	s := f.session(t, signaling.RoleCaller)
	s.Start()
	require.Eventually(t, func() bool { return f.record(t).Offer != nil }, waitFor, tick)

	s.Close()
	s.Close()

	assert.Equal(t, StateEnded, s.State())
	assert.True(t, f.net.get(0).isClosed())
	assert.True(t, f.media.allStopped())

	// Events after teardown are no-ops.
	assert.Nil(t, s.dispatch(evTransport{TransportConnected}))
	assert.Equal(t, StateEnded, s.State())
}

func TestMediaToggles(t *testing.T) {
	f := newSessionFixture(t, signaling.CallTypeVideo)
	n := &fakeNotifier{}
	s := f.session(t, signaling.RoleCaller)
	s.notifier = n
	s.Start()
	require.Eventually(t, func() bool { return f.net.get(0) != nil }, waitFor, tick)

	assert.True(t, s.ToggleAudio())
	assert.True(t, s.Status().Muted)
	assert.False(t, s.ToggleAudio())

	assert.True(t, s.ToggleVideo())
	assert.True(t, s.Status().VideoDisabled)

	assert.True(t, s.ToggleSpeaker())
	assert.False(t, s.ToggleSpeaker())
	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, []bool{true, false}, n.speaker)
}

func TestLocalMediaToggleWithoutTracks(t *testing.T) {
	m := NewLocalMedia(newFakeTrack("a", MediaAudio))
	assert.False(t, m.ToggleVideo())
	assert.False(t, m.VideoDisabled())
	assert.True(t, m.ToggleAudio())
	assert.True(t, m.Muted())
}

func TestValidation(t *testing.T) {
	assert.NoError(t, validateDescription(signaling.SessionDescription{Type: "offer", SDP: testSDP}, "offer"))
	assert.ErrorIs(t, validateDescription(signaling.SessionDescription{Type: "answer", SDP: testSDP}, "offer"), ErrBadDescription)
	assert.ErrorIs(t, validateDescription(signaling.SessionDescription{Type: "offer", SDP: "hello"}, "offer"), ErrBadDescription)

	assert.NoError(t, validateCandidate(signaling.CandidateRecord{Candidate: testCandidate(1234)}))
	assert.NoError(t, validateCandidate(signaling.CandidateRecord{Candidate: ""}))
	assert.ErrorIs(t, validateCandidate(signaling.CandidateRecord{Candidate: "candidate:nonsense"}), ErrBadCandidate)
}

func TestPumpRTP(t *testing.T) {
	track := &fakeRemoteTrack{packets: []*rtp.Packet{
		{Header: rtp.Header{SequenceNumber: 1}},
		{Header: rtp.Header{SequenceNumber: 2}},
	}}
	var seqs []uint16
	n, err := PumpRTP(context.Background(), track, func(p *rtp.Packet) error {
		seqs = append(seqs, p.SequenceNumber)
		return nil
	})
	assert.Error(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint16{1, 2}, seqs)
}
