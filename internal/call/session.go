package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/petervdpas/peercall/internal/signaling"
)

// failureKind classifies why a session gave up.
type failureKind string

const (
	failMedia       failureKind = "media"
	failSignaling   failureKind = "signaling"
	failNegotiation failureKind = "negotiation"
	failTransport   failureKind = "transport"
)

// sessionHooks report session outcomes back to the owning registry. They run
// on the session goroutine without any session lock held.
type sessionHooks struct {
	onAnswered    func(*Session)
	onStateChange func(*Session, NegotiationState)
	onRemoteEnd   func(*Session, signaling.Status)
	onFailure     func(*Session, failureKind, error)
}

// SessionConfig tunes one negotiation session.
type SessionConfig struct {
	Transport    TransportConfig
	FailureGrace time.Duration
}

type sessionParams struct {
	record    signaling.CallRecord
	role      signaling.Role
	other     Peer
	startedAt time.Time

	store     signaling.Store
	media     MediaSource
	transport TransportFactory
	notifier  Notifier
	cfg       SessionConfig
	hooks     sessionHooks
}

type (
	evRecord         struct{ rec signaling.CallRecord }
	evCandidate      struct{ c signaling.CandidateRecord }
	evLocalCandidate struct{ c signaling.CandidateRecord }
	evTransport      struct{ state TransportState }
	evGraceExpired   struct{ gen int }
)

// Session negotiates and holds the media session of one call. All store,
// transport and timer events are serialized onto a single goroutine.
type Session struct {
	callID         string
	role           signaling.Role
	callType       signaling.CallType
	other          Peer
	conversationID string
	startedAt      time.Time

	store        signaling.Store
	media        MediaSource
	newTransport TransportFactory
	notifier     Notifier
	cfg          SessionConfig
	hooks        sessionHooks

	ctx       context.Context
	cancel    context.CancelFunc
	events    chan any
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	state *fsm.FSM

	mu          sync.Mutex
	closed      bool
	transport   Transport
	local       *LocalMedia
	queue       *candidateQueue
	remoteSet   bool
	answered    bool
	connectedAt time.Time
	grace       *time.Timer
	graceGen    int
	speaker     bool
}

func newSession(p sessionParams) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		callID:         p.record.ID,
		role:           p.role,
		callType:       p.record.Type,
		other:          p.other,
		conversationID: p.record.ConversationID,
		startedAt:      p.startedAt,
		store:          p.store,
		media:          p.media,
		newTransport:   p.transport,
		notifier:       p.notifier,
		cfg:            p.cfg,
		hooks:          p.hooks,
		ctx:            ctx,
		cancel:         cancel,
		events:         make(chan any, 256),
		done:           make(chan struct{}),
		queue:          newCandidateQueue(),
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.cfg.FailureGrace <= 0 {
		s.cfg.FailureGrace = 2 * time.Second
	}
	s.state = newSessionFSM(func(from, to string) {
		negotiationTransitions.WithLabelValues(from, to).Inc()
		log.Debugw("negotiation state", "call", s.callID, "role", s.role, "from", from, "to", to)
	})
	return s
}

// CallID returns the ID of the call record this session negotiates.
func (s *Session) CallID() string { return s.callID }

// Role returns the local role.
func (s *Session) Role() signaling.Role { return s.role }

// Type returns the call type.
func (s *Session) Type() signaling.CallType { return s.callType }

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// State returns the current negotiation state.
func (s *Session) State() NegotiationState { return NegotiationState(s.state.Current()) }

// Done is closed once the session goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start launches the session goroutine. Calling it twice has no effect.
func (s *Session) Start() {
	s.startOnce.Do(func() { go s.run() })
}

func (s *Session) run() {
	defer close(s.done)

	if kind, err := s.setup(); err != nil {
		if errors.Is(err, ErrSessionClosed) || s.ctx.Err() != nil {
			return
		}
		log.Warnw("session setup failed", "call", s.callID, "role", s.role, "kind", kind, "err", err)
		s.Close()
		if s.hooks.onFailure != nil {
			s.hooks.onFailure(s, kind, err)
		}
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			for _, fn := range s.dispatch(ev) {
				fn()
			}
		}
	}
}

// setup acquires media, builds the transport and subscribes to the record and
// its candidates. The caller also publishes its offer here.
func (s *Session) setup() (failureKind, error) {
	local, err := s.media.Acquire(s.ctx, s.callType)
	if err != nil {
		if !errors.Is(err, ErrMediaUnavailable) {
			err = errors.Join(ErrMediaUnavailable, err)
		}
		return failMedia, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		local.Stop()
		return failMedia, ErrSessionClosed
	}
	s.local = local
	s.mu.Unlock()

	tr, err := s.newTransport(s.cfg.Transport)
	if err != nil {
		return failTransport, err
	}
	tr.OnLocalCandidate(func(c signaling.CandidateRecord) { s.post(evLocalCandidate{c}) })
	tr.OnStateChange(func(st TransportState) { s.post(evTransport{st}) })
	tr.OnRemoteTrack(func(t RemoteTrack) {
		log.Infow("remote track", "call", s.callID, "kind", t.Kind(), "track", t.ID())
		s.notifier.RemoteTrack(s.callID, t)
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = tr.Close()
		return failTransport, ErrSessionClosed
	}
	s.transport = tr
	s.mu.Unlock()

	if err := tr.AttachMedia(local); err != nil {
		return failTransport, err
	}
	fire(s.state, evNegotiate)

	if s.role == signaling.RoleCaller {
		offer, err := tr.CreateOffer()
		if err != nil {
			return failNegotiation, err
		}
		err = s.store.UpdateCall(s.ctx, s.callID, signaling.CallUpdate{
			Status: signaling.StatusCalling,
			Offer:  &offer,
			IfLive: true,
		})
		switch {
		case errors.Is(err, signaling.ErrTerminal):
			// The record snapshot from WatchCall below ends the session.
			log.Infow("call finished before offer", "call", s.callID)
		case err != nil:
			return failSignaling, err
		default:
			log.Infow("offer written", "call", s.callID)
		}
	}

	records, err := s.store.WatchCall(s.ctx, s.callID)
	if err != nil {
		return failSignaling, err
	}
	candidates, err := s.store.WatchCandidates(s.ctx, s.callID)
	if err != nil {
		return failSignaling, err
	}
	go func() {
		for rec := range records {
			s.post(evRecord{rec})
		}
	}()
	go func() {
		for c := range candidates {
			s.post(evCandidate{c})
		}
	}()
	return "", nil
}

// post hands an event to the session goroutine. Events after Close are dropped.
func (s *Session) post(ev any) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// dispatch handles one event under the session lock and returns the work that
// must run after the lock is released.
func (s *Session) dispatch(ev any) []func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	switch ev := ev.(type) {
	case evRecord:
		return s.handleRecordLocked(ev.rec)
	case evCandidate:
		return s.handleRemoteCandidateLocked(ev.c)
	case evLocalCandidate:
		return s.handleLocalCandidateLocked(ev.c)
	case evTransport:
		return s.handleTransportLocked(ev.state)
	case evGraceExpired:
		return s.handleGraceExpiredLocked(ev.gen)
	}
	return nil
}

func (s *Session) handleRecordLocked(rec signaling.CallRecord) []func() {
	if rec.Status.Terminal() {
		log.Infow("remote terminal status", "call", s.callID, "status", rec.Status)
		status := rec.Status
		return []func(){
			s.Close,
			func() {
				if s.hooks.onRemoteEnd != nil {
					s.hooks.onRemoteEnd(s, status)
				}
			},
		}
	}

	switch s.role {
	case signaling.RoleCaller:
		if rec.Answer == nil || s.remoteSet {
			return nil
		}
		if err := s.applyRemoteLocked(*rec.Answer, "answer"); err != nil {
			return s.failLocked(failNegotiation, err)
		}
		s.answered = true
		log.Infow("answer applied", "call", s.callID)
		return []func(){func() {
			if s.hooks.onAnswered != nil {
				s.hooks.onAnswered(s)
			}
		}}

	case signaling.RoleCallee:
		if rec.Offer == nil || s.remoteSet {
			return nil
		}
		if err := s.applyRemoteLocked(*rec.Offer, "offer"); err != nil {
			return s.failLocked(failNegotiation, err)
		}
		answer, err := s.transport.CreateAnswer()
		if err != nil {
			return s.failLocked(failNegotiation, err)
		}
		s.answered = true
		return []func(){func() {
			err := s.store.UpdateCall(s.ctx, s.callID, signaling.CallUpdate{Answer: &answer, IfLive: true})
			if errors.Is(err, signaling.ErrTerminal) {
				log.Infow("call finished before answer", "call", s.callID)
				return
			}
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				log.Errorw("answer write failed", "call", s.callID, "err", err)
				s.Close()
				if s.hooks.onFailure != nil {
					s.hooks.onFailure(s, failSignaling, err)
				}
				return
			}
			log.Infow("answer written", "call", s.callID)
		}}
	}
	return nil
}

// applyRemoteLocked installs the remote description once and flushes the
// candidate queue in arrival order.
func (s *Session) applyRemoteLocked(d signaling.SessionDescription, want string) error {
	if err := validateDescription(d, want); err != nil {
		return err
	}
	if err := s.transport.SetRemoteDescription(d); err != nil {
		return errors.Join(ErrBadDescription, err)
	}
	s.remoteSet = true
	queued := s.queue.drain()
	for _, c := range queued {
		s.applyCandidateLocked(c)
	}
	if len(queued) > 0 {
		log.Debugw("flushed queued candidates", "call", s.callID, "count", len(queued))
	}
	return nil
}

func (s *Session) handleRemoteCandidateLocked(c signaling.CandidateRecord) []func() {
	if c.SenderID != s.role.Opposite() {
		return nil
	}
	if !s.queue.firstSight(c) {
		candidateEvents.WithLabelValues("duplicate").Inc()
		return nil
	}
	if !s.remoteSet {
		s.queue.push(c)
		candidateEvents.WithLabelValues("queued").Inc()
		return nil
	}
	s.applyCandidateLocked(c)
	return nil
}

func (s *Session) applyCandidateLocked(c signaling.CandidateRecord) {
	if err := validateCandidate(c); err != nil {
		candidateEvents.WithLabelValues("invalid").Inc()
		log.Warnw("skipping candidate", "call", s.callID, "candidate", c.ID, "err", err)
		return
	}
	if err := s.transport.AddCandidate(c); err != nil {
		candidateEvents.WithLabelValues("rejected").Inc()
		log.Warnw("transport refused candidate", "call", s.callID, "candidate", c.ID, "err", err)
		return
	}
	candidateEvents.WithLabelValues("applied").Inc()
}

func (s *Session) handleLocalCandidateLocked(c signaling.CandidateRecord) []func() {
	c.SenderID = s.role
	return []func(){func() {
		if err := s.store.AddCandidate(s.ctx, s.callID, c); err != nil {
			if s.ctx.Err() == nil {
				log.Warnw("candidate write failed", "call", s.callID, "err", err)
			}
			return
		}
		candidateEvents.WithLabelValues("sent").Inc()
	}}
}

func (s *Session) handleTransportLocked(st TransportState) []func() {
	log.Debugw("transport state", "call", s.callID, "state", st)

	switch st {
	case TransportConnected:
		s.stopGraceLocked()
		if !fire(s.state, evConnect) {
			return nil
		}
		if s.connectedAt.IsZero() {
			s.connectedAt = time.Now()
			log.Infow("media connected", "call", s.callID, "role", s.role)
		}
		return s.stateChangedLocked(StateConnected)

	case TransportDisconnected:
		if !fire(s.state, evDisconnect) {
			return nil
		}
		return s.stateChangedLocked(StateReconnecting)

	case TransportFailed:
		if !fire(s.state, evFail) {
			return nil
		}
		s.armGraceLocked()
		log.Warnw("transport failed, waiting for recovery", "call", s.callID, "grace", s.cfg.FailureGrace)
		return s.stateChangedLocked(StateFailed)
	}
	return nil
}

func (s *Session) stateChangedLocked(st NegotiationState) []func() {
	return []func(){func() {
		if s.hooks.onStateChange != nil {
			s.hooks.onStateChange(s, st)
		}
	}}
}

func (s *Session) armGraceLocked() {
	s.stopGraceLocked()
	s.graceGen++
	gen := s.graceGen
	s.grace = time.AfterFunc(s.cfg.FailureGrace, func() { s.post(evGraceExpired{gen}) })
}

func (s *Session) stopGraceLocked() {
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	s.graceGen++
}

func (s *Session) handleGraceExpiredLocked(gen int) []func() {
	if gen != s.graceGen || s.State() != StateFailed {
		return nil
	}
	log.Warnw("transport did not recover", "call", s.callID)
	return s.failLocked(failTransport, ErrTransportFailed)
}

// failLocked schedules teardown followed by the failure hook.
func (s *Session) failLocked(kind failureKind, err error) []func() {
	log.Errorw("session failed", "call", s.callID, "role", s.role, "kind", kind, "err", err)
	return []func(){
		s.Close,
		func() {
			if s.hooks.onFailure != nil {
				s.hooks.onFailure(s, kind, err)
			}
		},
	}
}

// Close tears the session down: subscriptions, timers, local tracks and the
// transport. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		s.closed = true
		s.stopGraceLocked()
		fire(s.state, evEnd)
		local, tr := s.local, s.transport
		s.local, s.transport = nil, nil
		s.queue.clear()
		s.mu.Unlock()

		if local != nil {
			local.Stop()
		}
		if tr != nil {
			if err := tr.Close(); err != nil {
				log.Debugw("transport close", "call", s.callID, "err", err)
			}
		}
		log.Infow("session closed", "call", s.callID, "role", s.role)
	})
}

// ToggleAudio flips local audio. Returns the new muted state.
func (s *Session) ToggleAudio() bool {
	s.mu.Lock()
	local := s.local
	s.mu.Unlock()
	if local == nil {
		return false
	}
	muted := local.ToggleAudio()
	log.Infow("audio toggled", "call", s.callID, "muted", muted)
	return muted
}

// ToggleVideo flips local video. Returns the new disabled state.
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	local := s.local
	s.mu.Unlock()
	if local == nil {
		return false
	}
	disabled := local.ToggleVideo()
	log.Infow("video toggled", "call", s.callID, "disabled", disabled)
	return disabled
}

// ToggleSpeaker flips the loudspeaker flag and asks the notifier to reroute
// audio when it can. Routing errors leave the flag flipped.
func (s *Session) ToggleSpeaker() bool {
	s.mu.Lock()
	s.speaker = !s.speaker
	on := s.speaker
	local := s.local
	s.mu.Unlock()

	if local != nil {
		local.setSpeaker(on)
	}
	if sw, ok := s.notifier.(OutputSwitcher); ok {
		if err := sw.SetSpeaker(on); err != nil {
			log.Debugw("output switch unsupported", "call", s.callID, "err", err)
		}
	}
	return on
}

// SessionStatus is a debugging snapshot of a session.
type SessionStatus struct {
	CallID           string           `json:"callId"`
	Role             signaling.Role   `json:"role"`
	Type             string           `json:"type"`
	State            NegotiationState `json:"state"`
	RemoteSet        bool             `json:"remoteDescriptionSet"`
	Answered         bool             `json:"answered"`
	QueuedCandidates int              `json:"queuedCandidates"`
	Muted            bool             `json:"muted"`
	VideoDisabled    bool             `json:"videoDisabled"`
	Speaker          bool             `json:"speaker"`
	StartedAt        time.Time        `json:"startedAt"`
	ConnectedAt      *time.Time       `json:"connectedAt,omitempty"`
}

// Status returns a debugging snapshot.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SessionStatus{
		CallID:           s.callID,
		Role:             s.role,
		Type:             string(s.callType),
		State:            s.State(),
		RemoteSet:        s.remoteSet,
		Answered:         s.answered,
		QueuedCandidates: s.queue.len(),
		Speaker:          s.speaker,
		StartedAt:        s.startedAt,
	}
	if s.local != nil {
		st.Muted = s.local.Muted()
		st.VideoDisabled = s.local.VideoDisabled()
	}
	if !s.connectedAt.IsZero() {
		at := s.connectedAt
		st.ConnectedAt = &at
	}
	return st
}
