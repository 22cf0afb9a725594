// Package call owns the per-client call lifecycle (Manager) and the per-call
// negotiation of a direct media session (Session). The shared signaling store
// is its only channel to the other party.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/looplab/fsm"

	"github.com/petervdpas/peercall/internal/signaling"
)

var log = logging.Logger("call")

const (
	DefaultRingTimeout      = 30 * time.Second
	DefaultFailureGrace     = 2 * time.Second
	DefaultErrorNoticeDelay = 500 * time.Millisecond

	storeWriteTimeout = 10 * time.Second
)

// User-facing error texts.
const (
	msgStartFailed  = "Could not start the call. Please try again."
	msgMediaFailed  = "Could not access camera or microphone."
	msgSignalFailed = "The call could not be connected."
	msgCallFailed   = "The call was interrupted."
)

// Options configures a Manager.
type Options struct {
	Self          Peer
	Store         signaling.Store
	Conversations signaling.ConversationLog
	Notifier      Notifier
	Media         MediaSource
	Transport     TransportFactory

	TransportConfig  TransportConfig
	RingTimeout      time.Duration
	FailureGrace     time.Duration
	ErrorNoticeDelay time.Duration

	// Now is the clock used for ring-timeout arithmetic and durations.
	Now func() time.Time
}

// IncomingCall is the call currently offered to the user.
type IncomingCall struct {
	ID             string             `json:"id"`
	CallerID       string             `json:"callerId"`
	Caller         UserInfo           `json:"caller"`
	Type           signaling.CallType `json:"type"`
	ConversationID string             `json:"conversationId,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
}

// ActiveCall describes the call the user is in.
type ActiveCall struct {
	ID             string             `json:"id"`
	IsCaller       bool               `json:"isCaller"`
	OtherUser      UserInfo           `json:"otherUser"`
	Type           signaling.CallType `json:"type"`
	ConversationID string             `json:"conversationId,omitempty"`
	State          NegotiationState   `json:"state"`

	otherID string
}

// State is the registry snapshot served to the presentation layer.
type State struct {
	Incoming  *IncomingCall `json:"incomingCall"`
	Active    *ActiveCall   `json:"activeCall"`
	Minimized bool          `json:"isMinimized"`
	Phase     Phase         `json:"phase"`
}

// Manager is the call session registry of one client. It enforces at most one
// active call and at most one surfaced incoming call.
type Manager struct {
	self      Peer
	store     signaling.Store
	convs     signaling.ConversationLog
	notifier  Notifier
	media     MediaSource
	transport TransportFactory
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu               sync.Mutex
	closed           bool
	phase            *fsm.FSM
	starting         bool
	session          *Session
	active           *ActiveCall
	incoming         *signaling.CallRecord
	ringTimer        *time.Timer
	dialTimer        *time.Timer
	minimized        bool
	transportCfg     TransportConfig
	ringTimeout      time.Duration
	failureGrace     time.Duration
	errorNoticeDelay time.Duration
	listeners        map[chan State]struct{}
}

// New creates a Manager and starts watching the store for calls addressed to
// opts.Self.
func New(opts Options) (*Manager, error) {
	if opts.Self.ID == "" {
		return nil, errors.New("call: self ID is required")
	}
	if opts.Store == nil {
		return nil, errors.New("call: store is required")
	}
	if opts.Media == nil {
		return nil, errors.New("call: media source is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("call: transport factory is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = DefaultRingTimeout
	}
	if opts.FailureGrace <= 0 {
		opts.FailureGrace = DefaultFailureGrace
	}
	if opts.ErrorNoticeDelay < 0 {
		opts.ErrorNoticeDelay = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		self:             opts.Self,
		store:            opts.Store,
		convs:            opts.Conversations,
		notifier:         opts.Notifier,
		media:            opts.Media,
		transport:        opts.Transport,
		now:              opts.Now,
		ctx:              ctx,
		cancel:           cancel,
		done:             make(chan struct{}),
		phase:            newPhaseFSM(),
		transportCfg:     opts.TransportConfig,
		ringTimeout:      opts.RingTimeout,
		failureGrace:     opts.FailureGrace,
		errorNoticeDelay: opts.ErrorNoticeDelay,
		listeners:        make(map[chan State]struct{}),
	}

	inbox, err := m.store.WatchIncoming(ctx, m.self.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch incoming calls: %w", err)
	}
	go m.inboxLoop(inbox)
	return m, nil
}

// Reconfigure replaces the settings applied to calls started afterwards.
func (m *Manager) Reconfigure(cfg TransportConfig, ringTimeout, failureGrace, errorNoticeDelay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transportCfg = cfg
	if ringTimeout > 0 {
		m.ringTimeout = ringTimeout
	}
	if failureGrace > 0 {
		m.failureGrace = failureGrace
	}
	if errorNoticeDelay >= 0 {
		m.errorNoticeDelay = errorNoticeDelay
	}
	log.Infow("call settings updated", "ring_timeout", m.ringTimeout, "ice_servers", len(cfg.ICEServers))
}

// Self returns the local user.
func (m *Manager) Self() Peer { return m.self }

// State returns a snapshot of the registry.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe returns a channel of state snapshots. Slow readers only ever see
// the latest snapshot. Call cancel to stop receiving.
func (m *Manager) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	m.mu.Lock()
	m.listeners[ch] = struct{}{}
	ch <- m.snapshotLocked()
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, ch)
			m.mu.Unlock()
		})
	}
}

// ActiveSession returns the negotiation session of the active call, if any.
func (m *Manager) ActiveSession() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.session != nil
}

// ActiveStatus returns the debugging snapshot of the active session.
func (m *Manager) ActiveStatus() (SessionStatus, bool) {
	s, ok := m.ActiveSession()
	if !ok {
		return SessionStatus{}, false
	}
	return s.Status(), true
}

// StartCall creates an outgoing call to receiver and starts negotiating it.
func (m *Manager) StartCall(ctx context.Context, receiver Peer, callType signaling.CallType, conversationID string) (ActiveCall, error) {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ActiveCall{}, ErrClosed
	case m.session != nil || m.starting:
		m.mu.Unlock()
		return ActiveCall{}, ErrCallActive
	case m.incoming != nil:
		m.mu.Unlock()
		return ActiveCall{}, ErrIncomingPending
	}
	m.starting = true
	m.mu.Unlock()

	rec, err := m.store.CreateCall(ctx, signaling.CallRecord{
		CallerID:       m.self.ID,
		CallerName:     m.self.Name,
		CallerAvatar:   m.self.Avatar,
		ReceiverID:     receiver.ID,
		ReceiverName:   receiver.Name,
		ReceiverAvatar: receiver.Avatar,
		ConversationID: conversationID,
		Type:           callType,
		Status:         signaling.StatusRinging,
		Timestamp:      m.now(),
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.starting = false
	if err != nil {
		log.Errorw("create call failed", "receiver", receiver.ID, "err", err)
		m.notifier.ShowError(msgStartFailed)
		return ActiveCall{}, fmt.Errorf("start call: %w", err)
	}
	if m.closed {
		return ActiveCall{}, ErrClosed
	}

	m.activateLocked(rec, signaling.RoleCaller, receiver)
	fire(m.phase, evDial)
	m.notifier.PlayDialTone()
	callID := rec.ID
	m.dialTimer = time.AfterFunc(m.ringTimeout, func() { m.dialTimedOut(callID) })
	m.session.Start()
	m.publishLocked()

	log.Infow("call started", "call", rec.ID, "receiver", receiver.ID, "type", callType)
	return *m.active, nil
}

// AnswerCall accepts the surfaced incoming call.
func (m *Manager) AnswerCall(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.incoming == nil {
		return ErrNoIncomingCall
	}
	if m.session != nil || m.starting {
		return ErrCallActive
	}
	m.answerLocked()
	m.publishLocked()
	return nil
}

func (m *Manager) answerLocked() {
	rec := *m.incoming
	m.clearIncomingLocked()
	m.notifier.StopTones()

	caller := Peer{ID: rec.CallerID, Name: rec.CallerName, Avatar: rec.CallerAvatar}
	m.activateLocked(rec, signaling.RoleCallee, caller)
	fire(m.phase, evAnswer)
	m.session.Start()
	log.Infow("call answered", "call", rec.ID, "caller", rec.CallerID)
}

// DeclineCall rejects the surfaced incoming call.
func (m *Manager) DeclineCall(ctx context.Context) error {
	m.mu.Lock()
	if m.incoming == nil {
		m.mu.Unlock()
		return ErrNoIncomingCall
	}
	rec := *m.incoming
	m.clearIncomingLocked()
	fire(m.phase, evHangup)
	m.notifier.StopTones()
	m.publishLocked()
	m.mu.Unlock()

	callOutcomes.WithLabelValues(outcomeDeclined).Inc()
	log.Infow("call declined", "call", rec.ID, "caller", rec.CallerID)

	wctx, cancel := writeContext(ctx)
	defer cancel()
	err := m.store.UpdateCall(wctx, rec.ID, signaling.CallUpdate{Status: signaling.StatusRejected, IfLive: true})
	if errors.Is(err, signaling.ErrTerminal) {
		log.Infow("declined call already finished", "call", rec.ID)
		return nil
	}
	m.appendLog(rec.ConversationID, declinedLine(rec.Type))
	if err != nil {
		return fmt.Errorf("decline call: %w", err)
	}
	return nil
}

// EndActiveCall hangs up the active call. Local state is cleared even when the
// store write fails.
func (m *Manager) EndActiveCall(ctx context.Context) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNoActiveCall
	}
	s, _ := m.detachLocked()
	m.mu.Unlock()

	duration := m.now().Sub(s.StartedAt())
	s.Close()

	callOutcomes.WithLabelValues(outcomeEnded).Inc()
	callDuration.Observe(duration.Seconds())
	log.Infow("call ended", "call", s.CallID(), "duration", duration)

	wctx, cancel := writeContext(ctx)
	defer cancel()
	err := m.store.UpdateCall(wctx, s.CallID(), signaling.CallUpdate{Status: signaling.StatusEnded, IfLive: true})
	if errors.Is(err, signaling.ErrTerminal) {
		log.Infow("ended call already finished", "call", s.CallID())
		return nil
	}
	m.appendLog(s.conversationID, endedLine(s.Type(), duration))
	if err != nil {
		return fmt.Errorf("end call: %w", err)
	}
	return nil
}

// SetMinimized records whether the call view is minimized.
func (m *Manager) SetMinimized(minimized bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.minimized == minimized {
		return
	}
	m.minimized = minimized
	m.publishLocked()
}

// ToggleAudio mutes or unmutes the active call. Returns the new muted state.
func (m *Manager) ToggleAudio() (bool, error) {
	s, ok := m.ActiveSession()
	if !ok {
		return false, ErrNoActiveCall
	}
	return s.ToggleAudio(), nil
}

// ToggleVideo disables or enables video of the active call.
func (m *Manager) ToggleVideo() (bool, error) {
	s, ok := m.ActiveSession()
	if !ok {
		return false, ErrNoActiveCall
	}
	return s.ToggleVideo(), nil
}

// ToggleSpeaker switches between earpiece and loudspeaker output.
func (m *Manager) ToggleSpeaker() (bool, error) {
	s, ok := m.ActiveSession()
	if !ok {
		return false, ErrNoActiveCall
	}
	return s.ToggleSpeaker(), nil
}

// Close stops watching for calls and hangs up any active call.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.cancel()
	s, _ := m.detachLocked()
	if m.incoming != nil {
		m.clearIncomingLocked()
		fire(m.phase, evHangup)
	}
	m.listeners = make(map[chan State]struct{})
	m.mu.Unlock()

	<-m.done
	if s == nil {
		return
	}
	s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := m.store.UpdateCall(ctx, s.CallID(), signaling.CallUpdate{Status: signaling.StatusEnded}); err != nil {
		log.Warnw("end call on close", "call", s.CallID(), "err", err)
	}
}

func (m *Manager) inboxLoop(inbox <-chan signaling.CallRecord) {
	defer close(m.done)
	for rec := range inbox {
		for _, fn := range m.observeIncoming(rec) {
			fn()
		}
	}
}

// observeIncoming applies one inbox change and returns store work to run
// without the registry lock.
func (m *Manager) observeIncoming(rec signaling.CallRecord) []func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || rec.ReceiverID != m.self.ID {
		return nil
	}

	if m.incoming != nil && m.incoming.ID == rec.ID {
		if rec.Status.Terminal() {
			log.Infow("incoming call withdrawn", "call", rec.ID, "status", rec.Status)
			m.clearIncomingLocked()
			fire(m.phase, evHangup)
			m.notifier.StopTones()
		} else {
			r := rec
			m.incoming = &r
		}
		m.publishLocked()
		return nil
	}

	if !rec.Status.Live() {
		return nil
	}
	if m.session != nil && m.session.CallID() == rec.ID {
		return nil
	}

	age := rec.Age(m.now())
	if age > m.ringTimeout {
		log.Infow("stale incoming call", "call", rec.ID, "age", age)
		callOutcomes.WithLabelValues(outcomeMissed).Inc()
		id := rec.ID
		return []func(){func() { m.writeStatus(id, signaling.StatusMissed) }}
	}

	if m.yieldsToLocked(rec) {
		return m.supersedeLocked(rec)
	}

	if m.session != nil || m.incoming != nil || m.starting {
		log.Infow("busy, not surfacing call", "call", rec.ID, "caller", rec.CallerID)
		return nil
	}

	r := rec
	m.incoming = &r
	fire(m.phase, evRing)
	m.notifier.PlayRingtone()
	id := rec.ID
	m.ringTimer = time.AfterFunc(m.ringTimeout-age, func() { m.ringTimedOut(id) })
	m.publishLocked()
	log.Infow("incoming call", "call", rec.ID, "caller", rec.CallerID, "type", rec.Type)
	return nil
}

// yieldsToLocked reports whether rec is the other half of a simultaneous call
// that this side must give up. The smaller user ID keeps the caller role.
func (m *Manager) yieldsToLocked(rec signaling.CallRecord) bool {
	if m.session == nil || m.active == nil || !m.active.IsCaller {
		return false
	}
	if m.active.otherID != rec.CallerID || Phase(m.phase.Current()) != PhaseDialing {
		return false
	}
	return m.self.ID > rec.CallerID
}

// supersedeLocked withdraws our own outgoing call and answers rec instead.
func (m *Manager) supersedeLocked(rec signaling.CallRecord) []func() {
	own, _ := m.detachLocked()
	callOutcomes.WithLabelValues(outcomeSuperseded).Inc()
	log.Infow("simultaneous call, yielding", "own", own.CallID(), "call", rec.ID, "caller", rec.CallerID)

	r := rec
	m.incoming = &r
	fire(m.phase, evRing)
	m.answerLocked()
	m.publishLocked()

	return []func(){func() {
		own.Close()
		m.writeStatus(own.CallID(), signaling.StatusEnded)
	}}
}

func (m *Manager) ringTimedOut(callID string) {
	m.mu.Lock()
	if m.incoming == nil || m.incoming.ID != callID {
		m.mu.Unlock()
		return
	}
	m.ringTimer = nil
	m.clearIncomingLocked()
	fire(m.phase, evHangup)
	m.notifier.StopTones()
	m.publishLocked()
	m.mu.Unlock()

	log.Infow("incoming call timed out", "call", callID)
	callOutcomes.WithLabelValues(outcomeMissed).Inc()
	m.writeStatus(callID, signaling.StatusMissed)
}

func (m *Manager) dialTimedOut(callID string) {
	m.mu.Lock()
	if m.session == nil || m.session.CallID() != callID || Phase(m.phase.Current()) != PhaseDialing {
		m.mu.Unlock()
		return
	}
	m.dialTimer = nil
	s, _ := m.detachLocked()
	m.mu.Unlock()

	log.Infow("outgoing call unanswered", "call", callID)
	s.Close()
	callOutcomes.WithLabelValues(outcomeMissed).Inc()
	// A missed status from the callee's ring timer still gets our line; a
	// decline or withdrawal does not.
	if err := m.writeStatus(callID, signaling.StatusMissed); errors.Is(err, signaling.ErrTerminal) &&
		m.storedStatus(callID) != signaling.StatusMissed {
		return
	}
	m.appendLog(s.conversationID, missedLine(s.Type()))
}

// activateLocked installs a new session as the active call.
func (m *Manager) activateLocked(rec signaling.CallRecord, role signaling.Role, other Peer) {
	m.session = newSession(sessionParams{
		record:    rec,
		role:      role,
		other:     other,
		startedAt: m.now(),
		store:     m.store,
		media:     m.media,
		transport: m.transport,
		notifier:  m.notifier,
		cfg: SessionConfig{
			Transport:    m.transportCfg,
			FailureGrace: m.failureGrace,
		},
		hooks: sessionHooks{
			onAnswered:    m.sessionAnswered,
			onStateChange: m.sessionStateChanged,
			onRemoteEnd:   m.sessionRemoteEnded,
			onFailure:     m.sessionFailed,
		},
	})
	m.active = &ActiveCall{
		ID:             rec.ID,
		IsCaller:       role == signaling.RoleCaller,
		OtherUser:      UserInfo{Name: other.Name, Avatar: other.Avatar},
		Type:           rec.Type,
		ConversationID: rec.ConversationID,
		State:          StateInitializing,
		otherID:        other.ID,
	}
	m.minimized = false
	activeCalls.Inc()
	callsStarted.WithLabelValues(string(role)).Inc()
}

// detachLocked clears the active call and returns its session without closing it.
func (m *Manager) detachLocked() (*Session, bool) {
	s := m.session
	if s == nil {
		return nil, false
	}
	m.session = nil
	m.active = nil
	m.minimized = false
	if m.dialTimer != nil {
		m.dialTimer.Stop()
		m.dialTimer = nil
	}
	fire(m.phase, evHangup)
	m.notifier.StopTones()
	activeCalls.Dec()
	m.publishLocked()
	return s, true
}

func (m *Manager) clearIncomingLocked() {
	m.incoming = nil
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
}

func (m *Manager) sessionAnswered(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != s {
		return
	}
	if m.dialTimer != nil {
		m.dialTimer.Stop()
		m.dialTimer = nil
	}
	fire(m.phase, evAnswered)
	m.notifier.StopTones()
	m.publishLocked()
}

func (m *Manager) sessionStateChanged(s *Session, st NegotiationState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != s || m.active == nil {
		return
	}
	m.active.State = st
	m.publishLocked()
}

func (m *Manager) sessionRemoteEnded(s *Session, status signaling.Status) {
	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		return
	}
	dialing := Phase(m.phase.Current()) == PhaseDialing
	m.detachLocked()
	m.mu.Unlock()

	callOutcomes.WithLabelValues(outcomeRemoteEnd).Inc()
	log.Infow("call ended by remote", "call", s.CallID(), "status", status)

	// The callee's ring timer may fire before ours; the caller still owns the
	// missed line.
	if status == signaling.StatusMissed && dialing {
		m.appendLog(s.conversationID, missedLine(s.Type()))
	}
}

func (m *Manager) sessionFailed(s *Session, kind failureKind, err error) {
	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		return
	}
	m.detachLocked()
	delay := m.errorNoticeDelay
	m.mu.Unlock()

	s.Close()
	log.Errorw("call failed", "call", s.CallID(), "kind", kind, "err", err)

	switch kind {
	case failMedia:
		callOutcomes.WithLabelValues(outcomeMediaError).Inc()
		m.writeStatus(s.CallID(), signaling.StatusEnded)
		time.AfterFunc(delay, func() { m.notifier.ShowError(msgMediaFailed) })
	case failSignaling:
		callOutcomes.WithLabelValues(outcomeFailed).Inc()
		m.writeStatus(s.CallID(), signaling.StatusEnded)
		m.notifier.ShowError(msgSignalFailed)
	default:
		duration := m.now().Sub(s.StartedAt())
		callOutcomes.WithLabelValues(outcomeFailed).Inc()
		callDuration.Observe(duration.Seconds())
		if err := m.writeStatus(s.CallID(), signaling.StatusEnded); !errors.Is(err, signaling.ErrTerminal) {
			m.appendLog(s.conversationID, endedLine(s.Type(), duration))
		}
		m.notifier.ShowError(msgCallFailed)
	}
}

// writeContext detaches ctx from cancellation and bounds it, so a terminal
// write still lands when the request that triggered it goes away.
func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
}

// writeStatus is a best-effort terminal status write for transitions with no
// caller to report an error to. A call that already finished keeps its status
// and the returned error is signaling.ErrTerminal.
func (m *Manager) writeStatus(callID string, status signaling.Status) error {
	ctx, cancel := writeContext(context.Background())
	defer cancel()
	err := m.store.UpdateCall(ctx, callID, signaling.CallUpdate{Status: status, IfLive: true})
	switch {
	case errors.Is(err, signaling.ErrTerminal):
		log.Infow("call already finished", "call", callID, "status", status)
	case err != nil:
		log.Warnw("status write failed", "call", callID, "status", status, "err", err)
	}
	return err
}

func (m *Manager) storedStatus(callID string) signaling.Status {
	ctx, cancel := writeContext(context.Background())
	defer cancel()
	rec, err := m.store.GetCall(ctx, callID)
	if err != nil {
		log.Warnw("status read failed", "call", callID, "err", err)
		return ""
	}
	return rec.Status
}

func (m *Manager) appendLog(conversationID, line string) {
	if m.convs == nil || conversationID == "" {
		return
	}
	ctx, cancel := writeContext(context.Background())
	defer cancel()
	if err := m.convs.AppendSystemMessage(ctx, conversationID, line); err != nil {
		log.Warnw("call log write failed", "conversation", conversationID, "err", err)
	}
}

func (m *Manager) snapshotLocked() State {
	st := State{Minimized: m.minimized, Phase: Phase(m.phase.Current())}
	if m.incoming != nil {
		st.Incoming = &IncomingCall{
			ID:             m.incoming.ID,
			CallerID:       m.incoming.CallerID,
			Caller:         UserInfo{Name: m.incoming.CallerName, Avatar: m.incoming.CallerAvatar},
			Type:           m.incoming.Type,
			ConversationID: m.incoming.ConversationID,
			Timestamp:      m.incoming.Timestamp,
		}
	}
	if m.active != nil {
		a := *m.active
		st.Active = &a
	}
	return st
}

// publishLocked sends the current snapshot to every listener, replacing any
// snapshot the listener has not read yet.
func (m *Manager) publishLocked() {
	st := m.snapshotLocked()
	for ch := range m.listeners {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
