package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/petervdpas/peercall/internal/signaling"
)

const testSDP = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=sendrecv\r\n"

func testCandidate(port int) string {
	return fmt.Sprintf("candidate:1 1 udp 2130706431 192.168.1.2 %d typ host", port)
}

// ── media ───────────────────────────────────────────────────────────────────

type fakeTrack struct {
	id   string
	kind MediaKind

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func newFakeTrack(id string, kind MediaKind) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string      { return t.id }
func (t *fakeTrack) Kind() MediaKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeMedia hands out fake tracks. A non-nil gate holds Acquire back until it
// is closed, like a pending permission prompt.
type fakeMedia struct {
	mu     sync.Mutex
	err    error
	gate   chan struct{}
	tracks []*fakeTrack
}

func (f *fakeMedia) Acquire(ctx context.Context, callType signaling.CallType) (*LocalMedia, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	n := len(f.tracks)
	tracks := []LocalTrack{}
	audio := newFakeTrack(fmt.Sprintf("audio-%d", n), MediaAudio)
	f.tracks = append(f.tracks, audio)
	tracks = append(tracks, audio)
	if callType == signaling.CallTypeVideo {
		video := newFakeTrack(fmt.Sprintf("video-%d", n), MediaVideo)
		f.tracks = append(f.tracks, video)
		tracks = append(tracks, video)
	}
	return NewLocalMedia(tracks...), nil
}

func (f *fakeMedia) allStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tracks {
		if !t.Stopped() {
			return false
		}
	}
	return len(f.tracks) > 0
}

// ── transport ───────────────────────────────────────────────────────────────

// fakeTransport reports connected once it has a remote description and at
// least one remote candidate.
type fakeTransport struct {
	name string

	mu         sync.Mutex
	remote     *signaling.SessionDescription
	candidates []signaling.CandidateRecord
	attached   int
	closed     bool
	connected  bool
	port       int
	onCand     func(signaling.CandidateRecord)
	onState    func(TransportState)
	onTrack    func(RemoteTrack)
}

func (t *fakeTransport) AttachMedia(m *LocalMedia) error {
	t.mu.Lock()
	t.attached = len(m.Tracks())
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) localDescription(typ string) (signaling.SessionDescription, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return signaling.SessionDescription{}, errors.New("closed")
	}
	fn := t.onCand
	base := t.port
	t.mu.Unlock()

	if fn != nil {
		for i := 0; i < 2; i++ {
			fn(signaling.CandidateRecord{Candidate: testCandidate(base + i)})
		}
	}
	return signaling.SessionDescription{Type: typ, SDP: testSDP}, nil
}

func (t *fakeTransport) CreateOffer() (signaling.SessionDescription, error) {
	return t.localDescription("offer")
}

func (t *fakeTransport) CreateAnswer() (signaling.SessionDescription, error) {
	return t.localDescription("answer")
}

func (t *fakeTransport) SetRemoteDescription(d signaling.SessionDescription) error {
	t.mu.Lock()
	t.remote = &d
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) AddCandidate(c signaling.CandidateRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remote == nil {
		return errors.New("no remote description")
	}
	t.candidates = append(t.candidates, c)
	if !t.connected {
		t.connected = true
		if fn := t.onState; fn != nil {
			go fn(TransportConnected)
		}
	}
	return nil
}

func (t *fakeTransport) OnLocalCandidate(fn func(signaling.CandidateRecord)) {
	t.mu.Lock()
	t.onCand = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnStateChange(fn func(TransportState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnRemoteTrack(fn func(RemoteTrack)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) emit(st TransportState) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	fn(st)
}

func (t *fakeTransport) appliedCandidates() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.candidates))
	for i, c := range t.candidates {
		out[i] = c.Candidate
	}
	return out
}

func (t *fakeTransport) remoteDescription() *signaling.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeNet struct {
	mu         sync.Mutex
	transports []*fakeTransport
	nextPort   int
}

func (n *fakeNet) factory(_ TransportConfig) (Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.nextPort == 0 {
		n.nextPort = 50000
	}
	t := &fakeTransport{name: fmt.Sprintf("t%d", len(n.transports)), port: n.nextPort}
	n.nextPort += 10
	n.transports = append(n.transports, t)
	return t, nil
}

func (n *fakeNet) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transports)
}

func (n *fakeNet) get(i int) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	if i >= len(n.transports) {
		return nil
	}
	return n.transports[i]
}

// ── notifier ────────────────────────────────────────────────────────────────

type fakeNotifier struct {
	mu        sync.Mutex
	dialTones int
	ringtones int
	stops     int
	errors    []string
	speaker   []bool
}

func (n *fakeNotifier) PlayDialTone() {
	n.mu.Lock()
	n.dialTones++
	n.mu.Unlock()
}

func (n *fakeNotifier) PlayRingtone() {
	n.mu.Lock()
	n.ringtones++
	n.mu.Unlock()
}

func (n *fakeNotifier) StopTones() {
	n.mu.Lock()
	n.stops++
	n.mu.Unlock()
}

func (n *fakeNotifier) ShowError(msg string) {
	n.mu.Lock()
	n.errors = append(n.errors, msg)
	n.mu.Unlock()
}

func (n *fakeNotifier) RemoteTrack(string, RemoteTrack) {}

func (n *fakeNotifier) SetSpeaker(on bool) error {
	n.mu.Lock()
	n.speaker = append(n.speaker, on)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) errorCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errors)
}

func (n *fakeNotifier) ringtoneCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ringtones
}

func (n *fakeNotifier) dialToneCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dialTones
}

// ── store decorators ────────────────────────────────────────────────────────

// faultyStore fails selected writes and, unlike MemoryStore, refuses writes
// on a cancelled context.
type faultyStore struct {
	signaling.Store

	mu        sync.Mutex
	createErr error
	updateErr error
}

func (f *faultyStore) CreateCall(ctx context.Context, rec signaling.CallRecord) (signaling.CallRecord, error) {
	f.mu.Lock()
	err := f.createErr
	f.mu.Unlock()
	if err != nil {
		return signaling.CallRecord{}, err
	}
	return f.Store.CreateCall(ctx, rec)
}

func (f *faultyStore) UpdateCall(ctx context.Context, id string, u signaling.CallUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	err := f.updateErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.UpdateCall(ctx, id, u)
}

// gatedStore holds back inbox deliveries until open is called.
type gatedStore struct {
	signaling.Store
	gate chan struct{}
	once sync.Once
}

func newGatedStore(inner signaling.Store) *gatedStore {
	return &gatedStore{Store: inner, gate: make(chan struct{})}
}

func (g *gatedStore) open() { g.once.Do(func() { close(g.gate) }) }

func (g *gatedStore) WatchIncoming(ctx context.Context, receiverID string) (<-chan signaling.CallRecord, error) {
	in, err := g.Store.WatchIncoming(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	out := make(chan signaling.CallRecord)
	go func() {
		defer close(out)
		select {
		case <-g.gate:
		case <-ctx.Done():
			return
		}
		for rec := range in {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ── clock ───────────────────────────────────────────────────────────────────

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Now()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ── remote track ────────────────────────────────────────────────────────────

type fakeRemoteTrack struct {
	packets []*rtp.Packet
}

func (r *fakeRemoteTrack) ID() string      { return "remote" }
func (r *fakeRemoteTrack) Kind() MediaKind { return MediaVideo }

func (r *fakeRemoteTrack) ReadRTP() (*rtp.Packet, error) {
	if len(r.packets) == 0 {
		return nil, errors.New("eof")
	}
	p := r.packets[0]
	r.packets = r.packets[1:]
	return p, nil
}
