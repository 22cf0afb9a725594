package viewer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/petervdpas/peercall/internal/call"
	"github.com/petervdpas/peercall/internal/realtime"
)

// Tone names carried by tone envelopes.
const (
	ToneDial = "dial"
	ToneRing = "ring"
	ToneNone = "none"
)

// TrackStat describes one received remote track.
type TrackStat struct {
	CallID  string         `json:"callId"`
	TrackID string         `json:"trackId"`
	Kind    call.MediaKind `json:"kind"`
	Packets int64          `json:"packets"`
	Bytes   int64          `json:"bytes"`
	Started time.Time      `json:"started"`
	Ended   bool           `json:"ended"`
}

type trackCounter struct {
	stat    TrackStat
	packets atomic.Int64
	bytes   atomic.Int64
	ended   atomic.Bool
}

// Notifier renders call feedback as hub envelopes and drains remote media.
// Its methods are called with the registry locked, so they only publish.
type Notifier struct {
	hub *realtime.Hub
	ctx context.Context

	mu     sync.Mutex
	tracks []*trackCounter
}

var (
	_ call.Notifier       = (*Notifier)(nil)
	_ call.OutputSwitcher = (*Notifier)(nil)
)

// NewNotifier publishes to hub. Remote track readers stop when ctx is done.
func NewNotifier(ctx context.Context, hub *realtime.Hub) *Notifier {
	return &Notifier{hub: hub, ctx: ctx}
}

func (n *Notifier) tone(name string) {
	n.hub.Publish(&realtime.Envelope{Type: realtime.TypeTone, Payload: map[string]string{"tone": name}})
}

func (n *Notifier) PlayDialTone() { n.tone(ToneDial) }
func (n *Notifier) PlayRingtone() { n.tone(ToneRing) }
func (n *Notifier) StopTones()    { n.tone(ToneNone) }

func (n *Notifier) ShowError(msg string) {
	n.hub.Publish(&realtime.Envelope{Type: realtime.TypeError, Payload: map[string]string{"message": msg}})
}

func (n *Notifier) SetSpeaker(on bool) error {
	n.hub.Publish(&realtime.Envelope{Type: realtime.TypeOutput, Payload: map[string]bool{"speaker": on}})
	return nil
}

// RemoteTrack announces t and counts its packets until it ends.
func (n *Notifier) RemoteTrack(callID string, t call.RemoteTrack) {
	tc := &trackCounter{stat: TrackStat{
		CallID:  callID,
		TrackID: t.ID(),
		Kind:    t.Kind(),
		Started: time.Now(),
	}}

	n.mu.Lock()
	n.tracks = append(n.tracks, tc)
	n.mu.Unlock()

	n.hub.Publish(&realtime.Envelope{
		Type:    realtime.TypeTrack,
		CallID:  callID,
		Payload: map[string]string{"trackId": t.ID(), "kind": string(t.Kind())},
	})

	go func() {
		_, err := call.PumpRTP(n.ctx, t, func(p *rtp.Packet) error {
			tc.packets.Add(1)
			tc.bytes.Add(int64(len(p.Payload)))
			return nil
		})
		tc.ended.Store(true)
		log.Debugw("remote track ended", "call", callID, "track", t.ID(), "packets", tc.packets.Load(), "err", err)
	}()
}

// Tracks returns a snapshot of every remote track seen.
func (n *Notifier) Tracks() []TrackStat {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]TrackStat, 0, len(n.tracks))
	for _, tc := range n.tracks {
		st := tc.stat
		st.Packets = tc.packets.Load()
		st.Bytes = tc.bytes.Load()
		st.Ended = tc.ended.Load()
		out = append(out, st)
	}
	return out
}
