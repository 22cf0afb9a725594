package call

import (
	"context"
	"errors"
	"time"

	"github.com/pion/rtp"

	"github.com/petervdpas/peercall/internal/signaling"
)

// Peer identifies a call participant for display.
type Peer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// UserInfo is the display part of a Peer, as shown by the presentation layer.
type UserInfo struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// MediaKind is the kind of a single media track.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// LocalTrack is a captured local media track.
type LocalTrack interface {
	ID() string
	Kind() MediaKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// RemoteTrack is an inbound media track from the other party.
type RemoteTrack interface {
	ID() string
	Kind() MediaKind
	ReadRTP() (*rtp.Packet, error)
}

// MediaSource acquires local capture devices for a call. Video is captured only
// for video calls; audio always.
type MediaSource interface {
	Acquire(ctx context.Context, callType signaling.CallType) (*LocalMedia, error)
}

// TransportState is the connectivity state reported by a Transport.
type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// TransportConfig configures candidate gathering and connectivity checks.
type TransportConfig struct {
	ICEServers          []string
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
	KeyframeInterval    time.Duration
}

// Transport is the direct media path between the two parties. CreateOffer and
// CreateAnswer also install the result as the local description.
type Transport interface {
	AttachMedia(m *LocalMedia) error
	CreateOffer() (signaling.SessionDescription, error)
	CreateAnswer() (signaling.SessionDescription, error)
	SetRemoteDescription(d signaling.SessionDescription) error
	AddCandidate(c signaling.CandidateRecord) error

	OnLocalCandidate(fn func(signaling.CandidateRecord))
	OnStateChange(fn func(TransportState))
	OnRemoteTrack(fn func(RemoteTrack))

	Close() error
}

// TransportFactory creates one Transport per call.
type TransportFactory func(cfg TransportConfig) (Transport, error)

// Notifier is the presentation layer as seen from the call package. It renders
// tones, errors and remote media; it never writes negotiation state.
type Notifier interface {
	PlayDialTone()
	PlayRingtone()
	StopTones()
	ShowError(msg string)
	RemoteTrack(callID string, t RemoteTrack)
}

// OutputSwitcher is implemented by notifiers that can route call audio between
// the earpiece and the loudspeaker.
type OutputSwitcher interface {
	SetSpeaker(on bool) error
}

type nopNotifier struct{}

func (nopNotifier) PlayDialTone()                   {}
func (nopNotifier) PlayRingtone()                   {}
func (nopNotifier) StopTones()                      {}
func (nopNotifier) ShowError(string)                {}
func (nopNotifier) RemoteTrack(string, RemoteTrack) {}

// Registry errors.
var (
	// ErrCallActive is returned when an operation needs the user to be free.
	ErrCallActive = errors.New("call: a call is already active")

	// ErrNoActiveCall is returned when no call is active.
	ErrNoActiveCall = errors.New("call: no active call")

	// ErrNoIncomingCall is returned when no incoming call is being offered.
	ErrNoIncomingCall = errors.New("call: no incoming call")

	// ErrIncomingPending is returned by StartCall while an incoming call rings.
	ErrIncomingPending = errors.New("call: an incoming call is ringing")

	// ErrClosed is returned after the manager has been closed.
	ErrClosed = errors.New("call: manager closed")
)

// Negotiation errors.
var (
	// ErrMediaUnavailable is returned when local capture devices cannot be used.
	ErrMediaUnavailable = errors.New("call: local media unavailable")

	// ErrBadDescription marks a malformed or mismatched session description.
	ErrBadDescription = errors.New("call: bad session description")

	// ErrBadCandidate marks a network candidate that cannot be parsed.
	ErrBadCandidate = errors.New("call: bad network candidate")

	// ErrTransportFailed is reported when connectivity is lost for good.
	ErrTransportFailed = errors.New("call: transport failed")

	// ErrSessionClosed is returned by operations on a torn down session.
	ErrSessionClosed = errors.New("call: session closed")
)
