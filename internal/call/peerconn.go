package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/peercall/internal/signaling"
)

// DefaultICEServers is used when the configuration lists none.
var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

// rtcTrack is a LocalTrack that can be sent over a pion PeerConnection.
type rtcTrack interface {
	LocalTrack
	trackLocal() webrtc.TrackLocal
	bindSender(sender *webrtc.RTPSender)
}

// peerTransport is the pion implementation of Transport.
type peerTransport struct {
	pc       *webrtc.PeerConnection
	keyframe time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	onTrack func(RemoteTrack)
}

// NewPeerTransport builds a PeerConnection with the default codecs and
// interceptors, the configured ICE servers and generous ICE timeouts.
func NewPeerTransport(cfg TransportConfig) (Transport, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	disconnected, failed, keepAlive := cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval
	if disconnected <= 0 {
		disconnected = 30 * time.Second
	}
	if failed <= 0 {
		failed = 120 * time.Second
	}
	if keepAlive <= 0 {
		keepAlive = 2 * time.Second
	}
	se := webrtc.SettingEngine{LoggerFactory: pionLoggerFactory{}}
	se.SetICETimeouts(disconnected, failed, keepAlive)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	servers := cfg.ICEServers
	if len(servers) == 0 {
		servers = DefaultICEServers
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: servers}},
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &peerTransport{pc: pc, keyframe: cfg.KeyframeInterval, ctx: ctx, cancel: cancel}
	pc.OnTrack(t.handleTrack)
	return t, nil
}

func (t *peerTransport) AttachMedia(m *LocalMedia) error {
	for _, lt := range m.Tracks() {
		rt, ok := lt.(rtcTrack)
		if !ok {
			return fmt.Errorf("track %s cannot be sent", lt.ID())
		}
		sender, err := t.pc.AddTrack(rt.trackLocal())
		if err != nil {
			return fmt.Errorf("add %s track: %w", lt.Kind(), err)
		}
		rt.bindSender(sender)
		go drainRTCP(sender)
	}
	return nil
}

// drainRTCP reads incoming RTCP for a sender so interceptors (NACK, reports)
// keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *peerTransport) CreateOffer() (signaling.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return signaling.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return signaling.SessionDescription{}, err
	}
	return signaling.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (t *peerTransport) CreateAnswer() (signaling.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return signaling.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return signaling.SessionDescription{}, err
	}
	return signaling.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (t *peerTransport) SetRemoteDescription(d signaling.SessionDescription) error {
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(d.Type),
		SDP:  d.SDP,
	})
}

func (t *peerTransport) AddCandidate(c signaling.CandidateRecord) error {
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (t *peerTransport) OnLocalCandidate(fn func(signaling.CandidateRecord)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		fn(signaling.CandidateRecord{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (t *peerTransport) OnStateChange(fn func(TransportState)) {
	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(transportState(s))
	})
}

func (t *peerTransport) OnRemoteTrack(fn func(RemoteTrack)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

func (t *peerTransport) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go requestKeyframes(t.ctx, t.pc, track.SSRC(), t.keyframe)
	}
	t.mu.Lock()
	fn := t.onTrack
	t.mu.Unlock()
	if fn != nil {
		fn(&remoteTrack{track: track})
	}
}

func (t *peerTransport) Close() error {
	t.cancel()
	return t.pc.Close()
}

func transportState(s webrtc.PeerConnectionState) TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return TransportClosed
	}
	return TransportNew
}
