package call

import (
	"context"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const defaultKeyframeInterval = 3 * time.Second

// remoteTrack adapts an inbound pion track.
type remoteTrack struct {
	track *webrtc.TrackRemote
}

func (r *remoteTrack) ID() string { return r.track.ID() }

func (r *remoteTrack) Kind() MediaKind {
	if r.track.Kind() == webrtc.RTPCodecTypeVideo {
		return MediaVideo
	}
	return MediaAudio
}

func (r *remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.track.ReadRTP()
	return pkt, err
}

// requestKeyframes periodically asks the remote encoder for a keyframe so a
// renderer joining mid-stream, or recovering from loss, gets a clean picture.
func requestKeyframes(ctx context.Context, pc *webrtc.PeerConnection, ssrc webrtc.SSRC, every time.Duration) {
	if every <= 0 {
		every = defaultKeyframeInterval
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}}); err != nil {
				log.Debugw("keyframe request failed", "ssrc", ssrc, "err", err)
				return
			}
		}
	}
}

// PumpRTP reads packets from t until it ends or ctx is done, handing each to
// sink. It returns the number of packets forwarded.
func PumpRTP(ctx context.Context, t RemoteTrack, sink func(*rtp.Packet) error) (int, error) {
	n := 0
	for {
		if ctx.Err() != nil {
			return n, nil
		}
		pkt, err := t.ReadRTP()
		if err != nil {
			return n, err
		}
		if err := sink(pkt); err != nil {
			return n, err
		}
		n++
	}
}
