//go:build linux

package call

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/peercall/internal/signaling"
)

// Acquire opens the microphone, and the camera for video calls, through
// pion/mediadevices (V4L2 + malgo). Capture fails as a unit.
func (d *DeviceSource) Acquire(ctx context.Context, callType signaling.CallType) (*LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("%w: vp8 encoder: %v", ErrMediaUnavailable, err)
	}
	vpxParams.BitRate = d.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("%w: opus encoder: %v", ErrMediaUnavailable, err)
	}

	constraints := mediadevices.MediaStreamConstraints{
		Codec: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
	}
	if callType == signaling.CallTypeVideo {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// MJPEG nodes on some cameras yield malformed frames; raw formats only.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: d.MaxWidth}
			c.Height = prop.IntRanged{Max: d.MaxHeight}
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		log.Warnw("media capture failed", "type", callType, "devices", len(mediadevices.EnumerateDevices()), "err", err)
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	var tracks []LocalTrack
	for _, t := range stream.GetTracks() {
		id := t.ID()
		t.OnEnded(func(err error) {
			if err != nil {
				log.Infow("local track ended", "track", id, "err", err)
			}
		})
		tracks = append(tracks, &deviceTrack{track: t, enabled: true})
	}
	log.Infow("local media captured", "type", callType, "tracks", len(tracks))
	return NewLocalMedia(tracks...), nil
}

// deviceTrack is a captured mediadevices track. Disabling it detaches the
// track from its sender so no media leaves the device.
type deviceTrack struct {
	track mediadevices.Track

	mu      sync.Mutex
	enabled bool
	sender  *webrtc.RTPSender
}

func (d *deviceTrack) ID() string { return d.track.ID() }

func (d *deviceTrack) Kind() MediaKind {
	if d.track.Kind() == webrtc.RTPCodecTypeVideo {
		return MediaVideo
	}
	return MediaAudio
}

func (d *deviceTrack) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

func (d *deviceTrack) SetEnabled(enabled bool) {
	d.mu.Lock()
	if d.enabled == enabled {
		d.mu.Unlock()
		return
	}
	d.enabled = enabled
	sender := d.sender
	d.mu.Unlock()

	if sender == nil {
		return
	}
	var next webrtc.TrackLocal
	if enabled {
		next = d.track
	}
	if err := sender.ReplaceTrack(next); err != nil {
		log.Warnw("replace track", "track", d.ID(), "enabled", enabled, "err", err)
	}
}

func (d *deviceTrack) Stop() {
	if err := d.track.Close(); err != nil {
		log.Debugw("close track", "track", d.ID(), "err", err)
	}
}

func (d *deviceTrack) trackLocal() webrtc.TrackLocal { return d.track }

func (d *deviceTrack) bindSender(sender *webrtc.RTPSender) {
	d.mu.Lock()
	d.sender = sender
	enabled := d.enabled
	d.mu.Unlock()
	if !enabled {
		if err := sender.ReplaceTrack(nil); err != nil {
			log.Warnw("replace track", "track", d.ID(), "err", err)
		}
	}
}
