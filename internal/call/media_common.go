package call

import "sync"

// LocalMedia holds the local tracks of one session plus the speaker flag.
// Toggles flip every track of a kind in lockstep.
type LocalMedia struct {
	mu      sync.Mutex
	tracks  []LocalTrack
	speaker bool
	stopped bool
}

// NewLocalMedia wraps already-captured tracks.
func NewLocalMedia(tracks ...LocalTrack) *LocalMedia {
	return &LocalMedia{tracks: tracks}
}

// Tracks returns a copy of all local tracks.
func (m *LocalMedia) Tracks() []LocalTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LocalTrack, len(m.tracks))
	copy(out, m.tracks)
	return out
}

func (m *LocalMedia) ofKindLocked(kind MediaKind) []LocalTrack {
	var out []LocalTrack
	for _, t := range m.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// toggle flips all tracks of kind to the negation of the first one's enabled
// flag and reports whether the first track is now disabled.
func (m *LocalMedia) toggle(kind MediaKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracks := m.ofKindLocked(kind)
	if len(tracks) == 0 {
		return false
	}
	enable := !tracks[0].Enabled()
	for _, t := range tracks {
		t.SetEnabled(enable)
	}
	return !tracks[0].Enabled()
}

func (m *LocalMedia) disabled(kind MediaKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tracks := m.ofKindLocked(kind)
	return len(tracks) > 0 && !tracks[0].Enabled()
}

// ToggleAudio mutes or unmutes every audio track. Returns the new muted state.
func (m *LocalMedia) ToggleAudio() bool { return m.toggle(MediaAudio) }

// ToggleVideo disables or enables every video track. Returns the new disabled state.
func (m *LocalMedia) ToggleVideo() bool { return m.toggle(MediaVideo) }

// Muted reports whether audio is muted.
func (m *LocalMedia) Muted() bool { return m.disabled(MediaAudio) }

// VideoDisabled reports whether video is disabled.
func (m *LocalMedia) VideoDisabled() bool { return m.disabled(MediaVideo) }

// Speaker reports the loudspeaker flag.
func (m *LocalMedia) Speaker() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speaker
}

func (m *LocalMedia) setSpeaker(on bool) {
	m.mu.Lock()
	m.speaker = on
	m.mu.Unlock()
}

// Stop stops every track. Safe to call more than once.
func (m *LocalMedia) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	tracks := m.tracks
	m.mu.Unlock()

	for _, t := range tracks {
		t.Stop()
	}
}
