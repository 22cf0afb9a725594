package call

import (
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/sdp/v3"

	"github.com/petervdpas/peercall/internal/signaling"
)

// validateDescription parses a remote session description and checks that its
// tag matches the slot it was read from.
func validateDescription(d signaling.SessionDescription, want string) error {
	if d.Type != want {
		return fmt.Errorf("%w: expected %s, got %q", ErrBadDescription, want, d.Type)
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(d.SDP)); err != nil {
		return fmt.Errorf("%w: %v", ErrBadDescription, err)
	}
	if len(parsed.MediaDescriptions) == 0 {
		return fmt.Errorf("%w: no media sections", ErrBadDescription)
	}
	return nil
}

// validateCandidate parses a remote network candidate. An empty candidate
// string marks the end of gathering and is always accepted.
func validateCandidate(c signaling.CandidateRecord) error {
	raw := strings.TrimSpace(c.Candidate)
	if raw == "" {
		return nil
	}
	if _, err := ice.UnmarshalCandidate(strings.TrimPrefix(raw, "candidate:")); err != nil {
		return fmt.Errorf("%w: %v", ErrBadCandidate, err)
	}
	return nil
}
