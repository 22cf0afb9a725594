package call

import (
	"context"

	"github.com/looplab/fsm"
)

// NegotiationState is the per-session state of the negotiation engine.
type NegotiationState string

const (
	StateInitializing NegotiationState = "initializing"
	StateNegotiating  NegotiationState = "negotiating"
	StateConnected    NegotiationState = "connected"
	StateReconnecting NegotiationState = "reconnecting"
	StateFailed       NegotiationState = "failed"
	StateEnded        NegotiationState = "ended"
)

const (
	evNegotiate  = "negotiate"
	evConnect    = "connect"
	evDisconnect = "disconnect"
	evFail       = "fail"
	evEnd        = "end"
)

func newSessionFSM(onEnter func(from, to string)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateInitializing),
		fsm.Events{
			{Name: evNegotiate, Src: []string{string(StateInitializing)}, Dst: string(StateNegotiating)},
			{Name: evConnect, Src: []string{string(StateNegotiating), string(StateReconnecting), string(StateFailed)}, Dst: string(StateConnected)},
			{Name: evDisconnect, Src: []string{string(StateConnected)}, Dst: string(StateReconnecting)},
			{Name: evFail, Src: []string{string(StateInitializing), string(StateNegotiating), string(StateConnected), string(StateReconnecting)}, Dst: string(StateFailed)},
			{Name: evEnd, Src: []string{
				string(StateInitializing), string(StateNegotiating), string(StateConnected),
				string(StateReconnecting), string(StateFailed),
			}, Dst: string(StateEnded)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(e.Src, e.Dst)
			},
		},
	)
}

// Phase is the registry-level call phase of one client.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseDialing Phase = "dialing"
	PhaseRinging Phase = "ringing"
	PhaseInCall  Phase = "in_call"
)

const (
	evDial     = "dial"
	evRing     = "ring"
	evAnswer   = "answer"
	evAnswered = "answered"
	evHangup   = "hangup"
)

func newPhaseFSM() *fsm.FSM {
	return fsm.NewFSM(
		string(PhaseIdle),
		fsm.Events{
			{Name: evDial, Src: []string{string(PhaseIdle)}, Dst: string(PhaseDialing)},
			{Name: evRing, Src: []string{string(PhaseIdle)}, Dst: string(PhaseRinging)},
			{Name: evAnswer, Src: []string{string(PhaseRinging)}, Dst: string(PhaseInCall)},
			{Name: evAnswered, Src: []string{string(PhaseDialing)}, Dst: string(PhaseInCall)},
			{Name: evHangup, Src: []string{string(PhaseDialing), string(PhaseRinging), string(PhaseInCall)}, Dst: string(PhaseIdle)},
		},
		fsm.Callbacks{},
	)
}

// fire runs ev when the current state allows it. It reports whether a
// transition happened.
func fire(f *fsm.FSM, ev string) bool {
	if !f.Can(ev) {
		return false
	}
	return f.Event(context.Background(), ev) == nil
}
