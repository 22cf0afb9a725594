// Package signaling defines the call and candidate documents exchanged through
// the shared store, and the store surface the call package depends on.
// The store is a mailbox only; it carries no call-domain rules.
package signaling

import (
	"errors"
	"time"
)

// CallType selects which media a call carries.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type.
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// Status is the lifecycle status stored on a CallRecord.
type Status string

const (
	StatusRinging  Status = "ringing"
	StatusCalling  Status = "calling"
	StatusEnded    Status = "ended"
	StatusRejected Status = "rejected"
	StatusMissed   Status = "missed"
)

// Terminal reports whether no further transition may follow s.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusRejected || s == StatusMissed
}

// Live reports whether the call is still ringing or being set up.
func (s Status) Live() bool {
	return s == StatusRinging || s == StatusCalling
}

// Role tags which side of a call produced a candidate.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// Opposite returns the other role.
func (r Role) Opposite() Role {
	if r == RoleCaller {
		return RoleCallee
	}
	return RoleCaller
}

// SessionDescription is a negotiation payload plus its type tag ("offer" or "answer").
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CallRecord is the single mutable document shared by both parties of a call.
type CallRecord struct {
	ID             string              `json:"id"`
	CallerID       string              `json:"callerId"`
	CallerName     string              `json:"callerName"`
	CallerAvatar   string              `json:"callerAvatar"`
	ReceiverID     string              `json:"receiverId"`
	ReceiverName   string              `json:"receiverName"`
	ReceiverAvatar string              `json:"receiverAvatar"`
	ConversationID string              `json:"conversationId,omitempty"`
	Type           CallType            `json:"type"`
	Status         Status              `json:"status"`
	Timestamp      time.Time           `json:"timestamp"`
	Offer          *SessionDescription `json:"offer"`
	Answer         *SessionDescription `json:"answer"`
}

// Age returns how long ago the record was created, relative to now.
func (r CallRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.Timestamp)
}

// Involves reports whether userID is either party of the call.
func (r CallRecord) Involves(userID string) bool {
	return r.CallerID == userID || r.ReceiverID == userID
}

// CallUpdate is a partial write to a CallRecord. Zero fields are left untouched.
//
// With IfLive set the write only applies while the stored status is still
// live; a terminal record is left as is and the store returns ErrTerminal.
type CallUpdate struct {
	Status Status
	Offer  *SessionDescription
	Answer *SessionDescription
	IfLive bool
}

// Empty reports whether the update would change nothing.
func (u CallUpdate) Empty() bool {
	return u.Status == "" && u.Offer == nil && u.Answer == nil
}

// Apply merges u into rec and returns the result.
func (u CallUpdate) Apply(rec CallRecord) CallRecord {
	if u.Status != "" {
		rec.Status = u.Status
	}
	if u.Offer != nil {
		o := *u.Offer
		rec.Offer = &o
	}
	if u.Answer != nil {
		a := *u.Answer
		rec.Answer = &a
	}
	return rec
}

// CandidateRecord is an append-only network candidate attached to a call.
// The candidate fields mirror RTCIceCandidateInit and are opaque to the store.
type CandidateRecord struct {
	ID               string    `json:"id"`
	Candidate        string    `json:"candidate"`
	SDPMid           *string   `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16   `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string   `json:"usernameFragment,omitempty"`
	SenderID         Role      `json:"senderId"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Message is one line in a conversation, as written by the call log.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Kind           string    `json:"kind"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// MessageKindSystem marks lines written by the application rather than a user.
const MessageKindSystem = "system"

var (
	// ErrNotFound is returned when a call record does not exist.
	ErrNotFound = errors.New("signaling: call not found")

	// ErrInvalidRecord is returned when a record misses required fields.
	ErrInvalidRecord = errors.New("signaling: invalid call record")

	// ErrTerminal is returned by a conditional update on a call that has
	// already ended, been rejected or been missed.
	ErrTerminal = errors.New("signaling: call already terminal")
)

// Validate checks the fields a caller must provide on creation.
func (r CallRecord) Validate() error {
	switch {
	case r.CallerID == "":
		return errors.Join(ErrInvalidRecord, errors.New("callerId is required"))
	case r.ReceiverID == "":
		return errors.Join(ErrInvalidRecord, errors.New("receiverId is required"))
	case r.CallerID == r.ReceiverID:
		return errors.Join(ErrInvalidRecord, errors.New("caller and receiver must differ"))
	case !r.Type.Valid():
		return errors.Join(ErrInvalidRecord, errors.New("type must be audio or video"))
	}
	return nil
}
