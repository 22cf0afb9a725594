package signaling

import "context"

// Store is the shared document store used as the only coordination channel
// between the two parties of a call.
//
// Watch methods return a channel that is closed once ctx is cancelled.
// Each stream delivers its changes in write order; no ordering is promised
// between different streams.
type Store interface {
	// CreateCall stores a new record. An empty ID is replaced with a fresh one.
	CreateCall(ctx context.Context, rec CallRecord) (CallRecord, error)
	// UpdateCall applies a partial write. Returns ErrNotFound for unknown IDs
	// and ErrTerminal when u.IfLive is set and the call has already finished.
	UpdateCall(ctx context.Context, id string, u CallUpdate) error
	GetCall(ctx context.Context, id string) (CallRecord, error)
	AddCandidate(ctx context.Context, callID string, c CandidateRecord) error

	// WatchCall delivers the current record, then every later change.
	WatchCall(ctx context.Context, id string) (<-chan CallRecord, error)
	// WatchCandidates delivers existing candidates, then each new one.
	WatchCandidates(ctx context.Context, callID string) (<-chan CandidateRecord, error)
	// WatchIncoming delivers live records addressed to receiverID, most recent
	// first, then every later change to any record addressed to receiverID.
	WatchIncoming(ctx context.Context, receiverID string) (<-chan CallRecord, error)
}

// ConversationLog receives the human-readable call outcome lines.
type ConversationLog interface {
	AppendSystemMessage(ctx context.Context, conversationID, text string) error
	// Messages returns up to limit lines, oldest first.
	Messages(ctx context.Context, conversationID string, limit int) ([]Message, error)
}
