package call

import "github.com/petervdpas/peercall/internal/signaling"

// candidateQueue buffers remote candidates that arrive before the remote
// description is installed, and remembers which records were already seen.
type candidateQueue struct {
	items []signaling.CandidateRecord
	seen  map[string]struct{}
}

func newCandidateQueue() *candidateQueue {
	return &candidateQueue{seen: make(map[string]struct{})}
}

// firstSight reports whether the record has not been seen before and marks it.
// Records without an ID are never deduplicated.
func (q *candidateQueue) firstSight(c signaling.CandidateRecord) bool {
	if c.ID == "" {
		return true
	}
	if _, ok := q.seen[c.ID]; ok {
		return false
	}
	q.seen[c.ID] = struct{}{}
	return true
}

func (q *candidateQueue) push(c signaling.CandidateRecord) {
	q.items = append(q.items, c)
}

// drain returns the queued candidates in arrival order and empties the queue.
func (q *candidateQueue) drain() []signaling.CandidateRecord {
	out := q.items
	q.items = nil
	return out
}

func (q *candidateQueue) len() int { return len(q.items) }

func (q *candidateQueue) clear() {
	q.items = nil
	q.seen = make(map[string]struct{})
}
