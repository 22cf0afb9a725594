package storage

import (
	"context"
	"time"

	"github.com/petervdpas/peercall/internal/signaling"
)

// Watchers poll by revision, so changes that land between two polls are
// coalesced into the latest record state. Records only ever accumulate
// descriptions and end in a terminal status, so no consumer loses a field.

func (d *DB) WatchCall(ctx context.Context, id string) (<-chan signaling.CallRecord, error) {
	s := signaling.NewStream[signaling.CallRecord](ctx)

	recs, rev, err := d.callsChanged(ctx, "id = ?", -1, id)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		s.Push(rec)
	}

	go d.pollLoop(ctx, func() error {
		recs, next, err := d.callsChanged(ctx, "id = ?", rev, id)
		if err != nil {
			return err
		}
		rev = next
		for _, rec := range recs {
			s.Push(rec)
		}
		return nil
	})
	return s.C(), nil
}

func (d *DB) WatchCandidates(ctx context.Context, callID string) (<-chan signaling.CandidateRecord, error) {
	s := signaling.NewStream[signaling.CandidateRecord](ctx)

	var seq int64
	poll := func() error {
		cs, next, err := d.candidatesAfter(ctx, callID, seq)
		if err != nil {
			return err
		}
		seq = next
		for _, c := range cs {
			s.Push(c)
		}
		return nil
	}
	if err := poll(); err != nil {
		return nil, err
	}
	go d.pollLoop(ctx, poll)
	return s.C(), nil
}

func (d *DB) WatchIncoming(ctx context.Context, receiverID string) (<-chan signaling.CallRecord, error) {
	s := signaling.NewStream[signaling.CallRecord](ctx)

	rev, err := d.Revision(ctx)
	if err != nil {
		return nil, err
	}
	live, err := d.liveIncoming(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	for _, rec := range live {
		s.Push(rec)
	}

	go d.pollLoop(ctx, func() error {
		recs, next, err := d.callsChanged(ctx, "receiver_id = ?", rev, receiverID)
		if err != nil {
			return err
		}
		rev = next
		for _, rec := range recs {
			s.Push(rec)
		}
		return nil
	})
	return s.C(), nil
}

// pollLoop runs poll every poll interval until ctx is done. Errors are logged
// and retried on the next tick.
func (d *DB) pollLoop(ctx context.Context, poll func() error) {
	t := time.NewTicker(d.pollInterval())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := poll(); err != nil && ctx.Err() == nil {
				log.Warnw("poll failed", "err", err)
			}
		}
	}
}
