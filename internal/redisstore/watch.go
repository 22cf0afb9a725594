package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petervdpas/peercall/internal/signaling"
)

// follow subscribes to channel, runs initial once the subscription is live,
// then runs poll on every notification and every poll interval until ctx is
// done. poll never runs concurrently with itself.
func (s *Store) follow(ctx context.Context, channel string, initial, poll func() error) error {
	ps := s.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	if err := initial(); err != nil {
		_ = ps.Close()
		return err
	}

	go func() {
		defer ps.Close()
		msgs := ps.Channel()
		t := time.NewTicker(s.poll)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
			case <-t.C:
			}
			if err := poll(); err != nil && ctx.Err() == nil {
				log.Warnw("poll failed", "channel", channel, "err", err)
			}
		}
	}()
	return nil
}

func (s *Store) WatchCall(ctx context.Context, id string) (<-chan signaling.CallRecord, error) {
	st := signaling.NewStream[signaling.CallRecord](ctx)

	last := int64(-1)
	poll := func() error {
		rec, rev, err := s.getCall(ctx, id)
		if errors.Is(err, signaling.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rev > last {
			last = rev
			st.Push(rec)
		}
		return nil
	}
	if err := s.follow(ctx, events(s.callKey(id)), poll, poll); err != nil {
		return nil, err
	}
	return st.C(), nil
}

func (s *Store) WatchCandidates(ctx context.Context, callID string) (<-chan signaling.CandidateRecord, error) {
	st := signaling.NewStream[signaling.CandidateRecord](ctx)
	key := s.candidatesKey(callID)

	lastID := "0-0"
	poll := func() error {
		res, err := s.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, lastID},
			Block:   -1,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read candidates: %w", err)
		}
		for _, stream := range res {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				raw, _ := msg.Values["data"].(string)
				var c signaling.CandidateRecord
				if err := json.Unmarshal([]byte(raw), &c); err != nil {
					log.Warnw("skipping undecodable candidate", "call", callID, "entry", msg.ID, "err", err)
					continue
				}
				st.Push(c)
			}
		}
		return nil
	}
	if err := s.follow(ctx, events(key), poll, poll); err != nil {
		return nil, err
	}
	return st.C(), nil
}

func (s *Store) WatchIncoming(ctx context.Context, receiverID string) (<-chan signaling.CallRecord, error) {
	st := signaling.NewStream[signaling.CallRecord](ctx)
	inbox := s.inboxKey(receiverID)

	var rev int64
	initial := func() error {
		cur, err := s.rdb.Get(ctx, s.revKey()).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read revision: %w", err)
		}
		rev = cur

		ids, err := s.rdb.ZRange(ctx, inbox, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("read inbox: %w", err)
		}
		var live []signaling.CallRecord
		for _, id := range ids {
			rec, _, err := s.getCall(ctx, id)
			if errors.Is(err, signaling.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if rec.Status.Live() {
				live = append(live, rec)
			}
		}
		sort.SliceStable(live, func(i, j int) bool { return live[i].Timestamp.After(live[j].Timestamp) })
		for _, rec := range live {
			st.Push(rec)
		}
		return nil
	}
	poll := func() error {
		changed, err := s.rdb.ZRangeByScoreWithScores(ctx, inbox, &redis.ZRangeBy{
			Min: "(" + strconv.FormatInt(rev, 10),
			Max: "+inf",
		}).Result()
		if err != nil {
			return fmt.Errorf("read inbox: %w", err)
		}
		for _, z := range changed {
			id, _ := z.Member.(string)
			rec, _, err := s.getCall(ctx, id)
			if err != nil {
				return err
			}
			rev = int64(z.Score)
			st.Push(rec)
		}
		return nil
	}
	if err := s.follow(ctx, events(inbox), initial, poll); err != nil {
		return nil, err
	}
	return st.C(), nil
}
