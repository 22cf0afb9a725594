package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/petervdpas/peercall/internal/signaling"
)

var _ signaling.Store = (*DB)(nil)

const callColumns = `id, caller_id, caller_name, caller_avatar, receiver_id, receiver_name,
	receiver_avatar, conversation_id, type, status, created_at, offer, answer, rev`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (signaling.CallRecord, int64, error) {
	var (
		rec           signaling.CallRecord
		created, rev  int64
		offer, answer sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.CallerID, &rec.CallerName, &rec.CallerAvatar,
		&rec.ReceiverID, &rec.ReceiverName, &rec.ReceiverAvatar, &rec.ConversationID,
		&rec.Type, &rec.Status, &created, &offer, &answer, &rev,
	)
	if err != nil {
		return signaling.CallRecord{}, 0, err
	}
	rec.Timestamp = fromNanos(created)
	if rec.Offer, err = decodeDescription(offer); err != nil {
		return signaling.CallRecord{}, 0, err
	}
	if rec.Answer, err = decodeDescription(answer); err != nil {
		return signaling.CallRecord{}, 0, err
	}
	return rec, rev, nil
}

func encodeDescription(d *signaling.SessionDescription) (sql.NullString, error) {
	if d == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeDescription(s sql.NullString) (*signaling.SessionDescription, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var d signaling.SessionDescription
	if err := json.Unmarshal([]byte(s.String), &d); err != nil {
		return nil, fmt.Errorf("decode session description: %w", err)
	}
	return &d, nil
}

func (d *DB) CreateCall(ctx context.Context, rec signaling.CallRecord) (signaling.CallRecord, error) {
	if err := rec.Validate(); err != nil {
		return signaling.CallRecord{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = d.clock()
	}
	if rec.Status == "" {
		rec.Status = signaling.StatusRinging
	}
	offer, err := encodeDescription(rec.Offer)
	if err != nil {
		return signaling.CallRecord{}, err
	}
	answer, err := encodeDescription(rec.Answer)
	if err != nil {
		return signaling.CallRecord{}, err
	}

	err = d.write(ctx, func(tx *sql.Tx, rev int64) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO calls (`+callColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.CallerID, rec.CallerName, rec.CallerAvatar,
			rec.ReceiverID, rec.ReceiverName, rec.ReceiverAvatar, rec.ConversationID,
			string(rec.Type), string(rec.Status), toNanos(rec.Timestamp), offer, answer, rev,
		)
		return err
	})
	if err != nil {
		return signaling.CallRecord{}, fmt.Errorf("create call: %w", err)
	}
	return rec, nil
}

func (d *DB) UpdateCall(ctx context.Context, id string, u signaling.CallUpdate) error {
	offer, err := encodeDescription(u.Offer)
	if err != nil {
		return err
	}
	answer, err := encodeDescription(u.Answer)
	if err != nil {
		return err
	}

	query := `UPDATE calls SET
			status = COALESCE(NULLIF(?, ''), status),
			offer  = COALESCE(?, offer),
			answer = COALESCE(?, answer),
			rev    = ?
		WHERE id = ?`
	if u.IfLive {
		query += ` AND status IN ('` + string(signaling.StatusRinging) + `', '` + string(signaling.StatusCalling) + `')`
	}

	err = d.write(ctx, func(tx *sql.Tx, rev int64) error {
		res, err := tx.ExecContext(ctx, query, string(u.Status), offer, answer, rev, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		var status string
		err = tx.QueryRowContext(ctx, `SELECT status FROM calls WHERE id = ?`, id).Scan(&status)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return signaling.ErrNotFound
		case err != nil:
			return err
		}
		return signaling.ErrTerminal
	})
	if errors.Is(err, signaling.ErrNotFound) || errors.Is(err, signaling.ErrTerminal) {
		return err
	}
	if err != nil {
		return fmt.Errorf("update call %s: %w", id, err)
	}
	return nil
}

func (d *DB) GetCall(ctx context.Context, id string) (signaling.CallRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, _, err := scanCall(d.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return signaling.CallRecord{}, signaling.ErrNotFound
	}
	if err != nil {
		return signaling.CallRecord{}, fmt.Errorf("get call %s: %w", id, err)
	}
	return rec, nil
}

func (d *DB) AddCandidate(ctx context.Context, callID string, c signaling.CandidateRecord) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = d.clock()
	}
	var mid, ufrag sql.NullString
	var mline sql.NullInt64
	if c.SDPMid != nil {
		mid = sql.NullString{String: *c.SDPMid, Valid: true}
	}
	if c.UsernameFragment != nil {
		ufrag = sql.NullString{String: *c.UsernameFragment, Valid: true}
	}
	if c.SDPMLineIndex != nil {
		mline = sql.NullInt64{Int64: int64(*c.SDPMLineIndex), Valid: true}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var exists int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calls WHERE id = ?`, callID).Scan(&exists); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	if exists == 0 {
		return signaling.ErrNotFound
	}
	_, err := d.db.ExecContext(ctx, `INSERT INTO call_candidates
			(id, call_id, candidate, sdp_mid, sdp_mline_index, username_fragment, sender, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, callID, c.Candidate, mid, mline, ufrag, string(c.SenderID), toNanos(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// candidatesAfter returns the candidates of callID appended after seq.
func (d *DB) candidatesAfter(ctx context.Context, callID string, seq int64) ([]signaling.CandidateRecord, int64, error) {
	rows, err := d.queryContext(ctx, `SELECT seq, id, candidate, sdp_mid, sdp_mline_index, username_fragment, sender, created_at
		FROM call_candidates WHERE call_id = ? AND seq > ? ORDER BY seq`, callID, seq)
	if err != nil {
		return nil, seq, err
	}
	defer rows.Close()

	var out []signaling.CandidateRecord
	for rows.Next() {
		var (
			c          signaling.CandidateRecord
			mid, ufrag sql.NullString
			mline      sql.NullInt64
			created    int64
		)
		if err := rows.Scan(&seq, &c.ID, &c.Candidate, &mid, &mline, &ufrag, &c.SenderID, &created); err != nil {
			return nil, seq, err
		}
		if mid.Valid {
			v := mid.String
			c.SDPMid = &v
		}
		if ufrag.Valid {
			v := ufrag.String
			c.UsernameFragment = &v
		}
		if mline.Valid {
			v := uint16(mline.Int64)
			c.SDPMLineIndex = &v
		}
		c.CreatedAt = fromNanos(created)
		out = append(out, c)
	}
	return out, seq, rows.Err()
}

// callsChanged returns records matching where (with args) whose revision is
// above rev, in revision order, plus the highest revision seen.
func (d *DB) callsChanged(ctx context.Context, where string, rev int64, args ...any) ([]signaling.CallRecord, int64, error) {
	args = append(args, rev)
	rows, err := d.queryContext(ctx, `SELECT `+callColumns+` FROM calls WHERE `+where+` AND rev > ? ORDER BY rev`, args...)
	if err != nil {
		return nil, rev, err
	}
	defer rows.Close()

	var out []signaling.CallRecord
	for rows.Next() {
		rec, r, err := scanCall(rows)
		if err != nil {
			return nil, rev, err
		}
		out = append(out, rec)
		if r > rev {
			rev = r
		}
	}
	return out, rev, rows.Err()
}

// liveIncoming returns the live records addressed to receiverID, newest first.
func (d *DB) liveIncoming(ctx context.Context, receiverID string) ([]signaling.CallRecord, error) {
	rows, err := d.queryContext(ctx, `SELECT `+callColumns+` FROM calls
		WHERE receiver_id = ? AND status IN (?, ?)`,
		receiverID, string(signaling.StatusRinging), string(signaling.StatusCalling))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []signaling.CallRecord
	for rows.Next() {
		rec, _, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}
