package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"skillswap/internal/model"
	"skillswap/internal/slot"
	logx "skillswap/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also serializes conditional updates.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log.With(logx.String("comp", "storage")), pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	st.log.Info("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migrations)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- sessions ----

func (s *sqliteStore) CreateSession(ctx context.Context, ss *model.Session) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	slots, err := encodeSlots(ss.Slots)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, participant_a, participant_b, skill_a, skill_b, slots, duration_weeks, expires_at, status, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		ss.ID, ss.Participants[0], ss.Participants[1], ss.Skills[0], ss.Skills[1],
		slots, ss.DurationWeeks, ss.ExpiresAt.UnixMilli(), string(ss.Status),
		ss.CreatedAt.UnixMilli(), ss.UpdatedAt.UnixMilli(),
	)
	if isConstraint(err) {
		return fmt.Errorf("session %s: %w", ss.ID, ErrConflict)
	}
	return err
}

func (s *sqliteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	var (
		out                       model.Session
		slots, status             string
		expires, created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, participant_a, participant_b, skill_a, skill_b, slots, duration_weeks, expires_at, status, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&out.ID, &out.Participants[0], &out.Participants[1], &out.Skills[0], &out.Skills[1],
		&slots, &out.DurationWeeks, &expires, &status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if out.Slots, err = decodeSlots(slots); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	out.Status = model.Status(status)
	if !out.Status.Valid() {
		return nil, fmt.Errorf("session %s: unknown status %q", id, status)
	}
	out.ExpiresAt = time.UnixMilli(expires).UTC()
	out.CreatedAt = time.UnixMilli(created).UTC()
	out.UpdatedAt = time.UnixMilli(updated).UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT slot_index, room_id, is_active, created_at FROM meeting_rooms WHERE session_id = ? ORDER BY slot_index`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r  model.MeetingRoom
			at int64
		)
		if err := rows.Scan(&r.SlotIndex, &r.RoomID, &r.IsActive, &at); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(at).UTC()
		out.Rooms = append(out.Rooms, r)
	}
	return &out, rows.Err()
}

func (s *sqliteStore) ListSessionIDs(ctx context.Context, f SessionFilter) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	q := `SELECT id FROM sessions WHERE 1=1`
	var args []any
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, f.Status)
	}
	if !f.ExpiresBefore.IsZero() {
		q += ` AND expires_at <= ?`
		args = append(args, f.ExpiresBefore.UnixMilli())
	}
	q += ` ORDER BY expires_at, id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) TransitionSession(ctx context.Context, id string, to model.Status, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), at.UnixMilli(), id, string(model.StatusActive))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return false, err
}

func (s *sqliteStore) EnsureRoom(ctx context.Context, sessionID string, room model.MeetingRoom) (model.MeetingRoom, error) {
	if s == nil || s.db == nil {
		return model.MeetingRoom{}, ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meeting_rooms(session_id, slot_index, room_id, is_active, created_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(session_id, slot_index) DO NOTHING`,
		sessionID, room.SlotIndex, room.RoomID, room.IsActive, room.CreatedAt.UnixMilli())
	if isConstraint(err) {
		return model.MeetingRoom{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return model.MeetingRoom{}, err
	}
	var (
		out model.MeetingRoom
		at  int64
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT slot_index, room_id, is_active, created_at FROM meeting_rooms WHERE session_id = ? AND slot_index = ?`,
		sessionID, room.SlotIndex,
	).Scan(&out.SlotIndex, &out.RoomID, &out.IsActive, &at)
	if err != nil {
		return model.MeetingRoom{}, err
	}
	out.CreatedAt = time.UnixMilli(at).UTC()
	return out, nil
}

// ---- availability ----

func (s *sqliteStore) ReplaceAvailability(ctx context.Context, a model.Availability) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM availability WHERE user_id = ?`, a.UserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO availability_owners(user_id, timezone, updated_at) VALUES(?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET timezone=excluded.timezone, updated_at=excluded.updated_at`,
		a.UserID, a.Timezone, a.UpdatedAt.UnixMilli()); err != nil {
		return err
	}
	for i, as := range a.Slots {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO availability(id, user_id, original, canonical, position) VALUES(?,?,?,?,?)`,
			as.ID, a.UserID, as.Original.String(), as.Canonical.String(), i); err != nil {
			if isConstraint(err) {
				return fmt.Errorf("availability slot %s: %w", as.ID, ErrConflict)
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) GetAvailability(ctx context.Context, userID string) (model.Availability, error) {
	if s == nil || s.db == nil {
		return model.Availability{}, ErrClosed
	}
	out := model.Availability{UserID: userID}
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT timezone, updated_at FROM availability_owners WHERE user_id = ?`, userID,
	).Scan(&out.Timezone, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Availability{}, fmt.Errorf("availability %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return model.Availability{}, err
	}
	out.UpdatedAt = time.UnixMilli(updated).UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, original, canonical FROM availability WHERE user_id = ? ORDER BY position`, userID)
	if err != nil {
		return model.Availability{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, orig, canon string
		if err := rows.Scan(&id, &orig, &canon); err != nil {
			return model.Availability{}, err
		}
		as := model.AvailabilitySlot{ID: id}
		if as.Original, err = slot.Parse(orig); err != nil {
			return model.Availability{}, fmt.Errorf("availability slot %s: %w", id, err)
		}
		if as.Canonical, err = slot.ParseCanonical(canon); err != nil {
			return model.Availability{}, fmt.Errorf("availability slot %s: %w", id, err)
		}
		out.Slots = append(out.Slots, as)
	}
	return out, rows.Err()
}

// ---- swap requests ----

func (s *sqliteStore) CreateSwapRequest(ctx context.Context, r *model.SwapRequest) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	slots, err := encodeSlots(r.Slots)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO swap_requests(id, requester_id, recipient_id, offered_skill, requested_skill, slots, duration_weeks, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.RequesterID, r.RecipientID, r.OfferedSkill, r.RequestedSkill, slots, r.DurationWeeks, r.CreatedAt.UnixMilli())
	if isConstraint(err) {
		return fmt.Errorf("swap request %s: %w", r.ID, ErrConflict)
	}
	return err
}

func (s *sqliteStore) GetSwapRequest(ctx context.Context, id string) (*model.SwapRequest, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	var (
		r       model.SwapRequest
		slots   string
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, requester_id, recipient_id, offered_skill, requested_skill, slots, duration_weeks, created_at
		 FROM swap_requests WHERE id = ?`, id,
	).Scan(&r.ID, &r.RequesterID, &r.RecipientID, &r.OfferedSkill, &r.RequestedSkill, &slots, &r.DurationWeeks, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("swap request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if r.Slots, err = decodeSlots(slots); err != nil {
		return nil, fmt.Errorf("swap request %s: %w", id, err)
	}
	r.CreatedAt = time.UnixMilli(created).UTC()
	return &r, nil
}

func (s *sqliteStore) DeleteSwapRequest(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM swap_requests WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ---- audit + dedup ----

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, action, target, detail) VALUES(?,?,?,?,?)`,
		e.At.UnixMilli(), e.Actor, e.Action, e.Target, nullStr(e.Detail),
	)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if perr := s.pruneExpired(pctx); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrClosed
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}

// ---- helpers ----

func encodeSlots(in []slot.Slot) (string, error) {
	b, err := json.Marshal(slot.Strings(in))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSlots(raw string) ([]slot.Slot, error) {
	var ss []string
	if err := json.Unmarshal([]byte(raw), &ss); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	return slot.ParseAll(ss)
}

func isConstraint(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "constraint")
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
