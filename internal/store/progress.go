package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AddXP adds delta to a session's tally and returns the new total.
func (s *Store) AddXP(ctx context.Context, sessionID string, delta int) (Progress, error) {
	now := s.stamp()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO progress (session_id, xp, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET xp = xp + excluded.xp, updated_at = excluded.updated_at`,
		sessionID, delta, now)
	if err != nil {
		return Progress{}, fmt.Errorf("add xp for %s: %w", sessionID, err)
	}
	return s.Progress(ctx, sessionID)
}

// Progress returns a session's tally; sessions without one start at zero.
func (s *Store) Progress(ctx context.Context, sessionID string) (Progress, error) {
	p := Progress{SessionID: sessionID}
	var updatedAt string
	err := s.DB.QueryRowContext(ctx, `SELECT xp, updated_at FROM progress WHERE session_id = ?`, sessionID).
		Scan(&p.XP, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, nil
		}
		return Progress{}, err
	}
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}
