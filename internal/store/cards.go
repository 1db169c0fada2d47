package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const cardColumns = `id, session_id, plan_type, plan_area, title, norm_title, description, assignee, due_at,
	status, plan_hash, plan_version, source, deprecated, deprecated_version, reminded_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

// LineageCards returns every card, deprecated ones included, that was
// produced by plans of the given type and area in a session.
func (s *Store) LineageCards(ctx context.Context, sessionID, planType, area string) ([]Card, error) {
	return s.queryCards(ctx,
		`SELECT `+cardColumns+` FROM plan_cards
		 WHERE session_id = ? AND plan_type = ? AND plan_area = ?
		 ORDER BY created_at, rowid`,
		sessionID, planType, area)
}

// SessionCards returns the board of a session.
func (s *Store) SessionCards(ctx context.Context, sessionID string, includeDeprecated bool) ([]Card, error) {
	query := `SELECT ` + cardColumns + ` FROM plan_cards WHERE session_id = ?`
	if !includeDeprecated {
		query += ` AND deprecated = 0`
	}
	query += ` ORDER BY plan_type, plan_area, created_at, rowid`
	return s.queryCards(ctx, query, sessionID)
}

// OverdueCards returns open cards due before now that were never reminded.
func (s *Store) OverdueCards(ctx context.Context, now time.Time) ([]Card, error) {
	return s.queryCards(ctx,
		`SELECT `+cardColumns+` FROM plan_cards
		 WHERE deprecated = 0 AND status != ? AND due_at IS NOT NULL AND due_at < ? AND reminded_at IS NULL
		 ORDER BY due_at`,
		string(StatusDone), now.UTC().Format(timeLayout))
}

// Card returns one card.
func (s *Store) Card(ctx context.Context, id string) (*Card, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM plan_cards WHERE id = ?`, id)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertCards writes cards in one transaction. Missing ids are generated and
// written back into the slice.
func (s *Store) InsertCards(ctx context.Context, cards []Card) error {
	if len(cards) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO plan_cards (`+cardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := s.stamp()
		for i := range cards {
			c := &cards[i]
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			if c.Status == "" {
				c.Status = StatusTodo
			}
			if c.NormTitle == "" {
				c.NormTitle = NormalizeTitle(c.Title)
			}
			_, err := stmt.ExecContext(ctx,
				c.ID, c.SessionID, c.PlanType, c.PlanArea, c.Title, c.NormTitle, c.Description, c.Assignee,
				formatTime(c.DueAt), string(c.Status), c.PlanHash, c.PlanVersion, string(c.Source),
				c.Deprecated, c.DeprecatedVersion, formatTime(c.RemindedAt), now, now,
			)
			if err != nil {
				return fmt.Errorf("insert card %q: %w", c.Title, err)
			}
			c.CreatedAt = parseTime(now)
			c.UpdatedAt = c.CreatedAt
		}
		return nil
	})
}

// UpdateDescriptions rewrites description and plan version only; status,
// assignee and identity are left alone.
func (s *Store) UpdateDescriptions(ctx context.Context, updates []DescriptionUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.stamp()
		for _, u := range updates {
			res, err := tx.ExecContext(ctx,
				`UPDATE plan_cards SET description = ?, plan_version = ?, updated_at = ? WHERE id = ?`,
				u.Description, u.PlanVersion, now, u.ID)
			if err != nil {
				return fmt.Errorf("update card %s: %w", u.ID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("update card %s: %w", u.ID, ErrNotFound)
			}
		}
		return nil
	})
}

// DeprecateCards soft-retires cards, stamping the plan version that removed
// them. Rows are never deleted.
func (s *Store) DeprecateCards(ctx context.Context, ids []string, version int) error {
	if len(ids) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.stamp()
		for _, id := range ids {
			res, err := tx.ExecContext(ctx,
				`UPDATE plan_cards SET deprecated = 1, deprecated_version = ?, updated_at = ? WHERE id = ?`,
				version, now, id)
			if err != nil {
				return fmt.Errorf("deprecate card %s: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("deprecate card %s: %w", id, ErrNotFound)
			}
		}
		return nil
	})
}

// SetCardStatus moves a card to another column.
func (s *Store) SetCardStatus(ctx context.Context, id string, status CardStatus) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE plan_cards SET status = ?, updated_at = ? WHERE id = ?`, string(status), s.stamp(), id)
	if err != nil {
		return fmt.Errorf("set status of card %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkReminded records that an overdue reminder was sent for a card.
func (s *Store) MarkReminded(ctx context.Context, id string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE plan_cards SET reminded_at = ? WHERE id = ?`, formatTime(&at), id)
	return err
}

func (s *Store) queryCards(ctx context.Context, query string, args ...any) ([]Card, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func scanCard(row scanner) (Card, error) {
	var (
		c                    Card
		dueAt, remindedAt    sql.NullString
		status, source       string
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.SessionID, &c.PlanType, &c.PlanArea, &c.Title, &c.NormTitle, &c.Description,
		&c.Assignee, &dueAt, &status, &c.PlanHash, &c.PlanVersion, &source, &c.Deprecated, &c.DeprecatedVersion,
		&remindedAt, &createdAt, &updatedAt)
	if err != nil {
		return Card{}, err
	}
	c.DueAt = parseNullTime(dueAt)
	c.RemindedAt = parseNullTime(remindedAt)
	c.Status = CardStatus(status)
	c.Source = CardSource(source)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
