package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rahul/trilha/internal/workflow"
)

const journeyColumns = `id, session_id, user_id, stage, context, pending_validation, checklist, created_at, updated_at`

// JourneyBySession returns the journey of a session.
func (s *Store) JourneyBySession(ctx context.Context, sessionID string) (*Journey, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+journeyColumns+` FROM journeys WHERE session_id = ?`, sessionID)
	return scanJourney(row)
}

// Journey returns a journey by id.
func (s *Store) Journey(ctx context.Context, id string) (*Journey, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+journeyColumns+` FROM journeys WHERE id = ?`, id)
	return scanJourney(row)
}

// CreateJourney starts a journey for a session. If the session already has
// one it is returned unchanged.
func (s *Store) CreateJourney(ctx context.Context, sessionID, userID string, state workflow.State) (*Journey, error) {
	contextJSON, checklistJSON, err := encodeState(state)
	if err != nil {
		return nil, err
	}
	now := s.stamp()
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO journeys (`+journeyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		uuid.NewString(), sessionID, userID, string(state.Stage), contextJSON,
		string(state.PendingValidation), checklistJSON, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create journey for %s: %w", sessionID, err)
	}
	return s.JourneyBySession(ctx, sessionID)
}

// SaveJourney persists the journey's state.
func (s *Store) SaveJourney(ctx context.Context, j *Journey) error {
	contextJSON, checklistJSON, err := encodeState(j.State)
	if err != nil {
		return err
	}
	now := s.stamp()
	res, err := s.DB.ExecContext(ctx,
		`UPDATE journeys SET user_id = ?, stage = ?, context = ?, pending_validation = ?, checklist = ?, updated_at = ?
		 WHERE id = ?`,
		j.UserID, string(j.State.Stage), contextJSON, string(j.State.PendingValidation), checklistJSON, now, j.ID,
	)
	if err != nil {
		return fmt.Errorf("save journey %s: %w", j.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("journey %s: %w", j.ID, ErrNotFound)
	}
	j.UpdatedAt = parseTime(now)
	return nil
}

func encodeState(state workflow.State) (string, string, error) {
	ctxMap := state.Context
	if ctxMap == nil {
		ctxMap = map[string]any{}
	}
	contextJSON, err := json.Marshal(ctxMap)
	if err != nil {
		return "", "", fmt.Errorf("encode context: %w", err)
	}
	checklist := state.Checklist
	if checklist == nil {
		checklist = map[string]bool{}
	}
	checklistJSON, err := json.Marshal(checklist)
	if err != nil {
		return "", "", fmt.Errorf("encode checklist: %w", err)
	}
	return string(contextJSON), string(checklistJSON), nil
}

func scanJourney(row *sql.Row) (*Journey, error) {
	var (
		j                          Journey
		stage, pending             string
		contextJSON, checklistJSON string
		createdAt, updatedAt       string
	)
	err := row.Scan(&j.ID, &j.SessionID, &j.UserID, &stage, &contextJSON, &pending, &checklistJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.State = workflow.State{
		Stage:             workflow.Stage(stage),
		PendingValidation: workflow.Stage(pending),
		Context:           map[string]any{},
		Checklist:         map[string]bool{},
	}
	if err := json.Unmarshal([]byte(contextJSON), &j.State.Context); err != nil {
		return nil, fmt.Errorf("decode context of journey %s: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(checklistJSON), &j.State.Checklist); err != nil {
		return nil, fmt.Errorf("decode checklist of journey %s: %w", j.ID, err)
	}
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}
