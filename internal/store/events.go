package store

import (
	"context"
	"fmt"
)

// AppendEvent adds an entry to the timeline and returns its id.
func (s *Store) AppendEvent(ctx context.Context, evt Event) (int64, error) {
	data := string(evt.Data)
	if data == "" {
		data = "{}"
	}
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO timeline_events (journey_id, session_id, type, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		evt.JourneyID, evt.SessionID, evt.Type, data, s.stamp())
	if err != nil {
		return 0, fmt.Errorf("append %s event: %w", evt.Type, err)
	}
	return res.LastInsertId()
}

// Events returns the latest timeline entries of a session, oldest first.
func (s *Store) Events(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, journey_id, session_id, type, data, created_at FROM timeline_events
		 WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			evt       Event
			data      string
			createdAt string
		)
		if err := rows.Scan(&evt.ID, &evt.JourneyID, &evt.SessionID, &evt.Type, &data, &createdAt); err != nil {
			return nil, err
		}
		evt.Data = []byte(data)
		evt.CreatedAt = parseTime(createdAt)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}
