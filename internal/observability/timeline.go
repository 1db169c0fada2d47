package observability

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/rahul/trilha/internal/store"
)

// EventType defines the category of a timeline event.
type EventType string

const (
	EventTypeContextMerged       EventType = "context_merged"
	EventTypeStageAdvanced       EventType = "stage_advanced"
	EventTypeFormShown           EventType = "form_shown"
	EventTypeDeliverable         EventType = "deliverable_generated"
	EventTypeValidationRequested EventType = "validation_requested"
	EventTypeValidationConfirmed EventType = "validation_confirmed"
	EventTypePlanReconciled      EventType = "plan_reconciled"
	EventTypeCardStatus          EventType = "card_status_changed"
	EventTypeProgress            EventType = "progress_awarded"
	EventTypeActionFailed        EventType = "action_failed"
	EventTypeReminder            EventType = "reminder_sent"
)

// EventSink is the append-only log the timeline writes to.
type EventSink interface {
	AppendEvent(ctx context.Context, evt store.Event) (int64, error)
}

// Timeline records journey events durably and mirrors them to the logger.
// Recording is best-effort: a sink failure is logged, never returned.
type Timeline struct {
	sink EventSink
	log  *zap.Logger
}

func NewTimeline(sink EventSink, log *zap.Logger) *Timeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Timeline{sink: sink, log: log}
}

// Record appends one event and returns its id, or 0 when it was not stored.
// data is encoded as JSON.
func (t *Timeline) Record(ctx context.Context, journeyID, sessionID string, typ EventType, data any) int64 {
	if t == nil {
		return 0
	}
	t.log.Info(string(typ),
		zap.String("session", sessionID),
		zap.String("journey", journeyID),
		zap.Any("data", data))

	if t.sink == nil {
		return 0
	}
	raw, err := json.Marshal(data)
	if err != nil {
		t.log.Warn("failed to encode timeline event", zap.String("type", string(typ)), zap.Error(err))
		return 0
	}
	id, err := t.sink.AppendEvent(ctx, store.Event{
		JourneyID: journeyID,
		SessionID: sessionID,
		Type:      string(typ),
		Data:      raw,
	})
	if err != nil {
		t.log.Warn("failed to append timeline event",
			zap.String("type", string(typ)),
			zap.String("session", sessionID),
			zap.Error(err))
		return 0
	}
	return id
}
