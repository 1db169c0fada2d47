// Package reminder announces overdue board cards to their chat, once per card.
package reminder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rahul/trilha/internal/observability"
	"github.com/rahul/trilha/internal/store"
)

// DefaultInterval is how often the board is polled when no interval is set.
const DefaultInterval = 30 * time.Minute

// Messenger delivers a reminder to a chat.
type Messenger interface {
	Send(chatID string, text string) error
}

// CardStore lists overdue cards and records that they were announced.
type CardStore interface {
	OverdueCards(ctx context.Context, now time.Time) ([]store.Card, error)
	MarkReminded(ctx context.Context, id string, at time.Time) error
}

type Scheduler struct {
	Store    CardStore
	Gateway  Messenger
	Interval time.Duration

	timeline *observability.Timeline
	clock    func() time.Time
	log      *zap.Logger
}

func NewScheduler(cards CardStore, gateway Messenger, interval time.Duration, timeline *observability.Timeline, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		Store:    cards,
		Gateway:  gateway,
		Interval: interval,
		timeline: timeline,
		clock:    time.Now,
		log:      log,
	}
}

// Start polls until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.log.Info("reminder scheduler started", zap.Duration("interval", s.Interval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("reminder scheduler stopped")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll sends one reminder per overdue card and returns how many were sent.
// A card whose message could not be delivered is retried on the next poll.
func (s *Scheduler) Poll(ctx context.Context) int {
	now := s.clock()
	cards, err := s.Store.OverdueCards(ctx, now)
	if err != nil {
		s.log.Error("failed to list overdue cards", zap.Error(err))
		return 0
	}

	sent := 0
	for _, c := range cards {
		if ctx.Err() != nil {
			return sent
		}
		if s.Gateway != nil {
			if err := s.Gateway.Send(c.SessionID, Message(c, now)); err != nil {
				s.log.Warn("failed to send reminder", zap.String("session", c.SessionID), zap.String("card", c.ID), zap.Error(err))
				continue
			}
		}
		if err := s.Store.MarkReminded(ctx, c.ID, now); err != nil {
			s.log.Error("failed to mark card reminded", zap.String("card", c.ID), zap.Error(err))
			continue
		}
		s.timeline.Record(ctx, "", c.SessionID, observability.EventTypeReminder, map[string]any{"card": c.ID, "title": c.Title})
		sent++
	}
	if sent > 0 {
		s.log.Info("reminders sent", zap.Int("count", sent))
	}
	return sent
}

// Message renders the reminder text for an overdue card.
func Message(c store.Card, now time.Time) string {
	msg := fmt.Sprintf("⏰ Tarefa atrasada: %s", c.Title)
	if c.DueAt != nil {
		days := int(now.Sub(*c.DueAt).Hours() / 24)
		switch {
		case days <= 0:
			msg += " (venceu hoje)"
		case days == 1:
			msg += " (venceu há 1 dia)"
		default:
			msg += fmt.Sprintf(" (venceu há %d dias)", days)
		}
	}
	if c.Assignee != "" {
		msg += "\nResponsável: " + c.Assignee
	}
	return msg + "\nQuando terminar, use /feito " + shortID(c.ID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
