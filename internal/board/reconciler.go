// Package board keeps a session's task board in line with the plans the
// conversation keeps regenerating. Cards are matched by normalized title,
// versioned per plan lineage and retired instead of deleted.
package board

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rahul/trilha/internal/keylock"
	"github.com/rahul/trilha/internal/plan"
	"github.com/rahul/trilha/internal/store"
)

var (
	// ErrInvalidStatus is returned for a status outside todo/doing/done/blocked.
	ErrInvalidStatus = errors.New("board: invalid card status")
	// ErrEmptyPlan is returned for a plan without any titled card. Such a plan
	// never retires the cards of its lineage.
	ErrEmptyPlan = errors.New("board: plan has no titled cards")
)

// CardStore is the persistence the reconciler needs.
type CardStore interface {
	LineageCards(ctx context.Context, sessionID, planType, area string) ([]store.Card, error)
	SessionCards(ctx context.Context, sessionID string, includeDeprecated bool) ([]store.Card, error)
	InsertCards(ctx context.Context, cards []store.Card) error
	UpdateDescriptions(ctx context.Context, updates []store.DescriptionUpdate) error
	DeprecateCards(ctx context.Context, ids []string, version int) error
	Card(ctx context.Context, id string) (*store.Card, error)
	SetCardStatus(ctx context.Context, id string, status store.CardStatus) error
}

// Batch names one of the three independent write groups of a reconciliation.
type Batch string

const (
	BatchInsert    Batch = "insert"
	BatchUpdate    Batch = "update"
	BatchDeprecate Batch = "deprecate"
)

// BatchFailure reports a write group that did not go through.
type BatchFailure struct {
	Batch Batch
	Err   error
}

// Outcome summarizes one reconciliation.
type Outcome struct {
	Created     int
	Updated     int
	Deprecated  int
	PlanHash    string
	PlanVersion int
	Diff        plan.DiffResult
	Failures    []BatchFailure
}

// Reconciler merges plans into the board.
type Reconciler struct {
	cards      CardStore
	log        *zap.Logger
	clock      func() time.Time
	defaultDue string
	locks      keylock.Map
}

// Option customizes the reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger used for fallbacks and failures.
func WithLogger(log *zap.Logger) Option {
	return func(r *Reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithDefaultDue sets the relative token used when a card has no usable due
// date.
func WithDefaultDue(token string) Option {
	return func(r *Reconciler) {
		if token != "" {
			r.defaultDue = token
		}
	}
}

// New wires a reconciler to its card store.
func New(cards CardStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		cards:      cards,
		log:        zap.NewNop(),
		clock:      time.Now,
		defaultDue: plan.DefaultDue,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile merges p into the session's board. The lineage of a plan is its
// (type, area) pair: successive plans for the same lineage are diffed against
// the cards it already produced. Re-submitting an identical plan writes
// nothing. When a write group fails the others still run; the outcome lists
// the failures and the returned error joins them.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID string, p plan.Plan) (Outcome, error) {
	if sessionID == "" {
		return Outcome{}, fmt.Errorf("board: session id is required")
	}
	unlock := r.locks.Lock(sessionID)
	defer unlock()

	planType, area := plan.Normalize(p.Type), plan.Normalize(p.Area)
	out := Outcome{PlanHash: plan.Hash(p)}

	items := p.Items()
	if len(items) == 0 {
		return out, fmt.Errorf("%w: %s/%s", ErrEmptyPlan, planType, area)
	}

	lineage, err := r.cards.LineageCards(ctx, sessionID, planType, area)
	if err != nil {
		return out, fmt.Errorf("load cards for %s/%s: %w", planType, area, err)
	}

	var active []store.Card
	latest := 0
	for _, c := range lineage {
		latest = max(latest, c.PlanVersion, c.DeprecatedVersion)
		if !c.Deprecated {
			active = append(active, c)
		}
	}

	out.Diff = plan.Diff(active, items)
	out.PlanVersion = latest
	if !out.Diff.Changed() {
		return out, nil
	}

	next := latest + 1
	out.PlanVersion = next
	source := store.SourceIncremental
	if len(active) == 0 && next == 1 {
		source = store.SourceOriginal
	}

	if len(out.Diff.Added) > 0 {
		cards := make([]store.Card, 0, len(out.Diff.Added))
		for _, item := range out.Diff.Added {
			cards = append(cards, r.newCard(sessionID, planType, area, out.PlanHash, next, source, item))
		}
		if err := r.cards.InsertCards(ctx, cards); err != nil {
			out.Failures = append(out.Failures, BatchFailure{Batch: BatchInsert, Err: err})
		} else {
			out.Created = len(cards)
		}
	}

	if len(out.Diff.Modified) > 0 {
		updates := make([]store.DescriptionUpdate, 0, len(out.Diff.Modified))
		for _, m := range out.Diff.Modified {
			updates = append(updates, store.DescriptionUpdate{ID: m.Card.ID, Description: m.NewDescription, PlanVersion: next})
		}
		if err := r.cards.UpdateDescriptions(ctx, updates); err != nil {
			out.Failures = append(out.Failures, BatchFailure{Batch: BatchUpdate, Err: err})
		} else {
			out.Updated = len(updates)
		}
	}

	if len(out.Diff.Removed) > 0 {
		ids := make([]string, 0, len(out.Diff.Removed))
		for _, c := range out.Diff.Removed {
			ids = append(ids, c.ID)
		}
		if err := r.cards.DeprecateCards(ctx, ids, next); err != nil {
			out.Failures = append(out.Failures, BatchFailure{Batch: BatchDeprecate, Err: err})
		} else {
			out.Deprecated = len(ids)
		}
	}

	if len(out.Failures) == 0 {
		return out, nil
	}
	errs := make([]error, 0, len(out.Failures))
	for _, f := range out.Failures {
		r.log.Error("board batch failed",
			zap.String("session", sessionID),
			zap.String("batch", string(f.Batch)),
			zap.Int("plan_version", next),
			zap.Error(f.Err))
		errs = append(errs, fmt.Errorf("%s batch: %w", f.Batch, f.Err))
	}
	return out, errors.Join(errs...)
}

func (r *Reconciler) newCard(sessionID, planType, area, hash string, version int, source store.CardSource, item plan.Item) store.Card {
	now := r.clock()
	due, err := plan.ResolveDue(item.Due, r.defaultDue, now)
	if err != nil && item.Due != "" {
		r.log.Warn("unusable due date, using fallback",
			zap.String("session", sessionID),
			zap.String("card", item.Title),
			zap.String("due", item.Due),
			zap.String("fallback", r.defaultDue),
			zap.Error(err))
	}
	status, ok := store.ParseStatus(plan.Normalize(item.Status))
	if !ok {
		status = store.StatusTodo
	}
	return store.Card{
		SessionID:   sessionID,
		PlanType:    planType,
		PlanArea:    area,
		Title:       item.Title,
		NormTitle:   plan.Normalize(item.Title),
		Description: item.Description,
		Assignee:    item.Assignee,
		DueAt:       &due,
		Status:      status,
		PlanHash:    hash,
		PlanVersion: version,
		Source:      source,
	}
}

// Board lists a session's cards.
func (r *Reconciler) Board(ctx context.Context, sessionID string, includeDeprecated bool) ([]store.Card, error) {
	return r.cards.SessionCards(ctx, sessionID, includeDeprecated)
}

// SetStatus moves one of the session's cards to another column. Progress
// lives in the status, so reconciliation never touches it.
func (r *Reconciler) SetStatus(ctx context.Context, sessionID, cardID, status string) (*store.Card, error) {
	s, ok := store.ParseStatus(plan.Normalize(status))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	card, err := r.cards.Card(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.SessionID != sessionID {
		return nil, fmt.Errorf("card %s: %w", cardID, store.ErrNotFound)
	}
	if err := r.cards.SetCardStatus(ctx, cardID, s); err != nil {
		return nil, err
	}
	card.Status = s
	return card, nil
}
