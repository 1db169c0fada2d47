package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/rahul/trilha/internal/board"
	"github.com/rahul/trilha/internal/deliverable"
	"github.com/rahul/trilha/internal/observability"
	"github.com/rahul/trilha/internal/plan"
	"github.com/rahul/trilha/internal/progress"
	"github.com/rahul/trilha/internal/store"
	"github.com/rahul/trilha/internal/workflow"
)

// Action types handled out of the box.
const (
	TypeAdvanceStage        = string(workflow.KindAdvance)
	TypeShowForm            = string(workflow.KindShowForm)
	TypeGenerateDeliverable = string(workflow.KindGenerateDeliverable)
	TypeSetPending          = string(workflow.KindRequestValidation)
	TypeConfirmValidation   = "confirm_validation"
	TypeReconcilePlan       = "reconcile_plan"
	TypeUpdateCardStatus    = "update_card_status"
	TypeAwardProgress       = "award_progress"
	TypeNextActions         = "next_actions"
)

// ErrNothingPending is returned when confirming without a pending validation.
var ErrNothingPending = errors.New("dispatch: no validation pending")

func (d *Dispatcher) registerDefaults() {
	for _, h := range []HandlerFunc{
		{Name: TypeAdvanceStage, Desc: "Move the journey to the next stage (params: to, override).", Fn: d.advanceStage},
		{Name: TypeShowForm, Desc: "Mark a collection form as shown (params: form, item).", Fn: d.showForm},
		{Name: TypeGenerateDeliverable, Desc: "Render a deliverable from the journey context (params: kind, item).", Fn: d.generateDeliverable},
		{Name: TypeSetPending, Desc: "Block the journey until a human confirms the target stage (params: target).", Fn: d.setPendingValidation},
		{Name: TypeConfirmValidation, Desc: "Clear the pending validation and advance to its target.", Fn: d.confirmValidation},
		{Name: TypeReconcilePlan, Desc: "Merge a plan into the task board (params: plan, or plan_type, area and cards).", Fn: d.reconcilePlan},
		{Name: TypeUpdateCardStatus, Desc: "Move a card to todo, doing, done or blocked (params: card_id, status).", Fn: d.updateCardStatus},
		{Name: TypeAwardProgress, Desc: "Grant experience for an event key (params: key).", Fn: d.awardProgress},
		{Name: TypeNextActions, Desc: "Dry run: report what the workflow would do next.", Fn: d.nextActions},
	} {
		d.Register(h)
	}
}

// StageChange is the result payload of a stage transition.
type StageChange struct {
	From         workflow.Stage `json:"from"`
	To           workflow.Stage `json:"to"`
	Deliverables []string       `json:"deliverables,omitempty"`
}

func (d *Dispatcher) advanceStage(ctx context.Context, t *Turn, p Params) (Result, error) {
	override := p.Bool("override")
	var (
		from workflow.Stage
		edge workflow.Edge
	)
	err := t.Mutate(ctx, func(s *workflow.State) error {
		from = s.Stage
		to, err := target(p.String("to", "stage"), workflow.Next(s.Stage))
		if err != nil {
			return err
		}
		edge, err = workflow.AdvanceState(s, to, override)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return t.stageChanged(ctx, from, edge, override), nil
}

func (d *Dispatcher) confirmValidation(ctx context.Context, t *Turn, _ Params) (Result, error) {
	var (
		from workflow.Stage
		edge workflow.Edge
	)
	err := t.Mutate(ctx, func(s *workflow.State) error {
		if s.PendingValidation == "" {
			return ErrNothingPending
		}
		from = s.Stage
		pending := s.PendingValidation
		s.PendingValidation = ""
		var err error
		edge, err = workflow.AdvanceState(s, pending, false)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	t.record(ctx, observability.EventTypeValidationConfirmed, map[string]any{"target": edge.To})
	return t.stageChanged(ctx, from, edge, false), nil
}

func (t *Turn) stageChanged(ctx context.Context, from workflow.Stage, edge workflow.Edge, override bool) Result {
	change := StageChange{From: from, To: edge.To, Deliverables: edge.Deliverables}
	t.record(ctx, observability.EventTypeStageAdvanced, map[string]any{
		"from": from, "to": edge.To, "override": override,
	})
	t.award(ctx, edge.ProgressKey)
	return Result{ResourceID: string(edge.To), Data: change}
}

func target(raw string, fallback workflow.Stage) (workflow.Stage, error) {
	if raw == "" {
		if fallback == "" {
			return "", fmt.Errorf("%w: journey is already at the last stage", workflow.ErrInvalidTransition)
		}
		return fallback, nil
	}
	stage, ok := workflow.ParseStage(raw)
	if !ok {
		return "", fmt.Errorf("%w: unknown stage %q", workflow.ErrInvalidTransition, raw)
	}
	return stage, nil
}

func (d *Dispatcher) showForm(ctx context.Context, t *Turn, p Params) (Result, error) {
	form := p.String("form", "name")
	if form == "" {
		return Result{}, errors.New("show_form: form is required")
	}
	item := p.String("item")
	key := workflow.FormKey(form, item)
	err := t.Mutate(ctx, func(s *workflow.State) error {
		s.Check(key)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	t.record(ctx, observability.EventTypeFormShown, map[string]any{"form": form, "item": item})
	return Result{ResourceID: key, Data: map[string]any{"form": form, "item": item}}, nil
}

func (d *Dispatcher) generateDeliverable(ctx context.Context, t *Turn, p Params) (Result, error) {
	if d.generator == nil {
		return Result{}, fmt.Errorf("%w: deliverable generator", ErrNotConfigured)
	}
	kind := p.String("kind", "deliverable")
	if kind == "" {
		return Result{}, errors.New("generate_deliverable: kind is required")
	}
	item := p.String("item")

	j, err := t.Journey()
	if err != nil {
		return Result{}, err
	}
	fields := cloneState(j.State).Context
	fields["stage"] = string(j.State.Stage)
	if item != "" {
		fields["item"] = item
		if items, ok := fields[workflow.FieldItems].(map[string]any); ok {
			fields["item_data"] = items[item]
		}
	}

	doc, err := d.generator.Generate(ctx, kind, fields)
	if err != nil {
		return Result{}, err
	}
	if doc == nil {
		return Result{}, fmt.Errorf("%s: %w", kind, deliverable.ErrNoContent)
	}

	if err := t.Mutate(ctx, func(s *workflow.State) error {
		s.Check(workflow.DeliverableKey(kind, item))
		return nil
	}); err != nil {
		return Result{}, err
	}

	id := t.record(ctx, observability.EventTypeDeliverable, map[string]any{
		"kind": kind, "item": item, "title": doc.Title, "excerpt": doc.Excerpt, "html": doc.HTML,
	})
	t.award(ctx, progress.KeyDeliverable)

	res := Result{Data: doc}
	if id > 0 {
		res.ResourceID = strconv.FormatInt(id, 10)
	}
	return res, nil
}

func (d *Dispatcher) setPendingValidation(ctx context.Context, t *Turn, p Params) (Result, error) {
	var to workflow.Stage
	err := t.Mutate(ctx, func(s *workflow.State) error {
		var err error
		to, err = target(p.String("target", "to", "stage"), workflow.Next(s.Stage))
		if err != nil {
			return err
		}
		if _, ok := workflow.Lookup(s.Stage, to); !ok {
			return fmt.Errorf("%w: %s -> %s", workflow.ErrInvalidTransition, s.Stage, to)
		}
		s.PendingValidation = to
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	t.record(ctx, observability.EventTypeValidationRequested, map[string]any{"target": to})
	return Result{ResourceID: string(to), Data: map[string]any{"target": to}}, nil
}

// ReconcileData is the result payload of reconcile_plan.
type ReconcileData struct {
	Created     int      `json:"created"`
	Updated     int      `json:"updated"`
	Deprecated  int      `json:"deprecated"`
	Unchanged   int      `json:"unchanged"`
	PlanHash    string   `json:"plan_hash"`
	PlanVersion int      `json:"plan_version"`
	Failed      []string `json:"failed_batches,omitempty"`
}

func (d *Dispatcher) reconcilePlan(ctx context.Context, t *Turn, p Params) (Result, error) {
	if d.board == nil {
		return Result{}, fmt.Errorf("%w: board", ErrNotConfigured)
	}
	pl, err := decodePlan(p)
	if err != nil {
		return Result{}, err
	}

	out, err := d.board.Reconcile(ctx, t.SessionID, pl)
	data := ReconcileData{
		Created:     out.Created,
		Updated:     out.Updated,
		Deprecated:  out.Deprecated,
		Unchanged:   len(out.Diff.Unchanged),
		PlanHash:    out.PlanHash,
		PlanVersion: out.PlanVersion,
	}
	for _, f := range out.Failures {
		data.Failed = append(data.Failed, string(f.Batch))
	}
	res := Result{ResourceID: out.PlanHash, Data: data}
	if err != nil {
		return res, err
	}

	if out.Diff.Changed() {
		t.record(ctx, observability.EventTypePlanReconciled, map[string]any{
			"type": pl.Type, "area": pl.Area, "result": data,
		})
		t.award(ctx, progress.KeyPlanReconcile)
	}
	return res, nil
}

// decodePlan reads a plan nested under "plan" or spread over the params. When
// spread, the plan type travels as plan_type since "type" names the action.
func decodePlan(p Params) (plan.Plan, error) {
	var src any = map[string]any{
		"type":  p.String("plan_type"),
		"area":  p.String("area", "plan_area"),
		"cards": p["cards"],
	}
	if nested, ok := p["plan"]; ok {
		src = nested
	}
	if s, ok := src.(string); ok {
		var pl plan.Plan
		if err := json.Unmarshal([]byte(s), &pl); err != nil {
			return plan.Plan{}, fmt.Errorf("reconcile_plan: decode plan: %w", err)
		}
		return validPlan(pl)
	}
	raw, err := json.Marshal(src)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("reconcile_plan: encode plan: %w", err)
	}
	var pl plan.Plan
	if err := json.Unmarshal(raw, &pl); err != nil {
		return plan.Plan{}, fmt.Errorf("reconcile_plan: decode plan: %w", err)
	}
	return validPlan(pl)
}

func validPlan(pl plan.Plan) (plan.Plan, error) {
	if plan.Normalize(pl.Type) == "" || plan.Normalize(pl.Area) == "" {
		return plan.Plan{}, errors.New("reconcile_plan: plan type and area are required")
	}
	if len(pl.Items()) == 0 {
		return plan.Plan{}, fmt.Errorf("reconcile_plan: %w", board.ErrEmptyPlan)
	}
	return pl, nil
}

func (d *Dispatcher) updateCardStatus(ctx context.Context, t *Turn, p Params) (Result, error) {
	if d.board == nil {
		return Result{}, fmt.Errorf("%w: board", ErrNotConfigured)
	}
	cardID := p.String("card_id", "id")
	status := p.String("status")
	if cardID == "" || status == "" {
		return Result{}, errors.New("update_card_status: card_id and status are required")
	}
	card, err := d.board.SetStatus(ctx, t.SessionID, cardID, status)
	if err != nil {
		return Result{}, err
	}
	t.record(ctx, observability.EventTypeCardStatus, map[string]any{"card": card.ID, "title": card.Title, "status": card.Status})
	if card.Status == store.StatusDone {
		t.award(ctx, progress.KeyCardDone)
	}
	return Result{ResourceID: card.ID, Data: card}, nil
}

func (d *Dispatcher) awardProgress(ctx context.Context, t *Turn, p Params) (Result, error) {
	if d.awarder == nil {
		return Result{}, fmt.Errorf("%w: progress", ErrNotConfigured)
	}
	key := p.String("key", "event")
	if key == "" {
		return Result{}, errors.New("award_progress: key is required")
	}
	a, err := d.awarder.Award(ctx, t.SessionID, key)
	if err != nil {
		return Result{}, err
	}
	if a != nil {
		t.progress = t.progress.add(a)
		t.record(ctx, observability.EventTypeProgress, a)
	}
	return Result{ResourceID: key, Data: a}, nil
}

// NextActionsData is the result payload of next_actions.
type NextActionsData struct {
	Stage             workflow.Stage      `json:"stage"`
	Actions           []map[string]any    `json:"actions"`
	CanAdvance        bool                `json:"can_advance"`
	Blocked           bool                `json:"blocked"`
	PendingValidation workflow.Stage      `json:"pending_validation,omitempty"`
	Missing           []string            `json:"missing,omitempty"`
	Validation        workflow.Validation `json:"validation"`
}

func (d *Dispatcher) nextActions(_ context.Context, t *Turn, _ Params) (Result, error) {
	j, err := t.Journey()
	if err != nil {
		return Result{}, err
	}
	decision := d.controller.Decide(j.State)
	return Result{Data: NextActionsData{
		Stage:             decision.Stage,
		Actions:           FromWorkflow(decision.Actions),
		CanAdvance:        decision.CanAdvance,
		Blocked:           decision.Blocked,
		PendingValidation: j.State.PendingValidation,
		Missing:           decision.Missing,
		Validation:        decision.Validation,
	}}, nil
}
