// Package dispatch is the single entry point of a conversation turn: it
// merges the incoming context into the journey and runs a heterogeneous,
// ordered list of actions, isolating their failures from each other.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/rahul/trilha/internal/board"
	"github.com/rahul/trilha/internal/deliverable"
	"github.com/rahul/trilha/internal/governance"
	"github.com/rahul/trilha/internal/keylock"
	"github.com/rahul/trilha/internal/observability"
	"github.com/rahul/trilha/internal/plan"
	"github.com/rahul/trilha/internal/progress"
	"github.com/rahul/trilha/internal/store"
	"github.com/rahul/trilha/internal/workflow"
)

var (
	// ErrMissingSession fails a whole batch: nothing can be correlated.
	ErrMissingSession = errors.New("dispatch: session id is required")
	// ErrUnknownAction is reported for action types without a handler.
	ErrUnknownAction = errors.New("dispatch: unknown action type")
	// ErrNotConfigured is reported when a handler's collaborator is absent.
	ErrNotConfigured = errors.New("dispatch: collaborator not configured")
)

// JourneyStore persists workflow state.
type JourneyStore interface {
	Journey(ctx context.Context, id string) (*store.Journey, error)
	JourneyBySession(ctx context.Context, sessionID string) (*store.Journey, error)
	CreateJourney(ctx context.Context, sessionID, userID string, state workflow.State) (*store.Journey, error)
	SaveJourney(ctx context.Context, j *store.Journey) error
}

// Board is the task board the plan actions operate on.
type Board interface {
	Reconcile(ctx context.Context, sessionID string, p plan.Plan) (board.Outcome, error)
	SetStatus(ctx context.Context, sessionID, cardID, status string) (*store.Card, error)
}

// ProgressAwarder grants experience for milestones.
type ProgressAwarder interface {
	Award(ctx context.Context, sessionID, key string) (*progress.Award, error)
}

// EventLog is the append-only timeline.
type EventLog = observability.EventSink

// Result is the outcome of one action. There is exactly one per input action,
// in input order.
type Result struct {
	Type       string `json:"type"`
	Success    bool   `json:"success"`
	ResourceID string `json:"resource_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Data       any    `json:"data,omitempty"`
}

// ProgressSummary merges every award granted during one call.
type ProgressSummary struct {
	Keys      []string `json:"keys"`
	XPGained  int      `json:"xp_gained"`
	TotalXP   int      `json:"total_xp"`
	Level     int      `json:"level"`
	LeveledUp bool     `json:"leveled_up"`
}

func (p *ProgressSummary) add(a *progress.Award) *ProgressSummary {
	if p == nil {
		p = &ProgressSummary{}
	}
	p.Keys = append(p.Keys, a.Key)
	p.XPGained += a.XPGained
	p.TotalXP = a.TotalXP
	p.Level = a.Level
	p.LeveledUp = p.LeveledUp || a.LeveledUp
	return p
}

// Response is what Execute returns for a batch.
type Response struct {
	JourneyID string           `json:"journey_id,omitempty"`
	Stage     workflow.Stage   `json:"stage,omitempty"`
	Results   []Result         `json:"results"`
	Progress  *ProgressSummary `json:"progress,omitempty"`
}

// Failed counts the unsuccessful results.
func (r Response) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Success {
			n++
		}
	}
	return n
}

// Deps are the collaborators of a dispatcher. Only Journeys is required.
type Deps struct {
	Journeys   JourneyStore
	Board      Board
	Generator  deliverable.Generator
	Progress   ProgressAwarder
	Events     EventLog
	Policy     governance.ContextPolicy
	Cache      JourneyCache
	Controller *workflow.Controller
	Logger     *zap.Logger
}

// Dispatcher runs action batches.
type Dispatcher struct {
	journeys   JourneyStore
	board      Board
	generator  deliverable.Generator
	awarder    ProgressAwarder
	allow      func(string) bool
	cache      JourneyCache
	controller *workflow.Controller
	timeline   *observability.Timeline
	log        *zap.Logger
	registry   *Registry
	locks      keylock.Map
}

func New(deps Deps) *Dispatcher {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	policy := deps.Policy
	if policy == nil {
		policy = governance.NewDefaultContextPolicy()
	}
	cache := deps.Cache
	if cache == nil {
		cache = noCache{}
	}
	controller := deps.Controller
	if controller == nil {
		controller = workflow.NewController(log)
	}

	d := &Dispatcher{
		journeys:   deps.Journeys,
		board:      deps.Board,
		generator:  deps.Generator,
		awarder:    deps.Progress,
		allow:      governance.Allows(policy),
		cache:      cache,
		controller: controller,
		timeline:   observability.NewTimeline(deps.Events, log),
		log:        log,
		registry:   NewRegistry(),
	}
	d.registerDefaults()
	return d
}

// Register adds or replaces a handler.
func (d *Dispatcher) Register(h Handler) {
	d.registry.Register(h)
}

// Handlers lists the registered handlers, sorted by type.
func (d *Dispatcher) Handlers() []Handler {
	types := d.registry.Types()
	out := make([]Handler, 0, len(types))
	for _, name := range types {
		out = append(out, d.registry.Get(name))
	}
	return out
}

// Execute merges fields into the session's journey, then runs actions in
// order. Every action yields a result; a failing or panicking action does not
// stop the ones after it. The only error returned is ErrMissingSession.
func (d *Dispatcher) Execute(ctx context.Context, actions []map[string]any, sessionID, userID string, fields map[string]any) (Response, error) {
	if sessionID == "" {
		return Response{}, ErrMissingSession
	}
	unlock := d.locks.Lock(sessionID)
	defer unlock()

	t := d.begin(ctx, sessionID, userID)
	t.mergeContext(ctx, fields)

	resp := Response{Results: make([]Result, 0, len(actions))}
	for i, raw := range actions {
		resp.Results = append(resp.Results, d.run(ctx, t, i, raw))
	}

	if t.journey != nil {
		resp.JourneyID = t.journey.ID
		resp.Stage = t.journey.State.Stage
	}
	resp.Progress = t.progress

	d.log.Debug("batch executed",
		zap.String("session", sessionID),
		zap.Int("actions", len(actions)),
		zap.Int("failed", resp.Failed()))
	return resp, nil
}

// Step asks the controller what to do next for the session and executes it.
func (d *Dispatcher) Step(ctx context.Context, sessionID, userID string, fields map[string]any) (Response, error) {
	if sessionID == "" {
		return Response{}, ErrMissingSession
	}
	preview, err := d.Execute(ctx, []map[string]any{{"type": TypeNextActions}}, sessionID, userID, fields)
	if err != nil {
		return preview, err
	}
	res := preview.Results[0]
	if !res.Success {
		return preview, nil
	}
	decision, _ := res.Data.(NextActionsData)
	if len(decision.Actions) == 0 {
		return preview, nil
	}
	return d.Execute(ctx, decision.Actions, sessionID, userID, nil)
}

func (d *Dispatcher) run(ctx context.Context, t *Turn, index int, raw map[string]any) (res Result) {
	action := Normalize(raw)
	res.Type = action.Type

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("action panicked",
				zap.String("session", t.SessionID),
				zap.Int("index", index),
				zap.String("type", action.Type),
				zap.Any("panic", r),
				zap.Stack("stack"))
			res = Result{Type: action.Type, Error: fmt.Sprintf("panic: %v", r)}
			t.record(ctx, observability.EventTypeActionFailed, failure(index, action, res.Error))
		}
	}()

	h := d.registry.Get(action.Type)
	if h == nil {
		res.Error = fmt.Sprintf("%v: %q (known: %v)", ErrUnknownAction, action.Type, d.registry.Types())
		t.record(ctx, observability.EventTypeActionFailed, failure(index, action, res.Error))
		return res
	}

	out, err := h.Handle(ctx, t, action.Params)
	out.Type = action.Type
	if err != nil {
		d.log.Warn("action failed",
			zap.String("session", t.SessionID),
			zap.Int("index", index),
			zap.String("type", action.Type),
			zap.Error(err))
		out.Success = false
		out.Error = err.Error()
		t.record(ctx, observability.EventTypeActionFailed, failure(index, action, out.Error))
		return out
	}
	out.Success = true
	return out
}

func failure(index int, a Action, msg string) map[string]any {
	return map[string]any{"index": index, "type": a.Type, "params": a.Params.Keys(), "error": msg}
}

// begin resolves the session's journey. A resolution failure does not abort
// the call; handlers that need the journey report it instead.
func (d *Dispatcher) begin(ctx context.Context, sessionID, userID string) *Turn {
	t := &Turn{SessionID: sessionID, UserID: userID, d: d}
	j, err := d.resolve(ctx, sessionID, userID)
	if err != nil {
		d.log.Error("failed to resolve journey", zap.String("session", sessionID), zap.Error(err))
		t.journeyErr = fmt.Errorf("resolve journey: %w", err)
		return t
	}
	t.journey = j
	return t
}

func (d *Dispatcher) resolve(ctx context.Context, sessionID, userID string) (*store.Journey, error) {
	if id, ok := d.cache.Get(sessionID); ok {
		j, err := d.journeys.Journey(ctx, id)
		switch {
		case err == nil && j.SessionID == sessionID:
			return j, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
		d.cache.Remove(sessionID)
	}

	j, err := d.journeys.JourneyBySession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		j, err = d.journeys.CreateJourney(ctx, sessionID, userID, workflow.NewState())
		if err == nil {
			d.log.Info("journey started", zap.String("session", sessionID), zap.String("journey", j.ID))
		}
	}
	if err != nil {
		return nil, err
	}
	d.cache.Add(sessionID, j.ID)
	return j, nil
}

// Turn is the per-call state handlers work on.
type Turn struct {
	SessionID string
	UserID    string

	d          *Dispatcher
	journey    *store.Journey
	journeyErr error
	progress   *ProgressSummary
}

// Journey returns the session's journey, or why it could not be loaded.
func (t *Turn) Journey() (*store.Journey, error) {
	if t.journey == nil {
		if t.journeyErr != nil {
			return nil, t.journeyErr
		}
		return nil, fmt.Errorf("journey of %s: %w", t.SessionID, store.ErrNotFound)
	}
	return t.journey, nil
}

// Mutate applies fn to the journey state and persists it. If fn fails or
// panics, or the save fails, the in-memory state is restored.
func (t *Turn) Mutate(ctx context.Context, fn func(s *workflow.State) error) error {
	j, err := t.Journey()
	if err != nil {
		return err
	}
	saved := cloneState(j.State)
	defer func() {
		if r := recover(); r != nil {
			j.State = saved
			panic(r)
		}
	}()
	if err := fn(&j.State); err != nil {
		j.State = saved
		return err
	}
	if err := t.d.journeys.SaveJourney(ctx, j); err != nil {
		j.State = saved
		return err
	}
	return nil
}

func (t *Turn) mergeContext(ctx context.Context, fields map[string]any) {
	j, err := t.Journey()
	if err != nil {
		return
	}
	fillUser := j.UserID == "" && t.UserID != ""
	if len(fields) == 0 && !fillUser {
		return
	}

	var merged []string
	err = t.Mutate(ctx, func(s *workflow.State) error {
		merged = s.Merge(fields, t.d.allow)
		return nil
	})
	if fillUser && err == nil {
		j.UserID = t.UserID
		err = t.d.journeys.SaveJourney(ctx, j)
	}
	if err != nil {
		t.d.log.Error("failed to persist context", zap.String("session", t.SessionID), zap.Error(err))
		return
	}
	if len(merged) > 0 {
		sort.Strings(merged)
		t.record(ctx, observability.EventTypeContextMerged, map[string]any{"keys": merged})
	}
	if skipped := len(fields) - len(merged); skipped > 0 {
		t.d.log.Debug("context keys skipped by policy", zap.String("session", t.SessionID), zap.Int("skipped", skipped))
	}
}

// award grants key best-effort; failures are logged and otherwise ignored.
func (t *Turn) award(ctx context.Context, key string) {
	if t.d.awarder == nil || key == "" {
		return
	}
	a, err := t.d.awarder.Award(ctx, t.SessionID, key)
	if err != nil {
		t.d.log.Warn("progress award failed", zap.String("session", t.SessionID), zap.String("key", key), zap.Error(err))
		return
	}
	if a == nil {
		return
	}
	t.progress = t.progress.add(a)
	t.record(ctx, observability.EventTypeProgress, a)
}

func (t *Turn) record(ctx context.Context, typ observability.EventType, data any) int64 {
	journeyID := ""
	if t.journey != nil {
		journeyID = t.journey.ID
	}
	return t.d.timeline.Record(ctx, journeyID, t.SessionID, typ, data)
}

func cloneState(s workflow.State) workflow.State {
	out := s
	out.Context = make(map[string]any, len(s.Context))
	for k, v := range s.Context {
		out.Context[k] = v
	}
	out.Checklist = make(map[string]bool, len(s.Checklist))
	for k, v := range s.Checklist {
		out.Checklist[k] = v
	}
	return out
}
