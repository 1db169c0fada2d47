package workflow

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrPendingValidation is returned when a stage change is attempted while a
// human confirmation is outstanding.
var ErrPendingValidation = errors.New("workflow: awaiting validation")

// Form and deliverable names emitted by the controller.
const (
	FormAnamnese    = "anamnese"
	FormPriorizacao = "priorizacao"
	FormProcesso    = "processo"

	DeliverableCanvas      = "canvas"
	DeliverableCadeiaValor = "cadeia_valor"
	DeliverableMatriz      = "matriz_priorizacao"
	DeliverablePOP         = "pop"
)

// Decision is the controller's full verdict for one state.
type Decision struct {
	Stage      Stage
	Actions    []Action
	CanAdvance bool
	Missing    []string
	// Blocked is set while a validation is pending.
	Blocked    bool
	Validation Validation
}

// Controller maps a journey state to the actions that should run next. It
// holds no state of its own; the logger only reports malformed input.
type Controller struct {
	log *zap.Logger
}

// NewController builds a controller. A nil logger discards output.
func NewController(log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{log: log}
}

// NextActions returns the ordered actions for s.
func (c *Controller) NextActions(s State) []Action {
	return c.Decide(s).Actions
}

// Decide evaluates s against the stage table.
func (c *Controller) Decide(s State) Decision {
	v := Validate(s.Stage, s.Context)
	d := Decision{Stage: s.Stage, Missing: v.MissingFields, Validation: v}

	if !s.Stage.Valid() {
		c.log.Warn("unknown workflow stage", zap.String("stage", string(s.Stage)))
		return d
	}
	if s.PendingValidation != "" {
		d.Blocked = true
		return d
	}
	d.CanAdvance = v.CanAdvance

	switch s.Stage {
	case StageAnamnese:
		switch {
		case v.IsValid:
			d.Actions = []Action{Advance{To: StageModelagem}}
		case !s.Checked(FormKey(FormAnamnese, "")):
			d.Actions = []Action{ShowForm{Form: FormAnamnese}}
		}
	case StageModelagem:
		if v.IsValid {
			d.Actions = []Action{
				GenerateDeliverable{Deliverable: DeliverableCanvas},
				GenerateDeliverable{Deliverable: DeliverableCadeiaValor},
				RequestValidation{Target: StagePriorizacao},
			}
		}
	case StagePriorizacao:
		switch {
		case v.IsValid:
			if !s.Checked(DeliverableKey(DeliverableMatriz, "")) {
				d.Actions = append(d.Actions, GenerateDeliverable{Deliverable: DeliverableMatriz})
			}
			d.Actions = append(d.Actions, Advance{To: StageExecucao})
		case !s.Checked(FormKey(FormPriorizacao, "")):
			d.Actions = []Action{ShowForm{Form: FormPriorizacao}}
		}
	case StageExecucao:
		d.Actions = execution(s)
	}
	return d
}

// execution walks the queue in priority order and stops at the first item
// that is not finished.
func execution(s State) []Action {
	queue := Queue(s.Context)
	for _, item := range queue {
		if len(ItemMissing(s.Context, item)) > 0 {
			if s.Checked(FormKey(FormProcesso, item)) {
				return nil
			}
			return []Action{ShowForm{Form: FormProcesso, Item: item}}
		}
		if !s.Checked(DeliverableKey(DeliverablePOP, item)) {
			return []Action{GenerateDeliverable{Deliverable: DeliverablePOP, Item: item}}
		}
	}
	if len(queue) == 0 {
		return nil
	}
	return []Action{Advance{To: StageConcluida}}
}

// AdvanceState moves s along the edge s.Stage -> to. Override skips field
// validation but never the edge check. s is untouched on failure.
func AdvanceState(s *State, to Stage, override bool) (Edge, error) {
	edge, ok := Lookup(s.Stage, to)
	if !ok {
		return Edge{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Stage, to)
	}
	if s.PendingValidation != "" {
		return Edge{}, fmt.Errorf("%w: %s", ErrPendingValidation, s.PendingValidation)
	}
	if !override {
		if v := Validate(s.Stage, s.Context); !v.IsValid {
			return Edge{}, &ValidationError{Stage: s.Stage, Missing: v.MissingFields}
		}
	}
	s.Stage = to
	return edge, nil
}
