package workflow

// State is everything the controller knows about one journey.
type State struct {
	Stage   Stage          `json:"stage"`
	Context map[string]any `json:"context"`
	// PendingValidation holds the stage awaiting explicit human confirmation.
	// While set, the controller emits nothing.
	PendingValidation Stage           `json:"pending_validation,omitempty"`
	Checklist         map[string]bool `json:"checklist,omitempty"`
}

// NewState returns the state of a journey on its first turn.
func NewState() State {
	return State{
		Stage:     StageAnamnese,
		Context:   map[string]any{},
		Checklist: map[string]bool{},
	}
}

// Checked reports whether a checklist entry is set.
func (s State) Checked(key string) bool {
	return s.Checklist[key]
}

// Check sets a checklist entry.
func (s *State) Check(key string) {
	if s.Checklist == nil {
		s.Checklist = map[string]bool{}
	}
	s.Checklist[key] = true
}

// Merge shallow-merges fields into the context. Keys rejected by allow are
// skipped; the merged keys are returned.
func (s *State) Merge(fields map[string]any, allow func(key string) bool) []string {
	if s.Context == nil {
		s.Context = map[string]any{}
	}
	var merged []string
	for key, value := range fields {
		if allow != nil && !allow(key) {
			continue
		}
		s.Context[key] = value
		merged = append(merged, key)
	}
	return merged
}

// Checklist keys.

// FormKey marks a form as already shown.
func FormKey(form, item string) string {
	if item == "" {
		return form + ".form_shown"
	}
	return form + ".form_shown:" + item
}

// DeliverableKey marks a deliverable as already generated.
func DeliverableKey(kind, item string) string {
	if item == "" {
		return "deliverable:" + kind
	}
	return "deliverable:" + kind + ":" + item
}
