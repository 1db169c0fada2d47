package workflow

// Kind names an action the controller can emit. The values double as the
// dispatcher action types that execute them.
type Kind string

const (
	KindShowForm            Kind = "show_form"
	KindGenerateDeliverable Kind = "generate_deliverable"
	KindRequestValidation   Kind = "set_pending_validation"
	KindAdvance             Kind = "advance_stage"
)

// Action is one step the controller wants executed. The concrete types below
// are the only implementations.
type Action interface {
	Kind() Kind
	Params() map[string]any
}

// ShowForm asks the user to fill a collection form.
type ShowForm struct {
	Form string
	Item string
}

func (ShowForm) Kind() Kind { return KindShowForm }

func (a ShowForm) Params() map[string]any {
	return withItem(map[string]any{"form": a.Form}, a.Item)
}

// GenerateDeliverable produces a document from the collected context.
type GenerateDeliverable struct {
	Deliverable string
	Item        string
}

func (GenerateDeliverable) Kind() Kind { return KindGenerateDeliverable }

func (a GenerateDeliverable) Params() map[string]any {
	return withItem(map[string]any{"kind": a.Deliverable}, a.Item)
}

// RequestValidation blocks the journey until a human confirms Target.
type RequestValidation struct {
	Target Stage
}

func (RequestValidation) Kind() Kind { return KindRequestValidation }

func (a RequestValidation) Params() map[string]any {
	return map[string]any{"target": string(a.Target)}
}

// Advance moves the journey to To.
type Advance struct {
	To Stage
}

func (Advance) Kind() Kind { return KindAdvance }

func (a Advance) Params() map[string]any {
	return map[string]any{"to": string(a.To)}
}

func withItem(params map[string]any, item string) map[string]any {
	if item != "" {
		params["item"] = item
	}
	return params
}
