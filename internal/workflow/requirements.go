package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// Requirement is a context field a stage needs before it may be left.
type Requirement struct {
	Field    string
	MinItems int
}

// Context keys driving the execution stage queue.
const (
	FieldQueue = "processos_priorizados"
	FieldItems = "processos"
)

// ItemAttributes are the fields every prioritised process must carry.
var ItemAttributes = []string{"responsavel", "frequencia", "passos"}

var requirements = map[Stage][]Requirement{
	StageAnamnese: {
		{Field: "empresa_nome"},
		{Field: "segmento"},
		{Field: "porte"},
		{Field: "num_funcionarios"},
		{Field: "faturamento_anual"},
		{Field: "tempo_mercado"},
		{Field: "principal_desafio"},
		{Field: "objetivos", MinItems: 2},
	},
	StageModelagem: {
		{Field: "canvas"},
		{Field: "cadeia_valor"},
	},
	StagePriorizacao: {
		{Field: FieldQueue, MinItems: 1},
	},
	StageExecucao: {
		{Field: FieldQueue, MinItems: 1},
	},
}

// ValidationError lists the fields a stage is still missing.
type ValidationError struct {
	Stage   Stage
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow: stage %s is missing %s", e.Stage, strings.Join(e.Missing, ", "))
}

// Validation is the checklist verdict for a stage.
type Validation struct {
	Stage         Stage    `json:"stage"`
	IsValid       bool     `json:"is_valid"`
	MissingFields []string `json:"missing_fields,omitempty"`
	CanAdvance    bool     `json:"can_advance"`
	NextStage     Stage    `json:"next_stage,omitempty"`
	Message       string   `json:"message"`
}

// Validate checks the context against the stage's required fields.
func Validate(stage Stage, ctx map[string]any) Validation {
	v := Validation{Stage: stage, NextStage: Next(stage)}
	if !stage.Valid() {
		v.Message = fmt.Sprintf("unknown stage %q", stage)
		return v
	}
	v.MissingFields = missingFields(stage, ctx)
	v.IsValid = len(v.MissingFields) == 0
	v.CanAdvance = v.IsValid && v.NextStage != ""
	switch {
	case !v.IsValid:
		v.Message = fmt.Sprintf("stage %s is missing %d field(s): %s", stage, len(v.MissingFields), strings.Join(v.MissingFields, ", "))
	case v.CanAdvance:
		v.Message = fmt.Sprintf("stage %s is complete, next is %s", stage, v.NextStage)
	default:
		v.Message = fmt.Sprintf("stage %s is complete", stage)
	}
	return v
}

func missingFields(stage Stage, ctx map[string]any) []string {
	var missing []string
	for _, req := range requirements[stage] {
		value := ctx[req.Field]
		if !filled(value) || count(value) < req.MinItems {
			missing = append(missing, req.Field)
		}
	}
	if stage == StageExecucao {
		for _, item := range Queue(ctx) {
			for _, attr := range ItemMissing(ctx, item) {
				missing = append(missing, FieldItems+"."+item+"."+attr)
			}
		}
	}
	return missing
}

// Queue returns the priority-ordered process names.
func Queue(ctx map[string]any) []string {
	return list(ctx[FieldQueue])
}

// ItemMissing returns the attributes item still lacks.
func ItemMissing(ctx map[string]any, item string) []string {
	attrs, _ := ctx[FieldItems].(map[string]any)
	entry, _ := attrs[item].(map[string]any)
	var missing []string
	for _, attr := range ItemAttributes {
		if !filled(entry[attr]) {
			missing = append(missing, attr)
		}
	}
	return missing
}

func filled(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	case []any:
		return len(x) > 0
	case []string:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

func count(v any) int {
	return len(list(v))
}

// list reads a context value as a list of non-empty strings. Strings are
// split on commas, semicolons and newlines.
func list(v any) []string {
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch x := v.(type) {
	case []string:
		for _, s := range x {
			add(s)
		}
	case []any:
		for _, e := range x {
			if e != nil {
				add(fmt.Sprint(e))
			}
		}
	case string:
		for _, s := range strings.FieldsFunc(x, func(r rune) bool { return r == ',' || r == ';' || r == '\n' }) {
			add(s)
		}
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			add(k)
		}
	case nil:
	default:
		add(fmt.Sprint(x))
	}
	return out
}
