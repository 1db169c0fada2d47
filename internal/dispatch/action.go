package dispatch

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rahul/trilha/internal/workflow"
)

// Action is a normalized request: a type plus its parameters.
type Action struct {
	Type   string `json:"type"`
	Params Params `json:"params,omitempty"`
}

// Normalize accepts an action whose parameters arrive either nested under
// "params" or flattened next to "type". Nested values win over flattened ones.
func Normalize(raw map[string]any) Action {
	a := Action{Params: Params{}}
	for _, key := range []string{"type", "action"} {
		if s, ok := raw[key].(string); ok && strings.TrimSpace(s) != "" {
			a.Type = strings.ToLower(strings.TrimSpace(s))
			break
		}
	}
	for key, value := range raw {
		switch key {
		case "type", "action", "params":
			continue
		}
		a.Params[key] = value
	}
	if nested, ok := raw["params"].(map[string]any); ok {
		for key, value := range nested {
			a.Params[key] = value
		}
	}
	return a
}

// FromWorkflow converts controller output into dispatchable actions.
func FromWorkflow(actions []workflow.Action) []map[string]any {
	out := make([]map[string]any, 0, len(actions))
	for _, a := range actions {
		out = append(out, map[string]any{"type": string(a.Kind()), "params": a.Params()})
	}
	return out
}

// Params are the loosely typed arguments of an action.
type Params map[string]any

// String returns the first non-empty value among keys, rendered as text.
func (p Params) String(keys ...string) string {
	for _, key := range keys {
		switch v := p[key].(type) {
		case nil:
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

// Bool reads a flag that may arrive as a bool or as text.
func (p Params) Bool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	case float64:
		return v != 0
	}
	return false
}

// Keys lists the parameter names, sorted.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
