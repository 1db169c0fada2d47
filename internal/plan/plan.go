// Package plan turns loosely structured, repeatedly regenerated plans into
// stable identities: a canonical string, a hash, and a diff against the cards
// already on the board.
package plan

import (
	"fmt"
	"strings"

	"github.com/rahul/trilha/internal/store"
)

// Plan is a set of named work items for one area, as submitted by the
// conversation. Cards keep whatever keys the producer used; fields are
// resolved through alias lists.
type Plan struct {
	Type  string           `json:"type" yaml:"type"`
	Area  string           `json:"area" yaml:"area"`
	Cards []map[string]any `json:"cards" yaml:"cards"`
}

// Alias lists, in priority order.
var (
	TitleAliases       = []string{"title", "titulo", "what", "o_que"}
	DescriptionAliases = []string{"description", "descricao", "why", "por_que", "how", "como"}
	AssigneeAliases    = []string{"assignee", "responsavel", "who", "quem"}
	DueAliases         = []string{"due_at", "dueAt", "prazo", "when", "quando"}
	StatusAliases      = []string{"status", "situacao"}
)

// Item is a plan card with its fields resolved.
type Item struct {
	Title       string
	Description string
	Assignee    string
	Due         string
	Status      string
}

// Items resolves every card of p. Cards without a title are dropped.
func (p Plan) Items() []Item {
	items := make([]Item, 0, len(p.Cards))
	for _, card := range p.Cards {
		item := Item{
			Title:       Field(card, TitleAliases...),
			Description: Field(card, DescriptionAliases...),
			Assignee:    Field(card, AssigneeAliases...),
			Due:         Field(card, DueAliases...),
			Status:      Field(card, StatusAliases...),
		}
		if item.Title == "" {
			continue
		}
		items = append(items, item)
	}
	return items
}

// Field returns the first non-empty value found under any of the aliases.
func Field(card map[string]any, aliases ...string) string {
	for _, key := range aliases {
		raw, ok := card[key]
		if !ok || raw == nil {
			continue
		}
		var value string
		switch v := raw.(type) {
		case string:
			value = v
		case fmt.Stringer:
			value = v.String()
		case float64, int, int64, bool:
			value = fmt.Sprint(v)
		default:
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

// Normalize lower-cases s, trims it and collapses inner whitespace.
func Normalize(s string) string {
	return store.NormalizeTitle(s)
}
