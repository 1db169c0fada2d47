package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Canonicalize reduces p to a string that only depends on its type, area and
// the set of normalized card titles. Card order, title case and every other
// field (assignee, due date, ids) are ignored.
func Canonicalize(p Plan) string {
	seen := make(map[string]bool, len(p.Cards))
	titles := make([]string, 0, len(p.Cards))
	for _, card := range p.Cards {
		title := Normalize(Field(card, TitleAliases...))
		if title == "" || seen[title] {
			continue
		}
		seen[title] = true
		titles = append(titles, title)
	}
	sort.Strings(titles)
	return Normalize(p.Type) + "::" + Normalize(p.Area) + "::" + strings.Join(titles, "|")
}

// Hash returns the 64-bit xxhash of the canonical form, formatted "h<hex>".
// It is not collision free and must not be used for anything security related.
func Hash(p Plan) string {
	return fmt.Sprintf("h%016x", xxhash.Sum64String(Canonicalize(p)))
}
