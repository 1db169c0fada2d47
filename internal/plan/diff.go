package plan

import "github.com/rahul/trilha/internal/store"

// Modification pairs an existing card with the incoming item whose
// description differs from it.
type Modification struct {
	Card           store.Card
	Item           Item
	OldDescription string
	NewDescription string
}

// DiffResult classifies the outcome of comparing a board with a new plan.
type DiffResult struct {
	Added     []Item
	Modified  []Modification
	Removed   []store.Card
	Unchanged []store.Card
}

// Changed reports whether applying the diff would write anything.
func (d DiffResult) Changed() bool {
	return len(d.Added) > 0 || len(d.Modified) > 0 || len(d.Removed) > 0
}

type normalizedCard struct {
	title       string
	description string
	card        store.Card
}

// Diff matches incoming items against existing cards by normalized title only.
// Deprecated cards are ignored, the first existing card with a given title
// wins, and repeated incoming titles after the first are dropped.
func Diff(existing []store.Card, incoming []Item) DiffResult {
	var result DiffResult

	current := make([]normalizedCard, 0, len(existing))
	for _, card := range existing {
		if card.Deprecated {
			continue
		}
		current = append(current, normalizedCard{
			title:       Normalize(card.Title),
			description: Normalize(card.Description),
			card:        card,
		})
	}

	matched := make([]bool, len(current))
	seen := make(map[string]bool, len(incoming))
	for _, item := range incoming {
		title := Normalize(item.Title)
		if title == "" || seen[title] {
			continue
		}
		seen[title] = true

		idx := -1
		for i, c := range current {
			if c.title == title {
				idx = i
				break
			}
		}
		if idx < 0 {
			result.Added = append(result.Added, item)
			continue
		}
		matched[idx] = true

		match := current[idx]
		if match.description != Normalize(item.Description) {
			result.Modified = append(result.Modified, Modification{
				Card:           match.card,
				Item:           item,
				OldDescription: match.card.Description,
				NewDescription: item.Description,
			})
			continue
		}
		result.Unchanged = append(result.Unchanged, match.card)
	}

	for i, c := range current {
		if !matched[i] {
			result.Removed = append(result.Removed, c.card)
		}
	}
	return result
}
