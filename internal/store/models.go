package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rahul/trilha/internal/workflow"
)

// CardStatus is the board column a card sits in.
type CardStatus string

const (
	StatusTodo    CardStatus = "todo"
	StatusDoing   CardStatus = "doing"
	StatusDone    CardStatus = "done"
	StatusBlocked CardStatus = "blocked"
)

// ParseStatus maps free text onto a status; unknown values yield false.
func ParseStatus(s string) (CardStatus, bool) {
	switch CardStatus(s) {
	case StatusTodo, StatusDoing, StatusDone, StatusBlocked:
		return CardStatus(s), true
	}
	return "", false
}

// NormalizeTitle lower-cases s, trims it and collapses inner whitespace. It
// is the identity used by the active-title index and by plan diffs.
func NormalizeTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// CardSource records whether a card came from the first generation of a plan.
type CardSource string

const (
	SourceOriginal    CardSource = "original"
	SourceIncremental CardSource = "incremental"
)

// Journey is the persisted workflow state of one conversation.
type Journey struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	State     workflow.State `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Card is a unit of work on a session's board.
type Card struct {
	ID                string     `json:"id"`
	SessionID         string     `json:"session_id"`
	PlanType          string     `json:"plan_type"`
	PlanArea          string     `json:"plan_area"`
	Title             string     `json:"title"`
	NormTitle         string     `json:"-"`
	Description       string     `json:"description,omitempty"`
	Assignee          string     `json:"assignee,omitempty"`
	DueAt             *time.Time `json:"due_at,omitempty"`
	Status            CardStatus `json:"status"`
	PlanHash          string     `json:"plan_hash"`
	PlanVersion       int        `json:"plan_version"`
	Source            CardSource `json:"source"`
	Deprecated        bool       `json:"deprecated"`
	DeprecatedVersion int        `json:"deprecated_version,omitempty"`
	RemindedAt        *time.Time `json:"reminded_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// DescriptionUpdate rewrites a card's description for a new plan version.
type DescriptionUpdate struct {
	ID          string
	Description string
	PlanVersion int
}

// Event is an entry of the append-only journey timeline.
type Event struct {
	ID        int64           `json:"id"`
	JourneyID string          `json:"journey_id,omitempty"`
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Progress is the gamification tally of a session.
type Progress struct {
	SessionID string    `json:"session_id"`
	XP        int       `json:"xp"`
	UpdatedAt time.Time `json:"updated_at"`
}
