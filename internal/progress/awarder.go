// Package progress turns journey milestones into experience points and
// levels.
package progress

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rahul/trilha/internal/store"
)

// XPPerLevel is the experience needed for each level.
const XPPerLevel = 100

// Event keys outside the stage edges.
const (
	KeyDeliverable   = "deliverable_gerado"
	KeyPlanReconcile = "plano_atualizado"
	KeyCardDone      = "tarefa_concluida"
)

// ErrUnknownEvent is returned for keys without an xp value.
var ErrUnknownEvent = errors.New("progress: unknown event key")

// DefaultTable maps event keys to the xp they grant.
var DefaultTable = map[string]int{
	"anamnese_concluida":    100,
	"modelagem_concluida":   150,
	"priorizacao_concluida": 100,
	"jornada_concluida":     250,
	KeyDeliverable:          20,
	KeyPlanReconcile:        10,
	KeyCardDone:             15,
}

// Award is the outcome of one grant.
type Award struct {
	Key       string `json:"key"`
	XPGained  int    `json:"xp_gained"`
	TotalXP   int    `json:"total_xp"`
	Level     int    `json:"level"`
	LeveledUp bool   `json:"leveled_up"`
}

// Ledger persists the running xp total of a session.
type Ledger interface {
	AddXP(ctx context.Context, sessionID string, delta int) (store.Progress, error)
}

// Awarder grants xp from a fixed table.
type Awarder struct {
	ledger Ledger
	table  map[string]int
	log    *zap.Logger
}

func NewAwarder(ledger Ledger, table map[string]int, log *zap.Logger) *Awarder {
	if table == nil {
		table = DefaultTable
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Awarder{ledger: ledger, table: table, log: log}
}

// Level returns the level reached with xp points.
func Level(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return xp/XPPerLevel + 1
}

// Award grants the xp bound to key.
func (a *Awarder) Award(ctx context.Context, sessionID, key string) (*Award, error) {
	xp, ok := a.table[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, key)
	}
	p, err := a.ledger.AddXP(ctx, sessionID, xp)
	if err != nil {
		return nil, fmt.Errorf("award %s: %w", key, err)
	}

	award := &Award{
		Key:      key,
		XPGained: xp,
		TotalXP:  p.XP,
		Level:    Level(p.XP),
	}
	award.LeveledUp = award.Level > Level(p.XP-xp)
	if award.LeveledUp {
		a.log.Info("level up", zap.String("session", sessionID), zap.Int("level", award.Level))
	}
	return award, nil
}
