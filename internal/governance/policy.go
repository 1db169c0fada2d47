package governance

import (
	"fmt"
	"regexp"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// ContextPolicy decides which incoming context keys may be persisted into a
// journey. Volatile or derived keys (ids, stage bookkeeping, transport
// metadata) must never be written that way.
type ContextPolicy interface {
	Evaluate(key string) Result
}

// DefaultContextPolicy is a denylist of exact keys plus key patterns.
type DefaultContextPolicy struct {
	DeniedKeys  map[string]bool
	DeniedRegex []*regexp.Regexp
}

// DefaultDeniedKeys are never merged from client context.
var DefaultDeniedKeys = []string{
	"session_id",
	"user_id",
	"journey_id",
	"stage",
	"pending_validation",
	"checklist",
	"timestamp",
}

func NewDefaultContextPolicy() *DefaultContextPolicy {
	p := &DefaultContextPolicy{
		DeniedKeys:  make(map[string]bool),
		DeniedRegex: make([]*regexp.Regexp, 0),
	}
	for _, key := range DefaultDeniedKeys {
		p.DenyKey(key)
	}
	// Underscore-prefixed keys are client-side scratch values.
	_ = p.DenyPattern(`^_`)
	return p
}

func (p *DefaultContextPolicy) DenyKey(key string) {
	p.DeniedKeys[key] = true
}

func (p *DefaultContextPolicy) DenyPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	p.DeniedRegex = append(p.DeniedRegex, re)
	return nil
}

func (p *DefaultContextPolicy) Evaluate(key string) Result {
	if key == "" {
		return Result{Effect: EffectDeny, Reason: "empty key"}
	}
	if p.DeniedKeys[key] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Key '%s' is managed by the workflow", key),
		}
	}

	for _, re := range p.DeniedRegex {
		if re.MatchString(key) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Key matches restricted pattern: %s", re.String()),
			}
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}
}

// Allows adapts a policy to a plain predicate.
func Allows(p ContextPolicy) func(string) bool {
	return func(key string) bool {
		return p.Evaluate(key).Effect == EffectAllow
	}
}
