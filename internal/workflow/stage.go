// Package workflow decides what a consulting journey should do next. The
// stage order, the fields each stage needs and the actions each stage emits
// all come from one table, so the controller and the validator cannot drift
// apart.
package workflow

import (
	"errors"
	"strings"
)

// Stage is a step of the fixed consulting process.
type Stage string

const (
	StageAnamnese    Stage = "anamnese"
	StageModelagem   Stage = "modelagem"
	StagePriorizacao Stage = "priorizacao"
	StageExecucao    Stage = "execucao"
	StageConcluida   Stage = "concluida"
)

// Stages lists every stage in process order.
var Stages = []Stage{StageAnamnese, StageModelagem, StagePriorizacao, StageExecucao, StageConcluida}

// ErrInvalidTransition is returned when an edge is not in the transition table.
var ErrInvalidTransition = errors.New("workflow: transition not allowed")

// ParseStage maps free text onto a known stage.
func ParseStage(s string) (Stage, bool) {
	candidate := Stage(strings.ToLower(strings.TrimSpace(s)))
	for _, stage := range Stages {
		if stage == candidate {
			return stage, true
		}
	}
	return "", false
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, stage := range Stages {
		if stage == s {
			return true
		}
	}
	return false
}

// Edge is one allowed forward move together with what it unlocks.
type Edge struct {
	From         Stage
	To           Stage
	Deliverables []string
	ProgressKey  string
}

var edges = []Edge{
	{From: StageAnamnese, To: StageModelagem, Deliverables: []string{"relatorio_anamnese"}, ProgressKey: "anamnese_concluida"},
	{From: StageModelagem, To: StagePriorizacao, Deliverables: []string{"canvas", "cadeia_valor"}, ProgressKey: "modelagem_concluida"},
	{From: StagePriorizacao, To: StageExecucao, Deliverables: []string{"matriz_priorizacao"}, ProgressKey: "priorizacao_concluida"},
	{From: StageExecucao, To: StageConcluida, Deliverables: []string{"plano_acao"}, ProgressKey: "jornada_concluida"},
}

// Lookup returns the edge from -> to, if the table has one.
func Lookup(from, to Stage) (Edge, bool) {
	for _, e := range edges {
		if e.From == from && e.To == to {
			e.Deliverables = append([]string(nil), e.Deliverables...)
			return e, true
		}
	}
	return Edge{}, false
}

// Next returns the stage that follows s, or "" for the last one.
func Next(s Stage) Stage {
	for _, e := range edges {
		if e.From == s {
			return e.To
		}
	}
	return ""
}
