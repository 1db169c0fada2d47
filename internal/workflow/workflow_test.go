package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func anamneseContext() map[string]any {
	return map[string]any{
		"empresa_nome":      "Acme",
		"segmento":          "varejo",
		"porte":             "pequena",
		"num_funcionarios":  12.0,
		"faturamento_anual": "1.2M",
		"tempo_mercado":     "5 anos",
		"principal_desafio": "vendas",
		"objetivos":         []any{"crescer", "organizar"},
	}
}

func TestValidateAnamnese(t *testing.T) {
	v := Validate(StageAnamnese, map[string]any{"empresa_nome": "Acme"})
	assert.False(t, v.IsValid)
	assert.False(t, v.CanAdvance)
	assert.Len(t, v.MissingFields, 7)
	assert.Equal(t, StageModelagem, v.NextStage)

	v = Validate(StageAnamnese, anamneseContext())
	assert.True(t, v.IsValid)
	assert.True(t, v.CanAdvance)
	assert.Empty(t, v.MissingFields)
}

func TestValidateMinimumCardinality(t *testing.T) {
	ctx := anamneseContext()
	ctx["objetivos"] = []any{"crescer"}
	v := Validate(StageAnamnese, ctx)
	assert.Equal(t, []string{"objetivos"}, v.MissingFields)

	ctx["objetivos"] = "crescer, organizar"
	assert.True(t, Validate(StageAnamnese, ctx).IsValid)
}

func TestValidateUnknownStage(t *testing.T) {
	v := Validate(Stage("limbo"), nil)
	assert.False(t, v.IsValid)
	assert.Contains(t, v.Message, "unknown stage")
}

func TestAnamneseShowsFormOnce(t *testing.T) {
	c := NewController(zaptest.NewLogger(t))
	s := NewState()

	actions := c.NextActions(s)
	require.Len(t, actions, 1)
	assert.Equal(t, ShowForm{Form: FormAnamnese}, actions[0])

	s.Check(FormKey(FormAnamnese, ""))
	assert.Empty(t, c.NextActions(s))

	s.Context = anamneseContext()
	assert.Equal(t, []Action{Advance{To: StageModelagem}}, c.NextActions(s))
}

func TestModelagemEmitsWholeBatchOnlyWhenBothArtifactsExist(t *testing.T) {
	c := NewController(nil)
	s := NewState()
	s.Stage = StageModelagem

	s.Context["canvas"] = map[string]any{"proposta": "x"}
	assert.Empty(t, c.NextActions(s))

	s.Context["cadeia_valor"] = "logistica, vendas"
	assert.Equal(t, []Action{
		GenerateDeliverable{Deliverable: DeliverableCanvas},
		GenerateDeliverable{Deliverable: DeliverableCadeiaValor},
		RequestValidation{Target: StagePriorizacao},
	}, c.NextActions(s))
}

func TestPendingValidationBlocksEveryStage(t *testing.T) {
	c := NewController(nil)
	full := anamneseContext()
	full["canvas"] = "x"
	full["cadeia_valor"] = "y"
	full[FieldQueue] = []any{"vendas"}
	full[FieldItems] = map[string]any{"vendas": map[string]any{"responsavel": "Ana", "frequencia": "diaria", "passos": "1,2"}}

	for _, stage := range Stages {
		for _, ctx := range []map[string]any{{}, full} {
			s := State{Stage: stage, Context: ctx, PendingValidation: StagePriorizacao}
			d := c.Decide(s)
			assert.True(t, d.Blocked, stage)
			assert.False(t, d.CanAdvance, stage)
			for _, a := range d.Actions {
				assert.NotEqual(t, KindAdvance, a.Kind(), stage)
			}
		}
	}
}

func TestPriorizacao(t *testing.T) {
	c := NewController(nil)
	s := NewState()
	s.Stage = StagePriorizacao

	assert.Equal(t, []Action{ShowForm{Form: FormPriorizacao}}, c.NextActions(s))

	s.Context[FieldQueue] = []any{"vendas", "compras"}
	assert.Equal(t, []Action{
		GenerateDeliverable{Deliverable: DeliverableMatriz},
		Advance{To: StageExecucao},
	}, c.NextActions(s))

	s.Check(DeliverableKey(DeliverableMatriz, ""))
	assert.Equal(t, []Action{Advance{To: StageExecucao}}, c.NextActions(s))
}

func TestExecucaoProcessesOneItemAtATime(t *testing.T) {
	c := NewController(nil)
	s := NewState()
	s.Stage = StageExecucao
	s.Context[FieldQueue] = []any{"vendas", "compras"}
	items := map[string]any{}
	s.Context[FieldItems] = items

	assert.Equal(t, []Action{ShowForm{Form: FormProcesso, Item: "vendas"}}, c.NextActions(s))

	// Form shown, still waiting for vendas: compras must not be touched.
	s.Check(FormKey(FormProcesso, "vendas"))
	items["compras"] = map[string]any{"responsavel": "Bia", "frequencia": "semanal", "passos": "a"}
	assert.Empty(t, c.NextActions(s))

	items["vendas"] = map[string]any{"responsavel": "Ana", "frequencia": "diaria", "passos": "a"}
	assert.Equal(t, []Action{GenerateDeliverable{Deliverable: DeliverablePOP, Item: "vendas"}}, c.NextActions(s))

	s.Check(DeliverableKey(DeliverablePOP, "vendas"))
	assert.Equal(t, []Action{GenerateDeliverable{Deliverable: DeliverablePOP, Item: "compras"}}, c.NextActions(s))

	s.Check(DeliverableKey(DeliverablePOP, "compras"))
	assert.Equal(t, []Action{Advance{To: StageConcluida}}, c.NextActions(s))
}

func TestUnknownStageYieldsNothing(t *testing.T) {
	c := NewController(zaptest.NewLogger(t))
	d := c.Decide(State{Stage: "???", Context: anamneseContext()})
	assert.Empty(t, d.Actions)
	assert.False(t, d.CanAdvance)
}

func TestAdvanceState(t *testing.T) {
	s := NewState()

	_, err := AdvanceState(&s, StageModelagem, false)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, StageAnamnese, verr.Stage)
	assert.Equal(t, StageAnamnese, s.Stage)

	s.Context = anamneseContext()
	edge, err := AdvanceState(&s, StageModelagem, false)
	require.NoError(t, err)
	assert.Equal(t, StageModelagem, s.Stage)
	assert.Equal(t, []string{"relatorio_anamnese"}, edge.Deliverables)
	assert.Equal(t, "anamnese_concluida", edge.ProgressKey)
}

func TestAdvanceRejectsUnknownEdgesEvenWithOverride(t *testing.T) {
	s := NewState()
	s.Context = anamneseContext()

	_, err := AdvanceState(&s, StageExecucao, true)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StageAnamnese, s.Stage)

	_, err = AdvanceState(&s, StageAnamnese, true)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAdvanceOverrideSkipsValidationOnly(t *testing.T) {
	s := NewState()
	edge, err := AdvanceState(&s, StageModelagem, true)
	require.NoError(t, err)
	assert.Equal(t, StageModelagem, edge.To)

	s.PendingValidation = StagePriorizacao
	_, err = AdvanceState(&s, StagePriorizacao, true)
	assert.ErrorIs(t, err, ErrPendingValidation)
	assert.Equal(t, StageModelagem, s.Stage)
}

func TestMergeSkipsDeniedKeys(t *testing.T) {
	s := NewState()
	merged := s.Merge(map[string]any{"empresa_nome": "Acme", "stage": "execucao"}, func(k string) bool { return k != "stage" })
	assert.Equal(t, []string{"empresa_nome"}, merged)
	assert.Equal(t, StageAnamnese, s.Stage)
	assert.NotContains(t, s.Context, "stage")
}
