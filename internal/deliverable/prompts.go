package deliverable

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Kinds the generator knows how to produce.
const (
	KindRelatorioAnamnese = "relatorio_anamnese"
	KindCanvas            = "canvas"
	KindCadeiaValor       = "cadeia_valor"
	KindMatriz            = "matriz_priorizacao"
	KindPOP               = "pop"
	KindPlanoAcao         = "plano_acao"
)

const preambleFile = "base.md"

var builtinPreamble = `Você é um consultor de processos para pequenas empresas.
Responda somente com um documento HTML completo, com <title> e um <h1> de mesmo texto.
Use apenas as informações fornecidas no contexto; não invente números.`

var builtinPrompts = map[string]string{
	KindRelatorioAnamnese: "Escreva o relatório de anamnese: perfil da empresa, principal desafio e objetivos.",
	KindCanvas:            "Monte o Business Model Canvas com os nove blocos a partir do campo canvas.",
	KindCadeiaValor:       "Descreva a cadeia de valor: atividades primárias e de apoio a partir do campo cadeia_valor.",
	KindMatriz:            "Monte a matriz de priorização dos processos listados em processos_priorizados, na ordem recebida.",
	KindPOP:               "Escreva o procedimento operacional padrão do processo indicado em item: responsável, frequência e passos numerados.",
	KindPlanoAcao:         "Consolide o plano de ação 5W2H a partir dos processos documentados.",
}

var fallbackTitles = map[string]string{
	KindRelatorioAnamnese: "Relatório de Anamnese",
	KindCanvas:            "Business Model Canvas",
	KindCadeiaValor:       "Cadeia de Valor",
	KindMatriz:            "Matriz de Priorização",
	KindPOP:               "Procedimento Operacional Padrão",
	KindPlanoAcao:         "Plano de Ação",
}

// Known reports whether kind is a deliverable this package can generate.
func Known(kind string) bool {
	_, ok := builtinPrompts[kind]
	return ok
}

// PromptLibrary resolves the system prompt for a deliverable kind. Files in
// Directory override the built-in texts: base.md replaces the shared preamble
// and <kind>.md the per-kind instruction.
type PromptLibrary struct {
	Directory string
	log       *zap.Logger
}

func NewPromptLibrary(dir string, log *zap.Logger) *PromptLibrary {
	if log == nil {
		log = zap.NewNop()
	}
	return &PromptLibrary{Directory: dir, log: log}
}

// Prompt returns the preamble and the kind instruction joined together.
func (pl *PromptLibrary) Prompt(kind string) (string, error) {
	instruction, ok := builtinPrompts[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	preamble := pl.read(preambleFile, builtinPreamble)
	instruction = pl.read(kind+".md", instruction)
	return preamble + "\n\n---\n\n" + instruction, nil
}

func (pl *PromptLibrary) read(name, fallback string) string {
	if pl == nil || pl.Directory == "" {
		return fallback
	}
	path := filepath.Join(pl.Directory, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			pl.log.Warn("failed to read prompt file", zap.String("path", path), zap.Error(err))
		}
		return fallback
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fallback
	}
	return text
}
