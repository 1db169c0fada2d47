package deliverable

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap/zaptest"
)

type stubModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
}

func (m *stubModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

const canvasHTML = "```html\n" + `<html><head><title>Business Model Canvas da Acme</title></head>
<body><h1>Business Model Canvas da Acme</h1>
<p>A Acme vende ferramentas para pequenos varejistas da região, com entrega em até dois dias e suporte por telefone.</p>
<p>Os principais parceiros são distribuidores regionais e uma transportadora local.</p>
<script>alert("x")</script>
</body></html>` + "\n```"

func textOf(m llms.MessageContent) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(llms.TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

func TestGenerateSanitisesAndExtractsTitle(t *testing.T) {
	model := &stubModel{reply: canvasHTML}
	g := NewLLMGenerator(model, nil, zaptest.NewLogger(t))

	d, err := g.Generate(context.Background(), KindCanvas, map[string]any{"empresa_nome": "Acme"})
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.Equal(t, KindCanvas, d.Kind)
	assert.Contains(t, d.Title, "Acme")
	assert.NotContains(t, d.HTML, "<script")
	assert.NotContains(t, d.HTML, "```")
	assert.Contains(t, d.HTML, "transportadora local")

	require.Len(t, model.messages, 2)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Contains(t, textOf(model.messages[0]), "Business Model Canvas")
	assert.Contains(t, textOf(model.messages[1]), `"empresa_nome": "Acme"`)
}

func TestGenerateEmptyReplyIsNoContent(t *testing.T) {
	g := NewLLMGenerator(&stubModel{reply: "  <script>only()</script> "}, nil, nil)
	d, err := g.Generate(context.Background(), KindPOP, nil)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestGenerateWrapsModelErrors(t *testing.T) {
	boom := errors.New("rate limited")
	g := NewLLMGenerator(&stubModel{err: boom}, nil, nil)
	_, err := g.Generate(context.Background(), KindMatriz, nil)
	assert.ErrorIs(t, err, boom)
}

func TestGenerateUnknownKind(t *testing.T) {
	g := NewLLMGenerator(&stubModel{reply: canvasHTML}, nil, nil)
	_, err := g.Generate(context.Background(), "poema", nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.False(t, Known("poema"))
	assert.True(t, Known(KindPlanoAcao))
}

func TestPromptLibraryOverrides(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "base.md"), []byte("Preamble Content"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pop.md"), []byte("POP Content"), 0644); err != nil {
		t.Fatal(err)
	}

	pl := NewPromptLibrary(dir, zaptest.NewLogger(t))
	prompt, err := pl.Prompt(KindPOP)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Index(prompt, "Preamble Content") >= strings.Index(prompt, "POP Content") {
		t.Errorf("preamble should come before the kind instruction: %q", prompt)
	}

	// No override file: built-in instruction, overridden preamble.
	prompt, err = pl.Prompt(KindCanvas)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "Preamble Content") || !strings.Contains(prompt, "nove blocos") {
		t.Errorf("unexpected canvas prompt: %q", prompt)
	}
}

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"<p>x</p>":               "<p>x</p>",
		"```html\n<p>x</p>\n```": "<p>x</p>",
		"```\n<p>y</p>```":       "<p>y</p>",
		"```":                    "",
		"  \n<p>z</p>\n  ":       "<p>z</p>",
	}
	for in, want := range cases {
		assert.Equal(t, want, stripFences(in), in)
	}
}
