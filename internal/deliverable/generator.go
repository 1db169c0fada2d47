// Package deliverable produces the documents handed to the client at the end
// of each stage: anamnese report, canvas, value chain, prioritisation matrix,
// per-process POPs and the final action plan.
package deliverable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

var (
	// ErrNoContent means the model answered with nothing usable.
	ErrNoContent = errors.New("deliverable: no content generated")
	// ErrUnknownKind is returned for a kind without a prompt.
	ErrUnknownKind = errors.New("deliverable: unknown kind")
)

// Deliverable is a rendered document.
type Deliverable struct {
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	HTML    string `json:"html"`
	Excerpt string `json:"excerpt,omitempty"`
}

// Generator renders a deliverable of the given kind from the journey context.
// A nil deliverable with a nil error is a valid "nothing to show" outcome.
type Generator interface {
	Generate(ctx context.Context, kind string, fields map[string]any) (*Deliverable, error)
}

// LLMGenerator asks a chat model for an HTML document and sanitises it.
type LLMGenerator struct {
	Model   llms.Model
	Prompts *PromptLibrary

	log    *zap.Logger
	policy *bluemonday.Policy
}

func NewLLMGenerator(model llms.Model, prompts *PromptLibrary, log *zap.Logger) *LLMGenerator {
	if log == nil {
		log = zap.NewNop()
	}
	if prompts == nil {
		prompts = NewPromptLibrary("", log)
	}
	return &LLMGenerator{
		Model:   model,
		Prompts: prompts,
		log:     log,
		policy:  bluemonday.UGCPolicy(),
	}
}

func (g *LLMGenerator) Generate(ctx context.Context, kind string, fields map[string]any) (*Deliverable, error) {
	systemPrompt, err := g.Prompts.Prompt(kind)
	if err != nil {
		return nil, err
	}

	payload, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode context for %s: %w", kind, err)
	}

	messages := []llms.MessageContent{
		{
			Role:  schema.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		},
		{
			Role:  schema.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart("Contexto da empresa (JSON):\n" + string(payload))},
		},
	}

	resp, err := g.Model.GenerateContent(ctx, messages, llms.WithTemperature(0.2))
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", kind, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrNoContent
	}

	raw := stripFences(resp.Choices[0].Content)
	html := strings.TrimSpace(g.policy.Sanitize(raw))
	if html == "" {
		return nil, ErrNoContent
	}

	d := &Deliverable{Kind: kind, HTML: html, Title: fallbackTitles[kind]}

	article, err := readability.FromReader(strings.NewReader(raw), &url.URL{Scheme: "https", Host: "trilha.local", Path: "/" + kind})
	if err != nil {
		g.log.Debug("readability failed, keeping fallback title", zap.String("kind", kind), zap.Error(err))
		return d, nil
	}
	if t := strings.TrimSpace(article.Title); t != "" {
		d.Title = t
	}
	d.Excerpt = strings.TrimSpace(article.Excerpt)

	g.log.Info("deliverable generated",
		zap.String("kind", kind),
		zap.String("title", d.Title),
		zap.Int("html_bytes", len(d.HTML)))
	return d, nil
}

// stripFences removes a surrounding markdown code fence, which chat models
// like to add around HTML.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
