package main

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/rahul/trilha/internal/board"
	"github.com/rahul/trilha/internal/deliverable"
	"github.com/rahul/trilha/internal/dispatch"
	"github.com/rahul/trilha/internal/observability"
	"github.com/rahul/trilha/internal/progress"
	"github.com/rahul/trilha/internal/store"
	"github.com/rahul/trilha/pkg/config"
)

// app holds the wired services shared by every command.
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	store      *store.Store
	board      *board.Reconciler
	dispatcher *dispatch.Dispatcher
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Memory.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	rec := board.New(st,
		board.WithLogger(log.Named("board")),
		board.WithDefaultDue(cfg.Workflow.DefaultDue))

	var gen deliverable.Generator
	model, err := newModel(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	if model != nil {
		prompts := deliverable.NewPromptLibrary(cfg.Workflow.PromptsDir, log.Named("prompts"))
		gen = deliverable.NewLLMGenerator(model, prompts, log.Named("deliverable"))
	} else {
		log.Warn("no enabled provider, deliverable generation is disabled")
	}

	size := cfg.Workflow.CacheSize
	if size == 0 {
		size = dispatch.DefaultCacheSize
	}

	d := dispatch.New(dispatch.Deps{
		Journeys:  st,
		Board:     rec,
		Generator: gen,
		Progress:  progress.NewAwarder(st, progress.DefaultTable, log.Named("progress")),
		Events:    st,
		Cache:     dispatch.NewLRUCache(size),
		Logger:    log.Named("dispatch"),
	})

	return &app{cfg: cfg, log: log, store: st, board: rec, dispatcher: d}, nil
}

// newModel returns nil when no provider is enabled.
func newModel(cfg *config.Config) (llms.Model, error) {
	name, p := cfg.DefaultProvider()
	switch name {
	case "":
		return nil, nil
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("init provider %s: %w", name, err)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("provider %s is not supported", name)
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("failed to close store", zap.Error(err))
	}
	_ = a.log.Sync()
}
