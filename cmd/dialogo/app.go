package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/config"
	"github.com/kalambet/dialogo/internal/conversation"
	"github.com/kalambet/dialogo/internal/engine"
	"github.com/kalambet/dialogo/internal/fallback"
	"github.com/kalambet/dialogo/internal/intent"
	"github.com/kalambet/dialogo/internal/session"
	"github.com/kalambet/dialogo/internal/tools"
	"github.com/kalambet/dialogo/internal/workflow"
)

// app is the dialogue engine assembled from configuration.
type app struct {
	catalog      *catalog.Catalog
	sessions     *session.Store
	router       *intent.Router
	orchestrator *conversation.Orchestrator
}

func loadCatalog(cfg config.Config) (*catalog.Catalog, error) {
	if cfg.Catalog.Path == "" {
		return catalog.Default(), nil
	}
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	return cat, nil
}

// connectEngine selects the LLM backend and makes sure the configured models
// are available, pulling them when the backend supports it.
func connectEngine(ctx context.Context, cfg config.Config, progress io.Writer) (engine.Engine, error) {
	eng, err := engine.Detect(engine.DetectConfig{
		Backend:       cfg.LLM.Backend,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		OpenAIAPIKey:  cfg.OpenAI.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting llm backend: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, progress, cfg.LLM.ClassifyModel, cfg.LLM.GenerateModel); err != nil {
		return nil, err
	}
	return eng, nil
}

func newRouter(cfg config.Config, cat *catalog.Catalog, eng engine.Engine) (*intent.Router, error) {
	var classifier engine.Querier
	if eng != nil {
		classifier = engine.Bind(eng, cfg.LLM.ClassifyModel)
	}
	return intent.New(cat, classifier, intent.Options{
		Timeout:   cfg.Router.Timeout,
		CacheSize: cfg.Router.CacheSize,
	})
}

func newTools(cfg config.Config, cat *catalog.Catalog) *tools.Registry {
	reg := tools.NewRegistry()
	tools.RegisterBuiltins(reg, cat)
	if cfg.Tools.Endpoint != "" {
		reg.SetDefault(tools.NewHTTPTool(cfg.Tools.Endpoint, cfg.Tools.Token))
		slog.Info("using remote tool service", "endpoint", cfg.Tools.Endpoint)
	} else {
		tools.NewDemo().Register(reg)
		slog.Info("no tool endpoint configured, serving demo data")
	}
	for _, m := range cat.Intents() {
		if m.ID != catalog.Fallback && !reg.Has(m.ID) {
			slog.Warn("catalog intent has no tool", "intent", m.ID)
		}
	}
	return reg
}

// newApp wires the engine. A nil eng runs without a model: deterministic
// routing only, and tool answers without generated phrasing.
func newApp(cfg config.Config, eng engine.Engine, observers ...conversation.Observer) (*app, error) {
	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	router, err := newRouter(cfg, cat, eng)
	if err != nil {
		return nil, err
	}

	var scorer, generator engine.Querier
	if eng != nil {
		scorer = engine.Bind(eng, cfg.LLM.ClassifyModel)
		generator = engine.Bind(eng, cfg.LLM.GenerateModel)
	}
	fbOpts := fallback.DefaultOptions()
	if cfg.Fallback.SemanticTimeout > 0 {
		fbOpts.SemanticTimeout = cfg.Fallback.SemanticTimeout
	}

	sessions := session.New(cfg.Session.TTL, cfg.Session.SweepEvery)
	orch := conversation.New(conversation.Deps{
		Catalog:   cat,
		Sessions:  sessions,
		Router:    router,
		Fallback:  fallback.New(cat, scorer, fbOpts),
		Workflows: workflow.Defaults(cat),
		Tools:     newTools(cfg, cat),
		Generator: generator,
		Observers: observers,
	}, conversation.Options{
		EscalationThreshold: cfg.Fallback.EscalationThreshold,
	})

	return &app{
		catalog:      cat,
		sessions:     sessions,
		router:       router,
		orchestrator: orch,
	}, nil
}
