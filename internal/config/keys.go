package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DIALOGO_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "DIALOGO_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "llm.backend", typ: kString, env: "DIALOGO_LLM_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.LLM.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Backend },
	},
	{
		key: "llm.classify_model", typ: kString, env: "DIALOGO_LLM_CLASSIFY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.ClassifyModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.ClassifyModel },
	},
	{
		key: "llm.generate_model", typ: kString, env: "DIALOGO_LLM_GENERATE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.GenerateModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.GenerateModel },
	},
	{
		key: "ollama.base_url", typ: kString, env: "DIALOGO_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "openai.base_url", typ: kString, env: "DIALOGO_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.api_key", typ: kString, env: "DIALOGO_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "session.ttl", typ: kDuration, env: "DIALOGO_SESSION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Session.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.TTL },
	},
	{
		key: "session.sweep_every", typ: kInt, env: "DIALOGO_SESSION_SWEEP_EVERY",
		apply:   func(cfg *Config, v any) { cfg.Session.SweepEvery = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.SweepEvery },
	},
	{
		key: "router.cache_size", typ: kInt, env: "DIALOGO_ROUTER_CACHE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Router.CacheSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Router.CacheSize },
	},
	{
		key: "router.timeout", typ: kDuration, env: "DIALOGO_ROUTER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Router.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Router.Timeout },
	},
	{
		key: "fallback.escalation_threshold", typ: kInt, env: "DIALOGO_FALLBACK_ESCALATION_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Fallback.EscalationThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Fallback.EscalationThreshold },
	},
	{
		key: "fallback.semantic_timeout", typ: kDuration, env: "DIALOGO_FALLBACK_SEMANTIC_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Fallback.SemanticTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Fallback.SemanticTimeout },
	},
	{
		key: "catalog.path", typ: kString, env: "DIALOGO_CATALOG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Catalog.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.Path },
	},
	{
		key: "tools.endpoint", typ: kString, env: "DIALOGO_TOOLS_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Tools.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Tools.Endpoint },
	},
	{
		key: "tools.token", typ: kString, env: "DIALOGO_TOOLS_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Tools.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Tools.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DIALOGO_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "audit.retention", typ: kDuration, env: "DIALOGO_AUDIT_RETENTION",
		apply:   func(cfg *Config, v any) { cfg.Audit.Retention = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Audit.Retention },
	},
	{
		key: "telegram.token", typ: kString, env: "DIALOGO_TELEGRAM_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Telegram.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Telegram.Token },
	},
	{
		key: "log.level", typ: kString, env: "DIALOGO_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parse converts raw into the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			parsed, err := s.parse(v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
				continue
			}
			s.apply(cfg, parsed)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

// applySecrets fills secrets still empty after the environment pass.
func applySecrets(cfg *Config, secrets secretReader) {
	if secrets == nil {
		return
	}
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
