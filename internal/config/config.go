// Package config loads dialogo settings from a JSON file, DIALOGO_*
// environment variables and a secrets file.
package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	LLM      LLMConfig
	Ollama   OllamaConfig
	OpenAI   OpenAIConfig
	Session  SessionConfig
	Router   RouterConfig
	Fallback FallbackConfig
	Catalog  CatalogConfig
	Tools    ToolsConfig
	Storage  StorageConfig
	Audit    AuditConfig
	Telegram TelegramConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LLMConfig struct {
	Backend       string
	ClassifyModel string
	GenerateModel string
}

type OllamaConfig struct {
	BaseURL string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
}

type SessionConfig struct {
	TTL        time.Duration
	SweepEvery int
}

type RouterConfig struct {
	CacheSize int
	Timeout   time.Duration
}

type FallbackConfig struct {
	EscalationThreshold int
	SemanticTimeout     time.Duration
}

type CatalogConfig struct {
	// Path to an intent catalog YAML file; empty uses the built-in catalog.
	Path string
}

type ToolsConfig struct {
	// Endpoint of a remote tool service; empty serves the built-in demo data.
	Endpoint string
	Token    string
}

type StorageConfig struct {
	DataDir string
}

type AuditConfig struct {
	Retention time.Duration
}

type TelegramConfig struct {
	Token string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		LLM: LLMConfig{
			Backend:       "ollama",
			ClassifyModel: "qwen2.5:3b",
			GenerateModel: "qwen2.5:7b",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Session: SessionConfig{
			TTL:        300 * time.Second,
			SweepEvery: 50,
		},
		Router: RouterConfig{
			CacheSize: 512,
			Timeout:   5 * time.Second,
		},
		Fallback: FallbackConfig{
			EscalationThreshold: 3,
			SemanticTimeout:     3 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Audit: AuditConfig{
			Retention: 30 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the config file, then applies DIALOGO_*
// environment overrides. Secrets come from the environment or, failing
// that, the secrets file.
func Load() (Config, error) {
	return loadWith(newFileBackend(ConfigFilePath()), fileSecrets{path: SecretsFilePath()})
}

func loadWith(b ConfigBackend, secrets secretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch strings.ToLower(cfg.LLM.Backend) {
	case "ollama":
	case "openai":
		if cfg.OpenAI.APIKey == "" && cfg.OpenAI.BaseURL == defaults().OpenAI.BaseURL {
			return fmt.Errorf("%s", "missing required config: OpenAI API key. " +
				"Set it via environment variable DIALOGO_OPENAI_API_KEY or the secrets file " + SecretsFilePath())
		}
	default:
		return fmt.Errorf("invalid llm.backend %q: want ollama or openai", cfg.LLM.Backend)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.Session.TTL <= 0 {
		return fmt.Errorf("invalid session.ttl %s: must be positive", cfg.Session.TTL)
	}
	return nil
}
