package engine

import "fmt"

// Backend names accepted by Detect.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Backend       string
	OllamaBaseURL string
	OpenAIBaseURL string
	OpenAIAPIKey  string
}

// Detect returns the Engine for the configured backend. An empty backend
// selects Ollama.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Backend {
	case "", BackendOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case BackendOpenAI:
		if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("openai backend needs an API key or a base URL")
		}
		return NewOpenAIEngine(OpenAIConfig{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL}), nil
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
}
