package engine

import "context"

// Engine abstracts an inference backend (Ollama or any OpenAI-compatible
// server). The router, fallback engine and response synthesis talk to a
// model through this interface, usually via a Querier from Bind.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of the models the backend can serve.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool
}

// Puller is implemented by backends that can download missing models.
type Puller interface {
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions tunes a single chat call.
type ChatOptions struct {
	Temperature float64
	// JSON requests a reply constrained to a single JSON object.
	JSON bool
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
