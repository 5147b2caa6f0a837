package engine

import "context"

// Querier is the classify/generate capability consumed by the dialogue core:
// a chat call against a model chosen at wiring time.
type Querier interface {
	Query(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
}

// Bound is an Engine pinned to one model.
type Bound struct {
	eng   Engine
	model string
}

// Bind returns a Querier that sends every query to model on eng.
func Bind(eng Engine, model string) *Bound {
	return &Bound{eng: eng, model: model}
}

func (b *Bound) Query(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	return b.eng.Chat(ctx, b.model, messages, opts)
}

// Model returns the model name queries are sent to.
func (b *Bound) Model() string { return b.model }
