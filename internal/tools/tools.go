// Package tools executes domain actions for classified intents. Tools are
// registered explicitly by intent id; the orchestrator only looks at
// FormattedResponse and Error and hands everything else to synthesis.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/workflow"
)

// Request is one tool invocation.
type Request struct {
	Intent        catalog.IntentID  `json:"intent"`
	Slots         map[string]string `json:"slots"`
	Message       string            `json:"message,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	DetailContext json.RawMessage   `json:"detail_context,omitempty"`
}

// Output is what a tool returns.
type Output struct {
	// FormattedResponse, when set, is sent to the user verbatim.
	FormattedResponse string         `json:"formatted_response,omitempty"`
	Fields            map[string]any `json:"fields,omitempty"`
	// DetailContext is kept in the session so a later "yes" can show more.
	DetailContext json.RawMessage   `json:"detail_context,omitempty"`
	Options       []workflow.Option `json:"options,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// Tool executes one intent.
type Tool interface {
	Execute(ctx context.Context, req Request) (Output, error)
}

// ToolFunc adapts a function to the Tool interface.
type ToolFunc func(ctx context.Context, req Request) (Output, error)

func (f ToolFunc) Execute(ctx context.Context, req Request) (Output, error) {
	return f(ctx, req)
}

// Registry maps intent ids to tools. A default tool, if set, serves intents
// without a dedicated registration.
type Registry struct {
	mu    sync.RWMutex
	tools map[catalog.IntentID]Tool
	def   Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[catalog.IntentID]Tool)}
}

// Register binds t to intent, replacing any previous binding.
func (r *Registry) Register(intent catalog.IntentID, t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[intent] = t
}

// SetDefault sets the tool used for intents with no registration.
func (r *Registry) SetDefault(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.def = t
}

// Has reports whether intent can be executed.
func (r *Registry) Has(intent catalog.IntentID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[intent]
	return ok || r.def != nil
}

// Execute runs the tool for req.Intent. It never fails: errors and panics are
// reported in Output.Error.
func (r *Registry) Execute(ctx context.Context, req Request) (out Output) {
	r.mu.RLock()
	t, ok := r.tools[req.Intent]
	if !ok {
		t = r.def
	}
	r.mu.RUnlock()
	if t == nil {
		return Output{Error: fmt.Sprintf("no tool registered for intent %q", req.Intent)}
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("tool panicked", "intent", req.Intent, "panic", p, "stack", string(debug.Stack()))
			out = Output{Error: fmt.Sprintf("tool %s panicked: %v", req.Intent, p)}
		}
	}()

	out, err := t.Execute(ctx, req)
	if err != nil {
		slog.Warn("tool execution failed", "intent", req.Intent, "error", err)
		if out.Error == "" {
			out.Error = err.Error()
		}
	}
	return out
}
