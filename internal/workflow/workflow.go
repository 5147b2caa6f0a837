// Package workflow defines multi-turn interactions that need more than one
// user message to complete. The active Context is round-tripped to the caller
// on every turn.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/kalambet/dialogo/internal/catalog"
)

// Option is one choosable entry presented by a workflow step.
type Option struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Score float64 `json:"score,omitempty"`
}

// Context is the state of an active workflow.
type Context struct {
	Name    string            `json:"name"`
	Intent  catalog.IntentID  `json:"intent"`
	Step    int               `json:"step"`
	Options []Option          `json:"options,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
	Anchor  map[string]string `json:"anchor,omitempty"`
}

// Clone returns a deep copy of c. A nil Context clones to nil.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := *c
	out.Options = append([]Option(nil), c.Options...)
	out.Filters = maps.Clone(c.Filters)
	out.Anchor = maps.Clone(c.Anchor)
	return &out
}

// DecodeContext parses a workflow context supplied by a caller. Unknown
// fields are rejected. Empty input and JSON null decode to nil.
func DecodeContext(raw []byte) (*Context, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var c Context
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decoding workflow context: %w", err)
	}
	if c.Name == "" {
		return nil, fmt.Errorf("decoding workflow context: missing name")
	}
	return &c, nil
}

// Step is the outcome of advancing a workflow with one user message.
type Step struct {
	// Intent to execute for this step. Empty when the workflow ended without
	// running a tool.
	Intent catalog.IntentID
	Slots  map[string]string
	// Next is the context to carry into the following turn; nil ends the workflow.
	Next *Context
	// Reply is returned to the user when Intent is empty.
	Reply string
}

// Workflow is a declared multi-turn interaction.
type Workflow interface {
	Name() string
	// Start builds the initial context after the workflow's intent ran.
	// A nil result means there is nothing to continue.
	Start(intent catalog.IntentID, slots map[string]string, options []Option) *Context
	// Accepts reports whether message is a valid continuation for wc.
	// slots are the deterministic slot values extracted from message.
	Accepts(wc *Context, message string, slots map[string]string) bool
	Advance(wc *Context, message string, slots map[string]string) Step
}

// Registry maps workflow names to implementations.
type Registry struct {
	byName map[string]Workflow
}

// NewRegistry returns a registry holding ws.
func NewRegistry(ws ...Workflow) *Registry {
	r := &Registry{byName: make(map[string]Workflow, len(ws))}
	for _, w := range ws {
		r.byName[w.Name()] = w
	}
	return r
}

// Lookup returns the workflow registered under name.
func (r *Registry) Lookup(name string) (Workflow, bool) {
	if r == nil {
		return nil, false
	}
	w, ok := r.byName[name]
	return w, ok
}

// Defaults returns the built-in workflows for the planning catalog. cat may
// be nil, in which case the filter workflow accepts any message carrying a
// filter slot.
func Defaults(cat *catalog.Catalog) *Registry {
	return NewRegistry(
		NewChoice("suggest_recovery_strategy", "apply_recovery_strategy"),
		NewFilter("filter_plans", []string{"status", "priority", "org_unit", "work_center"}).WithCatalog(cat),
	)
}
