package conversation

import (
	"encoding/json"
	"time"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/fallback"
	"github.com/kalambet/dialogo/internal/intent"
	"github.com/kalambet/dialogo/internal/session"
	"github.com/kalambet/dialogo/internal/tools"
	"github.com/kalambet/dialogo/internal/workflow"
)

// StateName is a node of the per-turn state machine.
type StateName string

const (
	StateStart                     StateName = "start"
	StateClassifying               StateName = "classifying"
	StateResolved                  StateName = "resolved"
	StateClarifying                StateName = "clarifying"
	StateAwaitingFallbackSelection StateName = "awaiting_fallback_selection"
	StateAwaitingWorkflowStep      StateName = "awaiting_workflow_step"
	StateToolExecuting             StateName = "tool_executing"
	StateResponseSynthesizing      StateName = "response_synthesizing"
	StateTerminal                  StateName = "terminal"
)

// Stages that resolve a turn without the router.
const (
	StageSelection     intent.Stage = "selection"
	StageWorkflow      intent.Stage = "workflow"
	StageClarification intent.Stage = "clarification"
)

// State is the transient state of one turn.
type State struct {
	TurnID             string
	SenderID           string
	Message            string
	Metadata           map[string]string
	Intent             catalog.IntentID
	Slots              map[string]string
	Stage              intent.Stage
	Confidence         float64
	ToolOutput         *tools.Output
	FinalResponse      string
	NeedsClarification bool
	Error              string

	// Carried into the session write.
	Fallback      session.FallbackState
	Workflow      *workflow.Context
	DetailContext json.RawMessage
	Dialogue      dialogueState

	Path    []StateName
	Started time.Time
}

func (s *State) enter(n StateName) {
	s.Path = append(s.Path, n)
}

// dialogueState is the orchestrator's own memory between turns, stored
// opaquely in the session record.
type dialogueState struct {
	// PendingIntent is waiting for one of Missing to be supplied.
	PendingIntent catalog.IntentID `json:"pending_intent,omitempty"`
	Missing       []string         `json:"missing,omitempty"`
}

func decodeDialogue(raw json.RawMessage) dialogueState {
	var d dialogueState
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &d)
	}
	return d
}

// TurnRequest is one inbound user message.
type TurnRequest struct {
	SenderID string            `json:"sender_id"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
	// WorkflowContext, when set, replaces the workflow stored in the session.
	WorkflowContext *workflow.Context `json:"workflow_context,omitempty"`
}

// TurnResult is the reply to a TurnRequest.
type TurnResult struct {
	TurnID             string                `json:"turn_id"`
	Response           string                `json:"response"`
	Intent             catalog.IntentID      `json:"intent"`
	Slots              map[string]string     `json:"slots"`
	Confidence         float64               `json:"confidence"`
	Stage              intent.Stage          `json:"stage"`
	WorkflowContext    *workflow.Context     `json:"workflow_context,omitempty"`
	NeedsClarification bool                  `json:"needs_clarification"`
	Suggestions        []fallback.Suggestion `json:"suggestions,omitempty"`
	FallbackPhase      int                   `json:"fallback_phase,omitempty"`
	Error              string                `json:"error,omitempty"`
	Path               []StateName           `json:"path"`
}

// Turn is the diagnostic record of a finished turn handed to observers.
type Turn struct {
	ID                 string
	SenderID           string
	CreatedAt          time.Time
	Message            string
	Intent             catalog.IntentID
	Stage              intent.Stage
	Confidence         float64
	NeedsClarification bool
	Response           string
	Error              string
	Path               []StateName
	FallbackPhase      int
	Duration           time.Duration
}

// Outcome classifies a finished turn for metrics.
func (t Turn) Outcome() string {
	switch {
	case t.Intent == catalog.Fallback:
		return "fallback"
	case t.NeedsClarification:
		return "clarification"
	case t.Error != "":
		return "error"
	default:
		return "resolved"
	}
}

// Observer is notified of every finished turn. Implementations must not block.
type Observer interface {
	ObserveTurn(t Turn)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(t Turn)

func (f ObserverFunc) ObserveTurn(t Turn) { f(t) }
