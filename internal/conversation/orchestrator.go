// Package conversation runs one dialogue turn: it reads the sender's session,
// resolves what the user wants, executes the matching tool, phrases the
// answer, and writes the session back.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/composer"
	"github.com/kalambet/dialogo/internal/engine"
	"github.com/kalambet/dialogo/internal/fallback"
	"github.com/kalambet/dialogo/internal/intent"
	"github.com/kalambet/dialogo/internal/session"
	"github.com/kalambet/dialogo/internal/tools"
	"github.com/kalambet/dialogo/internal/workflow"
)

// Apology is sent when no answer could be generated.
const Apology = "Sorry, I couldn't put together an answer right now. Please try again."

// Classifier resolves free text into an intent.
type Classifier interface {
	ClassifyStage(ctx context.Context, message string, hints intent.Hints) (intent.Result, intent.Stage)
	ExtractSlots(message string) map[string]string
}

// Deps are the collaborators of an Orchestrator. Generator and Observers
// are optional.
type Deps struct {
	Catalog   *catalog.Catalog
	Sessions  *session.Store
	Router    Classifier
	Fallback  *fallback.Engine
	Workflows *workflow.Registry
	Tools     *tools.Registry
	Composer  *composer.Composer
	Generator engine.Querier
	Observers []Observer
}

// Options tunes turn handling. Zero values select the defaults.
type Options struct {
	// EscalationThreshold is the number of consecutive unresolved turns
	// after which the category menu is shown regardless of keyword hits.
	EscalationThreshold int
	GenerateTimeout     time.Duration
	Temperature         float64
}

// DefaultOptions returns the standard orchestrator options.
func DefaultOptions() Options {
	return Options{
		EscalationThreshold: 3,
		GenerateTimeout:     20 * time.Second,
		Temperature:         0.3,
	}
}

// Orchestrator runs dialogue turns. It is safe for concurrent use; turns of
// the same sender that overlap are last-writer-wins.
type Orchestrator struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	d := DefaultOptions()
	if opts.EscalationThreshold <= 0 {
		opts.EscalationThreshold = d.EscalationThreshold
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = d.GenerateTimeout
	}
	if opts.Temperature <= 0 {
		opts.Temperature = d.Temperature
	}
	if deps.Composer == nil {
		deps.Composer = composer.New(0)
	}
	return &Orchestrator{deps: deps, opts: opts, now: time.Now}
}

// RunTurn handles one message. It never fails: every problem is reported in
// TurnResult.Error alongside a user-visible response.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (res TurnResult) {
	st := &State{
		TurnID:   uuid.NewString(),
		SenderID: req.SenderID,
		Message:  req.Message,
		Metadata: maps.Clone(req.Metadata),
		Slots:    map[string]string{},
		Started:  o.now(),
	}
	st.enter(StateStart)

	defer func() {
		if p := recover(); p != nil {
			slog.Error("turn panicked", "sender", req.SenderID, "panic", p)
			st.FinalResponse = Apology
			st.Error = fmt.Sprintf("internal error: %v", p)
			st.enter(StateTerminal)
			res = o.result(st)
			o.notify(st)
		}
	}()

	rec := o.deps.Sessions.Read(req.SenderID)
	st.Workflow = rec.Workflow
	if req.WorkflowContext != nil {
		st.Workflow = req.WorkflowContext.Clone()
	}
	st.Fallback = rec.Fallback

	st.enter(StateClassifying)
	if o.resolve(ctx, st, rec) {
		o.execute(ctx, st, rec)
	}

	st.enter(StateTerminal)
	o.writeSession(st)
	o.notify(st)
	return o.result(st)
}

// resolve decides the turn's intent. It returns false when the turn already
// has its final response (menu, clarification, or a workflow reply).
func (o *Orchestrator) resolve(ctx context.Context, st *State, rec session.Record) bool {
	if st.Fallback.Pending() {
		if sel := fallback.ParseSelection(st.Message, st.Fallback.Suggestions); sel != nil {
			return o.applySelection(ctx, st, *sel)
		}
	}

	if st.Workflow != nil {
		if done, ok := o.advanceWorkflow(st); ok {
			return done
		}
	}

	if d := decodeDialogue(rec.DialogueState); rec.Valid && d.PendingIntent != "" {
		if found := pick(o.deps.Router.ExtractSlots(st.Message), d.Missing); len(found) > 0 {
			slots := maps.Clone(rec.LastSlots)
			if slots == nil {
				slots = map[string]string{}
			}
			maps.Copy(slots, found)
			return o.resolved(st, d.PendingIntent, slots, StageClarification, 1)
		}
	}

	hints := intent.Hints{HasDetailContext: rec.HasDetailContext()}
	if rec.Valid {
		hints.LastIntent = rec.LastIntent
	}
	cls, stage := o.deps.Router.ClassifyStage(ctx, st.Message, hints)
	st.Stage = stage
	st.Confidence = cls.Confidence
	st.Error = cls.Error
	if cls.Intent == catalog.Fallback {
		o.presentMenu(ctx, st, cls.Slots)
		return false
	}
	st.Intent = cls.Intent
	st.Slots = cls.Slots
	st.NeedsClarification = cls.NeedsClarification
	st.enter(StateResolved)
	st.Fallback = session.FallbackState{}
	if st.NeedsClarification {
		o.clarify(st)
		return false
	}
	return true
}

// applySelection resolves a menu pick. A category narrows the menu; an
// intent resolves the turn with slots from the original question.
func (o *Orchestrator) applySelection(ctx context.Context, st *State, sel fallback.Suggestion) bool {
	st.Stage = StageSelection
	st.Confidence = 1
	if sel.Kind == fallback.KindCategory {
		st.enter(StateAwaitingFallbackSelection)
		suggestions := o.deps.Fallback.Suggest(ctx, st.Message, fallback.PhaseMenu, sel.CategoryID)
		st.Intent = catalog.Fallback
		st.Fallback.Suggestions = suggestions
		st.Fallback.Phase = fallback.PhaseMenu
		st.Fallback.SelectedCategory = sel.CategoryID
		label := sel.Label
		if c, ok := o.deps.Catalog.Category(sel.CategoryID); ok {
			label = c.Label
		}
		st.FinalResponse = fallback.FormatMenu(suggestions, fallback.PhaseMenu, label)
		return false
	}

	slots := o.deps.Router.ExtractSlots(st.Fallback.OriginalMessage)
	maps.Copy(slots, o.deps.Router.ExtractSlots(st.Message))
	return o.resolved(st, sel.IntentID, slots, StageSelection, 1)
}

// resolved finishes resolution for intents chosen outside the router, which
// applies its own clarification rules.
func (o *Orchestrator) resolved(st *State, id catalog.IntentID, slots map[string]string, stage intent.Stage, confidence float64) bool {
	st.Intent = id
	st.Slots = slots
	st.Stage = stage
	st.Confidence = confidence
	st.Error = ""
	st.Fallback = session.FallbackState{}
	st.enter(StateResolved)
	if meta, ok := o.deps.Catalog.Lookup(id); ok && !meta.SelfSufficient && len(meta.RequiredSlots) > 0 {
		st.NeedsClarification = len(pick(slots, meta.RequiredSlots)) == 0
	}
	if st.NeedsClarification {
		o.clarify(st)
		return false
	}
	return true
}

// advanceWorkflow feeds the message to the active workflow. ok is false when
// the message is not a continuation and should be classified instead.
func (o *Orchestrator) advanceWorkflow(st *State) (execute, ok bool) {
	w, found := o.deps.Workflows.Lookup(st.Workflow.Name)
	if !found {
		slog.Warn("dropping unknown workflow", "workflow", st.Workflow.Name, "sender", st.SenderID)
		st.Workflow = nil
		return false, false
	}
	slots := o.deps.Router.ExtractSlots(st.Message)
	if !w.Accepts(st.Workflow, st.Message, slots) {
		return false, false
	}

	st.enter(StateAwaitingWorkflowStep)
	active := st.Workflow
	step := w.Advance(active, st.Message, slots)
	st.Stage = StageWorkflow
	st.Confidence = 1
	st.Fallback = session.FallbackState{}
	st.Workflow = step.Next
	if step.Intent == "" {
		st.Intent = active.Intent
		st.FinalResponse = step.Reply
		return false, true
	}
	st.Intent = step.Intent
	st.Slots = step.Slots
	if st.Slots == nil {
		st.Slots = map[string]string{}
	}
	return true, true
}

// presentMenu handles an unresolved turn: it escalates the recovery phase
// and persists the menu the next message will be parsed against.
func (o *Orchestrator) presentMenu(ctx context.Context, st *State, slots map[string]string) {
	st.enter(StateAwaitingFallbackSelection)
	prev := st.Fallback
	count := prev.Count + 1
	force := count >= o.opts.EscalationThreshold

	suggestions, phase := o.deps.Fallback.Recover(ctx, st.Message, prev.Phase, force, prev.SelectedCategory)
	selected := ""
	if phase == fallback.PhaseMenu {
		selected = prev.SelectedCategory
	}
	original := prev.OriginalMessage
	if original == "" {
		original = st.Message
	}

	st.Intent = catalog.Fallback
	st.Slots = slots
	st.Fallback = session.FallbackState{
		Suggestions:      suggestions,
		Phase:            phase,
		Count:            count,
		SelectedCategory: selected,
		OriginalMessage:  original,
	}
	label := ""
	if c, ok := o.deps.Catalog.Category(selected); ok {
		label = c.Label
	}
	st.FinalResponse = fallback.FormatMenu(suggestions, phase, label)
	slog.Debug("fallback menu", "sender", st.SenderID, "phase", phase, "count", count, "suggestions", len(suggestions))
}

// clarify asks for a missing required slot and remembers what is pending.
func (o *Orchestrator) clarify(st *State) {
	st.enter(StateClarifying)
	meta, _ := o.deps.Catalog.Lookup(st.Intent)
	st.Dialogue = dialogueState{PendingIntent: st.Intent, Missing: meta.RequiredSlots}
	st.Workflow = nil

	names := make([]string, len(meta.RequiredSlots))
	for i, s := range meta.RequiredSlots {
		names[i] = "the " + strings.ReplaceAll(s, "_", " ")
	}
	st.FinalResponse = fmt.Sprintf("I can help with %s, but I need %s. Could you tell me which one?",
		strings.ToLower(meta.Label), strings.Join(names, " or "))
}

// execute runs the tool for the resolved intent and phrases the answer.
func (o *Orchestrator) execute(ctx context.Context, st *State, rec session.Record) {
	st.enter(StateToolExecuting)
	out := o.deps.Tools.Execute(ctx, tools.Request{
		Intent:        st.Intent,
		Slots:         maps.Clone(st.Slots),
		Message:       st.Message,
		Metadata:      st.Metadata,
		DetailContext: rec.DetailContext,
	})
	st.ToolOutput = &out
	st.DetailContext = out.DetailContext
	if out.Error != "" {
		st.Error = out.Error
	}

	if st.Stage != StageWorkflow {
		st.Workflow = o.startWorkflow(st.Intent, st.Slots, out)
	}

	st.enter(StateResponseSynthesizing)
	if out.FormattedResponse != "" {
		st.FinalResponse = out.FormattedResponse
		return
	}
	if o.deps.Generator == nil {
		meta, ok := o.deps.Catalog.Lookup(st.Intent)
		if !ok {
			meta.ID = st.Intent
		}
		st.FinalResponse = composer.Render(meta, out)
		return
	}
	reply, err := o.generate(ctx, st, out)
	if err != nil {
		slog.Warn("response generation failed", "intent", st.Intent, "error", err)
		st.FinalResponse = Apology
		if st.Error == "" {
			st.Error = "generation failed: " + err.Error()
		}
		return
	}
	st.FinalResponse = reply
}

func (o *Orchestrator) startWorkflow(id catalog.IntentID, slots map[string]string, out tools.Output) *workflow.Context {
	if out.Error != "" {
		return nil
	}
	meta, ok := o.deps.Catalog.Lookup(id)
	if !ok || meta.Workflow == "" {
		return nil
	}
	w, ok := o.deps.Workflows.Lookup(meta.Workflow)
	if !ok {
		slog.Warn("intent names an unknown workflow", "intent", id, "workflow", meta.Workflow)
		return nil
	}
	return w.Start(id, slots, out.Options)
}

func (o *Orchestrator) generate(ctx context.Context, st *State, out tools.Output) (string, error) {
	meta, _ := o.deps.Catalog.Lookup(st.Intent)
	msgs, err := o.deps.Composer.Compose(meta, st.Message, out)
	if err != nil {
		return "", fmt.Errorf("composing prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.GenerateTimeout)
	defer cancel()
	reply, err := o.deps.Generator.Query(ctx, msgs, engine.ChatOptions{Temperature: o.opts.Temperature})
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("empty reply")
	}
	return reply, nil
}

func (o *Orchestrator) writeSession(st *State) {
	dialogue, err := json.Marshal(st.Dialogue)
	if err != nil {
		slog.Error("encoding dialogue state", "error", err)
		dialogue = []byte("{}")
	}
	o.deps.Sessions.Write(st.SenderID, session.Update{
		Intent:        st.Intent,
		Slots:         st.Slots,
		DetailContext: st.DetailContext,
		DialogueState: dialogue,
		Workflow:      st.Workflow,
		Fallback:      st.Fallback,
	})
}

func (o *Orchestrator) result(st *State) TurnResult {
	res := TurnResult{
		TurnID:             st.TurnID,
		Response:           st.FinalResponse,
		Intent:             st.Intent,
		Slots:              maps.Clone(st.Slots),
		Confidence:         st.Confidence,
		Stage:              st.Stage,
		WorkflowContext:    st.Workflow.Clone(),
		NeedsClarification: st.NeedsClarification,
		Error:              st.Error,
		Path:               append([]StateName(nil), st.Path...),
	}
	if res.Slots == nil {
		res.Slots = map[string]string{}
	}
	if st.Intent == catalog.Fallback {
		res.Suggestions = fallback.CloneSuggestions(st.Fallback.Suggestions)
		res.FallbackPhase = st.Fallback.Phase
	}
	return res
}

func (o *Orchestrator) notify(st *State) {
	if len(o.deps.Observers) == 0 {
		return
	}
	t := Turn{
		ID:                 st.TurnID,
		SenderID:           st.SenderID,
		CreatedAt:          st.Started,
		Message:            st.Message,
		Intent:             st.Intent,
		Stage:              st.Stage,
		Confidence:         st.Confidence,
		NeedsClarification: st.NeedsClarification,
		Response:           st.FinalResponse,
		Error:              st.Error,
		Path:               append([]StateName(nil), st.Path...),
		Duration:           o.now().Sub(st.Started),
	}
	if st.Intent == catalog.Fallback {
		t.FallbackPhase = st.Fallback.Phase
	}
	for _, ob := range o.deps.Observers {
		ob.ObserveTurn(t)
	}
}

// pick returns the entries of slots whose key is in keys and whose value is set.
func pick(slots map[string]string, keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := slots[k]; v != "" {
			out[k] = v
		}
	}
	return out
}
