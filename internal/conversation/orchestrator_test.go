package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/engine"
	"github.com/kalambet/dialogo/internal/fallback"
	"github.com/kalambet/dialogo/internal/intent"
	"github.com/kalambet/dialogo/internal/session"
	"github.com/kalambet/dialogo/internal/tools"
	"github.com/kalambet/dialogo/internal/workflow"
)

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedQuerier answers by the user message of the request.
type scriptedQuerier struct {
	mu      sync.Mutex
	replies map[string]string
	def     string
	err     error
	calls   int
	last    []engine.Message
}

func (q *scriptedQuerier) Query(_ context.Context, msgs []engine.Message, _ engine.ChatOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	q.last = msgs
	if q.err != nil {
		return "", q.err
	}
	if r, ok := q.replies[msgs[len(msgs)-1].Content]; ok {
		return r, nil
	}
	return q.def, nil
}

func (q *scriptedQuerier) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func (q *scriptedQuerier) lastSystem() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.last) == 0 {
		return ""
	}
	return q.last[0].Content
}

type harness struct {
	orch       *Orchestrator
	store      *session.Store
	clock      *mockClock
	classifier *scriptedQuerier
	generator  *scriptedQuerier
	registry   *tools.Registry

	mu    sync.Mutex
	turns []Turn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat := catalog.Default()
	h := &harness{
		clock:      &mockClock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)},
		classifier: &scriptedQuerier{replies: map[string]string{}, def: `{"intent":"fallback","confidence":0.2}`},
		generator:  &scriptedQuerier{def: "generated answer"},
		registry:   tools.NewRegistry(),
	}
	h.store = session.NewWithClock(5*time.Minute, 0, h.clock)

	router, err := intent.New(cat, h.classifier, intent.Options{})
	if err != nil {
		t.Fatalf("intent.New: %v", err)
	}
	tools.RegisterBuiltins(h.registry, cat)
	tools.NewDemo().Register(h.registry)

	h.orch = New(Deps{
		Catalog:   cat,
		Sessions:  h.store,
		Router:    router,
		Fallback:  fallback.New(cat, nil, fallback.DefaultOptions()),
		Workflows: workflow.Defaults(cat),
		Tools:     h.registry,
		Generator: h.generator,
		Observers: []Observer{ObserverFunc(h.observe)},
	}, Options{})
	return h
}

func (h *harness) observe(t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, t)
}

func (h *harness) reply(message, classifierJSON string) {
	h.classifier.mu.Lock()
	defer h.classifier.mu.Unlock()
	h.classifier.replies[message] = classifierJSON
}

func (h *harness) turn(message string) TurnResult {
	return h.orch.RunTurn(context.Background(), TurnRequest{SenderID: "u1", Message: message})
}

func hasState(path []StateName, s StateName) bool {
	return slices.Contains(path, s)
}

func TestRunTurn_GreetingWithoutClassifier(t *testing.T) {
	h := newHarness(t)

	res := h.turn("ciao")
	if res.Intent != "greet" {
		t.Fatalf("Intent = %q, want greet", res.Intent)
	}
	if h.classifier.callCount() != 0 {
		t.Errorf("classifier called %d times, want 0", h.classifier.callCount())
	}
	if h.generator.callCount() != 0 {
		t.Errorf("generator called %d times, want 0 for a formatted tool response", h.generator.callCount())
	}
	if !strings.HasPrefix(res.Response, "Hello!") {
		t.Errorf("Response = %q", res.Response)
	}
	want := []StateName{StateStart, StateClassifying, StateResolved, StateToolExecuting, StateResponseSynthesizing, StateTerminal}
	if !slices.Equal(res.Path, want) {
		t.Errorf("Path = %v, want %v", res.Path, want)
	}
	if res.TurnID == "" {
		t.Error("TurnID is empty")
	}
}

func TestRunTurn_TopicChangeDropsDetails(t *testing.T) {
	h := newHarness(t)
	h.reply("quali piani sono in ritardo?", `{"intent":"show_delayed_plans","confidence":0.9}`)
	h.reply("stato del piano PL-1001", `{"intent":"plan_status","slots":{"plan_code":"PL-1001"},"confidence":0.9}`)

	res := h.turn("quali piani sono in ritardo?")
	if res.Intent != "show_delayed_plans" {
		t.Fatalf("Intent = %q", res.Intent)
	}
	if !h.store.Read("u1").HasDetailContext() {
		t.Fatal("delayed plan list did not leave details")
	}

	res = h.turn("stato del piano PL-1001")
	if res.Intent != "plan_status" || res.Slots["plan_code"] != "PL-1001" {
		t.Fatalf("got %q %v", res.Intent, res.Slots)
	}
	if res.Response != "generated answer" {
		t.Errorf("Response = %q, want the generated answer", res.Response)
	}
	if h.store.Read("u1").HasDetailContext() {
		t.Error("detail context survived a topic change")
	}
}

func TestRunTurn_ConfirmShowsDetails(t *testing.T) {
	h := newHarness(t)
	h.reply("quali piani sono in ritardo?", `{"intent":"show_delayed_plans","confidence":0.9}`)
	h.turn("quali piani sono in ritardo?")
	calls := h.classifier.callCount()

	res := h.turn("sì")
	if res.Intent != "confirm_show_details" {
		t.Fatalf("Intent = %q, want confirm_show_details", res.Intent)
	}
	if h.classifier.callCount() != calls {
		t.Error("confirmation reached the classifier")
	}
	if !strings.Contains(h.generator.lastSystem(), "PL-1003") {
		t.Error("generator prompt does not carry the stored details")
	}
	if !h.store.Read("u1").HasDetailContext() {
		t.Error("continuation intent dropped the detail context")
	}
}

func TestRunTurn_ExpiredSessionHidesDetails(t *testing.T) {
	h := newHarness(t)
	h.reply("quali piani sono in ritardo?", `{"intent":"show_delayed_plans","confidence":0.9}`)
	h.turn("quali piani sono in ritardo?")
	calls := h.classifier.callCount()

	h.clock.Advance(5*time.Minute + time.Second)
	res := h.turn("sì")
	if res.Intent == "confirm_show_details" {
		t.Error("confirmation resolved against an expired session")
	}
	if h.classifier.callCount() != calls+1 {
		t.Errorf("classifier calls = %d, want %d", h.classifier.callCount(), calls+1)
	}
}

func TestRunTurn_UnknownIntentShowsMenu(t *testing.T) {
	h := newHarness(t)
	h.reply("prenota un volo sul ritardo", `{"intent":"bogus"}`)

	res := h.turn("prenota un volo sul ritardo")
	if res.Intent != catalog.Fallback {
		t.Fatalf("Intent = %q, want fallback", res.Intent)
	}
	if res.Error == "" {
		t.Error("Error is empty for an unknown classifier intent")
	}
	if len(res.Suggestions) == 0 {
		t.Fatal("no suggestions")
	}
	if !strings.Contains(res.Response, "1. ") {
		t.Errorf("Response is not a numbered menu: %q", res.Response)
	}
	if !hasState(res.Path, StateAwaitingFallbackSelection) || hasState(res.Path, StateToolExecuting) {
		t.Errorf("Path = %v", res.Path)
	}
	rec := h.store.Read("u1")
	if !rec.Fallback.Pending() || rec.Fallback.Count != 1 {
		t.Errorf("fallback state = %+v", rec.Fallback)
	}
	if rec.Fallback.OriginalMessage != "prenota un volo sul ritardo" {
		t.Errorf("OriginalMessage = %q", rec.Fallback.OriginalMessage)
	}
}

func TestRunTurn_MissingSlotAsksForClarification(t *testing.T) {
	h := newHarness(t)
	h.reply("a che punto è il piano?", `{"intent":"plan_status","slots":{},"needs_clarification":false,"confidence":0.9}`)

	res := h.turn("a che punto è il piano?")
	if res.Intent != "plan_status" || !res.NeedsClarification {
		t.Fatalf("got %q needs_clarification=%v", res.Intent, res.NeedsClarification)
	}
	if hasState(res.Path, StateToolExecuting) || !hasState(res.Path, StateClarifying) {
		t.Errorf("Path = %v", res.Path)
	}
	if !strings.Contains(res.Response, "the plan code") {
		t.Errorf("Response = %q", res.Response)
	}

	calls := h.classifier.callCount()
	res = h.turn("PL-1001")
	if res.Intent != "plan_status" || res.Stage != StageClarification {
		t.Fatalf("got %q via %q, want plan_status via clarification", res.Intent, res.Stage)
	}
	if res.Slots["plan_code"] != "PL-1001" {
		t.Errorf("plan_code = %q", res.Slots["plan_code"])
	}
	if h.classifier.callCount() != calls {
		t.Error("clarification answer reached the classifier")
	}
	if !hasState(res.Path, StateToolExecuting) {
		t.Errorf("Path = %v", res.Path)
	}
}

func TestRunTurn_LoopPreventionReachesCategoryMenu(t *testing.T) {
	h := newHarness(t)
	const msg = "boh qualcosa sul ritardo"

	var phases []int
	for range 4 {
		res := h.turn(msg)
		if res.Intent != catalog.Fallback {
			t.Fatalf("Intent = %q, want fallback", res.Intent)
		}
		phases = append(phases, res.FallbackPhase)
	}
	if phases[0] != fallback.PhaseKeyword {
		t.Errorf("first phase = %d, want keyword phase", phases[0])
	}
	for i := 1; i < len(phases); i++ {
		if phases[i] < phases[i-1] {
			t.Errorf("phase decreased: %v", phases)
		}
	}
	if phases[3] != fallback.PhaseMenu {
		t.Errorf("phase after 4 unresolved turns = %d, want %d (phases %v)", phases[3], fallback.PhaseMenu, phases)
	}
	if got := h.store.Read("u1").Fallback.Count; got != 4 {
		t.Errorf("Count = %d, want 4", got)
	}

	h.turn("ciao")
	if rec := h.store.Read("u1"); rec.Fallback.Count != 0 || rec.Fallback.Pending() {
		t.Errorf("fallback state not reset after resolution: %+v", rec.Fallback)
	}
}

func TestRunTurn_SelectIntentFromMenu(t *testing.T) {
	h := newHarness(t)
	res := h.turn("boh qualcosa sul ritardo")
	if len(res.Suggestions) < 2 || res.Suggestions[0].IntentID != "show_delayed_plans" {
		t.Fatalf("Suggestions = %+v", res.Suggestions)
	}
	calls := h.classifier.callCount()

	res = h.turn("1")
	if res.Intent != "show_delayed_plans" || res.Stage != StageSelection {
		t.Fatalf("got %q via %q", res.Intent, res.Stage)
	}
	if !strings.Contains(res.Response, "behind schedule") {
		t.Errorf("Response = %q", res.Response)
	}
	if h.classifier.callCount() != calls {
		t.Error("selection reached the classifier")
	}
	if h.store.Read("u1").Fallback.Pending() {
		t.Error("suggestions still pending after a selection")
	}
}

func TestRunTurn_SelectCategoryNarrowsMenu(t *testing.T) {
	h := newHarness(t)
	res := h.turn("boh qualcosa sul ritardo")
	if len(res.Suggestions) != 2 || res.Suggestions[1].Kind != fallback.KindCategory {
		t.Fatalf("Suggestions = %+v", res.Suggestions)
	}

	res = h.turn("2")
	if res.Intent != catalog.Fallback || res.FallbackPhase != fallback.PhaseMenu {
		t.Fatalf("got %q phase %d", res.Intent, res.FallbackPhase)
	}
	if !strings.HasPrefix(res.Response, "Here is what I can do in Production plans:") {
		t.Errorf("Response = %q", res.Response)
	}
	for _, s := range res.Suggestions {
		if s.Kind != fallback.KindIntent || s.CategoryID != "plans" {
			t.Errorf("unexpected suggestion %+v", s)
		}
	}
	if rec := h.store.Read("u1"); rec.Fallback.SelectedCategory != "plans" || rec.Fallback.Count != 1 {
		t.Errorf("fallback state = %+v", rec.Fallback)
	}

	// The original question had no plan code, so the pick needs one.
	res = h.turn("plan status")
	if res.Intent != "plan_status" || !res.NeedsClarification {
		t.Errorf("got %q needs_clarification=%v", res.Intent, res.NeedsClarification)
	}
}

func TestRunTurn_OutOfRangeSelectionReclassifies(t *testing.T) {
	h := newHarness(t)
	h.turn("boh qualcosa sul ritardo")
	calls := h.classifier.callCount()

	res := h.turn("99")
	if res.Intent != catalog.Fallback {
		t.Fatalf("Intent = %q", res.Intent)
	}
	if res.Stage == StageSelection {
		t.Error("out-of-range number resolved as a selection")
	}
	if h.classifier.callCount() != calls+1 {
		t.Errorf("classifier calls = %d, want %d", h.classifier.callCount(), calls+1)
	}
	if got := h.store.Read("u1").Fallback.Count; got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
}

func TestRunTurn_ChoiceWorkflow(t *testing.T) {
	h := newHarness(t)
	h.reply("come recupero il PL-1001?", `{"intent":"suggest_recovery_strategy","slots":{"plan_code":"PL-1001"},"confidence":0.9}`)

	res := h.turn("come recupero il PL-1001?")
	if res.WorkflowContext == nil || res.WorkflowContext.Name != workflow.ChoiceName {
		t.Fatalf("WorkflowContext = %+v, want a choice workflow", res.WorkflowContext)
	}
	if len(res.WorkflowContext.Options) != 3 {
		t.Fatalf("got %d options, want 3", len(res.WorkflowContext.Options))
	}
	calls := h.classifier.callCount()

	res = h.turn("2")
	if res.Intent != "apply_recovery_strategy" || res.Stage != StageWorkflow {
		t.Fatalf("got %q via %q", res.Intent, res.Stage)
	}
	if res.Slots["choice"] != "split_batch" || res.Slots["plan_code"] != "PL-1001" {
		t.Errorf("Slots = %v", res.Slots)
	}
	if !strings.Contains(res.Response, "PL-1001") {
		t.Errorf("Response = %q", res.Response)
	}
	if !hasState(res.Path, StateAwaitingWorkflowStep) {
		t.Errorf("Path = %v", res.Path)
	}
	if res.WorkflowContext != nil || h.store.Read("u1").Workflow != nil {
		t.Error("workflow still active after the choice")
	}
	if h.classifier.callCount() != calls {
		t.Error("workflow step reached the classifier")
	}
}

func TestRunTurn_CallerSuppliedWorkflowContext(t *testing.T) {
	h := newHarness(t)
	wc := &workflow.Context{
		Name:    workflow.ChoiceName,
		Intent:  "suggest_recovery_strategy",
		Step:    1,
		Options: tools.NewDemo().Strategies,
		Anchor:  map[string]string{"plan_code": "PL-1003"},
	}

	res := h.orch.RunTurn(context.Background(), TurnRequest{SenderID: "u2", Message: "the first one", WorkflowContext: wc})
	if res.Intent != "apply_recovery_strategy" || res.Slots["choice"] != "overtime" {
		t.Fatalf("got %q %v", res.Intent, res.Slots)
	}
	if !strings.Contains(res.Response, "PL-1003") {
		t.Errorf("Response = %q", res.Response)
	}
}

func TestRunTurn_FilterWorkflow(t *testing.T) {
	h := newHarness(t)
	h.reply("filtra i piani in ritardo", `{"intent":"filter_plans","slots":{"status":"delayed"},"confidence":0.9}`)

	res := h.turn("filtra i piani in ritardo")
	if res.WorkflowContext == nil || res.WorkflowContext.Filters["status"] != "delayed" {
		t.Fatalf("WorkflowContext = %+v", res.WorkflowContext)
	}

	res = h.turn("reparto MI01")
	if res.Intent != "filter_plans" || res.Stage != StageWorkflow {
		t.Fatalf("got %q via %q", res.Intent, res.Stage)
	}
	if !strings.Contains(res.Response, "PL-1001") || strings.Contains(res.Response, "PL-1003") {
		t.Errorf("Response = %q, want only PL-1001", res.Response)
	}
	if res.WorkflowContext == nil || res.WorkflowContext.Filters["org_unit"] != "MI01" || res.WorkflowContext.Step != 2 {
		t.Errorf("WorkflowContext = %+v", res.WorkflowContext)
	}

	res = h.turn("fatto")
	if !strings.HasPrefix(res.Response, "Filtering finished.") {
		t.Errorf("Response = %q", res.Response)
	}
	if res.Intent != "filter_plans" || res.WorkflowContext != nil {
		t.Errorf("got %q with workflow %+v", res.Intent, res.WorkflowContext)
	}
	if h.classifier.callCount() != 1 {
		t.Errorf("classifier called %d times, want 1", h.classifier.callCount())
	}
}

func TestRunTurn_FilterWorkflowYieldsToOtherIntent(t *testing.T) {
	h := newHarness(t)
	h.reply("filtra i piani in ritardo", `{"intent":"filter_plans","slots":{"status":"delayed"},"confidence":0.9}`)
	h.reply("show open orders", `{"intent":"list_open_orders","slots":{"status":"open"},"confidence":0.9}`)

	if res := h.turn("filtra i piani in ritardo"); res.WorkflowContext == nil {
		t.Fatal("filter workflow not started")
	}

	res := h.turn("show open orders")
	if res.Intent != "list_open_orders" {
		t.Fatalf("Intent = %q via %q, want list_open_orders", res.Intent, res.Stage)
	}
	if res.Stage == StageWorkflow {
		t.Error("orders request handled as a workflow step")
	}
	if h.classifier.callCount() != 2 {
		t.Errorf("classifier called %d times, want 2", h.classifier.callCount())
	}
}

func TestRunTurn_ToolErrorIsExplained(t *testing.T) {
	h := newHarness(t)
	h.reply("stato del piano PL-9999", `{"intent":"plan_status","slots":{"plan_code":"PL-9999"},"confidence":0.9}`)

	res := h.turn("stato del piano PL-9999")
	if res.Error != "plan PL-9999 not found" {
		t.Errorf("Error = %q", res.Error)
	}
	if res.Response != "generated answer" {
		t.Errorf("Response = %q", res.Response)
	}
	if !strings.Contains(h.generator.lastSystem(), "plan PL-9999 not found") {
		t.Error("generator prompt does not carry the tool error")
	}
}

func TestRunTurn_GenerationFailureApologizes(t *testing.T) {
	h := newHarness(t)
	h.generator.err = errors.New("model offline")
	h.reply("stato del piano PL-1001", `{"intent":"plan_status","slots":{"plan_code":"PL-1001"},"confidence":0.9}`)

	res := h.turn("stato del piano PL-1001")
	if res.Response != Apology {
		t.Errorf("Response = %q, want the apology", res.Response)
	}
	if !strings.Contains(res.Error, "model offline") {
		t.Errorf("Error = %q", res.Error)
	}
	if res.Path[len(res.Path)-1] != StateTerminal {
		t.Errorf("Path = %v", res.Path)
	}
	if h.store.Read("u1").LastIntent != "plan_status" {
		t.Error("session not written after a generation failure")
	}
}

func TestRunTurn_ToolPanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.registry.Register("plan_status", tools.ToolFunc(func(context.Context, tools.Request) (tools.Output, error) {
		panic("index out of range")
	}))
	h.reply("stato del piano PL-1001", `{"intent":"plan_status","slots":{"plan_code":"PL-1001"},"confidence":0.9}`)

	res := h.turn("stato del piano PL-1001")
	if !strings.Contains(res.Error, "panicked") {
		t.Errorf("Error = %q", res.Error)
	}
	if res.Response == "" {
		t.Error("empty response")
	}
}

type panickingRouter struct{}

func (panickingRouter) ClassifyStage(context.Context, string, intent.Hints) (intent.Result, intent.Stage) {
	panic("router bug")
}

func (panickingRouter) ExtractSlots(string) map[string]string { return map[string]string{} }

func TestRunTurn_RecoversFromPanic(t *testing.T) {
	cat := catalog.Default()
	var seen []Turn
	o := New(Deps{
		Catalog:   cat,
		Sessions:  session.New(0, 0),
		Router:    panickingRouter{},
		Fallback:  fallback.New(cat, nil, fallback.DefaultOptions()),
		Workflows: workflow.Defaults(cat),
		Tools:     tools.NewRegistry(),
		Observers: []Observer{ObserverFunc(func(t Turn) { seen = append(seen, t) })},
	}, Options{})

	res := o.RunTurn(context.Background(), TurnRequest{SenderID: "u1", Message: "anything"})
	if res.Response != Apology {
		t.Errorf("Response = %q", res.Response)
	}
	if !strings.Contains(res.Error, "router bug") {
		t.Errorf("Error = %q", res.Error)
	}
	if len(seen) != 1 {
		t.Errorf("observers notified %d times, want 1", len(seen))
	}
}

func TestRunTurn_ObserversSeeEveryTurn(t *testing.T) {
	h := newHarness(t)
	h.turn("ciao")
	h.turn("boh qualcosa sul ritardo")

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.turns) != 2 {
		t.Fatalf("observed %d turns, want 2", len(h.turns))
	}
	if h.turns[0].Outcome() != "resolved" || h.turns[1].Outcome() != "fallback" {
		t.Errorf("outcomes = %q, %q", h.turns[0].Outcome(), h.turns[1].Outcome())
	}
	if h.turns[1].FallbackPhase != fallback.PhaseKeyword {
		t.Errorf("FallbackPhase = %d", h.turns[1].FallbackPhase)
	}
	for _, tr := range h.turns {
		if tr.Path[len(tr.Path)-1] != StateTerminal || tr.SenderID != "u1" || tr.ID == "" {
			t.Errorf("turn = %+v", tr)
		}
	}
}

func TestRunTurn_ConcurrentSenders(t *testing.T) {
	h := newHarness(t)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := h.orch.RunTurn(context.Background(), TurnRequest{SenderID: fmt.Sprintf("s%d", i), Message: "ciao"})
			if res.Intent != "greet" {
				t.Errorf("sender %d: Intent = %q", i, res.Intent)
			}
		}()
	}
	wg.Wait()
	if h.store.Len() != 20 {
		t.Errorf("Len = %d, want 20", h.store.Len())
	}
}

func TestRunTurn_WithoutGeneratorRendersToolData(t *testing.T) {
	h := newHarness(t)
	h.orch.deps.Generator = nil
	h.reply("stato del piano PL-1001", `{"intent":"plan_status","slots":{"plan_code":"PL-1001"},"confidence":0.9}`)

	res := h.turn("stato del piano PL-1001")
	if res.Response == Apology {
		t.Fatalf("Response is the apology, Error = %q", res.Error)
	}
	if res.Error != "" {
		t.Errorf("Error = %q, want none", res.Error)
	}
	if !strings.Contains(res.Response, "code: PL-1001") {
		t.Errorf("Response does not carry the plan: %q", res.Response)
	}
	if h.generator.callCount() != 0 {
		t.Error("generator should not be called")
	}
}

func TestRunTurn_WithoutGeneratorReportsToolError(t *testing.T) {
	h := newHarness(t)
	h.orch.deps.Generator = nil
	h.reply("stato del piano PL-9999", `{"intent":"plan_status","slots":{"plan_code":"PL-9999"},"confidence":0.9}`)

	res := h.turn("stato del piano PL-9999")
	if res.Error != "plan PL-9999 not found" {
		t.Errorf("Error = %q", res.Error)
	}
	if !strings.Contains(res.Response, "plan PL-9999 not found") {
		t.Errorf("Response = %q", res.Response)
	}
}

func TestRunTurn_PreviousIntentHint(t *testing.T) {
	h := newHarness(t)
	h.reply("stato del piano PL-1001", `{"intent":"plan_status","slots":{"plan_code":"PL-1001"},"confidence":0.9}`)
	h.turn("stato del piano PL-1001")

	h.turn("e il materiale?")
	if !strings.Contains(h.classifier.lastSystem(), "previous intent: plan_status") {
		t.Error("live session should pass the previous intent to the classifier")
	}
}

func TestRunTurn_ExpiredSessionHasNoPreviousIntent(t *testing.T) {
	h := newHarness(t)
	h.reply("stato del piano PL-1001", `{"intent":"plan_status","slots":{"plan_code":"PL-1001"},"confidence":0.9}`)
	h.turn("stato del piano PL-1001")

	h.clock.Advance(6 * time.Minute)
	h.turn("e il materiale?")
	if strings.Contains(h.classifier.lastSystem(), "previous intent") {
		t.Errorf("expired session leaked the previous intent:\n%s", h.classifier.lastSystem())
	}
}
