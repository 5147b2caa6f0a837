package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/conversation"
	"github.com/kalambet/dialogo/internal/session"
	"github.com/kalambet/dialogo/internal/storage"
	"github.com/kalambet/dialogo/internal/workflow"
)

const testToken = "test-token-12345"

type mockRunner struct {
	mu   sync.Mutex
	reqs []conversation.TurnRequest
	res  conversation.TurnResult
}

func (m *mockRunner) RunTurn(_ context.Context, req conversation.TurnRequest) conversation.TurnResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	res := m.res
	res.Intent = catalog.IntentID(strings.ToLower(req.Message))
	return res
}

func (m *mockRunner) last(t *testing.T) conversation.TurnRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reqs) == 0 {
		t.Fatal("RunTurn was not called")
	}
	return m.reqs[len(m.reqs)-1]
}

type testApp struct {
	handler  http.Handler
	runner   *mockRunner
	sessions *session.Store
	store    *storage.Store
}

func setupAppHandler(t *testing.T, token string) testApp {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	app := testApp{
		runner:   &mockRunner{res: conversation.TurnResult{TurnID: "t-1", Response: "Hello!"}},
		sessions: session.New(time.Hour, 0),
		store:    store,
	}
	app.handler = NewAppHandler(AppDeps{
		Turns:    app.runner,
		Sessions: app.sessions,
		Audit:    store,
		Catalog:  catalog.Default(),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "dialogo_turns_total 0\n")
		}),
		Token: token,
	})
	return app
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(app testApp, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, req)
	return rr
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decoding error envelope: %v", err)
	}
	return env.Error.Type
}

func TestHealth_NoAuth(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := serve(app, authReq(http.MethodGet, "/health", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestMetrics_NoAuth(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := serve(app, authReq(http.MethodGet, "/metrics", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), "dialogo_turns_total") {
		t.Errorf("metrics handler not mounted: %s", rr.Body.String())
	}
}

func TestNewAppHandler_OptionalRoutes(t *testing.T) {
	h := NewAppHandler(AppDeps{
		Turns:    &mockRunner{},
		Sessions: session.New(time.Hour, 0),
		Catalog:  catalog.Default(),
	})

	for _, path := range []string{"/metrics", "/v1/turns", "/v1/turns/t-1"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusNotFound {
			t.Errorf("GET %s: status = %d, want %d", path, rr.Code, http.StatusNotFound)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/catalog", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("GET /v1/catalog without token: status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRunTurn(t *testing.T) {
	app := setupAppHandler(t, testToken)

	body := `{"sender_id":"u1","message":"greet","metadata":{"channel":"web"}}`
	rr := serve(app, authReq(http.MethodPost, "/v1/turns", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var res conversation.TurnResult
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if res.TurnID != "t-1" || res.Response != "Hello!" || res.Intent != "greet" {
		t.Errorf("result = %+v", res)
	}

	got := app.runner.last(t)
	if got.SenderID != "u1" || got.Message != "greet" || got.Metadata["channel"] != "web" {
		t.Errorf("request = %+v", got)
	}
	if got.WorkflowContext != nil {
		t.Errorf("WorkflowContext = %+v, want nil", got.WorkflowContext)
	}
}

func TestRunTurn_WorkflowContext(t *testing.T) {
	app := setupAppHandler(t, testToken)

	body := `{"sender_id":"u1","message":"2","workflow_context":{"name":"choice","intent":"suggest_recovery","step":1,"options":[{"id":"overtime","label":"Overtime"}]}}`
	rr := serve(app, authReq(http.MethodPost, "/v1/turns", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	wc := app.runner.last(t).WorkflowContext
	if wc == nil || wc.Name != workflow.ChoiceName || wc.Step != 1 || len(wc.Options) != 1 {
		t.Errorf("WorkflowContext = %+v", wc)
	}
}

func TestRunTurn_UnknownWorkflowKey(t *testing.T) {
	app := setupAppHandler(t, testToken)

	body := `{"sender_id":"u1","message":"2","workflow_context":{"name":"choice","bogus":true}}`
	rr := serve(app, authReq(http.MethodPost, "/v1/turns", body, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if typ := errorType(t, rr); typ != "invalid_request_error" {
		t.Errorf("error type = %q", typ)
	}
}

func TestRunTurn_MissingSender(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := serve(app, authReq(http.MethodPost, "/v1/turns", `{"message":"hi"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestRunTurn_InvalidBody(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := serve(app, authReq(http.MethodPost, "/v1/turns", `{not json`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestRunTurn_NoAuth(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := serve(app, authReq(http.MethodPost, "/v1/turns", `{"sender_id":"u1","message":"hi"}`, ""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if typ := errorType(t, rr); typ != "authentication_error" {
		t.Errorf("error type = %q", typ)
	}
}

func TestRunTurn_WrongToken(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := serve(app, authReq(http.MethodPost, "/v1/turns", `{"sender_id":"u1","message":"hi"}`, "nope"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthDisabled_EmptyToken(t *testing.T) {
	app := setupAppHandler(t, "")

	rr := serve(app, authReq(http.MethodPost, "/v1/turns", `{"sender_id":"u1","message":"hi"}`, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestSessions_GetAndResetWorkflow(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := serve(app, authReq(http.MethodGet, "/v1/sessions/u1", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing session status = %d, want %d", rr.Code, http.StatusNotFound)
	}

	app.sessions.Write("u1", session.Update{
		Intent:   "suggest_recovery",
		Slots:    map[string]string{"plan_code": "PL-1001"},
		Workflow: &workflow.Context{Name: workflow.ChoiceName, Intent: "suggest_recovery", Step: 1},
	})

	rr = serve(app, authReq(http.MethodGet, "/v1/sessions/u1", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var rec session.Record
	if err := json.NewDecoder(rr.Body).Decode(&rec); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if rec.LastIntent != "suggest_recovery" || rec.Workflow == nil || rec.LastSlots["plan_code"] != "PL-1001" {
		t.Errorf("session = %+v", rec)
	}

	rr = serve(app, authReq(http.MethodDelete, "/v1/sessions/u1/workflow", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rr.Code)
	}
	if got := app.sessions.Read("u1"); got.Workflow != nil || got.LastIntent != "suggest_recovery" {
		t.Errorf("after reset: workflow = %+v, intent = %q", got.Workflow, got.LastIntent)
	}

	rr = serve(app, authReq(http.MethodDelete, "/v1/sessions/u1", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if app.sessions.Len() != 0 {
		t.Errorf("Len = %d after delete, want 0", app.sessions.Len())
	}
}

func TestTurns_ListAndGet(t *testing.T) {
	app := setupAppHandler(t, testToken)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, tr := range []storage.Turn{
		{ID: "a", SenderID: "u1", Intent: "greet", Message: "ciao"},
		{ID: "b", SenderID: "u1", Intent: "fallback", Message: "boh"},
		{ID: "c", SenderID: "u2", Intent: "greet", Message: "hello"},
	} {
		tr.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := app.store.SaveTurn(tr); err != nil {
			t.Fatalf("SaveTurn: %v", err)
		}
	}

	rr := serve(app, authReq(http.MethodGet, "/v1/turns?sender=u1", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var turns []storage.Turn
	if err := json.NewDecoder(rr.Body).Decode(&turns); err != nil {
		t.Fatalf("decoding turns: %v", err)
	}
	if len(turns) != 2 || turns[0].ID != "b" {
		t.Errorf("turns = %+v, want [b a]", turns)
	}

	rr = serve(app, authReq(http.MethodGet, "/v1/turns?intent=greet&limit=1", "", testToken))
	turns = nil
	json.NewDecoder(rr.Body).Decode(&turns)
	if len(turns) != 1 || turns[0].ID != "c" {
		t.Errorf("filtered turns = %+v, want [c]", turns)
	}

	rr = serve(app, authReq(http.MethodGet, "/v1/turns/a", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	var one storage.Turn
	json.NewDecoder(rr.Body).Decode(&one)
	if one.Message != "ciao" {
		t.Errorf("turn = %+v", one)
	}

	rr = serve(app, authReq(http.MethodGet, "/v1/turns/zzz", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing turn status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestTurns_EmptyListIsArray(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := serve(app, authReq(http.MethodGet, "/v1/turns", "", testToken))
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestCatalog(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := serve(app, authReq(http.MethodGet, "/v1/catalog", "", testToken))
	var view CatalogView
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatalf("decoding catalog: %v", err)
	}
	if len(view.Categories) == 0 || len(view.Intents) == 0 {
		t.Errorf("catalog view empty: %+v", view)
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=-1", 20},
		{"limit=abc", 20},
		{"limit=5000", 200},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/v1/turns?"+tt.query, nil)
		if got := parseIntParam(r, "limit", 20, 200); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
