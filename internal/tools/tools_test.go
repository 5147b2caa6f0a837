package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/dialogo/internal/catalog"
)

func TestRegistry_UnknownIntent(t *testing.T) {
	r := NewRegistry()
	out := r.Execute(context.Background(), Request{Intent: "plan_status"})
	if !strings.Contains(out.Error, "plan_status") {
		t.Errorf("Error = %q, want it to name the intent", out.Error)
	}
	if r.Has("plan_status") {
		t.Error("Has = true for an unregistered intent")
	}
}

func TestRegistry_DefaultTool(t *testing.T) {
	r := NewRegistry()
	r.SetDefault(ToolFunc(func(_ context.Context, req Request) (Output, error) {
		return Output{FormattedResponse: "default:" + string(req.Intent)}, nil
	}))
	out := r.Execute(context.Background(), Request{Intent: "order_status"})
	if out.FormattedResponse != "default:order_status" {
		t.Errorf("FormattedResponse = %q", out.FormattedResponse)
	}
	if !r.Has("order_status") {
		t.Error("Has = false with a default tool")
	}
}

func TestRegistry_ErrorBecomesOutputError(t *testing.T) {
	r := NewRegistry()
	r.Register("plan_status", ToolFunc(func(context.Context, Request) (Output, error) {
		return Output{}, errors.New("database unavailable")
	}))
	out := r.Execute(context.Background(), Request{Intent: "plan_status"})
	if out.Error != "database unavailable" {
		t.Errorf("Error = %q", out.Error)
	}
}

func TestRegistry_RecoversPanic(t *testing.T) {
	r := NewRegistry()
	r.Register("plan_status", ToolFunc(func(context.Context, Request) (Output, error) {
		panic("nil map")
	}))
	out := r.Execute(context.Background(), Request{Intent: "plan_status"})
	if !strings.Contains(out.Error, "panicked") || !strings.Contains(out.Error, "nil map") {
		t.Errorf("Error = %q", out.Error)
	}
}

func TestBuiltins_Help(t *testing.T) {
	cat := catalog.Default()
	r := NewRegistry()
	RegisterBuiltins(r, cat)

	out := r.Execute(context.Background(), Request{Intent: "help"})
	for _, c := range cat.Categories() {
		if c.ID == catalog.CategoryOther {
			if strings.Contains(out.FormattedResponse, "\n"+c.Label+"\n") {
				t.Errorf("help lists the %q category", c.ID)
			}
			continue
		}
		if !strings.Contains(out.FormattedResponse, c.Label) {
			t.Errorf("help does not mention category %q", c.Label)
		}
	}
}

func TestBuiltins_ConfirmDetails(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, catalog.Default())
	detail := json.RawMessage(`[{"code":"PL-1001"},{"code":"PL-1003"}]`)

	out := r.Execute(context.Background(), Request{Intent: "confirm_show_details", DetailContext: detail})
	items, ok := out.Fields["details"].([]json.RawMessage)
	if !ok || len(items) != 2 {
		t.Fatalf("details = %#v, want both items", out.Fields["details"])
	}

	out = r.Execute(context.Background(), Request{
		Intent:        "confirm_show_details",
		Slots:         map[string]string{"choice": "2"},
		DetailContext: detail,
	})
	items = out.Fields["details"].([]json.RawMessage)
	if len(items) != 1 || !strings.Contains(string(items[0]), "PL-1003") {
		t.Errorf("details = %s, want only PL-1003", items)
	}

	out = r.Execute(context.Background(), Request{
		Intent:        "confirm_show_details",
		Slots:         map[string]string{"choice": "7"},
		DetailContext: detail,
	})
	if !strings.Contains(out.FormattedResponse, "between 1 and 2") {
		t.Errorf("FormattedResponse = %q", out.FormattedResponse)
	}

	out = r.Execute(context.Background(), Request{Intent: "confirm_show_details"})
	if out.FormattedResponse == "" {
		t.Error("expected a verbatim reply without detail context")
	}
}

func TestHTTPTool(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Write([]byte(`{"formatted_response":"PL-1 is on time","fields":{"late":false},"options":[{"id":"a","label":"A"}]}`))
	}))
	defer srv.Close()

	tool := NewHTTPTool(srv.URL, "secret")
	out, err := tool.Execute(context.Background(), Request{
		Intent:   "plan_status",
		Slots:    map[string]string{"plan_code": "PL-1"},
		Metadata: map[string]string{"channel": "http"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Intent != "plan_status" || got.Slots["plan_code"] != "PL-1" || got.Metadata["channel"] != "http" {
		t.Errorf("server received %+v", got)
	}
	if out.FormattedResponse != "PL-1 is on time" || len(out.Options) != 1 {
		t.Errorf("out = %+v", out)
	}
}

func TestHTTPTool_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	r := NewRegistry()
	r.SetDefault(NewHTTPTool(srv.URL, ""))
	out := r.Execute(context.Background(), Request{Intent: "plan_status"})
	if !strings.Contains(out.Error, "502") {
		t.Errorf("Error = %q, want the status code", out.Error)
	}
}

func TestDemo_CoversCatalog(t *testing.T) {
	cat := catalog.Default()
	r := NewRegistry()
	RegisterBuiltins(r, cat)
	NewDemo().Register(r)

	for _, m := range cat.Intents() {
		if !r.Has(m.ID) {
			t.Errorf("no tool for catalog intent %q", m.ID)
		}
	}
	for _, id := range NewDemo().Intents() {
		if !cat.Has(id) {
			t.Errorf("demo serves %q which is not in the catalog", id)
		}
	}
}

func TestDemo_DelayedPlansLeaveDetails(t *testing.T) {
	r := NewRegistry()
	NewDemo().Register(r)

	out := r.Execute(context.Background(), Request{Intent: "show_delayed_plans", Slots: map[string]string{}})
	if out.Error != "" {
		t.Fatalf("Error = %q", out.Error)
	}
	if !strings.Contains(out.FormattedResponse, "PL-1001") || !strings.Contains(out.FormattedResponse, "PL-1003") {
		t.Errorf("FormattedResponse = %q", out.FormattedResponse)
	}
	var plans []Plan
	if err := json.Unmarshal(out.DetailContext, &plans); err != nil || len(plans) != 2 {
		t.Errorf("DetailContext = %s (%v)", out.DetailContext, err)
	}
}

func TestDemo_RecoveryStrategies(t *testing.T) {
	r := NewRegistry()
	NewDemo().Register(r)

	out := r.Execute(context.Background(), Request{Intent: "suggest_recovery_strategy", Slots: map[string]string{"plan_code": "PL-1001"}})
	if len(out.Options) != 3 {
		t.Fatalf("got %d options, want 3", len(out.Options))
	}

	out = r.Execute(context.Background(), Request{
		Intent: "apply_recovery_strategy",
		Slots:  map[string]string{"plan_code": "PL-1001", "choice": out.Options[1].ID},
	})
	if !strings.Contains(out.FormattedResponse, "PL-1001") {
		t.Errorf("FormattedResponse = %q", out.FormattedResponse)
	}

	out = r.Execute(context.Background(), Request{Intent: "plan_status", Slots: map[string]string{"plan_code": "PL-9999"}})
	if out.Error == "" {
		t.Error("expected an error for an unknown plan")
	}
}
