// Package api exposes the orchestrator over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/conversation"
	"github.com/kalambet/dialogo/internal/session"
	"github.com/kalambet/dialogo/internal/storage"
	"github.com/kalambet/dialogo/internal/workflow"
)

const maxRequestBodySize = 1 << 20 // 1MB

// TurnRunner runs one dialogue turn.
type TurnRunner interface {
	RunTurn(ctx context.Context, req conversation.TurnRequest) conversation.TurnResult
}

// TurnReader reads the turn audit log.
type TurnReader interface {
	GetTurn(id string) (storage.Turn, error)
	ListTurns(f storage.TurnFilter) ([]storage.Turn, error)
}

// AppDeps holds the collaborators of the HTTP API. Turns, Sessions and
// Catalog are required; Audit and Metrics switch their endpoints on when
// set. An empty Token disables bearer authentication.
type AppDeps struct {
	Turns    TurnRunner
	Sessions *session.Store
	Audit    TurnReader // optional; nil disables the /v1/turns read endpoints
	Catalog  *catalog.Catalog
	Metrics  http.Handler // optional; served unauthenticated at /metrics
	Token    string
}

// TurnRequest is the wire form of a turn. The workflow context is decoded
// strictly so that unknown keys are rejected.
type TurnRequest struct {
	SenderID        string            `json:"sender_id"`
	Message         string            `json:"message"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	WorkflowContext json.RawMessage   `json:"workflow_context,omitempty"`
}

// NewAppHandler returns the chi router for the dialogue API.
//
// /health and /metrics are served without authentication. Every /v1 route
// requires the bearer token: POST /v1/turns runs a turn, GET /v1/catalog
// lists intents, /v1/sessions/{sender} reads or forgets a session and
// DELETE /v1/sessions/{sender}/workflow drops the active workflow. The
// /v1/turns read endpoints exist only when deps.Audit is set.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/turns", handleRunTurn(deps))
		r.Get("/v1/catalog", handleCatalog(deps))
		r.Get("/v1/sessions/{sender}", handleGetSession(deps))
		r.Delete("/v1/sessions/{sender}", handleDeleteSession(deps))
		r.Delete("/v1/sessions/{sender}/workflow", handleResetWorkflow(deps))
		if deps.Audit != nil {
			r.Get("/v1/turns", handleListTurns(deps))
			r.Get("/v1/turns/{id}", handleGetTurn(deps))
		}
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleRunTurn(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req TurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		turn, err := req.toTurn()
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		writeJSON(w, deps.Turns.RunTurn(r.Context(), turn))
	}
}

func (req TurnRequest) toTurn() (conversation.TurnRequest, error) {
	sender := strings.TrimSpace(req.SenderID)
	if sender == "" {
		return conversation.TurnRequest{}, errors.New("sender_id is required")
	}
	wc, err := workflow.DecodeContext(req.WorkflowContext)
	if err != nil {
		return conversation.TurnRequest{}, err
	}
	return conversation.TurnRequest{
		SenderID:        sender,
		Message:         req.Message,
		Metadata:        req.Metadata,
		WorkflowContext: wc,
	}, nil
}

func handleCatalog(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, catalogView(deps.Catalog))
	}
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := deps.Sessions.Read(chi.URLParam(r, "sender"))
		if !rec.Valid {
			httpError(w, http.StatusNotFound, "not_found", "session not found or expired")
			return
		}
		writeJSON(w, rec)
	}
}

func handleDeleteSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Sessions.Delete(chi.URLParam(r, "sender"))
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleResetWorkflow(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Sessions.InvalidateWorkflow(chi.URLParam(r, "sender"))
		writeJSON(w, map[string]string{"status": "reset"})
	}
}

func handleListTurns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		turns, err := deps.Audit.ListTurns(storage.TurnFilter{
			SenderID: q.Get("sender"),
			Intent:   q.Get("intent"),
			Limit:    parseIntParam(r, "limit", 20, 200),
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list turns: %v", err)
			return
		}
		if turns == nil {
			turns = []storage.Turn{}
		}
		writeJSON(w, turns)
	}
}

func handleGetTurn(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		turn, err := deps.Audit.GetTurn(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "turn not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get turn: %v", err)
			return
		}
		writeJSON(w, turn)
	}
}

// CatalogView is the published shape of the intent catalog.
type CatalogView struct {
	Categories []catalog.Category       `json:"categories"`
	Intents    []catalog.IntentMetadata `json:"intents"`
}

func catalogView(cat *catalog.Catalog) CatalogView {
	return CatalogView{Categories: cat.Categories(), Intents: cat.Intents()}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
