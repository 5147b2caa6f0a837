package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxToolResponseSize = 1 << 20

// HTTPTool forwards requests to a domain service that answers with an Output
// encoded as JSON.
type HTTPTool struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewHTTPTool returns a tool that POSTs to endpoint. A non-empty token is sent
// as a bearer credential.
func NewHTTPTool(endpoint, token string) *HTTPTool {
	return &HTTPTool{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *HTTPTool) Execute(ctx context.Context, req Request) (Output, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Output{}, fmt.Errorf("marshalling tool request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return Output{}, fmt.Errorf("creating tool request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return Output{}, fmt.Errorf("calling tool service: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxToolResponseSize))
	if err != nil {
		return Output{}, fmt.Errorf("reading tool response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Output{}, fmt.Errorf("tool service returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var out Output
	if err := json.Unmarshal(data, &out); err != nil {
		return Output{}, fmt.Errorf("decoding tool response: %w", err)
	}
	return out, nil
}
