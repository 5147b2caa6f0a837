// Package ollama is a minimal client for the Ollama HTTP API: chat, model
// listing and model pulls.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 4 << 10

// Message is one chat turn in Ollama's wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions tunes a single chat call.
type ChatOptions struct {
	// JSON asks Ollama to constrain the reply to a JSON object.
	JSON        bool
	Temperature *float64
	// NumCtx overrides the model's context window when positive.
	NumCtx int
	// KeepAlive controls how long the model stays loaded ("5m", "-1").
	KeepAlive string
}

func (o ChatOptions) modelOptions() map[string]any {
	m := map[string]any{}
	if o.Temperature != nil {
		m["temperature"] = *o.Temperature
	}
	if o.NumCtx > 0 {
		m["num_ctx"] = o.NumCtx
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// StatusError is returned when Ollama answers with a non-2xx status.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from Ollama, e.g. an unknown model.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Client talks to one Ollama server. Calls are bounded by their context;
// the underlying http.Client has no timeout of its own because pulls can
// run for minutes.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// send issues a request with an optional JSON body and returns the response
// when the status is 2xx. The caller closes the body.
func (c *Client) send(ctx context.Context, op, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: encoding request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, &StatusError{Op: op, Code: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	return resp, nil
}

// errorMessage extracts Ollama's {"error": "..."} payload, falling back to
// the raw body text.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(raw))
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	resp, err := c.send(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return nil
}

// IsRunning reports whether the server answers GET /api/version.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var v struct {
		Version string `json:"version"`
	}
	return c.getJSON(ctx, "version", "/api/version", &v) == nil
}

// ListModels returns the names of the models installed on the server.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := c.getJSON(ctx, "list models", "/api/tags", &tags); err != nil {
		return nil, err
	}
	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// HasModel reports whether name is installed. A name without a tag matches
// any tag of that model.
func (c *Client) HasModel(ctx context.Context, name string) bool {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m == name || strings.HasPrefix(m, name+":") {
			return true
		}
	}
	return false
}

type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// PullProgress is one line of the streamed pull response.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// PullModel downloads name and blocks until the stream ends. onProgress may
// be nil. An error line inside the stream fails the pull.
func (c *Client) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	op := "pull " + name
	resp, err := c.send(ctx, op, http.MethodPost, "/api/pull", pullRequest{Name: name, Stream: true})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var line struct {
			PullProgress
			Error string `json:"error"`
		}
		err := dec.Decode(&line)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: reading progress: %w", op, err)
		}
		if line.Error != "" {
			return fmt.Errorf("%s: %s", op, line.Error)
		}
		if onProgress != nil {
			onProgress(line.PullProgress)
		}
	}
}

type chatRequest struct {
	Model     string         `json:"model"`
	Messages  []Message      `json:"messages"`
	Stream    bool           `json:"stream"`
	Format    string         `json:"format,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
	KeepAlive string         `json:"keep_alive,omitempty"`
}

type chatResponse struct {
	Message Message `json:"message"`
}

// Chat sends one non-streaming chat request and returns the reply text.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	cr := chatRequest{
		Model:     model,
		Messages:  messages,
		Options:   opts.modelOptions(),
		KeepAlive: opts.KeepAlive,
	}
	if opts.JSON {
		cr.Format = "json"
	}

	resp, err := c.send(ctx, "chat", http.MethodPost, "/api/chat", cr)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("chat: decoding response: %w", err)
	}
	return result.Message.Content, nil
}
