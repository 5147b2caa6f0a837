package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	maxRetries           = 3
	initialBackoff       = 500 * time.Millisecond
)

// OpenAIConfig configures an OpenAIEngine.
type OpenAIConfig struct {
	APIKey string
	// BaseURL of any OpenAI-compatible server (OpenAI, OpenRouter, vLLM,
	// llama.cpp). Defaults to the OpenAI API.
	BaseURL string
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// OpenAIEngine talks to an OpenAI-compatible chat completions API.
type OpenAIEngine struct {
	client  *openai.Client
	backoff time.Duration
}

// NewOpenAIEngine creates an OpenAIEngine from cfg.
func NewOpenAIEngine(cfg OpenAIConfig) *OpenAIEngine {
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = defaultOpenAIBaseURL
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	return &OpenAIEngine{
		client:  openai.NewClientWithConfig(oc),
		backoff: initialBackoff,
	}
}

// Chat sends a chat completion request. HTTP 429 responses are retried with
// exponential backoff.
func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    make([]openai.ChatCompletionMessage, len(messages)),
		Temperature: float32(opts.Temperature),
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	if opts.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var lastErr error
	for attempt := range maxRetries {
		resp, err := e.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("chat: empty choices")
			}
			return resp.Choices[0].Message.Content, nil
		}
		if !isRateLimit(err) {
			return "", fmt.Errorf("chat request: %w", err)
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(e.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return "", fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsRunning reports whether the model list endpoint answers.
func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.client.ListModels(ctx)
	return err == nil
}

func (e *OpenAIEngine) ListModels(ctx context.Context) ([]string, error) {
	list, err := e.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("requesting model list: %w", err)
	}
	names := make([]string, len(list.Models))
	for i, m := range list.Models {
		names[i] = m.ID
	}
	return names, nil
}

func (e *OpenAIEngine) HasModel(ctx context.Context, name string) bool {
	models, err := e.ListModels(ctx)
	if err != nil {
		return false
	}
	return slices.Contains(models, name)
}
