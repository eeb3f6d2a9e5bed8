// Package llm owns the LLM request lifecycle: rate limiting, retry with
// backoff, response validation, and the mapping of validated output (or
// deterministic fallbacks) into domain values.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"codequiz/internal/config"
	"codequiz/internal/llm/prompts"
	"codequiz/internal/llm/schema"
)

// geminiAPIBase is Google's OpenAI-compatible endpoint, used when the
// gemini provider is selected without an explicit api_base.
const geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta/openai"

// Caller executes one validated LLM call. Exhausted retries surface as an
// error; callers define a deterministic fallback.
type Caller interface {
	Call(ctx context.Context, p prompts.Prompt) (map[string]any, error)
}

// APIKey resolves the credential for a provider from the environment.
// An empty string means the orchestrator cannot be used and callers must
// fall back.
func APIKey(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	default:
		slog.Warn("unsupported LLM provider", "provider", provider)
		return ""
	}
}

// Client wraps an OpenAI-compatible API client with rate limiting, retry,
// and strict schema validation.
type Client struct {
	api     *openai.Client
	cfg     config.LLM
	limiter *rateLimiter
	headers *headerCapture
}

// NewClient creates a client for the configured provider. The rate limiter
// inside is the single process-wide throttle; share one Client across all
// workers.
func NewClient(cfg config.LLM, apiKey string) *Client {
	oaCfg := openai.DefaultConfig(apiKey)
	switch {
	case cfg.APIBase != "":
		oaCfg.BaseURL = cfg.APIBase
	case cfg.Provider == "gemini":
		oaCfg.BaseURL = geminiAPIBase
	}

	// The SDK's typed errors do not expose response headers, so a capturing
	// transport records the Retry-After hint for the retry policy.
	headers := &headerCapture{next: http.DefaultTransport}
	oaCfg.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout(),
		Transport: headers,
	}

	return &Client{
		api:     openai.NewClientWithConfig(oaCfg),
		cfg:     cfg,
		limiter: newRateLimiter(cfg.RateLimitPerMinute),
		headers: headers,
	}
}

// Model returns the configured model label.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Ping verifies the endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.ListModels(ctx)
	return err
}

// Call executes one chat completion and validates the JSON body against the
// prompt's schema. Transport failures and retryable statuses back off
// linearly; a 429 honors the provider's Retry-After hint. Malformed or
// schema-invalid bodies retry up to the same limit. Any other 4xx/5xx is
// terminal. All failure modes return an error, never a panic.
func (c *Client) Call(ctx context.Context, p prompts.Prompt) (map[string]any, error) {
	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
		Temperature: float32(c.cfg.Temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	if c.cfg.MaxOutputTokens > 0 {
		req.MaxCompletionTokens = c.cfg.MaxOutputTokens
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			status := statusOf(err)
			if status != 0 && !retryableStatus(status) {
				return nil, fmt.Errorf("llm terminal status %d: %w", status, err)
			}
			lastErr = err
			slog.Warn("llm request failed", "attempt", attempt, "status", status, "error", err)
			if attempt >= c.cfg.MaxRetries {
				break
			}
			wait := c.cfg.Backoff(attempt)
			if status == http.StatusTooManyRequests {
				if hint := c.headers.RetryAfter(); hint > 0 {
					wait = hint
				}
			}
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		result, verr := c.decode(resp, p.Schema)
		if verr == nil {
			return result, nil
		}
		lastErr = verr
		slog.Warn("llm response invalid", "attempt", attempt, "error", verr)
		if attempt >= c.cfg.MaxRetries {
			break
		}
		if err := sleep(ctx, c.cfg.Backoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("llm call exhausted %d retries: %w", c.cfg.MaxRetries, lastErr)
}

// decode parses the completion's JSON content and validates it against the
// schema, returning the normalized payload.
func (c *Client) decode(resp openai.ChatCompletionResponse, n *schema.Node) (map[string]any, error) {
	if len(resp.Choices) == 0 {
		return nil, errors.New("response has no choices")
	}
	var parsed any
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("parse embedded JSON: %w", err)
	}
	normalized, errs := schema.Validate(parsed, n)
	if len(errs) > 0 {
		return nil, fmt.Errorf("schema validation: %v", errs)
	}
	obj, ok := normalized.(map[string]any)
	if !ok {
		return nil, errors.New("normalized payload is not an object")
	}
	return obj, nil
}

func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// rateLimiter enforces a minimum interval between calls via a single
// process-wide last-call timestamp. It serializes callers on purpose;
// throughput is not a goal for this workload.
type rateLimiter struct {
	mu       sync.Mutex
	last     time.Time
	interval time.Duration
}

func newRateLimiter(perMinute float64) *rateLimiter {
	var interval time.Duration
	if perMinute > 0 {
		interval = time.Duration(float64(time.Minute) / perMinute)
	}
	return &rateLimiter{interval: interval}
}

// Wait blocks until the interval since the last call has elapsed, then
// claims the current slot.
func (r *rateLimiter) Wait(ctx context.Context) error {
	if r.interval <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if elapsed := time.Since(r.last); elapsed < r.interval {
		if err := sleep(ctx, r.interval-elapsed); err != nil {
			return err
		}
	}
	r.last = time.Now()
	return nil
}

// headerCapture records the Retry-After header of the most recent response.
// Safe for concurrent use; calls already serialize through the rate limiter
// so the most recent value is the one the retry path cares about.
type headerCapture struct {
	next http.RoundTripper

	mu         sync.Mutex
	retryAfter time.Duration
}

func (h *headerCapture) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := h.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	var d time.Duration
	if raw := resp.Header.Get("Retry-After"); raw != "" {
		if secs, perr := strconv.ParseFloat(raw, 64); perr == nil && secs > 0 {
			d = time.Duration(secs * float64(time.Second))
		}
	}
	h.mu.Lock()
	h.retryAfter = d
	h.mu.Unlock()
	return resp, nil
}

// RetryAfter returns the hint from the most recent response, or zero.
func (h *headerCapture) RetryAfter() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.retryAfter
}
