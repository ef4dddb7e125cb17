// Package openrouter opens streaming chat completions against an
// OpenAI-compatible endpoint such as OpenRouter.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bureauzwartjes/intake"
)

const (
	// DefaultBaseURL is the OpenRouter API base.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultModel is the model the intake runs on.
	DefaultModel = "anthropic/claude-opus-4.5"

	// DefaultMaxTokens bounds one assistant reply.
	DefaultMaxTokens = 1024

	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 * 1024
)

// Config holds upstream connection configuration.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Referer   string // sent as HTTP-Referer
	Title     string // sent as X-Title
}

// Message is one entry of the upstream messages array.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the body of a streaming chat completion.
type Request struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	Stream    bool      `json:"stream"`
}

// StatusError is returned when the provider answers with a non-2xx status.
// Body is the response text, verbatim.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// Client opens streaming completions.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a new upstream client. A missing API key is allowed here and
// reported per call through Configured, so the site can run without chat.
func New(cfg Config, httpClient *http.Client) *Client {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if httpClient == nil {
		// no overall timeout: the stream lives as long as the request context
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// Model returns the model identifier sent upstream.
func (c *Client) Model() string {
	return c.cfg.Model
}

// BuildRequest assembles the upstream request: system prompt first, then the
// turns in order.
func (c *Client) BuildRequest(systemPrompt string, turns []intake.Turn) Request {
	msgs := make([]Message, 0, len(turns)+1)
	msgs = append(msgs, Message{Role: "system", Content: systemPrompt})
	for _, t := range turns {
		msgs = append(msgs, Message{Role: t.Role, Content: t.Content})
	}
	return Request{
		Model:     c.cfg.Model,
		Messages:  msgs,
		MaxTokens: c.cfg.MaxTokens,
		Stream:    true,
	}
}

// Open sends req and returns the event-stream body on success. The caller
// must close it. Cancelling ctx aborts the stream. A non-2xx answer yields a
// *StatusError; no retry is attempted.
func (c *Client) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	if !c.Configured() {
		return nil, intake.ErrNotConfigured
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		httpReq.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(msg)}
	}

	return resp.Body, nil
}
