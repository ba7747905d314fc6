// Package backend talks to an OpenAI-compatible chat completions server such
// as LM Studio, llama.cpp server or Ollama's /v1 endpoint.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultTimeout bounds a single HTTP call.
const DefaultTimeout = 120 * time.Second

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 512

// Client is the subset of the chat API the application uses.
type Client interface {
	// Chat runs a completion and returns the assistant's text.
	Chat(ctx context.Context, req ChatRequest) (string, error)
	// ListModels returns the models currently available.
	ListModels(ctx context.Context) ([]Model, error)
	// Ping checks that the server answers.
	Ping(ctx context.Context) error
	// Address returns the base URL the client talks to.
	Address() string
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *log.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.http = hc }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithAPIKey sends a bearer token. Local servers ignore it.
func WithAPIKey(key string) Option {
	return func(c *HTTPClient) { c.apiKey = key }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *HTTPClient) { c.logger = l }
}

// New creates a client for the server at address, e.g.
// "http://localhost:1234/v1".
func New(address string, opts ...Option) (*HTTPClient, error) {
	address = strings.TrimRight(strings.TrimSpace(address), "/")
	if address == "" {
		return nil, ErrEmptyAddress
	}

	c := &HTTPClient{
		baseURL: address,
		apiKey:  "lm-studio",
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Address implements Client.
func (c *HTTPClient) Address() string {
	return c.baseURL
}

// Chat implements Client.
func (c *HTTPClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	req.Stream = false

	var out chatResponse
	start := time.Now()
	if err := c.do(ctx, http.MethodPost, "/chat/completions", req, &out); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	c.logger.Debug("chat completion", "model", req.Model, "messages", len(req.Messages), "took", time.Since(start))

	if len(out.Choices) == 0 {
		return "", ErrNoChoices
	}
	content := out.Choices[0].Message.Content
	if content == nil {
		return "", nil
	}
	return *content, nil
}

// ListModels implements Client.
func (c *HTTPClient) ListModels(ctx context.Context) ([]Model, error) {
	var out modelList
	if err := c.do(ctx, http.MethodGet, "/models", nil, &out); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	models := make([]Model, 0, len(out.Data))
	for _, m := range out.Data {
		m.ID = strings.TrimSpace(m.ID)
		if m.ID != "" {
			models = append(models, m)
		}
	}
	return models, nil
}

// Ping implements Client.
func (c *HTTPClient) Ping(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/models", nil, nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
