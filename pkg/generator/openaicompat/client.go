package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/debug"
	"github.com/rhuss/probforge/pkg/generator"
	"github.com/rhuss/probforge/pkg/observability"
)

// DefaultTimeout bounds a single completion request.
const DefaultTimeout = 120 * time.Second

// Response format modes.
const (
	FormatJSONSchema = "json_schema"
	FormatJSONObject = "json_object"
	FormatNone       = "none"
)

// Client performs structured generation against an OpenAI-compatible Chat
// Completions backend. It implements generator.Gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string

	temperature    *float64
	maxTokens      *int
	responseFormat string
}

var _ generator.Gateway = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = &t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = &n
		}
	}
}

// WithResponseFormat selects how the expected schema is passed to the
// backend: json_schema (default), json_object, or none.
func WithResponseFormat(mode string) Option {
	return func(c *Client) {
		if mode != "" {
			c.responseFormat = mode
		}
	}
}

// NewClient creates a new Client for an OpenAI-compatible backend.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, opts ...Option) *Client {
	// Normalize: remove trailing slash from base URL.
	baseURL = strings.TrimRight(baseURL, "/")

	if timeout == 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:        baseURL,
		apiKey:         apiKey,
		model:          model,
		responseFormat: FormatJSONSchema,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Generate submits the prompt and classifies the answer. Call failures are
// reported as KindErr results carrying an *api.APIError.
func (c *Client) Generate(ctx context.Context, p generator.Prompt) generator.Result {
	start := time.Now()
	result := c.generate(ctx, p)

	observability.GeneratorLatency.WithLabelValues(string(p.Task), c.model).Observe(time.Since(start).Seconds())
	observability.GeneratorRequestsTotal.WithLabelValues(string(p.Task), c.model, result.Kind.String()).Inc()

	if result.Kind == generator.KindErr {
		debug.Log("generator", "request failed", "task", p.Task, "error", result.Err)
	}
	return result
}

func (c *Client) generate(ctx context.Context, p generator.Prompt) generator.Result {
	chatResp, err := c.complete(ctx, c.buildRequest(p))
	if err != nil {
		return generator.Failed(err)
	}

	if chatResp.Usage != nil {
		observability.GeneratorTokensTotal.WithLabelValues(c.model, "input").Add(float64(chatResp.Usage.PromptTokens))
		observability.GeneratorTokensTotal.WithLabelValues(c.model, "output").Add(float64(chatResp.Usage.CompletionTokens))
	}

	if len(chatResp.Choices) == 0 {
		return generator.Failed(generator.ErrEmptyOutput)
	}
	choice := chatResp.Choices[0]
	content := strings.TrimSpace(ExtractContentString(choice.Message.Content))

	debug.Log("generator", "completion received",
		"task", p.Task, "finish_reason", choice.FinishReason, "content_bytes", len(content))
	debug.Raw("generator", content)

	if content == "" {
		return generator.Failed(generator.ErrEmptyOutput)
	}
	return generator.Classify(content)
}

func (c *Client) buildRequest(p generator.Prompt) *ChatCompletionRequest {
	req := &ChatCompletionRequest{
		Model:       c.model,
		N:           1,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if p.Temperature != nil {
		req.Temperature = p.Temperature
	}
	if p.System != "" {
		req.Messages = append(req.Messages, ChatMessage{Role: "system", Content: p.System})
	}
	req.Messages = append(req.Messages, ChatMessage{Role: "user", Content: p.User})

	switch c.responseFormat {
	case FormatNone:
	case FormatJSONObject:
		req.ResponseFormat = ResponseFormat{Type: FormatJSONObject}
	default:
		if len(p.Schema) > 0 {
			req.ResponseFormat = ResponseFormat{
				Type: FormatJSONSchema,
				JSONSchema: &JSONSchema{
					Name:   schemaName(p.Task),
					Schema: p.Schema,
				},
			}
		} else {
			req.ResponseFormat = ResponseFormat{Type: FormatJSONObject}
		}
	}
	return req
}

func schemaName(t generator.Task) string {
	if t == "" {
		return "answer"
	}
	return string(t)
}

func (c *Client) complete(ctx context.Context, chatReq *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to marshal request: %s", err.Error()))
	}

	url := c.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, MapHTTPError(httpResp)
	}

	var chatResp ChatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&chatResp); err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to parse generator response: %s", err.Error()))
	}
	return &chatResp, nil
}

// HealthCheck verifies the backend is reachable by listing models.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return MapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return MapHTTPError(httpResp)
	}

	var models ChatModelsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&models); err != nil {
		return api.NewServerError(fmt.Sprintf("failed to parse models response: %s", err.Error()))
	}
	for _, m := range models.Data {
		if m.ID == c.model {
			return nil
		}
	}
	if len(models.Data) == 0 {
		return nil
	}
	return api.NewNotFoundError("model " + strconv.Quote(c.model) + " not served by generator backend")
}

// Close releases client resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
