package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/probforge/pkg/debug"
	"github.com/rhuss/probforge/pkg/observability"
)

// DefaultGrace is added to the execution timeout to bound the whole HTTP call.
const DefaultGrace = 5 * time.Second

// maxResponseBytes caps how much of a sandbox response body is read.
const maxResponseBytes = 8 << 20

// Client calls the sandbox server's REST API to execute code.
type Client struct {
	acquirer   Acquirer
	httpClient *http.Client
	grace      time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for sandbox calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithGrace sets the client-side allowance on top of the execution timeout.
func WithGrace(d time.Duration) Option {
	return func(cl *Client) { cl.grace = d }
}

// NewClient creates a sandbox client that obtains endpoints from acquirer.
func NewClient(acquirer Acquirer, opts ...Option) *Client {
	c := &Client{
		acquirer:   acquirer,
		httpClient: &http.Client{},
		grace:      DefaultGrace,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Execute runs code with input on stdin, bounded by timeout. It never
// returns an error: any failure to obtain a result is reported through
// Outcome.Error with IsSuccessful false.
func (c *Client) Execute(ctx context.Context, code, input string, timeout time.Duration) Outcome {
	start := time.Now()
	out := c.execute(ctx, code, input, timeout)

	observability.SandboxLatency.Observe(time.Since(start).Seconds())
	result := "ok"
	if !out.IsSuccessful {
		result = strings.ToLower(string(GetErrorType(out)))
	}
	observability.SandboxExecutionsTotal.WithLabelValues(result).Inc()

	return out
}

func (c *Client) execute(ctx context.Context, code, input string, timeout time.Duration) Outcome {
	ctx, cancel := context.WithTimeout(ctx, timeout+c.grace)
	defer cancel()

	sandboxURL, release, err := c.acquirer.Acquire(ctx)
	if err != nil {
		slog.Warn("sandbox acquisition failed", "error", err)
		return failed(fmt.Sprintf("acquire sandbox: %v", err), errors.Is(err, context.DeadlineExceeded))
	}
	defer release()

	body, err := json.Marshal(ExecuteRequest{Code: code, Input: input, TimeoutMs: timeout.Milliseconds()})
	if err != nil {
		return failed(fmt.Sprintf("marshal request: %v", err), false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(sandboxURL, "/")+"/execute", bytes.NewReader(body))
	if err != nil {
		return failed(fmt.Sprintf("create request: %v", err), false)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	debug.Log("sandbox", "execute", "url", sandboxURL, "timeout", timeout, "code_bytes", len(code))
	debug.Trace("sandbox", "execute payload", "code", code, "input", input)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return failed(fmt.Sprintf("sandbox call timed out after %s", timeout+c.grace), true)
		}
		return failed(fmt.Sprintf("sandbox request failed: %v", err), false)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return failed(fmt.Sprintf("read response: %v", err), errors.Is(err, context.DeadlineExceeded))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return failed("sandbox at capacity (HTTP 429)", false)
	}

	if resp.StatusCode != http.StatusOK {
		return failed(fmt.Sprintf("sandbox returned HTTP %d: %s", resp.StatusCode, debug.Truncate(string(respBody), 200)), false)
	}

	var er ExecuteResponse
	if err := json.Unmarshal(respBody, &er); err != nil {
		return failed(fmt.Sprintf("decode response: %v", err), false)
	}

	debug.Log("sandbox", "executed",
		"exit_code", er.ExitCode,
		"timed_out", er.TimedOut,
		"successful", er.IsSuccessful,
		"execution_time_ms", er.ExecutionTimeMs,
	)

	return Outcome{
		Stdout:          er.Stdout,
		Stderr:          er.Stderr,
		ExitCode:        er.ExitCode,
		ExecutionTimeMs: er.ExecutionTimeMs,
		TimedOut:        er.TimedOut,
		Error:           er.Error,
		IsSuccessful:    er.IsSuccessful && !er.TimedOut,
	}
}
