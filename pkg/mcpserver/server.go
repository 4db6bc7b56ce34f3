// Package mcpserver exposes problem generation as Model Context Protocol
// tools: generate_problem runs a job to completion, get_problem and
// list_problems read stored jobs.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/auth"
	"github.com/rhuss/probforge/pkg/debug"
	"github.com/rhuss/probforge/pkg/storage"
	"github.com/rhuss/probforge/pkg/transport"
)

// Tool names.
const (
	ToolGenerate = "generate_problem"
	ToolGet      = "get_problem"
	ToolList     = "list_problems"
)

// Server builds MCP servers backed by a ProblemGenerator and a Store.
type Server struct {
	gen     transport.ProblemGenerator
	store   storage.Store
	logger  *slog.Logger
	version string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithVersion sets the implementation version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New creates a Server. Middleware is applied to the generator in order.
func New(gen transport.ProblemGenerator, store storage.Store, middlewares []transport.Middleware, opts ...Option) *Server {
	if len(middlewares) > 0 {
		gen = transport.Chain(middlewares...)(gen)
	}
	s := &Server{gen: gen, store: store, logger: slog.Default(), version: "dev"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler serves MCP over streamable HTTP. Each session acts as the caller
// authenticated on the request that opened it.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.MCPServer(auth.IdentityFromContext(r.Context()))
	}, nil)
}

// MCPServer returns an MCP server whose tools act on behalf of caller.
// generate_problem needs the write scope, the other tools the read scope.
// A nil caller is unrestricted, which is the case when auth is disabled.
func (s *Server) MCPServer(caller *auth.Identity) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "probforge", Version: s.version}, nil)
	as := func(ctx context.Context, scope string) (context.Context, *api.APIError) {
		if caller == nil {
			return ctx, nil
		}
		ctx = auth.SetIdentity(ctx, caller)
		return ctx, auth.Authorize(ctx, scope)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolGenerate,
		Description: "Generate a programming problem with an execution-verified reference solution and test cases. Blocks until the job finishes.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in GenerateInput) (*mcp.CallToolResult, struct{}, error) {
		ctx, denied := as(ctx, auth.ScopeWrite)
		if denied != nil {
			return errorResult(denied), struct{}{}, nil
		}
		return s.generate(ctx, in), struct{}{}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolGet,
		Description: "Fetch a generation job snapshot by id.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in GetInput) (*mcp.CallToolResult, struct{}, error) {
		ctx, denied := as(ctx, auth.ScopeRead)
		if denied != nil {
			return errorResult(denied), struct{}{}, nil
		}
		return s.get(ctx, in), struct{}{}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolList,
		Description: "List generation jobs, newest first.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in ListInput) (*mcp.CallToolResult, struct{}, error) {
		ctx, denied := as(ctx, auth.ScopeRead)
		if denied != nil {
			return errorResult(denied), struct{}{}, nil
		}
		return s.list(ctx, in), struct{}{}, nil
	})

	return server
}

// GenerateInput are the generate_problem arguments.
type GenerateInput struct {
	Prompt          string   `json:"prompt" jsonschema:"what the problem should be about"`
	Difficulty      string   `json:"difficulty,omitempty" jsonschema:"easy, medium or hard"`
	Language        string   `json:"language,omitempty" jsonschema:"language of the reference solution"`
	TargetLanguages []string `json:"target_languages,omitempty" jsonschema:"natural languages to translate the statement into"`
}

// GetInput are the get_problem arguments.
type GetInput struct {
	ID string `json:"id" jsonschema:"job id as returned by generate_problem"`
}

// ListInput are the list_problems arguments.
type ListInput struct {
	Status string `json:"status,omitempty" jsonschema:"filter by in_progress, completed or failed"`
	Limit  int    `json:"limit,omitempty" jsonschema:"page size"`
	After  string `json:"after,omitempty" jsonschema:"id of the last job of the previous page"`
}

func (s *Server) generate(ctx context.Context, in GenerateInput) *mcp.CallToolResult {
	req := &api.GenerateRequest{
		Prompt:          in.Prompt,
		Difficulty:      api.Difficulty(in.Difficulty),
		Language:        in.Language,
		TargetLanguages: in.TargetLanguages,
	}
	job, err := s.gen.GenerateProblem(ctx, req, &progressLog{})
	if err != nil {
		return errorResult(transport.AsAPIError(err))
	}
	return jsonResult(job)
}

func (s *Server) get(ctx context.Context, in GetInput) *mcp.CallToolResult {
	if !api.ValidateJobID(in.ID) {
		return errorResult(api.NewInvalidRequestError("id", "malformed job ID"))
	}
	job, err := s.store.Get(ctx, in.ID)
	if err != nil {
		return errorResult(transport.AsAPIError(err))
	}
	return jsonResult(job)
}

func (s *Server) list(ctx context.Context, in ListInput) *mcp.CallToolResult {
	opts := storage.ListOptions{Limit: in.Limit, After: in.After, Status: api.JobStatus(in.Status)}
	switch opts.Status {
	case "", api.JobStatusInProgress, api.JobStatusCompleted, api.JobStatusFailed:
	default:
		return errorResult(api.NewInvalidRequestError("status", "status must be in_progress, completed or failed"))
	}
	if opts.After != "" && !api.ValidateJobID(opts.After) {
		return errorResult(api.NewInvalidRequestError("after", "malformed job ID"))
	}
	list, err := s.store.List(ctx, opts)
	if err != nil {
		return errorResult(transport.AsAPIError(err))
	}
	return jsonResult(list)
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(api.NewServerError(fmt.Sprintf("failed to encode result: %v", err)))
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}
}

func errorResult(apiErr *api.APIError) *mcp.CallToolResult {
	if apiErr == nil {
		apiErr = api.NewServerError("unknown error")
	}
	data, _ := json.Marshal(api.ErrorResponse{Error: apiErr})
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

// progressLog records progress events to the debug log. MCP callers get
// the final job only.
type progressLog struct {
	transport.DiscardWriter
}

func (p *progressLog) WriteEvent(ctx context.Context, event api.ProgressEvent) error {
	debug.Log("mcp", "progress", "job_id", event.JobID, "type", event.Type, "step", event.Step, "attempt", event.Attempt)
	return p.DiscardWriter.WriteEvent(ctx, event)
}
