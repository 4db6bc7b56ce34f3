// Command mock-backend runs a deterministic Chat Completions server for
// local runs and end-to-end testing. Every generation task gets a canned
// answer that together form a complete "Two Sum" problem. The task is read
// from the json_schema name of the request's response_format.
//
// Configuration:
//
//	MOCK_PORT  - Listen port (default: 9090)
//	MOCK_MODEL - Model name advertised on /v1/models (default: mock-model)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

func main() {
	port := envOr("MOCK_PORT", "9090")
	model := envOr("MOCK_MODEL", "mock-model")

	b := &backend{model: model}
	srv := &http.Server{Addr: ":" + port, Handler: b.routes(), ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port, "model", model)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

// --- Request types ---

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string `json:"type"`
	JSONSchema *struct {
		Name string `json:"name"`
	} `json:"json_schema,omitempty"`
}

// --- Response types ---

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- Canned answers ---

const pythonSolution = `{"code":"def two_sum(nums, target):\n    seen = {}\n    for i, n in enumerate(nums):\n        if target - n in seen:\n            return [seen[target - n], i]\n        seen[n] = i\n    return []\n","explanation":"Single pass with a hash map from value to index."}`

const javascriptSolution = `{"code":"function two_sum(nums, target) {\n  const seen = new Map();\n  for (let i = 0; i < nums.length; i++) {\n    if (seen.has(target - nums[i])) return [seen.get(target - nums[i]), i];\n    seen.set(nums[i], i);\n  }\n  return [];\n}\n","explanation":"Single pass with a Map from value to index."}`

var answers = map[string]string{
	"intent": `{"summary":"Return the indices of the two numbers that add up to target","problem_type":"array",` +
		`"function_name":"two_sum","parameters":[{"name":"nums","type":"list[int]"},{"name":"target","type":"int"}],` +
		`"return_type":"list[int]","input_schema":{"description":"array of ints and a target","allows_duplicates":true,"allows_revisiting":false}}`,
	"test_design": `{"test_cases":[` +
		`{"input":{"nums":[2,7,11,15],"target":9},"rationale":"basic case"},` +
		`{"input":{"nums":[3,2,4],"target":6},"rationale":"answer not at the start"},` +
		`{"input":{"nums":[3,3],"target":6},"rationale":"duplicate values"},` +
		`{"input":{"nums":[-1,-2,-3,-4,-5],"target":-8},"rationale":"edge: negatives"},` +
		`{"input":{"nums":[0,4,3,0],"target":0},"rationale":"edge: zeros"},` +
		`{"input":{"nums":[1,5,9,13,21],"target":34},"rationale":"answer at the end"}]}`,
	"constraints":     `{"time_limit_seconds":1,"memory_limit_mb":256,"input_constraints":["2 <= len(nums) <= 10^4","-10^9 <= nums[i] <= 10^9","exactly one valid answer exists"],"judge_type":"exact"}`,
	"starter_code":    `{"starter_code":{"python":"def two_sum(nums, target):\n    pass\n","javascript":"function two_sum(nums, target) {\n}\n"}}`,
	"semantic_review": `{"passed":true,"issues":[]}`,
	"description":     `{"description":"Given an array of integers nums and an integer target, return the indices of the two numbers such that they add up to target.\n\nYou may assume that each input has exactly one solution, and you may not use the same element twice."}`,
	"title":           `{"title":"Two Sum"}`,
	"translate":       `{"title":"Zwei Summen","description":"Gegeben ein Array von Ganzzahlen nums und eine Ganzzahl target, gib die Indizes der beiden Zahlen zurück, deren Summe target ergibt."}`,
}

// --- Handler ---

type backend struct {
	model    string
	requests atomic.Int64
}

func (b *backend) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", b.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", b.handleModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

func (b *backend) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error(), "invalid_request_error")
		return
	}

	task := taskOf(&req)
	content, ok := answerFor(task, lastUserMessage(&req))
	if !ok {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("no canned answer for task %q (use response_format json_schema)", task), "invalid_request_error")
		return
	}
	slog.Info("completion", "task", task, "model", req.Model)

	model := req.Model
	if model == "" {
		model = b.model
	}
	n := b.requests.Add(1)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chatResponse{
		ID:      fmt.Sprintf("chatcmpl-mock-%d", n),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	})
}

func (b *backend) handleModels(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": b.model, "object": "model", "owned_by": "probforge-mock"},
		},
	})
}

// --- Helpers ---

func taskOf(req *chatRequest) string {
	if req.ResponseFormat != nil && req.ResponseFormat.JSONSchema != nil {
		return req.ResponseFormat.JSONSchema.Name
	}
	return ""
}

// answerFor returns the canned answer for task. The solution follows the
// language named in the prompt context.
func answerFor(task, user string) (string, bool) {
	if task == "solution" {
		if strings.Contains(user, `"language": "javascript"`) {
			return javascriptSolution, true
		}
		return pythonSolution, true
	}
	a, ok := answers[task]
	return a, ok
}

func lastUserMessage(req *chatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, message, typ string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": message, "type": typ},
	})
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
