// Command sandbox-server runs an HTTP server inside sandbox pods that
// executes submitted programs in isolated subprocesses. The request input is
// fed to the program on stdin.
//
// Configuration:
//
//	SANDBOX_PORT           - Listen port (default: 8080)
//	SANDBOX_MODE           - Runtime mode: python, node, shell (default: auto-detect)
//	SANDBOX_MAX_CONCURRENT - Max concurrent executions (default: 3)
//	SANDBOX_MAX_TIMEOUT    - Upper bound on a requested timeout (default: 60s)
//	SANDBOX_MAX_OUTPUT     - Bytes kept per output stream (default: 1048576)
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rhuss/probforge/pkg/debug"
	"github.com/rhuss/probforge/pkg/sandbox"
)

const defaultTimeout = 10 * time.Second

func main() {
	debug.Init("", os.Getenv("SANDBOX_LOG_LEVEL"), os.Getenv("SANDBOX_LOG_FORMAT"))

	port := envOr("SANDBOX_PORT", "8080")
	mode := envOr("SANDBOX_MODE", "")
	maxConcurrent := envOrInt("SANDBOX_MAX_CONCURRENT", 3)
	maxTimeout := envOrDuration("SANDBOX_MAX_TIMEOUT", 60*time.Second)
	maxOutput := envOrInt("SANDBOX_MAX_OUTPUT", 1<<20)

	if mode == "" {
		detected := detectMode()
		if detected == "" {
			slog.Error("no supported runtime found in PATH (tried: python3, node, bash)")
			os.Exit(1)
		}
		mode = detected
	} else if err := validateMode(mode); err != nil {
		slog.Error("invalid mode", "mode", mode, "error", err.Error())
		os.Exit(1)
	}

	srv := &sandboxServer{
		mode:           mode,
		runtimeVersion: detectRuntimeVersion(mode),
		maxConcurrent:  int32(maxConcurrent),
		maxTimeout:     maxTimeout,
		maxOutput:      maxOutput,
		startTime:      time.Now(),
	}

	httpSrv := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      maxTimeout + 30*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("sandbox server starting", "port", port, "mode", mode, "runtime", srv.runtimeVersion, "max_concurrent", maxConcurrent)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
}

// --- Server ---

type sandboxServer struct {
	mode           string // python, node, shell
	runtimeVersion string // e.g. "Python 3.12.12", "v22.0.0"
	maxConcurrent  int32
	currentLoad    atomic.Int32
	maxTimeout     time.Duration
	maxOutput      int
	startTime      time.Time
}

func (s *sandboxServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// interpreter returns the command and script file extension for the mode.
func (s *sandboxServer) interpreter() (cmd string, ext string) {
	switch s.mode {
	case "node":
		return "node", ".js"
	case "shell":
		return "bash", ".sh"
	default:
		return "python3", ".py"
	}
}

// --- Execute handler ---

func (s *sandboxServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	current := s.currentLoad.Add(1)
	defer s.currentLoad.Add(-1)

	if current > s.maxConcurrent {
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("at capacity (%d/%d concurrent executions)", current, s.maxConcurrent))
		return
	}

	var req sandbox.ExecuteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10*1024*1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	timeout = min(timeout, s.maxTimeout)

	slog.Info("execute request",
		"code", debug.Truncate(req.Code, 120),
		"input_bytes", len(req.Input),
		"timeout", timeout,
	)

	resp, err := s.run(r.Context(), req.Code, req.Input, timeout)
	if err != nil {
		writeJSON(w, http.StatusOK, sandbox.ExecuteResponse{ExitCode: -1, Error: err.Error()})
		return
	}

	slog.Info("execute complete",
		"exit_code", resp.ExitCode,
		"timed_out", resp.TimedOut,
		"duration_ms", resp.ExecutionTimeMs,
		"stdout_len", len(resp.Stdout),
		"stderr_len", len(resp.Stderr),
	)
	writeJSON(w, http.StatusOK, resp)
}

// run executes code in a fresh working directory. The returned error
// covers setup failures only; program failures are part of the response.
func (s *sandboxServer) run(ctx context.Context, code, input string, timeout time.Duration) (sandbox.ExecuteResponse, error) {
	tmpDir, err := os.MkdirTemp("", "sandbox-exec-*")
	if err != nil {
		return sandbox.ExecuteResponse{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	bin, ext := s.interpreter()
	codePath := filepath.Join(tmpDir, "main"+ext)
	if err := os.WriteFile(codePath, []byte(code), 0o644); err != nil {
		return sandbox.ExecuteResponse{}, fmt.Errorf("write code: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, codePath)
	cmd.Dir = tmpDir
	cmd.Env = []string{"PATH=" + os.Getenv("PATH"), "HOME=" + tmpDir}
	cmd.Stdin = strings.NewReader(input)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Kill the whole process group so forked children die too.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	stdout := &cappedBuffer{limit: s.maxOutput}
	stderr := &cappedBuffer{limit: s.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	resp := sandbox.ExecuteResponse{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		ExecutionTimeMs: elapsed.Milliseconds(),
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		resp.ExitCode = -1
		resp.TimedOut = true
		if resp.Stderr == "" {
			resp.Stderr = fmt.Sprintf("execution timed out after %s", timeout)
		}
	case runErr == nil:
		resp.IsSuccessful = true
	case errors.As(runErr, &exitErr):
		resp.ExitCode = exitErr.ExitCode()
	default:
		resp.ExitCode = -1
		resp.Error = runErr.Error()
	}
	return resp, nil
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}

// --- Health handler ---

type healthResponse struct {
	Status         string `json:"status"`
	Mode           string `json:"mode"`
	RuntimeVersion string `json:"runtime_version"`
	Capacity       int    `json:"capacity"`
	CurrentLoad    int    `json:"current_load"`
	UptimeSecs     int64  `json:"uptime_seconds"`
}

func (s *sandboxServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "healthy",
		Mode:           s.mode,
		RuntimeVersion: s.runtimeVersion,
		Capacity:       int(s.maxConcurrent),
		CurrentLoad:    int(s.currentLoad.Load()),
		UptimeSecs:     int64(time.Since(s.startTime).Seconds()),
	})
}

// --- Mode detection ---

var modeCommands = []struct {
	mode string
	cmd  string
}{
	{"python", "python3"},
	{"node", "node"},
	{"shell", "bash"},
}

// detectMode checks for runtimes in PATH in priority order.
func detectMode() string {
	for _, c := range modeCommands {
		if _, err := exec.LookPath(c.cmd); err == nil {
			return c.mode
		}
	}
	return ""
}

// validateMode checks that the configured mode is valid and the runtime is available.
func validateMode(mode string) error {
	for _, c := range modeCommands {
		if c.mode != mode {
			continue
		}
		if _, err := exec.LookPath(c.cmd); err != nil {
			return fmt.Errorf("mode=%s but %q not found in PATH", mode, c.cmd)
		}
		return nil
	}
	return fmt.Errorf("unsupported mode %q (supported: python, node, shell)", mode)
}

// detectRuntimeVersion returns the version string for the active runtime.
func detectRuntimeVersion(mode string) string {
	var cmd *exec.Cmd
	switch mode {
	case "python":
		cmd = exec.Command("python3", "--version")
	case "node":
		cmd = exec.Command("node", "--version")
	case "shell":
		cmd = exec.Command("bash", "--version")
	default:
		return "unknown"
	}

	output, err := cmd.Output()
	if err != nil {
		return "unknown"
	}

	version, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	return version
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}

func envOrDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
