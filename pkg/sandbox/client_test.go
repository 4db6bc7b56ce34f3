package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClient_Execute(t *testing.T) {
	tests := []struct {
		name           string
		handler        http.HandlerFunc
		wantSuccessful bool
		wantStdout     string
		wantErrSubstr  string
	}{
		{
			name: "successful execution",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(ExecuteResponse{
					Stdout:       `{"result": 42}`,
					IsSuccessful: true,
				})
			},
			wantSuccessful: true,
			wantStdout:     `{"result": 42}`,
		},
		{
			name: "execution error (non-zero exit)",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(ExecuteResponse{
					Stderr:   "NameError: name 'x' is not defined",
					ExitCode: 1,
				})
			},
		},
		{
			name: "sandbox at capacity (429)",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"at capacity"}`))
			},
			wantErrSubstr: "capacity",
		},
		{
			name: "sandbox server error (500)",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("internal error"))
			},
			wantErrSubstr: "HTTP 500",
		},
		{
			name: "undecodable body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
			wantErrSubstr: "decode response",
		},
		{
			name: "server reports timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(ExecuteResponse{TimedOut: true, IsSuccessful: true, ExitCode: -1})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClient(StaticAcquirer{URL: srv.URL})
			out := c.Execute(context.Background(), "code", "{}", time.Second)

			if out.IsSuccessful != tt.wantSuccessful {
				t.Errorf("IsSuccessful = %v, want %v", out.IsSuccessful, tt.wantSuccessful)
			}
			if out.Stdout != tt.wantStdout {
				t.Errorf("Stdout = %q, want %q", out.Stdout, tt.wantStdout)
			}
			if tt.wantErrSubstr != "" && !strings.Contains(out.Error, tt.wantErrSubstr) {
				t.Errorf("Error = %q, want substring %q", out.Error, tt.wantErrSubstr)
			}
		})
	}
}

func TestClient_ExecuteSendsRequest(t *testing.T) {
	var got ExecuteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" {
			t.Errorf("path = %q, want /execute", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(ExecuteResponse{IsSuccessful: true})
	}))
	defer srv.Close()

	c := NewClient(StaticAcquirer{URL: srv.URL + "/"})
	c.Execute(context.Background(), "print(1)", `{"n": 3}`, 2500*time.Millisecond)

	if got.Code != "print(1)" {
		t.Errorf("code = %q, want %q", got.Code, "print(1)")
	}
	if got.Input != `{"n": 3}` {
		t.Errorf("input = %q, want %q", got.Input, `{"n": 3}`)
	}
	if got.TimeoutMs != 2500 {
		t.Errorf("timeout_ms = %d, want 2500", got.TimeoutMs)
	}
}

func TestClient_ClientDeadlineIsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(StaticAcquirer{URL: srv.URL}, WithGrace(10*time.Millisecond))
	out := c.Execute(context.Background(), "while True: pass", "{}", 50*time.Millisecond)

	if out.IsSuccessful {
		t.Error("IsSuccessful = true, want false")
	}
	if !out.TimedOut {
		t.Errorf("TimedOut = false, want true (error %q)", out.Error)
	}
	if GetErrorType(out) != ErrorTimeout {
		t.Errorf("GetErrorType = %q, want %q", GetErrorType(out), ErrorTimeout)
	}
}

type failingAcquirer struct{}

func (failingAcquirer) Acquire(context.Context) (string, func(), error) {
	return "", nil, errors.New("no sandboxes available")
}

type countingAcquirer struct {
	url      string
	released int
}

func (a *countingAcquirer) Acquire(context.Context) (string, func(), error) {
	return a.url, func() { a.released++ }, nil
}

func TestClient_AcquireFailure(t *testing.T) {
	c := NewClient(failingAcquirer{})
	out := c.Execute(context.Background(), "x", "{}", time.Second)

	if out.IsSuccessful {
		t.Error("IsSuccessful = true, want false")
	}
	if !strings.Contains(out.Error, "no sandboxes available") {
		t.Errorf("Error = %q, want acquirer error", out.Error)
	}
}

func TestClient_ReleasesSandbox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ExecuteResponse{IsSuccessful: true})
	}))
	defer srv.Close()

	acq := &countingAcquirer{url: srv.URL}
	c := NewClient(acq)
	c.Execute(context.Background(), "x", "{}", time.Second)
	c.Execute(context.Background(), "x", "{}", time.Second)

	if acq.released != 2 {
		t.Errorf("released = %d, want 2", acq.released)
	}
}
