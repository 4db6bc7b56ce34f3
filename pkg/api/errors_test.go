package api

import (
	"encoding/json"
	"testing"
)

func TestAPIErrorInterface(t *testing.T) {
	var _ error = &APIError{}
}

func TestAPIErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			"with param",
			&APIError{Type: ErrorTypeInvalidRequest, Param: "prompt", Message: "is required"},
			"invalid_request: is required (param: prompt)",
		},
		{
			"without param",
			&APIError{Type: ErrorTypeServerError, Message: "internal failure"},
			"server_error: internal failure",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("APIError.Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name      string
		err       *APIError
		wantType  ErrorType
		wantParam string
		wantCode  string
	}{
		{"invalid request", NewInvalidRequestError("prompt", "is required"), ErrorTypeInvalidRequest, "prompt", ""},
		{"not found", NewNotFoundError("job not found"), ErrorTypeNotFound, "", ""},
		{"unauthorized", NewUnauthorizedError("token expired"), ErrorTypeUnauthorized, "", ""},
		{"forbidden", NewForbiddenError("requires problems:write"), ErrorTypeForbidden, "", ""},
		{"server error", NewServerError("internal failure"), ErrorTypeServerError, "", ""},
		{"generation error", NewGenerationError(StageIntent, "retries exhausted"), ErrorTypeGenerationError, "", "intent"},
		{"too many requests", NewTooManyRequestsError("rate limit exceeded"), ErrorTypeTooManyRequests, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", tt.err.Type, tt.wantType)
			}
			if tt.err.Param != tt.wantParam {
				t.Errorf("Param = %q, want %q", tt.err.Param, tt.wantParam)
			}
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
		})
	}
}

func TestErrorResponseJSON(t *testing.T) {
	data, err := json.Marshal(ErrorResponse{Error: NewNotFoundError("job not found")})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"error":{"type":"not_found","message":"job not found"}}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}
