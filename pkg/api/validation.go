package api

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxPromptLength    int
	MaxTargetLanguages int
	Languages          []string
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxPromptLength:    4000,
		MaxTargetLanguages: 5,
		Languages:          []string{"python", "javascript"},
	}
}

// NormalizeRequest fills defaults into a GenerateRequest.
func NormalizeRequest(req *GenerateRequest) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Difficulty == "" {
		req.Difficulty = DifficultyMedium
	}
	if req.Language == "" {
		req.Language = "python"
	}
}

// ValidateRequest checks a GenerateRequest for validity. It returns an
// *APIError describing the first validation failure, or nil if the request is valid.
func ValidateRequest(req *GenerateRequest, cfg ValidationConfig) *APIError {
	if strings.TrimSpace(req.Prompt) == "" {
		return NewInvalidRequestError("prompt", "prompt is required")
	}

	if cfg.MaxPromptLength > 0 && utf8.RuneCountInString(req.Prompt) > cfg.MaxPromptLength {
		return NewInvalidRequestError("prompt",
			fmt.Sprintf("prompt exceeds maximum of %d characters", cfg.MaxPromptLength))
	}

	if req.Difficulty != "" && !req.Difficulty.Valid() {
		return NewInvalidRequestError("difficulty",
			fmt.Sprintf("difficulty must be one of easy, medium, hard, got %q", req.Difficulty))
	}

	if req.Language != "" && len(cfg.Languages) > 0 && !contains(cfg.Languages, req.Language) {
		return NewInvalidRequestError("language",
			fmt.Sprintf("unsupported language %q", req.Language))
	}

	if cfg.MaxTargetLanguages > 0 && len(req.TargetLanguages) > cfg.MaxTargetLanguages {
		return NewInvalidRequestError("target_languages",
			fmt.Sprintf("target_languages exceeds maximum of %d", cfg.MaxTargetLanguages))
	}

	for _, lang := range req.TargetLanguages {
		if strings.TrimSpace(lang) == "" {
			return NewInvalidRequestError("target_languages", "target language must not be empty")
		}
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
