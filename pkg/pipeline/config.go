package pipeline

import (
	"slices"
	"time"

	"github.com/rhuss/probforge/pkg/api"
)

// Defaults applied when the corresponding Config field is zero.
const (
	DefaultMaxAttempts       = 3
	DefaultMinTests          = 5
	DefaultMaxExamples       = 3
	DefaultErrorMessageLimit = 500
	DefaultMemoryLimitMB     = 256
	MaxTitleLength           = 120
)

// Config holds pipeline settings.
type Config struct {
	// MaxAttempts per stage. Stages missing from the map use
	// DefaultMaxAttempts. The solution_gen entry is the shared budget of the
	// generate/validate loop.
	MaxAttempts map[api.Stage]int

	// RetryDelay between attempts. Zero means stage.DefaultDelay; negative
	// disables the pause.
	RetryDelay time.Duration

	// MinTests is the minimum number of designed test inputs.
	MinTests int

	// MaxExamples caps the examples shown in the description.
	MaxExamples int

	// ErrorMessageLimit bounds the persisted error message in bytes.
	ErrorMessageLimit int

	// DefaultMemoryLimitMB is used when the generator proposes no memory limit.
	DefaultMemoryLimitMB int

	// StarterLanguages are the languages that get starter code in addition
	// to the job's solution language.
	StarterLanguages []string

	// Validation limits applied to incoming requests.
	Validation api.ValidationConfig
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{
		MinTests:             DefaultMinTests,
		MaxExamples:          DefaultMaxExamples,
		ErrorMessageLimit:    DefaultErrorMessageLimit,
		DefaultMemoryLimitMB: DefaultMemoryLimitMB,
		StarterLanguages:     []string{"python", "javascript"},
		Validation:           api.DefaultValidationConfig(),
	}
}

func (c Config) maxAttempts(s api.Stage) int {
	if n := c.MaxAttempts[s]; n > 0 {
		return n
	}
	return DefaultMaxAttempts
}

func (c Config) minTests() int {
	if c.MinTests <= 0 {
		return DefaultMinTests
	}
	return c.MinTests
}

func (c Config) maxExamples() int {
	if c.MaxExamples <= 0 {
		return DefaultMaxExamples
	}
	return c.MaxExamples
}

func (c Config) errorMessageLimit() int {
	if c.ErrorMessageLimit <= 0 {
		return DefaultErrorMessageLimit
	}
	return c.ErrorMessageLimit
}

func (c Config) memoryLimitMB() int {
	if c.DefaultMemoryLimitMB <= 0 {
		return DefaultMemoryLimitMB
	}
	return c.DefaultMemoryLimitMB
}

// starterLanguages returns the solution language followed by the configured
// starter languages, without duplicates.
func (c Config) starterLanguages(solution string) []string {
	langs := []string{solution}
	for _, l := range c.StarterLanguages {
		if l != "" && !slices.Contains(langs, l) {
			langs = append(langs, l)
		}
	}
	return langs
}

func (c Config) validation() api.ValidationConfig {
	v := c.Validation
	if v.MaxPromptLength == 0 && v.MaxTargetLanguages == 0 && v.Languages == nil {
		return api.DefaultValidationConfig()
	}
	return v
}
