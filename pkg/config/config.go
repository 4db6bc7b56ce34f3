// Package config provides unified configuration for the probforge server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (PROBFORGE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the probforge server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Generator     GeneratorConfig     `yaml:"generator"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 1 MiB
	MCP             MCPConfig     `yaml:"mcp"`
}

// MCPConfig holds settings for the MCP tool surface.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/mcp"
}

// GeneratorConfig holds the text-generation backend settings.
type GeneratorConfig struct {
	BackendURL     string        `yaml:"backend_url"`     // required
	APIKey         string        `yaml:"api_key"`         // optional
	APIKeyFile     string        `yaml:"api_key_file"`    // _file variant for api_key
	Model          string        `yaml:"model"`           // required
	Timeout        time.Duration `yaml:"timeout"`         // default: 120s
	Temperature    *float64      `yaml:"temperature"`     // optional
	MaxTokens      int           `yaml:"max_tokens"`      // optional
	ResponseFormat string        `yaml:"response_format"` // "json_schema", "json_object" or "none", default: "json_schema"
}

// SandboxConfig holds code execution settings.
type SandboxConfig struct {
	Mode         string           `yaml:"mode"`          // "static" or "kubernetes", default: "static"
	URL          string           `yaml:"url"`           // sandbox server URL for mode=static
	Timeout      time.Duration    `yaml:"timeout"`       // per test case, default: 10s
	Grace        time.Duration    `yaml:"grace"`         // client allowance on top of timeout, default: 5s
	Concurrency  int              `yaml:"concurrency"`   // parallel test cases, default: 1
	MessageLimit int              `yaml:"message_limit"` // bytes per error message, default: 300
	Kubernetes   KubernetesConfig `yaml:"kubernetes"`
}

// KubernetesConfig holds SandboxClaim settings for mode=kubernetes.
type KubernetesConfig struct {
	Template     string        `yaml:"template"`
	Namespace    string        `yaml:"namespace"`     // default: "default"
	ClaimTimeout time.Duration `yaml:"claim_timeout"` // default: 30s
	Port         int           `yaml:"port"`          // default: 8080
}

// PipelineConfig holds generation pipeline settings.
type PipelineConfig struct {
	MaxAttempts          map[string]int `yaml:"max_attempts"`    // per stage, default: 3 each
	RetryDelay           time.Duration  `yaml:"retry_delay"`     // default: 0
	MinTests             int            `yaml:"min_tests"`       // default: 5
	MaxExamples          int            `yaml:"max_examples"`    // default: 3
	ErrorMessageLimit    int            `yaml:"error_message_limit"`
	DefaultMemoryLimitMB int            `yaml:"default_memory_limit_mb"`
	StarterLanguages     []string       `yaml:"starter_languages"`
	Languages            []string       `yaml:"languages"` // accepted solution languages
	MaxPromptLength      int            `yaml:"max_prompt_length"`
	MaxTargetLanguages   int            `yaml:"max_target_languages"`
}

// StorageConfig holds job persistence settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type"`     // "none", "apikey" or "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"` // entries for type=apikey
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string   `yaml:"key" json:"key"`
	KeyFile     string   `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string   `yaml:"subject" json:"subject"`
	ServiceTier string   `yaml:"service_tier" json:"service_tier"`
	Scopes      []string `yaml:"scopes" json:"scopes"` // problems:read, problems:write; empty grants both
}

// JWTConfig holds HS256 token settings for type=jwt.
type JWTConfig struct {
	Secret     string        `yaml:"secret"`
	SecretFile string        `yaml:"secret_file"` // _file variant for secret
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	Leeway     time.Duration `yaml:"leeway"`
}

// RateLimitConfig holds per-tier request limits.
type RateLimitConfig struct {
	Enabled    bool           `yaml:"enabled"`
	DefaultRPM int            `yaml:"default_rpm"` // default: 60
	Tiers      map[string]int `yaml:"tiers"`       // tier -> requests per minute
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig holds log output settings. PROBFORGE_DEBUG and
// PROBFORGE_LOG_LEVEL still win at startup.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "trace", "debug", "info", "warn" or "error", default: "info"
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     1 << 20,
			MCP: MCPConfig{
				Enabled: true,
				Path:    "/mcp",
			},
		},
		Generator: GeneratorConfig{
			Timeout:        120 * time.Second,
			ResponseFormat: "json_schema",
		},
		Sandbox: SandboxConfig{
			Mode:         "static",
			Timeout:      10 * time.Second,
			Grace:        5 * time.Second,
			Concurrency:  1,
			MessageLimit: 300,
			Kubernetes: KubernetesConfig{
				Namespace:    "default",
				ClaimTimeout: 30 * time.Second,
				Port:         8080,
			},
		},
		Pipeline: PipelineConfig{
			MinTests:             5,
			MaxExamples:          3,
			ErrorMessageLimit:    500,
			DefaultMemoryLimitMB: 256,
			Languages:            []string{"python", "javascript"},
			MaxPromptLength:      4000,
			MaxTargetLanguages:   5,
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Auth: AuthConfig{
			Type: "none",
			RateLimit: RateLimitConfig{
				DefaultRPM: 60,
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
