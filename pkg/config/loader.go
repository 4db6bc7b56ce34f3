package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, PROBFORGE_CONFIG env, ./config.yaml, /etc/probforge/config.yaml)
//  3. PROBFORGE_* environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. PROBFORGE_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/probforge/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("PROBFORGE_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/probforge/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// envOverride binds one environment variable to a config field.
type envOverride struct {
	name  string
	apply func(cfg *Config, v string) error
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*field(cfg) = v
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(cfg) = n
		return nil
	}
}

func setDuration(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(cfg) = d
		return nil
	}
}

func setBool(field func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(cfg) = b
		return nil
	}
}

var envOverrides = []envOverride{
	{"PROBFORGE_PORT", setInt(func(c *Config) *int { return &c.Server.Port })},
	{"PROBFORGE_MCP_ENABLED", setBool(func(c *Config) *bool { return &c.Server.MCP.Enabled })},
	{"PROBFORGE_GENERATOR_URL", setString(func(c *Config) *string { return &c.Generator.BackendURL })},
	{"PROBFORGE_GENERATOR_API_KEY", setString(func(c *Config) *string { return &c.Generator.APIKey })},
	{"PROBFORGE_GENERATOR_MODEL", setString(func(c *Config) *string { return &c.Generator.Model })},
	{"PROBFORGE_GENERATOR_TIMEOUT", setDuration(func(c *Config) *time.Duration { return &c.Generator.Timeout })},
	{"PROBFORGE_RESPONSE_FORMAT", setString(func(c *Config) *string { return &c.Generator.ResponseFormat })},
	{"PROBFORGE_SANDBOX_MODE", setString(func(c *Config) *string { return &c.Sandbox.Mode })},
	{"PROBFORGE_SANDBOX_URL", setString(func(c *Config) *string { return &c.Sandbox.URL })},
	{"PROBFORGE_SANDBOX_TIMEOUT", setDuration(func(c *Config) *time.Duration { return &c.Sandbox.Timeout })},
	{"PROBFORGE_SANDBOX_CONCURRENCY", setInt(func(c *Config) *int { return &c.Sandbox.Concurrency })},
	{"PROBFORGE_SANDBOX_TEMPLATE", setString(func(c *Config) *string { return &c.Sandbox.Kubernetes.Template })},
	{"PROBFORGE_SANDBOX_NAMESPACE", setString(func(c *Config) *string { return &c.Sandbox.Kubernetes.Namespace })},
	{"PROBFORGE_MIN_TESTS", setInt(func(c *Config) *int { return &c.Pipeline.MinTests })},
	{"PROBFORGE_MAX_EXAMPLES", setInt(func(c *Config) *int { return &c.Pipeline.MaxExamples })},
	{"PROBFORGE_STORAGE", setString(func(c *Config) *string { return &c.Storage.Type })},
	{"PROBFORGE_STORAGE_SIZE", setInt(func(c *Config) *int { return &c.Storage.MaxSize })},
	{"PROBFORGE_POSTGRES_DSN", setString(func(c *Config) *string { return &c.Storage.Postgres.DSN })},
	{"PROBFORGE_AUTH_TYPE", setString(func(c *Config) *string { return &c.Auth.Type })},
	{"PROBFORGE_JWT_SECRET", setString(func(c *Config) *string { return &c.Auth.JWT.Secret })},
	{"PROBFORGE_LOG_FORMAT", setString(func(c *Config) *string { return &c.Logging.Format })},
}

// applyEnvOverrides maps PROBFORGE_* environment variables to config
// fields. PROBFORGE_API_KEYS holds a JSON array of API key entries.
// Malformed values are reported together.
func applyEnvOverrides(cfg *Config) error {
	var errs []string
	for _, o := range envOverrides {
		v := os.Getenv(o.name)
		if v == "" {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q: %v", o.name, v, err))
		}
	}

	if v := os.Getenv("PROBFORGE_API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err != nil {
			errs = append(errs, "PROBFORGE_API_KEYS: "+err.Error())
		} else if len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing API keys JSON: %w", err)
	}
	return keys, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	refs := []struct {
		name  string
		file  string
		value *string
	}{
		{"generator.api_key_file", cfg.Generator.APIKeyFile, &cfg.Generator.APIKey},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
		{"auth.jwt.secret_file", cfg.Auth.JWT.SecretFile, &cfg.Auth.JWT.Secret},
	}
	for i := range cfg.Auth.APIKeys {
		refs = append(refs, struct {
			name  string
			file  string
			value *string
		}{fmt.Sprintf("auth.api_keys[%d].key_file", i), cfg.Auth.APIKeys[i].KeyFile, &cfg.Auth.APIKeys[i].Key})
	}

	for _, ref := range refs {
		if ref.file == "" || *ref.value != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.value = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
