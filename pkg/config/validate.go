package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/auth"
	"github.com/rhuss/probforge/pkg/debug"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Server.MCP.Enabled && !strings.HasPrefix(c.Server.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("server.mcp.path must start with \"/\", got %q", c.Server.MCP.Path))
	}

	errs = append(errs, c.validateGenerator()...)
	errs = append(errs, c.validateSandbox()...)
	errs = append(errs, c.validatePipeline()...)

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}

	errs = append(errs, c.validateAuth()...)

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}
	for _, cat := range strings.Split(c.Logging.Debug, ",") {
		cat = strings.ToLower(strings.TrimSpace(cat))
		if cat != "" && cat != "all" && !contains(debug.KnownCategories, cat) {
			errs = append(errs, fmt.Errorf("logging.debug: unknown category %q", cat))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) validateGenerator() []error {
	var errs []error
	if c.Generator.BackendURL == "" {
		errs = append(errs, fmt.Errorf("generator.backend_url is required"))
	} else if u, err := url.Parse(c.Generator.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("generator.backend_url must be an absolute URL, got %q", c.Generator.BackendURL))
	}
	if c.Generator.Model == "" {
		errs = append(errs, fmt.Errorf("generator.model is required"))
	}
	switch c.Generator.ResponseFormat {
	case "", "json_schema", "json_object", "none":
	default:
		errs = append(errs, fmt.Errorf("generator.response_format must be \"json_schema\", \"json_object\" or \"none\", got %q", c.Generator.ResponseFormat))
	}
	return errs
}

func (c *Config) validateSandbox() []error {
	var errs []error
	switch c.Sandbox.Mode {
	case "static":
		if c.Sandbox.URL == "" {
			errs = append(errs, fmt.Errorf("sandbox.url is required when sandbox.mode is \"static\""))
		}
	case "kubernetes":
		if c.Sandbox.Kubernetes.Template == "" {
			errs = append(errs, fmt.Errorf("sandbox.kubernetes.template is required when sandbox.mode is \"kubernetes\""))
		}
	default:
		errs = append(errs, fmt.Errorf("sandbox.mode must be \"static\" or \"kubernetes\", got %q", c.Sandbox.Mode))
	}
	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.timeout must be > 0, got %s", c.Sandbox.Timeout))
	}
	if c.Sandbox.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("sandbox.concurrency must be >= 1, got %d", c.Sandbox.Concurrency))
	}
	return errs
}

func (c *Config) validatePipeline() []error {
	var errs []error
	for name, n := range c.Pipeline.MaxAttempts {
		if !knownStage(api.Stage(name)) {
			errs = append(errs, fmt.Errorf("pipeline.max_attempts: unknown stage %q", name))
		}
		if n < 1 {
			errs = append(errs, fmt.Errorf("pipeline.max_attempts.%s must be >= 1, got %d", name, n))
		}
	}
	if c.Pipeline.MinTests < 1 {
		errs = append(errs, fmt.Errorf("pipeline.min_tests must be >= 1, got %d", c.Pipeline.MinTests))
	}
	if c.Pipeline.MaxExamples < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_examples must be >= 0, got %d", c.Pipeline.MaxExamples))
	}
	if len(c.Pipeline.Languages) == 0 {
		errs = append(errs, fmt.Errorf("pipeline.languages must not be empty"))
	}
	return errs
}

func (c *Config) validateAuth() []error {
	var errs []error
	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d]: key or key_file is required", i))
			}
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
			}
			for _, scope := range k.Scopes {
				if scope != auth.ScopeRead && scope != auth.ScopeWrite {
					errs = append(errs, fmt.Errorf("auth.api_keys[%d].scopes: unknown scope %q (want %s or %s)",
						i, scope, auth.ScopeRead, auth.ScopeWrite))
				}
			}
		}
	case "jwt":
		if c.Auth.JWT.Secret == "" && c.Auth.JWT.SecretFile == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.secret or auth.jwt.secret_file is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\" or \"jwt\", got %q", c.Auth.Type))
	}
	if c.Auth.RateLimit.Enabled && c.Auth.Type == "none" {
		errs = append(errs, fmt.Errorf("auth.rate_limit requires auth.type \"apikey\" or \"jwt\""))
	}
	return errs
}

// knownStage reports whether s names a stage that takes attempts.
func knownStage(s api.Stage) bool {
	switch s {
	case api.StageIntent, api.StageTestDesign, api.StageSolutionGen, api.StageTestFinalize,
		api.StageConstraints, api.StageStarterCode, api.StageSemanticValidate,
		api.StageDescription, api.StageTitle, api.StageTranslate:
		return true
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
