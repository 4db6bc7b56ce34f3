// Command server runs the probforge problem generation service.
//
// Configuration is loaded from a YAML file (-config, PROBFORGE_CONFIG,
// ./config.yaml or /etc/probforge/config.yaml) with PROBFORGE_* environment
// overrides. See pkg/config for the full list.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/rhuss/probforge/pkg/api"
	"github.com/rhuss/probforge/pkg/auth"
	"github.com/rhuss/probforge/pkg/auth/apikey"
	"github.com/rhuss/probforge/pkg/auth/jwt"
	"github.com/rhuss/probforge/pkg/config"
	"github.com/rhuss/probforge/pkg/debug"
	"github.com/rhuss/probforge/pkg/generator/openaicompat"
	"github.com/rhuss/probforge/pkg/mcpserver"
	"github.com/rhuss/probforge/pkg/observability"
	"github.com/rhuss/probforge/pkg/pipeline"
	"github.com/rhuss/probforge/pkg/sandbox"
	"github.com/rhuss/probforge/pkg/sandbox/kubernetes"
	"github.com/rhuss/probforge/pkg/storage"
	"github.com/rhuss/probforge/pkg/storage/memory"
	"github.com/rhuss/probforge/pkg/storage/postgres"
	"github.com/rhuss/probforge/pkg/transport"
	transporthttp "github.com/rhuss/probforge/pkg/transport/http"
	"github.com/rhuss/probforge/pkg/validator"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	debug.Init(cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format)

	ctx := context.Background()

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	defer store.Close()

	gen := newGenerator(cfg.Generator)
	defer gen.Close()

	acquirer, err := newAcquirer(cfg.Sandbox)
	if err != nil {
		return fmt.Errorf("creating sandbox acquirer: %w", err)
	}
	sb := sandbox.NewClient(acquirer, sandbox.WithGrace(cfg.Sandbox.Grace))
	val := validator.New(sb, validator.Config{
		Timeout:      cfg.Sandbox.Timeout,
		Concurrency:  cfg.Sandbox.Concurrency,
		MessageLimit: cfg.Sandbox.MessageLimit,
	})

	pc := pipelineConfig(cfg.Pipeline)
	orch, err := pipeline.New(gen, val, store, pc)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(":" + strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithValidation(pc.Validation),
		transporthttp.WithReadinessCheck("generator", gen.HealthCheck),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	}

	if cfg.Observability.Metrics.Enabled {
		opts = append(opts,
			transporthttp.WithHTTPMiddleware(observability.MetricsMiddleware),
			transporthttp.WithMount("GET "+cfg.Observability.Metrics.Path, promhttp.Handler()),
		)
	}

	authMW, err := newAuthMiddleware(cfg)
	if err != nil {
		return fmt.Errorf("configuring auth: %w", err)
	}
	if authMW != nil {
		opts = append(opts, transporthttp.WithHTTPMiddleware(authMW))
	}

	if cfg.Server.MCP.Enabled {
		mcpSrv := mcpserver.New(orch, store,
			[]transport.Middleware{transport.Recovery(), transport.RequestID()},
			mcpserver.WithVersion(version),
		)
		opts = append(opts, transporthttp.WithMount(cfg.Server.MCP.Path, mcpSrv.Handler()))
	}

	slog.Info("probforge starting",
		"version", version,
		"port", cfg.Server.Port,
		"generator", cfg.Generator.BackendURL,
		"model", gen.Model(),
		"sandbox_mode", cfg.Sandbox.Mode,
		"storage", cfg.Storage.Type,
		"auth", cfg.Auth.Type,
		"mcp", cfg.Server.MCP.Enabled,
	)

	return transporthttp.NewServer(orch, store, opts...).ListenAndServe()
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("storage enabled", "type", "postgres", "max_conns", cfg.Postgres.MaxConns)
		return s, nil
	default:
		slog.Info("storage enabled", "type", "memory", "max_size", cfg.MaxSize)
		return memory.New(cfg.MaxSize), nil
	}
}

func newGenerator(cfg config.GeneratorConfig) *openaicompat.Client {
	opts := []openaicompat.Option{
		openaicompat.WithMaxTokens(cfg.MaxTokens),
		openaicompat.WithResponseFormat(cfg.ResponseFormat),
	}
	if cfg.Temperature != nil {
		opts = append(opts, openaicompat.WithTemperature(*cfg.Temperature))
	}
	return openaicompat.NewClient(cfg.BackendURL, cfg.APIKey, cfg.Model, cfg.Timeout, opts...)
}

func newAcquirer(cfg config.SandboxConfig) (sandbox.Acquirer, error) {
	if cfg.Mode != "kubernetes" {
		return sandbox.StaticAcquirer{URL: cfg.URL}, nil
	}

	restCfg, err := ctrlconfig.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig: %w", err)
	}
	scheme, err := kubernetes.NewScheme()
	if err != nil {
		return nil, err
	}
	c, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	slog.Info("sandbox claims enabled", "template", cfg.Kubernetes.Template, "namespace", cfg.Kubernetes.Namespace)
	return kubernetes.NewClaimAcquirer(c, kubernetes.Config{
		Template:     cfg.Kubernetes.Template,
		Namespace:    cfg.Kubernetes.Namespace,
		ClaimTimeout: cfg.Kubernetes.ClaimTimeout,
		Port:         cfg.Kubernetes.Port,
	}), nil
}

func pipelineConfig(cfg config.PipelineConfig) pipeline.Config {
	pc := pipeline.DefaultConfig()
	if len(cfg.MaxAttempts) > 0 {
		pc.MaxAttempts = make(map[api.Stage]int, len(cfg.MaxAttempts))
		for name, n := range cfg.MaxAttempts {
			pc.MaxAttempts[api.Stage(name)] = n
		}
	}
	pc.RetryDelay = cfg.RetryDelay
	pc.MinTests = cfg.MinTests
	pc.MaxExamples = cfg.MaxExamples
	pc.ErrorMessageLimit = cfg.ErrorMessageLimit
	pc.DefaultMemoryLimitMB = cfg.DefaultMemoryLimitMB
	pc.StarterLanguages = cfg.StarterLanguages
	pc.Validation = api.ValidationConfig{
		MaxPromptLength:    cfg.MaxPromptLength,
		MaxTargetLanguages: cfg.MaxTargetLanguages,
		Languages:          cfg.Languages,
	}
	return pc
}

// newAuthMiddleware returns nil when auth is disabled.
func newAuthMiddleware(cfg *config.Config) (func(http.Handler) http.Handler, error) {
	var authn auth.Authenticator
	switch cfg.Auth.Type {
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			entries = append(entries, apikey.RawKeyEntry{
				Key: k.Key,
				Identity: auth.Identity{
					Subject:     k.Subject,
					ServiceTier: k.ServiceTier,
					Scopes:      k.Scopes,
				},
			})
		}
		authn = apikey.New(entries)
	case "jwt":
		a, err := jwt.New(jwt.Config{
			Secret:   []byte(cfg.Auth.JWT.Secret),
			Issuer:   cfg.Auth.JWT.Issuer,
			Audience: cfg.Auth.JWT.Audience,
			Leeway:   cfg.Auth.JWT.Leeway,
		})
		if err != nil {
			return nil, err
		}
		authn = a
	default:
		return nil, nil
	}

	var limiter auth.RateLimiter
	if rl := cfg.Auth.RateLimit; rl.Enabled {
		tiers := make(map[string]auth.TierConfig, len(rl.Tiers))
		for name, rpm := range rl.Tiers {
			tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
		}
		limiter = auth.NewInProcessLimiter(tiers, rl.DefaultRPM)
	}

	bypass := append([]string{}, auth.DefaultBypassEndpoints...)
	if cfg.Observability.Metrics.Enabled {
		bypass = append(bypass, cfg.Observability.Metrics.Path)
	}
	chain := &auth.AuthChain{
		Authenticators:  []auth.Authenticator{authn},
		DefaultDecision: auth.No,
	}
	return auth.Middleware(chain, limiter, bypass), nil
}
