package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/samsaffron/groq-chat/internal/catalog"
	core "github.com/samsaffron/groq-chat/internal/chat"
	"github.com/samsaffron/groq-chat/internal/config"
	"github.com/samsaffron/groq-chat/internal/llm"
	"github.com/samsaffron/groq-chat/internal/logging"
	"github.com/samsaffron/groq-chat/internal/telemetry"
	"github.com/samsaffron/groq-chat/internal/usage"
	"go.uber.org/zap"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// appRuntime is everything a shell needs to build sessions and stream replies.
type appRuntime struct {
	cfg       *config.Config
	catalog   *catalog.Catalog
	logger    *zap.Logger
	telemetry *telemetry.Providers
	factory   *llm.Factory
	client    *core.Client

	closeLog func() error
}

// newRuntime loads config and wires logging, telemetry, the usage ledger and
// the provider factory. console receives log output when --debug is set.
func newRuntime(ctx context.Context, console io.Writer) (*appRuntime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	logOpts := logging.Options{
		File:       cfg.Log.File,
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}
	if debugMode {
		logOpts.Level = "debug"
		logOpts.Console = console
	}
	logger, closeLog, err := logging.New(logOpts)
	if err != nil {
		return nil, err
	}

	providers, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:        cfg.Telemetry.Enabled,
		Dir:            cfg.Telemetry.Dir,
		ServiceVersion: Version,
	})
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	opts := []core.ClientOption{
		core.WithLogger(logger),
		core.WithTelemetry(providers),
	}
	if cfg.Usage.Enabled {
		opts = append(opts, core.WithUsage(usage.NewLogger(cfg.Usage.Dir)))
	}

	factory := llm.NewFactory(cfg.Providers, nil)
	logger.Debug("runtime ready",
		zap.String("default_model", cfg.DefaultModel),
		zap.Strings("providers", factory.Names()),
		zap.Bool("telemetry", cfg.Telemetry.Enabled),
		zap.Bool("usage", cfg.Usage.Enabled),
	)

	return &appRuntime{
		cfg:       cfg,
		catalog:   cat,
		logger:    logger,
		telemetry: providers,
		factory:   factory,
		client:    core.NewClient(factory, opts...),
		closeLog:  closeLog,
	}, nil
}

// sessionOptions applies the configured defaults. model overrides the
// configured default when non-empty.
func (rt *appRuntime) sessionOptions(model string) []core.Option {
	if model == "" {
		model = rt.cfg.DefaultModel
	}
	return []core.Option{
		core.WithDefaultMaxTokens(rt.cfg.MaxTokens),
		core.WithTemperature(rt.cfg.Temperature),
		core.WithModel(model),
	}
}

// credentials returns the configured key of every provider that has one.
func (rt *appRuntime) credentials() map[string]string {
	out := make(map[string]string)
	for _, name := range rt.factory.Names() {
		if key := rt.factory.DefaultCredential(name); key != "" {
			out[name] = key
		}
	}
	return out
}

// newSession builds a session seeded with the configured credentials.
func (rt *appRuntime) newSession(model string) (*core.Session, error) {
	sess, err := core.NewSession(rt.catalog, rt.sessionOptions(model)...)
	if err != nil {
		return nil, err
	}
	for provider, key := range rt.credentials() {
		sess.SetProviderCredential(provider, key)
	}
	return sess, nil
}

// Close flushes telemetry and the log file.
func (rt *appRuntime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := errors.Join(rt.telemetry.Shutdown(ctx), rt.closeLog())
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: shutdown: %v\n", err)
	}
}
