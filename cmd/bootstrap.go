package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/samsaffron/grok-mind/internal/broadcast"
	"github.com/samsaffron/grok-mind/internal/config"
	"github.com/samsaffron/grok-mind/internal/llm"
	"github.com/samsaffron/grok-mind/internal/session"
	"github.com/samsaffron/grok-mind/internal/usage"
)

// app is the wiring shared by serve, monitor and ask: one session state,
// one completion client and the coordinator that owns both.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	client llm.Client
	coord  *broadcast.Coordinator
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	return setupLogger(w,
		firstNonEmpty(logLevel, cfg.Log.Level),
		firstNonEmpty(logFormat, cfg.Log.Format),
	)
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	state := session.New(
		session.WithActivityLimit(cfg.ActivityLimit),
		session.WithPreviewLength(cfg.PreviewLength),
	)

	var ledger *usage.Logger
	if cfg.UsageLog {
		ledger = usage.NewLogger("")
		log.Debug().Str("dir", ledger.Dir()).Msg("usage ledger enabled")
	}

	coord := broadcast.New(state, client, broadcast.Config{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		Timeout:  cfg.Timeout,
		Logger:   log,
		Ledger:   ledger,
	})

	return &app{cfg: cfg, log: log, client: client, coord: coord}, nil
}
