// Command paper runs the full trading stack against the in-process simulated
// venue with a synthetic correlated feed. It needs no external services or
// credentials and is the quickest way to watch the engine trade.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashwalker/pairbot/internal/app"
	"github.com/ashwalker/pairbot/internal/config"
)

func main() {
	configPath := flag.String("config", "", "optional configuration file; defaults are used when omitted")
	telemetryDir := flag.String("telemetry", "telemetry", "directory for telemetry CSV files")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("failed to load config", slog.String("error", err.Error()))
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = defaultPaperConfig(*telemetryDir)
	}
	cfg.Mode = "paper"
	cfg.Engine.Venue = "sim"

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	defer application.Close()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("paper run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("paper run stopped")
}

// defaultPaperConfig builds a single-group configuration for the simulated
// venue. The generator drives the pair at slope 2, so the model has a real
// link to recover.
func defaultPaperConfig(telemetryDir string) *config.Config {
	cfg := config.Defaults()
	cfg.Telemetry.Dir = telemetryDir
	cfg.Groups = []config.GroupConfig{{
		ID:              "sim-pair",
		Reference:       config.InstrumentConfig{Venue: "sim", Symbol: "REF", TickSize: 0.01, MinOrderSize: 0.1},
		Dependent:       config.InstrumentConfig{Venue: "sim", Symbol: "DEP", TickSize: 0.01, MinOrderSize: 0.1},
		Window:          240,
		MinObservations: 60,
		ZScoreThreshold: 2.5,
		FeeBps:          1,
		TradeSize:       5,
		MaxStaleness:    config.Duration{Duration: 2 * time.Second},
		MinTTL:          config.Duration{Duration: 150 * time.Millisecond},
	}}
	return &cfg
}
