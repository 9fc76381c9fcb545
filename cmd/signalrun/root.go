package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/marketwise/signalrun/internal/config"
	"github.com/marketwise/signalrun/internal/data"
	"github.com/marketwise/signalrun/internal/domain/indicators"
	"github.com/marketwise/signalrun/internal/engine"
	"github.com/marketwise/signalrun/internal/metrics"
	"github.com/marketwise/signalrun/internal/scan"
)

var (
	flagConfig string
	flagCSVDir string
)

// Execute runs the signalrun CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:           "signalrun",
		Short:         "Signal scoring and decision engine for market data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config (defaults baked in)")
	root.PersistentFlags().StringVar(&flagCSVDir, "csv-dir", "data", "directory with <TICKER>_<timeframe>.csv bar files")

	root.AddCommand(evaluateCmd())
	root.AddCommand(scanCmd())
	root.AddCommand(serveCmd())

	return root.ExecuteContext(ctx)
}

func loadConfig() (config.Config, error) {
	if flagConfig == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(flagConfig)
}

// runtime bundles the wired pipeline shared by the commands.
type runtime struct {
	cfg      config.Config
	engine   *engine.Engine
	scanner  *scan.Scanner
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

func buildRuntime() (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if flagCSVDir == "" {
		return nil, fmt.Errorf("--csv-dir is required")
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	fetch := data.GuardFetch(csvFetch(flagCSVDir), data.DefaultGuardConfig())
	gate := data.NewGate(cfg.Cache, fetch, data.WithGateMetrics(m))
	eng := engine.New(cfg, gate, indicators.Compute, engine.WithMetrics(m))
	scanner := scan.New(cfg.Scanner, eng, scan.WithMetrics(m))

	return &runtime{
		cfg:      cfg,
		engine:   eng,
		scanner:  scanner,
		metrics:  m,
		registry: registry,
	}, nil
}
