// Command memetrader runs the token decision engine: live against mock or
// real providers, or as a backtest over a historical dataset.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"memetrader/internal/config"
	"memetrader/internal/observability"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	traceOut   string
)

var rootCmd = &cobra.Command{
	Use:   "memetrader",
	Short: "Deterministic Solana token decision engine",
	Long: `memetrader evaluates candidate Solana tokens against market and on-chain
signals, simulates execution and records every decision and trade. Live runs
and backtests share one evaluation path, so a backtest of captured snapshots
reproduces the live run byte for byte.

Configuration comes from --config (YAML), a .env file in the working
directory and environment variables, in that order of precedence.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console, json or auto")
	rootCmd.PersistentFlags().StringVar(&traceOut, "trace", "", "Write fetch spans to this file (\"-\" for stderr)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env is what every command starts from.
type env struct {
	cfg     config.Config
	logger  zerolog.Logger
	metrics *observability.Metrics
	hash    string
	cleanup []func()
}

func (e *env) close() {
	for i := len(e.cleanup) - 1; i >= 0; i-- {
		e.cleanup[i]()
	}
}

// setup loads and validates configuration, then builds logging, metrics
// and, when requested, tracing.
func setup() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	hash, err := cfg.Hash()
	if err != nil {
		return nil, err
	}

	e := &env{
		cfg:     cfg,
		logger:  observability.NewLogger(os.Stderr, cfg.Log.Format, cfg.Log.Level),
		metrics: observability.NewMetrics(""),
		hash:    hash,
	}

	if traceOut != "" {
		var w io.Writer = os.Stderr
		if traceOut != "-" {
			f, err := os.Create(traceOut)
			if err != nil {
				return nil, fmt.Errorf("open trace output: %w", err)
			}
			e.cleanup = append(e.cleanup, func() { _ = f.Close() })
			w = f
		}
		shutdown, err := observability.InitTracing(w)
		if err != nil {
			e.close()
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		e.cleanup = append(e.cleanup, func() { _ = shutdown(context.Background()) })
	}
	return e, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
