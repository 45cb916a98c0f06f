// Package commands implements the hearken CLI subcommands.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hearkenlabs/hearken/internal/app"
	"github.com/hearkenlabs/hearken/internal/config"
)

// shutdownTimeout bounds every graceful teardown (app, metrics server,
// telemetry flush).
const shutdownTimeout = 15 * time.Second

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	verbose    bool

	// logLevel backs every handler built by newLogHandler, so watch mode
	// can hot-reload verbosity without replacing the logger.
	logLevel = new(slog.LevelVar)
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "hearken",
	Short: "Confidence-scored transcription arbiter with a human review loop",
	Long: `Hearken arbitrates speech-to-text results across multiple backends,
queues low-confidence clips and suspicious words for human review, and
learns from the corrections: reviewed text becomes an instant-answer
override, grows the lexicon, calibrates confidence scores, and trains a
local fallback model.

Examples:
  # Transcribe one clip
  hearken transcribe clip.wav

  # Watch an inbox directory for new clips
  hearken transcribe --watch ./inbox

  # Work the review queue
  hearken reviews
  hearken correct <id> "turn on the lights" --reviewer alice
  hearken skip <id>

  # Inspect learning progress and train the local model
  hearken stats
  hearken train`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(loadDotEnv)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "hearken.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON (for piping)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging regardless of the configured level")
}

// loadDotEnv pulls secrets like backend API keys from a local .env file.
// A missing file is the normal case.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: .env: %v\n", err)
	}
}

// loadConfig reads the configured YAML file. A missing file at the
// default location falls back to built-in defaults; a file named
// explicitly with --config must exist.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	switch {
	case err == nil:
		return cfg, nil
	case errors.Is(err, os.ErrNotExist) && !rootCmd.PersistentFlags().Changed("config"):
		return config.Default(), nil
	default:
		return nil, err
	}
}

// setupLogging installs the default logger per the config and the
// --verbose flag.
func setupLogging(cfg *config.Config) {
	logLevel.Set(slogLevel(cfg.Log.Level))
	slog.SetDefault(slog.New(newLogHandler(cfg.Log.Format)))
}

func newLogHandler(format config.LogFormat) slog.Handler {
	opts := &slog.HandlerOptions{Level: logLevel}
	if format == config.LogJSON {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

func slogLevel(level config.LogLevel) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openApp loads the config, wires logging, and builds the application.
func openApp(ctx context.Context, opts ...app.Option) (*app.App, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	setupLogging(cfg)
	a, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

// closeApp shuts the application down with a bounded grace period.
func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
