package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearkenlabs/hearken/internal/app"
	"github.com/hearkenlabs/hearken/internal/config"
	"github.com/hearkenlabs/hearken/internal/observe"
)

var (
	watchDir     string
	pollInterval time.Duration
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe [clip.wav]",
	Short: "Arbitrate a WAV clip, or watch an inbox directory",
	Long: `Arbitrate one WAV clip across the configured speech backends, or poll
an inbox directory and arbitrate every clip dropped into it.

Stereo and non-16kHz input is converted automatically. Low-confidence
results are queued for review; 'hearken reviews' lists the queue.

In watch mode, handled clips move into processed/ or failed/ inside the
inbox, the config file is polled so thresholds and the log level reload
without a restart, and the Prometheus /metrics endpoint is served when
metrics are enabled.

Examples:
  hearken transcribe clip.wav
  hearken transcribe clip.wav --json
  hearken transcribe --watch ./inbox --poll-interval 5s`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTranscribe,
}

func init() {
	transcribeCmd.Flags().StringVar(&watchDir, "watch", "", "poll this inbox directory for new clips")
	transcribeCmd.Flags().DurationVar(&pollInterval, "poll-interval", 2*time.Second, "inbox poll interval in watch mode")

	rootCmd.AddCommand(transcribeCmd)
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	if watchDir == "" && len(args) == 0 {
		return errors.New("provide a WAV file or --watch <dir>")
	}
	if watchDir != "" && len(args) > 0 {
		return errors.New("--watch and a clip argument are mutually exclusive")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The meter provider must be global before the app creates its
	// instruments.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "hearken"})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown incomplete", "error", err)
		}
	}()

	a, cfg, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if watchDir == "" {
		out, err := a.TranscribeFile(ctx, args[0])
		if err != nil {
			return err
		}
		return printOutcome(out)
	}
	return runWatch(ctx, a, cfg)
}

// runWatch serves metrics, hot-reloads the config, and polls the inbox
// until interrupted.
func runWatch(ctx context.Context, a *app.App, cfg *config.Config) error {
	if cfg.Metrics.Enabled {
		srv := observe.NewServer(cfg.Metrics.ListenAddr, a.HealthChecks()...)
		srv.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				slog.Warn("metrics server shutdown incomplete", "error", err)
			}
		}()
	}

	if cw, err := watchConfig(a); err != nil {
		slog.Debug("config hot-reload disabled", "reason", err)
	} else {
		defer cw.Stop()
	}

	watcher := app.NewInboxWatcher(a,
		app.WithPollInterval(pollInterval),
		app.WithOnResult(printWatchResult),
	)
	if err := watcher.Start(ctx, watchDir); err != nil {
		return err
	}

	fmt.Printf("watching %s for clips, Ctrl+C to stop\n", watchDir)
	<-ctx.Done()

	return watcher.Stop()
}

// watchConfig reapplies safe settings when the config file changes.
// Requires the file to exist; running on pure defaults means there is
// nothing to watch.
func watchConfig(a *app.App) (*config.Watcher, error) {
	if _, err := os.Stat(cfgFile); err != nil {
		return nil, err
	}
	return config.NewWatcher(cfgFile, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.ThresholdsChanged {
			err := a.SetThresholds(d.NewThresholds.ReviewThreshold, d.NewThresholds.EscalationThreshold)
			if err != nil {
				slog.Warn("threshold reload rejected", "error", err)
			} else {
				slog.Info("thresholds reloaded",
					"review", d.NewThresholds.ReviewThreshold,
					"escalation", d.NewThresholds.EscalationThreshold,
				)
			}
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level reloaded", "level", d.NewLogLevel)
		}
		if d.BackendsChanged {
			slog.Warn("backend list changed; restart to apply",
				"added", d.BackendsAdded,
				"removed", d.BackendsRemoved,
			)
		}
	})
}

// printOutcome renders a one-shot transcription result.
func printOutcome(out app.TranscribeOutcome) error {
	if outputJSON {
		return printJSON(out)
	}
	res := out.Result
	fmt.Printf("text        %s\n", res.Text)
	fmt.Printf("confidence  %.2f\n", res.Confidence)
	fmt.Printf("source      %s\n", res.Source)
	for _, h := range res.Hints {
		fmt.Printf("hint        %s (%.2f)\n", h.Kind, h.Confidence)
	}
	if out.ClipID != "" {
		fmt.Printf("review      clip queued as %s\n", out.ClipID)
	}
	if n := len(out.WordIDs); n > 0 {
		fmt.Printf("review      %d word(s) queued\n", n)
	}
	return nil
}

// printWatchResult renders one handled inbox clip on a single line.
func printWatchResult(path string, out app.TranscribeOutcome, err error) {
	name := filepath.Base(path)
	if err != nil {
		fmt.Printf("%s  error: %v\n", name, err)
		return
	}
	if outputJSON {
		if jerr := printJSON(out); jerr != nil {
			slog.Warn("result encoding failed", "clip", name, "error", jerr)
		}
		return
	}
	line := fmt.Sprintf("%s  %q  %.2f via %s", name, out.Result.Text, out.Result.Confidence, out.Result.Source)
	if out.ClipID != "" {
		line += "  [review " + out.ClipID + "]"
	}
	if n := len(out.WordIDs); n > 0 {
		line += fmt.Sprintf("  [%d word flags]", n)
	}
	fmt.Println(line)
}
