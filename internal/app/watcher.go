package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hearkenlabs/hearken/pkg/audio"
)

const (
	defaultPollInterval = 2 * time.Second

	processedDir = "processed"
	failedDir    = "failed"
)

// TranscribeFile reads a WAV clip from disk, converts it to the facade's
// PCM format, and arbitrates it through TranscribeWithReview.
func (a *App) TranscribeFile(ctx context.Context, path string) (TranscribeOutcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TranscribeOutcome{}, fmt.Errorf("app: read clip: %w", err)
	}
	pcm, err := normalizePCM(data)
	if err != nil {
		return TranscribeOutcome{}, fmt.Errorf("app: clip %s: %w", filepath.Base(path), err)
	}
	return a.TranscribeWithReview(ctx, pcm)
}

// normalizePCM decodes a WAV container and converts the audio to the
// 16 kHz mono PCM the facade expects.
func normalizePCM(wav []byte) ([]byte, error) {
	pcm, rate, channels, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, err
	}
	switch channels {
	case 1:
	case 2:
		pcm = audio.StereoToMono(pcm)
	default:
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	if rate != pcmSampleRate {
		pcm = audio.ResampleMono16(pcm, rate, pcmSampleRate)
	}
	return pcm, nil
}

// WatchInfo holds metadata about an active inbox watch.
type WatchInfo struct {
	// Dir is the inbox directory being polled.
	Dir string

	// StartedAt is when the watch was started.
	StartedAt time.Time

	// Processed and Failed count clips handled since the watch started.
	Processed int
	Failed    int
}

// InboxWatcher polls a directory for new audio clips and runs each one
// through the app's transcription pipeline. Handled clips move into a
// processed/ or failed/ subdirectory so a restart never re-transcribes.
// Only one watch can be active at a time; all exported methods are safe
// for concurrent use.
type InboxWatcher struct {
	app      *App
	interval time.Duration
	onResult func(path string, out TranscribeOutcome, err error)

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
	done   chan struct{}
	info   WatchInfo
}

// WatcherOption is a functional option for NewInboxWatcher.
type WatcherOption func(*InboxWatcher)

// WithPollInterval sets how often the inbox directory is scanned.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *InboxWatcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithOnResult installs a callback invoked after every handled clip,
// successful or not. Used by the CLI to print results as they arrive.
func WithOnResult(fn func(path string, out TranscribeOutcome, err error)) WatcherOption {
	return func(w *InboxWatcher) { w.onResult = fn }
}

// NewInboxWatcher creates a watcher over the given app.
func NewInboxWatcher(app *App, opts ...WatcherOption) *InboxWatcher {
	w := &InboxWatcher{
		app:      app,
		interval: defaultPollInterval,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start begins polling dir for WAV clips. Clips already present are
// handled on the first sweep. Returns an error if a watch is already
// active.
func (w *InboxWatcher) Start(ctx context.Context, dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active {
		return fmt.Errorf("app: watch already active on %s", w.info.Dir)
	}
	for _, sub := range []string{processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("app: create %s dir: %w", sub, err)
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.active = true
	w.cancel = cancel
	w.done = make(chan struct{})
	w.info = WatchInfo{Dir: dir, StartedAt: time.Now().UTC()}

	go w.loop(watchCtx, dir)

	slog.Info("watching inbox", "dir", dir, "interval", w.interval)
	return nil
}

// Stop ends the active watch and waits for the in-flight sweep to
// finish. Returns an error if no watch is active.
func (w *InboxWatcher) Stop() error {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return fmt.Errorf("app: no active watch to stop")
	}
	cancel, done := w.cancel, w.done
	info := w.info
	w.active = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	<-done

	slog.Info("watch stopped", "dir", info.Dir, "processed", info.Processed, "failed", info.Failed)
	return nil
}

// IsActive reports whether a watch is currently running.
func (w *InboxWatcher) IsActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Info returns metadata about the active watch, or the zero value when
// no watch is active.
func (w *InboxWatcher) Info() WatchInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active {
		return WatchInfo{}
	}
	return w.info
}

// loop sweeps immediately, then on every tick until cancelled.
func (w *InboxWatcher) loop(ctx context.Context, dir string) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.sweep(ctx, dir)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sweep handles every WAV file currently in the inbox, in name order.
func (w *InboxWatcher) sweep(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("inbox read failed", "dir", dir, "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		path := filepath.Join(dir, e.Name())

		out, err := w.app.TranscribeFile(ctx, path)
		if ctx.Err() != nil {
			// Cancelled mid-clip; leave the file for the next run.
			return
		}

		dest := processedDir
		if err != nil {
			dest = failedDir
			slog.Warn("clip arbitration failed", "path", path, "error", err)
		}
		w.bump(err == nil)

		if mvErr := os.Rename(path, filepath.Join(dir, dest, e.Name())); mvErr != nil {
			slog.Warn("clip move failed", "path", path, "error", mvErr)
		}
		if w.onResult != nil {
			w.onResult(path, out, err)
		}
	}
}

func (w *InboxWatcher) bump(ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok {
		w.info.Processed++
	} else {
		w.info.Failed++
	}
}
