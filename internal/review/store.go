// Package review implements the human review queue: a file-backed store
// of pending transcription items, each a JSON metadata record co-located
// with its WAV audio artifact. Items live in an active namespace until a
// reviewer corrects or skips them, then metadata and artifact move
// together into the archive.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	gax "github.com/googleapis/gax-go/v2"

	"github.com/hearkenlabs/hearken/internal/observe"
)

var (
	// ErrItemNotFound indicates the id does not resolve to a pending
	// item: it never existed, or was already reviewed.
	ErrItemNotFound = errors.New("review: item not found")

	// ErrArtifactMove indicates archival failed after retries. The item's
	// metadata is rolled back to pending; the operator must look at the
	// underlying filesystem.
	ErrArtifactMove = errors.New("review: artifact move failed")
)

const (
	metaExt     = ".json"
	artifactExt = ".wav"

	idTimeLayout = "20060102_150405"
	idHashChars  = 8

	moveAttempts = 3
)

// Outcome is the reviewer's verdict applied by Transition.
type Outcome struct {
	// Status must be StatusCorrected or StatusSkipped.
	Status Status
	// CorrectedText is required for StatusCorrected.
	CorrectedText string
	// Reviewer identifies who resolved the item.
	Reviewer string
}

// Store is a file-backed review queue for one item kind. Safe for
// concurrent use: enqueues serialize on id reservation, transitions
// serialize per id.
type Store struct {
	activeDir  string
	archiveDir string
	metrics    *observe.Metrics
	now        func() time.Time

	enqMu sync.Mutex

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// StoreOption configures a [Store].
type StoreOption func(*Store)

// WithMetrics replaces the default metrics sink.
func WithMetrics(m *observe.Metrics) StoreOption {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithNow replaces the clock used for ids and timestamps.
func WithNow(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore opens (creating if needed) a review store rooted at dir, with
// dir/active and dir/archived namespaces.
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	s := &Store{
		activeDir:  filepath.Join(dir, "active"),
		archiveDir: filepath.Join(dir, "archived"),
		metrics:    observe.DefaultMetrics(),
		now:        time.Now,
		locks:      map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, d := range []string{s.activeDir, s.archiveDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("review: create store dir: %w", err)
		}
	}
	return s, nil
}

// Enqueue adds item to the active namespace and copies its audio artifact
// alongside, so the caller's own copy can be discarded independently. The
// returned id is the item's handle for listing and transitions.
func (s *Store) Enqueue(ctx context.Context, item Item, artifact io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if item.Fingerprint.IsZero() {
		return "", errors.New("review: enqueue requires a fingerprint")
	}
	if item.Kind == "" {
		item.Kind = KindClip
	}

	s.enqMu.Lock()
	defer s.enqMu.Unlock()

	now := s.now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.ID = s.reserveID(now, item)
	item.Status = StatusPending

	wavPath := filepath.Join(s.activeDir, item.ID+artifactExt)
	if artifact != nil {
		if err := copyToFile(wavPath, artifact); err != nil {
			return "", fmt.Errorf("review: store artifact %s: %w", item.ID, err)
		}
	}
	if err := writeJSON(filepath.Join(s.activeDir, item.ID+metaExt), item); err != nil {
		if artifact != nil {
			if rmErr := os.Remove(wavPath); rmErr != nil {
				slog.Warn("orphaned review artifact", "id", item.ID, "error", rmErr)
			}
		}
		return "", fmt.Errorf("review: persist item %s: %w", item.ID, err)
	}

	s.metrics.ReviewEnqueued(ctx, string(item.Kind))
	return item.ID, nil
}

// reserveID derives the item id: UTC timestamp plus fingerprint prefix,
// word items suffixed with their word index. Collisions within one second
// get a numeric suffix.
func (s *Store) reserveID(now time.Time, item Item) string {
	base := now.Format(idTimeLayout) + "_" + item.Fingerprint.Prefix(idHashChars)
	if item.Kind == KindWord {
		base = fmt.Sprintf("%s_w%d", base, item.WordIndex)
	}
	id := base
	for n := 2; s.idTaken(id); n++ {
		id = fmt.Sprintf("%s_%d", base, n)
	}
	return id
}

func (s *Store) idTaken(id string) bool {
	for _, dir := range []string{s.activeDir, s.archiveDir} {
		if _, err := os.Stat(filepath.Join(dir, id+metaExt)); err == nil {
			return true
		}
	}
	return false
}

// Get loads a pending item by id. Archived items do not resolve.
func (s *Store) Get(ctx context.Context, id string) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	return readItem(filepath.Join(s.activeDir, id+metaExt), id)
}

// ListPending returns all pending items, newest first. The returned slice
// is a snapshot: concurrent enqueues may or may not appear, returned
// items never vanish from it.
func (s *Store) ListPending(ctx context.Context) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.activeDir)
	if err != nil {
		return nil, fmt.Errorf("review: list pending: %w", err)
	}
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != metaExt {
			continue
		}
		id := e.Name()[:len(e.Name())-len(metaExt)]
		item, err := readItem(filepath.Join(s.activeDir, e.Name()), id)
		if err != nil {
			// A concurrent transition can remove the file between the
			// dir listing and the read; anything else is worth a warning.
			if !errors.Is(err, ErrItemNotFound) {
				slog.Warn("unreadable review item skipped", "id", id, "error", err)
			}
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

// ReadArtifact returns the item's audio artifact bytes, from the active
// namespace or, after a transition, from the archive.
func (s *Store) ReadArtifact(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, dir := range []string{s.activeDir, s.archiveDir} {
		data, err := os.ReadFile(filepath.Join(dir, id+artifactExt))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("review: read artifact %s: %w", id, err)
		}
	}
	return nil, fmt.Errorf("review: artifact %s: %w", id, ErrItemNotFound)
}

// Transition applies the reviewer's outcome to a pending item and moves
// its metadata and artifact together into the archive. Per-id critical
// section: concurrent transitions of one id serialize, and the loser gets
// ErrItemNotFound. Artifact moves retry with exponential backoff; when
// retries exhaust, the metadata is rolled back to pending and the error
// wraps ErrArtifactMove.
func (s *Store) Transition(ctx context.Context, id string, out Outcome) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	switch out.Status {
	case StatusCorrected:
		if out.CorrectedText == "" {
			return Item{}, errors.New("review: corrected outcome requires text")
		}
	case StatusSkipped:
	default:
		return Item{}, fmt.Errorf("review: invalid outcome status %q", out.Status)
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	activeMeta := filepath.Join(s.activeDir, id+metaExt)
	original, err := os.ReadFile(activeMeta)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Item{}, fmt.Errorf("review: transition %s: %w", id, ErrItemNotFound)
		}
		return Item{}, fmt.Errorf("review: transition %s: %w", id, err)
	}
	var item Item
	if err := json.Unmarshal(original, &item); err != nil {
		return Item{}, fmt.Errorf("review: decode item %s: %w", id, err)
	}
	if item.Status != StatusPending {
		return Item{}, fmt.Errorf("review: item %s is %s, not pending", id, item.Status)
	}

	item.Status = out.Status
	item.CorrectedText = out.CorrectedText
	item.Reviewer = out.Reviewer
	item.ResolvedAt = s.now().UTC()

	if err := writeJSON(activeMeta, item); err != nil {
		return Item{}, fmt.Errorf("review: update item %s: %w", id, err)
	}

	rollback := func() {
		if err := os.WriteFile(activeMeta, original, 0o644); err != nil {
			slog.Error("review item rollback failed", "id", id, "error", err)
		}
	}

	activeWav := filepath.Join(s.activeDir, id+artifactExt)
	archiveWav := filepath.Join(s.archiveDir, id+artifactExt)
	if err := s.moveWithRetry(ctx, activeWav, archiveWav); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("review item has no artifact to archive", "id", id)
		} else {
			rollback()
			return Item{}, fmt.Errorf("review: archive artifact %s: %w: %w", id, ErrArtifactMove, err)
		}
	}

	if err := s.moveWithRetry(ctx, activeMeta, filepath.Join(s.archiveDir, id+metaExt)); err != nil {
		if mvErr := os.Rename(archiveWav, activeWav); mvErr != nil && !errors.Is(mvErr, fs.ErrNotExist) {
			slog.Error("review artifact rollback failed", "id", id, "error", mvErr)
		}
		rollback()
		return Item{}, fmt.Errorf("review: archive metadata %s: %w: %w", id, ErrArtifactMove, err)
	}

	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()

	s.metrics.ReviewResolved(ctx, string(item.Kind))
	return item, nil
}

// lockFor returns the per-id mutex, creating it on first use.
func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// moveWithRetry renames src to dst, retrying transient failures with
// exponential backoff. A missing src is returned immediately since it
// will not appear by waiting.
func (s *Store) moveWithRetry(ctx context.Context, src, dst string) error {
	bo := gax.Backoff{
		Initial:    50 * time.Millisecond,
		Max:        time.Second,
		Multiplier: 2,
	}
	var err error
	for attempt := 0; attempt < moveAttempts; attempt++ {
		err = os.Rename(src, dst)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return err
		}
		slog.Warn("artifact move attempt failed",
			"src", src, "dst", dst, "attempt", attempt+1, "error", err)
		if attempt < moveAttempts-1 {
			if sleepErr := gax.Sleep(ctx, bo.Pause()); sleepErr != nil {
				return errors.Join(err, sleepErr)
			}
		}
	}
	return err
}

func readItem(path, id string) (Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Item{}, fmt.Errorf("review: item %s: %w", id, ErrItemNotFound)
		}
		return Item{}, fmt.Errorf("review: read item %s: %w", id, err)
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return Item{}, fmt.Errorf("review: decode item %s: %w", id, err)
	}
	return item, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func copyToFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
