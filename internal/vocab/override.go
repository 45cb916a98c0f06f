// Package vocab holds the vocabulary override map: corrected
// transcriptions keyed by audio fingerprint. A hit means the exact same
// audio was reviewed before, so the arbiter returns the human-corrected
// text at full confidence without calling any backend.
package vocab

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hearkenlabs/hearken/pkg/audio"
)

// shardCount is one shard per leading hex character of the fingerprint.
const shardCount = 16

// Override is a persistent fingerprint → corrected-text map. Lookups and
// updates lock only the shard owning the fingerprint; persistence
// serializes the whole map to a single JSON file.
type Override struct {
	path   string
	shards [shardCount]shard

	// saveMu serializes snapshot writes so concurrent Sets cannot
	// interleave half-written files.
	saveMu sync.Mutex
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]string
}

// Entry is one fingerprint → text pair, used when rebuilding the map from
// the correction log.
type Entry struct {
	Fingerprint audio.Fingerprint
	Text        string
}

// Open loads the override map stored at path, or returns an empty map if
// the file does not exist yet.
func Open(path string) (*Override, error) {
	o := &Override{path: path}
	for i := range o.shards {
		o.shards[i].entries = make(map[string]string)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return o, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vocab: read %q: %w", path, err)
	}

	var stored map[string]string
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("vocab: parse %q: %w", path, err)
	}
	for fp, text := range stored {
		o.shards[shardIndex(fp)].entries[fp] = text
	}
	return o, nil
}

// Lookup returns the corrected text stored for fp, if any.
func (o *Override) Lookup(fp audio.Fingerprint) (string, bool) {
	key := fp.String()
	s := &o.shards[shardIndex(key)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.entries[key]
	return text, ok
}

// Set records text as the known-correct transcription for fp and persists
// the map. A later Set for the same fingerprint overwrites the earlier one.
func (o *Override) Set(fp audio.Fingerprint, text string) error {
	if text == "" {
		return fmt.Errorf("vocab: override text must not be empty")
	}

	key := fp.String()
	s := &o.shards[shardIndex(key)]
	s.mu.Lock()
	s.entries[key] = text
	s.mu.Unlock()

	return o.save()
}

// Len returns the number of stored overrides.
func (o *Override) Len() int {
	n := 0
	for i := range o.shards {
		s := &o.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Rebuild replaces the whole map with entries and persists it. It is the
// recovery path: replaying the correction log reconstructs the override
// map when the JSON file is lost or corrupt. Later entries for the same
// fingerprint win, so callers should pass entries in log order.
func (o *Override) Rebuild(entries []Entry) error {
	fresh := make([]map[string]string, shardCount)
	for i := range fresh {
		fresh[i] = make(map[string]string)
	}
	for _, e := range entries {
		if e.Text == "" {
			continue
		}
		key := e.Fingerprint.String()
		fresh[shardIndex(key)][key] = e.Text
	}

	for i := range o.shards {
		s := &o.shards[i]
		s.mu.Lock()
		s.entries = fresh[i]
		s.mu.Unlock()
	}

	return o.save()
}

// save writes the full map to the JSON file via a temp-file rename.
func (o *Override) save() error {
	o.saveMu.Lock()
	defer o.saveMu.Unlock()

	snapshot := make(map[string]string, o.Len())
	for i := range o.shards {
		s := &o.shards[i]
		s.mu.RLock()
		for fp, text := range s.entries {
			snapshot[fp] = text
		}
		s.mu.RUnlock()
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("vocab: marshal overrides: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(o.path), 0o755); err != nil {
		return fmt.Errorf("vocab: create dir for %q: %w", o.path, err)
	}
	tmp := o.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("vocab: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, o.path); err != nil {
		return fmt.Errorf("vocab: replace %q: %w", o.path, err)
	}
	return nil
}

// shardIndex maps the leading hex character of a fingerprint string to a
// shard. Fingerprint strings are lowercase hex, so the first byte is
// always in 0-9 or a-f.
func shardIndex(key string) int {
	if key == "" {
		return 0
	}
	c := key[0]
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	}
	return 0
}
