// Package lexicon stores per-word emotion profiles in JSON shard files
// split by leading character (a.json … z.json, numbers.json,
// symbols.json). The store backs the estimator's vocabulary signal and
// grows as the profiler labels newly corrected words.
package lexicon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hearkenlabs/hearken/pkg/provider/emotion"
)

// NumbersShard and SymbolsShard are the shard keys for words that do not
// start with an ASCII letter.
const (
	NumbersShard = "numbers"
	SymbolsShard = "symbols"
)

// ShardStore persists word profiles across per-letter shard files. Each
// shard has its own lock and loads lazily on first access, so lookups for
// different letters never contend.
type ShardStore struct {
	dir    string
	shards map[string]*shard
}

type shard struct {
	mu     sync.RWMutex
	loaded bool
	words  map[string]emotion.Profile
}

// NewShardStore creates a store over dir. Shard files are created on
// first write; a missing directory is created then.
func NewShardStore(dir string) *ShardStore {
	s := &ShardStore{
		dir:    dir,
		shards: make(map[string]*shard, 28),
	}
	for c := 'a'; c <= 'z'; c++ {
		s.shards[string(c)] = &shard{}
	}
	s.shards[NumbersShard] = &shard{}
	s.shards[SymbolsShard] = &shard{}
	return s
}

// ShardKey returns the shard a word belongs to: its lowercased leading
// ASCII letter, or the numbers/symbols shard.
func ShardKey(word string) string {
	if word == "" {
		return SymbolsShard
	}
	c := word[0]
	switch {
	case c >= 'a' && c <= 'z':
		return string(c)
	case c >= 'A' && c <= 'Z':
		return string(c + ('a' - 'A'))
	case c >= '0' && c <= '9':
		return NumbersShard
	}
	return SymbolsShard
}

// Get returns the stored profile for word, if any.
func (s *ShardStore) Get(word string) (emotion.Profile, bool) {
	sh := s.shards[ShardKey(word)]

	sh.mu.RLock()
	if sh.loaded {
		p, ok := sh.words[word]
		sh.mu.RUnlock()
		return p, ok
	}
	sh.mu.RUnlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if err := s.load(word, sh); err != nil {
		// An unreadable shard degrades to unknown words for its letter.
		return nil, false
	}
	p, ok := sh.words[word]
	return p, ok
}

// Has reports whether word has a stored profile.
func (s *ShardStore) Has(word string) bool {
	_, ok := s.Get(word)
	return ok
}

// Put stores a profile for word and persists its shard.
func (s *ShardStore) Put(word string, profile emotion.Profile) error {
	if word == "" {
		return fmt.Errorf("lexicon: word must not be empty")
	}
	key := ShardKey(word)
	sh := s.shards[key]

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if err := s.load(word, sh); err != nil {
		return err
	}
	sh.words[word] = profile
	return s.persist(key, sh)
}

// Count returns the total number of stored words across all shards.
func (s *ShardStore) Count() (int, error) {
	n := 0
	for key, sh := range s.shards {
		sh.mu.Lock()
		if err := s.loadKey(key, sh); err != nil {
			sh.mu.Unlock()
			return 0, err
		}
		n += len(sh.words)
		sh.mu.Unlock()
	}
	return n, nil
}

// load reads the shard file for word into sh. Callers hold sh.mu.
func (s *ShardStore) load(word string, sh *shard) error {
	return s.loadKey(ShardKey(word), sh)
}

func (s *ShardStore) loadKey(key string, sh *shard) error {
	if sh.loaded {
		return nil
	}

	path := s.shardPath(key)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		sh.words = make(map[string]emotion.Profile)
		sh.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("lexicon: read shard %q: %w", path, err)
	}

	words := make(map[string]emotion.Profile)
	if err := json.Unmarshal(data, &words); err != nil {
		return fmt.Errorf("lexicon: parse shard %q: %w", path, err)
	}
	sh.words = words
	sh.loaded = true
	return nil
}

// persist writes sh's words to its shard file. Callers hold sh.mu.
func (s *ShardStore) persist(key string, sh *shard) error {
	data, err := json.MarshalIndent(sh.words, "", "  ")
	if err != nil {
		return fmt.Errorf("lexicon: marshal shard %q: %w", key, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("lexicon: create dir %q: %w", s.dir, err)
	}
	path := s.shardPath(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("lexicon: write shard %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("lexicon: replace shard %q: %w", path, err)
	}
	return nil
}

func (s *ShardStore) shardPath(key string) string {
	return filepath.Join(s.dir, key+".json")
}
