package learn

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hearkenlabs/hearken/internal/review"
	"github.com/hearkenlabs/hearken/pkg/audio"
)

// Record is one correction event in the append-only JSONL log. Replaying
// the log reproduces every derived statistic and the vocabulary override
// map.
type Record struct {
	// ID is a UUID assigned at append time.
	ID string `json:"id"`
	// ItemID is the review item this correction resolved.
	ItemID string `json:"item_id"`
	Kind   review.Kind `json:"kind"`
	// Original and Corrected are the full transcripts before and after.
	// For word items, Corrected is the transcript with the one word
	// replaced.
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
	// Word and CorrectedWord are set for word items only.
	Word          string `json:"word,omitempty"`
	CorrectedWord string `json:"corrected_word,omitempty"`

	Fingerprint audio.Fingerprint `json:"fingerprint"`
	// Confidence is the arbiter's score at the time the item was queued.
	Confidence float64   `json:"confidence"`
	Reviewer   string    `json:"reviewer,omitempty"`
	At         time.Time `json:"at"`
}

// Log is the append-only corrections journal (one JSON object per line).
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog creates a Log writing to path. The file appears on first append.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Path returns the journal's file path.
func (l *Log) Path() string { return l.path }

// Append writes one record as a JSON line.
func (l *Log) Append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("learn: encode record: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("learn: create log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("learn: open correction log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("learn: append correction: %w", err)
	}
	return nil
}

// Replay streams every record to fn in append order. A missing log file
// is an empty log. Undecodable lines (a crash mid-append) are skipped
// with a warning; fn returning an error stops the replay.
func (l *Log) Replay(fn func(Record) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("learn: open correction log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			slog.Warn("skipping undecodable correction record",
				"path", l.path, "line", line, "error", err)
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("learn: read correction log: %w", err)
	}
	return nil
}
