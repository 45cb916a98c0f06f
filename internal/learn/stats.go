package learn

import (
	"sort"

	"github.com/hearkenlabs/hearken/internal/lexicon"
	"github.com/hearkenlabs/hearken/internal/review"
)

// MisrecognitionStat tracks one word the backends keep getting wrong.
type MisrecognitionStat struct {
	// Count is how many corrections removed this word.
	Count int `json:"count"`
	// Confidences are the arbiter scores at each occurrence.
	Confidences []float64 `json:"confidences"`
	// Corrections counts what the word was corrected to ("wrold"→
	// {"world": 3}).
	Corrections map[string]int `json:"corrections"`
}

// ImprovementStat tracks one word that corrections introduced.
type ImprovementStat struct {
	Count       int       `json:"count"`
	Confidences []float64 `json:"confidences"`
}

// wordStats aggregates derived statistics. Monotonic; rebuilt from the
// correction log on startup and reset only by deleting the log.
type wordStats struct {
	totalCorrections int
	misrecognized    map[string]*MisrecognitionStat
	improved         map[string]*ImprovementStat
}

func newWordStats() *wordStats {
	return &wordStats{
		misrecognized: map[string]*MisrecognitionStat{},
		improved:      map[string]*ImprovementStat{},
	}
}

// apply folds one correction into the statistics. Word-kind records diff
// just the flagged word against its replacement; clip records diff the
// whole transcripts.
func (ws *wordStats) apply(rec Record, pair PairFunc) {
	ws.totalCorrections++

	original, corrected := rec.Original, rec.Corrected
	if rec.Kind == review.KindWord {
		original, corrected = rec.Word, rec.CorrectedWord
	}
	removed, added := diffWords(original, corrected)

	for _, w := range added {
		st, ok := ws.improved[w]
		if !ok {
			st = &ImprovementStat{}
			ws.improved[w] = st
		}
		st.Count++
		st.Confidences = append(st.Confidences, rec.Confidence)
	}
	for _, w := range removed {
		st, ok := ws.misrecognized[w]
		if !ok {
			st = &MisrecognitionStat{Corrections: map[string]int{}}
			ws.misrecognized[w] = st
		}
		st.Count++
		st.Confidences = append(st.Confidences, rec.Confidence)
		if match, ok := pair(w, added); ok {
			st.Corrections[match]++
		}
	}
}

// diffWords returns words only in the original (removed) and words only
// in the corrected text (added), each in first-appearance order.
func diffWords(original, corrected string) (removed, added []string) {
	origSet := wordSet(original)
	corrSet := wordSet(corrected)
	seen := map[string]bool{}
	for _, w := range lexicon.Tokenize(original) {
		if !corrSet[w] && !seen[w] {
			removed = append(removed, w)
			seen[w] = true
		}
	}
	seen = map[string]bool{}
	for _, w := range lexicon.Tokenize(corrected) {
		if !origSet[w] && !seen[w] {
			added = append(added, w)
			seen[w] = true
		}
	}
	return removed, added
}

func wordSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, w := range lexicon.Tokenize(text) {
		set[w] = true
	}
	return set
}

// MisrecognizedEntry is one row of the stats report.
type MisrecognizedEntry struct {
	Word          string         `json:"word"`
	Count         int            `json:"count"`
	AvgConfidence float64        `json:"avg_confidence"`
	Corrections   map[string]int `json:"corrections,omitempty"`
}

// topMisrecognized returns up to n entries ordered by descending count,
// ties alphabetical.
func (ws *wordStats) topMisrecognized(n int) []MisrecognizedEntry {
	entries := make([]MisrecognizedEntry, 0, len(ws.misrecognized))
	for word, st := range ws.misrecognized {
		sum := 0.0
		for _, c := range st.Confidences {
			sum += c
		}
		avg := 0.0
		if len(st.Confidences) > 0 {
			avg = sum / float64(len(st.Confidences))
		}
		corrections := make(map[string]int, len(st.Corrections))
		for k, v := range st.Corrections {
			corrections[k] = v
		}
		entries = append(entries, MisrecognizedEntry{
			Word:          word,
			Count:         st.Count,
			AvgConfidence: avg,
			Corrections:   corrections,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Word < entries[j].Word
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
