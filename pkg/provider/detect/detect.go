// Package detect defines optional acoustic-event detectors (laughter,
// music) consumed by the transcription pipeline. Detectors are external
// collaborators: when none is configured, or one fails, the pipeline
// degrades to "no hint applied" and never to a hard failure.
package detect

import "context"

// Segment is one detected acoustic event within a clip.
type Segment struct {
	// Kind identifies the event ("laughter", "music").
	Kind string
	// StartMs and EndMs bound the event within the clip.
	StartMs int
	EndMs   int
	// Confidence is the detector's score in [0,1].
	Confidence float64
	// Label carries optional detail, e.g. a recognized song title.
	Label string
}

// Hint is the downstream-facing summary of detected events, attached to a
// transcription result for emotion boosting.
type Hint struct {
	Kind       string
	Confidence float64
	Label      string
}

// Detector finds acoustic events in a PCM clip.
type Detector interface {
	Name() string
	Detect(ctx context.Context, pcm []byte, sampleRate int) ([]Segment, error)
}

// Hints reduces detected segments to per-kind hints, keeping the highest
// confidence per kind.
func Hints(segments []Segment) []Hint {
	best := map[string]Hint{}
	order := []string{}
	for _, s := range segments {
		h, ok := best[s.Kind]
		if !ok {
			order = append(order, s.Kind)
		}
		if !ok || s.Confidence > h.Confidence {
			best[s.Kind] = Hint{Kind: s.Kind, Confidence: s.Confidence, Label: s.Label}
		}
	}
	out := make([]Hint, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}
