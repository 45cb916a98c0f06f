package arbiter_test

import (
	"reflect"
	"testing"

	"github.com/hearkenlabs/hearken/internal/arbiter"
)

func TestScanStoplistNeverFlagged(t *testing.T) {
	t.Parallel()

	d := arbiter.NewDetector()
	// All stoplisted short words, scanned at rock-bottom confidence:
	// still nothing flagged.
	if got := d.Scan("i go to it no so up", 0.0); got != nil {
		t.Errorf("Scan(stoplist words) = %v, want nil", got)
	}
}

func TestScanHeuristics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []arbiter.Flag
	}{
		{
			name: "short word",
			text: "zz fine",
			want: []arbiter.Flag{
				{Word: "zz", Index: 0, Reasons: []string{arbiter.ReasonShort}},
			},
		},
		{
			name: "long word",
			text: "supercalifragilisticexpialidocious indeed",
			want: []arbiter.Flag{
				{Word: "supercalifragilisticexpialidocious", Index: 0, Reasons: []string{arbiter.ReasonLong}},
			},
		},
		{
			name: "repeated word",
			text: "dog cat dog cat dog cat dog",
			want: []arbiter.Flag{
				{Word: "dog", Index: 0, Reasons: []string{arbiter.ReasonRepeated}},
				{Word: "dog", Index: 2, Reasons: []string{arbiter.ReasonRepeated}},
				{Word: "dog", Index: 4, Reasons: []string{arbiter.ReasonRepeated}},
				{Word: "dog", Index: 6, Reasons: []string{arbiter.ReasonRepeated}},
			},
		},
		{
			name: "mixed alphanumeric",
			text: "call me he11o",
			want: []arbiter.Flag{
				{Word: "he11o", Index: 2, Reasons: []string{arbiter.ReasonMixedAlnum}},
			},
		},
		{
			name: "character run",
			text: "the aaaa barks",
			want: []arbiter.Flag{
				{Word: "aaaa", Index: 1, Reasons: []string{arbiter.ReasonCharRun}},
			},
		},
		{
			name: "rare cluster",
			text: "xzibit plays",
			want: []arbiter.Flag{
				{Word: "xzibit", Index: 0, Reasons: []string{arbiter.ReasonRareCluster}},
			},
		},
		{
			name: "multiple reasons accumulate",
			text: "zxzxzxzxzxzxzxzxzx ok then",
			want: []arbiter.Flag{
				{Word: "zxzxzxzxzxzxzxzxzx", Index: 0, Reasons: []string{
					arbiter.ReasonLong, arbiter.ReasonRareCluster,
				}},
				{Word: "ok", Index: 1, Reasons: []string{arbiter.ReasonShort}},
			},
		},
		{
			// Flags carry the normalized form, indexed over normalized
			// words.
			name: "punctuation normalized before flagging",
			text: "Hello, ZZ!",
			want: []arbiter.Flag{
				{Word: "zz", Index: 1, Reasons: []string{arbiter.ReasonShort}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := arbiter.NewDetector()
			got := d.Scan(tt.text, 1.0)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Scan(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestScanLowConfidenceTaintsEverything(t *testing.T) {
	t.Parallel()

	d := arbiter.NewDetector()
	got := d.Scan("hello i am", 0.2)
	want := []arbiter.Flag{
		{Word: "hello", Index: 0, Reasons: []string{arbiter.ReasonLowConfidence}},
		{Word: "am", Index: 2, Reasons: []string{arbiter.ReasonShort, arbiter.ReasonLowConfidence}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Scan(low confidence) = %v, want %v", got, want)
	}
}

func TestScanCutoffIsStrict(t *testing.T) {
	t.Parallel()

	d := arbiter.NewDetector()
	if got := d.Scan("hello", 0.4); got != nil {
		t.Errorf("Scan at exactly the cutoff = %v, want nil", got)
	}
	got := d.Scan("hello", 0.39)
	want := []arbiter.Flag{
		{Word: "hello", Index: 0, Reasons: []string{arbiter.ReasonLowConfidence}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Scan just below the cutoff = %v, want %v", got, want)
	}
}

func TestScanCustomCutoff(t *testing.T) {
	t.Parallel()

	d := arbiter.NewDetector(arbiter.WithLowConfidenceCutoff(0.9))
	got := d.Scan("hello", 0.5)
	want := []arbiter.Flag{
		{Word: "hello", Index: 0, Reasons: []string{arbiter.ReasonLowConfidence}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Scan with raised cutoff = %v, want %v", got, want)
	}
}

func TestScanEmptyText(t *testing.T) {
	t.Parallel()

	d := arbiter.NewDetector()
	for _, text := range []string{"", "   ", "..."} {
		if got := d.Scan(text, 0.0); got != nil {
			t.Errorf("Scan(%q) = %v, want nil", text, got)
		}
	}
}
