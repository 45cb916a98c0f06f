package google

import (
	"math"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
)

// TestJoinResults_Empty checks that no segments yields an empty transcript.
func TestJoinResults_Empty(t *testing.T) {
	text, conf := joinResults(nil)
	if text != "" || conf != 0 {
		t.Errorf("joinResults(nil) = (%q, %v), want (\"\", 0)", text, conf)
	}
}

// TestJoinResults_SingleSegment checks passthrough of one result.
func TestJoinResults_SingleSegment(t *testing.T) {
	results := []*speechpb.SpeechRecognitionResult{
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{
			{Transcript: "hello world", Confidence: 0.8},
		}},
	}
	text, conf := joinResults(results)
	if text != "hello world" {
		t.Errorf("text = %q, want %q", text, "hello world")
	}
	if math.Abs(conf-0.8) > 1e-9 {
		t.Errorf("confidence = %v, want 0.8", conf)
	}
}

// TestJoinResults_WeightsByLength checks that a longer segment dominates
// the blended confidence.
func TestJoinResults_WeightsByLength(t *testing.T) {
	results := []*speechpb.SpeechRecognitionResult{
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{
			{Transcript: "a much longer confident segment", Confidence: 0.9},
		}},
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{
			{Transcript: "uh", Confidence: 0.1},
		}},
	}
	text, conf := joinResults(results)
	if want := "a much longer confident segment uh"; text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
	if conf < 0.8 {
		t.Errorf("confidence = %v, want > 0.8 (length-weighted)", conf)
	}
}

// TestJoinResults_SkipsEmptyAlternatives checks that segments without
// alternatives or with blank transcripts are ignored.
func TestJoinResults_SkipsEmptyAlternatives(t *testing.T) {
	results := []*speechpb.SpeechRecognitionResult{
		{},
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "   "}}},
		{Alternatives: []*speechpb.SpeechRecognitionAlternative{
			{Transcript: "kept", Confidence: 0.5},
		}},
	}
	text, _ := joinResults(results)
	if text != "kept" {
		t.Errorf("text = %q, want %q", text, "kept")
	}
}
