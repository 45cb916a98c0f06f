package fallback

import (
	"encoding/binary"
	"math"
	"slices"
	"testing"
)

// tonePCM generates n samples of a 16-bit PCM sine tone at 16 kHz.
func tonePCM(freq float64, n int) []byte {
	pcm := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := int16(16000 * math.Sin(2*math.Pi*freq*float64(i)/16000))
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(v))
	}
	return pcm
}

func TestExtractFeaturesDimension(t *testing.T) {
	t.Parallel()

	inputs := map[string][]byte{
		"empty":         nil,
		"sub-frame":     tonePCM(440, 100),
		"one frame":     tonePCM(440, 512),
		"half second":   tonePCM(440, 8000),
		"odd tail byte": append(tonePCM(440, 1000), 0x7f),
	}
	for name, pcm := range inputs {
		if got := len(extractFeatures(pcm, 16000)); got != FeatureDim {
			t.Errorf("%s: len(features) = %d, want %d", name, got, FeatureDim)
		}
	}
}

func TestExtractFeaturesDeterministic(t *testing.T) {
	t.Parallel()

	pcm := tonePCM(440, 6400)
	first := extractFeatures(pcm, 16000)
	second := extractFeatures(pcm, 16000)
	if !slices.Equal(first, second) {
		t.Errorf("extractFeatures() not deterministic:\n %v\n %v", first, second)
	}
}

func TestExtractFeaturesSeparatesTones(t *testing.T) {
	t.Parallel()

	low := extractFeatures(tonePCM(200, 6400), 16000)
	high := extractFeatures(tonePCM(4000, 6400), 16000)

	// Feature 0 is the mean spectral centroid.
	if low[0] >= high[0] {
		t.Errorf("centroid(200 Hz) = %.1f, centroid(4 kHz) = %.1f, want low < high", low[0], high[0])
	}
	if sim := cosineSimilarity(low, high); sim >= 1 {
		t.Errorf("cosineSimilarity(low, high) = %v, want < 1 for distinct tones", sim)
	}
}

func TestExtractFeaturesSilence(t *testing.T) {
	t.Parallel()

	feats := extractFeatures(make([]byte, 6400*2), 16000)

	if feats[0] != 0 {
		t.Errorf("centroid mean = %v, want 0 for silence", feats[0])
	}
	rmsIndex := 4 + 2*melBands
	if feats[rmsIndex] != 0 {
		t.Errorf("rms mean = %v, want 0 for silence", feats[rmsIndex])
	}
	if peaks := feats[FeatureDim-1]; peaks != 0 {
		t.Errorf("peak rate = %v, want 0 for silence", peaks)
	}
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"scaled", []float64{1, 2, 3}, []float64{2, 4, 6}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0},
		{"length mismatch", []float64{1}, []float64{1, 2}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := cosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestScalerTransform(t *testing.T) {
	t.Parallel()

	vec := func(a, b float64) []float64 {
		v := make([]float64, FeatureDim)
		v[0], v[1] = a, b
		return v
	}

	// Dimension 0 varies (mean 1, std 1); dimension 1 is constant.
	sc := fitScaler([][]float64{vec(0, 5), vec(2, 5)})

	got := sc.transform(vec(2, 5))
	if math.Abs(got[0]-1) > 1e-9 {
		t.Errorf("transform()[0] = %v, want 1", got[0])
	}
	if got[1] != 0 {
		t.Errorf("transform()[1] = %v, want 0 for the mean", got[1])
	}

	// Zero-variance dimensions are centered, not divided.
	got = sc.transform(vec(1, 8))
	if got[0] != 0 {
		t.Errorf("transform()[0] = %v, want 0 at the mean", got[0])
	}
	if math.Abs(got[1]-3) > 1e-9 {
		t.Errorf("transform()[1] = %v, want 3", got[1])
	}
}

func TestMeanStd(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		xs       []float64
		mean, sd float64
	}{
		{"empty", nil, 0, 0},
		{"single", []float64{5}, 5, 0},
		{"pair", []float64{2, 4}, 3, 1},
	}
	for _, tt := range tests {
		mean, sd := meanStd(tt.xs)
		if math.Abs(mean-tt.mean) > 1e-9 || math.Abs(sd-tt.sd) > 1e-9 {
			t.Errorf("meanStd(%v) = (%v, %v), want (%v, %v)", tt.xs, mean, sd, tt.mean, tt.sd)
		}
	}
}

func TestClusterTexts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		texts        []string
		wantLabels   []int
		wantClusters int
	}{
		{
			name:         "near duplicates share a label",
			texts:        []string{"turn on the lights", "turn on the light", "open the door"},
			wantLabels:   []int{0, 0, 1},
			wantClusters: 2,
		},
		{
			name:         "identical texts",
			texts:        []string{"same", "same"},
			wantLabels:   []int{0, 0},
			wantClusters: 1,
		},
		{
			name:         "all distinct",
			texts:        []string{"alpha", "zebra", "quorum"},
			wantLabels:   []int{0, 1, 2},
			wantClusters: 3,
		},
		{
			name:         "single",
			texts:        []string{"hello"},
			wantLabels:   []int{0},
			wantClusters: 1,
		},
		{
			name:         "empty",
			texts:        nil,
			wantLabels:   []int{},
			wantClusters: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			labels, clusters := clusterTexts(tt.texts)
			if !slices.Equal(labels, tt.wantLabels) {
				t.Errorf("clusterTexts(%v) labels = %v, want %v", tt.texts, labels, tt.wantLabels)
			}
			if clusters != tt.wantClusters {
				t.Errorf("clusterTexts(%v) clusters = %d, want %d", tt.texts, clusters, tt.wantClusters)
			}
		})
	}
}
