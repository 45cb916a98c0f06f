package fallback

import (
	"math"
	"slices"

	"github.com/antzucaro/matchr"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/hearkenlabs/hearken/pkg/audio"
)

// Frame geometry: 32 ms windows at 16 kHz with 50% overlap, enough
// resolution for the short clips the model sees.
const (
	frameSize = 512
	hopSize   = 256
	melBands  = 13

	// peakThreshold marks a frame as an energy peak when its RMS exceeds
	// this multiple of the clip mean.
	peakThreshold = 1.5

	// clusterSimilarity is the text similarity above which two corrected
	// transcripts train under one cluster label.
	clusterSimilarity = 0.7
)

// FeatureDim is the length of every extracted feature vector: four
// spectral-centroid statistics, mean and deviation per mel band, RMS and
// zero-crossing statistics, and the energy-peak rate.
const FeatureDim = 4 + 2*melBands + 2 + 2 + 1

// extractFeatures summarises a 16-bit PCM clip as a fixed-length acoustic
// feature vector. Identical audio always yields identical features; empty
// or unplayable input yields the zero vector.
func extractFeatures(pcm []byte, sampleRate int) []float64 {
	out := make([]float64, FeatureDim)
	samples := audio.Samples(pcm)
	if len(samples) == 0 || sampleRate <= 0 {
		return out
	}

	numFrames := 1
	if len(samples) >= frameSize {
		numFrames = (len(samples)-frameSize)/hopSize + 1
	}

	window := hannWindow(frameSize)
	filters := melFilterbank(frameSize, melBands, sampleRate)
	fft := fourier.NewFFT(frameSize)

	centroids := make([]float64, numFrames)
	bands := make([][]float64, melBands)
	for b := range bands {
		bands[b] = make([]float64, numFrames)
	}
	rms := make([]float64, numFrames)
	zcr := make([]float64, numFrames)

	frame := make([]float64, frameSize)
	power := make([]float64, frameSize/2+1)
	for f := 0; f < numFrames; f++ {
		start := f * hopSize

		var sumSq float64
		var crossings int
		prev := 0.0
		for i := 0; i < frameSize; i++ {
			var s float64
			if idx := start + i; idx < len(samples) {
				s = samples[idx]
			}
			frame[i] = s * window[i]
			sumSq += s * s
			if i > 0 && (s < 0) != (prev < 0) {
				crossings++
			}
			prev = s
		}
		rms[f] = math.Sqrt(sumSq / frameSize)
		zcr[f] = float64(crossings) / float64(frameSize-1)

		coeffs := fft.Coefficients(nil, frame)
		var total, weighted float64
		for k := range power {
			re, im := real(coeffs[k]), imag(coeffs[k])
			p := re*re + im*im
			power[k] = p
			total += p
			weighted += p * float64(k) * float64(sampleRate) / frameSize
		}
		if total > 0 {
			centroids[f] = weighted / total
		}

		for b, filter := range filters {
			var sum float64
			for k, p := range power {
				sum += p * filter[k]
			}
			if sum < 1e-9 {
				sum = 1e-9
			}
			bands[b][f] = math.Log(sum)
		}
	}

	out[0], out[1] = meanStd(centroids)
	out[2] = slices.Max(centroids)
	out[3] = slices.Min(centroids)
	for b := 0; b < melBands; b++ {
		out[4+2*b], out[4+2*b+1] = meanStd(bands[b])
	}
	i := 4 + 2*melBands
	out[i], out[i+1] = meanStd(rms)
	out[i+2], out[i+3] = meanStd(zcr)
	out[i+4] = peakRate(rms, len(samples), sampleRate)
	return out
}

// peakRate counts frames whose energy spikes above the clip mean and
// reports them per second, a crude rhythm signal.
func peakRate(rms []float64, numSamples, sampleRate int) float64 {
	mean, _ := meanStd(rms)
	seconds := float64(numSamples) / float64(sampleRate)
	if mean == 0 || seconds == 0 {
		return 0
	}
	var peaks int
	for _, v := range rms {
		if v > peakThreshold*mean {
			peaks++
		}
	}
	return float64(peaks) / seconds
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, v := range xs {
		mean += v
	}
	mean /= float64(len(xs))
	var varSum float64
	for _, v := range xs {
		d := v - mean
		varSum += d * d
	}
	return mean, math.Sqrt(varSum / float64(len(xs)))
}

func hannWindow(size int) []float64 {
	w := make([]float64, size)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return w
}

// melFilterbank builds triangular mel-scale filters over the positive FFT
// bins, HTK formula.
func melFilterbank(nfft, nBands, sampleRate int) [][]float64 {
	hzToMel := func(hz float64) float64 { return 2595 * math.Log10(1+hz/700) }
	melToHz := func(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }

	numBins := nfft/2 + 1
	fMax := float64(sampleRate) / 2

	points := make([]float64, nBands+2)
	mMax := hzToMel(fMax)
	for i := range points {
		points[i] = melToHz(float64(i) * mMax / float64(nBands+1))
	}

	filters := make([][]float64, nBands)
	for b := range filters {
		filters[b] = make([]float64, numBins)
		for k := 0; k < numBins; k++ {
			freq := float64(k) * fMax / float64(numBins-1)
			lower := (freq - points[b]) / (points[b+1] - points[b])
			upper := (points[b+2] - freq) / (points[b+2] - points[b+1])
			filters[b][k] = math.Max(0, math.Min(lower, upper))
		}
	}
	return filters
}

// cosineSimilarity is the normalized dot product of two vectors. A zero
// vector or a length mismatch yields 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// scaler normalises each feature dimension to zero mean and unit variance
// so similarity is not dominated by the large-magnitude dimensions.
type scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

func fitScaler(vectors [][]float64) scaler {
	s := scaler{
		Mean: make([]float64, FeatureDim),
		Std:  make([]float64, FeatureDim),
	}
	if len(vectors) == 0 {
		return s
	}
	dim := make([]float64, len(vectors))
	for d := 0; d < FeatureDim; d++ {
		for i, v := range vectors {
			dim[i] = v[d]
		}
		s.Mean[d], s.Std[d] = meanStd(dim)
	}
	return s
}

// transform maps a raw feature vector into the scaled space. Dimensions
// with zero variance are only centered.
func (s scaler) transform(v []float64) []float64 {
	out := make([]float64, len(v))
	for d := range v {
		out[d] = v[d] - s.Mean[d]
		if s.Std[d] > 0 {
			out[d] /= s.Std[d]
		}
	}
	return out
}

// clusterTexts groups near-duplicate corrected transcripts under one
// label so repeated corrections of the same phrase reinforce a single
// cluster. First occurrence claims the label; later texts join the first
// cluster they resemble.
func clusterTexts(texts []string) (labels []int, clusters int) {
	labels = make([]int, len(texts))
	for i := range labels {
		labels[i] = -1
	}
	for i, text := range texts {
		if labels[i] >= 0 {
			continue
		}
		labels[i] = clusters
		for j := i + 1; j < len(texts); j++ {
			if labels[j] < 0 && matchr.JaroWinkler(text, texts[j], false) > clusterSimilarity {
				labels[j] = clusters
			}
		}
		clusters++
	}
	return labels, clusters
}
