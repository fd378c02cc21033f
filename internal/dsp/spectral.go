// internal/dsp/spectral.go
// Package dsp implements the windowed-FFT feature extraction used by the
// gesture detector.
package dsp

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

var (
	// ErrInvalidFFTSize indicates the FFT size must be a power of two
	ErrInvalidFFTSize = errors.New("fft size must be a positive power of two")
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
)

// magnitudeFloor is the smallest magnitude considered non-zero when
// computing spectral flatness (avoids log of zero on silent bins).
const magnitudeFloor = 1e-10

// SpectralResult holds the per-block features extracted by Analyze.
// All fields are derived fresh from a single audio block.
type SpectralResult struct {
	// Magnitudes holds the magnitude per frequency bin (fftSize/2+1 bins)
	Magnitudes []float64
	// SpectralFlatness is the geometric/arithmetic mean ratio of the
	// magnitudes (bin 0 excluded), clamped to [0,1]. White noise is near 1,
	// a pure tone near 0.
	SpectralFlatness float64
	// SpectralCentroid is the magnitude-weighted average frequency in Hz
	SpectralCentroid float64
	// Energy is the mean squared amplitude of the unwindowed input samples
	Energy float64
}

// SpectralAnalyzer extracts frequency-domain features from audio blocks.
// It holds only the precomputed Hann window, so Analyze is a pure function
// of its input and may be called repeatedly with different blocks.
type SpectralAnalyzer struct {
	sampleRate int
	fftSize    int
	freqRes    float64
	window     []float64
}

// NewSpectralAnalyzer creates an analyzer for the given sample rate and FFT
// size. The FFT size must be a power of two.
func NewSpectralAnalyzer(sampleRate, fftSize int) (*SpectralAnalyzer, error) {
	if sampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if fftSize <= 0 || fftSize&(fftSize-1) != 0 {
		return nil, ErrInvalidFFTSize
	}

	window := make([]float64, fftSize)
	for i := range window {
		window[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(fftSize-1)))
	}

	return &SpectralAnalyzer{
		sampleRate: sampleRate,
		fftSize:    fftSize,
		freqRes:    float64(sampleRate) / float64(fftSize),
		window:     window,
	}, nil
}

// Analyze extracts spectral features from a block of normalized mono
// samples. Blocks longer than the FFT size use the most recent fftSize
// samples; shorter blocks are placed at the tail of the window with zero
// padding at the front, so the newest samples always align to the same
// window position. An empty block yields a zero-valued result.
func (a *SpectralAnalyzer) Analyze(block []float32) SpectralResult {
	var result SpectralResult
	if len(block) == 0 {
		result.Magnitudes = make([]float64, a.fftSize/2+1)
		return result
	}

	// Window the most recent fftSize samples, tail-aligned.
	windowed := make([]float64, a.fftSize)
	available := len(block)
	offset := 0
	if available > a.fftSize {
		offset = available - a.fftSize
		available = a.fftSize
	}
	for i := 0; i < available; i++ {
		dst := a.fftSize - available + i
		windowed[dst] = float64(block[offset+i]) * a.window[dst]
	}

	spectrum := fft.FFTReal(windowed)

	// Single-sided magnitudes scaled by 2/N; DC and Nyquist are not doubled.
	bins := a.fftSize/2 + 1
	mags := make([]float64, bins)
	scale := 2.0 / float64(a.fftSize)
	for i := 0; i < bins; i++ {
		mags[i] = cmplx.Abs(spectrum[i]) * scale
		if i == 0 || i == bins-1 {
			mags[i] *= 0.5
		}
	}
	result.Magnitudes = mags

	result.SpectralFlatness = spectralFlatness(mags)
	result.SpectralCentroid = a.spectralCentroid(mags)
	result.Energy = energy(block)

	return result
}

// FFTSize returns the configured FFT window size
func (a *SpectralAnalyzer) FFTSize() int {
	return a.fftSize
}

// SampleRate returns the configured sample rate in Hz
func (a *SpectralAnalyzer) SampleRate() int {
	return a.sampleRate
}

// FrequencyResolution returns the width of one frequency bin in Hz
func (a *SpectralAnalyzer) FrequencyResolution() float64 {
	return a.freqRes
}

// BinToFrequency returns the center frequency of the given bin in Hz
func (a *SpectralAnalyzer) BinToFrequency(bin int) float64 {
	return float64(bin) * a.freqRes
}

// FrequencyToBin returns the bin index covering the given frequency
func (a *SpectralAnalyzer) FrequencyToBin(frequency float64) int {
	return int(frequency / a.freqRes)
}

// spectralFlatness computes geometric mean / arithmetic mean over the
// magnitude bins, excluding the DC bin. A silent spectrum scores 0.
func spectralFlatness(mags []float64) float64 {
	var logSum, sum float64
	count := 0

	for _, mag := range mags[1:] {
		if mag > magnitudeFloor {
			logSum += math.Log(mag)
			sum += mag
			count++
		}
	}

	if count == 0 || sum == 0 {
		return 0
	}

	geometricMean := math.Exp(logSum / float64(count))
	arithmeticMean := sum / float64(count)

	flatness := geometricMean / arithmeticMean
	if flatness < 0 {
		return 0
	}
	if flatness > 1 {
		return 1
	}
	return flatness
}

func (a *SpectralAnalyzer) spectralCentroid(mags []float64) float64 {
	var weightedSum, sum float64
	for i, mag := range mags {
		weightedSum += a.BinToFrequency(i) * mag
		sum += mag
	}
	if sum == 0 {
		return 0
	}
	return weightedSum / sum
}

// energy is the mean squared amplitude of the raw (unwindowed) samples, so
// the measurement is independent of the window shape.
func energy(block []float32) float64 {
	var sum float64
	for _, s := range block {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(block))
}
