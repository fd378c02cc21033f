// internal/dsp/spectral_test.go
package dsp

import (
	"math"
	"math/rand"
	"testing"
)

// Test configuration constants - these mirror config file values
const (
	testSampleRate = 48000
	testFFTSize    = 2048
	testFrequency  = 600.0
)

// generateSineWave creates a sine wave at the specified frequency
func generateSineWave(frequency float64, sampleRate, numSamples int, amplitude float32) []float32 {
	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(sampleRate)
		samples[i] = amplitude * float32(math.Sin(2*math.Pi*frequency*t))
	}
	return samples
}

// generateSilence creates a buffer of silence (zeros)
func generateSilence(numSamples int) []float32 {
	return make([]float32, numSamples)
}

// generateWhiteNoise creates uniform random noise with a fixed seed for
// reproducible tests
func generateWhiteNoise(numSamples int, amplitude float32, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	samples := make([]float32, numSamples)
	for i := range samples {
		samples[i] = amplitude * float32(2*rng.Float64()-1)
	}
	return samples
}

func createTestAnalyzer(t *testing.T) *SpectralAnalyzer {
	t.Helper()
	a, err := NewSpectralAnalyzer(testSampleRate, testFFTSize)
	if err != nil {
		t.Fatalf("Failed to create analyzer: %v", err)
	}
	return a
}

func TestNewSpectralAnalyzer_ValidConfig(t *testing.T) {
	a, err := NewSpectralAnalyzer(testSampleRate, testFFTSize)
	if err != nil {
		t.Fatalf("NewSpectralAnalyzer failed with valid config: %v", err)
	}
	if a == nil {
		t.Fatal("NewSpectralAnalyzer returned nil with valid config")
	}

	if a.FFTSize() != testFFTSize {
		t.Errorf("FFTSize = %d, want %d", a.FFTSize(), testFFTSize)
	}
	if a.SampleRate() != testSampleRate {
		t.Errorf("SampleRate = %d, want %d", a.SampleRate(), testSampleRate)
	}

	wantRes := float64(testSampleRate) / float64(testFFTSize)
	if math.Abs(a.FrequencyResolution()-wantRes) > 1e-9 {
		t.Errorf("FrequencyResolution = %v, want %v", a.FrequencyResolution(), wantRes)
	}
}

func TestNewSpectralAnalyzer_InvalidFFTSize(t *testing.T) {
	testCases := []struct {
		name    string
		fftSize int
	}{
		{"zero", 0},
		{"negative", -1},
		{"not power of two", 1000},
		{"odd", 2047},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSpectralAnalyzer(testSampleRate, tc.fftSize)
			if err != ErrInvalidFFTSize {
				t.Errorf("expected ErrInvalidFFTSize, got: %v", err)
			}
		})
	}
}

func TestNewSpectralAnalyzer_InvalidSampleRate(t *testing.T) {
	testCases := []struct {
		name       string
		sampleRate int
	}{
		{"zero", 0},
		{"negative", -48000},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSpectralAnalyzer(tc.sampleRate, testFFTSize)
			if err != ErrInvalidSampleRate {
				t.Errorf("expected ErrInvalidSampleRate, got: %v", err)
			}
		})
	}
}

func TestAnalyze_Silence(t *testing.T) {
	for _, fftSize := range []int{256, 512, 1024, 2048} {
		a, err := NewSpectralAnalyzer(testSampleRate, fftSize)
		if err != nil {
			t.Fatalf("NewSpectralAnalyzer(%d): %v", fftSize, err)
		}

		result := a.Analyze(generateSilence(fftSize))

		if result.Energy != 0 {
			t.Errorf("fftSize %d: energy = %v, want 0", fftSize, result.Energy)
		}
		if result.SpectralFlatness != 0 {
			t.Errorf("fftSize %d: flatness = %v, want 0", fftSize, result.SpectralFlatness)
		}
		if len(result.Magnitudes) != fftSize/2+1 {
			t.Errorf("fftSize %d: got %d bins, want %d", fftSize, len(result.Magnitudes), fftSize/2+1)
		}
		for i, mag := range result.Magnitudes {
			if mag != 0 {
				t.Errorf("fftSize %d: bin %d magnitude = %v, want 0", fftSize, i, mag)
				break
			}
		}
	}
}

func TestAnalyze_EmptyBlock(t *testing.T) {
	a := createTestAnalyzer(t)

	result := a.Analyze(nil)
	if result.Energy != 0 || result.SpectralFlatness != 0 || result.SpectralCentroid != 0 {
		t.Errorf("empty block should yield zero features, got %+v", result)
	}
	if len(result.Magnitudes) != testFFTSize/2+1 {
		t.Errorf("got %d bins, want %d", len(result.Magnitudes), testFFTSize/2+1)
	}
}

func TestAnalyze_WhiteNoiseIsFlat(t *testing.T) {
	a := createTestAnalyzer(t)

	samples := generateWhiteNoise(testFFTSize, 0.8, 42)
	result := a.Analyze(samples)

	if result.SpectralFlatness <= 0.5 {
		t.Errorf("white noise flatness = %v, want > 0.5", result.SpectralFlatness)
	}
}

func TestAnalyze_SineToneIsTonal(t *testing.T) {
	a := createTestAnalyzer(t)

	samples := generateSineWave(testFrequency, testSampleRate, testFFTSize, 1.0)
	result := a.Analyze(samples)

	if result.SpectralFlatness >= 0.2 {
		t.Errorf("sine flatness = %v, want near 0", result.SpectralFlatness)
	}
}

func TestAnalyze_SineCentroid(t *testing.T) {
	a := createTestAnalyzer(t)

	// Use a frequency landing exactly on a bin to minimize leakage
	bin := 64
	frequency := a.BinToFrequency(bin)
	samples := generateSineWave(frequency, testSampleRate, testFFTSize, 1.0)
	result := a.Analyze(samples)

	if math.Abs(result.SpectralCentroid-frequency) > 100 {
		t.Errorf("centroid = %v Hz, want near %v Hz", result.SpectralCentroid, frequency)
	}
}

func TestAnalyze_SinePeakBin(t *testing.T) {
	a := createTestAnalyzer(t)

	bin := 64
	frequency := a.BinToFrequency(bin)
	samples := generateSineWave(frequency, testSampleRate, testFFTSize, 1.0)
	result := a.Analyze(samples)

	peakBin := 0
	for i, mag := range result.Magnitudes {
		if mag > result.Magnitudes[peakBin] {
			peakBin = i
		}
	}
	if peakBin != bin {
		t.Errorf("peak bin = %d, want %d", peakBin, bin)
	}

	// Hann window coherent gain is 0.5, so a unit sine peaks near 0.5
	if result.Magnitudes[peakBin] < 0.3 || result.Magnitudes[peakBin] > 0.7 {
		t.Errorf("peak magnitude = %v, want ~0.5", result.Magnitudes[peakBin])
	}
}

func TestAnalyze_SineEnergy(t *testing.T) {
	a := createTestAnalyzer(t)

	// Mean squared amplitude of a unit sine is 0.5, independent of windowing
	samples := generateSineWave(testFrequency, testSampleRate, testFFTSize, 1.0)
	result := a.Analyze(samples)

	if math.Abs(result.Energy-0.5) > 0.05 {
		t.Errorf("energy = %v, want ~0.5", result.Energy)
	}
}

func TestAnalyze_ShortBlockZeroPadded(t *testing.T) {
	a := createTestAnalyzer(t)

	// A block shorter than the FFT size must still analyze cleanly, with
	// energy computed over the actual samples only
	samples := generateSineWave(testFrequency, testSampleRate, testFFTSize/4, 1.0)
	result := a.Analyze(samples)

	if math.Abs(result.Energy-0.5) > 0.05 {
		t.Errorf("energy = %v, want ~0.5", result.Energy)
	}
	if len(result.Magnitudes) != testFFTSize/2+1 {
		t.Errorf("got %d bins, want %d", len(result.Magnitudes), testFFTSize/2+1)
	}
}

func TestAnalyze_LongBlockUsesTail(t *testing.T) {
	a := createTestAnalyzer(t)

	// Silence followed by a sine: only the most recent fftSize samples
	// (the sine) should shape the spectrum
	block := append(generateSilence(testFFTSize), generateSineWave(testFrequency, testSampleRate, testFFTSize, 1.0)...)
	result := a.Analyze(block)

	if result.SpectralFlatness >= 0.2 {
		t.Errorf("flatness = %v, want tonal spectrum from the tail", result.SpectralFlatness)
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	a := createTestAnalyzer(t)

	samples := generateWhiteNoise(testFFTSize, 0.5, 7)
	first := a.Analyze(samples)
	second := a.Analyze(samples)

	if first.Energy != second.Energy ||
		first.SpectralFlatness != second.SpectralFlatness ||
		first.SpectralCentroid != second.SpectralCentroid {
		t.Error("repeated analysis of the same block differs")
	}
	for i := range first.Magnitudes {
		if first.Magnitudes[i] != second.Magnitudes[i] {
			t.Errorf("bin %d differs between identical analyses", i)
			break
		}
	}
}

func TestBinFrequencyConversion(t *testing.T) {
	a := createTestAnalyzer(t)

	testCases := []struct {
		bin  int
		freq float64
	}{
		{0, 0},
		{1, float64(testSampleRate) / float64(testFFTSize)},
		{testFFTSize / 2, float64(testSampleRate) / 2},
	}

	for _, tc := range testCases {
		if got := a.BinToFrequency(tc.bin); math.Abs(got-tc.freq) > 1e-9 {
			t.Errorf("BinToFrequency(%d) = %v, want %v", tc.bin, got, tc.freq)
		}
		if got := a.FrequencyToBin(tc.freq); got != tc.bin {
			t.Errorf("FrequencyToBin(%v) = %d, want %d", tc.freq, got, tc.bin)
		}
	}
}
