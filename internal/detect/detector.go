// internal/detect/detector.go
// Package detect implements the trainable acoustic-gesture detector. A
// detector is tied to one sample rate and FFT size; recreate it when the
// capture device changes rather than mutating it in place.
package detect

import (
	"errors"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ColonelBlimp/micmap/internal/dsp"
)

var (
	// ErrNoProfile indicates the detector has no trained profile
	ErrNoProfile = errors.New("no trained profile")
	// ErrProfileMismatch indicates the profile was trained with a different
	// sample rate or FFT size than this detector
	ErrProfileMismatch = errors.New("profile sample rate or fft size mismatch")
)

const (
	// energyHistorySize is the energy ring used for consistency scoring
	energyHistorySize = 10
	// confidenceHistorySize is the sliding vote window
	confidenceHistorySize = 12

	// spikeArmDb is the transient level that arms the spike gate
	spikeArmDb = -10.0
	// spikeArmWindow is how long an armed spike stays valid
	spikeArmWindow = 500 * time.Millisecond
	// energyDbFloor clamps the dB conversion for silent blocks
	energyDbFloor = -60.0

	// highConfidenceBar marks a block as a high-confidence vote
	highConfidenceBar = 0.60
	// startHighHits is the vote count required to start a detection streak
	startHighHits = 4
	// continueHighHits is the vote count required to sustain a streak
	continueHighHits = 2

	weightEnergyRatio = 0.35
	weightConsistency = 0.35
	weightCorrelation = 0.30

	// trainingEnergyFloor rejects silence during training while still
	// accepting quiet non-white-noise gestures
	trainingEnergyFloor = 1e-5
	// minTrainingSamples is the minimum accepted samples for a valid profile
	minTrainingSamples = 5
	// maxTrainingSamples caps accumulation during a training session
	maxTrainingSamples = 200

	// defaultFlatnessThreshold is stored with the profile for diagnostics
	defaultFlatnessThreshold = 0.5

	defaultMinDetectionDuration = 300 * time.Millisecond
)

// DetectionResult holds the per-block detector output. IsWhiteNoise is only
// true once the gesture has held continuously for the configured minimum
// duration.
type DetectionResult struct {
	Confidence       float64
	Energy           float64
	SpectralFlatness float64
	Correlation      float64
	IsWhiteNoise     bool
}

// TrainingStats tracks a training session
type TrainingStats struct {
	SamplesCollected int
	SamplesAccepted  int
	SamplesRejected  int
}

// ProgressCallback reports training progress as a fraction of the required
// sample count, with a short status line. Invoked synchronously.
type ProgressCallback func(progress float64, status string)

// Config holds detector construction parameters.
type Config struct {
	// SampleRate is the capture sample rate in Hz
	SampleRate int
	// FFTSize is the analysis window size; must be a power of two
	FFTSize int
	// Sensitivity in [0,1]; higher is more permissive (affects the
	// correlation threshold derived at training time)
	Sensitivity float64
	// MinDetectionDuration is the continuous-duration gate; zero selects
	// the 300ms default
	MinDetectionDuration time.Duration
}

// Detector scores each audio block against a trained acoustic profile and
// gates the result through a spike gate, a sliding-window vote and a
// continuous-duration requirement. All public methods are safe for
// concurrent use; Analyze itself never blocks on anything but the mutex.
type Detector struct {
	mu       sync.Mutex
	analyzer *dsp.SpectralAnalyzer
	cfg      Config

	sensitivity float64
	minDuration time.Duration

	profile *AcousticProfile
	// cached float64 views of the profile spectrum for hot-path scoring
	profileSpectrum    []float64
	profileLogCentered []float64

	// training accumulation
	training      bool
	trainSpectra  [][]float64
	trainEnergies []float64
	stats         TrainingStats
	progress      ProgressCallback

	// detection state
	energyHistory     []float64
	confidenceHistory []bool
	spikeArmed        bool
	spikeArmedAt      time.Time
	detecting         bool
	detectingSince    time.Time

	now func() time.Time
}

// NewDetector creates a detector for the given configuration. Fails if the
// FFT size is not a power of two.
func NewDetector(cfg Config) (*Detector, error) {
	analyzer, err := dsp.NewSpectralAnalyzer(cfg.SampleRate, cfg.FFTSize)
	if err != nil {
		return nil, err
	}

	if cfg.MinDetectionDuration <= 0 {
		cfg.MinDetectionDuration = defaultMinDetectionDuration
	}

	return &Detector{
		analyzer:          analyzer,
		cfg:               cfg,
		sensitivity:       clamp01(cfg.Sensitivity),
		minDuration:       cfg.MinDetectionDuration,
		energyHistory:     make([]float64, 0, energyHistorySize),
		confidenceHistory: make([]bool, 0, confidenceHistorySize),
		now:               time.Now,
	}, nil
}

// Analyze scores one block of normalized mono samples against the trained
// profile. Without a profile, or for an empty block, it returns a zero
// result rather than an error so the audio stream keeps flowing.
func (d *Detector) Analyze(block []float32) DetectionResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	var result DetectionResult
	if len(block) == 0 {
		return result
	}

	spectral := d.analyzer.Analyze(block)
	result.Energy = spectral.Energy
	result.SpectralFlatness = spectral.SpectralFlatness

	if d.profile == nil {
		return result
	}

	now := d.now()

	energyDb := energyDbFloor
	if spectral.Energy > 0 {
		energyDb = math.Max(energyDbFloor, 10*math.Log10(spectral.Energy))
	}

	d.energyHistory = pushFloat(d.energyHistory, spectral.Energy, energyHistorySize)

	// Spike gate: a loud transient arms detection for a limited window.
	if energyDb > spikeArmDb && !d.spikeArmed {
		d.spikeArmed = true
		d.spikeArmedAt = now
	}
	spikeValid := d.spikeArmed && now.Sub(d.spikeArmedAt) <= spikeArmWindow
	if d.spikeArmed && !spikeValid && !d.detecting {
		d.spikeArmed = false
	}

	consistency := energyConsistency(d.energyHistory)
	ratioScore := energyRatioScore(spectral.Energy, float64(d.profile.EnergyThreshold))
	correlation := d.shapeSimilarity(spectral.Magnitudes)
	result.Correlation = correlation

	confidence := clamp01(weightEnergyRatio*ratioScore +
		weightConsistency*consistency +
		weightCorrelation*correlation)
	result.Confidence = confidence

	d.confidenceHistory = pushBool(d.confidenceHistory, confidence >= highConfidenceBar, confidenceHistorySize)
	highHits := 0
	for _, high := range d.confidenceHistory {
		if high {
			highHits++
		}
	}

	// Starting a streak needs a valid spike and a strong vote; sustaining
	// one tolerates brief dips.
	var instant bool
	if d.detecting {
		instant = highHits >= continueHighHits
	} else {
		instant = spikeValid && highHits >= startHighHits
	}
	if !instant && !d.detecting && !spikeValid {
		d.spikeArmed = false
	}

	// Temporal gate: the streak must hold continuously for minDuration.
	if instant {
		if !d.detecting {
			d.detecting = true
			d.detectingSince = now
		}
		result.IsWhiteNoise = now.Sub(d.detectingSince) >= d.minDuration
	} else {
		d.detecting = false
	}

	return result
}

// StartTraining clears any previous accumulation and enters training mode.
// The existing profile stays active until FinishTraining succeeds.
func (d *Detector) StartTraining() {
	d.mu.Lock()
	d.training = true
	d.trainSpectra = nil
	d.trainEnergies = nil
	d.stats = TrainingStats{}
	cb := d.progress
	d.mu.Unlock()

	if cb != nil {
		cb(0, "training started")
	}
}

// AddTrainingSample analyzes one block and accumulates it if its energy
// clears the silence floor. Returns true if the sample was accepted.
func (d *Detector) AddTrainingSample(block []float32) bool {
	d.mu.Lock()
	if !d.training || len(block) == 0 {
		d.mu.Unlock()
		return false
	}
	if d.stats.SamplesAccepted >= maxTrainingSamples {
		d.mu.Unlock()
		return false
	}

	d.stats.SamplesCollected++
	spectral := d.analyzer.Analyze(block)

	if spectral.Energy <= trainingEnergyFloor {
		d.stats.SamplesRejected++
		progress, cb := d.progressLocked()
		d.mu.Unlock()
		if cb != nil {
			cb(progress, "sample rejected: energy too low")
		}
		return false
	}

	spectrum := make([]float64, len(spectral.Magnitudes))
	copy(spectrum, spectral.Magnitudes)
	d.trainSpectra = append(d.trainSpectra, spectrum)
	d.trainEnergies = append(d.trainEnergies, spectral.Energy)
	d.stats.SamplesAccepted++

	progress, cb := d.progressLocked()
	d.mu.Unlock()
	if cb != nil {
		cb(progress, "sample accepted")
	}
	return true
}

// FinishTraining builds the acoustic profile from the accumulated samples.
// Fails, leaving any previous profile untouched, when fewer than the
// minimum number of samples were accepted.
func (d *Detector) FinishTraining() bool {
	d.mu.Lock()
	if !d.training {
		d.mu.Unlock()
		return false
	}
	d.training = false

	if d.stats.SamplesAccepted < minTrainingSamples {
		cb := d.progress
		d.mu.Unlock()
		if cb != nil {
			cb(1, "training failed: not enough samples")
		}
		return false
	}

	// Element-wise average of the accepted magnitude spectra.
	bins := len(d.trainSpectra[0])
	average := make([]float64, bins)
	for _, spectrum := range d.trainSpectra {
		for i := 0; i < bins && i < len(spectrum); i++ {
			average[i] += spectrum[i]
		}
	}
	n := float64(len(d.trainSpectra))
	for i := range average {
		average[i] /= n
	}

	// L2-normalize so the stored profile has unit norm.
	var sumSq float64
	for _, v := range average {
		sumSq += v * v
	}
	if norm := math.Sqrt(sumSq); norm > 0 {
		for i := range average {
			average[i] /= norm
		}
	}

	spectrum := make([]float32, bins)
	for i, v := range average {
		spectrum[i] = float32(v)
	}

	profile := &AcousticProfile{
		Spectrum:             spectrum,
		EnergyThreshold:      float32(stat.Mean(d.trainEnergies, nil)),
		CorrelationThreshold: float32(0.4 + (1.0-d.sensitivity)*0.3),
		FlatnessThreshold:    defaultFlatnessThreshold,
		SampleRate:           uint32(d.cfg.SampleRate),
		FFTSize:              uint32(d.cfg.FFTSize),
		TrainedAt:            d.now(),
	}
	d.installProfileLocked(profile)

	d.trainSpectra = nil
	d.trainEnergies = nil

	cb := d.progress
	d.mu.Unlock()
	if cb != nil {
		cb(1, "training complete")
	}
	return true
}

// CancelTraining discards the accumulated samples without touching any
// existing profile.
func (d *Detector) CancelTraining() {
	d.mu.Lock()
	d.training = false
	d.trainSpectra = nil
	d.trainEnergies = nil
	cb := d.progress
	d.mu.Unlock()

	if cb != nil {
		cb(0, "training cancelled")
	}
}

// IsTraining reports whether a training session is active
func (d *Detector) IsTraining() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.training
}

// Stats returns the counters for the current or last training session
func (d *Detector) Stats() TrainingStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// SetProgressCallback registers the single training progress listener.
// The callback is invoked synchronously; it must be fast.
func (d *Detector) SetProgressCallback(cb ProgressCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.progress = cb
}

// SetSensitivity adjusts the sensitivity used by the next training run.
// Values are clamped to [0,1].
func (d *Detector) SetSensitivity(sensitivity float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sensitivity = clamp01(sensitivity)
}

// Sensitivity returns the current sensitivity
func (d *Detector) Sensitivity() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sensitivity
}

// HasProfile reports whether a trained profile is installed
func (d *Detector) HasProfile() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.profile != nil
}

// Profile returns a copy of the installed profile, or nil if untrained
func (d *Detector) Profile() *AcousticProfile {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.profile == nil {
		return nil
	}
	copied := *d.profile
	copied.Spectrum = append([]float32(nil), d.profile.Spectrum...)
	return &copied
}

// SetProfile installs a profile, replacing any existing one. The profile
// must match the detector's sample rate and FFT size.
func (d *Detector) SetProfile(profile *AcousticProfile) error {
	if profile == nil {
		return ErrNoProfile
	}
	if int(profile.SampleRate) != d.cfg.SampleRate || int(profile.FFTSize) != d.cfg.FFTSize {
		return ErrProfileMismatch
	}
	if len(profile.Spectrum) != d.cfg.FFTSize/2+1 {
		return ErrProfileMismatch
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.installProfileLocked(profile)
	return nil
}

// SaveProfile persists the installed profile to path
func (d *Detector) SaveProfile(path string) error {
	profile := d.Profile()
	if profile == nil {
		return ErrNoProfile
	}
	return profile.Save(path)
}

// LoadProfile reads a profile from path and installs it. The in-memory
// profile is left untouched when loading fails.
func (d *Detector) LoadProfile(path string) error {
	profile, err := LoadProfile(path)
	if err != nil {
		return err
	}
	return d.SetProfile(profile)
}

// Reset clears the detection state (histories, spike and streak) without
// touching the profile.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetDetectionLocked()
}

// Config returns the construction configuration
func (d *Detector) Config() Config {
	return d.cfg
}

func (d *Detector) progressLocked() (float64, ProgressCallback) {
	progress := float64(d.stats.SamplesAccepted) / float64(minTrainingSamples)
	if progress > 1 {
		progress = 1
	}
	return progress, d.progress
}

// installProfileLocked swaps in a new profile and caches the float64 views
// used by the hot path. Detection state restarts from scratch.
func (d *Detector) installProfileLocked(profile *AcousticProfile) {
	d.profile = profile

	d.profileSpectrum = make([]float64, len(profile.Spectrum))
	for i, v := range profile.Spectrum {
		d.profileSpectrum[i] = float64(v)
	}
	d.profileLogCentered = logCentered(d.profileSpectrum)

	d.resetDetectionLocked()
}

func (d *Detector) resetDetectionLocked() {
	d.energyHistory = d.energyHistory[:0]
	d.confidenceHistory = d.confidenceHistory[:0]
	d.spikeArmed = false
	d.detecting = false
}

// shapeSimilarity combines a mean-subtracted Pearson correlation with a
// log-domain spectrum distance. Both are scale-invariant, so the profile's
// unit norm and the block's raw level do not skew the comparison.
func (d *Detector) shapeSimilarity(mags []float64) float64 {
	if len(mags) != len(d.profileSpectrum) {
		return 0
	}

	pearson := stat.Correlation(mags, d.profileSpectrum, nil)
	if math.IsNaN(pearson) || pearson < 0 {
		pearson = 0
	}

	current := logCentered(mags)
	var mse float64
	for i := range current {
		diff := current[i] - d.profileLogCentered[i]
		mse += diff * diff
	}
	mse /= float64(len(current))
	logSimilarity := math.Exp(-mse / 2)

	return math.Sqrt(pearson * logSimilarity)
}

// logCentered returns the log-magnitude spectrum with its mean removed
func logCentered(mags []float64) []float64 {
	out := make([]float64, len(mags))
	for i, v := range mags {
		out[i] = math.Log(v + 1e-10)
	}
	mean := stat.Mean(out, nil)
	for i := range out {
		out[i] -= mean
	}
	return out
}

// energyConsistency rewards a steady held energy level over bursty speech
// or music: 1 - coefficient of variation, floored at 0.
func energyConsistency(history []float64) float64 {
	if len(history) < 2 {
		return 0
	}
	mean := stat.Mean(history, nil)
	if mean <= 1e-12 {
		return 0
	}
	cov := stat.StdDev(history, nil) / mean
	if cov >= 1 {
		return 0
	}
	return 1 - cov
}

// energyRatioScore maps energy relative to the trained threshold through a
// piecewise ramp: below 0.3x or above 5x scores zero, [0.3,1)x ramps to
// 0.8, and ratios at or above 1x saturate slowly toward 1.
func energyRatioScore(energy, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	ratio := energy / threshold
	switch {
	case ratio < 0.3 || ratio > 5.0:
		return 0
	case ratio < 1.0:
		return 0.8 * (ratio - 0.3) / 0.7
	default:
		return 1.0 - 0.2*math.Exp(-(ratio - 1.0))
	}
}

func pushFloat(history []float64, value float64, limit int) []float64 {
	history = append(history, value)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

func pushBool(history []bool, value bool, limit int) []bool {
	history = append(history, value)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
