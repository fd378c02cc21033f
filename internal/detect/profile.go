// internal/detect/profile.go
package detect

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	profileVersion = 1
	// maxProfileBins bounds the profile size accepted when loading, to
	// reject corrupt headers before allocating
	maxProfileBins = 100000
)

var profileMagic = [4]byte{'M', 'M', 'A', 'P'}

var (
	// ErrBadMagic indicates the file is not a profile record
	ErrBadMagic = errors.New("not a profile file: bad magic")
	// ErrBadVersion indicates an unsupported profile format version
	ErrBadVersion = errors.New("unsupported profile version")
	// ErrBadProfileSize indicates a corrupt or out-of-range profile size
	ErrBadProfileSize = errors.New("profile size out of range")
)

// profileHeader is the fixed on-disk header. Field order and widths are
// part of the format and must not change within a version.
type profileHeader struct {
	Magic                [4]byte
	Version              uint32
	SampleRate           uint32
	FFTSize              uint32
	ProfileSize          uint32
	EnergyThreshold      float32
	CorrelationThreshold float32
	FlatnessThreshold    float32
	TrainedAtUnix        int64
	Reserved             [4]uint32
}

// AcousticProfile is a trained reference signature for the target gesture.
// The spectrum has unit L2 norm. A profile is created atomically by a
// successful training run and is read-only during detection; retraining
// replaces it wholesale.
type AcousticProfile struct {
	// Spectrum is the L2-normalized average magnitude spectrum
	Spectrum []float32
	// EnergyThreshold is the mean energy of the accepted training samples
	EnergyThreshold float32
	// CorrelationThreshold is derived from sensitivity at training time
	CorrelationThreshold float32
	// FlatnessThreshold is the minimum spectral flatness hint stored with
	// the profile for diagnostic tooling
	FlatnessThreshold float32
	// SampleRate is the audio sample rate the profile was trained at
	SampleRate uint32
	// FFTSize is the FFT window size the profile was trained with
	FFTSize uint32
	// TrainedAt records when training finished
	TrainedAt time.Time
}

// Save writes the profile to path in the fixed binary record format.
func (p *AcousticProfile) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create profile file: %w", err)
	}
	defer file.Close()

	header := profileHeader{
		Magic:                profileMagic,
		Version:              profileVersion,
		SampleRate:           p.SampleRate,
		FFTSize:              p.FFTSize,
		ProfileSize:          uint32(len(p.Spectrum)),
		EnergyThreshold:      p.EnergyThreshold,
		CorrelationThreshold: p.CorrelationThreshold,
		FlatnessThreshold:    p.FlatnessThreshold,
		TrainedAtUnix:        p.TrainedAt.Unix(),
	}

	if err := binary.Write(file, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("write profile header: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, p.Spectrum); err != nil {
		return fmt.Errorf("write profile data: %w", err)
	}
	return nil
}

// LoadProfile reads a profile record from path. A malformed file is
// rejected without returning a partial profile.
func LoadProfile(path string) (*AcousticProfile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profile file: %w", err)
	}
	defer file.Close()

	var header profileHeader
	if err := binary.Read(file, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read profile header: %w", err)
	}

	if header.Magic != profileMagic {
		return nil, ErrBadMagic
	}
	if header.Version != profileVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, header.Version)
	}
	if header.ProfileSize == 0 || header.ProfileSize > maxProfileBins {
		return nil, fmt.Errorf("%w: %d", ErrBadProfileSize, header.ProfileSize)
	}

	spectrum := make([]float32, header.ProfileSize)
	if err := binary.Read(file, binary.LittleEndian, spectrum); err != nil {
		return nil, fmt.Errorf("read profile data: %w", err)
	}

	return &AcousticProfile{
		Spectrum:             spectrum,
		EnergyThreshold:      header.EnergyThreshold,
		CorrelationThreshold: header.CorrelationThreshold,
		FlatnessThreshold:    header.FlatnessThreshold,
		SampleRate:           header.SampleRate,
		FFTSize:              header.FFTSize,
		TrainedAt:            time.Unix(header.TrainedAtUnix, 0),
	}, nil
}
