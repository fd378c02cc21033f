// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	AppName       = "micmap"
	ConfigType    = "yaml"
	DefaultConfig = `# MicMap Configuration

# Audio device settings
device_index: -1        # -1 for default capture device (use 'micmap devices' to list)
sample_rate: 48000      # Audio sample rate in Hz
channels: 1             # Capture channels (downmixed to mono before detection)
buffer_size: 512        # Frames per audio callback (~10ms at 48kHz)

# Gesture detection
fft_size: 2048          # FFT window size (power of two)
sensitivity: 0.7        # Detection sensitivity (0.0-1.0), higher = more permissive
min_detection_duration_ms: 300  # Gesture must hold this long before triggering
cooldown_ms: 300        # Cooldown after a trigger fires
detection_threshold: 0.75       # Confidence required by the trigger state machine

# Profile
profile_file: "profile.bin"     # Trained profile, relative paths resolve to the config dir

# Action
trigger_command: ""     # Command to run when the trigger fires (empty = log only)

# Output
debug: false            # Enable debug output
`
)

// Settings holds all application configuration
type Settings struct {
	// Audio device settings
	DeviceIndex int `mapstructure:"device_index"`
	SampleRate  int `mapstructure:"sample_rate"`
	Channels    int `mapstructure:"channels"`
	BufferSize  int `mapstructure:"buffer_size"`

	// Gesture detection
	FFTSize                int     `mapstructure:"fft_size"`
	Sensitivity            float64 `mapstructure:"sensitivity"`
	MinDetectionDurationMs int     `mapstructure:"min_detection_duration_ms"`
	CooldownMs             int     `mapstructure:"cooldown_ms"`
	DetectionThreshold     float64 `mapstructure:"detection_threshold"`

	// Profile
	ProfileFile string `mapstructure:"profile_file"`

	// Action
	TriggerCommand string `mapstructure:"trigger_command"`

	// Output
	Debug bool `mapstructure:"debug"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/micmap/
func Init() error {
	// Set defaults
	viper.SetDefault("device_index", -1)
	viper.SetDefault("sample_rate", 48000)
	viper.SetDefault("channels", 1)
	viper.SetDefault("buffer_size", 512)
	viper.SetDefault("fft_size", 2048)
	viper.SetDefault("sensitivity", 0.7)
	viper.SetDefault("min_detection_duration_ms", 300)
	viper.SetDefault("cooldown_ms", 300)
	viper.SetDefault("detection_threshold", 0.75)
	viper.SetDefault("profile_file", "profile.bin")
	viper.SetDefault("trigger_command", "")
	viper.SetDefault("debug", false)

	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	// Read config file - if not found, create default in XDG config dir
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			xdgConfigPath := filepath.Join(configDir, AppName)
			if err = ensureConfigExists(xdgConfigPath); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// ProfilePath resolves the profile file location. Relative paths resolve
// against the application config directory.
func (s *Settings) ProfilePath() string {
	if filepath.IsAbs(s.ProfileFile) {
		return s.ProfileFile
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, AppName, s.ProfileFile)
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Audio device settings
	if s.SampleRate < 8000 || s.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", s.SampleRate))
	}
	if s.Channels < 1 || s.Channels > 2 {
		errs = append(errs, fmt.Errorf("channels must be 1 or 2, got %d", s.Channels))
	}
	if s.BufferSize < 64 || s.BufferSize > 8192 {
		errs = append(errs, fmt.Errorf("buffer_size must be between 64 and 8192, got %d", s.BufferSize))
	}

	// Gesture detection
	if s.FFTSize < 256 || s.FFTSize > 16384 {
		errs = append(errs, fmt.Errorf("fft_size must be between 256 and 16384, got %d", s.FFTSize))
	}
	if s.FFTSize&(s.FFTSize-1) != 0 {
		errs = append(errs, fmt.Errorf("fft_size must be a power of 2, got %d", s.FFTSize))
	}
	if s.Sensitivity < 0.0 || s.Sensitivity > 1.0 {
		errs = append(errs, fmt.Errorf("sensitivity must be between 0.0 and 1.0, got %v", s.Sensitivity))
	}
	if s.MinDetectionDurationMs < 0 {
		errs = append(errs, fmt.Errorf("min_detection_duration_ms must be non-negative, got %d", s.MinDetectionDurationMs))
	}
	if s.CooldownMs < 0 {
		errs = append(errs, fmt.Errorf("cooldown_ms must be non-negative, got %d", s.CooldownMs))
	}
	if s.DetectionThreshold < 0.0 || s.DetectionThreshold > 1.0 {
		errs = append(errs, fmt.Errorf("detection_threshold must be between 0.0 and 1.0, got %v", s.DetectionThreshold))
	}

	// Profile
	if s.ProfileFile == "" {
		errs = append(errs, errors.New("profile_file must not be empty"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
