// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/ColonelBlimp/cwkeyer/internal/dsp"
)

const (
	AppName       = "cwkeyer"
	ConfigType    = "yaml"
	DefaultConfig = `# CW Keyer Configuration

# Audio device settings
device_index: -1        # -1 for default device (see 'cwkeyer devices')
sample_rate: 48000      # Audio sample rate in Hz
channels: 1             # Channels opened on the device, mixed down to mono
buffer_size: 512        # Frames per audio callback

# Tone detection
block_size: 128         # Samples per Goertzel block (~2.7ms at 48kHz)
tone_frequency: 600     # CW tone frequency in Hz

# Frequency scanning: follow the strongest tone in a band instead of a fixed one
scan_enabled: false
scan_min_frequency: 400
scan_max_frequency: 900
scan_step: 50

# Output
output_format: text     # text or json
show_levels: false      # Print a status line per processed chunk
metrics_addr: ""        # e.g. ":9110" to serve Prometheus metrics
queue_size: 64          # Audio chunks buffered ahead of the processor
debug: false            # Enable debug output
`
)

// Output formats accepted by output_format
var outputFormats = map[string]bool{
	"text": true,
	"json": true,
}

// Settings holds all application configuration
type Settings struct {
	// Audio device settings
	DeviceIndex int     `mapstructure:"device_index"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Channels    int     `mapstructure:"channels"`
	BufferSize  int     `mapstructure:"buffer_size"`

	// Tone detection
	BlockSize     int     `mapstructure:"block_size"`
	ToneFrequency float64 `mapstructure:"tone_frequency"`

	// Frequency scanning
	ScanEnabled      bool    `mapstructure:"scan_enabled"`
	ScanMinFrequency float64 `mapstructure:"scan_min_frequency"`
	ScanMaxFrequency float64 `mapstructure:"scan_max_frequency"`
	ScanStep         float64 `mapstructure:"scan_step"`

	// Output
	OutputFormat string `mapstructure:"output_format"`
	ShowLevels   bool   `mapstructure:"show_levels"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
	QueueSize    int    `mapstructure:"queue_size"`
	Debug        bool   `mapstructure:"debug"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/cwkeyer/
func Init() error {
	setDefaults()

	viper.SetConfigType(ConfigType)
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	appDir := filepath.Join(configDir, AppName)
	viper.AddConfigPath(appDir)

	// .config.yaml (hidden) wins over config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		return fmt.Errorf("read config: %w", err)
	}
	if err = ensureConfigExists(appDir); err != nil {
		return err
	}
	if err = viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("device_index", -1)
	viper.SetDefault("sample_rate", 48000)
	viper.SetDefault("channels", 1)
	viper.SetDefault("buffer_size", 512)
	viper.SetDefault("block_size", 128)
	viper.SetDefault("tone_frequency", 600)
	viper.SetDefault("scan_enabled", false)
	viper.SetDefault("scan_min_frequency", 400)
	viper.SetDefault("scan_max_frequency", 900)
	viper.SetDefault("scan_step", 50)
	viper.SetDefault("output_format", "text")
	viper.SetDefault("show_levels", false)
	viper.SetDefault("metrics_addr", "")
	viper.SetDefault("queue_size", 64)
	viper.SetDefault("debug", false)
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

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error
	nyquist := s.SampleRate / 2

	// Audio device settings
	if s.SampleRate < 8000 || s.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %v", s.SampleRate))
	}
	if s.Channels < 1 || s.Channels > 2 {
		errs = append(errs, fmt.Errorf("channels must be 1 or 2, got %d", s.Channels))
	}
	if s.BufferSize < 64 || s.BufferSize > 8192 {
		errs = append(errs, fmt.Errorf("buffer_size must be between 64 and 8192, got %d", s.BufferSize))
	}

	// Tone detection
	if s.BlockSize < 32 || s.BlockSize > 4096 {
		errs = append(errs, fmt.Errorf("block_size must be between 32 and 4096, got %d", s.BlockSize))
	}
	if s.ToneFrequency < 100 || s.ToneFrequency > 3000 {
		errs = append(errs, fmt.Errorf("tone_frequency must be between 100 and 3000 Hz, got %v", s.ToneFrequency))
	}
	if s.ToneFrequency >= nyquist {
		errs = append(errs, fmt.Errorf("tone_frequency (%v Hz) must be less than Nyquist frequency (%v Hz)", s.ToneFrequency, nyquist))
	}

	// Frequency scanning
	if s.ScanEnabled {
		if s.ScanMinFrequency < 100 || s.ScanMaxFrequency > 3000 {
			errs = append(errs, fmt.Errorf("scan range must lie within 100-3000 Hz, got %v-%v", s.ScanMinFrequency, s.ScanMaxFrequency))
		}
		if s.ScanMaxFrequency < s.ScanMinFrequency {
			errs = append(errs, fmt.Errorf("scan_max_frequency (%v) must not be below scan_min_frequency (%v)", s.ScanMaxFrequency, s.ScanMinFrequency))
		}
		if s.ScanStep <= 0 {
			errs = append(errs, fmt.Errorf("scan_step must be positive, got %v", s.ScanStep))
		}
		if s.ScanMaxFrequency >= nyquist {
			errs = append(errs, fmt.Errorf("scan_max_frequency (%v Hz) must be less than Nyquist frequency (%v Hz)", s.ScanMaxFrequency, nyquist))
		}
	}

	// Output
	if !outputFormats[s.OutputFormat] {
		errs = append(errs, fmt.Errorf("output_format must be text or json, got %q", s.OutputFormat))
	}
	if s.QueueSize < 1 || s.QueueSize > 4096 {
		errs = append(errs, fmt.Errorf("queue_size must be between 1 and 4096, got %d", s.QueueSize))
	}
	if s.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(s.MetricsAddr); err != nil {
			errs = append(errs, fmt.Errorf("metrics_addr must be host:port, got %q: %w", s.MetricsAddr, err))
		}
	}

	return errors.Join(errs...)
}

// ProcessorConfig maps the settings onto a pipeline configuration
func (s *Settings) ProcessorConfig() dsp.ProcessorConfig {
	cfg := dsp.ProcessorConfig{
		SampleRate:    s.SampleRate,
		BlockSize:     s.BlockSize,
		ToneFrequency: s.ToneFrequency,
	}
	if s.ScanEnabled {
		cfg.Scan = &dsp.ScanConfig{
			MinFrequency: s.ScanMinFrequency,
			MaxFrequency: s.ScanMaxFrequency,
			Step:         s.ScanStep,
		}
	}
	return cfg
}
