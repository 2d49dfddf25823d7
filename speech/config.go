package speech

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Voice types understood by the platform backend. Unknown types fall
// back to "modern" on the backend side, mirroring its own behavior.
var VoiceTypes = []string{"classic", "modern", "narrator", "male", "female"}

// Speech rates and pitches accepted by the backend.
var (
	Rates   = []string{"slow", "medium", "fast"}
	Pitches = []string{"low", "medium", "high"}
)

// Config contains all speech coordinator options.
type Config struct {
	// Backend settings
	BackendURL string `yaml:"backend_url" env:"PANELVOICE_BACKEND_URL"`

	// Voice settings
	VoiceType string `yaml:"voice_type" env:"PANELVOICE_VOICE"`
	Rate      string `yaml:"rate" env:"PANELVOICE_RATE"`
	Pitch     string `yaml:"pitch" env:"PANELVOICE_PITCH"`
	UseSSML   bool   `yaml:"use_ssml" env:"PANELVOICE_USE_SSML"`

	// Cache settings
	CacheEnabled bool `yaml:"cache_enabled" env:"PANELVOICE_CACHE_ENABLED"`
	MaxCacheSize int  `yaml:"max_cache_size" env:"PANELVOICE_MAX_CACHE_SIZE"`

	// Timing settings
	SynthesisTimeout   time.Duration `yaml:"synthesis_timeout" env:"PANELVOICE_SYNTHESIS_TIMEOUT"`
	ErrorRecoveryDelay time.Duration `yaml:"error_recovery_delay" env:"PANELVOICE_ERROR_RECOVERY_DELAY"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BackendURL:         "http://localhost:8000",
		VoiceType:          "modern",
		Rate:               "medium",
		Pitch:              "medium",
		UseSSML:            false,
		CacheEnabled:       true,
		MaxCacheSize:       100,
		SynthesisTimeout:   30 * time.Second,
		ErrorRecoveryDelay: 2 * time.Second,
	}
}

// LoadConfig reads a YAML config file, overlays environment variables,
// and validates the result. A missing file is not an error; defaults and
// the environment apply.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env overlay
		case err != nil:
			return cfg, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks if the configuration is valid. Enum fields are
// lowercased in place when they match case-insensitively.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("%w: backend_url cannot be empty", ErrInvalidConfig)
	}

	if !normalizeEnum(&c.VoiceType, VoiceTypes) {
		return fmt.Errorf("%w: invalid voice type '%s': must be one of %v", ErrInvalidConfig, c.VoiceType, VoiceTypes)
	}
	if !normalizeEnum(&c.Rate, Rates) {
		return fmt.Errorf("%w: invalid rate '%s': must be one of %v", ErrInvalidConfig, c.Rate, Rates)
	}
	if !normalizeEnum(&c.Pitch, Pitches) {
		return fmt.Errorf("%w: invalid pitch '%s': must be one of %v", ErrInvalidConfig, c.Pitch, Pitches)
	}

	if c.MaxCacheSize < 1 {
		return fmt.Errorf("%w: max_cache_size must be at least 1, got %d", ErrInvalidConfig, c.MaxCacheSize)
	}
	if c.SynthesisTimeout < time.Second {
		return fmt.Errorf("%w: synthesis_timeout must be at least 1 second, got %v", ErrInvalidConfig, c.SynthesisTimeout)
	}
	if c.ErrorRecoveryDelay <= 0 {
		return fmt.Errorf("%w: error_recovery_delay must be positive, got %v", ErrInvalidConfig, c.ErrorRecoveryDelay)
	}

	return nil
}

// normalizeEnum lowercases *value in place when it matches one of the
// allowed values case-insensitively.
func normalizeEnum(value *string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(*value, a) {
			*value = a
			return true
		}
	}
	return false
}
