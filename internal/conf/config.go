// conf/config.go
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings is the root configuration for the processing node. It is loaded
// once at start-up via Load() and treated as read-only for the remainder of
// the process lifetime — there is no live-reload or dashboard-driven update
// path in this core (that lives in the out-of-scope presentation layer).
type Settings struct {
	Main struct {
		Name string // identifies this node in logs and Source_Node attribution
		Log  LogConfig
	}

	Location struct {
		Latitude  float64 // sentinel -1 means "unknown"
		Longitude float64
	}

	Analysis struct {
		Confidence    float64 // minimum confidence to keep a prediction
		Sensitivity   float64 // user-facing sigmoid sensitivity, clamped to [0.5, 1.5]
		Overlap       float64 // seconds of overlap between consecutive chunks
		Locale        string  // language for common-name lookups
		OccurrenceGate struct {
			Threshold float64 // minimum occurrence-gate score to admit a label
		}
	}

	Privacy struct {
		Threshold       float64 // percent, see detectpipe's human_cutoff formula
		ExtractionLength int    // seconds, symmetric window for clip extraction
	}

	Model struct {
		Dir     string // root directory scanned for manifest.yaml descriptors
		Variant string // preferred remote-source variant, e.g. "fp16"
	}

	SpeciesLists struct {
		IncludePath   string
		ExcludePath   string
		WhitelistPath string
	}

	Discovery struct {
		Enabled            bool
		BrowseTimeout      time.Duration
		PeerRefreshInterval time.Duration
		FallbackPeerURLs   []string // used when discovery finds nothing
	}

	Dispatch struct {
		PollInterval time.Duration
		TempDir      string
	}

	Output struct {
		ExtractedDir string
		DataDir      string // holds the flat summary log and per-segment json sidecars

		SQLite struct {
			Enabled bool
			Path    string
		}
		MySQL struct {
			Enabled  bool
			Username string
			Password string
			Database string
			Host     string
			Port     string
		}
	}

	HeartbeatURL string // optional, pinged once per processed batch
}

// LogConfig defines the configuration for a log file.
type LogConfig struct {
	Enabled     bool
	Path        string
	Rotation    RotationType
	MaxSize     int64
	RotationDay time.Weekday
}

// RotationType defines different types of log rotations.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a fresh
// Settings instance, storing it as the process-wide singleton.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := validateSettings(settings); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	settingsInstance = settings
	return settings, nil
}

// LoadFrom reads configuration from a single explicit file path, bypassing
// the default search-path mechanism. Used for the CLI's positional config
// file argument.
func LoadFrom(path string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	viper.SetConfigFile(path)
	setDefaultConfig()
	viper.SetEnvPrefix("GAIA")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("fatal error reading config file %s: %w", path, err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := validateSettings(settings); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	settingsInstance = settings
	return settings, nil
}

// initViper initializes viper with default values and reads the
// configuration file from the default search paths.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()
	viper.SetEnvPrefix("GAIA")
	viper.AutomaticEnv()

	err = viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config to the first
// default search path and loads it.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	log.Printf("Created default config file at: %s", configPath)
	return viper.ReadInConfig()
}

func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading embedded default config: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance, or nil if not yet
// loaded.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, loading defaults from the
// search path on first use if Load/LoadFrom has not been called yet.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// validateSettings rejects configuration combinations that would otherwise
// fail confusingly deep in a component. A bad config value is fatal before
// the dispatch loop starts.
func validateSettings(s *Settings) error {
	if s.Analysis.Sensitivity < 0.5 || s.Analysis.Sensitivity > 1.5 {
		s.Analysis.Sensitivity = clamp(s.Analysis.Sensitivity, 0.5, 1.5)
	}
	if s.Analysis.Confidence < 0 || s.Analysis.Confidence > 1 {
		return fmt.Errorf("analysis.confidence must be in [0,1], got %v", s.Analysis.Confidence)
	}
	if s.Output.SQLite.Enabled && s.Output.SQLite.Path == "" {
		return fmt.Errorf("output.sqlite.path must be set when output.sqlite.enabled is true")
	}
	if s.Output.MySQL.Enabled && s.Output.MySQL.Database == "" {
		return fmt.Errorf("output.mysql.database must be set when output.mysql.enabled is true")
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
