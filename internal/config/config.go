package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Population names used as keys across the configuration surface.
const (
	PopulationIncoming = "incoming"
	PopulationArchive  = "archive"
)

// Paths contains state and output directory configuration.
type Paths struct {
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
	EnhancedDir string `toml:"enhanced_dir"`
}

// Population contains the settings for one file backlog.
type Population struct {
	Root             string  `toml:"root"`
	FreeSpaceFloorGB float64 `toml:"free_space_floor_gb"`
	CleanupAgeDays   int     `toml:"cleanup_age_days"`
}

// Populations groups the incoming stream and the archive backlog.
type Populations struct {
	Incoming Population `toml:"incoming"`
	Archive  Population `toml:"archive"`
}

// Discovery contains file selection rules shared by both populations.
type Discovery struct {
	Extensions       []string `toml:"extensions"`
	ProcessedDirName string   `toml:"processed_dir_name"`
}

// Processing contains per-item execution settings for the processing engine.
type Processing struct {
	MoveProcessedOriginals bool   `toml:"move_processed_originals"`
	MaxRetries             int    `toml:"max_retries"`
	MaxConsecutiveFailures int    `toml:"max_consecutive_failures"`
	OutputFormat           string `toml:"output_format"`
	JPEGQuality            int    `toml:"jpeg_quality"`
	TempMaxAgeHours        int    `toml:"temp_max_age_hours"`
	ExiftoolBinary         string `toml:"exiftool_binary"`
}

// EnhancementProfile holds the parameters handed to the enhancement transform.
type EnhancementProfile struct {
	// TargetLuminance is the mean luminance (0-1) the brightness step aims for; 0 disables it.
	TargetLuminance    float64 `toml:"target_luminance"`
	BrightnessStrength float64 `toml:"brightness_strength"`
	Contrast           float64 `toml:"contrast"`
	Saturation         float64 `toml:"saturation"`
	Gamma              float64 `toml:"gamma"`
	SharpenSigma       float64 `toml:"sharpen_sigma"`
}

// Enhancement selects the active enhancement profile.
type Enhancement struct {
	Profile  string                        `toml:"profile"`
	Profiles map[string]EnhancementProfile `toml:"profiles"`
}

// Window is an HH:MM to HH:MM daily interval. End before start wraps midnight.
type Window struct {
	Start string `toml:"start"`
	End   string `toml:"end"`
}

// SyncWindow marks a recurring time at which the external sync holds the volume.
type SyncWindow struct {
	Time          string   `toml:"time"`
	BufferMinutes int      `toml:"buffer_minutes"`
	Weekdays      []string `toml:"weekdays"`
}

// Phase contains the time windows and resource profile for one operating phase.
type Phase struct {
	Enabled           bool     `toml:"enabled"`
	Windows           []Window `toml:"windows"`
	PauseWindows      []Window `toml:"pause_windows"`
	BatchSize         int      `toml:"batch_size"`
	Threads           int      `toml:"threads"`
	MaxRuntimeMinutes int      `toml:"max_runtime_minutes"`
}

// Schedule contains the phase calendar and the sync-conflict guard.
type Schedule struct {
	Timezone            string       `toml:"timezone"`
	SyncBufferMinutes   int          `toml:"sync_buffer_minutes"`
	SyncWindows         []SyncWindow `toml:"sync_windows"`
	MaxLoadAverage      float64      `toml:"max_load_average"`
	TickIntervalMinutes int          `toml:"tick_interval_minutes"`
	Archive             Phase        `toml:"archive"`
	Catchup             Phase        `toml:"catchup"`
	Periodic            Phase        `toml:"periodic"`
}

// Notifications contains configuration for ntfy and NATS tick reports.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	NATSURL        string `toml:"nats_url"`
	NATSSubject    string `toml:"nats_subject"`
	TickCompleted  bool   `toml:"tick_completed"`
	Aborts         bool   `toml:"aborts"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for photoner.
//
// Configuration sections by subsystem:
//   - Paths: state database, lock token, logs, enhanced output root
//   - Populations: incoming/archive roots, free-space floors, cleanup ages
//   - Discovery: extension filter and processed-subtree convention
//   - Processing: retries, relocation, output encoding
//   - Enhancement: active profile for the enhancement transform
//   - Schedule: phase windows, sync calendar, resource profiles
//   - Notifications: ntfy and NATS tick reports
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Populations   Populations   `toml:"populations"`
	Discovery     Discovery     `toml:"discovery"`
	Processing    Processing    `toml:"processing"`
	Enhancement   Enhancement   `toml:"enhancement"`
	Schedule      Schedule      `toml:"schedule"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/photoner/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file next to the config (or in the working
// directory) is loaded first so environment fallbacks can be kept out of the TOML file.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	loadDotEnv(resolvedPath)

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv never overrides variables that are already set.
func loadDotEnv(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			_ = godotenv.Load(candidate)
		}
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("photoner.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for tick execution.
// Population roots are never created; they belong to the sync process.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.EnhancedDir) != "" {
		if err := os.MkdirAll(c.Paths.EnhancedDir, 0o755); err != nil {
			return fmt.Errorf("create enhanced directory %q: %w", c.Paths.EnhancedDir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the record store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "photoner.db")
}

// LockPath returns the location of the run coordinator lease token.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "photoner.lock")
}

// ReportsDir returns where manifests and exports are written.
func (c *Config) ReportsDir() string {
	return filepath.Join(c.Paths.StateDir, "reports")
}

// Population returns the settings for the named population.
func (c *Config) Population(name string) (Population, bool) {
	switch name {
	case PopulationIncoming:
		return c.Populations.Incoming, true
	case PopulationArchive:
		return c.Populations.Archive, true
	default:
		return Population{}, false
	}
}

// ActiveProfile returns the enhancement profile selected by enhancement.profile.
func (c *Config) ActiveProfile() (string, EnhancementProfile) {
	name := c.Enhancement.Profile
	return name, c.Enhancement.Profiles[name]
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
