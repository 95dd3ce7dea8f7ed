package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"photoner/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Population roots are created empty; the free-space floor is zero so tests
// never depend on the host's disk.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "state", "logs")
	cfgVal.Paths.EnhancedDir = filepath.Join(base, "enhanced")
	cfgVal.Populations.Incoming.Root = filepath.Join(base, "incoming")
	cfgVal.Populations.Archive.Root = filepath.Join(base, "archive")
	cfgVal.Populations.Incoming.FreeSpaceFloorGB = 0
	cfgVal.Populations.Archive.FreeSpaceFloorGB = 0
	cfgVal.Processing.ExiftoolBinary = filepath.Join(base, "missing-exiftool")
	cfgVal.Schedule.SyncWindows = nil

	for _, dir := range []string{cfgVal.Populations.Incoming.Root, cfgVal.Populations.Archive.Root} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithFreeSpaceFloor sets the same free-space floor on both populations.
func WithFreeSpaceFloor(gb float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Populations.Incoming.FreeSpaceFloorGB = gb
		b.cfg.Populations.Archive.FreeSpaceFloorGB = gb
	}
}

// WithMaxRetries overrides processing.max_retries.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Processing.MaxRetries = n
	}
}

// WithSyncWindows replaces the sync calendar.
func WithSyncWindows(windows ...config.SyncWindow) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Schedule.SyncWindows = windows
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
