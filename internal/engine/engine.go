package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"photoner/internal/config"
	"photoner/internal/enhance"
	"photoner/internal/logging"
	"photoner/internal/preflight"
	"photoner/internal/records"
)

// RecordWriter is the subset of the record store the engine writes through.
type RecordWriter interface {
	MarkPending(ctx context.Context, path string, population records.Population, originalSize int64, profile, runID string) error
	Finish(ctx context.Context, rec records.Record) error
	MarkRelocated(ctx context.Context, path string, population records.Population, processedPath string) error
}

// Engine runs work units against one configuration snapshot.
type Engine struct {
	store    RecordWriter
	enhancer enhance.Enhancer
	metadata enhance.MetadataCopier
	space    preflight.SpaceChecker
	logger   *slog.Logger
	now      func() time.Time

	profile        enhance.Profile
	format         enhance.Format
	enhancedDir    string
	roots          map[records.Population]string
	floors         map[records.Population]uint64
	processedDir   string
	moveOriginals  bool
	maxRetries     int
	maxConsecutive int
	runID          string
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithEnhancer replaces the default imaging enhancer.
func WithEnhancer(e enhance.Enhancer) Option {
	return func(eng *Engine) {
		if e != nil {
			eng.enhancer = e
		}
	}
}

// WithMetadataCopier replaces the default exiftool copier.
func WithMetadataCopier(m enhance.MetadataCopier) Option {
	return func(eng *Engine) {
		if m != nil {
			eng.metadata = m
		}
	}
}

// WithSpaceChecker replaces the statfs free-space check.
func WithSpaceChecker(s preflight.SpaceChecker) Option {
	return func(eng *Engine) {
		if s != nil {
			eng.space = s
		}
	}
}

// WithClock overrides the time source used for budgets and durations.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) {
		if now != nil {
			eng.now = now
		}
	}
}

// WithRunID tags every record written by this engine.
func WithRunID(runID string) Option {
	return func(eng *Engine) {
		eng.runID = strings.TrimSpace(runID)
	}
}

// WithMaxRetries overrides processing.max_retries.
func WithMaxRetries(n int) Option {
	return func(eng *Engine) {
		eng.maxRetries = max(n, 0)
	}
}

// WithFreeSpaceFloor overrides the free-space floor of every population.
func WithFreeSpaceFloor(floorGB float64) Option {
	return func(eng *Engine) {
		for pop := range eng.floors {
			eng.floors[pop] = preflight.FloorBytes(floorGB)
		}
	}
}

// New builds an engine from cfg. The configuration is read once; a reloaded
// configuration needs a new engine.
func New(cfg *config.Config, store RecordWriter, logger *slog.Logger, opts ...Option) (*Engine, error) {
	format, err := enhance.ParseFormat(cfg.Processing.OutputFormat, cfg.Processing.JPEGQuality)
	if err != nil {
		return nil, err
	}
	logger = logging.NewComponentLogger(logger, "engine")
	eng := &Engine{
		store:    store,
		enhancer: enhance.NewImagingEnhancer(),
		metadata: enhance.NewExiftoolCopier(cfg.Processing.ExiftoolBinary, logger),
		space:    preflight.StatfsChecker{},
		logger:   logger,
		now:      time.Now,

		profile:     enhance.ProfileFromConfig(cfg),
		format:      format,
		enhancedDir: cfg.Paths.EnhancedDir,
		roots: map[records.Population]string{
			records.PopulationIncoming: cfg.Populations.Incoming.Root,
			records.PopulationArchive:  cfg.Populations.Archive.Root,
		},
		floors: map[records.Population]uint64{
			records.PopulationIncoming: preflight.FloorBytes(cfg.Populations.Incoming.FreeSpaceFloorGB),
			records.PopulationArchive:  preflight.FloorBytes(cfg.Populations.Archive.FreeSpaceFloorGB),
		},
		processedDir:   cfg.Discovery.ProcessedDirName,
		moveOriginals:  cfg.Processing.MoveProcessedOriginals,
		maxRetries:     max(cfg.Processing.MaxRetries, 0),
		maxConsecutive: max(cfg.Processing.MaxConsecutiveFailures, 0),
	}
	for _, opt := range opts {
		opt(eng)
	}
	return eng, nil
}
