// Package discovery finds candidate image files under the population roots.
//
// A scan walks one root recursively, keeps files whose lower-cased extension
// is configured, and prunes any directory named after the processed-output
// convention as well as the enhanced output tree when it is nested inside
// the root. Files already recorded as successfully processed are removed by
// ExcludeProcessed, which consults the record store rather than the disk.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"photoner/internal/config"
	"photoner/internal/failures"
	"photoner/internal/fileutil"
	"photoner/internal/logging"
	"photoner/internal/records"
)

// Candidate is a file eligible for processing.
type Candidate struct {
	Path       string
	Population records.Population
	Size       int64
	ModTime    time.Time
}

// AnomalyKind classifies a file or directory excluded from a scan.
type AnomalyKind string

const (
	AnomalyEmptyFile      AnomalyKind = "empty_file"
	AnomalyUnreadableFile AnomalyKind = "unreadable_file"
	AnomalyUnreadableDir  AnomalyKind = "unreadable_dir"
)

// Anomaly describes a path that was skipped during a scan.
type Anomaly struct {
	Path string
	Kind AnomalyKind
	Err  error
}

// Result is the outcome of scanning one root.
type Result struct {
	Root       string
	Population records.Population
	Candidates []Candidate
	Anomalies  []Anomaly
}

// ProcessedLookup reports which path keys already have a success record.
type ProcessedLookup interface {
	ProcessedKeys(ctx context.Context, population records.Population) (map[string]struct{}, error)
}

// Scanner applies the configured selection rules to population roots.
type Scanner struct {
	extensions   map[string]struct{}
	processedDir string
	pruneRoots   []string
	logger       *slog.Logger
}

// NewScanner builds a scanner from the discovery and paths configuration.
func NewScanner(cfg *config.Config, logger *slog.Logger) *Scanner {
	exts := make(map[string]struct{}, len(cfg.Discovery.Extensions))
	for _, ext := range cfg.Discovery.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}
	var prune []string
	if enhanced := strings.TrimSpace(cfg.Paths.EnhancedDir); enhanced != "" {
		prune = append(prune, filepath.Clean(enhanced))
	}
	return &Scanner{
		extensions:   exts,
		processedDir: strings.TrimSpace(cfg.Discovery.ProcessedDirName),
		pruneRoots:   prune,
		logger:       logging.NewComponentLogger(logger, "discovery"),
	}
}

// Scan walks root and returns every matching file. A missing or unreadable
// root is a discovery error; problems below the root are reported as
// anomalies and never abort the scan.
func (s *Scanner) Scan(ctx context.Context, root string, population records.Population) (Result, error) {
	result := Result{Root: root, Population: population}
	root = strings.TrimSpace(root)
	if root == "" {
		return result, failures.Wrap(failures.ErrDiscovery, "discovery", "scan", fmt.Sprintf("%s root not configured", population), nil)
	}
	info, err := os.Stat(root)
	if err != nil {
		return result, failures.Wrap(failures.ErrDiscovery, "discovery", "scan", fmt.Sprintf("stat %s root %q", population, root), err)
	}
	if !info.IsDir() {
		return result, failures.Wrap(failures.ErrDiscovery, "discovery", "scan", fmt.Sprintf("%s root %q is not a directory", population, root), nil)
	}
	root = filepath.Clean(root)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return err
			}
			kind := AnomalyUnreadableFile
			if d == nil || d.IsDir() {
				kind = AnomalyUnreadableDir
			}
			s.anomaly(&result, path, kind, err)
			if kind == AnomalyUnreadableDir {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && s.pruned(path, d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || fileutil.IsTempName(d.Name()) {
			return nil
		}
		if _, ok := s.extensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			s.anomaly(&result, path, AnomalyUnreadableFile, err)
			return nil
		}
		if fi.Size() == 0 {
			s.anomaly(&result, path, AnomalyEmptyFile, nil)
			return nil
		}
		if !readable(path) {
			s.anomaly(&result, path, AnomalyUnreadableFile, fs.ErrPermission)
			return nil
		}
		result.Candidates = append(result.Candidates, Candidate{
			Path:       path,
			Population: population,
			Size:       fi.Size(),
			ModTime:    fi.ModTime(),
		})
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return result, walkErr
		}
		return result, failures.Wrap(failures.ErrDiscovery, "discovery", "scan", fmt.Sprintf("walk %s root %q", population, root), walkErr)
	}

	s.logger.Debug("scan complete",
		logging.String(logging.FieldPopulation, string(population)),
		logging.String("root", root),
		logging.Int("candidates", len(result.Candidates)),
		logging.Int("anomalies", len(result.Anomalies)),
	)
	return result, nil
}

func (s *Scanner) pruned(path, name string) bool {
	if s.processedDir != "" && strings.EqualFold(name, s.processedDir) {
		return true
	}
	clean := filepath.Clean(path)
	for _, p := range s.pruneRoots {
		if clean == p {
			return true
		}
	}
	return false
}

func (s *Scanner) anomaly(result *Result, path string, kind AnomalyKind, err error) {
	result.Anomalies = append(result.Anomalies, Anomaly{Path: path, Kind: kind, Err: err})
	attrs := []logging.Attr{
		logging.Path(path),
		logging.String("anomaly", string(kind)),
		logging.String(logging.FieldPopulation, string(result.Population)),
	}
	if err != nil {
		attrs = append(attrs, logging.Error(err))
	}
	if kind == AnomalyUnreadableDir {
		logging.WarnWithContext(s.logger, "skipping unreadable directory", "discovery_unreadable_dir",
			append(attrs,
				logging.String(logging.FieldErrorHint, "check directory permissions on the population root"),
				logging.String(logging.FieldImpact, "files below this directory are not processed"),
			)...)
		return
	}
	s.logger.Info("excluding file from discovery", logging.Args(attrs...)...)
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// ExcludeProcessed drops candidates that already have a success record in
// any population.
func ExcludeProcessed(ctx context.Context, lookup ProcessedLookup, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	done, err := lookup.ProcessedKeys(ctx, "")
	if err != nil {
		return nil, failures.Wrap(failures.ErrRecordStore, "discovery", "exclude processed", "load processed keys", err)
	}
	remaining := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := done[records.PathKey(c.Path)]; ok {
			continue
		}
		remaining = append(remaining, c)
	}
	return remaining, nil
}

// Discover scans the configured root of population and removes files that
// were already processed.
func Discover(ctx context.Context, cfg *config.Config, lookup ProcessedLookup, population records.Population, logger *slog.Logger) (Result, error) {
	pop, ok := cfg.Population(string(population))
	if !ok {
		return Result{Population: population}, failures.Wrap(failures.ErrDiscovery, "discovery", "discover", fmt.Sprintf("unknown population %q", population), nil)
	}
	result, err := NewScanner(cfg, logger).Scan(ctx, pop.Root, population)
	if err != nil {
		return result, err
	}
	result.Candidates, err = ExcludeProcessed(ctx, lookup, result.Candidates)
	if err != nil {
		return result, err
	}
	return result, nil
}

// Depths counts unprocessed candidates for every population. A population
// whose root cannot be scanned reports zero and the error is returned
// alongside the counts of the others.
func Depths(ctx context.Context, cfg *config.Config, lookup ProcessedLookup, logger *slog.Logger) (map[records.Population]int, error) {
	depths := make(map[records.Population]int, len(records.Populations))
	var errs []error
	for _, population := range records.Populations {
		result, err := Discover(ctx, cfg, lookup, population, logger)
		if err != nil {
			errs = append(errs, err)
			depths[population] = 0
			continue
		}
		depths[population] = len(result.Candidates)
	}
	return depths, errors.Join(errs...)
}
