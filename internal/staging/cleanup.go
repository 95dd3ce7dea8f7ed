package staging

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"photoner/internal/fileutil"
	"photoner/internal/logging"
)

// CleanStaleResult contains the outcome of an orphaned temp file sweep.
type CleanStaleResult struct {
	Removed []string
	Bytes   int64
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes temporary output files older than maxAge anywhere under
// root. Only names produced by fileutil.WriteAtomic are considered; finished
// outputs are never touched.
func CleanStale(ctx context.Context, root string, maxAge time.Duration, now time.Time, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}

	root = strings.TrimSpace(root)
	if root == "" {
		return result
	}
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := now.Add(-maxAge)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !fileutil.IsTempName(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			if logger != nil {
				logger.Warn("failed to remove orphaned temp file",
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldEventType, "temp_cleanup_failed"),
					logging.String(logging.FieldErrorHint, "check enhanced_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			return nil
		}
		result.Removed = append(result.Removed, path)
		result.Bytes += info.Size()
		if logger != nil {
			logger.Info("removed orphaned temp file",
				logging.String("path", path),
				logging.Duration("age", now.Sub(info.ModTime())),
				logging.Int64("size_bytes", info.Size()),
				logging.String(logging.FieldEventType, "temp_cleanup"),
			)
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, fs.SkipAll) {
		result.Errors = append(result.Errors, CleanupError{Path: root, Error: walkErr})
	}
	return result
}

// TempInfo describes a temporary output file found on disk.
type TempInfo struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// ListTemps returns every temporary output file under root.
func ListTemps(root string) ([]TempInfo, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, nil
	}
	var temps []TempInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return nil // best effort
		}
		if d.IsDir() || !fileutil.IsTempName(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		temps = append(temps, TempInfo{Path: path, ModTime: info.ModTime(), Size: info.Size()})
		return nil
	})
	if err != nil && !errors.Is(err, fs.SkipAll) {
		return temps, err
	}
	return temps, nil
}
