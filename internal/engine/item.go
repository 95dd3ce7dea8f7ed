package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"photoner/internal/discovery"
	"photoner/internal/enhance"
	"photoner/internal/failures"
	"photoner/internal/fileutil"
	"photoner/internal/logging"
	"photoner/internal/records"
)

type attemptResult struct {
	outputPath  string
	outputSize  int64
	adjustments enhance.Adjustments
	warning     string
}

func (e *Engine) processItem(ctx context.Context, population records.Population, item discovery.Candidate) ItemOutcome {
	logger := logging.WithContext(ctx, e.logger).With(logging.Path(item.Path))
	start := e.now()
	outcome := ItemOutcome{Path: item.Path, OriginalSize: item.Size}

	if err := e.store.MarkPending(ctx, item.Path, population, item.Size, e.profile.Name, e.runID); err != nil {
		outcome.Status = records.StatusFailed
		outcome.Reason = failures.ReasonRecordStore
		outcome.Detail = err.Error()
		outcome.Duration = e.now().Sub(start)
		logging.ErrorWithContext(logger, "record store unavailable", "record_store_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state database with photoner doctor"),
		)
		return outcome
	}

	var (
		res attemptResult
		err error
	)
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		outcome.Attempts++
		res, err = e.attempt(ctx, population, item)
		if err == nil || !failures.Retryable(err) || attempt == e.maxRetries {
			break
		}
		logger.Info("retrying file",
			logging.String(logging.FieldEventType, "item_retry"),
			logging.Int("attempt", attempt+1),
			logging.String("reason", failures.Reason(err)),
			logging.Error(err),
		)
	}
	outcome.Duration = e.now().Sub(start)

	rec := records.Record{
		SourcePath:   item.Path,
		Population:   population,
		OriginalSize: item.Size,
		Duration:     outcome.Duration,
		Profile:      e.profile.Name,
		RunID:        e.runID,
		Attempts:     outcome.Attempts,
	}

	switch {
	case err == nil:
		outcome.Status = records.StatusSuccess
		outcome.OutputPath = res.outputPath
		outcome.OutputSize = res.outputSize
		outcome.MetadataWarning = res.warning
		rec.Status = records.StatusSuccess
		rec.OutputPath = res.outputPath
		rec.OutputSize = res.outputSize
		rec.AdjustmentsJSON = res.adjustments.JSON()
		rec.MetadataWarning = res.warning
	case failures.IsSkip(err):
		outcome.Status = records.StatusSkipped
		outcome.Reason = failures.Reason(err)
		outcome.Detail = err.Error()
		rec.Status = records.StatusSkipped
		rec.FailureReason = outcome.Reason
		rec.FailureDetail = outcome.Detail
	default:
		outcome.Status = records.StatusFailed
		outcome.Reason = failures.Reason(err)
		outcome.Detail = err.Error()
		rec.Status = records.StatusFailed
		rec.FailureReason = outcome.Reason
		rec.FailureDetail = outcome.Detail
	}

	if ferr := e.store.Finish(ctx, rec); ferr != nil {
		logging.ErrorWithContext(logger, "failed to record outcome", "record_store_failed",
			logging.Error(ferr),
			logging.String("status", string(rec.Status)),
			logging.String(logging.FieldErrorHint, "check the state database with photoner doctor"),
			logging.String(logging.FieldImpact, "file stays pending and is retried next tick"),
		)
		outcome.Status = records.StatusFailed
		outcome.Reason = failures.ReasonRecordStore
		outcome.Detail = ferr.Error()
		return outcome
	}

	// The original only moves once its success record is durable, so a
	// crash leaves either a rediscoverable file or a recorded one.
	if outcome.Status == records.StatusSuccess && e.moveOriginals {
		outcome.ProcessedPath, outcome.Moved = e.relocate(ctx, logger, population, item.Path)
	}

	switch outcome.Status {
	case records.StatusSuccess:
		attrs := []logging.Attr{
			logging.String(logging.FieldEventType, "item_completed"),
			logging.String("output", outcome.OutputPath),
			logging.Int64("original_bytes", outcome.OriginalSize),
			logging.Int64("output_bytes", outcome.OutputSize),
			logging.Duration("duration", outcome.Duration),
			logging.Bool("moved", outcome.Moved),
		}
		if outcome.MetadataWarning != "" {
			attrs = append(attrs, logging.String("metadata_warning", outcome.MetadataWarning))
		}
		logger.Info("file enhanced", logging.Args(attrs...)...)
	case records.StatusSkipped:
		logger.Info("file skipped",
			logging.String(logging.FieldEventType, "item_skipped"),
			logging.String("reason", outcome.Reason),
		)
	default:
		logging.WarnWithContext(logger, "file failed", "item_failed",
			logging.String("reason", outcome.Reason),
			logging.Int("attempts", outcome.Attempts),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run photoner records errors for details"),
			logging.String(logging.FieldImpact, "file retried on a later tick"),
		)
	}
	return outcome
}

func (e *Engine) attempt(ctx context.Context, population records.Population, item discovery.Candidate) (attemptResult, error) {
	info, err := os.Stat(item.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return attemptResult{}, failures.Wrap(failures.ErrSourceMissing, "engine", "verify source", "source disappeared before processing", err)
		}
		return attemptResult{}, failures.Wrap(failures.ErrDecode, "engine", "verify source", "stat source", err)
	}
	if info.Size() == 0 {
		return attemptResult{}, failures.Wrap(failures.ErrSourceEmpty, "engine", "verify source", "source is empty", nil)
	}

	img, err := enhance.Decode(item.Path)
	if err != nil {
		return attemptResult{}, err
	}
	enhanced, adj, err := e.enhancer.Enhance(ctx, img, e.profile)
	if err != nil {
		if errors.Is(err, failures.ErrTransform) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return attemptResult{}, err
		}
		return attemptResult{}, failures.Wrap(failures.ErrTransform, "engine", "enhance", "", err)
	}

	res := attemptResult{outputPath: e.OutputPath(population, item.Path), adjustments: adj}
	err = fileutil.WriteAtomic(res.outputPath,
		func(w io.Writer) error { return enhance.Encode(w, enhanced, e.format) },
		func(tmpPath string) error {
			warning, err := e.metadata.Copy(ctx, item.Path, tmpPath)
			res.warning = warning
			return err
		},
	)
	if err != nil {
		if errors.Is(err, failures.ErrOutputIO) || errors.Is(err, failures.ErrExternalTool) {
			return attemptResult{}, err
		}
		return attemptResult{}, failures.Wrap(failures.ErrOutputIO, "engine", "write output", res.outputPath, err)
	}
	if st, err := os.Stat(res.outputPath); err == nil {
		res.outputSize = st.Size()
	}
	return res, nil
}

// OutputPath maps a source file to its enhanced output:
// <enhanced_dir>/<population>/<dir relative to root>/<stem>_enhanced.<ext>.
// When the source extension differs from the output format it is kept in the
// name so a.jpg and a.png in one directory do not collide.
func (e *Engine) OutputPath(population records.Population, source string) string {
	rel := "."
	if root := e.roots[population]; root != "" {
		if r, err := filepath.Rel(root, filepath.Dir(source)); err == nil && r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			rel = r
		}
	}
	base := filepath.Base(source)
	srcExt := filepath.Ext(base)
	stem := strings.TrimSuffix(base, srcExt)
	if ext := strings.ToLower(strings.TrimPrefix(srcExt, ".")); ext != "" && ext != e.format.Extension {
		stem += "_" + ext
	}
	name := fmt.Sprintf("%s_enhanced.%s", stem, e.format.Extension)
	return filepath.Join(e.enhancedDir, string(population), rel, name)
}

// relocate moves a processed original into <parent>/<processed_dir>/ and
// records the move. Any failure is logged and leaves the original in place.
func (e *Engine) relocate(ctx context.Context, logger *slog.Logger, population records.Population, source string) (string, bool) {
	if strings.TrimSpace(e.processedDir) == "" {
		return "", false
	}
	dest := filepath.Join(filepath.Dir(source), e.processedDir, filepath.Base(source))
	if err := fileutil.MoveFile(source, dest); err != nil {
		logger.Warn("could not relocate original",
			logging.String(logging.FieldEventType, "relocate_failed"),
			logging.String("destination", dest),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check write permission on the population root"),
			logging.String(logging.FieldImpact, "output kept; original stays in place"),
		)
		return "", false
	}
	if err := e.store.MarkRelocated(context.WithoutCancel(ctx), source, population, dest); err != nil {
		impact := "original moved back; not listed for cleanup"
		attrs := []logging.Attr{
			logging.String("destination", dest),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state database with photoner doctor"),
		}
		if backErr := fileutil.MoveFile(dest, source); backErr != nil {
			impact = "original left in processed folder without a cleanup record"
			attrs = append(attrs, logging.String("move_back_error", backErr.Error()))
		}
		attrs = append(attrs, logging.String(logging.FieldImpact, impact))
		logging.WarnWithContext(logger, "could not record relocation", "relocate_unrecorded", attrs...)
		return "", false
	}
	return dest, true
}
