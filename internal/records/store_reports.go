package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stats aggregates records, optionally restricted to one population and to
// records updated at or after since.
func (s *Store) Stats(ctx context.Context, population Population, since time.Time) (Stats, error) {
	var (
		clauses []string
		args    []any
	)
	if population != "" {
		clauses = append(clauses, "population = ?")
		args = append(args, string(population))
	}
	if !since.IsZero() {
		clauses = append(clauses, "updated_at >= ?")
		args = append(args, formatTime(since))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(1), COALESCE(SUM(original_size), 0), COALESCE(SUM(output_size), 0),
                COALESCE(SUM(duration_ms), 0), COALESCE(SUM(moved_to_processed), 0)
         FROM processing_records`+where+` GROUP BY status`, args...)
	if err != nil {
		return Stats{}, fmt.Errorf("record stats: %w", err)
	}
	defer rows.Close()

	var (
		stats       Stats
		successTime int64
	)
	for rows.Next() {
		var (
			status                         string
			count                          int
			original, output, durMS, moved int64
		)
		if err := rows.Scan(&status, &count, &original, &output, &durMS, &moved); err != nil {
			return Stats{}, err
		}
		stats.Total += count
		stats.Moved += int(moved)
		switch Status(status) {
		case StatusSuccess:
			stats.Success = count
			stats.OriginalBytes = original
			stats.OutputBytes = output
			successTime = durMS
		case StatusFailed:
			stats.Failed = count
		case StatusSkipped:
			stats.Skipped = count
		case StatusPending:
			stats.Pending = count
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	if stats.Success > 0 {
		stats.AverageDuration = time.Duration(successTime/int64(stats.Success)) * time.Millisecond
	}
	return stats, nil
}

// ErrorSummary groups failed and skipped records by reason, most frequent first.
func (s *Store) ErrorSummary(ctx context.Context, since time.Time) ([]ErrorBucket, error) {
	query := `SELECT COALESCE(failure_reason, 'unknown'), COUNT(1), MAX(updated_at),
                     MAX(source_path), MAX(COALESCE(failure_detail, ''))
              FROM processing_records WHERE status IN (?, ?)`
	args := []any{string(StatusFailed), string(StatusSkipped)}
	if !since.IsZero() {
		query += ` AND updated_at >= ?`
		args = append(args, formatTime(since))
	}
	query += ` GROUP BY COALESCE(failure_reason, 'unknown') ORDER BY COUNT(1) DESC, 1`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error summary: %w", err)
	}
	defer rows.Close()

	var out []ErrorBucket
	for rows.Next() {
		var (
			bucket  ErrorBucket
			lastRaw string
		)
		if err := rows.Scan(&bucket.Reason, &bucket.Count, &lastRaw, &bucket.Example, &bucket.Detail); err != nil {
			return nil, err
		}
		if last, err := parseTimeString(lastRaw); err == nil {
			bucket.LastSeen = last
		}
		out = append(out, bucket)
	}
	return out, rows.Err()
}

// RecordTick persists the outcome of one tick.
func (s *Store) RecordTick(ctx context.Context, tick TickRecord) error {
	if strings.TrimSpace(tick.RunID) == "" {
		return errors.New("tick run id is required")
	}
	_, err := s.execWithRetry(ctx, `INSERT INTO tick_history (
    run_id, started_at, finished_at, phase, population, skip_reason, batch_size,
    success_count, failed_count, skipped_count, untouched_count, abort_reason, stopped_early, error_message
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id) DO UPDATE SET
    finished_at = excluded.finished_at,
    success_count = excluded.success_count,
    failed_count = excluded.failed_count,
    skipped_count = excluded.skipped_count,
    untouched_count = excluded.untouched_count,
    abort_reason = excluded.abort_reason,
    stopped_early = excluded.stopped_early,
    error_message = excluded.error_message`,
		tick.RunID,
		formatTime(tick.StartedAt),
		formatTime(tick.FinishedAt),
		tick.Phase,
		nullableString(string(tick.Population)),
		nullableString(tick.SkipReason),
		tick.BatchSize,
		tick.Success,
		tick.Failed,
		tick.Skipped,
		tick.Untouched,
		nullableString(tick.AbortReason),
		boolToInt(tick.StoppedEarly),
		nullableString(tick.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("record tick: %w", err)
	}
	return nil
}

const tickColumns = "run_id, started_at, finished_at, phase, population, skip_reason, batch_size, success_count, failed_count, skipped_count, untouched_count, abort_reason, stopped_early, error_message"

// LastTick returns the most recently started tick, or nil when none ran yet.
func (s *Store) LastTick(ctx context.Context) (*TickRecord, error) {
	ticks, err := s.ListTicks(ctx, 1)
	if err != nil || len(ticks) == 0 {
		return nil, err
	}
	return &ticks[0], nil
}

// ListTicks returns up to limit ticks, newest first.
func (s *Store) ListTicks(ctx context.Context, limit int) ([]TickRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tickColumns+` FROM tick_history ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list ticks: %w", err)
	}
	defer rows.Close()

	var out []TickRecord
	for rows.Next() {
		var (
			tick                    TickRecord
			startedRaw, finishedRaw string
			population, skip, abort sql.NullString
			errorMessage            sql.NullString
			stoppedEarly            int
		)
		if err := rows.Scan(&tick.RunID, &startedRaw, &finishedRaw, &tick.Phase, &population, &skip,
			&tick.BatchSize, &tick.Success, &tick.Failed, &tick.Skipped, &tick.Untouched,
			&abort, &stoppedEarly, &errorMessage); err != nil {
			return nil, err
		}
		tick.StartedAt, _ = parseTimeString(startedRaw)
		tick.FinishedAt, _ = parseTimeString(finishedRaw)
		tick.Population = Population(population.String)
		tick.SkipReason = skip.String
		tick.AbortReason = abort.String
		tick.StoppedEarly = stoppedEarly != 0
		tick.ErrorMessage = errorMessage.String
		out = append(out, tick)
	}
	return out, rows.Err()
}

// RecordCleanup stores a cleanup performed from a manifest and returns its id.
func (s *Store) RecordCleanup(ctx context.Context, rec CleanupRecord) (int64, error) {
	if !rec.Population.Valid() {
		return 0, fmt.Errorf("cleanup population %q is not valid", rec.Population)
	}
	if rec.FilesDeleted < 0 || rec.BytesFreed < 0 {
		return 0, errors.New("cleanup counts must be non-negative")
	}
	recorded := s.timestamp()
	if !rec.RecordedAt.IsZero() {
		recorded = formatTime(rec.RecordedAt)
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO cleanup_history (population, manifest_path, files_deleted, bytes_freed, note, recorded_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		string(rec.Population), nullableString(rec.ManifestPath), rec.FilesDeleted, rec.BytesFreed,
		nullableString(rec.Note), recorded,
	)
	if err != nil {
		return 0, fmt.Errorf("record cleanup: %w", err)
	}
	return res.LastInsertId()
}

// ListCleanups returns recorded cleanups, newest first.
func (s *Store) ListCleanups(ctx context.Context) ([]CleanupRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, population, manifest_path, files_deleted, bytes_freed, note, recorded_at
         FROM cleanup_history ORDER BY recorded_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list cleanups: %w", err)
	}
	defer rows.Close()

	var out []CleanupRecord
	for rows.Next() {
		var (
			rec            CleanupRecord
			population     string
			manifest, note sql.NullString
			recordedRaw    string
		)
		if err := rows.Scan(&rec.ID, &population, &manifest, &rec.FilesDeleted, &rec.BytesFreed, &note, &recordedRaw); err != nil {
			return nil, err
		}
		rec.Population = Population(population)
		rec.ManifestPath = manifest.String
		rec.Note = note.String
		rec.RecordedAt, _ = parseTimeString(recordedRaw)
		out = append(out, rec)
	}
	return out, rows.Err()
}
