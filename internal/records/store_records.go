package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// upsertTemplate writes every column of a record; %s is the attempts
// expression used when the row already exists.
const upsertTemplate = `INSERT INTO processing_records (
    source_path, path_key, population, output_path, status, failure_reason, failure_detail,
    original_size, output_size, duration_ms, adjustments_json, metadata_warning,
    moved_to_processed, processed_path, attempts, profile, run_id, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (path_key, population) DO UPDATE SET
    source_path = excluded.source_path,
    output_path = excluded.output_path,
    status = excluded.status,
    failure_reason = excluded.failure_reason,
    failure_detail = excluded.failure_detail,
    original_size = excluded.original_size,
    output_size = excluded.output_size,
    duration_ms = excluded.duration_ms,
    adjustments_json = excluded.adjustments_json,
    metadata_warning = excluded.metadata_warning,
    moved_to_processed = excluded.moved_to_processed,
    processed_path = excluded.processed_path,
    attempts = %s,
    profile = COALESCE(excluded.profile, processing_records.profile),
    run_id = COALESCE(excluded.run_id, processing_records.run_id),
    updated_at = excluded.updated_at`

var (
	// upsertSQL keeps the stored attempts when the caller passes 0.
	upsertSQL = fmt.Sprintf(upsertTemplate, "CASE WHEN ? > 0 THEN excluded.attempts ELSE processing_records.attempts END")
	// finishSQL adds the retries made after MarkPending counted the first attempt.
	finishSQL = fmt.Sprintf(upsertTemplate, "processing_records.attempts + ?")
)

// Upsert writes rec in one statement, inserting or replacing the row for
// (path key, population).
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	return s.write(ctx, upsertSQL, rec, max(rec.Attempts, 1), rec.Attempts)
}

func (s *Store) write(ctx context.Context, query string, rec Record, insertAttempts, attemptsArg int) error {
	updated := s.timestamp()
	if !rec.UpdatedAt.IsZero() {
		updated = formatTime(rec.UpdatedAt)
	}
	_, err := s.execWithRetry(ctx, query,
		rec.SourcePath,
		PathKey(rec.SourcePath),
		string(rec.Population),
		nullableString(rec.OutputPath),
		string(rec.Status),
		nullableString(rec.FailureReason),
		nullableString(rec.FailureDetail),
		rec.OriginalSize,
		rec.OutputSize,
		rec.Duration.Milliseconds(),
		nullableString(rec.AdjustmentsJSON),
		nullableString(rec.MetadataWarning),
		boolToInt(rec.MovedToProcessed),
		nullableString(rec.ProcessedPath),
		insertAttempts,
		nullableString(rec.Profile),
		nullableString(rec.RunID),
		updated,
		updated,
		attemptsArg,
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.SourcePath, err)
	}
	return nil
}

// MarkPending records that the engine is starting work on path. Terminal
// fields from any earlier attempt are cleared and the attempts counter grows.
func (s *Store) MarkPending(ctx context.Context, path string, population Population, originalSize int64, profile, runID string) error {
	if err := validateRecord(Record{SourcePath: path, Population: population, Status: StatusPending}); err != nil {
		return err
	}
	now := s.timestamp()
	_, err := s.execWithRetry(ctx, `INSERT INTO processing_records (
    source_path, path_key, population, status, original_size, attempts, profile, run_id, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?, ?)
ON CONFLICT (path_key, population) DO UPDATE SET
    source_path = excluded.source_path,
    status = excluded.status,
    output_path = NULL,
    failure_reason = NULL,
    failure_detail = NULL,
    original_size = excluded.original_size,
    output_size = 0,
    duration_ms = 0,
    adjustments_json = NULL,
    metadata_warning = NULL,
    moved_to_processed = 0,
    processed_path = NULL,
    attempts = processing_records.attempts + 1,
    profile = excluded.profile,
    run_id = excluded.run_id,
    updated_at = excluded.updated_at`,
		path,
		PathKey(path),
		string(population),
		string(StatusPending),
		originalSize,
		nullableString(profile),
		nullableString(runID),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("mark pending %s: %w", path, err)
	}
	return nil
}

// Finish writes the terminal outcome of an attempt.
func (s *Store) Finish(ctx context.Context, rec Record) error {
	if !rec.Status.Terminal() {
		return fmt.Errorf("finish %s: status %q is not terminal", rec.SourcePath, rec.Status)
	}
	if err := validateRecord(rec); err != nil {
		return err
	}
	tries := max(rec.Attempts, 1)
	return s.write(ctx, finishSQL, rec, tries, tries-1)
}

// MarkRelocated notes that the original of a success record now lives at
// processedPath. It fails when no success row exists for path.
func (s *Store) MarkRelocated(ctx context.Context, path string, population Population, processedPath string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE processing_records SET moved_to_processed = 1, processed_path = ?, updated_at = ?
WHERE path_key = ? AND population = ? AND status = ?`,
		processedPath, s.timestamp(), PathKey(path), string(population), string(StatusSuccess),
	)
	if err != nil {
		return fmt.Errorf("mark relocated %s: %w", path, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("mark relocated %s: no success record", path)
	}
	return nil
}

func validateRecord(rec Record) error {
	if strings.TrimSpace(rec.SourcePath) == "" {
		return errors.New("record source path is required")
	}
	if !rec.Population.Valid() {
		return fmt.Errorf("record population %q is not valid", rec.Population)
	}
	switch rec.Status {
	case StatusPending, StatusSuccess, StatusFailed, StatusSkipped:
	default:
		return fmt.Errorf("record status %q is not valid", rec.Status)
	}
	return nil
}

// Get fetches the record for path in population. A missing row returns nil, nil.
func (s *Store) Get(ctx context.Context, path string, population Population) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM processing_records WHERE path_key = ? AND population = ?`,
		PathKey(path), string(population),
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// IsProcessed reports whether a success record exists for path in any population.
func (s *Store) IsProcessed(ctx context.Context, path string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM processing_records WHERE path_key = ? AND status = ?`,
		PathKey(path), string(StatusSuccess),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("is processed: %w", err)
	}
	return count > 0, nil
}

// ProcessedKeys returns the path keys of every success record. An empty
// population matches all populations.
func (s *Store) ProcessedKeys(ctx context.Context, population Population) (map[string]struct{}, error) {
	query := `SELECT path_key FROM processing_records WHERE status = ?`
	args := []any{string(StatusSuccess)}
	if population != "" {
		query += ` AND population = ?`
		args = append(args, string(population))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("processed keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys[key] = struct{}{}
	}
	return keys, rows.Err()
}

// EligibleForCleanup lists success records in population whose originals were
// relocated and whose last transition is older than olderThan, oldest first.
// It never deletes anything.
func (s *Store) EligibleForCleanup(ctx context.Context, olderThan time.Time, population Population) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM processing_records
         WHERE status = ? AND population = ? AND moved_to_processed = 1 AND updated_at < ?
         ORDER BY updated_at, path_key`,
		string(StatusSuccess), string(population), formatTime(olderThan),
	)
	if err != nil {
		return nil, fmt.Errorf("eligible for cleanup: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// List returns records matching filter, most recently updated first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Population != "" {
		clauses = append(clauses, "population = ?")
		args = append(args, string(filter.Population))
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "updated_at >= ?")
		args = append(args, formatTime(filter.Since))
	}
	query := `SELECT ` + recordColumns + ` FROM processing_records`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY updated_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
