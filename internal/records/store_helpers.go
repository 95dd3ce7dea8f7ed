package records

import (
	"database/sql"
	"errors"
	"path/filepath"
	"time"

	"golang.org/x/text/unicode/norm"
)

const recordColumns = "id, source_path, path_key, population, output_path, status, failure_reason, failure_detail, original_size, output_size, duration_ms, adjustments_json, metadata_warning, moved_to_processed, processed_path, attempts, profile, run_id, created_at, updated_at"

// timestampLayout is fixed width so stored values sort lexicographically.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// PathKey returns the canonical lookup key for a source path. Paths synced
// from macOS arrive in NFD while Linux tools produce NFC; both map to one key.
func PathKey(path string) string {
	if path == "" {
		return ""
	}
	return norm.NFC.String(filepath.Clean(path))
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		rec             Record
		population      string
		status          string
		outputPath      sql.NullString
		failureReason   sql.NullString
		failureDetail   sql.NullString
		durationMS      int64
		adjustments     sql.NullString
		metadataWarning sql.NullString
		moved           int64
		processedPath   sql.NullString
		profile         sql.NullString
		runID           sql.NullString
		createdRaw      string
		updatedRaw      string
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.SourcePath,
		&rec.PathKey,
		&population,
		&outputPath,
		&status,
		&failureReason,
		&failureDetail,
		&rec.OriginalSize,
		&rec.OutputSize,
		&durationMS,
		&adjustments,
		&metadataWarning,
		&moved,
		&processedPath,
		&rec.Attempts,
		&profile,
		&runID,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	rec.Population = Population(population)
	rec.Status = Status(status)
	rec.OutputPath = outputPath.String
	rec.FailureReason = failureReason.String
	rec.FailureDetail = failureDetail.String
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.AdjustmentsJSON = adjustments.String
	rec.MetadataWarning = metadataWarning.String
	rec.MovedToProcessed = moved != 0
	rec.ProcessedPath = processedPath.String
	rec.Profile = profile.String
	rec.RunID = runID.String
	if created, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		rec.UpdatedAt = updated
	}
	return &rec, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timestampLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}
