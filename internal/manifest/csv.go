package manifest

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"photoner/internal/fileutil"
	"photoner/internal/records"
)

var csvHeader = []string{
	"updated_at", "population", "source_path", "output_path", "status",
	"failure_reason", "attempts", "duration_sec", "original_bytes", "output_bytes",
	"moved_to_processed", "processed_path", "metadata_warning", "run_id",
}

// ExportCSV writes recs as CSV with a header row.
func ExportCSV(w io.Writer, recs []records.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range recs {
		row := []string{
			r.UpdatedAt.UTC().Format(time.RFC3339),
			string(r.Population),
			r.SourcePath,
			r.OutputPath,
			string(r.Status),
			r.FailureReason,
			strconv.Itoa(r.Attempts),
			strconv.FormatFloat(r.Duration.Seconds(), 'f', 2, 64),
			strconv.FormatInt(r.OriginalSize, 10),
			strconv.FormatInt(r.OutputSize, 10),
			strconv.FormatBool(r.MovedToProcessed),
			r.ProcessedPath,
			r.MetadataWarning,
			r.RunID,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSV exports recs to <dir>/processing_<date>.csv and returns the path.
func WriteCSV(dir string, recs []records.Record, now time.Time) (string, error) {
	path := filepath.Join(dir, "processing_"+now.Format("2006-01-02")+".csv")
	err := fileutil.WriteAtomic(path, func(w io.Writer) error {
		return ExportCSV(w, recs)
	}, nil)
	if err != nil {
		return "", fmt.Errorf("write csv export: %w", err)
	}
	return path, nil
}
