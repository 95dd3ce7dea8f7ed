// Package manifest writes the human-reviewed artifacts derived from the record
// store: cleanup manifests listing relocated originals that are safe to delete,
// and CSV exports of processing records.
//
// Nothing in this package deletes files. An operator (or a separate job)
// works through a manifest and then records the cleanup with Reconcile.
package manifest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"photoner/internal/fileutil"
	"photoner/internal/records"
)

const separator = "================================================================================"

// Source lists cleanup candidates.
type Source interface {
	EligibleForCleanup(ctx context.Context, olderThan time.Time, population records.Population) ([]records.Record, error)
}

// Entry is one relocated original listed in a manifest.
type Entry struct {
	Path        string
	Size        int64
	SourcePath  string
	OutputPath  string
	ProcessedAt time.Time
}

// Manifest lists originals whose enhanced version exists and which have sat
// in the processed folder for longer than the population's cleanup age.
type Manifest struct {
	Population  records.Population
	GeneratedAt time.Time
	AgeDays     int
	Entries     []Entry
	// Missing counts eligible records whose relocated original is already gone.
	Missing    int
	TotalBytes int64
}

// Build collects the manifest for population from src. Records whose
// processed copy no longer exists on disk are counted but not listed.
func Build(ctx context.Context, src Source, population records.Population, ageDays int, now time.Time) (Manifest, error) {
	if !population.Valid() {
		return Manifest{}, fmt.Errorf("unknown population %q", population)
	}
	m := Manifest{Population: population, GeneratedAt: now, AgeDays: max(ageDays, 0)}
	recs, err := src.EligibleForCleanup(ctx, now.AddDate(0, 0, -m.AgeDays), population)
	if err != nil {
		return m, err
	}
	for _, rec := range recs {
		path := strings.TrimSpace(rec.ProcessedPath)
		if path == "" {
			m.Missing++
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			m.Missing++
			continue
		}
		m.Entries = append(m.Entries, Entry{
			Path:        path,
			Size:        info.Size(),
			SourcePath:  rec.SourcePath,
			OutputPath:  rec.OutputPath,
			ProcessedAt: rec.UpdatedAt,
		})
		m.TotalBytes += info.Size()
	}
	return m, nil
}

// WriteTo renders the manifest. The header is for humans; every entry line
// is "<path>\t<bytes>\t<processed at RFC 3339>" so the file can be fed to
// scripts and back into Reconcile.
func (m Manifest) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Cleanup manifest generated: %s\n", m.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Population: %s\n", m.Population)
	fmt.Fprintf(&b, "Processed more than %d days ago\n", m.AgeDays)
	fmt.Fprintf(&b, "Total files: %d\n", len(m.Entries))
	fmt.Fprintf(&b, "Total size: %s\n", humanize.IBytes(uint64(max(m.TotalBytes, 0))))
	if m.Missing > 0 {
		fmt.Fprintf(&b, "Already removed: %d\n", m.Missing)
	}
	b.WriteString(separator + "\n\n")
	b.WriteString("Originals safe to delete (each has an enhanced version):\n\n")
	for _, e := range m.Entries {
		fmt.Fprintf(&b, "%s\t%d\t%s\n", e.Path, e.Size, e.ProcessedAt.UTC().Format(time.RFC3339))
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// Write stores the manifest under dir and returns its path.
func Write(dir string, m Manifest) (string, error) {
	name := fmt.Sprintf("cleanup_manifest_%s_%s.txt", m.Population, m.GeneratedAt.Format("2006-01-02_150405"))
	path := filepath.Join(dir, name)
	err := fileutil.WriteAtomic(path, func(w io.Writer) error {
		_, err := m.WriteTo(w)
		return err
	}, nil)
	if err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// Listed is one entry line read back from a manifest file.
type Listed struct {
	Path string
	Size int64
}

// Parse reads the entry lines of a manifest written by Write.
func Parse(r io.Reader) ([]Listed, error) {
	var (
		out     []Listed
		inBody  bool
		scanner = bufio.NewScanner(r)
	)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Text()
		if !inBody {
			inBody = text == separator
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != 3 {
			continue
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return out, fmt.Errorf("manifest line %d: bad size %q", line, fields[1])
		}
		out = append(out, Listed{Path: fields[0], Size: size})
	}
	if err := scanner.Err(); err != nil {
		return out, err
	}
	if !inBody {
		return nil, fmt.Errorf("not a cleanup manifest: separator line missing")
	}
	return out, nil
}

// Reconciliation compares a manifest with the filesystem.
type Reconciliation struct {
	Deleted    int
	BytesFreed int64
	Remaining  []string
}

// Reconcile reads the manifest at path and reports which listed originals
// are gone, which is what an operator records after a cleanup.
func Reconcile(path string) (Reconciliation, error) {
	f, err := os.Open(path)
	if err != nil {
		return Reconciliation{}, err
	}
	defer f.Close()
	listed, err := Parse(f)
	if err != nil {
		return Reconciliation{}, err
	}
	var rec Reconciliation
	for _, l := range listed {
		if _, err := os.Lstat(l.Path); os.IsNotExist(err) {
			rec.Deleted++
			rec.BytesFreed += l.Size
			continue
		}
		rec.Remaining = append(rec.Remaining, l.Path)
	}
	return rec, nil
}
