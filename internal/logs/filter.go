package logs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"photoner/internal/logging"
)

// Latest returns the newest daily log file in dir, or "" when there is none.
// Daily file names sort chronologically.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, logging.LogFilePattern))
	if err != nil {
		return "", fmt.Errorf("glob log files: %w", err)
	}
	var files []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return "", nil
	}
	sort.Strings(files)
	return files[len(files)-1], nil
}

// Filter selects JSON log lines. Zero fields match everything.
type Filter struct {
	RunID     string
	MinLevel  string
	EventType string
}

func (f Filter) empty() bool {
	return f.RunID == "" && f.MinLevel == "" && f.EventType == ""
}

// Apply returns the lines that match f. Lines that are not JSON objects are
// dropped whenever any field is set.
func (f Filter) Apply(lines []string) []string {
	if f.empty() {
		return lines
	}
	minRank := levelRank(f.MinLevel)
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if f.RunID != "" && field(rec, logging.FieldRunID) != f.RunID {
			continue
		}
		if f.EventType != "" && field(rec, logging.FieldEventType) != f.EventType {
			continue
		}
		if f.MinLevel != "" && levelRank(field(rec, "level")) < minRank {
			continue
		}
		out = append(out, line)
	}
	return out
}

func field(rec map[string]any, key string) string {
	if v, ok := rec[key].(string); ok {
		return v
	}
	return ""
}

func levelRank(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return 0
	case "warn", "warning":
		return 2
	case "error":
		return 3
	default:
		return 1
	}
}
