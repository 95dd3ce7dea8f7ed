// Package failures defines the error markers photoner uses to classify
// per-file and per-tick failures.
//
// Errors are tagged with one of the sentinels below through Wrap and later
// mapped to the short reason strings persisted in the record store.
package failures

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDiscovery     = errors.New("discovery error")
	ErrPreflight     = errors.New("preflight abort")
	ErrDecode        = errors.New("decode error")
	ErrTransform     = errors.New("transform error")
	ErrOutputIO      = errors.New("output io error")
	ErrRecordStore   = errors.New("record store error")
	ErrSourceMissing = errors.New("source missing")
	ErrSourceEmpty   = errors.New("source empty")
	ErrConfiguration = errors.New("configuration error")
	ErrExternalTool  = errors.New("external tool error")
)

// Reason strings stored in processing records.
const (
	ReasonDecode        = "decode"
	ReasonTransform     = "transform"
	ReasonOutputIO      = "output_io"
	ReasonRecordStore   = "record_store"
	ReasonSourceMissing = "source_missing"
	ReasonSourceEmpty   = "source_empty"
	ReasonCanceled      = "canceled"
	ReasonUnknown       = "unknown"
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. A nil marker is
// treated as an output error, the most common per-file failure.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrOutputIO
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Reason maps an error to the classified reason string persisted for a file.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDecode):
		return ReasonDecode
	case errors.Is(err, ErrTransform):
		return ReasonTransform
	case errors.Is(err, ErrRecordStore):
		return ReasonRecordStore
	case errors.Is(err, ErrSourceMissing):
		return ReasonSourceMissing
	case errors.Is(err, ErrSourceEmpty):
		return ReasonSourceEmpty
	case errors.Is(err, ErrOutputIO):
		return ReasonOutputIO
	case isCanceled(err):
		return ReasonCanceled
	default:
		return ReasonUnknown
	}
}

// IsSkip reports whether err describes a source that vanished or was empty
// by the time the engine reached it; such files are recorded as skipped.
func IsSkip(err error) bool {
	return errors.Is(err, ErrSourceMissing) || errors.Is(err, ErrSourceEmpty)
}

// Retryable reports whether another attempt within the same batch could help.
func Retryable(err error) bool {
	if err == nil || IsSkip(err) || isCanceled(err) {
		return false
	}
	return !errors.Is(err, ErrConfiguration)
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{component, operation, message} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return "photoner failure"
	}
	return strings.Join(parts, ": ")
}
