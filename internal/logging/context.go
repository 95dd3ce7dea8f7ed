package logging

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a log line for filtering (tick_started, item_failed, ...).
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldRunID identifies one tick invocation.
	FieldRunID = "run_id"
	// FieldPhase is the schedule phase a tick is executing.
	FieldPhase = "phase"
	// FieldPopulation names the file population (incoming or archive).
	FieldPopulation = "population"
	// FieldPath is the source file a line refers to.
	FieldPath = "path"
)

type contextKey string

const (
	runIDKey      contextKey = "photoner.run_id"
	phaseKey      contextKey = "photoner.phase"
	populationKey contextKey = "photoner.population"
)

// WithRunID tags ctx with the current tick's run identifier.
func WithRunID(ctx context.Context, runID string) context.Context {
	return withString(ctx, runIDKey, runID)
}

// WithPhase tags ctx with the schedule phase being executed.
func WithPhase(ctx context.Context, phase string) context.Context {
	return withString(ctx, phaseKey, phase)
}

// WithPopulation tags ctx with the population being drained.
func WithPopulation(ctx context.Context, population string) context.Context {
	return withString(ctx, populationKey, population)
}

func withString(ctx context.Context, key contextKey, value string) context.Context {
	value = strings.TrimSpace(value)
	if ctx == nil || value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFromContext(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(key).(string)
	return value, ok && value != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	fields := make([]slog.Attr, 0, 3)
	if id, ok := stringFromContext(ctx, runIDKey); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if phase, ok := stringFromContext(ctx, phaseKey); ok {
		fields = append(fields, slog.String(FieldPhase, phase))
	}
	if population, ok := stringFromContext(ctx, populationKey); ok {
		fields = append(fields, slog.String(FieldPopulation, population))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
