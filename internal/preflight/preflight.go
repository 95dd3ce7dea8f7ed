package preflight

import (
	"context"

	"photoner/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Notification endpoints are only checked when configured.
func RunAll(ctx context.Context, cfg *config.Config, space SpaceChecker) []Result {
	if cfg == nil {
		return nil
	}
	if space == nil {
		space = StatfsChecker{}
	}

	results := []Result{
		CheckDirectoryReadable("Incoming root", cfg.Populations.Incoming.Root),
		CheckDirectoryReadable("Archive root", cfg.Populations.Archive.Root),
		CheckDirectoryAccess("Enhanced directory", cfg.Paths.EnhancedDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckFreeSpace(space, "Free space (incoming)", cfg.Paths.EnhancedDir, cfg.Populations.Incoming.FreeSpaceFloorGB),
		CheckFreeSpace(space, "Free space (archive)", cfg.Paths.EnhancedDir, cfg.Populations.Archive.FreeSpaceFloorGB),
	}

	for _, status := range CheckSystemDeps(ctx, cfg) {
		detail := status.Detail
		if status.Available {
			detail = status.Path
			if status.Version != "" {
				detail += " (" + status.Version + ")"
			}
		} else if status.Optional {
			detail += " (optional)"
		}
		results = append(results, Result{Name: status.Name, Passed: status.Available || status.Optional, Detail: detail})
	}

	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
