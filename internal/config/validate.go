package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePopulations(); err != nil {
		return err
	}
	if err := c.validateProcessing(); err != nil {
		return err
	}
	if err := c.validateEnhancement(); err != nil {
		return err
	}
	if err := c.validateSchedule(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePopulations() error {
	if c.Populations.Incoming.Root == "" {
		return errors.New("populations.incoming.root must be set")
	}
	if c.Populations.Archive.Root == "" {
		return errors.New("populations.archive.root must be set")
	}
	if c.Populations.Incoming.Root == c.Populations.Archive.Root {
		return errors.New("populations.incoming.root and populations.archive.root must differ")
	}
	if c.Paths.EnhancedDir == "" {
		return errors.New("paths.enhanced_dir must be set")
	}
	for name, pop := range map[string]Population{PopulationIncoming: c.Populations.Incoming, PopulationArchive: c.Populations.Archive} {
		if pop.FreeSpaceFloorGB < 0 {
			return fmt.Errorf("populations.%s.free_space_floor_gb must be >= 0", name)
		}
		if pop.CleanupAgeDays < 0 {
			return fmt.Errorf("populations.%s.cleanup_age_days must be >= 0", name)
		}
		if within(pop.Root, c.Paths.EnhancedDir) {
			return fmt.Errorf("populations.%s.root must not live inside paths.enhanced_dir", name)
		}
	}
	return nil
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func (c *Config) validateProcessing() error {
	switch c.Processing.OutputFormat {
	case "jpg", "png", "tif":
	default:
		return fmt.Errorf("processing.output_format %q is not supported (jpg, png, tif)", c.Processing.OutputFormat)
	}
	if c.Processing.JPEGQuality < 1 || c.Processing.JPEGQuality > 100 {
		return errors.New("processing.jpeg_quality must be between 1 and 100")
	}
	if c.Processing.MaxRetries > 10 {
		return errors.New("processing.max_retries must be 10 or fewer")
	}
	return nil
}

func (c *Config) validateEnhancement() error {
	profile, ok := c.Enhancement.Profiles[c.Enhancement.Profile]
	if !ok {
		return fmt.Errorf("enhancement.profile %q has no matching [enhancement.profiles.%s] entry", c.Enhancement.Profile, c.Enhancement.Profile)
	}
	if profile.TargetLuminance < 0 || profile.TargetLuminance > 1 {
		return errors.New("enhancement target_luminance must be between 0 and 1")
	}
	if profile.BrightnessStrength < 0 || profile.BrightnessStrength > 1 {
		return errors.New("enhancement brightness_strength must be between 0 and 1")
	}
	if profile.Contrast < -100 || profile.Contrast > 100 {
		return errors.New("enhancement contrast must be between -100 and 100")
	}
	if profile.Saturation < -100 || profile.Saturation > 500 {
		return errors.New("enhancement saturation must be between -100 and 500")
	}
	if profile.SharpenSigma < 0 {
		return errors.New("enhancement sharpen_sigma must be >= 0")
	}
	return nil
}

func (c *Config) validateSchedule() error {
	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			return fmt.Errorf("schedule.timezone: %w", err)
		}
	}
	for i, window := range c.Schedule.SyncWindows {
		if _, err := ParseClock(window.Time); err != nil {
			return fmt.Errorf("schedule.sync_windows[%d].time: %w", i, err)
		}
		for _, day := range window.Weekdays {
			if _, ok := ParseWeekday(day); !ok {
				return fmt.Errorf("schedule.sync_windows[%d].weekdays: unknown day %q", i, day)
			}
		}
	}
	if c.Schedule.MaxLoadAverage < 0 {
		return errors.New("schedule.max_load_average must be >= 0")
	}
	phases := []struct {
		name  string
		phase Phase
	}{
		{"archive", c.Schedule.Archive},
		{"catchup", c.Schedule.Catchup},
		{"periodic", c.Schedule.Periodic},
	}
	for _, entry := range phases {
		if err := validatePhase(entry.name, entry.phase); err != nil {
			return err
		}
	}
	return nil
}

func validatePhase(name string, phase Phase) error {
	if !phase.Enabled {
		return nil
	}
	if phase.BatchSize <= 0 {
		return fmt.Errorf("schedule.%s.batch_size must be positive", name)
	}
	if phase.Threads <= 0 {
		return fmt.Errorf("schedule.%s.threads must be positive", name)
	}
	if phase.MaxRuntimeMinutes <= 0 {
		return fmt.Errorf("schedule.%s.max_runtime_minutes must be positive", name)
	}
	if len(phase.Windows) == 0 {
		return fmt.Errorf("schedule.%s.windows must contain at least one window", name)
	}
	for i, window := range phase.Windows {
		if err := validateWindow(window); err != nil {
			return fmt.Errorf("schedule.%s.windows[%d]: %w", name, i, err)
		}
	}
	for i, window := range phase.PauseWindows {
		if err := validateWindow(window); err != nil {
			return fmt.Errorf("schedule.%s.pause_windows[%d]: %w", name, i, err)
		}
	}
	return nil
}

func validateWindow(window Window) error {
	start, err := ParseClock(window.Start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := ParseClock(window.End)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	if start == end {
		return errors.New("start and end must differ")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	if c.Notifications.NATSURL != "" && c.Notifications.NATSSubject == "" {
		return errors.New("notifications.nats_subject must be set when notifications.nats_url is set")
	}
	return nil
}
