package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizePopulations(); err != nil {
		return err
	}
	c.normalizeDiscovery()
	c.normalizeProcessing()
	c.normalizeEnhancement()
	c.normalizeSchedule()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.EnhancedDir, err = expandPath(c.Paths.EnhancedDir); err != nil {
		return fmt.Errorf("paths.enhanced_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizePopulations() error {
	var err error
	if c.Populations.Incoming.Root, err = expandPath(c.Populations.Incoming.Root); err != nil {
		return fmt.Errorf("populations.incoming.root: %w", err)
	}
	if c.Populations.Archive.Root, err = expandPath(c.Populations.Archive.Root); err != nil {
		return fmt.Errorf("populations.archive.root: %w", err)
	}
	if value, ok := os.LookupEnv("PHOTONER_INCOMING_ROOT"); ok && strings.TrimSpace(value) != "" {
		if c.Populations.Incoming.Root, err = expandPath(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("PHOTONER_INCOMING_ROOT: %w", err)
		}
	}
	if value, ok := os.LookupEnv("PHOTONER_ARCHIVE_ROOT"); ok && strings.TrimSpace(value) != "" {
		if c.Populations.Archive.Root, err = expandPath(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("PHOTONER_ARCHIVE_ROOT: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeDiscovery() {
	exts := make([]string, 0, len(c.Discovery.Extensions))
	seen := make(map[string]struct{}, len(c.Discovery.Extensions))
	for _, ext := range c.Discovery.Extensions {
		normalized := strings.ToLower(strings.TrimSpace(ext))
		if normalized == "" {
			continue
		}
		if !strings.HasPrefix(normalized, ".") {
			normalized = "." + normalized
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		exts = append(exts, normalized)
	}
	if len(exts) == 0 {
		exts = append(exts, defaultExtensions...)
	}
	c.Discovery.Extensions = exts
	c.Discovery.ProcessedDirName = strings.TrimSpace(c.Discovery.ProcessedDirName)
	if c.Discovery.ProcessedDirName == "" {
		c.Discovery.ProcessedDirName = defaultProcessedDirName
	}
}

func (c *Config) normalizeProcessing() {
	c.Processing.OutputFormat = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Processing.OutputFormat)), ".")
	switch c.Processing.OutputFormat {
	case "":
		c.Processing.OutputFormat = defaultOutputFormat
	case "jpeg":
		c.Processing.OutputFormat = "jpg"
	case "tiff":
		c.Processing.OutputFormat = "tif"
	}
	if c.Processing.JPEGQuality <= 0 {
		c.Processing.JPEGQuality = defaultJPEGQuality
	}
	if c.Processing.MaxRetries < 0 {
		c.Processing.MaxRetries = 0
	}
	if c.Processing.MaxConsecutiveFailures < 0 {
		c.Processing.MaxConsecutiveFailures = 0
	}
	if c.Processing.TempMaxAgeHours <= 0 {
		c.Processing.TempMaxAgeHours = defaultTempMaxAgeHours
	}
	c.Processing.ExiftoolBinary = strings.TrimSpace(c.Processing.ExiftoolBinary)
	if c.Processing.ExiftoolBinary == "" {
		c.Processing.ExiftoolBinary = defaultExiftoolBinary
	}
}

func (c *Config) normalizeEnhancement() {
	c.Enhancement.Profile = strings.ToLower(strings.TrimSpace(c.Enhancement.Profile))
	if c.Enhancement.Profile == "" {
		c.Enhancement.Profile = defaultEnhancementProfile
	}
	if c.Enhancement.Profiles == nil {
		c.Enhancement.Profiles = defaultProfiles()
	}
	normalized := make(map[string]EnhancementProfile, len(c.Enhancement.Profiles))
	for name, profile := range c.Enhancement.Profiles {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if profile.Gamma <= 0 {
			profile.Gamma = 1.0
		}
		normalized[key] = profile
	}
	c.Enhancement.Profiles = normalized
}

func (c *Config) normalizeSchedule() {
	c.Schedule.Timezone = strings.TrimSpace(c.Schedule.Timezone)
	if c.Schedule.SyncBufferMinutes < 0 {
		c.Schedule.SyncBufferMinutes = 0
	}
	for i := range c.Schedule.SyncWindows {
		window := &c.Schedule.SyncWindows[i]
		window.Time = strings.TrimSpace(window.Time)
		if window.BufferMinutes <= 0 {
			window.BufferMinutes = c.Schedule.SyncBufferMinutes
		}
		days := make([]string, 0, len(window.Weekdays))
		for _, day := range window.Weekdays {
			if trimmed := strings.ToLower(strings.TrimSpace(day)); trimmed != "" {
				days = append(days, trimmed)
			}
		}
		window.Weekdays = days
	}
	if c.Schedule.TickIntervalMinutes <= 0 {
		c.Schedule.TickIntervalMinutes = defaultTickIntervalMinutes
	}
	for _, phase := range []*Phase{&c.Schedule.Archive, &c.Schedule.Catchup, &c.Schedule.Periodic} {
		normalizeWindows(phase.Windows)
		normalizeWindows(phase.PauseWindows)
	}
}

func normalizeWindows(windows []Window) {
	for i := range windows {
		windows[i].Start = strings.TrimSpace(windows[i].Start)
		windows[i].End = strings.TrimSpace(windows[i].End)
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("PHOTONER_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	c.Notifications.NATSURL = strings.TrimSpace(c.Notifications.NATSURL)
	if c.Notifications.NATSURL == "" {
		if value, ok := os.LookupEnv("PHOTONER_NATS_URL"); ok {
			c.Notifications.NATSURL = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("NATS_URL"); ok {
			c.Notifications.NATSURL = strings.TrimSpace(value)
		}
	}
	c.Notifications.NATSSubject = strings.TrimSpace(c.Notifications.NATSSubject)
	if c.Notifications.NATSSubject == "" {
		c.Notifications.NATSSubject = defaultNATSSubject
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = 10
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
