package config

const (
	defaultStateDir               = "~/.local/share/photoner"
	defaultEnhancedDir            = "~/Pictures/enhanced"
	defaultIncomingRoot           = "~/Pictures/incoming"
	defaultArchiveRoot            = "~/Pictures/archive"
	defaultFreeSpaceFloorGB       = 10
	defaultCleanupAgeDays         = 30
	defaultProcessedDirName       = "processed"
	defaultMaxRetries             = 1
	defaultMaxConsecutiveFailures = 25
	defaultOutputFormat           = "jpg"
	defaultJPEGQuality            = 92
	defaultTempMaxAgeHours        = 24
	defaultExiftoolBinary         = "exiftool"
	defaultEnhancementProfile     = "conservative"
	defaultSyncBufferMinutes      = 10
	defaultTickIntervalMinutes    = 15
	defaultNATSSubject            = "photoner.ticks"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 60
)

var defaultExtensions = []string{".jpg", ".jpeg", ".png", ".tif", ".tiff"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:    defaultStateDir,
			EnhancedDir: defaultEnhancedDir,
		},
		Populations: Populations{
			Incoming: Population{
				Root:             defaultIncomingRoot,
				FreeSpaceFloorGB: defaultFreeSpaceFloorGB,
				CleanupAgeDays:   defaultCleanupAgeDays,
			},
			Archive: Population{
				Root:             defaultArchiveRoot,
				FreeSpaceFloorGB: defaultFreeSpaceFloorGB,
				CleanupAgeDays:   defaultCleanupAgeDays,
			},
		},
		Discovery: Discovery{
			Extensions:       append([]string(nil), defaultExtensions...),
			ProcessedDirName: defaultProcessedDirName,
		},
		Processing: Processing{
			MoveProcessedOriginals: true,
			MaxRetries:             defaultMaxRetries,
			MaxConsecutiveFailures: defaultMaxConsecutiveFailures,
			OutputFormat:           defaultOutputFormat,
			JPEGQuality:            defaultJPEGQuality,
			TempMaxAgeHours:        defaultTempMaxAgeHours,
			ExiftoolBinary:         defaultExiftoolBinary,
		},
		Enhancement: Enhancement{
			Profile:  defaultEnhancementProfile,
			Profiles: defaultProfiles(),
		},
		Schedule: Schedule{
			SyncBufferMinutes: defaultSyncBufferMinutes,
			SyncWindows: []SyncWindow{
				{Time: "06:00"},
				{Time: "18:00"},
			},
			TickIntervalMinutes: defaultTickIntervalMinutes,
			Archive: Phase{
				Enabled:           true,
				Windows:           []Window{{Start: "22:00", End: "05:30"}},
				BatchSize:         1000,
				Threads:           2,
				MaxRuntimeMinutes: 420,
			},
			Catchup: Phase{
				Enabled:           true,
				Windows:           []Window{{Start: "05:30", End: "08:00"}},
				BatchSize:         300,
				Threads:           2,
				MaxRuntimeMinutes: 60,
			},
			Periodic: Phase{
				Enabled:           true,
				Windows:           []Window{{Start: "08:00", End: "22:00"}},
				BatchSize:         50,
				Threads:           1,
				MaxRuntimeMinutes: 30,
			},
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			NATSSubject:    defaultNATSSubject,
			TickCompleted:  false,
			Aborts:         true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

func defaultProfiles() map[string]EnhancementProfile {
	return map[string]EnhancementProfile{
		"conservative": {
			TargetLuminance:    0.45,
			BrightnessStrength: 0.3,
			Contrast:           8,
			Saturation:         6,
			Gamma:              1.0,
			SharpenSigma:       0.6,
		},
		"aggressive": {
			TargetLuminance:    0.5,
			BrightnessStrength: 0.6,
			Contrast:           18,
			Saturation:         15,
			Gamma:              1.05,
			SharpenSigma:       1.0,
		},
	}
}
