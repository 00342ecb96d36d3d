package config

import (
	"fmt"
	"log/slog"
	"strings"
)

var validQualities = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
	"ultra":  true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates problems that must stop a recording from
// values that were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal problem was found.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	return append(all, r.Warnings...)
}

// ValidateTiered checks the config. Out-of-range numbers are clamped and an
// unknown quality falls back to medium; those are warnings. Values that
// would produce unusable output paths are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult
	warn := func(format string, args ...any) {
		r.Warnings = append(r.Warnings, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.OutputDir) == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("output_dir must not be empty"))
	}
	if c.FilePrefix == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("file_prefix must not be empty"))
	} else if strings.ContainsAny(c.FilePrefix, `/\:`) {
		r.Fatals = append(r.Fatals, fmt.Errorf("file_prefix %q must not contain path separators", c.FilePrefix))
	}

	if !validQualities[strings.ToLower(c.VideoQuality)] {
		warn("video_quality %q is not valid (use low, medium, high, ultra), using medium", c.VideoQuality)
		c.VideoQuality = "medium"
	}

	if c.DisplayIndex < 0 {
		warn("display_index %d is negative, using 0", c.DisplayIndex)
		c.DisplayIndex = 0
	}

	c.CaptureQueueDepth = clamp(&r, "capture_queue_depth", c.CaptureQueueDepth, 1, 64)
	c.TrackBuffer = clamp(&r, "track_buffer", c.TrackBuffer, 1, 4096)
	c.FinalizeWorkers = clamp(&r, "finalize_workers", c.FinalizeWorkers, 1, 8)

	if c.MinFreeDiskMB < 0 {
		warn("min_free_disk_mb %d is negative, disabling free space check", c.MinFreeDiskMB)
		c.MinFreeDiskMB = 0
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		warn("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		warn("log_format %q is not valid (use text or json)", c.LogFormat)
	}
	c.LogMaxSizeMB = clamp(&r, "log_max_size_mb", c.LogMaxSizeMB, 1, 1024)
	c.LogMaxBackups = clamp(&r, "log_max_backups", c.LogMaxBackups, 1, 20)

	return r
}

// Validate runs ValidateTiered, logs every problem and returns them all.
func (c *Config) Validate() []error {
	r := c.ValidateTiered()
	for _, err := range r.Fatals {
		slog.Error("config validation", "error", err)
	}
	for _, err := range r.Warnings {
		slog.Warn("config validation", "error", err)
	}
	return r.AllErrors()
}

func clamp(r *ValidationResult, key string, v, lo, hi int) int {
	if v < lo {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, v, lo))
		return lo
	}
	if v > hi {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, v, hi))
		return hi
	}
	return v
}
