package config

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidateTieredEmptyOutputDirIsFatal(t *testing.T) {
	cfg := Default()
	cfg.OutputDir = "  "
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("empty output_dir should be fatal")
	}
}

func TestValidateTieredPrefixWithSeparatorIsFatal(t *testing.T) {
	cfg := Default()
	cfg.FilePrefix = "../Meet"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("file_prefix with a path separator should be fatal")
	}
	found := false
	for _, err := range result.Fatals {
		if strings.Contains(err.Error(), "path separators") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected path separator error in fatals")
	}
}

func TestValidateTieredUnknownQualityFallsBackToMedium(t *testing.T) {
	cfg := Default()
	cfg.VideoQuality = "cinema"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("unknown quality should not be fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown quality")
	}
	if cfg.VideoQuality != "medium" {
		t.Fatalf("VideoQuality = %q, want medium", cfg.VideoQuality)
	}
}

func TestValidateTieredQualityIsCaseInsensitive(t *testing.T) {
	cfg := Default()
	cfg.VideoQuality = "High"
	result := cfg.ValidateTiered()
	if len(result.AllErrors()) != 0 {
		t.Fatalf("High should be accepted: %v", result.AllErrors())
	}
}

func TestValidateTieredQueueDepthClamping(t *testing.T) {
	cfg := Default()
	cfg.CaptureQueueDepth = 0
	cfg.TrackBuffer = 100000
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped buffers should be warnings: %v", result.Fatals)
	}
	if cfg.CaptureQueueDepth != 1 {
		t.Fatalf("CaptureQueueDepth = %d, want 1", cfg.CaptureQueueDepth)
	}
	if cfg.TrackBuffer != 4096 {
		t.Fatalf("TrackBuffer = %d, want 4096", cfg.TrackBuffer)
	}
}

func TestValidateTieredFinalizeWorkersClamping(t *testing.T) {
	cfg := Default()
	cfg.FinalizeWorkers = 50
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped workers should be warning: %v", result.Fatals)
	}
	if cfg.FinalizeWorkers != 8 {
		t.Fatalf("FinalizeWorkers = %d, want 8", cfg.FinalizeWorkers)
	}
}

func TestValidateTieredNegativeValuesAreCorrected(t *testing.T) {
	cfg := Default()
	cfg.DisplayIndex = -1
	cfg.MinFreeDiskMB = -10
	result := cfg.ValidateTiered()
	if len(result.Warnings) != 2 {
		t.Fatalf("Warnings = %v, want 2", result.Warnings)
	}
	if cfg.DisplayIndex != 0 || cfg.MinFreeDiskMB != 0 {
		t.Fatalf("DisplayIndex = %d, MinFreeDiskMB = %d, want 0, 0", cfg.DisplayIndex, cfg.MinFreeDiskMB)
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid log format")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.FilePrefix = ""       // fatal
	cfg.LogFormat = "logfmt" // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) != 2 {
		t.Fatalf("AllErrors() returned %d errors, want 2", len(all))
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("default config has warnings: %v", result.Warnings)
	}
}
