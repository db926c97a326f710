package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("expected default config to validate cleanly, got: %v", errs)
	}
}

func TestValidateRejectsEqualScheduleHours(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Schedule.StartHour = 3
	cfg.Schedule.EndHour = 3

	errs := cfg.Validate()
	if !containsSubstring(errs, "start_hour and schedule.end_hour must differ") {
		t.Fatalf("expected zero-length window rejected, got: %v", errs)
	}
}

func TestValidateAllowsWrapAroundWindow(t *testing.T) {
	// spec.md §9: wrap-around (start_hour > end_hour) is left unsupported
	// but not rejected at validation time.
	cfg := DefaultConfig()
	cfg.Schedule.StartHour = 22
	cfg.Schedule.EndHour = 6

	errs := cfg.Validate()
	if containsSubstring(errs, "must differ") {
		t.Fatalf("wrap-around window should not trip the equal-hours check, got: %v", errs)
	}
}

func TestValidateCatchesMultipleProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MediaPaths = nil
	cfg.DatabasePath = ""
	cfg.MaxConcurrentJobs = 0

	errs := cfg.Validate()
	if len(errs) < 3 {
		t.Fatalf("expected at least 3 validation errors, got: %v", errs)
	}
}

func TestValidateRejectsUnknownQualityMethod(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QualityValidation.Method = "bogus"

	errs := cfg.Validate()
	if !containsSubstring(errs, "vmaf, ssim, psnr") {
		t.Fatalf("expected method validation error, got: %v", errs)
	}
}

func TestLoadDeepMergesOverConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	override := map[string]interface{}{
		"media_paths": []string{"/mnt/one"},
		"compression": map[string]interface{}{
			"animation_quality": 30,
		},
	}
	data, err := json.Marshal(override)
	if err != nil {
		t.Fatalf("marshal override: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write override file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.MediaPaths) != 1 || cfg.MediaPaths[0] != "/mnt/one" {
		t.Fatalf("expected overridden media_paths, got %v", cfg.MediaPaths)
	}
	if cfg.Compression.AnimationQuality != 30 {
		t.Fatalf("expected overridden animation_quality 30, got %d", cfg.Compression.AnimationQuality)
	}
	// Sibling fields the override never mentioned must survive the deep merge.
	if cfg.Compression.LiveActionQuality != DefaultConfig().Compression.LiveActionQuality {
		t.Fatalf("expected untouched sibling field preserved, got %d", cfg.Compression.LiveActionQuality)
	}
	if cfg.Compression.EncoderPath != DefaultConfig().Compression.EncoderPath {
		t.Fatalf("expected untouched encoder_path preserved, got %s", cfg.Compression.EncoderPath)
	}
}

func TestLoadWithMissingPathUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load with absent path: %v", err)
	}
	if cfg.DatabasePath != DefaultConfig().DatabasePath {
		t.Fatalf("expected defaults when config file absent, got %s", cfg.DatabasePath)
	}
}

func TestLoadRejectsInvalidMergedConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"max_concurrent_jobs": 0}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected Load to reject an invalid merged configuration")
	}
}

func TestSaveToFileRoundTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentJobs = 7
	path := filepath.Join(t.TempDir(), "saved.json")

	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load saved config: %v", err)
	}
	if loaded.MaxConcurrentJobs != 7 {
		t.Fatalf("expected round-tripped value 7, got %d", loaded.MaxConcurrentJobs)
	}
}

func containsSubstring(errs []string, needle string) bool {
	for _, e := range errs {
		if strings.Contains(e, needle) {
			return true
		}
	}
	return false
}
