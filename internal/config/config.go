// Package config holds the hierarchical configuration document for the
// media compressor daemon: defaults, JSON loading with deep-merge,
// validation, and saving back to a file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// ScheduleConfig controls the nightly compression window.
type ScheduleConfig struct {
	StartHour          int  `json:"start_hour"`
	EndHour             int  `json:"end_hour"`
	DynamicScheduling   bool `json:"dynamic_scheduling"`
}

// CompressionConfig controls the transcoder invocation and content-aware
// quality selection.
type CompressionConfig struct {
	EncoderPath        string `json:"encoder_path"`
	EncoderOptions     string `json:"encoder_options"`
	AudioOptions       string `json:"audio_options"`
	SubtitleOptions    string `json:"subtitle_options"`
	ContentAware       bool   `json:"content_aware"`
	AnimationQuality   int    `json:"animation_quality"`
	LiveActionQuality  int    `json:"live_action_quality"`
}

// QualityValidationConfig controls the post-encode quality gate.
type QualityValidationConfig struct {
	Enabled        bool    `json:"enabled"`
	Method         string  `json:"method"`
	Threshold      float64 `json:"threshold"`
	SampleDuration int     `json:"sample_duration"`
}

// WebInterfaceConfig controls the monitor surface HTTP server.
type WebInterfaceConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Secure   bool   `json:"secure"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// EmailConfig controls the SMTP notification sink.
type EmailConfig struct {
	Enabled      bool   `json:"enabled"`
	SMTPServer   string `json:"smtp_server"`
	SMTPPort     int    `json:"smtp_port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	FromAddr     string `json:"from_addr"`
	ToAddr       string `json:"to_addr"`
	OnError      bool   `json:"on_error"`
	OnCompletion bool   `json:"on_completion"`
}

// WebhookConfig controls the HTTP webhook notification sink.
type WebhookConfig struct {
	Enabled      bool   `json:"enabled"`
	URL          string `json:"url"`
	OnError      bool   `json:"on_error"`
	OnCompletion bool   `json:"on_completion"`
}

// NotificationsConfig groups both notification sinks.
type NotificationsConfig struct {
	Email   EmailConfig   `json:"email"`
	Webhook WebhookConfig `json:"webhook"`
}

// RecoveryConfig controls catalog self-healing and integrity strictness.
type RecoveryConfig struct {
	DBBackupInterval int  `json:"db_backup_interval"`
	AutoRepair       bool `json:"auto_repair"`
	VerifyFiles      bool `json:"verify_files"`
	// StrictValidation resolves spec.md §9's "never exposed" Open Question:
	// when true, an inconclusive integrity probe (timeout, missing format
	// section, non-JSON output) fails verification instead of passing.
	StrictValidation bool `json:"strict_validation"`
}

// Config is the full hierarchical configuration document.
type Config struct {
	MediaPaths             []string                `json:"media_paths"`
	Schedule                ScheduleConfig          `json:"schedule"`
	Compression             CompressionConfig       `json:"compression"`
	QualityValidation       QualityValidationConfig `json:"quality_validation"`
	DatabasePath             string                  `json:"database_path"`
	BackupPath               string                  `json:"backup_path"`
	Extensions               []string                `json:"extensions"`
	MinSizeMB                int                     `json:"min_size_mb"`
	SizeReductionThreshold   float64                 `json:"size_reduction_threshold"`
	MaxConcurrentJobs        int                     `json:"max_concurrent_jobs"`
	MaxConcurrentScans       int                     `json:"max_concurrent_scans"`
	ScanBatchSize            int                     `json:"scan_batch_size"`
	CompressionQueueSize     int                     `json:"compression_queue_size"`
	TempDir                  string                  `json:"temp_dir"`
	MinFreeSpaceMB           int                     `json:"min_free_space_mb"`
	MinMemoryMB              int                     `json:"min_memory_mb"`
	WebInterface             WebInterfaceConfig      `json:"web_interface"`
	Notifications            NotificationsConfig     `json:"notifications"`
	Recovery                 RecoveryConfig          `json:"recovery"`
}

// DefaultConfig returns the built-in defaults, ground-truthed against
// constants.py's DEFAULT_CONFIG.
func DefaultConfig() *Config {
	return &Config{
		MediaPaths: []string{
			"/mnt/library/media/series",
			"/mnt/library/media/movies",
		},
		Schedule: ScheduleConfig{
			StartHour:         2,
			EndHour:           6,
			DynamicScheduling: true,
		},
		Compression: CompressionConfig{
			EncoderPath:       "HandBrakeCLI",
			EncoderOptions:    "--encoder nvenc_h265 --encoder-preset slow --quality 22",
			AudioOptions:      "--aencoder copy --all-audio",
			SubtitleOptions:   "--all-subtitles --subtitle scan --subtitle-burned=none",
			ContentAware:      true,
			AnimationQuality:  26,
			LiveActionQuality: 21,
		},
		QualityValidation: QualityValidationConfig{
			Enabled:        true,
			Method:         "vmaf",
			Threshold:      90,
			SampleDuration: 60,
		},
		DatabasePath:           "media_compression.db",
		BackupPath:             "media_compression_backup.db",
		Extensions:             []string{".mp4", ".mkv", ".avi", ".m4v"},
		MinSizeMB:              200,
		SizeReductionThreshold: 0.2,
		MaxConcurrentJobs:      2,
		MaxConcurrentScans:     4,
		ScanBatchSize:          1000,
		CompressionQueueSize:   1000,
		TempDir:                "/tmp/media_compression",
		MinFreeSpaceMB:         1000,
		MinMemoryMB:            500,
		WebInterface: WebInterfaceConfig{
			Enabled:  true,
			Port:     8080,
			Host:     "localhost",
			Secure:   false,
			Username: "admin",
			Password: "password",
		},
		Notifications: NotificationsConfig{
			Email: EmailConfig{
				SMTPServer:   "smtp.gmail.com",
				SMTPPort:     587,
				OnError:      true,
				OnCompletion: true,
			},
			Webhook: WebhookConfig{
				OnError:      true,
				OnCompletion: true,
			},
		},
		Recovery: RecoveryConfig{
			DBBackupInterval: 24,
			AutoRepair:       true,
			VerifyFiles:      true,
			StrictValidation: false,
		},
	}
}

// Load reads configPath (if non-empty and present) and deep-merges it over
// DefaultConfig(), then validates the result. Ground: manager.py's
// constructor (`DEFAULT_CONFIG.copy()` + `_deep_update` + `ConfigValidator`).
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			var overrideRaw map[string]interface{}
			if err := json.Unmarshal(data, &overrideRaw); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
			defaultRaw := toRawMap(cfg)
			deepUpdate(defaultRaw, overrideRaw)
			merged, err := fromRawMap(defaultRaw)
			if err != nil {
				return nil, fmt.Errorf("merge config file: %w", err)
			}
			cfg = merged
		}
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", errs)
	}
	return cfg, nil
}

func toRawMap(cfg *Config) map[string]interface{} {
	data, _ := json.Marshal(cfg)
	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	return raw
}

func fromRawMap(raw map[string]interface{}) (*Config, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// deepUpdate recursively merges override into dst, ground: manager.py's
// _deep_update.
func deepUpdate(dst map[string]interface{}, override map[string]interface{}) {
	for k, v := range override {
		if childOverride, ok := v.(map[string]interface{}); ok {
			if childDst, ok := dst[k].(map[string]interface{}); ok {
				deepUpdate(childDst, childOverride)
				continue
			}
		}
		dst[k] = v
	}
}

// Validate checks structural and range invariants, returning a slice of
// human-readable error strings (never an error so the caller can report
// every problem at once, matching config_validator.py's style).
func (c *Config) Validate() []string {
	var errs []string

	if len(c.MediaPaths) == 0 {
		errs = append(errs, "media_paths must not be empty")
	}
	if c.Schedule.StartHour < 0 || c.Schedule.StartHour > 23 {
		errs = append(errs, "schedule.start_hour must be in [0,23]")
	}
	if c.Schedule.EndHour < 0 || c.Schedule.EndHour > 23 {
		errs = append(errs, "schedule.end_hour must be in [0,23]")
	}
	if c.Schedule.StartHour == c.Schedule.EndHour {
		errs = append(errs, "schedule.start_hour and schedule.end_hour must differ (zero-length window)")
	}
	if c.Compression.EncoderPath == "" {
		errs = append(errs, "compression.encoder_path must not be empty")
	}
	if c.Compression.AnimationQuality < 0 || c.Compression.LiveActionQuality < 0 {
		errs = append(errs, "compression quality values must be non-negative")
	}
	validMethods := map[string]bool{"vmaf": true, "ssim": true, "psnr": true}
	if c.QualityValidation.Enabled && !validMethods[c.QualityValidation.Method] {
		errs = append(errs, "quality_validation.method must be one of vmaf, ssim, psnr")
	}
	if c.QualityValidation.SampleDuration <= 0 {
		errs = append(errs, "quality_validation.sample_duration must be positive")
	}
	if c.DatabasePath == "" {
		errs = append(errs, "database_path must not be empty")
	}
	if len(c.Extensions) == 0 {
		errs = append(errs, "extensions must not be empty")
	}
	if c.MinSizeMB < 0 {
		errs = append(errs, "min_size_mb must be non-negative")
	}
	if c.SizeReductionThreshold < 0 || c.SizeReductionThreshold >= 1 {
		errs = append(errs, "size_reduction_threshold must be in [0,1)")
	}
	if c.MaxConcurrentJobs <= 0 {
		errs = append(errs, "max_concurrent_jobs must be positive")
	}
	if c.MaxConcurrentScans <= 0 {
		errs = append(errs, "max_concurrent_scans must be positive")
	}
	if c.ScanBatchSize <= 0 {
		errs = append(errs, "scan_batch_size must be positive")
	}
	if c.TempDir == "" {
		errs = append(errs, "temp_dir must not be empty")
	}
	if c.WebInterface.Enabled && (c.WebInterface.Port <= 0 || c.WebInterface.Port > 65535) {
		errs = append(errs, "web_interface.port must be in [1,65535]")
	}
	if c.Notifications.Email.Enabled && (c.Notifications.Email.SMTPServer == "" || c.Notifications.Email.ToAddr == "") {
		errs = append(errs, "notifications.email requires smtp_server and to_addr when enabled")
	}
	if c.Notifications.Webhook.Enabled && c.Notifications.Webhook.URL == "" {
		errs = append(errs, "notifications.webhook requires url when enabled")
	}
	if c.Recovery.DBBackupInterval <= 0 {
		errs = append(errs, "recovery.db_backup_interval must be positive")
	}

	return errs
}

// SaveToFile writes the configuration back out as indented JSON, used by
// the CLI's secret-setup flags to persist a value entered at the prompt.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
