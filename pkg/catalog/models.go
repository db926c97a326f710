// Package catalog is the durable store for file records, directory scan
// records, session stats, and the event log, plus schema evolution,
// backup/repair, and full-text event search.
package catalog

import "time"

// Status is a FileRecord's position in the compression state machine
// (spec.md §4.8).
type Status string

const (
	StatusNew               Status = "new"
	StatusPending            Status = "pending"
	StatusInProgress         Status = "in_progress"
	StatusCompleted          Status = "completed"
	StatusSkipped            Status = "skipped"
	StatusError              Status = "error"
	StatusNeedsReprocessing  Status = "needs_reprocessing"
	StatusPaused             Status = "paused"
	StatusValidating         Status = "validating"
)

// ContentType is the classifier's output label.
type ContentType string

const (
	ContentAnimation  ContentType = "animation"
	ContentLiveAction ContentType = "live_action"
	ContentMixed      ContentType = "mixed"
)

// Severity levels for the event log.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// FileRecord is one catalog row describing one media file by absolute path.
type FileRecord struct {
	ID                int64
	FilePath          string
	FileName          string
	DirectoryPath     string
	OriginalSize      int64
	CompressedSize    int64
	FirstSeen         time.Time
	LastChecked       time.Time
	QueuedAt          *time.Time
	ProcessingStarted *time.Time
	CompressionDate   *time.Time
	Checksum          string
	ContentType       ContentType
	QualityScore      float64
	Status            Status
	ErrorMessage      string
	SkipReason        string
	CompressionCount  int
	Priority          int
	EstimatedTime     int64
	ActualTime        int64
}

// FileRecordUpdate is a typed partial-update struct (REDESIGN FLAG: replaces
// the source's dynamic-kwargs dispatch). Every field is a pointer so that
// "absent" and "zero value" are distinguishable; UpdateFileStatus
// applies only the non-nil fields. The Status field is not applied: the new
// status is passed to UpdateFileStatus and BulkUpdate as its own argument.
type FileRecordUpdate struct {
	Status            *Status
	OriginalSize      *int64
	CompressedSize    *int64
	LastChecked       *time.Time
	QueuedAt          *time.Time
	ProcessingStarted *time.Time
	CompressionDate   *time.Time
	Checksum          *string
	ContentType       *ContentType
	QualityScore      *float64
	ErrorMessage      *string
	SkipReason        *string
	Priority          *int
	EstimatedTime     *int64
	ActualTime        *int64
	// IncrementCompressionCount, when true, issues a genuine SQL increment
	// (`compression_count = compression_count + 1`) instead of an overwrite.
	// Resolves spec.md §9's compression_count Open Question.
	IncrementCompressionCount bool
}

// DirectoryScanRecord is a per-media-root scan summary.
type DirectoryScanRecord struct {
	DirectoryPath string
	LastScan      time.Time
	FileCount     int
	TotalSize     int64
	ScanDuration  time.Duration
	Status        string
}

// SessionStats is a per-compression-session summary.
type SessionStats struct {
	StartTime            time.Time
	EndTime               time.Time
	FilesProcessed        int
	TotalOriginalSize     int64
	TotalCompressedSize   int64
	SavingsPercentage     float64
	Errors                int
}

// Event is one append-only row in the system event log.
type Event struct {
	ID        int64
	Timestamp time.Time
	EventType string
	Details   string
	Severity  string
}

// Statistics is the aggregate view backing the monitor surface's stats read.
type Statistics struct {
	StatusCounts          map[Status]int
	TotalFiles            int
	TotalOriginalSize     int64
	TotalCompressedSize   int64
	SpaceSaved            int64
	SavingsPercentage     float64
	AverageSeconds        float64
	MinSeconds            float64
	MaxSeconds            float64
	EstimatedRemainingTime int64
}
