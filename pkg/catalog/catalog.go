package catalog

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Antheor0/managed-media-compressor/internal/logging"
)

// Catalog is the transactional store for file records, scan records,
// session stats, and the event log. Mutating operations hold a short
// transaction; bulk updates always use a single transaction (spec.md §4.1).
type Catalog struct {
	mu         sync.Mutex
	db         *sql.DB
	path       string
	backupPath string
	log        *logging.Logger
	index      *eventIndex
	autoRepair bool
}

// Options configures Open.
type Options struct {
	Path       string
	BackupPath string
	AutoRepair bool
	Logger     *logging.Logger
}

// Open opens (creating if absent) the sqlite-backed catalog at opts.Path,
// bootstraps its schema, evolves it forward if needed, and rebuilds the
// in-memory event search index from the store's current contents.
func Open(opts Options) (*Catalog, error) {
	if opts.Logger == nil {
		opts.Logger = logging.New(logging.DefaultConfig())
	}
	backupPath := opts.BackupPath
	if backupPath == "" {
		backupPath = opts.Path + ".backup"
	}

	db, err := sql.Open("sqlite3", opts.Path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: serialize writers through one connection

	if err := bootstrapSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	if err := evolveSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("evolve schema: %w", err)
	}

	c := &Catalog{
		db:         db,
		path:       opts.Path,
		backupPath: backupPath,
		log:        opts.Logger.With("catalog"),
		autoRepair: opts.AutoRepair,
	}

	idx, err := newEventIndex()
	if err != nil {
		c.log.Warnf("failed to build event search index: %v", err)
	} else {
		c.index = idx
		c.rebuildIndex()
	}

	c.log.Infof("catalog opened at %s", opts.Path)
	return c, nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	if c.index != nil {
		c.index.Close()
	}
	return c.db.Close()
}

// withRepairRetry runs fn once; on a classified-retryable error it triggers
// Repair() and retries fn exactly once, then surfaces whatever happened.
// Ground: media_database.py's repeated repair-then-retry pattern in
// update_file_status/get_files_for_compression/get_statistics/etc.
func (c *Catalog) withRepairRetry(fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	ce := Classify(err)
	if !ce.Retryable || !c.autoRepair {
		return err
	}
	c.log.Warnf("transient catalog error, attempting repair: %v", err)
	if repairErr := c.Repair(); repairErr != nil {
		return fmt.Errorf("repair failed after %v: %w", err, repairErr)
	}
	return fn()
}

// GetFileStatus returns the record at path, or ErrNotFound.
func (c *Catalog) GetFileStatus(path string) (*FileRecord, error) {
	var rec *FileRecord
	err := c.withRepairRetry(func() error {
		row := c.db.QueryRow(`SELECT id, file_path, file_name, directory_path, original_size,
			COALESCE(compressed_size, 0), status, checksum, COALESCE(compression_count, 0),
			priority, estimated_time, actual_time
			FROM processed_files WHERE file_path = ?`, path)
		var r FileRecord
		var fileName, dirPath, checksum sql.NullString
		var status sql.NullString
		if err := row.Scan(&r.ID, &r.FilePath, &fileName, &dirPath, &r.OriginalSize,
			&r.CompressedSize, &status, &checksum, &r.CompressionCount,
			&r.Priority, &r.EstimatedTime, &r.ActualTime); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
		r.FileName = fileName.String
		r.DirectoryPath = dirPath.String
		r.Checksum = checksum.String
		r.Status = Status(status.String)
		rec = &r
		return nil
	})
	return rec, err
}

// NewFileInfo describes a file the Scanner has observed for the first time.
type NewFileInfo struct {
	FilePath string
	Size     int64
	Checksum string
	Status   Status
	Priority int
}

// AddNewFile inserts a brand-new record. It is idempotent: on a duplicate
// key it falls through to an update of last_checked/checksum (spec.md
// §4.1). Ground: media_database.py:add_new_file.
func (c *Catalog) AddNewFile(info NewFileInfo) error {
	status := info.Status
	if status == "" {
		status = StatusNew
	}
	now := time.Now()
	return c.withRepairRetry(func() error {
		_, err := c.db.Exec(`INSERT INTO processed_files
			(file_path, file_name, directory_path, original_size, first_seen_date,
			 last_checked_date, checksum, status, priority)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			info.FilePath, filepath.Base(info.FilePath), filepath.Dir(info.FilePath),
			info.Size, now, now, info.Checksum, string(status), info.Priority)
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
				_, err := c.db.Exec(`UPDATE processed_files SET last_checked_date = ?, checksum = ?
					WHERE file_path = ?`, now, info.Checksum, info.FilePath)
				return err
			}
			return err
		}
		return nil
	})
}

// UpdateFileStatus applies status plus any non-nil fields in update as a
// single-row partial update (spec.md §4.1). Ground: media_database.py's
// update_file_status dynamic-kwargs path, replaced by FileRecordUpdate per
// REDESIGN FLAG "dynamic kwargs on catalog update".
func (c *Catalog) UpdateFileStatus(path string, status Status, update FileRecordUpdate) error {
	return c.withRepairRetry(func() error {
		return c.updateFileStatusTx(path, status, update)
	})
}

func (c *Catalog) updateFileStatusTx(path string, status Status, u FileRecordUpdate) error {
	fields := []string{"status = ?"}
	values := []interface{}{string(status)}

	if u.IncrementCompressionCount {
		fields = append(fields, "compression_count = compression_count + 1")
	}
	if u.OriginalSize != nil {
		fields = append(fields, "original_size = ?")
		values = append(values, *u.OriginalSize)
	}
	if u.CompressedSize != nil {
		fields = append(fields, "compressed_size = ?")
		values = append(values, *u.CompressedSize)
	}
	if u.LastChecked != nil {
		fields = append(fields, "last_checked_date = ?")
		values = append(values, *u.LastChecked)
	}
	if u.QueuedAt != nil {
		fields = append(fields, "queued_date = ?")
		values = append(values, *u.QueuedAt)
	}
	if u.ProcessingStarted != nil {
		fields = append(fields, "processing_started = ?")
		values = append(values, *u.ProcessingStarted)
	}
	if u.CompressionDate != nil {
		fields = append(fields, "compression_date = ?")
		values = append(values, *u.CompressionDate)
	}
	if u.Checksum != nil {
		fields = append(fields, "checksum = ?")
		values = append(values, *u.Checksum)
	}
	if u.ContentType != nil {
		fields = append(fields, "content_type = ?")
		values = append(values, string(*u.ContentType))
	}
	if u.QualityScore != nil {
		fields = append(fields, "quality_score = ?")
		values = append(values, *u.QualityScore)
	}
	if u.ErrorMessage != nil {
		msg := truncate(*u.ErrorMessage, 1000)
		fields = append(fields, "error_message = ?")
		values = append(values, msg)
	}
	if u.SkipReason != nil {
		fields = append(fields, "skip_reason = ?")
		values = append(values, *u.SkipReason)
	}
	if u.Priority != nil {
		fields = append(fields, "priority = ?")
		values = append(values, *u.Priority)
	}
	if u.EstimatedTime != nil {
		fields = append(fields, "estimated_time = ?")
		values = append(values, *u.EstimatedTime)
	}
	if u.ActualTime != nil {
		fields = append(fields, "actual_time = ?")
		values = append(values, *u.ActualTime)
	}

	values = append(values, path)
	stmt := fmt.Sprintf("UPDATE processed_files SET %s WHERE file_path = ?", strings.Join(fields, ", "))
	_, err := c.db.Exec(stmt, values...)
	if err == nil && c.index != nil && (u.ErrorMessage != nil || u.SkipReason != nil) {
		c.indexFileRecord(path, u)
	}
	return err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// BulkFileUpdate pairs a path with the update to apply, for BulkUpdate.
type BulkFileUpdate struct {
	FilePath string
	Status   Status
	Update   FileRecordUpdate
}

// BulkUpdate applies every entry inside a single transaction; on any
// failure the whole batch rolls back (spec.md §4.1). Ground:
// media_database.py:bulk_update_statuses.
func (c *Catalog) BulkUpdate(updates []BulkFileUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return c.withRepairRetry(func() error {
		tx, err := c.db.Begin()
		if err != nil {
			return err
		}
		for _, u := range updates {
			if err := applyUpdateTx(tx, u.FilePath, u.Status, u.Update); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

func applyUpdateTx(tx *sql.Tx, path string, status Status, u FileRecordUpdate) error {
	fields := []string{"status = ?"}
	values := []interface{}{string(status)}
	if u.IncrementCompressionCount {
		fields = append(fields, "compression_count = compression_count + 1")
	}
	if u.OriginalSize != nil {
		fields = append(fields, "original_size = ?")
		values = append(values, *u.OriginalSize)
	}
	if u.Checksum != nil {
		fields = append(fields, "checksum = ?")
		values = append(values, *u.Checksum)
	}
	if u.LastChecked != nil {
		fields = append(fields, "last_checked_date = ?")
		values = append(values, *u.LastChecked)
	}
	if u.QueuedAt != nil {
		fields = append(fields, "queued_date = ?")
		values = append(values, *u.QueuedAt)
	}
	values = append(values, path)
	stmt := fmt.Sprintf("UPDATE processed_files SET %s WHERE file_path = ?", strings.Join(fields, ", "))
	_, err := tx.Exec(stmt, values...)
	return err
}

// PendingFile is one row returned by GetFilesForCompression.
type PendingFile struct {
	FilePath      string
	OriginalSize  int64
	Checksum      string
	Priority      int
	EstimatedTime int64
}

// GetFilesForCompression returns up to limit pending records ordered by
// priority DESC, original_size DESC (spec.md §4.1).
func (c *Catalog) GetFilesForCompression(limit int) ([]PendingFile, error) {
	var out []PendingFile
	err := c.withRepairRetry(func() error {
		out = nil
		rows, err := c.db.Query(`SELECT file_path, original_size, checksum, priority, estimated_time
			FROM processed_files WHERE status = ? ORDER BY priority DESC, original_size DESC LIMIT ?`,
			string(StatusPending), limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var f PendingFile
			var checksum sql.NullString
			if err := rows.Scan(&f.FilePath, &f.OriginalSize, &checksum, &f.Priority, &f.EstimatedTime); err != nil {
				return err
			}
			f.Checksum = checksum.String
			out = append(out, f)
		}
		return rows.Err()
	})
	return out, err
}

// AllPaths returns every catalogued file path, used to rebuild the
// scanner's bloom filter at the start of each scan session.
func (c *Catalog) AllPaths() ([]string, error) {
	var out []string
	err := c.withRepairRetry(func() error {
		out = nil
		rows, err := c.db.Query(`SELECT file_path FROM processed_files`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

// RecordDirectoryScan upserts the scan summary for a directory.
func (c *Catalog) RecordDirectoryScan(rec DirectoryScanRecord) error {
	return c.withRepairRetry(func() error {
		_, err := c.db.Exec(`INSERT OR REPLACE INTO scanned_directories
			(directory_path, last_scan_date, file_count, total_size, scan_duration, status)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.DirectoryPath, time.Now(), rec.FileCount, rec.TotalSize,
			rec.ScanDuration.Seconds(), "completed")
		return err
	})
}

// RecordSession appends a SessionStats row after a compression session
// drains (spec.md §5: "no two sessions run concurrently").
func (c *Catalog) RecordSession(s SessionStats) error {
	return c.withRepairRetry(func() error {
		_, err := c.db.Exec(`INSERT INTO compression_stats
			(start_time, end_time, files_processed, total_original_size,
			 total_compressed_size, savings_percentage, errors)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.StartTime, s.EndTime, s.FilesProcessed, s.TotalOriginalSize,
			s.TotalCompressedSize, s.SavingsPercentage, s.Errors)
		return err
	})
}

// LogEvent appends one row to the event log and indexes it for search.
func (c *Catalog) LogEvent(eventType, details, severity string) error {
	err := c.withRepairRetry(func() error {
		_, err := c.db.Exec(`INSERT INTO system_events (timestamp, event_type, details, severity)
			VALUES (?, ?, ?, ?)`, time.Now(), eventType, details, severity)
		return err
	})
	if err == nil && c.index != nil {
		c.index.indexEvent(Event{Timestamp: time.Now(), EventType: eventType, Details: details, Severity: severity})
	}
	return err
}

// RecentEvents returns the most recent limit events, newest first.
func (c *Catalog) RecentEvents(limit int) ([]Event, error) {
	var out []Event
	err := c.withRepairRetry(func() error {
		out = nil
		rows, err := c.db.Query(`SELECT id, timestamp, event_type, details, severity
			FROM system_events ORDER BY timestamp DESC LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e Event
			if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.Details, &e.Severity); err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// UpdateCompressionTime stores the observed processing time for path and
// recomputes estimated_time for every other still-zero-estimate pending row
// using the rate observed from this sample (spec.md §4.1). Ground:
// media_database.py:update_compression_time.
func (c *Catalog) UpdateCompressionTime(path string, actualSeconds int64) error {
	return c.withRepairRetry(func() error {
		tx, err := c.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE processed_files SET actual_time = ? WHERE file_path = ?`, actualSeconds, path); err != nil {
			tx.Rollback()
			return err
		}
		var originalSize int64
		row := tx.QueryRow(`SELECT original_size FROM processed_files WHERE file_path = ?`, path)
		if err := row.Scan(&originalSize); err != nil && err != sql.ErrNoRows {
			tx.Rollback()
			return err
		}
		if originalSize > 0 {
			originalMB := float64(originalSize) / (1024 * 1024)
			ratePerMB := float64(actualSeconds) / max(1, originalMB)
			if _, err := tx.Exec(`UPDATE processed_files SET estimated_time = ROUND(original_size * ? / (1024 * 1024))
				WHERE status = ? AND estimated_time = 0`, ratePerMB, string(StatusPending)); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// GetStatistics returns the aggregate view backing the monitor surface.
// Ground: media_database.py:get_statistics.
func (c *Catalog) GetStatistics() (*Statistics, error) {
	var stats Statistics
	err := c.withRepairRetry(func() error {
		stats = Statistics{StatusCounts: map[Status]int{}}

		rows, err := c.db.Query(`SELECT status, COUNT(*) FROM processed_files GROUP BY status`)
		if err != nil {
			return err
		}
		for rows.Next() {
			var status string
			var count int
			if err := rows.Scan(&status, &count); err != nil {
				rows.Close()
				return err
			}
			stats.StatusCounts[Status(status)] = count
			stats.TotalFiles += count
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		row := c.db.QueryRow(`SELECT COALESCE(SUM(original_size),0), COALESCE(SUM(compressed_size),0)
			FROM processed_files WHERE status = ?`, string(StatusCompleted))
		if err := row.Scan(&stats.TotalOriginalSize, &stats.TotalCompressedSize); err != nil {
			return err
		}
		stats.SpaceSaved = stats.TotalOriginalSize - stats.TotalCompressedSize
		if stats.TotalOriginalSize > 0 {
			stats.SavingsPercentage = float64(stats.SpaceSaved) / float64(stats.TotalOriginalSize) * 100
		}

		row = c.db.QueryRow(`SELECT COALESCE(AVG(actual_time),0), COALESCE(MIN(actual_time),0), COALESCE(MAX(actual_time),0)
			FROM processed_files WHERE status = ? AND actual_time > 0`, string(StatusCompleted))
		if err := row.Scan(&stats.AverageSeconds, &stats.MinSeconds, &stats.MaxSeconds); err != nil {
			return err
		}

		row = c.db.QueryRow(`SELECT COALESCE(SUM(estimated_time),0) FROM processed_files WHERE status = ?`, string(StatusPending))
		if err := row.Scan(&stats.EstimatedRemainingTime); err != nil {
			return err
		}
		return nil
	})
	return &stats, err
}

// PromoteNewAndReprocessing bulk-promotes every `new`/`needs_reprocessing`
// row to `pending`, stamping queued_date (spec.md §4.9's end-of-scan
// promotion). Ground: media_scanner.py's final UPDATE in
// scan_all_directories_async.
func (c *Catalog) PromoteNewAndReprocessing() (int64, error) {
	var affected int64
	err := c.withRepairRetry(func() error {
		res, err := c.db.Exec(`UPDATE processed_files SET status = ?, queued_date = ?
			WHERE status IN (?, ?)`, string(StatusPending), time.Now(),
			string(StatusNew), string(StatusNeedsReprocessing))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// ResumePausedAtStartup resets every paused row to pending, per spec.md
// §3's FileRecord invariant ("on process restart, paused records are reset
// to pending before scheduling").
func (c *Catalog) ResumePausedAtStartup() (int64, error) {
	var affected int64
	err := c.withRepairRetry(func() error {
		res, err := c.db.Exec(`UPDATE processed_files SET status = ? WHERE status = ?`,
			string(StatusPending), string(StatusPaused))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// ResumePaused bulk-updates every paused row back to pending (Pipeline's
// Resume()).
func (c *Catalog) ResumePaused() (int64, error) {
	return c.ResumePausedAtStartup()
}
