// Package scanner walks the configured media paths, reconciles them against
// the catalog, and fingerprints new or resized files (spec.md §4.9). Ground:
// media_scanner.py:MediaScanner.
package scanner

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/Antheor0/managed-media-compressor/internal/config"
	"github.com/Antheor0/managed-media-compressor/internal/logging"
	"github.com/Antheor0/managed-media-compressor/pkg/catalog"
)

const largeFileBoundary = 8 * 1024 * 1024

// Result summarizes one completed pass over all configured media paths.
type Result struct {
	FilesScanned  int64
	NewFiles      int64
	ChangedFiles  int64
	Duration      time.Duration
	Status        string
	Message       string
	PromotedCount int64
}

// Status is a live snapshot for the monitor surface (spec.md §4.9/§4.11).
type Status struct {
	Scanning          bool
	CurrentDirectory  string
	FilesScanned      int64
	NewFiles          int64
	ChangedFiles      int64
	ProgressPercent   float64
	Duration          time.Duration
	ETASeconds        float64
}

// Scanner reconciles the catalog against the filesystem.
type Scanner struct {
	cfg *config.Config
	log *logging.Logger
	cat *catalog.Catalog

	mu              sync.Mutex
	scanning        bool
	startTime       time.Time
	currentDir      string
	filesScanned    int64
	newFiles        int64
	changedFiles    int64
	processedDirs   int64
	totalDirs       int64
	progressPercent float64

	existence *bloom.BloomFilter
	watcher   *Watcher
}

// New constructs a Scanner over cfg/cat.
func New(cfg *config.Config, log *logging.Logger, cat *catalog.Catalog) *Scanner {
	return &Scanner{cfg: cfg, log: log.With("scanner"), cat: cat}
}

// StartWatching installs an fsnotify watcher over every configured media
// path so the next ScanAll can prioritize directories that changed since
// the last pass. It is a fast-path accelerant only: failing to start the
// watcher is logged and otherwise ignored, since filepath.Walk remains the
// ground truth regardless.
func (s *Scanner) StartWatching() error {
	w, err := NewWatcher()
	if err != nil {
		return fmt.Errorf("starting filesystem watcher: %w", err)
	}
	for _, p := range s.cfg.MediaPaths {
		if err := w.AddPath(p); err != nil {
			s.log.Warnf("watching %s: %v", p, err)
		}
	}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
	return nil
}

// CloseWatcher stops the fsnotify watcher started by StartWatching, if any.
func (s *Scanner) CloseWatcher() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

// warmExistenceFilter rebuilds the bloom pre-filter from the catalog's
// current path list. A hit is inconclusive (false positives are possible)
// and always falls through to GetFileStatus; a miss means the path is
// definitely new and the DB round trip can be skipped. Ground: DESIGN.md's
// bloom/v3 accelerant over media_scanner.py's per-file `db.get_file_status`.
func (s *Scanner) warmExistenceFilter() error {
	paths, err := s.cat.AllPaths()
	if err != nil {
		return fmt.Errorf("loading catalog paths for existence filter: %w", err)
	}
	filter := bloom.NewWithEstimates(uint(len(paths))+1024, 0.01)
	for _, p := range paths {
		filter.AddString(p)
	}
	s.existence = filter
	return nil
}

// Fingerprint exposes the scanner's fast-hash algorithm so other
// components (the pipeline, after finalize replaces a file on disk) can
// recompute it without duplicating the boundary logic.
func Fingerprint(path string) (string, error) {
	return fingerprint(path)
}

// fingerprint hashes a file the way media_scanner.py's
// _get_file_checksum does: full MD5 under 8MiB, else MD5 of the first and
// last 4MiB. Exactly 8MiB takes the full-file path (">" not ">=").
func fingerprint(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if info.Size() <= largeFileBoundary {
		if _, err := io.Copy(h, f); err != nil {
			return "", err
		}
		return fmt.Sprintf("%x", h.Sum(nil)), nil
	}

	buf := make([]byte, 4*1024*1024)
	if _, err := io.ReadFull(f, buf); err != nil && err != io.ErrUnexpectedEOF {
		return "", err
	}
	h.Write(buf)

	if _, err := f.Seek(-4*1024*1024, io.SeekEnd); err != nil {
		return "", err
	}
	if _, err := io.ReadFull(f, buf); err != nil && err != io.ErrUnexpectedEOF {
		return "", err
	}
	h.Write(buf)

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// ShouldProcessFile checks extension and minimum size, ground:
// media_scanner.py:should_process_file.
func (s *Scanner) ShouldProcessFile(path string) bool {
	lower := strings.ToLower(path)
	matched := false
	for _, ext := range s.cfg.Extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	// spec.md §8: a file exactly at min_size_mb is excluded (strict
	// inequality), not a >= boundary.
	return info.Size() > int64(s.cfg.MinSizeMB)*1024*1024
}

// ScanAll walks every configured media path with bounded concurrency and
// promotes new/needs_reprocessing records to pending at the end. Ground:
// media_scanner.py:scan_all_directories_async.
func (s *Scanner) ScanAll(ctx context.Context) (Result, error) {
	if err := s.warmExistenceFilter(); err != nil {
		s.log.Warnf("could not warm existence filter: %v", err)
	}

	var validDirs []string
	for _, p := range s.cfg.MediaPaths {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			s.log.Warnf("media path does not exist or is not a directory: %s", p)
			continue
		}
		validDirs = append(validDirs, p)
	}

	if len(validDirs) == 0 {
		s.log.Warnf("no valid directories to scan")
		return Result{Status: "completed", Message: "no valid directories to scan"}, nil
	}

	s.mu.Lock()
	watcher := s.watcher
	s.mu.Unlock()
	if watcher != nil {
		validDirs = s.PrioritizeDirs(validDirs, watcher.DirtyDirectories())
	}

	s.mu.Lock()
	s.scanning = true
	s.startTime = time.Now()
	s.filesScanned, s.newFiles, s.changedFiles = 0, 0, 0
	s.totalDirs = int64(len(validDirs))
	s.processedDirs = 0
	s.progressPercent = 0
	s.mu.Unlock()

	concurrency := s.cfg.MaxConcurrentScans
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var errs []error
	var errsMu sync.Mutex

	for _, dir := range validDirs {
		dir := dir
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.scanDirectory(ctx, dir); err != nil {
				s.log.Errorf("error scanning directory %s: %v", dir, err)
				s.cat.LogEvent("scan_error", fmt.Sprintf("error scanning directory %s: %v", dir, err), catalog.SeverityError)
				errsMu.Lock()
				errs = append(errs, err)
				errsMu.Unlock()
			}
			atomic.AddInt64(&s.processedDirs, 1)
		}()
	}
	wg.Wait()

	duration := time.Since(s.startTime)
	s.log.Infof("complete media scan finished in %.2f seconds", duration.Seconds())
	s.log.Infof("files scanned: %d", atomic.LoadInt64(&s.filesScanned))
	s.log.Infof("new files: %d", atomic.LoadInt64(&s.newFiles))
	s.log.Infof("changed files: %d", atomic.LoadInt64(&s.changedFiles))

	promoted, err := s.cat.PromoteNewAndReprocessing()
	if err != nil {
		s.log.Errorf("error marking files for compression: %v", err)
		s.cat.LogEvent("db_update_error", fmt.Sprintf("error marking files for compression: %v", err), catalog.SeverityError)
	} else {
		s.log.Infof("marked %d files as pending for compression", promoted)
	}

	s.mu.Lock()
	s.scanning = false
	s.progressPercent = 100
	s.mu.Unlock()

	result := Result{
		FilesScanned:  atomic.LoadInt64(&s.filesScanned),
		NewFiles:      atomic.LoadInt64(&s.newFiles),
		ChangedFiles:  atomic.LoadInt64(&s.changedFiles),
		Duration:      duration,
		Status:        "completed",
		PromotedCount: promoted,
	}

	s.cat.LogEvent("scan_completed", fmt.Sprintf("scan completed: %d files processed, %d new, %d changed",
		result.FilesScanned, result.NewFiles, result.ChangedFiles), catalog.SeverityInfo)

	if len(errs) > 0 {
		return result, errs[0]
	}
	return result, nil
}

func (s *Scanner) scanDirectory(ctx context.Context, directory string) error {
	s.mu.Lock()
	s.currentDir = directory
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.currentDir = ""
		s.mu.Unlock()
	}()

	start := time.Now()
	var fileCount int64
	var totalSize int64
	var filesToUpdate []catalog.BulkFileUpdate
	batchSize := s.cfg.ScanBatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	flush := func() error {
		if len(filesToUpdate) == 0 {
			return nil
		}
		if err := s.cat.BulkUpdate(filesToUpdate); err != nil {
			return fmt.Errorf("bulk update: %w", err)
		}
		filesToUpdate = nil
		return nil
	}

	err := filepath.Walk(directory, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.log.Debugf("walk error at %s: %v", path, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.ShouldProcessFile(path) {
			return nil
		}

		fileCount++
		totalSize += info.Size()
		atomic.AddInt64(&s.filesScanned, 1)

		if err := s.reconcileFile(path, info, &filesToUpdate); err != nil {
			s.log.Debugf("error reconciling %s: %v", path, err)
		}

		if len(filesToUpdate) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}

		if fileCount%100 == 0 {
			// Cooperative yield, ground: media_scanner.py's
			// `await asyncio.sleep(0)` every 100 files.
			runtime.Gosched()
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := flush(); err != nil {
		return err
	}

	duration := time.Since(start)
	if recErr := s.cat.RecordDirectoryScan(catalog.DirectoryScanRecord{
		DirectoryPath: directory,
		LastScan:      time.Now(),
		FileCount:     int(fileCount),
		TotalSize:     totalSize,
		ScanDuration:  duration,
		Status:        "completed",
	}); recErr != nil {
		s.log.Warnf("recording directory scan for %s: %v", directory, recErr)
	}

	s.log.Infof("completed scan of %s: found %d files, %d new, %d changed",
		directory, fileCount, atomic.LoadInt64(&s.newFiles), atomic.LoadInt64(&s.changedFiles))
	return nil
}

// reconcileFile applies the per-file diff algorithm: a definite bloom-filter
// miss is known-new and skips the catalog round trip entirely; otherwise
// GetFileStatus decides between the new-file and existing-file paths.
// Ground: media_scanner.py:scan_directory_async's per-file loop body.
func (s *Scanner) reconcileFile(path string, info os.FileInfo, filesToUpdate *[]catalog.BulkFileUpdate) error {
	var record *catalog.FileRecord
	if !s.definitelyNew(path) {
		r, err := s.cat.GetFileStatus(path)
		if err != nil && err != catalog.ErrNotFound {
			return err
		}
		record = r
	}

	if record == nil {
		checksum, err := fingerprint(path)
		if err != nil {
			return err
		}
		if err := s.cat.AddNewFile(catalog.NewFileInfo{
			FilePath: path,
			Size:     info.Size(),
			Checksum: checksum,
			Status:   catalog.StatusNew,
		}); err != nil {
			return err
		}
		if s.existence != nil {
			s.existence.AddString(path)
		}
		n := atomic.AddInt64(&s.newFiles, 1)
		if n%100 == 0 {
			s.log.Infof("found %d new files so far", n)
		}
		return nil
	}

	return s.reconcileExisting(path, info, record, filesToUpdate)
}

// definitelyNew returns true when the bloom filter is certain the path has
// never been catalogued; false means it might exist (or the filter is
// unwarmed) and the caller must still consult the catalog.
func (s *Scanner) definitelyNew(path string) bool {
	if s.existence == nil {
		return false
	}
	return !s.existence.TestString(path)
}

func (s *Scanner) reconcileExisting(path string, info os.FileInfo, record *catalog.FileRecord, filesToUpdate *[]catalog.BulkFileUpdate) error {
	now := time.Now()
	if info.Size() != record.OriginalSize {
		checksum, err := fingerprint(path)
		if err != nil {
			return err
		}
		if checksum != record.Checksum {
			size := info.Size()
			status := catalog.StatusNeedsReprocessing
			*filesToUpdate = append(*filesToUpdate, catalog.BulkFileUpdate{
				FilePath: path,
				Status:   status,
				Update: catalog.FileRecordUpdate{
					LastChecked:  &now,
					Checksum:     &checksum,
					OriginalSize: &size,
				},
			})
			atomic.AddInt64(&s.changedFiles, 1)
		}
		return nil
	}

	if record.Status == catalog.StatusError || record.Status == catalog.StatusCompleted {
		*filesToUpdate = append(*filesToUpdate, catalog.BulkFileUpdate{
			FilePath: path,
			Status:   record.Status,
			Update: catalog.FileRecordUpdate{
				LastChecked: &now,
			},
		})
	}
	return nil
}

// GetScanStatus reports current scan progress for the monitor surface.
// Ground: media_scanner.py:get_scan_status.
func (s *Scanner) GetScanStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.scanning {
		return Status{Scanning: false}
	}

	duration := time.Since(s.startTime)
	progress := s.progressPercent
	if s.totalDirs > 0 {
		progress = (float64(s.processedDirs) / float64(s.totalDirs)) * 100
	}

	var eta float64
	if progress > 0 {
		totalEstimated := duration.Seconds() / (progress / 100)
		eta = totalEstimated - duration.Seconds()
	}

	return Status{
		Scanning:         true,
		CurrentDirectory: s.currentDir,
		FilesScanned:     atomic.LoadInt64(&s.filesScanned),
		NewFiles:         atomic.LoadInt64(&s.newFiles),
		ChangedFiles:     atomic.LoadInt64(&s.changedFiles),
		ProgressPercent:  progress,
		Duration:         duration,
		ETASeconds:       eta,
	}
}
