package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Antheor0/managed-media-compressor/pkg/catalog"
	"github.com/Antheor0/managed-media-compressor/pkg/classifier"
	"github.com/Antheor0/managed-media-compressor/pkg/scanner"
)

// catalogOutcome is one worker's report for a single file, consumed by
// RunSession to build the session's aggregate Stats.
type catalogOutcome struct {
	Status         string // completed, skipped, error, paused, stopped
	Error          string
	OriginalSize   int64
	CompressedSize int64
}

// sessionTimeout is the safety cap on one RunSession call, spec.md §5.
const sessionTimeout = 1 * time.Hour

// RunSession draws up to limit pending files in priority order and drains
// them through the worker pool, returning once every worker has finished or
// the session's safety timeout elapses. Ground:
// media_compressor.py:process_compression_queue.
func (p *Pipeline) RunSession(ctx context.Context, limit int) SessionResult {
	if ok, reason := p.res.CheckResources(); !ok {
		eventType := "resource_check_failed"
		if strings.Contains(strings.ToLower(reason), "disk space") {
			eventType = "disk_space_error"
		}
		p.cat.LogEvent(eventType, reason, catalog.SeverityWarning)
		return SessionResult{Status: "skipped", Message: reason}
	}

	files, err := p.cat.GetFilesForCompression(limit)
	if err != nil {
		return SessionResult{Status: "error", Message: fmt.Sprintf("loading pending files: %v", err)}
	}
	if len(files) == 0 {
		return SessionResult{Status: "completed", Message: "no pending files"}
	}

	sessionCtx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()

	p.mu.Lock()
	p.running = true
	p.paused = false
	p.startTime = time.Now()
	p.stats = Stats{SessionStart: p.startTime}
	p.mu.Unlock()

	concurrency := p.cfg.MaxConcurrentJobs
	if concurrency <= 0 {
		concurrency = 1
	}

	work := make(chan catalog.PendingFile)
	go func() {
		defer close(work)
		for _, f := range files {
			select {
			case work <- f:
			case <-sessionCtx.Done():
				return
			}
			if !p.isRunning() {
				return
			}
		}
	}()

	done := make(chan struct{})
	for i := 0; i < concurrency; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for f := range work {
				if !p.isRunning() || p.isPaused() {
					return
				}
				outcome := p.compressFile(sessionCtx, f.FilePath)
				p.recordOutcome(outcome)
			}
		}()
	}
	for i := 0; i < concurrency; i++ {
		<-done
	}

	p.mu.Lock()
	p.running = false
	stats := p.stats
	p.mu.Unlock()

	duration := time.Since(stats.SessionStart)
	savings := 0.0
	if stats.TotalOriginalSize > 0 {
		savings = float64(stats.TotalOriginalSize-stats.TotalCompressedSize) / float64(stats.TotalOriginalSize) * 100
	}

	session := catalog.SessionStats{
		StartTime:           stats.SessionStart,
		EndTime:             time.Now(),
		FilesProcessed:      int(stats.FilesProcessed),
		TotalOriginalSize:   stats.TotalOriginalSize,
		TotalCompressedSize: stats.TotalCompressedSize,
		SavingsPercentage:   savings,
		Errors:              int(stats.Errors),
	}
	if err := p.cat.RecordSession(session); err != nil {
		p.log.Warnf("recording session stats: %v", err)
	}

	result := SessionResult{
		Status:              "completed",
		FilesProcessed:       int(stats.FilesProcessed),
		Errors:               int(stats.Errors),
		TotalOriginalSize:    stats.TotalOriginalSize,
		TotalCompressedSize:  stats.TotalCompressedSize,
		SavingsPercentage:    savings,
		Duration:             duration,
	}

	message := fmt.Sprintf("compression session finished: %d processed, %d errors, %.1f%% saved",
		result.FilesProcessed, result.Errors, result.SavingsPercentage)
	if p.notif != nil {
		if result.Errors > 0 {
			p.notif.NotifyError(message)
		} else {
			p.notif.NotifyCompletion(message)
		}
	}
	p.cat.LogEvent("session_completed", message, catalog.SeverityInfo)
	return result
}

func (p *Pipeline) recordOutcome(o catalogOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch o.Status {
	case "completed":
		p.stats.FilesProcessed++
		p.stats.TotalOriginalSize += o.OriginalSize
		p.stats.TotalCompressedSize += o.CompressedSize
	case "error":
		p.stats.Errors++
	}
}

// finalize runs steps 9-16 of compress_file (spec.md §4.8): stat the temp
// output, score it against the original, accept/reject by the
// size-reduction and quality gates, atomically replace the source on
// acceptance, and record the terminal status. Ground:
// compression_engine.py:finalize_compression.
func (p *Pipeline) finalize(ctx context.Context, filePath, tempOutput string, originalSize int64,
	settings classifier.Settings, startTime time.Time) catalogOutcome {

	info, err := os.Stat(tempOutput)
	if err != nil || info.Size() == 0 {
		msg := "compressed output missing or empty"
		p.log.Errorf("%s: %s", msg, filePath)
		p.cat.UpdateFileStatus(filePath, catalog.StatusError, catalog.FileRecordUpdate{ErrorMessage: &msg})
		os.Remove(tempOutput)
		return catalogOutcome{Status: "error", Error: msg, OriginalSize: originalSize}
	}
	compressedSize := info.Size()

	reduction := 1 - float64(compressedSize)/float64(originalSize)
	result := p.qv.Validate(ctx, filePath, tempOutput)

	if reduction < p.cfg.SizeReductionThreshold || !result.Acceptable {
		reason := fmt.Sprintf("size reduction %.1f%% below threshold or quality below threshold (score %.1f, method %s)",
			reduction*100, result.Score, result.Method)
		p.log.Infof("skipping %s: %s", filePath, reason)
		os.Remove(tempOutput)
		p.cat.UpdateFileStatus(filePath, catalog.StatusSkipped, catalog.FileRecordUpdate{SkipReason: &reason})
		return catalogOutcome{Status: "skipped", OriginalSize: originalSize}
	}

	if p.cfg.Recovery.VerifyFiles {
		ok, err := p.pr.VerifyIntegrity(ctx, tempOutput, p.cfg.Recovery.StrictValidation)
		if err != nil || !ok {
			msg := fmt.Sprintf("compressed output integrity check failed for %s", filePath)
			p.log.Errorf(msg)
			os.Remove(tempOutput)
			p.cat.UpdateFileStatus(filePath, catalog.StatusError, catalog.FileRecordUpdate{ErrorMessage: &msg})
			return catalogOutcome{Status: "error", Error: msg, OriginalSize: originalSize}
		}
	}

	if err := replaceAtomic(tempOutput, filePath); err != nil {
		msg := fmt.Sprintf("replacing %s with compressed output: %v", filePath, err)
		p.log.Errorf(msg)
		p.cat.UpdateFileStatus(filePath, catalog.StatusError, catalog.FileRecordUpdate{ErrorMessage: &msg})
		return catalogOutcome{Status: "error", Error: msg, OriginalSize: originalSize}
	}

	checksum, err := scanner.Fingerprint(filePath)
	if err != nil {
		p.log.Warnf("recomputing fingerprint for %s: %v", filePath, err)
	}

	now := time.Now()
	contentType := catalog.ContentType(settings.ContentType)
	if err := p.cat.UpdateFileStatus(filePath, catalog.StatusCompleted, catalog.FileRecordUpdate{
		CompressedSize:            &compressedSize,
		CompressionDate:           &now,
		ContentType:               &contentType,
		QualityScore:              &result.Score,
		Checksum:                  &checksum,
		OriginalSize:              &compressedSize,
		IncrementCompressionCount: true,
	}); err != nil {
		p.log.Errorf("recording completion for %s: %v", filePath, err)
	}

	p.log.Infof("compressed %s: %d -> %d bytes (%.1f%% reduction, quality %.1f via %s)",
		filePath, originalSize, compressedSize, reduction*100, result.Score, result.Method)
	p.cat.LogEvent("compression_completed",
		fmt.Sprintf("%s compressed: %d -> %d bytes", filePath, originalSize, compressedSize), catalog.SeverityInfo)

	return catalogOutcome{Status: "completed", OriginalSize: originalSize, CompressedSize: compressedSize}
}

// replaceAtomic installs tempOutput in place of filePath. A same-filesystem
// rename is atomic and preferred; when the temp area lives on a different
// filesystem, it copies to a staging file beside filePath (same filesystem
// as the destination) and renames that into place, so filePath is never
// briefly absent (spec.md §4.8 step 13, §6).
func replaceAtomic(tempOutput, filePath string) error {
	if err := os.Rename(tempOutput, filePath); err == nil {
		return nil
	}

	staging := filePath + ".new"
	if err := copyFileContents(tempOutput, staging); err != nil {
		os.Remove(staging)
		return fmt.Errorf("stage replacement: %w", err)
	}
	if err := os.Rename(staging, filePath); err != nil {
		os.Remove(staging)
		return fmt.Errorf("install replacement: %w", err)
	}
	os.Remove(tempOutput)
	return nil
}

func copyFileContents(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
