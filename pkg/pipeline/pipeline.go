// Package pipeline runs the bounded worker pool that drains the catalog's
// pending queue and drives each file through the 16-step compression state
// machine (spec.md §4.8). Ground: media_compressor.py:MediaCompressor.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Antheor0/managed-media-compressor/internal/config"
	"github.com/Antheor0/managed-media-compressor/internal/logging"
	"github.com/Antheor0/managed-media-compressor/pkg/catalog"
	"github.com/Antheor0/managed-media-compressor/pkg/classifier"
	"github.com/Antheor0/managed-media-compressor/pkg/notify"
	"github.com/Antheor0/managed-media-compressor/pkg/probe"
	"github.com/Antheor0/managed-media-compressor/pkg/quality"
	"github.com/Antheor0/managed-media-compressor/pkg/resource"
	"github.com/Antheor0/managed-media-compressor/pkg/transcoder"
)

// JobStatus mirrors a single active encode's displayable progress.
type JobStatus struct {
	FilePath      string
	FileName      string
	StartTime     time.Time
	Progress      float64
	FileSize      int64
	Status        string
	EstimatedTime int64
	ETASeconds    float64
	CurrentStage  string
}

// StatusSink is how the pipeline reports live per-job progress (REDESIGN
// FLAG: replaces the closure-passing trio the Python original threads
// through compress_file/run_handbrake).
type StatusSink interface {
	JobUpdated(JobStatus)
	JobRemoved(filePath string)
}

// Stats is the running totals for the active compression session.
type Stats struct {
	SessionStart        time.Time
	FilesProcessed      int64
	TotalOriginalSize   int64
	TotalCompressedSize int64
	Errors              int64
}

// SessionResult summarizes one completed process-queue pass.
type SessionResult struct {
	Status              string
	Message             string
	FilesProcessed      int
	Errors              int
	TotalOriginalSize   int64
	TotalCompressedSize int64
	SavingsPercentage   float64
	Duration            time.Duration
}

// Pipeline owns the active-jobs table and the pause/stop/resume state,
// wired across the transcoder, classifier, quality, probe, and notify
// components.
type Pipeline struct {
	cfg   *config.Config
	log   *logging.Logger
	cat   *catalog.Catalog
	res   *resource.Monitor
	tc    *transcoder.Adapter
	cl    *classifier.Classifier
	qv    *quality.Validator
	pr    *probe.Adapter
	notif *notify.Service
	sink  StatusSink

	mu        sync.Mutex
	paused    bool
	running   bool
	startTime time.Time
	jobs      map[string]*JobStatus
	stats     Stats
}

// New wires a Pipeline from its component adapters.
func New(cfg *config.Config, log *logging.Logger, cat *catalog.Catalog, res *resource.Monitor,
	tc *transcoder.Adapter, cl *classifier.Classifier, qv *quality.Validator, pr *probe.Adapter,
	notif *notify.Service, sink StatusSink) *Pipeline {
	return &Pipeline{
		cfg: cfg, log: log.With("pipeline"), cat: cat, res: res,
		tc: tc, cl: cl, qv: qv, pr: pr, notif: notif, sink: sink,
		jobs: make(map[string]*JobStatus),
	}
}

// SetSink attaches (or replaces) the live-progress sink. The monitor
// surface calls this after construction since it is itself built from the
// already-constructed Pipeline.
func (p *Pipeline) SetSink(sink StatusSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

func (p *Pipeline) setJob(j *JobStatus) {
	p.mu.Lock()
	p.jobs[j.FilePath] = j
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink.JobUpdated(*j)
	}
}

func (p *Pipeline) updateJob(filePath string, mutate func(*JobStatus)) {
	p.mu.Lock()
	j, ok := p.jobs[filePath]
	if !ok {
		p.mu.Unlock()
		return
	}
	mutate(j)
	snapshot := *j
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink.JobUpdated(snapshot)
	}
}

func (p *Pipeline) removeJob(filePath string, actualSeconds int64) {
	p.mu.Lock()
	delete(p.jobs, filePath)
	sink := p.sink
	p.mu.Unlock()
	if err := p.cat.UpdateCompressionTime(filePath, actualSeconds); err != nil {
		p.log.Warnf("updating compression time for %s: %v", filePath, err)
	}
	if sink != nil {
		sink.JobRemoved(filePath)
	}
}

// Pause marks every active job paused in the catalog and stops new jobs
// from starting. Ground: media_compressor.py:pause_compression.
func (p *Pipeline) Pause() {
	p.mu.Lock()
	p.paused = true
	paths := make([]string, 0, len(p.jobs))
	for path := range p.jobs {
		paths = append(paths, path)
	}
	p.mu.Unlock()

	for _, path := range paths {
		if err := p.cat.UpdateFileStatus(path, catalog.StatusPaused, catalog.FileRecordUpdate{}); err != nil {
			p.log.Warnf("marking %s paused: %v", path, err)
		}
	}
	p.log.Infof("compression paused")
	p.cat.LogEvent("compression_paused", "compression jobs paused by user", catalog.SeverityInfo)
}

// Resume clears the pause flag and flips any STATUS_PAUSED row back to
// pending. Ground: media_compressor.py:resume_compression.
func (p *Pipeline) Resume() error {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()

	if _, err := p.cat.ResumePaused(); err != nil {
		return fmt.Errorf("resuming paused files: %w", err)
	}
	p.log.Infof("compression resumed")
	p.cat.LogEvent("compression_resumed", "compression jobs resumed", catalog.SeverityInfo)
	return nil
}

// Stop ends the current session: in-flight encodes are cancelled and their
// records returned to pending, and no further files are started.
// Ground: media_compressor.py:stop_compression.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	p.log.Infof("stopping compression jobs (may take a moment to complete active jobs)")
	p.cat.LogEvent("compression_stopped", "compression jobs stopped by user", catalog.SeverityInfo)
}

// Prioritize bumps a pending file's priority so it sorts first in the next
// GetFilesForCompression call. Ground: media_compressor.py:prioritize_file.
func (p *Pipeline) Prioritize(filePath string, priority int) error {
	if err := p.cat.UpdateFileStatus(filePath, catalog.StatusPending, catalog.FileRecordUpdate{Priority: &priority}); err != nil {
		return err
	}
	p.log.Infof("prioritized %s with priority %d", filePath, priority)
	p.cat.LogEvent("file_prioritized", fmt.Sprintf("file %s prioritized with level %d", filePath, priority), catalog.SeverityInfo)
	return nil
}

func (p *Pipeline) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Pipeline) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

type progressSink struct {
	p        *Pipeline
	filePath string
}

func (s progressSink) OnProgress(prog transcoder.Progress) {
	s.p.updateJob(s.filePath, func(j *JobStatus) {
		j.Status = "compressing"
		j.Progress = prog.Percent
		j.CurrentStage = "encoding"
		if prog.ETASeconds > 0 {
			j.ETASeconds = float64(prog.ETASeconds)
		} else if prog.Percent > 0 {
			elapsed := time.Since(j.StartTime).Seconds()
			if elapsed > 0 {
				total := elapsed / (prog.Percent / 100)
				j.ETASeconds = total - elapsed
			}
		}
	})
}

// compressFile drives one file through verify -> classify -> encode ->
// finalize, ground: media_compressor.py:compress_file.
func (p *Pipeline) compressFile(ctx context.Context, filePath string) catalogOutcome {
	startTime := time.Now()

	info, err := os.Stat(filePath)
	if err != nil {
		p.log.Errorf("cannot access file %s: %v", filePath, err)
		return catalogOutcome{Status: "error", Error: fmt.Sprintf("cannot access file: %v", err)}
	}
	originalSize := info.Size()

	p.setJob(&JobStatus{
		FilePath: filePath, FileName: filepath.Base(filePath), StartTime: startTime,
		FileSize: originalSize, Status: "starting", CurrentStage: "initializing",
	})

	now := time.Now()
	if err := p.cat.UpdateFileStatus(filePath, catalog.StatusInProgress, catalog.FileRecordUpdate{
		ProcessingStarted: &now,
	}); err != nil {
		p.log.Warnf("marking %s in_progress: %v", filePath, err)
	}

	if p.cfg.Recovery.VerifyFiles {
		ok, err := p.pr.VerifyIntegrity(ctx, filePath, p.cfg.Recovery.StrictValidation)
		if err != nil || !ok {
			msg := fmt.Sprintf("original file integrity check failed for %s", filePath)
			p.log.Errorf(msg)
			p.cat.UpdateFileStatus(filePath, catalog.StatusError, catalog.FileRecordUpdate{ErrorMessage: &msg})
			p.removeJob(filePath, 0)
			return catalogOutcome{Status: "error", Error: msg, OriginalSize: originalSize}
		}
	}

	settings := p.cl.CompressionSettings(ctx, filePath)
	tempOutput, nvencOptions := p.tc.PrepareOutput(filePath, settings.ToTranscoderSettings())

	encodeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.watchControl(encodeCtx, cancel, filePath)

	err = p.tc.Encode(encodeCtx, filePath, tempOutput, nvencOptions, settings.ToTranscoderSettings(), progressSink{p: p, filePath: filePath})
	if err != nil {
		if p.isPaused() {
			p.log.Infof("compression of %s paused", filePath)
			p.cat.UpdateFileStatus(filePath, catalog.StatusPaused, catalog.FileRecordUpdate{})
			if rmErr := os.Remove(tempOutput); rmErr != nil && !os.IsNotExist(rmErr) {
				p.log.Warnf("removing temp output for %s: %v", filePath, rmErr)
			}
			p.removeJob(filePath, 0)
			return catalogOutcome{Status: "paused", OriginalSize: originalSize}
		}
		if !p.isRunning() {
			p.log.Infof("compression of %s stopped", filePath)
			p.cat.UpdateFileStatus(filePath, catalog.StatusPending, catalog.FileRecordUpdate{})
			if rmErr := os.Remove(tempOutput); rmErr != nil && !os.IsNotExist(rmErr) {
				p.log.Warnf("removing temp output for %s: %v", filePath, rmErr)
			}
			p.removeJob(filePath, 0)
			return catalogOutcome{Status: "stopped", OriginalSize: originalSize}
		}

		msg := "handbrake compression failed"
		p.log.Errorf("error compressing %s: %s: %v", filePath, msg, err)
		p.cat.UpdateFileStatus(filePath, catalog.StatusError, catalog.FileRecordUpdate{ErrorMessage: &msg})
		if rmErr := os.Remove(tempOutput); rmErr != nil && !os.IsNotExist(rmErr) {
			p.log.Warnf("removing temp output for %s: %v", filePath, rmErr)
		}
		p.removeJob(filePath, 0)
		return catalogOutcome{Status: "error", Error: msg, OriginalSize: originalSize}
	}

	p.updateJob(filePath, func(j *JobStatus) { j.Status = "validating quality"; j.CurrentStage = "quality check" })
	outcome := p.finalize(ctx, filePath, tempOutput, originalSize, settings, startTime)
	p.removeJob(filePath, int64(time.Since(startTime).Seconds()))
	return outcome
}

func (p *Pipeline) watchControl(ctx context.Context, cancel context.CancelFunc, filePath string) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.isPaused() || !p.isRunning() {
				cancel()
				return
			}
		}
	}
}
