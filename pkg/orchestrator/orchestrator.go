// Package orchestrator runs the daemon loop that ties the scheduler,
// scanner, and compression pipeline together: it opens and closes the
// nightly work window, launches scans and compression sessions at the
// right times, performs periodic catalog backups, and handles shutdown
// signals (spec.md §4.10). Ground: manager.py:MediaCompressorManager.run_daemon.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Antheor0/managed-media-compressor/internal/config"
	"github.com/Antheor0/managed-media-compressor/internal/logging"
	"github.com/Antheor0/managed-media-compressor/pkg/catalog"
	"github.com/Antheor0/managed-media-compressor/pkg/pipeline"
	"github.com/Antheor0/managed-media-compressor/pkg/resource"
	"github.com/Antheor0/managed-media-compressor/pkg/scanner"
)

// postScanSleep is how long the daemon waits after launching a scan before
// reconsidering, to avoid thrashing the disk with overlapping walks.
const postScanSleep = 60 * time.Second

// inWindowPoll is the poll interval while the schedule window is open.
const inWindowPoll = 5 * time.Minute

// outOfWindowStep is the increment used while sleeping toward the next
// window, so a shutdown signal is observed promptly rather than after a
// single long sleep.
const outOfWindowStep = 5 * time.Minute

// maxOutOfWindowSleep caps a single out-of-window wait.
const maxOutOfWindowSleep = 1 * time.Hour

// ErrInterrupted is returned by Run whenever the daemon loop exits, since
// the loop has no normal-completion path of its own: it only ever stops
// because of a shutdown signal or a cancelled context. Ground: spec.md §7's
// "Shutdown signal | SIGINT/SIGTERM | ... exit 1" and §6's exit code table
// ("1 on unrecoverable error or interruption").
var ErrInterrupted = errors.New("orchestrator: daemon interrupted")

// Orchestrator owns the single daemon loop goroutine.
type Orchestrator struct {
	cfg  *config.Config
	log  *logging.Logger
	cat  *catalog.Catalog
	res  *resource.Monitor
	scan *scanner.Scanner
	pipe *pipeline.Pipeline
}

// New wires an Orchestrator from its dependencies.
func New(cfg *config.Config, log *logging.Logger, cat *catalog.Catalog, res *resource.Monitor,
	scan *scanner.Scanner, pipe *pipeline.Pipeline) *Orchestrator {
	return &Orchestrator{cfg: cfg, log: log.With("orchestrator"), cat: cat, res: res, scan: scan, pipe: pipe}
}

// Run executes the daemon loop until ctx is cancelled or SIGINT/SIGTERM is
// received. It performs a final catalog backup on the way out and always
// returns a non-nil error (ErrInterrupted, wrapped with the reason), since
// every exit from this loop is an interruption rather than a completion.
// Ground: manager.py:run_daemon.
func (o *Orchestrator) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go o.backupLoop(loopCtx)

	o.log.Infof("daemon started")
	o.cat.LogEvent("daemon_started", "media compressor daemon started", catalog.SeverityInfo)

	var scanning atomic.Bool
	for {
		select {
		case <-ctx.Done():
			return o.shutdown("context cancelled")
		case sig := <-sigCh:
			return o.shutdown("received signal " + sig.String())
		default:
		}

		now := time.Now()
		inWindow := o.res.WithinSchedule(loopCtx, now)

		if !scanning.Load() && !o.scan.GetScanStatus().Scanning {
			scanning.Store(true)
			go func() {
				defer scanning.Store(false)
				if _, err := o.scan.ScanAll(loopCtx); err != nil {
					o.log.Warnf("scan pass finished with errors: %v", err)
				}
			}()
			if !o.interruptibleSleep(ctx, sigCh, postScanSleep) {
				return o.shutdown("interrupted during post-scan sleep")
			}
			continue
		}

		pipeStatus := o.pipe.GetStatus()
		if inWindow && !pipeStatus.Running && !pipeStatus.Paused {
			sessionCtx, sessionCancel := context.WithTimeout(loopCtx, 1*time.Hour)
			go func() {
				defer sessionCancel()
				result := o.pipe.RunSession(sessionCtx, o.cfg.CompressionQueueSize)
				o.log.Infof("compression session result: %s", result.Status)
			}()
		}

		sleep := inWindowPoll
		if !inWindow {
			sleep = nextWindowWait(now, o.cfg.Schedule.StartHour)
		}
		if !o.interruptibleSleep(ctx, sigCh, sleep) {
			return o.shutdown("interrupted during poll sleep")
		}
	}
}

// interruptibleSleep sleeps for d in outOfWindowStep increments (or all at
// once if d is already small), returning false the moment ctx is cancelled
// or a signal arrives so the caller can shut down promptly.
func (o *Orchestrator) interruptibleSleep(ctx context.Context, sigCh <-chan os.Signal, d time.Duration) bool {
	step := outOfWindowStep
	if d < step {
		step = d
	}
	remaining := d
	for remaining > 0 {
		wait := step
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-sigCh:
			timer.Stop()
			return false
		case <-timer.C:
		}
		remaining -= wait
	}
	return true
}

// nextWindowWait computes time until startHour, treating it as later today
// when still ahead, else tomorrow, capped at maxOutOfWindowSleep. Ground:
// manager.py:_calculate_next_window_sleep_time — carried verbatim including
// the wrap-around ambiguity spec.md §9 leaves unresolved.
func nextWindowWait(now time.Time, startHour int) time.Duration {
	target := time.Date(now.Year(), now.Month(), now.Day(), startHour, 0, 0, 0, now.Location())
	if now.Hour() >= startHour {
		target = target.AddDate(0, 0, 1)
	}
	wait := target.Sub(now)
	if wait > maxOutOfWindowSleep {
		wait = maxOutOfWindowSleep
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// backupLoop performs a catalog backup every db_backup_interval hours,
// independent of the main loop's scan/compress cadence.
func (o *Orchestrator) backupLoop(ctx context.Context) {
	interval := time.Duration(o.cfg.Recovery.DBBackupInterval) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.cat.Backup(); err != nil {
				o.log.Warnf("periodic catalog backup failed: %v", err)
			}
		}
	}
}

func (o *Orchestrator) shutdown(reason string) error {
	o.log.Infof("shutting down: %s", reason)
	o.pipe.Stop()
	if err := o.cat.Backup(); err != nil {
		o.log.Warnf("final catalog backup failed: %v", err)
	}
	o.cat.LogEvent("daemon_stopped", "media compressor daemon stopped: "+reason, catalog.SeverityInfo)
	return fmt.Errorf("%w: %s", ErrInterrupted, reason)
}
