package pipeline

import "time"

// Status is a live snapshot of the active (or most recent) session for the
// monitor surface (spec.md §4.11).
type Status struct {
	Running             bool
	Paused              bool
	Jobs                []JobStatus
	FilesProcessed      int64
	Errors              int64
	TotalOriginalSize   int64
	TotalCompressedSize int64
	SessionDuration      time.Duration
	QueueETASeconds      float64
}

// GetStatus reports the pipeline's current activity for the monitor
// surface. Ground: media_compressor.py:get_compression_status.
func (p *Pipeline) GetStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	jobs := make([]JobStatus, 0, len(p.jobs))
	for _, j := range p.jobs {
		jobs = append(jobs, *j)
	}

	duration := time.Duration(0)
	if p.running {
		duration = time.Since(p.startTime)
	}

	return Status{
		Running:             p.running,
		Paused:              p.paused,
		Jobs:                jobs,
		FilesProcessed:      p.stats.FilesProcessed,
		Errors:              p.stats.Errors,
		TotalOriginalSize:   p.stats.TotalOriginalSize,
		TotalCompressedSize: p.stats.TotalCompressedSize,
		SessionDuration:     duration,
	}
}

// QueueETASeconds aggregates the queue's remaining estimated time divided
// across the worker pool, spec.md §4.8 "Aggregate ETA for the queue".
func (p *Pipeline) QueueETASeconds(totalEstimatedSeconds int64) float64 {
	concurrency := p.cfg.MaxConcurrentJobs
	if concurrency <= 0 {
		concurrency = 1
	}
	return float64(totalEstimatedSeconds) / float64(concurrency)
}
