// Package resource provides point-in-time readings of free disk, available
// memory, CPU, and GPU utilization, plus the schedule-window predicate that
// gates when the compression pipeline is allowed to run (spec.md §4.2).
package resource

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/Antheor0/managed-media-compressor/internal/config"
	"github.com/Antheor0/managed-media-compressor/internal/logging"
)

// Monitor performs pure, side-effect-free resource reads against the host.
// Ground: resource_monitor.py's ResourceMonitor class, ported line for line.
type Monitor struct {
	cfg *config.Config
	log *logging.Logger
}

// New constructs a Monitor from cfg.
func New(cfg *config.Config, log *logging.Logger) *Monitor {
	return &Monitor{cfg: cfg, log: log.With("resource")}
}

// FreeSpaceMB returns the free space in MB on the filesystem containing path.
// Ground: resource_monitor.py:check_disk_space (shutil.disk_usage), ported
// onto gopsutil/v4's disk.Usage the way mantonx-viewra's media pipeline
// reads host disk stats.
func (m *Monitor) FreeSpaceMB(path string) (float64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("disk usage %s: %w", path, err)
	}
	return float64(usage.Free) / (1024 * 1024), nil
}

// memoryAvailableMB reads available memory via gopsutil/v4/mem. Ground:
// resource_monitor.py uses psutil.virtual_memory().available; gopsutil's
// VirtualMemoryStat.Available is the Go-ecosystem equivalent.
func memoryAvailableMB() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("reading virtual memory: %w", err)
	}
	return float64(vm.Available) / (1024 * 1024), nil
}

// cpuPercent samples overall CPU utilization across interval via
// gopsutil/v4/cpu, mirroring psutil.cpu_percent(interval=1).
func cpuPercent(interval time.Duration) (float64, error) {
	percentages, err := cpu.Percent(interval, false)
	if err != nil {
		return 0, fmt.Errorf("reading cpu percent: %w", err)
	}
	if len(percentages) == 0 {
		return 0, fmt.Errorf("cpu.Percent returned no samples")
	}
	return percentages[0], nil
}

// gpuPercent shells out to nvidia-smi for GPU utilization. Any failure
// (binary absent, no GPU) is treated as 0, never an error — ground:
// resource_monitor.py:check_system_load's bare `except Exception: pass`.
func gpuPercent(ctx context.Context) float64 {
	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=utilization.gpu", "--format=csv,noheader,nounits")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(out.String()), 64)
	if err != nil {
		return 0
	}
	return v
}

// CheckResources returns OK iff free space on the temp area meets
// min_free_space_mb and available memory meets min_memory_mb. CPU above 90%
// logs a warning but does not fail the check (spec.md §4.2).
func (m *Monitor) CheckResources() (bool, string) {
	freeMB, err := m.FreeSpaceMB(m.cfg.TempDir)
	if err != nil {
		m.log.Errorf("checking disk space on %s: %v", m.cfg.TempDir, err)
		return false, fmt.Sprintf("error checking disk space: %v", err)
	}
	if freeMB < float64(m.cfg.MinFreeSpaceMB) {
		msg := fmt.Sprintf("Insufficient disk space on %s: %.2fMB free, %dMB required",
			m.cfg.TempDir, freeMB, m.cfg.MinFreeSpaceMB)
		m.log.Errorf(msg)
		return false, msg
	}

	availMB, err := memoryAvailableMB()
	if err != nil {
		m.log.Warnf("checking memory: %v", err)
	} else if availMB < float64(m.cfg.MinMemoryMB) {
		msg := fmt.Sprintf("Low memory: %.2fMB available, minimum %dMB required", availMB, m.cfg.MinMemoryMB)
		m.log.Warnf(msg)
		return false, msg
	}

	if cpu, err := cpuPercent(1 * time.Second); err == nil && cpu > 90 {
		m.log.Warnf("High CPU usage: %.1f%%", cpu)
	}

	return true, ""
}

// CheckLoad fails when CPU > 80%, memory > 90%, or GPU utilization > 80%
// (spec.md §4.2).
func (m *Monitor) CheckLoad(ctx context.Context) bool {
	cpu, err := cpuPercent(1 * time.Second)
	if err != nil {
		m.log.Warnf("reading CPU usage: %v", err)
	}
	memAvail, err := memoryAvailableMB()
	memPercent := 0.0
	if err == nil {
		if total, terr := memoryTotalMB(); terr == nil && total > 0 {
			memPercent = (1 - memAvail/total) * 100
		}
	}
	gpu := gpuPercent(ctx)

	m.log.Debugf("system load: CPU %.1f%%, Memory %.1f%%, GPU %.1f%%", cpu, memPercent, gpu)

	if cpu > 80 || memPercent > 90 || gpu > 80 {
		m.log.Infof("system under heavy load (CPU: %.1f%%, Memory: %.1f%%, GPU: %.1f%%), pausing", cpu, memPercent, gpu)
		return false
	}
	return true
}

func memoryTotalMB() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("reading virtual memory: %w", err)
	}
	return float64(vm.Total) / (1024 * 1024), nil
}

// WithinSchedule is true iff start_hour <= now.hour < end_hour; when
// dynamic_scheduling is on, additionally requires CheckLoad(). Wrap-around
// (start_hour > end_hour) is left unsupported per spec.md §9's Open
// Question — this is a direct boolean comparison, not a special case.
func (m *Monitor) WithinSchedule(ctx context.Context, now time.Time) bool {
	hour := now.Hour()
	inWindow := m.cfg.Schedule.StartHour <= hour && hour < m.cfg.Schedule.EndHour
	if !inWindow {
		return false
	}
	if m.cfg.Schedule.DynamicScheduling {
		return m.CheckLoad(ctx)
	}
	return true
}
