package resource

import (
	"context"
	"testing"
	"time"

	"github.com/Antheor0/managed-media-compressor/internal/config"
	"github.com/Antheor0/managed-media-compressor/internal/logging"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.TempDir = t.TempDir()
	return New(cfg, logging.New(logging.DefaultConfig()))
}

func TestFreeSpaceMBReadsStatfs(t *testing.T) {
	m := newTestMonitor(t)
	free, err := m.FreeSpaceMB(m.cfg.TempDir)
	if err != nil {
		t.Fatalf("FreeSpaceMB: %v", err)
	}
	if free <= 0 {
		t.Fatalf("expected positive free space reading, got %v", free)
	}
}

func TestFreeSpaceMBErrorsOnMissingPath(t *testing.T) {
	m := newTestMonitor(t)
	if _, err := m.FreeSpaceMB("/nonexistent/path/does/not/exist"); err == nil {
		t.Fatalf("expected an error statting a nonexistent path")
	}
}

func TestWithinScheduleBoundaries(t *testing.T) {
	m := newTestMonitor(t)
	m.cfg.Schedule.DynamicScheduling = false
	m.cfg.Schedule.StartHour = 2
	m.cfg.Schedule.EndHour = 6

	atHour := func(hour int) time.Time {
		return time.Date(2026, 7, 31, hour, 0, 0, 0, time.UTC)
	}

	cases := []struct {
		hour int
		want bool
	}{
		{1, false},
		{2, true},  // start_hour is inclusive
		{5, true},
		{6, false}, // end_hour is exclusive
		{23, false},
	}
	for _, c := range cases {
		got := m.WithinSchedule(context.Background(), atHour(c.hour))
		if got != c.want {
			t.Errorf("hour %d: expected within-schedule=%v, got %v", c.hour, c.want, got)
		}
	}
}

func TestWithinScheduleWrapAroundIsUnsupported(t *testing.T) {
	// spec.md §9: wrap-around windows (start_hour > end_hour) are an
	// explicit Open Question left unresolved; the direct comparison means
	// a wrap-around window like 22->6 matches no hour at all.
	m := newTestMonitor(t)
	m.cfg.Schedule.DynamicScheduling = false
	m.cfg.Schedule.StartHour = 22
	m.cfg.Schedule.EndHour = 6

	for _, hour := range []int{23, 0, 2, 22} {
		at := time.Date(2026, 7, 31, hour, 0, 0, 0, time.UTC)
		if m.WithinSchedule(context.Background(), at) {
			t.Errorf("expected wrap-around window to never report within-schedule, hour %d matched", hour)
		}
	}
}
