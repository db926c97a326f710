package orchestrator

import (
	"testing"
	"time"
)

func TestNextWindowWaitLaterToday(t *testing.T) {
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	wait := nextWindowWait(now, 2)
	want := 1 * time.Hour
	if wait != want {
		t.Fatalf("expected %v until 02:00 today, got %v", want, wait)
	}
}

func TestNextWindowWaitRollsToTomorrowWhenPast(t *testing.T) {
	// 02:00 tomorrow is 23h away, which the one-hour cap reduces; a
	// "later today" reading would give 0 instead.
	now := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	wait := nextWindowWait(now, 2)
	want := maxOutOfWindowSleep
	if wait != want {
		t.Fatalf("expected %v (02:00 tomorrow, capped), got %v", want, wait)
	}
}

func TestNextWindowWaitCapsAtOneHour(t *testing.T) {
	// 10 hours until the window opens should be capped to maxOutOfWindowSleep.
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	wait := nextWindowWait(now, 10)
	if wait != maxOutOfWindowSleep {
		t.Fatalf("expected wait capped at %v, got %v", maxOutOfWindowSleep, wait)
	}
}

func TestNextWindowWaitAtExactStartHourRollsToTomorrow(t *testing.T) {
	// now.Hour() >= startHour treats the boundary as "already past today":
	// the 24h wait until tomorrow is capped to maxOutOfWindowSleep.
	now := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	wait := nextWindowWait(now, 2)
	want := maxOutOfWindowSleep
	if wait != want {
		t.Fatalf("expected %v (tomorrow, capped), got %v", want, wait)
	}
}
