package dispatch

import "time"

// TimerHandle identifies a scheduled callback.
type TimerHandle interface {
	// Stop cancels the callback if it has not fired yet. It reports whether
	// the cancellation prevented the callback from running.
	Stop() bool
}

// Scheduler schedules the accept-timeout watchdog. Implementations must run
// the callback on its own goroutine, never inline, so a firing timer cannot
// re-enter the per-request lock held by the scheduling call.
type Scheduler interface {
	ScheduleAfter(d time.Duration, fn func()) TimerHandle
}

// TimeScheduler implements Scheduler with real timers.
type TimeScheduler struct{}

type timeHandle struct{ t *time.Timer }

func (h timeHandle) Stop() bool { return h.t.Stop() }

// ScheduleAfter runs fn after d. time.AfterFunc invokes the callback on its
// own goroutine, satisfying the no-inline requirement.
func (TimeScheduler) ScheduleAfter(d time.Duration, fn func()) TimerHandle {
	return timeHandle{t: time.AfterFunc(d, fn)}
}
