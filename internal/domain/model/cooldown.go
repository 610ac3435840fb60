package model

import (
	"fmt"
	"time"
)

// CooldownPassed reports whether at least d has elapsed since the last reset.
// A subscription that was never reset has always passed its cooldown.
func CooldownPassed(last *time.Time, now time.Time, d time.Duration) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) >= d
}

// CooldownRemaining is zero once the cooldown has passed.
func CooldownRemaining(last *time.Time, now time.Time, d time.Duration) time.Duration {
	if CooldownPassed(last, now, d) {
		return 0
	}
	return d - now.Sub(*last)
}

// CooldownEnd is the instant the cooldown expires; zero time when never reset.
func CooldownEnd(last *time.Time, d time.Duration) time.Time {
	if last == nil {
		return time.Time{}
	}
	return last.Add(d)
}

// EndOfDay returns the last instant a deferred reset may fire on now's local day:
// the next midnight in loc, minus buffer.
func EndOfDay(now time.Time, loc *time.Location, buffer time.Duration) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return midnight.Add(-buffer)
}

// FormatDuration renders d as "5h3m", "12m30s" or "45s".
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	mins := secs / 60
	hours := mins / 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%dm", hours, mins%60)
	case mins > 0:
		return fmt.Sprintf("%dm%ds", mins, secs%60)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// DayKey is the YYYY-MM-DD calendar date of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("2006-01-02")
}
