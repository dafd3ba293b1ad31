// Package syncengine decides when calendars need syncing, maintains
// per-calendar watermarks, and drives the provider connector through a
// durable job queue.
package syncengine

import (
	"time"
)

// Reasons a decision can carry.
const (
	ReasonFreshData     = "fresh_data"
	ReasonStaleData     = "stale_data"
	ReasonOutsideWindow = "outside_window"
	ReasonNoSyncedRange = "no_synced_range"
)

// Decision is the answer to "does this range need a sync now?".
type Decision struct {
	NeedsSync      bool
	Reason         string
	MissingWeeks   []time.Time // Monday 00:00 UTC of each unsynced week
	IsStaleRefresh bool
}

// WeekStart returns Monday 00:00 UTC of t's week.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}

// WeekEnd returns Sunday of the week containing t, date precision.
func WeekEnd(t time.Time) time.Time {
	return WeekStart(t).AddDate(0, 0, 6)
}

// weeksIn lists the Monday of every week touching [start, end].
func weeksIn(start, end time.Time) []time.Time {
	var weeks []time.Time
	for w := WeekStart(start); !w.After(end); w = w.AddDate(0, 0, 7) {
		weeks = append(weeks, w)
	}
	return weeks
}

// Decide evaluates the sync truth table for a requested range against a
// calendar's watermarks. The range is normalized to whole weeks (Monday
// through Sunday, UTC). The cases are exhaustive:
//
//	no watermarks          -> no_synced_range, all weeks missing
//	range covered, fresh   -> fresh_data, no sync
//	range covered, stale   -> stale_data, stale refresh of all weeks
//	range not covered      -> outside_window, uncovered weeks missing
func Decide(minSynced, maxSynced *time.Time, lastSyncedAt *time.Time, targetStart, targetEnd time.Time, now time.Time, staleThreshold time.Duration) Decision {
	firstWeek := WeekStart(targetStart)
	lastWeekEnd := WeekEnd(targetEnd)

	if minSynced == nil || maxSynced == nil {
		return Decision{
			NeedsSync:    true,
			Reason:       ReasonNoSyncedRange,
			MissingWeeks: weeksIn(targetStart, targetEnd),
		}
	}

	covered := !firstWeek.Before(*minSynced) && !lastWeekEnd.After(*maxSynced)
	if covered {
		if lastSyncedAt == nil || now.Sub(*lastSyncedAt) > staleThreshold {
			return Decision{
				NeedsSync:      true,
				Reason:         ReasonStaleData,
				MissingWeeks:   weeksIn(targetStart, targetEnd),
				IsStaleRefresh: true,
			}
		}
		return Decision{Reason: ReasonFreshData}
	}

	var missing []time.Time
	for _, week := range weeksIn(targetStart, targetEnd) {
		weekSunday := week.AddDate(0, 0, 6)
		if week.Before(*minSynced) || weekSunday.After(*maxSynced) {
			missing = append(missing, week)
		}
	}
	return Decision{
		NeedsSync:    true,
		Reason:       ReasonOutsideWindow,
		MissingWeeks: missing,
	}
}
