// Package timeentry turns classified calendar events into per-(project,
// day) time entries. Compute is pure; the Materializer owns persistence
// and reconciles stored entries with fresh computations.
package timeentry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/timeledger/internal/store"
)

// entryNamespace seeds deterministic entry ids so an ephemeral entry
// keeps the same id across recomputations.
var entryNamespace = uuid.MustParse("9f2c1e58-7b4a-4d2e-8f61-3a5b9c0d4e7f")

// EntryID derives the stable v5 id for a (user, project, date) entry.
func EntryID(userID, projectID uuid.UUID, date time.Time) uuid.UUID {
	name := userID.String() + "|" + projectID.String() + "|" + date.Format("2006-01-02")
	return uuid.NewSHA1(entryNamespace, []byte(name))
}

// Rounding controls how union minutes snap to a granularity.
type Rounding struct {
	// Granularity in minutes; totals snap to its multiples.
	Granularity int
	// UpThreshold in minutes; remainders at or above it round up,
	// smaller remainders round down.
	UpThreshold int
}

// DefaultRounding is 15-minute granularity with a 7-minute up-threshold:
// remainders 1..6 round down, 7..14 round up.
var DefaultRounding = Rounding{Granularity: 15, UpThreshold: 7}

// EventDetail records one contributing event in the calculation audit.
type EventDetail struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TimeRange is one merged interval of the overlap union.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CalculationDetails is the per-entry audit trail of how hours were
// derived.
type CalculationDetails struct {
	Events       []EventDetail `json:"events"`
	TimeRanges   []TimeRange   `json:"time_ranges"`
	UnionMinutes int           `json:"union_minutes"`
	FinalMinutes int           `json:"final_minutes"`
	Rounding     string        `json:"rounding"` // "+Xm", "-Ym", or "none"
}

// Computed is one ephemeral time entry produced by the pure computer.
type Computed struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	ProjectID   uuid.UUID
	Date        time.Time
	Hours       float64
	Title       string
	Description string
	Details     CalculationDetails
	EventIDs    []uuid.UUID
}

// ComputeDay folds one day's classified events into per-project entries.
// Events must all start on the given date and carry a project id. The
// result is sorted by project id for determinism.
func ComputeDay(userID uuid.UUID, date time.Time, events []*store.CalendarEvent, r Rounding) []Computed {
	byProject := make(map[uuid.UUID][]*store.CalendarEvent)
	for _, ev := range events {
		if ev.ProjectID == nil {
			continue
		}
		byProject[*ev.ProjectID] = append(byProject[*ev.ProjectID], ev)
	}

	out := make([]Computed, 0, len(byProject))
	for projectID, evs := range byProject {
		out = append(out, computeProject(userID, projectID, date, evs, r))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProjectID.String() < out[j].ProjectID.String()
	})
	return out
}

// ComputeRange groups events by their start date and computes each day.
func ComputeRange(userID uuid.UUID, events []*store.CalendarEvent, r Rounding) []Computed {
	byDay := make(map[time.Time][]*store.CalendarEvent)
	for _, ev := range events {
		day := dayOf(ev.StartTime)
		byDay[day] = append(byDay[day], ev)
	}

	var out []Computed
	for day, evs := range byDay {
		out = append(out, ComputeDay(userID, day, evs, r)...)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ProjectID.String() < out[j].ProjectID.String()
	})
	return out
}

func computeProject(userID, projectID uuid.UUID, date time.Time, events []*store.CalendarEvent, r Rounding) Computed {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].StartTime.Equal(events[j].StartTime) {
			return events[i].StartTime.Before(events[j].StartTime)
		}
		return events[i].ID.String() < events[j].ID.String()
	})

	details := CalculationDetails{Rounding: "none"}
	var intervals []TimeRange
	var eventIDs []uuid.UUID
	var titles []string
	seen := make(map[string]bool)

	for _, ev := range events {
		eventIDs = append(eventIDs, ev.ID)
		details.Events = append(details.Events, EventDetail{
			ID: ev.ID, Title: ev.Title, Start: ev.StartTime, End: ev.EndTime,
		})
		if !seen[ev.Title] {
			seen[ev.Title] = true
			titles = append(titles, ev.Title)
		}
		// All-day events contribute references but no hours.
		if ev.IsAllDay {
			continue
		}
		intervals = append(intervals, TimeRange{Start: ev.StartTime, End: ev.EndTime})
	}

	details.TimeRanges = mergeIntervals(intervals)
	for _, tr := range details.TimeRanges {
		details.UnionMinutes += int(tr.End.Sub(tr.Start) / time.Minute)
	}

	final, label := round(details.UnionMinutes, r)
	details.FinalMinutes = final
	details.Rounding = label

	title := ""
	if len(titles) > 0 {
		title = titles[0]
		if len(titles) > 1 {
			title = fmt.Sprintf("%s +%d more", titles[0], len(titles)-1)
		}
	}

	return Computed{
		ID:          EntryID(userID, projectID, date),
		UserID:      userID,
		ProjectID:   projectID,
		Date:        date,
		Hours:       float64(final) / 60,
		Title:       title,
		Description: strings.Join(titles, ", "),
		Details:     details,
		EventIDs:    eventIDs,
	}
}

// mergeIntervals unions sorted intervals, coalescing overlapping and
// back-to-back touching ranges.
func mergeIntervals(intervals []TimeRange) []TimeRange {
	if len(intervals) == 0 {
		return nil
	}
	sort.Slice(intervals, func(i, j int) bool {
		return intervals[i].Start.Before(intervals[j].Start)
	})

	merged := []TimeRange{intervals[0]}
	for _, iv := range intervals[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// round snaps total minutes to the granularity. Remainders below the
// up-threshold round down, the rest round up.
func round(total int, r Rounding) (int, string) {
	if r.Granularity <= 0 {
		return total, "none"
	}
	rem := total % r.Granularity
	switch {
	case rem == 0:
		return total, "none"
	case rem >= r.UpThreshold:
		up := r.Granularity - rem
		return total + up, fmt.Sprintf("+%dm", up)
	default:
		return total - rem, fmt.Sprintf("-%dm", rem)
	}
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
