package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func jobDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func pendingJob(min, max time.Time, priority int) *SyncJob {
	return &SyncJob{
		ID:            uuid.New(),
		CalendarID:    uuid.New(),
		JobType:       JobExpandWatermarks,
		TargetMinDate: min,
		TargetMaxDate: max,
		Status:        JobPending,
		Priority:      priority,
	}
}

func TestCoalesceJobsUnionsOverlappingRanges(t *testing.T) {
	existing := pendingJob(jobDate(2025, 1, 6), jobDate(2025, 1, 12), PriorityBackground)

	c := coalesceJobs(jobDate(2025, 1, 10), jobDate(2025, 1, 20), PriorityBackground,
		[]*SyncJob{existing})

	if !c.min.Equal(jobDate(2025, 1, 6)) || !c.max.Equal(jobDate(2025, 1, 20)) {
		t.Errorf("union = [%v, %v], want [2025-01-06, 2025-01-20]", c.min, c.max)
	}
	if len(c.absorbed) != 1 || c.absorbed[0] != existing.ID {
		t.Errorf("absorbed = %v, want the overlapping job", c.absorbed)
	}
}

func TestCoalesceJobsKeepsHighestPriority(t *testing.T) {
	user := pendingJob(jobDate(2025, 1, 6), jobDate(2025, 1, 12), PriorityUser)

	c := coalesceJobs(jobDate(2025, 1, 13), jobDate(2025, 1, 19), PriorityBackground,
		[]*SyncJob{user})

	if c.priority != PriorityUser {
		t.Errorf("priority = %d, want user priority to survive coalescing", c.priority)
	}
	if !c.min.Equal(jobDate(2025, 1, 6)) || !c.max.Equal(jobDate(2025, 1, 19)) {
		t.Errorf("union = [%v, %v], want the adjacent ranges joined", c.min, c.max)
	}
}

func TestCoalesceJobsFoldsMultiple(t *testing.T) {
	a := pendingJob(jobDate(2025, 1, 6), jobDate(2025, 1, 12), PriorityBackground)
	b := pendingJob(jobDate(2025, 1, 20), jobDate(2025, 1, 26), PriorityBackground)

	c := coalesceJobs(jobDate(2025, 1, 13), jobDate(2025, 1, 19), PriorityBackground,
		[]*SyncJob{a, b})

	if !c.min.Equal(jobDate(2025, 1, 6)) || !c.max.Equal(jobDate(2025, 1, 26)) {
		t.Errorf("union = [%v, %v], want [2025-01-06, 2025-01-26]", c.min, c.max)
	}
	if len(c.absorbed) != 2 {
		t.Errorf("absorbed = %d jobs, want both neighbors", len(c.absorbed))
	}
}

func TestCoalesceJobsNoOverlapKeepsRequest(t *testing.T) {
	c := coalesceJobs(jobDate(2025, 1, 6), jobDate(2025, 1, 12), PriorityUser, nil)

	if !c.min.Equal(jobDate(2025, 1, 6)) || !c.max.Equal(jobDate(2025, 1, 12)) {
		t.Errorf("range = [%v, %v], want the request unchanged", c.min, c.max)
	}
	if c.priority != PriorityUser || len(c.absorbed) != 0 {
		t.Errorf("priority = %d, absorbed = %v", c.priority, c.absorbed)
	}
}
