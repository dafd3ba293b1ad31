package timeentry

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/timeledger/internal/store"
)

func computedFor(projectID uuid.UUID, hours float64) Computed {
	return Computed{
		ID:        EntryID(computeUserID, projectID, day),
		UserID:    computeUserID,
		ProjectID: projectID,
		Date:      day,
		Hours:     hours,
		Title:     "Work",
		EventIDs:  []uuid.UUID{uuid.New()},
	}
}

func storedEntry(projectID uuid.UUID) *store.TimeEntry {
	return &store.TimeEntry{
		ID:        EntryID(computeUserID, projectID, day),
		UserID:    computeUserID,
		ProjectID: projectID,
		Date:      day,
		Hours:     2.0,
		Source:    "calendar",
	}
}

func TestReconcileUpdatesLiveProjects(t *testing.T) {
	e := storedEntry(projectA)
	plan := reconcile([]Computed{computedFor(projectA, 1.5)}, []*store.TimeEntry{e})

	if len(plan.updates) != 1 || len(plan.zeroed) != 0 || len(plan.deletes) != 0 {
		t.Fatalf("plan = %d/%d/%d, want update only", len(plan.updates), len(plan.zeroed), len(plan.deletes))
	}
	if plan.updates[0].computed.Hours != 1.5 {
		t.Errorf("update hours = %v", plan.updates[0].computed.Hours)
	}
	if plan.updates[0].stale {
		t.Errorf("unedited entry marked stale")
	}
}

func TestReconcileDeletesUnprotectedLeftovers(t *testing.T) {
	e := storedEntry(projectA)
	plan := reconcile(nil, []*store.TimeEntry{e})
	if len(plan.deletes) != 1 {
		t.Fatalf("plan deletes = %d, want 1", len(plan.deletes))
	}
}

func TestReconcileKeepsProtectedEntries(t *testing.T) {
	pinned := storedEntry(projectA)
	pinned.IsPinned = true

	edited := storedEntry(projectB)
	edited.HasUserEdits = true

	invoiced := storedEntry(projectA)
	invoiced.ID = uuid.New()
	invoiceID := uuid.New()
	invoiced.InvoiceID = &invoiceID

	plan := reconcile(nil, []*store.TimeEntry{pinned, edited, invoiced})
	if len(plan.zeroed) != 3 || len(plan.deletes) != 0 {
		t.Fatalf("plan = %d zeroed / %d deleted, want 3/0", len(plan.zeroed), len(plan.deletes))
	}
}

func TestReconcileIgnoresSuppressedEntries(t *testing.T) {
	suppressed := storedEntry(projectA)
	suppressed.IsSuppressed = true

	plan := reconcile([]Computed{computedFor(projectA, 1.5)}, []*store.TimeEntry{suppressed})
	if len(plan.updates)+len(plan.zeroed)+len(plan.deletes) != 0 {
		t.Errorf("suppressed entry touched: %+v", plan)
	}
}

func TestReconcileFlagsStaleUserEdits(t *testing.T) {
	snapshot := 2.0
	e := storedEntry(projectA)
	e.HasUserEdits = true
	e.SnapshotComputedHours = &snapshot

	plan := reconcile([]Computed{computedFor(projectA, 1.5)}, []*store.TimeEntry{e})
	if !plan.updates[0].stale {
		t.Errorf("drifted computed hours not flagged stale")
	}

	plan = reconcile([]Computed{computedFor(projectA, 2.0)}, []*store.TimeEntry{e})
	if plan.updates[0].stale {
		t.Errorf("matching snapshot flagged stale")
	}
}

func TestMergeMaterializedWinsOverEphemeral(t *testing.T) {
	snapshot := 1.0
	e := storedEntry(projectA)
	e.Hours = 3.0
	e.HasUserEdits = true
	e.SnapshotComputedHours = &snapshot

	out := merge([]Computed{computedFor(projectA, 1.5)}, []*store.TimeEntry{e})
	if len(out) != 1 {
		t.Fatalf("entries = %d, want 1", len(out))
	}
	v := out[0]
	if !v.Materialized || v.Hours != 3.0 {
		t.Errorf("view = %+v, want stored hours to win", v)
	}
	if v.ComputedHours != 1.5 {
		t.Errorf("ComputedHours = %v, want the fresh computation", v.ComputedHours)
	}
	if !v.IsStale {
		t.Errorf("staleness not recomputed on read")
	}
}

func TestMergeEphemeralFillsGaps(t *testing.T) {
	out := merge([]Computed{computedFor(projectA, 1.5), computedFor(projectB, 0.5)},
		[]*store.TimeEntry{storedEntry(projectA)})
	if len(out) != 2 {
		t.Fatalf("entries = %d, want 2", len(out))
	}
	var ephemeral *Entry
	for i := range out {
		if !out[i].Materialized {
			ephemeral = &out[i]
		}
	}
	if ephemeral == nil || ephemeral.ProjectID != projectB {
		t.Fatalf("ephemeral fill missing: %+v", out)
	}
	if ephemeral.ID != EntryID(computeUserID, projectB, day) {
		t.Errorf("ephemeral id not deterministic")
	}
	if ephemeral.Hours != 0.5 || ephemeral.Source != "calendar" {
		t.Errorf("ephemeral view = %+v", ephemeral)
	}
}

func TestMergeSortsByDateThenProject(t *testing.T) {
	nextDay := day.AddDate(0, 0, 1)
	later := computedFor(projectA, 1.0)
	later.Date = nextDay
	later.ID = EntryID(computeUserID, projectA, nextDay)

	out := merge([]Computed{later, computedFor(projectB, 1.0), computedFor(projectA, 1.0)}, nil)
	if len(out) != 3 {
		t.Fatalf("entries = %d, want 3", len(out))
	}
	if out[0].ProjectID != projectA || out[1].ProjectID != projectB || !out[2].Date.Equal(nextDay) {
		t.Errorf("order = %v", []time.Time{out[0].Date, out[1].Date, out[2].Date})
	}
}

func TestIsStale(t *testing.T) {
	e := storedEntry(projectA)
	if isStale(e, 1.0) {
		t.Errorf("entry without user edits stale")
	}
	e.HasUserEdits = true
	if !isStale(e, 1.0) {
		t.Errorf("edited entry without snapshot not stale")
	}
	snapshot := 1.0
	e.SnapshotComputedHours = &snapshot
	if isStale(e, 1.0) {
		t.Errorf("matching snapshot stale")
	}
	if !isStale(e, 2.0) {
		t.Errorf("drifted snapshot not stale")
	}
}
