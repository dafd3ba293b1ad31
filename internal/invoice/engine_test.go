package invoice

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/timeledger/internal/store"
	"github.com/quantumlife/timeledger/pkg/errs"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func openPeriod(rate float64, startsOn time.Time) *store.BillingPeriod {
	return &store.BillingPeriod{
		ID:         uuid.New(),
		ProjectID:  uuid.New(),
		StartsOn:   startsOn,
		HourlyRate: rate,
	}
}

func TestResolveRatesOpenEndedPeriod(t *testing.T) {
	periods := []*store.BillingPeriod{openPeriod(100, date(2025, 1, 1))}
	rates, err := resolveRates(periods, date(2025, 1, 6), date(2025, 1, 12))
	if err != nil {
		t.Fatalf("resolveRates: %v", err)
	}
	if len(rates) != 7 {
		t.Fatalf("rates = %d days, want 7", len(rates))
	}
	for day, rate := range rates {
		if rate != 100 {
			t.Errorf("rate on %s = %v", day.Format("2006-01-02"), rate)
		}
	}
}

func TestResolveRatesUncoveredDayFails(t *testing.T) {
	end := date(2025, 1, 8)
	periods := []*store.BillingPeriod{{StartsOn: date(2025, 1, 1), EndsOn: &end, HourlyRate: 100}}

	_, err := resolveRates(periods, date(2025, 1, 6), date(2025, 1, 12))
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if errs.Code(err) != "missing_billing_rate" {
		t.Errorf("code = %q, want missing_billing_rate", errs.Code(err))
	}
}

func TestResolveRatesAdjacentPeriods(t *testing.T) {
	firstEnd := date(2025, 1, 8)
	periods := []*store.BillingPeriod{
		{StartsOn: date(2025, 1, 1), EndsOn: &firstEnd, HourlyRate: 90},
		{StartsOn: date(2025, 1, 9), HourlyRate: 110},
	}
	rates, err := resolveRates(periods, date(2025, 1, 6), date(2025, 1, 12))
	if err != nil {
		t.Fatalf("resolveRates: %v", err)
	}
	if rates[date(2025, 1, 8)] != 90 || rates[date(2025, 1, 9)] != 110 {
		t.Errorf("rate boundary wrong: %v / %v", rates[date(2025, 1, 8)], rates[date(2025, 1, 9)])
	}
}

func TestPlanLinesSnapshotsWeekAtRate(t *testing.T) {
	// 3.25 worked hours across a 7-day period at $100/h.
	hoursByDay := map[int]float64{6: 1.0, 8: 2.0, 10: 0.25}
	var entries []*store.TimeEntry
	rates := make(map[time.Time]float64)
	for d := 6; d <= 12; d++ {
		day := date(2025, 1, d)
		rates[day] = 100
		entries = append(entries, &store.TimeEntry{
			ID:    uuid.New(),
			Date:  day,
			Hours: hoursByDay[d],
		})
	}

	plan := planLines(entries, rates)
	if len(plan.lines) != 7 {
		t.Fatalf("lines = %d, want one per day", len(plan.lines))
	}
	if plan.totalHours != 3.25 {
		t.Errorf("totalHours = %v, want 3.25", plan.totalHours)
	}
	if plan.totalAmount != 325.00 {
		t.Errorf("totalAmount = %v, want 325.00", plan.totalAmount)
	}

	zeroDays := 0
	for _, li := range plan.lines {
		if li.HourlyRate != 100 {
			t.Errorf("line rate = %v", li.HourlyRate)
		}
		if li.Amount != round2(li.Hours*li.HourlyRate) {
			t.Errorf("line amount = %v for %v hours", li.Amount, li.Hours)
		}
		if li.Hours == 0 {
			zeroDays++
		}
	}
	if zeroDays != 4 {
		t.Errorf("zero-hour lines = %d, want 4", zeroDays)
	}
	if len(plan.entryIDs) != 7 {
		t.Errorf("entryIDs = %d, want all entries locked", len(plan.entryIDs))
	}
}

func TestPlanLinesZeroesSuppressedDay(t *testing.T) {
	day := date(2025, 1, 6)
	next := date(2025, 1, 7)
	entries := []*store.TimeEntry{
		{ID: uuid.New(), Date: day, Hours: 3, IsSuppressed: true},
		{ID: uuid.New(), Date: next, Hours: 2},
	}
	rates := map[time.Time]float64{day: 100, next: 100}

	plan := planLines(entries, rates)
	if len(plan.lines) != 2 {
		t.Fatalf("lines = %d, want the suppressed day kept", len(plan.lines))
	}
	if plan.lines[0].Hours != 0 || plan.lines[0].Amount != 0 {
		t.Errorf("suppressed line = %v hours / %v, want 0 / 0",
			plan.lines[0].Hours, plan.lines[0].Amount)
	}
	if plan.totalHours != 2 || plan.totalAmount != 200 {
		t.Errorf("totals = %v hours / %v, want 2 / 200", plan.totalHours, plan.totalAmount)
	}
	if len(plan.entryIDs) != 2 {
		t.Errorf("entryIDs = %d, want both days locked", len(plan.entryIDs))
	}
}

func TestPlanLinesRoundsAmounts(t *testing.T) {
	day := date(2025, 1, 6)
	entries := []*store.TimeEntry{{ID: uuid.New(), Date: day, Hours: 1.75}}
	plan := planLines(entries, map[time.Time]float64{day: 95.55})

	// 1.75 * 95.55 = 167.2125, rounds to 167.21.
	if plan.lines[0].Amount != 167.21 {
		t.Errorf("Amount = %v, want 167.21", plan.lines[0].Amount)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{store.InvoiceDraft, store.InvoiceSent, true},
		{store.InvoiceSent, store.InvoicePaid, true},
		{store.InvoiceSent, store.InvoiceDraft, true},
		{store.InvoiceDraft, store.InvoicePaid, false},
		{store.InvoicePaid, store.InvoiceSent, false},
		{store.InvoicePaid, store.InvoiceDraft, false},
		{store.InvoiceDraft, store.InvoiceDraft, false},
	}
	for _, tc := range cases {
		if got := canTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestRound2(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{325.0, 325.00},
		{167.2125, 167.21},
		{0.005, 0.01},
		{10.994999, 10.99},
	}
	for _, tc := range cases {
		if got := round2(tc.in); got != tc.want {
			t.Errorf("round2(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
