package classify

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

var (
	projectP = uuid.MustParse("44444444-4444-4444-4444-444444444444")
	projectQ = uuid.MustParse("55555555-5555-5555-5555-555555555555")
)

func rule(t *testing.T, id string, query string, projectID uuid.UUID, weight float64, createdAt time.Time) Rule {
	t.Helper()
	pid := projectID
	return Rule{
		ID:        uuid.MustParse(id),
		Query:     mustParse(t, query),
		ProjectID: &pid,
		Weight:    weight,
		Source:    "rule",
		CreatedAt: createdAt,
	}
}

func TestEvaluateSingleFingerprintMatch(t *testing.T) {
	// One fingerprint match with no competition is fully confident.
	rules := FingerprintRules(Fingerprint{ProjectID: projectP, Domains: []string{"acme.com"}})
	ev := Event{Title: "Sync", Attendees: []string{"alice@acme.com"}}

	res, matches := Evaluate(ev, rules)
	if !res.Matched || res.ProjectID == nil || *res.ProjectID != projectP {
		t.Fatalf("result = %+v, want project match", res)
	}
	if res.Source != "fingerprint" {
		t.Errorf("Source = %q, want fingerprint", res.Source)
	}
	if res.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", res.Confidence)
	}
	if res.NeedsReview {
		t.Errorf("unambiguous match flagged for review")
	}
	if len(matches) != 1 {
		t.Errorf("matches = %d, want 1", len(matches))
	}
}

func TestEvaluateNoMatchStaysPending(t *testing.T) {
	rules := FingerprintRules(Fingerprint{ProjectID: projectP, Domains: []string{"acme.com"}})
	res, _ := Evaluate(Event{Title: "Dentist"}, rules)
	if res.Matched {
		t.Errorf("unmatched event classified: %+v", res)
	}
}

func TestEvaluateWeightSumWins(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rules := []Rule{
		rule(t, "aaaaaaaa-0000-0000-0000-000000000001", "title:sync", projectP, 1.0, base),
		rule(t, "aaaaaaaa-0000-0000-0000-000000000002", "domain:acme.com", projectP, 1.0, base),
		rule(t, "aaaaaaaa-0000-0000-0000-000000000003", "title:sync", projectQ, 1.5, base),
	}
	ev := Event{Title: "Sync", Attendees: []string{"a@acme.com"}}

	res, _ := Evaluate(ev, rules)
	// P sums to 2.0 against Q's 1.5.
	if *res.ProjectID != projectP {
		t.Errorf("winner = %s, want higher summed weight", res.ProjectID)
	}
	// 2.0 / (2.0 + 1.5) is ambiguous enough for review.
	if !res.NeedsReview {
		t.Errorf("contested classification not flagged for review (confidence %v)", res.Confidence)
	}
}

func TestEvaluateTieBreakHighestSingleWeight(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	// Equal sums (2.0 each); Q's best single rule weighs more.
	rules := []Rule{
		rule(t, "aaaaaaaa-0000-0000-0000-000000000001", "title:sync", projectP, 1.0, base),
		rule(t, "aaaaaaaa-0000-0000-0000-000000000002", "domain:acme.com", projectP, 1.0, base),
		rule(t, "aaaaaaaa-0000-0000-0000-000000000003", "title:sync", projectQ, 1.5, base),
		rule(t, "aaaaaaaa-0000-0000-0000-000000000004", "domain:acme.com", projectQ, 0.5, base),
	}
	ev := Event{Title: "Sync", Attendees: []string{"a@acme.com"}}

	res, _ := Evaluate(ev, rules)
	if *res.ProjectID != projectQ {
		t.Errorf("winner = %s, want tie broken by highest single weight", res.ProjectID)
	}
	if res.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want 0.5 on an exact tie", res.Confidence)
	}
}

func TestEvaluateTieBreakNewestRule(t *testing.T) {
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.AddDate(0, 0, 1)
	rules := []Rule{
		rule(t, "aaaaaaaa-0000-0000-0000-000000000001", "title:sync", projectP, 1.0, older),
		rule(t, "aaaaaaaa-0000-0000-0000-000000000002", "title:sync", projectQ, 1.0, newer),
	}
	res, _ := Evaluate(Event{Title: "Sync"}, rules)
	if *res.ProjectID != projectQ {
		t.Errorf("winner = %s, want the newer rule's project", res.ProjectID)
	}
}

func TestEvaluateTieBreakLexicographicProjectID(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rules := []Rule{
		rule(t, "aaaaaaaa-0000-0000-0000-000000000001", "title:sync", projectQ, 1.0, base),
		rule(t, "aaaaaaaa-0000-0000-0000-000000000002", "title:sync", projectP, 1.0, base),
	}
	res, _ := Evaluate(Event{Title: "Sync"}, rules)
	// projectP (44...) sorts before projectQ (55...).
	if *res.ProjectID != projectP {
		t.Errorf("winner = %s, want lexicographically first project id", res.ProjectID)
	}
}

func TestEvaluateSkipRuleWins(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	attended := false
	skipRule := Rule{
		ID:        uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000009"),
		Query:     mustParse(t, "response:declined"),
		Attended:  &attended,
		Weight:    1.0,
		Source:    "rule",
		CreatedAt: base,
	}
	rules := []Rule{
		rule(t, "aaaaaaaa-0000-0000-0000-000000000001", "title:sync", projectP, 5.0, base),
		skipRule,
	}
	ev := Event{Title: "Sync", ResponseStatus: "declined"}

	res, _ := Evaluate(ev, rules)
	if !res.Matched || !res.Skip {
		t.Fatalf("result = %+v, want skip", res)
	}
	if res.ProjectID != nil {
		t.Errorf("skipped event still assigned a project")
	}
	if res.RuleID == nil || *res.RuleID != skipRule.ID {
		t.Errorf("RuleID = %v, want the skip rule", res.RuleID)
	}
}

func TestEvaluateRuleIDAttribution(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	heavy := rule(t, "aaaaaaaa-0000-0000-0000-000000000002", "domain:acme.com", projectP, 2.0, base)
	rules := []Rule{
		rule(t, "aaaaaaaa-0000-0000-0000-000000000001", "title:sync", projectP, 1.0, base),
		heavy,
	}
	res, _ := Evaluate(Event{Title: "Sync", Attendees: []string{"a@acme.com"}}, rules)
	if res.RuleID == nil || *res.RuleID != heavy.ID {
		t.Errorf("RuleID = %v, want the heaviest contributing rule", res.RuleID)
	}
	if res.Source != "rule" {
		t.Errorf("Source = %q, want rule for a user-authored winner", res.Source)
	}
}

func TestFingerprintRulesSynthesis(t *testing.T) {
	rules := FingerprintRules(Fingerprint{
		ProjectID: projectP,
		Domains:   []string{"acme.com"},
		Emails:    []string{"ceo@acme.com"},
		Keywords:  []string{"acme weekly"},
	})
	if len(rules) != 3 {
		t.Fatalf("rules = %d, want 3", len(rules))
	}
	for _, r := range rules {
		if r.Source != "fingerprint" || r.Weight != 1.0 || *r.ProjectID != projectP {
			t.Errorf("synthesized rule = %+v", r)
		}
	}
	// The keyword phrase must survive quoting.
	ev := Event{Title: "Acme Weekly planning"}
	if res, _ := Evaluate(ev, rules); !res.Matched {
		t.Errorf("keyword phrase fingerprint did not match")
	}
}
