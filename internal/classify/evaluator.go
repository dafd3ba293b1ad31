package classify

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// epsilon keeps the confidence ratio finite when only one candidate
// matched.
const epsilon = 1e-9

// Confidence bands.
const (
	confidenceFloor  = 0.5 // below this the event stays pending
	reviewConfidence = 0.8 // below this a classified event needs review
)

// Event is the slice of a calendar event the evaluator reads. Pure
// value, no storage types.
type Event struct {
	Title          string
	Description    string
	Attendees      []string
	Organizer      string
	ResponseStatus string
	Transparency   string
	IsRecurring    bool
}

// Rule is one evaluable rule: a parsed query plus its target. Exactly
// one of ProjectID or Attended is set.
type Rule struct {
	ID        uuid.UUID
	Query     *Query
	ProjectID *uuid.UUID
	Attended  *bool
	Weight    float64
	Source    string // "rule" for user-authored, "fingerprint" for synthesized
	CreatedAt time.Time
}

// Fingerprint carries one project's classification hints.
type Fingerprint struct {
	ProjectID uuid.UUID
	Domains   []string
	Emails    []string
	Keywords  []string
}

// Match records one rule that matched during evaluation, for the
// explain surface.
type Match struct {
	RuleID    uuid.UUID
	Source    string
	Query     string
	ProjectID *uuid.UUID
	Attended  *bool
	Weight    float64
}

// Result is the evaluator's verdict for one event.
type Result struct {
	Matched     bool // false: no decisive match, event stays pending
	ProjectID   *uuid.UUID
	Skip        bool
	Source      string
	Confidence  float64
	RuleID      *uuid.UUID
	NeedsReview bool
}

// FingerprintRules synthesizes rules from a project's fingerprint
// hints. Weight 1.0, never persisted.
func FingerprintRules(fp Fingerprint) []Rule {
	var rules []Rule
	add := func(query string) {
		q, err := Parse(query)
		if err != nil {
			return
		}
		projectID := fp.ProjectID
		rules = append(rules, Rule{
			Query:     q,
			ProjectID: &projectID,
			Weight:    1.0,
			Source:    "fingerprint",
		})
	}
	for _, d := range fp.Domains {
		add("domain:\"" + d + "\"")
	}
	for _, e := range fp.Emails {
		add("email:\"" + e + "\"")
	}
	for _, kw := range fp.Keywords {
		add("title:\"" + kw + "\"")
	}
	return rules
}

// projectScore accumulates matches for one candidate project.
type projectScore struct {
	projectID uuid.UUID
	total     float64
	bestRule  Rule // highest weight, then newest
}

// Evaluate scores every rule against the event and picks the winning
// project. The second return lists every rule that matched, for
// explanations.
//
// Scoring: weights sum per project; ties break by highest single-rule
// weight, then newest rule, then lexicographic project id. A matching
// attended=false rule marks the event skipped regardless of project
// scores.
func Evaluate(ev Event, rules []Rule) (Result, []Match) {
	var matches []Match
	scores := make(map[uuid.UUID]*projectScore)
	skip := false
	var skipRule *Rule

	for i := range rules {
		r := rules[i]
		if !r.Query.Matches(ev) {
			continue
		}
		matches = append(matches, Match{
			RuleID:    r.ID,
			Source:    r.Source,
			Query:     r.Query.String(),
			ProjectID: r.ProjectID,
			Attended:  r.Attended,
			Weight:    r.Weight,
		})

		if r.Attended != nil {
			if !*r.Attended {
				skip = true
				if skipRule == nil {
					skipRule = &rules[i]
				}
			}
			continue
		}

		s, ok := scores[*r.ProjectID]
		if !ok {
			s = &projectScore{projectID: *r.ProjectID, bestRule: r}
			scores[*r.ProjectID] = s
		}
		s.total += r.Weight
		if betterRule(r, s.bestRule) {
			s.bestRule = r
		}
	}

	if skip {
		res := Result{Matched: true, Skip: true, Source: skipRule.Source, Confidence: 1.0}
		if skipRule.ID != uuid.Nil {
			id := skipRule.ID
			res.RuleID = &id
		}
		return res, matches
	}

	if len(scores) == 0 {
		return Result{}, matches
	}

	ranked := make([]*projectScore, 0, len(scores))
	for _, s := range scores {
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.total != b.total {
			return a.total > b.total
		}
		if a.bestRule.Weight != b.bestRule.Weight {
			return a.bestRule.Weight > b.bestRule.Weight
		}
		if !a.bestRule.CreatedAt.Equal(b.bestRule.CreatedAt) {
			return a.bestRule.CreatedAt.After(b.bestRule.CreatedAt)
		}
		return a.projectID.String() < b.projectID.String()
	})

	top := ranked[0]
	second := 0.0
	if len(ranked) > 1 {
		second = ranked[1].total
	}

	confidence := math.Min(1.0, top.total/(top.total+second+epsilon))
	if confidence < confidenceFloor {
		return Result{}, matches
	}

	res := Result{
		Matched:     true,
		ProjectID:   &top.projectID,
		Source:      top.bestRule.Source,
		Confidence:  confidence,
		NeedsReview: confidence < reviewConfidence,
	}
	if top.bestRule.ID != uuid.Nil {
		id := top.bestRule.ID
		res.RuleID = &id
	}
	return res, matches
}

// betterRule orders candidate rules for tie-breaking and rule_id
// attribution: higher weight first, then newer.
func betterRule(a, b Rule) bool {
	if a.Weight != b.Weight {
		return a.Weight > b.Weight
	}
	return a.CreatedAt.After(b.CreatedAt)
}
