// Package classify maps calendar events to projects through a small
// query language, fingerprint-derived rules, and weighted scoring. The
// evaluator is pure; persistence and recomputation live in Service.
package classify

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/quantumlife/timeledger/pkg/errs"
)

// Fields a clause may test. Unknown fields are rejected at parse time,
// which is save time for rules.
const (
	FieldTitle         = "title"
	FieldDescription   = "description"
	FieldDomain        = "domain"
	FieldEmail         = "email"
	FieldOrganizer     = "organizer"
	FieldAttendeeCount = "attendee_count"
	FieldResponse      = "response"
	FieldRecurring     = "recurring"
	FieldTransparency  = "transparency"
)

var knownFields = map[string]bool{
	FieldTitle:         true,
	FieldDescription:   true,
	FieldDomain:        true,
	FieldEmail:         true,
	FieldOrganizer:     true,
	FieldAttendeeCount: true,
	FieldResponse:      true,
	FieldRecurring:     true,
	FieldTransparency:  true,
}

// Clause is one field test. Text values are stored normalized (NFC,
// lower case) so matching is a plain substring or equality check.
type Clause struct {
	Field   string
	Value   string
	Negated bool

	// attendee_count only
	Op     byte // '<', '>', '='
	Number int

	// recurring only
	Bool bool
}

// Query is a parsed rule expression: clauses joined by implicit AND.
type Query struct {
	Clauses []Clause
	raw     string
}

// String returns the original query text.
func (q *Query) String() string { return q.raw }

// Parse turns a query string into a typed clause list. Clauses are
// space separated `field:value` pairs; values may be double-quoted to
// include spaces; a leading `-` negates.
func Parse(raw string) (*Query, error) {
	tokens, err := tokenize(raw)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, errs.Validation("empty_query", "query has no clauses")
	}

	q := &Query{raw: raw, Clauses: make([]Clause, 0, len(tokens))}
	for _, tok := range tokens {
		clause, err := parseClause(tok)
		if err != nil {
			return nil, err
		}
		q.Clauses = append(q.Clauses, clause)
	}
	return q, nil
}

// Matches reports whether every clause holds for the event.
func (q *Query) Matches(ev Event) bool {
	for _, c := range q.Clauses {
		if c.matches(ev) == c.Negated {
			return false
		}
	}
	return true
}

func parseClause(tok string) (Clause, error) {
	c := Clause{}
	if strings.HasPrefix(tok, "-") {
		c.Negated = true
		tok = tok[1:]
	}

	field, value, ok := strings.Cut(tok, ":")
	if !ok {
		return Clause{}, errs.Validation("invalid_clause", "clause %q is not field:value", tok)
	}
	c.Field = strings.ToLower(field)
	if !knownFields[c.Field] {
		return Clause{}, errs.Validation("unknown_field", "unknown field %q", field)
	}
	if value == "" {
		return Clause{}, errs.Validation("invalid_clause", "field %q has no value", field)
	}

	switch c.Field {
	case FieldAttendeeCount:
		op := byte('=')
		num := value
		if value[0] == '<' || value[0] == '>' || value[0] == '=' {
			op = value[0]
			num = value[1:]
		}
		n, err := strconv.Atoi(num)
		if err != nil || n < 0 {
			return Clause{}, errs.Validation("invalid_clause", "attendee_count wants an integer, got %q", value)
		}
		c.Op = op
		c.Number = n
	case FieldRecurring:
		switch strings.ToLower(value) {
		case "true", "yes":
			c.Bool = true
		case "false", "no":
			c.Bool = false
		default:
			return Clause{}, errs.Validation("invalid_clause", "recurring wants true or false, got %q", value)
		}
	default:
		c.Value = normalize(value)
	}
	return c, nil
}

func (c Clause) matches(ev Event) bool {
	switch c.Field {
	case FieldTitle:
		return strings.Contains(normalize(ev.Title), c.Value)
	case FieldDescription:
		return strings.Contains(normalize(ev.Description), c.Value)
	case FieldDomain:
		for _, email := range ev.Attendees {
			if _, domain, ok := strings.Cut(normalize(email), "@"); ok && domain == c.Value {
				return true
			}
		}
		return false
	case FieldEmail:
		for _, email := range ev.Attendees {
			if normalize(email) == c.Value {
				return true
			}
		}
		return false
	case FieldOrganizer:
		return ev.Organizer != "" && normalize(ev.Organizer) == c.Value
	case FieldAttendeeCount:
		n := len(ev.Attendees)
		switch c.Op {
		case '<':
			return n < c.Number
		case '>':
			return n > c.Number
		default:
			return n == c.Number
		}
	case FieldResponse:
		return normalize(ev.ResponseStatus) == c.Value
	case FieldRecurring:
		return ev.IsRecurring == c.Bool
	case FieldTransparency:
		return normalize(ev.Transparency) == c.Value
	}
	return false
}

// tokenize splits on spaces, keeping double-quoted values intact.
// `title:"weekly sync" -domain:acme.com` yields two tokens.
func tokenize(raw string) ([]string, error) {
	var tokens []string
	var buf strings.Builder
	inQuote := false

	for _, r := range raw {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			if buf.Len() > 0 {
				tokens = append(tokens, buf.String())
				buf.Reset()
			}
		default:
			buf.WriteRune(r)
		}
	}
	if inQuote {
		return nil, errs.Validation("invalid_clause", "unterminated quote in query")
	}
	if buf.Len() > 0 {
		tokens = append(tokens, buf.String())
	}
	return tokens, nil
}

// normalize prepares text for comparison: NFC then lower case.
func normalize(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}
