// Package plan defines the validated test plan model and its YAML loader.
//
// A plan file describes how to reach the application under test, which
// database backs it, and an ordered list of test groups. Loading produces an
// immutable Plan plus a Config; everything downstream (runner, asserter)
// treats the Plan as read-only.
package plan

import (
	"net/http"
	"net/url"
)

// Plan is the validated, immutable set of test groups for one run.
// Group order and case order within a group are execution order.
type Plan struct {
	Groups []Group
}

// Group is a named, ordered list of test cases with an optional setup hook.
type Group struct {
	Name  string
	Hook  *Hook
	Cases []Case
}

// Hook is a setup action run once before the owning scope's first test:
// an optional schema reset followed by raw SQL statements, in order.
type Hook struct {
	Reset bool
	SQL   []string
}

// Case is a single HTTP request plus the assertions checked against its
// outcome. Body is nil when the request carries no JSON content; a nil body
// means no content at all, never an empty body.
type Case struct {
	Name       string
	Method     string
	URL        *url.URL
	Headers    http.Header
	Body       any
	Hook       *Hook
	Assertions []Assertion
}

// Assertion kind constants. The set is closed: every Assertion carries
// exactly one of these kinds and only the matching field is populated.
const (
	KindStatus  = "status"
	KindHeaders = "headers"
	KindSQL     = "sql"
	KindJSON    = "json"
)

// Assertion is one declared expectation on a test case.
// Kind selects which of the payload fields is meaningful.
type Assertion struct {
	Kind    string
	Status  int
	Headers http.Header
	SQL     *SQLExpect
	JSON    any
}

// SQLExpect is the payload of a KindSQL assertion. Expect holds one string
// per expected row; Single records whether the plan declared a scalar
// expectation (which enables the empty-string/zero-rows special case).
//
// Got is the only mutable part of a plan: the runner fills it after the HTTP
// call with the stringified first column of each returned row. A nil Got
// means the query never ran; an empty non-nil Got means zero rows.
type SQLExpect struct {
	Query  string
	Expect []string
	Single bool
	Got    []string
}

// Config carries the run environment parsed alongside the plan.
type Config struct {
	Setup Setup
	DB    DB
}

// Setup describes the application under test and how to reach it.
type Setup struct {
	BaseURL        string
	Command        string
	Args           []string
	Env            map[string]string
	ReadyWhen      string
	DatabaseURLEnv string
}

// DB describes the database backing the application under test.
// Engine selection is inferred from the URL scheme by the gateway.
type DB struct {
	URL           string
	MigrationsDir string
	InitSQL       string
}

// CaseCount returns the total number of test cases across all groups.
func (p *Plan) CaseCount() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g.Cases)
	}
	return n
}
