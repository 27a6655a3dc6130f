// Package asserter turns observed outcomes into verdicts. It is a pure
// stage: no I/O, no clock, no randomness. The same outcome always produces
// the same verdict, and outcomes pass through strictly in arrival order.
package asserter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"quest/internal/plan"
	"quest/internal/runner"
)

// KindTransport marks the synthetic result emitted when a test never got an
// HTTP response. It exists only in verdicts, never in plans.
const KindTransport = "transport"

// Result is one evaluated assertion: what was expected, what was observed,
// and whether they agreed. Expected and Actual are pre-rendered for display.
type Result struct {
	Kind     string
	Pass     bool
	Expected string
	Actual   string
}

// Verdict is the full judgment for one test case, one Result per declared
// assertion in declaration order. A transport failure collapses the verdict
// to exactly one failed transport Result regardless of what was declared.
type Verdict struct {
	Name    string
	Method  string
	Path    string
	Results []Result
}

// Passed reports whether every result passed. A verdict with no results
// passes; a case may declare no assertions.
func (v *Verdict) Passed() bool {
	for _, r := range v.Results {
		if !r.Pass {
			return false
		}
	}
	return true
}

// Counts returns the number of passed and failed results.
func (v *Verdict) Counts() (passed, failed int) {
	for _, r := range v.Results {
		if r.Pass {
			passed++
		} else {
			failed++
		}
	}
	return
}

// Run evaluates outcomes from in and sends verdicts on out, first-in
// first-out. It returns when in is closed and drained; out is closed on
// return so the cascade reaches the reporter.
func Run(ctx context.Context, in <-chan runner.Outcome, out chan<- Verdict) error {
	defer close(out)

	for o := range in {
		select {
		case out <- Evaluate(&o):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Evaluate judges a single outcome.
func Evaluate(o *runner.Outcome) Verdict {
	v := Verdict{Name: o.Name, Method: o.Method, Path: o.Path}

	if o.Response == nil {
		v.Results = []Result{{
			Kind:     KindTransport,
			Pass:     false,
			Expected: "an HTTP response",
			Actual:   fmt.Sprintf("request failed: %s", o.Err),
		}}
		return v
	}

	for _, a := range o.Assertions {
		switch a.Kind {
		case plan.KindStatus:
			v.Results = append(v.Results, assertStatus(a.Status, o.Response.Status))
		case plan.KindHeaders:
			v.Results = append(v.Results, assertHeaders(a.Headers, o.Response.Headers))
		case plan.KindSQL:
			v.Results = append(v.Results, assertSQL(a.SQL))
		case plan.KindJSON:
			v.Results = append(v.Results, assertJSON(a.JSON, o.Response))
		}
	}

	return v
}

// assertStatus compares status codes. A declared code outside the valid
// HTTP range can never match and fails outright.
func assertStatus(expected, actual int) Result {
	r := Result{
		Kind:     plan.KindStatus,
		Expected: strconv.Itoa(expected),
		Actual:   strconv.Itoa(actual),
	}
	if expected < 100 || expected > 599 {
		r.Expected = fmt.Sprintf("%d (not a valid HTTP status)", expected)
		return r
	}
	r.Pass = expected == actual
	return r
}

// assertHeaders checks subset semantics: every expected header value must be
// present in the response, extra response headers never matter.
func assertHeaders(expected, actual http.Header) Result {
	var missing []string
	for k, vs := range expected {
		for _, want := range vs {
			if !headerHas(actual, k, want) {
				missing = append(missing, fmt.Sprintf("%s: %s", k, want))
			}
		}
	}
	sort.Strings(missing)

	r := Result{
		Kind:     plan.KindHeaders,
		Expected: renderHeaders(expected),
		Pass:     len(missing) == 0,
	}
	if r.Pass {
		r.Actual = r.Expected
	} else {
		r.Actual = "missing " + strings.Join(missing, "; ")
	}
	return r
}

func headerHas(h http.Header, key, want string) bool {
	for _, v := range h.Values(key) {
		if v == want {
			return true
		}
	}
	return false
}

func renderHeaders(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range h[k] {
			parts = append(parts, fmt.Sprintf("%s: %s", k, v))
		}
	}
	return strings.Join(parts, "; ")
}

// assertSQL compares the query's observed rows against the expectation.
//
// A scalar expectation of "" passes on zero rows as well as on one empty
// row, so plans can assert absence without caring which form the engine
// returns. Any other scalar requires exactly one matching row. A list
// expectation is ordered and length-sensitive.
func assertSQL(sq *plan.SQLExpect) Result {
	r := Result{Kind: plan.KindSQL}

	if sq.Single {
		r.Expected = sq.Expect[0]
	} else {
		r.Expected = "[" + strings.Join(sq.Expect, ", ") + "]"
	}

	if sq.Got == nil {
		r.Actual = "query was never executed"
		return r
	}

	if sq.Single {
		if sq.Expect[0] == "" && len(sq.Got) == 0 {
			r.Pass = true
			r.Actual = "no rows"
			return r
		}
		if len(sq.Got) == 1 {
			r.Actual = sq.Got[0]
			r.Pass = sq.Got[0] == sq.Expect[0]
		} else {
			r.Actual = fmt.Sprintf("%d rows: [%s]", len(sq.Got), strings.Join(sq.Got, ", "))
		}
		return r
	}

	r.Actual = "[" + strings.Join(sq.Got, ", ") + "]"
	if len(sq.Got) != len(sq.Expect) {
		return r
	}
	for i := range sq.Expect {
		if sq.Got[i] != sq.Expect[i] {
			return r
		}
	}
	r.Pass = true
	return r
}

// assertJSON structurally compares the expected document against the parsed
// response body. A body that failed to parse as JSON compares as JSON null,
// so asserting on a non-JSON response fails with a readable actual value
// instead of erroring.
func assertJSON(expected any, resp *runner.Response) Result {
	var actual any
	if resp.JSONOK {
		actual = resp.JSON
	}

	r := Result{
		Kind:     plan.KindJSON,
		Expected: renderJSON(expected),
		Pass:     reflect.DeepEqual(expected, actual),
	}
	if resp.JSONOK {
		r.Actual = renderJSON(actual)
	} else {
		r.Actual = fmt.Sprintf("not valid JSON: %q", truncate(string(resp.Body), 120))
	}
	return r
}

func renderJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
