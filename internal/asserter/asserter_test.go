package asserter

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quest/internal/plan"
	"quest/internal/runner"
)

func respond(status int) *runner.Response {
	return &runner.Response{Status: status, Headers: http.Header{}}
}

func TestTransportFailureOverridesEverything(t *testing.T) {
	o := &runner.Outcome{
		Name: "down",
		Err:  "connection refused",
		Assertions: []plan.Assertion{
			{Kind: plan.KindStatus, Status: 200},
			{Kind: plan.KindJSON, JSON: map[string]any{"ok": true}},
		},
	}

	v := Evaluate(o)
	require.Len(t, v.Results, 1, "declared assertions collapse to one transport failure")
	r := v.Results[0]
	assert.Equal(t, KindTransport, r.Kind)
	assert.False(t, r.Pass)
	assert.Contains(t, r.Actual, "connection refused")
	assert.False(t, v.Passed())
}

func TestAssertStatus(t *testing.T) {
	tests := []struct {
		name     string
		expected int
		actual   int
		pass     bool
	}{
		{"match", 200, 200, true},
		{"mismatch", 200, 404, false},
		{"declared code below range", 42, 200, false},
		{"declared code above range", 9000, 200, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := assertStatus(tt.expected, tt.actual)
			assert.Equal(t, tt.pass, r.Pass)
		})
	}
}

func TestAssertHeadersSubset(t *testing.T) {
	actual := http.Header{}
	actual.Set("Content-Type", "application/json")
	actual.Set("X-Request-Id", "abc123")
	actual.Add("Vary", "Accept")
	actual.Add("Vary", "Origin")

	t.Run("subset passes with extra response headers", func(t *testing.T) {
		expected := http.Header{}
		expected.Set("Content-Type", "application/json")
		r := assertHeaders(expected, actual)
		assert.True(t, r.Pass)
	})

	t.Run("multi-value header matches any value", func(t *testing.T) {
		expected := http.Header{}
		expected.Set("Vary", "Origin")
		r := assertHeaders(expected, actual)
		assert.True(t, r.Pass)
	})

	t.Run("missing header fails", func(t *testing.T) {
		expected := http.Header{}
		expected.Set("Etag", `"v1"`)
		r := assertHeaders(expected, actual)
		assert.False(t, r.Pass)
		assert.Contains(t, r.Actual, "Etag")
	})

	t.Run("wrong value fails", func(t *testing.T) {
		expected := http.Header{}
		expected.Set("Content-Type", "text/html")
		r := assertHeaders(expected, actual)
		assert.False(t, r.Pass)
	})
}

func TestAssertSQLSingle(t *testing.T) {
	tests := []struct {
		name   string
		expect string
		got    []string
		pass   bool
	}{
		{"one matching row", "42", []string{"42"}, true},
		{"one differing row", "42", []string{"41"}, false},
		{"empty expectation with zero rows", "", []string{}, true},
		{"empty expectation with one empty row", "", []string{""}, true},
		{"empty expectation with data", "", []string{"x"}, false},
		{"value but zero rows", "42", []string{}, false},
		{"value but many rows", "42", []string{"42", "42"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := assertSQL(&plan.SQLExpect{
				Query:  "SELECT x",
				Expect: []string{tt.expect},
				Single: true,
				Got:    tt.got,
			})
			assert.Equal(t, tt.pass, r.Pass)
		})
	}
}

func TestAssertSQLMulti(t *testing.T) {
	tests := []struct {
		name   string
		expect []string
		got    []string
		pass   bool
	}{
		{"equal ordered rows", []string{"a", "b"}, []string{"a", "b"}, true},
		{"order matters", []string{"a", "b"}, []string{"b", "a"}, false},
		{"length matters", []string{"a"}, []string{"a", "a"}, false},
		{"empty list with zero rows", []string{}, []string{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := assertSQL(&plan.SQLExpect{
				Query:  "SELECT x",
				Expect: tt.expect,
				Got:    tt.got,
			})
			assert.Equal(t, tt.pass, r.Pass)
		})
	}
}

func TestAssertSQLNeverRan(t *testing.T) {
	r := assertSQL(&plan.SQLExpect{Query: "SELECT x", Expect: []string{"1"}, Single: true})
	assert.False(t, r.Pass)
	assert.Contains(t, r.Actual, "never executed")
}

func TestAssertJSON(t *testing.T) {
	t.Run("deep equality passes", func(t *testing.T) {
		resp := respond(200)
		resp.JSON = map[string]any{"users": []any{map[string]any{"id": float64(1)}}}
		resp.JSONOK = true

		r := assertJSON(map[string]any{"users": []any{map[string]any{"id": float64(1)}}}, resp)
		assert.True(t, r.Pass)
	})

	t.Run("structural mismatch fails", func(t *testing.T) {
		resp := respond(200)
		resp.JSON = map[string]any{"id": float64(2)}
		resp.JSONOK = true

		r := assertJSON(map[string]any{"id": float64(1)}, resp)
		assert.False(t, r.Pass)
	})

	t.Run("unparseable body compares as null", func(t *testing.T) {
		resp := respond(200)
		resp.Body = []byte("<html>oops</html>")

		r := assertJSON(map[string]any{"ok": true}, resp)
		assert.False(t, r.Pass)
		assert.Contains(t, r.Actual, "not valid JSON")

		// Expecting null matches an unparseable body.
		r = assertJSON(nil, resp)
		assert.True(t, r.Pass)
	})
}

func TestEvaluateOrderAndCounts(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")

	o := &runner.Outcome{
		Name:   "mixed",
		Method: http.MethodGet,
		Path:   "/users",
		Response: &runner.Response{
			Status:  200,
			Headers: h,
			JSON:    map[string]any{"ok": true},
			JSONOK:  true,
		},
		Assertions: []plan.Assertion{
			{Kind: plan.KindStatus, Status: 200},
			{Kind: plan.KindHeaders, Headers: http.Header{"Content-Type": {"application/json"}}},
			{Kind: plan.KindSQL, SQL: &plan.SQLExpect{Query: "q", Expect: []string{"1"}, Single: true, Got: []string{"2"}}},
			{Kind: plan.KindJSON, JSON: map[string]any{"ok": true}},
		},
	}

	v := Evaluate(o)
	require.Len(t, v.Results, 4)
	assert.Equal(t, plan.KindStatus, v.Results[0].Kind)
	assert.Equal(t, plan.KindHeaders, v.Results[1].Kind)
	assert.Equal(t, plan.KindSQL, v.Results[2].Kind)
	assert.Equal(t, plan.KindJSON, v.Results[3].Kind)

	passed, failed := v.Counts()
	assert.Equal(t, 3, passed)
	assert.Equal(t, 1, failed)
	assert.False(t, v.Passed())
}

func TestVerdictWithNoAssertionsPasses(t *testing.T) {
	v := Evaluate(&runner.Outcome{Name: "bare", Response: respond(200)})
	assert.Empty(t, v.Results)
	assert.True(t, v.Passed())
}

func TestRunPreservesOrderAndCloses(t *testing.T) {
	in := make(chan runner.Outcome, 3)
	out := make(chan Verdict, 3)

	in <- runner.Outcome{Name: "first", Response: respond(200)}
	in <- runner.Outcome{Name: "second", Err: "boom"}
	in <- runner.Outcome{Name: "third", Response: respond(500)}
	close(in)

	require.NoError(t, Run(context.Background(), in, out))

	var names []string
	for v := range out {
		names = append(names, v.Name)
	}
	assert.Equal(t, []string{"first", "second", "third"}, names)
}
