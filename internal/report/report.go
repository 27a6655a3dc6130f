// Package report renders verdicts for humans: a streamed line per test as
// verdicts arrive, then a summary with per-failure detail once the stream
// ends. The reporter is the pipeline's terminal stage and the only component
// that writes test results to the console.
package report

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"quest/internal/asserter"
)

// Reporter consumes verdicts and renders them to a single writer.
type Reporter struct {
	w      io.Writer
	colors bool

	verdicts []asserter.Verdict
	failed   []asserter.Verdict
}

// New builds a reporter writing to w. colors toggles ANSI coloring; tests
// and non-TTY output disable it.
func New(w io.Writer, colors bool) *Reporter {
	return &Reporter{w: w, colors: colors}
}

// Run drains the verdict channel, streaming a line per test, then renders
// the summary. It returns the number of failed tests; zero means the run
// passed. Run returns only after in is closed, completing the cascade.
func (r *Reporter) Run(in <-chan asserter.Verdict) int {
	for v := range in {
		r.streamLine(&v)
		r.verdicts = append(r.verdicts, v)
		if !v.Passed() {
			r.failed = append(r.failed, v)
		}
	}

	r.summary()
	return len(r.failed)
}

// streamLine prints the test's verdict line plus one line per evaluated
// assertion as results arrive.
func (r *Reporter) streamLine(v *asserter.Verdict) {
	tag := r.paint(text.FgGreen, "PASS")
	if !v.Passed() {
		tag = r.paint(text.FgRed, "FAIL")
	}
	fmt.Fprintf(r.w, "%s %s %s %s\n", tag, v.Method, v.Path, v.Name)

	for _, res := range v.Results {
		if res.Pass {
			fmt.Fprintf(r.w, "  %s %s\n", r.paint(text.FgGreen, "✓"), res.Kind)
		} else {
			fmt.Fprintf(r.w, "  %s %s: expected %s, got %s\n",
				r.paint(text.FgRed, "✗"), res.Kind, res.Expected, res.Actual)
		}
	}
}

// summary prints totals and, when anything failed, a detail table of every
// failed assertion.
func (r *Reporter) summary() {
	passed := len(r.verdicts) - len(r.failed)
	var checks, checksFailed int
	for _, v := range r.verdicts {
		p, f := v.Counts()
		checks += p + f
		checksFailed += f
	}

	fmt.Fprintln(r.w)
	if len(r.failed) == 0 {
		fmt.Fprintf(r.w, "%s %d tests, %d checks\n",
			r.paint(text.FgGreen, "PASSED"), len(r.verdicts), checks)
		return
	}

	fmt.Fprintf(r.w, "%s %d of %d tests (%d of %d checks)\n",
		r.paint(text.FgRed, "FAILED"), len(r.failed), len(r.verdicts),
		checksFailed, checks)
	fmt.Fprintf(r.w, "%s %d of %d tests\n",
		r.paint(text.FgGreen, "passed"), passed, len(r.verdicts))
	fmt.Fprintln(r.w)

	r.failureTable()
}

func (r *Reporter) failureTable() {
	t := table.NewWriter()
	t.SetOutputMirror(r.w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"TEST", "CHECK", "EXPECTED", "ACTUAL"})

	for _, v := range r.failed {
		for _, res := range v.Results {
			if res.Pass {
				continue
			}
			t.AppendRow(table.Row{
				v.Name,
				res.Kind,
				truncateCell(res.Expected),
				truncateCell(res.Actual),
			})
		}
	}

	t.Render()
}

func (r *Reporter) paint(c text.Color, s string) string {
	if !r.colors {
		return s
	}
	return c.Sprint(s)
}

func truncateCell(s string) string {
	const max = 60
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
