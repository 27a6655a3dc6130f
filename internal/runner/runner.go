// Package runner executes a plan: hooks and HTTP calls, strictly in plan
// order, one at a time. It observes and records; it never judges. Every
// outcome flows downstream to the asserter over a channel.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"quest/internal/gateway"
	"quest/internal/plan"
)

// defaultTimeout bounds each HTTP call so one hung endpoint cannot stall
// the whole run.
const defaultTimeout = 30 * time.Second

// Response is the captured HTTP exchange result for one test case.
// JSON holds the parsed body and JSONOK whether parsing succeeded; an
// unparseable body is not an error, the asserter treats it as JSON null.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
	JSON    any
	JSONOK  bool
}

// Outcome is everything observed while executing one test case. Exactly one
// of Response and Err is set: a transport failure (connection refused,
// timeout, DNS) yields Err, any HTTP response at all yields Response.
// Path is the request path only; the base URL is run configuration, not
// part of the result stream.
//
// Assertions aliases the case's assertion list; by the time the outcome is
// sent, every SQL assertion's Got has been filled.
type Outcome struct {
	Name       string
	Method     string
	Path       string
	Response   *Response
	Err        string
	Assertions []plan.Assertion
}

// Failed reports whether the case never produced an HTTP response.
func (o *Outcome) Failed() bool { return o.Response == nil }

// Runner drives plan execution against one gateway and one HTTP client.
type Runner struct {
	gw     *gateway.Gateway
	client *http.Client
	log    *slog.Logger
}

// New builds a runner. A nil client gets a default with a bounded timeout.
func New(gw *gateway.Gateway, client *http.Client) *Runner {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Runner{
		gw:     gw,
		client: client,
		log:    slog.Default().With("component", "runner"),
	}
}

// Run executes every group and case in plan order and sends one Outcome per
// case on out. The channel is closed when Run returns, whatever the reason;
// that close cascades through the pipeline.
//
// Hook failures are fatal: a broken fixture invalidates every later test, so
// the run stops instead of reporting misleading verdicts. Transport failures
// are not fatal; they are recorded on the outcome and execution continues.
func (r *Runner) Run(ctx context.Context, p *plan.Plan, out chan<- Outcome) error {
	defer close(out)

	for _, group := range p.Groups {
		r.log.Debug("group start", "group", group.Name)

		if err := r.runHook(ctx, group.Hook); err != nil {
			return fmt.Errorf("group %q: before hook: %w", group.Name, err)
		}

		for i := range group.Cases {
			c := &group.Cases[i]

			if err := r.runHook(ctx, c.Hook); err != nil {
				return fmt.Errorf("test %q: before hook: %w", c.Name, err)
			}

			outcome := r.runCase(ctx, c)

			select {
			case out <- outcome:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return nil
}

// runHook performs a hook's reset and SQL statements in order. A nil hook
// is a no-op.
func (r *Runner) runHook(ctx context.Context, h *plan.Hook) error {
	if h == nil {
		return nil
	}

	if h.Reset {
		if err := r.gw.ResetSchema(ctx); err != nil {
			return err
		}
	}

	for _, stmt := range h.SQL {
		if err := r.gw.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// runCase sends the case's HTTP request, captures the response, then fills
// the Got side of every SQL assertion. SQL queries run strictly after the
// HTTP attempt, whether or not it produced a response, so they observe the
// state the call left behind.
func (r *Runner) runCase(ctx context.Context, c *plan.Case) Outcome {
	outcome := Outcome{
		Name:       c.Name,
		Method:     c.Method,
		Path:       c.URL.Path,
		Assertions: c.Assertions,
	}

	resp, err := r.send(ctx, c)
	if err != nil {
		r.log.Debug("request failed", "test", c.Name, "error", err)
		outcome.Err = err.Error()
	} else {
		outcome.Response = resp
	}

	r.fillSQL(ctx, c.Assertions)
	return outcome
}

func (r *Runner) send(ctx context.Context, c *plan.Case) (*Response, error) {
	var body io.Reader
	if c.Body != nil {
		data, err := json.Marshal(c.Body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, c.Method, c.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for k, vs := range c.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	resp := &Response{
		Status:  httpResp.StatusCode,
		Headers: httpResp.Header,
		Body:    raw,
	}

	var parsed any
	if json.Unmarshal(raw, &parsed) == nil {
		resp.JSON = parsed
		resp.JSONOK = true
	}

	return resp, nil
}

// fillSQL runs each SQL assertion's query and records the stringified first
// column of every returned row. A query error becomes a single synthetic row
// carrying the error text, so the asserter can report it as a mismatch
// instead of aborting the run. Got is always non-nil afterward: zero rows is
// an empty slice, distinct from "never ran".
func (r *Runner) fillSQL(ctx context.Context, assertions []plan.Assertion) {
	for i := range assertions {
		a := &assertions[i]
		if a.Kind != plan.KindSQL {
			continue
		}

		rows, err := r.gw.Execute(ctx, a.SQL.Query)
		if err != nil {
			a.SQL.Got = []string{fmt.Sprintf("SQL error: %v", err)}
			continue
		}

		got := make([]string, 0, len(rows))
		for _, row := range rows {
			got = append(got, row.First())
		}
		a.SQL.Got = got
	}
}
