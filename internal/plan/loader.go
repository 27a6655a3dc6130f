package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Error messages for URL validation. The base URL and case URLs must compose
// without producing a double or missing slash.
const (
	errBaseURLTrailingSlash = "base_url must not end with a /; each test url starts with one"
	errCaseURLMissingSlash  = "url must begin with a leading /"
)

// planFile mirrors the YAML document. Loading is strict: unknown fields are
// rejected so typos surface as load errors instead of silently-ignored keys.
type planFile struct {
	Setup  setupFile   `yaml:"setup"`
	DB     dbFile      `yaml:"db"`
	Global globalFile  `yaml:"global,omitempty"`
	Groups []groupFile `yaml:"groups"`
}

type setupFile struct {
	BaseURL        string            `yaml:"base_url"`
	Command        string            `yaml:"command,omitempty"`
	Args           []string          `yaml:"args,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	ReadyWhen      string            `yaml:"ready_when,omitempty"`
	DatabaseURLEnv string            `yaml:"database_url_env,omitempty"`
}

type dbFile struct {
	URL           string `yaml:"url"`
	MigrationsDir string `yaml:"migrations_dir,omitempty"`
	InitSQL       string `yaml:"init_sql,omitempty"`
}

type globalFile struct {
	Headers map[string]string `yaml:"headers,omitempty"`
}

type groupFile struct {
	Name   string     `yaml:"name"`
	Before *hookFile  `yaml:"before,omitempty"`
	Tests  []caseFile `yaml:"tests"`
}

type hookFile struct {
	Reset  bool     `yaml:"reset,omitempty"`
	RunSQL []string `yaml:"run_sql,omitempty"`
}

type caseFile struct {
	Name          string            `yaml:"name"`
	Method        string            `yaml:"method"`
	URL           string            `yaml:"url"`
	Query         string            `yaml:"query,omitempty"`
	Headers       map[string]string `yaml:"headers,omitempty"`
	Body          any               `yaml:"body,omitempty"`
	Before        *hookFile         `yaml:"before,omitempty"`
	AssertStatus  *int              `yaml:"assert_status,omitempty"`
	AssertHeaders map[string]string `yaml:"assert_headers,omitempty"`
	AssertSQL     sqlAssertList     `yaml:"assert_sql,omitempty"`
	// Kept as a raw node so `assert_json: null` (expect an empty body) stays
	// distinguishable from the key being absent (no body assertion).
	AssertJSON *yaml.Node `yaml:"assert_json,omitempty"`
}

type sqlAssertFile struct {
	Query  string        `yaml:"query"`
	Expect stringOrMulti `yaml:"expect"`
}

// stringOrMulti accepts either a scalar string or a sequence of strings,
// remembering which form the plan used.
type stringOrMulti struct {
	Values []string
	Single bool
}

// UnmarshalYAML implements yaml.Unmarshaler for the one-or-many expect field.
func (s *stringOrMulti) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v string
		if err := node.Decode(&v); err != nil {
			return err
		}
		s.Values = []string{v}
		s.Single = true
		return nil
	case yaml.SequenceNode:
		var v []string
		if err := node.Decode(&v); err != nil {
			return err
		}
		s.Values = v
		s.Single = false
		return nil
	default:
		return fmt.Errorf("expect must be a string or a list of strings")
	}
}

// sqlAssertList accepts either a single assertion mapping or a sequence of
// them, so plans can write one SQL assertion without list syntax.
type sqlAssertList []sqlAssertFile

// UnmarshalYAML implements yaml.Unmarshaler for the one-or-many assert_sql field.
func (l *sqlAssertList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		var one sqlAssertFile
		if err := node.Decode(&one); err != nil {
			return err
		}
		*l = sqlAssertList{one}
		return nil
	case yaml.SequenceNode:
		var many []sqlAssertFile
		if err := node.Decode(&many); err != nil {
			return err
		}
		*l = sqlAssertList(many)
		return nil
	default:
		return fmt.Errorf("assert_sql must be a mapping or a list of mappings")
	}
}

// Load reads, parses, and validates a plan file.
// Malformed methods, URLs, and assertion declarations are rejected here so
// the execution pipeline only ever sees a well-formed plan.
func Load(path string) (*Plan, *Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read plan file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates plan YAML from memory.
func Parse(data []byte) (*Plan, *Config, error) {
	var pf planFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // reject unknown fields (catches typos)
	if err := dec.Decode(&pf); err != nil {
		return nil, nil, fmt.Errorf("parse plan YAML: %w", err)
	}

	cfg, err := buildConfig(&pf)
	if err != nil {
		return nil, nil, err
	}

	p, err := buildPlan(&pf)
	if err != nil {
		return nil, nil, err
	}

	return p, cfg, nil
}

func buildConfig(pf *planFile) (*Config, error) {
	if pf.DB.URL == "" {
		return nil, fmt.Errorf("db.url is required")
	}
	if pf.Setup.BaseURL == "" {
		return nil, fmt.Errorf("setup.base_url is required")
	}
	if strings.HasSuffix(pf.Setup.BaseURL, "/") {
		return nil, fmt.Errorf("setup.base_url: %s", errBaseURLTrailingSlash)
	}

	dbEnv := pf.Setup.DatabaseURLEnv
	if dbEnv == "" {
		dbEnv = "DATABASE_URL"
	}

	return &Config{
		Setup: Setup{
			BaseURL:        pf.Setup.BaseURL,
			Command:        pf.Setup.Command,
			Args:           pf.Setup.Args,
			Env:            pf.Setup.Env,
			ReadyWhen:      pf.Setup.ReadyWhen,
			DatabaseURLEnv: dbEnv,
		},
		DB: DB{
			URL:           pf.DB.URL,
			MigrationsDir: pf.DB.MigrationsDir,
			InitSQL:       pf.DB.InitSQL,
		},
	}, nil
}

func buildPlan(pf *planFile) (*Plan, error) {
	if len(pf.Groups) == 0 {
		return nil, fmt.Errorf("groups list is required and must be non-empty")
	}

	globalHeaders := toHeader(pf.Global.Headers)

	groups := make([]Group, 0, len(pf.Groups))
	for gi, gf := range pf.Groups {
		if gf.Name == "" {
			return nil, fmt.Errorf("groups[%d]: name is required", gi)
		}
		if len(gf.Tests) == 0 {
			return nil, fmt.Errorf("group %q: tests list is required and must be non-empty", gf.Name)
		}

		cases := make([]Case, 0, len(gf.Tests))
		for _, cf := range gf.Tests {
			c, err := buildCase(&cf, pf.Setup.BaseURL, globalHeaders)
			if err != nil {
				return nil, fmt.Errorf("group %q: %w", gf.Name, err)
			}
			cases = append(cases, c)
		}

		groups = append(groups, Group{
			Name:  gf.Name,
			Hook:  toHook(gf.Before),
			Cases: cases,
		})
	}

	return &Plan{Groups: groups}, nil
}

func buildCase(cf *caseFile, baseURL string, global http.Header) (Case, error) {
	if cf.Name == "" {
		return Case{}, fmt.Errorf("test name is required")
	}

	method, err := parseMethod(cf.Method)
	if err != nil {
		return Case{}, fmt.Errorf("test %q: %w", cf.Name, err)
	}

	u, err := parseCaseURL(baseURL, cf.URL, cf.Query)
	if err != nil {
		return Case{}, fmt.Errorf("test %q: %w", cf.Name, err)
	}

	// Global headers first, then per-test headers on top: a header present
	// in both takes the test's value.
	headers := http.Header{}
	for k, vs := range global {
		for _, v := range vs {
			headers.Set(k, v)
		}
	}
	for k, v := range cf.Headers {
		headers.Set(k, v)
	}

	body, err := normalizeJSON(cf.Body)
	if err != nil {
		return Case{}, fmt.Errorf("test %q: body: %w", cf.Name, err)
	}

	assertions, err := buildAssertions(cf)
	if err != nil {
		return Case{}, fmt.Errorf("test %q: %w", cf.Name, err)
	}

	return Case{
		Name:       cf.Name,
		Method:     method,
		URL:        u,
		Headers:    headers,
		Body:       body,
		Hook:       toHook(cf.Before),
		Assertions: assertions,
	}, nil
}

// buildAssertions converts the declared assert_* fields into the ordered
// assertion list: status, headers, sql, json. A case may declare any mix,
// including none at all.
func buildAssertions(cf *caseFile) ([]Assertion, error) {
	var assertions []Assertion

	if cf.AssertStatus != nil {
		assertions = append(assertions, Assertion{Kind: KindStatus, Status: *cf.AssertStatus})
	}

	if len(cf.AssertHeaders) > 0 {
		assertions = append(assertions, Assertion{Kind: KindHeaders, Headers: toHeader(cf.AssertHeaders)})
	}

	for i, sa := range cf.AssertSQL {
		if sa.Query == "" {
			return nil, fmt.Errorf("assert_sql[%d]: query is required", i)
		}
		assertions = append(assertions, Assertion{Kind: KindSQL, SQL: &SQLExpect{
			Query:  sa.Query,
			Expect: sa.Expect.Values,
			Single: sa.Expect.Single,
		}})
	}

	if cf.AssertJSON != nil {
		var raw any
		if err := cf.AssertJSON.Decode(&raw); err != nil {
			return nil, fmt.Errorf("assert_json: %w", err)
		}
		expected, err := normalizeJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("assert_json: %w", err)
		}
		assertions = append(assertions, Assertion{Kind: KindJSON, JSON: expected})
	}

	return assertions, nil
}

func toHook(hf *hookFile) *Hook {
	if hf == nil {
		return nil
	}
	return &Hook{Reset: hf.Reset, SQL: hf.RunSQL}
}

func toHeader(m map[string]string) http.Header {
	h := http.Header{}
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

// parseMethod validates the declared HTTP method, case-insensitively.
func parseMethod(method string) (string, error) {
	m := strings.ToUpper(method)
	switch m {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
		http.MethodPatch, http.MethodHead, http.MethodOptions,
		http.MethodConnect, http.MethodTrace:
		return m, nil
	default:
		return "", fmt.Errorf("invalid HTTP method: %q", method)
	}
}

// parseCaseURL joins base URL, path, and optional query string into one URL.
func parseCaseURL(baseURL, path, query string) (*url.URL, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("url %q: %s", path, errCaseURLMissingSlash)
	}

	u, err := url.Parse(baseURL + path + query)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	return u, nil
}

// normalizeJSON round-trips a YAML-decoded value through encoding/json so
// that declared bodies and expectations use the same value shapes as parsed
// response bodies (map[string]any, []any, float64, string, bool, nil).
// Structural comparison in the asserter relies on this.
func normalizeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("not JSON-representable: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
