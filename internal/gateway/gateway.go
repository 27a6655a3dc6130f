// Package gateway is the cross-engine database abstraction: one interface
// for executing SQL, resetting schemas, and applying migrations across
// Postgres, MySQL/MariaDB, and SQLite, with wire-level column values
// normalized into one canonical, comparable Value model.
package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrReadyTimeout is returned by WaitReady when the database never answered
// within the bounded polling window.
var ErrReadyTimeout = errors.New("timed out waiting for database to be ready")

// Readiness probe parameters: fixed polling interval, bounded total wait.
const (
	readyAttempts = 30
	readyInterval = 500 * time.Millisecond
)

// migrationsTable tracks which migration files have been applied, keyed by
// file name, so ApplyMigrations is idempotent across runs.
const migrationsTable = `CREATE TABLE IF NOT EXISTS quest_migrations (
	filename VARCHAR(255) NOT NULL PRIMARY KEY,
	applied_at VARCHAR(64) NOT NULL
)`

// Gateway hides engine differences behind one execute/reset/migrate surface.
// The connection pool may multiplex physical connections, but callers are
// expected to serialize schema mutation; the gateway itself does not lock.
type Gateway struct {
	db     *sql.DB
	engine Engine
	decode map[string]decodeFunc
	log    *slog.Logger
}

// Open connects to the database identified by the URL. The engine is
// inferred from the URL scheme. Connection failures are fatal to the run,
// so Open verifies the connection with a ping before returning.
func Open(rawURL string) (*Gateway, error) {
	engine, driver, dsn, err := engineForURL(rawURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", engine, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s database: %w", engine, err)
	}

	if engine == SQLite {
		// SQLite supports one writer; more connections just trade
		// SQLITE_BUSY errors for no benefit.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	return NewFromDB(db, engine), nil
}

// NewFromDB wraps an existing connection pool. Used by Open and by tests
// that inject a mock driver.
func NewFromDB(db *sql.DB, engine Engine) *Gateway {
	return &Gateway{
		db:     db,
		engine: engine,
		decode: engine.decodeTable(),
		log:    slog.Default().With("engine", engine.String()),
	}
}

// Close releases the connection pool.
func (g *Gateway) Close() error {
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}

// Engine reports which engine this gateway talks to.
func (g *Gateway) Engine() Engine { return g.engine }

// Execute runs arbitrary SQL and returns normalized rows. It never panics
// on an unexpected column type: unmappable type names decode to Unsupported,
// SQL NULL decodes to Null, and a value whose typed decode fails decodes to
// Unsupported. Per-column decode failures are local; only the query itself
// failing produces an error.
func (g *Gateway) Execute(ctx context.Context, query string) ([]Row, error) {
	rows, err := g.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	out, err := g.normalizeRows(rows)
	if err != nil {
		return nil, err
	}
	return out, rows.Err()
}

// Exec runs a statement that returns no rows (hooks, resets, migrations).
func (g *Gateway) Exec(ctx context.Context, stmt string) error {
	if _, err := g.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("execute statement: %w", err)
	}
	return nil
}

// normalizeRows scans every row into raw driver values and maps each column
// through the engine's decode table. Normalization is pure: the same raw
// values always produce the same canonical Row.
func (g *Gateway) normalizeRows(rows *sql.Rows) ([]Row, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("read column types: %w", err)
	}

	typeNames := make([]string, len(colTypes))
	for i, ct := range colTypes {
		typeNames[i] = strings.ToUpper(ct.DatabaseTypeName())
	}

	out := make([]Row, 0)
	for rows.Next() {
		raws := make([]any, len(colTypes))
		ptrs := make([]any, len(colTypes))
		for i := range raws {
			ptrs[i] = &raws[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(Row, len(raws))
		for i, raw := range raws {
			row[i] = g.decodeColumn(typeNames[i], raw)
		}
		out = append(out, row)
	}

	return out, nil
}

// decodeColumn maps one raw driver value to a canonical Value.
func (g *Gateway) decodeColumn(typeName string, raw any) Value {
	if raw == nil {
		return Null{}
	}
	if typeName == "" {
		// Expression columns (e.g. COUNT(*)) on SQLite report no type.
		return decodeDynamic(raw)
	}
	fn, ok := g.decode[typeName]
	if !ok {
		g.log.Debug("no decoder for column type", "type", typeName)
		return Unsupported{}
	}
	return fn(raw)
}

// Catalog queries used to enumerate base tables, tried in order: the
// SQLite catalog first, then the engine's information-schema query. The
// first query that succeeds with a non-empty result wins.
const (
	sqliteCatalogQuery = `SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'`

	postgresCatalogQuery = `SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'`

	mysqlCatalogQuery = `SELECT table_name FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'`
)

func (g *Gateway) catalogQueries() []string {
	switch g.engine {
	case Postgres:
		return []string{sqliteCatalogQuery, postgresCatalogQuery}
	case MySQL:
		return []string{sqliteCatalogQuery, mysqlCatalogQuery}
	default:
		return []string{sqliteCatalogQuery}
	}
}

// ResetSchema empties every base table: enumerate tables from the engine
// catalog, TRUNCATE each one, fall back to DELETE where TRUNCATE is refused
// (foreign keys, SQLite), and best-effort reset auto-increment counters.
// Counter-reset failures are swallowed; everything else is fatal to the run.
func (g *Gateway) ResetSchema(ctx context.Context) error {
	tables, err := g.listTables(ctx)
	if err != nil {
		return err
	}

	for _, table := range tables {
		if table == "quest_migrations" {
			continue
		}
		if err := g.clearTable(ctx, table); err != nil {
			return err
		}
		g.resetCounter(ctx, table)
	}

	return nil
}

func (g *Gateway) listTables(ctx context.Context) ([]string, error) {
	queries := g.catalogQueries()

	var lastErr error
	for i, query := range queries {
		rows, err := g.Execute(ctx, query)
		if err != nil {
			lastErr = err
			continue
		}
		if len(rows) == 0 && i < len(queries)-1 {
			// Empty result from the wrong catalog; try the next one.
			continue
		}

		tables := make([]string, 0, len(rows))
		for _, row := range rows {
			tables = append(tables, row.First())
		}
		return tables, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("enumerate tables: %w", lastErr)
	}
	return nil, nil
}

func (g *Gateway) clearTable(ctx context.Context, table string) error {
	var truncate string
	switch g.engine {
	case Postgres:
		truncate = fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)
	default:
		truncate = fmt.Sprintf("TRUNCATE TABLE %s", table)
	}

	if err := g.Exec(ctx, truncate); err == nil {
		return nil
	}

	// TRUNCATE refused (SQLite has none; FK constraints can block it).
	if err := g.Exec(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
		return fmt.Errorf("clear table %s: %w", table, err)
	}
	return nil
}

// resetCounter resets the table's auto-increment/sequence counter.
// Best-effort: failures are logged and swallowed, never surfaced.
func (g *Gateway) resetCounter(ctx context.Context, table string) {
	var stmt string
	switch g.engine {
	case Postgres:
		stmt = fmt.Sprintf(
			`DO $$ BEGIN IF EXISTS (SELECT 1 FROM pg_class WHERE relname = '%s_id_seq') THEN `+
				`EXECUTE 'ALTER SEQUENCE %s_id_seq RESTART WITH 1'; END IF; END $$;`,
			table, table)
	case MySQL:
		stmt = fmt.Sprintf("ALTER TABLE %s AUTO_INCREMENT = 1", table)
	default:
		stmt = fmt.Sprintf("DELETE FROM sqlite_sequence WHERE name = '%s'", table)
	}

	if err := g.Exec(ctx, stmt); err != nil {
		g.log.Debug("counter reset skipped", "table", table, "error", err)
	}
}

// ApplyMigrations applies every .sql file under dir, in lexical order,
// skipping files already recorded in the tracking table. Idempotent; any
// failure is fatal to the run.
func (g *Gateway) ApplyMigrations(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if err := g.Exec(ctx, migrationsTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, name := range files {
		applied, err := g.migrationApplied(ctx, name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if err := g.execScript(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		record := fmt.Sprintf("INSERT INTO quest_migrations (filename, applied_at) VALUES (%s, %s)",
			g.placeholder(1), g.placeholder(2))
		if _, err := g.db.ExecContext(ctx, record, name, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}

		g.log.Info("migration applied", "file", name)
	}

	return nil
}

func (g *Gateway) migrationApplied(ctx context.Context, name string) (bool, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM quest_migrations WHERE filename = %s", g.placeholder(1))
	var n int
	if err := g.db.QueryRowContext(ctx, query, name).Scan(&n); err != nil {
		return false, fmt.Errorf("check migration %s: %w", name, err)
	}
	return n > 0, nil
}

// placeholder returns the engine's positional bind parameter. Postgres'
// extended protocol wants $N; mysql and sqlite take ?.
func (g *Gateway) placeholder(n int) string {
	if g.engine == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// LoadInitialSQL executes a seed script once at startup. Fatal on failure.
func (g *Gateway) LoadInitialSQL(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read initial sql: %w", err)
	}
	if err := g.execScript(ctx, string(data)); err != nil {
		return fmt.Errorf("load initial sql: %w", err)
	}
	return nil
}

// execScript runs a multi-statement SQL script statement by statement.
// Postgres' extended protocol rejects multi-statement strings, so scripts
// are split before execution regardless of engine.
func (g *Gateway) execScript(ctx context.Context, script string) error {
	for _, stmt := range splitStatements(script) {
		if err := g.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// splitStatements splits a script on semicolons outside of quoted strings.
// Line comments are dropped; empty statements are skipped.
func splitStatements(script string) []string {
	var (
		stmts   []string
		sb      strings.Builder
		inQuote rune
	)

	lines := strings.Split(script, "\n")
	for _, line := range lines {
		if inQuote == 0 && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			switch {
			case inQuote != 0:
				sb.WriteRune(r)
				if r == inQuote {
					inQuote = 0
				}
			case r == '\'' || r == '"':
				inQuote = r
				sb.WriteRune(r)
			case r == ';':
				if s := strings.TrimSpace(sb.String()); s != "" {
					stmts = append(stmts, s)
				}
				sb.Reset()
			default:
				sb.WriteRune(r)
			}
		}
		sb.WriteRune('\n')
	}

	if s := strings.TrimSpace(sb.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}

// WaitReady polls the database with a trivial query until it answers or the
// bounded wait is exhausted. Used once before the pipeline starts.
func (g *Gateway) WaitReady(ctx context.Context) error {
	for i := 0; i < readyAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := g.db.ExecContext(ctx, "SELECT 1"); err == nil {
			return nil
		}
		time.Sleep(readyInterval)
	}
	return ErrReadyTimeout
}
