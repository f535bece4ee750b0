/*
Package sqlite persists everything that outlives a single payroll run.

PURPOSE:
  Runs themselves are pure: files in, summary and workbooks out. The server
  still needs somewhere to keep the operator's uploaded templates, the
  roster, saved settings, name aliases, past run results and the history of
  loans that were paid off. This package stores them in SQLite.

KEY TABLES:
  settings:      one row holding the saved Settings as JSON
  templates:     the latest uploaded workbook per category (weekly, cash, payroll)
  roster:        the canonical employee list
  aliases:       operator-confirmed source name → roster name links
  runs:          one row per preview/process, with the summary JSON
  outputs:       filled workbooks produced by a process run
  loan_history:  loans closed by a run

IMMUTABILITY:
  runs, outputs and loan_history are append-only. A rerun of the same week
  adds a new run; nothing is updated in place.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, with WAL so readers do not block
  while a run is being saved.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/sheet"
)

// Store implements run persistence using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// :memory: databases are per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		settings_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One template per category; uploading again replaces it
	CREATE TABLE IF NOT EXISTS templates (
		category TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		data BLOB NOT NULL,
		layout_yaml TEXT,
		uploaded_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS roster (
		position_idx INTEGER NOT NULL,
		name TEXT PRIMARY KEY COLLATE NOCASE,
		employee_type TEXT NOT NULL,
		position TEXT,
		rate_regular TEXT NOT NULL,
		rate_overtime TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS aliases (
		source_name TEXT PRIMARY KEY COLLATE NOCASE,
		canonical TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Runs (append-only)
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		week_from TEXT,
		week_to TEXT,
		summary_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created
		ON runs(created_at DESC);

	CREATE TABLE IF NOT EXISTS outputs (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		category TEXT NOT NULL,
		filename TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_outputs_run
		ON outputs(run_id);

	-- Loans closed by a run (append-only)
	CREATE TABLE IF NOT EXISTS loan_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		employee TEXT NOT NULL,
		source_name TEXT NOT NULL,
		loan_amount TEXT NOT NULL,
		final_payment TEXT NOT NULL,
		date_taken TEXT,
		closed_on TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loan_history_employee
		ON loan_history(employee);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SETTINGS
// =============================================================================

// LoadSettings returns the saved settings, or the defaults when nothing was
// saved yet. The second return reports whether a saved row existed.
func (s *Store) LoadSettings(ctx context.Context) (config.Settings, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT settings_json FROM settings WHERE id = 1").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return config.Defaults(), false, nil
	}
	if err != nil {
		return config.Settings{}, false, err
	}
	settings, err := config.FromJSON([]byte(raw))
	if err != nil {
		return config.Settings{}, true, fmt.Errorf("stored settings: %w", err)
	}
	return settings, true, nil
}

// SaveSettings validates and stores settings, replacing any saved row.
func (s *Store) SaveSettings(ctx context.Context, settings config.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	data, err := config.ToJSON(settings)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO settings (id, settings_json, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			settings_json = excluded.settings_json,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, string(data), now())
	return err
}

// ResetSettings removes saved settings so LoadSettings returns defaults.
func (s *Store) ResetSettings(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM settings")
	return err
}

// =============================================================================
// TEMPLATES
// =============================================================================

// TemplateRecord is an uploaded workbook for one category. Layout is an
// optional YAML layout overriding the built-in one.
type TemplateRecord struct {
	Category   sheet.Category
	FileName   string
	Data       []byte
	Layout     string
	UploadedAt time.Time
}

// SaveTemplate stores a template, replacing the previous one of its category.
func (s *Store) SaveTemplate(ctx context.Context, t TemplateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO templates (category, filename, data, layout_yaml, uploaded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(category) DO UPDATE SET
			filename = excluded.filename,
			data = excluded.data,
			layout_yaml = excluded.layout_yaml,
			uploaded_at = excluded.uploaded_at
	`
	_, err := s.db.ExecContext(ctx, query, string(t.Category), t.FileName, t.Data, nullString(t.Layout), now())
	return err
}

// GetTemplate returns the template of a category or payroll.ErrNotFound.
func (s *Store) GetTemplate(ctx context.Context, c sheet.Category) (*TemplateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		t          TemplateRecord
		category   string
		layout     sql.NullString
		uploadedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT category, filename, data, layout_yaml, uploaded_at FROM templates WHERE category = ?",
		string(c),
	).Scan(&category, &t.FileName, &t.Data, &layout, &uploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", c, payroll.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	t.Category = sheet.Category(category)
	t.Layout = layout.String
	t.UploadedAt = parseTime(uploadedAt)
	return &t, nil
}

// ListTemplates returns every stored template without its data.
func (s *Store) ListTemplates(ctx context.Context) ([]TemplateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT category, filename, layout_yaml, uploaded_at FROM templates ORDER BY category",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TemplateRecord
	for rows.Next() {
		var (
			t          TemplateRecord
			category   string
			layout     sql.NullString
			uploadedAt string
		)
		if err := rows.Scan(&category, &t.FileName, &layout, &uploadedAt); err != nil {
			return nil, err
		}
		t.Category = sheet.Category(category)
		t.Layout = layout.String
		t.UploadedAt = parseTime(uploadedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTemplate removes the template of a category.
func (s *Store) DeleteTemplate(ctx context.Context, c sheet.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM templates WHERE category = ?", string(c))
	if err != nil {
		return err
	}
	return requireRow(res, fmt.Sprintf("template %s", c))
}

// =============================================================================
// ROSTER AND ALIASES
// =============================================================================

// SaveRoster replaces the roster. Order is preserved; it is the row order of
// generated workbooks.
func (s *Store) SaveRoster(ctx context.Context, roster []payroll.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM roster"); err != nil {
		return err
	}
	query := `
		INSERT INTO roster (position_idx, name, employee_type, position, rate_regular, rate_overtime)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for i, e := range roster {
		_, err := tx.ExecContext(ctx, query, i, e.Name, string(e.Type), nullString(e.Position),
			e.Rates.Regular.String(), e.Rates.Overtime.String())
		if err != nil {
			if isUniqueConstraintError(err) {
				return &payroll.ValidationError{Field: "roster", Value: e.Name, Reason: "duplicate employee name"}
			}
			return fmt.Errorf("failed to save employee: %w", err)
		}
	}
	return tx.Commit()
}

// LoadRoster returns the roster in saved order.
func (s *Store) LoadRoster(ctx context.Context) ([]payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, employee_type, position, rate_regular, rate_overtime
		FROM roster ORDER BY position_idx
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.Employee
	for rows.Next() {
		var (
			e                 payroll.Employee
			typ               string
			position          sql.NullString
			regular, overtime string
		)
		if err := rows.Scan(&e.Name, &typ, &position, &regular, &overtime); err != nil {
			return nil, err
		}
		e.Type = payroll.EmployeeType(typ)
		e.Position = position.String
		e.Rates.Regular = parseDecimal(regular)
		e.Rates.Overtime = parseDecimal(overtime)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveAlias links a source name to a roster name for future runs.
func (s *Store) SaveAlias(ctx context.Context, sourceName, canonical string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO aliases (source_name, canonical, created_at) VALUES (?, ?, ?)
		ON CONFLICT(source_name) DO UPDATE SET canonical = excluded.canonical
	`
	_, err := s.db.ExecContext(ctx, query, strings.TrimSpace(sourceName), canonical, now())
	return err
}

// DeleteAlias removes a link.
func (s *Store) DeleteAlias(ctx context.Context, sourceName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM aliases WHERE source_name = ?", strings.TrimSpace(sourceName))
	if err != nil {
		return err
	}
	return requireRow(res, "alias "+sourceName)
}

// Aliases returns every link keyed by source name.
func (s *Store) Aliases(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT source_name, canonical FROM aliases ORDER BY source_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var src, canon string
		if err := rows.Scan(&src, &canon); err != nil {
			return nil, err
		}
		out[src] = canon
	}
	return out, rows.Err()
}

// =============================================================================
// RUNS AND OUTPUTS
// =============================================================================

// RunRecord is one stored run. Summary is the run summary as JSON.
type RunRecord struct {
	ID        string
	Mode      string
	WeekFrom  string
	WeekTo    string
	Summary   []byte
	CreatedAt time.Time
}

// OutputRecord is one stored workbook. Data is omitted by list queries.
type OutputRecord struct {
	ID        string
	RunID     string
	Category  string
	FileName  string
	Data      []byte
	Size      int
	CreatedAt time.Time
}

// LoanHistoryRecord is a loan a run paid off.
type LoanHistoryRecord struct {
	RunID        string
	Employee     string
	SourceName   string
	LoanAmount   decimal.Decimal
	FinalPayment decimal.Decimal
	DateTaken    string
	ClosedOn     string
}

// SaveRun stores a run with its outputs and closed loans atomically.
func (s *Store) SaveRun(ctx context.Context, run RunRecord, outputs []OutputRecord, closed []LoanHistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	created := now()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO runs (id, mode, week_from, week_to, summary_json, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		run.ID, run.Mode, nullString(run.WeekFrom), nullString(run.WeekTo), string(run.Summary), created,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &payroll.ValidationError{Field: "run.id", Value: run.ID, Reason: "already stored"}
		}
		return fmt.Errorf("failed to save run: %w", err)
	}

	for _, o := range outputs {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO outputs (id, run_id, category, filename, data, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			o.ID, run.ID, o.Category, o.FileName, o.Data, created,
		)
		if err != nil {
			return fmt.Errorf("failed to save output %s: %w", o.FileName, err)
		}
	}

	for _, l := range closed {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO loan_history (run_id, employee, source_name, loan_amount, final_payment, date_taken, closed_on)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, l.Employee, l.SourceName, l.LoanAmount.String(), l.FinalPayment.String(),
			nullString(l.DateTaken), l.ClosedOn,
		)
		if err != nil {
			return fmt.Errorf("failed to save loan history: %w", err)
		}
	}

	return tx.Commit()
}

// GetRun returns a stored run or payroll.ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		r              RunRecord
		from, to       sql.NullString
		summary, added string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, mode, week_from, week_to, summary_json, created_at FROM runs WHERE id = ?", id,
	).Scan(&r.ID, &r.Mode, &from, &to, &summary, &added)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, payroll.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	r.WeekFrom, r.WeekTo = from.String, to.String
	r.Summary = []byte(summary)
	r.CreatedAt = parseTime(added)
	return &r, nil
}

// ListRuns returns the most recent runs first, without summaries.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, mode, week_from, week_to, created_at FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r        RunRecord
			from, to sql.NullString
			added    string
		)
		if err := rows.Scan(&r.ID, &r.Mode, &from, &to, &added); err != nil {
			return nil, err
		}
		r.WeekFrom, r.WeekTo = from.String, to.String
		r.CreatedAt = parseTime(added)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListOutputs returns output metadata, newest first. An empty runID lists
// outputs of every run.
func (s *Store) ListOutputs(ctx context.Context, runID string) ([]OutputRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, run_id, category, filename, length(data), created_at
		FROM outputs
	`
	var args []any
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	query += " ORDER BY created_at DESC, rowid ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutputRecord
	for rows.Next() {
		var (
			o     OutputRecord
			added string
		)
		if err := rows.Scan(&o.ID, &o.RunID, &o.Category, &o.FileName, &o.Size, &added); err != nil {
			return nil, err
		}
		o.CreatedAt = parseTime(added)
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetOutput returns one workbook with its data or payroll.ErrNotFound.
func (s *Store) GetOutput(ctx context.Context, id string) (*OutputRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		o     OutputRecord
		added string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, run_id, category, filename, data, created_at FROM outputs WHERE id = ?", id,
	).Scan(&o.ID, &o.RunID, &o.Category, &o.FileName, &o.Data, &added)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("output %s: %w", id, payroll.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	o.Size = len(o.Data)
	o.CreatedAt = parseTime(added)
	return &o, nil
}

// LoanHistory returns closed loans, optionally for one employee, oldest first.
func (s *Store) LoanHistory(ctx context.Context, employee string) ([]LoanHistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT run_id, employee, source_name, loan_amount, final_payment, date_taken, closed_on
		FROM loan_history
	`
	var args []any
	if employee != "" {
		query += " WHERE employee = ? COLLATE NOCASE"
		args = append(args, employee)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LoanHistoryRecord
	for rows.Next() {
		var (
			l               LoanHistoryRecord
			amount, payment string
			taken           sql.NullString
		)
		if err := rows.Scan(&l.RunID, &l.Employee, &l.SourceName, &amount, &payment, &taken, &l.ClosedOn); err != nil {
			return nil, err
		}
		l.LoanAmount = parseDecimal(amount)
		l.FinalPayment = parseDecimal(payment)
		l.DateTaken = taken.String
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"loan_history", "outputs", "runs", "aliases", "roster", "templates", "settings"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, payroll.ErrNotFound)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}
