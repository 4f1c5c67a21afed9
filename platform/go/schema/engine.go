package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/agencyhub/agencyhub/platform/go/persistence"
)

// Errors surfaced by the repair engine.
var (
	// ErrUnknownModule indicates the requested module name is not registered.
	ErrUnknownModule = errors.New("unknown schema module")
	// ErrSchemaOutOfDate is returned instead of repairing when reactive repair is disabled.
	ErrSchemaOutOfDate = errors.New("tenant schema out of date")
)

// DB is the minimal query surface the engine needs. Satisfied by *pgx.Conn,
// pgx.Tx, and *pgxpool.Pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config controls engine behavior.
type Config struct {
	Logger *zap.Logger
	// ReactiveRepair enables WithRetry's repair-and-retry path. Disabled by
	// default: running schema-diff logic on every query-shaped error is too
	// expensive under load, so missing relations surface as fatal errors.
	ReactiveRepair bool
}

// Engine applies schema modules to tenant databases.
type Engine struct {
	logger   *zap.Logger
	reactive bool
}

// NewEngine constructs the repair engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Logger == nil {
		panic("schema engine requires logger")
	}
	return &Engine{logger: cfg.Logger, reactive: cfg.ReactiveRepair}
}

// EnsureModule applies one module's DDL. Safe on pristine and already-migrated
// databases alike.
func (e *Engine) EnsureModule(ctx context.Context, db DB, name string) error {
	module, ok := moduleByName(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}

	for _, stmt := range module.Statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure module %s: %w", name, err)
		}
	}

	e.logger.Debug("schema module ensured", zap.String("module", name))
	return nil
}

// EnsureAll applies every registered module in order. Used by provisioning to
// build a pristine tenant database and by administrative repair.
func (e *Engine) EnsureAll(ctx context.Context, db DB) error {
	for _, module := range Modules {
		if err := e.EnsureModule(ctx, db, module.Name); err != nil {
			return err
		}
	}
	return nil
}

// Report summarizes an administrative repair run.
type Report struct {
	TablesBefore []string `json:"tablesBefore"`
	TablesAfter  []string `json:"tablesAfter"`
	Added        []string `json:"added"`
}

// Repair brings an existing tenant database up to the current required schema
// without destroying data and reports which tables were added. Idempotent and
// callable at any time.
func (e *Engine) Repair(ctx context.Context, db DB) (Report, error) {
	before, err := listTables(ctx, db)
	if err != nil {
		return Report{}, err
	}

	if err := e.EnsureAll(ctx, db); err != nil {
		return Report{}, err
	}

	after, err := listTables(ctx, db)
	if err != nil {
		return Report{}, err
	}

	seen := make(map[string]bool, len(before))
	for _, t := range before {
		seen[t] = true
	}
	added := make([]string, 0)
	for _, t := range after {
		if !seen[t] {
			added = append(added, t)
		}
	}

	e.logger.Info("schema repair completed",
		zap.Int("tables_before", len(before)),
		zap.Int("tables_after", len(after)),
		zap.Strings("added", added),
	)

	return Report{TablesBefore: before, TablesAfter: after, Added: added}, nil
}

// VerifyRequiredTables checks the fixed load-bearing table set exists and
// returns the names that are missing. Provisioning fails fatally when any are
// absent.
func (e *Engine) VerifyRequiredTables(ctx context.Context, db DB) ([]string, error) {
	existing, err := listTables(ctx, db)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(existing))
	for _, t := range existing {
		present[t] = true
	}

	var missing []string
	for _, t := range RequiredTables {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	return missing, nil
}

// WithRetry runs fn once; if it fails because a relation is missing and
// reactive repair is enabled, the owning module is ensured and fn retried
// exactly once. Repair failures fall through to the original error rather than
// masking it. With reactive repair disabled the error is surfaced as
// ErrSchemaOutOfDate.
func (e *Engine) WithRetry(ctx context.Context, db DB, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}

	relation, ok := undefinedRelation(err)
	if !ok {
		return err
	}

	if !e.reactive {
		return fmt.Errorf("%w: relation %q missing: %w", ErrSchemaOutOfDate, relation, err)
	}

	module, ok := ModuleForTable(relation)
	if !ok {
		return err
	}

	e.logger.Warn("reactive schema repair triggered",
		zap.String("relation", relation),
		zap.String("module", module),
	)

	if repairErr := e.EnsureModule(ctx, db, module); repairErr != nil {
		e.logger.Error("reactive schema repair failed", zap.String("module", module), zap.Error(repairErr))
		return err
	}

	return fn()
}

func moduleByName(name string) (Module, bool) {
	for _, m := range Modules {
		if m.Name == name {
			return m, true
		}
	}
	return Module{}, false
}

func listTables(ctx context.Context, db DB) ([]string, error) {
	rows, err := db.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Strings(tables)
	return tables, nil
}

// undefinedRelation extracts the missing relation's name from an
// undefined_table error. Postgres does not populate the structured TableName
// field for 42P01, so when absent the name is read from the stable
// `relation "x" does not exist` message form; module resolution itself stays
// an exact registry lookup.
func undefinedRelation(err error) (string, bool) {
	table, ok := persistence.IsUndefinedTable(err)
	if !ok {
		return "", false
	}
	if table != "" {
		return table, true
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	start := strings.IndexByte(pgErr.Message, '"')
	if start < 0 {
		return "", false
	}
	end := strings.IndexByte(pgErr.Message[start+1:], '"')
	if end < 0 {
		return "", false
	}
	return pgErr.Message[start+1 : start+1+end], true
}
