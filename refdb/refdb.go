// Package refdb reads reference tables from SQL databases, e.g. the
// products and variants already known to the target system.
package refdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/razeghi71/feedflow/etlerr"
	"github.com/razeghi71/feedflow/table"
)

// Drivers lists the database/sql driver names registered by this package.
var Drivers = []string{"sqlite", "mysql", "pgx", "sqlserver"}

// DefaultTimeout bounds a query when the caller's context has no deadline.
const DefaultTimeout = 30 * time.Second

// Query is a source that runs SQL against a database and returns the
// result set as a table. Column order follows the SELECT list.
type Query struct {
	Driver string
	DSN    string
	SQL    string
	Args   []any
}

// Read opens a short-lived connection, runs the query and closes it.
func (q Query) Read(ctx context.Context) (*table.Table, error) {
	db, err := Open(q.Driver, q.DSN)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return QueryTable(ctx, db, q.SQL, q.Args...)
}

func (q Query) String() string { return q.Driver + ":" + q.SQL }

// Check reports whether driver is registered and dsn is set.
func Check(driver, dsn string) error {
	if !supported(driver) {
		return etlerr.Configf("refdb: unsupported driver %q (want one of %v)", driver, Drivers)
	}
	if dsn == "" {
		return etlerr.Configf("refdb: empty DSN for driver %q", driver)
	}
	return nil
}

// Open validates the driver name and opens a pool with conservative
// limits for batch jobs.
func Open(driver, dsn string) (*sql.DB, error) {
	if err := Check(driver, dsn); err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("refdb: open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(10 * time.Minute)
	return db, nil
}

// QueryTable runs query on db and materializes every row.
func QueryTable(ctx context.Context, db *sql.DB, query string, args ...any) (*table.Table, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("refdb: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("refdb: columns: %w", err)
	}

	t := table.NewTable(cols)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("refdb: scan row %d: %w", t.Len(), err)
		}
		row := make([]table.Value, len(cols))
		for i, v := range values {
			row[i] = sqlValue(v)
		}
		t.AddRow(row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("refdb: rows: %w", err)
	}
	return t, nil
}

func sqlValue(v any) table.Value {
	switch val := v.(type) {
	case time.Time:
		return table.StrVal(val.Format(time.RFC3339))
	default:
		return table.FromAny(val)
	}
}

func supported(driver string) bool {
	for _, d := range Drivers {
		if d == driver {
			return true
		}
	}
	return false
}
