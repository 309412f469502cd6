package db

import (
	"context"
	"database/sql"
	"net/url"

	"github.com/odysseia/protect/src/oops"

	_ "github.com/mattn/go-sqlite3"
)

type sqlQueryer struct {
	conn SQLConnOrTx
}

func SQL(conn SQLConnOrTx) Queryer {
	return sqlQueryer{conn: conn}
}

func (q sqlQueryer) queryRows(ctx context.Context, query string, args ...any) (rowSource, error) {
	rows, err := q.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &sqlRows{rows: rows}, nil
}

// Adapts *sql.Rows to the pgx-style row interface the iterator uses.
type sqlRows struct {
	rows *sql.Rows
	err  error
}

func (r *sqlRows) Next() bool {
	return r.err == nil && r.rows.Next()
}

func (r *sqlRows) Values() ([]any, error) {
	cols, err := r.rows.Columns()
	if err != nil {
		return nil, err
	}
	vals := make([]any, len(cols))
	dests := make([]any, len(cols))
	for i := range vals {
		dests[i] = &vals[i]
	}
	if err := r.rows.Scan(dests...); err != nil {
		r.err = err
		return nil, err
	}
	return vals, nil
}

func (r *sqlRows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

func (r *sqlRows) Close() {
	r.rows.Close()
}

// OpenSQLite opens (creating if necessary) a SQLite database with foreign
// keys enforced. Use ":memory:" for a throwaway database.
//
// SQLite serializes writers anyway, and a single connection keeps an
// in-memory database from splitting into several independent ones.
func OpenSQLite(path string) (*sql.DB, error) {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", "5000")
	if path != ":memory:" {
		params.Set("_journal_mode", "WAL")
	}

	conn, err := sql.Open("sqlite3", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, oops.New(err, "failed to open sqlite database at %s", path)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, oops.New(err, "failed to connect to sqlite database at %s", path)
	}

	return conn, nil
}
