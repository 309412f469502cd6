package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/odysseia/protect/src/db"
	"github.com/odysseia/protect/src/oops"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// OpenSQLite opens the SQLite index at path and creates any missing tables.
func OpenSQLite(ctx context.Context, path string) (Store, error) {
	conn, err := db.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := applySQLiteSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &sqlStore{
		q:                 db.SQL(conn),
		style:             db.Question,
		isUniqueViolation: isSQLiteUniqueViolation,
		close:             func() { conn.Close() },
		now:               time.Now,
	}, nil
}

func applySQLiteSchema(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		return oops.New(err, "failed to apply sqlite schema")
	}
	return nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}
