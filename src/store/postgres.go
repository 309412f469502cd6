package store

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/odysseia/protect/src/db"
)

// NewPostgres wraps a connection pool. The schema is managed by the
// migration package and must be up to date.
func NewPostgres(pool *pgxpool.Pool) Store {
	return &sqlStore{
		q:                 db.Pg(pool),
		style:             db.Dollar,
		isUniqueViolation: isPgUniqueViolation,
		close:             pool.Close,
		now:               time.Now,
	}
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
