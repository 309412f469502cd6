/*
Package db contains lowish-level helpers for running SQL against the resource
index. It maps query results onto Go types while still letting you write plain
SQL. The same helpers work for both supported backends: Postgres through pgx,
and SQLite through database/sql.

The primary functions are Query, QueryOne and QueryIterator. Wrap a connection
with Pg or SQL before passing it in:

	threads, err := db.Query[models.Thread](ctx, db.Pg(pool), `SELECT $columns FROM thread`)
	threads, err := db.Query[models.Thread](ctx, db.SQL(sqliteDB), `SELECT $columns FROM thread`)

Query syntax

Arguments use the native placeholder syntax of the backend: $1, $2, ... for
Postgres and ? for SQLite. QueryBuilder can produce either.

When querying individual fields, select the field directly:

	ids, err := db.QueryScalar[int](ctx, q, `SELECT id FROM resource WHERE thread_id = $1`, threadID)

To query multiple columns at once, use a struct type with `db:"column_name"`
tags and the special $columns placeholder:

	type Resource struct {
		ID        int       `db:"id"`
		Filename  string    `db:"filename"`
		CreatedAt time.Time `db:"created_at"`
	}
	resources, err := db.Query[Resource](ctx, q, `SELECT $columns FROM resource`)
	// Resulting query:
	// SELECT id, filename, created_at FROM resource

A table prefix can be added to every column with $columns{prefix}, which is
needed when a JOIN makes column names ambiguous:

	resources, err := db.Query[Resource](ctx, q, `
		SELECT $columns{r}
		FROM
			resource AS r
			JOIN thread AS t ON t.id = r.thread_id
		WHERE t.public_thread_id = $1
	`, publicID)
	// Resulting query:
	// SELECT r.id, r.filename, r.created_at FROM ...

Nullable columns map to pointer fields. NULL leaves the field nil.
*/
package db
