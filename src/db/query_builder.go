package db

import (
	"fmt"
	"strings"
)

type PlaceholderStyle int

const (
	Dollar   PlaceholderStyle = iota // $1, $2 (Postgres)
	Question                         // ?, ? (SQLite)
)

type QueryBuilder struct {
	Style PlaceholderStyle

	sql  strings.Builder
	args []interface{}
}

/*
Adds the given SQL and arguments to the query. Any occurrences
of `$?` will be replaced with the correct placeholder for the style.

foo $? bar $? baz $?
foo $1 bar $2 baz $3
foo ? bar ? baz ?
*/
func (qb *QueryBuilder) Add(sql string, args ...interface{}) {
	numPlaceholders := strings.Count(sql, "$?")
	if numPlaceholders != len(args) {
		panic(fmt.Errorf("cannot add chunk to query; expected %d arguments but got %d", numPlaceholders, len(args)))
	}

	for _, arg := range args {
		placeholder := "?"
		if qb.Style == Dollar {
			placeholder = fmt.Sprintf("$%d", len(qb.args)+1)
		}
		sql = strings.Replace(sql, "$?", placeholder, 1)
		qb.args = append(qb.args, arg)
	}

	qb.sql.WriteString(sql)
	qb.sql.WriteString("\n")
}

func (qb *QueryBuilder) String() string {
	return qb.sql.String()
}

func (qb *QueryBuilder) Args() []interface{} {
	return qb.args
}
