package storage

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect captures the few places where MySQL, PostgreSQL and SQLite need
// different SQL or report errors differently. Queries are written with "?"
// placeholders and rebound per dialect.
type dialect struct {
	name string
	// appended to SELECTs that must hold the row until commit
	lockClause string
	timestamp  string
	positional bool
	ignoreVerb bool

	isUnique    func(error) bool
	isRetryable func(error) bool
}

func (d *dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// insertIgnore turns "INSERT INTO ..." into an insert that silently skips rows
// hitting a unique key.
func (d *dialect) insertIgnore(stmt string) string {
	if d.ignoreVerb {
		return strings.Replace(stmt, "INSERT INTO", "INSERT IGNORE INTO", 1)
	}
	return stmt + " ON CONFLICT DO NOTHING"
}

var mysqlDialect = &dialect{
	name:       "mysql",
	lockClause: " FOR UPDATE",
	timestamp:  "DATETIME(6)",
	ignoreVerb: true,
	isUnique: func(err error) bool {
		var me *mysql.MySQLError
		return errors.As(err, &me) && me.Number == 1062
	},
	isRetryable: func(err error) bool {
		var me *mysql.MySQLError
		// 1213 deadlock, 1205 lock wait timeout
		return errors.As(err, &me) && (me.Number == 1213 || me.Number == 1205)
	},
}

var postgresDialect = &dialect{
	name:       "postgres",
	lockClause: " FOR UPDATE",
	timestamp:  "TIMESTAMPTZ",
	positional: true,
	isUnique: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23505"
	},
	isRetryable: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
	},
}

// SQLite has no row locks; the store runs it on a single connection so every
// transaction already has exclusive write access.
var sqliteDialect = &dialect{
	name:      "sqlite",
	timestamp: "DATETIME",
	isUnique: func(err error) bool {
		var se *sqlite.Error
		if !errors.As(err, &se) {
			return false
		}
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	},
	isRetryable: func(err error) bool {
		var se *sqlite.Error
		if !errors.As(err, &se) {
			return false
		}
		primary := se.Code() & 0xff
		return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
	},
}

// escapeLike escapes LIKE wildcards with '!' for use with ESCAPE '!'.
func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}
