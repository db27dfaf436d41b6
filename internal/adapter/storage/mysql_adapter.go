package storage

import (
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// NewMySQLAdapter wraps an open MySQL handle. The DSN must set parseTime=true.
func NewMySQLAdapter(db *sql.DB, logger *zap.Logger) *SQLStore {
	return newSQLStore(db, mysqlDialect, logger)
}
