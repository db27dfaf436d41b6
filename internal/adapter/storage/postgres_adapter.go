package storage

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

func NewPostgresAdapter(db *sql.DB, logger *zap.Logger) *SQLStore {
	return newSQLStore(db, postgresDialect, logger)
}
