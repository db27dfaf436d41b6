package storage

import (
	"database/sql"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// NewSQLiteAdapter wraps an open SQLite handle and pins it to one connection:
// SQLite allows a single writer, and an in-memory database only lives as long
// as its connection.
func NewSQLiteAdapter(db *sql.DB, logger *zap.Logger) *SQLStore {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return newSQLStore(db, sqliteDialect, logger)
}
