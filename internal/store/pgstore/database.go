// Package pgstore is the production Store implementation: PostgreSQL with
// one JSONB payload column per table plus whatever scalar columns the
// required indexes need. Connection setup is grounded directly on the
// teacher's internal/database/database.go (database/sql + lib/pq, a tuned
// connection pool, PingContext on open).
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Connect opens a pool against dsn and verifies it with a bounded ping,
// exactly as the teacher's database.Connect does.
func Connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Store is the PostgreSQL-backed implementation of store.Store.
type Store struct {
	db *sql.DB
}

// New wraps an already-connected *sql.DB.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}
