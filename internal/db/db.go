// Package db is the Record Store Adapter (§2): transactional CRUD for the
// §3 entities, one file per entity, following the teacher's
// QueryRowContext/ExecContext-on-*DB idiom.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

type DB struct {
	*sql.DB
}

func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(5)

	return &DB{DB: conn}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// ErrNotFound is returned by single-row lookups when sql.ErrNoRows occurs.
var ErrNotFound = fmt.Errorf("record not found")
