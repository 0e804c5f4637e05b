package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Dialect selects placeholder syntax for SQLAllocator.
type Dialect string

// Supported SQL dialects.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const counterTableDDL = `CREATE TABLE IF NOT EXISTS sequence_counters (
	prefix TEXT PRIMARY KEY,
	value BIGINT NOT NULL
)`

// SQLAllocator keeps counters in a sequence_counters table. Each reservation
// is a single upsert, so the database row lock is held for that statement only.
type SQLAllocator struct {
	db      *sql.DB
	dialect Dialect
	next    string
}

// NewSQLAllocator ensures the counter table exists and returns an allocator.
func NewSQLAllocator(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLAllocator, error) {
	if db == nil {
		return nil, errors.New("sequence: sql db is required")
	}
	var next string
	switch dialect {
	case DialectSQLite:
		next = `INSERT INTO sequence_counters(prefix, value) VALUES(?, 1)
			ON CONFLICT(prefix) DO UPDATE SET value = sequence_counters.value + 1
			RETURNING value`
	case DialectPostgres:
		next = `INSERT INTO sequence_counters(prefix, value) VALUES($1, 1)
			ON CONFLICT(prefix) DO UPDATE SET value = sequence_counters.value + 1
			RETURNING value`
	default:
		return nil, fmt.Errorf("sequence: unsupported dialect %q", dialect)
	}
	if _, err := db.ExecContext(ctx, counterTableDDL); err != nil {
		return nil, fmt.Errorf("sequence: ensure counter table: %w", err)
	}
	return &SQLAllocator{db: db, dialect: dialect, next: next}, nil
}

// Next atomically increments and returns the counter for prefix.
func (a *SQLAllocator) Next(ctx context.Context, prefix string) (int64, error) {
	if err := checkPrefix(prefix); err != nil {
		return 0, err
	}
	var value int64
	if err := a.db.QueryRowContext(ctx, a.next, prefix).Scan(&value); err != nil {
		return 0, fmt.Errorf("sequence: reserve %s: %w", prefix, err)
	}
	return value, nil
}

// Dialect reports the configured dialect.
func (a *SQLAllocator) Dialect() Dialect { return a.dialect }
