package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// Options are the SQLite pool parameters
type Options struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultOptions suits a single service process writing call history
func DefaultOptions() Options {
	return Options{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 8,
	}
}

// openDB opens a pool with WAL, busy timeout and foreign keys applied to
// every connection through the DSN.
func openDB(path string, opts Options) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, opts.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return db, nil
}
