package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"fleet-fuel-review/internal/temporal"
)

// Database wraps the SQLite connection holding telemetry and reviews
type Database struct {
	conn   *sql.DB
	parser *temporal.Parser
}

// Option configures a Database
type Option func(*Database)

// WithParser sets the parser used to derive day keys and instants on insert
func WithParser(p *temporal.Parser) Option {
	return func(db *Database) { db.parser = p }
}

// New creates a new database connection
func New(dbPath string, opts ...Option) (*Database, error) {
	// WAL lets readers proceed while a writer commits
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_cache_size=10000", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(time.Hour)

	db := &Database{conn: conn, parser: temporal.NewParser(nil)}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.initialize(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to initialize database")
	}

	return db, nil
}

// initialize creates tables and indexes
func (db *Database) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS telemetry (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plate TEXT NOT NULL,
		date TEXT NOT NULL,
		time TEXT NOT NULL,
		day_key TEXT NOT NULL,
		ts INTEGER NOT NULL,
		speed REAL NOT NULL,
		fuel_level REAL NOT NULL,
		status TEXT,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reviews (
		id TEXT PRIMARY KEY,
		plate TEXT NOT NULL,
		start_ts INTEGER NOT NULL,
		end_ts INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_date TEXT NOT NULL,
		end_time TEXT NOT NULL,
		fuel_start REAL NOT NULL,
		fuel_end REAL NOT NULL,
		fuel_diff REAL NOT NULL,
		duration_min INTEGER NOT NULL,
		decision TEXT NOT NULL CHECK (decision IN ('reviewed_ok', 'reviewed_suspicious', 'false_positive', 'need_follow_up')),
		note TEXT,
		reviewer TEXT,
		revision_of TEXT REFERENCES reviews(id),
		created_at_ns INTEGER NOT NULL,
		CHECK (start_ts <= end_ts)
	);

	CREATE INDEX IF NOT EXISTS idx_telemetry_plate_day ON telemetry(plate, day_key, ts);
	CREATE INDEX IF NOT EXISTS idx_reviews_plate_interval ON reviews(plate, start_ts, end_ts);
	CREATE INDEX IF NOT EXISTS idx_reviews_created ON reviews(created_at_ns);
	CREATE INDEX IF NOT EXISTS idx_reviews_revision ON reviews(revision_of) WHERE revision_of IS NOT NULL;
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable
func (db *Database) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
