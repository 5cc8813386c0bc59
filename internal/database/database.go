package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"happy-hour-api/internal/models"
)

// DB wraps the database connection and provides methods for data access.
// All invariant-bearing mutations (claim, redeem, report) run inside a single
// transaction; there is no application-level locking.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	// _txlock=immediate makes write transactions take the reserved lock at
	// BEGIN, so concurrent claims queue on the busy timeout instead of
	// failing mid-transaction on a lock upgrade.
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS venues (
			id TEXT PRIMARY KEY,
			merchant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS deals (
			id TEXT PRIMARY KEY,
			venue_id TEXT NOT NULL REFERENCES venues(id),
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			percent_off INTEGER NOT NULL,
			starts_at TEXT NOT NULL,
			ends_at TEXT NOT NULL,
			max_redemptions INTEGER NOT NULL,
			claimed_count INTEGER NOT NULL DEFAULT 0,
			redeemed_count INTEGER NOT NULL DEFAULT 0,
			min_spend_cents INTEGER,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vouchers (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			deal_id TEXT NOT NULL REFERENCES deals(id),
			code TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			claimed_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			redeemed_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key TEXT PRIMARY KEY,
			response_status INTEGER NOT NULL,
			response_body BLOB NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS abuse_reports (
			id TEXT PRIMARY KEY,
			deal_id TEXT NOT NULL REFERENCES deals(id),
			reporter_id TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'PENDING',
			created_at TEXT NOT NULL,
			UNIQUE(deal_id, reporter_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deals_venue_id ON deals(venue_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deals_status ON deals(status)`,
		`CREATE INDEX IF NOT EXISTS idx_vouchers_user_deal ON vouchers(user_id, deal_id)`,
		`CREATE INDEX IF NOT EXISTS idx_vouchers_deal_id ON vouchers(deal_id)`,
		`CREATE INDEX IF NOT EXISTS idx_idempotency_expires_at ON idempotency_keys(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_abuse_reports_deal_id ON abuse_reports(deal_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// CreateVenue inserts a venue.
func (db *DB) CreateVenue(ctx context.Context, venue models.Venue) error {
	query := `INSERT INTO venues (id, merchant_id, name) VALUES (?, ?, ?)`
	if _, err := db.conn.ExecContext(ctx, query, venue.ID, venue.MerchantID, venue.Name); err != nil {
		return fmt.Errorf("failed to insert venue: %w", err)
	}
	return nil
}

// CreateUser inserts a user.
func (db *DB) CreateUser(ctx context.Context, user models.User) error {
	query := `INSERT INTO users (id, display_name) VALUES (?, ?)`
	if _, err := db.conn.ExecContext(ctx, query, user.ID, user.DisplayName); err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUser returns a user by id, or nil when absent.
func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	query := `SELECT id, display_name FROM users WHERE id = ?`
	err := db.conn.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.DisplayName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &u, nil
}

// GetVenue returns a venue by id, or nil when absent.
func (db *DB) GetVenue(ctx context.Context, id string) (*models.Venue, error) {
	var v models.Venue
	query := `SELECT id, merchant_id, name FROM venues WHERE id = ?`
	err := db.conn.QueryRowContext(ctx, query, id).Scan(&v.ID, &v.MerchantID, &v.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query venue: %w", err)
	}
	return &v, nil
}

// fmtTime serializes a timestamp for storage. Everything is stored as UTC
// RFC3339 so that lexicographic comparison in SQL matches time order.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure on the
// given column (e.g. "vouchers.code").
func isUniqueViolation(err error, column string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: "+column)
}
