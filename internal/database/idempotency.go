package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// GetIdempotentResponse returns the stored response for a key, if one exists
// and has not expired. The body comes back exactly as it was persisted.
func (db *DB) GetIdempotentResponse(ctx context.Context, key string, now time.Time) ([]byte, int, bool, error) {
	var body []byte
	var status int
	err := db.conn.QueryRowContext(
		ctx,
		`SELECT response_body, response_status FROM idempotency_keys WHERE key = ? AND expires_at > ?`,
		key, fmtTime(now),
	).Scan(&body, &status)
	if err == sql.ErrNoRows {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to query idempotency key: %w", err)
	}
	return body, status, true, nil
}

// sqlRunner is the slice of database/sql shared by *sql.DB and *sql.Tx, so
// the idempotency upsert can run standalone or inside a larger transaction.
type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SaveIdempotentResponse stores a response under the given key with
// insert-if-absent semantics and returns the canonical stored response. When
// two identical retries race, the loser gets the winner's bytes back, so both
// callers observe the same body.
func (db *DB) SaveIdempotentResponse(ctx context.Context, key string, status int, body []byte, now time.Time, ttl time.Duration) ([]byte, int, error) {
	return saveIdempotentResponse(ctx, db.conn, key, status, body, now, ttl)
}

func saveIdempotentResponse(ctx context.Context, run sqlRunner, key string, status int, body []byte, now time.Time, ttl time.Duration) ([]byte, int, error) {
	_, err := run.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO idempotency_keys (key, response_status, response_body, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		key, status, body, fmtTime(now), fmtTime(now.Add(ttl)),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to store idempotency key: %w", err)
	}

	var storedBody []byte
	var storedStatus int
	err = run.QueryRowContext(
		ctx,
		`SELECT response_body, response_status FROM idempotency_keys WHERE key = ?`,
		key,
	).Scan(&storedBody, &storedStatus)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read back idempotency key: %w", err)
	}

	return storedBody, storedStatus, nil
}

// DeleteExpiredIdempotencyKeys removes keys past their expiry.
func (db *DB) DeleteExpiredIdempotencyKeys(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= ?`, fmtTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency keys: %w", err)
	}
	return res.RowsAffected()
}

// StartIdempotencyCleanup launches a goroutine that periodically purges
// expired idempotency keys. The returned function stops it.
func (db *DB) StartIdempotencyCleanup(interval time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				n, err := db.DeleteExpiredIdempotencyKeys(context.Background(), time.Now())
				if err != nil {
					log.Printf("idempotency cleanup: %v", err)
				} else if n > 0 {
					log.Printf("idempotency cleanup: removed %d expired keys", n)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}
