package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"happy-hour-api/internal/models"
)

const dealColumns = `id, venue_id, title, description, percent_off, starts_at, ends_at,
	max_redemptions, claimed_count, redeemed_count, min_spend_cents, status, created_at, updated_at`

// CreateDeal inserts a new deal.
func (db *DB) CreateDeal(ctx context.Context, deal models.Deal) error {
	query := `INSERT INTO deals (
		id, venue_id, title, description, percent_off, starts_at, ends_at,
		max_redemptions, claimed_count, redeemed_count, min_spend_cents, status, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var minSpend interface{}
	if deal.MinSpendCents != nil {
		minSpend = *deal.MinSpendCents
	}

	_, err := db.conn.ExecContext(
		ctx,
		query,
		deal.ID,
		deal.VenueID,
		deal.Title,
		deal.Description,
		deal.PercentOff,
		fmtTime(deal.StartsAt),
		fmtTime(deal.EndsAt),
		deal.MaxRedemptions,
		deal.ClaimedCount,
		deal.RedeemedCount,
		minSpend,
		string(deal.Status),
		fmtTime(deal.CreatedAt),
		fmtTime(deal.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert deal: %w", err)
	}

	return nil
}

// GetDeal returns a deal by id. Absent deals map to ErrDealNotFound.
func (db *DB) GetDeal(ctx context.Context, id string) (*models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE id = ?`
	deal, err := scanDeal(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrDealNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query deal: %w", err)
	}
	return deal, nil
}

// ListClaimableDeals returns deals that can accept a new claim at the given
// time: LIVE, inside their window, and under capacity.
func (db *DB) ListClaimableDeals(ctx context.Context, now time.Time) ([]models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals
		WHERE status = ?
		AND starts_at <= ?
		AND ends_at >= ?
		AND claimed_count < max_redemptions
		ORDER BY ends_at`

	rows, err := db.conn.QueryContext(ctx, query, string(models.DealStatusLive), fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to query claimable deals: %w", err)
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deal: %w", err)
		}
		deals = append(deals, *deal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deals: %w", err)
	}

	return deals, nil
}

// SetDealStatus updates a deal's status (merchant/admin lifecycle actions).
func (db *DB) SetDealStatus(ctx context.Context, id string, status models.DealStatus, now time.Time) error {
	query := `UPDATE deals SET status = ?, updated_at = ? WHERE id = ?`
	res, err := db.conn.ExecContext(ctx, query, string(status), fmtTime(now), id)
	if err != nil {
		return fmt.Errorf("failed to update deal status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return models.ErrDealNotFound
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDeal(row rowScanner) (*models.Deal, error) {
	var deal models.Deal
	var startsAtStr, endsAtStr, createdAtStr, updatedAtStr, statusStr string
	var minSpend sql.NullInt64

	err := row.Scan(
		&deal.ID,
		&deal.VenueID,
		&deal.Title,
		&deal.Description,
		&deal.PercentOff,
		&startsAtStr,
		&endsAtStr,
		&deal.MaxRedemptions,
		&deal.ClaimedCount,
		&deal.RedeemedCount,
		&minSpend,
		&statusStr,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	deal.Status = models.DealStatus(statusStr)
	if minSpend.Valid {
		v := minSpend.Int64
		deal.MinSpendCents = &v
	}

	if deal.StartsAt, err = parseTime(startsAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse starts_at: %w", err)
	}
	if deal.EndsAt, err = parseTime(endsAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse ends_at: %w", err)
	}
	if deal.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if deal.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &deal, nil
}

// getDealForUpdate reads a deal inside an open transaction.
func getDealForUpdate(ctx context.Context, tx *sql.Tx, id string) (*models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE id = ?`
	deal, err := scanDeal(tx.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrDealNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query deal: %w", err)
	}
	return deal, nil
}
