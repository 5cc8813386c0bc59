package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"happy-hour-api/internal/models"
)

// reportThreshold is the number of distinct pending reports that pulls a
// deal out of claimable inventory.
const reportThreshold = 3

// FileReport records an abuse report against a deal. Repeat reports from the
// same reporter are ignored via the (deal_id, reporter_id) unique index. When
// distinct pending reports reach the threshold, the deal is moved to
// UNDER_REVIEW in the same transaction. softHide=false records the report
// without the status transition.
func (db *DB) FileReport(ctx context.Context, dealID, reporterID, reason string, now time.Time, softHide bool) (*models.ReportResponse, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deal, err := getDealForUpdate(ctx, tx, dealID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO abuse_reports (id, deal_id, reporter_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), dealID, reporterID, reason, fmtTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert report: %w", err)
	}

	var pending int
	err = tx.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM abuse_reports WHERE deal_id = ? AND status = 'PENDING'`,
		dealID,
	).Scan(&pending)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending reports: %w", err)
	}

	status := deal.Status
	if softHide && pending >= reportThreshold && deal.Status == models.DealStatusLive {
		_, err = tx.ExecContext(
			ctx,
			`UPDATE deals SET status = ?, updated_at = ? WHERE id = ?`,
			string(models.DealStatusUnderReview), fmtTime(now), dealID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to move deal under review: %w", err)
		}
		status = models.DealStatusUnderReview
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit report: %w", err)
	}

	return &models.ReportResponse{
		DealID:       dealID,
		PendingCount: pending,
		DealStatus:   status,
	}, nil
}
