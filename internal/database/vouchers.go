package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"happy-hour-api/internal/models"
)

// codeAlphabet deliberately omits 0/O/1/I to keep codes readable over the
// counter. 32 characters, so a random byte maps without modulo bias.
const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 8

	// maxCodeAttempts bounds the regenerate-on-collision loop during claim.
	maxCodeAttempts = 10
)

// newCode produces candidate redemption codes. Package variable so tests can
// force collisions.
var newCode = GenerateCode

// GenerateCode returns a random 8-character redemption code.
func GenerateCode() string {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the host is broken; there is no
		// reasonable fallback for ticket-style codes.
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}

// ClaimVoucher atomically issues a voucher for (userID, dealID) and reserves
// one unit of the deal's capacity. All precondition checks and both writes
// run in a single transaction; the capacity check is re-applied at write time
// via a conditional UPDATE so concurrent claims cannot oversubscribe the
// deal. Uniqueness of the redemption code is driven by the UNIQUE index:
// the insert is retried with a fresh code on constraint violation.
func (db *DB) ClaimVoucher(ctx context.Context, userID, dealID string, now time.Time, claimWindow time.Duration) (*models.Voucher, *models.Deal, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deal, err := getDealForUpdate(ctx, tx, dealID)
	if err != nil {
		return nil, nil, err
	}

	if derr := deal.ClaimableError(now); derr != nil {
		return nil, nil, derr
	}

	// Flip any stale CLAIMED voucher for this pair before the active-claim
	// check, so an expired claim does not block a new one.
	_, err = tx.ExecContext(
		ctx,
		`UPDATE vouchers SET status = ? WHERE user_id = ? AND deal_id = ? AND status = ? AND expires_at <= ?`,
		string(models.VoucherStatusExpired), userID, dealID, string(models.VoucherStatusClaimed), fmtTime(now),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to expire stale vouchers: %w", err)
	}

	var active int
	err = tx.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM vouchers WHERE user_id = ? AND deal_id = ? AND status = ?`,
		userID, dealID, string(models.VoucherStatusClaimed),
	).Scan(&active)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check existing vouchers: %w", err)
	}
	if active > 0 {
		return nil, nil, models.ErrAlreadyClaimed
	}

	expiresAt := now.Add(claimWindow)
	if deal.EndsAt.Before(expiresAt) {
		expiresAt = deal.EndsAt
	}

	voucher := models.Voucher{
		ID:        uuid.New().String(),
		UserID:    userID,
		DealID:    dealID,
		Status:    models.VoucherStatusClaimed,
		ClaimedAt: now,
		ExpiresAt: expiresAt,
	}

	inserted := false
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		voucher.Code = newCode()
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO vouchers (id, user_id, deal_id, code, status, claimed_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			voucher.ID, voucher.UserID, voucher.DealID, voucher.Code,
			string(voucher.Status), fmtTime(voucher.ClaimedAt), fmtTime(voucher.ExpiresAt),
		)
		if err == nil {
			inserted = true
			break
		}
		if isUniqueViolation(err, "vouchers.code") {
			continue
		}
		return nil, nil, fmt.Errorf("failed to insert voucher: %w", err)
	}
	if !inserted {
		return nil, nil, models.ErrCodeGenerationFailed
	}

	res, err := tx.ExecContext(
		ctx,
		`UPDATE deals SET claimed_count = claimed_count + 1, updated_at = ?
		WHERE id = ? AND claimed_count < max_redemptions`,
		fmtTime(now), dealID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reserve deal capacity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return nil, nil, models.ErrDealFull
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	deal.ClaimedCount++
	deal.UpdatedAt = now.UTC()

	return &voucher, deal, nil
}

// RedeemVoucher finalizes a voucher exactly once. The status flip is guarded
// by `status = CLAIMED` in the UPDATE, so a concurrent redemption of the same
// code loses the race and reports ALREADY_REDEEMED.
//
// When idemKey is non-empty the serialized receipt is stored under the key in
// the same transaction as the status flip. A caller that observes
// ALREADY_REDEEMED afterwards can therefore rely on the stored response
// already being visible. The returned body is the canonical stored bytes, or
// nil when no key was supplied.
func (db *DB) RedeemVoucher(ctx context.Context, code string, actor models.Actor, now time.Time, idemKey string, idemTTL time.Duration) (*models.RedemptionReceipt, []byte, string, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		voucher      models.Voucher
		claimedAtStr string
		expiresAtStr string
		redeemedAt   sql.NullString
		statusStr    string
		venueMerchant, venueName, customerName string
	)
	err = tx.QueryRowContext(
		ctx,
		`SELECT v.id, v.user_id, v.deal_id, v.code, v.status, v.claimed_at, v.expires_at, v.redeemed_at,
			ve.merchant_id, ve.name, u.display_name
		FROM vouchers v
		JOIN deals d ON d.id = v.deal_id
		JOIN venues ve ON ve.id = d.venue_id
		JOIN users u ON u.id = v.user_id
		WHERE v.code = ?`,
		code,
	).Scan(
		&voucher.ID, &voucher.UserID, &voucher.DealID, &voucher.Code, &statusStr,
		&claimedAtStr, &expiresAtStr, &redeemedAt,
		&venueMerchant, &venueName, &customerName,
	)
	if err == sql.ErrNoRows {
		return nil, nil, "", models.ErrVoucherNotFound
	}
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to query voucher: %w", err)
	}

	voucher.Status = models.VoucherStatus(statusStr)
	if voucher.ClaimedAt, err = parseTime(claimedAtStr); err != nil {
		return nil, nil, "", fmt.Errorf("failed to parse claimed_at: %w", err)
	}
	if voucher.ExpiresAt, err = parseTime(expiresAtStr); err != nil {
		return nil, nil, "", fmt.Errorf("failed to parse expires_at: %w", err)
	}

	deal, err := getDealForUpdate(ctx, tx, voucher.DealID)
	if err != nil {
		return nil, nil, "", err
	}

	if err := models.CheckRedeemable(&voucher, deal, now); err != nil {
		return nil, nil, "", err
	}

	if actor.Role == models.RoleMerchant && actor.MerchantID != venueMerchant {
		return nil, nil, "", models.ErrUnauthorizedVenue
	}

	res, err := tx.ExecContext(
		ctx,
		`UPDATE vouchers SET status = ?, redeemed_at = ? WHERE id = ? AND status = ?`,
		string(models.VoucherStatusRedeemed), fmtTime(now), voucher.ID, string(models.VoucherStatusClaimed),
	)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to redeem voucher: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return nil, nil, "", models.ErrAlreadyRedeemed
	}

	_, err = tx.ExecContext(
		ctx,
		`UPDATE deals SET redeemed_count = redeemed_count + 1, updated_at = ? WHERE id = ?`,
		fmtTime(now), voucher.DealID,
	)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to bump redeemed count: %w", err)
	}

	receipt := &models.RedemptionReceipt{
		RedemptionID: voucher.ID,
		RedeemedAt:   now.UTC(),
		DealTitle:    deal.Title,
		VenueName:    venueName,
		CustomerName: customerName,
	}

	var storedBody []byte
	if idemKey != "" {
		body, err := json.Marshal(receipt)
		if err != nil {
			return nil, nil, "", fmt.Errorf("failed to serialize receipt: %w", err)
		}
		storedBody, _, err = saveIdempotentResponse(ctx, tx, idemKey, http.StatusOK, body, now, idemTTL)
		if err != nil {
			return nil, nil, "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, "", fmt.Errorf("failed to commit redemption: %w", err)
	}

	return receipt, storedBody, voucher.DealID, nil
}

// GetUserVouchers returns a user's vouchers, most recent first. Stale CLAIMED
// rows are flipped to EXPIRED on the way out so clients never see an
// apparently-active voucher that is past its expiry.
func (db *DB) GetUserVouchers(ctx context.Context, userID string, now time.Time) ([]models.Voucher, error) {
	_, err := db.conn.ExecContext(
		ctx,
		`UPDATE vouchers SET status = ? WHERE user_id = ? AND status = ? AND expires_at <= ?`,
		string(models.VoucherStatusExpired), userID, string(models.VoucherStatusClaimed), fmtTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to expire stale vouchers: %w", err)
	}

	rows, err := db.conn.QueryContext(
		ctx,
		`SELECT id, user_id, deal_id, code, status, claimed_at, expires_at, redeemed_at
		FROM vouchers WHERE user_id = ? ORDER BY claimed_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query vouchers: %w", err)
	}
	defer rows.Close()

	var vouchers []models.Voucher
	for rows.Next() {
		var v models.Voucher
		var claimedAtStr, expiresAtStr, statusStr string
		var redeemedAt sql.NullString

		if err := rows.Scan(&v.ID, &v.UserID, &v.DealID, &v.Code, &statusStr, &claimedAtStr, &expiresAtStr, &redeemedAt); err != nil {
			return nil, fmt.Errorf("failed to scan voucher: %w", err)
		}
		v.Status = models.VoucherStatus(statusStr)
		if v.ClaimedAt, err = parseTime(claimedAtStr); err != nil {
			return nil, fmt.Errorf("failed to parse claimed_at: %w", err)
		}
		if v.ExpiresAt, err = parseTime(expiresAtStr); err != nil {
			return nil, fmt.Errorf("failed to parse expires_at: %w", err)
		}
		if redeemedAt.Valid {
			t, err := parseTime(redeemedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse redeemed_at: %w", err)
			}
			v.RedeemedAt = &t
		}
		vouchers = append(vouchers, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vouchers: %w", err)
	}

	return vouchers, nil
}

// CancelVoucher administratively cancels an active voucher and releases its
// reserved capacity back to the deal. Terminal vouchers are left untouched.
func (db *DB) CancelVoucher(ctx context.Context, code string, now time.Time) (string, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var dealID, statusStr string
	err = tx.QueryRowContext(ctx, `SELECT deal_id, status FROM vouchers WHERE code = ?`, code).Scan(&dealID, &statusStr)
	if err == sql.ErrNoRows {
		return "", models.ErrVoucherNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query voucher: %w", err)
	}

	switch models.VoucherStatus(statusStr) {
	case models.VoucherStatusRedeemed:
		return "", models.ErrAlreadyRedeemed
	case models.VoucherStatusCancelled:
		return "", models.ErrVoucherCancelled
	case models.VoucherStatusExpired:
		return "", models.ErrVoucherExpired
	}

	res, err := tx.ExecContext(
		ctx,
		`UPDATE vouchers SET status = ? WHERE code = ? AND status = ?`,
		string(models.VoucherStatusCancelled), code,
		string(models.VoucherStatusClaimed),
	)
	if err != nil {
		return "", fmt.Errorf("failed to cancel voucher: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return "", models.ErrVoucherNotFound
	}

	_, err = tx.ExecContext(
		ctx,
		`UPDATE deals SET claimed_count = claimed_count - 1, updated_at = ? WHERE id = ? AND claimed_count > 0`,
		fmtTime(now), dealID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to release deal capacity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit cancellation: %w", err)
	}

	return dealID, nil
}
