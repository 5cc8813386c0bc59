package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"happy-hour-api/internal/cache"
	"happy-hour-api/internal/database"
	"happy-hour-api/internal/models"
	"happy-hour-api/internal/validation"
)

func setupTestDB(t *testing.T) (*database.DB, func()) {
	dbPath := "./test_" + time.Now().Format("20060102150405") + ".db"
	db, err := database.NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(dbPath)
	}

	return db, cleanup
}

// seedLiveDeal creates a venue, a user and a LIVE deal via the database layer.
func seedLiveDeal(t *testing.T, db *database.DB, now time.Time, maxRedemptions int) (string, string, string) {
	t.Helper()
	ctx := context.Background()

	merchantID := uuid.New().String()
	venue := models.Venue{ID: uuid.New().String(), MerchantID: merchantID, Name: "Cask & Barrel"}
	if err := db.CreateVenue(ctx, venue); err != nil {
		t.Fatalf("Failed to create venue: %v", err)
	}

	user := models.User{ID: uuid.New().String(), DisplayName: "Sam K"}
	if err := db.CreateUser(ctx, user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	deal := models.Deal{
		ID:             uuid.New().String(),
		VenueID:        venue.ID,
		Title:          "Half-Price Wings",
		PercentOff:     50,
		StartsAt:       now.Add(-time.Hour),
		EndsAt:         now.Add(24 * time.Hour),
		MaxRedemptions: maxRedemptions,
		Status:         models.DealStatusLive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.CreateDeal(ctx, deal); err != nil {
		t.Fatalf("Failed to create deal: %v", err)
	}

	return deal.ID, user.ID, merchantID
}

func TestClaim_Success(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	dealID, userID, _ := seedLiveDeal(t, db, now, 10)

	resp, err := svc.Claim(ctx, models.ClaimRequest{DealID: dealID, UserID: userID}, now)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	if resp.Redemption.Code == "" {
		t.Error("Expected a redemption code on the response")
	}
	if resp.Redemption.Status != models.VoucherStatusClaimed {
		t.Errorf("Expected CLAIMED, got %s", resp.Redemption.Status)
	}
	if resp.Deal.ClaimedCount != 1 {
		t.Errorf("Expected claimed_count 1 on the deal snapshot, got %d", resp.Deal.ClaimedCount)
	}
}

func TestClaim_UnknownUser(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db)
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	dealID, _, _ := seedLiveDeal(t, db, now, 10)

	_, err := svc.Claim(context.Background(), models.ClaimRequest{DealID: dealID, UserID: uuid.New().String()}, now)
	var verr *validation.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected a validation error for unknown user, got %v", err)
	}
	if verr.Field != "user_id" {
		t.Errorf("Expected user_id field, got %s", verr.Field)
	}
}

func TestClaim_InvalidIDs(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db)
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

	_, err := svc.Claim(context.Background(), models.ClaimRequest{DealID: "not-a-uuid", UserID: uuid.New().String()}, now)
	var verr *validation.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Expected a validation error for bad deal_id, got %v", err)
	}
}

func TestRedeem_IdempotentReplay(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	dealID, userID, merchantID := seedLiveDeal(t, db, now, 10)

	resp, err := svc.Claim(ctx, models.ClaimRequest{DealID: dealID, UserID: userID}, now)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	actor := models.Actor{Role: models.RoleMerchant, MerchantID: merchantID}
	key := uuid.New().String()

	body1, status1, err := svc.Redeem(ctx, resp.Redemption.Code, actor, key, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("First redeem failed: %v", err)
	}
	if status1 != 200 {
		t.Errorf("Expected status 200, got %d", status1)
	}

	// Replay with the same key must not re-execute the mutation and must
	// return the exact same bytes.
	body2, status2, err := svc.Redeem(ctx, resp.Redemption.Code, actor, key, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if status2 != status1 {
		t.Errorf("Expected replayed status %d, got %d", status1, status2)
	}
	if !bytes.Equal(body1, body2) {
		t.Errorf("Expected byte-identical replay, got %s vs %s", body1, body2)
	}

	deal, err := db.GetDeal(ctx, dealID)
	if err != nil {
		t.Fatalf("Failed to reload deal: %v", err)
	}
	if deal.RedeemedCount != 1 {
		t.Errorf("Expected a single redemption, got redeemed_count %d", deal.RedeemedCount)
	}
}

func TestRedeem_ConcurrentSameKey(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	dealID, userID, merchantID := seedLiveDeal(t, db, now, 10)

	resp, err := svc.Claim(ctx, models.ClaimRequest{DealID: dealID, UserID: userID}, now)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	actor := models.Actor{Role: models.RoleMerchant, MerchantID: merchantID}
	key := uuid.New().String()

	const retries = 5
	bodies := make([][]byte, retries)
	errs := make([]error, retries)
	var wg sync.WaitGroup
	for i := 0; i < retries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bodies[i], _, errs[i] = svc.Redeem(ctx, resp.Redemption.Code, actor, key, now.Add(time.Minute))
		}(i)
	}
	wg.Wait()

	// The receipt is persisted under the key in the same transaction as
	// the status flip, so losers of the race still converge on the
	// winner's stored bytes rather than ALREADY_REDEEMED.
	for i := 0; i < retries; i++ {
		if errs[i] != nil {
			t.Fatalf("Redeem %d failed: %v", i, errs[i])
		}
		if !bytes.Equal(bodies[i], bodies[0]) {
			t.Errorf("Expected identical responses, got %s vs %s", bodies[0], bodies[i])
		}
	}

	deal, err := db.GetDeal(ctx, dealID)
	if err != nil {
		t.Fatalf("Failed to reload deal: %v", err)
	}
	if deal.RedeemedCount != 1 {
		t.Errorf("Expected a single redemption, got redeemed_count %d", deal.RedeemedCount)
	}
}

func TestRedeem_WithoutKeySecondAttemptFails(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	dealID, userID, merchantID := seedLiveDeal(t, db, now, 10)

	resp, err := svc.Claim(ctx, models.ClaimRequest{DealID: dealID, UserID: userID}, now)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	actor := models.Actor{Role: models.RoleMerchant, MerchantID: merchantID}
	if _, _, err := svc.Redeem(ctx, resp.Redemption.Code, actor, "", now.Add(time.Minute)); err != nil {
		t.Fatalf("First redeem failed: %v", err)
	}

	_, _, err = svc.Redeem(ctx, resp.Redemption.Code, actor, "", now.Add(2*time.Minute))
	if !errors.Is(err, models.ErrAlreadyRedeemed) {
		t.Errorf("Expected ErrAlreadyRedeemed, got %v", err)
	}
}

func TestRedeem_FreshKeyDoesNotReplay(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	dealID, userID, merchantID := seedLiveDeal(t, db, now, 10)

	resp, err := svc.Claim(ctx, models.ClaimRequest{DealID: dealID, UserID: userID}, now)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	actor := models.Actor{Role: models.RoleMerchant, MerchantID: merchantID}
	if _, _, err := svc.Redeem(ctx, resp.Redemption.Code, actor, uuid.New().String(), now.Add(time.Minute)); err != nil {
		t.Fatalf("First redeem failed: %v", err)
	}

	// A different key is a different logical request; it sees the real
	// state of the voucher.
	_, _, err = svc.Redeem(ctx, resp.Redemption.Code, actor, uuid.New().String(), now.Add(2*time.Minute))
	if !errors.Is(err, models.ErrAlreadyRedeemed) {
		t.Errorf("Expected ErrAlreadyRedeemed under a fresh key, got %v", err)
	}
}

func TestRedeem_CodeIsCaseInsensitive(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	dealID, userID, merchantID := seedLiveDeal(t, db, now, 10)

	resp, err := svc.Claim(ctx, models.ClaimRequest{DealID: dealID, UserID: userID}, now)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	actor := models.Actor{Role: models.RoleMerchant, MerchantID: merchantID}
	lower := " " + strings.ToLower(resp.Redemption.Code) + " "
	if _, _, err := svc.Redeem(ctx, lower, actor, "", now.Add(time.Minute)); err != nil {
		t.Errorf("Expected lowercased code to redeem, got %v", err)
	}
}

func TestRedeem_InvalidCodeShape(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db)
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

	actor := models.Actor{Role: models.RoleAdmin}
	_, _, err := svc.Redeem(context.Background(), "short", actor, "", now)
	var verr *validation.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Expected a validation error for malformed code, got %v", err)
	}
}

func TestReportDeal_Threshold(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	dealID, _, _ := seedLiveDeal(t, db, now, 10)

	var last *models.ReportResponse
	for i := 0; i < 3; i++ {
		var err error
		last, err = svc.ReportDeal(ctx, dealID, models.ReportRequest{
			ReporterID: uuid.New().String(),
			Reason:     "stale photo",
		}, now)
		if err != nil {
			t.Fatalf("Report %d failed: %v", i, err)
		}
	}

	if last.DealStatus != models.DealStatusUnderReview {
		t.Errorf("Expected UNDER_REVIEW after 3 reports, got %s", last.DealStatus)
	}

	// A hidden deal no longer shows up as claimable.
	deals, err := svc.ListClaimableDeals(ctx, now)
	if err != nil {
		t.Fatalf("Failed to list deals: %v", err)
	}
	for _, d := range deals {
		if d.ID == dealID {
			t.Error("Expected reported deal to be hidden from claimable list")
		}
	}
}

func TestCreateDeal_UnknownVenue(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db)
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

	_, err := svc.CreateDeal(context.Background(), models.Deal{
		ID:             uuid.New().String(),
		VenueID:        uuid.New().String(),
		Title:          "Ghost Deal",
		PercentOff:     20,
		StartsAt:       now,
		EndsAt:         now.Add(time.Hour),
		MaxRedemptions: 5,
	})
	var verr *validation.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected a validation error for unknown venue, got %v", err)
	}
	if verr.Field != "venue_id" {
		t.Errorf("Expected venue_id field, got %s", verr.Field)
	}
}

func TestGetDeal_CacheInvalidatedOnClaim(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewServiceWithOptions(db, Options{Cache: cache.NewInMemoryCache()})
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	dealID, userID, _ := seedLiveDeal(t, db, now, 10)

	// Prime the cache.
	if _, err := svc.GetDeal(ctx, dealID); err != nil {
		t.Fatalf("GetDeal failed: %v", err)
	}

	if _, err := svc.Claim(ctx, models.ClaimRequest{DealID: dealID, UserID: userID}, now); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	deal, err := svc.GetDeal(ctx, dealID)
	if err != nil {
		t.Fatalf("GetDeal after claim failed: %v", err)
	}
	if deal.ClaimedCount != 1 {
		t.Errorf("Expected cache to be invalidated after claim, got claimed_count %d", deal.ClaimedCount)
	}
}

func TestCancelVoucher_ViaService(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	dealID, userID, _ := seedLiveDeal(t, db, now, 10)

	resp, err := svc.Claim(ctx, models.ClaimRequest{DealID: dealID, UserID: userID}, now)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	if err := svc.CancelVoucher(ctx, resp.Redemption.Code, now.Add(time.Minute)); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	vouchers, err := svc.UserVouchers(ctx, userID, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Failed to list vouchers: %v", err)
	}
	if len(vouchers.Vouchers) != 1 || vouchers.Vouchers[0].Status != models.VoucherStatusCancelled {
		t.Errorf("Expected a single CANCELLED voucher, got %+v", vouchers.Vouchers)
	}
}
