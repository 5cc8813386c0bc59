package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"happy-hour-api/internal/models"
)

func TestFileReport_ThresholdMovesDealUnderReview(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	dealID, _, _ := seedDeal(t, db, now, 10)

	for i := 0; i < 2; i++ {
		resp, err := db.FileReport(ctx, dealID, uuid.New().String(), "misleading discount", now, true)
		if err != nil {
			t.Fatalf("Report %d failed: %v", i, err)
		}
		if resp.DealStatus != models.DealStatusLive {
			t.Errorf("Expected deal to stay LIVE at %d reports, got %s", resp.PendingCount, resp.DealStatus)
		}
	}

	resp, err := db.FileReport(ctx, dealID, uuid.New().String(), "misleading discount", now, true)
	if err != nil {
		t.Fatalf("Third report failed: %v", err)
	}
	if resp.PendingCount != 3 {
		t.Errorf("Expected 3 pending reports, got %d", resp.PendingCount)
	}
	if resp.DealStatus != models.DealStatusUnderReview {
		t.Errorf("Expected UNDER_REVIEW at threshold, got %s", resp.DealStatus)
	}

	stored, err := db.GetDeal(ctx, dealID)
	if err != nil {
		t.Fatalf("Failed to reload deal: %v", err)
	}
	if stored.Status != models.DealStatusUnderReview {
		t.Errorf("Expected stored status UNDER_REVIEW, got %s", stored.Status)
	}
}

func TestFileReport_DuplicateReporterIgnored(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	dealID, _, _ := seedDeal(t, db, now, 10)

	reporterID := uuid.New().String()
	for i := 0; i < 5; i++ {
		resp, err := db.FileReport(ctx, dealID, reporterID, "spam", now, true)
		if err != nil {
			t.Fatalf("Report %d failed: %v", i, err)
		}
		if resp.PendingCount != 1 {
			t.Errorf("Expected repeat reports to count once, got %d", resp.PendingCount)
		}
		if resp.DealStatus != models.DealStatusLive {
			t.Errorf("Expected deal to stay LIVE, got %s", resp.DealStatus)
		}
	}
}

func TestFileReport_SoftHideDisabled(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	dealID, _, _ := seedDeal(t, db, now, 10)

	for i := 0; i < 4; i++ {
		resp, err := db.FileReport(ctx, dealID, uuid.New().String(), "spam", now, false)
		if err != nil {
			t.Fatalf("Report %d failed: %v", i, err)
		}
		if resp.DealStatus != models.DealStatusLive {
			t.Errorf("Expected deal to stay LIVE with soft-hide off, got %s", resp.DealStatus)
		}
	}
}

func TestFileReport_UnknownDeal(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	_, err := db.FileReport(context.Background(), uuid.New().String(), uuid.New().String(), "spam", now, true)
	if err != models.ErrDealNotFound {
		t.Errorf("Expected ErrDealNotFound, got %v", err)
	}
}
