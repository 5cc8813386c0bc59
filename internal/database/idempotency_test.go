package database

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestIdempotency_SaveAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

	body := []byte(`{"redemption_id":"abc"}`)
	stored, status, err := db.SaveIdempotentResponse(ctx, "key-1", 200, body, now, time.Hour)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !bytes.Equal(stored, body) || status != 200 {
		t.Errorf("Expected canonical response to match input, got status %d body %s", status, stored)
	}

	got, gotStatus, ok, err := db.GetIdempotentResponse(ctx, "key-1", now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected stored response to be found")
	}
	if !bytes.Equal(got, body) || gotStatus != 200 {
		t.Errorf("Expected byte-identical replay, got status %d body %s", gotStatus, got)
	}
}

func TestIdempotency_FirstWriteWins(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

	first := []byte(`{"winner":true}`)
	if _, _, err := db.SaveIdempotentResponse(ctx, "key-1", 200, first, now, time.Hour); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	// A racing second save must come back with the first writer's bytes.
	stored, _, err := db.SaveIdempotentResponse(ctx, "key-1", 200, []byte(`{"winner":false}`), now, time.Hour)
	if err != nil {
		t.Fatalf("Second save failed: %v", err)
	}
	if !bytes.Equal(stored, first) {
		t.Errorf("Expected first writer's bytes, got %s", stored)
	}
}

func TestIdempotency_Expiry(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

	if _, _, err := db.SaveIdempotentResponse(ctx, "key-1", 200, []byte(`{}`), now, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	_, _, ok, err := db.GetIdempotentResponse(ctx, "key-1", now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("Expected expired key to be invisible")
	}

	deleted, err := db.DeleteExpiredIdempotencyKeys(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted key, got %d", deleted)
	}
}

func TestIdempotency_MissingKey(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	_, _, ok, err := db.GetIdempotentResponse(context.Background(), "nope", now)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("Expected missing key to report not found")
	}
}
