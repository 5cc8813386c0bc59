package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"happy-hour-api/internal/cache"
	"happy-hour-api/internal/database"
	"happy-hour-api/internal/events"
	"happy-hour-api/internal/features"
	"happy-hour-api/internal/models"
	"happy-hour-api/internal/validation"
)

const (
	// DefaultClaimWindow bounds how long a claimed voucher stays redeemable.
	// The effective expiry is min(deal end, claim time + window).
	DefaultClaimWindow = 24 * time.Hour
	// MinClaimWindow is the configuration floor for the claim window.
	MinClaimWindow = 15 * time.Minute
	// DefaultIdempotencyTTL is how long a stored redemption response can be
	// replayed.
	DefaultIdempotencyTTL = 24 * time.Hour

	dealCacheTTL = 30 * time.Second
)

// Service provides the claim/redeem business logic on top of the database
// layer, plus deal reads with an optional cache and audit event publishing.
type Service struct {
	db          *database.DB
	cache       cache.Cache
	events      *events.Manager
	flags       *features.Manager
	claimWindow time.Duration
	idemTTL     time.Duration
}

// Options holds optional collaborators for a Service.
type Options struct {
	Cache          cache.Cache
	Events         *events.Manager
	Flags          *features.Manager
	ClaimWindow    time.Duration
	IdempotencyTTL time.Duration
}

// NewService creates a service with default options.
func NewService(db *database.DB) *Service {
	return NewServiceWithOptions(db, Options{})
}

// NewServiceWithOptions creates a service with explicit collaborators.
func NewServiceWithOptions(db *database.DB, opts Options) *Service {
	claimWindow := opts.ClaimWindow
	if claimWindow <= 0 {
		claimWindow = DefaultClaimWindow
	}
	if claimWindow < MinClaimWindow {
		claimWindow = MinClaimWindow
	}

	idemTTL := opts.IdempotencyTTL
	if idemTTL <= 0 {
		idemTTL = DefaultIdempotencyTTL
	}

	return &Service{
		db:          db,
		cache:       opts.Cache,
		events:      opts.Events,
		flags:       opts.Flags,
		claimWindow: claimWindow,
		idemTTL:     idemTTL,
	}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && (s.flags == nil || s.flags.IsEnabled(features.FeatureDealCache))
}

func (s *Service) softHideEnabled() bool {
	return s.flags == nil || s.flags.IsEnabled(features.FeatureAbuseSoftHide)
}

// CreateDeal validates and stores a merchant-created deal.
func (s *Service) CreateDeal(ctx context.Context, deal models.Deal) (*models.Deal, error) {
	if deal.Status == "" {
		deal.Status = models.DealStatusDraft
	}
	if err := validation.ValidateDeal(deal); err != nil {
		return nil, err
	}

	venue, err := s.db.GetVenue(ctx, deal.VenueID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up venue: %w", err)
	}
	if venue == nil {
		return nil, &validation.ValidationError{Field: "venue_id", Message: "does not reference a known venue"}
	}

	now := time.Now().UTC()
	deal.ClaimedCount = 0
	deal.RedeemedCount = 0
	deal.CreatedAt = now
	deal.UpdatedAt = now

	if err := s.db.CreateDeal(ctx, deal); err != nil {
		return nil, err
	}

	return &deal, nil
}

// GetDeal returns a deal, reading through the cache when enabled.
func (s *Service) GetDeal(ctx context.Context, dealID string) (*models.Deal, error) {
	if err := validation.ValidateUUID(dealID, "deal_id"); err != nil {
		return nil, err
	}

	if s.cacheEnabled() {
		var cached models.Deal
		if err := cache.GetJSON(ctx, s.cache, cache.DealKey(dealID), &cached); err == nil {
			return &cached, nil
		}
	}

	deal, err := s.db.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}

	if s.cacheEnabled() {
		_ = cache.SetJSON(ctx, s.cache, cache.DealKey(dealID), deal, dealCacheTTL)
	}

	return deal, nil
}

// ListClaimableDeals returns deals currently open for claims.
func (s *Service) ListClaimableDeals(ctx context.Context, now time.Time) ([]models.Deal, error) {
	return s.db.ListClaimableDeals(ctx, now)
}

// invalidateDeal drops a deal from the cache after any counter or status
// mutation.
func (s *Service) invalidateDeal(ctx context.Context, dealID string) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, cache.DealKey(dealID))
	}
}

// Claim issues a voucher for (user, deal) at the given time. All invariant
// checks and writes happen atomically in the database layer.
func (s *Service) Claim(ctx context.Context, req models.ClaimRequest, now time.Time) (*models.ClaimResponse, error) {
	req.DealID = validation.SanitizeString(req.DealID)
	req.UserID = validation.SanitizeString(req.UserID)
	if err := validation.ValidateClaimRequest(req); err != nil {
		return nil, err
	}

	user, err := s.db.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, &validation.ValidationError{Field: "user_id", Message: "does not reference a known user"}
	}

	voucher, deal, err := s.db.ClaimVoucher(ctx, req.UserID, req.DealID, now, s.claimWindow)
	if err != nil {
		return nil, err
	}

	s.invalidateDeal(ctx, deal.ID)
	if s.events != nil {
		s.events.PublishVoucherClaimed(ctx, *voucher)
	}

	return &models.ClaimResponse{
		Redemption: models.ClaimedVoucher{
			ID:        voucher.ID,
			Code:      voucher.Code,
			Status:    voucher.Status,
			ExpiresAt: voucher.ExpiresAt,
			CreatedAt: voucher.ClaimedAt,
		},
		Deal: *deal,
	}, nil
}

// Redeem finalizes a voucher and returns the serialized receipt plus the HTTP
// status to write. When an idempotency key is supplied, a stored prior
// response is returned byte-identical without re-executing the mutation, and
// a fresh success is persisted under the key before returning.
func (s *Service) Redeem(ctx context.Context, code string, actor models.Actor, idempotencyKey string, now time.Time) ([]byte, int, error) {
	code = strings.ToUpper(validation.SanitizeString(code))
	if err := validation.ValidateCode(code); err != nil {
		return nil, 0, err
	}

	if idempotencyKey != "" {
		body, status, ok, err := s.db.GetIdempotentResponse(ctx, idempotencyKey, now)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			return body, status, nil
		}
	}

	receipt, body, dealID, err := s.db.RedeemVoucher(ctx, code, actor, now, idempotencyKey, s.idemTTL)
	if err != nil {
		// Two identical retries can race past the key lookup; the loser
		// hits the status guard. The winner persists the key row in the
		// same transaction as the status flip, so the loser is
		// guaranteed to find the stored response here.
		if idempotencyKey != "" && errors.Is(err, models.ErrAlreadyRedeemed) {
			body, status, ok, lookupErr := s.db.GetIdempotentResponse(ctx, idempotencyKey, now)
			if lookupErr == nil && ok {
				return body, status, nil
			}
		}
		return nil, 0, err
	}

	status := http.StatusOK
	if body == nil {
		if body, err = json.Marshal(receipt); err != nil {
			return nil, 0, fmt.Errorf("failed to serialize receipt: %w", err)
		}
	}

	s.invalidateDeal(ctx, dealID)
	if s.events != nil {
		s.events.PublishVoucherRedeemed(ctx, *receipt, code, actor)
	}

	return body, status, nil
}

// ReportDeal files an abuse report and applies the soft-hide threshold.
func (s *Service) ReportDeal(ctx context.Context, dealID string, req models.ReportRequest, now time.Time) (*models.ReportResponse, error) {
	dealID = validation.SanitizeString(dealID)
	req.ReporterID = validation.SanitizeString(req.ReporterID)
	req.Reason = validation.SanitizeString(req.Reason)

	if err := validation.ValidateUUID(dealID, "deal_id"); err != nil {
		return nil, err
	}
	if err := validation.ValidateReportRequest(req); err != nil {
		return nil, err
	}

	report, err := s.db.FileReport(ctx, dealID, req.ReporterID, req.Reason, now, s.softHideEnabled())
	if err != nil {
		return nil, err
	}

	s.invalidateDeal(ctx, dealID)
	if s.events != nil {
		s.events.PublishDealReported(ctx, *report, req.ReporterID)
	}

	return report, nil
}

// UserVouchers lists a user's vouchers with lazy expiry applied.
func (s *Service) UserVouchers(ctx context.Context, userID string, now time.Time) (*models.VouchersResponse, error) {
	userID = validation.SanitizeString(userID)
	if err := validation.ValidateUUID(userID, "user_id"); err != nil {
		return nil, err
	}

	vouchers, err := s.db.GetUserVouchers(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	return &models.VouchersResponse{UserID: userID, Vouchers: vouchers}, nil
}

// CancelVoucher administratively cancels an active voucher.
func (s *Service) CancelVoucher(ctx context.Context, code string, now time.Time) error {
	code = strings.ToUpper(validation.SanitizeString(code))
	if err := validation.ValidateCode(code); err != nil {
		return err
	}

	dealID, err := s.db.CancelVoucher(ctx, code, now)
	if err != nil {
		return err
	}

	s.invalidateDeal(ctx, dealID)
	return nil
}

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.New().String()
}
