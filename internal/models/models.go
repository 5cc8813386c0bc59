package models

import "time"

// DealStatus enumerates the lifecycle states of a deal.
type DealStatus string

const (
	DealStatusDraft       DealStatus = "DRAFT"
	DealStatusLive        DealStatus = "LIVE"
	DealStatusPaused      DealStatus = "PAUSED"
	DealStatusExpired     DealStatus = "EXPIRED"
	DealStatusUnderReview DealStatus = "UNDER_REVIEW"
)

// VoucherStatus enumerates the lifecycle states of a voucher.
// REDEEMED, EXPIRED and CANCELLED are terminal.
type VoucherStatus string

const (
	VoucherStatusClaimed   VoucherStatus = "CLAIMED"
	VoucherStatusRedeemed  VoucherStatus = "REDEEMED"
	VoucherStatusExpired   VoucherStatus = "EXPIRED"
	VoucherStatusCancelled VoucherStatus = "CANCELLED"
)

// Deal represents a time-boxed discount offer scoped to a venue.
// ClaimedCount tracks capacity reserved at claim time; RedeemedCount tracks
// finalized redemptions. Claimability is judged against ClaimedCount.
type Deal struct {
	ID             string     `json:"id"`       // uuid
	VenueID        string     `json:"venue_id"` // uuid
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	PercentOff     int        `json:"percent_off"` // 1-100
	StartsAt       time.Time  `json:"starts_at"`   // RFC3339 timestamp
	EndsAt         time.Time  `json:"ends_at"`     // RFC3339 timestamp
	MaxRedemptions int        `json:"max_redemptions"`
	ClaimedCount   int        `json:"claimed_count"`
	RedeemedCount  int        `json:"redeemed_count"`
	MinSpendCents  *int64     `json:"min_spend_cents,omitempty"`
	Status         DealStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Venue represents a merchant location that deals belong to.
type Venue struct {
	ID         string `json:"id"`          // uuid
	MerchantID string `json:"merchant_id"` // uuid
	Name       string `json:"name"`
}

// User represents a consumer account.
type User struct {
	ID          string `json:"id"` // uuid
	DisplayName string `json:"display_name"`
}

// Voucher is a per-user reservation against a deal's capacity, identified by
// a short unique redemption code.
type Voucher struct {
	ID         string        `json:"id"` // uuid
	UserID     string        `json:"user_id"`
	DealID     string        `json:"deal_id"`
	Code       string        `json:"code"` // 8-char alphanumeric, unique
	Status     VoucherStatus `json:"status"`
	ClaimedAt  time.Time     `json:"claimed_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
	RedeemedAt *time.Time    `json:"redeemed_at,omitempty"`
}

// RedemptionReceipt is the point-of-sale confirmation produced by a
// successful redemption.
type RedemptionReceipt struct {
	RedemptionID string    `json:"redemption_id"`
	RedeemedAt   time.Time `json:"redeemed_at"`
	DealTitle    string    `json:"deal_title"`
	VenueName    string    `json:"venue_name"`
	CustomerName string    `json:"customer_name"`
}

// Actor identifies the caller of a mutating endpoint, as established by the
// auth middleware. Merchant actors carry the merchant scope whose venues
// they may redeem at.
type Actor struct {
	Role       string // "consumer", "merchant" or "admin"
	MerchantID string // set for merchant actors
}

const (
	RoleConsumer = "consumer"
	RoleMerchant = "merchant"
	RoleAdmin    = "admin"
)

// ClaimRequest is the request body for POST /claim.
type ClaimRequest struct {
	DealID string `json:"deal_id"`
	UserID string `json:"user_id"`
}

// ClaimedVoucher is the voucher view returned to the claimant.
type ClaimedVoucher struct {
	ID        string        `json:"id"`
	Code      string        `json:"code"`
	Status    VoucherStatus `json:"status"`
	ExpiresAt time.Time     `json:"expires_at"`
	CreatedAt time.Time     `json:"created_at"`
}

// ClaimResponse is the success payload for POST /claim.
type ClaimResponse struct {
	Redemption ClaimedVoucher `json:"redemption"`
	Deal       Deal           `json:"deal"`
}

// RedeemRequest is the request body for POST /redeem.
type RedeemRequest struct {
	Code string `json:"code"`
}

// ReportRequest is the request body for POST /deals/{deal_id}/reports.
type ReportRequest struct {
	ReporterID string `json:"reporter_id"`
	Reason     string `json:"reason"`
}

// ReportResponse is the payload returned after filing an abuse report.
type ReportResponse struct {
	DealID       string     `json:"deal_id"`
	PendingCount int        `json:"pending_count"`
	DealStatus   DealStatus `json:"deal_status"`
}

// VouchersResponse is the payload for GET /users/{user_id}/vouchers.
type VouchersResponse struct {
	UserID   string    `json:"user_id"`
	Vouchers []Voucher `json:"vouchers"`
}

// DealsResponse is the payload for GET /deals.
type DealsResponse struct {
	Deals []Deal `json:"deals"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
