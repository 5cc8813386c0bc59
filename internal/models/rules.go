package models

import "time"

// IsClaimable reports whether the deal can accept a new claim at the given
// time: it must be LIVE, inside its validity window, and under capacity.
func (d *Deal) IsClaimable(now time.Time) bool {
	return d.ClaimableError(now) == nil
}

// ClaimableError returns the specific reason a deal cannot be claimed, or nil
// when it is claimable. No side effects.
func (d *Deal) ClaimableError(now time.Time) *DomainError {
	if d.Status != DealStatusLive {
		return ErrDealInactive
	}
	if now.Before(d.StartsAt) || now.After(d.EndsAt) {
		return ErrDealExpired
	}
	if d.ClaimedCount >= d.MaxRedemptions {
		return ErrDealFull
	}
	return nil
}

// CheckRedeemable validates that a voucher can be finalized against its deal
// at the given time. The checks run in a fixed order so callers always see
// the most specific failure: voucher terminal states first, then voucher
// expiry, then deal state. A voucher past its expires_at is rejected even if
// the stored status has not been flipped yet.
func CheckRedeemable(v *Voucher, d *Deal, now time.Time) error {
	if v == nil {
		return ErrVoucherNotFound
	}
	if v.Status == VoucherStatusRedeemed {
		return ErrAlreadyRedeemed
	}
	if v.Status == VoucherStatusCancelled {
		return ErrVoucherCancelled
	}
	if v.Status == VoucherStatusExpired || now.After(v.ExpiresAt) {
		return ErrVoucherExpired
	}
	if d.Status != DealStatusLive {
		return ErrDealInactive
	}
	if now.Before(d.StartsAt) || now.After(d.EndsAt) {
		return ErrDealExpired
	}
	return nil
}
