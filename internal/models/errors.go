package models

import "net/http"

// DomainError is a business-rule failure with a machine-readable code and the
// HTTP status it maps to at the handler boundary. Raw datastore errors never
// reach clients; anything that is not a DomainError is surfaced as a generic
// 500.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e *DomainError) Error() string {
	return e.Message
}

var (
	ErrDealNotFound = &DomainError{
		Code: "DEAL_NOT_FOUND", Message: "deal not found", HTTPStatus: http.StatusNotFound,
	}
	ErrVoucherNotFound = &DomainError{
		Code: "VOUCHER_NOT_FOUND", Message: "voucher not found", HTTPStatus: http.StatusNotFound,
	}
	ErrDealInactive = &DomainError{
		Code: "DEAL_INACTIVE", Message: "deal is not live", HTTPStatus: http.StatusBadRequest,
	}
	ErrDealExpired = &DomainError{
		Code: "DEAL_EXPIRED", Message: "deal is outside its validity window", HTTPStatus: http.StatusBadRequest,
	}
	ErrDealFull = &DomainError{
		Code: "DEAL_FULL", Message: "deal has no remaining capacity", HTTPStatus: http.StatusBadRequest,
	}
	ErrAlreadyClaimed = &DomainError{
		Code: "ALREADY_CLAIMED", Message: "user already holds an active voucher for this deal", HTTPStatus: http.StatusBadRequest,
	}
	ErrAlreadyRedeemed = &DomainError{
		Code: "ALREADY_REDEEMED", Message: "voucher has already been redeemed", HTTPStatus: http.StatusBadRequest,
	}
	ErrVoucherExpired = &DomainError{
		Code: "VOUCHER_EXPIRED", Message: "voucher has expired", HTTPStatus: http.StatusBadRequest,
	}
	ErrVoucherCancelled = &DomainError{
		Code: "VOUCHER_CANCELLED", Message: "voucher has been cancelled", HTTPStatus: http.StatusBadRequest,
	}
	ErrUnauthorizedVenue = &DomainError{
		Code: "UNAUTHORIZED_VENUE", Message: "actor may not redeem vouchers for this venue", HTTPStatus: http.StatusForbidden,
	}
	ErrCodeGenerationFailed = &DomainError{
		Code: "CODE_GENERATION_FAILED", Message: "could not generate a unique redemption code", HTTPStatus: http.StatusInternalServerError,
	}
)
