package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"happy-hour-api/internal/middleware"
	"happy-hour-api/internal/models"
	"happy-hour-api/internal/service"
	"happy-hour-api/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20, // 1MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
	}
}

// requestTime returns the effective "now" for a request. Tests and back-office
// tooling may pin it with an RFC3339 'now' query parameter.
func (h *Handler) requestTime(r *http.Request) (time.Time, error) {
	nowParam := r.URL.Query().Get("now")
	if nowParam == "" {
		return time.Now().UTC(), nil
	}
	parsed, err := validation.ValidateTimeString(validation.SanitizeString(nowParam))
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

// decodeJSON decodes a size-limited JSON request body into dest.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if err == io.EOF {
			return &validation.ValidationError{Field: "body", Message: "request body is required"}
		}
		return &validation.ValidationError{Field: "body", Message: "invalid JSON in request body"}
	}
	return nil
}

// CreateDeal handles POST /deals
func (h *Handler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	var req models.Deal
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondDomainError(w, err)
		return
	}

	req.ID = validation.SanitizeString(req.ID)
	req.VenueID = validation.SanitizeString(req.VenueID)
	req.Title = validation.SanitizeString(req.Title)
	req.Description = validation.SanitizeString(req.Description)

	deal, err := h.service.CreateDeal(r.Context(), req)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, deal)
}

// GetDeal handles GET /deals/{deal_id}
func (h *Handler) GetDeal(w http.ResponseWriter, r *http.Request) {
	dealID := validation.SanitizeString(chi.URLParam(r, "deal_id"))

	deal, err := h.service.GetDeal(r.Context(), dealID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, deal)
}

// ListDeals handles GET /deals
func (h *Handler) ListDeals(w http.ResponseWriter, r *http.Request) {
	now, err := h.requestTime(r)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	deals, err := h.service.ListClaimableDeals(r.Context(), now)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.DealsResponse{Deals: deals})
}

// Claim handles POST /claim
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	now, err := h.requestTime(r)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	var req models.ClaimRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondDomainError(w, err)
		return
	}

	resp, err := h.service.Claim(r.Context(), req, now)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, resp)
}

// Redeem handles POST /redeem. The service returns the exact bytes to write
// so retried requests carrying the same Idempotency-Key receive a
// byte-identical response.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	now, err := h.requestTime(r)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	var req models.RedeemRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondDomainError(w, err)
		return
	}

	actor := middleware.ActorFrom(r.Context())
	idempotencyKey := validation.SanitizeString(r.Header.Get("Idempotency-Key"))

	body, status, err := h.service.Redeem(r.Context(), req.Code, actor, idempotencyKey, now)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// ReportDeal handles POST /deals/{deal_id}/reports
func (h *Handler) ReportDeal(w http.ResponseWriter, r *http.Request) {
	now, err := h.requestTime(r)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	var req models.ReportRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondDomainError(w, err)
		return
	}

	report, err := h.service.ReportDeal(r.Context(), chi.URLParam(r, "deal_id"), req, now)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, report)
}

// GetUserVouchers handles GET /users/{user_id}/vouchers
func (h *Handler) GetUserVouchers(w http.ResponseWriter, r *http.Request) {
	now, err := h.requestTime(r)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	resp, err := h.service.UserVouchers(r.Context(), chi.URLParam(r, "user_id"), now)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// CancelVoucher handles POST /vouchers/{code}/cancel (admin only, enforced by
// route middleware).
func (h *Handler) CancelVoucher(w http.ResponseWriter, r *http.Request) {
	now, err := h.requestTime(r)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	if err := h.service.CancelVoucher(r.Context(), chi.URLParam(r, "code"), now); err != nil {
		h.respondDomainError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondDomainError maps domain and validation failures to their HTTP shape.
// Anything unrecognized is logged and reported as a generic 500 so datastore
// details never leak to clients.
func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	var derr *models.DomainError
	var verr *validation.ValidationError

	switch {
	case errors.As(err, &derr):
		if derr.HTTPStatus >= http.StatusInternalServerError {
			log.Printf("domain error %s: %v", derr.Code, err)
		}
		h.respondJSON(w, derr.HTTPStatus, models.ErrorResponse{Error: derr.Message, Code: derr.Code})
	case errors.As(err, &verr):
		h.respondJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: verr.Error(), Code: "VALIDATION_ERROR"})
	default:
		log.Printf("internal error: %v", err)
		h.respondJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "internal server error"})
	}
}
