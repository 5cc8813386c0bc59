package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"happy-hour-api/internal/models"
)

var (
	uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	codeRegex = regexp.MustCompile(`^[A-Z0-9]{8}$`)
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateDeal checks a merchant-supplied deal payload.
func ValidateDeal(deal models.Deal) error {
	if err := ValidateUUID(deal.ID, "id"); err != nil {
		return err
	}

	if err := ValidateUUID(deal.VenueID, "venue_id"); err != nil {
		return err
	}

	if strings.TrimSpace(deal.Title) == "" {
		return &ValidationError{
			Field:   "title",
			Message: "is required",
		}
	}

	if deal.PercentOff < 1 || deal.PercentOff > 100 {
		return &ValidationError{
			Field:   "percent_off",
			Message: "must be between 1 and 100",
		}
	}

	if deal.MaxRedemptions < 0 {
		return &ValidationError{
			Field:   "max_redemptions",
			Message: "must be non-negative",
		}
	}

	if deal.MinSpendCents != nil && *deal.MinSpendCents < 0 {
		return &ValidationError{
			Field:   "min_spend_cents",
			Message: "must be non-negative",
		}
	}

	if deal.StartsAt.IsZero() {
		return &ValidationError{
			Field:   "starts_at",
			Message: "is required",
		}
	}

	if deal.EndsAt.IsZero() {
		return &ValidationError{
			Field:   "ends_at",
			Message: "is required",
		}
	}

	if !deal.StartsAt.Before(deal.EndsAt) {
		return &ValidationError{
			Field:   "starts_at",
			Message: "must be before ends_at",
		}
	}

	switch deal.Status {
	case "", models.DealStatusDraft, models.DealStatusLive:
		// merchants may create drafts or go live directly
	default:
		return &ValidationError{
			Field:   "status",
			Message: "must be DRAFT or LIVE at creation",
		}
	}

	return nil
}

// ValidateClaimRequest checks the POST /claim payload.
func ValidateClaimRequest(req models.ClaimRequest) error {
	if err := ValidateUUID(req.DealID, "deal_id"); err != nil {
		return err
	}
	return ValidateUUID(req.UserID, "user_id")
}

// ValidateCode checks a redemption code's shape before hitting the database.
func ValidateCode(code string) error {
	if code == "" {
		return &ValidationError{
			Field:   "code",
			Message: "is required",
		}
	}

	if !codeRegex.MatchString(code) {
		return &ValidationError{
			Field:   "code",
			Message: "must be 8 uppercase alphanumeric characters",
		}
	}

	return nil
}

// ValidateReportRequest checks the abuse report payload.
func ValidateReportRequest(req models.ReportRequest) error {
	if err := ValidateUUID(req.ReporterID, "reporter_id"); err != nil {
		return err
	}

	if len(req.Reason) > 500 {
		return &ValidationError{
			Field:   "reason",
			Message: "cannot exceed 500 characters",
		}
	}

	return nil
}

// SanitizeString strips control characters and trims whitespace.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

func ValidateUUID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	id = SanitizeString(id)

	if !uuidRegex.MatchString(strings.ToLower(id)) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a valid UUID v4",
		}
	}

	return nil
}

// ValidateTimeString parses an RFC3339 timestamp.
func ValidateTimeString(timeStr string) (time.Time, error) {
	if timeStr == "" {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "is required",
		}
	}

	t, err := time.Parse(time.RFC3339, timeStr)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "must be a valid RFC3339 timestamp",
		}
	}

	return t, nil
}
