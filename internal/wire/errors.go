package wire

import (
	"errors"

	"github.com/MarkoPoloResearchLab/commissions/pkg/commission"
)

// Stable error codes returned to API callers.
const (
	CodeNotFound            = "not_found"
	CodeInvalidRequest      = "invalid_request"
	CodeInvalidConfirmation = "invalid_confirmation"
	CodeInsufficientBalance = "insufficient_balance"
	CodeInvalidState        = "invalid_state"
	CodeAlreadySettled      = "already_settled"
	CodeConflict            = "conflict"
	CodeUnauthorized        = "unauthorized"
	CodeForbidden           = "forbidden"
	CodeInternal            = "internal_error"
)

// ErrorCode classifies a domain error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, commission.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, commission.ErrInvalidConfirmation):
		return CodeInvalidConfirmation
	case errors.Is(err, commission.ErrValidation):
		return CodeInvalidRequest
	case errors.Is(err, commission.ErrAlreadySettled):
		return CodeAlreadySettled
	case errors.Is(err, commission.ErrInsufficientBalance):
		return CodeInsufficientBalance
	case errors.Is(err, commission.ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, commission.ErrConflict):
		return CodeConflict
	default:
		return CodeInternal
	}
}

// ErrorMessage hides internal failures and passes domain messages through.
func ErrorMessage(err error) string {
	if ErrorCode(err) == CodeInternal {
		return "internal error"
	}
	return err.Error()
}

// ErrorDetails exposes the observed state of a rejected transition so the
// caller can re-render without another round trip.
func ErrorDetails(err error) map[string]any {
	var stateError *commission.StateError
	if !errors.As(err, &stateError) {
		return nil
	}
	expected := make([]string, 0, len(stateError.Expected))
	for _, status := range stateError.Expected {
		expected = append(expected, status.String())
	}
	details := map[string]any{
		"order_id":       stateError.OrderID.String(),
		"current_status": stateError.Current.Status.String(),
		"settled":        stateError.Current.Settled,
		"expected":       expected,
	}
	if stateError.Hint != "" {
		details["hint"] = stateError.Hint
	}
	return details
}
