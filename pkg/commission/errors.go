package commission

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes. Every domain error wraps exactly one of these.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrValidation          = errors.New("validation failed")
	ErrAlreadySettled      = errors.New("commission already settled")
	ErrInvalidConfirmation = errors.New("invalid confirmation phrase")
	ErrConflict            = errors.New("conflict")
)

// Domain-level error values returned by the commission service.
var (
	ErrOrderNotFound          = fmt.Errorf("%w: order", ErrNotFound)
	ErrCommissionNotFound     = fmt.Errorf("%w: commission", ErrNotFound)
	ErrAgentNotFound          = fmt.Errorf("%w: agent", ErrNotFound)
	ErrInsufficientBalance    = fmt.Errorf("%w: insufficient agent balance", ErrInvalidState)
	ErrCommissionStateChanged = fmt.Errorf("%w: commission changed concurrently", ErrConflict)
	ErrDuplicateOrder         = fmt.Errorf("%w: order already exists", ErrConflict)
	ErrDuplicateAgent         = fmt.Errorf("%w: agent already exists", ErrConflict)

	ErrInvalidOrderID       = fmt.Errorf("%w: invalid order id", ErrValidation)
	ErrInvalidAgentID       = fmt.Errorf("%w: invalid agent id", ErrValidation)
	ErrInvalidActor         = fmt.Errorf("%w: invalid actor", ErrValidation)
	ErrInvalidReason        = fmt.Errorf("%w: invalid reason", ErrValidation)
	ErrInvalidAmountCents   = fmt.Errorf("%w: invalid amount cents", ErrValidation)
	ErrInvalidOrderType     = fmt.Errorf("%w: invalid order type", ErrValidation)
	ErrInvalidStatus        = fmt.Errorf("%w: invalid commission status", ErrValidation)
	ErrInvalidReleaseDate   = fmt.Errorf("%w: invalid release date", ErrValidation)
	ErrInvalidOrderDate     = fmt.Errorf("%w: invalid order date", ErrValidation)
	ErrInvalidDateRange     = fmt.Errorf("%w: invalid date range", ErrValidation)
	ErrInvalidPage          = fmt.Errorf("%w: invalid page", ErrValidation)
	ErrInvalidAgentName     = fmt.Errorf("%w: invalid agent name", ErrValidation)
	ErrInvalidServiceConfig = fmt.Errorf("%w: invalid service config", ErrValidation)
)

// StateError reports a transition that the lifecycle graph does not allow.
// It carries the state actually observed so callers can re-render correctly.
type StateError struct {
	OrderID   OrderID
	Operation string
	Current   CommissionState
	Expected  []CommissionStatus
	Hint      string
}

// Error returns the formatted error message.
func (stateError *StateError) Error() string {
	expected := make([]string, 0, len(stateError.Expected))
	for _, status := range stateError.Expected {
		expected = append(expected, status.String())
	}
	message := fmt.Sprintf("%s: order %s is %s (settled=%t), expected %s",
		stateError.Operation,
		stateError.OrderID.String(),
		stateError.Current.Status.String(),
		stateError.Current.Settled,
		strings.Join(expected, "|"),
	)
	if stateError.Hint != "" {
		message += ": " + stateError.Hint
	}
	return message
}

// Unwrap returns ErrInvalidState.
func (stateError *StateError) Unwrap() error {
	return ErrInvalidState
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
