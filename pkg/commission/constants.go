package commission

import "time"

const (
	operationRegisterAgent     = "register_agent"
	operationRegisterOrder     = "register_order"
	operationRelease           = "release"
	operationUpdateReleaseDate = "update_release_date"
	operationCancel            = "cancel"
	operationClaim             = "claim"
	operationFixBalance        = "fix_balance"
	operationReset             = "reset_all"

	operationStatusOK             = "ok"
	operationStatusError          = "error"
	operationStatusAlreadySettled = "already_settled"
	operationStatusCancelled      = "cancelled"

	standardReleaseWindow = 30 * 24 * time.Hour
	groupReleaseWindow    = 100 * 24 * time.Hour

	defaultPageSize = 50
	maxPageSize     = 200
	defaultListSize = 100

	// MaxReasonLength bounds a cancellation reason, counted in characters.
	MaxReasonLength = 500

	// ResetConfirmationPhrase must be typed verbatim to run ResetAllCommissions.
	ResetConfirmationPhrase = "אפס עמלות"
)

// Operation names as they appear in audit entries and operation logs.
const (
	OperationRelease           = operationRelease
	OperationUpdateReleaseDate = operationUpdateReleaseDate
	OperationCancel            = operationCancel
	OperationClaim             = operationClaim
	OperationFixBalance        = operationFixBalance
	OperationReset             = operationReset
)

// Operation log statuses.
const (
	LogStatusOK             = operationStatusOK
	LogStatusError          = operationStatusError
	LogStatusAlreadySettled = operationStatusAlreadySettled
	LogStatusCancelled      = operationStatusCancelled
)
