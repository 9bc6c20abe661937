package services

import (
	"fmt"

	"esports-platform/models"
)

// FailureCode classifies an expected, user-facing rejection.
type FailureCode string

const (
	FailurePolicyViolation    FailureCode = "policy_violation"
	FailureValidation         FailureCode = "validation_error"
	FailureNotFound           FailureCode = "not_found"
	FailureInsufficientFunds  FailureCode = "insufficient_balance"
	FailureSelfTransfer       FailureCode = "self_transfer"
	FailureBelowMinimumPayout FailureCode = "below_minimum_payout"
	FailureNotCreator         FailureCode = "not_creator"
	FailureForbidden          FailureCode = "forbidden"
	FailureInvalidState       FailureCode = "invalid_state"
	FailureTournamentFull     FailureCode = "tournament_full"
	FailureAlreadyRegistered  FailureCode = "already_registered"
	FailureAlreadyResolved    FailureCode = "already_resolved"
)

// Failure describes why an operation was rejected. Violations is set for
// policy rejections.
type Failure struct {
	Code       FailureCode        `json:"code"`
	Message    string             `json:"message"`
	Violations []models.Violation `json:"violations,omitempty"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// OperationResult carries either a success payload or a typed failure.
// Infrastructure errors travel separately as a Go error.
type OperationResult[S any] struct {
	Success *S
	Failure *Failure
}

func succeed[S any](s S) OperationResult[S] {
	return OperationResult[S]{Success: &s}
}

func fail[S any](code FailureCode, format string, args ...any) OperationResult[S] {
	return OperationResult[S]{Failure: &Failure{Code: code, Message: fmt.Sprintf(format, args...)}}
}

func rejectPolicy[S any](message string, vs []models.Violation) OperationResult[S] {
	return OperationResult[S]{Failure: &Failure{Code: FailurePolicyViolation, Message: message, Violations: vs}}
}

// OK reports whether the operation succeeded.
func (r OperationResult[S]) OK() bool {
	return r.Failure == nil && r.Success != nil
}
