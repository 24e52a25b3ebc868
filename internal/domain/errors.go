package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrConventionNotFound = errors.New("convention not found")
	ErrEventNotFound      = errors.New("outbox event not found")
)

// DenialReason classifies why a transition was refused.
type DenialReason string

const (
	ReasonIllegalTransition    DenialReason = "ILLEGAL_TRANSITION"
	ReasonForbiddenRole        DenialReason = "FORBIDDEN_ROLE"
	ReasonMissingJustification DenialReason = "MISSING_JUSTIFICATION"
	ReasonMissingSignatures    DenialReason = "MISSING_SIGNATURES"
)

// TransitionDeniedError is returned when the policy refuses a requested
// status change. It carries everything the denial log line needs.
type TransitionDeniedError struct {
	ConventionID string
	Current      Status
	Requested    Status
	Role         Role
	Reason       DenialReason
}

func (e *TransitionDeniedError) Error() string {
	switch e.Reason {
	case ReasonForbiddenRole:
		return fmt.Sprintf("role %q may not move convention %s from %q to %q", e.Role, e.ConventionID, e.Current, e.Requested)
	case ReasonMissingJustification:
		return fmt.Sprintf("moving convention %s to %q requires a justification", e.ConventionID, e.Requested)
	case ReasonMissingSignatures:
		return fmt.Sprintf("convention %s cannot reach %q until all mandatory signatories have signed", e.ConventionID, e.Requested)
	default:
		return fmt.Sprintf("transition %q to %q is not allowed for convention %s", e.Current, e.Requested, e.ConventionID)
	}
}

// ConcurrentModificationError is returned when the conditional update
// found the convention no longer in the expected status. The caller must
// re-read and retry the use case, not the raw write.
type ConcurrentModificationError struct {
	ConventionID string
	Expected     Status
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("convention %s is no longer in status %q", e.ConventionID, e.Expected)
}
