package world

import (
	"errors"
	"fmt"
)

// Expected domain conflicts. Rules model these explicitly; they are part of
// the domain contract, not failures.
var (
	// ErrAlreadyClaimed is returned when a claim attempt loses to an
	// existing claimant. Never a silent overwrite.
	ErrAlreadyClaimed = errors.New("dweller already claimed")

	// ErrNotClaimant is returned when a release is attempted by an actor
	// that does not hold the claim.
	ErrNotClaimant = errors.New("actor is not the current claimant")

	// ErrStillProcessing is returned when a mutation arrives while the
	// first call with the same idempotency key is still in progress.
	ErrStillProcessing = errors.New("mutation with this key is still processing")

	// ErrDuplicateReview is returned when a reviewer submits a second
	// review for the same proposal.
	ErrDuplicateReview = errors.New("reviewer already submitted for this proposal")

	// ErrSelfReview is returned when a proposal's author tries to review
	// their own proposal.
	ErrSelfReview = errors.New("author cannot review own proposal")

	// ErrNotAllowed is returned when an actor attempts a feedback
	// transition reserved for a different role.
	ErrNotAllowed = errors.New("actor may not perform this transition")

	// ErrInvalidTransition is returned for a feedback state change that
	// is not legal from the item's current status.
	ErrInvalidTransition = errors.New("invalid feedback state transition")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
)

// ConflictCode maps an expected domain conflict to its wire error code.
// Returns "" for errors that are not domain conflicts.
func ConflictCode(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrNotClaimant):
		return "not_claimant"
	case errors.Is(err, ErrStillProcessing):
		return "still_processing"
	case errors.Is(err, ErrDuplicateReview):
		return "duplicate_review"
	case errors.Is(err, ErrSelfReview):
		return "self_review"
	case errors.Is(err, ErrNotAllowed):
		return "not_allowed"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return ""
}

// ClaimConflictError carries the surviving claimant alongside
// ErrAlreadyClaimed so the caller sees who holds the dweller.
type ClaimConflictError struct {
	DwellerID string
	Claimant  string
}

func (e *ClaimConflictError) Error() string {
	return fmt.Sprintf("dweller %s already claimed by %s", e.DwellerID, e.Claimant)
}

// Unwrap makes errors.Is(err, ErrAlreadyClaimed) hold.
func (e *ClaimConflictError) Unwrap() error {
	return ErrAlreadyClaimed
}
