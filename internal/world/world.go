// Package world defines the domain entities and error taxonomy shared by
// the SUT store and its HTTP surface: actors, claimable dwellers,
// idempotent mutation records, and blind-review threads.
package world

import "time"

// Role classifies an actor's capabilities.
type Role string

const (
	RoleProposer Role = "proposer"
	RoleReviewer Role = "reviewer"
	RoleGeneric  Role = "generic"
)

// ValidRole reports whether r is one of the defined roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleProposer, RoleReviewer, RoleGeneric:
		return true
	}
	return false
}

// Actor is an identity capable of issuing requests.
// Created once at registration, never mutated.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// World groups dwellers and proposals.
type World struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Dweller is an exclusively claimable resource.
//
// Claimant is empty or exactly one actor ID; ClaimCount only increases,
// counting successful claim transitions (a release does not decrement).
type Dweller struct {
	ID         string `json:"id"`
	WorldID    string `json:"world_id"`
	Claimant   string `json:"claimant,omitempty"`
	ClaimCount int64  `json:"claim_count"`
}

// MutationStatus is the lifecycle state of an idempotency record.
// A key transitions in_progress -> {completed, failed} exactly once.
type MutationStatus string

const (
	MutationInProgress MutationStatus = "in_progress"
	MutationCompleted  MutationStatus = "completed"
	MutationFailed     MutationStatus = "failed"
)

// IdempotencyRecord stores the outcome of the first call with a key so
// replays return the stored response without re-executing side effects.
type IdempotencyRecord struct {
	Key            string
	Status         MutationStatus
	ResponseStatus int
	ResponseBody   []byte
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Proposal is reviewable content. Graduated flips when the promotion gate
// is satisfied and can flip back if a feedback item is reopened.
type Proposal struct {
	ID        string `json:"id"`
	WorldID   string `json:"world_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	Graduated bool   `json:"graduated"`
}

// Review marks that a reviewer has submitted feedback for a proposal.
// One per (proposal, reviewer); the transition is one-way.
type Review struct {
	ProposalID  string    `json:"proposal_id"`
	ReviewerID  string    `json:"reviewer_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// FeedbackStatus is the state of a single feedback item.
type FeedbackStatus string

const (
	FeedbackOpen      FeedbackStatus = "open"
	FeedbackAddressed FeedbackStatus = "addressed"
	FeedbackResolved  FeedbackStatus = "resolved"
	FeedbackDisputed  FeedbackStatus = "disputed"
)

// Blocking reports whether s holds the promotion gate closed.
func (s FeedbackStatus) Blocking() bool {
	return s == FeedbackOpen || s == FeedbackAddressed
}

// FeedbackItem is one reviewer remark on a proposal.
type FeedbackItem struct {
	ID         string         `json:"id"`
	ProposalID string         `json:"proposal_id"`
	ReviewerID string         `json:"reviewer_id"`
	Body       string         `json:"body"`
	Status     FeedbackStatus `json:"status"`
}

// FeedbackView is the visibility-filtered result of viewing a proposal's
// feedback. Blind is true when the viewer is a reviewer who has not yet
// submitted their own review; Items is empty in that case.
type FeedbackView struct {
	Blind bool           `json:"blind"`
	Items []FeedbackItem `json:"items"`
}

// GraduationStatus is the promotion-gate evaluation for a proposal.
type GraduationStatus struct {
	ProposalID    string `json:"proposal_id"`
	Reviewers     int    `json:"reviewers"`
	BlockingItems int    `json:"blocking_items"`
	Graduated     bool   `json:"graduated"`
}

// IDGenerator mints entity identifiers. The production server uses random
// UUIDs; simulation runs use a sequential generator so traces are stable.
type IDGenerator interface {
	NewID(kind string) string
}
