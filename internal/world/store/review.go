package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
)

// CreateProposal inserts reviewable content. The idempotency key that
// created it is recorded so side effects are attributable per key.
func (s *Store) CreateProposal(ctx context.Context, p world.Proposal, idempotencyKey string) error {
	var key any
	if idempotencyKey != "" {
		key = idempotencyKey
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proposals (id, world_id, author_id, body, idempotency_key, graduated)
		VALUES (?, ?, ?, ?, ?, 0)
	`, p.ID, p.WorldID, p.AuthorID, p.Body, key)
	if err != nil {
		return fmt.Errorf("create proposal %s: %w", p.ID, err)
	}
	return nil
}

// GetProposal fetches a proposal by ID.
func (s *Store) GetProposal(ctx context.Context, id string) (world.Proposal, error) {
	var p world.Proposal
	var graduated int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, world_id, author_id, body, graduated FROM proposals WHERE id = ?
	`, id).Scan(&p.ID, &p.WorldID, &p.AuthorID, &p.Body, &graduated)
	if errors.Is(err, sql.ErrNoRows) {
		return world.Proposal{}, world.ErrNotFound
	}
	if err != nil {
		return world.Proposal{}, fmt.Errorf("get proposal %s: %w", id, err)
	}
	p.Graduated = graduated != 0
	return p, nil
}

// SubmitReview records a reviewer's submission for a proposal together
// with its feedback items, atomically.
//
// One review per (proposal, reviewer), enforced by the primary key; the
// NOT_SUBMITTED -> SUBMITTED transition is one-way. Authors cannot review
// their own proposals. Submitting recomputes the promotion gate because a
// new reviewer can satisfy the distinct-reviewer threshold.
func (s *Store) SubmitReview(ctx context.Context, proposalID, reviewerID string, items []world.FeedbackItem) error {
	p, err := s.GetProposal(ctx, proposalID)
	if err != nil {
		return fmt.Errorf("submit review: %w", err)
	}
	if p.AuthorID == reviewerID {
		return fmt.Errorf("submit review %s by %s: %w", proposalID, reviewerID, world.ErrSelfReview)
	}

	now := s.clock.Now()

	tx, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("submit review %s: %w", proposalID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO reviews (proposal_id, reviewer_id, submitted_at)
		VALUES (?, ?, ?)
		ON CONFLICT(proposal_id, reviewer_id) DO NOTHING
	`, proposalID, reviewerID, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("submit review %s: %w", proposalID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("submit review %s: rows affected: %w", proposalID, err)
	}
	if affected == 0 {
		return fmt.Errorf("submit review %s by %s: %w", proposalID, reviewerID, world.ErrDuplicateReview)
	}

	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO feedback_items (id, proposal_id, reviewer_id, body, status)
			VALUES (?, ?, ?, ?, 'open')
		`, item.ID, proposalID, reviewerID, item.Body); err != nil {
			return fmt.Errorf("submit review %s: item %s: %w", proposalID, item.ID, err)
		}
	}

	if err := recomputeGraduation(ctx, tx, proposalID); err != nil {
		return fmt.Errorf("submit review %s: %w", proposalID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("submit review %s: commit: %w", proposalID, err)
	}
	return nil
}

// HasReviewed reports whether reviewerID has submitted for proposalID.
func (s *Store) HasReviewed(ctx context.Context, proposalID, reviewerID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reviews WHERE proposal_id = ? AND reviewer_id = ?
	`, proposalID, reviewerID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has reviewed %s/%s: %w", proposalID, reviewerID, err)
	}
	return n > 0, nil
}

// ListFeedback returns the feedback a viewer is allowed to see.
//
// Visibility rules, in order:
//   - the proposal's author sees every item, unconditionally
//   - a viewer who has submitted their own review sees every item
//   - anyone else gets a blind (empty) view
func (s *Store) ListFeedback(ctx context.Context, proposalID, viewerID string) (world.FeedbackView, error) {
	p, err := s.GetProposal(ctx, proposalID)
	if err != nil {
		return world.FeedbackView{}, fmt.Errorf("list feedback: %w", err)
	}

	if viewerID != p.AuthorID {
		submitted, err := s.HasReviewed(ctx, proposalID, viewerID)
		if err != nil {
			return world.FeedbackView{}, fmt.Errorf("list feedback: %w", err)
		}
		if !submitted {
			return world.FeedbackView{Blind: true, Items: []world.FeedbackItem{}}, nil
		}
	}

	items, err := s.feedbackItems(ctx, proposalID)
	if err != nil {
		return world.FeedbackView{}, fmt.Errorf("list feedback: %w", err)
	}
	return world.FeedbackView{Blind: false, Items: items}, nil
}

// AllFeedback returns every item for a proposal with no visibility filter.
// Inspection-only: the invariant checker compares this against filtered
// views; it is never exposed over HTTP.
func (s *Store) AllFeedback(ctx context.Context, proposalID string) ([]world.FeedbackItem, error) {
	return s.feedbackItems(ctx, proposalID)
}

func (s *Store) feedbackItems(ctx context.Context, proposalID string) ([]world.FeedbackItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposal_id, reviewer_id, body, status
		FROM feedback_items WHERE proposal_id = ? ORDER BY id
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("feedback items %s: %w", proposalID, err)
	}
	defer rows.Close()

	items := []world.FeedbackItem{}
	for rows.Next() {
		var item world.FeedbackItem
		var status string
		if err := rows.Scan(&item.ID, &item.ProposalID, &item.ReviewerID, &item.Body, &status); err != nil {
			return nil, fmt.Errorf("feedback items %s: scan: %w", proposalID, err)
		}
		item.Status = world.FeedbackStatus(status)
		items = append(items, item)
	}
	return items, rows.Err()
}

// FeedbackAction is a state transition request on a feedback item.
type FeedbackAction string

const (
	ActionRespond FeedbackAction = "respond"
	ActionResolve FeedbackAction = "resolve"
	ActionReopen  FeedbackAction = "reopen"
	ActionDispute FeedbackAction = "dispute"
)

// TransitionFeedback applies a state change to one feedback item.
//
// Who may do what:
//   - respond: the proposal's author, open -> addressed
//   - resolve: the item's reviewer, open|addressed -> resolved
//   - reopen:  the item's reviewer or the author, addressed|resolved|disputed -> open
//   - dispute: the item's reviewer, open|addressed -> disputed
//
// The legality check and the write share one transaction; the conditional
// UPDATE re-checks the current status so a stale read cannot apply an
// illegal transition.
func (s *Store) TransitionFeedback(ctx context.Context, itemID, actorID string, action FeedbackAction) (world.FeedbackItem, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return world.FeedbackItem{}, fmt.Errorf("transition %s: %w", itemID, err)
	}
	defer tx.Rollback()

	var item world.FeedbackItem
	var status, author string
	err = tx.QueryRowContext(ctx, `
		SELECT f.id, f.proposal_id, f.reviewer_id, f.body, f.status, p.author_id
		FROM feedback_items f JOIN proposals p ON p.id = f.proposal_id
		WHERE f.id = ?
	`, itemID).Scan(&item.ID, &item.ProposalID, &item.ReviewerID, &item.Body, &status, &author)
	if errors.Is(err, sql.ErrNoRows) {
		return world.FeedbackItem{}, fmt.Errorf("transition %s: %w", itemID, world.ErrNotFound)
	}
	if err != nil {
		return world.FeedbackItem{}, fmt.Errorf("transition %s: %w", itemID, err)
	}
	item.Status = world.FeedbackStatus(status)

	next, allowedFrom, actors, err := transitionSpec(action, item.ReviewerID, author)
	if err != nil {
		return world.FeedbackItem{}, fmt.Errorf("transition %s: %w", itemID, err)
	}

	allowed := false
	for _, a := range actors {
		if a == actorID {
			allowed = true
			break
		}
	}
	if !allowed {
		return world.FeedbackItem{}, fmt.Errorf("transition %s (%s) by %s: %w", itemID, action, actorID, world.ErrNotAllowed)
	}

	legal := false
	for _, from := range allowedFrom {
		if from == item.Status {
			legal = true
			break
		}
	}
	if !legal {
		return world.FeedbackItem{}, fmt.Errorf("transition %s: %s from %s: %w", itemID, action, item.Status, world.ErrInvalidTransition)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE feedback_items SET status = ? WHERE id = ? AND status = ?
	`, string(next), itemID, string(item.Status))
	if err != nil {
		return world.FeedbackItem{}, fmt.Errorf("transition %s: %w", itemID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return world.FeedbackItem{}, fmt.Errorf("transition %s: rows affected: %w", itemID, err)
	}
	if affected == 0 {
		return world.FeedbackItem{}, fmt.Errorf("transition %s: status moved underneath us: %w", itemID, world.ErrInvalidTransition)
	}
	item.Status = next

	if err := recomputeGraduation(ctx, tx, item.ProposalID); err != nil {
		return world.FeedbackItem{}, fmt.Errorf("transition %s: %w", itemID, err)
	}

	if err := tx.Commit(); err != nil {
		return world.FeedbackItem{}, fmt.Errorf("transition %s: commit: %w", itemID, err)
	}
	return item, nil
}

// transitionSpec returns the target status, legal source statuses, and
// authorized actors for an action.
func transitionSpec(action FeedbackAction, reviewerID, authorID string) (world.FeedbackStatus, []world.FeedbackStatus, []string, error) {
	switch action {
	case ActionRespond:
		return world.FeedbackAddressed,
			[]world.FeedbackStatus{world.FeedbackOpen},
			[]string{authorID}, nil
	case ActionResolve:
		return world.FeedbackResolved,
			[]world.FeedbackStatus{world.FeedbackOpen, world.FeedbackAddressed},
			[]string{reviewerID}, nil
	case ActionReopen:
		return world.FeedbackOpen,
			[]world.FeedbackStatus{world.FeedbackAddressed, world.FeedbackResolved, world.FeedbackDisputed},
			[]string{reviewerID, authorID}, nil
	case ActionDispute:
		return world.FeedbackDisputed,
			[]world.FeedbackStatus{world.FeedbackOpen, world.FeedbackAddressed},
			[]string{reviewerID}, nil
	default:
		return "", nil, nil, fmt.Errorf("unknown action %q", action)
	}
}

// Graduation evaluates the promotion gate for a proposal.
func (s *Store) Graduation(ctx context.Context, proposalID string) (world.GraduationStatus, error) {
	p, err := s.GetProposal(ctx, proposalID)
	if err != nil {
		return world.GraduationStatus{}, fmt.Errorf("graduation: %w", err)
	}

	var reviewers, blocking int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reviews WHERE proposal_id = ?
	`, proposalID).Scan(&reviewers); err != nil {
		return world.GraduationStatus{}, fmt.Errorf("graduation %s: %w", proposalID, err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM feedback_items
		WHERE proposal_id = ? AND status IN ('open', 'addressed')
	`, proposalID).Scan(&blocking); err != nil {
		return world.GraduationStatus{}, fmt.Errorf("graduation %s: %w", proposalID, err)
	}

	return world.GraduationStatus{
		ProposalID:    proposalID,
		Reviewers:     reviewers,
		BlockingItems: blocking,
		Graduated:     p.Graduated,
	}, nil
}

// recomputeGraduation re-evaluates the promotion gate inside the caller's
// transaction: distinct reviewers >= 2 AND zero open/addressed items.
// Both directions: a reopened item takes graduation away again.
func recomputeGraduation(ctx context.Context, tx *sql.Tx, proposalID string) error {
	var reviewers, blocking int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reviews WHERE proposal_id = ?
	`, proposalID).Scan(&reviewers); err != nil {
		return fmt.Errorf("recompute graduation: reviewers: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM feedback_items
		WHERE proposal_id = ? AND status IN ('open', 'addressed')
	`, proposalID).Scan(&blocking); err != nil {
		return fmt.Errorf("recompute graduation: blocking: %w", err)
	}

	graduated := 0
	if reviewers >= 2 && blocking == 0 {
		graduated = 1
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE proposals SET graduated = ? WHERE id = ?
	`, graduated, proposalID); err != nil {
		return fmt.Errorf("recompute graduation: update: %w", err)
	}
	return nil
}
