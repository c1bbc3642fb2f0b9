package store

import (
	"context"
	"fmt"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
)

// Inspection queries used by the invariant checker. Read-only; these never
// appear on the HTTP surface.

// SideEffectCount returns the number of proposals attributable to an
// idempotency key. The dedup layer must keep this at most 1.
func (s *Store) SideEffectCount(ctx context.Context, key string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM proposals WHERE idempotency_key = ?
	`, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("side effect count %s: %w", key, err)
	}
	return n, nil
}

// ListProposals returns every proposal. Ordered for stable iteration.
func (s *Store) ListProposals(ctx context.Context) ([]world.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, world_id, author_id, body, graduated FROM proposals ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var out []world.Proposal
	for rows.Next() {
		var p world.Proposal
		var graduated int
		if err := rows.Scan(&p.ID, &p.WorldID, &p.AuthorID, &p.Body, &graduated); err != nil {
			return nil, fmt.Errorf("list proposals: scan: %w", err)
		}
		p.Graduated = graduated != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListReviewers returns the reviewers that have submitted for a proposal.
func (s *Store) ListReviewers(ctx context.Context, proposalID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reviewer_id FROM reviews WHERE proposal_id = ? ORDER BY reviewer_id
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list reviewers %s: %w", proposalID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("list reviewers %s: scan: %w", proposalID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
