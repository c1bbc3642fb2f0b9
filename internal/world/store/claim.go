package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
)

// ClaimDweller makes actorID the exclusive claimant of dwellerID.
//
// The check-then-set is a single conditional UPDATE: the WHERE clause only
// matches an unclaimed row, so the database's write lock covers the read
// and the write together. Of N interleaved attempts on the same dweller at
// most one can match; the rest observe the surviving claimant and get a
// structured conflict, never a silent overwrite.
func (s *Store) ClaimDweller(ctx context.Context, dwellerID, actorID string) (world.Dweller, error) {
	if _, err := s.GetActor(ctx, actorID); err != nil {
		return world.Dweller{}, fmt.Errorf("claim dweller %s: actor %s: %w", dwellerID, actorID, err)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return world.Dweller{}, fmt.Errorf("claim dweller %s: %w", dwellerID, err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		UPDATE dwellers
		SET claimant_id = ?, claim_count = claim_count + 1
		WHERE id = ? AND claimant_id IS NULL
	`, actorID, dwellerID)
	if err != nil {
		return world.Dweller{}, fmt.Errorf("claim dweller %s: %w", dwellerID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return world.Dweller{}, fmt.Errorf("claim dweller %s: rows affected: %w", dwellerID, err)
	}

	if affected == 0 {
		// Lost the claim or the dweller does not exist. Read inside the
		// same transaction so the reported claimant is the one that won.
		var claimant sql.NullString
		err := tx.QueryRowContext(ctx, `
			SELECT claimant_id FROM dwellers WHERE id = ?
		`, dwellerID).Scan(&claimant)
		if errors.Is(err, sql.ErrNoRows) {
			return world.Dweller{}, fmt.Errorf("claim dweller %s: %w", dwellerID, world.ErrNotFound)
		}
		if err != nil {
			return world.Dweller{}, fmt.Errorf("claim dweller %s: read claimant: %w", dwellerID, err)
		}
		return world.Dweller{}, &world.ClaimConflictError{
			DwellerID: dwellerID,
			Claimant:  claimant.String,
		}
	}

	d, err := scanDweller(tx.QueryRowContext(ctx, `
		SELECT id, world_id, claimant_id, claim_count FROM dwellers WHERE id = ?
	`, dwellerID))
	if err != nil {
		return world.Dweller{}, fmt.Errorf("claim dweller %s: reread: %w", dwellerID, err)
	}

	if err := tx.Commit(); err != nil {
		return world.Dweller{}, fmt.Errorf("claim dweller %s: commit: %w", dwellerID, err)
	}
	return d, nil
}

// ReleaseDweller clears the claim held by actorID.
//
// Conditional on the caller being the current claimant; anyone else gets
// ErrNotClaimant. Claim count is untouched - it only ever increases.
func (s *Store) ReleaseDweller(ctx context.Context, dwellerID, actorID string) (world.Dweller, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return world.Dweller{}, fmt.Errorf("release dweller %s: %w", dwellerID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE dwellers
		SET claimant_id = NULL
		WHERE id = ? AND claimant_id = ?
	`, dwellerID, actorID)
	if err != nil {
		return world.Dweller{}, fmt.Errorf("release dweller %s: %w", dwellerID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return world.Dweller{}, fmt.Errorf("release dweller %s: rows affected: %w", dwellerID, err)
	}

	if affected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM dwellers WHERE id = ?
		`, dwellerID).Scan(&exists); err != nil {
			return world.Dweller{}, fmt.Errorf("release dweller %s: %w", dwellerID, err)
		}
		if exists == 0 {
			return world.Dweller{}, fmt.Errorf("release dweller %s: %w", dwellerID, world.ErrNotFound)
		}
		return world.Dweller{}, fmt.Errorf("release dweller %s by %s: %w", dwellerID, actorID, world.ErrNotClaimant)
	}

	d, err := scanDweller(tx.QueryRowContext(ctx, `
		SELECT id, world_id, claimant_id, claim_count FROM dwellers WHERE id = ?
	`, dwellerID))
	if err != nil {
		return world.Dweller{}, fmt.Errorf("release dweller %s: reread: %w", dwellerID, err)
	}

	if err := tx.Commit(); err != nil {
		return world.Dweller{}, fmt.Errorf("release dweller %s: commit: %w", dwellerID, err)
	}
	return d, nil
}
