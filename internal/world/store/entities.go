package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
)

// CreateActor registers a new actor.
func (s *Store) CreateActor(ctx context.Context, a world.Actor) error {
	if !world.ValidRole(a.Role) {
		return fmt.Errorf("create actor: invalid role %q", a.Role)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actors (id, role) VALUES (?, ?)
	`, a.ID, string(a.Role))
	if err != nil {
		return fmt.Errorf("create actor %s: %w", a.ID, err)
	}
	return nil
}

// GetActor fetches an actor by ID.
func (s *Store) GetActor(ctx context.Context, id string) (world.Actor, error) {
	var a world.Actor
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, role FROM actors WHERE id = ?
	`, id).Scan(&a.ID, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return world.Actor{}, world.ErrNotFound
	}
	if err != nil {
		return world.Actor{}, fmt.Errorf("get actor %s: %w", id, err)
	}
	a.Role = world.Role(role)
	return a, nil
}

// CreateWorld registers a new world.
func (s *Store) CreateWorld(ctx context.Context, w world.World) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worlds (id, name) VALUES (?, ?)
	`, w.ID, w.Name)
	if err != nil {
		return fmt.Errorf("create world %s: %w", w.ID, err)
	}
	return nil
}

// CreateDweller registers a new unclaimed dweller in a world.
func (s *Store) CreateDweller(ctx context.Context, d world.Dweller) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM worlds WHERE id = ?
	`, d.WorldID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("create dweller %s: %w", d.ID, err)
	}
	if exists == 0 {
		return fmt.Errorf("create dweller %s: world %s: %w", d.ID, d.WorldID, world.ErrNotFound)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dwellers (id, world_id, claimant_id, claim_count)
		VALUES (?, ?, NULL, 0)
	`, d.ID, d.WorldID)
	if err != nil {
		return fmt.Errorf("create dweller %s: %w", d.ID, err)
	}
	return nil
}

// GetDweller fetches a dweller by ID.
func (s *Store) GetDweller(ctx context.Context, id string) (world.Dweller, error) {
	return scanDweller(s.db.QueryRowContext(ctx, `
		SELECT id, world_id, claimant_id, claim_count FROM dwellers WHERE id = ?
	`, id))
}

// ListDwellers returns every dweller. Used by the invariant checker.
func (s *Store) ListDwellers(ctx context.Context) ([]world.Dweller, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, world_id, claimant_id, claim_count FROM dwellers ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list dwellers: %w", err)
	}
	defer rows.Close()

	var out []world.Dweller
	for rows.Next() {
		d, err := scanDweller(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDweller(row rowScanner) (world.Dweller, error) {
	var d world.Dweller
	var claimant sql.NullString
	err := row.Scan(&d.ID, &d.WorldID, &claimant, &d.ClaimCount)
	if errors.Is(err, sql.ErrNoRows) {
		return world.Dweller{}, world.ErrNotFound
	}
	if err != nil {
		return world.Dweller{}, fmt.Errorf("scan dweller: %w", err)
	}
	if claimant.Valid {
		d.Claimant = claimant.String
	}
	return d, nil
}
