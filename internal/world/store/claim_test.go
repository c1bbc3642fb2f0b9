package store

import (
	"context"
	"errors"
	"testing"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
)

func TestClaimDweller(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	seedActor(t, s, "actor-a", world.RoleGeneric)
	seedActor(t, s, "actor-b", world.RoleGeneric)
	seedWorld(t, s, "world-1")
	seedDweller(t, s, "dweller-1", "world-1")

	d, err := s.ClaimDweller(ctx, "dweller-1", "actor-a")
	if err != nil {
		t.Fatalf("ClaimDweller() failed: %v", err)
	}
	if d.Claimant != "actor-a" {
		t.Errorf("claimant = %q, want actor-a", d.Claimant)
	}
	if d.ClaimCount != 1 {
		t.Errorf("claim count = %d, want 1", d.ClaimCount)
	}
}

func TestClaimDwellerConflict(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	seedActor(t, s, "actor-a", world.RoleGeneric)
	seedActor(t, s, "actor-b", world.RoleGeneric)
	seedWorld(t, s, "world-1")
	seedDweller(t, s, "dweller-1", "world-1")

	if _, err := s.ClaimDweller(ctx, "dweller-1", "actor-a"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	_, err := s.ClaimDweller(ctx, "dweller-1", "actor-b")
	if err == nil {
		t.Fatal("second claim succeeded, want conflict")
	}
	if !errors.Is(err, world.ErrAlreadyClaimed) {
		t.Errorf("error = %v, want ErrAlreadyClaimed", err)
	}
	var conflict *world.ClaimConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("error is not a ClaimConflictError: %v", err)
	}
	if conflict.Claimant != "actor-a" {
		t.Errorf("conflict names claimant %q, want actor-a (the winner)", conflict.Claimant)
	}

	// The losing attempt must not bump the count.
	d, err := s.GetDweller(ctx, "dweller-1")
	if err != nil {
		t.Fatalf("GetDweller() failed: %v", err)
	}
	if d.ClaimCount != 1 {
		t.Errorf("claim count = %d after failed claim, want 1", d.ClaimCount)
	}
}

func TestClaimDwellerSelfConflict(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	seedActor(t, s, "actor-a", world.RoleGeneric)
	seedWorld(t, s, "world-1")
	seedDweller(t, s, "dweller-1", "world-1")

	if _, err := s.ClaimDweller(ctx, "dweller-1", "actor-a"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	// Claiming an already-held dweller conflicts even for the holder.
	_, err := s.ClaimDweller(ctx, "dweller-1", "actor-a")
	if !errors.Is(err, world.ErrAlreadyClaimed) {
		t.Errorf("self re-claim error = %v, want ErrAlreadyClaimed", err)
	}
}

func TestClaimDwellerUnknownActor(t *testing.T) {
	s := newTestStore(t, nil)
	seedWorld(t, s, "world-1")
	seedDweller(t, s, "dweller-1", "world-1")

	_, err := s.ClaimDweller(context.Background(), "dweller-1", "ghost")
	if !errors.Is(err, world.ErrNotFound) {
		t.Errorf("claim by unknown actor error = %v, want ErrNotFound", err)
	}
}

func TestClaimDwellerNotFound(t *testing.T) {
	s := newTestStore(t, nil)
	seedActor(t, s, "actor-a", world.RoleGeneric)

	_, err := s.ClaimDweller(context.Background(), "missing", "actor-a")
	if !errors.Is(err, world.ErrNotFound) {
		t.Errorf("claim of missing dweller error = %v, want ErrNotFound", err)
	}
}

func TestReleaseDweller(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	seedActor(t, s, "actor-a", world.RoleGeneric)
	seedActor(t, s, "actor-b", world.RoleGeneric)
	seedWorld(t, s, "world-1")
	seedDweller(t, s, "dweller-1", "world-1")

	if _, err := s.ClaimDweller(ctx, "dweller-1", "actor-a"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	d, err := s.ReleaseDweller(ctx, "dweller-1", "actor-a")
	if err != nil {
		t.Fatalf("ReleaseDweller() failed: %v", err)
	}
	if d.Claimant != "" {
		t.Errorf("claimant = %q after release, want empty", d.Claimant)
	}
	if d.ClaimCount != 1 {
		t.Errorf("claim count = %d after release, want 1 (release never decrements)", d.ClaimCount)
	}

	// Released dweller is claimable again, and the count keeps rising.
	d, err = s.ClaimDweller(ctx, "dweller-1", "actor-b")
	if err != nil {
		t.Fatalf("re-claim after release failed: %v", err)
	}
	if d.Claimant != "actor-b" || d.ClaimCount != 2 {
		t.Errorf("re-claim got claimant=%q count=%d, want actor-b/2", d.Claimant, d.ClaimCount)
	}
}

func TestReleaseDwellerNotClaimant(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	seedActor(t, s, "actor-a", world.RoleGeneric)
	seedActor(t, s, "actor-b", world.RoleGeneric)
	seedWorld(t, s, "world-1")
	seedDweller(t, s, "dweller-1", "world-1")

	if _, err := s.ClaimDweller(ctx, "dweller-1", "actor-a"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	_, err := s.ReleaseDweller(ctx, "dweller-1", "actor-b")
	if !errors.Is(err, world.ErrNotClaimant) {
		t.Errorf("release by non-claimant error = %v, want ErrNotClaimant", err)
	}

	// The claim must be untouched.
	d, err := s.GetDweller(ctx, "dweller-1")
	if err != nil {
		t.Fatalf("GetDweller() failed: %v", err)
	}
	if d.Claimant != "actor-a" {
		t.Errorf("claimant = %q after refused release, want actor-a", d.Claimant)
	}
}

func TestReleaseDwellerUnclaimed(t *testing.T) {
	s := newTestStore(t, nil)
	seedActor(t, s, "actor-a", world.RoleGeneric)
	seedWorld(t, s, "world-1")
	seedDweller(t, s, "dweller-1", "world-1")

	_, err := s.ReleaseDweller(context.Background(), "dweller-1", "actor-a")
	if !errors.Is(err, world.ErrNotClaimant) {
		t.Errorf("release of unclaimed dweller error = %v, want ErrNotClaimant", err)
	}
}
