package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/simclock"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
)

// newTestStore creates a file-backed store on a temp dir. clock may be nil
// for tests that do not exercise the TTL path.
func newTestStore(t *testing.T, clock simclock.Clock) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, clock)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedActor creates an actor or fails the test.
func seedActor(t *testing.T, s *Store, id string, role world.Role) {
	t.Helper()
	if err := s.CreateActor(context.Background(), world.Actor{ID: id, Role: role}); err != nil {
		t.Fatalf("CreateActor(%s) failed: %v", id, err)
	}
}

// seedWorld creates a world or fails the test.
func seedWorld(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.CreateWorld(context.Background(), world.World{ID: id, Name: id}); err != nil {
		t.Fatalf("CreateWorld(%s) failed: %v", id, err)
	}
}

// seedDweller creates a dweller or fails the test.
func seedDweller(t *testing.T, s *Store, id, worldID string) {
	t.Helper()
	if err := s.CreateDweller(context.Background(), world.Dweller{ID: id, WorldID: worldID}); err != nil {
		t.Fatalf("CreateDweller(%s) failed: %v", id, err)
	}
}

// seedProposal creates a proposal or fails the test.
func seedProposal(t *testing.T, s *Store, id, worldID, authorID string) {
	t.Helper()
	p := world.Proposal{ID: id, WorldID: worldID, AuthorID: authorID, Body: "draft"}
	if err := s.CreateProposal(context.Background(), p, ""); err != nil {
		t.Fatalf("CreateProposal(%s) failed: %v", id, err)
	}
}
