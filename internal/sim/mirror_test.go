package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
)

func TestMirrorGraduationGate(t *testing.T) {
	m := NewMirror()
	m.AddProposal("p1", "w1", "author")

	reviewers, blocking, graduated := m.ExpectedGraduation("p1")
	assert.Equal(t, 0, reviewers)
	assert.Equal(t, 0, blocking)
	assert.False(t, graduated)

	// One reviewer with an open item: both conditions fail.
	m.ApplyReview("p1", "rev-a", []string{"i1"})
	_, blocking, graduated = m.ExpectedGraduation("p1")
	assert.Equal(t, 1, blocking)
	assert.False(t, graduated)

	// Second reviewer meets the threshold but the open item still blocks.
	m.ApplyReview("p1", "rev-b", nil)
	reviewers, blocking, graduated = m.ExpectedGraduation("p1")
	assert.Equal(t, 2, reviewers)
	assert.Equal(t, 1, blocking)
	assert.False(t, graduated)

	// addressed blocks, resolved does not.
	m.ApplyTransition("i1", world.FeedbackAddressed)
	_, blocking, graduated = m.ExpectedGraduation("p1")
	assert.Equal(t, 1, blocking)
	assert.False(t, graduated)

	m.ApplyTransition("i1", world.FeedbackResolved)
	_, blocking, graduated = m.ExpectedGraduation("p1")
	assert.Equal(t, 0, blocking)
	assert.True(t, graduated)

	// Reopening revokes graduation; disputing restores it.
	m.ApplyTransition("i1", world.FeedbackOpen)
	_, _, graduated = m.ExpectedGraduation("p1")
	assert.False(t, graduated)

	m.ApplyTransition("i1", world.FeedbackDisputed)
	_, _, graduated = m.ExpectedGraduation("p1")
	assert.True(t, graduated)
}

func TestMirrorKeyGenerations(t *testing.T) {
	m := NewMirror()

	m.BeginKeyGeneration("k1")
	m.ApplySideEffect("k1", "p1")
	k := m.Keys["k1"]
	assert.Equal(t, 0, k.Generation)
	assert.Equal(t, 1, k.Executions)
	assert.Equal(t, 1, k.Total)

	// A new generation resets the per-window count but keeps the total.
	m.BeginKeyGeneration("k1")
	assert.Equal(t, 1, k.Generation)
	assert.Equal(t, 0, k.Executions)
	assert.Equal(t, 1, k.Total)

	m.ApplySideEffect("k1", "p2")
	assert.Equal(t, 1, k.Executions)
	assert.Equal(t, 2, k.Total)
	assert.Equal(t, "p2", k.ProposalID)
}

func TestMirrorClaimBookkeeping(t *testing.T) {
	m := NewMirror()
	m.AddWorld("w1")
	m.AddDweller("d1", "w1")
	m.AddDweller("d2", "w1")

	m.ApplyClaim("d1", "a1")
	assert.Equal(t, []string{"d1"}, m.ClaimedDwellerIDs())
	assert.Equal(t, int64(1), m.Dwellers["d1"].ClaimCount)

	m.ApplyRelease("d1")
	assert.Empty(t, m.ClaimedDwellerIDs())
	// The count survives the release.
	assert.Equal(t, int64(1), m.Dwellers["d1"].ClaimCount)

	m.ApplyClaim("d1", "a2")
	assert.Equal(t, int64(2), m.Dwellers["d1"].ClaimCount)
	assert.Equal(t, "a2", m.Dwellers["d1"].Claimant)
}

func TestMirrorSortedIteration(t *testing.T) {
	m := NewMirror()
	m.AddActor("a2", world.RoleReviewer)
	m.AddActor("a1", world.RoleProposer)
	m.AddActor("a3", world.RoleReviewer)

	assert.Equal(t, []string{"a1", "a2", "a3"}, m.ActorIDs(""))
	assert.Equal(t, []string{"a2", "a3"}, m.ActorIDs(world.RoleReviewer))

	m.AddProposal("p1", "w", "a1")
	m.Proposals["p1"].Reviewers["a3"] = struct{}{}
	m.Proposals["p1"].Reviewers["a2"] = struct{}{}
	assert.Equal(t, []string{"a2", "a3"}, m.Proposals["p1"].ReviewerIDs())
}
