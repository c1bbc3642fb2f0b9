package sim

import (
	"sort"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
)

// Mirror is the harness's shadow model of SUT state. Rules update it from
// observed responses; the invariant checker compares it against the store.
//
// All iteration helpers return sorted slices so rule selection and
// invariant checks are deterministic for a given seed.
type Mirror struct {
	Actors    map[string]world.Role
	Worlds    map[string]struct{}
	Dwellers  map[string]*MirrorDweller
	Keys      map[string]*MirrorKey
	Proposals map[string]*MirrorProposal
	Items     map[string]*MirrorItem
}

// MirrorDweller is the expected claim state of one dweller.
type MirrorDweller struct {
	WorldID    string
	Claimant   string // "" when unclaimed
	ClaimCount int64
}

// MirrorKey tracks an idempotency key across generations. A generation
// ends when the simulated clock passes the key's TTL and the harness
// deliberately reuses it; within one generation at most one execution
// may produce a side effect.
type MirrorKey struct {
	Generation int
	Executions int // side effects observed in the current generation
	Total      int // side effects across all generations
	ProposalID string
}

// MirrorProposal is the expected review state of one proposal.
type MirrorProposal struct {
	WorldID   string
	AuthorID  string
	Reviewers map[string]struct{}
	ItemIDs   []string
	Graduated bool
}

// MirrorItem is the expected state of one feedback item.
type MirrorItem struct {
	ProposalID string
	ReviewerID string
	Status     world.FeedbackStatus
}

// NewMirror creates an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{
		Actors:    make(map[string]world.Role),
		Worlds:    make(map[string]struct{}),
		Dwellers:  make(map[string]*MirrorDweller),
		Keys:      make(map[string]*MirrorKey),
		Proposals: make(map[string]*MirrorProposal),
		Items:     make(map[string]*MirrorItem),
	}
}

// AddActor records a registered actor.
func (m *Mirror) AddActor(id string, role world.Role) {
	m.Actors[id] = role
}

// AddWorld records a created world.
func (m *Mirror) AddWorld(id string) {
	m.Worlds[id] = struct{}{}
}

// AddDweller records a spawned dweller.
func (m *Mirror) AddDweller(id, worldID string) {
	m.Dwellers[id] = &MirrorDweller{WorldID: worldID}
}

// ApplyClaim records a successful claim.
func (m *Mirror) ApplyClaim(dwellerID, actorID string) {
	d := m.Dwellers[dwellerID]
	d.Claimant = actorID
	d.ClaimCount++
}

// ApplyRelease records a successful release.
func (m *Mirror) ApplyRelease(dwellerID string) {
	m.Dwellers[dwellerID].Claimant = ""
}

// BeginKeyGeneration starts a fresh generation for an expired key.
func (m *Mirror) BeginKeyGeneration(key string) {
	k, ok := m.Keys[key]
	if !ok {
		k = &MirrorKey{}
		m.Keys[key] = k
	} else {
		k.Generation++
		k.Executions = 0
	}
}

// ApplySideEffect records that a keyed mutation executed (not replayed).
func (m *Mirror) ApplySideEffect(key, proposalID string) {
	k, ok := m.Keys[key]
	if !ok {
		k = &MirrorKey{}
		m.Keys[key] = k
	}
	k.Executions++
	k.Total++
	k.ProposalID = proposalID
}

// AddProposal records a created proposal.
func (m *Mirror) AddProposal(id, worldID, authorID string) {
	m.Proposals[id] = &MirrorProposal{
		WorldID:   worldID,
		AuthorID:  authorID,
		Reviewers: make(map[string]struct{}),
	}
}

// ApplyReview records a successful review submission with its items.
func (m *Mirror) ApplyReview(proposalID, reviewerID string, itemIDs []string) {
	p := m.Proposals[proposalID]
	p.Reviewers[reviewerID] = struct{}{}
	for _, id := range itemIDs {
		p.ItemIDs = append(p.ItemIDs, id)
		m.Items[id] = &MirrorItem{
			ProposalID: proposalID,
			ReviewerID: reviewerID,
			Status:     world.FeedbackOpen,
		}
	}
	m.recomputeGraduation(proposalID)
}

// ApplyTransition records a successful feedback state change.
func (m *Mirror) ApplyTransition(itemID string, status world.FeedbackStatus) {
	it := m.Items[itemID]
	it.Status = status
	m.recomputeGraduation(it.ProposalID)
}

// recomputeGraduation mirrors the SUT's promotion gate: at least two
// distinct reviewers and no blocking items.
func (m *Mirror) recomputeGraduation(proposalID string) {
	p := m.Proposals[proposalID]
	blocking := 0
	for _, id := range p.ItemIDs {
		if m.Items[id].Status.Blocking() {
			blocking++
		}
	}
	p.Graduated = len(p.Reviewers) >= 2 && blocking == 0
}

// ExpectedGraduation returns the gate inputs the mirror predicts.
func (m *Mirror) ExpectedGraduation(proposalID string) (reviewers, blocking int, graduated bool) {
	p := m.Proposals[proposalID]
	for _, id := range p.ItemIDs {
		if m.Items[id].Status.Blocking() {
			blocking++
		}
	}
	return len(p.Reviewers), blocking, p.Graduated
}

// ActorIDs returns actor IDs with the given role, sorted. An empty role
// returns every actor.
func (m *Mirror) ActorIDs(role world.Role) []string {
	var out []string
	for id, r := range m.Actors {
		if role == "" || r == role {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// WorldIDs returns all world IDs, sorted.
func (m *Mirror) WorldIDs() []string {
	out := make([]string, 0, len(m.Worlds))
	for id := range m.Worlds {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DwellerIDs returns all dweller IDs, sorted.
func (m *Mirror) DwellerIDs() []string {
	out := make([]string, 0, len(m.Dwellers))
	for id := range m.Dwellers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ClaimedDwellerIDs returns the dwellers with a claimant, sorted.
func (m *Mirror) ClaimedDwellerIDs() []string {
	var out []string
	for id, d := range m.Dwellers {
		if d.Claimant != "" {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ProposalIDs returns all proposal IDs, sorted.
func (m *Mirror) ProposalIDs() []string {
	out := make([]string, 0, len(m.Proposals))
	for id := range m.Proposals {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ItemIDs returns all feedback item IDs, sorted.
func (m *Mirror) ItemIDs() []string {
	out := make([]string, 0, len(m.Items))
	for id := range m.Items {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// KeyNames returns all idempotency keys the harness has used, sorted.
func (m *Mirror) KeyNames() []string {
	out := make([]string, 0, len(m.Keys))
	for k := range m.Keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ReviewerIDs returns the sorted reviewer IDs recorded for a proposal.
func (p *MirrorProposal) ReviewerIDs() []string {
	out := make([]string, 0, len(p.Reviewers))
	for id := range p.Reviewers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
