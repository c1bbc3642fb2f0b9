package sim

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
)

// Driver-side fault tags. These shape harness behavior (not SUT behavior)
// and are resolved against the per-step RNG, so they replay exactly.
const (
	// FaultReplyDrop discards a successful proposal response and retries
	// the same key, modeling a client timeout after the server committed.
	FaultReplyDrop = "mutate/reply-drop"
)

// Env is the mutable context a rule runs against.
type Env struct {
	Client *Client
	Mirror *Mirror
	RNG    *rand.Rand

	// TTL mirrors the SUT's dedup window; ClockMS tracks how far the
	// harness has advanced the simulated clock, in milliseconds.
	TTL     time.Duration
	ClockMS int64

	// Faults holds driver-side fault probabilities keyed by tag.
	Faults map[string]float64

	// keyClock records the simulated time each key generation started,
	// so reuse-expired-key knows which keys are safely past the TTL.
	keyClock map[string]int64

	nextKey   int
	nextWorld int
}

// NewEnv creates a rule environment.
func NewEnv(client *Client, mirror *Mirror, ttl time.Duration, faults map[string]float64) *Env {
	if faults == nil {
		faults = map[string]float64{}
	}
	return &Env{
		Client:   client,
		Mirror:   mirror,
		TTL:      ttl,
		Faults:   faults,
		keyClock: make(map[string]int64),
	}
}

// faultHit resolves a driver-side fault against the step RNG.
func (e *Env) faultHit(tag string) bool {
	p := e.Faults[tag]
	return p > 0 && e.RNG.Float64() < p
}

// pick returns a random element of a non-empty sorted slice.
func pick[T any](rng *rand.Rand, xs []T) T {
	return xs[rng.Intn(len(xs))]
}

// Rule is one step the driver can take. Enabled gates applicability
// against the mirror; Run performs the SUT calls, verifies the response
// against expectations, and updates the mirror.
type Rule struct {
	Name    string
	Enabled func(e *Env) bool
	Run     func(ctx context.Context, e *Env) error
}

// Catalog returns the full rule set in a fixed order. The driver filters
// by Enabled each step and picks uniformly.
func Catalog() []Rule {
	return []Rule{
		ruleRegisterActor(),
		ruleFoundWorld(),
		ruleSpawnDweller(),
		ruleClaimDweller(),
		ruleContestedClaim(),
		ruleReleaseDweller(),
		ruleStrangerRelease(),
		ruleSubmitProposal(),
		ruleRetryProposal(),
		ruleReuseExpiredKey(),
		ruleAdvanceClock(),
		ruleSubmitReview(),
		ruleSelfReview(),
		ruleDuplicateReview(),
		ruleViewFeedback(),
		ruleTransitionFeedback(),
		ruleStrangerTransition(),
		ruleCheckGraduation(),
	}
}

func ruleRegisterActor() Rule {
	roles := []world.Role{world.RoleProposer, world.RoleReviewer, world.RoleGeneric}
	return Rule{
		Name:    "register-actor",
		Enabled: func(e *Env) bool { return true },
		Run: func(ctx context.Context, e *Env) error {
			role := pick(e.RNG, roles)
			a, out, err := e.Client.CreateActor(ctx, role)
			if err != nil {
				return err
			}
			if !out.OK() {
				return &Failure{Check: "actor-registration", Detail: fmt.Sprintf("status %d: %s", out.Status, out.Body)}
			}
			e.Mirror.AddActor(a.ID, role)
			return nil
		},
	}
}

func ruleFoundWorld() Rule {
	return Rule{
		Name:    "found-world",
		Enabled: func(e *Env) bool { return len(e.Mirror.Worlds) < 4 },
		Run: func(ctx context.Context, e *Env) error {
			e.nextWorld++
			w, out, err := e.Client.CreateWorld(ctx, fmt.Sprintf("world-%03d", e.nextWorld))
			if err != nil {
				return err
			}
			if !out.OK() {
				return &Failure{Check: "world-creation", Detail: fmt.Sprintf("status %d: %s", out.Status, out.Body)}
			}
			e.Mirror.AddWorld(w.ID)
			return nil
		},
	}
}

func ruleSpawnDweller() Rule {
	return Rule{
		Name:    "spawn-dweller",
		Enabled: func(e *Env) bool { return len(e.Mirror.Worlds) > 0 },
		Run: func(ctx context.Context, e *Env) error {
			worldID := pick(e.RNG, e.Mirror.WorldIDs())
			d, out, err := e.Client.CreateDweller(ctx, worldID)
			if err != nil {
				return err
			}
			if !out.OK() {
				return &Failure{Check: "dweller-creation", Detail: fmt.Sprintf("status %d: %s", out.Status, out.Body)}
			}
			e.Mirror.AddDweller(d.ID, worldID)
			return nil
		},
	}
}

// ruleClaimDweller claims a random dweller with a random actor. The mirror
// predicts the outcome exactly: success when unclaimed, a conflict naming
// the surviving claimant otherwise.
func ruleClaimDweller() Rule {
	return Rule{
		Name:   "claim-dweller",
		Enabled: func(e *Env) bool {
			return len(e.Mirror.Dwellers) > 0 && len(e.Mirror.Actors) > 0
		},
		Run: func(ctx context.Context, e *Env) error {
			dwellerID := pick(e.RNG, e.Mirror.DwellerIDs())
			actorID := pick(e.RNG, e.Mirror.ActorIDs(""))
			expected := e.Mirror.Dwellers[dwellerID]

			d, out, err := e.Client.Claim(ctx, dwellerID, actorID)
			if err != nil {
				return err
			}

			if expected.Claimant == "" {
				if !out.OK() {
					return &Failure{Check: "claim-exclusivity",
						Detail: fmt.Sprintf("claim of unclaimed %s by %s failed: status %d code %s", dwellerID, actorID, out.Status, out.Code)}
				}
				if d.Claimant != actorID {
					return &Failure{Check: "claim-exclusivity",
						Detail: fmt.Sprintf("claim of %s by %s reported claimant %q", dwellerID, actorID, d.Claimant)}
				}
				e.Mirror.ApplyClaim(dwellerID, actorID)
				return nil
			}

			// Already claimed, even by the same actor: must conflict and
			// name the survivor.
			if out.OK() {
				return &Failure{Check: "claim-exclusivity",
					Detail: fmt.Sprintf("claim of held %s by %s succeeded; holder was %s", dwellerID, actorID, expected.Claimant)}
			}
			if out.Code != "already_claimed" {
				return &Failure{Check: "claim-conflict-shape",
					Detail: fmt.Sprintf("claim of held %s returned code %q, want already_claimed", dwellerID, out.Code)}
			}
			if out.Claimant != expected.Claimant {
				return &Failure{Check: "claim-conflict-shape",
					Detail: fmt.Sprintf("conflict on %s named claimant %q, want %q", dwellerID, out.Claimant, expected.Claimant)}
			}
			return nil
		},
	}
}

// ruleContestedClaim fires two claims for the same unclaimed dweller
// back-to-back. Exactly one must win and the loser's error must name the
// winner.
func ruleContestedClaim() Rule {
	return Rule{
		Name:   "contested-claim",
		Enabled: func(e *Env) bool {
			if len(e.Mirror.Actors) < 2 {
				return false
			}
			for _, d := range e.Mirror.Dwellers {
				if d.Claimant == "" {
					return true
				}
			}
			return false
		},
		Run: func(ctx context.Context, e *Env) error {
			var free []string
			for _, id := range e.Mirror.DwellerIDs() {
				if e.Mirror.Dwellers[id].Claimant == "" {
					free = append(free, id)
				}
			}
			dwellerID := pick(e.RNG, free)
			actors := e.Mirror.ActorIDs("")
			first := pick(e.RNG, actors)
			second := pick(e.RNG, actors)
			for second == first {
				second = pick(e.RNG, actors)
			}

			_, out1, err := e.Client.Claim(ctx, dwellerID, first)
			if err != nil {
				return err
			}
			_, out2, err := e.Client.Claim(ctx, dwellerID, second)
			if err != nil {
				return err
			}

			if out1.OK() == out2.OK() {
				return &Failure{Check: "claim-exclusivity",
					Detail: fmt.Sprintf("contested claim of %s: both calls returned success=%v", dwellerID, out1.OK())}
			}
			winner, loserOut := first, out2
			if out2.OK() {
				winner, loserOut = second, out1
			}
			if loserOut.Code != "already_claimed" || loserOut.Claimant != winner {
				return &Failure{Check: "claim-conflict-shape",
					Detail: fmt.Sprintf("contested claim of %s: loser saw code %q claimant %q, want already_claimed/%s",
						dwellerID, loserOut.Code, loserOut.Claimant, winner)}
			}
			e.Mirror.ApplyClaim(dwellerID, winner)
			return nil
		},
	}
}

func ruleReleaseDweller() Rule {
	return Rule{
		Name:   "release-dweller",
		Enabled: func(e *Env) bool {
			return len(e.Mirror.ClaimedDwellerIDs()) > 0
		},
		Run: func(ctx context.Context, e *Env) error {
			dwellerID := pick(e.RNG, e.Mirror.ClaimedDwellerIDs())
			claimant := e.Mirror.Dwellers[dwellerID].Claimant

			out, err := e.Client.Release(ctx, dwellerID, claimant)
			if err != nil {
				return err
			}
			if !out.OK() {
				return &Failure{Check: "release-by-claimant",
					Detail: fmt.Sprintf("release of %s by claimant %s failed: status %d code %s", dwellerID, claimant, out.Status, out.Code)}
			}
			e.Mirror.ApplyRelease(dwellerID)
			return nil
		},
	}
}

// ruleStrangerRelease attempts a release by an actor that does not hold
// the claim; the SUT must refuse and leave the claim intact.
func ruleStrangerRelease() Rule {
	return Rule{
		Name:   "stranger-release",
		Enabled: func(e *Env) bool {
			return len(e.Mirror.Dwellers) > 0 && len(e.Mirror.Actors) > 1
		},
		Run: func(ctx context.Context, e *Env) error {
			dwellerID := pick(e.RNG, e.Mirror.DwellerIDs())
			holder := e.Mirror.Dwellers[dwellerID].Claimant
			actors := e.Mirror.ActorIDs("")
			stranger := pick(e.RNG, actors)
			for stranger == holder {
				stranger = pick(e.RNG, actors)
			}

			out, err := e.Client.Release(ctx, dwellerID, stranger)
			if err != nil {
				return err
			}
			if out.OK() {
				return &Failure{Check: "release-by-claimant",
					Detail: fmt.Sprintf("release of %s by non-claimant %s succeeded (holder %q)", dwellerID, stranger, holder)}
			}
			if out.Code != "not_claimant" {
				return &Failure{Check: "release-by-claimant",
					Detail: fmt.Sprintf("release of %s by non-claimant returned code %q, want not_claimant", dwellerID, out.Code)}
			}
			return nil
		},
	}
}

// ruleSubmitProposal creates a proposal under a fresh idempotency key.
// With FaultReplyDrop armed, the rule may discard the reply and retry the
// same key; the retry must replay without a second side effect.
func ruleSubmitProposal() Rule {
	return Rule{
		Name:   "submit-proposal",
		Enabled: func(e *Env) bool {
			return len(e.Mirror.Worlds) > 0 && len(e.Mirror.ActorIDs(world.RoleProposer)) > 0
		},
		Run: func(ctx context.Context, e *Env) error {
			e.nextKey++
			key := fmt.Sprintf("key-%04d", e.nextKey)
			worldID := pick(e.RNG, e.Mirror.WorldIDs())
			authorID := pick(e.RNG, e.Mirror.ActorIDs(world.RoleProposer))
			body := fmt.Sprintf("draft under %s", key)

			e.Mirror.BeginKeyGeneration(key)
			e.keyClock[key] = e.ClockMS

			p, out, err := e.Client.SubmitProposal(ctx, key, worldID, authorID, body)
			if err != nil {
				return err
			}
			if !out.OK() {
				return &Failure{Check: "proposal-creation",
					Detail: fmt.Sprintf("proposal under %s failed: status %d code %s", key, out.Status, out.Code)}
			}
			e.Mirror.ApplySideEffect(key, p.ID)
			e.Mirror.AddProposal(p.ID, worldID, authorID)

			if e.faultHit(FaultReplyDrop) {
				// The reply was "lost"; retry with the same key and demand
				// the stored response, not a second execution.
				p2, out2, err := e.Client.SubmitProposal(ctx, key, worldID, authorID, body)
				if err != nil {
					return err
				}
				if !out2.OK() {
					return &Failure{Check: "dedup-replay",
						Detail: fmt.Sprintf("retry of %s failed: status %d code %s", key, out2.Status, out2.Code)}
				}
				if p2.ID != p.ID {
					return &Failure{Check: "dedup-side-effect",
						Detail: fmt.Sprintf("retry of %s produced proposal %s, first call produced %s", key, p2.ID, p.ID)}
				}
			}
			return nil
		},
	}
}

// ruleRetryProposal replays a completed key and demands byte-identical
// bytes and no new side effect. Keys past the TTL are excluded: the SUT
// re-executing those is correct behavior, covered by reuse-expired-key.
func ruleRetryProposal() Rule {
	return Rule{
		Name:   "retry-proposal",
		Enabled: func(e *Env) bool {
			return len(e.replayableKeys()) > 0
		},
		Run: func(ctx context.Context, e *Env) error {
			key := pick(e.RNG, e.replayableKeys())
			expect := e.Mirror.Keys[key]
			p := e.Mirror.Proposals[expect.ProposalID]

			first, out1, err := e.Client.SubmitProposal(ctx, key, p.WorldID, p.AuthorID, "retry body")
			if err != nil {
				return err
			}
			if !out1.OK() || first.ID != expect.ProposalID {
				return &Failure{Check: "dedup-replay",
					Detail: fmt.Sprintf("replay of %s returned status %d proposal %q, want stored %s", key, out1.Status, first.ID, expect.ProposalID)}
			}

			// A second replay must return the same bytes as the first.
			_, out2, err := e.Client.SubmitProposal(ctx, key, p.WorldID, p.AuthorID, "retry body")
			if err != nil {
				return err
			}
			if !bytes.Equal(out1.Body, out2.Body) {
				return &Failure{Check: "dedup-replay",
					Detail: fmt.Sprintf("replays of %s returned diverging bodies", key)}
			}
			return nil
		},
	}
}

// ruleReuseExpiredKey reuses a key whose record is past the TTL. The dedup
// window has lapsed, so a fresh execution is the correct outcome and the
// mirror opens a new generation for the key.
func ruleReuseExpiredKey() Rule {
	return Rule{
		Name:   "reuse-expired-key",
		Enabled: func(e *Env) bool {
			if len(e.Mirror.Worlds) == 0 || len(e.Mirror.ActorIDs(world.RoleProposer)) == 0 {
				return false
			}
			return len(e.expiredKeys()) > 0
		},
		Run: func(ctx context.Context, e *Env) error {
			key := pick(e.RNG, e.expiredKeys())
			worldID := pick(e.RNG, e.Mirror.WorldIDs())
			authorID := pick(e.RNG, e.Mirror.ActorIDs(world.RoleProposer))

			e.Mirror.BeginKeyGeneration(key)
			e.keyClock[key] = e.ClockMS

			p, out, err := e.Client.SubmitProposal(ctx, key, worldID, authorID, "post-expiry draft")
			if err != nil {
				return err
			}
			if !out.OK() {
				return &Failure{Check: "dedup-expiry",
					Detail: fmt.Sprintf("reuse of expired %s failed: status %d code %s", key, out.Status, out.Code)}
			}
			if out.Replayed {
				return &Failure{Check: "dedup-expiry",
					Detail: fmt.Sprintf("reuse of expired %s was replayed instead of executed", key)}
			}
			e.Mirror.ApplySideEffect(key, p.ID)
			e.Mirror.AddProposal(p.ID, worldID, authorID)
			return nil
		},
	}
}

// expiredKeys returns keys whose current generation is past the TTL. The
// boundary matches the store, which expires records at exactly created+TTL.
func (e *Env) expiredKeys() []string {
	ttlMS := e.TTL.Milliseconds()
	var out []string
	for _, name := range e.Mirror.KeyNames() {
		if start, ok := e.keyClock[name]; ok && e.ClockMS-start >= ttlMS {
			out = append(out, name)
		}
	}
	return out
}

// replayableKeys returns keys holding a stored response that is still
// inside the dedup window.
func (e *Env) replayableKeys() []string {
	ttlMS := e.TTL.Milliseconds()
	var out []string
	for _, name := range e.Mirror.KeyNames() {
		if e.Mirror.Keys[name].ProposalID == "" {
			continue
		}
		if start, ok := e.keyClock[name]; ok && e.ClockMS-start < ttlMS {
			out = append(out, name)
		}
	}
	return out
}

func ruleAdvanceClock() Rule {
	return Rule{
		Name:    "advance-clock",
		Enabled: func(e *Env) bool { return true },
		Run: func(ctx context.Context, e *Env) error {
			// Mostly small hops, occasionally a jump past the TTL so the
			// expiry path gets exercised.
			millis := int64(e.RNG.Intn(60_000) + 1)
			if e.RNG.Intn(4) == 0 {
				millis = e.TTL.Milliseconds() + int64(e.RNG.Intn(60_000)) + 1
			}
			out, err := e.Client.AdvanceClock(ctx, millis)
			if err != nil {
				return err
			}
			if !out.OK() {
				return &Failure{Check: "clock-control",
					Detail: fmt.Sprintf("clock advance failed: status %d: %s", out.Status, out.Body)}
			}
			e.ClockMS += millis
			return nil
		},
	}
}

func ruleSubmitReview() Rule {
	return Rule{
		Name:   "submit-review",
		Enabled: func(e *Env) bool {
			if len(e.Mirror.Proposals) == 0 {
				return false
			}
			return len(e.Mirror.ActorIDs(world.RoleReviewer)) > 0
		},
		Run: func(ctx context.Context, e *Env) error {
			proposalID := pick(e.RNG, e.Mirror.ProposalIDs())
			reviewerID := pick(e.RNG, e.Mirror.ActorIDs(world.RoleReviewer))
			p := e.Mirror.Proposals[proposalID]
			_, already := p.Reviewers[reviewerID]

			n := e.RNG.Intn(3) + 1
			bodies := make([]string, n)
			for i := range bodies {
				bodies[i] = fmt.Sprintf("remark %d from %s", i+1, reviewerID)
			}

			itemIDs, out, err := e.Client.SubmitReview(ctx, proposalID, reviewerID, bodies)
			if err != nil {
				return err
			}

			if already {
				if out.OK() {
					return &Failure{Check: "review-once",
						Detail: fmt.Sprintf("second review of %s by %s was accepted", proposalID, reviewerID)}
				}
				if out.Code != "duplicate_review" {
					return &Failure{Check: "review-once",
						Detail: fmt.Sprintf("second review of %s returned code %q, want duplicate_review", proposalID, out.Code)}
				}
				return nil
			}

			if !out.OK() {
				return &Failure{Check: "review-submission",
					Detail: fmt.Sprintf("review of %s by %s failed: status %d code %s", proposalID, reviewerID, out.Status, out.Code)}
			}
			if len(itemIDs) != n {
				return &Failure{Check: "review-submission",
					Detail: fmt.Sprintf("review of %s stored %d items, sent %d", proposalID, len(itemIDs), n)}
			}
			e.Mirror.ApplyReview(proposalID, reviewerID, itemIDs)
			return nil
		},
	}
}

// ruleSelfReview has an author attempt to review their own proposal.
func ruleSelfReview() Rule {
	return Rule{
		Name:    "self-review",
		Enabled: func(e *Env) bool { return len(e.Mirror.Proposals) > 0 },
		Run: func(ctx context.Context, e *Env) error {
			proposalID := pick(e.RNG, e.Mirror.ProposalIDs())
			authorID := e.Mirror.Proposals[proposalID].AuthorID

			_, out, err := e.Client.SubmitReview(ctx, proposalID, authorID, []string{"reviewing my own work"})
			if err != nil {
				return err
			}
			if out.OK() {
				return &Failure{Check: "review-independence",
					Detail: fmt.Sprintf("author %s reviewed own proposal %s", authorID, proposalID)}
			}
			if out.Code != "self_review" {
				return &Failure{Check: "review-independence",
					Detail: fmt.Sprintf("self-review of %s returned code %q, want self_review", proposalID, out.Code)}
			}
			return nil
		},
	}
}

// ruleDuplicateReview targets a reviewer known to have already submitted.
func ruleDuplicateReview() Rule {
	return Rule{
		Name:   "duplicate-review",
		Enabled: func(e *Env) bool {
			for _, p := range e.Mirror.Proposals {
				if len(p.Reviewers) > 0 {
					return true
				}
			}
			return false
		},
		Run: func(ctx context.Context, e *Env) error {
			var candidates []string
			for _, id := range e.Mirror.ProposalIDs() {
				if len(e.Mirror.Proposals[id].Reviewers) > 0 {
					candidates = append(candidates, id)
				}
			}
			proposalID := pick(e.RNG, candidates)
			reviewerID := pick(e.RNG, e.Mirror.Proposals[proposalID].ReviewerIDs())

			_, out, err := e.Client.SubmitReview(ctx, proposalID, reviewerID, []string{"one more thought"})
			if err != nil {
				return err
			}
			if out.OK() || out.Code != "duplicate_review" {
				return &Failure{Check: "review-once",
					Detail: fmt.Sprintf("repeat review of %s by %s: status %d code %q, want duplicate_review", proposalID, reviewerID, out.Status, out.Code)}
			}
			return nil
		},
	}
}

// ruleViewFeedback checks the visibility filter for a random (proposal,
// viewer) pair against the mirror's prediction.
func ruleViewFeedback() Rule {
	return Rule{
		Name:   "view-feedback",
		Enabled: func(e *Env) bool {
			return len(e.Mirror.Proposals) > 0 && len(e.Mirror.Actors) > 0
		},
		Run: func(ctx context.Context, e *Env) error {
			proposalID := pick(e.RNG, e.Mirror.ProposalIDs())
			viewerID := pick(e.RNG, e.Mirror.ActorIDs(""))
			return checkVisibility(ctx, e, proposalID, viewerID)
		},
	}
}

// checkVisibility fetches a feedback view and compares it to the mirror.
// Shared with the end-of-run visibility sweep.
func checkVisibility(ctx context.Context, e *Env, proposalID, viewerID string) error {
	p := e.Mirror.Proposals[proposalID]
	view, out, err := e.Client.ViewFeedback(ctx, proposalID, viewerID)
	if err != nil {
		return err
	}
	if !out.OK() {
		return &Failure{Check: "review-visibility",
			Detail: fmt.Sprintf("view of %s by %s failed: status %d code %s", proposalID, viewerID, out.Status, out.Code)}
	}

	_, submitted := p.Reviewers[viewerID]
	fullAccess := viewerID == p.AuthorID || submitted

	if fullAccess {
		if view.Blind || len(view.Items) != len(p.ItemIDs) {
			return &Failure{Check: "review-visibility",
				Detail: fmt.Sprintf("viewer %s of %s should see all %d items, got blind=%v items=%d",
					viewerID, proposalID, len(p.ItemIDs), view.Blind, len(view.Items))}
		}
		return nil
	}

	if !view.Blind || len(view.Items) != 0 {
		return &Failure{Check: "review-blindness",
			Detail: fmt.Sprintf("viewer %s of %s leaked %d items before submitting (blind=%v)",
				viewerID, proposalID, len(view.Items), view.Blind)}
	}
	return nil
}

// transitionExpectation mirrors the SUT's feedback state machine.
type transitionExpectation struct {
	action      string
	allowedFrom map[world.FeedbackStatus]bool
	next        world.FeedbackStatus
	actorFor    func(m *Mirror, it *MirrorItem) string
}

func transitionTable() []transitionExpectation {
	authorOf := func(m *Mirror, it *MirrorItem) string {
		return m.Proposals[it.ProposalID].AuthorID
	}
	reviewerOf := func(_ *Mirror, it *MirrorItem) string {
		return it.ReviewerID
	}
	return []transitionExpectation{
		{
			action:      "respond",
			allowedFrom: map[world.FeedbackStatus]bool{world.FeedbackOpen: true},
			next:        world.FeedbackAddressed,
			actorFor:    authorOf,
		},
		{
			action:      "resolve",
			allowedFrom: map[world.FeedbackStatus]bool{world.FeedbackOpen: true, world.FeedbackAddressed: true},
			next:        world.FeedbackResolved,
			actorFor:    reviewerOf,
		},
		{
			action: "reopen",
			allowedFrom: map[world.FeedbackStatus]bool{
				world.FeedbackAddressed: true, world.FeedbackResolved: true, world.FeedbackDisputed: true,
			},
			next:     world.FeedbackOpen,
			actorFor: reviewerOf,
		},
		{
			action:      "dispute",
			allowedFrom: map[world.FeedbackStatus]bool{world.FeedbackOpen: true, world.FeedbackAddressed: true},
			next:        world.FeedbackDisputed,
			actorFor:    reviewerOf,
		},
	}
}

// ruleTransitionFeedback applies a random action with its legitimate actor.
// Whether the transition is legal for the item's current state comes from
// the mirror, so illegal-from-this-state attempts are covered too.
func ruleTransitionFeedback() Rule {
	table := transitionTable()
	return Rule{
		Name:    "transition-feedback",
		Enabled: func(e *Env) bool { return len(e.Mirror.Items) > 0 },
		Run: func(ctx context.Context, e *Env) error {
			itemID := pick(e.RNG, e.Mirror.ItemIDs())
			it := e.Mirror.Items[itemID]
			spec := table[e.RNG.Intn(len(table))]
			actorID := spec.actorFor(e.Mirror, it)
			legal := spec.allowedFrom[it.Status]

			updated, out, err := e.Client.TransitionItem(ctx, itemID, actorID, spec.action)
			if err != nil {
				return err
			}

			if legal {
				if !out.OK() {
					return &Failure{Check: "feedback-lifecycle",
						Detail: fmt.Sprintf("%s on %s item %s (status %s) failed: status %d code %s",
							spec.action, actorID, itemID, it.Status, out.Status, out.Code)}
				}
				if updated.Status != spec.next {
					return &Failure{Check: "feedback-lifecycle",
						Detail: fmt.Sprintf("%s on item %s moved to %s, want %s", spec.action, itemID, updated.Status, spec.next)}
				}
				e.Mirror.ApplyTransition(itemID, spec.next)
				return nil
			}

			if out.OK() {
				return &Failure{Check: "feedback-lifecycle",
					Detail: fmt.Sprintf("%s on item %s in state %s was accepted", spec.action, itemID, it.Status)}
			}
			if out.Code != "invalid_transition" {
				return &Failure{Check: "feedback-lifecycle",
					Detail: fmt.Sprintf("%s on item %s in state %s returned code %q, want invalid_transition",
						spec.action, itemID, it.Status, out.Code)}
			}
			return nil
		},
	}
}

// ruleStrangerTransition applies an action with an actor that lacks the
// standing for it; not_allowed is the only acceptable answer.
func ruleStrangerTransition() Rule {
	table := transitionTable()
	return Rule{
		Name:   "stranger-transition",
		Enabled: func(e *Env) bool {
			return len(e.Mirror.Items) > 0 && len(e.Mirror.Actors) > 1
		},
		Run: func(ctx context.Context, e *Env) error {
			itemID := pick(e.RNG, e.Mirror.ItemIDs())
			it := e.Mirror.Items[itemID]
			spec := table[e.RNG.Intn(len(table))]
			legit := spec.actorFor(e.Mirror, it)
			author := e.Mirror.Proposals[it.ProposalID].AuthorID

			var strangers []string
			for _, id := range e.Mirror.ActorIDs("") {
				if id == legit {
					continue
				}
				// reopen accepts both the item's reviewer and the author.
				if spec.action == "reopen" && id == author {
					continue
				}
				strangers = append(strangers, id)
			}
			if len(strangers) == 0 {
				return nil
			}
			stranger := pick(e.RNG, strangers)

			_, out, err := e.Client.TransitionItem(ctx, itemID, stranger, spec.action)
			if err != nil {
				return err
			}
			if out.OK() {
				return &Failure{Check: "feedback-standing",
					Detail: fmt.Sprintf("%s on item %s by %s was accepted without standing", spec.action, itemID, stranger)}
			}
			if out.Code != "not_allowed" {
				return &Failure{Check: "feedback-standing",
					Detail: fmt.Sprintf("%s on item %s by %s returned code %q, want not_allowed", spec.action, itemID, stranger, out.Code)}
			}
			return nil
		},
	}
}

// ruleCheckGraduation compares the SUT's promotion gate to the mirror's.
func ruleCheckGraduation() Rule {
	return Rule{
		Name:    "check-graduation",
		Enabled: func(e *Env) bool { return len(e.Mirror.Proposals) > 0 },
		Run: func(ctx context.Context, e *Env) error {
			proposalID := pick(e.RNG, e.Mirror.ProposalIDs())
			reviewers, blocking, graduated := e.Mirror.ExpectedGraduation(proposalID)

			g, out, err := e.Client.Graduation(ctx, proposalID)
			if err != nil {
				return err
			}
			if !out.OK() {
				return &Failure{Check: "graduation-gate",
					Detail: fmt.Sprintf("graduation of %s failed: status %d code %s", proposalID, out.Status, out.Code)}
			}
			if g.Reviewers != reviewers || g.BlockingItems != blocking || g.Graduated != graduated {
				return &Failure{Check: "graduation-gate",
					Detail: fmt.Sprintf("graduation of %s: got reviewers=%d blocking=%d graduated=%v, want %d/%d/%v",
						proposalID, g.Reviewers, g.BlockingItems, g.Graduated, reviewers, blocking, graduated)}
			}
			return nil
		},
	}
}
