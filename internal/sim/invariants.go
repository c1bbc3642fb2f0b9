package sim

import (
	"context"
	"fmt"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/world/store"
)

// Failure is a detected contract violation. Rules raise them when a
// response contradicts the mirror; the checker raises them when stored
// state does. The driver halts the run on the first one.
type Failure struct {
	Check  string
	Detail string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Check, f.Detail)
}

// Checker verifies SUT state against the mirror. State checks go straight
// to the store (the SUT runs in-process); behavioral sweeps go through the
// client so they exercise the same surface the rules do.
type Checker struct {
	client *Client
	store  *store.Store
	mirror *Mirror
}

// NewChecker creates a checker over a run's client, store, and mirror.
func NewChecker(client *Client, st *store.Store, mirror *Mirror) *Checker {
	return &Checker{client: client, store: st, mirror: mirror}
}

// CheckStep runs the safety checks after every step: claim state, dedup
// side-effect counts, the visibility matrix over every (proposal, viewer)
// pair, and the promotion gate for every proposal. A leak or gate drift is
// attributed to the step that introduced it, not discovered at run end.
func (c *Checker) CheckStep(ctx context.Context, env *Env) error {
	if err := c.checkClaims(ctx); err != nil {
		return err
	}
	if err := c.checkSideEffects(ctx); err != nil {
		return err
	}
	if err := c.checkVisibilityMatrix(ctx, env); err != nil {
		return err
	}
	return c.checkGraduations(ctx, env)
}

// checkClaims compares every dweller's stored claimant and claim count to
// the mirror. Equality each step also gives monotonicity: the mirror's
// count only increases, so a matching store count can never regress.
func (c *Checker) checkClaims(ctx context.Context) error {
	for _, id := range c.mirror.DwellerIDs() {
		want := c.mirror.Dwellers[id]
		got, err := c.store.GetDweller(ctx, id)
		if err != nil {
			return fmt.Errorf("inspect dweller %s: %w", id, err)
		}
		if got.Claimant != want.Claimant {
			return &Failure{Check: "claim-exclusivity",
				Detail: fmt.Sprintf("dweller %s stored claimant %q, mirror has %q", id, got.Claimant, want.Claimant)}
		}
		if got.ClaimCount != want.ClaimCount {
			return &Failure{Check: "claim-count-monotonic",
				Detail: fmt.Sprintf("dweller %s stored claim count %d, mirror has %d", id, got.ClaimCount, want.ClaimCount)}
		}
	}
	return nil
}

// checkSideEffects verifies each idempotency key caused at most one side
// effect per generation, and that the store's total matches the mirror's.
func (c *Checker) checkSideEffects(ctx context.Context) error {
	for _, key := range c.mirror.KeyNames() {
		k := c.mirror.Keys[key]
		if k.Executions > 1 {
			return &Failure{Check: "dedup-side-effect",
				Detail: fmt.Sprintf("key %s executed %d times within one dedup window", key, k.Executions)}
		}
		n, err := c.store.SideEffectCount(ctx, key)
		if err != nil {
			return fmt.Errorf("inspect key %s: %w", key, err)
		}
		if n != k.Total {
			return &Failure{Check: "dedup-side-effect",
				Detail: fmt.Sprintf("key %s has %d stored proposals, mirror expects %d", key, n, k.Total)}
		}
	}
	return nil
}

// CheckFinal runs the end-of-run sweeps: the per-step checks one last
// time, absence of server faults, and reclaim liveness for every released
// dweller.
func (c *Checker) CheckFinal(ctx context.Context, env *Env) error {
	if err := c.CheckStep(ctx, env); err != nil {
		return err
	}
	if err := c.checkServerFaults(); err != nil {
		return err
	}
	return c.checkReclaimable(ctx, env)
}

// checkVisibilityMatrix enumerates every (proposal, actor) pair: authors
// and submitted reviewers see everything, everyone else sees a blind
// empty view.
func (c *Checker) checkVisibilityMatrix(ctx context.Context, env *Env) error {
	actors := c.mirror.ActorIDs("")
	for _, proposalID := range c.mirror.ProposalIDs() {
		for _, viewerID := range actors {
			if err := checkVisibility(ctx, env, proposalID, viewerID); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkGraduations compares every proposal's gate to the mirror's.
func (c *Checker) checkGraduations(ctx context.Context, env *Env) error {
	for _, proposalID := range c.mirror.ProposalIDs() {
		reviewers, blocking, graduated := c.mirror.ExpectedGraduation(proposalID)
		g, out, err := c.client.Graduation(ctx, proposalID)
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
	}
	return nil
}

// checkServerFaults fails the run if any 5xx was observed.
func (c *Checker) checkServerFaults() error {
	faults := c.client.ServerFaults()
	if len(faults) == 0 {
		return nil
	}
	f := faults[0]
	return &Failure{Check: "no-server-faults",
		Detail: fmt.Sprintf("%d server errors; first: %s %s -> %d %s", len(faults), f.Method, f.Path, f.Status, f.Body)}
}

// checkReclaimable probes that every unclaimed dweller can actually be
// claimed: a release that leaves the row wedged would otherwise go
// unnoticed. Runs last because the probe claims mutate state.
func (c *Checker) checkReclaimable(ctx context.Context, env *Env) error {
	actors := c.mirror.ActorIDs("")
	if len(actors) == 0 {
		return nil
	}
	prober := actors[0]
	for _, id := range c.mirror.DwellerIDs() {
		if c.mirror.Dwellers[id].Claimant != "" {
			continue
		}
		d, out, err := c.client.Claim(ctx, id, prober)
		if err != nil {
			return err
		}
		if !out.OK() || d.Claimant != prober {
			return &Failure{Check: "reclaim-liveness",
				Detail: fmt.Sprintf("unclaimed dweller %s refused probe claim: status %d code %s", id, out.Status, out.Code)}
		}
		c.mirror.ApplyClaim(id, prober)
	}
	return nil
}
