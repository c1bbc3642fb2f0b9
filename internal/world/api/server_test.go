package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/buggify"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/simclock"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/world/store"
)

// testEnv wires a full server with a simulated clock and fault registry.
type testEnv struct {
	ts     *httptest.Server
	store  *store.Store
	clock  *simclock.Simulated
	faults *buggify.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := simclock.NewSimulated()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"), clock)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	faults := buggify.New(7)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(st, clock, world.NewSequenceGenerator(), faults, logger, Config{
		DedupTTL: time.Hour,
		SimMode:  true,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: st, clock: clock, faults: faults}
}

// post issues a JSON POST and decodes the response into out (if non-nil).
func (e *testEnv) post(t *testing.T, path string, body any, headers map[string]string, out any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, e.ts.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (e *testEnv) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := e.ts.Client().Get(e.ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (e *testEnv) createActor(t *testing.T, role world.Role) world.Actor {
	t.Helper()
	var a world.Actor
	resp := e.post(t, "/actors", map[string]string{"role": string(role)}, nil, &a)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return a
}

func (e *testEnv) createWorld(t *testing.T, name string) world.World {
	t.Helper()
	var w world.World
	resp := e.post(t, "/worlds", map[string]string{"name": name}, nil, &w)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return w
}

func (e *testEnv) createDweller(t *testing.T, worldID string) world.Dweller {
	t.Helper()
	var d world.Dweller
	resp := e.post(t, "/worlds/"+worldID+"/dwellers", map[string]string{}, nil, &d)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return d
}

func (e *testEnv) submitReview(t *testing.T, proposalID, reviewerID string, bodies ...string) {
	t.Helper()
	items := make([]map[string]string, len(bodies))
	for i, b := range bodies {
		items[i] = map[string]string{"body": b}
	}
	resp := e.post(t, "/review/proposal/"+proposalID+"/feedback",
		map[string]any{"reviewer_id": reviewerID, "items": items}, nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// wireError is the decoded error envelope.
type wireError struct {
	Error struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		Claimant string `json:"claimant"`
	} `json:"error"`
}

func TestContestedClaim(t *testing.T) {
	e := newTestEnv(t)
	a := e.createActor(t, world.RoleGeneric)
	b := e.createActor(t, world.RoleGeneric)
	w := e.createWorld(t, "arrakis")
	d := e.createDweller(t, w.ID)

	var won world.Dweller
	resp := e.post(t, "/resources/"+d.ID+"/claim", map[string]string{"actor_id": a.ID}, nil, &won)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, a.ID, won.Claimant)
	assert.Equal(t, int64(1), won.ClaimCount)

	// Loser gets a structured conflict naming the winner.
	var conflict wireError
	resp = e.post(t, "/resources/"+d.ID+"/claim", map[string]string{"actor_id": b.ID}, nil, &conflict)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_claimed", conflict.Error.Code)
	assert.Equal(t, a.ID, conflict.Error.Claimant)
}

func TestReleaseAndReclaim(t *testing.T) {
	e := newTestEnv(t)
	a := e.createActor(t, world.RoleGeneric)
	b := e.createActor(t, world.RoleGeneric)
	w := e.createWorld(t, "caladan")
	d := e.createDweller(t, w.ID)

	resp := e.post(t, "/resources/"+d.ID+"/claim", map[string]string{"actor_id": a.ID}, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Non-claimant release is refused.
	var refusal wireError
	resp = e.post(t, "/resources/"+d.ID+"/release", map[string]string{"actor_id": b.ID}, nil, &refusal)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "not_claimant", refusal.Error.Code)

	// Claimant release frees the dweller for the next actor.
	resp = e.post(t, "/resources/"+d.ID+"/release", map[string]string{"actor_id": a.ID}, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reclaimed world.Dweller
	resp = e.post(t, "/resources/"+d.ID+"/claim", map[string]string{"actor_id": b.ID}, nil, &reclaimed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, b.ID, reclaimed.Claimant)
	assert.Equal(t, int64(2), reclaimed.ClaimCount)
}

func TestProposalRetryStorm(t *testing.T) {
	e := newTestEnv(t)
	author := e.createActor(t, world.RoleProposer)
	w := e.createWorld(t, "ix")

	body := map[string]string{"world_id": w.ID, "author_id": author.ID, "body": "draft one"}
	headers := map[string]string{IdempotencyKeyHeader: "storm-key"}

	var first world.Proposal
	resp := e.post(t, "/proposals", body, headers, &first)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("X-Idempotent-Replay"))

	// Every retry with the same key replays the stored response and
	// creates nothing.
	for i := 0; i < 5; i++ {
		var retry world.Proposal
		resp := e.post(t, "/proposals", body, headers, &retry)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, first.ID, retry.ID)
		assert.Equal(t, "true", resp.Header.Get("X-Idempotent-Replay"))
	}

	n, err := e.store.SideEffectCount(t.Context(), "storm-key")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "exactly one proposal per key")
}

func TestProposalKeyExpiry(t *testing.T) {
	e := newTestEnv(t)
	author := e.createActor(t, world.RoleProposer)
	w := e.createWorld(t, "tleilax")

	body := map[string]string{"world_id": w.ID, "author_id": author.ID, "body": "draft"}
	headers := map[string]string{IdempotencyKeyHeader: "expiring-key"}

	var first world.Proposal
	resp := e.post(t, "/proposals", body, headers, &first)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Advance the simulated clock past the TTL over the control surface.
	resp = e.post(t, "/sim/clock/advance", map[string]int64{"millis": (2 * time.Hour).Milliseconds()}, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The key is dead; reuse executes fresh.
	var second world.Proposal
	resp = e.post(t, "/proposals", body, headers, &second)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Empty(t, resp.Header.Get("X-Idempotent-Replay"))

	n, err := e.store.SideEffectCount(t.Context(), "expiring-key")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one proposal per dedup window")
}

func TestBlindReviewVisibility(t *testing.T) {
	e := newTestEnv(t)
	author := e.createActor(t, world.RoleProposer)
	revA := e.createActor(t, world.RoleReviewer)
	revB := e.createActor(t, world.RoleReviewer)
	w := e.createWorld(t, "kaitain")

	var p world.Proposal
	resp := e.post(t, "/proposals",
		map[string]string{"world_id": w.ID, "author_id": author.ID, "body": "draft"}, nil, &p)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	e.submitReview(t, p.ID, revA.ID, "unclear premise", "weak ending")

	// Author sees all items without reviewing.
	var view world.FeedbackView
	resp = e.get(t, "/review/proposal/"+p.ID+"/feedback?viewer="+author.ID, &view)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, view.Blind)
	assert.Len(t, view.Items, 2)

	// A reviewer who has not submitted sees a blind empty view.
	resp = e.get(t, "/review/proposal/"+p.ID+"/feedback?viewer="+revB.ID, &view)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, view.Blind)
	assert.Empty(t, view.Items)

	// Submitting unlocks the full thread.
	e.submitReview(t, p.ID, revB.ID, "pacing issue")
	resp = e.get(t, "/review/proposal/"+p.ID+"/feedback?viewer="+revB.ID, &view)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, view.Blind)
	assert.Len(t, view.Items, 3)
}

func TestSelfReviewRejected(t *testing.T) {
	e := newTestEnv(t)
	author := e.createActor(t, world.RoleProposer)
	w := e.createWorld(t, "salusa")

	var p world.Proposal
	resp := e.post(t, "/proposals",
		map[string]string{"world_id": w.ID, "author_id": author.ID, "body": "draft"}, nil, &p)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var refusal wireError
	resp = e.post(t, "/review/proposal/"+p.ID+"/feedback",
		map[string]any{"reviewer_id": author.ID, "items": []map[string]string{{"body": "flawless"}}},
		nil, &refusal)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "self_review", refusal.Error.Code)
}

func TestGraduationFlips(t *testing.T) {
	e := newTestEnv(t)
	author := e.createActor(t, world.RoleProposer)
	revA := e.createActor(t, world.RoleReviewer)
	revB := e.createActor(t, world.RoleReviewer)
	w := e.createWorld(t, "chapterhouse")

	var p world.Proposal
	resp := e.post(t, "/proposals",
		map[string]string{"world_id": w.ID, "author_id": author.ID, "body": "draft"}, nil, &p)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	gate := func() world.GraduationStatus {
		var g world.GraduationStatus
		resp := e.get(t, "/review/proposal/"+p.ID+"/graduation", &g)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return g
	}

	// One reviewer with one open item: neither condition holds.
	var submitResp struct {
		ItemIDs []string `json:"item_ids"`
	}
	resp = e.post(t, "/review/proposal/"+p.ID+"/feedback",
		map[string]any{"reviewer_id": revA.ID, "items": []map[string]string{{"body": "fix intro"}}},
		nil, &submitResp)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, submitResp.ItemIDs, 1)
	itemID := submitResp.ItemIDs[0]
	assert.False(t, gate().Graduated)

	// Second reviewer, no items of their own... but the open item blocks.
	e.submitReview(t, p.ID, revB.ID, "typo on page 3")
	g := gate()
	assert.Equal(t, 2, g.Reviewers)
	assert.False(t, g.Graduated)

	// Resolve both items: graduated.
	resp = e.post(t, "/review/feedback-item/"+itemID+"/resolve", map[string]string{"actor_id": revA.ID}, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var all []world.FeedbackItem
	all, err := e.store.AllFeedback(t.Context(), p.ID)
	require.NoError(t, err)
	for _, item := range all {
		if item.Status == world.FeedbackOpen {
			resp := e.post(t, "/review/feedback-item/"+item.ID+"/resolve",
				map[string]string{"actor_id": item.ReviewerID}, nil, nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
		}
	}
	assert.True(t, gate().Graduated)

	// Reopening any item revokes graduation.
	resp = e.post(t, "/review/feedback-item/"+itemID+"/reopen", map[string]string{"actor_id": revA.ID}, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	g = gate()
	assert.Equal(t, 1, g.BlockingItems)
	assert.False(t, g.Graduated)
}

func TestFeedbackActionValidation(t *testing.T) {
	e := newTestEnv(t)
	author := e.createActor(t, world.RoleProposer)
	rev := e.createActor(t, world.RoleReviewer)
	outsider := e.createActor(t, world.RoleGeneric)
	w := e.createWorld(t, "giedi")

	var p world.Proposal
	resp := e.post(t, "/proposals",
		map[string]string{"world_id": w.ID, "author_id": author.ID, "body": "draft"}, nil, &p)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var submitResp struct {
		ItemIDs []string `json:"item_ids"`
	}
	resp = e.post(t, "/review/proposal/"+p.ID+"/feedback",
		map[string]any{"reviewer_id": rev.ID, "items": []map[string]string{{"body": "hm"}}},
		nil, &submitResp)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	itemID := submitResp.ItemIDs[0]

	// Unknown action is a 400 before any store call.
	resp = e.post(t, "/review/feedback-item/"+itemID+"/promote", map[string]string{"actor_id": rev.ID}, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Wrong actor: 403 not_allowed.
	var refusal wireError
	resp = e.post(t, "/review/feedback-item/"+itemID+"/respond", map[string]string{"actor_id": outsider.ID}, nil, &refusal)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "not_allowed", refusal.Error.Code)

	// Wrong phase: respond requires open; resolve it first.
	resp = e.post(t, "/review/feedback-item/"+itemID+"/resolve", map[string]string{"actor_id": rev.ID}, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.post(t, "/review/feedback-item/"+itemID+"/respond", map[string]string{"actor_id": author.ID}, nil, &refusal)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_transition", refusal.Error.Code)
}

// TestFeedbackActionRoutes drives one item through all four lifecycle
// routes. Each action is its own registered pattern, so this also proves
// the route table assembles without pattern conflicts.
func TestFeedbackActionRoutes(t *testing.T) {
	e := newTestEnv(t)
	author := e.createActor(t, world.RoleProposer)
	rev := e.createActor(t, world.RoleReviewer)
	w := e.createWorld(t, "tleilax")

	var p world.Proposal
	resp := e.post(t, "/proposals",
		map[string]string{"world_id": w.ID, "author_id": author.ID, "body": "draft"}, nil, &p)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var submitResp struct {
		ItemIDs []string `json:"item_ids"`
	}
	resp = e.post(t, "/review/proposal/"+p.ID+"/feedback",
		map[string]any{"reviewer_id": rev.ID, "items": []map[string]string{{"body": "unclear"}}},
		nil, &submitResp)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	itemID := submitResp.ItemIDs[0]

	steps := []struct {
		action string
		actor  string
		want   world.FeedbackStatus
	}{
		{"respond", author.ID, world.FeedbackAddressed},
		{"dispute", rev.ID, world.FeedbackDisputed},
		{"reopen", rev.ID, world.FeedbackOpen},
		{"resolve", rev.ID, world.FeedbackResolved},
	}
	for _, step := range steps {
		var item world.FeedbackItem
		resp := e.post(t, "/review/feedback-item/"+itemID+"/"+step.action,
			map[string]string{"actor_id": step.actor}, nil, &item)
		require.Equal(t, http.StatusOK, resp.StatusCode, "action %s", step.action)
		assert.Equal(t, step.want, item.Status, "action %s", step.action)
	}
}

func TestUnsupportedReviewContentType(t *testing.T) {
	e := newTestEnv(t)

	resp := e.get(t, "/review/media/m-1/feedback?viewer=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBuggifyControl(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, "/sim/buggify",
		map[string]any{"tag": buggify.TagClaimDuplicateDispatch, "probability": 0.5}, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.post(t, "/sim/buggify",
		map[string]any{"tag": "made/up-tag", "probability": 0.5}, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDuplicateClaimDispatchAbsorbed(t *testing.T) {
	e := newTestEnv(t)
	a := e.createActor(t, world.RoleGeneric)
	w := e.createWorld(t, "richese")
	d := e.createDweller(t, w.ID)

	// Always duplicate the dispatch; the duplicate must lose and the
	// count must move exactly once.
	e.faults.Enable(buggify.TagClaimDuplicateDispatch, 1.0)

	var claimed world.Dweller
	resp := e.post(t, "/resources/"+d.ID+"/claim", map[string]string{"actor_id": a.ID}, nil, &claimed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, a.ID, claimed.Claimant)
	assert.Equal(t, int64(1), claimed.ClaimCount)
}

func TestProductionModeHidesSimSurface(t *testing.T) {
	clock := simclock.SystemClock{}
	st, err := store.Open(filepath.Join(t.TempDir(), "prod.db"), clock)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(st, clock, world.UUIDGenerator{}, nil, logger, Config{DedupTTL: time.Hour})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Post(ts.URL+"/sim/clock/advance", "application/json",
		bytes.NewReader([]byte(`{"millis":1000}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
