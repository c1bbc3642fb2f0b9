package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
)

// InfraError marks a failure to reach the SUT at all (connection refused,
// transport error). Runs abort with an inconclusive verdict on these so CI
// does not misreport infrastructure flakiness as a product bug.
type InfraError struct {
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("SUT unreachable: %v", e.Err)
}

func (e *InfraError) Unwrap() error {
	return e.Err
}

// Outcome is the classified result of one SUT call.
type Outcome struct {
	Status   int
	Code     string // error code from the wire, "" on success
	Claimant string // surviving claimant on already_claimed conflicts
	Body     []byte
	Replayed bool // response served from an idempotency record
}

// OK reports a 2xx status.
func (o Outcome) OK() bool {
	return o.Status >= 200 && o.Status < 300
}

// ServerFault records a 5xx observed during the run.
type ServerFault struct {
	Method string
	Path   string
	Status int
	Body   string
}

// Client drives the SUT HTTP surface and records every call.
//
// Only the driver uses it, one call at a time; no locking.
type Client struct {
	base   string
	http   *http.Client
	trace  *Trace
	faults []ServerFault
}

// NewClient creates a client for the SUT at base (e.g. "http://127.0.0.1:...").
func NewClient(base string, httpClient *http.Client, trace *Trace) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: base, http: httpClient, trace: trace}
}

// ServerFaults returns every 5xx seen so far. The end-of-run sweep fails
// the run if this is non-empty.
func (c *Client) ServerFaults() []ServerFault {
	return c.faults
}

// do issues one request, records it, and classifies the response.
func (c *Client) do(ctx context.Context, method, path string, body any) (Outcome, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Outcome{}, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return Outcome{}, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, path)
}

// send executes a prepared request. Split out so callers can set headers.
func (c *Client) send(req *http.Request, path string) (Outcome, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return Outcome{}, &InfraError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, &InfraError{Err: err}
	}

	out := Outcome{
		Status:   resp.StatusCode,
		Body:     raw,
		Replayed: resp.Header.Get("X-Idempotent-Replay") == "true",
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error struct {
				Code     string `json:"code"`
				Claimant string `json:"claimant"`
			} `json:"error"`
		}
		// Best effort; replayed failure bodies share the same shape.
		if err := json.Unmarshal(raw, &envelope); err == nil {
			out.Code = envelope.Error.Code
			out.Claimant = envelope.Error.Claimant
		}
	}

	if resp.StatusCode >= 500 {
		c.faults = append(c.faults, ServerFault{
			Method: req.Method,
			Path:   path,
			Status: resp.StatusCode,
			Body:   string(raw),
		})
	}

	if c.trace != nil {
		c.trace.Record(req.Method, path, out.Status, out.Code)
	}
	return out, nil
}

// CreateActor registers a synthetic agent with the given role.
func (c *Client) CreateActor(ctx context.Context, role world.Role) (world.Actor, Outcome, error) {
	out, err := c.do(ctx, http.MethodPost, "/actors", map[string]string{"role": string(role)})
	if err != nil {
		return world.Actor{}, out, err
	}
	var a world.Actor
	if out.OK() {
		if err := json.Unmarshal(out.Body, &a); err != nil {
			return world.Actor{}, out, fmt.Errorf("decode actor: %w", err)
		}
	}
	return a, out, nil
}

// CreateWorld registers a world.
func (c *Client) CreateWorld(ctx context.Context, name string) (world.World, Outcome, error) {
	out, err := c.do(ctx, http.MethodPost, "/worlds", map[string]string{"name": name})
	if err != nil {
		return world.World{}, out, err
	}
	var w world.World
	if out.OK() {
		if err := json.Unmarshal(out.Body, &w); err != nil {
			return world.World{}, out, fmt.Errorf("decode world: %w", err)
		}
	}
	return w, out, nil
}

// CreateDweller spawns an unclaimed dweller in a world.
func (c *Client) CreateDweller(ctx context.Context, worldID string) (world.Dweller, Outcome, error) {
	out, err := c.do(ctx, http.MethodPost, "/worlds/"+worldID+"/dwellers", map[string]string{})
	if err != nil {
		return world.Dweller{}, out, err
	}
	var d world.Dweller
	if out.OK() {
		if err := json.Unmarshal(out.Body, &d); err != nil {
			return world.Dweller{}, out, fmt.Errorf("decode dweller: %w", err)
		}
	}
	return d, out, nil
}

// Claim attempts an exclusive claim.
func (c *Client) Claim(ctx context.Context, dwellerID, actorID string) (world.Dweller, Outcome, error) {
	out, err := c.do(ctx, http.MethodPost, "/resources/"+dwellerID+"/claim", map[string]string{"actor_id": actorID})
	if err != nil {
		return world.Dweller{}, out, err
	}
	var d world.Dweller
	if out.OK() {
		if err := json.Unmarshal(out.Body, &d); err != nil {
			return world.Dweller{}, out, fmt.Errorf("decode dweller: %w", err)
		}
	}
	return d, out, nil
}

// Release clears a claim held by actorID.
func (c *Client) Release(ctx context.Context, dwellerID, actorID string) (Outcome, error) {
	return c.do(ctx, http.MethodPost, "/resources/"+dwellerID+"/release", map[string]string{"actor_id": actorID})
}

// SubmitProposal creates a proposal, deduplicated by key when non-empty.
func (c *Client) SubmitProposal(ctx context.Context, key, worldID, authorID, body string) (world.Proposal, Outcome, error) {
	payload, err := json.Marshal(map[string]string{
		"world_id":  worldID,
		"author_id": authorID,
		"body":      body,
	})
	if err != nil {
		return world.Proposal{}, Outcome{}, fmt.Errorf("marshal proposal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/proposals", bytes.NewReader(payload))
	if err != nil {
		return world.Proposal{}, Outcome{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-Idempotency-Key", key)
	}

	out, err := c.send(req, "/proposals")
	if err != nil {
		return world.Proposal{}, out, err
	}
	var p world.Proposal
	if out.OK() {
		if err := json.Unmarshal(out.Body, &p); err != nil {
			return world.Proposal{}, out, fmt.Errorf("decode proposal: %w", err)
		}
	}
	return p, out, nil
}

// SubmitReview submits a reviewer's feedback items for a proposal.
func (c *Client) SubmitReview(ctx context.Context, proposalID, reviewerID string, bodies []string) ([]string, Outcome, error) {
	items := make([]map[string]string, len(bodies))
	for i, b := range bodies {
		items[i] = map[string]string{"body": b}
	}
	out, err := c.do(ctx, http.MethodPost, "/review/proposal/"+proposalID+"/feedback", map[string]any{
		"reviewer_id": reviewerID,
		"items":       items,
	})
	if err != nil {
		return nil, out, err
	}
	if !out.OK() {
		return nil, out, nil
	}
	var resp struct {
		ItemIDs []string `json:"item_ids"`
	}
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, out, fmt.Errorf("decode review response: %w", err)
	}
	return resp.ItemIDs, out, nil
}

// ViewFeedback fetches the visibility-filtered feedback for a viewer.
func (c *Client) ViewFeedback(ctx context.Context, proposalID, viewerID string) (world.FeedbackView, Outcome, error) {
	out, err := c.do(ctx, http.MethodGet, "/review/proposal/"+proposalID+"/feedback?viewer="+viewerID, nil)
	if err != nil {
		return world.FeedbackView{}, out, err
	}
	var view world.FeedbackView
	if out.OK() {
		if err := json.Unmarshal(out.Body, &view); err != nil {
			return world.FeedbackView{}, out, fmt.Errorf("decode feedback view: %w", err)
		}
	}
	return view, out, nil
}

// TransitionItem applies respond/resolve/reopen/dispute to a feedback item.
func (c *Client) TransitionItem(ctx context.Context, itemID, actorID, action string) (world.FeedbackItem, Outcome, error) {
	out, err := c.do(ctx, http.MethodPost, "/review/feedback-item/"+itemID+"/"+action, map[string]string{"actor_id": actorID})
	if err != nil {
		return world.FeedbackItem{}, out, err
	}
	var item world.FeedbackItem
	if out.OK() {
		if err := json.Unmarshal(out.Body, &item); err != nil {
			return world.FeedbackItem{}, out, fmt.Errorf("decode feedback item: %w", err)
		}
	}
	return item, out, nil
}

// Graduation evaluates the promotion gate for a proposal.
func (c *Client) Graduation(ctx context.Context, proposalID string) (world.GraduationStatus, Outcome, error) {
	out, err := c.do(ctx, http.MethodGet, "/review/proposal/"+proposalID+"/graduation", nil)
	if err != nil {
		return world.GraduationStatus{}, out, err
	}
	var g world.GraduationStatus
	if out.OK() {
		if err := json.Unmarshal(out.Body, &g); err != nil {
			return world.GraduationStatus{}, out, fmt.Errorf("decode graduation: %w", err)
		}
	}
	return g, out, nil
}

// AdvanceClock moves the SUT's simulated clock forward.
func (c *Client) AdvanceClock(ctx context.Context, millis int64) (Outcome, error) {
	return c.do(ctx, http.MethodPost, "/sim/clock/advance", map[string]int64{"millis": millis})
}

// EnableBuggify arms a fault tag on the SUT.
func (c *Client) EnableBuggify(ctx context.Context, tag string, probability float64) (Outcome, error) {
	return c.do(ctx, http.MethodPost, "/sim/buggify", map[string]any{
		"tag":         tag,
		"probability": probability,
	})
}
