package sim

import (
	"github.com/nerdsane/deep-sci-fi-sub003/internal/canonical"
)

// MutationEvent is one SUT call recorded during a run. Events exist for
// post-hoc diagnosis and golden comparison; invariants never read them.
type MutationEvent struct {
	Seq    int64  `json:"seq"`
	Step   int    `json:"step"`
	Rule   string `json:"rule"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Status int    `json:"status"`
	Code   string `json:"code,omitempty"`
}

// Trace accumulates MutationEvents in execution order.
//
// Single-writer: the driver executes one rule at a time and the client
// records calls synchronously, so no locking is needed.
type Trace struct {
	events []MutationEvent
	seq    int64

	step int
	rule string
}

// NewTrace creates an empty trace.
func NewTrace() *Trace {
	return &Trace{}
}

// BeginStep attributes subsequent events to a step and rule.
func (t *Trace) BeginStep(step int, rule string) {
	t.step = step
	t.rule = rule
}

// Record appends one SUT call.
func (t *Trace) Record(method, path string, status int, code string) {
	t.seq++
	t.events = append(t.events, MutationEvent{
		Seq:    t.seq,
		Step:   t.step,
		Rule:   t.rule,
		Method: method,
		Path:   path,
		Status: status,
		Code:   code,
	})
}

// Events returns the recorded events in order.
func (t *Trace) Events() []MutationEvent {
	return t.events
}

// CanonicalJSON serializes the trace to RFC 8785 canonical JSON so two
// runs of the same seed produce byte-identical artifacts.
func (t *Trace) CanonicalJSON(runName string, seed int64) ([]byte, error) {
	events := make([]any, len(t.events))
	for i, e := range t.events {
		ev := map[string]any{
			"seq":    e.Seq,
			"step":   e.Step,
			"rule":   e.Rule,
			"method": e.Method,
			"path":   e.Path,
			"status": e.Status,
		}
		if e.Code != "" {
			ev["code"] = e.Code
		}
		events[i] = ev
	}
	return canonical.Marshal(map[string]any{
		"run":    runName,
		"seed":   seed,
		"events": events,
	})
}
