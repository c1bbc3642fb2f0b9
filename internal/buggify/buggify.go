// Package buggify provides seeded fault injection for simulation runs.
//
// A Registry is created from the run seed and a set of enabled tags. Code
// under test asks Hit(tag) at pre-marked race windows; the answer is a pure
// function of (seed, tag, per-tag hit index), so a given seed triggers - or
// never triggers - a given tag identically on every run.
//
// When no registry is installed, or a tag is not enabled, Hit is a single
// boolean/map check and injects nothing. Production builds never construct
// a Registry, so every marked point is a no-op.
package buggify

import (
	"encoding/binary"
	"hash/fnv"
	"sync"
)

// Tags mark the race windows that previously produced production bugs.
// New tags require a corresponding rule or handler branch that models the
// expected outcome; an unknown tag enabled in a profile is a config error.
const (
	TagClaimDuplicateDispatch  = "claim/duplicate-dispatch"
	TagMutateDuplicateDispatch = "mutate/duplicate-dispatch"
	TagMutateReplyDrop         = "mutate/reply-drop"
	TagReviewDoubleVisibility  = "review/double-visibility-check"
)

// KnownTags lists every tag the SUT and rule catalog understand.
var KnownTags = []string{
	TagClaimDuplicateDispatch,
	TagMutateDuplicateDispatch,
	TagMutateReplyDrop,
	TagReviewDoubleVisibility,
}

// Registry decides fault injection deterministically from a run seed.
//
// Thread-safety: all methods are safe for concurrent use. The SUT handlers
// run from HTTP goroutines even though the driver issues one call at a time.
type Registry struct {
	seed int64

	mu      sync.Mutex
	enabled map[string]float64 // tag -> probability
	hits    map[string]uint64  // tag -> decision counter
}

// New creates a registry for the given run seed with no tags enabled.
func New(seed int64) *Registry {
	return &Registry{
		seed:    seed,
		enabled: make(map[string]float64),
		hits:    make(map[string]uint64),
	}
}

// Enable arms a tag with the given firing probability in [0, 1].
// Enabling an armed tag replaces its probability and resets its counter.
func (r *Registry) Enable(tag string, probability float64) {
	if probability < 0 {
		probability = 0
	}
	if probability > 1 {
		probability = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled[tag] = probability
	r.hits[tag] = 0
}

// Disable disarms a tag.
func (r *Registry) Disable(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.enabled, tag)
}

// Hit reports whether the fault at tag fires for this call site visit.
//
// A nil registry never fires, so production code can hold a nil *Registry
// and pay only for the nil check.
func (r *Registry) Hit(tag string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.enabled[tag]
	if !ok || p == 0 {
		return false
	}
	n := r.hits[tag]
	r.hits[tag] = n + 1
	return decide(r.seed, tag, n) < p
}

// Enabled returns the armed tags and their probabilities.
// Used by the run report so a failing artifact records the fault config.
func (r *Registry) Enabled() map[string]float64 {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64, len(r.enabled))
	for tag, p := range r.enabled {
		out[tag] = p
	}
	return out
}

// decide maps (seed, tag, hit index) to a unit-interval float via FNV-1a.
// Pure function - the whole determinism guarantee rests on this.
func decide(seed int64, tag string, n uint64) float64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seed))
	h.Write(buf[:])
	h.Write([]byte(tag))
	binary.BigEndian.PutUint64(buf[:], n)
	h.Write(buf[:])
	// 53 bits of hash into [0, 1), same construction as rand.Float64.
	return float64(h.Sum64()>>11) / (1 << 53)
}

// IsKnown reports whether tag is part of the supported catalog.
func IsKnown(tag string) bool {
	for _, t := range KnownTags {
		if t == tag {
			return true
		}
	}
	return false
}
