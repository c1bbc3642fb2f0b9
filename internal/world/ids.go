package world

import (
	"fmt"

	"github.com/google/uuid"
)

// UUIDGenerator mints random UUIDs. Production default.
type UUIDGenerator struct{}

// NewID returns a kind-prefixed random identifier.
func (UUIDGenerator) NewID(kind string) string {
	return fmt.Sprintf("%s-%s", kind, uuid.NewString())
}

// SequenceGenerator mints sequential identifiers per kind. Simulation runs
// use it so the same seed mints the same IDs and traces stay byte-stable.
type SequenceGenerator struct {
	counts map[string]int
}

// NewSequenceGenerator creates an empty sequential generator.
func NewSequenceGenerator() *SequenceGenerator {
	return &SequenceGenerator{counts: make(map[string]int)}
}

// NewID returns kind-NNNN, numbered from 1 within each kind.
func (g *SequenceGenerator) NewID(kind string) string {
	g.counts[kind]++
	return fmt.Sprintf("%s-%04d", kind, g.counts[kind])
}
