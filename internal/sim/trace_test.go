package sim

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTrace() *Trace {
	tr := NewTrace()
	tr.BeginStep(-1, "seed-population")
	tr.Record("POST", "/actors", 201, "")
	tr.Record("POST", "/worlds", 201, "")
	tr.BeginStep(0, "claim-dweller")
	tr.Record("POST", "/resources/dweller-0001/claim", 200, "")
	tr.BeginStep(1, "claim-dweller")
	tr.Record("POST", "/resources/dweller-0001/claim", 409, "already_claimed")
	return tr
}

func TestTraceCanonicalJSONGolden(t *testing.T) {
	data, err := buildTrace().CanonicalJSON("golden-run", 7)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "canonical_trace", data)
}

func TestTraceEventsCarryStepAttribution(t *testing.T) {
	events := buildTrace().Events()
	require.Len(t, events, 4)

	assert.Equal(t, int64(1), events[0].Seq)
	assert.Equal(t, -1, events[0].Step)
	assert.Equal(t, "seed-population", events[0].Rule)

	last := events[3]
	assert.Equal(t, int64(4), last.Seq)
	assert.Equal(t, 1, last.Step)
	assert.Equal(t, "claim-dweller", last.Rule)
	assert.Equal(t, "already_claimed", last.Code)
}

func TestTraceCanonicalJSONIsStable(t *testing.T) {
	a, err := buildTrace().CanonicalJSON("run", 1)
	require.NoError(t, err)
	b, err := buildTrace().CanonicalJSON("run", 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
