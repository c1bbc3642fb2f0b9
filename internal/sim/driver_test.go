package sim

import (
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRunOptions(seed int64) Options {
	return Options{
		Seed:     seed,
		Steps:    120,
		MinSteps: 20,
		TTL:      time.Hour,
		Population: Population{
			Proposers: 2,
			Reviewers: 3,
			Generics:  1,
			Worlds:    2,
			Dwellers:  4,
		},
		Faults: map[string]float64{
			"claim/duplicate-dispatch":       0.3,
			"mutate/duplicate-dispatch":      0.3,
			"mutate/reply-drop":              0.5,
			"review/double-visibility-check": 0.3,
		},
		Logger: discardLogger(),
	}
}

func TestRunPassesAgainstCorrectSUT(t *testing.T) {
	report, trace, err := Run(t.Context(), testRunOptions(42))
	require.NoError(t, err)

	assert.Equal(t, VerdictPassed, report.Verdict)
	assert.Nil(t, report.Violation)
	assert.Empty(t, report.Infra)
	assert.Equal(t, 120, report.Steps)
	assert.False(t, report.Starved)
	assert.NotEmpty(t, trace.Events())
	assert.Contains(t, report.Repro, "--seed 42")
}

func TestRunIsDeterministic(t *testing.T) {
	opts := testRunOptions(1337)

	report1, trace1, err := Run(t.Context(), opts)
	require.NoError(t, err)
	report2, trace2, err := Run(t.Context(), opts)
	require.NoError(t, err)

	assert.Equal(t, report1.Verdict, report2.Verdict)
	assert.Equal(t, report1.Steps, report2.Steps)
	assert.Equal(t, report1.RuleCounts, report2.RuleCounts)

	bytes1, err := trace1.CanonicalJSON(report1.RunName, opts.Seed)
	require.NoError(t, err)
	bytes2, err := trace2.CanonicalJSON(report2.RunName, opts.Seed)
	require.NoError(t, err)
	assert.Equal(t, bytes1, bytes2, "same seed must produce byte-identical traces")
}

func TestRunSeedChangesSchedule(t *testing.T) {
	report1, trace1, err := Run(t.Context(), testRunOptions(7))
	require.NoError(t, err)
	report2, trace2, err := Run(t.Context(), testRunOptions(8))
	require.NoError(t, err)

	bytes1, err := trace1.CanonicalJSON("x", 0)
	require.NoError(t, err)
	bytes2, err := trace2.CanonicalJSON("x", 0)
	require.NoError(t, err)

	assert.NotEqual(t, bytes1, bytes2, "different seeds must explore different schedules")
	assert.Equal(t, VerdictPassed, report1.Verdict)
	assert.Equal(t, VerdictPassed, report2.Verdict)
}

func TestRunRejectsNonPositiveSteps(t *testing.T) {
	opts := testRunOptions(1)
	opts.Steps = 0

	_, _, err := Run(t.Context(), opts)
	require.Error(t, err)
}

func TestRunWatchdogReportsInconclusive(t *testing.T) {
	opts := testRunOptions(1)
	opts.Watchdog = time.Nanosecond

	report, _, err := Run(t.Context(), opts)
	require.NoError(t, err)
	assert.Equal(t, VerdictInconclusive, report.Verdict)
	assert.Contains(t, report.Infra, "watchdog")
}

func TestStepSeedVariesPerStep(t *testing.T) {
	seen := make(map[int64]int)
	for step := 0; step < 1000; step++ {
		s := stepSeed(99, step)
		if prev, dup := seen[s]; dup {
			t.Fatalf("steps %d and %d derived the same seed %d", prev, step, s)
		}
		seen[s] = step
	}

	assert.Equal(t, stepSeed(99, 5), stepSeed(99, 5), "step seed must be a pure function")
	assert.NotEqual(t, stepSeed(99, 5), stepSeed(100, 5))
}

func TestStepSeedHandlesNegativeSeed(t *testing.T) {
	// The mix multiplier exceeds int64; the derivation must still be
	// well defined for any seed the CLI accepts.
	seen := make(map[int64]bool)
	for step := 0; step < 100; step++ {
		seen[stepSeed(-12345, step)] = true
	}
	assert.Len(t, seen, 100)
	assert.Equal(t, stepSeed(-1, 3), stepSeed(-1, 3))
}

func TestChooseRulePicksUniformlyFromEnabled(t *testing.T) {
	env := NewEnv(nil, NewMirror(), time.Hour, nil)
	env.RNG = rand.New(rand.NewSource(42))

	catalog := []Rule{
		{Name: "a", Enabled: func(*Env) bool { return true }},
		{Name: "b", Enabled: func(*Env) bool { return false }},
		{Name: "c", Enabled: func(*Env) bool { return true }},
	}

	seen := make(map[string]int)
	for i := 0; i < 200; i++ {
		r, ok := chooseRule(env, catalog)
		require.True(t, ok)
		seen[r.Name]++
	}
	assert.Zero(t, seen["b"], "disabled rules must never be chosen")
	assert.Positive(t, seen["a"])
	assert.Positive(t, seen["c"])
}

func TestChooseRuleReportsExhaustion(t *testing.T) {
	env := NewEnv(nil, NewMirror(), time.Hour, nil)
	env.RNG = rand.New(rand.NewSource(1))

	_, ok := chooseRule(env, []Rule{
		{Name: "a", Enabled: func(*Env) bool { return false }},
	})
	assert.False(t, ok)
}

func TestRunAttributesFaultArming(t *testing.T) {
	_, trace, err := Run(t.Context(), testRunOptions(7))
	require.NoError(t, err)

	armed := 0
	for _, ev := range trace.Events() {
		if ev.Path != "/sim/buggify" {
			continue
		}
		armed++
		assert.Equal(t, -1, ev.Step)
		assert.Equal(t, "arm-faults", ev.Rule)
	}
	// reply-drop is resolved driver-side, so three of the four tags reach
	// the service.
	assert.Equal(t, 3, armed)
}

func TestReportArtifactsRoundTrip(t *testing.T) {
	opts := testRunOptions(21)
	opts.RunName = "artifact-test"
	opts.Steps = 40

	report, trace, err := Run(t.Context(), opts)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, report.WriteArtifacts(dir, trace))

	loaded, err := LoadReport(dir + "/report.json")
	require.NoError(t, err)
	assert.Equal(t, report.RunName, loaded.RunName)
	assert.Equal(t, report.Seed, loaded.Seed)
	assert.Equal(t, report.Verdict, loaded.Verdict)
	assert.Equal(t, report.Steps, loaded.Steps)
}
