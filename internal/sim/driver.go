package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http/httptest"
	"sort"
	"time"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/buggify"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/simclock"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/world/api"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/world/store"
)

// Options configures one run.
type Options struct {
	RunName  string
	Seed     int64
	Steps    int
	MinSteps int

	// DBPath is the sqlite file backing the SUT; empty means in-memory.
	DBPath string

	// Population is created before stepping begins. Zero values mean no
	// pre-seeded entities of that kind; the rules can still mint more.
	Population Population

	// TTL is the dedup window on the SUT's simulated clock.
	TTL time.Duration

	// Faults maps fault tags to probabilities. Tags the SUT knows are
	// armed over /sim/buggify; the rest steer the harness itself.
	Faults map[string]float64

	// Watchdog bounds wall-clock time for the whole run; zero disables.
	Watchdog time.Duration

	Profile string
	Logger  *slog.Logger
}

// stepSeed derives the RNG seed for one step. Every random choice in a
// step flows from this value, so step k replays identically regardless of
// what the Go runtime does between steps.
func stepSeed(seed int64, step int) int64 {
	// The mix runs in uint64; the multiplier does not fit in int64.
	return int64(uint64(seed) ^ (uint64(step)+1)*0x9E3779B97F4A7C15)
}

// Run executes a full simulation: boot an in-process SUT, walk the rule
// catalog for up to Steps steps, check state after each, then run the
// final sweeps. The returned error covers harness failures only; contract
// violations land in the report with VerdictViolated.
func Run(ctx context.Context, opts Options) (*Report, *Trace, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Steps <= 0 {
		return nil, nil, fmt.Errorf("steps must be positive, got %d", opts.Steps)
	}
	if opts.TTL <= 0 {
		opts.TTL = api.DefaultDedupTTL
	}
	if opts.RunName == "" {
		opts.RunName = fmt.Sprintf("run-%d", opts.Seed)
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = ":memory:"
	}

	clock := simclock.NewSimulated()
	st, err := store.Open(dbPath, clock)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	faults := buggify.New(opts.Seed)
	srv := api.New(st, clock, world.NewSequenceGenerator(), faults, logger, api.Config{
		DedupTTL: opts.TTL,
		SimMode:  true,
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	trace := NewTrace()
	client := NewClient(ts.URL, ts.Client(), trace)
	mirror := NewMirror()
	checker := NewChecker(client, st, mirror)

	// Arm SUT-side tags in sorted order so the trace records the same
	// events for the same profile. FaultReplyDrop shapes client behavior
	// and stays on the driver's side.
	trace.BeginStep(-1, "arm-faults")
	driverFaults := make(map[string]float64)
	var sutTags []string
	for tag := range opts.Faults {
		if tag != FaultReplyDrop && buggify.IsKnown(tag) {
			sutTags = append(sutTags, tag)
			continue
		}
		driverFaults[tag] = opts.Faults[tag]
	}
	sort.Strings(sutTags)
	for _, tag := range sutTags {
		if _, err := client.EnableBuggify(ctx, tag, opts.Faults[tag]); err != nil {
			return nil, nil, fmt.Errorf("arm fault %s: %w", tag, err)
		}
	}
	env := NewEnv(client, mirror, opts.TTL, driverFaults)

	trace.BeginStep(-1, "seed-population")
	if err := seedPopulation(ctx, env, opts.Population); err != nil {
		return nil, nil, fmt.Errorf("seed population: %w", err)
	}

	report := &Report{
		RunName:    opts.RunName,
		Seed:       opts.Seed,
		Profile:    opts.Profile,
		MinSteps:   opts.MinSteps,
		Verdict:    VerdictPassed,
		RuleCounts: make(map[string]int),
		Repro:      reproCommand(opts),
	}

	catalog := Catalog()
	started := time.Now()
	deadline := time.Time{}
	if opts.Watchdog > 0 {
		deadline = started.Add(opts.Watchdog)
	}

	logger.Info("simulation starting",
		"run", opts.RunName, "seed", opts.Seed, "steps", opts.Steps, "ttl", opts.TTL)

	for step := 0; step < opts.Steps; step++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			report.Verdict = VerdictInconclusive
			report.Infra = fmt.Sprintf("watchdog fired after %s at step %d", opts.Watchdog, step)
			break
		}

		env.RNG = rand.New(rand.NewSource(stepSeed(opts.Seed, step)))

		rule, ok := chooseRule(env, catalog)
		if !ok {
			// Nothing applicable. Early on that means the profile cannot
			// generate enough activity; flag it rather than spin.
			if step < opts.MinSteps {
				report.Starved = true
			}
			break
		}

		trace.BeginStep(step, rule.Name)
		report.RuleCounts[rule.Name]++
		report.Steps = step + 1

		if halted := classify(report, step, rule.Name, rule.Run(ctx, env)); halted {
			break
		}
		if halted := classify(report, step, rule.Name, checker.CheckStep(ctx, env)); halted {
			break
		}
	}

	if report.Verdict == VerdictPassed {
		trace.BeginStep(report.Steps, "final-sweep")
		classify(report, report.Steps, "final-sweep", checker.CheckFinal(ctx, env))
	}

	report.ElapsedMS = time.Since(started).Milliseconds()
	logger.Info("simulation finished",
		"run", opts.RunName, "verdict", report.Verdict, "steps", report.Steps,
		"elapsed_ms", report.ElapsedMS)
	if report.Violation != nil {
		logger.Error("contract violation",
			"check", report.Violation.Check, "step", report.Violation.Step,
			"rule", report.Violation.Rule, "detail", report.Violation.Detail)
	}

	return report, trace, nil
}

// seedPopulation creates the initial census before stepping begins.
// Creation order is fixed so the sequential ID generator mints the same
// IDs for the same profile.
func seedPopulation(ctx context.Context, env *Env, pop Population) error {
	type batch struct {
		role world.Role
		n    int
	}
	for _, b := range []batch{
		{world.RoleProposer, pop.Proposers},
		{world.RoleReviewer, pop.Reviewers},
		{world.RoleGeneric, pop.Generics},
	} {
		for i := 0; i < b.n; i++ {
			a, out, err := env.Client.CreateActor(ctx, b.role)
			if err != nil {
				return err
			}
			if !out.OK() {
				return fmt.Errorf("create %s actor: status %d: %s", b.role, out.Status, out.Body)
			}
			env.Mirror.AddActor(a.ID, b.role)
		}
	}

	var worldIDs []string
	for i := 0; i < pop.Worlds; i++ {
		env.nextWorld++
		w, out, err := env.Client.CreateWorld(ctx, fmt.Sprintf("world-%03d", env.nextWorld))
		if err != nil {
			return err
		}
		if !out.OK() {
			return fmt.Errorf("create world: status %d: %s", out.Status, out.Body)
		}
		env.Mirror.AddWorld(w.ID)
		worldIDs = append(worldIDs, w.ID)
	}

	for i := 0; i < pop.Dwellers; i++ {
		if len(worldIDs) == 0 {
			return fmt.Errorf("profile seeds dwellers but no worlds")
		}
		worldID := worldIDs[i%len(worldIDs)]
		d, out, err := env.Client.CreateDweller(ctx, worldID)
		if err != nil {
			return err
		}
		if !out.OK() {
			return fmt.Errorf("create dweller: status %d: %s", out.Status, out.Body)
		}
		env.Mirror.AddDweller(d.ID, worldID)
	}
	return nil
}

// chooseRule filters the catalog by Enabled and picks uniformly from
// what remains.
func chooseRule(env *Env, catalog []Rule) (Rule, bool) {
	var enabled []Rule
	for _, r := range catalog {
		if r.Enabled(env) {
			enabled = append(enabled, r)
		}
	}
	if len(enabled) == 0 {
		return Rule{}, false
	}
	return enabled[env.RNG.Intn(len(enabled))], true
}

// classify folds a step error into the report. Returns true when the run
// must halt.
func classify(report *Report, step int, rule string, err error) bool {
	if err == nil {
		return false
	}

	var failure *Failure
	if errors.As(err, &failure) {
		report.Verdict = VerdictViolated
		report.Violation = &ViolationRecord{
			Check:  failure.Check,
			Detail: failure.Detail,
			Step:   step,
			Rule:   rule,
		}
		return true
	}

	// Infra trouble (unreachable SUT, inspection error): not evidence of
	// a product bug, so the verdict is inconclusive.
	report.Verdict = VerdictInconclusive
	report.Infra = err.Error()
	return true
}

// reproCommand renders the CLI invocation that reproduces this run.
func reproCommand(opts Options) string {
	cmd := fmt.Sprintf("dsim run --seed %d --steps %d", opts.Seed, opts.Steps)
	if opts.Profile != "" {
		cmd += " --profile " + opts.Profile
	}
	return cmd
}
