package sim

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed profile_schema.cue
var profileSchema string

// Population is the initial entity census seeded before stepping begins.
type Population struct {
	Proposers int `yaml:"proposers" json:"proposers"`
	Reviewers int `yaml:"reviewers" json:"reviewers"`
	Generics  int `yaml:"generics" json:"generics"`
	Worlds    int `yaml:"worlds" json:"worlds"`
	Dwellers  int `yaml:"dwellers" json:"dwellers"`
}

// Profile is a named run configuration loaded from YAML.
type Profile struct {
	Name       string             `yaml:"name" json:"name"`
	Steps      int                `yaml:"steps" json:"steps"`
	MinSteps   int                `yaml:"min_steps" json:"min_steps"`
	Seed       int64              `yaml:"seed" json:"seed"`
	TTLMillis  int64              `yaml:"ttl_ms" json:"ttl_ms"`
	Population Population         `yaml:"population" json:"population"`
	Buggify    map[string]float64 `yaml:"buggify" json:"buggify"`
	WatchdogMS int64              `yaml:"watchdog_ms" json:"watchdog_ms"`
}

// LoadProfile reads, strictly decodes, and schema-validates a profile.
// Unknown YAML fields are rejected so typos fail loudly.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and validates profile YAML.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse profile YAML: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate unifies the profile with the embedded schema.
func (p *Profile) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(profileSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile profile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Profile"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("lookup profile schema: %w", err)
	}

	val := ctx.Encode(p)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("profile %q invalid: %w", p.Name, err)
	}
	return nil
}

// Options converts the profile into run options. seedOverride, when
// non-zero, replaces the profile's seed so one profile can fan out over
// many seeds in CI.
func (p *Profile) Options(seedOverride int64) Options {
	seed := p.Seed
	if seedOverride != 0 {
		seed = seedOverride
	}
	return Options{
		RunName:    fmt.Sprintf("%s-%d", p.Name, seed),
		Seed:       seed,
		Steps:      p.Steps,
		MinSteps:   p.MinSteps,
		TTL:        time.Duration(p.TTLMillis) * time.Millisecond,
		Population: p.Population,
		Faults:     p.Buggify,
		Watchdog:   time.Duration(p.WatchdogMS) * time.Millisecond,
		Profile:    p.Name,
	}
}

// DefaultProfile is the built-in configuration used when no profile file
// is given: a mid-sized run with every fault tag armed at a low rate.
func DefaultProfile() *Profile {
	return &Profile{
		Name:      "default",
		Steps:     500,
		MinSteps:  100,
		Seed:      1,
		TTLMillis: (24 * time.Hour).Milliseconds(),
		Population: Population{
			Proposers: 2,
			Reviewers: 3,
			Generics:  1,
			Worlds:    2,
			Dwellers:  6,
		},
		Buggify: map[string]float64{
			"claim/duplicate-dispatch":       0.05,
			"mutate/duplicate-dispatch":      0.05,
			"mutate/reply-drop":              0.10,
			"review/double-visibility-check": 0.05,
		},
		WatchdogMS: (2 * time.Minute).Milliseconds(),
	}
}
