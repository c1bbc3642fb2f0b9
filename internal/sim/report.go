package sim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Verdict is the outcome of a run.
type Verdict string

const (
	// VerdictPassed: every step and the final sweep held.
	VerdictPassed Verdict = "passed"
	// VerdictViolated: a contract violation was detected; the run halted.
	VerdictViolated Verdict = "violated"
	// VerdictInconclusive: the harness itself failed (SUT unreachable,
	// inspection error, watchdog). Not evidence either way.
	VerdictInconclusive Verdict = "inconclusive"
)

// ViolationRecord pins a Failure to the step and rule that exposed it.
type ViolationRecord struct {
	Check  string `json:"check"`
	Detail string `json:"detail"`
	Step   int    `json:"step"`
	Rule   string `json:"rule"`
}

// Report summarizes one run. The trace artifact, not the report, is the
// byte-stable record; the report carries wall-clock timing.
type Report struct {
	RunName   string  `json:"run"`
	Seed      int64   `json:"seed"`
	Profile   string  `json:"profile,omitempty"`
	Steps     int     `json:"steps"`
	MinSteps  int     `json:"min_steps"`
	Starved   bool    `json:"starved"` // fewer than MinSteps had an enabled rule
	Verdict   Verdict `json:"verdict"`
	ElapsedMS int64   `json:"elapsed_ms"`

	Violation *ViolationRecord `json:"violation,omitempty"`
	Infra     string           `json:"infra_error,omitempty"`

	RuleCounts map[string]int `json:"rule_counts"`
	Repro      string         `json:"repro"`
}

// WriteArtifacts persists the report and the canonical trace under dir.
// Two runs of the same seed produce byte-identical trace.json files.
func (r *Report) WriteArtifacts(dir string, trace *Trace) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	reportJSON, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	reportPath := filepath.Join(dir, "report.json")
	if err := os.WriteFile(reportPath, append(reportJSON, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", reportPath, err)
	}

	traceJSON, err := trace.CanonicalJSON(r.RunName, r.Seed)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	tracePath := filepath.Join(dir, "trace.json")
	if err := os.WriteFile(tracePath, traceJSON, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tracePath, err)
	}
	return nil
}

// LoadReport reads a report artifact, for replay and triage tooling.
func LoadReport(path string) (*Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &r, nil
}
