package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/sim"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Seed        int64
	Steps       int
	ProfilePath string
	Database    string
	ArtifactDir string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one simulation run",
		Long: `Execute one seeded simulation run against an in-process world service.

Without --profile the built-in default profile is used. --seed and --steps
override the profile's values. Exit codes: 0 the run passed, 1 a contract
violation was found, 3 the harness itself failed (inconclusive).

Example:
  dsim run --seed 42 --steps 1000
  dsim run --profile profiles/soak.yaml --artifact-dir ./artifacts`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "run seed (overrides profile)")
	cmd.Flags().IntVar(&opts.Steps, "steps", 0, "step budget (overrides profile)")
	cmd.Flags().StringVar(&opts.ProfilePath, "profile", "", "path to a profile YAML")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite path backing the run (default in-memory)")
	cmd.Flags().StringVar(&opts.ArtifactDir, "artifact-dir", "", "directory for report and trace artifacts")

	return cmd
}

func runSimulation(ctx context.Context, opts *RunOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	profile := sim.DefaultProfile()
	if opts.ProfilePath != "" {
		p, err := sim.LoadProfile(opts.ProfilePath)
		if err != nil {
			return WrapExitError(ExitCommandError, "load profile", err)
		}
		profile = p
	}

	simOpts := profile.Options(opts.Seed)
	if opts.Steps > 0 {
		simOpts.Steps = opts.Steps
	}
	simOpts.DBPath = opts.Database
	simOpts.Logger = logger

	if ctx == nil {
		ctx = context.Background()
	}
	report, trace, err := sim.Run(ctx, simOpts)
	if err != nil {
		return WrapExitError(ExitInconclusive, "simulation aborted", err)
	}

	if opts.ArtifactDir != "" {
		if err := report.WriteArtifacts(opts.ArtifactDir, trace); err != nil {
			return WrapExitError(ExitCommandError, "write artifacts", err)
		}
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if err := emitReport(formatter, report); err != nil {
		return err
	}

	switch report.Verdict {
	case sim.VerdictPassed:
		return nil
	case sim.VerdictViolated:
		return NewExitError(ExitViolation, "contract violation: "+report.Violation.Check)
	default:
		return NewExitError(ExitInconclusive, "run inconclusive: "+report.Infra)
	}
}

// emitReport writes the human or JSON summary of a finished run.
func emitReport(f *OutputFormatter, report *sim.Report) error {
	if f.Format == "json" {
		return f.Success(report)
	}

	fmt.Fprintf(f.Writer, "run:     %s\n", report.RunName)
	fmt.Fprintf(f.Writer, "seed:    %d\n", report.Seed)
	fmt.Fprintf(f.Writer, "steps:   %d\n", report.Steps)
	fmt.Fprintf(f.Writer, "verdict: %s\n", report.Verdict)
	if report.Starved {
		fmt.Fprintf(f.Writer, "warning: rule pool exhausted before min_steps=%d\n", report.MinSteps)
	}
	if report.Violation != nil {
		fmt.Fprintf(f.Writer, "violation at step %d (%s): %s\n",
			report.Violation.Step, report.Violation.Rule, report.Violation.Detail)
		fmt.Fprintf(f.Writer, "  %s\n", report.Violation.Check)
	}
	if report.Infra != "" {
		fmt.Fprintf(f.Writer, "harness error: %s\n", report.Infra)
	}
	fmt.Fprintf(f.Writer, "repro:   %s\n", report.Repro)
	return nil
}
