package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/sim"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	ArtifactDir string
	ProfilePath string
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-execute a recorded run and verify determinism",
		Long: `Re-execute a run from its artifact directory and verify the replay is
byte-identical: same verdict, same trace. A divergence means the harness
or the service behaved non-deterministically, which voids the original
run's evidence.

Pass the same --profile the original run used; without one the built-in
default profile is assumed.

Example:
  dsim replay --artifact ./artifacts/soak-42
  dsim replay --artifact ./artifacts/soak-42 --profile profiles/soak.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return replayRun(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ArtifactDir, "artifact", "", "artifact directory of the original run (required)")
	_ = cmd.MarkFlagRequired("artifact")
	cmd.Flags().StringVar(&opts.ProfilePath, "profile", "", "profile YAML the original run used")

	return cmd
}

func replayRun(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	original, err := sim.LoadReport(filepath.Join(opts.ArtifactDir, "report.json"))
	if err != nil {
		return WrapExitError(ExitCommandError, "load original report", err)
	}
	originalTrace, err := os.ReadFile(filepath.Join(opts.ArtifactDir, "trace.json"))
	if err != nil {
		return WrapExitError(ExitCommandError, "load original trace", err)
	}

	profile := sim.DefaultProfile()
	if opts.ProfilePath != "" {
		p, err := sim.LoadProfile(opts.ProfilePath)
		if err != nil {
			return WrapExitError(ExitCommandError, "load profile", err)
		}
		profile = p
	}

	simOpts := profile.Options(original.Seed)
	simOpts.RunName = original.RunName
	simOpts.Logger = logger

	if ctx == nil {
		ctx = context.Background()
	}
	report, trace, err := sim.Run(ctx, simOpts)
	if err != nil {
		return WrapExitError(ExitInconclusive, "replay aborted", err)
	}

	replayTrace, err := trace.CanonicalJSON(report.RunName, report.Seed)
	if err != nil {
		return WrapExitError(ExitInconclusive, "marshal replay trace", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	verdictMatch := report.Verdict == original.Verdict
	traceMatch := bytes.Equal(replayTrace, originalTrace)

	if formatter.Format == "json" {
		if err := formatter.Success(map[string]any{
			"run":              original.RunName,
			"seed":             original.Seed,
			"original_verdict": original.Verdict,
			"replay_verdict":   report.Verdict,
			"verdict_match":    verdictMatch,
			"trace_match":      traceMatch,
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer, "run:              %s (seed %d)\n", original.RunName, original.Seed)
		fmt.Fprintf(formatter.Writer, "original verdict: %s\n", original.Verdict)
		fmt.Fprintf(formatter.Writer, "replay verdict:   %s\n", report.Verdict)
		fmt.Fprintf(formatter.Writer, "trace identical:  %v\n", traceMatch)
	}

	if !verdictMatch || !traceMatch {
		return NewExitError(ExitViolation, "replay diverged from recorded run")
	}
	return nil
}
