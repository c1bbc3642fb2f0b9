package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/sim"
)

// ProfilesOptions holds flags for the profiles command.
type ProfilesOptions struct {
	*RootOptions
}

// NewProfilesCommand creates the profiles command group.
func NewProfilesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProfilesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect and validate run profiles",
	}

	cmd.AddCommand(newProfilesValidateCommand(opts))
	cmd.AddCommand(newProfilesShowCommand(opts))

	return cmd
}

func newProfilesValidateCommand(opts *ProfilesOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <profile.yaml>",
		Short: "Validate a profile against the schema",
		Long: `Validate a profile YAML file: strict field checking plus schema
constraints (positive step budget, at least two reviewers, probabilities
in range).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:  opts.Format,
				Writer:  cmd.OutOrStdout(),
				Verbose: opts.Verbose,
			}

			p, err := sim.LoadProfile(args[0])
			if err != nil {
				_ = formatter.Error("invalid_profile", err.Error(), nil)
				return WrapExitError(ExitViolation, "profile invalid", err)
			}

			if formatter.Format == "json" {
				return formatter.Success(p)
			}
			fmt.Fprintf(formatter.Writer, "profile %q is valid (steps=%d, seed=%d)\n", p.Name, p.Steps, p.Seed)
			return nil
		},
	}
}

func newProfilesShowCommand(opts *ProfilesOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the built-in default profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:  opts.Format,
				Writer:  cmd.OutOrStdout(),
				Verbose: opts.Verbose,
			}

			p := sim.DefaultProfile()
			if formatter.Format == "json" {
				return formatter.Success(p)
			}

			fmt.Fprintf(formatter.Writer, "name:      %s\n", p.Name)
			fmt.Fprintf(formatter.Writer, "steps:     %d (min %d)\n", p.Steps, p.MinSteps)
			fmt.Fprintf(formatter.Writer, "seed:      %d\n", p.Seed)
			fmt.Fprintf(formatter.Writer, "ttl_ms:    %d\n", p.TTLMillis)
			fmt.Fprintf(formatter.Writer, "population: proposers=%d reviewers=%d generics=%d worlds=%d dwellers=%d\n",
				p.Population.Proposers, p.Population.Reviewers, p.Population.Generics,
				p.Population.Worlds, p.Population.Dwellers)
			for _, tag := range sortedTags(p.Buggify) {
				fmt.Fprintf(formatter.Writer, "buggify:   %s = %.2f\n", tag, p.Buggify[tag])
			}
			return nil
		},
	}
}

func sortedTags(m map[string]float64) []string {
	tags := make([]string, 0, len(m))
	for t := range m {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
