package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/crm-reconciler/pkg/reconcile"
	"github.com/ekaya-inc/crm-reconciler/pkg/schema"
)

// ValidPlanFormats defines the allowed plan output formats.
var ValidPlanFormats = []string{"text", "yaml"}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the reconciliation plan without applying it",
		Long: `Inspect both stores inside a read-only transaction and print the steps
a reconcile run would apply, together with the legacy rows it would repair.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidPlanFormat(format) {
				return fmt.Errorf("invalid format %q: must be one of %v", format, ValidPlanFormats)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, rootOpts, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text|yaml)")
	return cmd
}

func runPlan(cmd *cobra.Command, opts *RootOptions, format string) error {
	env, err := loadEnvironment(opts)
	if err != nil {
		return err
	}
	defer func() { _ = env.logger.Sync() }()

	ctx := cmd.Context()
	db, err := env.connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	runner := reconcile.NewRunner(db, reconcile.Stores(env.cfg), reconcile.NewNotifier(nil, env.logger), env.logger)
	plans, err := runner.Plan(ctx)
	if err != nil {
		return err
	}
	return writePlans(cmd.OutOrStdout(), plans, format)
}

// writePlans renders plans in the requested format.
func writePlans(w io.Writer, plans []*schema.Plan, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(plans); err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		return enc.Close()
	}

	pending := 0
	for _, p := range plans {
		pending += len(p.Steps)
		if _, err := io.WriteString(w, p.Text()); err != nil {
			return err
		}
	}
	if pending == 0 {
		_, err := fmt.Fprintln(w, "Nothing to do: stores already match their declared shape.")
		return err
	}
	return nil
}

func isValidPlanFormat(format string) bool {
	for _, f := range ValidPlanFormats {
		if f == format {
			return true
		}
	}
	return false
}
