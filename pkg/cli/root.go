// Package cli wires configuration, the database and the reconciler into the
// crm-reconciler command tree.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Version    string
}

// NewRootCommand creates the root command. Run without a subcommand it reconciles.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: version}

	cmd := &cobra.Command{
		Use:   "crm-reconciler",
		Short: "Converge the CRM role and lead stores to their declared shape",
		Long: `crm-reconciler brings the CRM's Postgres stores to their declared shape.

Running it repairs legacy rows, installs missing columns, constraints,
row-level security policies, indexes and the identity-creation hook.
Re-running it against a converged database changes nothing.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config.yaml (default ./config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateIdentityCommand(opts))
	cmd.AddCommand(NewCreateIdentityCommand(opts))

	return cmd
}
