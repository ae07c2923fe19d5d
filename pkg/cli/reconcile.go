package cli

import (
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/crm-reconciler/pkg/reconcile"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile the role and lead stores",
		Long: `Reconcile the role store, then the lead store, each in its own transaction.

Progress is printed as NOTICE lines; a successful run ends with
"Reconciliation complete." A failing step rolls back its store and
the command exits non-zero.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, rootOpts)
		},
	}
}

func runReconcile(cmd *cobra.Command, opts *RootOptions) error {
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

	notifier := reconcile.NewNotifier(cmd.OutOrStdout(), env.logger)
	runner := reconcile.NewRunner(db, reconcile.Stores(env.cfg), notifier, env.logger)
	return runner.Run(ctx)
}
