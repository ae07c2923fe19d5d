package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/crm-reconciler/pkg/repositories"
	"github.com/ekaya-inc/crm-reconciler/pkg/services"
)

// NewMigrateIdentityCommand creates the migrate-identity command.
func NewMigrateIdentityCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-identity",
		Short: "Bootstrap the local identity provider schema",
		Long: `Apply the embedded migrations that create the local identity provider:
the identity table, its uid() function and the application role.
Hosted identity providers ship these themselves; use this for local
development and tests only.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(rootOpts)
			if err != nil {
				return err
			}
			defer func() { _ = env.logger.Sync() }()

			if err := env.migrateIdentity(); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Identity schema is up to date.")
			return err
		},
	}
}

// NewCreateIdentityCommand creates the create-identity command.
func NewCreateIdentityCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create-identity <email>",
		Short: "Create an identity through the local identity provider",
		Long: `Insert an identity into the configured identity table and assign its
initial role in the same transaction. Addresses on the admin allow-list
become admins; everyone else starts as standard.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreateIdentity(cmd, rootOpts, args[0])
		},
	}
}

func runCreateIdentity(cmd *cobra.Command, opts *RootOptions, email string) error {
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

	roles := services.NewRoleService(repositories.NewRoleRepository(), nil, env.cfg.Roles.AdminEmails, env.logger)
	provider := services.NewLocalIdentityProvider(db, env.cfg.Identity, env.logger)
	provider.Subscribe(roles.OnIdentityCreated)

	identity, err := provider.CreateIdentity(ctx, email)
	if err != nil {
		return err
	}

	env.logger.Debug("Identity created", zap.String("identity_id", identity.ID.String()))
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", identity.ID, identity.Email)
	return err
}
