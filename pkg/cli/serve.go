package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/crm-reconciler/pkg/audit"
	"github.com/ekaya-inc/crm-reconciler/pkg/auth"
	"github.com/ekaya-inc/crm-reconciler/pkg/database"
	"github.com/ekaya-inc/crm-reconciler/pkg/handlers"
	"github.com/ekaya-inc/crm-reconciler/pkg/metrics"
	"github.com/ekaya-inc/crm-reconciler/pkg/middleware"
	"github.com/ekaya-inc/crm-reconciler/pkg/repositories"
	"github.com/ekaya-inc/crm-reconciler/pkg/services"
)

// shutdownTimeout bounds how long in-flight requests get after a stop signal.
const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the role and lead API",
		Long: `Serve the HTTP API that reads roles and manages leads on behalf of
authenticated identities. Every API request runs on a connection scoped to
the caller, so row-level security decides what it can see and change.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *RootOptions) error {
	env, err := loadEnvironment(opts)
	if err != nil {
		return err
	}
	defer func() { _ = env.logger.Sync() }()

	ctx := cmd.Context()
	cfg, logger := env.cfg, env.logger

	db, err := env.connectWithRetry(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		logger.Info("Role cache enabled",
			zap.String("redis_host", cfg.Redis.Host),
			zap.Duration("ttl", cfg.Roles.CacheTTL()))
	}

	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize JWKS client: %w", err)
	}
	defer jwksClient.Close()
	if !cfg.Auth.EnableVerification {
		logger.Warn("JWT signature verification is disabled")
	}

	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwksClient, logger), logger)
	identityMiddleware := handlers.IdentityMiddleware(database.WithIdentityContext(db, logger))

	roleCache := services.NewRedisRoleCache(redisClient, cfg.Roles.CacheTTL())
	roleService := services.NewRoleService(repositories.NewRoleRepository(), roleCache, cfg.Roles.AdminEmails, logger)
	leadService := services.NewLeadService(repositories.NewLeadRepository(), logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewRolesHandler(roleService, audit.NewSecurityAuditor(logger), logger).RegisterRoutes(mux, authMiddleware, identityMiddleware)
	handlers.NewLeadsHandler(leadService, logger).RegisterRoutes(mux, authMiddleware, identityMiddleware)
	mux.Handle("GET /metrics", metrics.Handler())

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting crm-reconciler API",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
