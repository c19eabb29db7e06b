package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/schoolist/edgeservice/internal/auth"
	"github.com/schoolist/edgeservice/internal/db/bunx"
	"github.com/schoolist/edgeservice/internal/repository"
	"github.com/schoolist/edgeservice/internal/server"
	"github.com/schoolist/edgeservice/internal/services/identity"
	"github.com/schoolist/edgeservice/internal/telemetry"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the edge service",
	Long:  `Starts the HTTP server: OIDC login, sessions, path authorization and the upstream gateway.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Telemetry
		shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Observability, cfg.Environment, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer shutdownTelemetry(logger, "tracing", shutdownTracing)

		var metricsHandler http.Handler
		if cfg.Observability.MetricsEnabled {
			res, err := telemetry.NewResource(cfg.Observability, cfg.Environment)
			if err != nil {
				return fmt.Errorf("failed to create telemetry resource: %w", err)
			}
			handler, shutdownMetrics, err := telemetry.InitMetrics(res)
			if err != nil {
				return fmt.Errorf("failed to initialize metrics: %w", err)
			}
			defer shutdownTelemetry(logger, "metrics", shutdownMetrics)
			metricsHandler = handler
		}

		serverMetrics, err := telemetry.NewServerMetrics()
		if err != nil {
			return fmt.Errorf("failed to create server metrics: %w", err)
		}
		authMetrics, err := telemetry.NewAuthMetrics()
		if err != nil {
			return fmt.Errorf("failed to create auth metrics: %w", err)
		}

		// Session store
		db, err := bunx.NewDB(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)
		logger.Info("connected to database", zap.String("type", string(bunx.DetectDatabaseType(cfg.Database.URL))))

		if autoMigrate {
			if err := migrateUp(ctx, db); err != nil {
				return err
			}
		}

		identityService := identity.NewService(
			repository.NewBunSessionRepository(db),
			identity.Config{
				SessionDuration: cfg.Session.Duration,
				IdleTimeout:     cfg.Session.IdleTimeout,
				CacheSize:       cfg.Session.CacheSize,
				CacheTTL:        cfg.Session.CacheTTL,
			},
			logger,
			authMetrics,
		)
		defer identityService.Wait()

		policy, err := cfg.PolicyTable()
		if err != nil {
			return err
		}
		routes, err := cfg.GatewayRoutes()
		if err != nil {
			return err
		}
		for _, route := range routes {
			logger.Info("gateway route", zap.String("prefix", route.Prefix), zap.String("upstream", route.Upstream.String()))
		}

		routerOpts := server.RouterOptions{
			Cfg:      cfg,
			Identity: identityService,
			Policy:   policy,
			Routes:   routes,
			ReadinessChecks: map[string]server.HealthCheck{
				"db": func(ctx context.Context) error { return bunx.Ping(ctx, db) },
			},
			MetricsHandler: metricsHandler,
			ServerMetrics:  serverMetrics,
			AuthMetrics:    authMetrics,
			Logger:         logger,
		}

		if cfg.OIDCEnabled() {
			rp, err := auth.NewRelyingParty(ctx, cfg.RelyingPartyConfig())
			if err != nil {
				return fmt.Errorf("failed to create relying party: %w", err)
			}
			rp.OnClaimsWarning(func(msg string, err error) {
				logger.Warn(msg, zap.Error(err))
			})
			routerOpts.RelyingParty = rp
			logger.Info("oidc login enabled",
				zap.String("issuer", cfg.OIDC.Issuer),
				zap.String("login_path", cfg.LoginPath()),
				zap.String("redirect_uri", cfg.RedirectURI()))
		}

		router, err := server.NewRouter(routerOpts)
		if err != nil {
			return fmt.Errorf("failed to build router: %w", err)
		}

		var handler http.Handler = router
		if cfg.Server.H2C {
			handler = server.NewH2CHandler(router)
		}

		purgeCtx, cancelPurge := context.WithCancel(ctx)
		defer cancelPurge()
		go identityService.RunPurgeLoop(purgeCtx, cfg.Session.PurgeInterval)

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.Server.WriteTimeout,
			IdleTimeout:       60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting server",
				zap.String("addr", cfg.Server.Addr),
				zap.String("base_url", cfg.Server.BaseURL),
				zap.Bool("h2c", cfg.Server.H2C))
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			logger.Info("shutting down", zap.String("signal", sig.String()))
			cancelPurge()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}

			logger.Info("server stopped")
			return nil
		}
	},
}

func shutdownTelemetry(logger *zap.Logger, name string, shutdown telemetry.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown failed", zap.String("provider", name), zap.Error(err))
	}
}

// migrateUp applies pending migrations under the migration lock.
func migrateUp(ctx context.Context, db *bun.DB) error {
	migrator := newMigrator(db)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return withMigrationLock(ctx, migrator, func() error {
		group, err := migrator.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		if group.IsZero() {
			logger.Info("no new migrations to apply")
		} else {
			logger.Info("applied migrations", zap.Int64("group", group.ID), zap.String("migrations", group.Migrations.String()))
		}
		return nil
	})
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "Apply pending database migrations before serving")
	rootCmd.AddCommand(serveCmd)
}
