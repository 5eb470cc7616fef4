package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cervixai/screening/internal/config"
	"github.com/cervixai/screening/internal/domain/analysis"
	"github.com/cervixai/screening/internal/domain/audit"
	"github.com/cervixai/screening/internal/domain/diagnosis"
	"github.com/cervixai/screening/internal/domain/episode"
	"github.com/cervixai/screening/internal/domain/imaging"
	"github.com/cervixai/screening/internal/domain/patient"
	"github.com/cervixai/screening/internal/domain/workflow"
	"github.com/cervixai/screening/internal/platform/auth"
	"github.com/cervixai/screening/internal/platform/blobstore"
	"github.com/cervixai/screening/internal/platform/db"
	"github.com/cervixai/screening/internal/platform/events"
	"github.com/cervixai/screening/internal/platform/middleware"
)

func main() {
	root := &cobra.Command{
		Use:   "screening-server",
		Short: "Cervical cancer screening workflow engine",
	}
	root.AddCommand(serveCmd(), migrateCmd(), auditCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("database connection established")

	runner := db.NewPoolRunner(pool)
	hub := events.NewHub()

	auditSvc := audit.NewService(audit.NewRepoPG(pool))
	patientSvc := patient.NewService(patient.NewRepoPG(pool))
	episodeSvc := episode.NewService(episode.NewRepoPG(pool))
	imagingSvc := imaging.NewService(imaging.NewRepoPG(pool))
	analysisSvc := analysis.NewService(
		analysis.NewRepoPG(pool),
		analysis.NewHTTPScorer(cfg.ScorerURL, cfg.ScorerTimeout),
		cfg.ScorerRetries,
		cfg.ScorerBackoff,
	)
	diagnosisSvc := diagnosis.NewService(diagnosis.NewRepoPG(pool), cfg.ReviewLockTTL)
	workflowSvc := workflow.NewService(runner, episodeSvc, imagingSvc, analysisSvc, diagnosisSvc, auditSvc, hub)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomiddleware.CORS())

	e.GET("/health", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	authMW := auth.JWTMiddleware(auth.JWTConfig{SigningKey: []byte(cfg.JWTSecret)})
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware()
	}
	api := e.Group("/api/v1", authMW, middleware.AccessLog(logger))
	patient.NewHandler(patientSvc).RegisterRoutes(api)
	workflow.NewHandler(workflowSvc).RegisterRoutes(api)
	audit.NewHandler(auditSvc).RegisterRoutes(api)
	blobstore.NewHandler(blobstore.NewInMemoryBlobStore()).RegisterRoutes(api)
	events.NewHandler(hub).RegisterRoutes(api)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				n, err := m.Up(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("applied %d migration(s)\n", n)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, s := range statuses {
					state := "pending"
					if s.Applied {
						state = fmt.Sprintf("applied %s", s.AppliedAt.Format(time.RFC3339))
					}
					fmt.Printf("%3d  %-40s %s\n", s.Version, s.Name, state)
				}
				return nil
			})
		},
	})

	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit trail tooling",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "verify <episode-id>",
		Short: "Recompute an episode's audit hash chain and report tampering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid episode id: %w", err)
			}
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				svc := audit.NewService(audit.NewRepoPG(pool))
				if err := svc.Verify(ctx, episodeID); err != nil {
					return err
				}
				fmt.Println("audit chain intact")
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(fn func(context.Context, *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, cfg.MigrationsDir))
}

func withPool(fn func(context.Context, *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.IsDev() {
		return log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
