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
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/config"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/domain/access"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/domain/account"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/domain/patient"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/accesslog"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/db"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/middleware"
	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/migrations"
)

const version = "2.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Clinic patient records API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(setupCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the clinic API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(migrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending migrations before serving (postgres only)")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func setupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Inspect first-run setup",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report whether the clinic still needs its first admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := newApp(ctx, cfg, zerolog.Nop())
			if err != nil {
				return err
			}
			defer a.Close()

			needs, err := a.setup.NeedsSetup(ctx)
			if err != nil {
				return err
			}
			if needs {
				fmt.Println("setup pending: POST /api/v1/auth/setup to create the first admin")
			} else {
				fmt.Println("setup complete")
			}
			return nil
		},
	})

	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.StorageBackend != config.BackendPostgres {
		return nil, fmt.Errorf("migrations need STORAGE_BACKEND=%s", config.BackendPostgres)
	}
	return db.NewPool(ctx, poolConfig(cfg))
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer(migrate bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialise backends")
		return err
	}
	defer a.Close()

	if migrate && a.pool != nil {
		n, err := db.NewMigrator(a.pool, migrations.FS).Up(ctx)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info().Int("applied", n).Msg("migrations applied")
	}

	e := a.routes()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).
			Str("storage", cfg.StorageBackend).
			Str("sessions", cfg.ResolvedSessionBackend()).
			Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// app holds the wired services for one process.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool     *pgxpool.Pool
	sessions *auth.SessionManager
	setup    *auth.SetupGate
	creds    *auth.Credentials
	engine   *access.Engine
	patients *patient.Service
	accounts *account.Service
	trail    *accesslog.PGRecorder

	health  map[string]db.Pinger
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, health: map[string]db.Pinger{}}

	var (
		users    auth.CredentialStore
		grants   access.GrantStore
		patients patient.Repository
	)
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, poolConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.pool = pool
		a.health["postgres"] = pool
		a.closers = append(a.closers, pool.Close)
		users = auth.NewPGCredentialStore(pool)
		grants = access.NewPGGrantStore(pool)
		patients = patient.NewPGRepository(pool)
		a.trail = accesslog.NewPGRecorder(pool)
	default:
		users = auth.NewMemoryCredentialStore()
		grants = access.NewMemoryGrantStore()
		patients = patient.NewMemoryRepository()
	}

	var sessionStore auth.SessionStore
	switch cfg.ResolvedSessionBackend() {
	case config.BackendRedis:
		rs, err := auth.NewRedisSessionStore(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.health["redis"] = rs
		a.closers = append(a.closers, func() { _ = rs.Close() })
		sessionStore = rs
	default:
		ms := auth.NewMemorySessionStore()
		a.closers = append(a.closers, ms.Close)
		sessionStore = ms
	}

	a.creds = auth.NewCredentials(users, auth.NewBcryptHasher(cfg.BcryptCost))
	a.sessions = auth.NewSessionManager(a.creds, sessionStore, auth.SessionConfig{
		TTL:         cfg.SessionTTL,
		IdleTimeout: cfg.SessionIdleTimeout,
	}, logger)
	a.setup = auth.NewSetupGate(a.creds, a.sessions, logger)
	a.engine = access.NewEngine(grants, patients, users, logger)
	a.patients = patient.NewService(patients, a.engine, logger)
	a.accounts = account.NewService(a.creds, a.sessions, a.engine, patients, logger)
	return a, nil
}

// Close releases backends in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) routes() *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.SessionCookieSecure))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(auth.SessionMiddleware(a.sessions))
	var recorders []middleware.AuditRecorder
	if a.trail != nil {
		recorders = append(recorders, a.trail)
	}
	e.Use(middleware.Audit(logger, recorders...))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.pool, a.health))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))

	var throttle []echo.MiddlewareFunc
	if cfg.LoginRateLimitRPS > 0 {
		throttle = append(throttle, middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.LoginRateLimitRPS,
			BurstSize:         cfg.LoginRateLimitBurst,
			KeyFunc:           middleware.IPKey,
		}))
	}
	auth.NewHandler(a.sessions, a.setup, auth.CookieConfig{Secure: cfg.SessionCookieSecure}).
		RegisterRoutes(apiV1, throttle...)

	protected := apiV1.Group("", auth.RequireSession())
	patient.NewHandler(a.patients).RegisterRoutes(protected)
	access.NewHandler(a.engine).RegisterRoutes(protected)
	account.NewHandler(a.accounts, a.engine).RegisterRoutes(protected)
	if a.trail != nil {
		// readable by whoever may manage the patient's sharing
		accesslog.NewHandler(a.trail, func(ctx context.Context, p *auth.Principal, id uuid.UUID) error {
			return a.engine.Authorize(ctx, p, id, access.ActionShare)
		}).RegisterRoutes(protected)
	}

	return e
}
