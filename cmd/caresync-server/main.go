package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/irfank123/CareSync-sub002/internal/config"
	"github.com/irfank123/CareSync-sub002/internal/domain/calendarsync"
	"github.com/irfank123/CareSync-sub002/internal/domain/scheduling"
	"github.com/irfank123/CareSync-sub002/internal/platform/audit"
	"github.com/irfank123/CareSync-sub002/internal/platform/auth"
	"github.com/irfank123/CareSync-sub002/internal/platform/calendar"
	"github.com/irfank123/CareSync-sub002/internal/platform/credential"
	"github.com/irfank123/CareSync-sub002/internal/platform/db"
	"github.com/irfank123/CareSync-sub002/internal/platform/lock"
	"github.com/irfank123/CareSync-sub002/internal/platform/middleware"
	"github.com/irfank123/CareSync-sub002/internal/platform/sandbox"
	"github.com/irfank123/CareSync-sub002/internal/platform/telemetry"
	"github.com/irfank123/CareSync-sub002/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "caresync-server",
		Short: "Clinician scheduling and calendar sync API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	logger := newLogger(os.Getenv("ENV"))
	cfg, err := config.Load()
	if err != nil {
		return nil, logger, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	return cfg, newLogger(cfg.Env), nil
}

// resolveTokenKey returns the configured credential key, or a random one in
// development. The second return value is true when a key was generated.
func resolveTokenKey(envValue string) (string, bool, error) {
	if envValue != "" {
		return envValue, false, nil
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return "", false, fmt.Errorf("failed to generate random calendar token key: %w", err)
	}
	return hex.EncodeToString(key), true, nil
}

// app holds the wired dependencies shared by the serve, sync and seed
// commands.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	pool      *pgxpool.Pool
	redis     *redis.Client
	cipher    *credential.Cipher
	creds     *credential.PGStore
	collector *telemetry.Collector
	recorder  *audit.Recorder
	slots     *scheduling.Service
	engine    *calendarsync.Engine
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, sink func(*pgxpool.Pool) audit.Sink) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, pool: pool}

	var locker lock.DoctorLocker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
		locker = lock.NewRedisLocker(a.redis, cfg.LockTTL)
		logger.Info().Str("addr", opts.Addr).Msg("using redis doctor locks")
	} else {
		logger.Warn().Msg("REDIS_URL not set; doctor locks are process-local")
	}

	key, generated, err := resolveTokenKey(cfg.CalendarTokenKey)
	if err != nil {
		a.Close()
		return nil, err
	}
	if generated {
		logger.Warn().Msg("CALENDAR_TOKEN_KEY not set; using an ephemeral key, stored calendar credentials will not survive a restart")
	}
	a.cipher, err = credential.NewCipher(key)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.collector = telemetry.NewCollector("caresync")
	a.recorder = audit.NewRecorder(sink(pool), logger, cfg.AuditBufferSize, a.collector.AuditBufferDropped)

	slotRepo := scheduling.NewTimeSlotRepoPG(pool)
	doctors := scheduling.NewDoctorDirectoryPG(pool)
	tx := db.NewTxRunner(pool)

	a.slots = scheduling.NewService(slotRepo, scheduling.NewUnavailabilityRepoPG(pool), doctors, tx, locker, a.recorder, logger)
	a.slots.SetMetrics(a.collector)

	a.creds = credential.NewPGStore(pool, a.cipher)
	factory := calendar.NewFactory(a.creds, a.cipher, calendar.GoogleBuilder(calendar.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		Location:     loc,
	}, calendar.NewBreaker("google-calendar", logger), logger))

	a.engine = calendarsync.NewEngine(slotRepo, doctors, factory, tx, locker,
		calendarsync.NewSyncAuditRecorder(a.recorder), a.collector,
		calendarsync.Options{Location: loc, RemoteTimeout: cfg.RemoteCallTimeout, Concurrency: cfg.SyncConcurrency},
		logger)

	return a, nil
}

// Close flushes pending audit entries before the pool goes away.
func (a *app) Close() {
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close redis client")
		}
	}
	a.pool.Close()
}

func pgSink(pool *pgxpool.Pool) audit.Sink { return audit.NewPGSink(pool) }

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger, pgSink)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise")
	}
	defer a.Close()
	logger.Info().Msg("connected to database")

	e := newServer(a)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
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
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(a *app) *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(a.collector.Middleware())
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, syncRequestTimeout(cfg), "/calendar/"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthJWTSecret),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	var checks []db.Check
	if a.redis != nil {
		checks = append(checks, db.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}})
	}
	e.GET("/health/db", db.HealthHandler(a.pool, checks...))
	e.GET("/metrics", echo.WrapHandler(a.collector.Handler()))

	apiV1 := e.Group("/api/v1")
	scheduling.NewHandler(a.slots).RegisterRoutes(apiV1)
	calendarsync.NewHandler(a.engine).RegisterRoutes(apiV1)

	return e
}

// syncRequestTimeout bounds a sync request: a list plus one round of
// concurrent remote writes, with headroom.
func syncRequestTimeout(cfg *config.Config) time.Duration {
	d := 4 * cfg.RemoteCallTimeout
	if d < cfg.RequestTimeout {
		return cfg.RequestTimeout
	}
	return d
}

func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	openMigrator := func(cmd *cobra.Command) (*db.Migrator, *pgxpool.Pool, error) {
		dir, _ := cmd.Flags().GetString("dir")
		cfg, logger, err := loadConfig()
		if err != nil {
			return nil, nil, err
		}
		pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		return db.NewMigrator(pool, migrationSource(dir), logger), pool, nil
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, pool, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, pool, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := migrator.Status(cmd.Context())
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
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile one doctor's slots with their calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorFlag, _ := cmd.Flags().GetString("doctor")
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			export, _ := cmd.Flags().GetBool("export")

			doctorID, err := uuid.Parse(doctorFlag)
			if err != nil {
				return fmt.Errorf("--doctor must be a UUID: %w", err)
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger, pgSink)
			if err != nil {
				return err
			}
			defer a.Close()

			run := a.engine.SyncWithCalendar
			if export {
				run = a.engine.ExportToCalendar
			}
			rec, err := run(cmd.Context(), doctorID, calendar.Window{Start: from, End: to}, "cli")
			if err != nil {
				return err
			}
			c := rec.Counts
			fmt.Printf("%s %s [%s, %s): remote +%d ~%d -%d, linked %d, errors %d\n",
				rec.Mode, doctorID, from, to,
				c.RemoteCreated, c.RemoteUpdated, c.RemoteDeleted, c.LocalUpdated, len(rec.Errors))
			for _, se := range rec.Errors {
				fmt.Printf("  %s slot=%s event=%s: %s\n", se.Op, se.SlotID, se.EventID, se.Message)
			}
			return nil
		},
	}
	cmd.Flags().String("doctor", "", "Doctor ID")
	cmd.Flags().String("from", "", "Window start, YYYY-MM-DD (inclusive)")
	cmd.Flags().String("to", "", "Window end, YYYY-MM-DD (exclusive)")
	cmd.Flags().Bool("export", false, "Only push missing events; never update or delete remote events")
	_ = cmd.MarkFlagRequired("doctor")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func seedCmd() *cobra.Command {
	defaults := sandbox.DefaultSeedConfig()
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill a development database with fake doctors and slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			seedCfg := defaults
			seedCfg.Doctors, _ = cmd.Flags().GetInt("doctors")
			seedCfg.Days, _ = cmd.Flags().GetInt("days")
			seedCfg.StartDate, _ = cmd.Flags().GetString("start")
			seedCfg.Seed, _ = cmd.Flags().GetUint64("seed")

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.IsProduction() {
				return fmt.Errorf("refusing to seed a production database")
			}
			a, err := newApp(cmd.Context(), cfg, logger, func(*pgxpool.Pool) audit.Sink { return audit.LogSink(logger) })
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := sandbox.NewSeeder(seedCfg, sandbox.NewPGDoctorWriter(a.pool), a.slots, a.creds, logger).Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d doctor(s) (%d with a calendar) and %d slot(s).\n",
				len(res.Doctors), res.WithCalendar, res.SlotsCreated)
			return nil
		},
	}
	cmd.Flags().Int("doctors", defaults.Doctors, "Number of doctors to create")
	cmd.Flags().Int("days", defaults.Days, "Days of slots to generate per doctor")
	cmd.Flags().String("start", defaults.StartDate, "First day to generate, YYYY-MM-DD")
	cmd.Flags().Uint64("seed", 0, "Random seed; 0 picks one from the clock")
	return cmd
}
