// Command authgate serves the TravelMate login and session API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/travelmate/authgate"
	"github.com/travelmate/authgate/internal/config"
	"github.com/travelmate/authgate/internal/httpapi"
	"github.com/travelmate/authgate/internal/store/postgres"
	"github.com/travelmate/authgate/metrics/export/prometheus"
	"github.com/travelmate/authgate/notify"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("authgate stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder := authgate.New().
		WithConfig(cfg.Engine()).
		WithLogger(logger).
		WithAuditSink(authgate.SlogSink{Logger: logger.With("component", "audit")})

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		builder.WithRedis(rdb)
		logger.Info("redis connected", "addr", cfg.RedisAddr)
	} else {
		logger.Warn("REDIS_ADDR not set, keeping state in process memory")
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnBoot {
			if err := postgres.Migrate(cfg.DatabaseURL, "up"); err != nil {
				return err
			}
		}
		var err error
		db, err = postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		builder.
			WithPrincipalProvider(postgres.NewPrincipalDirectory(db)).
			WithSessionRepository(postgres.NewSessionRepository(db)).
			WithLockoutStore(postgres.NewLockoutStore(db))
		logger.Info("postgres connected")
	} else {
		logger.Warn("DATABASE_URL not set, principal directory is empty")
		builder.WithPrincipalProvider(authgate.NewMemoryPrincipals())
	}

	if smtpCfg, ok := cfg.SMTP(); ok {
		builder.WithNotifier(notify.NewSMTPNotifier(smtpCfg))
	} else {
		builder.WithNotifier(notify.LogNotifier{Logger: logger})
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	go engine.RunMaintenanceLoop(ctx, cfg.MaintenanceInterval)

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Engine:  engine,
		Logger:  logger,
		Metrics: prometheus.NewExporter(engine).Handler(),
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
