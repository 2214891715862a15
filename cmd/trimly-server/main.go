package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"trimly/internal/cache"
	"trimly/internal/config"
	"trimly/internal/domain"
	"trimly/internal/service/availability"
	"trimly/internal/settings"
	"trimly/internal/store/postgres"
	"trimly/internal/transport/rest"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "trimly-server"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "trimly-server"),
	)
	slog.SetDefault(log)

	httpAddr := fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort)
	log.Info("starting",
		slog.String("http_addr", httpAddr),
		slog.String("cache_backend", cfg.CacheBackend),
		slog.Int("utc_offset_minutes", cfg.UTCOffsetMinutes),
		slog.String("log_level", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		os.Exit(1)
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	availCache, cleanup, err := buildCache(ctx, cfg)
	if err != nil {
		log.Error("cache setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer cleanup()

	engineSettings, err := settings.New(settings.Snapshot{
		DefaultGranularityMinutes: cfg.DefaultGranularityMinutes,
		MaxAdvanceDays:            cfg.MaxAdvanceDays,
	})
	if err != nil {
		log.Error("invalid scheduling defaults", slog.Any("err", err))
		os.Exit(1)
	}

	changes, unsubscribe := engineSettings.Subscribe()
	defer unsubscribe()
	go func() {
		for snap := range changes {
			log.Info("scheduling defaults changed",
				slog.Int("default_granularity_minutes", snap.DefaultGranularityMinutes),
				slog.Int("max_advance_days", snap.MaxAdvanceDays))
		}
	}()

	repo := postgres.NewScheduleRepo(db, cfg.ReserveLockTimeout)
	svc := availability.New(availability.Deps{
		WorkingHours:     repo,
		BlockedTimes:     repo.BlockedTimes(),
		Appointments:     repo,
		Services:         repo.Services(),
		Calendar:         repo,
		Cache:            availCache,
		Clock:            domain.NewClock(cfg.UTCOffsetMinutes),
		Settings:         engineSettings,
		Log:              log,
		BusyRetryBackoff: cfg.BusyRetryBackoff,
	})

	server := &http.Server{
		Addr:    httpAddr,
		Handler: rest.NewServer(svc, engineSettings, log).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	log.Info("http server started", slog.String("http_addr", httpAddr))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdown(log, server, cfg.ShutdownTimeout)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped with error", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func buildCache(ctx context.Context, cfg config.Config) (cache.AvailabilityCache, func(), error) {
	if cfg.CacheBackend != "redis" {
		return cache.NewMemory(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return cache.NewRedis(client, cfg.CacheTTL), func() { _ = client.Close() }, nil
}

func shutdown(log *slog.Logger, s *http.Server, timeout time.Duration) {
	log.Info("shutting down http server", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		log.Warn("http graceful shutdown timed out; forcing close", slog.Any("err", err))
		_ = s.Close()
		return
	}
	log.Info("http server stopped")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
