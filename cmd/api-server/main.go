package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/telehealth-backend/internal/api"
	"github.com/carelink/telehealth-backend/internal/chat"
	"github.com/carelink/telehealth-backend/internal/clinic"
	"github.com/carelink/telehealth-backend/internal/config"
	"github.com/carelink/telehealth-backend/internal/db"
	"github.com/carelink/telehealth-backend/internal/identity"
	"github.com/carelink/telehealth-backend/internal/meeting"
	"github.com/carelink/telehealth-backend/internal/metrics"
	redisclient "github.com/carelink/telehealth-backend/internal/redis"
)

var version = "dev" // set via -ldflags at build time

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api-server").Logger()
	log.Info().Str("version", version).Msg("starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	loc, err := time.LoadLocation(cfg.SweepTimezone)
	if err != nil {
		log.Fatal().Err(err).Str("zone", cfg.SweepTimezone).Msg("invalid timezone")
	}
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("zone", loc.String()).Msg("configured")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PgMaxConns)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisPoolSize)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	collector := metrics.NewCollector("telehealth")
	verifier := identity.NewJWTVerifier(cfg.JWTSecret)
	meetings := meeting.NewZoomClient(meeting.ZoomConfig{
		APIBaseURL:   cfg.MeetingAPIBaseURL,
		OAuthURL:     cfg.MeetingOAuthURL,
		AccountID:    cfg.MeetingAccountID,
		ClientID:     cfg.MeetingClientID,
		ClientSecret: cfg.MeetingClientSecret,
	})

	repo := clinic.NewPgRepository(pgPool)
	locker := redisclient.NewRedisKeyLocker(rdb, cfg.LockTTL, cfg.LockWait)
	svc := clinic.NewService(repo, locker, meetings, loc, log, collector)

	hub := chat.NewHub(collector)
	gateway := chat.NewGateway(svc, hub, log)

	router := api.NewRouter(api.RouterConfig{
		Service:      svc,
		Gateway:      gateway,
		Verifier:     verifier,
		Metrics:      collector,
		Logger:       log,
		PgPool:       pgPool,
		Redis:        rdb,
		Env:          cfg.Env,
		Version:      version,
		BookingRPS:   cfg.RateLimitRPS,
		BookingBurst: cfg.RateLimitBurst,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("api-server stopped")
}
