// The unlock-worker flips chat and video access open for every scheduled
// appointment whose date has arrived. It sweeps once at startup, so missed
// runs self-heal, then once a day just after local midnight.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/telehealth-backend/internal/clinic"
	"github.com/carelink/telehealth-backend/internal/config"
	"github.com/carelink/telehealth-backend/internal/db"
	"github.com/carelink/telehealth-backend/internal/metrics"
	redisclient "github.com/carelink/telehealth-backend/internal/redis"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "unlock-worker").Logger()
	log.Info().Msg("starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	loc, err := time.LoadLocation(cfg.SweepTimezone)
	if err != nil {
		log.Fatal().Err(err).Str("zone", cfg.SweepTimezone).Msg("invalid sweep timezone")
	}
	log.Info().Str("env", cfg.Env).Str("zone", loc.String()).Msg("configured")

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
	defer rdb.Close()

	repo := clinic.NewPgRepository(pgPool)
	locker := redisclient.NewRedisKeyLocker(rdb, cfg.LockTTL, cfg.LockWait)
	svc := clinic.NewService(repo, locker, nil, loc, log, metrics.NewCollector("telehealth"))

	// Catch up immediately in case the previous midnight run was missed.
	runOnce(rootCtx, svc, log)

	for {
		wait := untilNextMidnight(time.Now().In(loc))
		log.Info().Dur("sleep", wait).Msg("next sweep scheduled")

		timer := time.NewTimer(wait)
		select {
		case <-rootCtx.Done():
			timer.Stop()
			log.Info().Msg("shutdown signal received, stopping unlock worker")
			return
		case <-timer.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

// untilNextMidnight returns the duration to 00:01 of the next day in now's
// location. The extra minute keeps the sweep clear of the date boundary.
func untilNextMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 1, 0, 0, now.Location()).AddDate(0, 0, 1)
	return next.Sub(now)
}

func runOnce(ctx context.Context, svc *clinic.Service, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.UnlockDueAppointments(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("unlock sweep failed")
		return
	}
	log.Info().Int64("unlocked", n).Dur("took", time.Since(start)).Msg("unlock sweep complete")
}
