// Command resetd is the long-running service: it fires the daily checkpoints,
// keeps deferred resets armed and serves the admin API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"credit-reset/internal/application"
	"credit-reset/internal/clock"
	"credit-reset/internal/config"
	"credit-reset/internal/domain/ports/adapter"
	"credit-reset/internal/domain/ports/repository"
	pg "credit-reset/internal/infra/db/postgres"
	"credit-reset/internal/infra/logging"
	"credit-reset/internal/infra/metrics"
	"credit-reset/internal/infra/notify"
	red "credit-reset/internal/infra/redis"
	"credit-reset/internal/infra/sched"
	"credit-reset/internal/infra/web"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted secrets)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	for _, w := range cfg.Runtime.Warnings {
		logger.Warn().Msg(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("service stopped with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	clk := clock.SystemClock{}
	metrics.SetBuildInfo(version, commit)

	logger.Info().
		Str("version", version).
		Int("accounts", len(cfg.API.Keys)).
		Str("timezone", cfg.Schedule.Timezone).
		Str("first_reset", cfg.Schedule.FirstResetTime).
		Str("second_reset", cfg.Schedule.SecondResetTime).
		Bool("low_balance", cfg.Schedule.EnableLowBalance).
		Bool("dry_run", cfg.Reset.DryRun).
		Msg("starting")

	// ---- Notifications ----
	notifier := notify.FromConfig(cfg.Notify, clk, logger)
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := notifier.Close(cctx); err != nil {
			logger.Warn().Err(err).Msg("pending notifications dropped")
		}
	}()

	// ---- Postgres (optional run history) ----
	var history repository.HistoryRepository = repository.NoopHistory{}
	if cfg.Database.URL != "" {
		pool, err := pg.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := pg.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		go pg.ReportPoolStats(ctx, pool, 30*time.Second, logger)
		history = pg.NewHistoryRepo(pool, clk, logger)
		logger.Info().Msg("run history stored in postgres")
	}

	// ---- Redis (optional shared lock and manual trigger limit) ----
	var locker adapter.Locker = sched.NewExecutionLock(clk, logger)
	var manual web.ManualLimiter
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rc.Close()
		locker = red.NewLocker(rc, cfg.Redis.LockTTL, logger)
		if cfg.Admin.ManualTriggerLimit > 0 {
			manual = red.NewTriggerLimiter(rc, cfg.Admin.ManualTriggerLimit, cfg.Admin.ManualTriggerWindow)
		}
		logger.Info().Msg("execution locks held in redis")
	}

	// ---- Engine ----
	// deferred fires survive the signal and are cancelled explicitly below
	delayedCtx, cancelDelayed := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDelayed()
	eng, err := application.BuildEngine(delayedCtx, cfg, application.EngineDeps{
		Clock:    clk,
		Notifier: notifier,
		History:  history,
	}, logger)
	if err != nil {
		return err
	}
	metrics.RegisterPendingDelayed(eng.PendingCount)
	metrics.MustRegister(nil)

	// ---- Startup check ----
	report, err := eng.Fleet.Startup(ctx)
	if err != nil {
		return errors.Join(errors.New("no account passed the connection test"), err)
	}
	notifier.NotifyStartup(ctx, report)

	// ---- Scheduler ----
	trigger, err := sched.NewTrigger(eng.Fleet, locker, history, clk, sched.TriggerConfigFrom(cfg), logger)
	if err != nil {
		return err
	}
	trigger.Start(ctx)
	for name, next := range trigger.NextRuns() {
		logger.Info().Str("entry", name).Time("next", next).Msg("scheduled")
	}

	// ---- Admin API ----
	var srv *web.Server
	if cfg.Admin.Enabled {
		deps := web.Deps{
			Trigger:  trigger,
			Accounts: eng.Fleet,
			Delayed:  eng.Fleet,
			Locker:   locker,
			History:  history,
			Manual:   manual,
			Auth:     web.NewAuthManager(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL, clk),
			Clock:    clk,
		}
		if eng.Bucket != nil {
			deps.Limiter = eng.Bucket
		}
		srv = web.NewServer(deps, logger)
		go func() {
			if err := srv.Start(cfg.Admin.Port); err != nil {
				logger.Error().Err(err).Msg("admin api stopped")
			}
		}()
	}

	// ---- Graceful shutdown ----
	<-ctx.Done()
	logger.Info().Msg("shutdown requested")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("admin api shutdown")
		}
	}
	if err := trigger.Stop(sctx); err != nil {
		logger.Warn().Err(err).Msg("running checkpoint did not finish in time")
	}
	if n := eng.Fleet.CancelAllDelayed(); n > 0 {
		logger.Warn().Int("cancelled", n).Msg("pending deferred resets cancelled")
	}
	if err := eng.Fleet.WaitDelayed(sctx); err != nil {
		logger.Warn().Err(err).Msg("deferred reset still running at exit")
	}
	cancelDelayed()
	logger.Info().Msg("bye")
	return nil
}
