// Command resetctl runs one checkpoint once and exits, for hosts where an external
// scheduler (cron, systemd timers, CI) owns the timing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"credit-reset/internal/application"
	"credit-reset/internal/clock"
	"credit-reset/internal/config"
	"credit-reset/internal/domain"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/repository"
	pg "credit-reset/internal/infra/db/postgres"
	"credit-reset/internal/infra/filestate"
	"credit-reset/internal/infra/logging"
	"credit-reset/internal/infra/notify"
	red "credit-reset/internal/infra/redis"
	"credit-reset/internal/infra/web"
	"credit-reset/internal/usecase"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type options struct {
	cfgPath   string
	dev       bool
	kind      string
	force     bool
	dryRun    bool
	stats     bool
	wait      bool
	mintToken string
}

func main() {
	var o options
	flag.StringVar(&o.cfgPath, "config", "config.yaml", "path to YAML config file")
	flag.BoolVar(&o.dev, "dev", false, "console logs")
	flag.StringVar(&o.kind, "type", "", "checkpoint to run: first | second | low_balance | manual")
	flag.BoolVar(&o.force, "force", false, "run even if already executed today or after repeated failures")
	flag.BoolVar(&o.dryRun, "dry-run", false, "evaluate without sending resets or recording the execution")
	flag.BoolVar(&o.stats, "stats", false, "print execution statistics and exit")
	flag.BoolVar(&o.wait, "wait", false, "block until deferred resets scheduled by this run have fired")
	flag.StringVar(&o.mintToken, "mint-token", "", "print an admin API token for the given subject and exit")
	flag.Parse()

	os.Exit(run(o))
}

func run(o options) int {
	cfg, err := config.LoadConfig(o.cfgPath, o.dev)
	if err != nil {
		log.Printf("config: %v", err)
		return exitUsage
	}
	if o.dryRun {
		cfg.Reset.DryRun = true
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	for _, w := range cfg.Runtime.Warnings {
		logger.Warn().Msg(w)
	}

	if o.mintToken != "" {
		tok, err := web.NewAuthManager(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL, nil).Mint(o.mintToken)
		if err != nil {
			logger.Error().Err(err).Msg("minting token failed")
			return exitFailure
		}
		fmt.Println(tok)
		return exitOK
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	clk := clock.SystemClock{}

	state, closeState, err := openState(ctx, cfg, clk, logger)
	if err != nil {
		logger.Error().Err(err).Msg("opening run state failed")
		return exitFailure
	}
	defer closeState()

	if o.stats {
		if err := printStats(ctx, state); err != nil {
			logger.Error().Err(err).Msg("reading stats failed")
			return exitFailure
		}
		return exitOK
	}

	if o.kind == "" {
		logger.Error().Msg("-type is required (first | second | low_balance | manual)")
		flag.Usage()
		return exitUsage
	}
	kind, err := model.ParseCheckpointKind(o.kind)
	if err != nil {
		logger.Error().Err(err).Str("type", o.kind).Msg("invalid -type")
		return exitUsage
	}

	notifier := notify.FromConfig(cfg.Notify, clk, logger)
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), cfg.Notify.Timeout+5*time.Second)
		defer cancel()
		_ = notifier.Close(cctx)
	}()

	var history repository.HistoryRepository = repository.NoopHistory{}
	if cfg.Database.URL != "" {
		pool, err := pg.Connect(ctx, cfg.Database.URL)
		if err != nil {
			logger.Error().Err(err).Msg("postgres unavailable, run history disabled")
		} else {
			defer pool.Close()
			history = pg.NewHistoryRepo(pool, clk, logger)
		}
	}

	eng, err := application.BuildEngine(ctx, cfg, application.EngineDeps{
		Clock:    clk,
		Notifier: notifier,
		History:  history,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("building engine failed")
		return exitFailure
	}

	uc := usecase.NewOneShotUseCase(eng.Fleet, eng.Fleet, state, cfg.State.MaxRecentFailures, logger)
	res, err := uc.Execute(ctx, kind, usecase.OneShotOptions{Force: o.force, DryRun: o.dryRun, Wait: o.wait})
	switch {
	case errors.Is(err, domain.ErrAlreadyRanToday), errors.Is(err, domain.ErrTooManyFailures):
		// a refused run is not a failed one
		logger.Warn().Err(err).Str("checkpoint", string(kind)).Msg("run skipped")
		return exitOK
	case err != nil:
		logger.Error().Err(err).Msg("run failed")
		return exitFailure
	}

	if n := eng.Fleet.CancelAllDelayed(); n > 0 {
		logger.Warn().Int("cancelled", n).Msg("deferred resets dropped at exit, use -wait to keep them")
	}
	logger.Info().
		Int("accounts", res.Totals.Accounts).
		Int("success", res.Totals.Success).
		Int("failed", res.Totals.Failed).
		Int("skipped", res.Totals.Skipped).
		Int("scheduled", res.Totals.Scheduled).
		Msg("run complete")
	if res.Failed() {
		return exitFailure
	}
	return exitOK
}

func openState(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *zerolog.Logger) (repository.RunStateRepository, func(), error) {
	loc := cfg.ScheduleLocation()
	if cfg.State.Backend == "redis" {
		rc, err := red.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return red.NewRunStateRepo(rc, clk, loc, logger), func() { _ = rc.Close() }, nil
	}
	repo, err := filestate.NewRunStateRepo(cfg.State.Dir, clk, loc, logger)
	if err != nil {
		return nil, nil, err
	}
	return repo, func() {}, nil
}

func printStats(ctx context.Context, state repository.RunStateRepository) error {
	st, err := state.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Println("execution statistics")
	fmt.Printf("  last execution date: %s\n", orDash(st.LastExecutionDate))
	fmt.Printf("  total executions:    %d\n", st.TotalExecutions)
	fmt.Printf("  failures (24h):      %d\n", st.RecentFailures)
	fmt.Printf("  failures (total):    %d\n", st.TotalFailures)

	kinds := make([]string, 0, len(st.Today))
	for k := range st.Today {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	fmt.Println("  today:")
	for _, k := range kinds {
		mark := "pending"
		if st.Today[model.CheckpointKind(k)] {
			mark = "done"
		}
		fmt.Printf("    %-12s %s\n", k, mark)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
