package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"credit-reset/internal/clock"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/repository"
)

// stateRetention bounds how long execution and failure records are kept.
const stateRetention = 30 * 24 * time.Hour

var _ repository.RunStateRepository = (*RunStateRepo)(nil)

// RunStateRepo keeps the single-shot idempotency state in Redis: one expiring key per
// successful (day, checkpoint) plus sorted sets of executions and failures scored by
// unix time.
type RunStateRepo struct {
	cli   *redis.Client
	clock clock.Clock
	loc   *time.Location
	log   *zerolog.Logger
}

func NewRunStateRepo(c *Client, clk clock.Clock, loc *time.Location, logger *zerolog.Logger) *RunStateRepo {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if loc == nil {
		loc = time.Local
	}
	l := logger.With().Str("component", "RedisRunState").Logger()
	return &RunStateRepo{cli: c.cli, clock: clk, loc: loc, log: &l}
}

func successKey(day string, kind model.CheckpointKind) string {
	return fmt.Sprintf("%sstate:success:%s:%s", KeyPrefix, day, kind)
}

var (
	executionsKey = KeyPrefix + "state:executions"
	failuresKey   = KeyPrefix + "state:failures"
)

func (r *RunStateRepo) HasRunToday(ctx context.Context, kind model.CheckpointKind) (bool, error) {
	n, err := r.cli.Exists(ctx, successKey(model.DayKey(r.clock.Now(), r.loc), kind)).Result()
	if err != nil {
		return false, fmt.Errorf("redis run state: exists: %w", err)
	}
	return n > 0, nil
}

func (r *RunStateRepo) RecordSuccess(ctx context.Context, kind model.CheckpointKind, result *repository.ExecutionResult) error {
	now := r.clock.Now()
	rec := repository.ExecutionRecord{
		Date:      model.DayKey(now, r.loc),
		Kind:      kind,
		Status:    "success",
		Timestamp: now,
		Result:    result,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	cutoff := strconv.FormatInt(now.Add(-stateRetention).Unix(), 10)

	_, err = r.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, successKey(rec.Date, kind), data, 48*time.Hour)
		p.ZAdd(ctx, executionsKey, &redis.Z{Score: float64(now.Unix()), Member: data})
		p.ZRemRangeByScore(ctx, executionsKey, "-inf", "("+cutoff)
		p.ZRemRangeByScore(ctx, failuresKey, "-inf", "("+cutoff)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis run state: record success: %w", err)
	}
	r.log.Info().Str("checkpoint", string(kind)).Str("date", rec.Date).Msg("execution recorded")
	return nil
}

func (r *RunStateRepo) RecordFailure(ctx context.Context, kind model.CheckpointKind, cause error) error {
	now := r.clock.Now()
	rec := repository.ExecutionRecord{
		Date:      model.DayKey(now, r.loc),
		Kind:      kind,
		Status:    "failure",
		Timestamp: now,
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	cutoff := strconv.FormatInt(now.Add(-stateRetention).Unix(), 10)

	_, err = r.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, failuresKey, &redis.Z{Score: float64(now.Unix()), Member: data})
		p.ZRemRangeByScore(ctx, failuresKey, "-inf", "("+cutoff)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis run state: record failure: %w", err)
	}
	r.log.Warn().Str("checkpoint", string(kind)).Str("error", rec.Error).Msg("failure recorded")
	return nil
}

// RecentFailureCount counts failures strictly newer than now-window.
func (r *RunStateRepo) RecentFailureCount(ctx context.Context, window time.Duration) (int, error) {
	since := strconv.FormatInt(r.clock.Now().Add(-window).Unix(), 10)
	n, err := r.cli.ZCount(ctx, failuresKey, "("+since, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis run state: count failures: %w", err)
	}
	return int(n), nil
}

func (r *RunStateRepo) Stats(ctx context.Context) (*repository.ExecutionStats, error) {
	now := r.clock.Now()
	day := model.DayKey(now, r.loc)
	stats := &repository.ExecutionStats{Today: make(map[model.CheckpointKind]bool)}

	for _, k := range model.AllCheckpoints {
		ok, err := r.cli.Exists(ctx, successKey(day, k)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis run state: stats: %w", err)
		}
		stats.Today[k] = ok > 0
	}

	last, err := r.cli.ZRevRange(ctx, executionsKey, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("redis run state: stats: %w", err)
	}
	if len(last) == 1 {
		var rec repository.ExecutionRecord
		if err := json.Unmarshal([]byte(last[0]), &rec); err == nil {
			stats.LastExecutionDate = rec.Date
		}
	}

	total, err := r.cli.ZCard(ctx, executionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis run state: stats: %w", err)
	}
	stats.TotalExecutions = int(total)

	failures, err := r.cli.ZCard(ctx, failuresKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis run state: stats: %w", err)
	}
	stats.TotalFailures = int(failures)

	if stats.RecentFailures, err = r.RecentFailureCount(ctx, 24*time.Hour); err != nil {
		return nil, err
	}
	return stats, nil
}
