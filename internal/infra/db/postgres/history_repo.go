package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"credit-reset/internal/clock"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/repository"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the history tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: apply schema: %w", err)
	}
	return nil
}

var _ repository.HistoryRepository = (*HistoryRepo)(nil)

type HistoryRepo struct {
	pool  *pgxpool.Pool
	tm    *TxManager
	clock clock.Clock
	log   *zerolog.Logger
}

func NewHistoryRepo(pool *pgxpool.Pool, clk clock.Clock, logger *zerolog.Logger) *HistoryRepo {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	l := logger.With().Str("component", "HistoryRepo").Logger()
	return &HistoryRepo{pool: pool, tm: NewTxManager(pool), clock: clk, log: &l}
}

// SaveRun writes the run and its details in one transaction. Saving the same run
// twice replaces its details.
func (r *HistoryRepo) SaveRun(ctx context.Context, run *model.RunSummary) error {
	const upsertRun = `
INSERT INTO reset_runs (
  id, kind, delayed, account, dry_run, started_at, finished_at,
  total, eligible, success, failed, skipped, scheduled, excluded, error
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14::jsonb,$15
) ON CONFLICT (id) DO UPDATE SET
  finished_at=$7, total=$8, eligible=$9, success=$10, failed=$11, skipped=$12,
  scheduled=$13, excluded=$14, error=$15`

	const deleteDetails = `DELETE FROM reset_details WHERE run_id = $1`

	const insertDetail = `
INSERT INTO reset_details (
  id, run_id, position, subscription_id, subscription_name, status, reason,
  before_credits, after_credits, before_reset_times, after_reset_times,
  verified, cross_day_refill, scheduled_at, message, error
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)`

	var excluded *string
	if len(run.Excluded) > 0 {
		b, err := json.Marshal(run.Excluded)
		if err != nil {
			return err
		}
		v := string(b)
		excluded = &v
	}
	var finished *time.Time
	if !run.FinishedAt.IsZero() {
		f := run.FinishedAt
		finished = &f
	}

	return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := execSQL(ctx, r.pool, tx, upsertRun,
			run.ID, string(run.Kind), run.Delayed, run.AccountMask, run.DryRun, run.StartedAt, finished,
			run.Total, run.Eligible, run.Success, run.Failed, run.Skipped, run.Scheduled, excluded, run.Err,
		); err != nil {
			return fmt.Errorf("history: save run %s: %w", run.ID, err)
		}
		if _, err := execSQL(ctx, r.pool, tx, deleteDetails, run.ID); err != nil {
			return fmt.Errorf("history: clear details %s: %w", run.ID, err)
		}
		for i, d := range run.Details {
			if _, err := execSQL(ctx, r.pool, tx, insertDetail,
				uuid.NewString(), run.ID, i, d.SubscriptionID, d.SubscriptionName, string(d.Status), string(d.Reason),
				d.BeforeCredits, d.AfterCredits, d.BeforeResetTimes, d.AfterResetTimes,
				d.Verified, d.CrossDayRefill, d.ScheduledAt, d.Message, d.Error,
			); err != nil {
				return fmt.Errorf("history: save detail %s/%s: %w", run.ID, d.SubscriptionID, err)
			}
		}
		return nil
	})
}

func (r *HistoryRepo) ListRecent(ctx context.Context, days int) ([]*model.RunSummary, error) {
	if days <= 0 {
		days = 1
	}
	const qRuns = `
SELECT id, kind, delayed, account, dry_run, started_at, finished_at,
       total, eligible, success, failed, skipped, scheduled, excluded::text, error
FROM reset_runs
WHERE started_at >= $1
ORDER BY started_at DESC, id DESC`

	cutoff := r.clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	rows, err := queryRows(ctx, r.pool, nil, qRuns, cutoff)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.RunSummary
	byID := make(map[string]*model.RunSummary)
	for rows.Next() {
		var (
			s        model.RunSummary
			kind     string
			finished *time.Time
			excluded *string
		)
		if err := rows.Scan(&s.ID, &kind, &s.Delayed, &s.AccountMask, &s.DryRun, &s.StartedAt, &finished,
			&s.Total, &s.Eligible, &s.Success, &s.Failed, &s.Skipped, &s.Scheduled, &excluded, &s.Err); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		s.Kind = model.CheckpointKind(kind)
		if finished != nil {
			s.FinishedAt = *finished
		}
		if excluded != nil {
			if err := json.Unmarshal([]byte(*excluded), &s.Excluded); err != nil {
				r.log.Warn().Err(err).Str("run_id", s.ID).Msg("bad excluded column")
			}
		}
		s.Details = []*model.ResetDetail{}
		runs = append(runs, &s)
		byID[s.ID] = &s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return []*model.RunSummary{}, nil
	}

	ids := make([]string, 0, len(runs))
	for _, s := range runs {
		ids = append(ids, s.ID)
	}
	if err := r.loadDetails(ctx, ids, byID); err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *HistoryRepo) loadDetails(ctx context.Context, ids []string, byID map[string]*model.RunSummary) error {
	const q = `
SELECT run_id, subscription_id, subscription_name, status, reason,
       before_credits, after_credits, before_reset_times, after_reset_times,
       verified, cross_day_refill, scheduled_at, message, error
FROM reset_details
WHERE run_id = ANY($1)
ORDER BY run_id, position`

	rows, err := queryRows(ctx, r.pool, nil, q, ids)
	if err != nil {
		return fmt.Errorf("history: list details: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			runID, status, reason string
			d                     model.ResetDetail
		)
		if err := rows.Scan(&runID, &d.SubscriptionID, &d.SubscriptionName, &status, &reason,
			&d.BeforeCredits, &d.AfterCredits, &d.BeforeResetTimes, &d.AfterResetTimes,
			&d.Verified, &d.CrossDayRefill, &d.ScheduledAt, &d.Message, &d.Error); err != nil {
			return fmt.Errorf("history: scan detail: %w", err)
		}
		d.Status = model.ResetStatus(status)
		d.Reason = model.SkipReason(reason)
		if s, ok := byID[runID]; ok {
			s.Details = append(s.Details, &d)
		}
	}
	return rows.Err()
}

func (r *HistoryRepo) Prune(ctx context.Context, keepDays int) (int64, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	const q = `DELETE FROM reset_runs WHERE started_at < $1`
	cutoff := r.clock.Now().Add(-time.Duration(keepDays) * 24 * time.Hour)
	tag, err := execSQL(ctx, r.pool, nil, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	n := tag.RowsAffected()
	if n > 0 {
		r.log.Info().Int64("deleted", n).Int("keep_days", keepDays).Msg("history pruned")
	}
	return n, nil
}
