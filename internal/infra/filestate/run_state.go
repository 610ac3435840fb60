// Package filestate is the default idempotency store: a single JSON document on disk,
// suited to one-shot invocations from an external scheduler.
package filestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"credit-reset/internal/clock"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/repository"
)

const (
	FileName  = "reset-state.json"
	retention = 30 * 24 * time.Hour
)

var _ repository.RunStateRepository = (*RunStateRepo)(nil)

type document struct {
	LastExecutionDate string                       `json:"lastExecutionDate,omitempty"`
	ExecutionHistory  []repository.ExecutionRecord `json:"executionHistory"`
	Failures          []repository.ExecutionRecord `json:"failures"`
}

type RunStateRepo struct {
	path  string
	clock clock.Clock
	loc   *time.Location
	log   *zerolog.Logger

	mu  sync.Mutex
	doc *document
}

func NewRunStateRepo(dir string, clk clock.Clock, loc *time.Location, logger *zerolog.Logger) (*RunStateRepo, error) {
	if dir == "" {
		dir = "./data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create dir: %w", err)
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if loc == nil {
		loc = time.Local
	}
	l := logger.With().Str("component", "FileRunState").Logger()
	return &RunStateRepo{path: filepath.Join(dir, FileName), clock: clk, loc: loc, log: &l}, nil
}

func (r *RunStateRepo) Path() string { return r.path }

// loadLocked reads the document once; a missing file is an empty state.
func (r *RunStateRepo) loadLocked() error {
	if r.doc != nil {
		return nil
	}
	raw, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		r.doc = &document{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("state: read %s: %w", r.path, err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("state: decode %s: %w", r.path, err)
	}
	r.doc = &doc
	return nil
}

// saveLocked writes through a temp file so a crash never leaves a torn document.
func (r *RunStateRepo) saveLocked() error {
	raw, err := json.MarshalIndent(r.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("state: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("state: replace %s: %w", r.path, err)
	}
	return nil
}

func (r *RunStateRepo) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	keep := func(in []repository.ExecutionRecord) []repository.ExecutionRecord {
		out := in[:0]
		for _, rec := range in {
			if rec.Timestamp.After(cutoff) {
				out = append(out, rec)
			}
		}
		return out
	}
	r.doc.ExecutionHistory = keep(r.doc.ExecutionHistory)
	r.doc.Failures = keep(r.doc.Failures)
}

func (r *RunStateRepo) HasRunToday(ctx context.Context, kind model.CheckpointKind) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return false, err
	}
	today := model.DayKey(r.clock.Now(), r.loc)
	var last *repository.ExecutionRecord
	for i := range r.doc.ExecutionHistory {
		rec := &r.doc.ExecutionHistory[i]
		if rec.Date == today && rec.Kind == kind && rec.Status == "success" {
			if last == nil || rec.Timestamp.After(last.Timestamp) {
				last = rec
			}
		}
	}
	if last != nil {
		r.log.Info().Str("checkpoint", string(kind)).Time("at", last.Timestamp).Msg("checkpoint already executed today")
		return true, nil
	}
	return false, nil
}

func (r *RunStateRepo) RecordSuccess(ctx context.Context, kind model.CheckpointKind, result *repository.ExecutionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return err
	}
	now := r.clock.Now()
	today := model.DayKey(now, r.loc)
	r.doc.ExecutionHistory = append(r.doc.ExecutionHistory, repository.ExecutionRecord{
		Date:      today,
		Kind:      kind,
		Status:    "success",
		Timestamp: now,
		Result:    result,
	})
	r.doc.LastExecutionDate = today
	r.pruneLocked(now)
	if err := r.saveLocked(); err != nil {
		return err
	}
	r.log.Info().Str("checkpoint", string(kind)).Msg("execution recorded")
	return nil
}

func (r *RunStateRepo) RecordFailure(ctx context.Context, kind model.CheckpointKind, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return err
	}
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
	r.doc.Failures = append(r.doc.Failures, rec)
	r.pruneLocked(now)
	if err := r.saveLocked(); err != nil {
		return err
	}
	r.log.Warn().Str("checkpoint", string(kind)).Str("error", rec.Error).Msg("failure recorded")
	return nil
}

func (r *RunStateRepo) RecentFailureCount(ctx context.Context, window time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return 0, err
	}
	return r.recentFailuresLocked(window), nil
}

func (r *RunStateRepo) recentFailuresLocked(window time.Duration) int {
	cutoff := r.clock.Now().Add(-window)
	n := 0
	for _, f := range r.doc.Failures {
		if f.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}

func (r *RunStateRepo) Stats(ctx context.Context) (*repository.ExecutionStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return nil, err
	}
	today := model.DayKey(r.clock.Now(), r.loc)
	stats := &repository.ExecutionStats{
		Today:             make(map[model.CheckpointKind]bool),
		LastExecutionDate: r.doc.LastExecutionDate,
		TotalExecutions:   len(r.doc.ExecutionHistory),
		RecentFailures:    r.recentFailuresLocked(24 * time.Hour),
		TotalFailures:     len(r.doc.Failures),
	}
	for _, k := range model.AllCheckpoints {
		stats.Today[k] = false
	}
	for _, rec := range r.doc.ExecutionHistory {
		if rec.Date == today && rec.Status == "success" {
			stats.Today[rec.Kind] = true
		}
	}
	return stats, nil
}

// History returns the stored executions, newest first.
func (r *RunStateRepo) History(ctx context.Context) ([]repository.ExecutionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(); err != nil {
		return nil, err
	}
	out := make([]repository.ExecutionRecord, len(r.doc.ExecutionHistory))
	copy(out, r.doc.ExecutionHistory)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}
