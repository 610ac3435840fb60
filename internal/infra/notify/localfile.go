package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"credit-reset/internal/clock"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/adapter"
	"credit-reset/internal/infra/i18n"
)

// LocalFileNotifier appends plain text reports to one file per day under dir.
type LocalFileNotifier struct {
	dir   string
	tr    *i18n.Translator
	clock clock.Clock
	log   *zerolog.Logger
	mu    sync.Mutex
}

var _ Channel = (*LocalFileNotifier)(nil)

func NewLocalFileNotifier(dir string, tr *i18n.Translator, clk clock.Clock, logger *zerolog.Logger) (*LocalFileNotifier, error) {
	if dir == "" {
		dir = "./notifications"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local file notifier: create dir: %w", err)
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if tr == nil {
		tr = i18n.English()
	}
	l := logger.With().Str("component", "LocalFileNotifier").Logger()
	l.Info().Str("dir", dir).Msg("local file notifier ready")
	return &LocalFileNotifier{dir: dir, tr: tr, clock: clk, log: &l}, nil
}

func (f *LocalFileNotifier) Name() string { return "local_file" }

// Path is the file written on the given day.
func (f *LocalFileNotifier) Path(day time.Time) string {
	return filepath.Join(f.dir, "notifications-"+day.Format("2006-01-02")+".txt")
}

func (f *LocalFileNotifier) SendReport(ctx context.Context, r *model.RunSummary) error {
	kind := string(r.Kind)
	if r.Delayed {
		kind += " (deferred)"
	}
	return f.write(ctx, kind, renderReport(r, plainText{}, f.tr))
}

func (f *LocalFileNotifier) SendStartup(ctx context.Context, rep *adapter.StartupReport, at time.Time) error {
	return f.write(ctx, "STARTUP", renderStartup(rep, at, plainText{}, f.tr))
}

func (f *LocalFileNotifier) write(ctx context.Context, kind, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := f.clock.Now()
	rule := strings.Repeat("=", 80)
	entry := fmt.Sprintf("%s\ntime: %s\ntype: %s\n%s\n\n%s\n\n", rule, now.Format("2006-01-02 15:04:05"), kind, rule, body)

	f.mu.Lock()
	defer f.mu.Unlock()
	path := f.Path(now)
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("local file notifier: open %s: %w", path, err)
	}
	if _, err := fh.WriteString(entry); err != nil {
		fh.Close()
		return fmt.Errorf("local file notifier: write %s: %w", path, err)
	}
	return fh.Close()
}
