package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes journal entries past the retention window on a cron schedule.
type Pruner struct {
	journal   *SQLiteJournal
	schedule  string
	retention time.Duration
	cron      *cron.Cron
	wg        sync.WaitGroup // initial pass
	logger    *slog.Logger
	now       func() time.Time
}

type PrunerConfig struct {
	Journal       *SQLiteJournal
	Schedule      string // standard cron spec or descriptor, e.g. "@daily"
	RetentionDays int
	Logger        *slog.Logger
}

func NewPruner(cfg PrunerConfig) *Pruner {
	if cfg.Schedule == "" {
		cfg.Schedule = "@daily"
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pruner{
		journal:   cfg.Journal,
		schedule:  cfg.Schedule,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Start schedules pruning and runs one pass immediately.
func (p *Pruner) Start(ctx context.Context) error {
	p.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := p.cron.AddFunc(p.schedule, func() { p.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("journal prune schedule %q: %w", p.schedule, err)
	}
	p.cron.Start()
	p.logger.Info("journal pruning scheduled", "schedule", p.schedule, "retention", p.retention)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.RunOnce(ctx)
	}()
	return nil
}

// RunOnce deletes entries older than the retention window.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	n, err := p.journal.Prune(ctx, p.now().Add(-p.retention))
	if err != nil {
		p.logger.Error("journal prune failed", "err", err)
		return 0, err
	}
	if n > 0 {
		p.logger.Info("journal pruned", "removed", n)
	}
	return n, nil
}

// Stop halts the scheduler and waits for any running prune, including the
// initial pass, to finish. The journal may be closed once Stop returns.
func (p *Pruner) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
	p.wg.Wait()
}
