// Package maintenance runs periodic background tasks as Go tickers. Every
// task deletes state older than its retention; none of them re-evaluates
// proximity or meetings.
package maintenance

import (
	"context"
	"log/slog"
	"time"
)

// Pruner removes entries older than before and reports how many went.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// PrunerFunc adapts a function to Pruner.
type PrunerFunc func(ctx context.Context, before time.Time) (int64, error)

func (f PrunerFunc) Prune(ctx context.Context, before time.Time) (int64, error) {
	return f(ctx, before)
}

// Task prunes one kind of state. Zero Interval disables the task.
type Task struct {
	Name      string
	Interval  time.Duration
	Retention time.Duration
	Pruner    Pruner
}

// Config controls task intervals and retention.
type Config struct {
	PairStateInterval time.Duration // Idle per-pair cooldown/episode state
	PairStateIdle     time.Duration
	WindowInterval    time.Duration // In-memory recent windows
	WindowIdle        time.Duration
	HistoryInterval   time.Duration // location_history rows
	HistoryRetention  time.Duration
	AlertInterval     time.Duration // Resolved emergency alerts
	AlertRetention    time.Duration
}

// DefaultConfig returns sensible production defaults. Pair state is kept
// past the staleness window plus the cooldown so pruning never shortens
// a cooldown or an open episode.
func DefaultConfig() Config {
	return Config{
		PairStateInterval: 5 * time.Minute,
		PairStateIdle:     30 * time.Minute,
		WindowInterval:    5 * time.Minute,
		WindowIdle:        30 * time.Minute,
		HistoryInterval:   1 * time.Hour,
		HistoryRetention:  24 * time.Hour,
		AlertInterval:     6 * time.Hour,
		AlertRetention:    30 * 24 * time.Hour,
	}
}

// Pruners are the stores maintenance cleans. Nil fields are skipped.
type Pruners struct {
	PairState Pruner
	Windows   Pruner
	History   Pruner
	Alerts    Pruner
}

// Tasks binds the configured intervals to p.
func (c Config) Tasks(p Pruners) []Task {
	all := []Task{
		{Name: "pair_state", Interval: c.PairStateInterval, Retention: c.PairStateIdle, Pruner: p.PairState},
		{Name: "recent_windows", Interval: c.WindowInterval, Retention: c.WindowIdle, Pruner: p.Windows},
		{Name: "location_history", Interval: c.HistoryInterval, Retention: c.HistoryRetention, Pruner: p.History},
		{Name: "resolved_alerts", Interval: c.AlertInterval, Retention: c.AlertRetention, Pruner: p.Alerts},
	}
	tasks := all[:0]
	for _, t := range all {
		if t.Pruner != nil {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

// Start launches every task with a non-nil Pruner and a positive
// Interval. Blocks until ctx is cancelled. Intended to be called with `go`.
func Start(ctx context.Context, tasks []Task, logger *slog.Logger) {
	tickers := make([]*time.Ticker, 0, len(tasks))
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	names := make([]string, 0, len(tasks))
	for _, task := range tasks {
		if task.Interval <= 0 || task.Pruner == nil {
			continue
		}
		t := time.NewTicker(task.Interval)
		tickers = append(tickers, t)
		names = append(names, task.Name)
		go runLoop(ctx, t.C, func() { run(ctx, task, time.Now(), logger) })
	}
	logger.Info("Maintenance tickers started", "tasks", names)

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

func run(ctx context.Context, task Task, now time.Time, logger *slog.Logger) (int64, error) {
	n, err := task.Pruner.Prune(ctx, now.Add(-task.Retention))
	if err != nil {
		logger.Warn("Maintenance task failed", "task", task.Name, "error", err)
		return 0, err
	}
	if n > 0 {
		logger.Info("Maintenance task pruned", "task", task.Name, "count", n)
	}
	return n, nil
}
