package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RunOnce runs every task immediately, regardless of its interval, and
// returns the number of entries pruned per task. Used by the operator
// CLI. All tasks run even if one fails.
func RunOnce(ctx context.Context, tasks []Task, now time.Time, logger *slog.Logger) (map[string]int64, error) {
	counts := make(map[string]int64, len(tasks))
	var errs []error
	for _, task := range tasks {
		if task.Pruner == nil {
			continue
		}
		start := time.Now()
		n, err := run(ctx, task, now, logger)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", task.Name, err))
			continue
		}
		counts[task.Name] = n
		logger.Debug("Maintenance task done", "task", task.Name, "duration", time.Since(start).Round(time.Millisecond))
	}
	return counts, errors.Join(errs...)
}
