package workers

import (
	"context"
	"log/slog"
	"time"
)

// WorkerFunc performs one run of periodic work and returns the number of
// items it processed.
type WorkerFunc func(ctx context.Context) (int, error)

// RunLoop calls workerFunc every interval until ctx is cancelled.
func RunLoop(ctx context.Context, name string, interval, runTimeout time.Duration, workerFunc WorkerFunc) {
	slog.InfoContext(ctx, "Worker starting", slog.String("worker", name), slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Worker stopping", slog.String("worker", name))
			return
		case <-ticker.C:
			runWork(ctx, name, runTimeout, workerFunc)
		}
	}
}

// runWork executes a single run with a timeout.
func runWork(ctx context.Context, name string, runTimeout time.Duration, workerFunc WorkerFunc) {
	if runTimeout <= 0 {
		runTimeout = time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	processedCount, err := workerFunc(runCtx)
	if err != nil {
		slog.ErrorContext(ctx, "Worker run failed", slog.String("worker", name), slog.Any("error", err))
	} else if processedCount > 0 {
		slog.InfoContext(ctx, "Worker processed items", slog.String("worker", name), slog.Int("count", processedCount))
	}
}
