package remote

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/zephyrrotor/internal/logger"
	"github.com/ryandielhenn/zephyrrotor/internal/telemetry"
)

// Dispatch runs jobs concurrently, at most parallelism at a time (0 means no limit).
// The first failure cancels the context handed to the remaining jobs and is returned.
func Dispatch(ctx context.Context, r Runner, jobs []Job, parallelism int) error {
	log := logger.From(ctx).Named("remote")

	g, gctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for _, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				telemetry.RemoteJobsTotal.WithLabelValues("skipped").Inc()
				return err
			}
			start := time.Now()
			jl := log.With(logger.Job(job.Name), logger.MemberID(job.MemberID), logger.Addr(job.Host))
			jl.Debug("dispatching")

			if err := r.Run(gctx, job); err != nil {
				telemetry.RemoteJobsTotal.WithLabelValues("error").Inc()
				jl.Error("job failed", logger.Err(err), zap.Duration("elapsed", time.Since(start)))
				return fmt.Errorf("%s: %w", job.Name, err)
			}
			telemetry.RemoteJobsTotal.WithLabelValues("ok").Inc()
			jl.Info("job done", zap.Duration("elapsed", time.Since(start)))
			return nil
		})
	}
	return g.Wait()
}
