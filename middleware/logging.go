package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/nahom-zewdu/Nuvom/job"
)

// Logging returns middleware that logs attempt start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		logger.Debug("attempt started",
			slog.String("func_name", j.FuncName),
			slog.String("job_id", j.ID),
			slog.Int("attempt", len(j.Attempts)+1),
		)

		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("attempt failed",
				slog.String("func_name", j.FuncName),
				slog.String("job_id", j.ID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("attempt completed",
				slog.String("func_name", j.FuncName),
				slog.String("job_id", j.ID),
				slog.Duration("elapsed", elapsed),
			)
		}

		return result, err
	}
}
