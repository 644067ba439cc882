package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/keymarket/keymarket-backend/internal/earnings"
	"github.com/keymarket/keymarket-backend/pkg/db/models"
	pkgerrors "github.com/keymarket/keymarket-backend/pkg/errors"
	"github.com/keymarket/keymarket-backend/pkg/logger"
	"github.com/keymarket/keymarket-backend/pkg/metrics"
)

const (
	earningsReleaseJobName = "earnings_release"
	defaultBatchSize       = 200
	maxBatchesPerRun       = 10
)

type earningsReleaser interface {
	ListDue(ctx context.Context, after *earnings.DueCursor, limit int) ([]models.PendingEarning, error)
	Release(ctx context.Context, id, actorID uuid.UUID, note string) (*models.PendingEarning, error)
}

type EarningsReleaseJobParams struct {
	Logger    *logger.Logger
	Earnings  earningsReleaser
	Metrics   *metrics.CronJobMetrics
	BatchSize int
}

// NewEarningsReleaseJob builds the job that pays out earnings whose hold
// window has passed.
func NewEarningsReleaseJob(params EarningsReleaseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Earnings == nil {
		return nil, fmt.Errorf("earnings service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &earningsReleaseJob{
		logg:     params.Logger,
		earnings: params.Earnings,
		metrics:  params.Metrics,
		batch:    batch,
	}, nil
}

type earningsReleaseJob struct {
	logg     *logger.Logger
	earnings earningsReleaser
	metrics  *metrics.CronJobMetrics
	batch    int
}

func (j *earningsReleaseJob) Name() string { return earningsReleaseJobName }

// Run releases due earnings one by one, paging forward through the due set
// so each record is attempted at most once per tick. A record another worker
// already settled fails the status guard and is skipped; other failures are
// collected and retried on the next tick.
func (j *earningsReleaseJob) Run(ctx context.Context) error {
	var (
		errs                      error
		released, skipped, failed int
		after                     *earnings.DueCursor
	)
	for round := 0; round < maxBatchesPerRun; round++ {
		due, err := j.earnings.ListDue(ctx, after, j.batch)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("list due earnings: %w", err))
			break
		}
		for _, earning := range due {
			_, err := j.earnings.Release(ctx, earning.ID, uuid.Nil, "")
			switch {
			case err == nil:
				released++
			case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
				skipped++
			default:
				failed++
				errs = multierr.Append(errs, fmt.Errorf("release earning %s: %w", earning.ID, err))
			}
		}
		if len(due) < j.batch {
			break
		}
		last := due[len(due)-1]
		after = &earnings.DueCursor{ReleaseAt: last.ReleaseAt, ID: last.ID}
	}

	j.metrics.AddProcessed(earningsReleaseJobName, "ok", released)
	j.metrics.AddProcessed(earningsReleaseJobName, "skipped", skipped)
	j.metrics.AddProcessed(earningsReleaseJobName, "failed", failed)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"released": released,
		"skipped":  skipped,
		"failed":   failed,
	})
	j.logg.Info(logCtx, "earnings release complete")
	return errs
}
