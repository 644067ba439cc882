package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	pkgerrors "github.com/keymarket/keymarket-backend/pkg/errors"
	"github.com/keymarket/keymarket-backend/pkg/logger"
	"github.com/keymarket/keymarket-backend/pkg/metrics"
)

const orderExpiryJobName = "order_expiry"

type orderExpirer interface {
	ListExpirable(ctx context.Context, limit int) ([]uuid.UUID, error)
	Expire(ctx context.Context, orderID uuid.UUID) (bool, error)
}

type OrderExpiryJobParams struct {
	Logger    *logger.Logger
	Orders    orderExpirer
	Metrics   *metrics.CronJobMetrics
	BatchSize int
}

// NewOrderExpiryJob builds the job that cancels orders left unpaid, or left
// unconfirmed, past their window.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &orderExpiryJob{logg: params.Logger, orders: params.Orders, metrics: params.Metrics, batch: batch}, nil
}

type orderExpiryJob struct {
	logg    *logger.Logger
	orders  orderExpirer
	metrics *metrics.CronJobMetrics
	batch   int
}

func (j *orderExpiryJob) Name() string { return orderExpiryJobName }

// Run expires each candidate in its own transaction. The service re-checks
// status and age, so candidates that moved on meanwhile are skipped.
func (j *orderExpiryJob) Run(ctx context.Context) error {
	ids, err := j.orders.ListExpirable(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list expirable orders: %w", err)
	}

	var (
		errs                     error
		expired, skipped, failed int
	)
	for _, id := range ids {
		ok, err := j.orders.Expire(ctx, id)
		switch {
		case err == nil && ok:
			expired++
		case err == nil, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
			skipped++
		default:
			failed++
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", id, err))
		}
	}

	j.metrics.AddProcessed(orderExpiryJobName, "ok", expired)
	j.metrics.AddProcessed(orderExpiryJobName, "skipped", skipped)
	j.metrics.AddProcessed(orderExpiryJobName, "failed", failed)
	if len(ids) > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"expired": expired,
			"skipped": skipped,
			"failed":  failed,
		}), "order expiry complete")
	}
	return errs
}
