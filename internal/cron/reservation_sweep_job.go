package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/pkg/logger"
	"github.com/keymarket/keymarket-backend/pkg/metrics"
)

const reservationSweepJobName = "reservation_sweep"

type reservationSweeper interface {
	SweepExpired(ctx context.Context, tx *gorm.DB, listingID *uuid.UUID) (int64, error)
}

type ReservationSweepJobParams struct {
	Logger    *logger.Logger
	Inventory reservationSweeper
	Metrics   *metrics.CronJobMetrics
}

// NewReservationSweepJob builds the job that returns lapsed reservations to
// the pool. Extended holds of orders awaiting confirmation are not lapsed.
func NewReservationSweepJob(params ReservationSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory sweeper required")
	}
	return &reservationSweepJob{logg: params.Logger, inventory: params.Inventory, metrics: params.Metrics}, nil
}

type reservationSweepJob struct {
	logg      *logger.Logger
	inventory reservationSweeper
	metrics   *metrics.CronJobMetrics
}

func (j *reservationSweepJob) Name() string { return reservationSweepJobName }

func (j *reservationSweepJob) Run(ctx context.Context) error {
	swept, err := j.inventory.SweepExpired(ctx, nil, nil)
	if err != nil {
		return fmt.Errorf("sweep reservations: %w", err)
	}
	j.metrics.AddProcessed(reservationSweepJobName, "ok", int(swept))
	if swept > 0 {
		j.logg.Info(j.logg.WithField(ctx, "units_released", swept), "expired reservations released")
	}
	return nil
}
