// Package audit records administrative actions to an append-only sink.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	bq "github.com/keymarket/keymarket-backend/pkg/bigquery"
	"github.com/keymarket/keymarket-backend/pkg/logger"
)

// Actions recorded by the marketplace core.
const (
	ActionOrderConfirm       = "order.confirm"
	ActionOrderCancel        = "order.cancel"
	ActionOrderRefund        = "order.refund"
	ActionOrderPurge         = "order.purge"
	ActionEarningRelease     = "earning.release"
	ActionEarningCancel      = "earning.cancel"
	ActionAccountCredit      = "account.credit"
	ActionReferralCreate     = "referral.create"
	ActionReferralDeactivate = "referral.deactivate"
)

// Recorder is best effort: failures are logged by the implementation and
// never surface to the caller.
type Recorder interface {
	Record(ctx context.Context, actorID uuid.UUID, action string, metadata map[string]any)
}

type rowInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// Row is one audit record as stored in BigQuery.
type Row struct {
	ID         string
	ActorID    string
	Action     string
	Metadata   string
	OccurredAt time.Time
}

// Save implements bigquery.ValueSaver with the record id as insert id, so
// retried inserts are deduplicated.
func (r Row) Save() (map[string]bigquery.Value, string, error) {
	return map[string]bigquery.Value{
		"id":          r.ID,
		"actor_id":    r.ActorID,
		"action":      r.Action,
		"metadata":    r.Metadata,
		"occurred_at": r.OccurredAt,
	}, r.ID, nil
}

const (
	defaultAttempts = 3
	defaultBackoff  = 200 * time.Millisecond
)

// BigQueryRecorder streams audit rows into the audit table.
type BigQueryRecorder struct {
	client   rowInserter
	table    string
	logg     *logger.Logger
	attempts int
	backoff  time.Duration
	now      func() time.Time
}

func NewBigQueryRecorder(client rowInserter, table string, logg *logger.Logger) (*BigQueryRecorder, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}
	if table == "" {
		return nil, fmt.Errorf("audit table required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &BigQueryRecorder{
		client:   client,
		table:    table,
		logg:     logg,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		now:      time.Now,
	}, nil
}

func (r *BigQueryRecorder) Record(ctx context.Context, actorID uuid.UUID, action string, metadata map[string]any) {
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"actor_id": actorID.String(),
		"action":   action,
	})

	encoded, err := json.Marshal(metadata)
	if err != nil {
		r.logg.Error(logCtx, "audit metadata encode failed", err)
		return
	}
	row := Row{
		ID:         uuid.NewString(),
		ActorID:    actorID.String(),
		Action:     action,
		Metadata:   string(encoded),
		OccurredAt: r.now().UTC(),
	}

	delay := r.backoff
	for attempt := 1; ; attempt++ {
		err = r.client.InsertRows(ctx, r.table, []any{row})
		if err == nil {
			return
		}
		if attempt >= r.attempts || !bq.IsRetryable(err) || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
		delay *= 2
	}
	r.logg.Error(r.logg.WithField(logCtx, "audit_id", row.ID), "audit record failed", err)
}

// LogRecorder writes audit records to the structured log only.
type LogRecorder struct {
	logg *logger.Logger
}

func NewLogRecorder(logg *logger.Logger) *LogRecorder {
	if logg == nil {
		logg = logger.Nop()
	}
	return &LogRecorder{logg: logg}
}

func (r *LogRecorder) Record(ctx context.Context, actorID uuid.UUID, action string, metadata map[string]any) {
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"actor_id": actorID.String(),
		"action":   action,
		"metadata": metadata,
		"event":    "audit",
	})
	r.logg.Info(logCtx, "audit record")
}
