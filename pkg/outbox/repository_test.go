package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/keymarket/keymarket-backend/pkg/db/dbtest"
	"github.com/keymarket/keymarket-backend/pkg/db/models"
	"github.com/keymarket/keymarket-backend/pkg/enums"
)

func TestInsertAndFetchRespectsAttempts(t *testing.T) {
	conn := dbtest.Open(t, "outbox")
	repo := NewRepository(conn)
	ctx := context.Background()

	orderID := uuid.New()
	env, err := NewEvent(enums.NotificationOrderPaid, uuid.New(), &orderID, map[string]string{"code": "KM-0A0B0C0D"}, time.Time{})
	require.NoError(t, err)
	row, err := repo.Insert(ctx, nil, env)
	require.NoError(t, err)
	require.Equal(t, enums.NotificationOrderPaid, row.Kind)

	decoded, err := Decode(row.Payload)
	require.NoError(t, err)
	require.Equal(t, env.EventID, decoded.EventID)
	require.JSONEq(t, `{"code":"KM-0A0B0C0D"}`, string(decoded.Data))

	rows, err := repo.FetchUnpublished(ctx, nil, 10, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, repo.MarkFailed(ctx, nil, row.ID, errors.New("boom")))
	require.NoError(t, repo.MarkFailed(ctx, nil, row.ID, errors.New("boom")))
	rows, err = repo.FetchUnpublished(ctx, nil, 10, 2)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestMarkPublishedAndRetention(t *testing.T) {
	conn := dbtest.Open(t, "outbox_retention")
	repo := NewRepository(conn)
	ctx := context.Background()

	env, err := NewEvent(enums.NotificationEarningReleased, uuid.New(), nil, nil, time.Now())
	require.NoError(t, err)
	row, err := repo.Insert(ctx, nil, env)
	require.NoError(t, err)
	require.NoError(t, repo.MarkPublished(ctx, nil, row.ID))

	rows, err := repo.FetchUnpublished(ctx, nil, 10, 0)
	require.NoError(t, err)
	require.Empty(t, rows)

	deleted, err := repo.DeletePublishedBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, deleted)

	deleted, err = repo.DeletePublishedBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	var remaining int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	require.Zero(t, remaining)
}

func TestDeleteByOrder(t *testing.T) {
	conn := dbtest.Open(t, "outbox_order")
	repo := NewRepository(conn)
	ctx := context.Background()

	orderID := uuid.New()
	for i := 0; i < 2; i++ {
		env, err := NewEvent(enums.NotificationOrderCancelled, uuid.New(), &orderID, nil, time.Now())
		require.NoError(t, err)
		_, err = repo.Insert(ctx, nil, env)
		require.NoError(t, err)
	}
	deleted, err := repo.DeleteByOrder(ctx, nil, orderID)
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)
}

func TestMarkTerminalParksRow(t *testing.T) {
	conn := dbtest.Open(t, "outbox_terminal")
	repo := NewRepository(conn)
	ctx := context.Background()

	env, err := NewEvent(enums.NotificationOrderPaid, uuid.New(), nil, nil, time.Now())
	require.NoError(t, err)
	row, err := repo.Insert(ctx, nil, env)
	require.NoError(t, err)

	require.NoError(t, repo.MarkTerminal(ctx, nil, row.ID, errors.New("undecodable"), 5))
	rows, err := repo.FetchUnpublished(ctx, nil, 10, 5)
	require.NoError(t, err)
	require.Empty(t, rows)

	var stored models.OutboxEvent
	require.NoError(t, conn.First(&stored, "id = ?", row.ID).Error)
	require.Equal(t, 5, stored.AttemptCount)
	require.NotNil(t, stored.LastError)
	require.Equal(t, "undecodable", *stored.LastError)
}
