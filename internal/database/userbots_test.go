package database

import (
	"context"
	"testing"

	"forwarder/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertUserbotUpdatesInPlace(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ub := &models.Userbot{Phone: "+79990000001", ClientID: "client-1", Username: "ub1"}
	require.NoError(t, db.UpsertUserbot(ctx, ub))

	ub.ClientID = "client-2"
	ub.Status = models.UserbotInactive
	require.NoError(t, db.UpsertUserbot(ctx, ub))

	got, err := db.GetUserbot(ctx, ub.Phone)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "client-2", got.ClientID)
	assert.Equal(t, models.UserbotInactive, got.Status)

	all, err := db.ListUserbots(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetUserbotMissingReturnsNil(t *testing.T) {
	db := newTestDB(t)
	got, err := db.GetUserbot(context.Background(), "+70000000000")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUserbotFailureCounter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ub := &models.Userbot{Phone: "+79990000001", ClientID: "client-1"}
	require.NoError(t, db.UpsertUserbot(ctx, ub))

	require.NoError(t, db.RecordUserbotFailure(ctx, ub.Phone))
	require.NoError(t, db.RecordUserbotFailure(ctx, ub.Phone))

	got, err := db.GetUserbot(ctx, ub.Phone)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.FailureCount)
	assert.False(t, got.LastFailureAt.IsZero())

	require.NoError(t, db.ResetUserbotFailures(ctx, ub.Phone))
	got, err = db.GetUserbot(ctx, ub.Phone)
	require.NoError(t, err)
	assert.Zero(t, got.FailureCount)
}

func TestAuditTrail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	action := &models.AdminAction{AdminID: 42, ActionType: "bulk_pause", TargetID: "tasks", Details: "affected=3 skipped=1"}
	require.NoError(t, db.LogAdminAction(ctx, action))
	assert.NotZero(t, action.ID)

	taskID := int64(7)
	record := &models.EventRecord{Event: "task_run_failed", Details: `{"task_id":7}`, ClientID: "client-1", TaskID: &taskID}
	require.NoError(t, db.LogEvent(ctx, record))
	require.NoError(t, db.LogEvent(ctx, &models.EventRecord{Event: "task_run_succeeded"}))

	events, err := db.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Свежие записи первыми
	assert.Equal(t, "task_run_succeeded", events[0].Event)
	assert.Equal(t, "task_run_failed", events[1].Event)
	require.NotNil(t, events[1].TaskID)
	assert.Equal(t, taskID, *events[1].TaskID)
}
