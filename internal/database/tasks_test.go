package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"forwarder/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleTask() *models.Task {
	return &models.Task{
		Name:            "promo",
		ClientID:        "client-1",
		UserbotPhone:    "+79990000001",
		MessageLink:     "https://t.me/source/100",
		SendToAllGroups: true,
		StartTime:       time.Now().Add(-time.Hour).Truncate(time.Second),
		Interval:        15 * time.Minute,
	}
}

func TestCreateTaskRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	task := sampleTask()
	task.FallbackMessageLink = "https://t.me/source/200"
	task.Config = models.TaskConfig{MaxRetries: 5, FailureThreshold: 3}
	require.NoError(t, db.CreateTask(ctx, task))
	require.NotZero(t, task.ID)

	got, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.Name, got.Name)
	assert.Equal(t, task.MessageLink, got.MessageLink)
	assert.Equal(t, task.FallbackMessageLink, got.FallbackMessageLink)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Equal(t, 15*time.Minute, got.Interval)
	assert.Equal(t, 5, got.Config.MaxRetries)
	assert.Equal(t, 3, got.Config.FailureThreshold)
	// next_due по умолчанию равен start_time
	assert.WithinDuration(t, task.StartTime, got.NextDue, time.Second)
}

func TestCreateTaskValidation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	task := sampleTask()
	task.Interval = 30 * time.Second
	assert.ErrorIs(t, db.CreateTask(ctx, task), models.ErrIntervalTooLow)

	task = sampleTask()
	folderID := int64(7)
	task.FolderID = &folderID
	assert.ErrorIs(t, db.CreateTask(ctx, task), models.ErrAmbiguousTarget)

	task = sampleTask()
	task.SendToAllGroups = false
	assert.ErrorIs(t, db.CreateTask(ctx, task), models.ErrNoTarget)
}

func TestGetTaskMissingReturnsNil(t *testing.T) {
	db := newTestDB(t)
	got, err := db.GetTask(context.Background(), 12345)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListDueTasksSelectsOnlyActiveDue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	due := sampleTask()
	due.NextDue = now.Add(-time.Minute)
	require.NoError(t, db.CreateTask(ctx, due))

	future := sampleTask()
	future.Name = "later"
	future.NextDue = now.Add(time.Hour)
	require.NoError(t, db.CreateTask(ctx, future))

	paused := sampleTask()
	paused.Name = "paused"
	paused.Status = models.StatusPaused
	paused.NextDue = now.Add(-time.Minute)
	require.NoError(t, db.CreateTask(ctx, paused))

	tasks, err := db.ListDueTasks(ctx, now)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, due.ID, tasks[0].ID)
}

func TestUpdateAfterRunCounters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	task := sampleTask()
	require.NoError(t, db.CreateTask(ctx, task))

	now := time.Now().Truncate(time.Second)
	require.NoError(t, db.UpdateAfterRun(ctx, models.RunResult{
		TaskID:    task.ID,
		Status:    models.StatusActive,
		NextDue:   now.Add(task.Interval),
		LastRun:   now,
		Succeeded: true,
	}))

	require.NoError(t, db.UpdateAfterRun(ctx, models.RunResult{
		TaskID:              task.ID,
		Status:              models.StatusActive,
		NextDue:             now.Add(2 * task.Interval),
		LastRun:             now,
		Succeeded:           false,
		ConsecutiveFailures: 1,
		LastError:           "send failed (network): timeout",
	}))

	got, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TotalRuns)
	assert.Equal(t, int64(1), got.SuccessfulRuns)
	assert.Equal(t, int64(1), got.FailedRuns)
	assert.Equal(t, int64(1), got.ConsecutiveFailures)
	assert.Equal(t, "send failed (network): timeout", got.LastError)
	require.NotNil(t, got.LastRun)
	assert.True(t, got.SuccessfulRuns+got.FailedRuns <= got.TotalRuns)
}

func TestBulkUpdateStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := sampleTask()
	require.NoError(t, db.CreateTask(ctx, first))
	second := sampleTask()
	second.Name = "second"
	require.NoError(t, db.CreateTask(ctx, second))

	affected, err := db.BulkUpdateStatus(ctx, []int64{first.ID, second.ID}, models.StatusActive, models.StatusPaused, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	got, err := db.GetTask(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, got.Status)

	// Возобновление с пересчетом next_due
	restart := time.Now().Add(time.Minute).Truncate(time.Second)
	affected, err = db.BulkUpdateStatus(ctx, []int64{first.ID}, models.StatusPaused, models.StatusActive, &restart)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	got, err = db.GetTask(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.WithinDuration(t, restart, got.NextDue, time.Second)
}

func TestBulkUpdateStatusEmptyIDs(t *testing.T) {
	db := newTestDB(t)
	affected, err := db.BulkUpdateStatus(context.Background(), nil, models.StatusActive, models.StatusPaused, nil)
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestBulkUpdateStatusGuardsSourceStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	task := sampleTask()
	require.NoError(t, db.CreateTask(ctx, task))

	// Задача успела завершиться между выборкой и обновлением.
	_, err := db.BulkUpdateStatus(ctx, []int64{task.ID}, models.StatusActive, models.StatusCompleted, nil)
	require.NoError(t, err)

	affected, err := db.BulkUpdateStatus(ctx, []int64{task.ID}, models.StatusActive, models.StatusPaused, nil)
	require.NoError(t, err)
	assert.Zero(t, affected)

	got, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestDeleteTasks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	task := sampleTask()
	require.NoError(t, db.CreateTask(ctx, task))

	deleted, err := db.DeleteTasks(ctx, []int64{task.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	got, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTaskStatsAggregation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	active := sampleTask()
	require.NoError(t, db.CreateTask(ctx, active))

	failed := sampleTask()
	failed.Name = "broken"
	failed.Status = models.StatusFailed
	require.NoError(t, db.CreateTask(ctx, failed))

	now := time.Now()
	require.NoError(t, db.UpdateAfterRun(ctx, models.RunResult{
		TaskID:    active.ID,
		Status:    models.StatusActive,
		NextDue:   now.Add(active.Interval),
		LastRun:   now,
		Succeeded: true,
	}))

	stats, err := db.TaskStats(ctx, models.TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalTasks)
	assert.Equal(t, int64(1), stats.ActiveTasks)
	assert.Equal(t, int64(1), stats.FailedTasks)
	assert.Equal(t, int64(1), stats.TotalRuns)
	assert.Equal(t, int64(1), stats.SuccessfulRuns)
}

func TestListTargetGroupsByFolderAndAll(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	folder := &models.Folder{Name: "vip", CreatedBy: "client-1"}
	require.NoError(t, db.CreateFolder(ctx, folder))

	require.NoError(t, db.AddTargetGroup(ctx, &models.TargetGroup{GroupID: -100111, Name: "one", AddedBy: "client-1", FolderID: &folder.ID}))
	require.NoError(t, db.AddTargetGroup(ctx, &models.TargetGroup{GroupID: -100222, Name: "two", AddedBy: "client-1"}))
	require.NoError(t, db.AddTargetGroup(ctx, &models.TargetGroup{GroupID: -100333, Name: "other", AddedBy: "client-2"}))

	all, err := db.ListTargetGroups(ctx, models.Target{ClientID: "client-1", SendToAllGroups: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	inFolder, err := db.ListTargetGroups(ctx, models.Target{ClientID: "client-1", FolderID: &folder.ID})
	require.NoError(t, err)
	require.Len(t, inFolder, 1)
	assert.Equal(t, int64(-100111), inFolder[0].GroupID)

	_, err = db.ListTargetGroups(ctx, models.Target{ClientID: "client-1"})
	assert.ErrorIs(t, err, models.ErrNoTarget)
}
