package engine

import (
	"context"
	"testing"
	"time"

	"forwarder/internal/models"
	"forwarder/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBulk(store *fakeStore, markers *repository.MemoryMarkerRepository, audit *fakeAudit) *BulkOperator {
	logger := zerolog.Nop()
	return NewBulkOperator(store, markers, audit, nil, &logger)
}

func TestBulkPauseSkipsRunningTasks(t *testing.T) {
	running := activeTask(1, "+111")
	idle := activeTask(2, "+111")
	store := newFakeStore(running, idle)
	markers := repository.NewMemoryMarkerRepository()
	audit := &fakeAudit{}
	op := newTestBulk(store, markers, audit)

	ok, err := markers.TryAcquire(context.Background(), running.ID)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := op.Apply(context.Background(), BulkRequest{Action: models.BulkPause, AdminID: 42})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)
	assert.Equal(t, int64(1), res.Skipped)

	got, err := store.GetTask(context.Background(), idle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, got.Status)

	got, err = store.GetTask(context.Background(), running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)

	// Операция не должна оставлять своих маркеров.
	held, err := markers.Held(context.Background(), idle.ID)
	require.NoError(t, err)
	assert.False(t, held)

	require.Len(t, audit.actions, 1)
	assert.Equal(t, "bulk_pause", audit.actions[0].ActionType)
	assert.Equal(t, int64(42), audit.actions[0].AdminID)
}

func TestBulkResumeRecomputesOverdueSchedule(t *testing.T) {
	overdue := activeTask(3, "+111")
	overdue.Status = models.StatusPaused
	overdue.NextDue = time.Now().Add(-time.Hour)
	future := activeTask(4, "+111")
	future.Status = models.StatusPaused
	future.NextDue = time.Now().Add(time.Hour)
	store := newFakeStore(overdue, future)
	op := newTestBulk(store, repository.NewMemoryMarkerRepository(), &fakeAudit{})

	before := time.Now()
	res, err := op.Apply(context.Background(), BulkRequest{Action: models.BulkResume, AdminID: 42})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Affected)

	got, err := store.GetTask(context.Background(), overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
	// Просроченный график пересчитывается от текущего момента, без навёрстывания.
	assert.False(t, got.NextDue.Before(before))

	got, err = store.GetTask(context.Background(), future.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Equal(t, future.NextDue, got.NextDue)
}

func TestBulkRestartOnlyTouchesFailed(t *testing.T) {
	failed := activeTask(5, "+111")
	failed.Status = models.StatusFailed
	failed.NextDue = time.Now().Add(-time.Minute)
	active := activeTask(6, "+111")
	store := newFakeStore(failed, active)
	op := newTestBulk(store, repository.NewMemoryMarkerRepository(), &fakeAudit{})

	res, err := op.Apply(context.Background(), BulkRequest{Action: models.BulkRestart, AdminID: 42})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)

	got, err := store.GetTask(context.Background(), failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestBulkDeleteOnlyCompleted(t *testing.T) {
	completed := activeTask(7, "+111")
	completed.Status = models.StatusCompleted
	active := activeTask(8, "+111")
	store := newFakeStore(completed, active)
	op := newTestBulk(store, repository.NewMemoryMarkerRepository(), &fakeAudit{})

	res, err := op.Apply(context.Background(), BulkRequest{Action: models.BulkDelete, AdminID: 42})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)

	got, err := store.GetTask(context.Background(), completed.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.GetTask(context.Background(), active.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestBulkPauseIgnoresTaskCompletedMidOperation(t *testing.T) {
	task := activeTask(11, "+111")
	store := newFakeStore(task)
	// Запуск успевает завершить задачу в окно между выборкой и захватом
	// маркера; перекрашивать терминальный статус нельзя.
	store.afterList = func() {
		store.mu.Lock()
		store.tasks[task.ID].Status = models.StatusCompleted
		store.mu.Unlock()
	}
	op := newTestBulk(store, repository.NewMemoryMarkerRepository(), &fakeAudit{})

	res, err := op.Apply(context.Background(), BulkRequest{Action: models.BulkPause, AdminID: 42})
	require.NoError(t, err)
	assert.Zero(t, res.Affected)

	got, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestBulkFilterByClient(t *testing.T) {
	mine := activeTask(9, "+111")
	mine.ClientID = "client-1"
	other := activeTask(10, "+222")
	other.ClientID = "client-2"
	store := newFakeStore(mine, other)
	op := newTestBulk(store, repository.NewMemoryMarkerRepository(), &fakeAudit{})

	res, err := op.Apply(context.Background(), BulkRequest{
		Action:  models.BulkPause,
		Filter:  models.TaskFilter{ClientID: "client-1"},
		AdminID: 42,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)

	got, err := store.GetTask(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestBulkUnknownActionRejected(t *testing.T) {
	op := newTestBulk(newFakeStore(), repository.NewMemoryMarkerRepository(), &fakeAudit{})
	_, err := op.Apply(context.Background(), BulkRequest{Action: "explode"})
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestBulkReportAggregates(t *testing.T) {
	store := newFakeStore()
	store.stats = &models.Stats{TotalTasks: 5, ActiveTasks: 3, TotalRuns: 120}
	op := newTestBulk(store, repository.NewMemoryMarkerRepository(), &fakeAudit{})

	stats, err := op.Report(context.Background(), models.TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalTasks)
	assert.Equal(t, int64(120), stats.TotalRuns)
}
