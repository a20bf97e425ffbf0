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

func newTestClock(store *fakeStore, snd *fakeSender, markers *repository.MemoryMarkerRepository) *Clock {
	logger := zerolog.Nop()
	exec := NewExecutor(store, snd, nil, nil, Options{SendTimeout: time.Second}, &logger)
	exec.pause = func(ctx context.Context, d time.Duration) error { return nil }
	return NewClock(store, markers, NewIdentityGate(), exec, time.Minute, &logger)
}

func TestTickRunsDueTasksAndReleasesMarkers(t *testing.T) {
	task := activeTask(1, "+111")
	store := newFakeStore(task)
	snd := &fakeSender{}
	markers := repository.NewMemoryMarkerRepository()
	clock := newTestClock(store, snd, markers)

	clock.tick(context.Background())
	clock.Wait()

	require.Len(t, snd.callLinks(), 1)
	held, err := markers.Held(context.Background(), task.ID)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestTickSkipsTasksWithHeldMarker(t *testing.T) {
	task := activeTask(2, "+111")
	store := newFakeStore(task)
	snd := &fakeSender{}
	markers := repository.NewMemoryMarkerRepository()
	clock := newTestClock(store, snd, markers)

	ok, err := markers.TryAcquire(context.Background(), task.ID)
	require.NoError(t, err)
	require.True(t, ok)

	clock.tick(context.Background())
	clock.Wait()

	// Маркер держит предыдущий запуск, задача не подхватывается повторно.
	assert.Empty(t, snd.callLinks())
}

func TestTickSkipsTasksNotYetDue(t *testing.T) {
	task := activeTask(3, "+111")
	task.NextDue = time.Now().Add(time.Hour)
	store := newFakeStore(task)
	snd := &fakeSender{}
	clock := newTestClock(store, snd, repository.NewMemoryMarkerRepository())

	clock.tick(context.Background())
	clock.Wait()

	assert.Empty(t, snd.callLinks())
}

func TestDispatchSerializesSameIdentity(t *testing.T) {
	first := activeTask(4, "+111")
	second := activeTask(5, "+111")
	store := newFakeStore(first, second)

	started := make(chan string, 2)
	unblock := make(chan struct{})
	snd := &fakeSender{}
	snd.fn = func(phone, link string) error {
		started <- link
		<-unblock
		return nil
	}
	clock := newTestClock(store, snd, repository.NewMemoryMarkerRepository())

	clock.tick(context.Background())

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("no run started")
	}
	select {
	case <-started:
		t.Fatal("second run for the same userbot started while the first was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("second run never started after the first finished")
	}
	clock.Wait()
}

func TestDispatchParallelAcrossIdentities(t *testing.T) {
	first := activeTask(6, "+111")
	second := activeTask(7, "+222")
	store := newFakeStore(first, second)

	started := make(chan string, 2)
	unblock := make(chan struct{})
	snd := &fakeSender{}
	snd.fn = func(phone, link string) error {
		started <- phone
		<-unblock
		return nil
	}
	clock := newTestClock(store, snd, repository.NewMemoryMarkerRepository())

	clock.tick(context.Background())

	// Оба юзербота должны стартовать одновременно.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("runs for distinct userbots did not start in parallel")
		}
	}
	close(unblock)
	clock.Wait()
}

func TestDispatchReleasesEverythingOnPanic(t *testing.T) {
	task := activeTask(8, "+111")
	store := newFakeStore(task)
	snd := &fakeSender{}
	snd.fn = func(phone, link string) error {
		panic("boom")
	}
	markers := repository.NewMemoryMarkerRepository()
	clock := newTestClock(store, snd, markers)

	clock.tick(context.Background())
	clock.Wait()

	held, err := markers.Held(context.Background(), task.ID)
	require.NoError(t, err)
	assert.False(t, held)
	assert.False(t, clock.gate.Busy(task.UserbotPhone))

	got, err := store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	store := newFakeStore()
	clock := newTestClock(store, &fakeSender{}, repository.NewMemoryMarkerRepository())

	ctx, cancel := context.WithCancel(context.Background())
	clock.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		clock.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
