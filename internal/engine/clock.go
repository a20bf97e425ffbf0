package engine

import (
	"context"
	"sync"
	"time"

	"forwarder/internal/domain"
	"forwarder/internal/metrics"
	"forwarder/internal/models"

	"github.com/rs/zerolog"
)

// Clock is the scheduler loop. Each tick it picks up due active tasks,
// stamps a running marker on each and hands them to goroutines that wait
// on the identity gate before executing. The tick itself never blocks on
// a run.
type Clock struct {
	store   domain.TaskStore
	markers domain.MarkerRepository
	gate    *IdentityGate
	exec    *Executor
	logger  *zerolog.Logger

	interval time.Duration
	now      func() time.Time
	wg       sync.WaitGroup
}

func NewClock(store domain.TaskStore, markers domain.MarkerRepository, gate *IdentityGate, exec *Executor, interval time.Duration, logger *zerolog.Logger) *Clock {
	if interval <= 0 {
		interval = time.Duration(models.DefaultPollIntervalSeconds) * time.Second
	}
	return &Clock{
		store:    store,
		markers:  markers,
		gate:     gate,
		exec:     exec,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Start runs the poll loop until ctx is cancelled.
func (c *Clock) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.logger.Info().Dur("interval", c.interval).Msg("scheduler started")

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		// Первый проход сразу, не ждём первого тика.
		c.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Msg("scheduler stopping")
				return
			case <-ticker.C:
				c.tick(ctx)
			}
		}
	}()
}

// Wait blocks until the loop and every dispatched run have finished.
func (c *Clock) Wait() {
	c.wg.Wait()
}

func (c *Clock) tick(ctx context.Context) {
	due, err := c.store.ListDueTasks(ctx, c.now())
	if err != nil {
		c.logger.Error().Err(err).Msg("due task scan failed")
		return
	}
	if len(due) == 0 {
		return
	}
	metrics.AddDueScanned(len(due))

	for _, task := range due {
		acquired, err := c.markers.TryAcquire(ctx, task.ID)
		if err != nil {
			c.logger.Error().Err(err).Int64("task_id", task.ID).Msg("marker acquire failed")
			continue
		}
		if !acquired {
			// Предыдущий запуск ещё не завершился, задача не готова.
			continue
		}

		c.wg.Add(1)
		go c.dispatch(ctx, task)
	}
}

// dispatch owns the marker from entry to exit. The marker stays held
// while the run waits on the identity gate, so later ticks skip the task
// instead of queueing it twice.
func (c *Clock) dispatch(ctx context.Context, task *models.Task) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Int64("task_id", task.ID).Msg("task run panicked")
		}
	}()
	defer func() {
		// Release must not depend on the run's context being alive.
		if err := c.markers.Release(context.Background(), task.ID); err != nil {
			c.logger.Error().Err(err).Int64("task_id", task.ID).Msg("marker release failed")
		}
	}()

	if err := c.gate.Acquire(ctx, task.UserbotPhone); err != nil {
		return
	}
	defer c.gate.Release(task.UserbotPhone)

	c.exec.Run(ctx, task.ID)
}
