package engine

import (
	"context"
	"time"

	"forwarder/internal/domain"
	"forwarder/internal/events"

	"github.com/rs/zerolog"
)

// Options carries the engine tuning knobs resolved from config. The
// retry knobs act as the fallback tier below per-task config_json.
type Options struct {
	PollInterval     time.Duration
	SendTimeout      time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	FailureThreshold int64
}

// Engine bundles the scheduler clock, the identity gate, the executor and
// the bulk operator behind one lifecycle.
type Engine struct {
	clock *Clock
	gate  *IdentityGate
	exec  *Executor
	bulk  *BulkOperator

	markers domain.MarkerRepository
	logger  *zerolog.Logger
}

func New(opts Options, store domain.TaskStore, markers domain.MarkerRepository, snd domain.Sender, userbots domain.UserbotRegistry, audit domain.AuditLog, bus *events.EventBus, logger *zerolog.Logger) *Engine {
	gate := NewIdentityGate()
	exec := NewExecutor(store, snd, userbots, bus, opts, logger)
	clock := NewClock(store, markers, gate, exec, opts.PollInterval, logger)
	bulk := NewBulkOperator(store, markers, audit, bus, logger)

	return &Engine{
		clock:   clock,
		gate:    gate,
		exec:    exec,
		bulk:    bulk,
		markers: markers,
		logger:  logger,
	}
}

// Start clears stale running markers from a previous process and launches
// the scheduler loop.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.markers.Clear(ctx); err != nil {
		return err
	}
	e.clock.Start(ctx)
	return nil
}

// Wait blocks until the scheduler loop and all in-flight runs finish.
// Call after cancelling the context passed to Start.
func (e *Engine) Wait() {
	e.clock.Wait()
}

// Bulk exposes the bulk operator to the API layer.
func (e *Engine) Bulk() *BulkOperator {
	return e.bulk
}
