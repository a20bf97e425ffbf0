package repository

import (
	"context"
	"sync/atomic"
	"time"

	"forwarder/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverMarkerRepository uses the primary (redis) marker store until it
// errors, then falls back to the in-memory one and probes the primary
// again after a minute. Release always goes to both stores so a marker
// acquired before a failover cannot get stuck.
type FailoverMarkerRepository struct {
	primary  domain.MarkerRepository
	fallback domain.MarkerRepository
	logger   *zerolog.Logger
	isDown   atomic.Bool
	// lastCheck хранит unix-наносекунды: читается и пишется из
	// конкурентных dispatch-горутин и bulk-оператора.
	lastCheck atomic.Int64
}

func (r *FailoverMarkerRepository) markDown() {
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverMarkerRepository) recoveryDue() bool {
	return time.Since(time.Unix(0, r.lastCheck.Load())) > time.Minute
}

func NewFailoverMarkerRepository(primary, fallback domain.MarkerRepository, logger *zerolog.Logger) *FailoverMarkerRepository {
	return &FailoverMarkerRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverMarkerRepository) TryAcquire(ctx context.Context, taskID int64) (bool, error) {
	if !r.isDown.Load() {
		ok, err := r.primary.TryAcquire(ctx, taskID)
		if err == nil {
			return ok, nil
		}
		r.logger.Error().Err(err).Msg("Primary marker repository failed, falling back to memory")
		r.markDown()
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && r.recoveryDue() {
		ok, err := r.primary.TryAcquire(ctx, taskID)
		if err == nil {
			r.isDown.Store(false)
			return ok, nil
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.TryAcquire(ctx, taskID)
}

func (r *FailoverMarkerRepository) Release(ctx context.Context, taskID int64) error {
	var primaryErr error
	if !r.isDown.Load() {
		primaryErr = r.primary.Release(ctx, taskID)
		if primaryErr != nil {
			r.logger.Error().Err(primaryErr).Msg("Primary marker repository failed, falling back to memory")
			r.markDown()
		}
	}

	return r.fallback.Release(ctx, taskID)
}

func (r *FailoverMarkerRepository) Held(ctx context.Context, taskID int64) (bool, error) {
	if !r.isDown.Load() {
		held, err := r.primary.Held(ctx, taskID)
		if err == nil {
			if held {
				return true, nil
			}
			return r.fallback.Held(ctx, taskID)
		}
		r.logger.Error().Err(err).Msg("Primary marker repository failed, falling back to memory")
		r.markDown()
	}

	return r.fallback.Held(ctx, taskID)
}

func (r *FailoverMarkerRepository) Clear(ctx context.Context) error {
	if !r.isDown.Load() {
		if err := r.primary.Clear(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Primary marker repository failed, falling back to memory")
			r.markDown()
		}
	}

	return r.fallback.Clear(ctx)
}
