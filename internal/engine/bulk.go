package engine

import (
	"context"
	"fmt"
	"time"

	"forwarder/internal/domain"
	"forwarder/internal/events"
	"forwarder/internal/metrics"
	"forwarder/internal/models"

	"github.com/rs/zerolog"
)

// BulkRequest describes one administrative bulk operation.
type BulkRequest struct {
	Action  string            `json:"action"`
	Filter  models.TaskFilter `json:"filter"`
	AdminID int64             `json:"admin_id"`
}

// BulkResult reports how the operation went. Skipped counts tasks that
// were eligible but had a run in flight at the moment of the operation.
type BulkResult struct {
	Affected int64 `json:"affected"`
	Skipped  int64 `json:"skipped"`
}

// BulkOperator applies a status transition to every matching task while
// respecting in-flight runs. Each mutation is written through to the
// audit trail.
type BulkOperator struct {
	store   domain.TaskStore
	markers domain.MarkerRepository
	audit   domain.AuditLog
	bus     *events.EventBus
	logger  *zerolog.Logger
	now     func() time.Time
}

func NewBulkOperator(store domain.TaskStore, markers domain.MarkerRepository, audit domain.AuditLog, bus *events.EventBus, logger *zerolog.Logger) *BulkOperator {
	return &BulkOperator{
		store:   store,
		markers: markers,
		audit:   audit,
		bus:     bus,
		logger:  logger,
		now:     time.Now,
	}
}

// eligibleFrom maps a bulk action to the only status it may transition from.
func eligibleFrom(action string) (string, error) {
	switch action {
	case models.BulkPause:
		return models.StatusActive, nil
	case models.BulkResume:
		return models.StatusPaused, nil
	case models.BulkRestart:
		return models.StatusFailed, nil
	case models.BulkDelete:
		return models.StatusCompleted, nil
	default:
		return "", fmt.Errorf("unknown bulk action: %q", action)
	}
}

// Apply performs a mutating bulk action. Report has its own method since
// it mutates nothing.
func (o *BulkOperator) Apply(ctx context.Context, req BulkRequest) (BulkResult, error) {
	from, err := eligibleFrom(req.Action)
	if err != nil {
		return BulkResult{}, err
	}

	filter := req.Filter
	filter.Status = from
	tasks, err := o.store.ListTasks(ctx, filter)
	if err != nil {
		return BulkResult{}, fmt.Errorf("list tasks for bulk %s: %w", req.Action, err)
	}

	var result BulkResult
	var acquired []int64
	defer func() {
		for _, id := range acquired {
			if err := o.markers.Release(context.Background(), id); err != nil {
				o.logger.Error().Err(err).Int64("task_id", id).Msg("marker release failed after bulk op")
			}
		}
	}()

	// Держим маркер каждой затронутой задачи на время правки, чтобы
	// планировщик не подхватил её посреди операции.
	for _, task := range tasks {
		ok, err := o.markers.TryAcquire(ctx, task.ID)
		if err != nil {
			return result, fmt.Errorf("acquire marker for task %d: %w", task.ID, err)
		}
		if !ok {
			result.Skipped++
			continue
		}
		acquired = append(acquired, task.ID)
	}
	metrics.AddBulkSkipped(req.Action, result.Skipped)

	if len(acquired) == 0 {
		o.finish(ctx, req, result)
		return result, nil
	}

	now := o.now()
	switch req.Action {
	case models.BulkPause:
		result.Affected, err = o.store.BulkUpdateStatus(ctx, acquired, from, models.StatusPaused, nil)
	case models.BulkResume, models.BulkRestart:
		result.Affected, err = o.reactivate(ctx, tasks, acquired, from, now)
	case models.BulkDelete:
		result.Affected, err = o.store.DeleteTasks(ctx, acquired)
	}
	if err != nil {
		return result, fmt.Errorf("apply bulk %s: %w", req.Action, err)
	}

	o.finish(ctx, req, result)
	return result, nil
}

// reactivate moves tasks back to active. Tasks whose stored next_due is
// already in the past restart from now; the rest keep their schedule.
func (o *BulkOperator) reactivate(ctx context.Context, tasks []*models.Task, acquired []int64, from string, now time.Time) (int64, error) {
	held := make(map[int64]bool, len(acquired))
	for _, id := range acquired {
		held[id] = true
	}

	var overdue, onSchedule []int64
	for _, task := range tasks {
		if !held[task.ID] {
			continue
		}
		if task.NextDue.Before(now) {
			overdue = append(overdue, task.ID)
		} else {
			onSchedule = append(onSchedule, task.ID)
		}
	}

	var affected int64
	if len(overdue) > 0 {
		n, err := o.store.BulkUpdateStatus(ctx, overdue, from, models.StatusActive, &now)
		if err != nil {
			return affected, err
		}
		affected += n
	}
	if len(onSchedule) > 0 {
		n, err := o.store.BulkUpdateStatus(ctx, onSchedule, from, models.StatusActive, nil)
		if err != nil {
			return affected, err
		}
		affected += n
	}
	return affected, nil
}

// Report aggregates counters over the filtered tasks without mutating
// anything.
func (o *BulkOperator) Report(ctx context.Context, filter models.TaskFilter) (*models.Stats, error) {
	stats, err := o.store.TaskStats(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("aggregate task stats: %w", err)
	}
	return stats, nil
}

func (o *BulkOperator) finish(ctx context.Context, req BulkRequest, result BulkResult) {
	o.logger.Info().
		Str("action", req.Action).
		Int64("admin_id", req.AdminID).
		Int64("affected", result.Affected).
		Int64("skipped", result.Skipped).
		Msg("bulk operation applied")

	if o.audit != nil {
		details := fmt.Sprintf("affected=%d skipped=%d status=%q client=%q", result.Affected, result.Skipped, req.Filter.Status, req.Filter.ClientID)
		action := &models.AdminAction{
			AdminID:    req.AdminID,
			ActionType: "bulk_" + req.Action,
			TargetID:   "tasks",
			Details:    details,
			Timestamp:  o.now(),
		}
		if err := o.audit.LogAdminAction(ctx, action); err != nil {
			o.logger.Error().Err(err).Str("action", req.Action).Msg("audit write failed")
		}
	}

	if o.bus != nil {
		payload := events.BulkEventPayload{
			Action:   req.Action,
			AdminID:  req.AdminID,
			Affected: result.Affected,
			Skipped:  result.Skipped,
		}
		if err := o.bus.PublishJSON(events.EventBulkApplied, payload); err != nil {
			o.logger.Warn().Err(err).Msg("publish bulk event failed")
		}
	}
}
