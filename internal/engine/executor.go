package engine

import (
	"context"
	"errors"
	"time"

	"forwarder/internal/domain"
	"forwarder/internal/events"
	"forwarder/internal/metrics"
	"forwarder/internal/models"
	"forwarder/internal/sender"

	"github.com/rs/zerolog"
)

// Executor performs one full run of a task: status re-check, delivery
// with retries and fallback, counter and schedule update.
type Executor struct {
	store    domain.TaskStore
	snd      domain.Sender
	userbots domain.UserbotRegistry
	bus      *events.EventBus
	logger   *zerolog.Logger

	sendTimeout time.Duration
	maxDelay    time.Duration

	// Резолв настроек запуска: config_json задачи, затем значения из
	// конфига движка, затем значения по умолчанию.
	maxRetries       int
	retryDelay       time.Duration
	failureThreshold int64

	now   func() time.Time
	pause func(ctx context.Context, d time.Duration) error
}

func NewExecutor(store domain.TaskStore, snd domain.Sender, userbots domain.UserbotRegistry, bus *events.EventBus, opts Options, logger *zerolog.Logger) *Executor {
	sendTimeout := opts.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = time.Duration(models.DefaultSendTimeoutSeconds) * time.Second
	}
	return &Executor{
		store:            store,
		snd:              snd,
		userbots:         userbots,
		bus:              bus,
		logger:           logger,
		sendTimeout:      sendTimeout,
		maxDelay:         5 * time.Minute,
		maxRetries:       opts.MaxRetries,
		retryDelay:       opts.RetryDelay,
		failureThreshold: opts.FailureThreshold,
		now:              time.Now,
		pause:            sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the task once. The caller owns the running marker and the
// identity gate slot; Run itself never touches them.
func (e *Executor) Run(ctx context.Context, taskID int64) {
	metrics.RunStarted()
	defer metrics.RunFinished()
	started := e.now()

	// Перечитываем задачу: между выборкой и запуском её могли поставить
	// на паузу или удалить.
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		e.logger.Error().Err(err).Int64("task_id", taskID).Msg("re-fetch before run failed")
		return
	}
	if task == nil {
		e.logger.Debug().Int64("task_id", taskID).Msg("task vanished before run")
		return
	}
	if task.Status != models.StatusActive {
		e.logger.Debug().Int64("task_id", taskID).Str("status", task.Status).Msg("run aborted, task no longer active")
		return
	}

	latency, attempts, sendErr := e.deliver(ctx, task)

	now := e.now()
	if sendErr == nil {
		e.finishSuccess(ctx, task, now, attempts, latency, started)
		return
	}

	var se *sender.SendError
	if !errors.As(sendErr, &se) {
		// Infrastructure failure: the run did not happen as far as the
		// task is concerned. No counters, no reschedule, stays active.
		e.logger.Error().Err(sendErr).Int64("task_id", task.ID).Msg("run aborted on infrastructure error")
		metrics.ObserveRun("aborted", e.now().Sub(started))
		return
	}

	e.finishFailure(ctx, task, now, attempts, sendErr, started)
}

// deliver makes the primary attempt plus retries, then at most one
// fallback attempt. Returns the last error if nothing got through.
func (e *Executor) deliver(ctx context.Context, task *models.Task) (time.Duration, int, error) {
	policy := RetryPolicy{
		InitialDelay:  task.Config.EffectiveRetryDelay(e.retryDelay),
		MaxDelay:      e.maxDelay,
		BackoffFactor: 2,
	}
	budget := task.Config.EffectiveMaxRetries(e.maxRetries)
	target := task.Target()

	attempts := 0
	var lastErr error

	for attempt := 0; attempt <= budget; attempt++ {
		if attempt > 0 {
			if err := e.pause(ctx, policy.NextDelay(attempt)); err != nil {
				return 0, attempts, sender.NewSendError(sender.ReasonNetwork, err)
			}
		}

		latency, err := e.forward(ctx, task.UserbotPhone, task.MessageLink, target)
		attempts++
		metrics.IncSendAttempt(attemptLabel(err))
		if err == nil {
			return latency, attempts, nil
		}
		lastErr = err

		var se *sender.SendError
		if !errors.As(err, &se) {
			return 0, attempts, err
		}
		if !sender.IsRetryable(err) {
			break
		}
	}

	if task.FallbackMessageLink != "" && task.Config.FallbackAllowed() && !sender.IsFatal(lastErr) {
		latency, err := e.forward(ctx, task.UserbotPhone, task.FallbackMessageLink, target)
		attempts++
		metrics.IncSendAttempt(attemptLabel(err))
		if err == nil {
			return latency, attempts, nil
		}
		var se *sender.SendError
		if !errors.As(err, &se) {
			return 0, attempts, err
		}
		lastErr = err
	}

	return 0, attempts, lastErr
}

func (e *Executor) forward(ctx context.Context, phone, link string, target models.Target) (time.Duration, error) {
	cctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	return e.snd.Forward(cctx, phone, link, target)
}

func (e *Executor) finishSuccess(ctx context.Context, task *models.Task, now time.Time, attempts int, latency time.Duration, started time.Time) {
	result := models.RunResult{
		TaskID:              task.ID,
		Status:              models.StatusActive,
		NextDue:             now.Add(task.Interval),
		LastRun:             now,
		Succeeded:           true,
		ConsecutiveFailures: 0,
	}
	if task.EndTime != nil && result.NextDue.After(*task.EndTime) {
		result.Status = models.StatusCompleted
	}

	if err := e.store.UpdateAfterRun(ctx, result); err != nil {
		e.logger.Error().Err(err).Int64("task_id", task.ID).Msg("persist run result failed")
		return
	}

	e.logger.Info().
		Int64("task_id", task.ID).
		Str("userbot", task.UserbotPhone).
		Int("attempts", attempts).
		Dur("latency", latency).
		Time("next_due", result.NextDue).
		Msg("task run succeeded")

	if e.userbots != nil {
		if err := e.userbots.ResetUserbotFailures(ctx, task.UserbotPhone); err != nil {
			e.logger.Warn().Err(err).Str("userbot", task.UserbotPhone).Msg("reset userbot failures failed")
		}
	}

	e.publishTaskEvent(events.EventRunSucceeded, task, result.Status, attempts, latency, "")
	if result.Status == models.StatusCompleted {
		e.publishTaskEvent(events.EventTaskCompleted, task, result.Status, attempts, latency, "")
	}
	metrics.ObserveRun("success", e.now().Sub(started))
}

func (e *Executor) finishFailure(ctx context.Context, task *models.Task, now time.Time, attempts int, sendErr error, started time.Time) {
	reason := string(sender.ReasonOf(sendErr))
	consecutive := task.ConsecutiveFailures + 1

	status := models.StatusActive
	switch {
	case sender.IsFatal(sendErr), sender.IsConfig(sendErr):
		status = models.StatusFailed
	case consecutive >= task.Config.EffectiveFailureThreshold(e.failureThreshold):
		status = models.StatusFailed
	}

	result := models.RunResult{
		TaskID:              task.ID,
		Status:              status,
		NextDue:             now.Add(task.Interval),
		LastRun:             now,
		Succeeded:           false,
		ConsecutiveFailures: consecutive,
		LastError:           sendErr.Error(),
	}
	if status == models.StatusActive && task.EndTime != nil && result.NextDue.After(*task.EndTime) {
		result.Status = models.StatusCompleted
	}

	if err := e.store.UpdateAfterRun(ctx, result); err != nil {
		e.logger.Error().Err(err).Int64("task_id", task.ID).Msg("persist run result failed")
		return
	}

	e.logger.Warn().
		Int64("task_id", task.ID).
		Str("userbot", task.UserbotPhone).
		Int("attempts", attempts).
		Str("reason", reason).
		Int64("consecutive_failures", consecutive).
		Str("status", result.Status).
		Err(sendErr).
		Msg("task run failed")

	if e.userbots != nil {
		if err := e.userbots.RecordUserbotFailure(ctx, task.UserbotPhone); err != nil {
			e.logger.Warn().Err(err).Str("userbot", task.UserbotPhone).Msg("record userbot failure failed")
		}
	}

	e.publishTaskEvent(events.EventRunFailed, task, result.Status, attempts, 0, reason)
	if result.Status == models.StatusFailed {
		e.publishTaskEvent(events.EventTaskFailed, task, result.Status, attempts, 0, reason)
	}
	metrics.ObserveRun("failure", e.now().Sub(started))
}

func (e *Executor) publishTaskEvent(eventType string, task *models.Task, status string, attempts int, latency time.Duration, reason string) {
	if e.bus == nil {
		return
	}
	payload := events.TaskEventPayload{
		TaskID:       task.ID,
		TaskName:     task.Name,
		ClientID:     task.ClientID,
		UserbotPhone: task.UserbotPhone,
		Status:       status,
		Attempts:     attempts,
		Latency:      latency,
		Reason:       reason,
		Notify:       task.Config.NotifyAllowed(),
	}
	if err := e.bus.PublishJSON(eventType, payload); err != nil {
		e.logger.Warn().Err(err).Str("event", eventType).Msg("publish event failed")
	}
}

func attemptLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(sender.ReasonOf(err))
}
