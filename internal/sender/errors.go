package sender

import (
	"errors"
	"fmt"
)

// Reason classifies a failed forward attempt. The executor uses it to
// decide between retrying, failing the run immediately, or treating the
// failure as a configuration problem.
type Reason string

const (
	// ReasonUnauthorized — юзербот не авторизован, повторы бессмысленны
	ReasonUnauthorized Reason = "unauthorized"
	// ReasonForbidden — нет доступа к целевой группе
	ReasonForbidden Reason = "forbidden"
	ReasonRateLimited Reason = "rate_limited"
	ReasonNetwork     Reason = "network"
	// ReasonBadTarget — неразрешимая ссылка или пустой список групп
	ReasonBadTarget Reason = "bad_target"
	ReasonUnknown   Reason = "unknown"
)

// SendError wraps a forward failure with its classification.
type SendError struct {
	Reason Reason
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed (%s): %v", e.Reason, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func NewSendError(reason Reason, err error) *SendError {
	return &SendError{Reason: reason, Err: err}
}

// ReasonOf extracts the classification; unclassified errors map to unknown.
func ReasonOf(err error) Reason {
	var se *SendError
	if errors.As(err, &se) {
		return se.Reason
	}
	return ReasonUnknown
}

// IsRetryable reports whether the failure is worth another attempt within
// the same run.
func IsRetryable(err error) bool {
	switch ReasonOf(err) {
	case ReasonRateLimited, ReasonNetwork, ReasonUnknown:
		return true
	default:
		return false
	}
}

// IsFatal reports a failure that should short-circuit remaining retries
// and mark the task failed (auth/permission problems).
func IsFatal(err error) bool {
	switch ReasonOf(err) {
	case ReasonUnauthorized, ReasonForbidden:
		return true
	default:
		return false
	}
}

// IsConfig reports a content/targeting problem that retrying cannot help.
func IsConfig(err error) bool {
	return ReasonOf(err) == ReasonBadTarget
}
