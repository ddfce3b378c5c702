package notification

import "time"

// retryDelays is indexed by retry_count; counts past the end reuse the last delay.
var retryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	24 * time.Hour,
}

// Backoff returns how long to wait after the last attempt before resending a log retried retryCount times.
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(retryDelays) {
		return retryDelays[len(retryDelays)-1]
	}
	return retryDelays[retryCount]
}

// RetryDue reports whether a failed log may be resent at now.
func RetryDue(log Log, now time.Time) bool {
	if log.Status != StatusFailed || log.RetryCount >= maxRetries(log) {
		return false
	}
	last := log.UpdatedAt
	if last.IsZero() {
		last = log.CreatedAt
	}
	return !now.Before(last.Add(Backoff(log.RetryCount)))
}

func maxRetries(log Log) int {
	if log.MaxRetries > 0 {
		return log.MaxRetries
	}
	return MaxRetryAttempts
}
