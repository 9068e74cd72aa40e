package agent

import (
	"context"
	"errors"
	"strings"
)

// isTransientError reports whether err is worth retrying against the agent
// provider: rate limits, 5xx, and network hiccups are transient;
// validation failures and other 4xx are not.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimited(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 500 || httpErr.StatusCode == 429 {
			return true
		}
		return false
	}
	low := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "timeout", "eof", "temporary failure"} {
		if strings.Contains(low, s) {
			return true
		}
	}
	return false
}

func isFatalError(err error) bool {
	if err == nil {
		return false
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429
	}
	return false
}
