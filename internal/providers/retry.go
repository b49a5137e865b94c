package providers

import "strings"

// transientMarkers are substrings of provider error messages that indicate a
// failure worth retrying: rate limits, 5xx responses, timeouts, and flaky
// connections. Both SDKs surface these as opaque error strings.
var transientMarkers = []string{
	"rate limit", "rate_limit", "429", "too many requests",
	"500", "502", "503", "504",
	"internal server error", "bad gateway", "service unavailable", "gateway timeout",
	"timeout", "deadline exceeded",
	"connection reset", "connection refused", "no such host",
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
