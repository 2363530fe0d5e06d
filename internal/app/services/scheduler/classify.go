package scheduler

import "strings"

// ErrorClass is the scheduler's classification of a query runner failure,
// driving whether the query is retried, paused, or abandoned for the cycle.
type ErrorClass string

const (
	ErrorFatal     ErrorClass = "FATAL"
	ErrorRateLimit ErrorClass = "RATE_LIMIT"
	ErrorTransient ErrorClass = "TRANSIENT"
)

var fatalMarkers = []string{"authentication", "unauthorized", "missing credentials", "invalid config"}
var rateLimitMarkers = []string{"429", "rate limit", "rate-limit", "too many requests"}
var transientMarkers = []string{
	"timeout", "timed out", "network", "connection refused", "no such host", "name not found", "dns",
	"500", "502", "503", "504",
}

// Classify pattern-matches err's message (case-insensitive) against the
// known failure vocabularies. An unrecognized message defaults to
// TRANSIENT — safer to retry than to give up on a query permanently.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	msg := strings.ToLower(err.Error())

	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return ErrorFatal
		}
	}
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return ErrorRateLimit
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return ErrorTransient
		}
	}
	return ErrorTransient
}

// truncateErrorMessage caps a persisted error message at 500 characters.
func truncateErrorMessage(msg string) string {
	const max = 500
	if len(msg) <= max {
		return msg
	}
	return msg[:max]
}
