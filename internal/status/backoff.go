package status

import (
	"time"

	"github.com/five82/pairsync/internal/backend"
)

const (
	// DefaultPollInterval is the baseline delay between status fetches.
	DefaultPollInterval = 30 * time.Second
	// DefaultMaxRetries is how many consecutive failures pause polling.
	DefaultMaxRetries = 5

	maxErrorBackoff     = 32 * time.Second
	rateLimitStep       = 120 * time.Second
	maxRateLimitBackoff = 300 * time.Second
)

// nextDelay returns the delay after a failure. Generic errors double the
// current delay up to 32s. Rate limiting grows linearly with the attempt
// number (the retry count including this failure) up to five minutes.
func nextDelay(class backend.Class, current time.Duration, attempt int) time.Duration {
	if class == backend.RateLimited {
		if attempt < 1 {
			attempt = 1
		}
		return min(rateLimitStep*time.Duration(attempt), maxRateLimitBackoff)
	}
	if current <= 0 {
		current = time.Second
	}
	return min(current*2, maxErrorBackoff)
}
