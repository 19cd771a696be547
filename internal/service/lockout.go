package service

import (
	"time"

	"gate-service/internal/models"
)

// MinAttemptInterval is the pacing floor between unlock attempts from one
// client, enforced even for clients that have never been blocked.
const MinAttemptInterval = 2 * time.Second

// failBlocks is the escalation ladder: at or above each failure threshold,
// the matching block duration applies. A fixed table instead of a backoff
// formula keeps block durations predictable and auditable for operators.
// Ordered highest threshold first; evaluation must keep that order so a
// client with 20 failures gets the one-day block, not the one-minute one.
var failBlocks = []struct {
	threshold int64
	block     time.Duration
}{
	{20, 24 * time.Hour},
	{15, time.Hour},
	{10, 10 * time.Minute},
	{5, time.Minute},
}

// blockFor picks the block duration for a failure count, highest satisfied
// threshold first. Below the lowest threshold no block applies.
func blockFor(failCount int64) (time.Duration, bool) {
	for _, fb := range failBlocks {
		if failCount >= fb.threshold {
			return fb.block, true
		}
	}
	return 0, false
}

// checkBucket gates an attempt against the client's lockout state: an active
// block wins over the pacing floor, and both report the remaining wait.
func checkBucket(bucket *models.LockoutBucket, now time.Time) error {
	nowUnix := now.Unix()

	if bucket.BlockedUntil > nowUnix {
		return waitError(ErrLocked, time.Duration(bucket.BlockedUntil-nowUnix)*time.Second)
	}

	if bucket.LastAttemptAt > 0 {
		elapsed := nowUnix - bucket.LastAttemptAt
		if elapsed < int64(MinAttemptInterval/time.Second) {
			wait := int64(MinAttemptInterval/time.Second) - elapsed
			return waitError(ErrTooFast, time.Duration(wait)*time.Second)
		}
	}

	return nil
}
