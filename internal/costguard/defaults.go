package costguard

import "time"

// DefaultAlertThreshold is the fraction of a ceiling at which warnings are
// surfaced without blocking.
const DefaultAlertThreshold = 0.8

// DefaultGracePeriodSeconds is the length of a violation window.
const DefaultGracePeriodSeconds = 300

// sessionTTL is how long an idle session account is retained.
const sessionTTL = 24 * time.Hour

// dayRetention is how long day accounts are retained.
const dayRetention = 90 * 24 * time.Hour

// sweepInterval is the minimum spacing between eviction sweeps.
// The sweep is triggered from RecordUsage, not a background goroutine,
// so an idle instance does no work.
const sweepInterval = time.Hour
