// Package costguard implements spend accounting and budget enforcement for
// paid model invocations.
//
// DESIGN: Spend is tracked in three independent scopes: a single session, a
// calendar day (UTC), and a calendar month (UTC). Each scope can carry a USD
// ceiling. CheckAllowance is the pre-flight gate: it projects each scope's
// total forward by the estimated cost of the prospective call and returns a
// Decision. RecordUsage is the post-flight writer: it commits the measured
// cost into all three scopes. Accounting is always active; Enabled controls
// whether ceilings are enforced.
package costguard

import (
	"fmt"
	"time"
)

// Scope identifies one of the three accounting buckets.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeDaily   Scope = "daily"
	ScopeMonthly Scope = "monthly"
)

// Title returns the scope name capitalized for user-facing messages.
func (s Scope) Title() string {
	switch s {
	case ScopeSession:
		return "Session"
	case ScopeDaily:
		return "Daily"
	case ScopeMonthly:
		return "Monthly"
	}
	return string(s)
}

// Limits holds per-scope USD ceilings. 0 = unlimited for that scope.
type Limits struct {
	SessionUSD float64 `yaml:"session" json:"session"`
	DailyUSD   float64 `yaml:"daily" json:"daily"`
	MonthlyUSD float64 `yaml:"monthly" json:"monthly"`
}

// ForScope returns the ceiling for a scope.
func (l Limits) ForScope(s Scope) float64 {
	switch s {
	case ScopeSession:
		return l.SessionUSD
	case ScopeDaily:
		return l.DailyUSD
	case ScopeMonthly:
		return l.MonthlyUSD
	}
	return 0
}

func (l *Limits) setScope(s Scope, v float64) {
	switch s {
	case ScopeSession:
		l.SessionUSD = v
	case ScopeDaily:
		l.DailyUSD = v
	case ScopeMonthly:
		l.MonthlyUSD = v
	}
}

// Thresholds holds per-scope alert thresholds as fractions of the ceiling.
type Thresholds struct {
	Session float64 `yaml:"session" json:"session"`
	Daily   float64 `yaml:"daily" json:"daily"`
	Monthly float64 `yaml:"monthly" json:"monthly"`
}

// ForScope returns the alert threshold for a scope.
func (t Thresholds) ForScope(s Scope) float64 {
	switch s {
	case ScopeSession:
		return t.Session
	case ScopeDaily:
		return t.Daily
	case ScopeMonthly:
		return t.Monthly
	}
	return 0
}

// Config holds cost guard settings.
type Config struct {
	Enabled            bool       `yaml:"enabled"`              // Whether ceiling enforcement is active
	Limits             Limits     `yaml:"limits"`               // USD per scope. 0 = unlimited.
	AlertThresholds    Thresholds `yaml:"alert_thresholds"`     // Fraction of ceiling (0-1). 0 = use default.
	GracePeriodSeconds int        `yaml:"grace_period_seconds"` // Violation window length. 0 = use default.
	BlockOnExceed      bool       `yaml:"block_on_exceed"`      // Block requests when a ceiling is exceeded
	PersistPath        string     `yaml:"persist_path"`         // Snapshot file. Empty = in-memory only.
}

// gracePeriod returns the violation window length as a duration.
func (c Config) gracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// Validate checks cost guard configuration.
func (c *Config) Validate() error {
	if c.Limits.SessionUSD < 0 || c.Limits.DailyUSD < 0 || c.Limits.MonthlyUSD < 0 {
		return fmt.Errorf("cost_guard.limits must be >= 0")
	}
	for _, th := range []float64{c.AlertThresholds.Session, c.AlertThresholds.Daily, c.AlertThresholds.Monthly} {
		if th < 0 || th > 1 {
			return fmt.Errorf("cost_guard.alert_thresholds must be in [0, 1], got %f", th)
		}
	}
	if c.GracePeriodSeconds < 0 {
		return fmt.Errorf("cost_guard.grace_period_seconds must be >= 0, got %d", c.GracePeriodSeconds)
	}
	return nil
}

// withDefaults returns the config with zero-value fields filled in.
func (c Config) withDefaults() Config {
	if c.AlertThresholds.Session == 0 {
		c.AlertThresholds.Session = DefaultAlertThreshold
	}
	if c.AlertThresholds.Daily == 0 {
		c.AlertThresholds.Daily = DefaultAlertThreshold
	}
	if c.AlertThresholds.Monthly == 0 {
		c.AlertThresholds.Monthly = DefaultAlertThreshold
	}
	if c.GracePeriodSeconds == 0 {
		c.GracePeriodSeconds = DefaultGracePeriodSeconds
	}
	return c
}

// TokenUsage holds the measured token counts of a completed call.
// Missing counts are zero.
type TokenUsage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
}

// Total returns the sum of all token counts.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheWriteTokens
}

// ScopeTotals holds current accumulated USD per scope.
type ScopeTotals struct {
	Session float64 `json:"session"`
	Daily   float64 `json:"daily"`
	Monthly float64 `json:"monthly"`
}

// Decision is the result of a pre-flight allowance check.
type Decision struct {
	Allowed           bool              `json:"allowed"`
	Reason            string            `json:"reason,omitempty"` // "disabled" or "limit_exceeded"
	Scope             Scope             `json:"scope,omitempty"`  // blocking scope when Reason is "limit_exceeded"
	Current           ScopeTotals       `json:"current"`
	Limits            Limits            `json:"limits"`
	Percentages       map[Scope]float64 `json:"percentages,omitempty"` // projected/limit, limited scopes only
	InGracePeriod     bool              `json:"in_grace_period"`
	GracePeriodEndsAt time.Time         `json:"grace_period_ends_at,omitempty"`
	Warnings          []string          `json:"warnings,omitempty"`
}

// Decision reasons.
const (
	ReasonDisabled      = "disabled"
	ReasonLimitExceeded = "limit_exceeded"
)

// SessionStats is a read-only view of one session's accumulated spend.
type SessionStats struct {
	SessionID    string    `json:"session_id"`
	TotalCost    float64   `json:"total_cost"`
	TotalTokens  int       `json:"total_tokens"`
	RequestCount int       `json:"request_count"`
	StartedAt    time.Time `json:"started_at"`
	LastUpdate   time.Time `json:"last_update"`
}

// DailyStats is a read-only view of one calendar day's accumulated spend.
type DailyStats struct {
	Date         string  `json:"date"` // YYYY-MM-DD (UTC)
	TotalCost    float64 `json:"total_cost"`
	TotalTokens  int     `json:"total_tokens"`
	RequestCount int     `json:"request_count"`
	Sessions     int     `json:"sessions"` // distinct contributing sessions
}

// MonthlyStats is a read-only view of one calendar month's accumulated spend,
// including a per-day breakdown assembled from the day accounts still retained.
type MonthlyStats struct {
	Month          string       `json:"month"` // YYYY-MM (UTC)
	TotalCost      float64      `json:"total_cost"`
	TotalTokens    int          `json:"total_tokens"`
	RequestCount   int          `json:"request_count"`
	Sessions       int          `json:"sessions"`
	DailyBreakdown []DailyStats `json:"daily_breakdown"`
}

// Clock abstracts wall-clock time so day/month rollover is testable.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
