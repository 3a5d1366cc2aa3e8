package unit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmdesk/costguard/internal/costguard"
)

// fakeClock makes day/month rollover and TTL eviction deterministic.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
func (c *fakeClock) Set(t time.Time)         { c.now = t }

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func midday(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestGuard_DisabledAlwaysAllows(t *testing.T) {
	guard := costguard.New(costguard.Config{
		Enabled: false,
		Limits:  costguard.Limits{SessionUSD: 0.0001},
	})

	decision := guard.CheckAllowance("session1", 10_000_000, "anthropic", "claude-opus-4-1")
	assert.True(t, decision.Allowed)
	assert.Equal(t, costguard.ReasonDisabled, decision.Reason)
	assert.Zero(t, decision.Current)

	// Recording while disabled must not create any account.
	guard.RecordUsage("session1", "anthropic", "claude-opus-4-1", costguard.TokenUsage{InputTokens: 1000, OutputTokens: 500})
	assert.Nil(t, guard.GetSessionStats("session1"))
	assert.Nil(t, guard.GetDailyStats(""))
	assert.Nil(t, guard.GetMonthlyStats(""))
}

func TestGuard_MonotonicAccumulation(t *testing.T) {
	guard := costguard.New(costguard.Config{Enabled: true})

	usage := costguard.TokenUsage{InputTokens: 1000, OutputTokens: 500}
	guard.RecordUsage("session1", "anthropic", "claude-sonnet-4-5", usage)
	stats1 := guard.GetSessionStats("session1")
	require.NotNil(t, stats1)
	assert.Greater(t, stats1.TotalCost, 0.0)
	assert.Equal(t, 1500, stats1.TotalTokens)
	assert.Equal(t, 1, stats1.RequestCount)

	guard.RecordUsage("session1", "anthropic", "claude-sonnet-4-5", usage)
	stats2 := guard.GetSessionStats("session1")
	require.NotNil(t, stats2)
	assert.InDelta(t, stats1.TotalCost*2, stats2.TotalCost, 1e-9)
	assert.Equal(t, 3000, stats2.TotalTokens)
	assert.Equal(t, 2, stats2.RequestCount)
}

func TestGuard_ScopeIndependence(t *testing.T) {
	guard := costguard.New(costguard.Config{Enabled: true})

	guard.RecordUsageWithCost("alpha", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 100}, 0.10)
	guard.RecordUsageWithCost("beta", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 200}, 0.30)
	guard.RecordUsageWithCost("alpha", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 100}, 0.05)

	daily := guard.GetDailyStats("")
	require.NotNil(t, daily)
	assert.Equal(t, 2, daily.Sessions, "distinct contributing sessions")
	assert.InDelta(t, 0.45, daily.TotalCost, 1e-9)
	assert.Equal(t, 3, daily.RequestCount)

	monthly := guard.GetMonthlyStats("")
	require.NotNil(t, monthly)
	assert.Equal(t, 2, monthly.Sessions)
	assert.InDelta(t, 0.45, monthly.TotalCost, 1e-9)
}

func TestGuard_ThresholdBoundary(t *testing.T) {
	newGuard := func() *costguard.Guard {
		return costguard.New(costguard.Config{
			Enabled:       true,
			BlockOnExceed: true,
			Limits:        costguard.Limits{SessionUSD: 1.00},
		})
	}

	// Projected exactly at 80% of the ceiling: warns.
	guard := newGuard()
	guard.RecordUsageWithCost("s1", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 0.80)
	decision := guard.CheckAllowance("s1", 0, "anthropic", "claude-sonnet-4-5")
	assert.True(t, decision.Allowed)
	require.Len(t, decision.Warnings, 1)
	assert.Contains(t, decision.Warnings[0], "Session cost at 80.0% of limit")

	// Just under the threshold: silent.
	guard = newGuard()
	guard.RecordUsageWithCost("s1", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 0.79999)
	decision = guard.CheckAllowance("s1", 0, "anthropic", "claude-sonnet-4-5")
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Warnings)
}

func TestGuard_ExceedBoundary(t *testing.T) {
	guard := costguard.New(costguard.Config{
		Enabled:       true,
		BlockOnExceed: true,
		Limits:        costguard.Limits{SessionUSD: 1.00},
	})

	// Projected spend equal to the ceiling does not block (strict >).
	guard.RecordUsageWithCost("s1", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 1.00)
	decision := guard.CheckAllowance("s1", 0, "anthropic", "claude-sonnet-4-5")
	assert.True(t, decision.Allowed)

	// Any amount over it does.
	guard.RecordUsageWithCost("s1", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 0.000001)
	decision = guard.CheckAllowance("s1", 0, "anthropic", "claude-sonnet-4-5")
	assert.False(t, decision.Allowed)
	assert.Equal(t, costguard.ReasonLimitExceeded, decision.Reason)
	assert.Equal(t, costguard.ScopeSession, decision.Scope)
}

func TestGuard_SessionLimitBlocksAfterOverspend(t *testing.T) {
	guard := costguard.New(costguard.Config{
		Enabled:       true,
		BlockOnExceed: true,
		Limits:        costguard.Limits{SessionUSD: 1.00},
	})

	for i := 0; i < 6; i++ {
		guard.RecordUsageWithCost("s1", "anthropic", "claude-sonnet-4-5",
			costguard.TokenUsage{InputTokens: 1000, OutputTokens: 500}, 0.20)
	}

	decision := guard.CheckAllowance("s1", 100, "anthropic", "claude-sonnet-4-5")
	assert.False(t, decision.Allowed)
	assert.Equal(t, costguard.ReasonLimitExceeded, decision.Reason)
	assert.True(t, decision.InGracePeriod)
	assert.False(t, decision.GracePeriodEndsAt.IsZero())
	assert.InDelta(t, 1.20, decision.Current.Session, 1e-9)
}

func TestGuard_GraceWindowDoesNotExtend(t *testing.T) {
	clock := newFakeClock(midday(2026, time.March, 10))
	guard := costguard.New(costguard.Config{
		Enabled:            true,
		BlockOnExceed:      true,
		Limits:             costguard.Limits{SessionUSD: 1.00},
		GracePeriodSeconds: 300,
	}, costguard.WithClock(clock))

	guard.RecordUsageWithCost("s1", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 1.50)

	first := guard.CheckAllowance("s1", 0, "anthropic", "claude-sonnet-4-5")
	require.False(t, first.Allowed)
	endsAt := first.GracePeriodEndsAt
	assert.Equal(t, clock.Now().Add(5*time.Minute), endsAt)

	// Repeated violations while the window is open keep blocking but never
	// push the expiry out.
	clock.Advance(2 * time.Minute)
	second := guard.CheckAllowance("s1", 0, "anthropic", "claude-sonnet-4-5")
	assert.False(t, second.Allowed)
	assert.Equal(t, endsAt, second.GracePeriodEndsAt)

	// Past expiry the scope is still exceeded, so the call is still blocked;
	// a fresh window is opened for it.
	clock.Advance(10 * time.Minute)
	third := guard.CheckAllowance("s1", 0, "anthropic", "claude-sonnet-4-5")
	assert.False(t, third.Allowed)
	assert.True(t, third.GracePeriodEndsAt.After(endsAt))
	assert.Equal(t, clock.Now().Add(5*time.Minute), third.GracePeriodEndsAt)
}

func TestGuard_ResetGraceOpensFreshWindow(t *testing.T) {
	clock := newFakeClock(midday(2026, time.March, 10))
	guard := costguard.New(costguard.Config{
		Enabled:       true,
		BlockOnExceed: true,
		Limits:        costguard.Limits{SessionUSD: 1.00},
	}, costguard.WithClock(clock))

	guard.RecordUsageWithCost("s1", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 2.00)

	first := guard.CheckAllowance("s1", 0, "anthropic", "claude-sonnet-4-5")
	require.False(t, first.Allowed)

	assert.True(t, guard.ResetGracePeriod(costguard.ScopeSession, "s1"))
	assert.False(t, guard.ResetGracePeriod(costguard.ScopeSession, "s1"), "second reset finds nothing to clear")

	clock.Advance(time.Minute)
	second := guard.CheckAllowance("s1", 0, "anthropic", "claude-sonnet-4-5")
	assert.False(t, second.Allowed, "violation persists after reset")
	assert.True(t, second.GracePeriodEndsAt.After(first.GracePeriodEndsAt), "fresh window, fresh expiry")
}

func TestGuard_OverrideLimitUnblocks(t *testing.T) {
	guard := costguard.New(costguard.Config{
		Enabled:       true,
		BlockOnExceed: true,
		Limits:        costguard.Limits{SessionUSD: 1.00},
	})

	guard.RecordUsageWithCost("s1", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 1.50)
	require.False(t, guard.CheckAllowance("s1", 0, "anthropic", "claude-sonnet-4-5").Allowed)

	require.NoError(t, guard.OverrideLimit(costguard.ScopeSession, 10.0))
	decision := guard.CheckAllowance("s1", 0, "anthropic", "claude-sonnet-4-5")
	assert.True(t, decision.Allowed)

	assert.Error(t, guard.OverrideLimit(costguard.ScopeSession, -1))
	assert.Error(t, guard.OverrideLimit(costguard.Scope("weekly"), 5))
}

func TestGuard_ScopePriorityOnSimultaneousViolation(t *testing.T) {
	guard := costguard.New(costguard.Config{
		Enabled:       true,
		BlockOnExceed: true,
		Limits:        costguard.Limits{SessionUSD: 1.00, DailyUSD: 1.00, MonthlyUSD: 1.00},
	})

	guard.RecordUsageWithCost("s1", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 2.00)

	decision := guard.CheckAllowance("s1", 0, "anthropic", "claude-sonnet-4-5")
	require.False(t, decision.Allowed)
	assert.Equal(t, costguard.ScopeSession, decision.Scope, "session violation reported first")
}

func TestGuard_DailyLimitSpansSessions(t *testing.T) {
	guard := costguard.New(costguard.Config{
		Enabled:       true,
		BlockOnExceed: true,
		Limits:        costguard.Limits{DailyUSD: 1.00},
	})

	guard.RecordUsageWithCost("alpha", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 0.60)
	guard.RecordUsageWithCost("beta", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 0.60)

	// A brand-new session is blocked by the shared day ceiling.
	decision := guard.CheckAllowance("gamma", 0, "anthropic", "claude-sonnet-4-5")
	assert.False(t, decision.Allowed)
	assert.Equal(t, costguard.ScopeDaily, decision.Scope)
	assert.Zero(t, decision.Current.Session)
	assert.InDelta(t, 1.20, decision.Current.Daily, 1e-9)
}

func TestGuard_BlockOnExceedDisabledReportsWithoutBlocking(t *testing.T) {
	guard := costguard.New(costguard.Config{
		Enabled:       true,
		BlockOnExceed: false,
		Limits:        costguard.Limits{SessionUSD: 1.00},
	})

	guard.RecordUsageWithCost("s1", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 1.50)

	decision := guard.CheckAllowance("s1", 0, "anthropic", "claude-sonnet-4-5")
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reason)
	assert.True(t, decision.InGracePeriod, "violation still surfaced")
	assert.NotEmpty(t, decision.Warnings)
}

func TestGuard_UnlimitedScopeNeverBlocksOrWarns(t *testing.T) {
	guard := costguard.New(costguard.Config{
		Enabled:       true,
		BlockOnExceed: true,
	})

	guard.RecordUsageWithCost("s1", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 10_000)

	decision := guard.CheckAllowance("s1", 1_000_000, "anthropic", "claude-sonnet-4-5")
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Warnings)
	assert.Empty(t, decision.Percentages)
}

func TestGuard_Eviction(t *testing.T) {
	clock := newFakeClock(midday(2026, time.March, 10))
	guard := costguard.New(costguard.Config{Enabled: true}, costguard.WithClock(clock))

	guard.RecordUsageWithCost("old", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 0.01)
	clock.Advance(2 * time.Hour)
	guard.RecordUsageWithCost("fresh", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 0.01)

	// 25h after "old" last updated, 23h after "fresh".
	clock.Advance(23 * time.Hour)
	guard.RecordUsageWithCost("trigger", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 0.01)

	assert.Nil(t, guard.GetSessionStats("old"), "25h idle session evicted")
	assert.NotNil(t, guard.GetSessionStats("fresh"), "23h idle session retained")
}

func TestGuard_DayRolloverResetsDailyScope(t *testing.T) {
	clock := newFakeClock(midday(2026, time.March, 10))
	guard := costguard.New(costguard.Config{
		Enabled:       true,
		BlockOnExceed: true,
		Limits:        costguard.Limits{DailyUSD: 1.00},
	}, costguard.WithClock(clock))

	guard.RecordUsageWithCost("s1", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 1.50)
	require.False(t, guard.CheckAllowance("s1", 0, "anthropic", "claude-sonnet-4-5").Allowed)

	// The next calendar day starts with a clean daily bucket, so the caller
	// self-corrects even though a grace window from yesterday may linger.
	clock.Advance(24 * time.Hour)
	decision := guard.CheckAllowance("s1", 0, "anthropic", "claude-sonnet-4-5")
	assert.True(t, decision.Allowed)
	assert.Zero(t, decision.Current.Daily)
}

func TestGuard_MonthlyBreakdown(t *testing.T) {
	clock := newFakeClock(midday(2026, time.March, 10))
	guard := costguard.New(costguard.Config{Enabled: true}, costguard.WithClock(clock))

	guard.RecordUsageWithCost("s1", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 0.10)
	clock.Advance(24 * time.Hour)
	guard.RecordUsageWithCost("s2", "anthropic", "claude-sonnet-4-5", costguard.TokenUsage{InputTokens: 1}, 0.20)

	monthly := guard.GetMonthlyStats("2026-03")
	require.NotNil(t, monthly)
	assert.InDelta(t, 0.30, monthly.TotalCost, 1e-9)
	assert.Equal(t, 2, monthly.Sessions)
	require.Len(t, monthly.DailyBreakdown, 2)
	assert.Equal(t, "2026-03-10", monthly.DailyBreakdown[0].Date)
	assert.Equal(t, "2026-03-11", monthly.DailyBreakdown[1].Date)
	assert.InDelta(t, 0.10, monthly.DailyBreakdown[0].TotalCost, 1e-9)

	assert.Nil(t, guard.GetMonthlyStats("2026-02"), "no data for prior month")
}
