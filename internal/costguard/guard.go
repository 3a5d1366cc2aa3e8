package costguard

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Guard is the cost-governance engine. One instance owns the accounting state
// for one logical budget; construct it explicitly and pass it to call sites
// rather than reaching for a global.
//
// All operations are serialized behind one mutex. They run once per model
// call, not per token, so a single lock is cheap and keeps the scope
// interactions easy to reason about. Persistence I/O happens outside the
// lock: the state is snapshotted under lock, then written after release.
type Guard struct {
	mu        sync.Mutex
	cfg       Config
	agg       *aggregator
	grace     *graceManager
	estimator *Estimator
	pricing   PricingResolver
	clock     Clock
	store     Store
	lastSweep time.Time
}

// Option configures optional Guard collaborators.
type Option func(*Guard)

// WithClock injects a clock, used by tests to make day/month rollover
// deterministic.
func WithClock(c Clock) Option {
	return func(g *Guard) { g.clock = c }
}

// WithPricing injects a pricing resolver in place of the built-in table.
func WithPricing(r PricingResolver) Option {
	return func(g *Guard) { g.pricing = r }
}

// WithStore injects a persistence store in place of the one derived from
// Config.PersistPath.
func WithStore(s Store) Option {
	return func(g *Guard) { g.store = s }
}

// New creates a guard. If persistence is configured, prior state is restored;
// a missing or unreadable snapshot degrades to a cold start, never an error.
func New(cfg Config, opts ...Option) *Guard {
	g := &Guard{
		cfg:     cfg.withDefaults(),
		agg:     newAggregator(),
		grace:   newGraceManager(),
		pricing: TableResolver{},
		clock:   realClock{},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.estimator = NewEstimator(g.pricing)
	g.lastSweep = g.clock.Now()

	if g.store == nil && g.cfg.PersistPath != "" {
		store, err := OpenStore(g.cfg.PersistPath)
		if err != nil {
			log.Error().Err(err).Str("path", g.cfg.PersistPath).Msg("costguard: persistence unavailable, accounting is in-memory only")
		} else {
			g.store = store
		}
	}
	g.restore()
	return g
}

// Estimator returns the guard's cost estimator for callers that need
// text-based token estimates before calling CheckAllowance.
func (g *Guard) Estimator() *Estimator {
	return g.estimator
}

// CheckAllowance is the pre-flight gate. It projects all three scope totals
// forward by the estimated cost of the prospective call and decides whether
// the call is permitted. It never mutates the aggregates; its only side
// effect is opening a grace window when a new violation is observed.
//
// When several scopes are exceeded at once the session scope is reported
// first, then daily, then monthly.
func (g *Guard) CheckAllowance(sessionID string, estimatedTokens int, provider, model string) Decision {
	if !g.cfg.Enabled {
		return Decision{Allowed: true, Reason: ReasonDisabled}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	current := g.agg.totals(sessionID, now)
	estCost := g.estimator.ApproxCost(estimatedTokens, provider, model)

	decision := Decision{
		Allowed:     true,
		Current:     current,
		Limits:      g.cfg.Limits,
		Percentages: make(map[Scope]float64),
	}

	currentFor := func(s Scope) float64 {
		switch s {
		case ScopeSession:
			return current.Session
		case ScopeDaily:
			return current.Daily
		default:
			return current.Monthly
		}
	}

	var blocking Scope
	for _, scope := range []Scope{ScopeSession, ScopeDaily, ScopeMonthly} {
		limit := g.cfg.Limits.ForScope(scope)
		if limit <= 0 {
			continue // unlimited: never blocks, never warns
		}
		projected := currentFor(scope) + estCost
		pct := projected / limit
		decision.Percentages[scope] = pct

		if projected > limit && blocking == "" {
			blocking = scope
		}
		if pct >= g.cfg.AlertThresholds.ForScope(scope) {
			decision.Warnings = append(decision.Warnings, fmt.Sprintf(
				"%s cost at %.1f%% of limit ($%s/$%s)",
				scope.Title(), pct*100, formatCost(currentFor(scope)), formatCost(limit)))
		}
	}

	if blocking == "" {
		return decision
	}

	// A violation blocks on every call while the scope stays exceeded. The
	// grace window only records when the violation was first observed and
	// suppresses re-opening; it never lets a still-exceeded scope through.
	limit := g.cfg.Limits.ForScope(blocking)
	win := g.grace.open(blocking, sessionID, now, g.cfg.gracePeriod(), limit, currentFor(blocking))
	decision.Scope = blocking
	decision.InGracePeriod = true
	decision.GracePeriodEndsAt = win.ExpiresAt

	if !g.cfg.BlockOnExceed {
		log.Warn().
			Str("session_id", sessionID).
			Str("scope", string(blocking)).
			Float64("limit_usd", limit).
			Float64("current_usd", currentFor(blocking)).
			Msg("costguard: ceiling exceeded (enforcement off, allowing)")
		return decision
	}

	decision.Allowed = false
	decision.Reason = ReasonLimitExceeded
	log.Warn().
		Str("session_id", sessionID).
		Str("scope", string(blocking)).
		Float64("limit_usd", limit).
		Float64("current_usd", currentFor(blocking)).
		Time("grace_ends_at", win.ExpiresAt).
		Msg("costguard: request blocked")
	return decision
}

// RecordUsage commits the measured token usage of a completed call, computing
// the exact cost from the pricing table.
func (g *Guard) RecordUsage(sessionID, provider, model string, usage TokenUsage) {
	g.record(sessionID, provider, model, usage, nil)
}

// RecordUsageWithCost commits usage with a caller-supplied cost, overriding
// the pricing-table computation (e.g. when the provider reports spend).
func (g *Guard) RecordUsageWithCost(sessionID, provider, model string, usage TokenUsage, costUSD float64) {
	g.record(sessionID, provider, model, usage, &costUSD)
}

func (g *Guard) record(sessionID, provider, model string, usage TokenUsage, costOverride *float64) {
	if !g.cfg.Enabled {
		return
	}

	cost := 0.0
	if costOverride != nil {
		cost = *costOverride
	} else {
		cost = g.estimator.ExactCost(usage, provider, model)
	}
	tokens := usage.Total()

	g.mu.Lock()
	now := g.clock.Now()
	g.agg.record(sessionID, cost, tokens, now)
	g.sweepLocked(now)
	var snap *Snapshot
	if g.store != nil {
		snap = g.snapshotLocked(now)
	}
	g.mu.Unlock()

	log.Debug().
		Str("session_id", sessionID).
		Str("model", model).
		Int("tokens", tokens).
		Float64("cost_usd", cost).
		Msg("costguard: usage recorded")

	// Write-through persistence, outside the lock so a slow disk never
	// stalls concurrent allowance checks. Failure is logged, never raised:
	// accounting continues in memory.
	if snap != nil {
		if err := g.store.Save(snap); err != nil {
			log.Error().Err(err).Msg("costguard: failed to persist snapshot")
		}
	}
}

// sweepLocked runs the eviction sweep if the last one is old enough.
// Eviction is pure garbage collection; live keys are never touched.
func (g *Guard) sweepLocked(now time.Time) {
	if now.Sub(g.lastSweep) < sweepInterval {
		return
	}
	g.lastSweep = now
	sessions, days := g.agg.evict(now)
	windows := g.grace.evict(now)
	if sessions+days+windows > 0 {
		log.Debug().
			Int("sessions", sessions).
			Int("days", days).
			Int("grace_windows", windows).
			Msg("costguard: eviction sweep")
	}
}

// GetSessionStats returns accumulated spend for a session, or nil if the
// session has no recorded usage.
func (g *Guard) GetSessionStats(sessionID string) *SessionStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.agg.sessionStats(sessionID)
}

// GetDailyStats returns accumulated spend for a calendar day (YYYY-MM-DD,
// UTC). An empty date means today. Returns nil when no data exists.
func (g *Guard) GetDailyStats(date string) *DailyStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	if date == "" {
		date = dayKey(g.clock.Now())
	}
	return g.agg.dailyStats(date)
}

// GetMonthlyStats returns accumulated spend for a calendar month (YYYY-MM,
// UTC) including a per-day breakdown. An empty month means the current one.
// Returns nil when no data exists.
func (g *Guard) GetMonthlyStats(month string) *MonthlyStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	if month == "" {
		month = monthKey(g.clock.Now())
	}
	return g.agg.monthlyStats(month)
}

// AllSessions returns a snapshot of all live session accounts for the
// dashboard.
func (g *Guard) AllSessions() []SessionStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.agg.allSessions()
}

// ActiveGraceWindows returns all currently open violation windows.
func (g *Guard) ActiveGraceWindows() []GraceWindow {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.grace.active(g.clock.Now())
}

// ResetGracePeriod force-clears the violation window for a scope. Operator
// action: if the underlying violation persists, the next CheckAllowance opens
// a fresh window with a fresh expiry. Returns false if no window was open.
func (g *Guard) ResetGracePeriod(scope Scope, sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	cleared := g.grace.reset(scope, sessionID)
	if cleared {
		log.Info().Str("scope", string(scope)).Str("session_id", sessionID).Msg("costguard: grace window cleared")
	}
	return cleared
}

// OverrideLimit replaces the ceiling for a scope at runtime. This is a live
// operational override, not a persisted config change; subsequent allowance
// checks use the new ceiling immediately, which can clear a previously
// exceeded state without touching the grace windows. 0 means unlimited.
func (g *Guard) OverrideLimit(scope Scope, limitUSD float64) error {
	if limitUSD < 0 {
		return fmt.Errorf("limit must be >= 0, got %f", limitUSD)
	}
	switch scope {
	case ScopeSession, ScopeDaily, ScopeMonthly:
	default:
		return fmt.Errorf("unknown scope %q", scope)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.cfg.Limits.ForScope(scope)
	g.cfg.Limits.setScope(scope, limitUSD)
	log.Info().
		Str("scope", string(scope)).
		Float64("old_limit_usd", old).
		Float64("new_limit_usd", limitUSD).
		Msg("costguard: limit override")
	return nil
}

// Config returns a copy of the effective configuration, including any live
// limit overrides.
func (g *Guard) Config() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// formatCost formats a dollar amount, using more decimal places for small
// values.
func formatCost(v float64) string {
	if v >= 1.0 {
		return fmt.Sprintf("%.2f", v)
	}
	return fmt.Sprintf("%.4f", v)
}
