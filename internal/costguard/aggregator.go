package costguard

import (
	"sort"
	"strings"
	"time"
)

// Key formats for day and month accounts (UTC).
const (
	dayKeyFormat   = "2006-01-02"
	monthKeyFormat = "2006-01"
)

func dayKey(t time.Time) string   { return t.UTC().Format(dayKeyFormat) }
func monthKey(t time.Time) string { return t.UTC().Format(monthKeyFormat) }

// sessionAccount accumulates spend for one session id.
type sessionAccount struct {
	SessionID    string
	TotalCost    float64
	TotalTokens  int
	RequestCount int
	StartedAt    time.Time
	LastUpdate   time.Time
}

// periodAccount accumulates spend for one calendar day or month.
// Sessions records the distinct session ids that contributed; it is used
// only for the session count, not per-session breakdown.
type periodAccount struct {
	TotalCost    float64
	TotalTokens  int
	RequestCount int
	Sessions     map[string]struct{}
}

func newPeriodAccount() *periodAccount {
	return &periodAccount{Sessions: make(map[string]struct{})}
}

// aggregator maintains the three account maps. It is not safe for concurrent
// use on its own; the owning guard serializes access behind its mutex.
type aggregator struct {
	sessions map[string]*sessionAccount
	days     map[string]*periodAccount
	months   map[string]*periodAccount
}

func newAggregator() *aggregator {
	return &aggregator{
		sessions: make(map[string]*sessionAccount),
		days:     make(map[string]*periodAccount),
		months:   make(map[string]*periodAccount),
	}
}

// record commits one completed call into all three scopes.
func (a *aggregator) record(sessionID string, cost float64, tokens int, now time.Time) {
	s, ok := a.sessions[sessionID]
	if !ok {
		s = &sessionAccount{SessionID: sessionID, StartedAt: now}
		a.sessions[sessionID] = s
	}
	s.TotalCost += cost
	s.TotalTokens += tokens
	s.RequestCount++
	s.LastUpdate = now

	upsertPeriod(a.days, dayKey(now), sessionID, cost, tokens)
	upsertPeriod(a.months, monthKey(now), sessionID, cost, tokens)
}

func upsertPeriod(accounts map[string]*periodAccount, key, sessionID string, cost float64, tokens int) {
	p, ok := accounts[key]
	if !ok {
		p = newPeriodAccount()
		accounts[key] = p
	}
	p.TotalCost += cost
	p.TotalTokens += tokens
	p.RequestCount++
	p.Sessions[sessionID] = struct{}{}
}

// totals returns the current accumulated USD for the scopes covering now.
func (a *aggregator) totals(sessionID string, now time.Time) ScopeTotals {
	var t ScopeTotals
	if s, ok := a.sessions[sessionID]; ok {
		t.Session = s.TotalCost
	}
	if d, ok := a.days[dayKey(now)]; ok {
		t.Daily = d.TotalCost
	}
	if m, ok := a.months[monthKey(now)]; ok {
		t.Monthly = m.TotalCost
	}
	return t
}

func (a *aggregator) sessionStats(sessionID string) *SessionStats {
	s, ok := a.sessions[sessionID]
	if !ok {
		return nil
	}
	return &SessionStats{
		SessionID:    s.SessionID,
		TotalCost:    s.TotalCost,
		TotalTokens:  s.TotalTokens,
		RequestCount: s.RequestCount,
		StartedAt:    s.StartedAt,
		LastUpdate:   s.LastUpdate,
	}
}

func (a *aggregator) dailyStats(date string) *DailyStats {
	d, ok := a.days[date]
	if !ok {
		return nil
	}
	return &DailyStats{
		Date:         date,
		TotalCost:    d.TotalCost,
		TotalTokens:  d.TotalTokens,
		RequestCount: d.RequestCount,
		Sessions:     len(d.Sessions),
	}
}

// monthlyStats assembles the month account plus a per-day breakdown from the
// day accounts still retained for that month, sorted by date.
func (a *aggregator) monthlyStats(month string) *MonthlyStats {
	m, ok := a.months[month]
	if !ok {
		return nil
	}
	stats := &MonthlyStats{
		Month:        month,
		TotalCost:    m.TotalCost,
		TotalTokens:  m.TotalTokens,
		RequestCount: m.RequestCount,
		Sessions:     len(m.Sessions),
	}
	for date := range a.days {
		if strings.HasPrefix(date, month+"-") {
			stats.DailyBreakdown = append(stats.DailyBreakdown, *a.dailyStats(date))
		}
	}
	sort.Slice(stats.DailyBreakdown, func(i, j int) bool {
		return stats.DailyBreakdown[i].Date < stats.DailyBreakdown[j].Date
	})
	return stats
}

// allSessions returns a stats snapshot of every live session account.
func (a *aggregator) allSessions() []SessionStats {
	out := make([]SessionStats, 0, len(a.sessions))
	for id := range a.sessions {
		out = append(out, *a.sessionStats(id))
	}
	return out
}

// evict reclaims dead accounts: idle sessions past their TTL and day accounts
// past the retention window. Month accounts are not swept; they become inert
// once their constituent days are gone.
func (a *aggregator) evict(now time.Time) (sessions, days int) {
	for id, s := range a.sessions {
		if now.Sub(s.LastUpdate) > sessionTTL {
			delete(a.sessions, id)
			sessions++
		}
	}
	cutoff := dayKey(now.Add(-dayRetention))
	for date := range a.days {
		if date < cutoff {
			delete(a.days, date)
			days++
		}
	}
	return sessions, days
}
