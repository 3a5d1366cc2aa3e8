package costguard

import "time"

// GraceWindow records a detected ceiling violation. It exposes when the
// violation was first observed and when the cool-down ends, for caller
// messaging ("try again after..."). A window never extends itself: repeated
// violations while one is active do not push ExpiresAt further out.
type GraceWindow struct {
	Scope        Scope     `json:"scope"`
	SessionID    string    `json:"session_id,omitempty"` // set only for session scope
	StartedAt    time.Time `json:"started_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LimitAtStart float64   `json:"limit_at_start"`
	SpendAtStart float64   `json:"spend_at_start"`
}

// Active reports whether the window is still open at the given time.
func (w *GraceWindow) Active(now time.Time) bool {
	return now.Before(w.ExpiresAt)
}

// graceManager tracks at most one window per (scope, session) key.
// Day/month windows are global; session windows are keyed by session id.
// Not safe for concurrent use on its own; the owning guard serializes access.
type graceManager struct {
	windows map[string]*GraceWindow
}

func newGraceManager() *graceManager {
	return &graceManager{windows: make(map[string]*GraceWindow)}
}

func graceKey(scope Scope, sessionID string) string {
	if scope == ScopeSession {
		return string(scope) + ":" + sessionID
	}
	return string(scope)
}

// lookup returns the active window for the key, removing it lazily if it has
// expired. Returns nil when no active window exists.
func (g *graceManager) lookup(scope Scope, sessionID string, now time.Time) *GraceWindow {
	key := graceKey(scope, sessionID)
	w, ok := g.windows[key]
	if !ok {
		return nil
	}
	if !w.Active(now) {
		delete(g.windows, key)
		return nil
	}
	return w
}

// open starts a new window for the key. Idempotent: if an active window
// already exists it is returned unchanged, so repeated violations never
// reset StartedAt or shorten the cool-down.
func (g *graceManager) open(scope Scope, sessionID string, now time.Time, duration time.Duration, limit, spend float64) *GraceWindow {
	if w := g.lookup(scope, sessionID, now); w != nil {
		return w
	}
	w := &GraceWindow{
		Scope:        scope,
		SessionID:    sessionID,
		StartedAt:    now,
		ExpiresAt:    now.Add(duration),
		LimitAtStart: limit,
		SpendAtStart: spend,
	}
	g.windows[graceKey(scope, sessionID)] = w
	return w
}

// reset force-clears the window for the key. The next violation opens a
// fresh window with a fresh StartedAt/ExpiresAt.
func (g *graceManager) reset(scope Scope, sessionID string) bool {
	key := graceKey(scope, sessionID)
	if _, ok := g.windows[key]; !ok {
		return false
	}
	delete(g.windows, key)
	return true
}

// evict removes expired windows. Lazy removal in lookup already covers live
// keys; this reclaims windows nothing is looking at anymore.
func (g *graceManager) evict(now time.Time) int {
	n := 0
	for key, w := range g.windows {
		if !w.Active(now) {
			delete(g.windows, key)
			n++
		}
	}
	return n
}

// active returns all windows still open at the given time.
func (g *graceManager) active(now time.Time) []GraceWindow {
	out := make([]GraceWindow, 0, len(g.windows))
	for _, w := range g.windows {
		if w.Active(now) {
			out = append(out, *w)
		}
	}
	return out
}
