package costguard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Snapshot is the persisted state layout: the three account maps (session-id
// sets serialized as arrays), the open grace windows, and the last sweep
// timestamp.
type Snapshot struct {
	SavedAt   time.Time                  `json:"saved_at"`
	Sessions  map[string]SessionSnapshot `json:"sessions"`
	Days      map[string]PeriodSnapshot  `json:"days"`
	Months    map[string]PeriodSnapshot  `json:"months"`
	Grace     []GraceWindow              `json:"grace_windows"`
	LastSweep time.Time                  `json:"last_sweep"`
}

// SessionSnapshot is the serialized form of one session account.
type SessionSnapshot struct {
	TotalCost    float64   `json:"total_cost"`
	TotalTokens  int       `json:"total_tokens"`
	RequestCount int       `json:"request_count"`
	StartedAt    time.Time `json:"started_at"`
	LastUpdate   time.Time `json:"last_update"`
}

// PeriodSnapshot is the serialized form of one day or month account.
type PeriodSnapshot struct {
	TotalCost    float64  `json:"total_cost"`
	TotalTokens  int      `json:"total_tokens"`
	RequestCount int      `json:"request_count"`
	Sessions     []string `json:"sessions"`
}

// Store persists and restores engine snapshots.
type Store interface {
	// Load reads the latest snapshot. A missing snapshot is not an error:
	// it returns (nil, nil) for a cold start.
	Load() (*Snapshot, error)
	// Save writes the full snapshot, replacing any previous one.
	Save(*Snapshot) error
}

// OpenStore selects a store implementation from the path extension:
// .db/.sqlite/.sqlite3 open a SQLite-backed store, anything else a JSON file.
func OpenStore(path string) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return openSQLiteStore(path)
	default:
		return &fileStore{path: path}, nil
	}
}

// fileStore keeps the snapshot in a single JSON file. Writes go to a temp
// file in the same directory and rename over the target, so a crash mid-write
// never leaves a partial snapshot.
type fileStore struct {
	path string
}

func (s *fileStore) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &snap, nil
}

func (s *fileStore) Save(snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// snapshotLocked builds a snapshot of the full in-memory state.
// Caller must hold g.mu.
func (g *Guard) snapshotLocked(now time.Time) *Snapshot {
	snap := &Snapshot{
		SavedAt:   now,
		Sessions:  make(map[string]SessionSnapshot, len(g.agg.sessions)),
		Days:      make(map[string]PeriodSnapshot, len(g.agg.days)),
		Months:    make(map[string]PeriodSnapshot, len(g.agg.months)),
		Grace:     g.grace.active(now),
		LastSweep: g.lastSweep,
	}
	for id, s := range g.agg.sessions {
		snap.Sessions[id] = SessionSnapshot{
			TotalCost:    s.TotalCost,
			TotalTokens:  s.TotalTokens,
			RequestCount: s.RequestCount,
			StartedAt:    s.StartedAt,
			LastUpdate:   s.LastUpdate,
		}
	}
	for key, p := range g.agg.days {
		snap.Days[key] = periodSnapshot(p)
	}
	for key, p := range g.agg.months {
		snap.Months[key] = periodSnapshot(p)
	}
	return snap
}

func periodSnapshot(p *periodAccount) PeriodSnapshot {
	sessions := make([]string, 0, len(p.Sessions))
	for id := range p.Sessions {
		sessions = append(sessions, id)
	}
	return PeriodSnapshot{
		TotalCost:    p.TotalCost,
		TotalTokens:  p.TotalTokens,
		RequestCount: p.RequestCount,
		Sessions:     sessions,
	}
}

// restore loads the persisted snapshot, if any. Read or parse failures are
// logged and treated as a cold start; a bad snapshot must never prevent the
// engine from coming up.
func (g *Guard) restore() {
	if g.store == nil {
		return
	}
	snap, err := g.store.Load()
	if err != nil {
		log.Warn().Err(err).Msg("costguard: could not restore snapshot, starting cold")
		return
	}
	if snap == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	for id, s := range snap.Sessions {
		g.agg.sessions[id] = &sessionAccount{
			SessionID:    id,
			TotalCost:    s.TotalCost,
			TotalTokens:  s.TotalTokens,
			RequestCount: s.RequestCount,
			StartedAt:    s.StartedAt,
			LastUpdate:   s.LastUpdate,
		}
	}
	for key, p := range snap.Days {
		g.agg.days[key] = restorePeriod(p)
	}
	for key, p := range snap.Months {
		g.agg.months[key] = restorePeriod(p)
	}
	restored := 0
	for _, w := range snap.Grace {
		if !w.Active(now) {
			continue // expired windows are dropped on load, not restored
		}
		win := w
		g.grace.windows[graceKey(w.Scope, w.SessionID)] = &win
		restored++
	}
	if !snap.LastSweep.IsZero() {
		g.lastSweep = snap.LastSweep
	}
	log.Info().
		Int("sessions", len(snap.Sessions)).
		Int("days", len(snap.Days)).
		Int("months", len(snap.Months)).
		Int("grace_windows", restored).
		Time("saved_at", snap.SavedAt).
		Msg("costguard: snapshot restored")
}

func restorePeriod(p PeriodSnapshot) *periodAccount {
	acc := newPeriodAccount()
	acc.TotalCost = p.TotalCost
	acc.TotalTokens = p.TotalTokens
	acc.RequestCount = p.RequestCount
	for _, id := range p.Sessions {
		acc.Sessions[id] = struct{}{}
	}
	return acc
}
