// Package server - stats.go exposes aggregated spend as JSON.
//
// GET /stats returns today's, this month's, and per-session accounting.
package server

import (
	"net/http"
	"time"

	"github.com/helmdesk/costguard/internal/costguard"
)

// StatsResponse is the JSON response for GET /stats.
type StatsResponse struct {
	Uptime string `json:"uptime"`

	Daily   *costguard.DailyStats   `json:"daily"`
	Monthly *costguard.MonthlyStats `json:"monthly"`

	Sessions []costguard.SessionStats `json:"sessions"`

	GraceWindows []costguard.GraceWindow `json:"grace_windows"`

	Limits costguard.Limits `json:"limits"`
}

// handleStats returns aggregated spend as JSON.
// Restricted to localhost to prevent external access to spend data.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, s.statsResponse())
}

func (s *Server) statsResponse() StatsResponse {
	return StatsResponse{
		Uptime:       time.Since(s.startedAt).Truncate(time.Second).String(),
		Daily:        s.guard.GetDailyStats(""),
		Monthly:      s.guard.GetMonthlyStats(""),
		Sessions:     s.guard.AllSessions(),
		GraceWindows: s.guard.ActiveGraceWindows(),
		Limits:       s.guard.Config().Limits,
	}
}
