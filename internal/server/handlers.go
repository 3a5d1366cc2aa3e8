package server

import (
	"encoding/json"
	"net/http"

	"github.com/helmdesk/costguard/internal/costguard"
)

// CheckRequest is the JSON body for POST /check. When EstimatedTokens is
// zero and prompt text is supplied, the token count is estimated from the
// text instead.
type CheckRequest struct {
	SessionID       string   `json:"session_id"`
	EstimatedTokens int      `json:"estimated_tokens"`
	Provider        string   `json:"provider"`
	Model           string   `json:"model"`
	Prompt          string   `json:"prompt,omitempty"`
	SystemPrompt    string   `json:"system_prompt,omitempty"`
	History         []string `json:"history,omitempty"`
}

// RecordRequest is the JSON body for POST /record. Usage can come either
// from explicit token counts or from a raw provider response body; an
// explicit CostUSD overrides the pricing-table computation.
type RecordRequest struct {
	SessionID   string               `json:"session_id"`
	Provider    string               `json:"provider"`
	Model       string               `json:"model"`
	Usage       costguard.TokenUsage `json:"usage"`
	RawResponse json.RawMessage      `json:"raw_response,omitempty"`
	CostUSD     *float64             `json:"cost_usd,omitempty"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	if req.EstimatedTokens < 0 {
		http.Error(w, "estimated_tokens must be >= 0", http.StatusBadRequest)
		return
	}

	tokens := req.EstimatedTokens
	if tokens == 0 && (req.Prompt != "" || req.SystemPrompt != "" || len(req.History) > 0) {
		tokens = s.guard.Estimator().EstimateTokens(costguard.EstimateInput{
			Prompt:       req.Prompt,
			SystemPrompt: req.SystemPrompt,
			History:      req.History,
		})
	}

	decision := s.guard.CheckAllowance(req.SessionID, tokens, req.Provider, req.Model)
	writeJSON(w, decision)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	usage := req.Usage
	if usage == (costguard.TokenUsage{}) && len(req.RawResponse) > 0 {
		parsed, ok := costguard.ParseUsage(req.RawResponse)
		if !ok {
			http.Error(w, "raw_response carries no usage block", http.StatusBadRequest)
			return
		}
		usage = parsed
	}

	if req.CostUSD != nil {
		s.guard.RecordUsageWithCost(req.SessionID, req.Provider, req.Model, usage, *req.CostUSD)
	} else {
		s.guard.RecordUsage(req.SessionID, req.Provider, req.Model, usage)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetGraceRequest is the JSON body for POST /admin/reset-grace.
type ResetGraceRequest struct {
	Scope     costguard.Scope `json:"scope"`
	SessionID string          `json:"session_id,omitempty"`
}

func (s *Server) handleResetGrace(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var req ResetGraceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	cleared := s.guard.ResetGracePeriod(req.Scope, req.SessionID)
	writeJSON(w, map[string]bool{"cleared": cleared})
}

// OverrideLimitRequest is the JSON body for POST /admin/override-limit.
type OverrideLimitRequest struct {
	Scope    costguard.Scope `json:"scope"`
	LimitUSD float64         `json:"limit_usd"`
}

func (s *Server) handleOverrideLimit(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var req OverrideLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := s.guard.OverrideLimit(req.Scope, req.LimitUSD); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, s.guard.Config().Limits)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
