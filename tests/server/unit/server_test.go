package unit

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmdesk/costguard/internal/config"
	"github.com/helmdesk/costguard/internal/costguard"
	"github.com/helmdesk/costguard/internal/server"
)

func newTestServer(cfg costguard.Config) *server.Server {
	guard := costguard.New(cfg)
	return server.New(guard, config.ServerConfig{Host: "127.0.0.1", Port: 0})
}

func doJSON(t *testing.T, srv *server.Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_CheckAndRecordFlow(t *testing.T) {
	srv := newTestServer(costguard.Config{
		Enabled:       true,
		BlockOnExceed: true,
		Limits:        costguard.Limits{SessionUSD: 1.00},
	})

	rec := doJSON(t, srv, http.MethodPost, "/check", server.CheckRequest{
		SessionID:       "s1",
		EstimatedTokens: 1000,
		Provider:        "anthropic",
		Model:           "claude-sonnet-4-5",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var decision costguard.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.True(t, decision.Allowed)

	rec = doJSON(t, srv, http.MethodPost, "/record", server.RecordRequest{
		SessionID: "s1",
		Provider:  "anthropic",
		Model:     "claude-sonnet-4-5",
		Usage:     costguard.TokenUsage{InputTokens: 1000, OutputTokens: 500},
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats server.StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.NotNil(t, stats.Daily)
	assert.Equal(t, 1, stats.Daily.RequestCount)
	require.Len(t, stats.Sessions, 1)
	assert.Equal(t, "s1", stats.Sessions[0].SessionID)
}

func TestServer_RecordFromRawResponse(t *testing.T) {
	srv := newTestServer(costguard.Config{Enabled: true})

	raw := json.RawMessage(`{"usage":{"input_tokens":1200,"output_tokens":300}}`)
	rec := doJSON(t, srv, http.MethodPost, "/record", server.RecordRequest{
		SessionID:   "s1",
		Provider:    "anthropic",
		Model:       "claude-sonnet-4-5",
		RawResponse: raw,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/stats", nil)
	var stats server.StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats.Sessions, 1)
	assert.Equal(t, 1500, stats.Sessions[0].TotalTokens)
}

func TestServer_CheckValidation(t *testing.T) {
	srv := newTestServer(costguard.Config{Enabled: true})

	rec := doJSON(t, srv, http.MethodPost, "/check", server.CheckRequest{EstimatedTokens: 10})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing session_id")

	rec = doJSON(t, srv, http.MethodPost, "/check", server.CheckRequest{SessionID: "s1", EstimatedTokens: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "negative estimate")

	req := httptest.NewRequest(http.MethodPost, "/check", strings.NewReader("{not json"))
	req.RemoteAddr = "127.0.0.1:54321"
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServer_AdminEndpoints(t *testing.T) {
	srv := newTestServer(costguard.Config{
		Enabled:       true,
		BlockOnExceed: true,
		Limits:        costguard.Limits{SessionUSD: 1.00},
	})

	// Drive the session over its ceiling and confirm blocking.
	doJSON(t, srv, http.MethodPost, "/record", server.RecordRequest{
		SessionID: "s1", Provider: "anthropic", Model: "claude-sonnet-4-5",
		Usage: costguard.TokenUsage{InputTokens: 1}, CostUSD: ptr(1.50),
	})
	rec := doJSON(t, srv, http.MethodPost, "/check", server.CheckRequest{SessionID: "s1", Model: "claude-sonnet-4-5"})
	var decision costguard.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	require.False(t, decision.Allowed)

	// Raising the ceiling unblocks.
	rec = doJSON(t, srv, http.MethodPost, "/admin/override-limit", server.OverrideLimitRequest{
		Scope: costguard.ScopeSession, LimitUSD: 10,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/check", server.CheckRequest{SessionID: "s1", Model: "claude-sonnet-4-5"})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.True(t, decision.Allowed)

	// Grace reset reports whether anything was cleared.
	rec = doJSON(t, srv, http.MethodPost, "/admin/reset-grace", server.ResetGraceRequest{
		Scope: costguard.ScopeSession, SessionID: "s1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out["cleared"])

	rec = doJSON(t, srv, http.MethodPost, "/admin/override-limit", server.OverrideLimitRequest{
		Scope: costguard.Scope("weekly"), LimitUSD: 5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StatsRestrictedToLoopback(t *testing.T) {
	srv := newTestServer(costguard.Config{Enabled: true})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.RemoteAddr = "203.0.113.9:40000"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/override-limit", strings.NewReader(`{"scope":"daily","limit_usd":1}`))
	req.RemoteAddr = "203.0.113.9:40000"
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_DashboardRenders(t *testing.T) {
	srv := newTestServer(costguard.Config{
		Enabled: true,
		Limits:  costguard.Limits{SessionUSD: 5, DailyUSD: 20},
	})

	doJSON(t, srv, http.MethodPost, "/record", server.RecordRequest{
		SessionID: "dashboard-session", Provider: "anthropic", Model: "claude-sonnet-4-5",
		Usage: costguard.TokenUsage{InputTokens: 1000, OutputTokens: 200},
	})

	rec := doJSON(t, srv, http.MethodGet, "/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Spend Dashboard")
	assert.Contains(t, body, "dashboard-se...")
	assert.Contains(t, body, "$5.00/session")
}

func ptr(v float64) *float64 { return &v }
