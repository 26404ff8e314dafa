package ingestion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestGHClient(t *testing.T, handler http.HandlerFunc) *GitHubActionsClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewGitHubActionsClient("test-token")
	c.baseURL = srv.URL
	return c
}

func TestFetchBuildsFiltersBySince(t *testing.T) {
	c := newTestGHClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"workflow_runs":[
			{"id":1,"head_sha":"aaa","head_branch":"main","status":"completed","conclusion":"success","created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:10:00Z"},
			{"id":2,"head_sha":"bbb","head_branch":"main","status":"completed","conclusion":"failure","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:10:00Z"}
		]}`))
	})

	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	builds, err := c.FetchBuilds(context.Background(), "acme/widget", since, 30, 1)
	require.NoError(t, err)
	require.Len(t, builds, 1)
	require.Equal(t, "bbb", builds[0].CommitSHA)
}

func TestFetchBuildLogsMarksExpired(t *testing.T) {
	c := newTestGHClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/acme/widget/actions/runs/1/jobs":
			w.Write([]byte(`{"jobs":[{"name":"build"}]}`))
		case r.URL.Path == "/repos/acme/widget/actions/runs/1/logs":
			w.WriteHeader(http.StatusGone)
		}
	})

	logs, err := c.FetchBuildLogs(context.Background(), "acme/widget", "1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.True(t, logs[0].Expired)
}

func TestRateLimitParsesCoreQuota(t *testing.T) {
	c := newTestGHClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"resources":{"core":{"remaining":42,"limit":5000,"reset":1700000000}}}`))
	})

	status, err := c.RateLimit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, status.Remaining)
	require.Equal(t, 5000, status.Limit)
}
