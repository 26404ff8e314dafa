package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// GitHubActionsClient implements CIProvider against the GitHub REST API. It
// is the one concrete CI-provider client the platform ships; other
// providers are expected to implement CIProvider themselves.
type GitHubActionsClient struct {
	client  *http.Client
	token   string
	baseURL string
	breaker *gobreaker.CircuitBreaker
}

// NewGitHubActionsClient builds a client authenticated with an
// installation/personal access token resolved by the caller at task time
// (§4.5: "never persisted in the task payload"). Repeated failures trip a
// circuit breaker so a dying provider doesn't get hammered by every worker.
func NewGitHubActionsClient(token string) *GitHubActionsClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "github_actions_api",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &GitHubActionsClient{
		client:  &http.Client{Timeout: 30 * time.Second},
		token:   token,
		baseURL: "https://api.github.com",
		breaker: breaker,
	}
}

func (c *GitHubActionsClient) Name() string { return "github_actions" }

type ghWorkflowRunsResponse struct {
	WorkflowRuns []ghWorkflowRun `json:"workflow_runs"`
}

type ghWorkflowRun struct {
	ID         int64  `json:"id"`
	HeadSHA    string `json:"head_sha"`
	HeadBranch string `json:"head_branch"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// FetchBuilds lists workflow runs for a repository since a point in time,
// paginated per the GitHub Actions API.
func (c *GitHubActionsClient) FetchBuilds(ctx context.Context, fullName string, since time.Time, limit, page int) ([]BuildSummary, error) {
	url := fmt.Sprintf("%s/repos/%s/actions/runs?per_page=%d&page=%d", c.baseURL, fullName, limit, page)
	var parsed ghWorkflowRunsResponse
	if err := c.getJSON(ctx, url, &parsed); err != nil {
		return nil, fmt.Errorf("ingestion: fetch builds for %s: %w", fullName, err)
	}

	out := make([]BuildSummary, 0, len(parsed.WorkflowRuns))
	for _, run := range parsed.WorkflowRuns {
		startedAt, _ := time.Parse(time.RFC3339, run.CreatedAt)
		if !since.IsZero() && startedAt.Before(since) {
			continue
		}
		finishedAt, _ := time.Parse(time.RFC3339, run.UpdatedAt)
		out = append(out, BuildSummary{
			ExternalID: strconv.FormatInt(run.ID, 10),
			CommitSHA:  run.HeadSHA,
			Branch:     run.HeadBranch,
			Status:     run.Status,
			Conclusion: run.Conclusion,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
		})
	}
	return out, nil
}

type ghJob struct {
	Name string `json:"name"`
}

type ghJobsResponse struct {
	Jobs []ghJob `json:"jobs"`
}

// FetchBuildLogs downloads the per-job log archive. GitHub expires run logs
// after 90 days; a 410 Gone response is surfaced as an expired LogFile
// rather than an error, matching §4.5's expired-logs contract.
func (c *GitHubActionsClient) FetchBuildLogs(ctx context.Context, fullName, externalID string) ([]LogFile, error) {
	jobsURL := fmt.Sprintf("%s/repos/%s/actions/runs/%s/jobs", c.baseURL, fullName, externalID)
	var jobsResp ghJobsResponse
	if err := c.getJSON(ctx, jobsURL, &jobsResp); err != nil {
		return nil, fmt.Errorf("ingestion: list jobs for run %s: %w", externalID, err)
	}

	logs := make([]LogFile, 0, len(jobsResp.Jobs))
	for _, job := range jobsResp.Jobs {
		logURL := fmt.Sprintf("%s/repos/%s/actions/runs/%s/logs", c.baseURL, fullName, externalID)
		body, status, err := c.get(ctx, logURL)
		if err != nil {
			return nil, fmt.Errorf("ingestion: download log for job %q: %w", job.Name, err)
		}
		if status == http.StatusGone || status == http.StatusNotFound {
			logs = append(logs, LogFile{JobName: job.Name, Expired: true})
			continue
		}
		logs = append(logs, LogFile{JobName: job.Name, Content: body})
	}
	return logs, nil
}

// GetCommitPatch fetches the unified diff for a commit, used to replay it
// on top of the closest reachable parent when the original is on an
// unreachable fork (§4.5 fork-commit replay).
func (c *GitHubActionsClient) GetCommitPatch(ctx context.Context, fullName, sha string) (*CommitPatch, error) {
	url := fmt.Sprintf("%s/repos/%s/commits/%s", c.baseURL, fullName, sha)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/vnd.github.v3.patch")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingestion: get commit patch for %s: %w", sha, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingestion: get commit patch for %s: status %d", sha, resp.StatusCode)
	}
	patch, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var meta struct {
		Parents []struct {
			SHA string `json:"sha"`
		} `json:"parents"`
	}
	metaURL := fmt.Sprintf("%s/repos/%s/commits/%s", c.baseURL, fullName, sha)
	if err := c.getJSON(ctx, metaURL, &meta); err != nil {
		return nil, fmt.Errorf("ingestion: get commit parents for %s: %w", sha, err)
	}
	if len(meta.Parents) == 0 {
		return nil, fmt.Errorf("ingestion: commit %s has no parents to replay from", sha)
	}

	return &CommitPatch{ParentSHA: meta.Parents[0].SHA, Patch: patch}, nil
}

// RateLimit reports the client's current GitHub API quota.
func (c *GitHubActionsClient) RateLimit(ctx context.Context) (RateLimitStatus, error) {
	url := fmt.Sprintf("%s/rate_limit", c.baseURL)
	var parsed struct {
		Resources struct {
			Core struct {
				Remaining int   `json:"remaining"`
				Limit     int   `json:"limit"`
				Reset     int64 `json:"reset"`
			} `json:"core"`
		} `json:"resources"`
	}
	if err := c.getJSON(ctx, url, &parsed); err != nil {
		return RateLimitStatus{}, fmt.Errorf("ingestion: rate limit: %w", err)
	}
	return RateLimitStatus{
		Remaining: parsed.Resources.Core.Remaining,
		Limit:     parsed.Resources.Core.Limit,
		ResetAt:   time.Unix(parsed.Resources.Core.Reset, 0),
	}, nil
}

func (c *GitHubActionsClient) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}

func (c *GitHubActionsClient) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	c.setHeaders(req)

	type result struct {
		body   []byte
		status int
	}
	res, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return result{body, resp.StatusCode}, fmt.Errorf("status %d", resp.StatusCode)
		}
		return result{body, resp.StatusCode}, nil
	})
	if err != nil {
		if r, ok := res.(result); ok {
			return r.body, r.status, nil
		}
		return nil, 0, err
	}
	r := res.(result)
	return r.body, r.status, nil
}

func (c *GitHubActionsClient) getJSON(ctx context.Context, url string, out any) error {
	body, status, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("status %d: %s", status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}
