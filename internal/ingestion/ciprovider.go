package ingestion

import (
	"context"
	"time"
)

// BuildSummary is one CI-reported build, as returned by a CIProvider's
// FetchBuilds call.
type BuildSummary struct {
	ExternalID string
	CommitSHA  string
	Branch     string
	Status     string
	Conclusion string
	StartedAt  time.Time
	FinishedAt time.Time
	JobNames   []string
}

// LogFile is one job's downloaded log content.
type LogFile struct {
	JobName string
	Content []byte
	Expired bool // provider reports the log has aged out of retention
}

// CommitPatch is the upstream fork-replay payload for an unreachable commit
// (§4.5 create_worktrees_batch): the unified diff plus the parent SHA it
// applies against.
type CommitPatch struct {
	ParentSHA string
	Patch     []byte
}

// RateLimitStatus reports a CI provider's current quota, used by the
// credential pool to decide cooldowns.
type RateLimitStatus struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// CIProvider is the external collaborator interface pinned by §6: the spec
// fixes only these methods, leaving the concrete provider (GitHub Actions,
// GitLab CI, …) as an interchangeable implementation.
type CIProvider interface {
	Name() string
	FetchBuilds(ctx context.Context, fullName string, since time.Time, limit, page int) ([]BuildSummary, error)
	FetchBuildLogs(ctx context.Context, fullName, externalID string) ([]LogFile, error)
	GetCommitPatch(ctx context.Context, fullName, sha string) (*CommitPatch, error)
	RateLimit(ctx context.Context) (RateLimitStatus, error)
}
