package ingestion

import (
	"context"
	"os"
	"path/filepath"

	"github.com/antigravity-dev/buildrisk/internal/pipelineerr"
)

// LogOutcome is the per-build result of DownloadBuildLogs.
type LogOutcome struct {
	BuildID     string
	ExternalID  string
	JobsWritten int
	Expired     bool
	Err         error
}

// DownloadBuildLogsBatch downloads logs for a batch of builds, writing one
// file per job under <logs_root>/<raw_repo_id>/<ci_run_id>/<job_name>.log.
// It stops early once expiredStreak consecutive builds return expired logs
// (§4.5: providers generally expire in chronological order, so continuing
// would just waste calls), returning outcomes for the builds already
// attempted.
func DownloadBuildLogsBatch(ctx context.Context, logsRoot, rawRepoID, fullName string, builds []BuildRef, provider CIProvider, expiredStreak int, maxFileBytes int64) []LogOutcome {
	if expiredStreak <= 0 {
		expiredStreak = 10
	}

	var outcomes []LogOutcome
	consecutiveExpired := 0

	for _, b := range builds {
		outcome := downloadOneBuildLogs(ctx, logsRoot, rawRepoID, fullName, b, provider, maxFileBytes)
		outcomes = append(outcomes, outcome)

		if outcome.Expired {
			consecutiveExpired++
			if consecutiveExpired >= expiredStreak {
				break
			}
		} else {
			consecutiveExpired = 0
		}
	}
	return outcomes
}

// BuildRef is the minimal identity DownloadBuildLogsBatch needs per build.
type BuildRef struct {
	BuildID    string
	ExternalID string
}

func downloadOneBuildLogs(ctx context.Context, logsRoot, rawRepoID, fullName string, b BuildRef, provider CIProvider, maxFileBytes int64) LogOutcome {
	files, err := provider.FetchBuildLogs(ctx, fullName, b.ExternalID)
	if err != nil {
		return LogOutcome{BuildID: b.BuildID, ExternalID: b.ExternalID, Err: pipelineerr.New(pipelineerr.KindRetryable, "download_build_logs", err)}
	}

	anyExpired := false
	allExpired := len(files) > 0
	dir := filepath.Join(logsRoot, rawRepoID, b.ExternalID)
	written := 0

	for _, f := range files {
		if f.Expired {
			anyExpired = true
			continue
		}
		allExpired = false
		if maxFileBytes > 0 && int64(len(f.Content)) > maxFileBytes {
			continue // dropped without a log line; LogOutcome does not record it and JobsWritten excludes it
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return LogOutcome{BuildID: b.BuildID, ExternalID: b.ExternalID, Err: pipelineerr.New(pipelineerr.KindFatal, "download_build_logs", err)}
		}
		path := filepath.Join(dir, f.JobName+".log")
		if err := os.WriteFile(path, f.Content, 0o644); err != nil {
			return LogOutcome{BuildID: b.BuildID, ExternalID: b.ExternalID, Err: pipelineerr.New(pipelineerr.KindFatal, "download_build_logs", err)}
		}
		written++
	}

	return LogOutcome{
		BuildID:     b.BuildID,
		ExternalID:  b.ExternalID,
		JobsWritten: written,
		Expired:     allExpired && anyExpired,
	}
}
