package ingestion

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/antigravity-dev/buildrisk/internal/pipelineerr"
)

// WorktreeOutcome is the per-commit result of CreateWorktreesBatch.
type WorktreeOutcome struct {
	CommitSHA    string
	EffectiveSHA string
	Outcome      string // created | skipped | replayed | failed
	Path         string
	Err          error
}

// BatchSummary aggregates WorktreeOutcomes for one CreateWorktreesBatch call.
type BatchSummary struct {
	Results              []WorktreeOutcome
	CreatedCommits       int
	FailedCommits        int
	ForkCommitsReplayed  int
}

// CreateWorktreesBatch checks out each commit SHA as a detached worktree
// under <worktrees_root>/<raw_repo_id>/<sha[:12]>. A commit unreachable in
// the bare clone is, when allowReplay is set, reconstructed from the
// upstream fork's patch applied on top of the closest reachable parent
// (§4.5). Idempotent: an existing worktree directory is reported "skipped".
func CreateWorktreesBatch(ctx context.Context, reposRoot, worktreesRoot, rawRepoID string, commitSHAs []string, allowReplay bool, provider CIProvider, fullName string, locks *RepoLock) (BatchSummary, error) {
	release, err := locks.Acquire(rawRepoID)
	if err != nil {
		return BatchSummary{}, pipelineerr.New(pipelineerr.KindRetryable, "create_worktrees_batch", err)
	}
	defer release()

	repoPath := filepath.Join(reposRoot, rawRepoID)
	var summary BatchSummary

	for _, sha := range commitSHAs {
		outcome := createOneWorktree(ctx, repoPath, worktreesRoot, rawRepoID, sha, allowReplay, provider, fullName)
		summary.Results = append(summary.Results, outcome)
		switch outcome.Outcome {
		case "created", "replayed":
			summary.CreatedCommits++
			if outcome.Outcome == "replayed" {
				summary.ForkCommitsReplayed++
			}
		case "failed":
			summary.FailedCommits++
		}
	}
	return summary, nil
}

func createOneWorktree(ctx context.Context, repoPath, worktreesRoot, rawRepoID, sha string, allowReplay bool, provider CIProvider, fullName string) WorktreeOutcome {
	shortSHA := shortSHA(sha)
	worktreePath := filepath.Join(worktreesRoot, rawRepoID, shortSHA)

	if info, err := os.Stat(worktreePath); err == nil && info.IsDir() {
		return WorktreeOutcome{CommitSHA: sha, EffectiveSHA: sha, Outcome: "skipped", Path: worktreePath}
	}

	effectiveSHA := sha
	if !CommitReachable(repoPath, sha) {
		if !allowReplay || provider == nil {
			return WorktreeOutcome{CommitSHA: sha, Outcome: "failed", Err: fmt.Errorf("commit %s unreachable, replay not permitted", sha)}
		}
		replayed, err := replayCommit(ctx, repoPath, sha, provider, fullName)
		if err != nil {
			return WorktreeOutcome{CommitSHA: sha, Outcome: "failed", Err: err}
		}
		effectiveSHA = replayed
	}

	if err := os.MkdirAll(filepath.Dir(worktreePath), 0o755); err != nil {
		return WorktreeOutcome{CommitSHA: sha, Outcome: "failed", Err: err}
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "--detach", worktreePath, effectiveSHA)
	cmd.Dir = repoPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return WorktreeOutcome{CommitSHA: sha, Outcome: "failed", Err: fmt.Errorf("worktree add %s: %w (%s)", sha, err, strings.TrimSpace(string(out)))}
	}

	outcome := "created"
	if effectiveSHA != sha {
		outcome = "replayed"
	}
	return WorktreeOutcome{CommitSHA: sha, EffectiveSHA: effectiveSHA, Outcome: outcome, Path: worktreePath}
}

// replayCommit reconstructs sha as a synthetic local commit by applying the
// upstream patch on top of its closest reachable parent, returning the new
// commit's SHA.
func replayCommit(ctx context.Context, repoPath, sha string, provider CIProvider, fullName string) (string, error) {
	patch, err := provider.GetCommitPatch(ctx, fullName, sha)
	if err != nil {
		return "", fmt.Errorf("fork replay %s: %w", sha, err)
	}
	if !CommitReachable(repoPath, patch.ParentSHA) {
		return "", fmt.Errorf("fork replay %s: parent %s also unreachable", sha, patch.ParentSHA)
	}

	patchFile, err := os.CreateTemp("", "buildrisk-replay-*.patch")
	if err != nil {
		return "", err
	}
	defer os.Remove(patchFile.Name())
	if _, err := patchFile.Write(patch.Patch); err != nil {
		patchFile.Close()
		return "", err
	}
	patchFile.Close()

	tmpBranch := "buildrisk-replay-" + shortSHA(sha)
	apply := exec.CommandContext(ctx, "git", "worktree", "add", "-b", tmpBranch, os.TempDir()+"/"+tmpBranch, patch.ParentSHA)
	apply.Dir = repoPath
	if out, err := apply.CombinedOutput(); err != nil {
		return "", fmt.Errorf("fork replay %s: checkout parent: %w (%s)", sha, err, strings.TrimSpace(string(out)))
	}
	tmpWorktree := os.TempDir() + "/" + tmpBranch
	defer func() {
		cleanup := exec.Command("git", "worktree", "remove", "--force", tmpWorktree)
		cleanup.Dir = repoPath
		cleanup.Run()
	}()

	applyPatch := exec.CommandContext(ctx, "git", "am", patchFile.Name())
	applyPatch.Dir = tmpWorktree
	if out, err := applyPatch.CombinedOutput(); err != nil {
		return "", fmt.Errorf("fork replay %s: apply patch: %w (%s)", sha, err, strings.TrimSpace(string(out)))
	}

	rev := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	rev.Dir = tmpWorktree
	out, err := rev.Output()
	if err != nil {
		return "", fmt.Errorf("fork replay %s: resolve new commit: %w", sha, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
