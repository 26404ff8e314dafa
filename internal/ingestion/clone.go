// Package ingestion implements the three idempotent resource-acquisition
// tasks C3 orders and C2 chains together for one repository: cloning the
// bare repo, checking out per-commit worktrees (with fork-commit replay),
// and downloading build logs (C5).
package ingestion

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/antigravity-dev/buildrisk/internal/pipelineerr"
)

// CloneOutcome reports the result of CloneRepo (§4.5 clone_repo).
type CloneOutcome struct {
	Status string // "cloned" | "refreshed"
	Path   string
}

// CloneRepo ensures a bare clone exists at <repos_root>/<raw_repo_id>. If
// one is already present it runs `fetch --all --prune`; otherwise it clones
// with `--bare`. Idempotent: re-running against an already-cloned repo is a
// refresh, not an error.
func CloneRepo(reposRoot, rawRepoID, cloneURL string, locks *RepoLock) (CloneOutcome, error) {
	release, err := locks.Acquire(rawRepoID)
	if err != nil {
		return CloneOutcome{}, pipelineerr.New(pipelineerr.KindRetryable, "clone_repo", err)
	}
	defer release()

	path := filepath.Join(reposRoot, rawRepoID)

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		cmd := exec.Command("git", "fetch", "--all", "--prune")
		cmd.Dir = path
		if out, err := cmd.CombinedOutput(); err != nil {
			return CloneOutcome{}, pipelineerr.New(pipelineerr.KindRetryable, "clone_repo",
				fmt.Errorf("refresh %s: %w (%s)", rawRepoID, err, strings.TrimSpace(string(out))))
		}
		return CloneOutcome{Status: "refreshed", Path: path}, nil
	}

	if err := os.MkdirAll(reposRoot, 0o755); err != nil {
		return CloneOutcome{}, pipelineerr.New(pipelineerr.KindFatal, "clone_repo", err)
	}

	cmd := exec.Command("git", "clone", "--bare", cloneURL, path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.RemoveAll(path)
		kind := pipelineerr.KindRetryable
		if isAuthFailure(string(out)) {
			kind = pipelineerr.KindFatal
		}
		return CloneOutcome{}, pipelineerr.New(kind, "clone_repo",
			fmt.Errorf("clone %s: %w (%s)", rawRepoID, err, strings.TrimSpace(string(out))))
	}

	return CloneOutcome{Status: "cloned", Path: path}, nil
}

func isAuthFailure(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "authentication failed") ||
		strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "could not read username")
}

// CommitReachable reports whether sha is resolvable in the bare clone at path.
func CommitReachable(path, sha string) bool {
	cmd := exec.Command("git", "cat-file", "-e", sha+"^{commit}")
	cmd.Dir = path
	return cmd.Run() == nil
}
