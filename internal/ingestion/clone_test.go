package ingestion

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initSourceRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644))
	run("add", ".")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestCloneRepoClonesThenRefreshes(t *testing.T) {
	src := initSourceRepo(t)
	reposRoot := t.TempDir()
	locks := NewRepoLock(filepath.Join(reposRoot, ".locks"))

	out, err := CloneRepo(reposRoot, "repo-1", src, locks)
	require.NoError(t, err)
	require.Equal(t, "cloned", out.Status)
	require.DirExists(t, out.Path)

	out2, err := CloneRepo(reposRoot, "repo-1", src, locks)
	require.NoError(t, err)
	require.Equal(t, "refreshed", out2.Status)
}

func TestCloneRepoFailsOnBadURL(t *testing.T) {
	reposRoot := t.TempDir()
	locks := NewRepoLock(filepath.Join(reposRoot, ".locks"))

	_, err := CloneRepo(reposRoot, "repo-2", "/nonexistent/path/to/repo.git", locks)
	require.Error(t, err)
}

func TestCommitReachable(t *testing.T) {
	src := initSourceRepo(t)
	reposRoot := t.TempDir()
	locks := NewRepoLock(filepath.Join(reposRoot, ".locks"))

	out, err := CloneRepo(reposRoot, "repo-3", src, locks)
	require.NoError(t, err)

	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = src
	head, err := cmd.Output()
	require.NoError(t, err)
	sha := string(head[:40])

	require.True(t, CommitReachable(out.Path, sha))
	require.False(t, CommitReachable(out.Path, "0000000000000000000000000000000000000000"))
}
