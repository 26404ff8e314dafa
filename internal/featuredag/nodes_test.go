package featuredag

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseShortstat(t *testing.T) {
	added, removed := parseShortstat(" 3 files changed, 10 insertions(+), 4 deletions(-)")
	require.Equal(t, 10, added)
	require.Equal(t, 4, removed)
}

func TestParseShortstatInsertionsOnly(t *testing.T) {
	added, removed := parseShortstat(" 1 file changed, 2 insertions(+)")
	require.Equal(t, 2, added)
	require.Equal(t, 0, removed)
}

func TestIsSourceFile(t *testing.T) {
	require.True(t, isSourceFile("main.go"))
	require.True(t, isSourceFile("script.PY"))
	require.False(t, isSourceFile("README.md"))
}

func TestExtractHasCIConfigDetectsGitHubActions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".github", "workflows"), 0o755))

	res, err := extractHasCIConfig(context.Background(), &BuildContext{WorktreePath: dir})
	require.NoError(t, err)
	require.Equal(t, true, res.Value)
}

func TestExtractHasCIConfigAbsent(t *testing.T) {
	dir := t.TempDir()
	res, err := extractHasCIConfig(context.Background(), &BuildContext{WorktreePath: dir})
	require.NoError(t, err)
	require.Equal(t, false, res.Value)
}

func TestExtractHasIaCConfigDetectsDockerfile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM scratch"), 0o644))

	res, err := extractHasIaCConfig(context.Background(), &BuildContext{WorktreePath: dir})
	require.NoError(t, err)
	require.Equal(t, true, res.Value)
}

func TestExtractTestsRunParsesLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "build.log")
	require.NoError(t, os.WriteFile(logPath, []byte("Ran suite: 42 tests run, 3 failed\nbuild finished in 12.5s\n"), 0o644))

	res, err := extractTestsRun(context.Background(), &BuildContext{LogsPath: logPath})
	require.NoError(t, err)
	require.Equal(t, 42, res.Value)

	failed, err := extractTestsFailed(context.Background(), &BuildContext{LogsPath: logPath})
	require.NoError(t, err)
	require.Equal(t, 3, failed.Value)

	duration, err := extractBuildDurationS(context.Background(), &BuildContext{LogsPath: logPath})
	require.NoError(t, err)
	require.Equal(t, 12.5, duration.Value)
}

func TestExtractTestsRunDegradesWhenLogsMissing(t *testing.T) {
	res, err := extractTestsRun(context.Background(), &BuildContext{LogsPath: ""})
	require.NoError(t, err)
	require.True(t, res.Degraded)
}

func TestExtractHistoryPrevFailedDegradesWithoutPriorBuild(t *testing.T) {
	bc := &BuildContext{Values: map[string]any{}}
	res, err := extractHistoryPrevFailed(context.Background(), bc)
	require.NoError(t, err)
	require.True(t, res.Degraded)
}

func TestExtractHistoryPrevFailedReadsPriorStatus(t *testing.T) {
	bc := &BuildContext{Values: map[string]any{"_history_previous_status": "failed"}}
	res, err := extractHistoryPrevFailed(context.Background(), bc)
	require.NoError(t, err)
	require.Equal(t, true, res.Value)
}

func TestSeedNodesRegisterWithoutDuplicates(t *testing.T) {
	reg, err := NewRegistry(SeedNodes())
	require.NoError(t, err)
	require.Len(t, reg.Names(), len(SeedNodes()))
}
