package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeLogProvider struct {
	byExternalID map[string][]LogFile
}

func (f *fakeLogProvider) Name() string { return "fake" }
func (f *fakeLogProvider) FetchBuilds(ctx context.Context, fullName string, since time.Time, limit, page int) ([]BuildSummary, error) {
	return nil, nil
}
func (f *fakeLogProvider) FetchBuildLogs(ctx context.Context, fullName, externalID string) ([]LogFile, error) {
	files, ok := f.byExternalID[externalID]
	if !ok {
		return nil, fmt.Errorf("no such run %s", externalID)
	}
	return files, nil
}
func (f *fakeLogProvider) GetCommitPatch(ctx context.Context, fullName, sha string) (*CommitPatch, error) {
	return nil, fmt.Errorf("not implemented")
}
func (f *fakeLogProvider) RateLimit(ctx context.Context) (RateLimitStatus, error) {
	return RateLimitStatus{}, nil
}

func TestDownloadBuildLogsBatchWritesFiles(t *testing.T) {
	provider := &fakeLogProvider{byExternalID: map[string][]LogFile{
		"1": {{JobName: "build", Content: []byte("ok\n")}},
	}}
	logsRoot := t.TempDir()

	outcomes := DownloadBuildLogsBatch(context.Background(), logsRoot, "repo-1", "acme/widget",
		[]BuildRef{{BuildID: "b1", ExternalID: "1"}}, provider, 10, 0)

	require.Len(t, outcomes, 1)
	require.Equal(t, 1, outcomes[0].JobsWritten)
	require.False(t, outcomes[0].Expired)

	content, err := os.ReadFile(filepath.Join(logsRoot, "repo-1", "1", "build.log"))
	require.NoError(t, err)
	require.Equal(t, "ok\n", string(content))
}

func TestDownloadBuildLogsBatchStopsOnExpiredStreak(t *testing.T) {
	byExternalID := map[string][]LogFile{}
	var builds []BuildRef
	for i := 0; i < 15; i++ {
		id := fmt.Sprintf("%d", i)
		byExternalID[id] = []LogFile{{JobName: "build", Expired: true}}
		builds = append(builds, BuildRef{BuildID: "b" + id, ExternalID: id})
	}
	provider := &fakeLogProvider{byExternalID: byExternalID}

	outcomes := DownloadBuildLogsBatch(context.Background(), t.TempDir(), "repo-1", "acme/widget", builds, provider, 10, 0)
	require.Len(t, outcomes, 10, "must stop after 10 consecutive expired builds")
	for _, o := range outcomes {
		require.True(t, o.Expired)
	}
}

func TestDownloadBuildLogsBatchDropsOversizedFiles(t *testing.T) {
	provider := &fakeLogProvider{byExternalID: map[string][]LogFile{
		"1": {{JobName: "build", Content: make([]byte, 100)}},
	}}
	logsRoot := t.TempDir()

	outcomes := DownloadBuildLogsBatch(context.Background(), logsRoot, "repo-1", "acme/widget",
		[]BuildRef{{BuildID: "b1", ExternalID: "1"}}, provider, 10, 10)

	require.Equal(t, 0, outcomes[0].JobsWritten)
	_, err := os.Stat(filepath.Join(logsRoot, "repo-1", "1", "build.log"))
	require.True(t, os.IsNotExist(err))
}
