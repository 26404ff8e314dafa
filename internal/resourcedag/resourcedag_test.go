package resourcedag

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAcquirer struct {
	fail map[Resource]error
	seen []Resource
}

func (f *fakeAcquirer) Acquire(ctx context.Context, r Resource) error {
	f.seen = append(f.seen, r)
	if err, ok := f.fail[r]; ok {
		return err
	}
	return nil
}

func TestLevelsOrdersWorktreeAfterHistory(t *testing.T) {
	levels, err := Levels([]Resource{ResourceGitWorktree, ResourceGitHistory, ResourceBuildLogs})
	require.NoError(t, err)
	require.Len(t, levels, 2)
	require.ElementsMatch(t, []Resource{ResourceGitHistory, ResourceBuildLogs}, levels[0])
	require.Equal(t, []Resource{ResourceGitWorktree}, levels[1])
}

func TestLevelsRejectsUnknownResource(t *testing.T) {
	_, err := Levels([]Resource{Resource("nonsense")})
	require.Error(t, err)
}

func TestResolveDegradesWorktreeWhenHistoryFails(t *testing.T) {
	acq := &fakeAcquirer{fail: map[Resource]error{ResourceGitHistory: fmt.Errorf("clone failed")}}
	statuses, err := Resolve(context.Background(), acq, []Resource{ResourceGitHistory, ResourceGitWorktree, ResourceBuildLogs})
	require.NoError(t, err)

	byResource := map[Resource]Status{}
	for _, s := range statuses {
		byResource[s.Resource] = s
	}
	require.False(t, byResource[ResourceGitHistory].Available)
	require.False(t, byResource[ResourceGitWorktree].Available, "worktree must degrade when its dependency is unavailable")
	require.True(t, byResource[ResourceBuildLogs].Available, "independent resource must still succeed")

	require.NotContains(t, acq.seen, ResourceGitWorktree, "worktree acquisition must be skipped, not attempted and failed")
}

func TestResolveAllAvailable(t *testing.T) {
	acq := &fakeAcquirer{}
	statuses, err := Resolve(context.Background(), acq, All())
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	for _, s := range statuses {
		require.True(t, s.Available)
	}
}
