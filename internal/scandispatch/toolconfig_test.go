package scandispatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaterializeToolConfigWritesSonarProperties(t *testing.T) {
	root := t.TempDir()
	path, err := MaterializeToolConfig(root, "sc-1", "repo-a", ToolSonar, map[string]any{"sonar.exclusions": "**/vendor/**"})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "sc-1", "repo-a", "sonar-project.properties"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(content), "sonar.projectKey=repo-a")
	require.Contains(t, string(content), "sonar.exclusions=**/vendor/**")
}

func TestMaterializeToolConfigWritesTrivyYAML(t *testing.T) {
	root := t.TempDir()
	path, err := MaterializeToolConfig(root, "sc-1", "repo-a", ToolTrivy, nil)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(content), "security-checks")
}

func TestMaterializeToolConfigIsIdempotent(t *testing.T) {
	root := t.TempDir()
	path, err := MaterializeToolConfig(root, "sc-1", "repo-a", ToolSonar, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("custom-edit"), 0o644))

	path2, err := MaterializeToolConfig(root, "sc-1", "repo-a", ToolSonar, nil)
	require.NoError(t, err)
	require.Equal(t, path, path2)

	content, err := os.ReadFile(path2)
	require.NoError(t, err)
	require.Equal(t, "custom-edit", string(content), "existing config must not be clobbered on redispatch")
}
