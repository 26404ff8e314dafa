package scandispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerRunner executes scanner containers against a commit's worktree. One
// runner is shared across scan tasks; each Run call is independent.
type DockerRunner struct {
	cli *client.Client
}

// NewDockerRunner connects to the local Docker daemon using the ambient
// environment (DOCKER_HOST et al.), negotiating the API version so the
// client works against whatever daemon version is running.
func NewDockerRunner() (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("scandispatch: docker client: %w", err)
	}
	return &DockerRunner{cli: cli}, nil
}

// RunTrivy runs the Trivy image against a worktree and returns the parsed
// vulnerability metrics. Trivy scans run synchronously inside their task
// and backfill on return (§4.7: "Trivy runs the scanner synchronously
// inside its task and backfills on return").
func (d *DockerRunner) RunTrivy(ctx context.Context, image, worktreePath, configPath string, timeout time.Duration) (map[string]string, error) {
	reportDir, err := os.MkdirTemp("", "trivy-report-*")
	if err != nil {
		return nil, fmt.Errorf("scandispatch: trivy report dir: %w", err)
	}
	defer os.RemoveAll(reportDir)
	reportPath := filepath.Join(reportDir, "report.json")

	cfg := &container.Config{
		Image: image,
		Cmd: []string{
			"fs", "--format", "json", "--output", "/report/report.json",
			"--config", "/scan-config/trivy.yaml", "/workspace",
		},
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: worktreePath, Target: "/workspace", ReadOnly: true},
			{Type: mount.TypeBind, Source: filepath.Dir(configPath), Target: "/scan-config", ReadOnly: true},
			{Type: mount.TypeBind, Source: reportDir, Target: "/report"},
		},
		AutoRemove: true,
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name := fmt.Sprintf("buildrisk-trivy-%d", time.Now().UnixNano())
	resp, err := d.cli.ContainerCreate(runCtx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("scandispatch: create trivy container: %w", err)
	}
	if err := d.cli.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("scandispatch: start trivy container: %w", err)
	}

	statusCh, errCh := d.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("scandispatch: wait trivy container: %w", err)
		}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return nil, fmt.Errorf("scandispatch: trivy exited with status %d", status.StatusCode)
		}
	}

	report, err := os.ReadFile(reportPath)
	if err != nil {
		return nil, fmt.Errorf("scandispatch: read trivy report: %w", err)
	}
	return ParseTrivyReport(report)
}

// StartSonarScan launches the sonar-scanner image against a worktree and
// returns once the container is running; Sonar is webhook-driven (§4.7), so
// this does not wait for or parse results — the SonarQube server calls back
// via HandleSonarWebhook once analysis completes.
func (d *DockerRunner) StartSonarScan(ctx context.Context, image, worktreePath, configPath string) (string, error) {
	cfg := &container.Config{
		Image:      image,
		Cmd:        []string{"-Dproject.settings=/scan-config/sonar-project.properties"},
		WorkingDir: "/workspace",
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: worktreePath, Target: "/workspace"},
			{Type: mount.TypeBind, Source: filepath.Dir(configPath), Target: "/scan-config", ReadOnly: true},
		},
	}
	name := fmt.Sprintf("buildrisk-sonar-%d", time.Now().UnixNano())
	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("scandispatch: create sonar container: %w", err)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("scandispatch: start sonar container: %w", err)
	}
	return resp.ID, nil
}

// CaptureOutput returns the combined stdout/stderr of a completed container,
// for attaching to a failed scan's audit trail.
func (d *DockerRunner) CaptureOutput(ctx context.Context, containerID string) (string, error) {
	logs, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", err
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", err
	}
	return stdout.String() + stderr.String(), nil
}

// trivyReport is the slice of Trivy's JSON report shape this package reads.
type trivyReport struct {
	Results []struct {
		Vulnerabilities []struct {
			Severity string `json:"Severity"`
		} `json:"Vulnerabilities"`
	} `json:"Results"`
}

// ParseTrivyReport reduces a Trivy JSON report to the metric keys this
// platform backfills: total vulnerability count plus a per-severity count.
func ParseTrivyReport(raw []byte) (map[string]string, error) {
	var report trivyReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("scandispatch: parse trivy report: %w", err)
	}

	total := 0
	bySeverity := map[string]int{}
	for _, result := range report.Results {
		for _, v := range result.Vulnerabilities {
			total++
			bySeverity[v.Severity]++
		}
	}

	metrics := map[string]string{"vulns": strconv.Itoa(total)}
	for sev, count := range bySeverity {
		metrics["vulns_"+lowerSeverity(sev)] = strconv.Itoa(count)
	}
	return metrics, nil
}

func lowerSeverity(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
