package featuredag

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/antigravity-dev/buildrisk/internal/resourcedag"
)

func nowUnix() int64 { return time.Now().Unix() }

// simpleNode adapts a plain function into a FeatureNode for the seed
// registry's straightforward extractors.
type simpleNode struct {
	name      string
	requires  []string
	resources []resourcedag.Resource
	extract   func(ctx context.Context, bc *BuildContext) (Result, error)
}

func (n simpleNode) Name() string                                 { return n.name }
func (n simpleNode) RequiresFeatures() []string                   { return n.requires }
func (n simpleNode) RequiresResources() []resourcedag.Resource    { return n.resources }
func (n simpleNode) Extract(ctx context.Context, bc *BuildContext) (Result, error) {
	return n.extract(ctx, bc)
}

// SeedNodes returns the starter feature registry covering one extractor per
// category named in §4.6: git history stats, repository snapshot, build-log
// parsing, DevOps config detection, build-history walk, change entropy, and
// CI-provider collaboration signals.
func SeedNodes() []FeatureNode {
	return []FeatureNode{
		simpleNode{
			name:      "git_commit_count",
			resources: []resourcedag.Resource{resourcedag.ResourceGitHistory},
			extract:   extractGitCommitCount,
		},
		simpleNode{
			name:      "git_author_count",
			resources: []resourcedag.Resource{resourcedag.ResourceGitHistory},
			extract:   extractGitAuthorCount,
		},
		simpleNode{
			name:      "git_diff_src_churn",
			resources: []resourcedag.Resource{resourcedag.ResourceGitWorktree},
			extract:   extractGitDiffSrcChurn,
		},
		simpleNode{
			name:      "git_change_entropy",
			resources: []resourcedag.Resource{resourcedag.ResourceGitWorktree},
			extract:   extractGitChangeEntropy,
		},
		simpleNode{
			name:      "git_repo_age_days",
			resources: []resourcedag.Resource{resourcedag.ResourceGitHistory},
			extract:   extractGitRepoAgeDays,
		},
		simpleNode{
			name:      "git_repo_sloc",
			resources: []resourcedag.Resource{resourcedag.ResourceGitWorktree},
			extract:   extractGitRepoSLOC,
		},
		simpleNode{
			name:      "git_has_ci_config",
			resources: []resourcedag.Resource{resourcedag.ResourceGitWorktree},
			extract:   extractHasCIConfig,
		},
		simpleNode{
			name:      "git_has_iac_config",
			resources: []resourcedag.Resource{resourcedag.ResourceGitWorktree},
			extract:   extractHasIaCConfig,
		},
		simpleNode{
			name:      "tr_tests_run",
			resources: []resourcedag.Resource{resourcedag.ResourceBuildLogs},
			extract:   extractTestsRun,
		},
		simpleNode{
			name:      "tr_tests_failed",
			resources: []resourcedag.Resource{resourcedag.ResourceBuildLogs},
			extract:   extractTestsFailed,
		},
		simpleNode{
			name:      "tr_build_duration_s",
			resources: []resourcedag.Resource{resourcedag.ResourceBuildLogs},
			extract:   extractBuildDurationS,
		},
		simpleNode{
			name:     "history_prev_failed",
			requires: []string{},
			extract:  extractHistoryPrevFailed,
		},
		simpleNode{
			name:     "history_fail_streak",
			requires: []string{"history_prev_failed"},
			extract:  extractHistoryFailStreak,
		},
		simpleNode{
			name:    "gh_team_size",
			extract: extractGHTeamSize,
		},
		simpleNode{
			name:    "gh_discussion_comments",
			extract: extractGHDiscussionComments,
		},
		simpleNode{
			name:      "git_commit_day_of_week",
			resources: []resourcedag.Resource{resourcedag.ResourceGitWorktree},
			extract:   extractCommitDayOfWeek,
		},
		simpleNode{
			name:      "git_devops_change_size",
			resources: []resourcedag.Resource{resourcedag.ResourceGitWorktree},
			extract:   extractDevOpsChangeSize,
		},
	}
}

// --- git history stats ---

func extractGitCommitCount(ctx context.Context, bc *BuildContext) (Result, error) {
	out, err := runGit(ctx, bc.WorktreePath, "rev-list", "--count", "HEAD")
	if err != nil {
		return Result{}, fmt.Errorf("git_commit_count: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return Result{}, fmt.Errorf("git_commit_count: parse: %w", err)
	}
	return Result{Value: n}, nil
}

func extractGitAuthorCount(ctx context.Context, bc *BuildContext) (Result, error) {
	out, err := runGit(ctx, bc.WorktreePath, "log", "--format=%ae")
	if err != nil {
		return Result{}, fmt.Errorf("git_author_count: %w", err)
	}
	seen := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			seen[line] = true
		}
	}
	return Result{Value: len(seen)}, nil
}

func extractGitRepoAgeDays(ctx context.Context, bc *BuildContext) (Result, error) {
	// -1 would limit to HEAD before --reverse applies, so read the whole
	// reversed log and take its first line (the root commit).
	out, err := runGit(ctx, bc.WorktreePath, "log", "--reverse", "--format=%at")
	if err != nil {
		return Result{}, fmt.Errorf("git_repo_age_days: %w", err)
	}
	firstLine := strings.SplitN(strings.TrimSpace(out), "\n", 2)[0]
	firstCommitUnix, err := strconv.ParseInt(strings.TrimSpace(firstLine), 10, 64)
	if err != nil {
		return Result{}, fmt.Errorf("git_repo_age_days: parse: %w", err)
	}
	ageSeconds := nowUnix() - firstCommitUnix
	if ageSeconds < 0 {
		ageSeconds = 0
	}
	return Result{Value: ageSeconds / 86400}, nil
}

// --- worktree-derived diff stats ---

func extractGitDiffSrcChurn(ctx context.Context, bc *BuildContext) (Result, error) {
	out, err := runGit(ctx, bc.WorktreePath, "diff", "--shortstat", "HEAD~1", "HEAD")
	if err != nil {
		// A shallow worktree without a prior commit is a normal boundary case.
		return Result{Degraded: true, Reason: "no prior commit to diff against"}, nil
	}
	added, removed := parseShortstat(out)
	return Result{Value: added + removed}, nil
}

func extractGitChangeEntropy(ctx context.Context, bc *BuildContext) (Result, error) {
	out, err := runGit(ctx, bc.WorktreePath, "diff", "--numstat", "HEAD~1", "HEAD")
	if err != nil {
		return Result{Degraded: true, Reason: "no prior commit to diff against"}, nil
	}
	changes := map[string]int{}
	total := 0
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		added, _ := strconv.Atoi(fields[0])
		removed, _ := strconv.Atoi(fields[1])
		n := added + removed
		changes[fields[2]] = n
		total += n
	}
	if total == 0 {
		return Result{Value: 0.0}, nil
	}
	var entropy float64
	for _, n := range changes {
		if n == 0 {
			continue
		}
		p := float64(n) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return Result{Value: entropy}, nil
}

func extractGitRepoSLOC(ctx context.Context, bc *BuildContext) (Result, error) {
	var total int
	err := filepath.WalkDir(bc.WorktreePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !isSourceFile(path) {
			return nil
		}
		total += countLines(path)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("git_repo_sloc: %w", err)
	}
	return Result{Value: total}, nil
}

var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".java": true,
	".rb": true, ".rs": true, ".c": true, ".cpp": true, ".h": true,
}

func isSourceFile(path string) bool {
	return sourceExtensions[strings.ToLower(filepath.Ext(path))]
}

func countLines(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		n++
	}
	return n
}

// --- DevOps config detection ---

var ciConfigPaths = []string{
	".github/workflows", ".circleci/config.yml", ".travis.yml", ".gitlab-ci.yml", "Jenkinsfile",
}

var iacConfigPattern = regexp.MustCompile(`(?i)\.(tf|tfvars)$|^(Dockerfile|docker-compose\.ya?ml|helmfile\.ya?ml)$`)

func extractHasCIConfig(ctx context.Context, bc *BuildContext) (Result, error) {
	for _, rel := range ciConfigPaths {
		if _, err := os.Stat(filepath.Join(bc.WorktreePath, rel)); err == nil {
			return Result{Value: true}, nil
		}
	}
	return Result{Value: false}, nil
}

func extractHasIaCConfig(ctx context.Context, bc *BuildContext) (Result, error) {
	found := false
	_ = filepath.WalkDir(bc.WorktreePath, func(path string, d os.DirEntry, err error) error {
		if err != nil || found {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if !d.IsDir() && iacConfigPattern.MatchString(d.Name()) {
			found = true
		}
		return nil
	})
	return Result{Value: found}, nil
}

// --- build-log parsing ---

var testsRunPattern = regexp.MustCompile(`(?i)(\d+)\s+tests?\s+run`)
var testsFailedPattern = regexp.MustCompile(`(?i)(\d+)\s+(?:tests?\s+)?failed`)
var buildDurationPattern = regexp.MustCompile(`(?i)build\s+(?:finished|completed)\s+in\s+([\d.]+)\s*s`)

func extractTestsRun(ctx context.Context, bc *BuildContext) (Result, error) {
	text, err := readLogs(bc.LogsPath)
	if err != nil {
		return Result{Degraded: true, Reason: "missing_resource"}, nil
	}
	m := testsRunPattern.FindStringSubmatch(text)
	if m == nil {
		return Result{Degraded: true, Reason: "pattern not found in logs"}, nil
	}
	n, _ := strconv.Atoi(m[1])
	return Result{Value: n}, nil
}

func extractTestsFailed(ctx context.Context, bc *BuildContext) (Result, error) {
	text, err := readLogs(bc.LogsPath)
	if err != nil {
		return Result{Degraded: true, Reason: "missing_resource"}, nil
	}
	m := testsFailedPattern.FindStringSubmatch(text)
	if m == nil {
		return Result{Value: 0}, nil
	}
	n, _ := strconv.Atoi(m[1])
	return Result{Value: n}, nil
}

func extractBuildDurationS(ctx context.Context, bc *BuildContext) (Result, error) {
	text, err := readLogs(bc.LogsPath)
	if err != nil {
		return Result{Degraded: true, Reason: "missing_resource"}, nil
	}
	m := buildDurationPattern.FindStringSubmatch(text)
	if m == nil {
		return Result{Degraded: true, Reason: "pattern not found in logs"}, nil
	}
	seconds, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Result{}, fmt.Errorf("tr_build_duration_s: parse: %w", err)
	}
	return Result{Value: seconds}, nil
}

func readLogs(logsPath string) (string, error) {
	if logsPath == "" {
		return "", fmt.Errorf("no logs path")
	}
	data, err := os.ReadFile(logsPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// --- build-history walk ---

func extractHistoryPrevFailed(ctx context.Context, bc *BuildContext) (Result, error) {
	prev, ok := bc.Values["_history_previous_status"]
	if !ok {
		return Result{Degraded: true, Reason: "no prior build recorded"}, nil
	}
	return Result{Value: prev == "failed"}, nil
}

func extractHistoryFailStreak(ctx context.Context, bc *BuildContext) (Result, error) {
	streak, ok := bc.Values["_history_fail_streak"]
	if !ok {
		return Result{Value: 0}, nil
	}
	return Result{Value: streak}, nil
}

// --- CI-provider collaboration signals ---

func extractGHTeamSize(ctx context.Context, bc *BuildContext) (Result, error) {
	size, ok := bc.Values["_gh_team_size"]
	if !ok {
		return Result{Degraded: true, Reason: "missing_resource"}, nil
	}
	return Result{Value: size}, nil
}

func extractGHDiscussionComments(ctx context.Context, bc *BuildContext) (Result, error) {
	count, ok := bc.Values["_gh_discussion_comments"]
	if !ok {
		return Result{Degraded: true, Reason: "missing_resource"}, nil
	}
	return Result{Value: count}, nil
}

// --- build-timing features ---

// extractCommitDayOfWeek reports HEAD's commit day (0=Sunday .. 6=Saturday),
// a calendar-time signal build-risk models use alongside history features.
func extractCommitDayOfWeek(ctx context.Context, bc *BuildContext) (Result, error) {
	out, err := runGit(ctx, bc.WorktreePath, "log", "-1", "--format=%at")
	if err != nil {
		return Result{}, fmt.Errorf("git_commit_day_of_week: %w", err)
	}
	unix, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return Result{}, fmt.Errorf("git_commit_day_of_week: parse: %w", err)
	}
	return Result{Value: int(time.Unix(unix, 0).UTC().Weekday())}, nil
}

// devopsPathPattern matches the CI/IaC config paths a change touching them
// counts toward git_devops_change_size (deploy-risk changes, not source changes).
var devopsPathPattern = regexp.MustCompile(`(?i)(^|/)(\.github/workflows/|\.circleci/|\.gitlab-ci\.ya?ml$|Jenkinsfile$|\.travis\.ya?ml$|Dockerfile$|docker-compose\.ya?ml$|\.tf$|\.tfvars$)`)

// extractDevOpsChangeSize sums added+removed lines in HEAD's diff that fall
// under a CI/IaC config path, separating deploy-config churn from source churn.
func extractDevOpsChangeSize(ctx context.Context, bc *BuildContext) (Result, error) {
	out, err := runGit(ctx, bc.WorktreePath, "diff", "--numstat", "HEAD~1", "HEAD")
	if err != nil {
		return Result{Degraded: true, Reason: "no prior commit to diff against"}, nil
	}
	total := 0
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || !devopsPathPattern.MatchString(fields[2]) {
			continue
		}
		added, _ := strconv.Atoi(fields[0])
		removed, _ := strconv.Atoi(fields[1])
		total += added + removed
	}
	return Result{Value: total}, nil
}

func parseShortstat(out string) (added, removed int) {
	fields := strings.Split(out, ",")
	for _, f := range fields {
		f = strings.TrimSpace(f)
		switch {
		case strings.Contains(f, "insertion"):
			fmt.Sscanf(f, "%d", &added)
		case strings.Contains(f, "deletion"):
			fmt.Sscanf(f, "%d", &removed)
		}
	}
	return added, removed
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
