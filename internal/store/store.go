// Package store provides SQLite-backed persistence for the build-risk
// pipeline's data model: raw ingestion, scenarios, feature vectors, dataset
// splits, and pipeline/audit history.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for pipeline state.
type Store struct {
	db *sql.DB
}

// rowScanner abstracts *sql.Row and *sql.Rows so scan helpers work against either.
type rowScanner interface {
	Scan(dest ...any) error
}

// RawRepository is a discovered source repository (§3).
type RawRepository struct {
	ID              string
	Provider        string
	Owner           string
	Name            string
	CloneURL        string
	DefaultBranch   string
	PrimaryLanguage string
	CreatedAt       time.Time
}

// FullName is the "<owner>/<name>" form CI providers and scan component
// keys address the repository by.
func (r RawRepository) FullName() string { return r.Owner + "/" + r.Name }

// RawBuildRun is one observed CI build/run against a RawRepository (§3).
type RawBuildRun struct {
	ID           string
	RepositoryID string
	Provider     string
	ExternalID   string
	CommitSHA    string
	Branch       string
	Status       string // queued, running, passed, failed, errored, cancelled
	StartedAt    sql.NullTime
	FinishedAt   sql.NullTime
	CreatedAt    time.Time
}

// Scenario is a declared unit of work driving the pipeline (§3, §6).
type Scenario struct {
	ID            string
	Name          string
	YAML          string // raw scenario YAML, preserved verbatim for unknown-key passthrough
	FeatureSet    string // JSON array of feature names/wildcard patterns
	SplitStrategy string
	Status        string // queued, filtering, ingesting, ingested, processing, processed, splitting, completed, failed
	OwnerID       string
	FailureReason string

	BuildsTotal            int
	BuildsIngested         int
	BuildsFeaturesExtracted int
	ScansTotal             int
	ScansCompleted         int
	ScansFailed            int
	ScanExtractionCompleted bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IngestionBuild tracks per-build ingestion progress for a Scenario (§3, C5).
type IngestionBuild struct {
	ID           string
	ScenarioID   string
	BuildRunID   string
	WorktreePath string
	LogsPath     string
	HistoryReady bool
	Status       string // pending, ingesting, ingested, failed
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EnrichmentBuild tracks per-build feature-extraction progress (§3, C6).
type EnrichmentBuild struct {
	ID               string
	ScenarioID       string
	BuildRunID       string
	Status           string // pending, processing, processed, failed
	DegradedFeatures string // JSON array of feature names skipped via graceful degradation
	SplitAssignment  string // "" until the splitter assigns train|validation|test
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FeatureVector is one materialized row of extracted feature values (§3, C6).
type FeatureVector struct {
	ID          string
	ScenarioID  string
	BuildRunID  string
	FeatureName string
	Value       sql.NullString // nil represents a degraded/missing feature
	ExtractedAt time.Time
}

// DatasetSplit records a materialized train/val/test split for a Scenario (§3, C8).
type DatasetSplit struct {
	ID               string
	ScenarioID       string
	Strategy         string
	TrainPath        string
	ValPath          string
	TestPath         string
	RowCounts        string // JSON {"train":N,"val":N,"test":N}
	ClassDistribution string // JSON {"train":{"passed":N,"failed":N},...} keyed by outcome
	GroupDistribution string // JSON {"train":{"<group>":N,...},...} keyed by the group_by dimension
	FileSizes         string // JSON {"train":bytes,"val":bytes,"test":bytes}
	CreatedAt         time.Time
}

// PipelineRun records one orchestrator pass over a Scenario, for audit/drill-down.
type PipelineRun struct {
	ID         string
	ScenarioID string
	Phase      string // filter, ingest, process, split
	Status     string // started, completed, failed
	Detail     string
	StartedAt  time.Time
	FinishedAt sql.NullTime
}

// FeatureAuditLog records one Feature DAG Engine extractor-node execution (§4.6, §9).
type FeatureAuditLog struct {
	ID          string
	ScenarioID  string
	BuildRunID  string
	FeatureName string
	Outcome     string // ok, degraded, missing_resource, error
	Detail      string
	RecordedAt  time.Time
}

// SonarScanPending tracks a (repo, commit) pair awaiting SonarQube webhook
// completion, so the retry sweep can detect scans that never report back (C7).
type SonarScanPending struct {
	ID           string
	RepositoryID string
	CommitSHA    string
	DispatchedAt time.Time
	Attempts     int
	LastError    string
}

const schema = `
CREATE TABLE IF NOT EXISTS raw_repositories (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	owner TEXT NOT NULL,
	name TEXT NOT NULL,
	clone_url TEXT NOT NULL,
	default_branch TEXT NOT NULL DEFAULT 'main',
	primary_language TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS raw_build_runs (
	id TEXT PRIMARY KEY,
	repository_id TEXT NOT NULL REFERENCES raw_repositories(id),
	provider TEXT NOT NULL,
	external_id TEXT NOT NULL,
	commit_sha TEXT NOT NULL,
	branch TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'queued',
	started_at DATETIME,
	finished_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scenarios (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	yaml TEXT NOT NULL DEFAULT '',
	feature_set TEXT NOT NULL DEFAULT '[]',
	split_strategy TEXT NOT NULL DEFAULT 'stratified_within_group',
	status TEXT NOT NULL DEFAULT 'queued',
	owner_id TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	builds_total INTEGER NOT NULL DEFAULT 0,
	builds_ingested INTEGER NOT NULL DEFAULT 0,
	builds_features_extracted INTEGER NOT NULL DEFAULT 0,
	scans_total INTEGER NOT NULL DEFAULT 0,
	scans_completed INTEGER NOT NULL DEFAULT 0,
	scans_failed INTEGER NOT NULL DEFAULT 0,
	scan_extraction_completed BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ingestion_builds (
	id TEXT PRIMARY KEY,
	scenario_id TEXT NOT NULL REFERENCES scenarios(id),
	build_run_id TEXT NOT NULL REFERENCES raw_build_runs(id),
	worktree_path TEXT NOT NULL DEFAULT '',
	logs_path TEXT NOT NULL DEFAULT '',
	history_ready BOOLEAN NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS enrichment_builds (
	id TEXT PRIMARY KEY,
	scenario_id TEXT NOT NULL REFERENCES scenarios(id),
	build_run_id TEXT NOT NULL REFERENCES raw_build_runs(id),
	status TEXT NOT NULL DEFAULT 'pending',
	degraded_features TEXT NOT NULL DEFAULT '[]',
	split_assignment TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS feature_vectors (
	id TEXT PRIMARY KEY,
	scenario_id TEXT NOT NULL REFERENCES scenarios(id),
	build_run_id TEXT NOT NULL REFERENCES raw_build_runs(id),
	feature_name TEXT NOT NULL,
	value TEXT,
	extracted_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dataset_splits (
	id TEXT PRIMARY KEY,
	scenario_id TEXT NOT NULL REFERENCES scenarios(id),
	strategy TEXT NOT NULL,
	train_path TEXT NOT NULL DEFAULT '',
	val_path TEXT NOT NULL DEFAULT '',
	test_path TEXT NOT NULL DEFAULT '',
	row_counts TEXT NOT NULL DEFAULT '{}',
	class_distribution TEXT NOT NULL DEFAULT '{}',
	group_distribution TEXT NOT NULL DEFAULT '{}',
	file_sizes TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id TEXT PRIMARY KEY,
	scenario_id TEXT NOT NULL REFERENCES scenarios(id),
	phase TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'started',
	detail TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS feature_audit_log (
	id TEXT PRIMARY KEY,
	scenario_id TEXT NOT NULL REFERENCES scenarios(id),
	build_run_id TEXT NOT NULL REFERENCES raw_build_runs(id),
	feature_name TEXT NOT NULL,
	outcome TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sonar_scan_pending (
	id TEXT PRIMARY KEY,
	repository_id TEXT NOT NULL REFERENCES raw_repositories(id),
	commit_sha TEXT NOT NULL,
	dispatched_at DATETIME NOT NULL DEFAULT (datetime('now')),
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_build_runs_repo_commit ON raw_build_runs(repository_id, commit_sha);
CREATE INDEX IF NOT EXISTS idx_build_runs_status ON raw_build_runs(status);
CREATE INDEX IF NOT EXISTS idx_scenarios_status ON scenarios(status);
CREATE INDEX IF NOT EXISTS idx_ingestion_builds_scenario ON ingestion_builds(scenario_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ingestion_builds_scenario_build ON ingestion_builds(scenario_id, build_run_id);
CREATE INDEX IF NOT EXISTS idx_enrichment_builds_scenario ON enrichment_builds(scenario_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_enrichment_builds_scenario_build ON enrichment_builds(scenario_id, build_run_id);
CREATE INDEX IF NOT EXISTS idx_feature_vectors_scenario_build ON feature_vectors(scenario_id, build_run_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_feature_vectors_unique ON feature_vectors(scenario_id, build_run_id, feature_name);
CREATE INDEX IF NOT EXISTS idx_dataset_splits_scenario ON dataset_splits(scenario_id);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_scenario ON pipeline_runs(scenario_id);
CREATE INDEX IF NOT EXISTS idx_feature_audit_scenario_build ON feature_audit_log(scenario_id, build_run_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sonar_pending_repo_commit ON sonar_scan_pending(repository_id, commit_sha);
`

// Open creates or opens a SQLite database at the given path and ensures the schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- raw_repositories ---

// UpsertRepository inserts or refreshes a discovered repository, keyed by ID.
func (s *Store) UpsertRepository(r RawRepository) error {
	_, err := s.db.Exec(
		`INSERT INTO raw_repositories (id, provider, owner, name, clone_url, default_branch, primary_language)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   clone_url=excluded.clone_url,
		   default_branch=excluded.default_branch,
		   primary_language=excluded.primary_language`,
		r.ID, r.Provider, r.Owner, r.Name, r.CloneURL, r.DefaultBranch, r.PrimaryLanguage,
	)
	if err != nil {
		return fmt.Errorf("store: upsert repository: %w", err)
	}
	return nil
}

const repoCols = `id, provider, owner, name, clone_url, default_branch, primary_language, created_at`

func scanRepository(row rowScanner) (RawRepository, error) {
	var r RawRepository
	err := row.Scan(&r.ID, &r.Provider, &r.Owner, &r.Name, &r.CloneURL, &r.DefaultBranch, &r.PrimaryLanguage, &r.CreatedAt)
	return r, err
}

// GetRepository loads a repository by ID.
func (s *Store) GetRepository(id string) (*RawRepository, error) {
	row := s.db.QueryRow(`SELECT `+repoCols+` FROM raw_repositories WHERE id = ?`, id)
	r, err := scanRepository(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get repository: %w", err)
	}
	return &r, nil
}

// ListRepositories returns every known repository for a CI provider
// ("" matches any), ordered by id for deterministic iteration. The
// Scenario Orchestrator's Phase 1 filter (§4.4) applies the rest of the
// data_source.repositories criteria (languages/names/owners) in memory —
// the candidate set is small enough per scenario that a further SQL
// predicate layer would add complexity without a real performance need.
func (s *Store) ListRepositories(provider string) ([]RawRepository, error) {
	var rows *sql.Rows
	var err error
	if provider == "" {
		rows, err = s.db.Query(`SELECT ` + repoCols + ` FROM raw_repositories ORDER BY id ASC`)
	} else {
		rows, err = s.db.Query(`SELECT `+repoCols+` FROM raw_repositories WHERE provider = ? ORDER BY id ASC`, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list repositories: %w", err)
	}
	defer rows.Close()
	var out []RawRepository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan repository: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- raw_build_runs ---

// UpsertBuildRun inserts or refreshes an observed build, deduplicated on
// (repository_id, commit_sha) per §5's work-deduplication invariant.
func (s *Store) UpsertBuildRun(b RawBuildRun) (string, error) {
	if b.ID == "" {
		return "", fmt.Errorf("store: upsert build run: id is required")
	}
	_, err := s.db.Exec(
		`INSERT INTO raw_build_runs (id, repository_id, provider, external_id, commit_sha, branch, status, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(repository_id, commit_sha) DO UPDATE SET
		   status=excluded.status,
		   started_at=COALESCE(excluded.started_at, raw_build_runs.started_at),
		   finished_at=COALESCE(excluded.finished_at, raw_build_runs.finished_at)`,
		b.ID, b.RepositoryID, b.Provider, b.ExternalID, b.CommitSHA, b.Branch, b.Status, b.StartedAt, b.FinishedAt,
	)
	if err != nil {
		return "", fmt.Errorf("store: upsert build run: %w", err)
	}
	var id string
	err = s.db.QueryRow(`SELECT id FROM raw_build_runs WHERE repository_id = ? AND commit_sha = ?`, b.RepositoryID, b.CommitSHA).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("store: resolve deduplicated build run id: %w", err)
	}
	return id, nil
}

const buildRunCols = `id, repository_id, provider, external_id, commit_sha, branch, status, started_at, finished_at, created_at`

func scanBuildRun(row rowScanner) (RawBuildRun, error) {
	var b RawBuildRun
	err := row.Scan(&b.ID, &b.RepositoryID, &b.Provider, &b.ExternalID, &b.CommitSHA, &b.Branch, &b.Status, &b.StartedAt, &b.FinishedAt, &b.CreatedAt)
	return b, err
}

// GetBuildRun loads a build run by ID.
func (s *Store) GetBuildRun(id string) (*RawBuildRun, error) {
	row := s.db.QueryRow(`SELECT `+buildRunCols+` FROM raw_build_runs WHERE id = ?`, id)
	b, err := scanBuildRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get build run: %w", err)
	}
	return &b, nil
}

// ListBuildRunsForRepository returns build runs for a repository ordered oldest-first,
// preserving temporal ordering for ingestion (§5).
func (s *Store) ListBuildRunsForRepository(repositoryID string) ([]RawBuildRun, error) {
	rows, err := s.db.Query(`SELECT `+buildRunCols+` FROM raw_build_runs WHERE repository_id = ? ORDER BY created_at ASC`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("store: list build runs: %w", err)
	}
	defer rows.Close()

	var out []RawBuildRun
	for rows.Next() {
		b, err := scanBuildRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan build run: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// --- scenarios ---

var scenarioUpdatableColumns = map[string]bool{
	"name":                        true,
	"feature_set":                 true,
	"split_strategy":              true,
	"status":                      true,
	"failure_reason":              true,
	"builds_total":                true,
	"builds_ingested":             true,
	"builds_features_extracted":   true,
	"scans_total":                 true,
	"scans_completed":             true,
	"scans_failed":                true,
	"scan_extraction_completed":   true,
}

// CreateScenario inserts a new Scenario in the "queued" state.
func (s *Store) CreateScenario(sc Scenario) error {
	if sc.Status == "" {
		sc.Status = "queued"
	}
	_, err := s.db.Exec(
		`INSERT INTO scenarios (id, name, yaml, feature_set, split_strategy, status, owner_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Name, sc.YAML, sc.FeatureSet, sc.SplitStrategy, sc.Status, sc.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("store: create scenario: %w", err)
	}
	return nil
}

const scenarioCols = `id, name, yaml, feature_set, split_strategy, status, owner_id, failure_reason,
	builds_total, builds_ingested, builds_features_extracted,
	scans_total, scans_completed, scans_failed, scan_extraction_completed,
	created_at, updated_at`

func scanScenario(row rowScanner) (Scenario, error) {
	var sc Scenario
	err := row.Scan(&sc.ID, &sc.Name, &sc.YAML, &sc.FeatureSet, &sc.SplitStrategy, &sc.Status, &sc.OwnerID, &sc.FailureReason,
		&sc.BuildsTotal, &sc.BuildsIngested, &sc.BuildsFeaturesExtracted,
		&sc.ScansTotal, &sc.ScansCompleted, &sc.ScansFailed, &sc.ScanExtractionCompleted,
		&sc.CreatedAt, &sc.UpdatedAt)
	return sc, err
}

// GetScenario loads a Scenario by ID.
func (s *Store) GetScenario(id string) (*Scenario, error) {
	row := s.db.QueryRow(`SELECT `+scenarioCols+` FROM scenarios WHERE id = ?`, id)
	sc, err := scanScenario(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get scenario: %w", err)
	}
	return &sc, nil
}

// GetScenarioByName looks up a Scenario by its unique display name.
func (s *Store) GetScenarioByName(name string) (*Scenario, error) {
	row := s.db.QueryRow(`SELECT `+scenarioCols+` FROM scenarios WHERE name = ?`, name)
	sc, err := scanScenario(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get scenario by name: %w", err)
	}
	return &sc, nil
}

// ListScenariosByStatus returns scenarios in a given lifecycle status, oldest first.
func (s *Store) ListScenariosByStatus(status string) ([]Scenario, error) {
	rows, err := s.db.Query(`SELECT `+scenarioCols+` FROM scenarios WHERE status = ? ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("store: list scenarios by status: %w", err)
	}
	defer rows.Close()

	var out []Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan scenario: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// DeleteScenario removes a Scenario and every row scoped to it (ingestion
// builds, enrichment builds, feature vectors, dataset splits, pipeline runs,
// feature audit log) in a single transaction. sonar_scan_pending is keyed by
// repository+commit, not scenario, so it is left untouched.
func (s *Store) DeleteScenario(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: delete scenario: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"feature_audit_log", "pipeline_runs", "dataset_splits",
		"feature_vectors", "enrichment_builds", "ingestion_builds",
	} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE scenario_id = ?`, id); err != nil {
			return fmt.Errorf("store: delete scenario: %s: %w", table, err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM scenarios WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete scenario: scenarios: %w", err)
	}
	return tx.Commit()
}

// UpdateScenario applies a partial update against a column whitelist, building
// a deterministic SET clause sorted by column name.
func (s *Store) UpdateScenario(id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !scenarioUpdatableColumns[col] {
			return fmt.Errorf("store: update scenario: column %q is not updatable", col)
		}
		cols = append(cols, col)
	}
	sortStrings(cols)

	setClauses := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		setClauses = append(setClauses, col+" = ?")
		args = append(args, fields[col])
	}
	setClauses = append(setClauses, "updated_at = datetime('now')")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE scenarios SET %s WHERE id = ?`, strings.Join(setClauses, ", "))
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("store: update scenario: %w", err)
	}
	return nil
}

// IncrementScanCounters atomically bumps scans_completed/scans_failed by the
// given deltas, safe under concurrent backfills from many scan tasks (§4.7
// step 6) since the increment happens in the database rather than via a
// read-modify-write round trip.
func (s *Store) IncrementScanCounters(scenarioID string, completedDelta, failedDelta int) error {
	_, err := s.db.Exec(
		`UPDATE scenarios SET scans_completed = scans_completed + ?, scans_failed = scans_failed + ?, updated_at = datetime('now') WHERE id = ?`,
		completedDelta, failedDelta, scenarioID,
	)
	if err != nil {
		return fmt.Errorf("store: increment scan counters: %w", err)
	}
	return nil
}

// IncrementBuildsFeaturesExtracted atomically bumps a scenario's
// builds_features_extracted counter, safe under the concurrent
// process_build activities Phase 3 runs across a scenario's enrichment
// chain (§4.4 Phase 3).
func (s *Store) IncrementBuildsFeaturesExtracted(scenarioID string, delta int) error {
	_, err := s.db.Exec(
		`UPDATE scenarios SET builds_features_extracted = builds_features_extracted + ?, updated_at = datetime('now') WHERE id = ?`,
		delta, scenarioID,
	)
	if err != nil {
		return fmt.Errorf("store: increment builds_features_extracted: %w", err)
	}
	return nil
}

// MarkScanExtractionCompleteIfDone flips scan_extraction_completed to true
// exactly once, the instant scans_completed+scans_failed reaches
// scans_total (§4.7 step 6). Returns whether this call was the one that
// flipped it.
func (s *Store) MarkScanExtractionCompleteIfDone(scenarioID string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE scenarios SET scan_extraction_completed = 1, updated_at = datetime('now')
		 WHERE id = ? AND scan_extraction_completed = 0 AND (scans_completed + scans_failed) >= scans_total AND scans_total > 0`,
		scenarioID,
	)
	if err != nil {
		return false, fmt.Errorf("store: mark scan extraction complete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: mark scan extraction complete: %w", err)
	}
	return n > 0, nil
}

// TransitionScenario moves a Scenario from one expected status to a new one,
// guarding against double-dispatch: the update only takes effect if the
// scenario is still in `from`.
func (s *Store) TransitionScenario(id, from, to string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE scenarios SET status = ?, updated_at = datetime('now') WHERE id = ? AND status = ?`,
		to, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("store: transition scenario: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: transition scenario rows affected: %w", err)
	}
	return affected > 0, nil
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

// --- ingestion_builds ---

// CreateIngestionBuild registers a new ingestion build in the "pending" state.
func (s *Store) CreateIngestionBuild(b IngestionBuild) error {
	if b.Status == "" {
		b.Status = "pending"
	}
	_, err := s.db.Exec(
		`INSERT INTO ingestion_builds (id, scenario_id, build_run_id, worktree_path, logs_path, history_ready, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(scenario_id, build_run_id) DO NOTHING`,
		b.ID, b.ScenarioID, b.BuildRunID, b.WorktreePath, b.LogsPath, b.HistoryReady, b.Status,
	)
	if err != nil {
		return fmt.Errorf("store: create ingestion build: %w", err)
	}
	return nil
}

const ingestionBuildCols = `id, scenario_id, build_run_id, worktree_path, logs_path, history_ready, status, created_at, updated_at`

func scanIngestionBuild(row rowScanner) (IngestionBuild, error) {
	var b IngestionBuild
	err := row.Scan(&b.ID, &b.ScenarioID, &b.BuildRunID, &b.WorktreePath, &b.LogsPath, &b.HistoryReady, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// GetIngestionBuild loads an ingestion build for a (scenario, build) pair.
func (s *Store) GetIngestionBuild(scenarioID, buildRunID string) (*IngestionBuild, error) {
	row := s.db.QueryRow(`SELECT `+ingestionBuildCols+` FROM ingestion_builds WHERE scenario_id = ? AND build_run_id = ?`, scenarioID, buildRunID)
	b, err := scanIngestionBuild(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get ingestion build: %w", err)
	}
	return &b, nil
}

// ListIngestionBuildsForScenario returns every ingestion build tracked for a scenario.
func (s *Store) ListIngestionBuildsForScenario(scenarioID string) ([]IngestionBuild, error) {
	rows, err := s.db.Query(`SELECT `+ingestionBuildCols+` FROM ingestion_builds WHERE scenario_id = ? ORDER BY created_at ASC`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("store: list ingestion builds: %w", err)
	}
	defer rows.Close()

	var out []IngestionBuild
	for rows.Next() {
		b, err := scanIngestionBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan ingestion build: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateIngestionBuildStatus updates status and optionally the resource paths
// once a resource becomes available.
func (s *Store) UpdateIngestionBuildStatus(id, status, worktreePath, logsPath string, historyReady bool) error {
	_, err := s.db.Exec(
		`UPDATE ingestion_builds
		 SET status = ?,
		     worktree_path = CASE WHEN ? <> '' THEN ? ELSE worktree_path END,
		     logs_path = CASE WHEN ? <> '' THEN ? ELSE logs_path END,
		     history_ready = ?,
		     updated_at = datetime('now')
		 WHERE id = ?`,
		status, worktreePath, worktreePath, logsPath, logsPath, historyReady, id,
	)
	if err != nil {
		return fmt.Errorf("store: update ingestion build status: %w", err)
	}
	return nil
}

// --- enrichment_builds ---

// CreateEnrichmentBuild registers a new enrichment build in the "pending" state.
func (s *Store) CreateEnrichmentBuild(b EnrichmentBuild) error {
	if b.Status == "" {
		b.Status = "pending"
	}
	if b.DegradedFeatures == "" {
		b.DegradedFeatures = "[]"
	}
	_, err := s.db.Exec(
		`INSERT INTO enrichment_builds (id, scenario_id, build_run_id, status, degraded_features)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(scenario_id, build_run_id) DO NOTHING`,
		b.ID, b.ScenarioID, b.BuildRunID, b.Status, b.DegradedFeatures,
	)
	if err != nil {
		return fmt.Errorf("store: create enrichment build: %w", err)
	}
	return nil
}

const enrichmentBuildCols = `id, scenario_id, build_run_id, status, degraded_features, split_assignment, created_at, updated_at`

func scanEnrichmentBuild(row rowScanner) (EnrichmentBuild, error) {
	var b EnrichmentBuild
	err := row.Scan(&b.ID, &b.ScenarioID, &b.BuildRunID, &b.Status, &b.DegradedFeatures, &b.SplitAssignment, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// GetEnrichmentBuild loads an enrichment build for a (scenario, build) pair.
func (s *Store) GetEnrichmentBuild(scenarioID, buildRunID string) (*EnrichmentBuild, error) {
	row := s.db.QueryRow(`SELECT `+enrichmentBuildCols+` FROM enrichment_builds WHERE scenario_id = ? AND build_run_id = ?`, scenarioID, buildRunID)
	b, err := scanEnrichmentBuild(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get enrichment build: %w", err)
	}
	return &b, nil
}

// ListEnrichmentBuildsForScenario loads every enrichment build recorded for
// a scenario, in creation order, for the splitter to assemble its frame from.
func (s *Store) ListEnrichmentBuildsForScenario(scenarioID string) ([]EnrichmentBuild, error) {
	rows, err := s.db.Query(`SELECT `+enrichmentBuildCols+` FROM enrichment_builds WHERE scenario_id = ? ORDER BY created_at ASC`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("store: list enrichment builds: %w", err)
	}
	defer rows.Close()
	var out []EnrichmentBuild
	for rows.Next() {
		b, err := scanEnrichmentBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan enrichment build: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateEnrichmentBuildStatus updates status and the degraded-feature list
// (JSON array) for an enrichment build.
func (s *Store) UpdateEnrichmentBuildStatus(id, status, degradedFeaturesJSON string) error {
	_, err := s.db.Exec(
		`UPDATE enrichment_builds SET status = ?, degraded_features = ?, updated_at = datetime('now') WHERE id = ?`,
		status, degradedFeaturesJSON, id,
	)
	if err != nil {
		return fmt.Errorf("store: update enrichment build status: %w", err)
	}
	return nil
}

// UpdateEnrichmentBuildSplit records the splitter's train/validation/test
// assignment for an enrichment build (§4.8).
func (s *Store) UpdateEnrichmentBuildSplit(id, splitAssignment string) error {
	_, err := s.db.Exec(
		`UPDATE enrichment_builds SET split_assignment = ?, updated_at = datetime('now') WHERE id = ?`,
		splitAssignment, id,
	)
	if err != nil {
		return fmt.Errorf("store: update enrichment build split: %w", err)
	}
	return nil
}

// --- feature_vectors ---

// UpsertFeatureVector records one extracted (or degraded-to-nil) feature value,
// deduplicated on (scenario, build, feature).
func (s *Store) UpsertFeatureVector(v FeatureVector) error {
	_, err := s.db.Exec(
		`INSERT INTO feature_vectors (id, scenario_id, build_run_id, feature_name, value)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(scenario_id, build_run_id, feature_name) DO UPDATE SET value=excluded.value`,
		v.ID, v.ScenarioID, v.BuildRunID, v.FeatureName, v.Value,
	)
	if err != nil {
		return fmt.Errorf("store: upsert feature vector: %w", err)
	}
	return nil
}

const featureVectorCols = `id, scenario_id, build_run_id, feature_name, value, extracted_at`

func scanFeatureVector(row rowScanner) (FeatureVector, error) {
	var v FeatureVector
	err := row.Scan(&v.ID, &v.ScenarioID, &v.BuildRunID, &v.FeatureName, &v.Value, &v.ExtractedAt)
	return v, err
}

// ListFeatureVectorsForBuild returns every extracted feature value for one
// (scenario, build) pair, including degraded (NULL-valued) features.
func (s *Store) ListFeatureVectorsForBuild(scenarioID, buildRunID string) ([]FeatureVector, error) {
	rows, err := s.db.Query(`SELECT `+featureVectorCols+` FROM feature_vectors WHERE scenario_id = ? AND build_run_id = ? ORDER BY feature_name ASC`, scenarioID, buildRunID)
	if err != nil {
		return nil, fmt.Errorf("store: list feature vectors: %w", err)
	}
	defer rows.Close()

	var out []FeatureVector
	for rows.Next() {
		v, err := scanFeatureVector(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan feature vector: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListFeatureVectorsForScenario returns every extracted feature row across all
// builds of a scenario, ordered for stable dataset materialization.
func (s *Store) ListFeatureVectorsForScenario(scenarioID string) ([]FeatureVector, error) {
	rows, err := s.db.Query(`SELECT `+featureVectorCols+` FROM feature_vectors WHERE scenario_id = ? ORDER BY build_run_id ASC, feature_name ASC`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("store: list feature vectors for scenario: %w", err)
	}
	defer rows.Close()

	var out []FeatureVector
	for rows.Next() {
		v, err := scanFeatureVector(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan feature vector: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- dataset_splits ---

// RecordDatasetSplit persists a materialized split's output paths, row
// counts, and distributions (§4.8: "record DatasetSplit rows with counts,
// class distribution (outcome), group distribution, and file size").
func (s *Store) RecordDatasetSplit(d DatasetSplit) error {
	_, err := s.db.Exec(
		`INSERT INTO dataset_splits (id, scenario_id, strategy, train_path, val_path, test_path, row_counts, class_distribution, group_distribution, file_sizes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ScenarioID, d.Strategy, d.TrainPath, d.ValPath, d.TestPath, d.RowCounts,
		d.ClassDistribution, d.GroupDistribution, d.FileSizes,
	)
	if err != nil {
		return fmt.Errorf("store: record dataset split: %w", err)
	}
	return nil
}

const datasetSplitCols = `id, scenario_id, strategy, train_path, val_path, test_path, row_counts, class_distribution, group_distribution, file_sizes, created_at`

func scanDatasetSplit(row rowScanner) (DatasetSplit, error) {
	var d DatasetSplit
	err := row.Scan(&d.ID, &d.ScenarioID, &d.Strategy, &d.TrainPath, &d.ValPath, &d.TestPath,
		&d.RowCounts, &d.ClassDistribution, &d.GroupDistribution, &d.FileSizes, &d.CreatedAt)
	return d, err
}

// GetLatestDatasetSplit returns the most recently recorded split for a scenario.
func (s *Store) GetLatestDatasetSplit(scenarioID string) (*DatasetSplit, error) {
	row := s.db.QueryRow(`SELECT `+datasetSplitCols+` FROM dataset_splits WHERE scenario_id = ? ORDER BY created_at DESC LIMIT 1`, scenarioID)
	d, err := scanDatasetSplit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get latest dataset split: %w", err)
	}
	return &d, nil
}

// --- pipeline_runs ---

// StartPipelineRun records the start of one orchestrator phase pass.
func (s *Store) StartPipelineRun(r PipelineRun) error {
	if r.Status == "" {
		r.Status = "started"
	}
	_, err := s.db.Exec(
		`INSERT INTO pipeline_runs (id, scenario_id, phase, status, detail) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.ScenarioID, r.Phase, r.Status, r.Detail,
	)
	if err != nil {
		return fmt.Errorf("store: start pipeline run: %w", err)
	}
	return nil
}

// FinishPipelineRun marks a pipeline run as completed or failed, with detail.
func (s *Store) FinishPipelineRun(id, status, detail string) error {
	_, err := s.db.Exec(
		`UPDATE pipeline_runs SET status = ?, detail = ?, finished_at = datetime('now') WHERE id = ?`,
		status, detail, id,
	)
	if err != nil {
		return fmt.Errorf("store: finish pipeline run: %w", err)
	}
	return nil
}

const pipelineRunCols = `id, scenario_id, phase, status, detail, started_at, finished_at`

func scanPipelineRun(row rowScanner) (PipelineRun, error) {
	var r PipelineRun
	err := row.Scan(&r.ID, &r.ScenarioID, &r.Phase, &r.Status, &r.Detail, &r.StartedAt, &r.FinishedAt)
	return r, err
}

// ListPipelineRunsForScenario returns the full audit trail of orchestrator
// phase passes for a scenario, most recent first.
func (s *Store) ListPipelineRunsForScenario(scenarioID string) ([]PipelineRun, error) {
	rows, err := s.db.Query(`SELECT `+pipelineRunCols+` FROM pipeline_runs WHERE scenario_id = ? ORDER BY started_at DESC`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("store: list pipeline runs: %w", err)
	}
	defer rows.Close()

	var out []PipelineRun
	for rows.Next() {
		r, err := scanPipelineRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan pipeline run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- feature_audit_log ---

// RecordFeatureAudit records one extractor-node execution outcome.
func (s *Store) RecordFeatureAudit(a FeatureAuditLog) error {
	_, err := s.db.Exec(
		`INSERT INTO feature_audit_log (id, scenario_id, build_run_id, feature_name, outcome, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.ScenarioID, a.BuildRunID, a.FeatureName, a.Outcome, a.Detail,
	)
	if err != nil {
		return fmt.Errorf("store: record feature audit: %w", err)
	}
	return nil
}

const featureAuditCols = `id, scenario_id, build_run_id, feature_name, outcome, detail, recorded_at`

func scanFeatureAudit(row rowScanner) (FeatureAuditLog, error) {
	var a FeatureAuditLog
	err := row.Scan(&a.ID, &a.ScenarioID, &a.BuildRunID, &a.FeatureName, &a.Outcome, &a.Detail, &a.RecordedAt)
	return a, err
}

// ListFeatureAuditForBuild returns the audit trail for one (scenario, build) pair.
func (s *Store) ListFeatureAuditForBuild(scenarioID, buildRunID string) ([]FeatureAuditLog, error) {
	rows, err := s.db.Query(`SELECT `+featureAuditCols+` FROM feature_audit_log WHERE scenario_id = ? AND build_run_id = ? ORDER BY recorded_at ASC`, scenarioID, buildRunID)
	if err != nil {
		return nil, fmt.Errorf("store: list feature audit: %w", err)
	}
	defer rows.Close()

	var out []FeatureAuditLog
	for rows.Next() {
		a, err := scanFeatureAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan feature audit: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- sonar_scan_pending ---

// RecordSonarScanPending registers a dispatched scan awaiting webhook completion.
func (s *Store) RecordSonarScanPending(p SonarScanPending) error {
	_, err := s.db.Exec(
		`INSERT INTO sonar_scan_pending (id, repository_id, commit_sha) VALUES (?, ?, ?)
		 ON CONFLICT(repository_id, commit_sha) DO UPDATE SET dispatched_at = datetime('now')`,
		p.ID, p.RepositoryID, p.CommitSHA,
	)
	if err != nil {
		return fmt.Errorf("store: record sonar scan pending: %w", err)
	}
	return nil
}

// ResolveSonarScanPending removes a (repo, commit) pair once its webhook result lands.
func (s *Store) ResolveSonarScanPending(repositoryID, commitSHA string) error {
	_, err := s.db.Exec(`DELETE FROM sonar_scan_pending WHERE repository_id = ? AND commit_sha = ?`, repositoryID, commitSHA)
	if err != nil {
		return fmt.Errorf("store: resolve sonar scan pending: %w", err)
	}
	return nil
}

const sonarPendingCols = `id, repository_id, commit_sha, dispatched_at, attempts, last_error`

func scanSonarPending(row rowScanner) (SonarScanPending, error) {
	var p SonarScanPending
	err := row.Scan(&p.ID, &p.RepositoryID, &p.CommitSHA, &p.DispatchedAt, &p.Attempts, &p.LastError)
	return p, err
}

// ListExpiredSonarScans returns pending scans dispatched at or before the given
// cutoff (compared at one-second resolution), for the retry sweep to re-dispatch.
func (s *Store) ListExpiredSonarScans(olderThan time.Duration) ([]SonarScanPending, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(time.DateTime)
	rows, err := s.db.Query(`SELECT `+sonarPendingCols+` FROM sonar_scan_pending WHERE dispatched_at <= ? ORDER BY dispatched_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: list expired sonar scans: %w", err)
	}
	defer rows.Close()

	var out []SonarScanPending
	for rows.Next() {
		p, err := scanSonarPending(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan sonar pending: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// IncrementSonarScanAttempt bumps the attempt counter and records the last error seen.
func (s *Store) IncrementSonarScanAttempt(id, lastError string) error {
	_, err := s.db.Exec(
		`UPDATE sonar_scan_pending SET attempts = attempts + 1, last_error = ?, dispatched_at = datetime('now') WHERE id = ?`,
		lastError, id,
	)
	if err != nil {
		return fmt.Errorf("store: increment sonar scan attempt: %w", err)
	}
	return nil
}
