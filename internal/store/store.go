// Package store provides SQLite-backed persistence for the engine's
// entities: objectives, tasks, cycles, and the per-phase records they
// produce.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/cortex-work/engine/internal/model"
)

// Store provides SQLite-backed persistence for engine state.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS objectives (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	weight REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active',
	acceptance_criteria TEXT NOT NULL DEFAULT '[]',
	tags TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	objective_id TEXT NOT NULL DEFAULT '',
	cycle_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT 'queued',
	autonomy_tier INTEGER NOT NULL DEFAULT 0,
	budget_cap_usd REAL NOT NULL DEFAULT 0,
	actual_cost_usd REAL NOT NULL DEFAULT 0,
	artifacts TEXT NOT NULL DEFAULT '[]',
	retry_count INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	truth_status TEXT NOT NULL DEFAULT 'hypothesis',
	confidence TEXT NOT NULL DEFAULT 'low',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS cycles (
	id TEXT PRIMARY KEY,
	number INTEGER NOT NULL,
	state TEXT NOT NULL DEFAULT 'running',
	mode TEXT NOT NULL DEFAULT '',
	phase_timings TEXT NOT NULL DEFAULT '{}',
	total_cost_usd REAL NOT NULL DEFAULT 0,
	tasks_created INTEGER NOT NULL DEFAULT 0,
	tasks_completed INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS scans (
	id TEXT PRIMARY KEY,
	cycle_id TEXT NOT NULL,
	objective_ids TEXT NOT NULL DEFAULT '[]',
	findings TEXT NOT NULL DEFAULT '[]',
	cost_usd REAL NOT NULL DEFAULT 0,
	tokens INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	cycle_id TEXT NOT NULL,
	scan_id TEXT NOT NULL DEFAULT '',
	strategy TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	cycle_id TEXT NOT NULL,
	task_id TEXT NOT NULL DEFAULT '',
	phase TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	prompt TEXT NOT NULL DEFAULT '',
	response TEXT NOT NULL DEFAULT '',
	success BOOLEAN NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS evaluations (
	id TEXT PRIMARY KEY,
	cycle_id TEXT NOT NULL,
	period_start DATETIME,
	period_end DATETIME,
	metrics TEXT NOT NULL DEFAULT '{}',
	insights TEXT NOT NULL DEFAULT '[]',
	recommendations TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS engine_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	loop_state TEXT NOT NULL DEFAULT 'idle',
	current_cycle_id TEXT NOT NULL DEFAULT '',
	current_phase TEXT NOT NULL DEFAULT '',
	current_task_id TEXT NOT NULL DEFAULT '',
	last_cycle_completed_at DATETIME,
	next_cycle_scheduled_at DATETIME,
	total_cycles_completed INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS decision_log (
	id TEXT PRIMARY KEY,
	cycle_id TEXT NOT NULL,
	phase TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS experiment_log (
	id TEXT PRIMARY KEY,
	cycle_id TEXT NOT NULL,
	hypothesis TEXT NOT NULL DEFAULT '',
	result TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
CREATE INDEX IF NOT EXISTS idx_tasks_cycle ON tasks(cycle_id);
CREATE INDEX IF NOT EXISTS idx_tasks_objective ON tasks(objective_id);
CREATE INDEX IF NOT EXISTS idx_scans_cycle ON scans(cycle_id);
CREATE INDEX IF NOT EXISTS idx_plans_cycle ON plans(cycle_id);
CREATE INDEX IF NOT EXISTS idx_runs_cycle ON runs(cycle_id);
CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_cycle ON evaluations(cycle_id);
CREATE INDEX IF NOT EXISTS idx_decision_log_cycle ON decision_log(cycle_id);
CREATE INDEX IF NOT EXISTS idx_experiment_log_cycle ON experiment_log(cycle_id);
`

// Open creates or opens a SQLite database at the given path and ensures the schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// --- objectives ---

// SaveObjective inserts or replaces an objective.
func (s *Store) SaveObjective(o *model.Objective) error {
	criteria, err := json.Marshal(o.AcceptanceCriteria)
	if err != nil {
		return fmt.Errorf("store: marshal acceptance criteria: %w", err)
	}
	tags, err := json.Marshal(o.Tags)
	if err != nil {
		return fmt.Errorf("store: marshal tags: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO objectives (id, title, description, weight, status, acceptance_criteria, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			weight = excluded.weight,
			status = excluded.status,
			acceptance_criteria = excluded.acceptance_criteria,
			tags = excluded.tags,
			updated_at = excluded.updated_at
	`, o.ID, o.Title, o.Description, o.Weight, o.Status, string(criteria), string(tags), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: save objective %s: %w", o.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObjective(row rowScanner) (*model.Objective, error) {
	var o model.Objective
	var criteria, tags string
	if err := row.Scan(&o.ID, &o.Title, &o.Description, &o.Weight, &o.Status, &criteria, &tags, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(criteria), &o.AcceptanceCriteria); err != nil {
		return nil, fmt.Errorf("store: unmarshal acceptance criteria: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &o.Tags); err != nil {
		return nil, fmt.Errorf("store: unmarshal tags: %w", err)
	}
	return &o, nil
}

const objectiveCols = `id, title, description, weight, status, acceptance_criteria, tags, created_at, updated_at`

// GetObjective returns a single objective by ID, or nil if it doesn't exist.
func (s *Store) GetObjective(id string) (*model.Objective, error) {
	row := s.db.QueryRow(`SELECT `+objectiveCols+` FROM objectives WHERE id = ?`, id)
	o, err := scanObjective(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get objective %s: %w", id, err)
	}
	return o, nil
}

// ListObjectives returns every objective.
func (s *Store) ListObjectives() ([]model.Objective, error) {
	return s.queryObjectives(`SELECT ` + objectiveCols + ` FROM objectives ORDER BY created_at`)
}

// ListActiveObjectives returns objectives with status 'active'.
func (s *Store) ListActiveObjectives() ([]model.Objective, error) {
	return s.queryObjectives(`SELECT `+objectiveCols+` FROM objectives WHERE status = ? ORDER BY created_at`, model.ObjectiveActive)
}

// DeleteObjective permanently removes an objective by ID. Tasks and other
// records that reference it are left untouched; deletion does not cascade.
func (s *Store) DeleteObjective(id string) error {
	if _, err := s.db.Exec(`DELETE FROM objectives WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete objective %s: %w", id, err)
	}
	return nil
}

func (s *Store) queryObjectives(query string, args ...any) ([]model.Objective, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query objectives: %w", err)
	}
	defer rows.Close()

	var out []model.Objective
	for rows.Next() {
		o, err := scanObjective(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan objective: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// --- tasks ---

// SaveTask inserts or replaces a task. Satisfies approval.TaskStore.
func (s *Store) SaveTask(t *model.Task) error {
	artifacts, err := json.Marshal(t.Artifacts)
	if err != nil {
		return fmt.Errorf("store: marshal artifacts: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO tasks (id, objective_id, cycle_id, title, description, state, autonomy_tier, budget_cap_usd,
			actual_cost_usd, artifacts, retry_count, error, truth_status, confidence, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			objective_id = excluded.objective_id,
			cycle_id = excluded.cycle_id,
			title = excluded.title,
			description = excluded.description,
			state = excluded.state,
			autonomy_tier = excluded.autonomy_tier,
			budget_cap_usd = excluded.budget_cap_usd,
			actual_cost_usd = excluded.actual_cost_usd,
			artifacts = excluded.artifacts,
			retry_count = excluded.retry_count,
			error = excluded.error,
			truth_status = excluded.truth_status,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`, t.ID, t.ObjectiveID, t.CycleID, t.Title, t.Description, t.State, int(t.AutonomyTier), t.BudgetCapUsd,
		t.ActualCostUsd, string(artifacts), t.RetryCount, t.Error, t.TruthLabel.TruthStatus, t.TruthLabel.Confidence,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("store: save task %s: %w", t.ID, err)
	}
	return nil
}

const taskCols = `id, objective_id, cycle_id, title, description, state, autonomy_tier, budget_cap_usd, actual_cost_usd, artifacts, retry_count, error, truth_status, confidence, created_at, updated_at, completed_at`

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	var tier int
	var artifacts string
	var completedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.ObjectiveID, &t.CycleID, &t.Title, &t.Description, &t.State, &tier, &t.BudgetCapUsd,
		&t.ActualCostUsd, &artifacts, &t.RetryCount, &t.Error, &t.TruthLabel.TruthStatus, &t.TruthLabel.Confidence,
		&t.CreatedAt, &t.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	t.AutonomyTier = model.AutonomyTier(tier)
	if err := json.Unmarshal([]byte(artifacts), &t.Artifacts); err != nil {
		return nil, fmt.Errorf("store: unmarshal artifacts: %w", err)
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// GetTask returns a single task by ID. Satisfies approval.TaskStore.
func (s *Store) GetTask(id string) (*model.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task %s: %w", id, err)
	}
	return t, nil
}

// ListTasks returns every task.
func (s *Store) ListTasks() ([]model.Task, error) {
	return s.queryTasks(`SELECT ` + taskCols + ` FROM tasks ORDER BY created_at`)
}

// ListTasksByState returns every task in the given state. Satisfies approval.TaskStore.
func (s *Store) ListTasksByState(state model.TaskState) ([]model.Task, error) {
	return s.queryTasks(`SELECT `+taskCols+` FROM tasks WHERE state = ? ORDER BY created_at`, state)
}

// ListTasksByCycle returns every task created during the given cycle.
func (s *Store) ListTasksByCycle(cycleID string) ([]model.Task, error) {
	return s.queryTasks(`SELECT `+taskCols+` FROM tasks WHERE cycle_id = ? ORDER BY created_at`, cycleID)
}

func (s *Store) queryTasks(query string, args ...any) ([]model.Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query tasks: %w", err)
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// --- cycles ---

// SaveCycle inserts or replaces a cycle.
func (s *Store) SaveCycle(c *model.Cycle) error {
	timings, err := json.Marshal(c.PhaseTimings)
	if err != nil {
		return fmt.Errorf("store: marshal phase timings: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO cycles (id, number, state, mode, phase_timings, total_cost_usd, tasks_created, tasks_completed, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			mode = excluded.mode,
			phase_timings = excluded.phase_timings,
			total_cost_usd = excluded.total_cost_usd,
			tasks_created = excluded.tasks_created,
			tasks_completed = excluded.tasks_completed,
			completed_at = excluded.completed_at
	`, c.ID, c.Number, c.State, c.Mode, string(timings), c.TotalCostUsd, c.TasksCreated, c.TasksCompleted, c.StartedAt, c.CompletedAt)
	if err != nil {
		return fmt.Errorf("store: save cycle %s: %w", c.ID, err)
	}
	return nil
}

const cycleCols = `id, number, state, mode, phase_timings, total_cost_usd, tasks_created, tasks_completed, started_at, completed_at`

func scanCycle(row rowScanner) (*model.Cycle, error) {
	var c model.Cycle
	var timings string
	var completedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.Number, &c.State, &c.Mode, &timings, &c.TotalCostUsd, &c.TasksCreated, &c.TasksCompleted, &c.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(timings), &c.PhaseTimings); err != nil {
		return nil, fmt.Errorf("store: unmarshal phase timings: %w", err)
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return &c, nil
}

// GetCycle returns a single cycle by ID.
func (s *Store) GetCycle(id string) (*model.Cycle, error) {
	row := s.db.QueryRow(`SELECT `+cycleCols+` FROM cycles WHERE id = ?`, id)
	c, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get cycle %s: %w", id, err)
	}
	return c, nil
}

// ListCycles returns the most recent cycles, newest first, bounded by limit.
func (s *Store) ListCycles(limit int) ([]model.Cycle, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+cycleCols+` FROM cycles ORDER BY number DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query cycles: %w", err)
	}
	defer rows.Close()

	var out []model.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan cycle: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetLatestCycleNumber returns the highest recorded cycle number, or 0 if none exist.
func (s *Store) GetLatestCycleNumber() (int, error) {
	var n sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(number) FROM cycles`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: get latest cycle number: %w", err)
	}
	return int(n.Int64), nil
}

// --- scans ---

// SaveScan inserts a scan record.
func (s *Store) SaveScan(sc *model.Scan) error {
	objectiveIDs, err := json.Marshal(sc.ObjectiveIDs)
	if err != nil {
		return fmt.Errorf("store: marshal objective ids: %w", err)
	}
	findings, err := json.Marshal(sc.Findings)
	if err != nil {
		return fmt.Errorf("store: marshal findings: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO scans (id, cycle_id, objective_ids, findings, cost_usd, tokens, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sc.ID, sc.CycleID, string(objectiveIDs), string(findings), sc.CostUsd, sc.Tokens, sc.LatencyMs, sc.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save scan %s: %w", sc.ID, err)
	}
	return nil
}

const scanCols = `id, cycle_id, objective_ids, findings, cost_usd, tokens, latency_ms, created_at`

func scanScanRow(row rowScanner) (*model.Scan, error) {
	var sc model.Scan
	var objectiveIDs, findings string
	if err := row.Scan(&sc.ID, &sc.CycleID, &objectiveIDs, &findings, &sc.CostUsd, &sc.Tokens, &sc.LatencyMs, &sc.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(objectiveIDs), &sc.ObjectiveIDs); err != nil {
		return nil, fmt.Errorf("store: unmarshal objective ids: %w", err)
	}
	if err := json.Unmarshal([]byte(findings), &sc.Findings); err != nil {
		return nil, fmt.Errorf("store: unmarshal findings: %w", err)
	}
	return &sc, nil
}

// GetScan returns a single scan by ID.
func (s *Store) GetScan(id string) (*model.Scan, error) {
	row := s.db.QueryRow(`SELECT `+scanCols+` FROM scans WHERE id = ?`, id)
	sc, err := scanScanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get scan %s: %w", id, err)
	}
	return sc, nil
}

// ListScansByCycle returns every scan recorded for a cycle.
func (s *Store) ListScansByCycle(cycleID string) ([]model.Scan, error) {
	rows, err := s.db.Query(`SELECT `+scanCols+` FROM scans WHERE cycle_id = ? ORDER BY created_at`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("store: query scans: %w", err)
	}
	defer rows.Close()

	var out []model.Scan
	for rows.Next() {
		sc, err := scanScanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan scan row: %w", err)
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

// --- plans ---

// SavePlan inserts a plan record.
func (s *Store) SavePlan(p *model.Plan) error {
	strategy, err := json.Marshal(p.Strategy)
	if err != nil {
		return fmt.Errorf("store: marshal strategy: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO plans (id, cycle_id, scan_id, strategy, created_at) VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.CycleID, p.ScanID, string(strategy), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save plan %s: %w", p.ID, err)
	}
	return nil
}

// GetPlan returns a single plan by ID.
func (s *Store) GetPlan(id string) (*model.Plan, error) {
	row := s.db.QueryRow(`SELECT id, cycle_id, scan_id, strategy, created_at FROM plans WHERE id = ?`, id)
	var p model.Plan
	var strategy string
	if err := row.Scan(&p.ID, &p.CycleID, &p.ScanID, &strategy, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get plan %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(strategy), &p.Strategy); err != nil {
		return nil, fmt.Errorf("store: unmarshal strategy: %w", err)
	}
	return &p, nil
}

// GetLatestPlanForCycle returns the most recently saved plan for a cycle, or nil.
func (s *Store) GetLatestPlanForCycle(cycleID string) (*model.Plan, error) {
	row := s.db.QueryRow(`SELECT id, cycle_id, scan_id, strategy, created_at FROM plans WHERE cycle_id = ? ORDER BY created_at DESC LIMIT 1`, cycleID)
	var p model.Plan
	var strategy string
	if err := row.Scan(&p.ID, &p.CycleID, &p.ScanID, &strategy, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get latest plan for cycle %s: %w", cycleID, err)
	}
	if err := json.Unmarshal([]byte(strategy), &p.Strategy); err != nil {
		return nil, fmt.Errorf("store: unmarshal strategy: %w", err)
	}
	return &p, nil
}

// --- runs ---

// SaveRun inserts an append-only run record.
func (s *Store) SaveRun(r *model.Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, cycle_id, task_id, phase, provider, model, prompt, response, success, error, tokens, cost_usd, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.CycleID, r.TaskID, r.Phase, r.Provider, r.Model, r.Prompt, r.Response, r.Success, r.Error, r.Tokens, r.CostUsd, r.LatencyMs, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save run %s: %w", r.ID, err)
	}
	return nil
}

const runCols = `id, cycle_id, task_id, phase, provider, model, prompt, response, success, error, tokens, cost_usd, latency_ms, created_at`

func scanRunRow(row rowScanner) (*model.Run, error) {
	var r model.Run
	if err := row.Scan(&r.ID, &r.CycleID, &r.TaskID, &r.Phase, &r.Provider, &r.Model, &r.Prompt, &r.Response, &r.Success, &r.Error, &r.Tokens, &r.CostUsd, &r.LatencyMs, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRunsByCycle returns every run recorded during a cycle.
func (s *Store) ListRunsByCycle(cycleID string) ([]model.Run, error) {
	rows, err := s.db.Query(`SELECT `+runCols+` FROM runs WHERE cycle_id = ? ORDER BY created_at`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("store: query runs: %w", err)
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		r, err := scanRunRow(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan run row: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ListRunsByTask returns every run recorded against a task.
func (s *Store) ListRunsByTask(taskID string) ([]model.Run, error) {
	rows, err := s.db.Query(`SELECT `+runCols+` FROM runs WHERE task_id = ? ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("store: query runs: %w", err)
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		r, err := scanRunRow(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan run row: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// --- evaluations ---

// SaveEvaluation inserts an evaluation record.
func (s *Store) SaveEvaluation(e *model.Evaluation) error {
	metrics, err := json.Marshal(e.Metrics)
	if err != nil {
		return fmt.Errorf("store: marshal metrics: %w", err)
	}
	insights, err := json.Marshal(e.Insights)
	if err != nil {
		return fmt.Errorf("store: marshal insights: %w", err)
	}
	recommendations, err := json.Marshal(e.Recommendations)
	if err != nil {
		return fmt.Errorf("store: marshal recommendations: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO evaluations (id, cycle_id, period_start, period_end, metrics, insights, recommendations, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.CycleID, e.Period.Start, e.Period.End, string(metrics), string(insights), string(recommendations), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save evaluation %s: %w", e.ID, err)
	}
	return nil
}

const evaluationCols = `id, cycle_id, period_start, period_end, metrics, insights, recommendations, created_at`

func scanEvaluation(row rowScanner) (*model.Evaluation, error) {
	var e model.Evaluation
	var metrics, insights, recommendations string
	var periodStart, periodEnd sql.NullTime
	if err := row.Scan(&e.ID, &e.CycleID, &periodStart, &periodEnd, &metrics, &insights, &recommendations, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Period.Start = periodStart.Time
	e.Period.End = periodEnd.Time
	if err := json.Unmarshal([]byte(metrics), &e.Metrics); err != nil {
		return nil, fmt.Errorf("store: unmarshal metrics: %w", err)
	}
	if err := json.Unmarshal([]byte(insights), &e.Insights); err != nil {
		return nil, fmt.Errorf("store: unmarshal insights: %w", err)
	}
	if err := json.Unmarshal([]byte(recommendations), &e.Recommendations); err != nil {
		return nil, fmt.Errorf("store: unmarshal recommendations: %w", err)
	}
	return &e, nil
}

// GetLatestEvaluation returns the most recently recorded evaluation for a cycle, or nil.
func (s *Store) GetLatestEvaluation(cycleID string) (*model.Evaluation, error) {
	row := s.db.QueryRow(`SELECT `+evaluationCols+` FROM evaluations WHERE cycle_id = ? ORDER BY created_at DESC LIMIT 1`, cycleID)
	e, err := scanEvaluation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get latest evaluation for cycle %s: %w", cycleID, err)
	}
	return e, nil
}

// ListEvaluations returns the most recent evaluations across all cycles, newest first.
func (s *Store) ListEvaluations(limit int) ([]model.Evaluation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+evaluationCols+` FROM evaluations ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query evaluations: %w", err)
	}
	defer rows.Close()

	var out []model.Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan evaluation: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// --- engine state ---

// GetEngineState returns the singleton engine state row, defaulting to an
// idle state if none has ever been saved.
func (s *Store) GetEngineState() (*model.EngineState, error) {
	row := s.db.QueryRow(`
		SELECT loop_state, current_cycle_id, current_phase, current_task_id, last_cycle_completed_at, next_cycle_scheduled_at, total_cycles_completed, error
		FROM engine_state WHERE id = 1
	`)
	var st model.EngineState
	var lastCompleted, nextScheduled sql.NullTime
	err := row.Scan(&st.LoopState, &st.CurrentCycleID, &st.CurrentPhase, &st.CurrentTaskID, &lastCompleted, &nextScheduled, &st.TotalCyclesCompleted, &st.Error)
	if err == sql.ErrNoRows {
		return &model.EngineState{LoopState: model.LoopIdle}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get engine state: %w", err)
	}
	if lastCompleted.Valid {
		st.LastCycleCompletedAt = &lastCompleted.Time
	}
	if nextScheduled.Valid {
		st.NextCycleScheduledAt = &nextScheduled.Time
	}
	return &st, nil
}

// SaveEngineState upserts the singleton engine state row.
func (s *Store) SaveEngineState(st *model.EngineState) error {
	_, err := s.db.Exec(`
		INSERT INTO engine_state (id, loop_state, current_cycle_id, current_phase, current_task_id, last_cycle_completed_at, next_cycle_scheduled_at, total_cycles_completed, error)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			loop_state = excluded.loop_state,
			current_cycle_id = excluded.current_cycle_id,
			current_phase = excluded.current_phase,
			current_task_id = excluded.current_task_id,
			last_cycle_completed_at = excluded.last_cycle_completed_at,
			next_cycle_scheduled_at = excluded.next_cycle_scheduled_at,
			total_cycles_completed = excluded.total_cycles_completed,
			error = excluded.error
	`, st.LoopState, st.CurrentCycleID, st.CurrentPhase, st.CurrentTaskID, st.LastCycleCompletedAt, st.NextCycleScheduledAt, st.TotalCyclesCompleted, st.Error)
	if err != nil {
		return fmt.Errorf("store: save engine state: %w", err)
	}
	return nil
}

// --- decision log / experiment log ---

// AppendDecisionLog records a policy decision made during a phase.
func (s *Store) AppendDecisionLog(entry *model.DecisionLogEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO decision_log (id, cycle_id, phase, summary, outcome, created_at) VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.CycleID, entry.Phase, entry.Summary, entry.Outcome, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: append decision log %s: %w", entry.ID, err)
	}
	return nil
}

// ListDecisionLog returns decision log entries for a cycle, oldest first.
func (s *Store) ListDecisionLog(cycleID string) ([]model.DecisionLogEntry, error) {
	rows, err := s.db.Query(`SELECT id, cycle_id, phase, summary, outcome, created_at FROM decision_log WHERE cycle_id = ? ORDER BY created_at`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("store: query decision log: %w", err)
	}
	defer rows.Close()

	var out []model.DecisionLogEntry
	for rows.Next() {
		var e model.DecisionLogEntry
		if err := rows.Scan(&e.ID, &e.CycleID, &e.Phase, &e.Summary, &e.Outcome, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan decision log row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendExperimentLog records an EVAL hypothesis paired with its eventual outcome.
func (s *Store) AppendExperimentLog(entry *model.ExperimentLogEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO experiment_log (id, cycle_id, hypothesis, result, created_at) VALUES (?, ?, ?, ?, ?)
	`, entry.ID, entry.CycleID, entry.Hypothesis, entry.Result, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: append experiment log %s: %w", entry.ID, err)
	}
	return nil
}

// ListExperimentLog returns experiment log entries for a cycle, oldest first.
func (s *Store) ListExperimentLog(cycleID string) ([]model.ExperimentLogEntry, error) {
	rows, err := s.db.Query(`SELECT id, cycle_id, hypothesis, result, created_at FROM experiment_log WHERE cycle_id = ? ORDER BY created_at`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("store: query experiment log: %w", err)
	}
	defer rows.Close()

	var out []model.ExperimentLogEntry
	for rows.Next() {
		var e model.ExperimentLogEntry
		if err := rows.Scan(&e.ID, &e.CycleID, &e.Hypothesis, &e.Result, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan experiment log row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
