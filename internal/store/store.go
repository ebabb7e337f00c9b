// Package store persists download jobs and their episodes in SQLite so the
// daemon survives restarts and the GUI can page through history.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// validJobColumns whitelists column names for dynamic updates.
var validJobColumns = map[string]bool{
	"url": true, "profile": true, "extra_args": true, "status": true,
	"stage": true, "progress_percent": true, "progress_text": true,
	"created_at": true, "started_at": true, "finished_at": true,
	"error_message": true, "log_file": true, "pid": true,
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	profile TEXT,
	extra_args TEXT,
	status TEXT NOT NULL DEFAULT 'queued',
	stage TEXT,
	progress_percent INTEGER DEFAULT 0,
	progress_text TEXT,
	created_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT,
	error_message TEXT,
	log_file TEXT,
	pid INTEGER
);
CREATE TABLE IF NOT EXISTS episodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id INTEGER NOT NULL,
	episode_number INTEGER NOT NULL,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	progress_percent INTEGER DEFAULT 0,
	stage_data TEXT,
	error_message TEXT,
	started_at TEXT,
	finished_at TEXT,
	log_file TEXT,
	FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
);
`

type Store struct {
	db *sql.DB
}

// Open creates the database file (and parent directory) if needed and
// initializes the schema. WAL mode keeps daemon writers and API readers from
// blocking each other.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("error creating database directory: %v", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("error setting pragma: %v", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing schema: %v", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *Store) CreateJob(ctx context.Context, url, profile, extraArgs string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (url, profile, extra_args, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		url, profile, extraArgs, string(JobQueued), nowUTC())
	if err != nil {
		return 0, fmt.Errorf("error creating job: %v", err)
	}
	return res.LastInsertId()
}

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	var profile, extraArgs, stage, progressText, startedAt, finishedAt, errMsg, logFile, createdAt sql.NullString
	var progress, pid sql.NullInt64
	err := row.Scan(&j.ID, &j.URL, &profile, &extraArgs, &j.Status, &stage,
		&progress, &progressText, &createdAt, &startedAt, &finishedAt,
		&errMsg, &logFile, &pid)
	if err != nil {
		return nil, err
	}
	j.Profile = profile.String
	j.ExtraArgs = extraArgs.String
	j.Stage = JobStage(stage.String)
	j.ProgressPercent = int(progress.Int64)
	j.ProgressText = progressText.String
	j.CreatedAt = parseTime(createdAt)
	j.StartedAt = parseTime(startedAt)
	j.FinishedAt = parseTime(finishedAt)
	j.ErrorMessage = errMsg.String
	j.LogFile = logFile.String
	j.PID = int(pid.Int64)
	return &j, nil
}

const jobColumns = `id, url, profile, extra_args, status, stage, progress_percent,
	progress_text, created_at, started_at, finished_at, error_message, log_file, pid`

func (s *Store) Job(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (s *Store) Jobs(ctx context.Context, limit, offset int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJob sets arbitrary job fields. Column names are validated against a
// whitelist before being interpolated into the statement.
func (s *Store) UpdateJob(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	fields := make([]string, 0, len(updates))
	for key := range updates {
		if !validJobColumns[key] {
			return fmt.Errorf("invalid column name: %s", key)
		}
		fields = append(fields, key)
	}
	sort.Strings(fields)
	assignments := make([]string, 0, len(fields))
	values := make([]any, 0, len(fields)+1)
	for _, key := range fields {
		assignments = append(assignments, key+" = ?")
		values = append(values, updates[key])
	}
	values = append(values, id)
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE jobs SET %s WHERE id = ?", strings.Join(assignments, ", ")), values...)
	return err
}

func (s *Store) UpdateProgress(ctx context.Context, id int64, percent int, stage JobStage, text string) error {
	updates := map[string]any{"progress_percent": percent}
	if stage != "" {
		updates["stage"] = string(stage)
	}
	if text != "" {
		updates["progress_text"] = text
	}
	return s.UpdateJob(ctx, id, updates)
}

// ClaimJob atomically transitions a queued job to running. It returns false
// when another worker claimed the job first.
func (s *Store) ClaimJob(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(JobRunning), nowUTC(), id, string(JobQueued))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// StartJob records process details for a freshly claimed job.
func (s *Store) StartJob(ctx context.Context, id int64, pid int, logFile string) error {
	return s.UpdateJob(ctx, id, map[string]any{
		"pid":              pid,
		"log_file":         logFile,
		"stage":            string(StageInit),
		"progress_percent": StageProgress[StageInit],
	})
}

// FinishJob marks the job terminal. A failed job also fails its incomplete
// episodes.
func (s *Store) FinishJob(ctx context.Context, id int64, success bool, errorMessage string) error {
	updates := map[string]any{
		"finished_at": nowUTC(),
	}
	if success {
		updates["status"] = string(JobSuccess)
		updates["progress_percent"] = 100
		updates["stage"] = string(StageDone)
	} else {
		updates["status"] = string(JobFailed)
		updates["error_message"] = errorMessage
	}
	if err := s.UpdateJob(ctx, id, updates); err != nil {
		return err
	}
	if !success {
		return s.FailIncompleteEpisodes(ctx, id, "Job failed")
	}
	return nil
}

func (s *Store) CancelJob(ctx context.Context, id int64) error {
	err := s.UpdateJob(ctx, id, map[string]any{
		"status":      string(JobCanceled),
		"finished_at": nowUTC(),
	})
	if err != nil {
		return err
	}
	return s.FailIncompleteEpisodes(ctx, id, "Job was cancelled")
}

// ActiveJobs returns queued and running jobs, oldest first.
func (s *Store) ActiveJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (?, ?) ORDER BY created_at ASC, id ASC`,
		string(JobQueued), string(JobRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClearFinished deletes every job that is not currently running. It returns
// the number of deleted jobs and the number of running jobs skipped.
func (s *Store) ClearFinished(ctx context.Context) (deleted, skipped int64, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = ?`, string(JobRunning))
	if err = row.Scan(&skipped); err != nil {
		return 0, 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE status != ?`, string(JobRunning))
	if err != nil {
		return 0, skipped, err
	}
	deleted, err = res.RowsAffected()
	return deleted, skipped, err
}

func (s *Store) CreateEpisode(ctx context.Context, jobID int64, number int, title string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO episodes (job_id, episode_number, title, status, progress_percent) VALUES (?, ?, ?, ?, 0)`,
		jobID, number, title, string(EpisodePending))
	if err != nil {
		return 0, fmt.Errorf("error creating episode: %v", err)
	}
	return res.LastInsertId()
}

const episodeColumns = `id, job_id, episode_number, title, status, progress_percent,
	stage_data, error_message, started_at, finished_at, log_file`

func scanEpisode(row interface{ Scan(...any) error }) (*Episode, error) {
	var e Episode
	var stageData, errMsg, startedAt, finishedAt, logFile sql.NullString
	var progress sql.NullInt64
	err := row.Scan(&e.ID, &e.JobID, &e.EpisodeNumber, &e.Title, &e.Status,
		&progress, &stageData, &errMsg, &startedAt, &finishedAt, &logFile)
	if err != nil {
		return nil, err
	}
	e.ProgressPercent = int(progress.Int64)
	e.StageData = stageData.String
	e.ErrorMessage = errMsg.String
	e.StartedAt = parseTime(startedAt)
	e.FinishedAt = parseTime(finishedAt)
	e.LogFile = logFile.String
	e.StatusLabel = EpisodeStatusLabels[e.Status]
	return &e, nil
}

func (s *Store) Episode(ctx context.Context, id int64) (*Episode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	ep, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ep, err
}

func (s *Store) JobEpisodes(ctx context.Context, jobID int64) ([]*Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE job_id = ? ORDER BY episode_number ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var episodes []*Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

func (s *Store) EpisodeByNumber(ctx context.Context, jobID int64, number int) (*Episode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE job_id = ? AND episode_number = ?`, jobID, number)
	ep, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ep, err
}

// EpisodeUpdate carries optional episode field updates. Nil fields are left
// untouched.
type EpisodeUpdate struct {
	Status          *EpisodeStatus
	ProgressPercent *int
	ErrorMessage    *string
	StageData       map[string]any
	LogFile         *string
}

func (s *Store) UpdateEpisode(ctx context.Context, id int64, update EpisodeUpdate) error {
	assignments := []string{}
	values := []any{}
	if update.Status != nil {
		assignments = append(assignments, "status = ?")
		values = append(values, string(*update.Status))
		switch {
		case *update.Status == EpisodeComplete:
			assignments = append(assignments, "finished_at = ?", "progress_percent = 100")
			values = append(values, nowUTC())
		case update.Status.IsActive():
			assignments = append(assignments, "started_at = COALESCE(started_at, ?)")
			values = append(values, nowUTC())
		case *update.Status == EpisodeFailedStatus:
			assignments = append(assignments, "finished_at = ?")
			values = append(values, nowUTC())
		}
	}
	if update.ProgressPercent != nil {
		assignments = append(assignments, "progress_percent = ?")
		values = append(values, *update.ProgressPercent)
	}
	if update.ErrorMessage != nil {
		assignments = append(assignments, "error_message = ?")
		values = append(values, *update.ErrorMessage)
	}
	if update.StageData != nil {
		data, err := json.Marshal(update.StageData)
		if err != nil {
			return fmt.Errorf("error encoding stage data: %v", err)
		}
		assignments = append(assignments, "stage_data = ?")
		values = append(values, string(data))
	}
	if update.LogFile != nil {
		assignments = append(assignments, "log_file = ?")
		values = append(values, *update.LogFile)
	}
	if len(assignments) == 0 {
		return nil
	}
	values = append(values, id)
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE episodes SET %s WHERE id = ?", strings.Join(assignments, ", ")), values...)
	return err
}

// FailIncompleteEpisodes marks every episode of a job that has not completed
// or already failed as failed.
func (s *Store) FailIncompleteEpisodes(ctx context.Context, jobID int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET status = ?, error_message = ?, finished_at = ?
		 WHERE job_id = ? AND status NOT IN (?, ?)`,
		string(EpisodeFailedStatus), reason, nowUTC(), jobID,
		string(EpisodeComplete), string(EpisodeFailedStatus))
	return err
}
