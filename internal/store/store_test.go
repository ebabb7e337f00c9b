package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateJob(ctx, "https://hiani.example/watch/frieren", "default", "")
	if err != nil {
		t.Fatalf("CreateJob() error: %v", err)
	}

	job, err := s.Job(ctx, id)
	if err != nil {
		t.Fatalf("Job() error: %v", err)
	}
	if job.Status != JobQueued {
		t.Errorf("new job status = %q, expected %q", job.Status, JobQueued)
	}
	if job.CreatedAt.IsZero() {
		t.Error("new job has zero created_at")
	}

	claimed, err := s.ClaimJob(ctx, id)
	if err != nil || !claimed {
		t.Fatalf("ClaimJob() = %v, %v, expected claim to succeed", claimed, err)
	}
	claimedAgain, err := s.ClaimJob(ctx, id)
	if err != nil {
		t.Fatalf("second ClaimJob() error: %v", err)
	}
	if claimedAgain {
		t.Error("second ClaimJob() succeeded, expected it to fail")
	}

	if err := s.StartJob(ctx, id, 4242, "/data/logs/job-1.log"); err != nil {
		t.Fatalf("StartJob() error: %v", err)
	}
	job, _ = s.Job(ctx, id)
	if job.Stage != StageInit || job.ProgressPercent != StageProgress[StageInit] {
		t.Errorf("after StartJob: stage=%q progress=%d", job.Stage, job.ProgressPercent)
	}

	if err := s.UpdateProgress(ctx, id, 42, StageDownload, "episode 3 of 12"); err != nil {
		t.Fatalf("UpdateProgress() error: %v", err)
	}
	job, _ = s.Job(ctx, id)
	if job.ProgressPercent != 42 || job.Stage != StageDownload || job.ProgressText != "episode 3 of 12" {
		t.Errorf("after UpdateProgress: %+v", job)
	}

	if err := s.FinishJob(ctx, id, true, ""); err != nil {
		t.Fatalf("FinishJob() error: %v", err)
	}
	job, _ = s.Job(ctx, id)
	if job.Status != JobSuccess || job.ProgressPercent != 100 || job.Stage != StageDone {
		t.Errorf("after FinishJob: %+v", job)
	}
	if job.FinishedAt.IsZero() {
		t.Error("finished job has zero finished_at")
	}
}

func TestUpdateJobRejectsUnknownColumn(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, _ := s.CreateJob(ctx, "https://hiani.example/watch/x", "", "")
	err := s.UpdateJob(ctx, id, map[string]any{"status; DROP TABLE jobs": "x"})
	if err == nil {
		t.Fatal("UpdateJob() accepted an invalid column name")
	}
}

func TestFailedJobFailsIncompleteEpisodes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	jobID, _ := s.CreateJob(ctx, "https://hiani.example/watch/x", "", "")

	doneEp, _ := s.CreateEpisode(ctx, jobID, 1, "Episode 1")
	pendingEp, _ := s.CreateEpisode(ctx, jobID, 2, "Episode 2")
	complete := EpisodeComplete
	if err := s.UpdateEpisode(ctx, doneEp, EpisodeUpdate{Status: &complete}); err != nil {
		t.Fatalf("UpdateEpisode() error: %v", err)
	}

	if err := s.FinishJob(ctx, jobID, false, "stream not found"); err != nil {
		t.Fatalf("FinishJob() error: %v", err)
	}

	ep1, _ := s.Episode(ctx, doneEp)
	if ep1.Status != EpisodeComplete {
		t.Errorf("completed episode was touched: %q", ep1.Status)
	}
	if ep1.ProgressPercent != 100 {
		t.Errorf("completed episode progress = %d", ep1.ProgressPercent)
	}
	ep2, _ := s.Episode(ctx, pendingEp)
	if ep2.Status != EpisodeFailedStatus {
		t.Errorf("pending episode status = %q, expected failed", ep2.Status)
	}
	if ep2.ErrorMessage != "Job failed" {
		t.Errorf("pending episode error = %q", ep2.ErrorMessage)
	}
}

func TestCancelJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	jobID, _ := s.CreateJob(ctx, "https://hiani.example/watch/x", "", "")
	epID, _ := s.CreateEpisode(ctx, jobID, 1, "Episode 1")

	if err := s.CancelJob(ctx, jobID); err != nil {
		t.Fatalf("CancelJob() error: %v", err)
	}
	job, _ := s.Job(ctx, jobID)
	if job.Status != JobCanceled {
		t.Errorf("job status = %q, expected canceled", job.Status)
	}
	ep, _ := s.Episode(ctx, epID)
	if ep.Status != EpisodeFailedStatus || ep.ErrorMessage != "Job was cancelled" {
		t.Errorf("episode after cancel: status=%q error=%q", ep.Status, ep.ErrorMessage)
	}
}

func TestClearFinishedKeepsRunning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	running, _ := s.CreateJob(ctx, "https://hiani.example/watch/a", "", "")
	s.ClaimJob(ctx, running)
	queued, _ := s.CreateJob(ctx, "https://hiani.example/watch/b", "", "")
	done, _ := s.CreateJob(ctx, "https://hiani.example/watch/c", "", "")
	s.ClaimJob(ctx, done)
	s.FinishJob(ctx, done, true, "")

	deleted, skipped, err := s.ClearFinished(ctx)
	if err != nil {
		t.Fatalf("ClearFinished() error: %v", err)
	}
	if deleted != 2 || skipped != 1 {
		t.Errorf("ClearFinished() = (%d, %d), expected (2, 1)", deleted, skipped)
	}
	job, _ := s.Job(ctx, running)
	if job == nil || job.Status != JobRunning {
		t.Error("running job was deleted")
	}
	if job, _ := s.Job(ctx, queued); job != nil {
		t.Error("queued job survived ClearFinished")
	}
}

func TestActiveJobsOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	first, _ := s.CreateJob(ctx, "https://hiani.example/watch/a", "", "")
	second, _ := s.CreateJob(ctx, "https://hiani.example/watch/b", "", "")
	done, _ := s.CreateJob(ctx, "https://hiani.example/watch/c", "", "")
	s.ClaimJob(ctx, done)
	s.FinishJob(ctx, done, true, "")

	active, err := s.ActiveJobs(ctx)
	if err != nil {
		t.Fatalf("ActiveJobs() error: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("ActiveJobs() returned %d jobs, expected 2", len(active))
	}
	if active[0].ID != first || active[1].ID != second {
		t.Errorf("ActiveJobs() order = [%d, %d], expected [%d, %d]", active[0].ID, active[1].ID, first, second)
	}
}

func TestEpisodeByNumberAndStageData(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	jobID, _ := s.CreateJob(ctx, "https://hiani.example/watch/x", "", "")
	epID, _ := s.CreateEpisode(ctx, jobID, 7, "Episode 7")

	status := EpisodeDownloading
	progress := 55
	err := s.UpdateEpisode(ctx, epID, EpisodeUpdate{
		Status:          &status,
		ProgressPercent: &progress,
		StageData:       map[string]any{"segments": 120, "kind": "hls"},
	})
	if err != nil {
		t.Fatalf("UpdateEpisode() error: %v", err)
	}

	ep, err := s.EpisodeByNumber(ctx, jobID, 7)
	if err != nil {
		t.Fatalf("EpisodeByNumber() error: %v", err)
	}
	if ep == nil || ep.ID != epID {
		t.Fatal("EpisodeByNumber() did not find the episode")
	}
	if ep.ProgressPercent != 55 || ep.Status != EpisodeDownloading {
		t.Errorf("episode = %+v", ep)
	}
	if ep.StartedAt.IsZero() {
		t.Error("active episode has zero started_at")
	}
	if ep.StatusLabel != "Downloading" {
		t.Errorf("status label = %q", ep.StatusLabel)
	}
	if ep.StageData == "" {
		t.Error("stage data not persisted")
	}
	if missing, _ := s.EpisodeByNumber(ctx, jobID, 99); missing != nil {
		t.Error("EpisodeByNumber() found a nonexistent episode")
	}
}
