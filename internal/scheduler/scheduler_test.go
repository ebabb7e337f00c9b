package scheduler

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/hianidl/hianidl/internal/output"
	"github.com/hianidl/hianidl/internal/utils"
)

type fakeDownloader struct {
	validated atomic.Int64
	built     atomic.Int64
	ran       atomic.Int64
	failURL   string
}

func (f *fakeDownloader) ValidateJob(job *utils.HiAniJob) error {
	f.validated.Add(1)
	return nil
}

func (f *fakeDownloader) BuildJob(job *utils.HiAniJob) error {
	f.built.Add(1)
	return nil
}

func (f *fakeDownloader) Download(job *utils.HiAniJob) error {
	f.ran.Add(1)
	if job.URL == f.failURL {
		return fmt.Errorf("simulated failure")
	}
	if job.ProgressFunc != nil {
		job.ProgressFunc(50, 100)
	}
	if job.StreamFunc != nil {
		job.StreamFunc("working")
	}
	return nil
}

func TestRunProcessesAllJobs(t *testing.T) {
	fake := &fakeDownloader{}
	downloaderRegistry["fake"] = fake
	defer delete(downloaderRegistry, "fake")

	jobs := make([]utils.HiAniJob, 5)
	for i := range jobs {
		jobs[i] = utils.HiAniJob{
			JobType:    "fake",
			URL:        fmt.Sprintf("https://example.com/%d", i),
			OutputPath: fmt.Sprintf("out-%d", i),
			Metadata:   map[string]any{},
		}
	}
	if err := Run(jobs, 3, false); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := fake.ran.Load(); got != 5 {
		t.Errorf("ran %d jobs, want 5", got)
	}
	if got := fake.validated.Load(); got != 5 {
		t.Errorf("validated %d jobs, want 5", got)
	}
}

func TestRunClampsZeroWorkers(t *testing.T) {
	fake := &fakeDownloader{}
	downloaderRegistry["fake"] = fake
	defer delete(downloaderRegistry, "fake")

	jobs := []utils.HiAniJob{
		{JobType: "fake", URL: "https://example.com/a", OutputPath: "a", Metadata: map[string]any{}},
		{JobType: "fake", URL: "https://example.com/b", OutputPath: "b", Metadata: map[string]any{}},
	}
	if err := Run(jobs, 0, false); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := fake.ran.Load(); got != 2 {
		t.Errorf("ran %d jobs with zero requested workers, want 2", got)
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	fake := &fakeDownloader{failURL: "https://example.com/bad"}
	downloaderRegistry["fake"] = fake
	defer delete(downloaderRegistry, "fake")

	jobs := []utils.HiAniJob{
		{JobType: "fake", URL: "https://example.com/ok", OutputPath: "ok", Metadata: map[string]any{}},
		{JobType: "fake", URL: "https://example.com/bad", OutputPath: "bad", Metadata: map[string]any{}},
		{JobType: "fake", URL: "https://example.com/ok2", OutputPath: "ok2", Metadata: map[string]any{}},
	}
	err := Run(jobs, 1, false)
	if err == nil {
		t.Fatal("Run() should report the failed job")
	}
	if got := fake.ran.Load(); got != 3 {
		t.Errorf("ran %d jobs, want 3 (failure must not stop the pool)", got)
	}
}

func TestRunUnknownJobType(t *testing.T) {
	jobs := []utils.HiAniJob{
		{JobType: "missing", URL: "https://example.com/x", Metadata: map[string]any{}},
	}
	if err := Run(jobs, 1, false); err == nil {
		t.Error("Run() should fail for unknown job type")
	}
}

func TestWiredRegistry(t *testing.T) {
	for _, jobType := range []string{"episode", "hls", "http"} {
		if _, ok := downloaderRegistry[jobType]; !ok {
			t.Errorf("registry missing %q", jobType)
		}
	}
}

func TestAttachReportingChains(t *testing.T) {
	var sawStage string
	job := utils.HiAniJob{
		Metadata:  map[string]any{},
		StageFunc: func(stage string, percent int) { sawStage = stage },
	}
	mgr := output.NewManager()
	id := mgr.Register("test")
	attachReporting(&job, mgr, id)
	job.StageFunc("download_video", 20)
	if sawStage != "download_video" {
		t.Errorf("caller StageFunc not chained, got %q", sawStage)
	}
}
