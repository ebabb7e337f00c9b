package episode

import (
	"path/filepath"
	"testing"

	"github.com/hianidl/hianidl/internal/extract"
	"github.com/hianidl/hianidl/internal/utils"
)

func TestValidateJob(t *testing.T) {
	d := &EpisodeDownloader{}
	tests := []struct {
		name    string
		job     utils.HiAniJob
		wantErr bool
	}{
		{
			name: "valid",
			job: utils.HiAniJob{
				URL:      "https://example.com/watch/show?ep=3",
				Metadata: map[string]any{"episodeNumber": 3},
			},
		},
		{
			name: "missing episode number",
			job: utils.HiAniJob{
				URL:      "https://example.com/watch/show?ep=3",
				Metadata: map[string]any{},
			},
			wantErr: true,
		},
		{
			name: "bad scheme",
			job: utils.HiAniJob{
				URL:      "ftp://example.com/watch",
				Metadata: map[string]any{"episodeNumber": 1},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.ValidateJob(&tt.job)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateJob() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildJobSetsLibraryPath(t *testing.T) {
	d := &EpisodeDownloader{}
	job := utils.HiAniJob{
		URL: "https://example.com/watch/show?ep=7",
		Metadata: map[string]any{
			"episodeNumber": 7,
			"seriesTitle":   "Vinland Saga",
			"downloadDir":   "/downloads",
		},
	}
	if err := d.BuildJob(&job); err != nil {
		t.Fatalf("BuildJob() error = %v", err)
	}
	want := filepath.Join("/downloads", "Vinland Saga", "Vinland Saga - E07.mp4")
	if job.OutputPath != want {
		t.Errorf("OutputPath = %q, want %q", job.OutputPath, want)
	}
	if job.ProgressType != "stream" {
		t.Errorf("ProgressType = %q, want stream", job.ProgressType)
	}
}

func TestBuildJobKeepsExplicitOutput(t *testing.T) {
	d := &EpisodeDownloader{}
	job := utils.HiAniJob{
		URL:        "https://example.com/watch/show?ep=7",
		OutputPath: "/tmp/custom.mp4",
		Metadata:   map[string]any{"episodeNumber": 7},
	}
	if err := d.BuildJob(&job); err != nil {
		t.Fatalf("BuildJob() error = %v", err)
	}
	if job.OutputPath != "/tmp/custom.mp4" {
		t.Errorf("OutputPath changed to %q", job.OutputPath)
	}
}

func TestFindTrack(t *testing.T) {
	tracks := []extract.SubtitleTrack{
		{Lang: "en", Label: "English", URL: "https://cdn.example.com/en.vtt"},
		{Lang: "pt-br", Label: "Portuguese - Brazilian", URL: "https://cdn.example.com/pt.vtt"},
	}
	if track, ok := findTrack(tracks, "EN"); !ok || track.URL != "https://cdn.example.com/en.vtt" {
		t.Errorf("exact lang match failed: %+v, %v", track, ok)
	}
	if track, ok := findTrack(tracks, "brazilian"); !ok || track.Lang != "pt-br" {
		t.Errorf("label fallback failed: %+v, %v", track, ok)
	}
	if _, ok := findTrack(tracks, "fr"); ok {
		t.Error("expected miss for absent language")
	}
}

func TestStagePercentOrdering(t *testing.T) {
	order := []string{StageGetStream, StageDownloadVideo, StageMergeVideo, StageDownloadSubtitles, StageComplete}
	prev := -1
	for _, stage := range order {
		pct, ok := stagePercent[stage]
		if !ok {
			t.Fatalf("stage %q has no percent", stage)
		}
		if pct <= prev {
			t.Errorf("stage %q percent %d not increasing", stage, pct)
		}
		prev = pct
	}
	if stagePercent[StageComplete] != 100 {
		t.Errorf("complete percent = %d, want 100", stagePercent[StageComplete])
	}
}
