package store

import "time"

type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobRunning  JobStatus = "running"
	JobSuccess  JobStatus = "success"
	JobFailed   JobStatus = "failed"
	JobCanceled JobStatus = "canceled"
)

// IsTerminal reports whether the job can no longer change state.
func (s JobStatus) IsTerminal() bool {
	return s == JobSuccess || s == JobFailed || s == JobCanceled
}

type JobStage string

const (
	StageInit        JobStage = "init"
	StageResolve     JobStage = "resolve"
	StageDownload    JobStage = "download"
	StagePostprocess JobStage = "postprocess"
	StageDone        JobStage = "done"
)

// StageProgress anchors overall job progress to the pipeline stage, so the
// GUI shows movement even before per-episode byte counts arrive.
var StageProgress = map[JobStage]int{
	StageInit:        5,
	StageResolve:     15,
	StageDownload:    30,
	StagePostprocess: 95,
	StageDone:        100,
}

type EpisodeStatus string

const (
	EpisodePending      EpisodeStatus = "pending"
	EpisodeGetStream    EpisodeStatus = "get_stream"
	EpisodeDownloading  EpisodeStatus = "download_video"
	EpisodeMerging      EpisodeStatus = "merge_video"
	EpisodeSubtitles    EpisodeStatus = "download_subtitles"
	EpisodeComplete     EpisodeStatus = "complete"
	EpisodeFailedStatus EpisodeStatus = "failed"
)

var EpisodeStatusLabels = map[EpisodeStatus]string{
	EpisodePending:      "Waiting",
	EpisodeGetStream:    "Finding stream",
	EpisodeDownloading:  "Downloading",
	EpisodeMerging:      "Merging",
	EpisodeSubtitles:    "Subtitles",
	EpisodeComplete:     "Complete",
	EpisodeFailedStatus: "Failed",
}

func (s EpisodeStatus) IsActive() bool {
	switch s {
	case EpisodeGetStream, EpisodeDownloading, EpisodeMerging, EpisodeSubtitles:
		return true
	}
	return false
}

type Job struct {
	ID              int64     `json:"id"`
	URL             string    `json:"url"`
	Profile         string    `json:"profile,omitempty"`
	ExtraArgs       string    `json:"extra_args,omitempty"`
	Status          JobStatus `json:"status"`
	Stage           JobStage  `json:"stage,omitempty"`
	ProgressPercent int       `json:"progress_percent"`
	ProgressText    string    `json:"progress_text,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	FinishedAt      time.Time `json:"finished_at,omitzero"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	LogFile         string    `json:"log_file,omitempty"`
	PID             int       `json:"pid,omitempty"`
}

type Episode struct {
	ID              int64         `json:"id"`
	JobID           int64         `json:"job_id"`
	EpisodeNumber   int           `json:"episode_number"`
	Title           string        `json:"title"`
	Status          EpisodeStatus `json:"status"`
	StatusLabel     string        `json:"status_label"`
	ProgressPercent int           `json:"progress_percent"`
	StageData       string        `json:"stage_data,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	StartedAt       time.Time     `json:"started_at,omitzero"`
	FinishedAt      time.Time     `json:"finished_at,omitzero"`
	LogFile         string        `json:"log_file,omitempty"`
}
