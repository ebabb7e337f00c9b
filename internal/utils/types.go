package utils

import "time"

// Downloader is implemented by every job type the scheduler can run.
type Downloader interface {
	ValidateJob(job *HiAniJob) error
	BuildJob(job *HiAniJob) error
	Download(job *HiAniJob) error
}

type HiAniJob struct {
	ID               string
	JobType          string
	URL              string
	OutputPath       string
	Profile          string
	ProgressType     string
	ProgressFunc     func(downloaded, total int64)
	StreamFunc       func(line string)
	StageFunc        func(stage string, percent int)
	Connections      int
	Metadata         map[string]any
	HTTPClientConfig HTTPClientConfig
}

type DownloadConfig struct {
	URL              string
	OutputPath       string
	Connections      int
	HTTPClientConfig HTTPClientConfig
}

type DownloadChunk struct {
	ID         int
	StartByte  int64
	EndByte    int64
	Downloaded int64
	Completed  bool
	Retries    int
	LastError  error
	StartTime  time.Time
	FinishTime time.Time
}

type DownloadJob struct {
	Config    DownloadConfig
	FileSize  int64
	Chunks    []DownloadChunk
	StartTime time.Time
	TempFiles []string
}

type DownloadEntry struct {
	OutputPath string `yaml:"op"`
	URL        string `yaml:"link"`
	Type       string `yaml:"type"`
}
