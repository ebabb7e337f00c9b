package scheduler

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/hianidl/hianidl/internal/downloaders/episode"
	"github.com/hianidl/hianidl/internal/downloaders/hls"
	hianihttp "github.com/hianidl/hianidl/internal/downloaders/http"
	"github.com/hianidl/hianidl/internal/output"
	"github.com/hianidl/hianidl/internal/utils"
)

// downloaderRegistry maps job types to their downloader implementations
var downloaderRegistry = map[string]utils.Downloader{
	"episode": &episode.EpisodeDownloader{},
	"hls":     &hls.HLSDownloader{},
	"http":    &hianihttp.HTTPDownloader{},
}

// Run executes the given jobs with a pool of numWorkers workers. With
// enableLog set, logs are written to the log file instead of the display.
func Run(jobs []utils.HiAniJob, numWorkers int, enableLog bool) error {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if enableLog {
		logFile, err := os.OpenFile(utils.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("error opening log file: %v", err)
		}
		defer logFile.Close()
		utils.SetLogOutput(logFile)
	}

	outputMgr := output.NewManager()
	outputMgr.StartDisplay()

	jobCh := make(chan utils.HiAniJob, len(jobs))
	for _, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.New().String()
		}
		jobCh <- job
	}
	close(jobCh)

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processJobs(jobCh, outputMgr)
		}()
	}
	wg.Wait()

	outputMgr.StopDisplay()
	outputMgr.ShowSummary()
	if outputMgr.HasErrors() {
		return fmt.Errorf("one or more jobs failed")
	}
	return nil
}

// processJobs runs each job through validate, build and download. A failed
// job reports its error and never stops the pool.
func processJobs(jobCh <-chan utils.HiAniJob, outputMgr *output.Manager) {
	log := utils.GetLogger("scheduler")
	for job := range jobCh {
		taskID := outputMgr.Register(taskName(&job))

		downloader, exists := downloaderRegistry[job.JobType]
		if !exists {
			outputMgr.ReportError(taskID, fmt.Errorf("unknown job type: %s", job.JobType))
			continue
		}

		outputMgr.SetStatus(taskID, "pending")
		outputMgr.SetMessage(taskID, fmt.Sprintf("Validating %s job", job.JobType))
		if err := downloader.ValidateJob(&job); err != nil {
			outputMgr.ReportError(taskID, fmt.Errorf("validation failed: %v", err))
			continue
		}

		outputMgr.SetMessage(taskID, fmt.Sprintf("Building %s job", job.JobType))
		if err := downloader.BuildJob(&job); err != nil {
			outputMgr.ReportError(taskID, fmt.Errorf("build failed: %v", err))
			continue
		}

		outputMgr.SetStatus(taskID, "active")
		outputMgr.SetMessage(taskID, fmt.Sprintf("Downloading %s", job.OutputPath))
		attachReporting(&job, outputMgr, taskID)
		if err := downloader.Download(&job); err != nil {
			log.Error().Str("op", "run").Str("type", job.JobType).Err(err).Msg("Job failed")
			outputMgr.ReportError(taskID, fmt.Errorf("download failed: %v", err))
			continue
		}

		outputMgr.Complete(taskID, fmt.Sprintf("Completed %s", job.OutputPath))
	}
}

// attachReporting wires the job's callbacks to the output manager without
// overriding hooks the caller already installed.
func attachReporting(job *utils.HiAniJob, outputMgr *output.Manager, taskID int) {
	prevProgress := job.ProgressFunc
	job.ProgressFunc = func(downloaded, total int64) {
		text := utils.FormatBytes(uint64(downloaded))
		if job.ProgressType == "stream" && total > 0 {
			text = fmt.Sprintf("%d/%d segments", downloaded, total)
		}
		outputMgr.SetProgress(taskID, downloaded, total, text)
		if prevProgress != nil {
			prevProgress(downloaded, total)
		}
	}
	prevStream := job.StreamFunc
	job.StreamFunc = func(line string) {
		outputMgr.AddStreamLine(taskID, line)
		if prevStream != nil {
			prevStream(line)
		}
	}
	prevStage := job.StageFunc
	job.StageFunc = func(stage string, percent int) {
		outputMgr.SetMessage(taskID, fmt.Sprintf("%s (%d%%)", stage, percent))
		if prevStage != nil {
			prevStage(stage, percent)
		}
	}
}

func taskName(job *utils.HiAniJob) string {
	if number, ok := job.Metadata["episodeNumber"].(int); ok {
		if title, ok := job.Metadata["seriesTitle"].(string); ok && title != "" {
			return fmt.Sprintf("%s E%02d", title, number)
		}
		return fmt.Sprintf("Episode %d", number)
	}
	if job.OutputPath != "" {
		return job.OutputPath
	}
	return job.URL
}
