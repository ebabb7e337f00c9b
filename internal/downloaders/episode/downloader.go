// Package episode runs the full per-episode pipeline: resolve the stream
// behind an episode page, download it, place it in the library and fetch
// subtitles. Each stage is reported through the job's StageFunc so daemon
// runs can persist progress.
package episode

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hianidl/hianidl/internal/downloaders/hls"
	hianihttp "github.com/hianidl/hianidl/internal/downloaders/http"
	"github.com/hianidl/hianidl/internal/extract"
	"github.com/hianidl/hianidl/internal/sink"
	"github.com/hianidl/hianidl/internal/utils"
)

// Pipeline stages in execution order.
const (
	StageGetStream         = "get_stream"
	StageDownloadVideo     = "download_video"
	StageMergeVideo        = "merge_video"
	StageDownloadSubtitles = "download_subtitles"
	StageComplete          = "complete"
)

var stagePercent = map[string]int{
	StageGetStream:         10,
	StageDownloadVideo:     20,
	StageMergeVideo:        80,
	StageDownloadSubtitles: 90,
	StageComplete:          100,
}

type EpisodeDownloader struct{}

func (d *EpisodeDownloader) ValidateJob(job *utils.HiAniJob) error {
	parsedURL, err := url.Parse(job.URL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("URL must use HTTP or HTTPS protocol")
	}
	if _, ok := job.Metadata["episodeNumber"].(int); !ok {
		return fmt.Errorf("episode job requires an episode number")
	}
	return nil
}

func (d *EpisodeDownloader) BuildJob(job *utils.HiAniJob) error {
	if job.OutputPath == "" {
		seriesTitle, _ := job.Metadata["seriesTitle"].(string)
		if seriesTitle == "" {
			seriesTitle = "Unknown Series"
		}
		root, _ := job.Metadata["downloadDir"].(string)
		if root == "" {
			root = "."
		}
		layout := sink.Layout{Root: root}
		job.OutputPath = layout.EpisodePath(seriesTitle, job.Metadata["episodeNumber"].(int))
	}
	job.ProgressType = "stream"
	return nil
}

func (d *EpisodeDownloader) Download(job *utils.HiAniJob) error {
	log := utils.GetLogger("episode")
	number := job.Metadata["episodeNumber"].(int)
	seriesURL, _ := job.Metadata["seriesURL"].(string)
	title, _ := job.Metadata["episodeTitle"].(string)

	reportStage(job, StageGetStream, "Resolving stream")
	resolver := extract.NewResolver(job.HTTPClientConfig)
	stream, err := resolver.ResolveStream(context.Background(), extract.Episode{
		Number:  number,
		Title:   title,
		PageURL: job.URL,
	}, seriesURL)
	if err != nil {
		return fmt.Errorf("error resolving stream for episode %d: %v", number, err)
	}
	log.Debug().Str("op", "pipeline").Int("episode", number).Str("kind", string(stream.Kind)).Msg("Stream resolved")

	reportStage(job, StageDownloadVideo, "Downloading video")
	scratch := filepath.Join(filepath.Dir(job.OutputPath), utils.TempDirName, filepath.Base(job.OutputPath))
	if err := os.MkdirAll(filepath.Dir(scratch), 0755); err != nil {
		return fmt.Errorf("error creating scratch directory: %v", err)
	}
	subJob := &utils.HiAniJob{
		ID:               job.ID,
		URL:              stream.URL,
		OutputPath:       scratch,
		Connections:      job.Connections,
		ProgressFunc:     job.ProgressFunc,
		StreamFunc:       job.StreamFunc,
		Metadata:         make(map[string]any),
		HTTPClientConfig: job.HTTPClientConfig,
	}
	subJob.HTTPClientConfig.Referer = stream.Referer
	if quality, ok := job.Metadata["quality"].(string); ok {
		subJob.Metadata["quality"] = quality
	}

	var dl utils.Downloader
	switch stream.Kind {
	case extract.StreamHLS:
		subJob.JobType = "hls"
		dl = &hls.HLSDownloader{}
	default:
		subJob.JobType = "http"
		dl = &hianihttp.HTTPDownloader{}
	}
	if err := dl.ValidateJob(subJob); err != nil {
		return fmt.Errorf("error validating stream download: %v", err)
	}
	if err := dl.BuildJob(subJob); err != nil {
		return fmt.Errorf("error building stream download: %v", err)
	}
	if err := dl.Download(subJob); err != nil {
		return fmt.Errorf("error downloading episode %d: %v", number, err)
	}

	reportStage(job, StageMergeVideo, "Placing file in library")
	finalPath, err := sink.Finalize(subJob.OutputPath, job.OutputPath)
	if err != nil {
		return fmt.Errorf("error placing episode %d: %v", number, err)
	}
	job.OutputPath = finalPath
	job.Metadata["finalPath"] = finalPath

	reportStage(job, StageDownloadSubtitles, "Fetching subtitles")
	d.downloadSubtitles(job, stream, finalPath)

	reportStage(job, StageComplete, "Episode complete")
	log.Info().Str("op", "pipeline").Int("episode", number).Str("output", finalPath).Msg("Episode finished")
	return nil
}

// downloadSubtitles fetches the configured subtitle languages next to the
// episode file. Missing tracks are warnings, never failures.
func (d *EpisodeDownloader) downloadSubtitles(job *utils.HiAniJob, stream *extract.Stream, episodePath string) {
	log := utils.GetLogger("episode")
	langs, _ := job.Metadata["subtitleLangs"].([]string)
	if len(langs) == 0 {
		return
	}
	client := utils.NewHiAniHTTPClient(job.HTTPClientConfig)
	for _, lang := range langs {
		track, ok := findTrack(stream.Subtitles, lang)
		if !ok {
			if job.StreamFunc != nil {
				job.StreamFunc(fmt.Sprintf("No %s subtitle track available", lang))
			}
			log.Warn().Str("op", "subtitles").Str("lang", lang).Msg("Subtitle track not found")
			continue
		}
		ext := filepath.Ext(strings.SplitN(track.URL, "?", 2)[0])
		if ext != ".srt" {
			ext = ".vtt"
		}
		subPath := sink.SubtitlePath(episodePath, lang, ext)
		if err := fetchSubtitle(client, track.URL, subPath); err != nil {
			log.Warn().Str("op", "subtitles").Str("lang", lang).Err(err).Msg("Subtitle download failed")
			continue
		}
		log.Debug().Str("op", "subtitles").Str("lang", lang).Str("path", subPath).Msg("Subtitle saved")
	}
}

func findTrack(tracks []extract.SubtitleTrack, lang string) (extract.SubtitleTrack, bool) {
	for _, track := range tracks {
		if strings.EqualFold(track.Lang, lang) {
			return track, true
		}
	}
	// Fall back to label matching for sites without clean language codes.
	for _, track := range tracks {
		if strings.Contains(strings.ToLower(track.Label), strings.ToLower(lang)) {
			return track, true
		}
	}
	return extract.SubtitleTrack{}, false
}

func fetchSubtitle(client *utils.HiAniHTTPClient, trackURL, subPath string) error {
	req, err := http.NewRequest("GET", trackURL, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching subtitle: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status code %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading subtitle body: %v", err)
	}
	return os.WriteFile(subPath, data, 0644)
}

func reportStage(job *utils.HiAniJob, stage, message string) {
	if job.StageFunc != nil {
		job.StageFunc(stage, stagePercent[stage])
	}
	if job.StreamFunc != nil {
		job.StreamFunc(message)
	}
}
