package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hianidl/hianidl/internal/downloaders/episode"
	"github.com/hianidl/hianidl/internal/extract"
	"github.com/hianidl/hianidl/internal/profiles"
	"github.com/hianidl/hianidl/internal/store"
	"github.com/hianidl/hianidl/internal/utils"
)

const pollInterval = 3 * time.Second

// runDaemon polls the store for queued jobs and runs them, up to
// cfg.Workers jobs at a time.
func (s *Server) runDaemon(ctx context.Context) {
	log := utils.GetLogger("daemon")
	sem := make(chan struct{}, s.cfg.Workers)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		jobs, err := s.store.ActiveJobs(ctx)
		if err != nil {
			log.Error().Str("op", "poll").Err(err).Msg("Failed to list active jobs")
			continue
		}
		for _, job := range jobs {
			if job.Status != store.JobQueued {
				continue
			}
			claimed, err := s.store.ClaimJob(ctx, job.ID)
			if err != nil {
				log.Error().Str("op", "claim").Int64("job", job.ID).Err(err).Msg("Claim failed")
				continue
			}
			if !claimed {
				continue
			}
			sem <- struct{}{}
			go func(job *store.Job) {
				defer func() { <-sem }()
				s.runJob(ctx, job)
			}(job)
		}
	}
}

func (s *Server) runJob(ctx context.Context, job *store.Job) {
	log := utils.GetLogger("daemon")
	logFile := filepath.Join(s.cfg.DataDir, "logs", fmt.Sprintf("job-%d.log", job.ID))
	os.MkdirAll(filepath.Dir(logFile), 0755)
	if err := s.store.StartJob(ctx, job.ID, os.Getpid(), logFile); err != nil {
		log.Error().Str("op", "run").Int64("job", job.ID).Err(err).Msg("Failed to mark job started")
		return
	}
	err := s.executeJob(ctx, job)
	if err != nil {
		log.Error().Str("op", "run").Int64("job", job.ID).Err(err).Msg("Job failed")
		s.jobsFailed.Inc(1)
		if finishErr := s.store.FinishJob(context.WithoutCancel(ctx), job.ID, false, err.Error()); finishErr != nil {
			log.Error().Str("op", "run").Int64("job", job.ID).Err(finishErr).Msg("Failed to record job failure")
		}
		return
	}
	// Cancellation happens through the API; a canceled job must not be
	// flipped back to success.
	current, getErr := s.store.Job(ctx, job.ID)
	if getErr == nil && current != nil && current.Status == store.JobCanceled {
		return
	}
	s.jobsDone.Inc(1)
	if finishErr := s.store.FinishJob(ctx, job.ID, true, ""); finishErr != nil {
		log.Error().Str("op", "run").Int64("job", job.ID).Err(finishErr).Msg("Failed to record job success")
	}
}

func (s *Server) executeJob(ctx context.Context, job *store.Job) error {
	log := utils.GetLogger("daemon")
	profile, err := profiles.Load(s.cfg.DataDir, job.Profile)
	if err != nil {
		return fmt.Errorf("error loading profile: %v", err)
	}
	clientConfig := utils.HTTPClientConfig{
		UserAgent: s.cfg.UserAgent,
		ProxyURL:  s.cfg.ProxyURL,
	}

	if err := s.store.UpdateProgress(ctx, job.ID, store.StageProgress[store.StageResolve], store.StageResolve, "Resolving series"); err != nil {
		return err
	}
	resolver := extract.NewResolver(clientConfig)
	series, err := resolver.ResolveSeries(ctx, job.URL)
	if err != nil {
		return fmt.Errorf("error resolving series: %v", err)
	}
	selected, err := selectEpisodes(series.Episodes, job.ExtraArgs)
	if err != nil {
		return err
	}
	log.Info().Str("op", "run").Int64("job", job.ID).Str("series", series.Title).Int("episodes", len(selected)).Msg("Series resolved")

	if err := s.store.UpdateProgress(ctx, job.ID, store.StageProgress[store.StageDownload], store.StageDownload, fmt.Sprintf("Downloading %d episodes", len(selected))); err != nil {
		return err
	}
	downloader := &episode.EpisodeDownloader{}
	var failed int
	for i, ep := range selected {
		if canceled, err := s.jobCanceled(ctx, job.ID); err != nil || canceled {
			if err != nil {
				return err
			}
			return nil
		}
		episodeID, err := s.store.CreateEpisode(ctx, job.ID, ep.Number, ep.Title)
		if err != nil {
			return fmt.Errorf("error recording episode %d: %v", ep.Number, err)
		}
		if err := s.runEpisode(ctx, job, episodeID, ep, series, profile, clientConfig, downloader); err != nil {
			failed++
			log.Error().Str("op", "run").Int64("job", job.ID).Int("episode", ep.Number).Err(err).Msg("Episode failed")
		}
		overall := store.StageProgress[store.StageDownload] +
			(store.StageProgress[store.StagePostprocess]-store.StageProgress[store.StageDownload])*(i+1)/len(selected)
		text := fmt.Sprintf("%d/%d episodes", i+1, len(selected))
		s.store.UpdateProgress(ctx, job.ID, overall, store.StageDownload, text)
	}
	if failed == len(selected) {
		return fmt.Errorf("all %d episodes failed", failed)
	}
	s.store.UpdateProgress(ctx, job.ID, store.StageProgress[store.StagePostprocess], store.StagePostprocess, "Finishing up")
	if failed > 0 {
		log.Warn().Str("op", "run").Int64("job", job.ID).Int("failed", failed).Msg("Job finished with failed episodes")
	}
	return nil
}

func (s *Server) runEpisode(ctx context.Context, job *store.Job, episodeID int64, ep extract.Episode, series *extract.Series, profile profiles.Profile, clientConfig utils.HTTPClientConfig, downloader *episode.EpisodeDownloader) error {
	dlJob := utils.HiAniJob{
		ID:          fmt.Sprintf("%d-%d", job.ID, ep.Number),
		JobType:     "episode",
		URL:         ep.PageURL,
		Connections: profile.Connections,
		Metadata: map[string]any{
			"episodeNumber": ep.Number,
			"episodeTitle":  ep.Title,
			"seriesTitle":   series.Title,
			"seriesURL":     series.URL,
			"downloadDir":   s.cfg.DownloadDir,
			"subtitleLangs": profile.SubtitleLangs,
			"quality":       profile.Quality,
		},
		HTTPClientConfig: clientConfig,
		StageFunc: func(stage string, percent int) {
			status := store.EpisodeStatus(stage)
			s.store.UpdateEpisode(context.WithoutCancel(ctx), episodeID, store.EpisodeUpdate{
				Status:          &status,
				ProgressPercent: &percent,
			})
		},
	}
	if err := downloader.ValidateJob(&dlJob); err != nil {
		return s.failEpisode(ctx, episodeID, err)
	}
	if err := downloader.BuildJob(&dlJob); err != nil {
		return s.failEpisode(ctx, episodeID, err)
	}
	if err := downloader.Download(&dlJob); err != nil {
		return s.failEpisode(ctx, episodeID, err)
	}
	if finalPath, ok := dlJob.Metadata["finalPath"].(string); ok {
		s.store.UpdateEpisode(ctx, episodeID, store.EpisodeUpdate{
			StageData: map[string]any{"output_path": finalPath},
		})
		s.mirrorArtifact(ctx, finalPath)
	}
	return nil
}

// mirrorArtifact uploads a finished file to the configured S3 target. Mirror
// failures are logged, never fatal: the local copy is the source of truth.
func (s *Server) mirrorArtifact(ctx context.Context, finalPath string) {
	if s.mirror == nil {
		return
	}
	log := utils.GetLogger("daemon")
	relKey, err := filepath.Rel(s.cfg.DownloadDir, finalPath)
	if err != nil {
		relKey = filepath.Base(finalPath)
	}
	if err := s.mirror.Mirror(ctx, finalPath, relKey); err != nil {
		log.Warn().Str("op", "mirror").Str("path", finalPath).Err(err).Msg("S3 mirror failed")
	}
}

func (s *Server) failEpisode(ctx context.Context, episodeID int64, cause error) error {
	status := store.EpisodeFailedStatus
	message := cause.Error()
	s.store.UpdateEpisode(context.WithoutCancel(ctx), episodeID, store.EpisodeUpdate{
		Status:       &status,
		ErrorMessage: &message,
	})
	return cause
}

func (s *Server) jobCanceled(ctx context.Context, jobID int64) (bool, error) {
	job, err := s.store.Job(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	return job.Status == store.JobCanceled, nil
}

// selectEpisodes applies an "--episodes" selection from the job's extra
// args, e.g. "--episodes 1-12" or "--episodes 3,5,9".
func selectEpisodes(all []extract.Episode, extraArgs string) ([]extract.Episode, error) {
	selection := ""
	fields := strings.Fields(extraArgs)
	for i, field := range fields {
		if field == "--episodes" && i+1 < len(fields) {
			selection = fields[i+1]
			break
		}
		if value, ok := strings.CutPrefix(field, "--episodes="); ok {
			selection = value
			break
		}
	}
	if selection == "" {
		return all, nil
	}
	numbers, err := utils.ParseEpisodeSelection(selection)
	if err != nil {
		return nil, fmt.Errorf("invalid episode selection: %v", err)
	}
	wanted := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		wanted[n] = true
	}
	var result []extract.Episode
	for _, ep := range all {
		if wanted[ep.Number] {
			result = append(result, ep)
		}
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("selection %q matches no episodes", selection)
	}
	return result, nil
}
