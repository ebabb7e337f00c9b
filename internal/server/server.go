// Package server exposes the daemon HTTP API over the SQLite job store and
// runs queued jobs through the download pipeline.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bmizerany/pat"
	"github.com/rcrowley/go-metrics"

	"github.com/hianidl/hianidl/internal/sink"
	"github.com/hianidl/hianidl/internal/store"
	"github.com/hianidl/hianidl/internal/utils"
)

type Config struct {
	Addr        string
	DownloadDir string
	DataDir     string
	Workers     int
	Connections int
	UserAgent   string
	ProxyURL    string
	S3Target    string
	S3Profile   string
}

type Server struct {
	cfg      Config
	store    *store.Store
	registry metrics.Registry
	mirror   *sink.S3Mirror

	jobSubmitMeter metrics.Meter
	jobListMeter   metrics.Meter
	jobInfoMeter   metrics.Meter
	jobCancelMeter metrics.Meter
	jobClearMeter  metrics.Meter

	jobsDone   metrics.Counter
	jobsFailed metrics.Counter
}

func NewServer(cfg Config, st *store.Store) *Server {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Connections < 1 {
		cfg.Connections = 4
	}
	s := &Server{
		cfg:      cfg,
		store:    st,
		registry: metrics.NewRegistry(),
	}
	s.jobSubmitMeter = metrics.NewMeter()
	s.jobListMeter = metrics.NewMeter()
	s.jobInfoMeter = metrics.NewMeter()
	s.jobCancelMeter = metrics.NewMeter()
	s.jobClearMeter = metrics.NewMeter()
	s.jobsDone = metrics.NewCounter()
	s.jobsFailed = metrics.NewCounter()
	s.registry.Register("api.jobSubmitRequests", s.jobSubmitMeter)
	s.registry.Register("api.jobListRequests", s.jobListMeter)
	s.registry.Register("api.jobInfoRequests", s.jobInfoMeter)
	s.registry.Register("api.jobCancelRequests", s.jobCancelMeter)
	s.registry.Register("api.jobClearRequests", s.jobClearMeter)
	s.registry.Register("daemon.jobsDone", s.jobsDone)
	s.registry.Register("daemon.jobsFailed", s.jobsFailed)
	return s
}

func (s *Server) Router() http.Handler {
	p := pat.New()
	p.Post("/api/jobs", http.HandlerFunc(s.submitJobHandler))
	p.Get("/api/jobs/:id", http.HandlerFunc(s.jobInfoHandler))
	p.Get("/api/jobs", http.HandlerFunc(s.listJobsHandler))
	p.Post("/api/jobs/:id/cancel", http.HandlerFunc(s.cancelJobHandler))
	p.Del("/api/jobs", http.HandlerFunc(s.clearJobsHandler))
	p.Get("/api/health", http.HandlerFunc(s.healthHandler))
	p.Get("/api/metrics", http.HandlerFunc(s.metricsHandler))
	return p
}

// Run serves the API and the job runner until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	log := utils.GetLogger("server")
	if s.cfg.S3Target != "" {
		mirror, err := sink.NewS3Mirror(ctx, s.cfg.S3Target, s.cfg.S3Profile)
		if err != nil {
			return fmt.Errorf("error setting up S3 mirror: %v", err)
		}
		s.mirror = mirror
		log.Info().Str("op", "serve").Str("target", s.cfg.S3Target).Msg("S3 mirroring enabled")
	}
	httpServer := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("op", "serve").Str("addr", s.cfg.Addr).Msg("API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go s.runDaemon(ctx)

	select {
	case err := <-errCh:
		return fmt.Errorf("error serving API: %v", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

type submitRequest struct {
	URL       string `json:"url"`
	Profile   string `json:"profile"`
	ExtraArgs string `json:"extra_args"`
}

func (s *Server) submitJobHandler(w http.ResponseWriter, r *http.Request) {
	s.jobSubmitMeter.Mark(1)
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	defer r.Body.Close()
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	id, err := s.store.CreateJob(r.Context(), req.URL, req.Profile, req.ExtraArgs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	job, err := s.store.Job(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) listJobsHandler(w http.ResponseWriter, r *http.Request) {
	s.jobListMeter.Mark(1)
	limit, offset := 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	jobs, err := s.store.Jobs(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) jobInfoHandler(w http.ResponseWriter, r *http.Request) {
	s.jobInfoMeter.Mark(1)
	id, err := strconv.ParseInt(r.URL.Query().Get(":id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.store.Job(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	episodes, err := s.store.JobEpisodes(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job, "episodes": episodes})
}

func (s *Server) cancelJobHandler(w http.ResponseWriter, r *http.Request) {
	s.jobCancelMeter.Mark(1)
	id, err := strconv.ParseInt(r.URL.Query().Get(":id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.store.Job(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status.IsTerminal() {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}
	if err := s.store.CancelJob(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	job, _ = s.store.Job(r.Context(), id)
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) clearJobsHandler(w http.ResponseWriter, r *http.Request) {
	s.jobClearMeter.Mark(1)
	deleted, skipped, err := s.store.ClearFinished(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "skipped": skipped})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	snapshot := make(map[string]any)
	s.registry.Each(func(name string, metric any) {
		switch m := metric.(type) {
		case metrics.Meter:
			ms := m.Snapshot()
			snapshot[name] = map[string]any{
				"count":    ms.Count(),
				"rate1":    ms.Rate1(),
				"rateMean": ms.RateMean(),
			}
		case metrics.Counter:
			snapshot[name] = m.Count()
		case metrics.Gauge:
			snapshot[name] = m.Value()
		}
	})
	writeJSON(w, http.StatusOK, snapshot)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
