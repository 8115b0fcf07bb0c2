package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/teardown/internal/core/job"
)

// JobService はHTTP層から利用するジョブ操作
type JobService interface {
	Submit(ctx context.Context, companyName, companyURL string) (*job.Job, error)
	Status(ctx context.Context, id string) (*job.StatusView, error)
	ListJobs(ctx context.Context, limit int) ([]*job.Job, error)
	ListTeardowns(ctx context.Context, limit int) ([]*job.Teardown, error)
	GetTeardown(ctx context.Context, id uuid.UUID) (*job.Teardown, error)
	TeardownForJob(ctx context.Context, jobID string) (mo.Option[*job.Teardown], error)
}

// Admission はジョブ投入の受付制限
type Admission interface {
	Admit(ctx context.Context, key string) (bool, error)
}

const defaultListLimit = 100

// Server はジョブ投入と状態参照のHTTP API
type Server struct {
	jobs      JobService
	admission Admission
	metrics   http.Handler
	onReject  func()
	logger    *slog.Logger
}

type serverOptions struct {
	admission Admission
	metrics   http.Handler
	onReject  func()
	logger    *slog.Logger
}

// ServerOption は Server のオプション設定
type ServerOption func(*serverOptions)

// WithAdmission は投入時の受付制限を設定する
func WithAdmission(a Admission) ServerOption {
	return func(o *serverOptions) {
		o.admission = a
	}
}

// WithMetricsHandler は /metrics のハンドラを設定する
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(o *serverOptions) {
		o.metrics = h
	}
}

// WithRejectHook は受付制限で拒否したときに呼ぶ関数を設定する
func WithRejectHook(fn func()) ServerOption {
	return func(o *serverOptions) {
		o.onReject = fn
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// New は新しい Server を作成する
func New(jobs JobService, opts ...ServerOption) *Server {
	options := serverOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	return &Server{
		jobs:      jobs,
		admission: options.admission,
		metrics:   options.metrics,
		onReject:  options.onReject,
		logger:    options.logger,
	}
}

// Router はルーティング済みのハンドラを返す
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Mount("/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/start_teardown", s.handleStart(http.StatusOK))
		r.Post("/teardowns", s.handleStart(http.StatusAccepted))
		r.Get("/job_status/{id}", s.handleJobStatus)
		r.Get("/jobs/{id}", s.handleJobStatus)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/teardowns", s.handleListTeardowns)
		r.Get("/teardown/{id}", s.handleGetTeardown)
		r.Get("/teardown/{id}/download", s.handleDownload)
	})
	return r
}

type startRequest struct {
	CompanyName string `json:"company_name"`
	CompanyURL  string `json:"company_url"`
}

type startResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleStart(successCode int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid data format. Expected a JSON object")
			return
		}

		if s.admission != nil {
			allowed, err := s.admission.Admit(r.Context(), clientKey(r))
			if err != nil {
				s.logger.Error("受付制限の判定に失敗", "error", err)
				writeError(w, http.StatusInternalServerError, "rate limit error")
				return
			}
			if !allowed {
				if s.onReject != nil {
					s.onReject()
				}
				writeError(w, http.StatusTooManyRequests, "Too many teardown requests. Please retry later")
				return
			}
		}

		j, err := s.jobs.Submit(r.Context(), req.CompanyName, req.CompanyURL)
		if err != nil {
			if errors.Is(err, job.ErrInvalidTarget) {
				writeError(w, http.StatusBadRequest, "Company name and URL are required")
				return
			}
			s.logger.Error("ジョブの投入に失敗", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to start teardown")
			return
		}

		writeJSON(w, successCode, startResponse{
			JobID:   j.ID,
			Status:  "started",
			Message: fmt.Sprintf("Teardown analysis started for %s", j.CompanyName),
		})
	}
}

type jobStatusResponse struct {
	*job.Job
	Active          bool          `json:"active"`
	ReportAvailable bool          `json:"report_available"`
	Report          string        `json:"report,omitempty"`
	Teardown        *job.Teardown `json:"teardown,omitempty"`
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := s.jobs.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.logger.Error("ジョブ状態の取得に失敗", "jobID", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}

	resp := jobStatusResponse{
		Job:             view.Job,
		Active:          view.Active,
		ReportAvailable: view.ReportAvailable,
		Report:          view.Report,
	}
	if view.Job.Status == job.StatusCompleted {
		found, err := s.jobs.TeardownForJob(r.Context(), id)
		if err != nil {
			s.logger.Warn("ティアダウンの取得に失敗", "jobID", id, "error", err)
		} else if t, ok := found.Get(); ok {
			resp.Teardown = t
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListJobs(r.Context(), listLimit(r))
	if err != nil {
		s.logger.Error("ジョブ一覧の取得に失敗", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleListTeardowns(w http.ResponseWriter, r *http.Request) {
	teardowns, err := s.jobs.ListTeardowns(r.Context(), listLimit(r))
	if err != nil {
		s.logger.Error("ティアダウン一覧の取得に失敗", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list teardowns")
		return
	}
	if teardowns == nil {
		teardowns = []*job.Teardown{}
	}
	writeJSON(w, http.StatusOK, teardowns)
}

func (s *Server) handleGetTeardown(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupTeardown(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupTeardown(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", t.DownloadName()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(t.Content))
}

func (s *Server) lookupTeardown(w http.ResponseWriter, r *http.Request) (*job.Teardown, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Teardown not found")
		return nil, false
	}
	t, err := s.jobs.GetTeardown(r.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrTeardownNotFound) {
			writeError(w, http.StatusNotFound, "Teardown not found")
			return nil, false
		}
		s.logger.Error("ティアダウンの取得に失敗", "teardownID", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load teardown")
		return nil, false
	}
	return t, true
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTPリクエスト",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"requestID", middleware.GetReqID(r.Context()),
		)
	})
}

// clientKey は受付制限のキーにする接続元アドレスを返す
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func listLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultListLimit
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

var _ JobService = (*job.Controller)(nil)
