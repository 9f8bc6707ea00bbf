// Package statusapi exposes the minimal read-only HTTP status view spec §6
// allows ("A separate read-only dashboard view may be exposed but is
// outside the core"): case/GPU snapshots and a Prometheus /metrics
// endpoint over the Worker Pool and Priority Scheduler counters.
package statusapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/radonc/mqsupervisor/internal/scheduler"
	"github.com/radonc/mqsupervisor/internal/store"
	"github.com/radonc/mqsupervisor/internal/workerpool"
)

// CaseLister is the subset of internal/store.Store the API reads.
type CaseLister interface {
	GetCase(id int64) (store.Case, error)
	ListCasesByStatus(status store.CaseStatus, limit int) ([]store.Case, error)
	ListGpus() ([]store.GpuResource, error)
}

// PoolSnapshotter is the subset of internal/workerpool.Pool the API reads.
type PoolSnapshotter interface {
	Snapshot() workerpool.Snapshot
}

// SchedulerSnapshotter is the subset of internal/scheduler.Metrics the API
// reads.
type SchedulerSnapshotter interface {
	Snapshot() scheduler.Snapshot
}

// Server serves the read-only status view.
type Server struct {
	Store     CaseLister
	Pool      PoolSnapshotter
	Scheduler SchedulerSnapshotter
	Log       *zap.Logger
	StartedAt time.Time
	router    *mux.Router
	registry  *prometheus.Registry
}

// New constructs a Server and registers its routes and Prometheus
// collectors, mirroring the teacher's mux.NewRouter + PathPrefix("/api")
// route grouping (web_dashboard.go). Collectors register into a private
// registry rather than the global default one, so multiple Server
// instances (as in tests) never collide on duplicate metric names.
func New(st CaseLister, pool PoolSnapshotter, sched SchedulerSnapshotter, log *zap.Logger) *Server {
	s := &Server{
		Store:     st,
		Pool:      pool,
		Scheduler: sched,
		Log:       log,
		StartedAt: time.Now().UTC(),
		registry:  prometheus.NewRegistry(),
	}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/cases", s.handleListCases).Methods("GET")
	api.HandleFunc("/cases/{id}", s.handleGetCase).Methods("GET")
	api.HandleFunc("/gpus", s.handleListGpus).Methods("GET")

	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	s.registerCollectors()
	return s
}

// Handler returns the HTTP handler to mount (e.g. http.ListenAndServe).
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerCollectors() {
	factory := promauto.With(s.registry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mqsupervisor_worker_pool_total_processed",
		Help: "Total cases processed by the worker pool.",
	}, func() float64 { return float64(s.Pool.Snapshot().TotalProcessed) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mqsupervisor_worker_pool_successful",
		Help: "Successfully completed cases processed by the worker pool.",
	}, func() float64 { return float64(s.Pool.Snapshot().Successful) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mqsupervisor_worker_pool_failed",
		Help: "Failed or abandoned cases processed by the worker pool.",
	}, func() float64 { return float64(s.Pool.Snapshot().Failed) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mqsupervisor_worker_pool_peak_concurrency",
		Help: "Peak number of concurrently active workers.",
	}, func() float64 { return float64(s.Pool.Snapshot().PeakConcurrency) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mqsupervisor_worker_pool_success_rate",
		Help: "Fraction of processed cases that succeeded.",
	}, func() float64 { return s.Pool.Snapshot().SuccessRate })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mqsupervisor_scheduler_starvation_prevented_total",
		Help: "Number of scheduling decisions where a starvation boost was applied.",
	}, func() float64 { return float64(s.Scheduler.Snapshot().StarvationPrevented) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mqsupervisor_scheduler_decisions_total",
		Help: "Total scheduling decisions recorded.",
	}, func() float64 { return float64(s.Scheduler.Snapshot().TotalDecisions) })
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"started_at": s.StartedAt,
		"uptime_sec": time.Since(s.StartedAt).Seconds(),
	})
}

// statusResponse is the top-level /status payload: one snapshot of cases
// by status, GPU resource table, worker pool metrics, and scheduler
// metrics (spec §4.9's "in-memory counters" exposed here).
type statusResponse struct {
	SubmittedCount int                 `json:"submitted_count"`
	RunningCount   int                 `json:"running_count"`
	Gpus           []store.GpuResource `json:"gpus"`
	WorkerPool     workerpool.Snapshot `json:"worker_pool"`
	Scheduler      scheduler.Snapshot  `json:"scheduler"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	submitted, err := s.Store.ListCasesByStatus(store.StatusSubmitted, 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	running, err := s.Store.ListCasesByStatus(store.StatusRunning, 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	gpus, err := s.Store.ListGpus()
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		SubmittedCount: len(submitted),
		RunningCount:   len(running),
		Gpus:           gpus,
		WorkerPool:     s.Pool.Snapshot(),
		Scheduler:      s.Scheduler.Snapshot(),
	})
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	status := store.CaseStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = store.StatusSubmitted
	}
	cases, err := s.Store.ListCasesByStatus(status, 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cases)
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid case id", http.StatusBadRequest)
		return
	}
	c, err := s.Store.GetCase(id)
	if err != nil {
		if err == store.ErrNotFound {
			http.Error(w, "case not found", http.StatusNotFound)
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleListGpus(w http.ResponseWriter, r *http.Request) {
	gpus, err := s.Store.ListGpus()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gpus)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if s.Log != nil {
		s.Log.Error("statusapi: request failed", zap.Error(err))
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
