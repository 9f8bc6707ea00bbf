package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radonc/mqsupervisor/internal/scheduler"
	"github.com/radonc/mqsupervisor/internal/store"
	"github.com/radonc/mqsupervisor/internal/workerpool"
)

type fakeStore struct {
	cases       map[int64]store.Case
	byStatus    map[store.CaseStatus][]store.Case
	gpus        []store.GpuResource
	listGpusErr error
}

func (f *fakeStore) GetCase(id int64) (store.Case, error) {
	c, ok := f.cases[id]
	if !ok {
		return store.Case{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) ListCasesByStatus(status store.CaseStatus, limit int) ([]store.Case, error) {
	return f.byStatus[status], nil
}

func (f *fakeStore) ListGpus() ([]store.GpuResource, error) {
	if f.listGpusErr != nil {
		return nil, f.listGpusErr
	}
	return f.gpus, nil
}

type fakePoolSnapshotter struct{ snap workerpool.Snapshot }

func (f fakePoolSnapshotter) Snapshot() workerpool.Snapshot { return f.snap }

type fakeSchedSnapshotter struct{ snap scheduler.Snapshot }

func (f fakeSchedSnapshotter) Snapshot() scheduler.Snapshot { return f.snap }

func newTestServer() (*Server, *fakeStore) {
	fs := &fakeStore{
		cases:    make(map[int64]store.Case),
		byStatus: make(map[store.CaseStatus][]store.Case),
	}
	pool := fakePoolSnapshotter{snap: workerpool.Snapshot{
		TotalProcessed:  5,
		Successful:      4,
		Failed:          1,
		PeakConcurrency: 2,
		SuccessRate:     0.8,
	}}
	sched := fakeSchedSnapshotter{snap: scheduler.Snapshot{
		StarvationPrevented: 1,
		TotalDecisions:      3,
	}}
	return New(fs, pool, sched, nil), fs
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleStatus(t *testing.T) {
	s, fs := newTestServer()
	fs.byStatus[store.StatusSubmitted] = []store.Case{{ID: 1, Status: store.StatusSubmitted}}
	fs.byStatus[store.StatusRunning] = []store.Case{{ID: 2, Status: store.StatusRunning}, {ID: 3, Status: store.StatusRunning}}
	fs.gpus = []store.GpuResource{{Group: "0", Status: store.GpuAvailable, LastUpdated: time.Now()}}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.SubmittedCount)
	assert.Equal(t, 2, body.RunningCount)
	require.Len(t, body.Gpus, 1)
	assert.Equal(t, "0", body.Gpus[0].Group)
	assert.Equal(t, 5, body.WorkerPool.TotalProcessed)
	assert.Equal(t, 3, body.Scheduler.TotalDecisions)
}

func TestHandleStatusStoreError(t *testing.T) {
	s, fs := newTestServer()
	fs.listGpusErr = assert.AnError

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleListCasesDefaultsToSubmitted(t *testing.T) {
	s, fs := newTestServer()
	fs.byStatus[store.StatusSubmitted] = []store.Case{{ID: 1, Status: store.StatusSubmitted}}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/cases", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var cases []store.Case
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cases))
	require.Len(t, cases, 1)
	assert.Equal(t, int64(1), cases[0].ID)
}

func TestHandleListCasesByStatusParam(t *testing.T) {
	s, fs := newTestServer()
	fs.byStatus[store.StatusFailed] = []store.Case{{ID: 9, Status: store.StatusFailed}}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/cases?status=failed", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var cases []store.Case
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cases))
	require.Len(t, cases, 1)
	assert.Equal(t, int64(9), cases[0].ID)
}

func TestHandleGetCaseFound(t *testing.T) {
	s, fs := newTestServer()
	fs.cases[42] = store.Case{ID: 42, Status: store.StatusRunning}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/cases/42", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var c store.Case
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, int64(42), c.ID)
}

func TestHandleGetCaseNotFound(t *testing.T) {
	s, _ := newTestServer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/cases/99", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetCaseInvalidID(t *testing.T) {
	s, _ := newTestServer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/cases/not-a-number", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListGpus(t *testing.T) {
	s, fs := newTestServer()
	fs.gpus = []store.GpuResource{
		{Group: "0", Status: store.GpuAvailable},
		{Group: "1", Status: store.GpuBusy},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/gpus", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var gpus []store.GpuResource
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gpus))
	assert.Len(t, gpus, 2)
}

func TestHandleMetricsExposesRegisteredGauges(t *testing.T) {
	s, _ := newTestServer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "mqsupervisor_worker_pool_total_processed 5")
	assert.Contains(t, body, "mqsupervisor_worker_pool_successful 4")
	assert.Contains(t, body, "mqsupervisor_scheduler_decisions_total 3")
}

func TestNewServerTwiceDoesNotPanicOnDuplicateMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		s1, _ := newTestServer()
		s2, _ := newTestServer()
		_ = s1.Handler()
		_ = s2.Handler()
	})
}
