package scheduler

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/radonc/mqsupervisor/internal/store"
)

func openTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	path := t.TempDir() + "/state.db"
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

// backdateCase adjusts a freshly-added case's created_at/status_updated_at
// so aging/weighted-fair tests can exercise wait-time behavior without
// sleeping in real time. It opens a second raw connection to the same
// database file since Store does not expose arbitrary SQL execution.
func backdateCase(t *testing.T, dbPath string, id int64, age time.Duration) {
	t.Helper()
	conn, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer conn.Close()

	ts := time.Now().UTC().Add(-age)
	_, err = conn.Exec(`UPDATE cases SET created_at = ?, status_updated_at = ? WHERE id = ?`, ts, ts, id)
	require.NoError(t, err)
}

func TestSelectBatchStrictPriorityOrdersByPriorityThenAge(t *testing.T) {
	st, _ := openTestStore(t)
	low, err := st.AddCase("/c/low", int(PriorityLow))
	require.NoError(t, err)
	high, err := st.AddCase("/c/high", int(PriorityHigh))
	require.NoError(t, err)

	s := New(st, StrategyStrictPriority, 0.1, 24, zap.NewNop())
	batch, err := s.SelectBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, high, batch[0].ID)
	assert.Equal(t, low, batch[1].ID)
}

func TestSelectBatchRespectsLimit(t *testing.T) {
	st, _ := openTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := st.AddCase(t.TempDir(), int(PriorityNormal))
		require.NoError(t, err)
	}
	s := New(st, StrategyStrictPriority, 0.1, 24, zap.NewNop())
	batch, err := s.SelectBatch(2)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestSelectBatchAgingPromotesStarvedLowPriorityCase(t *testing.T) {
	st, path := openTestStore(t)
	starved, err := st.AddCase("/c/starved", int(PriorityLow))
	require.NoError(t, err)
	backdateCase(t, path, starved, 48*time.Hour)

	fresh, err := st.AddCase("/c/fresh", int(PriorityHigh))
	require.NoError(t, err)
	_ = fresh

	s := New(st, StrategyAging, 0.1, 24, zap.NewNop())
	batch, err := s.SelectBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	// starved low-priority case ages past the fresh high-priority one:
	// 1 + 48*0.1 + 2.0(starvation) = 7.8 > 3 (high, no aging accrued yet)
	assert.Equal(t, starved, batch[0].ID)
	assert.Equal(t, 1, s.Metrics.Snapshot().StarvationPrevented)
}

func TestSelectBatchWeightedFairDoublesStarvedScore(t *testing.T) {
	st, path := openTestStore(t)
	starved, err := st.AddCase("/c/starved", int(PriorityNormal))
	require.NoError(t, err)
	backdateCase(t, path, starved, 30*time.Hour)

	other, err := st.AddCase("/c/other", int(PriorityNormal))
	require.NoError(t, err)
	_ = other

	s := New(st, StrategyWeightedFair, 0.1, 24, zap.NewNop())
	batch, err := s.SelectBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, starved, batch[0].ID)
}

func TestSelectBatchZeroLimitReturnsNothing(t *testing.T) {
	st, _ := openTestStore(t)
	s := New(st, StrategyStrictPriority, 0.1, 24, zap.NewNop())
	batch, err := s.SelectBatch(0)
	require.NoError(t, err)
	assert.Nil(t, batch)
}

func TestSelectBatchRecordsMetrics(t *testing.T) {
	st, _ := openTestStore(t)
	_, err := st.AddCase("/c/a", int(PriorityHigh))
	require.NoError(t, err)

	s := New(st, StrategyStrictPriority, 0.1, 24, zap.NewNop())
	_, err = s.SelectBatch(10)
	require.NoError(t, err)

	snap := s.Metrics.Snapshot()
	assert.Equal(t, 1, snap.TotalDecisions)
	assert.Equal(t, 1, snap.CasesByPriority[PriorityHigh])
}

func TestDegradedFallbackUsedForUnknownAlgorithm(t *testing.T) {
	st, _ := openTestStore(t)
	_, err := st.AddCase("/c/a", int(PriorityNormal))
	require.NoError(t, err)

	s := New(st, Algorithm("bogus"), 0.1, 24, zap.NewNop())
	batch, err := s.SelectBatch(10)
	require.NoError(t, err)
	assert.Len(t, batch, 1)
}
