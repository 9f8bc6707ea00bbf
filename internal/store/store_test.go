package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := t.TempDir() + "/state.db"
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openTestStore(t)
	_, err := s.conn.Exec("SELECT 1 FROM cases LIMIT 1")
	assert.NoError(t, err)
	_, err = s.conn.Exec("SELECT 1 FROM gpu_resources LIMIT 1")
	assert.NoError(t, err)
	_, err = s.conn.Exec("SELECT 1 FROM workflow_steps LIMIT 1")
	assert.NoError(t, err)
}

func TestAddCaseDuplicatePath(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AddCase("/cases/A", 0)
	require.NoError(t, err)

	_, err = s.AddCase("/cases/A", 0)
	assert.ErrorIs(t, err, ErrDuplicatePath)
}

func TestGetCaseNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetCase(999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCasesByStatusOrdering(t *testing.T) {
	s := openTestStore(t)
	lowID, err := s.AddCase("/cases/low", 1)
	require.NoError(t, err)
	highID, err := s.AddCase("/cases/high", 10)
	require.NoError(t, err)
	normalID, err := s.AddCase("/cases/normal", 5)
	require.NoError(t, err)

	cases, err := s.ListCasesByStatus(StatusSubmitted, 0)
	require.NoError(t, err)
	require.Len(t, cases, 3)
	assert.Equal(t, highID, cases[0].ID)
	assert.Equal(t, normalID, cases[1].ID)
	assert.Equal(t, lowID, cases[2].ID)
}

// TestUpdateCaseCompletionPreservesHistory verifies the historical
// preservation property from spec §8: gpu_group and remote_task_id survive
// UpdateCaseCompletion.
func TestUpdateCaseCompletionPreservesHistory(t *testing.T) {
	s := openTestStore(t)
	id, err := s.AddCase("/cases/A", 0)
	require.NoError(t, err)
	require.NoError(t, s.EnsureGpuExists("gpu_0"))

	group, err := s.FindAndLockAnyAvailableGpu(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "gpu_0", group)
	require.NoError(t, s.SetCaseGpuGroup(id, &group))
	taskID := "301"
	require.NoError(t, s.SetCaseRemoteTaskID(id, &taskID))

	require.NoError(t, s.UpdateCaseCompletion(id, StatusCompleted, nil))

	c, err := s.GetCase(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, c.Status)
	assert.Equal(t, 100, c.Progress)
	require.NotNil(t, c.GpuGroup)
	assert.Equal(t, "gpu_0", *c.GpuGroup)
	require.NotNil(t, c.RemoteTaskID)
	assert.Equal(t, "301", *c.RemoteTaskID)
	assert.NotNil(t, c.CompletedAt)
}

func TestUpdateCaseCompletionRejectsNonTerminal(t *testing.T) {
	s := openTestStore(t)
	id, err := s.AddCase("/cases/A", 0)
	require.NoError(t, err)
	err = s.UpdateCaseCompletion(id, StatusRunning, nil)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestFindAndLockAnyAvailableGpuNoneAvailable(t *testing.T) {
	s := openTestStore(t)
	id, err := s.AddCase("/cases/A", 0)
	require.NoError(t, err)

	group, err := s.FindAndLockAnyAvailableGpu(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "", group)

	gpus, err := s.ListGpus()
	require.NoError(t, err)
	assert.Empty(t, gpus)
}

func TestFindAndLockAnyAvailableGpuLexicographicOrder(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureGpuExists("gpu_2"))
	require.NoError(t, s.EnsureGpuExists("gpu_1"))
	id, err := s.AddCase("/cases/A", 0)
	require.NoError(t, err)

	group, err := s.FindAndLockAnyAvailableGpu(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "gpu_1", group)
}

// TestExclusiveGpuOwnership is the property test from spec §8: for N
// concurrent FindAndLockAnyAvailableGpu calls against M available rows, the
// number of successful locks equals min(N, M) and no group is returned
// twice.
func TestExclusiveGpuOwnership(t *testing.T) {
	s := openTestStore(t)
	const groups = 5
	for i := 0; i < groups; i++ {
		require.NoError(t, s.EnsureGpuExists(fmt.Sprintf("gpu_%d", i)))
	}

	const workers = 20
	results := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(caseID int64) {
			defer wg.Done()
			group, err := s.FindAndLockAnyAvailableGpu(context.Background(), caseID)
			require.NoError(t, err)
			results <- group
		}(int64(i + 1))
	}
	wg.Wait()
	close(results)

	seen := map[string]int{}
	successes := 0
	for group := range results {
		if group == "" {
			continue
		}
		successes++
		seen[group]++
	}

	assert.Equal(t, groups, successes)
	for group, count := range seen {
		assert.Equalf(t, 1, count, "group %s locked more than once", group)
	}
}

func TestReleaseGpuIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureGpuExists("gpu_0"))
	id, err := s.AddCase("/cases/A", 0)
	require.NoError(t, err)
	_, err = s.FindAndLockAnyAvailableGpu(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, s.ReleaseGpu(id))
	require.NoError(t, s.ReleaseGpu(id))

	g, err := s.GetGpu("gpu_0")
	require.NoError(t, err)
	assert.Equal(t, GpuAvailable, g.Status)
	assert.Nil(t, g.AssignedCaseID)
}

func TestRecordWorkflowStepUpsert(t *testing.T) {
	s := openTestStore(t)
	id, err := s.AddCase("/cases/A", 0)
	require.NoError(t, err)

	require.NoError(t, s.RecordWorkflowStep(id, "preprocess", StepStarted, nil))
	require.NoError(t, s.RecordWorkflowStep(id, "preprocess", StepCompleted, nil))

	step, err := s.GetWorkflowStep(id, "preprocess")
	require.NoError(t, err)
	assert.Equal(t, StepCompleted, step.Status)
	assert.NotNil(t, step.CompletedAt)
}
