package taskstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetbridge/bridge/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), "team-a")
	require.NoError(t, err)
	s.claimSettle = time.Millisecond
	return s
}

func TestReadMissingTaskIsAbsentNotError(t *testing.T) {
	s := newTestStore(t)
	task, ok, err := s.Read("1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, task)
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(&types.Task{ID: "1", Subject: "hello", Status: types.TaskPending, Owner: "w"}))

	task, ok, err := s.Read("1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", task.Subject)
}

func TestUpdatePreservesUnknownFields(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(&types.Task{
		ID: "1", Subject: "hello", Status: types.TaskPending, Owner: "w",
		Metadata: map[string]any{"custom": "value"},
	}))

	require.NoError(t, s.Update("1", func(t *types.Task) {
		t.Status = types.TaskInProgress
	}))

	task, ok, err := s.Read("1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.TaskInProgress, task.Status)
	assert.Equal(t, "value", task.Metadata["custom"])
}

func TestListSortsNumericallyWhenPossible(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"10", "2", "1"} {
		require.NoError(t, s.Write(&types.Task{ID: id, Status: types.TaskPending, Owner: "w"}))
	}
	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "10"}, ids)
}

func TestListSortsLexicographicallyWhenNotAllNumeric(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"task-b", "task-a", "10"} {
		require.NoError(t, s.Write(&types.Task{ID: id, Status: types.TaskPending, Owner: "w"}))
	}
	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "task-a", "task-b"}, ids)
}

func TestBlockersResolved(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(&types.Task{ID: "0", Status: types.TaskPending, Owner: "other"}))

	resolved, err := s.BlockersResolved([]string{"0"})
	require.NoError(t, err)
	assert.False(t, resolved)

	require.NoError(t, s.Update("0", func(t *types.Task) { t.Status = types.TaskCompleted }))

	resolved, err = s.BlockersResolved([]string{"0"})
	require.NoError(t, err)
	assert.True(t, resolved)
}

func TestFindNextSkipsBlockedTask(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(&types.Task{ID: "0", Status: types.TaskPending, Owner: "other"}))
	require.NoError(t, s.Write(&types.Task{ID: "1", Status: types.TaskPending, Owner: "w", BlockedBy: []string{"0"}}))

	task, err := s.FindNext("w", 123)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestFindNextClaimsFirstEligibleTask(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(&types.Task{ID: "1", Status: types.TaskPending, Owner: "w"}))
	require.NoError(t, s.Write(&types.Task{ID: "2", Status: types.TaskPending, Owner: "w"}))

	task, err := s.FindNext("w", 123)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "1", task.ID)
	assert.Equal(t, "w", task.ClaimedBy)
	assert.Equal(t, 123, task.ClaimPID)
}

func TestFindNextSkipsTaskOwnedByAnotherWorker(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(&types.Task{ID: "1", Status: types.TaskPending, Owner: "other"}))

	task, err := s.FindNext("w", 123)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestFindNextLosesRaceWhenClaimIsOverwritten(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(&types.Task{ID: "1", Status: types.TaskPending, Owner: "w"}))
	s.claimSettle = 20 * time.Millisecond

	done := make(chan struct{})
	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = s.Update("1", func(t *types.Task) {
			t.ClaimedBy = "intruder"
			t.ClaimPID = 999
		})
		close(done)
	}()

	task, err := s.FindNext("w", 123)
	<-done
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestWriteFailureIncrementsRetryCount(t *testing.T) {
	s := newTestStore(t)
	sidecar, err := s.WriteFailure("1", "boom")
	require.NoError(t, err)
	assert.Equal(t, 1, sidecar.RetryCount)

	sidecar, err = s.WriteFailure("1", "boom again")
	require.NoError(t, err)
	assert.Equal(t, 2, sidecar.RetryCount)
	assert.Equal(t, "boom again", sidecar.LastError)
}

func TestExhausted(t *testing.T) {
	s := newTestStore(t)
	exhausted, err := s.Exhausted("1", 2)
	require.NoError(t, err)
	assert.False(t, exhausted)

	_, err = s.WriteFailure("1", "e1")
	require.NoError(t, err)
	_, err = s.WriteFailure("1", "e2")
	require.NoError(t, err)

	// RetryCount == maxRetries: the task still gets its maxRetries-th
	// attempt, so it is not yet exhausted.
	exhausted, err = s.Exhausted("1", 2)
	require.NoError(t, err)
	assert.False(t, exhausted)

	_, err = s.WriteFailure("1", "e3")
	require.NoError(t, err)

	exhausted, err = s.Exhausted("1", 2)
	require.NoError(t, err)
	assert.True(t, exhausted)
}

func TestTaskPathRejectsUnsafeID(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Read("../escape")
	require.Error(t, err)
}
