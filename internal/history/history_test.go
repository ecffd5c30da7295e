package history_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/curtin-go/storage/internal/history"
)

func openTestStore(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycleRecordsActions(t *testing.T) {
	s := openTestStore(t)

	runID, err := s.StartRun("/tmp/storage.yaml")
	require.NoError(t, err)
	require.NotZero(t, runID)

	require.NoError(t, s.RecordAction(runID, "disk0", "disk", "/dev/sda", "ok", ""))
	require.NoError(t, s.RecordAction(runID, "part0", "partition", "/dev/sda1", "ok", ""))
	require.NoError(t, s.FinishRun(runID, "success"))

	actions, err := s.ActionsForRun(runID)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	require.Equal(t, "disk0", actions[0].EntryID)
	require.Equal(t, "part0", actions[1].EntryID)
}
