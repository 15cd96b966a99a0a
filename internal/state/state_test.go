package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_InitializesDefaultsOnAbsence(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "state.json"), nil)

	st, err := s.Load(Default("blue", 8000, "green", 8001))
	require.NoError(t, err)
	assert.Equal(t, "blue", st.ActiveColor)
	assert.Equal(t, "green", st.StandbyColor)
	assert.Empty(t, st.History)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := New(path, nil)

	st := Default("blue", 8000, "green", 8001)
	st.DeploymentCount = 3
	st.AppendHistory(HistoryEntry{FromColor: "green", ToColor: "blue", Success: true, Mode: "normal"})

	require.NoError(t, s.Save(&st))

	loaded, err := s.Load(Default("blue", 8000, "green", 8001))
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.DeploymentCount)
	require.Len(t, loaded.History, 1)
	assert.Equal(t, "normal", loaded.History[0].Mode)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, len(data) > 0 && data[len(data)-1] == '\n')
}

func TestSave_WritesBackupOfPriorFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := New(path, nil)

	first := Default("blue", 8000, "green", 8001)
	require.NoError(t, s.Save(&first))

	second := first
	second.DeploymentCount = 1
	require.NoError(t, s.Save(&second))

	backupData, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Contains(t, string(backupData), `"deployment_count": 0`)
}

func TestAppendHistory_TruncatesToMax(t *testing.T) {
	st := Default("blue", 8000, "green", 8001)
	for i := 0; i < MaxHistory+5; i++ {
		st.AppendHistory(HistoryEntry{Success: true})
	}
	assert.Len(t, st.History, MaxHistory)
}

func TestSwapActive(t *testing.T) {
	st := Default("blue", 8000, "green", 8001)
	st.SwapActive()
	assert.Equal(t, "green", st.ActiveColor)
	assert.Equal(t, "blue", st.StandbyColor)
	assert.Equal(t, 8001, st.ActivePort)
	assert.Equal(t, 8000, st.StandbyPort)
}

func TestClearPrewarm(t *testing.T) {
	st := Default("blue", 8000, "green", 8001)
	st.StandbyPrewarmed = true
	st.StandbyContainerID = "abc"
	st.ClearPrewarm()
	assert.False(t, st.StandbyPrewarmed)
	assert.Nil(t, st.StandbyPrewarmedAt)
	assert.Empty(t, st.StandbyContainerID)
}
