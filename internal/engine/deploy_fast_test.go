package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeployFast_Success(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Prewarm(context.Background()))

	err := h.engine.DeployFast(context.Background())
	require.NoError(t, err)

	st := h.loadState()
	assert.Equal(t, "green", st.ActiveColor)
	assert.False(t, st.StandbyPrewarmed)
	require.Len(t, st.History, 1)
	assert.Equal(t, "fast", st.History[0].Mode)
	assert.Contains(t, h.rt.RemoveCalls, "blue")
	assert.Equal(t, "upstream green\n", h.activeConfContents())
}

func TestDeployFast_RequiresPrewarm(t *testing.T) {
	h := newHarness(t)

	err := h.engine.DeployFast(context.Background())
	require.Error(t, err)

	var depErr *DeploymentError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, KindPreflight, depErr.Kind)
}

func TestDeployFast_IdentityMismatchLeavesStandbyRunning(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Prewarm(context.Background()))

	// Simulate the standby being recreated out from under the recorded
	// container id without a new prewarm.
	h.rt.SetContainerID("green", "container-green-recreated")

	err := h.engine.DeployFast(context.Background())
	require.Error(t, err)

	var depErr *DeploymentError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, KindStateMismatch, depErr.Kind)
	assert.NotContains(t, h.rt.StopCalls, "green", "identity mismatch must not stop a standby that might still be usable")
}

func TestDeployFast_StoppedStandbyResetsPrewarmFields(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Prewarm(context.Background()))

	// Simulate an operator (or the machine) stopping the standby after
	// a successful prewarm.
	h.rt.Running["green"] = false

	err := h.engine.DeployFast(context.Background())
	require.Error(t, err)

	var depErr *DeploymentError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, KindStateMismatch, depErr.Kind)

	st := h.loadState()
	assert.Equal(t, "blue", st.ActiveColor, "live traffic must be untouched")
	assert.False(t, st.StandbyPrewarmed, "a dead standby's pre-warm record must be reset")
	assert.Empty(t, st.StandbyContainerID)
}

func TestDeployFast_QuickCheckFailureDoesNotStopStandby(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Prewarm(context.Background()))

	h.green.setReady(false)

	err := h.engine.DeployFast(context.Background())
	require.Error(t, err)

	var depErr *DeploymentError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, KindHealthTimeout, depErr.Kind)
	assert.NotContains(t, h.rt.StopCalls, "green")
}

func TestDeployFast_SwapFailureLeavesStandbyRunning(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Prewarm(context.Background()))

	h.extProxy.setHealthy(false)

	err := h.engine.DeployFast(context.Background())
	require.Error(t, err)

	var depErr *DeploymentError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, KindVerification, depErr.Kind)
	assert.NotContains(t, h.rt.StopCalls, "green", "fast deploy keeps a failed swap's standby usable")
	assert.Equal(t, "upstream blue\n", h.activeConfContents())
}
