package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/vitaliisemenov/deploy-orchestrator/internal/state"
)

// Rollback swaps traffic back onto the current standby color. Unlike
// deploy and deploy-fast it tolerates a standby that isn't running yet
// (starting it and waiting) and, by default, only warns on a post-reload
// verification failure since the proxy has already been reloaded by the
// time verification runs.
func (e *Engine) Rollback(ctx context.Context) error {
	ctx, runID, log := e.newRun(ctx)
	opStart := time.Now()
	log.Info("engine: rollback starting", "run_id", runID)

	st, err := e.loadState()
	if err != nil {
		return err
	}
	fromColor, toColor := st.ActiveColor, st.StandbyColor

	stepStart := time.Now()
	running, err := e.colorRunning(ctx, toColor)
	if err != nil {
		wrapped := newError(KindPreflight, "1.standby_check", time.Since(stepStart), err)
		e.recordFailure(st, "rollback", fromColor, toColor, opStart, wrapped)
		return wrapped
	}
	if !running {
		log.Info("engine: standby not running, starting it for rollback", "color", toColor)
		if err := e.startColor(ctx, toColor); err != nil {
			wrapped := newError(KindContainerStart, "1.start_standby", time.Since(stepStart), err)
			e.recordFailure(st, "rollback", fromColor, toColor, opStart, wrapped)
			return wrapped
		}
		if !e.probe.WaitReady(ctx, st.StandbyPort, 60*time.Second, 2*time.Second) {
			wrapped := newError(KindHealthTimeout, "1.wait_ready", time.Since(stepStart),
				fmt.Errorf("standby %s did not become ready within 60s", toColor))
			e.recordFailure(st, "rollback", fromColor, toColor, opStart, wrapped)
			return wrapped
		}
	}
	e.logStep(log, "rollback", "1", "success", time.Since(stepStart))

	// Point of no return: the swap below reconfigures the proxy.
	stepStart = time.Now()
	original, err := e.proxyCtl.Swap(ctx, toColor)
	if err != nil {
		wrapped := e.wrapProxyError(err, "2.swap", time.Since(stepStart))
		e.recordFailure(st, "rollback", fromColor, toColor, opStart, wrapped)
		return wrapped
	}
	e.logStep(log, "rollback", "2", "success", time.Since(stepStart))

	stepStart = time.Now()
	time.Sleep(time.Duration(e.cfg.DrainSeconds) * time.Second)
	e.logStep(log, "rollback", "3", "success", time.Since(stepStart))

	stepStart = time.Now()
	verifyErr := e.verifyTraffic(ctx)
	if verifyErr != nil {
		if e.cfg.RollbackVerificationRequired {
			wrapped := newError(KindVerification, "4.verify_traffic", time.Since(stepStart), verifyErr)
			_ = e.proxyCtl.Restore(ctx, original)
			e.recordFailure(st, "rollback", fromColor, toColor, opStart, wrapped)
			return wrapped
		}
		log.Warn("engine: rollback traffic verification failed, reload already applied, state still updated",
			"error", verifyErr)
	} else {
		e.logStep(log, "rollback", "4", "success", time.Since(stepStart))
	}

	st.SwapActive()
	st.ClearPrewarm()
	st.DeploymentCount++
	now := time.Now()
	st.LastDeployment = &now
	st.AppendHistory(state.HistoryEntry{
		Timestamp:       now,
		FromColor:       fromColor,
		ToColor:         toColor,
		DurationSeconds: time.Since(opStart).Seconds(),
		Success:         verifyErr == nil || !e.cfg.RollbackVerificationRequired,
		Error:           truncateErr(verifyErr, 500),
		Rollback:        true,
	})

	if err := e.store.Save(st); err != nil {
		return err
	}
	if e.metrics != nil {
		outcome := "success"
		if verifyErr != nil {
			outcome = "warning"
		}
		e.metrics.RecordAttempt("rollback", outcome, time.Since(opStart).Seconds())
		e.metrics.SetActiveColor(st.ActiveColor == e.cfg.Colors[1].Name)
		e.metrics.SetStandbyPrewarmed(false)
	}

	log.Info("engine: rollback succeeded", "from", fromColor, "to", toColor, "elapsed", time.Since(opStart))
	return nil
}
