package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/deploy-orchestrator/internal/state"
)

// Deploy runs the full blue/green deployment flow: it discards any
// prior pre-warm, starts and verifies a fresh standby, swaps proxy
// traffic to it, drains the old active, and retires it.
func (e *Engine) Deploy(ctx context.Context) error {
	ctx, runID, log := e.newRun(ctx)
	opStart := time.Now()
	log.Info("engine: deploy starting", "run_id", runID)

	st, err := e.loadState()
	if err != nil {
		return err
	}
	fromColor, toColor := st.ActiveColor, st.StandbyColor

	// Step 0: discard any prior pre-warm.
	if st.StandbyPrewarmed {
		log.Info("engine: discarding prior pre-warm for fresh deploy")
		_ = e.stopColor(ctx, st.StandbyColor)
		st.ClearPrewarm()
	}

	if err := e.preflight(ctx, log, st); err != nil {
		e.recordFailure(st, "normal", fromColor, toColor, opStart, err)
		return err
	}

	// Step 1 already folded into preflight; any leftover standby was
	// stopped there. From here on, starting a fresh standby failing
	// must stop it again before returning.
	stepStart := time.Now()
	if err := e.startColor(ctx, toColor); err != nil {
		wrapped := newError(KindContainerStart, "2.start_standby", time.Since(stepStart), err)
		e.recordFailure(st, "normal", fromColor, toColor, opStart, wrapped)
		return wrapped
	}
	time.Sleep(e.settleDelay)

	running, err := e.colorRunning(ctx, toColor)
	if err != nil || !running {
		if err == nil {
			svc, _ := e.serviceFor(toColor)
			logs, _ := e.rt.Logs(ctx, svc, 50)
			err = fmt.Errorf("standby %s failed to start: %s", toColor, logs)
		}
		wrapped := newError(KindContainerStart, "2.verify_standby", time.Since(stepStart), err)
		_ = e.stopColor(ctx, toColor)
		e.recordFailure(st, "normal", fromColor, toColor, opStart, wrapped)
		return wrapped
	}
	e.logStep(log, "deploy", "2", "success", time.Since(stepStart))

	if derr := cancelledStep(ctx, "2.cancelled", stepStart); derr != nil {
		compCtx, cancel := compensationContext()
		_ = e.stopColor(compCtx, toColor)
		cancel()
		e.recordFailure(st, "normal", fromColor, toColor, opStart, derr)
		return derr
	}

	// Step 3: readiness.
	stepStart = time.Now()
	if !e.probe.WaitReady(ctx, st.StandbyPort, e.healthTimeout(), 2*time.Second) {
		wrapped := newError(KindHealthTimeout, "3.wait_ready", time.Since(stepStart),
			fmt.Errorf("standby %s did not become ready within %s", toColor, e.healthTimeout()))
		_ = e.stopColor(ctx, toColor)
		e.recordFailure(st, "normal", fromColor, toColor, opStart, wrapped)
		return wrapped
	}
	e.logStep(log, "deploy", "3", "success", time.Since(stepStart))

	if derr := cancelledStep(ctx, "3.cancelled", stepStart); derr != nil {
		compCtx, cancel := compensationContext()
		_ = e.stopColor(compCtx, toColor)
		cancel()
		e.recordFailure(st, "normal", fromColor, toColor, opStart, derr)
		return derr
	}

	// Step 4: warmup.
	stepStart = time.Now()
	if err := e.probe.Warmup(ctx, st.StandbyPort); err != nil {
		wrapped := newError(KindWarmup, "4.warmup", time.Since(stepStart), err)
		_ = e.stopColor(ctx, toColor)
		e.recordFailure(st, "normal", fromColor, toColor, opStart, wrapped)
		return wrapped
	}
	e.logStep(log, "deploy", "4", "success", time.Since(stepStart))

	if derr := cancelledStep(ctx, "4.cancelled", stepStart); derr != nil {
		compCtx, cancel := compensationContext()
		_ = e.stopColor(compCtx, toColor)
		cancel()
		e.recordFailure(st, "normal", fromColor, toColor, opStart, derr)
		return derr
	}

	// Point of no return.
	if err := e.swapDrainVerifyRetire(ctx, log, st, "normal", opStart); err != nil {
		return err
	}

	log.Info("engine: deploy succeeded", "from", fromColor, "to", toColor, "elapsed", time.Since(opStart))
	return nil
}

// swapDrainVerifyRetire implements steps 5-9, shared by Deploy and
// DeployFast once their own preconditions have been satisfied.
func (e *Engine) swapDrainVerifyRetire(ctx context.Context, log *slog.Logger, st *state.DeploymentState, mode string, opStart time.Time) error {
	fromColor, toColor := st.ActiveColor, st.StandbyColor
	op := "deploy"
	if mode == "fast" {
		op = "deploy-fast"
	}

	stepStart := time.Now()
	original, err := e.proxyCtl.Swap(ctx, toColor)
	if err != nil {
		wrapped := e.wrapProxyError(err, "5.swap", time.Since(stepStart))
		if mode == "normal" {
			_ = e.stopColor(ctx, toColor)
		}
		e.recordFailure(st, mode, fromColor, toColor, opStart, wrapped)
		return wrapped
	}
	e.logStep(log, op, "5", "success", time.Since(stepStart))

	stepStart = time.Now()
	time.Sleep(time.Duration(e.cfg.DrainSeconds) * time.Second)
	e.logStep(log, op, "6", "success", time.Since(stepStart))

	if derr := cancelledStep(ctx, "6.cancelled", stepStart); derr != nil {
		compCtx, cancel := compensationContext()
		_ = e.proxyCtl.Restore(compCtx, original)
		if mode == "normal" {
			_ = e.stopColor(compCtx, toColor)
		}
		cancel()
		e.recordFailure(st, mode, fromColor, toColor, opStart, derr)
		return derr
	}

	stepStart = time.Now()
	if err := e.verifyTraffic(ctx); err != nil {
		wrapped := newError(KindVerification, "7.verify_traffic", time.Since(stepStart), err)
		_ = e.proxyCtl.Restore(ctx, original)
		if mode == "normal" {
			_ = e.stopColor(ctx, toColor)
		}
		e.recordFailure(st, mode, fromColor, toColor, opStart, wrapped)
		return wrapped
	}
	e.logStep(log, op, "7", "success", time.Since(stepStart))

	stepStart = time.Now()
	if err := e.removeColor(ctx, fromColor); err != nil {
		log.Error("engine: failed to retire old active, state still updated", "color", fromColor, "error", err)
	}
	e.logStep(log, op, "8", "success", time.Since(stepStart))

	st.SwapActive()
	st.DeploymentCount++
	now := time.Now()
	st.LastDeployment = &now
	st.ClearPrewarm()
	st.AppendHistory(state.HistoryEntry{
		Timestamp:       now,
		FromColor:       fromColor,
		ToColor:         toColor,
		DurationSeconds: time.Since(opStart).Seconds(),
		Success:         true,
		Mode:            mode,
	})

	if err := e.store.Save(st); err != nil {
		return err
	}
	e.recordSuccessMetrics(st, mode, time.Since(opStart))
	return nil
}

// verifyTraffic probes /healthz through the proxy three times, spaced
// out by verifyInterval; all three must report "alive".
func (e *Engine) verifyTraffic(ctx context.Context) error {
	for i := 0; i < 3; i++ {
		alive, err := e.probe.Healthz(ctx, e.cfg.ProxyExternalPort)
		if err != nil || !alive {
			if err == nil {
				err = fmt.Errorf("proxy healthz probe %d did not report alive", i+1)
			}
			return err
		}
		if i < 2 {
			time.Sleep(e.verifyInterval)
		}
	}
	return nil
}

func (e *Engine) wrapProxyError(err error, step string, elapsed time.Duration) *DeploymentError {
	if isProxyConfigError(err) {
		return newError(KindProxyConfig, step, elapsed, err)
	}
	return newError(KindProxyReload, step, elapsed, err)
}

func (e *Engine) healthTimeout() time.Duration {
	if e.cfg.HealthTimeout > 0 {
		return e.cfg.HealthTimeout
	}
	return 180 * time.Second
}

// recordFailure appends a failed history entry and persists it. op is
// the operation label for metrics; it doubles as the entry's mode for
// the deploy flows, while rollback entries carry the rollback flag
// and no mode.
func (e *Engine) recordFailure(st *state.DeploymentState, op, fromColor, toColor string, opStart time.Time, opErr error) {
	now := time.Now()
	entry := state.HistoryEntry{
		Timestamp:       now,
		FromColor:       fromColor,
		ToColor:         toColor,
		DurationSeconds: time.Since(opStart).Seconds(),
		Success:         false,
		Error:           truncateErr(opErr, 500),
	}
	if op == "rollback" {
		entry.Rollback = true
	} else {
		entry.Mode = op
	}
	st.AppendHistory(entry)
	if err := e.store.Save(st); err != nil {
		e.logger.Error("engine: failed to persist failure history", "error", err)
	}
	if e.metrics != nil {
		e.metrics.RecordAttempt(op, "failure", time.Since(opStart).Seconds())
	}
}

func (e *Engine) recordSuccessMetrics(st *state.DeploymentState, mode string, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordAttempt(mode, "success", elapsed.Seconds())
	e.metrics.SetActiveColor(st.ActiveColor == e.cfg.Colors[1].Name)
	e.metrics.SetStandbyPrewarmed(st.StandbyPrewarmed)
}
