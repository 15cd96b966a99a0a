package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/deploy-orchestrator/internal/state"
)

const prewarmHealthTimeout = 300 * time.Second
const prewarmPollInterval = 3 * time.Second

// Prewarm brings the standby replica to a fully loaded, verified
// state without touching the proxy, so a later DeployFast can swap
// traffic to it in well under the full deploy window.
func (e *Engine) Prewarm(ctx context.Context) error {
	ctx, runID, log := e.newRun(ctx)
	opStart := time.Now()
	log.Info("engine: prewarm starting", "run_id", runID)

	st, err := e.loadState()
	if err != nil {
		return err
	}

	if err := e.preflightActiveOnly(ctx, st); err != nil {
		return err
	}

	if st.StandbyPrewarmed {
		running, _ := e.colorRunning(ctx, st.StandbyColor)
		if running && e.probe.QuickCheck(ctx, st.StandbyPort, 5*time.Second) {
			log.Info("engine: standby already warm, skipping restart", "color", st.StandbyColor)
			return nil
		}
		log.Info("engine: standby running but unhealthy, restarting", "color", st.StandbyColor)
		_ = e.stopColor(ctx, st.StandbyColor)
		st.ClearPrewarm()
	} else {
		running, _ := e.colorRunning(ctx, st.StandbyColor)
		if running {
			_ = e.stopColor(ctx, st.StandbyColor)
		}
	}

	stepStart := time.Now()
	if err := e.startColor(ctx, st.StandbyColor); err != nil {
		wrapped := newError(KindContainerStart, "2.start_standby", time.Since(stepStart), err)
		e.failPrewarm(log, st, wrapped)
		return wrapped
	}

	running, err := e.colorRunning(ctx, st.StandbyColor)
	if err != nil || !running {
		if err == nil {
			err = errContainerNotRunning(st.StandbyColor)
		}
		wrapped := newError(KindContainerStart, "2.verify_standby", time.Since(stepStart), err)
		_ = e.stopColor(ctx, st.StandbyColor)
		e.failPrewarm(log, st, wrapped)
		return wrapped
	}

	stepStart = time.Now()
	if !e.probe.WaitReady(ctx, st.StandbyPort, prewarmHealthTimeout, prewarmPollInterval) {
		wrapped := newError(KindHealthTimeout, "3.wait_ready", time.Since(stepStart), errReadyTimeout(st.StandbyColor, prewarmHealthTimeout))
		_ = e.stopColor(ctx, st.StandbyColor)
		e.failPrewarm(log, st, wrapped)
		return wrapped
	}

	stepStart = time.Now()
	if err := e.probe.Warmup(ctx, st.StandbyPort); err != nil {
		wrapped := newError(KindWarmup, "4.warmup", time.Since(stepStart), err)
		_ = e.stopColor(ctx, st.StandbyColor)
		e.failPrewarm(log, st, wrapped)
		return wrapped
	}

	containerID, err := e.probe.ContainerID(ctx, st.StandbyColor)
	if err != nil {
		wrapped := newError(KindContainerStart, "5.container_id", time.Since(stepStart), err)
		_ = e.stopColor(ctx, st.StandbyColor)
		e.failPrewarm(log, st, wrapped)
		return wrapped
	}

	now := time.Now()
	st.StandbyPrewarmed = true
	st.StandbyPrewarmedAt = &now
	st.StandbyContainerID = containerID

	if err := e.store.Save(st); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.SetStandbyPrewarmed(true)
	}

	log.Info("engine: prewarm succeeded", "color", st.StandbyColor, "container_id", containerID, "elapsed", time.Since(opStart))
	return nil
}

// preflightActiveOnly checks the active replica and proxy are healthy,
// without touching any standby container — prewarm decides what to do
// with a pre-existing standby itself, depending on its pre-warm state.
func (e *Engine) preflightActiveOnly(ctx context.Context, st *state.DeploymentState) error {
	start := time.Now()

	running, err := e.colorRunning(ctx, st.ActiveColor)
	if err != nil || !running {
		if err == nil {
			err = errContainerNotRunning(st.ActiveColor)
		}
		return newError(KindPreflight, "preflight.active_running", time.Since(start), err)
	}

	if !e.probe.WaitReady(ctx, st.ActivePort, 120*time.Second, 2*time.Second) {
		return newError(KindPreflight, "preflight.active_ready", time.Since(start), errReadyTimeout(st.ActiveColor, 120*time.Second))
	}

	proxyInsp, err := e.rt.Inspect(ctx, e.cfg.ProxyContainer)
	if err != nil || !proxyInsp.Running {
		if err == nil {
			err = errProxyNotRunning(e.cfg.ProxyContainer)
		}
		return newError(KindPreflight, "preflight.proxy_running", time.Since(start), err)
	}

	alive, err := e.probe.Healthz(ctx, e.cfg.ProxyExternalPort)
	if err != nil || !alive {
		if err == nil {
			err = errProxyNotAlive()
		}
		return newError(KindPreflight, "preflight.proxy_healthz", time.Since(start), err)
	}

	return nil
}

func (e *Engine) failPrewarm(log *slog.Logger, st *state.DeploymentState, opErr error) {
	st.ClearPrewarm()
	if err := e.store.Save(st); err != nil {
		log.Error("engine: failed to persist prewarm failure", "error", err)
	}
	log.Error("engine: prewarm failed", "error", opErr)
}
