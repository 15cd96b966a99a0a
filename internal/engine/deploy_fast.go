package engine

import (
	"context"
	"fmt"
	"time"
)

// DeployFast swaps traffic onto an already pre-warmed standby, skipping
// the container-start and readiness-wait steps that dominate a full
// Deploy. It refuses to run against a standby that was never pre-warmed
// or whose identity no longer matches what prewarm recorded.
func (e *Engine) DeployFast(ctx context.Context) error {
	ctx, runID, log := e.newRun(ctx)
	opStart := time.Now()
	log.Info("engine: deploy-fast starting", "run_id", runID)

	st, err := e.loadState()
	if err != nil {
		return err
	}
	fromColor, toColor := st.ActiveColor, st.StandbyColor

	// Step 1: precondition and staleness.
	stepStart := time.Now()
	if !st.StandbyPrewarmed {
		wrapped := newError(KindPreflight, "1.precondition", time.Since(stepStart),
			fmt.Errorf("standby is not pre-warmed, run prewarm first"))
		e.recordFailure(st, "fast", fromColor, toColor, opStart, wrapped)
		return wrapped
	}
	if st.StandbyPrewarmedAt != nil {
		age := time.Since(*st.StandbyPrewarmedAt)
		maxAge := e.cfg.PrewarmMaxAge
		if maxAge <= 0 {
			maxAge = 60 * time.Minute
		}
		if age > maxAge {
			if e.cfg.PrewarmStalenessHardFail {
				wrapped := newError(KindPreflight, "1.staleness", time.Since(stepStart),
					fmt.Errorf("pre-warm is %s old, exceeding max age %s", age, maxAge))
				e.recordFailure(st, "fast", fromColor, toColor, opStart, wrapped)
				return wrapped
			}
			log.Warn("engine: pre-warm is stale, continuing anyway", "age", age, "max_age", maxAge)
		}
	}
	e.logStep(log, "deploy-fast", "1", "success", time.Since(stepStart))

	// Step 2: identity check. On failure here, the standby is left
	// running as-is; pre-warm fields are cleared only if it turns out
	// not to be running at all.
	stepStart = time.Now()
	running, err := e.colorRunning(ctx, toColor)
	if err != nil {
		wrapped := newError(KindStateMismatch, "2.identity", time.Since(stepStart), err)
		e.recordFailure(st, "fast", fromColor, toColor, opStart, wrapped)
		return wrapped
	}
	if !running {
		st.ClearPrewarm()
		_ = e.store.Save(st)
		wrapped := newError(KindStateMismatch, "2.identity", time.Since(stepStart),
			fmt.Errorf("standby %s is not running, re-run prewarm", toColor))
		e.recordFailure(st, "fast", fromColor, toColor, opStart, wrapped)
		return wrapped
	}
	currentID, err := e.probe.ContainerID(ctx, toColor)
	if err != nil || currentID != st.StandbyContainerID {
		if err == nil {
			err = fmt.Errorf("standby %s container id %s does not match pre-warmed id %s, re-run prewarm",
				toColor, currentID, st.StandbyContainerID)
		}
		wrapped := newError(KindStateMismatch, "2.identity", time.Since(stepStart), err)
		e.recordFailure(st, "fast", fromColor, toColor, opStart, wrapped)
		return wrapped
	}
	e.logStep(log, "deploy-fast", "2", "success", time.Since(stepStart))

	// Step 3: quick check.
	stepStart = time.Now()
	if !e.probe.QuickCheck(ctx, st.StandbyPort, 30*time.Second) {
		wrapped := newError(KindHealthTimeout, "3.quick_check", time.Since(stepStart),
			fmt.Errorf("standby %s failed quick check", toColor))
		e.recordFailure(st, "fast", fromColor, toColor, opStart, wrapped)
		return wrapped
	}
	e.logStep(log, "deploy-fast", "3", "success", time.Since(stepStart))

	// Step 4: cheap warmup (model already loaded).
	stepStart = time.Now()
	if err := e.probe.Warmup(ctx, st.StandbyPort); err != nil {
		wrapped := newError(KindWarmup, "4.warmup", time.Since(stepStart), err)
		e.recordFailure(st, "fast", fromColor, toColor, opStart, wrapped)
		return wrapped
	}
	e.logStep(log, "deploy-fast", "4", "success", time.Since(stepStart))

	// Point of no return.
	if err := e.swapDrainVerifyRetire(ctx, log, st, "fast", opStart); err != nil {
		return err
	}

	log.Info("engine: deploy-fast succeeded", "from", fromColor, "to", toColor, "elapsed", time.Since(opStart))
	return nil
}
