// Package engine implements the deployment state machine: deploy,
// prewarm, deploy-fast, and rollback. It composes the Command Runner
// (indirectly, via the Runtime and Proxy Controller), the Replica
// Probe, the Proxy Controller, and the State Store as explicit
// constructor arguments — there is no package-level engine singleton.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/deploy-orchestrator/internal/config"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/metrics"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/probe"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/proxy"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/runtime"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/state"
	"github.com/vitaliisemenov/deploy-orchestrator/pkg/logger"
)

// Engine drives the blue/green deployment state machine.
type Engine struct {
	cfg      *config.Config
	rt       runtime.Runtime
	probe    *probe.Probe
	proxyCtl *proxy.Controller
	store    *state.Store
	metrics  *metrics.Recorder
	logger   *slog.Logger

	// settleDelay is how long a freshly started standby container gets
	// before its running state is checked; verifyInterval spaces the
	// post-swap traffic probes.
	settleDelay    time.Duration
	verifyInterval time.Duration
}

// New constructs an Engine from its component collaborators.
func New(
	cfg *config.Config,
	rt runtime.Runtime,
	pr *probe.Probe,
	proxyCtl *proxy.Controller,
	store *state.Store,
	recorder *metrics.Recorder,
	log *slog.Logger,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:            cfg,
		rt:             rt,
		probe:          pr,
		proxyCtl:       proxyCtl,
		store:          store,
		metrics:        recorder,
		logger:         log,
		settleDelay:    5 * time.Second,
		verifyInterval: time.Second,
	}
}

func (e *Engine) defaultState() state.DeploymentState {
	return state.Default(
		e.cfg.Colors[0].Name, e.cfg.Colors[0].Port,
		e.cfg.Colors[1].Name, e.cfg.Colors[1].Port,
	)
}

func (e *Engine) loadState() (*state.DeploymentState, error) {
	return e.store.Load(e.defaultState())
}

// newRun mints a run id and a logger annotated with it, for one
// top-level engine operation.
func (e *Engine) newRun(ctx context.Context) (context.Context, string, *slog.Logger) {
	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	return ctx, runID, logger.FromContext(ctx, e.logger)
}

func (e *Engine) logStep(log *slog.Logger, op, step, outcome string, elapsed time.Duration, args ...any) {
	all := append([]any{"op", op, "step", step, "outcome", outcome, "elapsed", elapsed}, args...)
	log.Info("engine: step", all...)
}

func (e *Engine) serviceFor(color string) (string, error) {
	svc, ok := e.cfg.ServiceFor(color)
	if !ok {
		return "", fmt.Errorf("engine: no compose service configured for color %q", color)
	}
	return svc, nil
}

func (e *Engine) startColor(ctx context.Context, color string) error {
	svc, err := e.serviceFor(color)
	if err != nil {
		return err
	}
	return e.rt.Start(ctx, svc)
}

func (e *Engine) stopColor(ctx context.Context, color string) error {
	svc, err := e.serviceFor(color)
	if err != nil {
		return err
	}
	return e.rt.Stop(ctx, svc)
}

func (e *Engine) removeColor(ctx context.Context, color string) error {
	svc, err := e.serviceFor(color)
	if err != nil {
		return err
	}
	return e.rt.Remove(ctx, svc)
}

func (e *Engine) colorRunning(ctx context.Context, color string) (bool, error) {
	return e.probe.IsRunning(ctx, color)
}

// preflight implements the checks shared by deploy.step1 and
// prewarm.step1: the active replica is running and ready, the proxy
// is up and actually routing, and any leftover standby container from
// an interrupted prior run is cleaned up.
func (e *Engine) preflight(ctx context.Context, log *slog.Logger, st *state.DeploymentState) error {
	start := time.Now()

	running, err := e.colorRunning(ctx, st.ActiveColor)
	if err != nil {
		return newError(KindPreflight, "preflight.active_running", time.Since(start), err)
	}
	if !running {
		return newError(KindPreflight, "preflight.active_running", time.Since(start),
			fmt.Errorf("active replica %s is not running", st.ActiveColor))
	}

	if !e.probe.WaitReady(ctx, st.ActivePort, 120*time.Second, 2*time.Second) {
		return newError(KindPreflight, "preflight.active_ready", time.Since(start),
			fmt.Errorf("active replica %s did not become ready", st.ActiveColor))
	}

	proxyInsp, err := e.rt.Inspect(ctx, e.cfg.ProxyContainer)
	if err != nil || !proxyInsp.Running {
		if err == nil {
			err = fmt.Errorf("proxy container %s is not running", e.cfg.ProxyContainer)
		}
		return newError(KindPreflight, "preflight.proxy_running", time.Since(start), err)
	}

	alive, err := e.probe.Healthz(ctx, e.cfg.ProxyExternalPort)
	if err != nil || !alive {
		if err == nil {
			err = fmt.Errorf("proxy healthz did not report alive")
		}
		return newError(KindPreflight, "preflight.proxy_healthz", time.Since(start), err)
	}

	standbyRunning, err := e.colorRunning(ctx, st.StandbyColor)
	if err == nil && standbyRunning {
		log.Warn("engine: leftover standby container found during preflight, stopping it", "color", st.StandbyColor)
		if err := e.stopColor(ctx, st.StandbyColor); err != nil {
			return newError(KindPreflight, "preflight.leftover_standby", time.Since(start), err)
		}
	}

	e.logStep(log, "preflight", "1", "success", time.Since(start))
	return nil
}

// compensationContext builds a bounded context independent of a
// cancelled parent, for use only once an operation has already
// decided to compensate after ctx.Err() fired between steps.
func compensationContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// cancelledStep reports ctx's cancellation as a DeploymentError if it
// has fired, so callers can check it at a step boundary and run the
// same compensation their step would have run on failure. Per-step
// suspension points (subprocess calls, HTTP probes) still run to
// their own bounded timeout; only the gap between steps is cancellable.
func cancelledStep(ctx context.Context, step string, stepStart time.Time) *DeploymentError {
	if err := ctx.Err(); err != nil {
		return newError(KindTimeout, step, time.Since(stepStart), err)
	}
	return nil
}

func isProxyConfigError(err error) bool {
	var configErr *proxy.ConfigError
	return errors.As(err, &configErr)
}

func truncateErr(err error, limit int) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}
