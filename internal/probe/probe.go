// Package probe queries a replica's readiness, health, and chat
// endpoints over HTTP, and the container runtime for its running
// state and identity. It is the orchestrator's only window into the
// inference server it drives.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vitaliisemenov/deploy-orchestrator/internal/resilience"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/runtime"
)

// WarmupError wraps a failure to prove a replica can serve live
// inference traffic.
type WarmupError struct {
	Port  int
	Cause error
}

func (e *WarmupError) Error() string {
	return fmt.Sprintf("warmup on port %d failed: %v", e.Port, e.Cause)
}

func (e *WarmupError) Unwrap() error { return e.Cause }

type readyBody struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type healthzBody struct {
	Status string `json:"status"`
}

type chatRequest struct {
	Message     string  `json:"message"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type chatResponse struct {
	Response        string  `json:"response"`
	TokensGenerated int     `json:"tokens_generated"`
	InferenceMS     float64 `json:"inference_ms"`
}

const warmupPrompt = "ping"
const warmupMaxTokens = 8

// Probe queries replicas over HTTP and consults the container runtime
// for identity.
type Probe struct {
	httpClient *http.Client
	rt         runtime.Runtime
	services   map[string]string // color -> compose service / container name
	logger     *slog.Logger
}

// New constructs a Probe. services maps each color to the compose
// service/container name the runtime knows it by.
func New(rt runtime.Runtime, services map[string]string, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{
		httpClient: &http.Client{},
		rt:         rt,
		services:   services,
		logger:     logger,
	}
}

func replicaURL(port int, path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
}

// WaitReady polls a replica's /ready endpoint until it reports
// status "ready" or the overall timeout elapses. Transient failures
// (connection refused, per-attempt timeout, non-JSON bodies, a
// non-ready status) count as a failed poll; a non-transient failure
// (the caller's context cancelled) ends the poll immediately instead
// of burning the rest of the window.
func (p *Probe) WaitReady(ctx context.Context, port int, timeout, pollInterval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	attempts := 0
	start := time.Now()

	for {
		attempts++
		ready, cls := p.probeReadyOnce(ctx, port)
		if ready {
			p.logger.Info("probe: replica ready",
				"port", port, "attempts", attempts, "elapsed", time.Since(start))
			return true
		}
		if cls != resilience.ClassNone && !cls.Transient() {
			p.logger.Warn("probe: wait_ready aborted",
				"port", port, "class", cls, "attempts", attempts, "elapsed", time.Since(start))
			return false
		}

		if time.Now().After(deadline) {
			p.logger.Info("probe: wait_ready window expired",
				"port", port, "attempts", attempts, "elapsed", time.Since(start))
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
}

// probeReadyOnce reports whether one /ready attempt succeeded and, if
// it did not, how its failure classifies. A decodable body that isn't
// ready yet classifies as ClassNone: the replica answered, it just
// isn't done loading.
func (p *Probe) probeReadyOnce(ctx context.Context, port int) (bool, resilience.Class) {
	attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	body, err := p.getJSON(attemptCtx, replicaURL(port, "/ready"))
	if err != nil {
		cls := resilience.Classify(err)
		p.logger.Debug("probe: ready poll failed", "port", port, "class", cls)
		return false, cls
	}

	var rb readyBody
	if err := json.Unmarshal(body, &rb); err != nil {
		return false, resilience.ClassOther
	}
	return rb.Status == "ready", resilience.ClassNone
}

// QuickCheck issues a single /ready probe with a short deadline and no
// retries, used to re-validate a pre-warmed standby.
func (p *Probe) QuickCheck(ctx context.Context, port int, perAttemptTimeout time.Duration) bool {
	attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
	defer cancel()

	body, err := p.getJSON(attemptCtx, replicaURL(port, "/ready"))
	if err != nil {
		return false
	}
	var rb readyBody
	if err := json.Unmarshal(body, &rb); err != nil {
		return false
	}
	return rb.Status == "ready"
}

// Warmup issues one inference request with a short fixed prompt and a
// small max_tokens, proving the model actually answers.
func (p *Probe) Warmup(ctx context.Context, port int) error {
	payload, err := json.Marshal(chatRequest{Message: warmupPrompt, MaxTokens: warmupMaxTokens})
	if err != nil {
		return &WarmupError{Port: port, Cause: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, replicaURL(port, "/chat"), bytes.NewReader(payload))
	if err != nil {
		return &WarmupError{Port: port, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &WarmupError{Port: port, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &WarmupError{Port: port, Cause: err}
	}

	if resp.StatusCode/100 != 2 {
		return &WarmupError{Port: port, Cause: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return &WarmupError{Port: port, Cause: fmt.Errorf("malformed response body: %w", err)}
	}
	if cr.Response == "" {
		return &WarmupError{Port: port, Cause: fmt.Errorf("missing answer field")}
	}

	p.logger.Info("probe: warmup succeeded", "port", port, "tokens_generated", cr.TokensGenerated, "inference_ms", cr.InferenceMS)
	return nil
}

// Healthz issues a single /healthz probe (directly, or via the proxy
// when port is the proxy's external port) and reports whether the
// body reports status "alive".
func (p *Probe) Healthz(ctx context.Context, port int) (bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	body, err := p.getJSON(attemptCtx, replicaURL(port, "/healthz"))
	if err != nil {
		return false, err
	}
	var hb healthzBody
	if err := json.Unmarshal(body, &hb); err != nil {
		return false, fmt.Errorf("probe: malformed healthz body: %w", err)
	}
	return hb.Status == "alive", nil
}

func (p *Probe) getJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// IsRunning reports whether a color's container is currently running.
func (p *Probe) IsRunning(ctx context.Context, color string) (bool, error) {
	service, ok := p.services[color]
	if !ok {
		return false, fmt.Errorf("probe: unknown color %q", color)
	}
	return p.rt.IsRunning(ctx, service)
}

// ContainerID returns the opaque container id currently bound to a
// color. It always asks the runtime rather than remembering a prior
// answer: callers use it to detect a container recreated out from
// under the recorded state, so a stale id would defeat the check.
func (p *Probe) ContainerID(ctx context.Context, color string) (string, error) {
	service, ok := p.services[color]
	if !ok {
		return "", fmt.Errorf("probe: unknown color %q", color)
	}

	insp, err := p.rt.Inspect(ctx, service)
	if err != nil {
		return "", err
	}
	return insp.ID, nil
}
