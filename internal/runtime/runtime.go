// Package runtime wraps a local compose-style container runtime CLI
// (docker compose by default) with a narrow, typed interface the rest
// of the orchestrator depends on instead of shelling out directly.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vitaliisemenov/deploy-orchestrator/internal/cmdrunner"
)

// Inspection is the subset of `docker inspect` output the orchestrator
// cares about for one container.
type Inspection struct {
	Running bool
	ID      string
}

// CommandResult is the captured outcome of an Exec call.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runtime is the capability surface the orchestrator needs from a
// container runtime: starting and stopping named services, inspecting
// a running container's identity, and running a command inside one
// (used for the proxy's `nginx -t` / `nginx -s reload`).
type Runtime interface {
	Start(ctx context.Context, service string) error
	Stop(ctx context.Context, service string) error
	Remove(ctx context.Context, service string) error
	IsRunning(ctx context.Context, service string) (bool, error)
	Inspect(ctx context.Context, containerName string) (Inspection, error)
	Logs(ctx context.Context, service string, tail int) (string, error)
	Exec(ctx context.Context, container string, args []string, timeout time.Duration) (CommandResult, error)
}

// ComposeRuntime implements Runtime over `docker compose` (or an
// equivalent compose-compatible binary) via the Command Runner.
type ComposeRuntime struct {
	runner  *cmdrunner.Runner
	binary  string
	profile string
	logger  *slog.Logger
}

// New constructs a ComposeRuntime. binary is typically "docker";
// profile selects the compose profile the deploy services live under.
func New(runner *cmdrunner.Runner, binary, profile string, logger *slog.Logger) *ComposeRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &ComposeRuntime{runner: runner, binary: binary, profile: profile, logger: logger}
}

func (c *ComposeRuntime) composeArgs(rest ...string) []string {
	args := []string{c.binary, "compose"}
	if c.profile != "" {
		args = append(args, "--profile", c.profile)
	}
	return append(args, rest...)
}

// Start brings up one compose service in detached mode.
func (c *ComposeRuntime) Start(ctx context.Context, service string) error {
	args := c.composeArgs("up", "-d", service)
	_, err := c.runner.Run(ctx, args, 60*time.Second, true)
	if err != nil {
		return fmt.Errorf("runtime: start %s: %w", service, err)
	}
	return nil
}

// Stop stops one compose service without removing its container.
func (c *ComposeRuntime) Stop(ctx context.Context, service string) error {
	args := c.composeArgs("stop", service)
	_, err := c.runner.Run(ctx, args, 30*time.Second, true)
	if err != nil {
		return fmt.Errorf("runtime: stop %s: %w", service, err)
	}
	return nil
}

// Remove stops and removes one compose service's container.
func (c *ComposeRuntime) Remove(ctx context.Context, service string) error {
	args := c.composeArgs("rm", "-f", "-s", service)
	_, err := c.runner.Run(ctx, args, 30*time.Second, true)
	if err != nil {
		return fmt.Errorf("runtime: remove %s: %w", service, err)
	}
	return nil
}

type composePsRecord struct {
	Service string `json:"Service"`
	State   string `json:"State"`
}

// IsRunning reports whether the named service currently has a running
// container, tolerating both the one-JSON-object-per-line and
// JSON-array forms `docker compose ps --format json` may emit.
func (c *ComposeRuntime) IsRunning(ctx context.Context, service string) (bool, error) {
	args := c.composeArgs("ps", "--format", "json")
	res, err := c.runner.Run(ctx, args, 15*time.Second, true)
	if err != nil {
		return false, fmt.Errorf("runtime: ps: %w", err)
	}

	records, err := parseComposePs(res.Stdout)
	if err != nil {
		return false, fmt.Errorf("runtime: parse ps output: %w", err)
	}

	for _, rec := range records {
		if rec.Service == service {
			return strings.EqualFold(rec.State, "running"), nil
		}
	}
	return false, nil
}

func parseComposePs(out string) ([]composePsRecord, error) {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var records []composePsRecord
		if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var records []composePsRecord
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec composePsRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Inspect returns the running state and opaque container id for a
// single named container.
func (c *ComposeRuntime) Inspect(ctx context.Context, containerName string) (Inspection, error) {
	format := "{{.State.Running}}|{{.Id}}"
	args := []string{c.binary, "inspect", "--format", format, containerName}
	res, err := c.runner.Run(ctx, args, 10*time.Second, true)
	if err != nil {
		return Inspection{}, fmt.Errorf("runtime: inspect %s: %w", containerName, err)
	}

	parts := strings.SplitN(strings.TrimSpace(res.Stdout), "|", 2)
	if len(parts) != 2 {
		return Inspection{}, fmt.Errorf("runtime: unexpected inspect output for %s: %q", containerName, res.Stdout)
	}

	return Inspection{
		Running: parts[0] == "true",
		ID:      parts[1],
	}, nil
}

// Logs returns the last `tail` lines of a service's logs, used to
// surface a diagnostic dump when a container fails to come up.
func (c *ComposeRuntime) Logs(ctx context.Context, service string, tail int) (string, error) {
	args := c.composeArgs("logs", "--no-color", "--tail", fmt.Sprintf("%d", tail), service)
	res, err := c.runner.Run(ctx, args, 10*time.Second, false)
	if err != nil {
		return "", fmt.Errorf("runtime: logs %s: %w", service, err)
	}
	return res.Stdout, nil
}

// Exec runs a command inside a running container, used for the
// proxy's config validation and reload commands.
func (c *ComposeRuntime) Exec(ctx context.Context, container string, args []string, timeout time.Duration) (CommandResult, error) {
	full := append([]string{c.binary, "exec", container}, args...)
	res, err := c.runner.Run(ctx, full, timeout, true)
	if err != nil {
		var exitCode int
		var cmdErr *cmdrunner.CommandError
		if errors.As(err, &cmdErr) {
			exitCode = cmdErr.ExitCode
		}
		return CommandResult{ExitCode: exitCode}, err
	}
	return CommandResult{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}, nil
}
