// Package proxy writes the reverse proxy's upstream config, validates
// it through the proxy's own config check, and triggers a live
// reload — restoring the prior config whenever validation or reload
// fails so the proxy never serves a half-applied change.
package proxy

import (
	"context"
	"fmt"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitaliisemenov/deploy-orchestrator/internal/runtime"
)

// ConfigError is returned when the proxy rejects a candidate config
// during its built-in validation step. The original config has
// already been restored to disk by the time this is returned.
type ConfigError struct {
	Cause error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("proxy rejected config: %v", e.Cause) }
func (e *ConfigError) Unwrap() error { return e.Cause }

// ReloadError is returned when the proxy validates a config but fails
// to pick it up on reload. The original config has already been
// restored to disk and a best-effort second reload attempted.
type ReloadError struct {
	Cause error
}

func (e *ReloadError) Error() string { return fmt.Sprintf("proxy reload failed: %v", e.Cause) }
func (e *ReloadError) Unwrap() error { return e.Cause }

// Controller swaps and restores the reverse proxy's upstream config.
// Per-color templates are static fragments shipped with the project,
// so they are read once and held in a small bounded cache.
type Controller struct {
	activeConfPath string
	templatePath   func(color string) string
	proxyContainer string
	rt             runtime.Runtime
	templates      *lru.Cache[string, []byte]
}

// New constructs a Controller. templatePath resolves a color to its
// upstream template file on disk.
func New(activeConfPath string, templatePath func(color string) string, proxyContainer string, rt runtime.Runtime) *Controller {
	templates, _ := lru.New[string, []byte](4)
	return &Controller{
		activeConfPath: activeConfPath,
		templatePath:   templatePath,
		proxyContainer: proxyContainer,
		rt:             rt,
		templates:      templates,
	}
}

func (c *Controller) template(color string) ([]byte, error) {
	if data, ok := c.templates.Get(color); ok {
		return data, nil
	}
	data, err := os.ReadFile(c.templatePath(color))
	if err != nil {
		return nil, err
	}
	c.templates.Add(color, data)
	return data, nil
}

// Swap atomically overwrites the active upstream config with the
// target color's template, validates it, and reloads the proxy.
// On any failure the original config is restored to disk so the file
// on disk always matches what the proxy is actually serving. The
// original bytes are returned for the caller to hold in case a later,
// unrelated step needs to trigger an engine-level abort.
func (c *Controller) Swap(ctx context.Context, targetColor string) ([]byte, error) {
	original, err := os.ReadFile(c.activeConfPath)
	if err != nil {
		return nil, fmt.Errorf("proxy: read active config: %w", err)
	}

	target, err := c.template(targetColor)
	if err != nil {
		return nil, fmt.Errorf("proxy: read template for %s: %w", targetColor, err)
	}

	if err := os.WriteFile(c.activeConfPath, target, 0o644); err != nil {
		return nil, fmt.Errorf("proxy: write target config: %w", err)
	}

	if err := c.validate(ctx); err != nil {
		_ = os.WriteFile(c.activeConfPath, original, 0o644)
		return original, &ConfigError{Cause: err}
	}

	if err := c.reload(ctx); err != nil {
		_ = os.WriteFile(c.activeConfPath, original, 0o644)
		_ = c.reload(ctx) // best-effort second attempt to restore serving state
		return original, &ReloadError{Cause: err}
	}

	return original, nil
}

// Restore writes back a previously captured config, validates it, and
// reloads the proxy. Used by the engine to compensate after a
// point-of-no-return failure.
func (c *Controller) Restore(ctx context.Context, original []byte) error {
	if err := os.WriteFile(c.activeConfPath, original, 0o644); err != nil {
		return fmt.Errorf("proxy: restore write: %w", err)
	}
	if err := c.validate(ctx); err != nil {
		return &ConfigError{Cause: err}
	}
	if err := c.reload(ctx); err != nil {
		return &ReloadError{Cause: err}
	}
	return nil
}

func (c *Controller) validate(ctx context.Context) error {
	res, err := c.rt.Exec(ctx, c.proxyContainer, []string{"nginx", "-t"}, 10*time.Second)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("nginx -t exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

func (c *Controller) reload(ctx context.Context) error {
	res, err := c.rt.Exec(ctx, c.proxyContainer, []string{"nginx", "-s", "reload"}, 10*time.Second)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("nginx -s reload exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}
