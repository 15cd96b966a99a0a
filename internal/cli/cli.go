// Package cli builds the deploy-orchestrator Cobra command tree:
// deploy, deploy-fast, prewarm, rollback, status, and history. Each
// subcommand resolves configuration once in the root command's
// PersistentPreRunE and constructs a fresh Engine from it.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vitaliisemenov/deploy-orchestrator/internal/cmdrunner"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/config"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/engine"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/metrics"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/probe"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/proxy"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/runtime"
	"github.com/vitaliisemenov/deploy-orchestrator/internal/state"
	"github.com/vitaliisemenov/deploy-orchestrator/pkg/logger"
)

// CLI wires the command tree to a Config resolved at root-command run
// time and the Engine built from it. logger is set up independently
// of config resolution since flag/env errors should still be logged.
type CLI struct {
	log *slog.Logger

	v *viper.Viper

	cfg        *config.Config
	engine     *engine.Engine
	metrics    *metrics.Recorder
	metricsSrv *http.Server
}

// NewCLI constructs a CLI with a bootstrap logger used until the
// configured logger (built from the resolved Config) takes over.
func NewCLI(log *slog.Logger) *CLI {
	if log == nil {
		log = slog.Default()
	}
	return &CLI{log: log, v: viper.New()}
}

// GetRootCommand returns the deploy-orchestrator root command with its
// full subcommand tree attached.
func (c *CLI) GetRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "deploy-orchestrator",
		Short:         "Blue/green deployment orchestrator",
		Long:          "Drives zero-downtime blue/green deployments of a single-instance inference server behind a reverse proxy.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := c.resolve(cmd); err != nil {
				return err
			}
			c.startMetricsServer()
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			c.stopMetricsServer()
			return nil
		},
	}

	root.PersistentFlags().String("project-root", ".", "root directory containing the compose project and nginx config")
	root.PersistentFlags().Int("drain-seconds", 15, "seconds to wait for in-flight connections to drain after a swap")
	root.PersistentFlags().Int("health-timeout", 180, "seconds to wait for a fresh standby to become ready")
	root.PersistentFlags().String("config", "", "path to an optional deploy.yaml config file")
	root.PersistentFlags().String("metrics-addr", "", "address to expose Prometheus metrics on for this invocation (disabled if empty)")

	_ = c.v.BindPFlag("project_root", root.PersistentFlags().Lookup("project-root"))
	_ = c.v.BindPFlag("drain_seconds", root.PersistentFlags().Lookup("drain-seconds"))
	_ = c.v.BindPFlag("metrics_addr", root.PersistentFlags().Lookup("metrics-addr"))

	root.AddCommand(
		c.deployCommand(),
		c.deployFastCommand(),
		c.prewarmCommand(),
		c.rollbackCommand(),
		c.statusCommand(),
		c.historyCommand(),
	)

	return root
}

// resolve loads the Config from flags/env/file and builds the Engine
// once per CLI invocation. It is idempotent across repeated calls
// from nested PersistentPreRunE chains.
func (c *CLI) resolve(cmd *cobra.Command) error {
	if c.cfg != nil {
		return nil
	}

	configPath, _ := cmd.Flags().GetString("config")

	// The flag is a plain seconds count; config carries a duration, so
	// the flag value is translated here rather than bound directly.
	if cmd.Flags().Changed("health-timeout") {
		seconds, _ := cmd.Flags().GetInt("health-timeout")
		c.v.Set("health_timeout", (time.Duration(seconds) * time.Second).String())
	}

	cfg, err := config.LoadWithViper(c.v, configPath)
	if err != nil {
		return fmt.Errorf("cli: load config: %w", err)
	}
	c.cfg = cfg

	logFile := cfg.Log.Filename
	if logFile == "" {
		logFile = cfg.LogPath()
	}
	c.log = logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   logFile,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	runner := cmdrunner.New(cfg.ProjectRoot, c.log)
	rt := runtime.New(runner, cfg.RuntimeBinary, cfg.ProxyComposeProfile, c.log)

	services := map[string]string{}
	for _, col := range cfg.Colors {
		services[col.Name] = col.ContainerService
	}

	if err := c.checkComposeProject(cfg, services); err != nil {
		return err
	}
	pr := probe.New(rt, services, c.log)
	proxyCtl := proxy.New(cfg.ActiveConfPath(), cfg.TemplatePath, cfg.ProxyContainer, rt)
	store := state.New(cfg.StatePath(), c.log)
	c.metrics = metrics.NewRecorder()

	c.engine = engine.New(cfg, rt, pr, proxyCtl, store, c.metrics, c.log)
	return nil
}

// checkComposeProject cross-checks the configured color services
// against the project's compose file, when one is present. A missing
// compose file is not an error (the runtime may be pointed at a
// project composed elsewhere), but a present one that lacks a
// configured service is a config mistake worth failing on before any
// container is touched.
func (c *CLI) checkComposeProject(cfg *config.Config, services map[string]string) error {
	composePath := runtime.FindComposeFile(cfg.ProjectRoot)
	if composePath == "" {
		return nil
	}

	cf, err := runtime.LoadComposeFile(composePath)
	if err != nil {
		return fmt.Errorf("cli: %w", err)
	}

	var want []string
	for _, svc := range services {
		want = append(want, svc)
	}
	if missing := cf.MissingServices(want...); len(missing) > 0 {
		return fmt.Errorf("cli: compose file %s does not define configured services %v", composePath, missing)
	}
	return nil
}

// startMetricsServer exposes the invocation's private Prometheus
// registry over HTTP for the duration of this one command, if
// --metrics-addr was set. A single CLI invocation runs one operation
// and exits, so this is a short-lived server: a scrape targeting this
// address only sees data while the operation is in flight.
func (c *CLI) startMetricsServer() {
	if c.cfg.MetricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.metrics.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: c.cfg.MetricsAddr, Handler: mux}
	c.metricsSrv = srv

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.log.Error("cli: metrics server stopped unexpectedly", "error", err)
		}
	}()
	c.log.Info("cli: serving metrics", "addr", c.cfg.MetricsAddr)
}

// stopMetricsServer shuts down the metrics server started for this
// invocation, if one was started.
func (c *CLI) stopMetricsServer() {
	if c.metricsSrv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.metricsSrv.Shutdown(ctx); err != nil {
		c.log.Error("cli: metrics server shutdown failed", "error", err)
	}
}
