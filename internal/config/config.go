// Package config provides typed, validated configuration for the
// deployment orchestrator, loaded from defaults, an optional YAML file,
// CLI flags, and environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ColorConfig describes one replica slot in the blue/green pair.
type ColorConfig struct {
	Name             string `mapstructure:"name" validate:"required"`
	Port             int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	ContainerService string `mapstructure:"container_service" validate:"required"`
}

// Config is the fully resolved configuration for one orchestrator
// invocation. It is constructed once at CLI startup and passed into
// every component by value or pointer; nothing reads a package-level
// viper instance at call time.
type Config struct {
	ProjectRoot   string        `mapstructure:"project_root" validate:"required"`
	DrainSeconds  int           `mapstructure:"drain_seconds" validate:"min=0"`
	HealthTimeout time.Duration `mapstructure:"health_timeout" validate:"required"`

	Colors []ColorConfig `mapstructure:"colors" validate:"required,len=2,dive"`

	ProxyContainer      string `mapstructure:"proxy_container" validate:"required"`
	ProxyConfDir        string `mapstructure:"proxy_conf_dir" validate:"required"`
	ProxyTemplateDir    string `mapstructure:"proxy_template_dir" validate:"required"`
	ProxyActiveConfName string `mapstructure:"proxy_active_conf_name" validate:"required"`
	ProxyComposeProfile string `mapstructure:"proxy_compose_profile"`
	ProxyExternalPort   int    `mapstructure:"proxy_external_port" validate:"required,min=1,max=65535"`

	StateDir string `mapstructure:"state_dir" validate:"required"`

	RuntimeBinary string `mapstructure:"runtime_binary" validate:"required"`

	MetricsAddr string `mapstructure:"metrics_addr"`

	RollbackVerificationRequired bool          `mapstructure:"rollback_verification_required"`
	PrewarmMaxAge                time.Duration `mapstructure:"prewarm_max_age" validate:"required"`
	PrewarmStalenessHardFail     bool          `mapstructure:"prewarm_staleness_hard_fail"`

	Log LogConfig `mapstructure:"log"`
}

// LogConfig holds logging-related configuration, unchanged in shape
// from the alert-history service's logger config.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// BlueColor returns the name of the first configured color.
func (c *Config) BlueColor() string {
	if len(c.Colors) == 0 {
		return ""
	}
	return c.Colors[0].Name
}

// GreenColor returns the name of the second configured color.
func (c *Config) GreenColor() string {
	if len(c.Colors) < 2 {
		return ""
	}
	return c.Colors[1].Name
}

// PortFor returns the configured port for a color name.
func (c *Config) PortFor(color string) (int, bool) {
	for _, cc := range c.Colors {
		if cc.Name == color {
			return cc.Port, true
		}
	}
	return 0, false
}

// ServiceFor returns the compose service name for a color.
func (c *Config) ServiceFor(color string) (string, bool) {
	for _, cc := range c.Colors {
		if cc.Name == color {
			return cc.ContainerService, true
		}
	}
	return "", false
}

// OtherColor returns the color opposite the given one.
func (c *Config) OtherColor(color string) string {
	for _, cc := range c.Colors {
		if cc.Name != color {
			return cc.Name
		}
	}
	return ""
}

// StatePath returns the path to the durable state document.
func (c *Config) StatePath() string {
	return filepath.Join(c.ProjectRoot, c.StateDir, "state.json")
}

// StateBackupPath returns the path to the state document's .bak sibling.
func (c *Config) StateBackupPath() string {
	return c.StatePath() + ".bak"
}

// LogPath returns the path to the structured deployment log.
func (c *Config) LogPath() string {
	return filepath.Join(c.ProjectRoot, c.StateDir, "deploy.log")
}

// ActiveConfPath returns the path to the live upstream config consumed by
// the proxy.
func (c *Config) ActiveConfPath() string {
	return filepath.Join(c.ProjectRoot, c.ProxyConfDir, c.ProxyActiveConfName)
}

// TemplatePath returns the path to the per-color upstream template.
func (c *Config) TemplatePath(color string) string {
	return filepath.Join(c.ProjectRoot, c.ProxyTemplateDir, fmt.Sprintf("upstream-%s.conf", color))
}

// Load builds a viper instance scoped to this call, layers defaults,
// an optional YAML file, and environment variables, and returns a
// validated Config. CLI flags should be bound onto the returned
// *viper.Viper by the caller before Unmarshal if a flag set is in use;
// LoadWithViper exposes that seam.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DEPLOY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	return unmarshalAndValidate(v)
}

// LoadWithViper builds a Config from a caller-supplied viper instance,
// letting the caller bind CLI flags (via BindPFlag) before defaults
// and the config file are layered underneath them.
func LoadWithViper(v *viper.Viper, configPath string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("DEPLOY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	return unmarshalAndValidate(v)
}

func unmarshalAndValidate(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("project_root", ".")
	v.SetDefault("drain_seconds", 15)
	v.SetDefault("health_timeout", "180s")

	v.SetDefault("colors", []map[string]interface{}{
		{"name": "blue", "port": 8000, "container_service": "blue"},
		{"name": "green", "port": 8001, "container_service": "green"},
	})

	v.SetDefault("proxy_container", "nginx")
	v.SetDefault("proxy_conf_dir", "nginx/conf.d")
	v.SetDefault("proxy_template_dir", "nginx")
	v.SetDefault("proxy_active_conf_name", "upstream.conf")
	v.SetDefault("proxy_compose_profile", "deploy")
	v.SetDefault("proxy_external_port", 80)

	v.SetDefault("state_dir", "deploy")

	v.SetDefault("runtime_binary", "docker")

	v.SetDefault("metrics_addr", "")

	v.SetDefault("rollback_verification_required", false)
	v.SetDefault("prewarm_max_age", "60m")
	v.SetDefault("prewarm_staleness_hard_fail", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "file")
	v.SetDefault("log.filename", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
}

var validate = validator.New()

// Validate checks struct invariants beyond what validator tags express:
// that the two configured colors are distinct and that ports don't
// collide.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if len(c.Colors) == 2 && c.Colors[0].Name == c.Colors[1].Name {
		return fmt.Errorf("colors must have distinct names, got %q twice", c.Colors[0].Name)
	}
	if len(c.Colors) == 2 && c.Colors[0].Port == c.Colors[1].Port {
		return fmt.Errorf("colors must have distinct ports, got %d twice", c.Colors[0].Port)
	}

	return nil
}
