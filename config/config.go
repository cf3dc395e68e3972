// Package config loads deadcalls settings from an optional YAML file, DEADCALLS_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/arxeiss/deadcalls/signature"
)

// EnvPrefix prefixes every environment override, e.g. DEADCALLS_ROOTS.
const EnvPrefix = "DEADCALLS"

// Config holds every setting of the collector.
type Config struct {
	AppName     string `mapstructure:"app_name"`
	AppVersion  string `mapstructure:"app_version"`
	Environment string `mapstructure:"environment"`

	Roots            []string `mapstructure:"roots"`
	Packages         []string `mapstructure:"packages"`
	ExcludePackages  []string `mapstructure:"exclude_packages"`
	Excludes         []string `mapstructure:"excludes"`
	MethodVisibility string   `mapstructure:"method_visibility"`
	SyntheticIgnore  []string `mapstructure:"synthetic_ignore"`
	Sources          bool     `mapstructure:"sources"`
	ScanWorkers      int      `mapstructure:"scan_workers"`

	RescanInterval  time.Duration `mapstructure:"rescan_interval"`
	PublishInterval time.Duration `mapstructure:"publish_interval"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Watch         bool          `mapstructure:"watch"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`

	OutputDir string `mapstructure:"output_dir"`

	visibility signature.Visibility
	normalizer *signature.Normalizer
}

// Load reads the configuration. An empty path looks for deadcalls.yaml in the working
// directory and carries on with defaults when there is none; an explicit path must
// exist. Flags that were set on the command line win over everything else.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("app_name", "")
	v.SetDefault("app_version", "")
	v.SetDefault("environment", "")
	v.SetDefault("roots", []string{})
	v.SetDefault("packages", []string{})
	v.SetDefault("exclude_packages", []string{})
	v.SetDefault("excludes", []string{})
	v.SetDefault("method_visibility", "public")
	v.SetDefault("synthetic_ignore", []string{})
	v.SetDefault("sources", false)
	v.SetDefault("scan_workers", 0)
	v.SetDefault("rescan_interval", 10*time.Minute)
	v.SetDefault("publish_interval", time.Minute)
	v.SetDefault("retry_interval", 15*time.Second)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("watch", false)
	v.SetDefault("watch_debounce", 2*time.Second)
	v.SetDefault("output_dir", "deadcalls-out")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("deadcalls")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.Roots = compact(c.Roots)
	c.Packages = compact(c.Packages)
	c.ExcludePackages = compact(c.ExcludePackages)
	c.Excludes = compact(c.Excludes)
	c.SyntheticIgnore = trimmed(c.SyntheticIgnore)

	if len(c.Roots) == 0 {
		return fmt.Errorf("roots must list at least one code location")
	}
	vis, err := signature.ParseVisibility(c.MethodVisibility)
	if err != nil {
		return fmt.Errorf("method_visibility: %w", err)
	}
	c.visibility = vis

	rules := append(signature.DefaultRules(), signature.IgnoreRules(c.SyntheticIgnore...)...)
	if c.normalizer, err = signature.NewNormalizer(rules); err != nil {
		return fmt.Errorf("synthetic_ignore: %w", err)
	}

	if c.ScanWorkers < 0 {
		return fmt.Errorf("scan_workers must not be negative, got: %d", c.ScanWorkers)
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"rescan_interval", c.RescanInterval},
		{"publish_interval", c.PublishInterval},
		{"retry_interval", c.RetryInterval},
		{"shutdown_timeout", c.ShutdownTimeout},
		{"watch_debounce", c.WatchDebounce},
	} {
		if d.val <= 0 {
			return fmt.Errorf("%s must be positive, got: %s", d.key, d.val)
		}
	}
	return nil
}

// Visibility returns the parsed method_visibility.
func (c *Config) Visibility() signature.Visibility { return c.visibility }

// Normalizer returns the default synthetic rules followed by synthetic_ignore.
func (c *Config) Normalizer() *signature.Normalizer {
	if c.normalizer == nil {
		return signature.Default()
	}
	return c.normalizer
}

// trimmed drops blank entries. Patterns may contain commas, so nothing is split.
func trimmed(in []string) []string {
	var out []string
	for _, s := range in {
		if p := strings.TrimSpace(s); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// compact trims entries, drops empty ones and splits comma separated values that
// reach us from a single environment variable or flag.
func compact(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
