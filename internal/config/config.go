// Package config handles configuration loading for deccp.
// Values come from built-in defaults, an optional config file, DECCP_* environment
// variables and finally any command-line flags that were explicitly set.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/brensch/deccp/internal/archive"
	"github.com/brensch/deccp/internal/decode"
	"github.com/brensch/deccp/internal/pool"
	"github.com/brensch/deccp/internal/selector"
)

// EnvPrefix is prepended to environment variable overrides, e.g. DECCP_JOBS.
const EnvPrefix = "DECCP"

// DefaultItemTimeout bounds a single decompiler invocation.
const DefaultItemTimeout = 2 * time.Minute

// Config holds application settings.
type Config struct {
	Archive          string        `mapstructure:"archive"`
	OutputDir        string        `mapstructure:"output_dir"`
	Jobs             int           `mapstructure:"jobs"`
	UnitSuffix       string        `mapstructure:"unit_suffix"`
	TargetSuffix     string        `mapstructure:"target_suffix"`
	Decompiler       string        `mapstructure:"decompiler"`
	ItemTimeout      time.Duration `mapstructure:"item_timeout"`
	ScanZlib         bool          `mapstructure:"scan_zlib"`
	KeepIntermediate bool          `mapstructure:"keep_intermediate"`
	DbPath           string        `mapstructure:"db_path"`
}

// FlagKeys maps command-line flag names to config keys.
var FlagKeys = map[string]string{
	"out":               "output_dir",
	"jobs":              "jobs",
	"suffix":            "unit_suffix",
	"target-suffix":     "target_suffix",
	"decompiler":        "decompiler",
	"timeout":           "item_timeout",
	"scan-zlib":         "scan_zlib",
	"keep-intermediate": "keep_intermediate",
	"db-path":           "db_path",
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Jobs:         pool.DefaultWorkers,
		UnitSuffix:   archive.DefaultUnitSuffix,
		TargetSuffix: selector.DefaultTargetSuffix,
		Decompiler:   decode.DefaultCommand,
		ItemTimeout:  DefaultItemTimeout,
	}
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("archive", "")
	v.SetDefault("output_dir", "")
	v.SetDefault("jobs", d.Jobs)
	v.SetDefault("unit_suffix", d.UnitSuffix)
	v.SetDefault("target_suffix", d.TargetSuffix)
	v.SetDefault("decompiler", d.Decompiler)
	v.SetDefault("item_timeout", d.ItemTimeout.String())
	v.SetDefault("scan_zlib", false)
	v.SetDefault("keep_intermediate", false)
	v.SetDefault("db_path", "")
}

// Load builds a Config. path names an optional config file (any format viper
// understands); flags, when non-nil, override every other source for the flags
// the user actually set.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag --%s: %w", name, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// ResolveOutputDir returns the output root, defaulting to the archive's directory.
func (c *Config) ResolveOutputDir() string {
	if c.OutputDir != "" {
		return c.OutputDir
	}
	return filepath.Dir(c.Archive)
}

// Validate checks the settings needed for a decompile run and clamps Jobs to at least 1.
func (c *Config) Validate() error {
	var errs error
	if c.Archive == "" {
		errs = errors.Join(errs, errors.New("archive path is required"))
	}
	// Fewer than one worker means sequential execution.
	if c.Jobs < 1 {
		c.Jobs = 1
	}
	if !strings.HasPrefix(c.UnitSuffix, ".") {
		errs = errors.Join(errs, fmt.Errorf("unit suffix %q must start with '.'", c.UnitSuffix))
	}
	if !strings.HasPrefix(c.TargetSuffix, ".") {
		errs = errors.Join(errs, fmt.Errorf("target suffix %q must start with '.'", c.TargetSuffix))
	}
	if strings.TrimSpace(c.Decompiler) == "" {
		errs = errors.Join(errs, errors.New("decompiler command is required"))
	}
	if c.ItemTimeout < 0 {
		errs = errors.Join(errs, fmt.Errorf("item timeout must not be negative, got %s", c.ItemTimeout))
	}
	return errs
}
