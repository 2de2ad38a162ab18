// Package config layers CLI flags, environment variables (CEREBRO_*),
// and a ~/.cerebro/config.yaml file into one model.ScanConfig, the
// same precedence order viper gives any application: flags override
// env, env overrides file, file overrides the compiled-in defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/perps12oss/cerebro/internal/model"
)

// Defaults mirrors model.ScanConfig.WithDefaults, expressed as viper
// defaults so they show up in a dumped config and are overridable per
// key instead of only as a blanket post-unmarshal fallback.
func setDefaults(v *viper.Viper) {
	v.SetDefault("min_size_bytes", 1024)
	v.SetDefault("max_file_size_bytes", 0)
	v.SetDefault("include_hidden", false)
	v.SetDefault("follow_symlinks", false)
	v.SetDefault("allowed_extensions", []string{})
	v.SetDefault("exclude_dirs", []string{})
	v.SetDefault("max_workers", 0)
	v.SetDefault("cache_path", "")
	v.SetDefault("media_type", string(model.MediaAll))
	v.SetDefault("engine", string(model.EngineSimple))
	v.SetDefault("full_hash_escalation", false)
	v.SetDefault("cache_mode", int(model.CacheEnabled))
	v.SetDefault("mtime_tolerance_ns", 0)
}

// Load resolves a model.ScanConfig from (in ascending precedence) the
// compiled-in defaults, ~/.cerebro/config.yaml (or configPath if
// given), CEREBRO_* environment variables, and flags already bound to
// flagSet. flagSet may be nil to skip flag binding.
func Load(configPath string, flagSet *pflag.FlagSet) (model.ScanConfig, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.cerebro")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CEREBRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return model.ScanConfig{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if flagSet != nil {
		if err := v.BindPFlags(flagSet); err != nil {
			return model.ScanConfig{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg model.ScanConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return model.ScanConfig{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg.WithDefaults(), nil
}
