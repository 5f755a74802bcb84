/*
Copyright © 2026 The Pipeline Authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package config holds the pipeline namespace's configuration shape and its
// viper-backed loader. A PipelineConfig is a plain value threaded through
// component constructors; nothing here is kept as package-level state, so
// the loader can run more than once per process (each call returns its own
// *viper.Viper).
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrConfig is the sentinel wrapped by every configuration validation
// failure. Startup code should treat it as fatal.
var ErrConfig = errors.New("config error")

// PipelineConfig is the "pipeline:" namespace described in the external
// interfaces section of the spec.
//
// SuccessDir, ErrorDir and ProcessFileFunctionName are accepted and
// decoded for schema compatibility with the source configuration but are
// not consulted by any component in this implementation; see "Retired
// configuration keys" in DESIGN.md for why each was superseded and what
// replaced it.
type PipelineConfig struct {
	PipelineDir             string `mapstructure:"pipelineDir" yaml:"pipelineDir"`
	PipelineStorageDir      string `mapstructure:"pipelineStorageDir" yaml:"pipelineStorageDir"`
	ProcessesDir            string `mapstructure:"processesDir" yaml:"processesDir"`
	SuccessDir              string `mapstructure:"successDir" yaml:"successDir"`
	ErrorDir                string `mapstructure:"errorDir" yaml:"errorDir"`
	PollFrequencySeconds    int    `mapstructure:"pollFrequency" yaml:"pollFrequency"`
	ProcessFilePrefix       string `mapstructure:"processFilePrefix" yaml:"processFilePrefix"`
	ProcessFileFunctionName string `mapstructure:"processFileFunctionName" yaml:"processFileFunctionName"`
	DashboardHost           string `mapstructure:"dashboardHost" yaml:"dashboardHost"`
	DashboardPort           int    `mapstructure:"dashboardPort" yaml:"dashboardPort"`
	Verbose                 bool   `mapstructure:"verbose" yaml:"verbose"`
}

// Clone deep-copies a PipelineConfig. PipelineConfig currently holds no
// reference types besides strings, but Clone is kept (mirroring the
// teacher's CemConfig.Clone) so future fields don't silently start aliasing.
func (c *PipelineConfig) Clone() *PipelineConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.pollFrequency", 30)
	v.SetDefault("pipeline.processFilePrefix", "pipeline_step_")
	v.SetDefault("pipeline.processFileFunctionName", "process_this")
	v.SetDefault("pipeline.dashboardHost", "localhost")
	v.SetDefault("pipeline.dashboardPort", 8765)
}

// Load builds a fresh *viper.Viper, reads the given config file path (if
// non-empty), applies PIPELINE_-prefixed environment overrides, binds the
// supplied flags, and decodes the "pipeline" namespace into a
// PipelineConfig. A missing config file is not an error: defaults plus
// flags/env may be sufficient.
func Load(configFile string, flags *pflag.FlagSet) (*PipelineConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PIPELINE")
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("%w: binding flags: %v", ErrConfig, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("%w: reading %s: %v", ErrConfig, configFile, err)
			}
		}
	}

	var cfg PipelineConfig
	if err := v.UnmarshalKey("pipeline", &cfg); err != nil {
		return nil, fmt.Errorf("%w: decoding pipeline namespace: %v", ErrConfig, err)
	}

	// pflag-bound top-level fields (pipeline-dir, verbose, ...) are mirrored
	// onto PipelineConfig explicitly since they aren't nested under the
	// "pipeline." key that UnmarshalKey reads.
	if flags != nil {
		if flags.Lookup("pipeline-dir") != nil {
			if dir := v.GetString("pipeline-dir"); dir != "" {
				cfg.PipelineDir = dir
			}
		}
		if flags.Lookup("verbose") != nil {
			cfg.Verbose = v.GetBool("verbose")
		}
		if flags.Lookup("dashboard-host") != nil {
			if host := v.GetString("dashboard-host"); host != "" {
				cfg.DashboardHost = host
			}
		}
		if flags.Lookup("dashboard-port") != nil {
			if port := v.GetInt("dashboard-port"); port != 0 {
				cfg.DashboardPort = port
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the required directories are set. It does not stat
// the filesystem: missing directories are created on demand by the
// components that own them (see fileops.EnsureDir).
func (c *PipelineConfig) Validate() error {
	if c.PipelineDir == "" {
		return fmt.Errorf("%w: pipelineDir is required", ErrConfig)
	}
	if c.PipelineStorageDir == "" {
		return fmt.Errorf("%w: pipelineStorageDir is required", ErrConfig)
	}
	if c.PollFrequencySeconds <= 0 {
		return fmt.Errorf("%w: pollFrequency must be positive, got %d", ErrConfig, c.PollFrequencySeconds)
	}
	return nil
}
