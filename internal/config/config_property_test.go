//go:build property

package config

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/spf13/viper"
)

// TestConfigurationProperties tests configuration loading and validation properties
func TestConfigurationProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("valid settings always load", prop.ForAll(
		func(timeoutMs int, workers int, ratio float64, delta int) bool {
			v := viper.New()
			v.Set("compiler.timeout", time.Duration(timeoutMs)*time.Millisecond)
			v.Set("pipeline.workers", workers)
			v.Set("validation.max_diff_ratio", ratio)
			v.Set("validation.max_channel_delta", delta)

			cfg, err := LoadFrom(v)
			return err == nil &&
				cfg.Compiler.Timeout == time.Duration(timeoutMs)*time.Millisecond &&
				cfg.Pipeline.Workers == workers
		},
		gen.IntRange(1, 600000),
		gen.IntRange(1, 64),
		gen.Float64Range(0, 1),
		gen.IntRange(0, 255),
	))

	properties.Property("out of range ratios are rejected", prop.ForAll(
		func(ratio float64) bool {
			v := viper.New()
			v.Set("validation.max_diff_ratio", ratio)
			_, err := LoadFrom(v)
			return err != nil
		},
		gen.OneGenOf(gen.Float64Range(-100, -0.0001), gen.Float64Range(1.0001, 100)),
	))

	properties.Property("relative paths without traversal are accepted", prop.ForAll(
		func(dir string) bool {
			v := viper.New()
			v.Set("output.dir", dir)
			_, err := LoadFrom(v)
			return err == nil
		},
		gen.RegexMatch(`^[a-z][a-z0-9_]{0,8}(/[a-z0-9_]{1,8}){0,3}$`),
	))

	properties.Property("validation is deterministic", prop.ForAll(
		func(port int) bool {
			cfg := Default()
			cfg.Preview.Port = port
			a := ValidateConfigWithDetails(cfg)
			b := ValidateConfigWithDetails(cfg)
			return a.Valid == b.Valid && len(a.Errors) == len(b.Errors) && len(a.Warnings) == len(b.Warnings)
		},
		gen.IntRange(-10, 70000),
	))

	properties.TestingRun(t)
}
