package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

// FuzzLoadConfig tests configuration loading with various malformed inputs
func FuzzLoadConfig(f *testing.F) {
	f.Add(`compiler:
  binary: typst
  timeout: 30s
output:
  format: pdf`)
	f.Add(`compiler:
  timeout: "soon"`)
	f.Add(`pipeline:
  workers: -3`)
	f.Add(`validation:
  max_diff_ratio: 7`)
	f.Add(`malformed: yaml: content`)
	f.Add(``)

	f.Fuzz(func(t *testing.T, yamlContent string) {
		if len(yamlContent) > 50000 {
			t.Skip("Config content too large")
		}

		configFile := filepath.Join(t.TempDir(), ".rxpdf.yml")
		if err := os.WriteFile(configFile, []byte(yamlContent), 0644); err != nil {
			t.Skip("Could not write config file")
		}

		v := viper.New()
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return
		}

		cfg, err := LoadFrom(v)
		if err != nil {
			return
		}

		// Anything Load accepts must satisfy the validator.
		if result := ValidateConfigWithDetails(cfg); !result.Valid {
			t.Errorf("loaded config fails validation:\n%s", result)
		}
		if cfg.Compiler.Timeout <= 0 || cfg.Pipeline.Workers < 1 {
			t.Errorf("loaded config has unusable limits: %+v", cfg)
		}
	})
}
