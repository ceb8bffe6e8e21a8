package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/loadpair/internal/loadgen"
	"github.com/wesleyorama2/loadpair/internal/loadgen/config"
	"github.com/wesleyorama2/loadpair/internal/loadgen/script"
)

func TestExampleConfigs(t *testing.T) {
	vars := map[string]string{
		"rate":     "50",
		"duration": "1m",
		"prevu":    "20",
		"maxvu":    "100",
		"function": "forecast",
		"URL":      "http://localhost:8080/",
	}
	lookup := func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}

	funcs := loadgen.NewRegistry()
	require.NoError(t, script.Register(funcs, script.Options{}))

	paths, err := filepath.Glob(filepath.Join("..", "..", "..", "examples", "*.*"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			data, err := os.ReadFile(path)
			require.NoError(t, err)

			cfg, err := config.ParseConfig(data, path, lookup)
			require.NoError(t, err)
			config.ApplyDefaults(cfg)
			assert.NoError(t, cfg.ValidateExecs(funcs.Names()))
		})
	}
}
