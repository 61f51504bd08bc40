package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestEmptyMapperConfig_Defaults(t *testing.T) {
	cfg := EmptyMapperConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "", cfg.GetMapFrame())
	assert.Equal(t, 0.1, cfg.GetResolution())
	assert.True(t, math.IsInf(cfg.GetMaxRange(), 1))
	assert.Equal(t, 1, cfg.GetPointSubsample())
	assert.Equal(t, 0.0, cfg.GetMaxUpdateRate())
	assert.Equal(t, 0.7, cfg.GetProbHit())
	assert.Equal(t, 0.4, cfg.GetProbMiss())
	assert.Equal(t, NeighborCorner, cfg.GetNeighborMode())
	assert.Equal(t, StaleLeave, cfg.GetStaleFrontierPolicy())
	assert.True(t, cfg.GetCompressMap())
	assert.False(t, cfg.GetPublishFilteredCloud())

	b := cfg.GetROI()
	for i := 0; i < 3; i++ {
		assert.True(t, math.IsInf(b.Min[i], -1))
		assert.True(t, math.IsInf(b.Max[i], 1))
	}
}

func TestDefaultMapperConfig_MatchesGetters(t *testing.T) {
	def := DefaultMapperConfig()
	require.NoError(t, def.Validate())
	empty := EmptyMapperConfig()
	assert.Equal(t, empty.GetResolution(), def.GetResolution())
	assert.Equal(t, empty.GetMaxRange(), def.GetMaxRange())
	assert.Equal(t, empty.GetROI(), def.GetROI())
}

func TestLoadMapperConfig_JSON(t *testing.T) {
	path := writeConfig(t, "mapper.json", `{
  "map_frame": "world",
  "resolution": 0.05,
  "max_range": 8,
  "point_subsample": 2,
  "max_update_rate": 2,
  "roi": {"x_min": -1, "x_max": 1, "z_max": 2},
  "neighbor_mode": "full26",
  "stale_frontier_policy": "strict-removal"
}`)
	cfg, err := LoadMapperConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "world", cfg.GetMapFrame())
	assert.Equal(t, 0.05, cfg.GetResolution())
	assert.Equal(t, 8.0, cfg.GetMaxRange())
	assert.Equal(t, 2, cfg.GetPointSubsample())
	assert.Equal(t, 2.0, cfg.GetMaxUpdateRate())
	assert.Equal(t, NeighborFull26, cfg.GetNeighborMode())
	assert.Equal(t, StaleStrict, cfg.GetStaleFrontierPolicy())

	inf := math.Inf(1)
	want := Bounds{Min: [3]float64{-1, -inf, -inf}, Max: [3]float64{1, inf, 2}}
	if diff := cmp.Diff(want, cfg.GetROI()); diff != "" {
		t.Errorf("ROI mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMapperConfig_YAML(t *testing.T) {
	path := writeConfig(t, "mapper.yaml", `
map_frame: odom
resolution: 0.2
point_subsample: 4
roi:
  z_min: 0
  z_max: 3
compress_map: false
`)
	cfg, err := LoadMapperConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "odom", cfg.GetMapFrame())
	assert.Equal(t, 0.2, cfg.GetResolution())
	assert.Equal(t, 4, cfg.GetPointSubsample())
	assert.False(t, cfg.GetCompressMap())
	assert.Equal(t, 3.0, cfg.GetROI().Max[2])
}

func TestLoadMapperConfig_EmptyYAML(t *testing.T) {
	cfg, err := LoadMapperConfig(writeConfig(t, "empty.yml", ""))
	require.NoError(t, err)
	assert.Equal(t, 0.1, cfg.GetResolution())
}

func TestLoadMapperConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"bad extension", "mapper.toml", `resolution = 0.1`},
		{"malformed json", "bad.json", `{"resolution":`},
		{"unknown key", "unknown.json", `{"resolutoin": 0.1}`},
		{"zero resolution", "res.json", `{"resolution": 0}`},
		{"subsample zero", "sub.json", `{"point_subsample": 0}`},
		{"bad neighbor mode", "nb.json", `{"neighbor_mode": "face6"}`},
		{"bad policy yaml", "pol.yaml", "stale_frontier_policy: drop\n"},
		{"clamp inverted", "clamp.json", `{"clamp_min": 0.9, "clamp_max": 0.2}`},
		{"roi inverted", "roi.json", `{"roi": {"y_min": 2, "y_max": 1}}`},
		{"prob hit below half", "hit.json", `{"prob_hit": 0.3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadMapperConfig(writeConfig(t, tt.file, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadMapperConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadMapperConfig_TooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.json")
	require.NoError(t, os.WriteFile(path, make([]byte, maxFileSize+1), 0644))
	_, err := LoadMapperConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestDefaultsFile(t *testing.T) {
	cfg, err := LoadMapperConfig("../../" + DefaultConfigPath)
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultMapperConfig(), cfg); diff != "" {
		t.Errorf("defaults file drifted from getters (-want +got):\n%s", diff)
	}
	assert.NotPanics(t, func() { MustLoadDefaultConfig() })
}
