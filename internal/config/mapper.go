package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical mapper defaults file.
const DefaultConfigPath = "config/mapper.defaults.json"

// Neighbour modes accepted by neighbor_mode.
const (
	NeighborCorner = "corner"
	NeighborFull26 = "full26"
)

// Stale frontier policies accepted by stale_frontier_policy.
const (
	StaleLeave  = "leave-stale"
	StaleStrict = "strict-removal"
)

//go:embed schema/mapper.schema.json
var schemaJSON []byte

const maxFileSize = 1 * 1024 * 1024 // 1MB

// MapperConfig is the root configuration of the frontier mapper. Every
// field is optional; the Get* methods supply defaults for omitted keys so
// partial configs are safe.
type MapperConfig struct {
	MapFrame *string `json:"map_frame,omitempty" yaml:"map_frame,omitempty"`

	// Occupancy map
	Resolution         *float64 `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	ProbHit            *float64 `json:"prob_hit,omitempty" yaml:"prob_hit,omitempty"`
	ProbMiss           *float64 `json:"prob_miss,omitempty" yaml:"prob_miss,omitempty"`
	ClampMin           *float64 `json:"clamp_min,omitempty" yaml:"clamp_min,omitempty"`
	ClampMax           *float64 `json:"clamp_max,omitempty" yaml:"clamp_max,omitempty"`
	OccupancyThreshold *float64 `json:"occupancy_threshold,omitempty" yaml:"occupancy_threshold,omitempty"`
	MaxVoxels          *int     `json:"max_voxels,omitempty" yaml:"max_voxels,omitempty"`

	// Frame update
	MaxRange             *float64 `json:"max_range,omitempty" yaml:"max_range,omitempty"` // 0 means unbounded
	PointSubsample       *int     `json:"point_subsample,omitempty" yaml:"point_subsample,omitempty"`
	MaxUpdateRate        *float64 `json:"max_update_rate,omitempty" yaml:"max_update_rate,omitempty"` // Hz, 0 disables
	PublishFilteredCloud *bool    `json:"publish_filtered_cloud,omitempty" yaml:"publish_filtered_cloud,omitempty"`
	RayWorkers           *int     `json:"ray_workers,omitempty" yaml:"ray_workers,omitempty"` // 0 means GOMAXPROCS
	PaddingOffset        *float64 `json:"padding_offset,omitempty" yaml:"padding_offset,omitempty"`
	PaddingScale         *float64 `json:"padding_scale,omitempty" yaml:"padding_scale,omitempty"`

	// Frontier
	ROI                 *ROIConfig `json:"roi,omitempty" yaml:"roi,omitempty"`
	NeighborMode        *string    `json:"neighbor_mode,omitempty" yaml:"neighbor_mode,omitempty"`
	StaleFrontierPolicy *string    `json:"stale_frontier_policy,omitempty" yaml:"stale_frontier_policy,omitempty"`

	// Publication
	CompressMap *bool `json:"compress_map,omitempty" yaml:"compress_map,omitempty"`
}

// ROIConfig bounds the frontier search. Omitted limits are unbounded.
type ROIConfig struct {
	XMin *float64 `json:"x_min,omitempty" yaml:"x_min,omitempty"`
	XMax *float64 `json:"x_max,omitempty" yaml:"x_max,omitempty"`
	YMin *float64 `json:"y_min,omitempty" yaml:"y_min,omitempty"`
	YMax *float64 `json:"y_max,omitempty" yaml:"y_max,omitempty"`
	ZMin *float64 `json:"z_min,omitempty" yaml:"z_min,omitempty"`
	ZMax *float64 `json:"z_max,omitempty" yaml:"z_max,omitempty"`
}

// Bounds is an axis-aligned box as min/max arrays in x, y, z order.
type Bounds struct {
	Min [3]float64
	Max [3]float64
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }

// EmptyMapperConfig returns a MapperConfig with all fields nil.
func EmptyMapperConfig() *MapperConfig {
	return &MapperConfig{}
}

// DefaultMapperConfig returns a config with every field set to its default.
func DefaultMapperConfig() *MapperConfig {
	c := EmptyMapperConfig()
	return &MapperConfig{
		MapFrame:             ptrString(c.GetMapFrame()),
		Resolution:           ptrFloat64(c.GetResolution()),
		ProbHit:              ptrFloat64(c.GetProbHit()),
		ProbMiss:             ptrFloat64(c.GetProbMiss()),
		ClampMin:             ptrFloat64(c.GetClampMin()),
		ClampMax:             ptrFloat64(c.GetClampMax()),
		OccupancyThreshold:   ptrFloat64(c.GetOccupancyThreshold()),
		MaxVoxels:            ptrInt(c.GetMaxVoxels()),
		MaxRange:             ptrFloat64(0),
		PointSubsample:       ptrInt(c.GetPointSubsample()),
		MaxUpdateRate:        ptrFloat64(c.GetMaxUpdateRate()),
		PublishFilteredCloud: ptrBool(c.GetPublishFilteredCloud()),
		RayWorkers:           ptrInt(c.GetRayWorkers()),
		PaddingOffset:        ptrFloat64(c.GetPaddingOffset()),
		PaddingScale:         ptrFloat64(c.GetPaddingScale()),
		ROI:                  &ROIConfig{},
		NeighborMode:         ptrString(c.GetNeighborMode()),
		StaleFrontierPolicy:  ptrString(c.GetStaleFrontierPolicy()),
		CompressMap:          ptrBool(c.GetCompressMap()),
	}
}

// LoadMapperConfig loads a MapperConfig from a .json, .yaml or .yml file.
// The document is checked against the embedded JSON schema before being
// decoded, then validated semantically.
func LoadMapperConfig(path string) (*MapperConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if ext != ".json" {
		if data, err = yamlToJSON(data); err != nil {
			return nil, err
		}
	}
	return ParseMapperConfig(data)
}

// ParseMapperConfig decodes and validates a JSON config document.
func ParseMapperConfig(data []byte) (*MapperConfig, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("config does not match schema: %w", err)
	}

	cfg := EmptyMapperConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("mapper.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("load config schema: %w", err)
	}
	s, err := c.Compile("mapper.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return s, nil
}

// yamlToJSON re-encodes a YAML mapping as JSON so both formats share the
// schema and decoder.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert config YAML: %w", err)
	}
	return out, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file
// cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *MapperConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadMapperConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks cross-field constraints the schema cannot express.
func (c *MapperConfig) Validate() error {
	if r := c.GetResolution(); !(r > 0) || math.IsInf(r, 0) {
		return fmt.Errorf("resolution must be positive and finite, got %v", r)
	}
	if c.GetMaxRange() < 0 {
		return fmt.Errorf("max_range must be non-negative, got %v", c.GetMaxRange())
	}
	if c.GetPointSubsample() < 1 {
		return fmt.Errorf("point_subsample must be at least 1, got %d", c.GetPointSubsample())
	}
	if c.GetMaxUpdateRate() < 0 {
		return fmt.Errorf("max_update_rate must be non-negative, got %v", c.GetMaxUpdateRate())
	}
	if c.GetClampMin() >= c.GetClampMax() {
		return fmt.Errorf("clamp_min (%v) must be below clamp_max (%v)", c.GetClampMin(), c.GetClampMax())
	}
	if th := c.GetOccupancyThreshold(); th < c.GetClampMin() || th > c.GetClampMax() {
		return fmt.Errorf("occupancy_threshold %v outside clamp range [%v, %v]", th, c.GetClampMin(), c.GetClampMax())
	}
	if c.GetMaxVoxels() < 0 {
		return fmt.Errorf("max_voxels must be non-negative, got %d", c.GetMaxVoxels())
	}
	if c.GetRayWorkers() < 0 {
		return fmt.Errorf("ray_workers must be non-negative, got %d", c.GetRayWorkers())
	}
	if c.GetPaddingOffset() < 0 {
		return fmt.Errorf("padding_offset must be non-negative, got %v", c.GetPaddingOffset())
	}
	if c.GetPaddingScale() <= 0 {
		return fmt.Errorf("padding_scale must be positive, got %v", c.GetPaddingScale())
	}
	switch c.GetNeighborMode() {
	case NeighborCorner, NeighborFull26:
	default:
		return fmt.Errorf("unknown neighbor_mode %q", c.GetNeighborMode())
	}
	switch c.GetStaleFrontierPolicy() {
	case StaleLeave, StaleStrict:
	default:
		return fmt.Errorf("unknown stale_frontier_policy %q", c.GetStaleFrontierPolicy())
	}
	b := c.GetROI()
	for i, axis := range []string{"x", "y", "z"} {
		if b.Min[i] > b.Max[i] {
			return fmt.Errorf("roi %s_min (%v) exceeds %s_max (%v)", axis, b.Min[i], axis, b.Max[i])
		}
	}
	return nil
}

// GetMapFrame returns the map_frame value or "" (adopt the first frame's sensor frame).
func (c *MapperConfig) GetMapFrame() string {
	if c.MapFrame == nil {
		return ""
	}
	return *c.MapFrame
}

// GetResolution returns the voxel edge length in metres.
func (c *MapperConfig) GetResolution() float64 {
	if c.Resolution == nil {
		return 0.1
	}
	return *c.Resolution
}

// GetProbHit returns the hit probability.
func (c *MapperConfig) GetProbHit() float64 {
	if c.ProbHit == nil {
		return 0.7
	}
	return *c.ProbHit
}

// GetProbMiss returns the miss probability.
func (c *MapperConfig) GetProbMiss() float64 {
	if c.ProbMiss == nil {
		return 0.4
	}
	return *c.ProbMiss
}

// GetClampMin returns the lower clamping probability.
func (c *MapperConfig) GetClampMin() float64 {
	if c.ClampMin == nil {
		return 0.1192
	}
	return *c.ClampMin
}

// GetClampMax returns the upper clamping probability.
func (c *MapperConfig) GetClampMax() float64 {
	if c.ClampMax == nil {
		return 0.971
	}
	return *c.ClampMax
}

// GetOccupancyThreshold returns the occupancy threshold probability.
func (c *MapperConfig) GetOccupancyThreshold() float64 {
	if c.OccupancyThreshold == nil {
		return 0.5
	}
	return *c.OccupancyThreshold
}

// GetMaxVoxels returns the per-map voxel cap; 0 disables it.
func (c *MapperConfig) GetMaxVoxels() int {
	if c.MaxVoxels == nil {
		return 0
	}
	return *c.MaxVoxels
}

// GetMaxRange returns the clipping range, +Inf when unset or zero.
func (c *MapperConfig) GetMaxRange() float64 {
	if c.MaxRange == nil || *c.MaxRange == 0 {
		return math.Inf(1)
	}
	return *c.MaxRange
}

// GetPointSubsample returns the row/column stride.
func (c *MapperConfig) GetPointSubsample() int {
	if c.PointSubsample == nil {
		return 1
	}
	return *c.PointSubsample
}

// GetMaxUpdateRate returns the frame rate cap in Hz; 0 disables limiting.
func (c *MapperConfig) GetMaxUpdateRate() float64 {
	if c.MaxUpdateRate == nil {
		return 0
	}
	return *c.MaxUpdateRate
}

// GetPublishFilteredCloud reports whether the filtered cloud is published.
func (c *MapperConfig) GetPublishFilteredCloud() bool {
	if c.PublishFilteredCloud == nil {
		return false
	}
	return *c.PublishFilteredCloud
}

// GetRayWorkers returns the ray-casting worker count; 0 means GOMAXPROCS.
func (c *MapperConfig) GetRayWorkers() int {
	if c.RayWorkers == nil {
		return 0
	}
	return *c.RayWorkers
}

// GetPaddingOffset returns the body-mask padding in metres.
func (c *MapperConfig) GetPaddingOffset() float64 {
	if c.PaddingOffset == nil {
		return 0
	}
	return *c.PaddingOffset
}

// GetPaddingScale returns the body-mask scale factor.
func (c *MapperConfig) GetPaddingScale() float64 {
	if c.PaddingScale == nil {
		return 1
	}
	return *c.PaddingScale
}

// GetNeighborMode returns "corner" or "full26".
func (c *MapperConfig) GetNeighborMode() string {
	if c.NeighborMode == nil {
		return NeighborCorner
	}
	return *c.NeighborMode
}

// GetStaleFrontierPolicy returns "leave-stale" or "strict-removal".
func (c *MapperConfig) GetStaleFrontierPolicy() string {
	if c.StaleFrontierPolicy == nil {
		return StaleLeave
	}
	return *c.StaleFrontierPolicy
}

// GetCompressMap reports whether published maps are zstd-compressed.
func (c *MapperConfig) GetCompressMap() bool {
	if c.CompressMap == nil {
		return true
	}
	return *c.CompressMap
}

// GetROI returns the search bounds with omitted limits set to ±Inf.
func (c *MapperConfig) GetROI() Bounds {
	inf := math.Inf(1)
	b := Bounds{Min: [3]float64{-inf, -inf, -inf}, Max: [3]float64{inf, inf, inf}}
	if c.ROI == nil {
		return b
	}
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&b.Min[0], c.ROI.XMin)
	set(&b.Max[0], c.ROI.XMax)
	set(&b.Min[1], c.ROI.YMin)
	set(&b.Max[1], c.ROI.YMax)
	set(&b.Min[2], c.ROI.ZMin)
	set(&b.Max[2], c.ROI.ZMax)
	return b
}
