package main

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/frontier.map/internal/config"
	"github.com/banshee-data/frontier.map/internal/lidar/l2cloud"
	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
	"github.com/banshee-data/frontier.map/internal/lidar/l4update"
	"github.com/banshee-data/frontier.map/internal/lidar/l5frontier"
	"github.com/banshee-data/frontier.map/internal/lidar/pipeline"
	"github.com/banshee-data/frontier.map/internal/monitoring"
	"github.com/banshee-data/frontier.map/internal/timeutil"
)

// defaultMapFrame is used when the config leaves map_frame empty, since the
// synthetic sensor frame moves and cannot serve as the map frame.
const defaultMapFrame = "map"

// occupancyParams maps the config onto the evidence model.
func occupancyParams(cfg *config.MapperConfig) l3occupancy.Params {
	return l3occupancy.Params{
		Resolution:         cfg.GetResolution(),
		ProbHit:            cfg.GetProbHit(),
		ProbMiss:           cfg.GetProbMiss(),
		ClampMin:           cfg.GetClampMin(),
		ClampMax:           cfg.GetClampMax(),
		OccupancyThreshold: cfg.GetOccupancyThreshold(),
	}
}

func engineConfig(cfg *config.MapperConfig) l4update.Config {
	mapFrame := cfg.GetMapFrame()
	if mapFrame == "" {
		mapFrame = defaultMapFrame
	}
	return l4update.Config{
		MapFrame:             mapFrame,
		Stride:               cfg.GetPointSubsample(),
		MaxRange:             cfg.GetMaxRange(),
		MaxUpdateRate:        cfg.GetMaxUpdateRate(),
		PublishFilteredCloud: cfg.GetPublishFilteredCloud(),
		RayWorkers:           cfg.GetRayWorkers(),
	}
}

func mapperConfig(cfg *config.MapperConfig) (pipeline.MapperConfig, error) {
	mode, err := l5frontier.ParseNeighborMode(cfg.GetNeighborMode())
	if err != nil {
		return pipeline.MapperConfig{}, err
	}
	policy, err := l5frontier.ParseStalePolicy(cfg.GetStaleFrontierPolicy())
	if err != nil {
		return pipeline.MapperConfig{}, err
	}
	roi := cfg.GetROI()
	return pipeline.MapperConfig{
		ROI: l5frontier.Bounds{
			Min: r3.Vec{X: roi.Min[0], Y: roi.Min[1], Z: roi.Min[2]},
			Max: r3.Vec{X: roi.Max[0], Y: roi.Max[1], Z: roi.Max[2]},
		},
		NeighborMode: mode,
		StalePolicy:  policy,
		Spans:        monitoring.NewSpanStats(0),
	}, nil
}

// bodyMask builds the self-filter for the synthetic robot: a column
// under the sensor reaching down to the floor.
func bodyMask(cfg *config.MapperConfig, sensorOrigin r3.Vec) *l2cloud.BodyMask {
	m := l2cloud.NewBodyMask(cfg.GetPaddingOffset(), cfg.GetPaddingScale())
	m.AddBox(l2cloud.Box{
		Center:      r3.Vec{X: sensorOrigin.X, Y: sensorOrigin.Y, Z: sensorOrigin.Z / 2},
		HalfExtents: r3.Vec{X: 0.25, Y: 0.25, Z: sensorOrigin.Z / 2},
	})
	m.MinRange = 0.1
	return m
}

// core holds the mapping stack without any outer surfaces.
type core struct {
	engine   *l4update.Engine
	mapper   *pipeline.Mapper
	resolver *l2cloud.BufferResolver
	scanner  *l2cloud.SyntheticScanner
}

// buildCore wires maps, engine and mapper for cfg. Sinks are attached by
// the caller through extra.
func buildCore(cfg *config.MapperConfig, seed int64, clock timeutil.Clock, extra func(*pipeline.MapperConfig)) (*core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	params := occupancyParams(cfg)
	primary, err := l3occupancy.New(params, cfg.GetMaxVoxels())
	if err != nil {
		return nil, fmt.Errorf("primary map: %w", err)
	}
	frontier, err := l3occupancy.New(params, cfg.GetMaxVoxels())
	if err != nil {
		return nil, fmt.Errorf("frontier map: %w", err)
	}

	ecfg := engineConfig(cfg)
	scanner := l2cloud.NewSyntheticScanner("sensor", seed)
	resolver := l2cloud.NewBufferResolver(ecfg.MapFrame)

	var opts []l4update.Option
	if clock != nil {
		opts = append(opts, l4update.WithClock(clock))
	}
	engine, err := l4update.NewEngine(ecfg, primary, frontier, bodyMask(cfg, scanner.Origin), resolver, opts...)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	mcfg, err := mapperConfig(cfg)
	if err != nil {
		return nil, err
	}
	if extra != nil {
		extra(&mcfg)
	}
	mapper, err := pipeline.NewMapper(engine, mcfg)
	if err != nil {
		return nil, fmt.Errorf("mapper: %w", err)
	}
	return &core{engine: engine, mapper: mapper, resolver: resolver, scanner: scanner}, nil
}

// configJSON renders cfg for the run record.
func configJSON(cfg *config.MapperConfig) json.RawMessage {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	return b
}
