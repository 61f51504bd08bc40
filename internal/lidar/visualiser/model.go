// Package visualiser provides gRPC streaming of frontier data.
// This file defines the marker and map messages that drive all outputs.
package visualiser

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
	"github.com/banshee-data/frontier.map/internal/lidar/pipeline"
)

// MarkerNamespace groups frontier cell markers for consumers.
const MarkerNamespace = "frontier_cells"

// MapHeaderFrame is the frame id stamped on published binary maps.
const MapHeaderFrame = "world"

// MarkerShape is the primitive drawn for a marker.
type MarkerShape string

const ShapeCube MarkerShape = "cube"

// Color is an RGBA colour with components in [0,1].
type Color struct {
	R, G, B, A float32
}

// FrontierColor is the colour of frontier cells (cyan).
var FrontierColor = Color{R: 0, G: 1, B: 1, A: 1}

// Marker is one drawable frontier cell.
type Marker struct {
	ID       int
	Shape    MarkerShape
	Position r3.Vec // voxel centre, map frame
	Scale    float64
	Color    Color
}

// MarkerSet replaces every marker previously published in Namespace.
// Clear is set when the set is empty so consumers drop the prior cells.
type MarkerSet struct {
	Seq       uint64
	FrameID   string // source frame
	MapFrame  string
	Stamp     time.Time
	Namespace string
	Clear     bool
	Markers   []Marker
}

// MapMessage is a binary frontier map ready for transmission.
type MapMessage struct {
	Seq        uint64
	Frame      string
	Stamp      time.Time
	Voxels     int
	Compressed bool
	Payload    []byte
}

// BuildMarkers converts the frontier of u into a marker set: one cyan cube
// per frontier voxel at its centre, sized to the map resolution, with ids
// numbered from zero in key order.
func BuildMarkers(u *pipeline.FrontierUpdate) *MarkerSet {
	ms := &MarkerSet{
		FrameID:   u.FrameID,
		MapFrame:  u.MapFrame,
		Stamp:     u.Stamp,
		Namespace: MarkerNamespace,
		Clear:     len(u.Frontier) == 0,
	}
	if u.Report != nil {
		ms.Seq = u.Report.Seq
	}
	if ms.Clear {
		return ms
	}
	ms.Markers = make([]Marker, len(u.Frontier))
	for i, k := range u.Frontier {
		ms.Markers[i] = Marker{
			ID:       i,
			Shape:    ShapeCube,
			Position: l3occupancy.KeyToCoord(k, u.Resolution),
			Scale:    u.Resolution,
			Color:    FrontierColor,
		}
	}
	return ms
}
