// Package visualiser provides gRPC streaming of frontier data.
// This file contains the binary map codec and the structpb marker encoding.
package visualiser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/types/known/structpb"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// bufPool reduces allocations for map encoding, which runs every frame.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// encoder is shared; EncodeAll is safe for concurrent use.
var encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))

// EncodeMap serialises m under its read lock. With compress set the
// payload is a zstd frame around the plain encoding.
func EncodeMap(m *l3occupancy.OccupancyMap, compress bool) ([]byte, int, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	var voxels int
	err := m.WithRead(func(v l3occupancy.View) error {
		voxels = v.Len()
		return v.WriteBinary(buf)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("encode map: %w", err)
	}
	if compress {
		return encoder.EncodeAll(buf.Bytes(), nil), voxels, nil
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, voxels, nil
}

// DecodeMap reverses EncodeMap, detecting compression from the payload.
func DecodeMap(data []byte) (*l3occupancy.DecodedMap, error) {
	var r io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(data, zstdMagic) {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	}
	return l3occupancy.ReadBinary(r)
}

// markerSetToStruct converts a marker set for the StreamFrontier RPC.
func markerSetToStruct(ms *MarkerSet) (*structpb.Struct, error) {
	markers := make([]interface{}, len(ms.Markers))
	for i, m := range ms.Markers {
		markers[i] = map[string]interface{}{
			"id":       float64(m.ID),
			"shape":    string(m.Shape),
			"position": []interface{}{m.Position.X, m.Position.Y, m.Position.Z},
			"scale":    m.Scale,
			"color":    []interface{}{float64(m.Color.R), float64(m.Color.G), float64(m.Color.B), float64(m.Color.A)},
		}
	}
	return structpb.NewStruct(map[string]interface{}{
		"seq":       float64(ms.Seq),
		"frame_id":  ms.FrameID,
		"map_frame": ms.MapFrame,
		"stamp":     ms.Stamp.UTC().Format(time.RFC3339Nano),
		"namespace": ms.Namespace,
		"clear":     ms.Clear,
		"markers":   markers,
	})
}

// MarkerSetFromStruct decodes a StreamFrontier message.
func MarkerSetFromStruct(s *structpb.Struct) (*MarkerSet, error) {
	if s == nil {
		return nil, errors.New("nil marker message")
	}
	f := s.GetFields()
	stamp, err := time.Parse(time.RFC3339Nano, f["stamp"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("marker stamp: %w", err)
	}
	ms := &MarkerSet{
		Seq:       uint64(f["seq"].GetNumberValue()),
		FrameID:   f["frame_id"].GetStringValue(),
		MapFrame:  f["map_frame"].GetStringValue(),
		Stamp:     stamp,
		Namespace: f["namespace"].GetStringValue(),
		Clear:     f["clear"].GetBoolValue(),
	}
	for i, v := range f["markers"].GetListValue().GetValues() {
		mf := v.GetStructValue().GetFields()
		pos := mf["position"].GetListValue().GetValues()
		col := mf["color"].GetListValue().GetValues()
		if len(pos) != 3 || len(col) != 4 {
			return nil, fmt.Errorf("marker %d: malformed position or color", i)
		}
		ms.Markers = append(ms.Markers, Marker{
			ID:       int(mf["id"].GetNumberValue()),
			Shape:    MarkerShape(mf["shape"].GetStringValue()),
			Position: r3.Vec{X: pos[0].GetNumberValue(), Y: pos[1].GetNumberValue(), Z: pos[2].GetNumberValue()},
			Scale:    mf["scale"].GetNumberValue(),
			Color: Color{
				R: float32(col[0].GetNumberValue()),
				G: float32(col[1].GetNumberValue()),
				B: float32(col[2].GetNumberValue()),
				A: float32(col[3].GetNumberValue()),
			},
		})
	}
	return ms, nil
}
