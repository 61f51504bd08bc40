package l3occupancy

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
)

// Binary layout (little-endian):
//
//	magic   [4]byte "FMAP"
//	version uint8
//	res     float64
//	count   uint32
//	count × { x, y, z int32; state uint8 }
//
// Voxels are written in CompareKeys order so that equal maps encode to
// equal bytes. Only the free/occupied state is kept, not the evidence.
const (
	codecVersion = 1
	voxelRecord  = 13
	// maxPrealloc bounds the map capacity reserved from a header count.
	maxPrealloc  = 1 << 16
)

var codecMagic = [4]byte{'F', 'M', 'A', 'P'}

// ErrBadEncoding is returned when decoding malformed input.
var ErrBadEncoding = errors.New("malformed binary map")

// WriteBinary encodes every known voxel and its state. Callers hold at
// least the read lock via WithRead.
func (v View) WriteBinary(w io.Writer) error {
	keys := make([]Key, 0, len(v.m.nodes))
	for k := range v.m.nodes {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, CompareKeys)

	bw := bufio.NewWriter(w)
	header := make([]byte, 0, 17)
	header = append(header, codecMagic[:]...)
	header = append(header, codecVersion)
	header = binary.LittleEndian.AppendUint64(header, math.Float64bits(v.m.params.Resolution))
	header = binary.LittleEndian.AppendUint32(header, uint32(len(keys)))
	if _, err := bw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	var rec [voxelRecord]byte
	for _, k := range keys {
		binary.LittleEndian.PutUint32(rec[0:], uint32(k.X))
		binary.LittleEndian.PutUint32(rec[4:], uint32(k.Y))
		binary.LittleEndian.PutUint32(rec[8:], uint32(k.Z))
		rec[12] = byte(v.State(k))
		if _, err := bw.Write(rec[:]); err != nil {
			return fmt.Errorf("write voxel %v: %w", k, err)
		}
	}
	return bw.Flush()
}

// DecodedMap is the content of a binary map.
type DecodedMap struct {
	Resolution float64
	Voxels     map[Key]State
}

// ReadBinary decodes the output of WriteBinary.
func ReadBinary(r io.Reader) (*DecodedMap, error) {
	var header [17]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrBadEncoding, err)
	}
	if [4]byte(header[0:4]) != codecMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadEncoding, header[0:4])
	}
	if header[4] != codecVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadEncoding, header[4])
	}
	out := &DecodedMap{
		Resolution: math.Float64frombits(binary.LittleEndian.Uint64(header[5:13])),
	}
	count := binary.LittleEndian.Uint32(header[13:17])
	// The header count is untrusted; the map grows as records arrive.
	out.Voxels = make(map[Key]State, min(count, maxPrealloc))

	br := bufio.NewReader(r)
	var rec [voxelRecord]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(br, rec[:]); err != nil {
			return nil, fmt.Errorf("%w: voxel %d of %d: %v", ErrBadEncoding, i, count, err)
		}
		k := Key{
			X: int32(binary.LittleEndian.Uint32(rec[0:])),
			Y: int32(binary.LittleEndian.Uint32(rec[4:])),
			Z: int32(binary.LittleEndian.Uint32(rec[8:])),
		}
		s := State(rec[12])
		if s != Free && s != Occupied {
			return nil, fmt.Errorf("%w: voxel %v has state %d", ErrBadEncoding, k, rec[12])
		}
		out.Voxels[k] = s
	}
	return out, nil
}
