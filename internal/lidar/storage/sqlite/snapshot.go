package sqlite

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
)

// keyRecord is x, y, z as little-endian int32.
const keyRecord = 12

var (
	snapshotEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	snapshotDecoder, _ = zstd.NewReader(nil)
)

// Snapshot is a stored frontier set.
type Snapshot struct {
	RunID     string
	Seq       uint64
	Keys      []l3occupancy.Key
	CreatedAt int64
}

func encodeKeys(keys []l3occupancy.Key) []byte {
	raw := make([]byte, 0, keyRecord*len(keys))
	for _, k := range keys {
		raw = binary.LittleEndian.AppendUint32(raw, uint32(k.X))
		raw = binary.LittleEndian.AppendUint32(raw, uint32(k.Y))
		raw = binary.LittleEndian.AppendUint32(raw, uint32(k.Z))
	}
	return snapshotEncoder.EncodeAll(raw, nil)
}

func decodeKeys(blob []byte) ([]l3occupancy.Key, error) {
	raw, err := snapshotDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	if len(raw)%keyRecord != 0 {
		return nil, fmt.Errorf("snapshot length %d is not a multiple of %d", len(raw), keyRecord)
	}
	keys := make([]l3occupancy.Key, len(raw)/keyRecord)
	for i := range keys {
		b := raw[i*keyRecord:]
		keys[i] = l3occupancy.Key{
			X: int32(binary.LittleEndian.Uint32(b[0:])),
			Y: int32(binary.LittleEndian.Uint32(b[4:])),
			Z: int32(binary.LittleEndian.Uint32(b[8:])),
		}
	}
	return keys, nil
}

// InsertSnapshot stores the frontier set at seq.
func (s *RunStore) InsertSnapshot(runID string, seq uint64, keys []l3occupancy.Key) error {
	blob := encodeKeys(keys)
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT OR REPLACE INTO frontier_snapshots (run_id, seq, voxel_count, keys_zstd, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			runID, seq, len(keys), blob, time.Now().UnixNano(),
		)
		return err
	})
}

// LatestSnapshot returns the highest-sequence snapshot of a run, or nil if
// the run has none.
func (s *RunStore) LatestSnapshot(runID string) (*Snapshot, error) {
	snap := &Snapshot{RunID: runID}
	var blob []byte
	err := s.db.QueryRow(`
		SELECT seq, keys_zstd, created_at FROM frontier_snapshots
		WHERE run_id = ? ORDER BY seq DESC LIMIT 1`, runID,
	).Scan(&snap.Seq, &blob, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if snap.Keys, err = decodeKeys(blob); err != nil {
		return nil, err
	}
	return snap, nil
}
