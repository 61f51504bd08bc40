package visualiser

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:50061", cfg.ListenAddr)
	assert.Equal(t, 5, cfg.MaxClients)
	assert.True(t, cfg.CompressMap)
}

func TestPublisher_PublishWhileStopped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompressMap = false
	pub := NewPublisher(cfg)

	require.NoError(t, pub.Publish(makeUpdate(t, 2, l3occupancy.Key{X: 1})))

	stats := pub.Stats()
	assert.False(t, stats.Running)
	assert.Equal(t, uint64(1), stats.FrameCount)
	assert.Zero(t, stats.DroppedFrames)

	m := pub.LatestMap()
	require.NotNil(t, m)
	assert.Equal(t, MapHeaderFrame, m.Frame)
	assert.False(t, m.Compressed)
	assert.Equal(t, 1, m.Voxels)
	assert.Equal(t, uint64(len(m.Payload)), stats.MapBytes)

	require.NotNil(t, pub.LatestMarkers())
	assert.Nil(t, pub.LatestCloud(), "no filtered cloud unless the update carries one")
}

func TestPublisher_PublishNil(t *testing.T) {
	pub := NewPublisher(DefaultConfig())
	assert.Error(t, pub.Publish(nil))
}

func TestPublisher_SlowClientDrops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClientBuffer = 1
	pub := NewPublisher(cfg)
	client := pub.addClient()
	require.NotNil(t, client)

	// Drive the broadcast loop by hand.
	pub.wg.Add(1)
	go pub.broadcastLoop()
	pub.running.Store(true)
	defer func() {
		pub.running.Store(false)
		close(pub.stopCh)
		pub.wg.Wait()
	}()

	for i := 1; i <= 5; i++ {
		require.NoError(t, pub.Publish(makeUpdate(t, uint64(i))))
	}
	require.Eventually(t, func() bool {
		return len(pub.frameChan) == 0 && pub.Stats().DroppedFrames == 4
	}, time.Second, 5*time.Millisecond)

	ms := <-client.frameCh
	assert.Equal(t, uint64(1), ms.Seq)
}

func TestPublisher_ServeTwice(t *testing.T) {
	pub := NewPublisher(DefaultConfig())
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, pub.Serve(lis))
	defer pub.Stop()

	assert.Error(t, pub.Serve(lis))
	assert.True(t, pub.Stats().Running)
	assert.NotNil(t, pub.GRPCServer())
}
