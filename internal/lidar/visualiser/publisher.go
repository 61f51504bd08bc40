// Package visualiser provides gRPC streaming of frontier data to external
// viewers.
//
// It implements the publication side of the mapper:
// - Marker sets for the persistent frontier (BuildMarkers)
// - Compact binary maps, optionally zstd-compressed (EncodeMap)
// - A gRPC publisher that fans updates out to streaming clients
package visualiser

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/grpc"

	"github.com/banshee-data/frontier.map/internal/lidar/pipeline"
)

// Config holds configuration for the frontier gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int

	// CompressMap zstd-compresses binary map payloads
	CompressMap bool

	// ClientBuffer is the per-client marker queue; full queues drop updates
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		MaxClients:   5,
		CompressMap:  true,
		ClientBuffer: 10,
	}
}

// CloudMessage holds the accepted external points of one frame, in the
// sensor frame.
type CloudMessage struct {
	Seq     uint64
	FrameID string
	Stamp   time.Time
	Points  []r3.Vec
}

// Publisher implements pipeline.PublishSink. It keeps the latest map,
// marker set and filtered cloud, and streams marker sets to clients.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	frameChan chan *MarkerSet
	clients   map[string]*clientStream
	clientsMu sync.RWMutex
	nextID    atomic.Uint64

	latestMap     atomic.Pointer[MapMessage]
	latestMarkers atomic.Pointer[MarkerSet]
	latestCloud   atomic.Pointer[CloudMessage]

	// Stats
	frameCount    atomic.Uint64
	clientCount   atomic.Int32
	droppedFrames atomic.Uint64
	mapBytes      atomic.Uint64

	// Lifecycle
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

var _ pipeline.PublishSink = (*Publisher)(nil)

// clientStream represents a connected streaming client.
type clientStream struct {
	id      string
	frameCh chan *MarkerSet
}

// NewPublisher creates a new Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	return &Publisher{
		config:    cfg,
		frameChan: make(chan *MarkerSet, 100),
		clients:   make(map[string]*clientStream),
		stopCh:    make(chan struct{}),
	}
}

// Start listens on the configured address and serves the gRPC service.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves the gRPC service on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("publisher already running")
	}
	p.listener = lis

	// Dense maps exceed the 4MB default.
	const maxMsgSize = 16 * 1024 * 1024
	p.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterService(p.server, NewServer(p))

	p.wg.Add(1)
	go p.broadcastLoop()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		diagf("gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			opsf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully stops the gRPC server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)

	// Streams block until their context ends, so GracefulStop would wait
	// forever on connected viewers.
	if p.server != nil {
		p.server.Stop()
	}
	if p.listener != nil {
		p.listener.Close()
	}

	p.wg.Wait()
	diagf("gRPC server stopped")
}

// Publish records the update as the latest state and queues its marker
// set for streaming clients. It never blocks.
func (p *Publisher) Publish(u *pipeline.FrontierUpdate) error {
	if u == nil {
		return errors.New("nil update")
	}
	markers := BuildMarkers(u)
	p.latestMarkers.Store(markers)

	if u.FilteredCloud != nil {
		p.latestCloud.Store(&CloudMessage{
			Seq:     markers.Seq,
			FrameID: u.FrameID,
			Stamp:   u.Stamp,
			Points:  u.FilteredCloud,
		})
	}

	var mapErr error
	if u.Map != nil {
		payload, voxels, err := EncodeMap(u.Map, p.config.CompressMap)
		if err != nil {
			mapErr = err
		} else {
			p.latestMap.Store(&MapMessage{
				Seq:        markers.Seq,
				Frame:      MapHeaderFrame,
				Stamp:      u.Stamp,
				Voxels:     voxels,
				Compressed: p.config.CompressMap,
				Payload:    payload,
			})
			p.mapBytes.Store(uint64(len(payload)))
			tracef("map for %s: %d voxels in %d bytes", u.FrameID, voxels, len(payload))
		}
	}

	count := p.frameCount.Add(1)
	if p.running.Load() {
		select {
		case p.frameChan <- markers:
		default:
			dropped := p.droppedFrames.Add(1)
			opsf("DROPPED marker set %d (total dropped: %d), channel full", count, dropped)
		}
	}
	return mapErr
}

// broadcastLoop distributes marker sets to all connected clients.
func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case ms := <-p.frameChan:
			p.clientsMu.RLock()
			for _, client := range p.clients {
				select {
				case client.frameCh <- ms:
				default:
					// Client is slow, drop the update for this client.
					p.droppedFrames.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

// addClient registers a new streaming client, or returns nil when the
// client limit is reached.
func (p *Publisher) addClient() *clientStream {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return nil
	}
	client := &clientStream{
		id:      fmt.Sprintf("grpc-%d", p.nextID.Add(1)),
		frameCh: make(chan *MarkerSet, p.config.ClientBuffer),
	}
	p.clients[client.id] = client
	n := p.clientCount.Add(1)
	diagf("client connected: %s (total: %d)", client.id, n)
	return client
}

// removeClient unregisters a streaming client.
func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; ok {
		delete(p.clients, id)
		n := p.clientCount.Add(-1)
		diagf("client disconnected: %s (remaining: %d)", id, n)
	}
}

// LatestMap returns the most recently encoded map, or nil.
func (p *Publisher) LatestMap() *MapMessage { return p.latestMap.Load() }

// LatestMarkers returns the most recent marker set, or nil.
func (p *Publisher) LatestMarkers() *MarkerSet { return p.latestMarkers.Load() }

// LatestCloud returns the most recent filtered cloud, or nil.
func (p *Publisher) LatestCloud() *CloudMessage { return p.latestCloud.Load() }

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		FrameCount:    p.frameCount.Load(),
		ClientCount:   p.clientCount.Load(),
		DroppedFrames: p.droppedFrames.Load(),
		MapBytes:      p.mapBytes.Load(),
		Running:       p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	FrameCount    uint64 `json:"frame_count"`
	ClientCount   int32  `json:"client_count"`
	DroppedFrames uint64 `json:"dropped_frames"`
	MapBytes      uint64 `json:"map_bytes"`
	Running       bool   `json:"running"`
}

// GRPCServer returns the underlying gRPC server, or nil before Serve.
func (p *Publisher) GRPCServer() *grpc.Server {
	return p.server
}
