package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
	"github.com/banshee-data/frontier.map/internal/lidar/pipeline"
)

const (
	wsWriteWait   = 5 * time.Second
	wsReadWait    = 60 * time.Second
	wsClientQueue = 16
)

// FeedMessage is one frontier update sent over the websocket feed.
type FeedMessage struct {
	Seq          uint64                `json:"seq"`
	FrameID      string                `json:"frame_id"`
	MapFrame     string                `json:"map_frame"`
	Resolution   float64               `json:"resolution"`
	Status       pipeline.FrameStatus  `json:"status"`
	FrontierSize int                   `json:"frontier_size"`
	Added        int                   `json:"added"`
	Removed      int                   `json:"removed"`
	Keys         []l3occupancy.Key     `json:"keys,omitempty"`
	Timings      pipeline.StageTimings `json:"timings"`
}

// NewFeedMessage summarises u. Keys are included only when withKeys is set.
func NewFeedMessage(u *pipeline.FrontierUpdate, withKeys bool) FeedMessage {
	msg := FeedMessage{
		FrameID:      u.FrameID,
		MapFrame:     u.MapFrame,
		Resolution:   u.Resolution,
		FrontierSize: len(u.Frontier),
	}
	if r := u.Report; r != nil {
		msg.Seq = r.Seq
		msg.Status = r.Status
		msg.Added = r.Added
		msg.Removed = r.Removed
		msg.Timings = r.Timings
	}
	if withKeys {
		msg.Keys = u.Frontier
	}
	return msg
}

// Hub fans frontier updates out to websocket clients. A client whose
// queue is full misses the message.
type Hub struct {
	upgrader   websocket.Upgrader
	maxClients int

	mu      sync.Mutex
	clients map[*wsClient]struct{}

	dropped atomic.Uint64
}

type wsClient struct {
	out chan []byte
}

// NewHub creates a hub accepting up to maxClients connections.
func NewHub(maxClients int) *Hub {
	if maxClients <= 0 {
		maxClients = 16
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		maxClients: maxClients,
		clients:    make(map[*wsClient]struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns the number of messages skipped for slow clients.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Broadcast encodes msg once and queues it for every client.
func (h *Hub) Broadcast(msg FeedMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.out <- b:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

func (h *Hub) register() *wsClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= h.maxClients {
		return nil
	}
	c := &wsClient{out: make(chan []byte, wsClientQueue)}
	h.clients[c] = struct{}{}
	return c
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams feed messages until the
// client goes away. Incoming messages are read and discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		opsf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	c := h.register()
	if c == nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"),
			time.Now().Add(time.Second))
		return
	}
	defer h.unregister(c)
	diagf("websocket client connected from %s", r.RemoteAddr)

	done := make(chan struct{})
	writeErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-done:
				return
			case b := <-c.out:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
		}
	}()

	readErr := make(chan error, 1)
	go func() {
		for {
			_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	select {
	case err := <-writeErr:
		diagf("websocket write: %v", err)
	case err := <-readErr:
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			diagf("websocket read: %v", err)
		}
	}
	close(done)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second))
}
