package monitor

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
	"github.com/banshee-data/frontier.map/internal/lidar/pipeline"
	sqlite "github.com/banshee-data/frontier.map/internal/lidar/storage/sqlite"
	"github.com/banshee-data/frontier.map/internal/lidar/visualiser"
	"github.com/banshee-data/frontier.map/internal/monitoring"
)

//go:embed status.html
var StatusHTML embed.FS

// MapperStatus is the part of pipeline.Mapper the monitor reads.
type MapperStatus interface {
	Stats() pipeline.MapperStats
	Spans() *monitoring.SpanStats
}

// PublisherStatus is the part of visualiser.Publisher the monitor reads.
type PublisherStatus interface {
	Stats() visualiser.PublisherStats
}

// RunReader is the part of sqlite.RunStore the monitor reads.
type RunReader interface {
	GetRun(runID string) (*sqlite.Run, error)
	ListRuns(limit int) ([]*sqlite.Run, error)
	ListFrames(runID string) ([]*sqlite.FrameRow, error)
}

// WebServer serves mapper status, frontier debug charts and a live
// websocket feed. It is a pipeline.PublishSink: every published update is
// recorded in its history and broadcast to feed clients.
type WebServer struct {
	address   string
	server    *http.Server
	history   *FrameHistory
	hub       *Hub
	mapper    MapperStatus
	publisher PublisherStatus
	runs      RunReader
	runID     string
	feedKeys  bool
	tmpl      *template.Template
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address   string
	Mapper    MapperStatus
	Publisher PublisherStatus
	Runs      RunReader
	RunID     string

	// History is the number of frame reports kept for charts.
	History int
	// MaxFeedClients bounds concurrent websocket connections.
	MaxFeedClients int
	// FeedKeys includes frontier keys in websocket messages.
	FeedKeys bool
}

var _ pipeline.PublishSink = (*WebServer)(nil)

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	tmpl, err := template.ParseFS(StatusHTML, "status.html")
	if err != nil {
		return nil, fmt.Errorf("parse status template: %w", err)
	}
	ws := &WebServer{
		address:   config.Address,
		history:   NewFrameHistory(config.History),
		hub:       NewHub(config.MaxFeedClients),
		mapper:    config.Mapper,
		publisher: config.Publisher,
		runs:      config.Runs,
		runID:     config.RunID,
		feedKeys:  config.FeedKeys,
		tmpl:      tmpl,
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.setupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws, nil
}

// Publish implements pipeline.PublishSink.
func (ws *WebServer) Publish(u *pipeline.FrontierUpdate) error {
	if u == nil {
		return nil
	}
	ws.history.Add(u)
	return ws.hub.Broadcast(NewFeedMessage(u, ws.feedKeys))
}

// History returns the server's frame history.
func (ws *WebServer) History() *FrameHistory { return ws.history }

// Hub returns the websocket hub.
func (ws *WebServer) Hub() *Hub { return ws.hub }

// Handler returns the server's routes.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		opsf("encode response: %v", err)
	}
}

// Start serves until ctx is cancelled, then shuts down.
func (ws *WebServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", ws.address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", ws.address, err)
	}
	return ws.Serve(ctx, lis)
}

// Serve is Start on an existing listener.
func (ws *WebServer) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		opsf("HTTP monitor listening on %s", lis.Addr())
		if err := ws.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http monitor: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	diagf("shutting down HTTP monitor")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		opsf("HTTP monitor shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			opsf("HTTP monitor force close error: %v", err)
		}
	}
	return nil
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/status", ws.handleAPIStatus)
	mux.HandleFunc("/api/frames", ws.handleFrames)
	mux.HandleFunc("/api/frontier", ws.handleFrontier)
	mux.HandleFunc("/api/runs", ws.handleRuns)
	mux.HandleFunc("/debug/frontier/chart", ws.handleFrontierChart)
	mux.HandleFunc("/debug/frontier/scatter", ws.handleFrontierScatter)
	mux.HandleFunc("/debug/frontier.png", ws.handleFrontierPNG)
	mux.Handle("/ws", ws.hub)

	return mux
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "frontier-mapper", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

// StatusSnapshot is the body of /api/status.
type StatusSnapshot struct {
	RunID        string                     `json:"run_id,omitempty"`
	Uptime       string                     `json:"uptime"`
	Frames       int                        `json:"frames_in_history"`
	FrontierSize int                        `json:"frontier_size"`
	FrontierSeq  uint64                     `json:"frontier_seq"`
	MapFrame     string                     `json:"map_frame,omitempty"`
	Mapper       *pipeline.MapperStats      `json:"mapper,omitempty"`
	Stages       []monitoring.StageSummary  `json:"stages,omitempty"`
	Publisher    *visualiser.PublisherStats `json:"publisher,omitempty"`
	FeedClients  int                        `json:"feed_clients"`
	FeedDropped  uint64                     `json:"feed_dropped"`
}

func (ws *WebServer) snapshot() StatusSnapshot {
	f := ws.history.Frontier()
	s := StatusSnapshot{
		RunID:        ws.runID,
		Uptime:       ws.history.Uptime().Round(time.Second).String(),
		Frames:       ws.history.Len(),
		FrontierSize: len(f.Keys),
		FrontierSeq:  f.Seq,
		MapFrame:     f.MapFrame,
		FeedClients:  ws.hub.Clients(),
		FeedDropped:  ws.hub.Dropped(),
	}
	if ws.mapper != nil {
		st := ws.mapper.Stats()
		s.Mapper = &st
		if spans := ws.mapper.Spans(); spans != nil {
			s.Stages = spans.Summary()
		}
	}
	if ws.publisher != nil {
		ps := ws.publisher.Stats()
		s.Publisher = &ps
	}
	return s
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	if err := ws.tmpl.Execute(w, ws.snapshot()); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
	}
}

func (ws *WebServer) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, ws.snapshot())
}

// handleFrames returns recent frame reports, oldest first.
// Query params:
//
//	limit (optional, default all held)
func (ws *WebServer) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	reports := ws.history.Recent()
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit <= 0 {
			ws.writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		if limit < len(reports) {
			reports = reports[len(reports)-limit:]
		}
	}
	writeJSON(w, http.StatusOK, reports)
}

type frontierResponse struct {
	Seq        uint64            `json:"seq"`
	FrameID    string            `json:"frame_id"`
	MapFrame   string            `json:"map_frame"`
	Resolution float64           `json:"resolution"`
	Count      int               `json:"count"`
	Keys       []l3occupancy.Key `json:"keys"`
	Centres    [][3]float64      `json:"centres,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// handleFrontier returns the latest frontier.
// Query params:
//
//	centres (optional; "true" adds voxel centre coordinates)
func (ws *WebServer) handleFrontier(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	f := ws.history.Frontier()
	resp := frontierResponse{
		Seq:        f.Seq,
		FrameID:    f.FrameID,
		MapFrame:   f.MapFrame,
		Resolution: f.Resolution,
		Count:      len(f.Keys),
		Keys:       f.Keys,
		UpdatedAt:  f.UpdatedAt,
	}
	if resp.Keys == nil {
		resp.Keys = []l3occupancy.Key{}
	}
	if r.URL.Query().Get("centres") == "true" {
		resp.Centres = make([][3]float64, len(f.Keys))
		for i, k := range f.Keys {
			c := l3occupancy.KeyToCoord(k, f.Resolution)
			resp.Centres[i] = [3]float64{c.X, c.Y, c.Z}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRuns lists recorded runs, or one run's frames when run_id is set.
// Query params:
//
//	run_id (optional)
//	limit (optional, default 50)
func (ws *WebServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.runs == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}

	if runID := r.URL.Query().Get("run_id"); runID != "" {
		run, err := ws.runs.GetRun(runID)
		if errors.Is(err, sqlite.ErrRunNotFound) {
			ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("run '%s' not found", runID))
			return
		}
		if err != nil {
			ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		frames, err := ws.runs.ListFrames(runID)
		if err != nil {
			ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"run": run, "frames": frames})
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v <= 0 || v > 1000 {
			ws.writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		limit = v
	}
	runs, err := ws.runs.ListRuns(limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*sqlite.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}
