package monitor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
	"github.com/banshee-data/frontier.map/internal/lidar/pipeline"
	sqlite "github.com/banshee-data/frontier.map/internal/lidar/storage/sqlite"
	"github.com/banshee-data/frontier.map/internal/lidar/visualiser"
	"github.com/banshee-data/frontier.map/internal/monitoring"
)

type fakeMapper struct {
	stats pipeline.MapperStats
	spans *monitoring.SpanStats
}

func (m *fakeMapper) Stats() pipeline.MapperStats  { return m.stats }
func (m *fakeMapper) Spans() *monitoring.SpanStats { return m.spans }

type fakePublisher struct{ stats visualiser.PublisherStats }

func (p *fakePublisher) Stats() visualiser.PublisherStats { return p.stats }

func newTestServer(t *testing.T, cfg WebServerConfig) *WebServer {
	t.Helper()
	ws, err := NewWebServer(cfg)
	require.NoError(t, err)
	return ws
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestWebServer_Health(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{Address: ":0"})
	w := get(t, ws.Handler(), "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "frontier-mapper", body["service"])
}

func TestWebServer_StatusPage(t *testing.T) {
	spans := monitoring.NewSpanStats(8)
	spans.Observe(pipeline.StageUpdate, 3*time.Millisecond)
	ws := newTestServer(t, WebServerConfig{
		RunID:     "run-1",
		Mapper:    &fakeMapper{stats: pipeline.MapperStats{Received: 7, Processed: 6}, spans: spans},
		Publisher: &fakePublisher{stats: visualiser.PublisherStats{FrameCount: 6, Running: true}},
	})
	require.NoError(t, ws.Publish(update(1, l3occupancy.Key{X: 1}, l3occupancy.Key{X: 2})))

	w := get(t, ws.Handler(), "/")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Frontier Mapper")
	assert.Contains(t, body, "run-1")
	assert.Contains(t, body, pipeline.StageUpdate)
	assert.Contains(t, body, "gRPC publisher")

	w = get(t, ws.Handler(), "/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebServer_APIStatus(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{
		Mapper: &fakeMapper{stats: pipeline.MapperStats{Received: 3, Processed: 2, RateLimited: 1}},
	})
	require.NoError(t, ws.Publish(update(2, l3occupancy.Key{X: 4})))

	w := get(t, ws.Handler(), "/api/status")
	require.Equal(t, http.StatusOK, w.Code)
	var s StatusSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, 1, s.FrontierSize)
	assert.Equal(t, uint64(2), s.FrontierSeq)
	assert.Equal(t, "map", s.MapFrame)
	require.NotNil(t, s.Mapper)
	assert.Equal(t, uint64(1), s.Mapper.RateLimited)
	assert.Nil(t, s.Publisher)
	assert.Empty(t, s.Stages, "nil spans are omitted")

	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebServer_Frames(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{History: 10})
	for seq := uint64(1); seq <= 4; seq++ {
		require.NoError(t, ws.Publish(update(seq)))
	}
	require.NoError(t, ws.Publish(nil))

	w := get(t, ws.Handler(), "/api/frames?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	var reports []pipeline.FrameReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reports))
	require.Len(t, reports, 2)
	assert.Equal(t, uint64(3), reports[0].Seq)
	assert.Equal(t, uint64(4), reports[1].Seq)

	w = get(t, ws.Handler(), "/api/frames?limit=zero")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebServer_Frontier(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{})

	w := get(t, ws.Handler(), "/api/frontier")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"keys":[]`)

	require.NoError(t, ws.Publish(update(5, l3occupancy.Key{X: 0, Y: -1, Z: 2})))
	w = get(t, ws.Handler(), "/api/frontier?centres=true")
	require.Equal(t, http.StatusOK, w.Code)

	var resp frontierResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, []l3occupancy.Key{{X: 0, Y: -1, Z: 2}}, resp.Keys)
	require.Len(t, resp.Centres, 1)
	assert.InDeltaSlice(t, []float64{0.05, -0.05, 0.25}, resp.Centres[0][:], 1e-9)
}

func TestWebServer_Runs(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{})
	w := get(t, ws.Handler(), "/api/runs")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := sqlite.NewRunStore(db.DB)
	run := &sqlite.Run{MapFrame: "map"}
	require.NoError(t, store.StartRun(run))
	require.NoError(t, store.InsertFrame(run.RunID, update(1, l3occupancy.Key{X: 1}).Report))

	ws = newTestServer(t, WebServerConfig{Runs: store, RunID: run.RunID})

	w = get(t, ws.Handler(), "/api/runs")
	require.Equal(t, http.StatusOK, w.Code)
	var runs []sqlite.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.RunID, runs[0].RunID)
	assert.Equal(t, 1, runs[0].FrameCount)

	w = get(t, ws.Handler(), "/api/runs?run_id="+run.RunID)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Run    sqlite.Run        `json:"run"`
		Frames []sqlite.FrameRow `json:"frames"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	require.Len(t, detail.Frames, 1)
	assert.Equal(t, pipeline.StatusProcessed, detail.Frames[0].Status)

	w = get(t, ws.Handler(), "/api/runs?run_id=missing")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(t, ws.Handler(), "/api/runs?limit=-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebServer_Charts(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{})

	for _, path := range []string{"/debug/frontier/chart", "/debug/frontier/scatter", "/debug/frontier.png"} {
		w := get(t, ws.Handler(), path)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, ws.Publish(update(seq,
			l3occupancy.Key{X: 1, Y: 2, Z: 0},
			l3occupancy.Key{X: 3, Y: -2, Z: 4},
		)))
	}

	w := get(t, ws.Handler(), "/debug/frontier/chart")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, w.Body.String(), "echarts")
	assert.Contains(t, w.Body.String(), echartsAssetsPrefix)

	w = get(t, ws.Handler(), "/debug/frontier/scatter?max_points=500")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Frontier cells")

	w = get(t, ws.Handler(), "/debug/frontier.png?size=3")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "\x89PNG"))
}

func TestWebServer_ServeShutdown(t *testing.T) {
	ws := newTestServer(t, WebServerConfig{Address: "127.0.0.1:0"})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Serve(ctx, lis) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + lis.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
