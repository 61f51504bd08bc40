package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
)

// echartsAssetsPrefix is where rendered pages load echarts.min.js from.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleFrontierChart renders frontier size, changed voxels and candidates
// against frame sequence for the frames still held in history.
func (ws *WebServer) handleFrontierChart(w http.ResponseWriter, r *http.Request) {
	reports := ws.history.Recent()
	if len(reports) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no frames processed yet")
		return
	}

	x := make([]string, 0, len(reports))
	size := make([]opts.LineData, 0, len(reports))
	changed := make([]opts.LineData, 0, len(reports))
	candidates := make([]opts.LineData, 0, len(reports))
	totalMs := make([]opts.LineData, 0, len(reports))
	for _, rep := range reports {
		x = append(x, strconv.FormatUint(rep.Seq, 10))
		size = append(size, opts.LineData{Value: rep.FrontierSize})
		changed = append(changed, opts.LineData{Value: rep.Changed})
		candidates = append(candidates, opts.LineData{Value: rep.Candidates})
		totalMs = append(totalMs, opts.LineData{Value: float64(rep.Timings.Total().Microseconds()) / 1000})
	}
	last := reports[len(reports)-1]

	counts := charts.NewLine()
	counts.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Frontier", Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Frontier", Subtitle: fmt.Sprintf("frames=%d last seq=%d size=%d", len(reports), last.Seq, last.FrontierSize)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "seq", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "voxels"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	counts.SetXAxis(x).
		AddSeries("frontier", size).
		AddSeries("changed", changed).
		AddSeries("candidates", candidates)

	timing := charts.NewLine()
	timing.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Frame time (ms)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	timing.SetXAxis(x).AddSeries("total", totalMs)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(counts, timing)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleFrontierScatter renders the current frontier seen from above, one
// point per voxel centre coloured by height.
// Query params:
//   - max_points (optional; default 8000) to reduce payload size
func (ws *WebServer) handleFrontierScatter(w http.ResponseWriter, r *http.Request) {
	state := ws.history.Frontier()
	if len(state.Keys) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "frontier is empty")
		return
	}

	maxPoints := 8000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}
	stride := 1
	if len(state.Keys) > maxPoints {
		stride = int(math.Ceil(float64(len(state.Keys)) / float64(maxPoints)))
	}

	data := make([]opts.ScatterData, 0, len(state.Keys)/stride+1)
	zMin, zMax := math.Inf(1), math.Inf(-1)
	for i := 0; i < len(state.Keys); i += stride {
		c := l3occupancy.KeyToCoord(state.Keys[i], state.Resolution)
		zMin = math.Min(zMin, c.Z)
		zMax = math.Max(zMax, c.Z)
		data = append(data, opts.ScatterData{Value: []interface{}{c.X, c.Y, c.Z}})
	}
	if zMax <= zMin {
		zMax = zMin + state.Resolution
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Frontier (top-down)", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Frontier cells", Subtitle: fmt.Sprintf("frame=%s seq=%d points=%d stride=%d", state.MapFrame, state.Seq, len(data), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(zMin),
			Max:        float32(zMax),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#313695", "#4575b4", "#74add1", "#abd9e9", "#e0f3f8", "#fee090", "#fdae61", "#f46d43", "#d73027"}},
		}),
	)
	scatter.AddSeries("frontier", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
