package monitor

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/frontier.map/internal/lidar/l3occupancy"
	"github.com/banshee-data/frontier.map/internal/lidar/pipeline"
)

// ErrEmptyFrontier is returned when there is nothing to plot.
var ErrEmptyFrontier = errors.New("frontier is empty")

var (
	frontierColor = color.RGBA{R: 0, G: 180, B: 200, A: 255}
	sizeColor     = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	changedColor  = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

// frontierPlot builds a top-down scatter of frontier voxel centres.
func frontierPlot(state FrontierState) (*plot.Plot, error) {
	if len(state.Keys) == 0 {
		return nil, ErrEmptyFrontier
	}
	pts := make(plotter.XYs, len(state.Keys))
	for i, k := range state.Keys {
		c := l3occupancy.KeyToCoord(k, state.Resolution)
		pts[i] = plotter.XY{X: c.X, Y: c.Y}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Frontier seq=%d (%d cells)", state.Seq, len(state.Keys))
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	sc.GlyphStyle.Color = frontierColor
	sc.GlyphStyle.Shape = draw.BoxGlyph{}
	sc.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(sc)
	return p, nil
}

// historyPlot builds frontier size and changed voxel lines over frames.
func historyPlot(reports []pipeline.FrameReport) (*plot.Plot, error) {
	if len(reports) == 0 {
		return nil, errors.New("no frames to plot")
	}
	sizePts := make(plotter.XYs, len(reports))
	changedPts := make(plotter.XYs, len(reports))
	for i, r := range reports {
		sizePts[i] = plotter.XY{X: float64(r.Seq), Y: float64(r.FrontierSize)}
		changedPts[i] = plotter.XY{X: float64(r.Seq), Y: float64(r.Changed)}
	}

	p := plot.New()
	p.Title.Text = "Frontier over frames"
	p.X.Label.Text = "seq"
	p.Y.Label.Text = "voxels"

	sizeLine, err := plotter.NewLine(sizePts)
	if err != nil {
		return nil, err
	}
	sizeLine.Color = sizeColor
	sizeLine.Width = vg.Points(1)
	p.Add(sizeLine)
	p.Legend.Add("frontier", sizeLine)

	changedLine, err := plotter.NewLine(changedPts)
	if err != nil {
		return nil, err
	}
	changedLine.Color = changedColor
	changedLine.Width = vg.Points(1)
	p.Add(changedLine)
	p.Legend.Add("changed", changedLine)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WriteFrontierPNG renders the frontier as a size x size PNG.
func WriteFrontierPNG(w io.Writer, state FrontierState, size vg.Length) error {
	p, err := frontierPlot(state)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(size, size, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePlots writes frontier.png and history.png for the current history
// into dir, creating it if needed.
func SavePlots(h *FrameHistory, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}
	fp, err := frontierPlot(h.Frontier())
	if err != nil {
		return err
	}
	if err := fp.Save(8*vg.Inch, 8*vg.Inch, filepath.Join(dir, "frontier.png")); err != nil {
		return fmt.Errorf("save frontier plot: %w", err)
	}
	hp, err := historyPlot(h.Recent())
	if err != nil {
		return err
	}
	if err := hp.Save(14*vg.Inch, 6*vg.Inch, filepath.Join(dir, "history.png")); err != nil {
		return fmt.Errorf("save history plot: %w", err)
	}
	diagf("saved frontier plots to %s", dir)
	return nil
}

// handleFrontierPNG serves the top-down frontier plot.
// Query params:
//   - size (optional; inches, default 8)
func (ws *WebServer) handleFrontierPNG(w http.ResponseWriter, r *http.Request) {
	size := 8 * vg.Inch
	if s := r.URL.Query().Get("size"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 2 && v <= 20 {
			size = vg.Length(v) * vg.Inch
		}
	}
	p, err := frontierPlot(ws.history.Frontier())
	if errors.Is(err, ErrEmptyFrontier) {
		ws.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	wt, err := p.WriterTo(size, size, "png")
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		opsf("write frontier png: %v", err)
	}
}
