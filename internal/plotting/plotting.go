// Package plotting renders binned distributions and scan curves to PNG
// files using gonum/plot.
package plotting

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/caldera-data/oscillation.report/internal/hist"
)

// HeatmapOptions controls how a 2D map is drawn.
type HeatmapOptions struct {
	Title  string
	XLabel string
	YLabel string

	// Symmetric centres the colour scale on zero using a diverging
	// palette, so positive and negative deviations get equal weight.
	// Used for difference and pull maps.
	Symmetric bool
}

// mapGrid adapts a 2D hist.Map to plotter.GridXYZ. The first binning
// dimension runs along X, the second along Y.
type mapGrid struct {
	m *hist.Map
}

func (g mapGrid) Dims() (int, int) {
	return g.m.Binning.Dims[0].NBins(), g.m.Binning.Dims[1].NBins()
}

func (g mapGrid) Z(c, r int) float64 {
	return g.m.Values[c*g.m.Binning.Dims[1].NBins()+r]
}

func (g mapGrid) X(c int) float64 { return g.m.Binning.Dims[0].Midpoints()[c] }
func (g mapGrid) Y(r int) float64 { return g.m.Binning.Dims[1].Midpoints()[r] }

// heatmapPlot builds the plot without saving it, so grids can reuse it.
func heatmapPlot(m *hist.Map, opts HeatmapOptions) (*plot.Plot, error) {
	if len(m.Binning.Dims) != 2 {
		return nil, fmt.Errorf("heatmap needs a 2D binning, map %q has %d dimensions", m.Name, len(m.Binning.Dims))
	}

	grid := mapGrid{m: m}

	var hm *plotter.HeatMap
	if opts.Symmetric {
		hm = plotter.NewHeatMap(grid, moreland.SmoothBlueRed().Palette(255))
		amax := 0.0
		for _, v := range m.Values {
			if a := math.Abs(v); a > amax {
				amax = a
			}
		}
		if amax == 0 {
			amax = 1
		}
		hm.Min = -amax
		hm.Max = amax
	} else {
		hm = plotter.NewHeatMap(grid, palette.Heat(64, 255))
	}

	p := plot.New()
	p.Title.Text = opts.Title
	if p.Title.Text == "" {
		p.Title.Text = m.Name
	}
	p.X.Label.Text = opts.XLabel
	if p.X.Label.Text == "" {
		p.X.Label.Text = m.Binning.Dims[0].Label()
	}
	p.Y.Label.Text = opts.YLabel
	if p.Y.Label.Text == "" {
		p.Y.Label.Text = m.Binning.Dims[1].Label()
	}
	if m.Binning.Dims[0].IsLog {
		p.X.Scale = plot.LogScale{}
		p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	}
	p.Add(hm)
	return p, nil
}

// SaveHeatmap writes a 2D map as a PNG heatmap.
func SaveHeatmap(m *hist.Map, opts HeatmapOptions, path string) error {
	p, err := heatmapPlot(m, opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := p.Save(7*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save heatmap %q: %w", m.Name, err)
	}
	return nil
}

// SaveMapSetGrid tiles every map in the set into a single PNG, cols
// heatmaps per row.
func SaveMapSetGrid(ms *hist.MapSet, cols int, opts HeatmapOptions, path string) error {
	if len(ms.Maps) == 0 {
		return fmt.Errorf("map set %q is empty", ms.Name)
	}
	if cols < 1 {
		cols = 1
	}
	rows := (len(ms.Maps) + cols - 1) / cols

	plots := make([][]*plot.Plot, rows)
	for i := range plots {
		plots[i] = make([]*plot.Plot, cols)
	}
	for i, m := range ms.Maps {
		o := opts
		o.Title = m.Name
		p, err := heatmapPlot(m, o)
		if err != nil {
			return err
		}
		plots[i/cols][i%cols] = p
	}

	img := vgimg.New(vg.Length(cols)*6*vg.Inch, vg.Length(rows)*4.5*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: rows,
		Cols: cols,
		PadX: vg.Millimeter * 2,
		PadY: vg.Millimeter * 2,
	}
	canvases := plot.Align(plots, tiles, dc)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if plots[i][j] != nil {
				plots[i][j].Draw(canvases[i][j])
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	w, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer w.Close()
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("write grid png: %w", err)
	}
	return nil
}

// SaveScan draws a 1D parameter scan as a line with point markers.
func SaveScan(param, metric string, values, results []float64, path string) error {
	if len(values) != len(results) {
		return fmt.Errorf("scan of %q: %d values but %d results", param, len(values), len(results))
	}
	if len(values) == 0 {
		return fmt.Errorf("scan of %q has no points", param)
	}

	pts := make(plotter.XYs, len(values))
	for i := range values {
		pts[i] = plotter.XY{X: values[i], Y: results[i]}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s scan", param)
	p.X.Label.Text = param
	p.Y.Label.Text = metric

	line, scatter, err := plotter.NewLinePoints(pts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line, scatter)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := p.Save(7*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save scan plot: %w", err)
	}
	return nil
}
