// Package report renders fit results as self-contained HTML pages with
// go-echarts: observed and predicted heatmaps per detector, signed pull
// maps, and the best-fit parameter table.
package report

import (
	"fmt"
	"html"
	"io"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/caldera-data/oscillation.report/internal/fitstore"
	"github.com/caldera-data/oscillation.report/internal/hist"
)

const eps = 1e-10

// viridis-like palette shared by all heatmaps.
var heatColors = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// divergent palette for signed pull maps.
var pullColors = []string{"#2166ac", "#67a9cf", "#d1e5f0", "#f7f7f7", "#fddbc7", "#ef8a62", "#b2182b"}

// MapHeatmap builds an echarts heatmap of a 2D map. Symmetric centres
// the colour range on zero.
func MapHeatmap(m *hist.Map, title string, symmetric bool) (*charts.HeatMap, error) {
	if len(m.Binning.Dims) != 2 {
		return nil, fmt.Errorf("heatmap needs a 2D binning, map %q has %d dimensions", m.Name, len(m.Binning.Dims))
	}
	xDim, yDim := m.Binning.Dims[0], m.Binning.Dims[1]
	nx, ny := xDim.NBins(), yDim.NBins()

	xLabels := make([]string, nx)
	for i, mid := range xDim.Midpoints() {
		xLabels[i] = fmt.Sprintf("%.3g", mid)
	}
	yLabels := make([]string, ny)
	for j, mid := range yDim.Midpoints() {
		yLabels[j] = fmt.Sprintf("%.3g", mid)
	}

	data := make([]opts.HeatMapData, 0, nx*ny)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			v := m.Values[i*ny+j]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
			data = append(data, opts.HeatMapData{Value: [3]interface{}{i, j, v}})
		}
	}

	colors := heatColors
	if symmetric {
		amax := math.Max(math.Abs(lo), math.Abs(hi))
		if amax == 0 {
			amax = 1
		}
		lo, hi = -amax, amax
		colors = pullColors
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "600px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: xDim.Label(), NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: yLabels, Name: yDim.Label(), NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			InRange:    &opts.VisualMapInRange{Color: colors},
		}),
	)
	hm.SetXAxis(xLabels).AddSeries("counts", data)
	return hm, nil
}

// pullMap builds the signed per-bin pull (obs - exp) / sqrt(exp).
func pullMap(observed, expected *hist.Map) (*hist.Map, error) {
	p := expected.Clone()
	p.Name = expected.Name + "_pull"
	if len(observed.Values) != len(expected.Values) {
		return nil, fmt.Errorf("pull map %q: shape mismatch", expected.Name)
	}
	for i := range p.Values {
		e := expected.Values[i]
		if e < eps {
			e = eps
		}
		p.Values[i] = (observed.Values[i] - expected.Values[i]) / math.Sqrt(e)
		p.Sumw2[i] = 0
	}
	return p, nil
}

// RenderComparison writes an HTML page comparing observed and predicted
// distributions for one detector, one row of heatmaps per channel.
func RenderComparison(w io.Writer, detector string, observed, expected *hist.MapSet) error {
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("%s: observed vs predicted", detector)

	for _, obs := range observed.Maps {
		exp, err := expected.Find(obs.Name)
		if err != nil {
			return fmt.Errorf("detector %q: %w", detector, err)
		}
		obsChart, err := MapHeatmap(obs, fmt.Sprintf("%s %s observed", detector, obs.Name), false)
		if err != nil {
			return err
		}
		expChart, err := MapHeatmap(exp, fmt.Sprintf("%s %s predicted", detector, exp.Name), false)
		if err != nil {
			return err
		}
		pull, err := pullMap(obs, exp)
		if err != nil {
			return err
		}
		pullChart, err := MapHeatmap(pull, fmt.Sprintf("%s %s pull", detector, obs.Name), true)
		if err != nil {
			return err
		}
		page.AddCharts(obsChart, expChart, pullChart)
	}
	return page.Render(w)
}

const fitRunHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Fit run %[1]s</title>
<style>
body { font-family: sans-serif; margin: 2em; background: #fafafa; }
table { border-collapse: collapse; margin-top: 1em; }
th, td { border: 1px solid #ccc; padding: 0.4em 0.8em; text-align: left; }
th { background: #eee; }
</style>
</head>
<body>
<h1>Fit run %[1]s</h1>
<p>model=%[2]s metric=%[3]s value=%.6g converged=%[5]t octant_flipped=%[6]t evaluations=%[7]d duration=%[8]dms</p>
<table>
<tr><th>Parameter</th><th>Best fit</th></tr>
%[9]s</table>
</body>
</html>
`

// RenderFitRun writes a stored fit run as an HTML summary page.
func RenderFitRun(w io.Writer, run fitstore.FitRun) error {
	names := make([]string, 0, len(run.BestFit))
	for name := range run.BestFit {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := ""
	for _, name := range names {
		rows += fmt.Sprintf("<tr><td>%s</td><td>%.6g</td></tr>\n", html.EscapeString(name), run.BestFit[name])
	}

	doc := fmt.Sprintf(fitRunHTML,
		html.EscapeString(run.RunID),
		html.EscapeString(run.Model),
		html.EscapeString(run.Metric),
		run.MetricValue,
		run.Converged,
		run.OctantFlipped,
		run.NumEvaluations,
		run.DurationMs,
		rows,
	)
	_, err := io.WriteString(w, doc)
	return err
}
