// Package fit runs hypothesis fits: free model parameters are varied by
// a numerical minimizer until the chosen metric between the model's
// predicted distributions and the observed data (plus prior penalties)
// reaches a minimum. Quasi-degenerate theta23 octants can be fit
// separately, keeping the better minimum.
package fit

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/optimize"

	"github.com/caldera-data/oscillation.report/internal/hist"
	"github.com/caldera-data/oscillation.report/internal/metrics"
	"github.com/caldera-data/oscillation.report/internal/model"
	"github.com/caldera-data/oscillation.report/internal/monitoring"
	"github.com/caldera-data/oscillation.report/internal/params"
)

// octantPivot is the angle theta23 mirrors about when fitting octants
// separately.
const octantPivot = math.Pi / 4

// Observations holds the observed map set per detector name.
type Observations map[string]*hist.MapSet

// Result is the outcome of a hypothesis fit.
type Result struct {
	Metric string
	// BestFit holds the best-fit values of the free parameters under
	// combined-view naming.
	BestFit map[string]float64
	// MetricValue is the total metric at the best fit, in the metric's
	// own convention (including prior penalties).
	MetricValue float64
	// Minimized is the value the optimizer descended (llh metrics are
	// sign-flipped).
	Minimized      float64
	NumEvaluations int
	Converged      bool
	// OctantFlipped records whether the mirrored-octant fit won.
	OctantFlipped bool
	Duration      time.Duration
}

// Fitter runs fits with fixed minimizer settings.
type Fitter struct {
	Settings MinimizerSettings
}

// NewFitter validates the settings and builds a fitter.
func NewFitter(s MinimizerSettings) (*Fitter, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Fitter{Settings: s}, nil
}

// TotalMetric evaluates the metric between the model's current
// prediction and the data, summed over detectors, with prior penalties
// in the metric's convention.
func TotalMetric(ctx context.Context, m *model.DetectorModel, data Observations, metric string) (float64, error) {
	if !metrics.Valid(metric) {
		return 0, fmt.Errorf("%w %q (have %v)", metrics.ErrUnknownMetric, metric, metrics.Names())
	}
	outs, err := m.GetOutputs(ctx)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for name, obs := range data {
		exp, ok := outs[name]
		if !ok {
			return 0, fmt.Errorf("data names detector %q the model does not have", name)
		}
		t, err := metrics.TotalMapSets(metric, exp, obs)
		if err != nil {
			return 0, err
		}
		total += t
	}
	ps, err := m.CombinedParams()
	if err != nil {
		return 0, err
	}
	return total + metrics.PriorPenalty(metric, ps), nil
}

// freeSpec captures what the objective needs per free parameter.
type freeSpec struct {
	name   string
	lo, hi float64
}

// objective builds the function the minimizer descends. Proposals
// outside a parameter's range are clamped, with a quadratic penalty on
// the excursion so the minimizer is pushed back inside.
func (f *Fitter) objective(ctx context.Context, m *model.DetectorModel, data Observations,
	metric string, free []freeSpec, evals *int) func(x []float64) float64 {

	return func(x []float64) float64 {
		*evals++
		penalty := 0.0
		for i, spec := range free {
			v := x[i]
			if spec.hi > spec.lo {
				if v < spec.lo {
					d := (spec.lo - v) / (spec.hi - spec.lo)
					penalty += 1e6 * d * d
					v = spec.lo
				} else if v > spec.hi {
					d := (v - spec.hi) / (spec.hi - spec.lo)
					penalty += 1e6 * d * d
					v = spec.hi
				}
			}
			if err := m.SetValue(spec.name, v); err != nil {
				monitoring.Logf("fit: set %s=%v: %v", spec.name, v, err)
				return math.Inf(1)
			}
		}
		total, err := TotalMetric(ctx, m, data, metric)
		if err != nil {
			monitoring.Logf("fit: metric evaluation failed: %v", err)
			return math.Inf(1)
		}
		return metrics.Minimizable(metric, total) + penalty
	}
}

// freeSpecs extracts the free parameters from the model's combined view.
func freeSpecs(ps *params.ParamSet) []freeSpec {
	var free []freeSpec
	for _, p := range ps.Free() {
		free = append(free, freeSpec{name: p.Name, lo: p.Range[0], hi: p.Range[1]})
	}
	return free
}

// minimizeOnce runs a single minimization from the given start values.
func (f *Fitter) minimizeOnce(ctx context.Context, m *model.DetectorModel, data Observations,
	metric string, free []freeSpec, x0 []float64) (*optimize.Result, int, error) {

	evals := 0
	problem := optimize.Problem{
		Func: f.objective(ctx, m, data, metric, free, &evals),
	}
	settings := &optimize.Settings{
		MajorIterations: f.Settings.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   f.Settings.Tolerance,
			Iterations: 50,
		},
	}
	res, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil && res == nil {
		return nil, evals, fmt.Errorf("minimize: %w", err)
	}
	return res, evals, nil
}

// Fit runs the hypothesis fit. The model's current parameter values
// seed the minimizer; on return the model is left at the best fit.
func (f *Fitter) Fit(ctx context.Context, m *model.DetectorModel, data Observations,
	metric string, fitOctantsSeparately bool) (*Result, error) {

	if !metrics.Valid(metric) {
		return nil, fmt.Errorf("%w %q (have %v)", metrics.ErrUnknownMetric, metric, metrics.Names())
	}

	ps, err := m.CombinedParams()
	if err != nil {
		return nil, err
	}
	free := freeSpecs(ps)
	if len(free) == 0 {
		return nil, fmt.Errorf("fit: model has no free parameters")
	}

	x0 := make([]float64, len(free))
	for i, spec := range free {
		v, err := m.Value(spec.name)
		if err != nil {
			return nil, err
		}
		x0[i] = v
	}

	start := time.Now()
	monitoring.Logf("fit: %d free params, metric %s", len(free), metric)

	best, bestEvals, err := f.minimizeOnce(ctx, m, data, metric, free, x0)
	if err != nil {
		return nil, err
	}
	totalEvals := bestEvals
	flipped := false

	if fitOctantsSeparately {
		if ti := indexOf(free, "theta23"); ti >= 0 {
			// Mirror the best-fit theta23 into the other octant and
			// refit from there.
			x1 := make([]float64, len(best.X))
			copy(x1, best.X)
			mirrored := 2*octantPivot - x1[ti]
			spec := free[ti]
			if spec.hi > spec.lo {
				mirrored = math.Max(spec.lo, math.Min(spec.hi, mirrored))
			}
			x1[ti] = mirrored
			monitoring.Logf("fit: refitting with theta23 mirrored to %.4f", mirrored)

			other, otherEvals, err := f.minimizeOnce(ctx, m, data, metric, free, x1)
			totalEvals += otherEvals
			if err == nil && other.F < best.F {
				best = other
				flipped = true
			}
		}
	}

	// Leave the model at the winning minimum.
	bestFit := make(map[string]float64, len(free))
	for i, spec := range free {
		v := best.X[i]
		if spec.hi > spec.lo {
			v = math.Max(spec.lo, math.Min(spec.hi, v))
		}
		if err := m.SetValue(spec.name, v); err != nil {
			return nil, err
		}
		bestFit[spec.name] = v
	}
	metricValue, err := TotalMetric(ctx, m, data, metric)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Metric:         metric,
		BestFit:        bestFit,
		MetricValue:    metricValue,
		Minimized:      best.F,
		NumEvaluations: totalEvals,
		Converged:      best.Status == optimize.FunctionConvergence,
		OctantFlipped:  flipped,
		Duration:       time.Since(start),
	}
	monitoring.Logf("fit: done in %v, %d evaluations, %s = %.4f",
		res.Duration, res.NumEvaluations, metric, res.MetricValue)
	return res, nil
}

func indexOf(free []freeSpec, name string) int {
	for i, spec := range free {
		if spec.name == name {
			return i
		}
	}
	return -1
}

// Scan1D evaluates the metric along a grid of values for one parameter,
// leaving every other parameter untouched. The parameter is restored to
// its starting value afterwards.
func Scan1D(ctx context.Context, m *model.DetectorModel, data Observations,
	metric, param string, values []float64) ([]float64, error) {

	orig, err := m.Value(param)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		if err := m.SetValue(param, v); err != nil {
			return nil, err
		}
		t, err := TotalMetric(ctx, m, data, metric)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	if err := m.SetValue(param, orig); err != nil {
		return nil, err
	}
	return out, nil
}
