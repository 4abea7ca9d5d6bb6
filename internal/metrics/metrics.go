// Package metrics implements the statistical comparison functions
// between predicted and observed histograms: chi-square family and
// Poisson log-likelihood family, with finite-Monte-Carlo variants that
// account for the variance of the prediction itself.
package metrics

import (
	"errors"
	"fmt"
	"math"

	"github.com/caldera-data/oscillation.report/internal/hist"
	"github.com/caldera-data/oscillation.report/internal/params"
)

// ErrUnknownMetric reports a metric name outside Names().
var ErrUnknownMetric = errors.New("unknown metric")

// eps floors expectations so empty bins do not produce infinities.
const eps = 1e-10

const (
	Chi2     = "chi2"
	ModChi2  = "mod_chi2"
	LLH      = "llh"
	ConvLLH  = "conv_llh"
	MCLLHEff = "mcllh_eff"
	MCLLHIng = "mcllh_ing"
)

// Names lists the available metrics in display order.
func Names() []string {
	return []string{Chi2, ModChi2, LLH, ConvLLH, MCLLHEff, MCLLHIng}
}

// Valid reports whether name is an available metric.
func Valid(name string) bool {
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}

// IsLLH reports whether the metric is a log-likelihood (larger is
// better) rather than a chi-square (smaller is better).
func IsLLH(name string) bool {
	switch name {
	case LLH, ConvLLH, MCLLHEff, MCLLHIng:
		return true
	}
	return false
}

// binMetric evaluates one bin: expected value e, expectation variance v
// (from the prediction's summed squared weights), observed count o.
func binMetric(name string, e, v, o float64) (float64, error) {
	if e < eps {
		e = eps
	}
	switch name {
	case Chi2:
		d := e - o
		return d * d / e, nil
	case ModChi2:
		// Variance of the difference includes the statistical variance
		// of the finite-MC prediction.
		d := e - o
		return d * d / (v + e), nil
	case LLH:
		return poissonLLH(o, e), nil
	case ConvLLH:
		return convPoissonLLH(o, e, v), nil
	case MCLLHEff:
		return gammaPoissonLLH(o, e, v, 0), nil
	case MCLLHIng:
		// One extra pseudo-count in the gamma prior.
		return gammaPoissonLLH(o, e, v, 1), nil
	}
	return 0, fmt.Errorf("%w %q (have %v)", ErrUnknownMetric, name, Names())
}

// poissonLLH is the Poisson log-likelihood of observing o given mean e.
func poissonLLH(o, e float64) float64 {
	lg, _ := math.Lgamma(o + 1)
	return o*math.Log(e) - e - lg
}

// Gauss-Hermite nodes and weights (n=5) for integrals against exp(-x^2).
var (
	ghNodes   = []float64{-2.0201828704560856, -0.9585724646138185, 0, 0.9585724646138185, 2.0201828704560856}
	ghWeights = []float64{0.019953242059045913, 0.39361932315224116, 0.9453087204829419, 0.39361932315224116, 0.019953242059045913}
)

// convPoissonLLH marginalizes the Poisson mean over a normal density
// centered on the prediction e with variance v, integrating by
// Gauss-Hermite quadrature. With v -> 0 it reduces to poissonLLH.
func convPoissonLLH(o, e, v float64) float64 {
	if v <= 0 {
		return poissonLLH(o, e)
	}
	s := math.Sqrt(2 * v)
	max := math.Inf(-1)
	terms := make([]float64, len(ghNodes))
	for i, x := range ghNodes {
		lam := e + s*x
		if lam < eps {
			lam = eps
		}
		t := poissonLLH(o, lam) + math.Log(ghWeights[i]/math.SqrtPi)
		terms[i] = t
		if t > max {
			max = t
		}
	}
	sum := 0.0
	for _, t := range terms {
		sum += math.Exp(t - max)
	}
	return max + math.Log(sum)
}

// gammaPoissonLLH marginalizes the Poisson mean over a gamma density
// matched to the prediction's mean e and variance v, yielding the
// negative-binomial log-likelihood. shift adds pseudo-counts to the
// gamma shape, distinguishing the effective and generalized variants.
// With v -> 0 it approaches the pure Poisson log-likelihood.
func gammaPoissonLLH(o, e, v, shift float64) float64 {
	if v <= 0 {
		return poissonLLH(o, e)
	}
	beta := e / v
	alpha := e*beta + shift
	lgA, _ := math.Lgamma(alpha)
	lgOA, _ := math.Lgamma(o + alpha)
	lgO, _ := math.Lgamma(o + 1)
	return alpha*math.Log(beta) + lgOA - lgA - lgO - (o+alpha)*math.Log(1+beta)
}

// PointwiseMap returns the per-bin metric contributions between an
// expected and an observed map, as a map over the same binning.
func PointwiseMap(name string, expected, observed *hist.Map) (*hist.Map, error) {
	if !Valid(name) {
		return nil, fmt.Errorf("%w %q (have %v)", ErrUnknownMetric, name, Names())
	}
	if !expected.Binning.Compatible(observed.Binning) {
		return nil, fmt.Errorf("metric %s: expected map %q binning %s incompatible with observed %q binning %s",
			name, expected.Name, expected.Binning, observed.Name, observed.Binning)
	}
	out := hist.NewMap(expected.Name+"_"+name, expected.Binning)
	for i := range expected.Values {
		m, err := binMetric(name, expected.Values[i], expected.Sumw2[i], observed.Values[i])
		if err != nil {
			return nil, err
		}
		out.Values[i] = m
	}
	return out, nil
}

// TotalMap sums the point-wise metric over one map pair.
func TotalMap(name string, expected, observed *hist.Map) (float64, error) {
	pw, err := PointwiseMap(name, expected, observed)
	if err != nil {
		return 0, err
	}
	return pw.Total(), nil
}

// TotalMapSets sums the metric over matching map names across two sets.
// Every observed map must have an expected partner.
func TotalMapSets(name string, expected, observed *hist.MapSet) (float64, error) {
	total := 0.0
	for _, obs := range observed.Maps {
		exp, err := expected.Find(obs.Name)
		if err != nil {
			return 0, fmt.Errorf("metric %s: %w", name, err)
		}
		t, err := TotalMap(name, exp, obs)
		if err != nil {
			return 0, err
		}
		total += t
	}
	return total, nil
}

// PriorPenalty returns the prior penalty in the metric's convention:
// chi-square penalties for chi-square metrics, log-likelihood penalties
// for likelihood metrics.
func PriorPenalty(name string, ps *params.ParamSet) float64 {
	if IsLLH(name) {
		return ps.PriorLLH()
	}
	return ps.PriorChi2()
}

// Minimizable converts a total metric value to something a minimizer
// can descend: log-likelihoods flip sign.
func Minimizable(name string, total float64) float64 {
	if IsLLH(name) {
		return -total
	}
	return total
}
