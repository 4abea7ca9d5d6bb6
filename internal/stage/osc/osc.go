// Package osc implements three-flavour vacuum neutrino oscillations
// applied across the true binning. Probabilities come from the full
// PMNS matrix; baselines from the zenith-angle chord through the Earth.
package osc

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/caldera-data/oscillation.report/internal/binning"
	"github.com/caldera-data/oscillation.report/internal/hist"
	"github.com/caldera-data/oscillation.report/internal/params"
	"github.com/caldera-data/oscillation.report/internal/stage"
)

const (
	earthRadiusKm      = 6371.0
	productionHeightKm = 15.0
	// oscArgCoeff converts dm2 [eV^2] * L [km] / E [GeV] to the
	// dimensionless oscillation phase: 1.267 = Gf-independent constant
	// from natural-unit conversion.
	oscArgCoeff = 1.267
)

var expected = []string{"theta12", "theta13", "theta23", "deltacp", "deltam21", "deltam31"}

// Flavour indices in PMNS order.
const (
	flavE = iota
	flavMu
	flavTau
)

var flavourNames = []string{"nue", "numu", "nutau"}

// Stage mixes true-binned flux maps into oscillated flavour maps.
type Stage struct {
	params  *params.ParamSet
	binning *binning.MultiDimBinning
}

// New validates the parameter set and binning and builds the stage.
func New(ps *params.ParamSet, b *binning.MultiDimBinning) (*Stage, error) {
	if err := stage.CheckParams("osc", ps, expected); err != nil {
		return nil, err
	}
	for _, name := range []string{"true_energy", "true_coszen"} {
		if !b.HasDimension(name) {
			return nil, fmt.Errorf("stage osc: binning %s lacks dimension %q", b, name)
		}
	}
	return &Stage{params: ps, binning: b}, nil
}

// Name implements Stage.
func (s *Stage) Name() string { return "osc" }

// ExpectedParams implements Stage.
func (s *Stage) ExpectedParams() []string { return expected }

// pmns builds the PMNS mixing matrix. Antineutrinos flip the sign of
// the CP phase.
func pmns(th12, th13, th23, dcp float64, antineutrino bool) [3][3]complex128 {
	if antineutrino {
		dcp = -dcp
	}
	s12, c12 := math.Sin(th12), math.Cos(th12)
	s13, c13 := math.Sin(th13), math.Cos(th13)
	s23, c23 := math.Sin(th23), math.Cos(th23)
	eid := cmplx.Exp(complex(0, dcp))
	emid := cmplx.Exp(complex(0, -dcp))

	var u [3][3]complex128
	u[flavE][0] = complex(c12*c13, 0)
	u[flavE][1] = complex(s12*c13, 0)
	u[flavE][2] = complex(s13, 0) * emid
	u[flavMu][0] = complex(-s12*c23, 0) - complex(c12*s23*s13, 0)*eid
	u[flavMu][1] = complex(c12*c23, 0) - complex(s12*s23*s13, 0)*eid
	u[flavMu][2] = complex(s23*c13, 0)
	u[flavTau][0] = complex(s12*s23, 0) - complex(c12*c23*s13, 0)*eid
	u[flavTau][1] = complex(-c12*s23, 0) - complex(s12*c23*s13, 0)*eid
	u[flavTau][2] = complex(c23*c13, 0)
	return u
}

// probabilities returns P(alpha -> beta) for all flavour pairs at the
// given baseline and energy.
func probabilities(u [3][3]complex128, dm21, dm31, lKm, eGeV float64) [3][3]float64 {
	dm32 := dm31 - dm21
	// dm2[i][j] for i > j
	dm2 := [3][3]float64{}
	dm2[1][0] = dm21
	dm2[2][0] = dm31
	dm2[2][1] = dm32

	var p [3][3]float64
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			prob := 0.0
			if a == b {
				prob = 1.0
			}
			for i := 1; i < 3; i++ {
				for j := 0; j < i; j++ {
					q := cmplx.Conj(u[a][i]) * u[b][i] * u[a][j] * cmplx.Conj(u[b][j])
					arg := oscArgCoeff * dm2[i][j] * lKm / eGeV
					sin2 := math.Sin(arg)
					prob += -4*real(q)*sin2*sin2 + 2*imag(q)*math.Sin(2*arg)
				}
			}
			p[a][b] = prob
		}
	}
	return p
}

// Baseline returns the propagation length in km for a zenith cosine,
// using a straight chord from the production height to the detector.
// coszen = -1 is up-going (through the full Earth), +1 is down-going
// (production height only).
func Baseline(coszen float64) float64 {
	r := earthRadiusKm
	h := productionHeightKm
	return math.Sqrt((r+h)*(r+h)-r*r*(1-coszen*coszen)) - r*coszen
}

// Probability exposes a single oscillation probability for tests and
// scans: flavours are indices into {nue, numu, nutau}.
func (s *Stage) Probability(from, to int, antineutrino bool, eGeV, coszen float64) float64 {
	th12, _ := s.params.Value("theta12")
	th13, _ := s.params.Value("theta13")
	th23, _ := s.params.Value("theta23")
	dcp, _ := s.params.Value("deltacp")
	dm21, _ := s.params.Value("deltam21")
	dm31, _ := s.params.Value("deltam31")
	u := pmns(th12, th13, th23, dcp, antineutrino)
	p := probabilities(u, dm21, dm31, Baseline(coszen), eGeV)
	return p[from][to]
}

// Apply mixes the incoming per-flavour maps. Input maps must be named
// nue, numu (and the bar variants); absent input flavours contribute
// nothing. Outputs cover all three flavours per matter state.
func (s *Stage) Apply(ctx context.Context, input *hist.MapSet) (*hist.MapSet, error) {
	if input == nil {
		return nil, fmt.Errorf("stage osc: needs flux input maps")
	}

	th12, _ := s.params.Value("theta12")
	th13, _ := s.params.Value("theta13")
	th23, _ := s.params.Value("theta23")
	dcp, _ := s.params.Value("deltacp")
	dm21, _ := s.params.Value("deltam21")
	dm31, _ := s.params.Value("deltam31")

	eDim, _ := s.binning.Dimension("true_energy")
	czDim, _ := s.binning.Dimension("true_coszen")
	eAxis := axisIndex(s.binning, "true_energy")
	czAxis := axisIndex(s.binning, "true_coszen")
	eMids := eDim.Midpoints()
	czMids := czDim.Midpoints()

	var allOut []*hist.Map
	for _, anti := range []bool{false, true} {
		suffix := ""
		if anti {
			suffix = "bar"
		}

		// Gather whichever input flavours exist for this matter state.
		inputs := make([]*hist.Map, 3)
		for f, name := range flavourNames {
			if m, err := input.Find(name + suffix); err == nil {
				if !m.Binning.Compatible(s.binning) {
					return nil, fmt.Errorf("stage osc: input map %q binning %s does not match stage binning %s",
						m.Name, m.Binning, s.binning)
				}
				inputs[f] = m
			}
		}

		u := pmns(th12, th13, th23, dcp, anti)

		outs := make([]*hist.Map, 3)
		for f, name := range flavourNames {
			outs[f] = hist.NewMap(name+suffix, s.binning)
		}

		if err := stage.Cancelled(ctx, "osc"); err != nil {
			return nil, err
		}

		// One probability matrix per (energy, coszen) cell, reused for
		// every flavour pair.
		for flat := 0; flat < s.binning.Size(); flat++ {
			idx := s.binning.Unravel(flat)
			e := eMids[idx[eAxis]]
			l := Baseline(czMids[idx[czAxis]])
			p := probabilities(u, dm21, dm31, l, e)
			for from := 0; from < 3; from++ {
				in := inputs[from]
				if in == nil {
					continue
				}
				v := in.Values[flat]
				w2 := in.Sumw2[flat]
				for to := 0; to < 3; to++ {
					outs[to].Values[flat] += p[from][to] * v
					outs[to].Sumw2[flat] += p[from][to] * p[from][to] * w2
				}
			}
		}

		allOut = append(allOut, outs...)
	}

	return hist.NewMapSet("osc", allOut...)
}

func axisIndex(b *binning.MultiDimBinning, name string) int {
	for i, d := range b.Dims {
		if d.Name == name {
			return i
		}
	}
	return -1
}
