// Package reco implements the reconstruction stage: true-binned event
// counts migrate into the reco binning through Gaussian resolution
// kernels. Energy resolution is fractional, cos-zenith resolution is
// absolute; events smeared outside the reco range are lost, not
// renormalized away.
package reco

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/caldera-data/oscillation.report/internal/binning"
	"github.com/caldera-data/oscillation.report/internal/hist"
	"github.com/caldera-data/oscillation.report/internal/params"
	"github.com/caldera-data/oscillation.report/internal/stage"
)

var expected = []string{"energy_res", "coszen_res"}

// Stage migrates maps from the true to the reco binning.
type Stage struct {
	params *params.ParamSet
	trueB  *binning.MultiDimBinning
	recoB  *binning.MultiDimBinning
}

// New validates parameters and the two binnings. The true binning must
// carry true_energy/true_coszen, the reco binning the reco_* pair.
func New(ps *params.ParamSet, trueB, recoB *binning.MultiDimBinning) (*Stage, error) {
	if err := stage.CheckParams("reco", ps, expected); err != nil {
		return nil, err
	}
	for _, name := range []string{"true_energy", "true_coszen"} {
		if !trueB.HasDimension(name) {
			return nil, fmt.Errorf("stage reco: true binning %s lacks dimension %q", trueB, name)
		}
	}
	for _, name := range []string{"reco_energy", "reco_coszen"} {
		if !recoB.HasDimension(name) {
			return nil, fmt.Errorf("stage reco: reco binning %s lacks dimension %q", recoB, name)
		}
	}
	return &Stage{params: ps, trueB: trueB, recoB: recoB}, nil
}

// Name implements Stage.
func (s *Stage) Name() string { return "reco" }

// ExpectedParams implements Stage.
func (s *Stage) ExpectedParams() []string { return expected }

// kernel returns the migration weights from one true value into every
// bin of the reco dimension, using a Gaussian of width sigma.
func kernel(trueVal, sigma float64, recoDim binning.Dimension) []float64 {
	w := make([]float64, recoDim.NBins())
	if sigma <= 0 {
		// Degenerate resolution: all weight in the containing bin.
		if i := recoDim.Find(trueVal); i >= 0 {
			w[i] = 1
		}
		return w
	}
	n := distuv.Normal{Mu: trueVal, Sigma: sigma}
	for i := range w {
		w[i] = n.CDF(recoDim.Edges[i+1]) - n.CDF(recoDim.Edges[i])
	}
	return w
}

// Apply migrates every input map into the reco binning.
func (s *Stage) Apply(ctx context.Context, input *hist.MapSet) (*hist.MapSet, error) {
	if input == nil {
		return nil, fmt.Errorf("stage reco: needs true-binned input maps")
	}
	if err := stage.Cancelled(ctx, "reco"); err != nil {
		return nil, err
	}

	eRes, _ := s.params.Value("energy_res")
	czRes, _ := s.params.Value("coszen_res")

	tE, _ := s.trueB.Dimension("true_energy")
	tCZ, _ := s.trueB.Dimension("true_coszen")
	rE, _ := s.recoB.Dimension("reco_energy")
	rCZ, _ := s.recoB.Dimension("reco_coszen")

	tEAxis := axisIndex(s.trueB, "true_energy")
	tCZAxis := axisIndex(s.trueB, "true_coszen")
	rEAxis := axisIndex(s.recoB, "reco_energy")
	rCZAxis := axisIndex(s.recoB, "reco_coszen")

	// Separable kernels: one energy row per true-energy bin, one
	// coszen row per true-coszen bin.
	eMids := tE.Midpoints()
	czMids := tCZ.Midpoints()
	eKernels := make([][]float64, len(eMids))
	for i, m := range eMids {
		eKernels[i] = kernel(m, eRes*m, rE)
	}
	czKernels := make([][]float64, len(czMids))
	for i, m := range czMids {
		czKernels[i] = kernel(m, czRes, rCZ)
	}

	var maps []*hist.Map
	for _, in := range input.Maps {
		if !in.Binning.Compatible(s.trueB) {
			return nil, fmt.Errorf("stage reco: input map %q binning %s does not match true binning %s",
				in.Name, in.Binning, s.trueB)
		}
		out := hist.NewMap(in.Name, s.recoB)
		recoIdx := make([]int, len(s.recoB.Dims))
		for flat, v := range in.Values {
			if v == 0 && in.Sumw2[flat] == 0 {
				continue
			}
			idx := s.trueB.Unravel(flat)
			ek := eKernels[idx[tEAxis]]
			czk := czKernels[idx[tCZAxis]]
			for ei, ew := range ek {
				if ew == 0 {
					continue
				}
				for czi, czw := range czk {
					w := ew * czw
					if w == 0 {
						continue
					}
					recoIdx[rEAxis] = ei
					recoIdx[rCZAxis] = czi
					rflat, err := s.recoB.FlatIndex(recoIdx)
					if err != nil {
						return nil, fmt.Errorf("stage reco: %w", err)
					}
					out.Values[rflat] += w * v
					out.Sumw2[rflat] += w * w * in.Sumw2[flat]
				}
			}
		}
		maps = append(maps, out)
	}
	return hist.NewMapSet("reco", maps...)
}

func axisIndex(b *binning.MultiDimBinning, name string) int {
	for i, d := range b.Dims {
		if d.Name == name {
			return i
		}
	}
	return -1
}
