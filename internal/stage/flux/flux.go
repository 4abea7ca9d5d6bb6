// Package flux implements the source stage: a parametric atmospheric
// neutrino flux integrated over the true binning, producing one map per
// initial flavour.
package flux

import (
	"context"
	"fmt"
	"math"

	"github.com/caldera-data/oscillation.report/internal/binning"
	"github.com/caldera-data/oscillation.report/internal/hist"
	"github.com/caldera-data/oscillation.report/internal/params"
	"github.com/caldera-data/oscillation.report/internal/stage"
)

// baselineIndex is the unmodified atmospheric spectral index; the
// delta_index parameter shifts around it.
const baselineIndex = 2.7

// Stage produces true-binned flux maps for nue, nuebar, numu, numubar.
type Stage struct {
	params  *params.ParamSet
	binning *binning.MultiDimBinning
}

var expected = []string{"flux_norm", "delta_index", "nue_numu_ratio", "nu_nubar_ratio"}

// New validates the parameter set and builds the stage. The binning
// must carry true_energy and true_coszen dimensions.
func New(ps *params.ParamSet, b *binning.MultiDimBinning) (*Stage, error) {
	if err := stage.CheckParams("flux", ps, expected); err != nil {
		return nil, err
	}
	if err := requireDims(b); err != nil {
		return nil, err
	}
	return &Stage{params: ps, binning: b}, nil
}

func requireDims(b *binning.MultiDimBinning) error {
	for _, name := range []string{"true_energy", "true_coszen"} {
		if !b.HasDimension(name) {
			return fmt.Errorf("stage flux: binning %s lacks dimension %q", b, name)
		}
	}
	return nil
}

// Name implements Stage.
func (s *Stage) Name() string { return "flux" }

// ExpectedParams implements Stage.
func (s *Stage) ExpectedParams() []string { return expected }

// Apply produces the flux maps. Input must be nil: flux is a source.
func (s *Stage) Apply(ctx context.Context, input *hist.MapSet) (*hist.MapSet, error) {
	if err := stage.Cancelled(ctx, "flux"); err != nil {
		return nil, err
	}

	norm, _ := s.params.Value("flux_norm")
	dIdx, _ := s.params.Value("delta_index")
	nueRatio, _ := s.params.Value("nue_numu_ratio")
	nubarRatio, _ := s.params.Value("nu_nubar_ratio")

	gamma := baselineIndex + dIdx

	eDim, _ := s.binning.Dimension("true_energy")
	eAxis := axisIndex(s.binning, "true_energy")
	eMids := eDim.Midpoints()
	vols := s.binning.BinVolumes()

	// Per-flavour share of the total flux. The nu/nubar ratio splits
	// each flavour's share; the nue/numu ratio sets the flavour mix.
	flavourShare := map[string]float64{
		"nue":     nueRatio * nubarRatio / (1 + nubarRatio),
		"nuebar":  nueRatio / (1 + nubarRatio),
		"numu":    nubarRatio / (1 + nubarRatio),
		"numubar": 1 / (1 + nubarRatio),
	}

	var maps []*hist.Map
	for _, flav := range []string{"nue", "nuebar", "numu", "numubar"} {
		m := hist.NewMap(flav, s.binning)
		share := flavourShare[flav]
		for flat := range m.Values {
			idx := s.binning.Unravel(flat)
			e := eMids[idx[eAxis]]
			m.Values[flat] = norm * share * math.Pow(e, -gamma) * vols[flat]
		}
		maps = append(maps, m)
	}
	return hist.NewMapSet("flux", maps...)
}

func axisIndex(b *binning.MultiDimBinning, name string) int {
	for i, d := range b.Dims {
		if d.Name == name {
			return i
		}
	}
	return -1
}
