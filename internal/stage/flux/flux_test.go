package flux

import (
	"context"
	"math"
	"testing"

	"github.com/caldera-data/oscillation.report/internal/binning"
	"github.com/caldera-data/oscillation.report/internal/params"
)

func fluxParams(t *testing.T, norm, dIdx, nueRatio, nubarRatio float64) *params.ParamSet {
	t.Helper()
	ps, err := params.NewParamSet(
		&params.Param{Name: "flux_norm", Value: norm, Nominal: norm, Range: [2]float64{0, 1e6}},
		&params.Param{Name: "delta_index", Value: dIdx, Nominal: dIdx, Range: [2]float64{-0.5, 0.5}},
		&params.Param{Name: "nue_numu_ratio", Value: nueRatio, Nominal: nueRatio, Range: [2]float64{0, 2}},
		&params.Param{Name: "nu_nubar_ratio", Value: nubarRatio, Nominal: nubarRatio, Range: [2]float64{0, 3}},
	)
	if err != nil {
		t.Fatalf("NewParamSet: %v", err)
	}
	return ps
}

func fluxBinning(t *testing.T) *binning.MultiDimBinning {
	t.Helper()
	e, _ := binning.NewLog("true_energy", "GeV", 10, 1, 100)
	cz, _ := binning.NewLinear("true_coszen", "", 4, -1, 1)
	b, err := binning.New(e, cz)
	if err != nil {
		t.Fatalf("binning.New: %v", err)
	}
	return b
}

func TestApplyProducesAllFlavours(t *testing.T) {
	s, err := New(fluxParams(t, 100, 0, 0.5, 1.2), fluxBinning(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := s.Apply(context.Background(), nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for _, name := range []string{"nue", "nuebar", "numu", "numubar"} {
		m, err := out.Find(name)
		if err != nil {
			t.Fatalf("Find(%s): %v", name, err)
		}
		if m.Total() <= 0 {
			t.Errorf("%s flux total = %v, want > 0", name, m.Total())
		}
	}
}

func TestFlavourRatios(t *testing.T) {
	s, err := New(fluxParams(t, 100, 0, 0.5, 1.2), fluxBinning(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := s.Apply(context.Background(), nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	nue, _ := out.Find("nue")
	numu, _ := out.Find("numu")
	nuebar, _ := out.Find("nuebar")
	numubar, _ := out.Find("numubar")

	if r := nue.Total() / numu.Total(); math.Abs(r-0.5) > 1e-9 {
		t.Errorf("nue/numu ratio = %v, want 0.5", r)
	}
	if r := numu.Total() / numubar.Total(); math.Abs(r-1.2) > 1e-9 {
		t.Errorf("nu/nubar ratio = %v, want 1.2", r)
	}
	if r := nue.Total() / nuebar.Total(); math.Abs(r-1.2) > 1e-9 {
		t.Errorf("nue/nuebar ratio = %v, want 1.2", r)
	}
}

func TestSpectralIndexSteepensSpectrum(t *testing.T) {
	b := fluxBinning(t)
	soft, err := New(fluxParams(t, 100, 0.2, 0.5, 1.2), b)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hard, err := New(fluxParams(t, 100, -0.2, 0.5, 1.2), b)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	outSoft, _ := soft.Apply(context.Background(), nil)
	outHard, _ := hard.Apply(context.Background(), nil)
	mSoft, _ := outSoft.Find("numu")
	mHard, _ := outHard.Find("numu")

	_, vSoft, _ := mSoft.Project1D("true_energy")
	_, vHard, _ := mHard.Project1D("true_energy")

	// A softer spectrum falls faster: the high/low ratio shrinks.
	rSoft := vSoft[len(vSoft)-1] / vSoft[0]
	rHard := vHard[len(vHard)-1] / vHard[0]
	if !(rSoft < rHard) {
		t.Errorf("high/low ratio soft=%v hard=%v, want soft < hard", rSoft, rHard)
	}
}

func TestNewRejectsMissingDimensions(t *testing.T) {
	e, _ := binning.NewLog("reco_energy", "GeV", 4, 1, 100)
	cz, _ := binning.NewLinear("reco_coszen", "", 2, -1, 1)
	b, _ := binning.New(e, cz)
	if _, err := New(fluxParams(t, 1, 0, 0.5, 1), b); err == nil {
		t.Error("New accepted a binning without true dimensions")
	}
}
