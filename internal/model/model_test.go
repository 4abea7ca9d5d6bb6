package model

import (
	"context"
	"testing"

	"github.com/caldera-data/oscillation.report/internal/pipeline"
)

// fluxOscConfig builds a small pipeline config without event-sample
// stages, so models can be exercised hermetically.
func fluxOscConfig(name string) *pipeline.Config {
	return &pipeline.Config{
		Name: name,
		TrueBinning: []pipeline.DimensionConfig{
			{Name: "true_energy", Units: "GeV", NBins: 6, Lo: 1, Hi: 80, Spacing: "log"},
			{Name: "true_coszen", NBins: 4, Lo: -1, Hi: 1},
		},
		Stages: []string{"flux", "osc", "norm"},
		Params: []pipeline.ParamConfig{
			{Name: "flux_norm", Value: 100, Range: []float64{1, 1000}, Fixed: true},
			{Name: "delta_index", Value: 0, Range: []float64{-0.5, 0.5}, Fixed: true},
			{Name: "nue_numu_ratio", Value: 0.5, Range: []float64{0.2, 1}, Fixed: true},
			{Name: "nu_nubar_ratio", Value: 1.2, Range: []float64{0.5, 2}, Fixed: true},
			{Name: "theta12", Value: 0.5836, Units: "rad", Range: []float64{0, 1.5708}, Fixed: true},
			{Name: "theta13", Value: 0.1496, Units: "rad", Range: []float64{0, 1.5708}, Fixed: true},
			{Name: "theta23", Value: 0.8430, Units: "rad", Range: []float64{0.5236, 1.0472}},
			{Name: "deltacp", Value: 0, Units: "rad", Range: []float64{-3.1416, 6.2832}, Fixed: true},
			{Name: "deltam21", Value: 7.42e-5, Units: "eV2", Range: []float64{1e-5, 2e-4}, Fixed: true},
			{Name: "deltam31", Value: 2.51e-3, Units: "eV2", Range: []float64{-5e-3, 5e-3}},
			{Name: "overall_norm", Value: 1, Range: []float64{0.5, 1.5}},
			{Name: "nc_norm", Value: 1, Range: []float64{0.5, 2}, Fixed: true},
		},
	}
}

func newTestModel(t *testing.T) *DetectorModel {
	t.Helper()
	p1, err := pipeline.New(fluxOscConfig("deepcore_nu"), nil)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	p2, err := pipeline.New(fluxOscConfig("upgrade_nu"), nil)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	d1, err := NewDistributionMaker("deepcore", p1)
	if err != nil {
		t.Fatalf("NewDistributionMaker: %v", err)
	}
	d2, err := NewDistributionMaker("upgrade", p2)
	if err != nil {
		t.Fatalf("NewDistributionMaker: %v", err)
	}
	m, err := NewDetectorModel([]string{"theta23", "deltam31"}, d1, d2)
	if err != nil {
		t.Fatalf("NewDetectorModel: %v", err)
	}
	return m
}

func TestSharedParamPropagates(t *testing.T) {
	m := newTestModel(t)
	if err := m.SetValue("theta23", 0.7); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	for _, d := range m.Detectors {
		v, err := d.Value("theta23")
		if err != nil {
			t.Fatalf("Value: %v", err)
		}
		if v != 0.7 {
			t.Errorf("detector %s theta23 = %v, want 0.7", d.Name, v)
		}
	}
}

func TestDetectorSpecificParamIsolated(t *testing.T) {
	m := newTestModel(t)
	if err := m.SetValue("overall_norm_upgrade", 1.3); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	up, _ := m.Detectors[1].Value("overall_norm")
	dc, _ := m.Detectors[0].Value("overall_norm")
	if up != 1.3 {
		t.Errorf("upgrade overall_norm = %v, want 1.3", up)
	}
	if dc != 1.0 {
		t.Errorf("deepcore overall_norm = %v, want 1.0 (isolated)", dc)
	}

	// Unsuffixed access to a non-shared param is an error.
	if err := m.SetValue("overall_norm", 1.1); err == nil {
		t.Error("SetValue on unsuffixed non-shared param did not error")
	}
}

func TestResetRestoresNominal(t *testing.T) {
	m := newTestModel(t)
	if err := m.SetValue("theta23", 0.6); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if err := m.SetValue("overall_norm_deepcore", 1.4); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	m.Reset()
	if v, _ := m.Value("theta23"); v != 0.8430 {
		t.Errorf("theta23 after Reset = %v, want 0.8430", v)
	}
	if v, _ := m.Value("overall_norm_deepcore"); v != 1.0 {
		t.Errorf("overall_norm_deepcore after Reset = %v, want 1.0", v)
	}
}

func TestCombinedParamsNaming(t *testing.T) {
	m := newTestModel(t)
	ps, err := m.CombinedParams()
	if err != nil {
		t.Fatalf("CombinedParams: %v", err)
	}

	if !ps.Has("theta23") {
		t.Error("combined view lacks shared theta23")
	}
	if ps.Has("theta23_deepcore") {
		t.Error("shared theta23 also appears suffixed")
	}
	if !ps.Has("overall_norm_deepcore") || !ps.Has("overall_norm_upgrade") {
		t.Errorf("combined view lacks suffixed overall_norm entries: %v", ps.Names())
	}

	// Snapshot semantics: writes to the snapshot do not touch the model.
	if err := ps.SetValue("theta23", 0.65); err != nil {
		t.Fatalf("SetValue on snapshot: %v", err)
	}
	if v, _ := m.Value("theta23"); v != 0.8430 {
		t.Errorf("model theta23 changed through snapshot: %v", v)
	}
}

func TestCombinedParamsOrderStable(t *testing.T) {
	m := newTestModel(t)

	first, err := m.CombinedParams()
	if err != nil {
		t.Fatalf("CombinedParams: %v", err)
	}
	// Shared params lead the combined view in sorted order.
	names := first.Names()
	if names[0] != "deltam31" || names[1] != "theta23" {
		t.Errorf("shared params not sorted: %v", names[:2])
	}
	for i := 0; i < 10; i++ {
		again, err := m.CombinedParams()
		if err != nil {
			t.Fatalf("CombinedParams: %v", err)
		}
		got := again.Names()
		for j := range names {
			if got[j] != names[j] {
				t.Fatalf("combined view order changed between snapshots: %v vs %v", got, names)
			}
		}
	}

	shared := m.SharedParams()
	if len(shared) != 2 || shared[0] != "deltam31" || shared[1] != "theta23" {
		t.Errorf("SharedParams not sorted: %v", shared)
	}
}

func TestNewDetectorModelValidatesShared(t *testing.T) {
	p1, _ := pipeline.New(fluxOscConfig("a"), nil)
	d1, _ := NewDistributionMaker("a", p1)
	if _, err := NewDetectorModel([]string{"not_a_param"}, d1); err == nil {
		t.Error("NewDetectorModel accepted a shared name no detector has")
	}
}

func TestModelOutputsPerDetector(t *testing.T) {
	m := newTestModel(t)
	outs, err := m.GetOutputs(context.Background())
	if err != nil {
		t.Fatalf("GetOutputs: %v", err)
	}
	if len(outs) != 2 {
		t.Fatalf("outputs for %d detectors, want 2", len(outs))
	}
	for name, ms := range outs {
		if ms.Total() <= 0 {
			t.Errorf("detector %s total = %v, want > 0", name, ms.Total())
		}
	}

	// Shared param change moves both detectors' predictions.
	base := map[string]float64{}
	for name, ms := range outs {
		base[name] = ms.Total()
	}
	if err := m.SetValue("theta23", 0.6); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	outs2, err := m.GetOutputs(context.Background())
	if err != nil {
		t.Fatalf("GetOutputs: %v", err)
	}
	for name, ms := range outs2 {
		if ms.Total() == base[name] {
			// Oscillations conserve the all-flavour sum, but the
			// per-channel split must move.
			numu1, _ := outs[name].Find("numu")
			numu2, _ := ms.Find("numu")
			if numu1.Total() == numu2.Total() {
				t.Errorf("detector %s unchanged after moving shared theta23", name)
			}
		}
	}
}
