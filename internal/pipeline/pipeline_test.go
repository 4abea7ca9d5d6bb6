package pipeline

import (
	"context"
	"database/sql"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/caldera-data/oscillation.report/internal/events"
)

// toySample builds a small but well-populated in-memory event sample
// covering all six neutrino channels.
func toySample(t *testing.T) *events.Sample {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(events.Schema); err != nil {
		t.Fatalf("schema: %v", err)
	}

	rng := rand.New(rand.NewSource(7))
	var evts []events.Event
	for _, flav := range []string{"nue", "nuebar", "numu", "numubar", "nutau", "nutaubar"} {
		for _, inter := range []string{"cc", "nc"} {
			for i := 0; i < 200; i++ {
				e := 1 + 79*rng.Float64()
				cz := -1 + 2*rng.Float64()
				evts = append(evts, events.Event{
					Flavour:     flav,
					Interaction: inter,
					TrueEnergy:  e,
					TrueCoszen:  cz,
					RecoEnergy:  e * (1 + 0.1*rng.NormFloat64()),
					RecoCoszen:  cz,
					Weight:      1,
					WeightedAeff: 1e4 * e, // grows with energy like a real detector
				})
			}
		}
	}
	if err := events.Insert(db, evts); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	s, err := events.Load(db)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func loadTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	cfg, err := LoadConfig(filepath.Join("testdata", "deepcore.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	p, err := New(cfg, toySample(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestLoadConfigValidates(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata", "deepcore.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Name != "deepcore" {
		t.Errorf("Name = %q, want deepcore", cfg.Name)
	}
	if diff := cmp.Diff([]string{"flux", "osc", "aeff", "reco", "norm"}, cfg.Stages); diff != "" {
		t.Errorf("stage list mismatch (-want +got):\n%s", diff)
	}
	if got := len(cfg.Params); got != 17 {
		t.Errorf("Params = %d, want 17", got)
	}

	if _, err := LoadConfig("testdata/missing.yaml"); err == nil {
		t.Error("LoadConfig on missing file did not error")
	}
	if _, err := LoadConfig("testdata/deepcore.json"); err == nil {
		t.Error("LoadConfig accepted a non-YAML extension")
	}
}

func TestPipelineProducesRecoOutputs(t *testing.T) {
	p := loadTestPipeline(t)

	out, err := p.GetOutputs(context.Background())
	if err != nil {
		t.Fatalf("GetOutputs: %v", err)
	}
	if len(out.Maps) == 0 {
		t.Fatal("no output maps")
	}
	for _, m := range out.Maps {
		if !m.Binning.Compatible(p.OutputBinning()) {
			t.Errorf("map %q not on the reco binning", m.Name)
		}
		if m.Total() < 0 {
			t.Errorf("map %q total = %v, want >= 0", m.Name, m.Total())
		}
	}
	if _, err := out.Find("numu_cc"); err != nil {
		t.Errorf("expected a numu_cc channel: %v", err)
	}

	total, err := p.GetTotalOutput(context.Background())
	if err != nil {
		t.Fatalf("GetTotalOutput: %v", err)
	}
	if total.Total() <= 0 {
		t.Errorf("summed prediction = %v, want > 0", total.Total())
	}
}

func TestPipelineCacheInvalidation(t *testing.T) {
	p := loadTestPipeline(t)
	ctx := context.Background()

	out1, err := p.GetOutputs(ctx)
	if err != nil {
		t.Fatalf("GetOutputs: %v", err)
	}

	// Same params: identical values (served from cache).
	out2, err := p.GetOutputs(ctx)
	if err != nil {
		t.Fatalf("GetOutputs: %v", err)
	}
	m1, _ := out1.Find("numu_cc")
	m2, _ := out2.Find("numu_cc")
	for i := range m1.Values {
		if m1.Values[i] != m2.Values[i] {
			t.Fatalf("cached output differs at bin %d", i)
		}
	}

	// Mutating the returned copy must not poison the cache.
	m2.Scale(100)
	out3, _ := p.GetOutputs(ctx)
	m3, _ := out3.Find("numu_cc")
	if m3.Values[0] != m1.Values[0] {
		t.Error("cache was mutated through a returned copy")
	}

	// Changing a parameter changes the outputs.
	if err := p.Params.SetValue("theta23", 0.6); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	out4, err := p.GetOutputs(ctx)
	if err != nil {
		t.Fatalf("GetOutputs: %v", err)
	}
	m4, _ := out4.Find("numu_cc")
	changed := false
	for i := range m1.Values {
		if m4.Values[i] != m1.Values[i] {
			changed = true
			break
		}
	}
	if !changed {
		t.Error("outputs unchanged after moving theta23")
	}
}

func TestUnknownStageRejected(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata", "deepcore.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.Stages = append(cfg.Stages, "pid")
	if _, err := New(cfg, toySample(t)); err == nil {
		t.Error("New accepted an unknown stage name")
	}
}

func TestMissingParamRejected(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata", "deepcore.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	// Drop theta23 from the config.
	var kept []ParamConfig
	for _, pc := range cfg.Params {
		if pc.Name != "theta23" {
			kept = append(kept, pc)
		}
	}
	cfg.Params = kept
	if _, err := New(cfg, toySample(t)); err == nil {
		t.Error("New accepted a config missing an osc parameter")
	}
}
