package plotting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/caldera-data/oscillation.report/internal/binning"
	"github.com/caldera-data/oscillation.report/internal/hist"
)

func testMap(t *testing.T, name string) *hist.Map {
	t.Helper()
	energy, err := binning.NewLog("reco_energy", "GeV", 8, 1, 80)
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	coszen, err := binning.NewLinear("reco_coszen", "", 4, -1, 1)
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	b, err := binning.New(energy, coszen)
	if err != nil {
		t.Fatalf("binning.New: %v", err)
	}
	m := hist.NewMap(name, b)
	for i := range m.Values {
		m.Values[i] = float64(i%7) - 3
	}
	return m
}

func checkPNG(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	if info.Size() == 0 {
		t.Errorf("%s is empty", path)
	}
}

func TestSaveHeatmap(t *testing.T) {
	dir := t.TempDir()
	m := testMap(t, "numu_cc")

	path := filepath.Join(dir, "numu_cc.png")
	if err := SaveHeatmap(m, HeatmapOptions{}, path); err != nil {
		t.Fatalf("SaveHeatmap: %v", err)
	}
	checkPNG(t, path)

	symPath := filepath.Join(dir, "numu_cc_pull.png")
	opts := HeatmapOptions{Title: "pull", Symmetric: true}
	if err := SaveHeatmap(m, opts, symPath); err != nil {
		t.Fatalf("SaveHeatmap symmetric: %v", err)
	}
	checkPNG(t, symPath)
}

func TestSaveHeatmapRejectsNon2D(t *testing.T) {
	dim, _ := binning.NewLinear("reco_energy", "GeV", 4, 1, 80)
	b, _ := binning.New(dim)
	m := hist.NewMap("one_dim", b)
	if err := SaveHeatmap(m, HeatmapOptions{}, filepath.Join(t.TempDir(), "x.png")); err == nil {
		t.Error("SaveHeatmap accepted a 1D map")
	}
}

func TestSaveMapSetGrid(t *testing.T) {
	dir := t.TempDir()
	ms, err := hist.NewMapSet("expected",
		testMap(t, "nue"), testMap(t, "numu"), testMap(t, "nutau"))
	if err != nil {
		t.Fatalf("NewMapSet: %v", err)
	}

	path := filepath.Join(dir, "grid.png")
	if err := SaveMapSetGrid(ms, 2, HeatmapOptions{}, path); err != nil {
		t.Fatalf("SaveMapSetGrid: %v", err)
	}
	checkPNG(t, path)

	empty, _ := hist.NewMapSet("empty")
	if err := SaveMapSetGrid(empty, 2, HeatmapOptions{}, filepath.Join(dir, "e.png")); err == nil {
		t.Error("SaveMapSetGrid accepted an empty set")
	}
}

func TestSaveScan(t *testing.T) {
	dir := t.TempDir()
	values := []float64{0.6, 0.7, 0.8, 0.9}
	results := []float64{4.1, 0.2, 1.9, 6.4}

	path := filepath.Join(dir, "theta23_scan.png")
	if err := SaveScan("theta23", "chi2", values, results, path); err != nil {
		t.Fatalf("SaveScan: %v", err)
	}
	checkPNG(t, path)

	if err := SaveScan("theta23", "chi2", values, results[:2], path); err == nil {
		t.Error("SaveScan accepted mismatched lengths")
	}
	if err := SaveScan("theta23", "chi2", nil, nil, path); err == nil {
		t.Error("SaveScan accepted an empty scan")
	}
}
