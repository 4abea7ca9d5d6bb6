package hist

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"

	"github.com/caldera-data/oscillation.report/internal/binning"
)

func testBinning(t *testing.T) *binning.MultiDimBinning {
	t.Helper()
	e, err := binning.NewLinear("reco_energy", "GeV", 4, 0, 40)
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	cz, err := binning.NewLinear("reco_coszen", "", 2, -1, 1)
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	b, err := binning.New(e, cz)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestMapFillAndTotal(t *testing.T) {
	m := NewMap("numu_cc", testBinning(t))

	if !m.Fill([]float64{5, -0.5}, 2.5) {
		t.Error("Fill inside range returned false")
	}
	if m.Fill([]float64{55, 0}, 1.0) {
		t.Error("Fill outside range returned true")
	}
	if got := m.Total(); got != 2.5 {
		t.Errorf("Total = %v, want 2.5", got)
	}

	errs := m.Errors()
	i := m.Binning.Find([]float64{5, -0.5})
	if math.Abs(errs[i]-2.5) > 1e-12 {
		t.Errorf("Errors[%d] = %v, want 2.5", i, errs[i])
	}
}

func TestMapArithmetic(t *testing.T) {
	b := testBinning(t)
	a := NewMap("a", b)
	c := NewMap("b", b)
	a.Fill([]float64{5, 0.5}, 3)
	c.Fill([]float64{5, 0.5}, 1)

	if err := a.Add(c); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := a.Total(); got != 4 {
		t.Errorf("after Add, Total = %v, want 4", got)
	}

	a.Scale(2)
	if got := a.Total(); got != 8 {
		t.Errorf("after Scale(2), Total = %v, want 8", got)
	}

	if err := a.Sub(c); err != nil {
		t.Fatalf("Sub: %v", err)
	}
	if got := a.Total(); got != 7 {
		t.Errorf("after Sub, Total = %v, want 7", got)
	}
}

func TestMapIncompatibleBinning(t *testing.T) {
	a := NewMap("a", testBinning(t))

	e, _ := binning.NewLinear("reco_energy", "GeV", 5, 0, 40)
	cz, _ := binning.NewLinear("reco_coszen", "", 2, -1, 1)
	other, _ := binning.New(e, cz)
	c := NewMap("c", other)

	if err := a.Add(c); err == nil {
		t.Error("Add across incompatible binnings did not error")
	}
	if err := a.Sub(c); err == nil {
		t.Error("Sub across incompatible binnings did not error")
	}
}

func TestMapFluctuate(t *testing.T) {
	m := NewMap("m", testBinning(t))
	for i := range m.Values {
		m.Values[i] = 100
	}

	f := m.Fluctuate(rand.NewSource(1))
	// Poisson(100) draws should stay well within 10 sigma and vary.
	varied := false
	for i, v := range f.Values {
		if v < 0 || v > 250 {
			t.Errorf("fluctuated bin %d = %v, implausible for lambda=100", i, v)
		}
		if v != m.Values[i] {
			varied = true
		}
		if v != math.Trunc(v) {
			t.Errorf("fluctuated bin %d = %v, want integer count", i, v)
		}
	}
	if !varied {
		t.Error("Fluctuate returned the expectation unchanged in every bin")
	}

	// Original untouched.
	if m.Values[0] != 100 {
		t.Errorf("Fluctuate modified the source map")
	}
}

func TestProject1D(t *testing.T) {
	m := NewMap("m", testBinning(t))
	m.Fill([]float64{5, -0.5}, 1)
	m.Fill([]float64{5, 0.5}, 2)
	m.Fill([]float64{35, 0.5}, 4)

	mids, vals, err := m.Project1D("reco_energy")
	if err != nil {
		t.Fatalf("Project1D: %v", err)
	}
	if len(mids) != 4 || len(vals) != 4 {
		t.Fatalf("projection length = (%d, %d), want (4, 4)", len(mids), len(vals))
	}
	if vals[0] != 3 || vals[3] != 4 {
		t.Errorf("projection = %v, want [3 0 0 4]", vals)
	}

	if _, _, err := m.Project1D("nope"); err == nil {
		t.Error("Project1D on missing dimension did not error")
	}
}

func TestMapSetSumAndFind(t *testing.T) {
	b := testBinning(t)
	numu := NewMap("numu_cc", b)
	nue := NewMap("nue_cc", b)
	numu.Fill([]float64{5, 0.5}, 3)
	nue.Fill([]float64{5, 0.5}, 2)

	ms, err := NewMapSet("events", numu, nue)
	if err != nil {
		t.Fatalf("NewMapSet: %v", err)
	}

	if _, err := ms.Find("numu_cc"); err != nil {
		t.Errorf("Find(numu_cc): %v", err)
	}
	if _, err := ms.Find("nutau_cc"); err == nil {
		t.Error("Find on missing name did not error")
	}

	total, err := ms.Sum()
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if total.Name != "total" {
		t.Errorf("summed map name = %q, want total", total.Name)
	}
	if got := total.Total(); got != 5 {
		t.Errorf("summed total = %v, want 5", got)
	}
}

func TestMapSetRejectsDuplicates(t *testing.T) {
	b := testBinning(t)
	if _, err := NewMapSet("s", NewMap("x", b), NewMap("x", b)); err == nil {
		t.Error("NewMapSet accepted duplicate names")
	}
}

func TestCombine(t *testing.T) {
	b := testBinning(t)
	a1 := NewMap("numu_cc", b)
	a1.Fill([]float64{5, 0.5}, 1)
	a2 := NewMap("numu_cc", b)
	a2.Fill([]float64{5, 0.5}, 2)
	only := NewMap("nue_cc", b)
	only.Fill([]float64{5, 0.5}, 7)

	s1, _ := NewMapSet("s1", a1, only)
	s2, _ := NewMapSet("s2", a2)

	out, err := Combine("combined", s1, s2)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	numu, err := out.Find("numu_cc")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got := numu.Total(); got != 3 {
		t.Errorf("combined numu_cc total = %v, want 3", got)
	}
	// inputs untouched
	if a1.Total() != 1 {
		t.Error("Combine modified an input map")
	}
}
