// Package hist provides named binned histograms (maps) and collections
// of them (map sets). Maps are the unit of exchange between pipeline
// stages and the objects metrics compare.
package hist

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/caldera-data/oscillation.report/internal/binning"
)

// Map is a named histogram over a multi-dimensional binning. Values hold
// the bin contents; Sumw2 holds the summed squared weights per bin, from
// which per-bin errors derive.
type Map struct {
	Name    string
	Binning *binning.MultiDimBinning
	Values  []float64
	Sumw2   []float64
}

// NewMap allocates a zeroed map over the given binning.
func NewMap(name string, b *binning.MultiDimBinning) *Map {
	return &Map{
		Name:    name,
		Binning: b,
		Values:  make([]float64, b.Size()),
		Sumw2:   make([]float64, b.Size()),
	}
}

// Clone returns a deep copy of the map.
func (m *Map) Clone() *Map {
	c := NewMap(m.Name, m.Binning)
	copy(c.Values, m.Values)
	copy(c.Sumw2, m.Sumw2)
	return c
}

// Fill adds a weighted entry at the given coordinate. Entries outside
// the binning are counted as overflow and otherwise ignored; the return
// value reports whether the entry landed in a bin.
func (m *Map) Fill(coord []float64, weight float64) bool {
	i := m.Binning.Find(coord)
	if i < 0 {
		return false
	}
	m.Values[i] += weight
	m.Sumw2[i] += weight * weight
	return true
}

// Total returns the summed bin contents.
func (m *Map) Total() float64 {
	return floats.Sum(m.Values)
}

// Errors returns the per-bin standard deviations (sqrt of Sumw2).
func (m *Map) Errors() []float64 {
	e := make([]float64, len(m.Sumw2))
	for i, s := range m.Sumw2 {
		e[i] = math.Sqrt(s)
	}
	return e
}

// checkCompatible verifies that other can be combined with m.
func (m *Map) checkCompatible(other *Map) error {
	if other == nil {
		return fmt.Errorf("map %q: cannot combine with nil map", m.Name)
	}
	if !m.Binning.Compatible(other.Binning) {
		return fmt.Errorf("map %q: binning %s incompatible with map %q binning %s",
			m.Name, m.Binning, other.Name, other.Binning)
	}
	return nil
}

// Add accumulates another map's contents into m in place.
func (m *Map) Add(other *Map) error {
	if err := m.checkCompatible(other); err != nil {
		return err
	}
	floats.Add(m.Values, other.Values)
	floats.Add(m.Sumw2, other.Sumw2)
	return nil
}

// Sub subtracts another map's contents from m in place. Errors add in
// quadrature, so Sumw2 still accumulates.
func (m *Map) Sub(other *Map) error {
	if err := m.checkCompatible(other); err != nil {
		return err
	}
	floats.Sub(m.Values, other.Values)
	floats.Add(m.Sumw2, other.Sumw2)
	return nil
}

// Scale multiplies all bin contents by k in place.
func (m *Map) Scale(k float64) {
	floats.Scale(k, m.Values)
	floats.Scale(k*k, m.Sumw2)
}

// MulElems multiplies m bin-wise by other in place. Relative errors add
// in quadrature, approximated to first order.
func (m *Map) MulElems(other *Map) error {
	if err := m.checkCompatible(other); err != nil {
		return err
	}
	for i := range m.Values {
		a, b := m.Values[i], other.Values[i]
		m.Sumw2[i] = m.Sumw2[i]*b*b + other.Sumw2[i]*a*a
		m.Values[i] = a * b
	}
	return nil
}

// Fluctuate returns a copy with each bin replaced by a Poisson draw
// around its expectation, used to build pseudo-data. Bins with
// non-positive expectation stay at zero.
func (m *Map) Fluctuate(src rand.Source) *Map {
	c := m.Clone()
	for i, v := range c.Values {
		if v <= 0 {
			c.Values[i] = 0
			c.Sumw2[i] = 0
			continue
		}
		p := distuv.Poisson{Lambda: v, Src: src}
		n := p.Rand()
		c.Values[i] = n
		c.Sumw2[i] = n
	}
	return c
}

// Project1D sums the map over all dimensions except the named one,
// returning midpoints and summed contents along that axis.
func (m *Map) Project1D(dim string) (mids, vals []float64, err error) {
	d, ok := m.Binning.Dimension(dim)
	if !ok {
		return nil, nil, fmt.Errorf("map %q: no dimension %q in binning %s", m.Name, dim, m.Binning)
	}
	axis := -1
	for i, bd := range m.Binning.Dims {
		if bd.Name == dim {
			axis = i
		}
	}
	vals = make([]float64, d.NBins())
	for flat, v := range m.Values {
		idx := m.Binning.Unravel(flat)
		vals[idx[axis]] += v
	}
	return d.Midpoints(), vals, nil
}
