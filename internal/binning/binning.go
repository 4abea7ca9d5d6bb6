// Package binning defines multi-dimensional histogram binnings used by
// pipeline stages and output maps. A binning is an ordered list of named
// dimensions, each with strictly increasing bin edges.
package binning

import (
	"fmt"
	"math"
)

// Dimension is one named histogram axis.
type Dimension struct {
	Name  string
	Units string
	Edges []float64
	// IsLog records that the edges were generated with logarithmic
	// spacing. Midpoints use the geometric mean for log axes.
	IsLog bool
}

// NewLinear builds a dimension with nBins equal-width bins on [lo, hi].
func NewLinear(name, units string, nBins int, lo, hi float64) (Dimension, error) {
	if nBins < 1 {
		return Dimension{}, fmt.Errorf("dimension %q: need at least 1 bin, got %d", name, nBins)
	}
	if !(hi > lo) {
		return Dimension{}, fmt.Errorf("dimension %q: upper edge %v must exceed lower edge %v", name, hi, lo)
	}
	edges := make([]float64, nBins+1)
	width := (hi - lo) / float64(nBins)
	for i := range edges {
		edges[i] = lo + float64(i)*width
	}
	edges[nBins] = hi
	return Dimension{Name: name, Units: units, Edges: edges}, nil
}

// NewLog builds a dimension with nBins logarithmically spaced bins on
// [lo, hi]. Both bounds must be positive.
func NewLog(name, units string, nBins int, lo, hi float64) (Dimension, error) {
	if lo <= 0 || hi <= 0 {
		return Dimension{}, fmt.Errorf("dimension %q: log bounds must be positive, got [%v, %v]", name, lo, hi)
	}
	d, err := NewLinear(name, units, nBins, math.Log10(lo), math.Log10(hi))
	if err != nil {
		return Dimension{}, err
	}
	for i, e := range d.Edges {
		d.Edges[i] = math.Pow(10, e)
	}
	d.Edges[0] = lo
	d.Edges[nBins] = hi
	d.IsLog = true
	return d, nil
}

// NewEdges builds a dimension from explicit edges.
func NewEdges(name, units string, edges []float64) (Dimension, error) {
	if len(edges) < 2 {
		return Dimension{}, fmt.Errorf("dimension %q: need at least 2 edges, got %d", name, len(edges))
	}
	for i := 1; i < len(edges); i++ {
		if !(edges[i] > edges[i-1]) {
			return Dimension{}, fmt.Errorf("dimension %q: edges must be strictly increasing at index %d", name, i)
		}
	}
	cp := make([]float64, len(edges))
	copy(cp, edges)
	return Dimension{Name: name, Units: units, Edges: cp}, nil
}

// NBins returns the number of bins along this dimension.
func (d Dimension) NBins() int { return len(d.Edges) - 1 }

// Label renders the dimension name with units for axis titles.
func (d Dimension) Label() string {
	if d.Units == "" {
		return d.Name
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.Units)
}

// Widths returns the bin widths along this dimension.
func (d Dimension) Widths() []float64 {
	w := make([]float64, d.NBins())
	for i := range w {
		w[i] = d.Edges[i+1] - d.Edges[i]
	}
	return w
}

// Midpoints returns the bin centers. Log dimensions use the geometric
// mean so the center matches the visual middle on a log axis.
func (d Dimension) Midpoints() []float64 {
	m := make([]float64, d.NBins())
	for i := range m {
		if d.IsLog {
			m[i] = math.Sqrt(d.Edges[i] * d.Edges[i+1])
		} else {
			m[i] = 0.5 * (d.Edges[i] + d.Edges[i+1])
		}
	}
	return m
}

// Find returns the bin index containing x, or -1 when x lies outside the
// dimension's range. A coordinate exactly on the final upper edge belongs
// to the last bin.
func (d Dimension) Find(x float64) int {
	n := d.NBins()
	if x < d.Edges[0] || x > d.Edges[n] {
		return -1
	}
	if x == d.Edges[n] {
		return n - 1
	}
	// Binary search over edges.
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if x >= d.Edges[mid+1] {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// equalEdges reports whether two edge slices match to within a relative
// tolerance. Binnings loaded from config files round-trip through text,
// so exact float equality is too strict.
func equalEdges(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	const relTol = 1e-9
	for i := range a {
		diff := math.Abs(a[i] - b[i])
		scale := math.Max(math.Abs(a[i]), math.Abs(b[i]))
		if diff > relTol*math.Max(scale, 1) {
			return false
		}
	}
	return true
}

// MultiDimBinning is an ordered set of dimensions.
type MultiDimBinning struct {
	Dims []Dimension
}

// New builds a MultiDimBinning, rejecting duplicate dimension names.
func New(dims ...Dimension) (*MultiDimBinning, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("binning needs at least one dimension")
	}
	seen := make(map[string]bool, len(dims))
	for _, d := range dims {
		if d.Name == "" {
			return nil, fmt.Errorf("binning dimension has empty name")
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate binning dimension %q", d.Name)
		}
		seen[d.Name] = true
	}
	return &MultiDimBinning{Dims: dims}, nil
}

// Names returns the dimension names in order.
func (b *MultiDimBinning) Names() []string {
	names := make([]string, len(b.Dims))
	for i, d := range b.Dims {
		names[i] = d.Name
	}
	return names
}

// Shape returns the per-dimension bin counts.
func (b *MultiDimBinning) Shape() []int {
	s := make([]int, len(b.Dims))
	for i, d := range b.Dims {
		s[i] = d.NBins()
	}
	return s
}

// Size returns the total number of bins across all dimensions.
func (b *MultiDimBinning) Size() int {
	n := 1
	for _, d := range b.Dims {
		n *= d.NBins()
	}
	return n
}

// Dimension returns the named dimension, or false when absent.
func (b *MultiDimBinning) Dimension(name string) (Dimension, bool) {
	for _, d := range b.Dims {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

// HasDimension reports whether the binning carries the named dimension.
func (b *MultiDimBinning) HasDimension(name string) bool {
	_, ok := b.Dimension(name)
	return ok
}

// FlatIndex converts per-dimension bin indices to a flat row-major index.
func (b *MultiDimBinning) FlatIndex(idx []int) (int, error) {
	if len(idx) != len(b.Dims) {
		return 0, fmt.Errorf("flat index needs %d coordinates, got %d", len(b.Dims), len(idx))
	}
	flat := 0
	for i, d := range b.Dims {
		n := d.NBins()
		if idx[i] < 0 || idx[i] >= n {
			return 0, fmt.Errorf("bin index %d out of range [0,%d) for dimension %q", idx[i], n, d.Name)
		}
		flat = flat*n + idx[i]
	}
	return flat, nil
}

// Find returns the flat bin index containing the coordinate, or -1 when
// any component lies outside its dimension's range.
func (b *MultiDimBinning) Find(coord []float64) int {
	if len(coord) != len(b.Dims) {
		return -1
	}
	flat := 0
	for i, d := range b.Dims {
		j := d.Find(coord[i])
		if j < 0 {
			return -1
		}
		flat = flat*d.NBins() + j
	}
	return flat
}

// Unravel converts a flat index back to per-dimension bin indices.
func (b *MultiDimBinning) Unravel(flat int) []int {
	idx := make([]int, len(b.Dims))
	for i := len(b.Dims) - 1; i >= 0; i-- {
		n := b.Dims[i].NBins()
		idx[i] = flat % n
		flat /= n
	}
	return idx
}

// BinVolumes returns the volume (product of widths over all dimensions)
// of each flat bin. Used to convert summed weights per bin to rates.
func (b *MultiDimBinning) BinVolumes() []float64 {
	vols := make([]float64, b.Size())
	for i := range vols {
		vols[i] = 1
	}
	widths := make([][]float64, len(b.Dims))
	for i, d := range b.Dims {
		widths[i] = d.Widths()
	}
	for flat := range vols {
		idx := b.Unravel(flat)
		for i := range b.Dims {
			vols[flat] *= widths[i][idx[i]]
		}
	}
	return vols
}

// Compatible reports whether two binnings have the same dimensions in
// the same order with matching edges. Maps may only be combined when
// their binnings are compatible.
func (b *MultiDimBinning) Compatible(other *MultiDimBinning) bool {
	if other == nil || len(b.Dims) != len(other.Dims) {
		return false
	}
	for i := range b.Dims {
		if b.Dims[i].Name != other.Dims[i].Name {
			return false
		}
		if !equalEdges(b.Dims[i].Edges, other.Dims[i].Edges) {
			return false
		}
	}
	return true
}

// String renders a short description like "reco_energy(8)×reco_coszen(10)".
func (b *MultiDimBinning) String() string {
	s := ""
	for i, d := range b.Dims {
		if i > 0 {
			s += "x"
		}
		s += fmt.Sprintf("%s(%d)", d.Name, d.NBins())
	}
	return s
}
