// Package params implements named fit parameters and ordered parameter
// sets. Parameters carry a nominal value, an allowed range, an optional
// Gaussian prior and a fixed flag; sets provide the reset/lookup/free
// operations the model and fitter build on.
package params

import (
	"fmt"
	"sort"
)

// GaussianPrior penalizes a parameter for straying from an externally
// measured value.
type GaussianPrior struct {
	Mean  float64
	Sigma float64
}

// Chi2 returns the chi-square penalty for the given value.
func (p GaussianPrior) Chi2(v float64) float64 {
	pull := (v - p.Mean) / p.Sigma
	return pull * pull
}

// LLH returns the log-likelihood penalty (negative half chi-square).
func (p GaussianPrior) LLH(v float64) float64 {
	return -0.5 * p.Chi2(v)
}

// Param is one named fit parameter.
type Param struct {
	Name    string
	Value   float64
	Units   string
	Nominal float64
	// Range bounds the values the fitter may propose: [lo, hi].
	Range [2]float64
	// IsFixed excludes the parameter from fits.
	IsFixed bool
	Prior   *GaussianPrior
}

// InRange reports whether v lies within the parameter's allowed range.
// Parameters with a degenerate range accept everything.
func (p *Param) InRange(v float64) bool {
	if p.Range[0] == 0 && p.Range[1] == 0 {
		return true
	}
	return v >= p.Range[0] && v <= p.Range[1]
}

// Set assigns a new value, rejecting values outside the allowed range.
func (p *Param) Set(v float64) error {
	if !p.InRange(v) {
		return fmt.Errorf("param %q: value %v outside range [%v, %v]", p.Name, v, p.Range[0], p.Range[1])
	}
	p.Value = v
	return nil
}

// Reset restores the nominal value.
func (p *Param) Reset() { p.Value = p.Nominal }

// String renders the parameter like "theta23 = 0.8430 rad".
func (p *Param) String() string {
	s := fmt.Sprintf("%s = %.6g", p.Name, p.Value)
	if p.Units != "" {
		s += " " + p.Units
	}
	if p.IsFixed {
		s += " (fixed)"
	}
	return s
}

// ParamSet is an ordered, name-unique collection of parameters.
type ParamSet struct {
	params []*Param
	index  map[string]*Param
}

// NewParamSet builds a set from the given parameters.
func NewParamSet(ps ...*Param) (*ParamSet, error) {
	s := &ParamSet{index: make(map[string]*Param, len(ps))}
	for _, p := range ps {
		if err := s.Add(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends a parameter, rejecting duplicates and invalid values.
func (s *ParamSet) Add(p *Param) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("param set: parameter must have a name")
	}
	if _, ok := s.index[p.Name]; ok {
		return fmt.Errorf("param set: duplicate parameter %q", p.Name)
	}
	if !p.InRange(p.Value) || !p.InRange(p.Nominal) {
		return fmt.Errorf("param %q: value %v or nominal %v outside range [%v, %v]",
			p.Name, p.Value, p.Nominal, p.Range[0], p.Range[1])
	}
	s.params = append(s.params, p)
	s.index[p.Name] = p
	return nil
}

// Get returns the named parameter, or an error listing what exists.
func (s *ParamSet) Get(name string) (*Param, error) {
	p, ok := s.index[name]
	if !ok {
		return nil, fmt.Errorf("no parameter %q (have %v)", name, s.Names())
	}
	return p, nil
}

// Has reports whether the set carries the named parameter.
func (s *ParamSet) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Value is shorthand for Get followed by reading the value.
func (s *ParamSet) Value(name string) (float64, error) {
	p, err := s.Get(name)
	if err != nil {
		return 0, err
	}
	return p.Value, nil
}

// SetValue assigns a value to the named parameter, range-checked.
func (s *ParamSet) SetValue(name string, v float64) error {
	p, err := s.Get(name)
	if err != nil {
		return err
	}
	return p.Set(v)
}

// All returns the parameters in insertion order. The slice is shared;
// callers must not reorder it.
func (s *ParamSet) All() []*Param { return s.params }

// Names returns the parameter names in order.
func (s *ParamSet) Names() []string {
	names := make([]string, len(s.params))
	for i, p := range s.params {
		names[i] = p.Name
	}
	return names
}

// Len returns the number of parameters.
func (s *ParamSet) Len() int { return len(s.params) }

// Free returns the non-fixed parameters in order.
func (s *ParamSet) Free() []*Param {
	var free []*Param
	for _, p := range s.params {
		if !p.IsFixed {
			free = append(free, p)
		}
	}
	return free
}

// Reset restores every parameter to its nominal value.
func (s *ParamSet) Reset() {
	for _, p := range s.params {
		p.Reset()
	}
}

// Values returns a snapshot of the current values keyed by name.
func (s *ParamSet) Values() map[string]float64 {
	vals := make(map[string]float64, len(s.params))
	for _, p := range s.params {
		vals[p.Name] = p.Value
	}
	return vals
}

// PriorChi2 sums the chi-square prior penalties over all parameters
// that carry priors.
func (s *ParamSet) PriorChi2() float64 {
	total := 0.0
	for _, p := range s.params {
		if p.Prior != nil {
			total += p.Prior.Chi2(p.Value)
		}
	}
	return total
}

// PriorLLH sums the log-likelihood prior penalties.
func (s *ParamSet) PriorLLH() float64 {
	total := 0.0
	for _, p := range s.params {
		if p.Prior != nil {
			total += p.Prior.LLH(p.Value)
		}
	}
	return total
}

// Select returns the subset of parameters whose names appear in names,
// sharing the underlying Param values so writes propagate.
func (s *ParamSet) Select(names []string) (*ParamSet, error) {
	sub := &ParamSet{index: make(map[string]*Param, len(names))}
	for _, n := range names {
		p, err := s.Get(n)
		if err != nil {
			return nil, err
		}
		if err := sub.Add(p); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// SortedNames returns the parameter names sorted alphabetically, used
// for stable hashing and display.
func (s *ParamSet) SortedNames() []string {
	names := s.Names()
	sort.Strings(names)
	return names
}
