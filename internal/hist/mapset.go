package hist

import (
	"fmt"

	"golang.org/x/exp/rand"
)

// MapSet is a named, ordered collection of maps, typically one per
// output channel of a pipeline (e.g. per neutrino flavour).
type MapSet struct {
	Name string
	Maps []*Map
}

// NewMapSet builds a map set, rejecting duplicate map names.
func NewMapSet(name string, maps ...*Map) (*MapSet, error) {
	seen := make(map[string]bool, len(maps))
	for _, m := range maps {
		if m == nil {
			return nil, fmt.Errorf("map set %q: nil map", name)
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("map set %q: duplicate map name %q", name, m.Name)
		}
		seen[m.Name] = true
	}
	return &MapSet{Name: name, Maps: maps}, nil
}

// Find returns the named map, or an error listing what is available.
func (ms *MapSet) Find(name string) (*Map, error) {
	for _, m := range ms.Maps {
		if m.Name == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("map set %q has no map %q (have %v)", ms.Name, name, ms.Names())
}

// Names returns the map names in order.
func (ms *MapSet) Names() []string {
	names := make([]string, len(ms.Maps))
	for i, m := range ms.Maps {
		names[i] = m.Name
	}
	return names
}

// Clone returns a deep copy of the map set.
func (ms *MapSet) Clone() *MapSet {
	maps := make([]*Map, len(ms.Maps))
	for i, m := range ms.Maps {
		maps[i] = m.Clone()
	}
	return &MapSet{Name: ms.Name, Maps: maps}
}

// Sum collapses the set into a single map named "total". All member
// binnings must be compatible.
func (ms *MapSet) Sum() (*Map, error) {
	if len(ms.Maps) == 0 {
		return nil, fmt.Errorf("map set %q is empty", ms.Name)
	}
	total := ms.Maps[0].Clone()
	total.Name = "total"
	for _, m := range ms.Maps[1:] {
		if err := total.Add(m); err != nil {
			return nil, fmt.Errorf("summing map set %q: %w", ms.Name, err)
		}
	}
	return total, nil
}

// Total returns the summed contents across all maps in the set.
func (ms *MapSet) Total() float64 {
	t := 0.0
	for _, m := range ms.Maps {
		t += m.Total()
	}
	return t
}

// Scale multiplies every map in the set by k in place.
func (ms *MapSet) Scale(k float64) {
	for _, m := range ms.Maps {
		m.Scale(k)
	}
}

// Fluctuate returns a pseudo-data copy with every bin Poisson-fluctuated.
func (ms *MapSet) Fluctuate(src rand.Source) *MapSet {
	maps := make([]*Map, len(ms.Maps))
	for i, m := range ms.Maps {
		maps[i] = m.Fluctuate(src)
	}
	return &MapSet{Name: ms.Name + "_fluctuated", Maps: maps}
}

// Combine merges several map sets into one, summing maps that share a
// name and carrying the rest through.
func Combine(name string, sets ...*MapSet) (*MapSet, error) {
	out := &MapSet{Name: name}
	index := make(map[string]*Map)
	for _, s := range sets {
		for _, m := range s.Maps {
			if existing, ok := index[m.Name]; ok {
				if err := existing.Add(m); err != nil {
					return nil, fmt.Errorf("combining map sets into %q: %w", name, err)
				}
				continue
			}
			c := m.Clone()
			index[m.Name] = c
			out.Maps = append(out.Maps, c)
		}
	}
	return out, nil
}
