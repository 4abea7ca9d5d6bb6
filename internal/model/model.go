// Package model combines pipelines into distribution makers and
// distribution makers into multi-detector models with shared fit
// parameters. The model is the object a fit varies: it routes parameter
// writes to the pipelines that own them and produces per-detector
// predicted distributions.
package model

import (
	"context"
	"fmt"
	"sort"

	"github.com/caldera-data/oscillation.report/internal/hist"
	"github.com/caldera-data/oscillation.report/internal/params"
	"github.com/caldera-data/oscillation.report/internal/pipeline"
)

// DistributionMaker composes one or more pipelines into a single
// detector's prediction.
type DistributionMaker struct {
	Name      string
	Pipelines []*pipeline.Pipeline
}

// NewDistributionMaker wraps pipelines under a detector name.
func NewDistributionMaker(name string, pipelines ...*pipeline.Pipeline) (*DistributionMaker, error) {
	if name == "" {
		return nil, fmt.Errorf("distribution maker needs a name")
	}
	if len(pipelines) == 0 {
		return nil, fmt.Errorf("distribution maker %q needs at least one pipeline", name)
	}
	return &DistributionMaker{Name: name, Pipelines: pipelines}, nil
}

// GetOutputs returns each pipeline's output map set.
func (dm *DistributionMaker) GetOutputs(ctx context.Context) ([]*hist.MapSet, error) {
	outs := make([]*hist.MapSet, len(dm.Pipelines))
	for i, p := range dm.Pipelines {
		ms, err := p.GetOutputs(ctx)
		if err != nil {
			return nil, fmt.Errorf("detector %q: %w", dm.Name, err)
		}
		outs[i] = ms
	}
	return outs, nil
}

// GetCombinedOutputs sums the pipelines' outputs channel by channel
// into one map set for the detector.
func (dm *DistributionMaker) GetCombinedOutputs(ctx context.Context) (*hist.MapSet, error) {
	outs, err := dm.GetOutputs(ctx)
	if err != nil {
		return nil, err
	}
	return hist.Combine(dm.Name, outs...)
}

// Has reports whether any pipeline carries the named parameter.
func (dm *DistributionMaker) Has(name string) bool {
	for _, p := range dm.Pipelines {
		if p.Params.Has(name) {
			return true
		}
	}
	return false
}

// SetValue writes the parameter in every pipeline that carries it.
func (dm *DistributionMaker) SetValue(name string, v float64) error {
	found := false
	for _, p := range dm.Pipelines {
		if !p.Params.Has(name) {
			continue
		}
		if err := p.Params.SetValue(name, v); err != nil {
			return fmt.Errorf("detector %q: %w", dm.Name, err)
		}
		found = true
	}
	if !found {
		return fmt.Errorf("detector %q has no parameter %q", dm.Name, name)
	}
	return nil
}

// Value reads the parameter from the first pipeline carrying it.
func (dm *DistributionMaker) Value(name string) (float64, error) {
	for _, p := range dm.Pipelines {
		if p.Params.Has(name) {
			return p.Params.Value(name)
		}
	}
	return 0, fmt.Errorf("detector %q has no parameter %q", dm.Name, name)
}

// param returns the first underlying Param with the given name.
func (dm *DistributionMaker) param(name string) (*params.Param, bool) {
	for _, p := range dm.Pipelines {
		if pp, err := p.Params.Get(name); err == nil {
			return pp, true
		}
	}
	return nil, false
}

// Reset restores every pipeline's parameters to nominal.
func (dm *DistributionMaker) Reset() {
	for _, p := range dm.Pipelines {
		p.Params.Reset()
	}
}

// DetectorModel combines multiple detectors with a declared set of
// parameter names shared between them. Shared parameters appear once in
// the combined view and writes propagate everywhere; detector-specific
// parameters appear suffixed with the detector name.
type DetectorModel struct {
	Detectors []*DistributionMaker
	shared    map[string]bool
}

// NewDetectorModel builds a model. Every shared parameter name must
// exist in every detector.
func NewDetectorModel(shared []string, detectors ...*DistributionMaker) (*DetectorModel, error) {
	if len(detectors) == 0 {
		return nil, fmt.Errorf("detector model needs at least one detector")
	}
	seen := make(map[string]bool, len(detectors))
	for _, d := range detectors {
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate detector name %q", d.Name)
		}
		seen[d.Name] = true
	}
	sharedSet := make(map[string]bool, len(shared))
	for _, name := range shared {
		for _, d := range detectors {
			if !d.Has(name) {
				return nil, fmt.Errorf("shared parameter %q missing from detector %q", name, d.Name)
			}
		}
		sharedSet[name] = true
	}
	return &DetectorModel{Detectors: detectors, shared: sharedSet}, nil
}

// SharedParams returns the declared shared parameter names.
func (m *DetectorModel) SharedParams() []string {
	names := make([]string, 0, len(m.shared))
	for name := range m.shared {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// route resolves a combined-view name to the detectors it addresses
// and the underlying parameter name.
func (m *DetectorModel) route(name string) ([]*DistributionMaker, string, error) {
	if m.shared[name] {
		return m.Detectors, name, nil
	}
	for _, d := range m.Detectors {
		suffix := "_" + d.Name
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			base := name[:len(name)-len(suffix)]
			if d.Has(base) {
				return []*DistributionMaker{d}, base, nil
			}
		}
	}
	return nil, "", fmt.Errorf("model has no parameter %q (shared %v)", name, m.SharedParams())
}

// SetValue writes a parameter through the combined view.
func (m *DetectorModel) SetValue(name string, v float64) error {
	dets, base, err := m.route(name)
	if err != nil {
		return err
	}
	for _, d := range dets {
		if err := d.SetValue(base, v); err != nil {
			return err
		}
	}
	return nil
}

// Value reads a parameter through the combined view.
func (m *DetectorModel) Value(name string) (float64, error) {
	dets, base, err := m.route(name)
	if err != nil {
		return 0, err
	}
	return dets[0].Value(base)
}

// Reset restores every detector's parameters to nominal.
func (m *DetectorModel) Reset() {
	for _, d := range m.Detectors {
		d.Reset()
	}
}

// CombinedParams snapshots the model's parameters under combined-view
// naming: shared parameters once, detector-specific parameters suffixed
// with the detector name. The returned set holds copies; use SetValue
// to write back through the model.
func (m *DetectorModel) CombinedParams() (*params.ParamSet, error) {
	out, err := params.NewParamSet()
	if err != nil {
		return nil, err
	}
	// Shared params read from the first detector carrying them, in
	// sorted order so the combined view is stable between runs.
	sharedNames := make([]string, 0, len(m.shared))
	for name := range m.shared {
		sharedNames = append(sharedNames, name)
	}
	sort.Strings(sharedNames)
	for _, name := range sharedNames {
		p, ok := m.Detectors[0].param(name)
		if !ok {
			return nil, fmt.Errorf("shared parameter %q vanished from detector %q", name, m.Detectors[0].Name)
		}
		cp := *p
		if err := out.Add(&cp); err != nil {
			return nil, err
		}
	}
	for _, d := range m.Detectors {
		for _, pl := range d.Pipelines {
			for _, p := range pl.Params.All() {
				if m.shared[p.Name] {
					continue
				}
				combined := p.Name + "_" + d.Name
				if out.Has(combined) {
					// Same param in several pipelines of one detector:
					// the first occurrence represents it.
					continue
				}
				cp := *p
				cp.Name = combined
				if err := out.Add(&cp); err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

// GetOutputs returns each detector's combined prediction.
func (m *DetectorModel) GetOutputs(ctx context.Context) (map[string]*hist.MapSet, error) {
	outs := make(map[string]*hist.MapSet, len(m.Detectors))
	for _, d := range m.Detectors {
		ms, err := d.GetCombinedOutputs(ctx)
		if err != nil {
			return nil, err
		}
		outs[d.Name] = ms
	}
	return outs, nil
}
