// Package aeff implements the effective-area stage: oscillated flux
// maps are weighted by per-channel effective areas derived from a
// Monte Carlo event sample, then scaled by livetime. The per-channel
// effective area is the histogram of effective-area weights divided by
// bin volumes (and the solid-angle factor for the absent azimuth
// dimension).
package aeff

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/caldera-data/oscillation.report/internal/binning"
	"github.com/caldera-data/oscillation.report/internal/events"
	"github.com/caldera-data/oscillation.report/internal/hist"
	"github.com/caldera-data/oscillation.report/internal/monitoring"
	"github.com/caldera-data/oscillation.report/internal/params"
	"github.com/caldera-data/oscillation.report/internal/stage"
)

const (
	// secondsPerYear converts the livetime parameter (years) to the
	// seconds the effective-area weights expect.
	secondsPerYear = 3.1557e7
	// missingAzimuthVol accounts for the azimuth dimension the binning
	// does not carry; effective-area weights integrate over it.
	missingAzimuthVol = 2 * math.Pi
)

var expected = []string{"livetime", "aeff_scale", "nutau_cc_norm"}

// Stage weights flavour maps into per-channel event-count maps.
type Stage struct {
	params  *params.ParamSet
	binning *binning.MultiDimBinning

	// nominal holds the per-channel effective-area maps, computed once
	// from the event sample at construction.
	nominal map[string]*hist.Map
}

// New histograms the event sample into nominal effective-area maps.
// The binning must be the true binning the osc stage produced.
func New(ps *params.ParamSet, b *binning.MultiDimBinning, sample *events.Sample) (*Stage, error) {
	if err := stage.CheckParams("aeff", ps, expected); err != nil {
		return nil, err
	}
	if sample == nil || sample.Len() == 0 {
		return nil, fmt.Errorf("stage aeff: event sample is empty")
	}

	vols := b.BinVolumes()
	nominal := make(map[string]*hist.Map)
	for _, ch := range sample.Channels() {
		m, err := sample.Histogram(ch, b, events.WeightAeff)
		if err != nil {
			return nil, fmt.Errorf("stage aeff: histogram channel %s: %w", ch, err)
		}
		for i := range m.Values {
			denom := vols[i] * missingAzimuthVol
			m.Values[i] /= denom
			m.Sumw2[i] /= denom * denom
		}
		nominal[ch] = m
		monitoring.Debugf("aeff: channel %s nominal transform built from %d events",
			ch, len(sample.Channel(ch)))
	}
	return &Stage{params: ps, binning: b, nominal: nominal}, nil
}

// Name implements Stage.
func (s *Stage) Name() string { return "aeff" }

// ExpectedParams implements Stage.
func (s *Stage) ExpectedParams() []string { return expected }

// Channels returns the event channels the stage can produce.
func (s *Stage) Channels() []string {
	chans := make([]string, 0, len(s.nominal))
	for ch := range s.nominal {
		chans = append(chans, ch)
	}
	return chans
}

// Apply weights each input flavour map by the matching channels'
// effective areas. A channel numu_cc consumes the input map numu.
func (s *Stage) Apply(ctx context.Context, input *hist.MapSet) (*hist.MapSet, error) {
	if input == nil {
		return nil, fmt.Errorf("stage aeff: needs oscillated flux input maps")
	}
	if err := stage.Cancelled(ctx, "aeff"); err != nil {
		return nil, err
	}

	livetime, _ := s.params.Value("livetime")
	aeffScale, _ := s.params.Value("aeff_scale")
	nutauNorm, _ := s.params.Value("nutau_cc_norm")
	scale := livetime * secondsPerYear * aeffScale

	var maps []*hist.Map
	for _, in := range input.Maps {
		if !in.Binning.Compatible(s.binning) {
			return nil, fmt.Errorf("stage aeff: input map %q binning %s does not match stage binning %s",
				in.Name, in.Binning, s.binning)
		}
		for _, inter := range []string{"cc", "nc"} {
			ch := in.Name + "_" + inter
			aeff, ok := s.nominal[ch]
			if !ok {
				continue
			}
			out := in.Clone()
			out.Name = ch
			if err := out.MulElems(aeff); err != nil {
				return nil, fmt.Errorf("stage aeff: channel %s: %w", ch, err)
			}
			k := scale
			if inter == "cc" && strings.HasPrefix(in.Name, "nutau") {
				k *= nutauNorm
			}
			out.Scale(k)
			maps = append(maps, out)
		}
	}
	if len(maps) == 0 {
		return nil, fmt.Errorf("stage aeff: no input map matched any event channel (channels %v)", s.Channels())
	}
	return hist.NewMapSet("aeff", maps...)
}
