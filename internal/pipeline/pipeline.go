// Package pipeline assembles configured stages into a runnable chain
// producing a predicted event-count distribution. Pipelines are built
// from YAML configuration files naming the binning, the stage order and
// the fit parameters.
package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/zeebo/blake3"

	"github.com/caldera-data/oscillation.report/internal/binning"
	"github.com/caldera-data/oscillation.report/internal/events"
	"github.com/caldera-data/oscillation.report/internal/hist"
	"github.com/caldera-data/oscillation.report/internal/monitoring"
	"github.com/caldera-data/oscillation.report/internal/params"
	"github.com/caldera-data/oscillation.report/internal/stage"
	"github.com/caldera-data/oscillation.report/internal/stage/aeff"
	"github.com/caldera-data/oscillation.report/internal/stage/flux"
	"github.com/caldera-data/oscillation.report/internal/stage/norm"
	"github.com/caldera-data/oscillation.report/internal/stage/osc"
	"github.com/caldera-data/oscillation.report/internal/stage/reco"
)

// Pipeline runs an ordered list of stages over a shared parameter set.
type Pipeline struct {
	Name   string
	Params *params.ParamSet

	trueBinning *binning.MultiDimBinning
	recoBinning *binning.MultiDimBinning
	stages      []stage.Stage

	// Outputs are cached against a hash of the parameter state so
	// repeated evaluations at unchanged parameters are free.
	cacheHash [32]byte
	cached    *hist.MapSet
}

// New builds a pipeline from a parsed config. sample may carry a
// preloaded event sample; when nil and the config names an events file,
// the file is loaded.
func New(cfg *Config, sample *events.Sample) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	trueB, err := buildBinning(cfg.TrueBinning)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: true binning: %w", cfg.Name, err)
	}
	recoB, err := buildBinning(cfg.RecoBinning)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: reco binning: %w", cfg.Name, err)
	}

	ps, err := buildParams(cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", cfg.Name, err)
	}

	p := &Pipeline{
		Name:        cfg.Name,
		Params:      ps,
		trueBinning: trueB,
		recoBinning: recoB,
	}

	for _, name := range cfg.Stages {
		st, err := p.buildStage(name, cfg, sample)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", cfg.Name, err)
		}
		p.stages = append(p.stages, st)
	}
	return p, nil
}

// LoadPipeline is the one-call construction used by tools: read the
// config file and build the pipeline.
func LoadPipeline(path string) (*Pipeline, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, nil)
}

// buildStage constructs one named stage bound to its parameter subset.
func (p *Pipeline) buildStage(name string, cfg *Config, sample *events.Sample) (stage.Stage, error) {
	sub := func(expected []string) (*params.ParamSet, error) {
		return p.Params.Select(expected)
	}
	switch name {
	case "flux":
		ps, err := sub([]string{"flux_norm", "delta_index", "nue_numu_ratio", "nu_nubar_ratio"})
		if err != nil {
			return nil, err
		}
		return flux.New(ps, p.trueBinning)
	case "osc":
		ps, err := sub([]string{"theta12", "theta13", "theta23", "deltacp", "deltam21", "deltam31"})
		if err != nil {
			return nil, err
		}
		return osc.New(ps, p.trueBinning)
	case "aeff":
		ps, err := sub([]string{"livetime", "aeff_scale", "nutau_cc_norm"})
		if err != nil {
			return nil, err
		}
		if sample == nil {
			if cfg.EventsFile == "" {
				return nil, fmt.Errorf("stage aeff: config names no events_file and no sample was provided")
			}
			sample, err = events.Open(cfg.EventsFile)
			if err != nil {
				return nil, err
			}
		}
		return aeff.New(ps, p.trueBinning, sample)
	case "reco":
		ps, err := sub([]string{"energy_res", "coszen_res"})
		if err != nil {
			return nil, err
		}
		if p.recoBinning == nil {
			return nil, fmt.Errorf("stage reco: config declares no reco binning")
		}
		return reco.New(ps, p.trueBinning, p.recoBinning)
	case "norm":
		ps, err := sub([]string{"overall_norm", "nc_norm"})
		if err != nil {
			return nil, err
		}
		return norm.New(ps)
	}
	return nil, fmt.Errorf("unknown stage %q", name)
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// OutputBinning returns the binning of the pipeline's final maps.
func (p *Pipeline) OutputBinning() *binning.MultiDimBinning {
	if p.recoBinning != nil {
		return p.recoBinning
	}
	return p.trueBinning
}

// paramHash fingerprints the current parameter state.
func (p *Pipeline) paramHash() [32]byte {
	h := blake3.New()
	for _, name := range p.Params.SortedNames() {
		v, _ := p.Params.Value(name)
		h.Write([]byte(name))
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// GetOutputs runs the stage chain and returns the output maps. Results
// are cached per parameter state; callers receive a private copy.
func (p *Pipeline) GetOutputs(ctx context.Context) (*hist.MapSet, error) {
	hash := p.paramHash()
	if p.cached != nil && hash == p.cacheHash {
		monitoring.Debugf("pipeline %s: outputs served from cache", p.Name)
		return p.cached.Clone(), nil
	}

	start := time.Now()
	var ms *hist.MapSet
	for _, st := range p.stages {
		out, err := st.Apply(ctx, ms)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
		ms = out
	}
	if ms == nil {
		return nil, fmt.Errorf("pipeline %q produced no output", p.Name)
	}
	ms.Name = p.Name
	monitoring.Debugf("pipeline %s: %d stages in %v", p.Name, len(p.stages), time.Since(start))

	p.cacheHash = hash
	p.cached = ms
	return ms.Clone(), nil
}

// GetTotalOutput returns the pipeline's channel maps summed into one.
func (p *Pipeline) GetTotalOutput(ctx context.Context) (*hist.Map, error) {
	ms, err := p.GetOutputs(ctx)
	if err != nil {
		return nil, err
	}
	return ms.Sum()
}
