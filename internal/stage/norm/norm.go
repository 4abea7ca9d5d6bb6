// Package norm implements the final normalization stage: an overall
// scale on every channel plus a dedicated scale for neutral-current
// channels, whose rate is known less precisely.
package norm

import (
	"context"
	"fmt"
	"strings"

	"github.com/caldera-data/oscillation.report/internal/hist"
	"github.com/caldera-data/oscillation.report/internal/params"
	"github.com/caldera-data/oscillation.report/internal/stage"
)

var expected = []string{"overall_norm", "nc_norm"}

// Stage scales channel maps in place of a final detector calibration.
type Stage struct {
	params *params.ParamSet
}

// New validates the parameter set and builds the stage.
func New(ps *params.ParamSet) (*Stage, error) {
	if err := stage.CheckParams("norm", ps, expected); err != nil {
		return nil, err
	}
	return &Stage{params: ps}, nil
}

// Name implements Stage.
func (s *Stage) Name() string { return "norm" }

// ExpectedParams implements Stage.
func (s *Stage) ExpectedParams() []string { return expected }

// Apply scales every map; *_nc channels additionally get nc_norm.
func (s *Stage) Apply(ctx context.Context, input *hist.MapSet) (*hist.MapSet, error) {
	if input == nil {
		return nil, fmt.Errorf("stage norm: needs input maps")
	}
	if err := stage.Cancelled(ctx, "norm"); err != nil {
		return nil, err
	}

	overall, _ := s.params.Value("overall_norm")
	ncNorm, _ := s.params.Value("nc_norm")

	out := input.Clone()
	out.Name = "norm"
	for _, m := range out.Maps {
		k := overall
		if strings.HasSuffix(m.Name, "_nc") {
			k *= ncNorm
		}
		m.Scale(k)
	}
	return out, nil
}
