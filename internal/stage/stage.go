// Package stage defines the interface pipeline stages implement and
// shared parameter validation. A stage transforms a map set into
// another map set; the first stage in a pipeline receives nil input.
package stage

import (
	"context"
	"fmt"

	"github.com/caldera-data/oscillation.report/internal/hist"
	"github.com/caldera-data/oscillation.report/internal/params"
)

// Stage is one step of a pipeline.
type Stage interface {
	// Name identifies the stage in configs and logs.
	Name() string
	// ExpectedParams lists the parameter names the stage requires.
	ExpectedParams() []string
	// Apply transforms the input maps. Source stages receive nil.
	Apply(ctx context.Context, input *hist.MapSet) (*hist.MapSet, error)
}

// CheckParams verifies that the set carries exactly the expected
// parameters, mirroring the strict per-stage contract: a missing
// parameter is a config error, an extra one is a wiring mistake.
func CheckParams(stageName string, ps *params.ParamSet, expected []string) error {
	want := make(map[string]bool, len(expected))
	for _, name := range expected {
		want[name] = true
		if !ps.Has(name) {
			return fmt.Errorf("stage %s: missing parameter %q", stageName, name)
		}
	}
	for _, name := range ps.Names() {
		if !want[name] {
			return fmt.Errorf("stage %s: unexpected parameter %q", stageName, name)
		}
	}
	return nil
}

// Cancelled returns the context error wrapped with the stage name, or
// nil. Stages call it before heavy loops.
func Cancelled(ctx context.Context, stageName string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("stage %s: %w", stageName, err)
	}
	return nil
}
