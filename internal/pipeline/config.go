package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/caldera-data/oscillation.report/internal/binning"
	"github.com/caldera-data/oscillation.report/internal/params"
)

// maxConfigSize caps pipeline config files at 1MB.
const maxConfigSize = 1 * 1024 * 1024

// DimensionConfig declares one binning dimension in a config file.
type DimensionConfig struct {
	Name    string  `yaml:"name"`
	Units   string  `yaml:"units,omitempty"`
	NBins   int     `yaml:"nbins"`
	Lo      float64 `yaml:"lo"`
	Hi      float64 `yaml:"hi"`
	Spacing string  `yaml:"spacing,omitempty"` // "linear" (default) or "log"
}

// PriorConfig declares a Gaussian prior on a parameter.
type PriorConfig struct {
	Mean  float64 `yaml:"mean"`
	Sigma float64 `yaml:"sigma"`
}

// ParamConfig declares one fit parameter.
type ParamConfig struct {
	Name    string       `yaml:"name"`
	Value   float64      `yaml:"value"`
	Nominal *float64     `yaml:"nominal,omitempty"` // defaults to value
	Units   string       `yaml:"units,omitempty"`
	Range   []float64    `yaml:"range,omitempty"`
	Fixed   bool         `yaml:"fixed,omitempty"`
	Prior   *PriorConfig `yaml:"prior,omitempty"`
}

// Config is a parsed pipeline configuration file.
type Config struct {
	Name        string            `yaml:"name"`
	EventsFile  string            `yaml:"events_file"`
	TrueBinning []DimensionConfig `yaml:"true_binning"`
	RecoBinning []DimensionConfig `yaml:"reco_binning"`
	Stages      []string          `yaml:"stages"`
	Params      []ParamConfig     `yaml:"params"`
}

// LoadConfig reads and validates a pipeline configuration. Relative
// events_file paths resolve against the config file's directory.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("pipeline config must have .yaml extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat pipeline config: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("pipeline config too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read pipeline config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse pipeline config %q: %w", cleanPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config %q: %w", cleanPath, err)
	}
	if cfg.EventsFile != "" && !filepath.IsAbs(cfg.EventsFile) {
		cfg.EventsFile = filepath.Join(filepath.Dir(cleanPath), cfg.EventsFile)
	}
	return &cfg, nil
}

// Validate checks the structural constraints a usable config must meet.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("pipeline needs a name")
	}
	if len(c.Stages) == 0 {
		return fmt.Errorf("pipeline %q declares no stages", c.Name)
	}
	if len(c.TrueBinning) == 0 {
		return fmt.Errorf("pipeline %q declares no true binning", c.Name)
	}
	for _, d := range append(append([]DimensionConfig{}, c.TrueBinning...), c.RecoBinning...) {
		switch d.Spacing {
		case "", "linear", "log":
		default:
			return fmt.Errorf("dimension %q: unknown spacing %q", d.Name, d.Spacing)
		}
	}
	for _, p := range c.Params {
		if p.Name == "" {
			return fmt.Errorf("pipeline %q: parameter with empty name", c.Name)
		}
		if len(p.Range) != 0 && len(p.Range) != 2 {
			return fmt.Errorf("parameter %q: range must have 2 entries, got %d", p.Name, len(p.Range))
		}
		if p.Prior != nil && p.Prior.Sigma <= 0 {
			return fmt.Errorf("parameter %q: prior sigma must be positive", p.Name)
		}
	}
	return nil
}

// buildBinning converts dimension configs into a MultiDimBinning.
func buildBinning(dims []DimensionConfig) (*binning.MultiDimBinning, error) {
	if len(dims) == 0 {
		return nil, nil
	}
	built := make([]binning.Dimension, len(dims))
	for i, dc := range dims {
		var (
			d   binning.Dimension
			err error
		)
		if dc.Spacing == "log" {
			d, err = binning.NewLog(dc.Name, dc.Units, dc.NBins, dc.Lo, dc.Hi)
		} else {
			d, err = binning.NewLinear(dc.Name, dc.Units, dc.NBins, dc.Lo, dc.Hi)
		}
		if err != nil {
			return nil, err
		}
		built[i] = d
	}
	return binning.New(built...)
}

// buildParams converts parameter configs into a ParamSet.
func buildParams(cfgs []ParamConfig) (*params.ParamSet, error) {
	ps, err := params.NewParamSet()
	if err != nil {
		return nil, err
	}
	for _, pc := range cfgs {
		nominal := pc.Value
		if pc.Nominal != nil {
			nominal = *pc.Nominal
		}
		p := &params.Param{
			Name:    pc.Name,
			Value:   pc.Value,
			Nominal: nominal,
			Units:   pc.Units,
			IsFixed: pc.Fixed,
		}
		if len(pc.Range) == 2 {
			p.Range = [2]float64{pc.Range[0], pc.Range[1]}
		}
		if pc.Prior != nil {
			p.Prior = &params.GaussianPrior{Mean: pc.Prior.Mean, Sigma: pc.Prior.Sigma}
		}
		if err := ps.Add(p); err != nil {
			return nil, err
		}
	}
	return ps, nil
}
