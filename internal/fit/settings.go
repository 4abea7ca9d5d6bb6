package fit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MinimizerSettings configures the numerical minimization. The zero
// value is not usable; start from DefaultSettings or a settings file.
type MinimizerSettings struct {
	// Method selects the optimizer. Only "nelder-mead" is supported.
	Method string `json:"method"`
	// Tolerance is the absolute function-value convergence threshold.
	Tolerance float64 `json:"tolerance"`
	// MaxIterations caps the number of major optimizer iterations.
	MaxIterations int `json:"max_iterations"`
}

// DefaultSettings returns the settings used when no file is given.
func DefaultSettings() MinimizerSettings {
	return MinimizerSettings{
		Method:        "nelder-mead",
		Tolerance:     1e-6,
		MaxIterations: 2000,
	}
}

// Validate checks the settings are usable.
func (s MinimizerSettings) Validate() error {
	if s.Method != "nelder-mead" {
		return fmt.Errorf("unsupported minimizer method %q (have nelder-mead)", s.Method)
	}
	if s.Tolerance <= 0 {
		return fmt.Errorf("minimizer tolerance must be positive, got %v", s.Tolerance)
	}
	if s.MaxIterations < 1 {
		return fmt.Errorf("minimizer max_iterations must be >= 1, got %d", s.MaxIterations)
	}
	return nil
}

// LoadSettings reads minimizer settings from a JSON file. Fields
// omitted from the file keep their defaults.
func LoadSettings(path string) (MinimizerSettings, error) {
	s := DefaultSettings()

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return s, fmt.Errorf("minimizer settings file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return s, fmt.Errorf("read minimizer settings: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse minimizer settings %q: %w", cleanPath, err)
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("invalid minimizer settings %q: %w", cleanPath, err)
	}
	return s, nil
}
