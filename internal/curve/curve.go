// Package curve generates per-step completion thresholds for POINTS and ACTIONS circuits.
package curve

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Shape names the interpolation used between the start and max values.
type Shape string

const (
	ShapeLinear      Shape = "linear"
	ShapePower       Shape = "power"
	ShapeLogarithmic Shape = "logarithmic"
)

const (
	MinSteps    = 2
	MaxSteps    = 100
	MinExponent = 1.5
	MaxExponent = 2.5
)

// Params describes a generation request.
type Params struct {
	NumberOfSteps int     `json:"numberOfSteps" yaml:"numberOfSteps"`
	Curve         Shape   `json:"curve" yaml:"curve"`
	StartValue    int     `json:"startValue" yaml:"startValue"`
	MaxValue      int     `json:"maxValue" yaml:"maxValue"`
	Exponent      float64 `json:"exponent,omitempty" yaml:"exponent,omitempty"`
}

// DefaultParams mirrors the generator form defaults.
func DefaultParams() Params {
	return Params{
		NumberOfSteps: 5,
		Curve:         ShapeLinear,
		StartValue:    10,
		MaxValue:      100,
		Exponent:      2,
	}
}

// ValidationError lists every invalid parameter keyed by its field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", key, e.Fields[key]))
	}
	return "curve: invalid parameters (" + strings.Join(parts, "; ") + ")"
}

// ParseShape accepts a shape name in any case.
func ParseShape(value string) (Shape, bool) {
	switch Shape(strings.ToLower(strings.TrimSpace(value))) {
	case ShapeLinear:
		return ShapeLinear, true
	case ShapePower:
		return ShapePower, true
	case ShapeLogarithmic:
		return ShapeLogarithmic, true
	default:
		return "", false
	}
}

// Validate reports every constraint the params violate, or nil.
func (p Params) Validate() error {
	fields := map[string]string{}
	if p.NumberOfSteps < MinSteps || p.NumberOfSteps > MaxSteps {
		fields["numberOfSteps"] = fmt.Sprintf("must be between %d and %d", MinSteps, MaxSteps)
	}
	if _, ok := ParseShape(string(p.Curve)); !ok {
		fields["curve"] = "must be linear, power or logarithmic"
	}
	if p.StartValue < 1 {
		fields["startValue"] = "must be at least 1"
	}
	if p.MaxValue <= p.StartValue {
		fields["maxValue"] = "must be greater than startValue"
	}
	if shape, _ := ParseShape(string(p.Curve)); shape == ShapePower {
		if math.IsNaN(p.Exponent) || p.Exponent < MinExponent || p.Exponent > MaxExponent {
			fields["exponent"] = fmt.Sprintf("must be between %.1f and %.1f", MinExponent, MaxExponent)
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Generate returns NumberOfSteps thresholds interpolated from StartValue towards MaxValue.
// The first element always equals StartValue and no element is below 1.
func Generate(p Params) ([]int, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	shape, _ := ParseShape(string(p.Curve))

	span := float64(p.MaxValue - p.StartValue)
	last := float64(p.NumberOfSteps - 1)
	thresholds := make([]int, p.NumberOfSteps)
	for i := range thresholds {
		progress := float64(i) / last
		value := math.Round(float64(p.StartValue) + span*shapeValue(shape, progress, p.Exponent))
		thresholds[i] = int(math.Max(1, value))
	}
	return thresholds, nil
}

func shapeValue(shape Shape, progress float64, exponent float64) float64 {
	switch shape {
	case ShapePower:
		return math.Pow(progress, exponent)
	case ShapeLogarithmic:
		return math.Log(1+9*progress) / math.Log(10)
	default:
		return progress
	}
}
