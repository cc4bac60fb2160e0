package curve

import (
	"errors"
	"math"
	"testing"
)

func TestGenerateLinearScenario(t *testing.T) {
	thresholds, err := Generate(Params{NumberOfSteps: 4, Curve: ShapeLinear, StartValue: 10, MaxValue: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertThresholds(t, thresholds, []int{10, 40, 70, 100})
}

func TestGeneratePowerScenario(t *testing.T) {
	thresholds, err := Generate(Params{NumberOfSteps: 3, Curve: ShapePower, StartValue: 1, MaxValue: 101, Exponent: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertThresholds(t, thresholds, []int{1, 26, 101})
}

func TestGenerateLogarithmicEndpoints(t *testing.T) {
	thresholds, err := Generate(Params{NumberOfSteps: 5, Curve: ShapeLogarithmic, StartValue: 5, MaxValue: 500})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thresholds[0] != 5 || thresholds[4] != 500 {
		t.Fatalf("unexpected endpoints %v", thresholds)
	}
	// log curves front-load progress
	if thresholds[1]-thresholds[0] <= thresholds[4]-thresholds[3] {
		t.Fatalf("expected larger early increments, got %v", thresholds)
	}
}

func TestGeneratePropertiesAcrossInputs(t *testing.T) {
	shapes := []Shape{ShapeLinear, ShapePower, ShapeLogarithmic}
	for _, shape := range shapes {
		for steps := MinSteps; steps <= 12; steps++ {
			for _, bounds := range [][2]int{{1, 2}, {1, 5}, {10, 100}, {3, 10000}} {
				params := Params{NumberOfSteps: steps, Curve: shape, StartValue: bounds[0], MaxValue: bounds[1], Exponent: 2.5}
				first, err := Generate(params)
				if err != nil {
					t.Fatalf("%+v: unexpected error: %v", params, err)
				}
				second, _ := Generate(params)

				if len(first) != steps {
					t.Fatalf("%+v: expected %d thresholds, got %d", params, steps, len(first))
				}
				if first[0] != params.StartValue {
					t.Fatalf("%+v: first threshold %d, want %d", params, first[0], params.StartValue)
				}
				wantLast := int(math.Max(1, math.Round(float64(params.StartValue)+float64(params.MaxValue-params.StartValue)*shapeValue(shape, 1, params.Exponent))))
				if first[len(first)-1] != wantLast {
					t.Fatalf("%+v: last threshold %d, want %d", params, first[len(first)-1], wantLast)
				}
				for index := range first {
					if first[index] < 1 {
						t.Fatalf("%+v: threshold below floor at %d: %v", params, index, first)
					}
					if index > 0 && first[index] < first[index-1] {
						t.Fatalf("%+v: thresholds not monotonic: %v", params, first)
					}
					if first[index] != second[index] {
						t.Fatalf("%+v: generation is not deterministic", params)
					}
				}
			}
		}
	}
}

func TestGenerateLinearStrictlyIncreasingWhenSpanAllows(t *testing.T) {
	thresholds, err := Generate(Params{NumberOfSteps: 10, Curve: ShapeLinear, StartValue: 1, MaxValue: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for index := 1; index < len(thresholds); index++ {
		if thresholds[index] <= thresholds[index-1] {
			t.Fatalf("expected strictly increasing thresholds, got %v", thresholds)
		}
	}
}

func TestGenerateRejectsInvalidParams(t *testing.T) {
	testCases := []struct {
		name   string
		params Params
		field  string
	}{
		{name: "single-step", params: Params{NumberOfSteps: 1, Curve: ShapeLinear, StartValue: 1, MaxValue: 10}, field: "numberOfSteps"},
		{name: "too-many-steps", params: Params{NumberOfSteps: 101, Curve: ShapeLinear, StartValue: 1, MaxValue: 10}, field: "numberOfSteps"},
		{name: "unknown-curve", params: Params{NumberOfSteps: 3, Curve: "cubic", StartValue: 1, MaxValue: 10}, field: "curve"},
		{name: "zero-start", params: Params{NumberOfSteps: 3, Curve: ShapeLinear, StartValue: 0, MaxValue: 10}, field: "startValue"},
		{name: "max-not-greater", params: Params{NumberOfSteps: 3, Curve: ShapeLinear, StartValue: 10, MaxValue: 10}, field: "maxValue"},
		{name: "exponent-out-of-range", params: Params{NumberOfSteps: 3, Curve: ShapePower, StartValue: 1, MaxValue: 10, Exponent: 3}, field: "exponent"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := Generate(testCase.params)
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if _, ok := validationErr.Fields[testCase.field]; !ok {
				t.Fatalf("expected field %s in %v", testCase.field, validationErr.Fields)
			}
		})
	}
}

func TestExponentIgnoredForNonPowerCurves(t *testing.T) {
	if _, err := Generate(Params{NumberOfSteps: 3, Curve: ShapeLinear, StartValue: 1, MaxValue: 10, Exponent: 9}); err != nil {
		t.Fatalf("expected exponent to be ignored for linear curve: %v", err)
	}
}

func TestParseShapeIsCaseInsensitive(t *testing.T) {
	shape, ok := ParseShape(" Power ")
	if !ok || shape != ShapePower {
		t.Fatalf("unexpected parse result %q %v", shape, ok)
	}
}

func assertThresholds(t *testing.T, got []int, want []int) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for index := range want {
		if got[index] != want[index] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
