package circuits

import (
	"errors"
	"testing"
)

func TestRemoveStepRenumbersFollowingSteps(t *testing.T) {
	steps := []Step{
		{ID: "step-a", StepNumber: 1},
		{ID: "step-b", StepNumber: 2},
		{ID: "step-c", StepNumber: 3},
	}

	remaining, err := RemoveStep(steps, CircuitTypeObjective, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(remaining))
	}
	if remaining[1].ID != "step-c" || remaining[1].StepNumber != 2 {
		t.Fatalf("expected step-c at position 2, got %+v", remaining[1])
	}
	if steps[2].StepNumber != 3 {
		t.Fatalf("input slice must not be mutated")
	}
	assertContiguous(t, remaining)
}

func TestRemoveStepProtectsPointsBaseline(t *testing.T) {
	steps := []Step{{ID: "level-1", StepNumber: 1}, {ID: "level-2", StepNumber: 2}}

	if _, err := RemoveStep(steps, CircuitTypePoints, 0); !errors.Is(err, ErrBaselineStepProtected) {
		t.Fatalf("expected baseline protection, got %v", err)
	}
	if _, err := RemoveStep(steps, CircuitTypeActions, 0); err != nil {
		t.Fatalf("actions circuits may delete their first palier: %v", err)
	}
	if _, err := RemoveStep(steps, CircuitTypePoints, 1); err != nil {
		t.Fatalf("later points levels may be deleted: %v", err)
	}
}

func TestRemoveStepRejectsOutOfRangeIndex(t *testing.T) {
	if _, err := RemoveStep([]Step{{ID: "a", StepNumber: 1}}, CircuitTypeObjective, 3); !errors.Is(err, ErrStepIndexOutOfRange) {
		t.Fatalf("expected out of range error, got %v", err)
	}
}

func TestMoveStepSplicesAndRenumbers(t *testing.T) {
	steps := Renumber([]Step{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}})

	testCases := []struct {
		name     string
		from     int
		to       int
		expected []string
	}{
		{name: "forward", from: 0, to: 2, expected: []string{"b", "c", "a", "d"}},
		{name: "backward", from: 3, to: 1, expected: []string{"a", "d", "b", "c"}},
		{name: "same-position", from: 2, to: 2, expected: []string{"a", "b", "c", "d"}},
		{name: "to-end", from: 1, to: 3, expected: []string{"a", "c", "d", "b"}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			moved, err := MoveStep(steps, CircuitTypeObjective, testCase.from, testCase.to)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for index, expectedID := range testCase.expected {
				if moved[index].ID != expectedID {
					t.Fatalf("expected %v, got %v", testCase.expected, stepIDs(moved))
				}
			}
			assertContiguous(t, moved)
		})
	}
}

func TestMoveStepOnlyForObjectiveCircuits(t *testing.T) {
	steps := Renumber([]Step{{ID: "a"}, {ID: "b"}})
	for _, circuitType := range []CircuitType{CircuitTypePoints, CircuitTypeActions} {
		if _, err := MoveStep(steps, circuitType, 0, 1); !errors.Is(err, ErrReorderNotSupported) {
			t.Fatalf("%s: expected reorder rejection, got %v", circuitType, err)
		}
	}
}

func TestApplyOrderRequiresPermutation(t *testing.T) {
	steps := Renumber([]Step{{ID: "a"}, {ID: "b"}, {ID: "c"}})

	reordered, err := ApplyOrder(steps, CircuitTypeObjective, []StepOrder{
		{StepID: "c", StepNumber: 1},
		{StepID: "a", StepNumber: 2},
		{StepID: "b", StepNumber: 3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := stepIDs(reordered); got[0] != "c" || got[1] != "a" || got[2] != "b" {
		t.Fatalf("unexpected order %v", got)
	}
	assertContiguous(t, reordered)

	invalidOrders := map[string][]StepOrder{
		"missing-entry":   {{StepID: "a", StepNumber: 1}, {StepID: "b", StepNumber: 2}},
		"unknown-step":    {{StepID: "a", StepNumber: 1}, {StepID: "b", StepNumber: 2}, {StepID: "z", StepNumber: 3}},
		"duplicate-slot":  {{StepID: "a", StepNumber: 1}, {StepID: "b", StepNumber: 1}, {StepID: "c", StepNumber: 3}},
		"duplicate-step":  {{StepID: "a", StepNumber: 1}, {StepID: "a", StepNumber: 2}, {StepID: "c", StepNumber: 3}},
		"number-too-high": {{StepID: "a", StepNumber: 1}, {StepID: "b", StepNumber: 2}, {StepID: "c", StepNumber: 4}},
	}
	for name, order := range invalidOrders {
		if _, err := ApplyOrder(steps, CircuitTypeObjective, order); !errors.Is(err, ErrInvalidStepOrder) {
			t.Fatalf("%s: expected invalid order error, got %v", name, err)
		}
	}
}

func TestAppendStepUsesNextNumber(t *testing.T) {
	steps := Renumber([]Step{{ID: "a"}, {ID: "b"}})
	appended := AppendStep(steps, Step{ID: "c", StepNumber: 99})
	if appended[2].StepNumber != 3 {
		t.Fatalf("expected appended step number 3, got %d", appended[2].StepNumber)
	}
	if len(steps) != 2 {
		t.Fatalf("input slice must not grow")
	}
	assertContiguous(t, appended)
}

func TestValidateOrderDetectsGaps(t *testing.T) {
	if err := ValidateOrder([]Step{{StepNumber: 1}, {StepNumber: 3}}); !errors.Is(err, ErrInvalidStepOrder) {
		t.Fatalf("expected gap to be rejected, got %v", err)
	}
	if err := ValidateOrder(nil); err != nil {
		t.Fatalf("empty list is valid: %v", err)
	}
}

func assertContiguous(t *testing.T, steps []Step) {
	t.Helper()
	if err := ValidateOrder(steps); err != nil {
		t.Fatalf("expected contiguous numbering: %v", err)
	}
}

func stepIDs(steps []Step) []string {
	identifiers := make([]string, 0, len(steps))
	for _, step := range steps {
		identifiers = append(identifiers, step.ID)
	}
	return identifiers
}
