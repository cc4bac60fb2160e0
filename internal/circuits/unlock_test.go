package circuits

import "testing"

func TestDescribeUnlock(t *testing.T) {
	steps := Renumber([]Step{
		{ID: "step-a", Name: "Sign up"},
		{ID: "step-b", Name: "First purchase"},
	})
	stepB := "step-b"
	dangling := "deleted-1"

	testCases := []struct {
		name        string
		reward      Reward
		circuitType CircuitType
		kind        UnlockKind
		label       string
	}{
		{name: "circuit-completion", reward: Reward{UnlockOnCircuitCompletion: true}, circuitType: CircuitTypeObjective, kind: UnlockKindCircuitCompletion, label: "Unlocks on full completion"},
		{name: "objective-step", reward: Reward{StepID: &stepB}, circuitType: CircuitTypeObjective, kind: UnlockKindStep, label: "First purchase"},
		{name: "points-level", reward: Reward{StepID: &stepB}, circuitType: CircuitTypePoints, kind: UnlockKindStep, label: "Level 2"},
		{name: "actions-level", reward: Reward{StepID: &stepB}, circuitType: CircuitTypeActions, kind: UnlockKindStep, label: "Level 2"},
		{name: "dangling-step", reward: Reward{StepID: &dangling}, circuitType: CircuitTypeObjective, kind: UnlockKindUnknownStep, label: "Unknown step"},
		{name: "no-step", reward: Reward{}, circuitType: CircuitTypePoints, kind: UnlockKindUnknownStep, label: "Unknown step"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			description := DescribeUnlock(testCase.reward, testCase.circuitType, steps)
			if description.Kind != testCase.kind {
				t.Fatalf("expected kind %s, got %s", testCase.kind, description.Kind)
			}
			if description.Label != testCase.label {
				t.Fatalf("expected label %q, got %q", testCase.label, description.Label)
			}
		})
	}
}
