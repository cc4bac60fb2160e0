package circuits

import "fmt"

// UnlockKind classifies how a reward is unlocked.
type UnlockKind string

const (
	UnlockKindCircuitCompletion UnlockKind = "circuit_completion"
	UnlockKindStep              UnlockKind = "step"
	UnlockKindUnknownStep       UnlockKind = "unknown_step"
)

const (
	circuitCompletionLabel = "Unlocks on full completion"
	unknownStepLabel       = "Unknown step"
)

// UnlockDescription is the display form of a reward's unlock condition.
type UnlockDescription struct {
	Kind       UnlockKind
	Label      string
	StepNumber int
}

// DescribeUnlock resolves the reward's unlock condition against the circuit's current steps.
// A step reference that no longer resolves yields a placeholder instead of an error.
func DescribeUnlock(reward Reward, circuitType CircuitType, steps []Step) UnlockDescription {
	if reward.UnlockOnCircuitCompletion {
		return UnlockDescription{Kind: UnlockKindCircuitCompletion, Label: circuitCompletionLabel}
	}
	if reward.StepID == nil {
		return UnlockDescription{Kind: UnlockKindUnknownStep, Label: unknownStepLabel}
	}
	step, index, found := FindStep(steps, *reward.StepID)
	if !found {
		return UnlockDescription{Kind: UnlockKindUnknownStep, Label: unknownStepLabel}
	}
	position := index + 1
	if circuitType.IsLevelBased() {
		return UnlockDescription{Kind: UnlockKindStep, Label: fmt.Sprintf("Level %d", position), StepNumber: position}
	}
	return UnlockDescription{Kind: UnlockKindStep, Label: step.Name, StepNumber: position}
}
