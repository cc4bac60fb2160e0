package circuits

import (
	"errors"
	"fmt"
)

var (
	// ErrBaselineStepProtected rejects deleting the first level of a POINTS circuit.
	ErrBaselineStepProtected = errors.New("circuits: the baseline level of a points circuit cannot be deleted")
	// ErrReorderNotSupported rejects reordering anything but OBJECTIVE circuits.
	ErrReorderNotSupported = errors.New("circuits: only objective circuits can be reordered")
	// ErrStepIndexOutOfRange indicates a position outside the step list.
	ErrStepIndexOutOfRange = errors.New("circuits: step index out of range")
	// ErrInvalidStepOrder indicates step numbers that are not exactly 1..N in array order.
	ErrInvalidStepOrder = errors.New("circuits: invalid step order")
)

// Renumber returns a copy of steps with StepNumber set from the array position.
func Renumber(steps []Step) []Step {
	renumbered := make([]Step, len(steps))
	copy(renumbered, steps)
	for index := range renumbered {
		renumbered[index].StepNumber = index + 1
	}
	return renumbered
}

// AppendStep returns a copy of steps with step added at the end.
func AppendStep(steps []Step, step Step) []Step {
	appended := make([]Step, 0, len(steps)+1)
	appended = append(appended, steps...)
	step.StepNumber = len(steps) + 1
	return append(appended, step)
}

// RemoveStep splices out the step at index and renumbers the remainder.
func RemoveStep(steps []Step, circuitType CircuitType, index int) ([]Step, error) {
	if index < 0 || index >= len(steps) {
		return nil, fmt.Errorf("%w: %d", ErrStepIndexOutOfRange, index)
	}
	if circuitType == CircuitTypePoints && steps[index].StepNumber == 1 {
		return nil, ErrBaselineStepProtected
	}
	remaining := make([]Step, 0, len(steps)-1)
	remaining = append(remaining, steps[:index]...)
	remaining = append(remaining, steps[index+1:]...)
	return Renumber(remaining), nil
}

// MoveStep moves the step at from to position to and renumbers every step.
func MoveStep(steps []Step, circuitType CircuitType, from, to int) ([]Step, error) {
	if circuitType != CircuitTypeObjective {
		return nil, ErrReorderNotSupported
	}
	if from < 0 || from >= len(steps) {
		return nil, fmt.Errorf("%w: %d", ErrStepIndexOutOfRange, from)
	}
	if to < 0 || to >= len(steps) {
		return nil, fmt.Errorf("%w: %d", ErrStepIndexOutOfRange, to)
	}
	moved := steps[from]
	reordered := make([]Step, 0, len(steps))
	reordered = append(reordered, steps[:from]...)
	reordered = append(reordered, steps[from+1:]...)
	reordered = append(reordered[:to], append([]Step{moved}, reordered[to:]...)...)
	return Renumber(reordered), nil
}

// ApplyOrder rearranges steps according to an explicit order. The order must name
// every step exactly once and use the numbers 1..N.
func ApplyOrder(steps []Step, circuitType CircuitType, order []StepOrder) ([]Step, error) {
	if circuitType != CircuitTypeObjective {
		return nil, ErrReorderNotSupported
	}
	if len(order) != len(steps) {
		return nil, fmt.Errorf("%w: expected %d entries, got %d", ErrInvalidStepOrder, len(steps), len(order))
	}
	reordered := make([]Step, len(steps))
	filled := make([]bool, len(steps))
	seen := make(map[string]struct{}, len(order))
	for _, entry := range order {
		step, _, ok := FindStep(steps, entry.StepID)
		if !ok {
			return nil, fmt.Errorf("%w: unknown step %q", ErrInvalidStepOrder, entry.StepID)
		}
		if _, duplicate := seen[entry.StepID]; duplicate {
			return nil, fmt.Errorf("%w: step %q listed twice", ErrInvalidStepOrder, entry.StepID)
		}
		seen[entry.StepID] = struct{}{}
		position := entry.StepNumber - 1
		if position < 0 || position >= len(steps) || filled[position] {
			return nil, fmt.Errorf("%w: step number %d", ErrInvalidStepOrder, entry.StepNumber)
		}
		reordered[position] = step
		filled[position] = true
	}
	return Renumber(reordered), nil
}

// ValidateOrder reports an error unless StepNumber values are exactly 1..N in array order.
func ValidateOrder(steps []Step) error {
	for index, step := range steps {
		if step.StepNumber != index+1 {
			return fmt.Errorf("%w: position %d holds step number %d", ErrInvalidStepOrder, index+1, step.StepNumber)
		}
	}
	return nil
}
