package circuitssdk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MutationState tracks one optimistic edit of an Editor.
type MutationState string

const (
	MutationIdle       MutationState = "idle"
	MutationPending    MutationState = "pending"
	MutationCommitted  MutationState = "committed"
	MutationRolledBack MutationState = "rolled_back"
)

const temporaryIDPrefix = "tmp-"

var (
	ErrStepNotFound     = errors.New("circuitssdk: step not found")
	ErrInvalidMove      = errors.New("circuitssdk: move index out of range")
	ErrReorderObjective = errors.New("circuitssdk: only OBJECTIVE circuits can be reordered")
)

// StepBackend is the subset of Client the Editor persists through.
type StepBackend interface {
	AddStep(ctx context.Context, circuitID string, input StepInput) (Step, error)
	UpdateStep(ctx context.Context, circuitID, stepID string, input StepInput) (Step, error)
	DeleteStep(ctx context.Context, circuitID, stepID string) error
	UpdateStepsOrder(ctx context.Context, circuitID string, order []StepOrder) (Circuit, error)
	RenameCircuit(ctx context.Context, circuitID, name string) (Circuit, error)
}

// Mutation is the latest state change of any edit. Err is set when that edit rolled back.
type Mutation struct {
	Operation string
	State     MutationState
	Err       error
}

// Editor mirrors one circuit locally and applies edits optimistically: local state
// changes first, the backend is called, and a rejected call undoes that edit alone.
// Edits never wait on each other; when responses overlap the last one to arrive wins.
// Nothing is retried.
type Editor struct {
	backend StepBackend

	mu       sync.Mutex
	circuit  Circuit
	version  int
	pending  int
	last     Mutation
	nextTemp int
}

// edit is one in-flight mutation. snapshot is restored as-is when nothing else touched
// the circuit since the edit began; otherwise revert undoes just this edit.
type edit struct {
	operation string
	circuitID string
	snapshot  Circuit
	version   int
	revert    func(circuit *Circuit)
}

// NewEditor starts editing circuit through backend.
func NewEditor(backend StepBackend, circuit Circuit) *Editor {
	return &Editor{
		backend: backend,
		circuit: cloneCircuit(circuit),
		last:    Mutation{State: MutationIdle},
	}
}

// Circuit returns a copy of the local circuit.
func (e *Editor) Circuit() Circuit {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneCircuit(e.circuit)
}

// Steps returns a copy of the local step list.
func (e *Editor) Steps() []Step {
	return e.Circuit().Steps
}

// Mutation reports the most recent state change.
func (e *Editor) Mutation() Mutation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Pending counts edits still waiting on the backend.
func (e *Editor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// AddStep appends a step under a temporary id and swaps in the server step once persisted.
func (e *Editor) AddStep(ctx context.Context, input StepInput) (Step, error) {
	var tempID string
	current, err := e.begin("add_step", func(circuit *Circuit) (func(*Circuit), error) {
		e.nextTemp++
		tempID = fmt.Sprintf("%s%d", temporaryIDPrefix, e.nextTemp)
		circuit.Steps = append(circuit.Steps, Step{
			ID:                  tempID,
			Name:                input.Name,
			Description:         input.Description,
			EventName:           input.EventName,
			CompletionThreshold: input.CompletionThreshold,
			StepNumber:          len(circuit.Steps) + 1,
		})
		return func(circuit *Circuit) {
			if index := stepIndex(circuit.Steps, tempID); index >= 0 {
				circuit.Steps = append(circuit.Steps[:index], circuit.Steps[index+1:]...)
				renumber(circuit.Steps)
			}
		}, nil
	})
	if err != nil {
		return Step{}, err
	}
	created, err := e.backend.AddStep(ctx, current.circuitID, input)
	e.finish(current, err, func(circuit *Circuit) {
		if index := stepIndex(circuit.Steps, tempID); index >= 0 {
			created.StepNumber = circuit.Steps[index].StepNumber
			circuit.Steps[index] = created
		}
	})
	return created, err
}

// UpdateStep edits a step locally and persists it.
func (e *Editor) UpdateStep(ctx context.Context, stepID string, input StepInput) (Step, error) {
	current, err := e.begin("update_step", func(circuit *Circuit) (func(*Circuit), error) {
		index := stepIndex(circuit.Steps, stepID)
		if index < 0 {
			return nil, ErrStepNotFound
		}
		prior := circuit.Steps[index]
		step := &circuit.Steps[index]
		step.Name = input.Name
		step.Description = input.Description
		if input.EventName != "" {
			step.EventName = input.EventName
		}
		step.CompletionThreshold = input.CompletionThreshold
		applied := *step
		return func(circuit *Circuit) {
			index := stepIndex(circuit.Steps, stepID)
			if index < 0 {
				return
			}
			// a later edit of the same step wins
			candidate := circuit.Steps[index]
			candidate.StepNumber = applied.StepNumber
			if candidate != applied {
				return
			}
			prior.StepNumber = circuit.Steps[index].StepNumber
			circuit.Steps[index] = prior
		}, nil
	})
	if err != nil {
		return Step{}, err
	}
	updated, err := e.backend.UpdateStep(ctx, current.circuitID, stepID, input)
	e.finish(current, err, func(circuit *Circuit) {
		if index := stepIndex(circuit.Steps, stepID); index >= 0 {
			updated.StepNumber = circuit.Steps[index].StepNumber
			circuit.Steps[index] = updated
		}
	})
	return updated, err
}

// DeleteStep removes a step locally, renumbers the rest and persists the removal.
func (e *Editor) DeleteStep(ctx context.Context, stepID string) error {
	current, err := e.begin("delete_step", func(circuit *Circuit) (func(*Circuit), error) {
		index := stepIndex(circuit.Steps, stepID)
		if index < 0 {
			return nil, ErrStepNotFound
		}
		removed := circuit.Steps[index]
		circuit.Steps = append(circuit.Steps[:index], circuit.Steps[index+1:]...)
		renumber(circuit.Steps)
		return func(circuit *Circuit) {
			if stepIndex(circuit.Steps, stepID) >= 0 {
				return
			}
			at := index
			if at > len(circuit.Steps) {
				at = len(circuit.Steps)
			}
			circuit.Steps = append(circuit.Steps[:at], append([]Step{removed}, circuit.Steps[at:]...)...)
			renumber(circuit.Steps)
		}, nil
	})
	if err != nil {
		return err
	}
	err = e.backend.DeleteStep(ctx, current.circuitID, stepID)
	e.finish(current, err, nil)
	return err
}

// MoveStep splices the step at from into position to (0-based) and persists the full order.
func (e *Editor) MoveStep(ctx context.Context, from, to int) error {
	var order []StepOrder
	current, err := e.begin("reorder_steps", func(circuit *Circuit) (func(*Circuit), error) {
		if !strings.EqualFold(circuit.Type, "OBJECTIVE") {
			return nil, ErrReorderObjective
		}
		count := len(circuit.Steps)
		if from < 0 || from >= count || to < 0 || to >= count {
			return nil, ErrInvalidMove
		}
		priorPositions := make(map[string]int, count)
		for index, step := range circuit.Steps {
			priorPositions[step.ID] = index
		}
		moved := circuit.Steps[from]
		remaining := append(append([]Step{}, circuit.Steps[:from]...), circuit.Steps[from+1:]...)
		reordered := append(append(append([]Step{}, remaining[:to]...), moved), remaining[to:]...)
		renumber(reordered)
		circuit.Steps = reordered
		order = make([]StepOrder, 0, count)
		for _, step := range reordered {
			order = append(order, StepOrder{StepID: step.ID, StepNumber: step.StepNumber})
		}
		return func(circuit *Circuit) {
			// steps added since the move keep their place after the known ones
			sort.SliceStable(circuit.Steps, func(i, j int) bool {
				left, leftKnown := priorPositions[circuit.Steps[i].ID]
				right, rightKnown := priorPositions[circuit.Steps[j].ID]
				if leftKnown != rightKnown {
					return leftKnown
				}
				return leftKnown && left < right
			})
			renumber(circuit.Steps)
		}, nil
	})
	if err != nil {
		return err
	}
	_, err = e.backend.UpdateStepsOrder(ctx, current.circuitID, order)
	e.finish(current, err, nil)
	return err
}

// Rename changes the circuit name locally and persists it.
func (e *Editor) Rename(ctx context.Context, name string) error {
	current, err := e.begin("rename_circuit", func(circuit *Circuit) (func(*Circuit), error) {
		prior := circuit.Name
		circuit.Name = name
		return func(circuit *Circuit) {
			if circuit.Name == name {
				circuit.Name = prior
			}
		}, nil
	})
	if err != nil {
		return err
	}
	_, err = e.backend.RenameCircuit(ctx, current.circuitID, name)
	e.finish(current, err, nil)
	return err
}

// begin applies change to the local circuit and registers a pending edit.
// change returns the function that undoes it.
func (e *Editor) begin(operation string, change func(circuit *Circuit) (func(*Circuit), error)) (*edit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := cloneCircuit(e.circuit)
	working := cloneCircuit(e.circuit)
	revert, err := change(&working)
	if err != nil {
		return nil, err
	}
	e.circuit = working
	e.version++
	e.pending++
	e.last = Mutation{Operation: operation, State: MutationPending}
	return &edit{
		operation: operation,
		circuitID: working.ID,
		snapshot:  snapshot,
		version:   e.version,
		revert:    revert,
	}, nil
}

// finish commits the edit, or undoes it when err is set.
func (e *Editor) finish(current *edit, err error, commit func(circuit *Circuit)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending--
	if err != nil {
		if e.version == current.version {
			e.circuit = current.snapshot
		} else {
			current.revert(&e.circuit)
		}
		e.version++
		e.last = Mutation{Operation: current.operation, State: MutationRolledBack, Err: err}
		return
	}
	if commit != nil {
		commit(&e.circuit)
		e.version++
	}
	e.last = Mutation{Operation: current.operation, State: MutationCommitted}
}

func cloneCircuit(circuit Circuit) Circuit {
	circuit.Steps = append([]Step(nil), circuit.Steps...)
	return circuit
}

func stepIndex(steps []Step, stepID string) int {
	for index, step := range steps {
		if step.ID == stepID {
			return index
		}
	}
	return -1
}

func renumber(steps []Step) {
	for index := range steps {
		steps[index].StepNumber = index + 1
	}
}
