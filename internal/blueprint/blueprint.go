// Package blueprint loads circuit templates written in YAML and creates them in a project.
package blueprint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/circuits"
	"gopkg.in/yaml.v3"
)

// ErrInvalidBlueprint indicates a structurally invalid template.
var ErrInvalidBlueprint = errors.New("blueprint: invalid blueprint")

// Blueprint is a circuit definition with its rewards. Rewards reference steps by number
// because step ids only exist once the circuit is created.
type Blueprint struct {
	circuits.CircuitForm `yaml:",inline"`
	Activate             bool         `yaml:"activate"`
	Rewards              []RewardSpec `yaml:"rewards"`
}

// RewardSpec is a reward unlocked by Step (1-based) or by completing the circuit.
type RewardSpec struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Step         int    `yaml:"step"`
	OnCompletion bool   `yaml:"onCompletion"`
}

// Example is a minimal template used by the CLI help and tests.
const Example = `name: Onboarding
type: OBJECTIVE
activate: true
steps:
  - name: Sign up
    completionThreshold: 1
  - name: Complete profile
    eventName: profile_completed
    completionThreshold: 1
rewards:
  - name: Welcome badge
    step: 1
  - name: Onboarded
    onCompletion: true
`

// FromYAML parses and checks a blueprint document.
func FromYAML(data []byte) (*Blueprint, error) {
	var blueprint Blueprint
	if err := yaml.Unmarshal(data, &blueprint); err != nil {
		return nil, fmt.Errorf("invalid blueprint yaml: %w", err)
	}
	if err := blueprint.Validate(); err != nil {
		return nil, err
	}
	return &blueprint, nil
}

// FromFile reads a YAML blueprint from path.
func FromFile(path string) (*Blueprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate checks reward references. The circuit form itself is validated on creation.
func (b Blueprint) Validate() error {
	var problems []string
	for index, reward := range b.Rewards {
		if strings.TrimSpace(reward.Name) == "" {
			problems = append(problems, fmt.Sprintf("rewards[%d].name is required", index))
		}
		switch {
		case reward.OnCompletion && reward.Step != 0:
			problems = append(problems, fmt.Sprintf("rewards[%d] cannot set both step and onCompletion", index))
		case !reward.OnCompletion && reward.Step < 1:
			problems = append(problems, fmt.Sprintf("rewards[%d].step must reference a step number", index))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidBlueprint, strings.Join(problems, "; "))
	}
	return nil
}

// CircuitStore is the subset of the circuit service an import needs.
type CircuitStore interface {
	CreateCircuit(ctx context.Context, projectID string, form circuits.CircuitForm) (circuits.Circuit, error)
	AddReward(ctx context.Context, circuitID string, form circuits.RewardForm) (circuits.Reward, error)
	ActivateCircuit(ctx context.Context, circuitID string) error
	DeleteCircuit(ctx context.Context, circuitID string) error
}

// Result is the outcome of a successful import.
type Result struct {
	Circuit circuits.Circuit
	Rewards []circuits.Reward
}

// Import creates the circuit and its rewards, activating it when requested. A failure after
// the circuit was created deletes it again so an import is all or nothing.
func Import(ctx context.Context, store CircuitStore, projectID string, blueprint Blueprint) (Result, error) {
	if err := blueprint.Validate(); err != nil {
		return Result{}, err
	}
	circuit, err := store.CreateCircuit(ctx, projectID, blueprint.CircuitForm)
	if err != nil {
		return Result{}, err
	}

	result := Result{Circuit: circuit}
	fail := func(cause error) (Result, error) {
		if deleteErr := store.DeleteCircuit(ctx, circuit.ID); deleteErr != nil {
			return Result{}, errors.Join(cause, deleteErr)
		}
		return Result{}, cause
	}

	for index, spec := range blueprint.Rewards {
		form := circuits.RewardForm{
			Name:                      spec.Name,
			Description:               spec.Description,
			UnlockOnCircuitCompletion: spec.OnCompletion,
		}
		if !spec.OnCompletion {
			if spec.Step > len(circuit.Steps) {
				return fail(fmt.Errorf("%w: rewards[%d].step %d does not exist", ErrInvalidBlueprint, index, spec.Step))
			}
			stepID := circuit.Steps[spec.Step-1].ID
			form.StepID = &stepID
		}
		reward, err := store.AddReward(ctx, circuit.ID, form)
		if err != nil {
			return fail(err)
		}
		result.Rewards = append(result.Rewards, reward)
	}

	if blueprint.Activate {
		if err := store.ActivateCircuit(ctx, circuit.ID); err != nil {
			return fail(err)
		}
		result.Circuit.Active = true
	}
	return result, nil
}
