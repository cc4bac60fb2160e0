package circuits

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/curve"
)

const (
	minNameLength        = 2
	maxNameLength        = 320
	maxDescriptionLength = 4000
	maxEventNameLength   = 190
)

// ValidationError carries per-field messages for a rejected form.
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
	return "circuits: validation failed (" + strings.Join(parts, "; ") + ")"
}

func newValidationError() *ValidationError {
	return &ValidationError{Fields: map[string]string{}}
}

func (e *ValidationError) add(field, message string) {
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = message
	}
}

func (e *ValidationError) merge(prefix string, other *ValidationError) {
	for field, message := range other.Fields {
		e.add(prefix+field, message)
	}
}

func (e *ValidationError) errOrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// StepInput is a raw step payload as decoded from a request or blueprint.
type StepInput struct {
	Name                string `yaml:"name"`
	Description         string `yaml:"description"`
	EventName           string `yaml:"eventName"`
	CompletionThreshold int    `yaml:"completionThreshold"`
}

// StepDraft is a validated step not yet placed in a circuit.
type StepDraft struct {
	Name                string
	Description         string
	EventName           string
	CompletionThreshold int
}

// StepForm is a step edit checked against the rules of a single circuit type.
type StepForm interface {
	CircuitType() CircuitType
	Validate() (StepDraft, error)
}

// ObjectiveStepForm edits a discrete objective. Name is mandatory and seeds the event name.
type ObjectiveStepForm struct {
	Name                string
	Description         string
	EventName           string
	CompletionThreshold int
}

// LevelStepForm edits a POINTS level or an ACTIONS palier. Names are optional and synthesised from the position.
type LevelStepForm struct {
	Type                CircuitType
	Name                string
	Description         string
	CompletionThreshold int
}

// NewStepForm selects the form variant for circuitType.
func NewStepForm(circuitType CircuitType, input StepInput) StepForm {
	if circuitType.IsLevelBased() {
		return LevelStepForm{
			Type:                circuitType,
			Name:                input.Name,
			Description:         input.Description,
			CompletionThreshold: input.CompletionThreshold,
		}
	}
	return ObjectiveStepForm{
		Name:                input.Name,
		Description:         input.Description,
		EventName:           input.EventName,
		CompletionThreshold: input.CompletionThreshold,
	}
}

// CircuitType implements StepForm.
func (ObjectiveStepForm) CircuitType() CircuitType {
	return CircuitTypeObjective
}

// Validate implements StepForm.
func (f ObjectiveStepForm) Validate() (StepDraft, error) {
	problems := newValidationError()
	name := strings.TrimSpace(f.Name)
	validateName(problems, "name", name)
	description := strings.TrimSpace(f.Description)
	validateDescription(problems, description)
	if f.CompletionThreshold < 1 {
		problems.add("completionThreshold", "must be a positive integer")
	}

	eventName := Slugify(f.EventName)
	if strings.TrimSpace(f.EventName) == "" {
		eventName = Slugify(name)
	}
	if eventName == "" {
		problems.add("eventName", "must contain at least one letter or digit")
	} else if len(eventName) > maxEventNameLength {
		problems.add("eventName", fmt.Sprintf("must be at most %d characters", maxEventNameLength))
	}

	if err := problems.errOrNil(); err != nil {
		return StepDraft{}, err
	}
	return StepDraft{
		Name:                name,
		Description:         description,
		EventName:           eventName,
		CompletionThreshold: f.CompletionThreshold,
	}, nil
}

// CircuitType implements StepForm.
func (f LevelStepForm) CircuitType() CircuitType {
	return f.Type
}

// Validate implements StepForm.
func (f LevelStepForm) Validate() (StepDraft, error) {
	problems := newValidationError()
	if !f.Type.IsLevelBased() {
		problems.add("type", "must be POINTS or ACTIONS")
	}
	name := strings.TrimSpace(f.Name)
	if utf8.RuneCountInString(name) > maxNameLength {
		problems.add("name", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
	description := strings.TrimSpace(f.Description)
	validateDescription(problems, description)
	if f.CompletionThreshold < 1 {
		problems.add("completionThreshold", "must be a positive integer")
	}
	if err := problems.errOrNil(); err != nil {
		return StepDraft{}, err
	}
	return StepDraft{
		Name:                name,
		Description:         description,
		CompletionThreshold: f.CompletionThreshold,
	}, nil
}

// LevelLabel is the synthetic display name of a level-based step.
func LevelLabel(circuitType CircuitType, stepNumber int) string {
	if circuitType == CircuitTypeActions {
		return fmt.Sprintf("Palier %d", stepNumber)
	}
	return fmt.Sprintf("Level %d", stepNumber)
}

// place turns a draft into a step at stepNumber, filling synthetic names for level-based circuits.
func (d StepDraft) place(circuitType CircuitType, stepNumber int) Step {
	step := Step{
		Name:                d.Name,
		Description:         d.Description,
		EventName:           d.EventName,
		CompletionThreshold: d.CompletionThreshold,
		StepNumber:          stepNumber,
	}
	if circuitType.IsLevelBased() {
		if step.Name == "" {
			step.Name = LevelLabel(circuitType, stepNumber)
		}
		step.EventName = Slugify(step.Name)
	}
	return step
}

// ValidateLevelThresholds requires level thresholds to never decrease along the step order.
func ValidateLevelThresholds(circuitType CircuitType, steps []Step) error {
	if !circuitType.IsLevelBased() {
		return nil
	}
	problems := newValidationError()
	for index := 1; index < len(steps); index++ {
		if steps[index].CompletionThreshold < steps[index-1].CompletionThreshold {
			problems.add(
				fmt.Sprintf("steps[%d].completionThreshold", index),
				fmt.Sprintf("must be at least %d", steps[index-1].CompletionThreshold),
			)
		}
	}
	return problems.errOrNil()
}

// ValidateUniqueEventNames rejects two steps of a circuit listening to the same event.
func ValidateUniqueEventNames(steps []Step) error {
	problems := newValidationError()
	seen := make(map[string]int, len(steps))
	for index, step := range steps {
		if previous, ok := seen[step.EventName]; ok {
			problems.add(fmt.Sprintf("steps[%d].eventName", index), fmt.Sprintf("duplicates step %d", previous+1))
			continue
		}
		seen[step.EventName] = index
	}
	return problems.errOrNil()
}

// CircuitForm is the creation payload for a circuit. POINTS and ACTIONS circuits may
// provide Curve instead of explicit steps.
type CircuitForm struct {
	Name      string        `yaml:"name"`
	Type      string        `yaml:"type"`
	EventName string        `yaml:"eventName"`
	Steps     []StepInput   `yaml:"steps"`
	Curve     *curve.Params `yaml:"curve"`
}

// CircuitDraft is a validated circuit creation request.
type CircuitDraft struct {
	Name      string
	Type      CircuitType
	EventName string
	Steps     []StepDraft
}

// Validate checks the form and expands the curve into step drafts.
func (f CircuitForm) Validate() (CircuitDraft, error) {
	problems := newValidationError()
	name := strings.TrimSpace(f.Name)
	validateName(problems, "name", name)

	circuitType, ok := ParseCircuitType(f.Type)
	if !ok {
		problems.add("type", "must be OBJECTIVE, POINTS or ACTIONS")
	}

	draft := CircuitDraft{Name: name, Type: circuitType}
	if circuitType.IsLevelBased() {
		draft.EventName = Slugify(f.EventName)
		if strings.TrimSpace(f.EventName) == "" {
			draft.EventName = Slugify(name)
		}
		if draft.EventName == "" {
			problems.add("eventName", "must contain at least one letter or digit")
		}
	}

	if f.Curve != nil {
		switch {
		case ok && !circuitType.IsLevelBased():
			problems.add("curve", "is only available for POINTS and ACTIONS circuits")
		case len(f.Steps) > 0:
			problems.add("curve", "cannot be combined with explicit steps")
		default:
			thresholds, err := curve.Generate(*f.Curve)
			var curveErr *curve.ValidationError
			if errors.As(err, &curveErr) {
				for field, message := range curveErr.Fields {
					problems.add("curve."+field, message)
				}
			} else if err != nil {
				problems.add("curve", err.Error())
			}
			draft.Steps = LevelDrafts(thresholds)
		}
	}

	if ok {
		for index, input := range f.Steps {
			stepDraft, err := NewStepForm(circuitType, input).Validate()
			var stepErr *ValidationError
			if errors.As(err, &stepErr) {
				problems.merge(fmt.Sprintf("steps[%d].", index), stepErr)
				continue
			}
			draft.Steps = append(draft.Steps, stepDraft)
		}
		if len(problems.Fields) == 0 {
			placed := placeDrafts(circuitType, draft.Steps)
			var levelErr *ValidationError
			if err := ValidateLevelThresholds(circuitType, placed); errors.As(err, &levelErr) {
				problems.merge("", levelErr)
			}
		}
	}

	if err := problems.errOrNil(); err != nil {
		return CircuitDraft{}, err
	}
	return draft, nil
}

// LevelDrafts turns generated thresholds into unnamed level drafts.
func LevelDrafts(thresholds []int) []StepDraft {
	drafts := make([]StepDraft, 0, len(thresholds))
	for _, threshold := range thresholds {
		drafts = append(drafts, StepDraft{CompletionThreshold: threshold})
	}
	return drafts
}

func placeDrafts(circuitType CircuitType, drafts []StepDraft) []Step {
	steps := make([]Step, 0, len(drafts))
	for index, draft := range drafts {
		steps = append(steps, draft.place(circuitType, index+1))
	}
	return steps
}

// RewardForm is the create/edit payload for a reward.
type RewardForm struct {
	Name                      string  `yaml:"name"`
	Description               string  `yaml:"description"`
	StepID                    *string `yaml:"stepId"`
	UnlockOnCircuitCompletion bool    `yaml:"unlockOnCircuitCompletion"`
}

// RewardDraft is a validated reward. Exactly one unlock mode is set.
type RewardDraft struct {
	Name                      string
	Description               string
	StepID                    *string
	UnlockOnCircuitCompletion bool
}

// Validate checks the form against the circuit's current steps. Selecting circuit
// completion clears any step selection.
func (f RewardForm) Validate(steps []Step) (RewardDraft, error) {
	problems := newValidationError()
	name := strings.TrimSpace(f.Name)
	validateName(problems, "name", name)
	description := strings.TrimSpace(f.Description)
	validateDescription(problems, description)

	draft := RewardDraft{
		Name:                      name,
		Description:               description,
		UnlockOnCircuitCompletion: f.UnlockOnCircuitCompletion,
	}
	if !f.UnlockOnCircuitCompletion {
		stepID := ""
		if f.StepID != nil {
			stepID = strings.TrimSpace(*f.StepID)
		}
		if stepID == "" {
			problems.add("stepId", "select a step or unlock on circuit completion")
		} else if _, _, found := FindStep(steps, stepID); !found {
			problems.add("stepId", "does not belong to this circuit")
		} else {
			draft.StepID = &stepID
		}
	}

	if err := problems.errOrNil(); err != nil {
		return RewardDraft{}, err
	}
	return draft, nil
}

func validateName(problems *ValidationError, field, value string) {
	length := utf8.RuneCountInString(value)
	switch {
	case length == 0:
		problems.add(field, "is required")
	case length < minNameLength:
		problems.add(field, fmt.Sprintf("must be at least %d characters", minNameLength))
	case length > maxNameLength:
		problems.add(field, fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
}

func validateDescription(problems *ValidationError, value string) {
	if utf8.RuneCountInString(value) > maxDescriptionLength {
		problems.add("description", fmt.Sprintf("must be at most %d characters", maxDescriptionLength))
	}
}
