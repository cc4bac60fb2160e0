package circuits

import (
	"strings"
	"time"
)

// CircuitType fixes how a circuit's steps are completed. It never changes after creation.
type CircuitType string

const (
	// CircuitTypeObjective circuits are a sequence of discrete objectives, each listening to its own event.
	CircuitTypeObjective CircuitType = "OBJECTIVE"
	// CircuitTypePoints circuits accumulate points; steps are levels reached at cumulative totals.
	CircuitTypePoints CircuitType = "POINTS"
	// CircuitTypeActions circuits count repeated actions; steps are paliers reached at cumulative counts.
	CircuitTypeActions CircuitType = "ACTIONS"
)

// ParseCircuitType accepts a circuit type in any case.
func ParseCircuitType(value string) (CircuitType, bool) {
	switch CircuitType(strings.ToUpper(strings.TrimSpace(value))) {
	case CircuitTypeObjective:
		return CircuitTypeObjective, true
	case CircuitTypePoints:
		return CircuitTypePoints, true
	case CircuitTypeActions:
		return CircuitTypeActions, true
	default:
		return "", false
	}
}

// IsLevelBased reports whether steps are cumulative thresholds rather than discrete objectives.
func (t CircuitType) IsLevelBased() bool {
	return t == CircuitTypePoints || t == CircuitTypeActions
}

// Circuit is a configured progression journey.
type Circuit struct {
	ID          string      `gorm:"column:circuit_id;primaryKey;size:190;not null"`
	ProjectID   string      `gorm:"column:project_id;size:190;not null;index"`
	Name        string      `gorm:"column:name;size:320;not null"`
	Type        CircuitType `gorm:"column:circuit_type;size:16;not null"`
	Active      bool        `gorm:"column:active;not null;default:false"`
	EventName   string      `gorm:"column:event_name;size:190;not null;default:'';index"`
	ActivatedAt *time.Time  `gorm:"column:activated_at"`
	CreatedAt   time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time   `gorm:"column:updated_at;autoUpdateTime"`
	Steps       []Step      `gorm:"foreignKey:CircuitID;references:ID"`
}

// TableName provides the explicit table binding for GORM.
func (Circuit) TableName() string {
	return "circuits"
}

// Step is one stage of a circuit. StepNumber is 1-based and matches the position in Circuit.Steps.
type Step struct {
	ID                  string    `gorm:"column:step_id;primaryKey;size:190;not null"`
	CircuitID           string    `gorm:"column:circuit_id;size:190;not null;index:idx_steps_circuit_number,priority:1"`
	Name                string    `gorm:"column:name;size:320;not null"`
	Description         string    `gorm:"column:description;type:text;not null;default:''"`
	EventName           string    `gorm:"column:event_name;size:190;not null;index"`
	CompletionThreshold int       `gorm:"column:completion_threshold;not null"`
	StepNumber          int       `gorm:"column:step_number;not null;index:idx_steps_circuit_number,priority:2"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Step) TableName() string {
	return "circuit_steps"
}

// Reward is unlocked either by reaching StepID or by completing the whole circuit, never both.
type Reward struct {
	ID                        string    `gorm:"column:reward_id;primaryKey;size:190;not null"`
	CircuitID                 string    `gorm:"column:circuit_id;size:190;not null;index"`
	Name                      string    `gorm:"column:name;size:320;not null"`
	Description               string    `gorm:"column:description;type:text;not null;default:''"`
	StepID                    *string   `gorm:"column:step_id;size:190;index"`
	UnlockOnCircuitCompletion bool      `gorm:"column:unlock_on_circuit_completion;not null;default:false"`
	CreatedAt                 time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                 time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Reward) TableName() string {
	return "circuit_rewards"
}

// StepOrder pairs a step with its requested position.
type StepOrder struct {
	StepID     string
	StepNumber int
}

// FindStep returns the step with the given id.
func FindStep(steps []Step, stepID string) (Step, int, bool) {
	for index, step := range steps {
		if step.ID == stepID {
			return step, index, true
		}
	}
	return Step{}, -1, false
}
