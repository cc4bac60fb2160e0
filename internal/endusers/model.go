package endusers

import (
	"time"

	"gorm.io/datatypes"
)

// EndUser is a participant of a project's circuits, identified by the integrator's external id.
type EndUser struct {
	ID            string            `gorm:"column:end_user_id;primaryKey;size:190;not null"`
	ProjectID     string            `gorm:"column:project_id;size:190;not null;uniqueIndex:idx_end_users_project_external,priority:1"`
	ExternalID    string            `gorm:"column:external_id;size:190;not null;uniqueIndex:idx_end_users_project_external,priority:2"`
	FullName      string            `gorm:"column:full_name;size:320;not null;default:''"`
	Email         string            `gorm:"column:email;size:320;not null;default:''"`
	Picture       string            `gorm:"column:picture;size:512;not null;default:''"`
	Metadata      datatypes.JSONMap `gorm:"column:metadata"`
	CurrentStreak int               `gorm:"column:current_streak;not null;default:0"`
	LongestStreak int               `gorm:"column:longest_streak;not null;default:0"`
	LastLoginAt   *time.Time        `gorm:"column:last_login_at"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (EndUser) TableName() string {
	return "end_users"
}

// CircuitProgress is one end user's run through one circuit. A missing row means not started.
// Value holds the points total for POINTS circuits and the action count for ACTIONS circuits.
type CircuitProgress struct {
	ID             string     `gorm:"column:progress_id;primaryKey;size:190;not null"`
	CircuitID      string     `gorm:"column:circuit_id;size:190;not null;uniqueIndex:idx_progress_circuit_user,priority:1"`
	EndUserID      string     `gorm:"column:end_user_id;size:190;not null;uniqueIndex:idx_progress_circuit_user,priority:2;index"`
	Value          float64    `gorm:"column:value;not null;default:0"`
	CompletedSteps int        `gorm:"column:completed_steps;not null;default:0"`
	StartedAt      time.Time  `gorm:"column:started_at;not null"`
	CompletedAt    *time.Time `gorm:"column:completed_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (CircuitProgress) TableName() string {
	return "circuit_progress"
}

// Completed reports whether the whole circuit was completed.
func (p CircuitProgress) Completed() bool {
	return p.CompletedAt != nil
}

// StepCompletion counts events received for a step and marks when its threshold was reached.
type StepCompletion struct {
	ID          string     `gorm:"column:completion_id;primaryKey;size:190;not null"`
	CircuitID   string     `gorm:"column:circuit_id;size:190;not null;index"`
	StepID      string     `gorm:"column:step_id;size:190;not null;uniqueIndex:idx_completion_step_user,priority:1"`
	EndUserID   string     `gorm:"column:end_user_id;size:190;not null;uniqueIndex:idx_completion_step_user,priority:2"`
	Count       int        `gorm:"column:event_count;not null;default:0"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (StepCompletion) TableName() string {
	return "step_completions"
}

// RewardGrant records that a reward was handed to an end user. Each reward is granted at most once per user.
type RewardGrant struct {
	ID        string    `gorm:"column:grant_id;primaryKey;size:190;not null"`
	RewardID  string    `gorm:"column:reward_id;size:190;not null;uniqueIndex:idx_grant_reward_user,priority:1"`
	CircuitID string    `gorm:"column:circuit_id;size:190;not null;index"`
	EndUserID string    `gorm:"column:end_user_id;size:190;not null;uniqueIndex:idx_grant_reward_user,priority:2"`
	GrantedAt time.Time `gorm:"column:granted_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (RewardGrant) TableName() string {
	return "reward_grants"
}

// ProgressStatus classifies an end user's standing in one circuit.
type ProgressStatus string

const (
	StatusNotStarted ProgressStatus = "not_started"
	StatusInProgress ProgressStatus = "in_progress"
	StatusCompleted  ProgressStatus = "completed"
)

// ParseProgressStatus accepts the three known statuses and the empty string.
func ParseProgressStatus(value string) (ProgressStatus, bool) {
	switch ProgressStatus(value) {
	case "", StatusNotStarted, StatusInProgress, StatusCompleted:
		return ProgressStatus(value), true
	default:
		return "", false
	}
}
