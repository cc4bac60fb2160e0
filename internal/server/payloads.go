package server

import (
	"time"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/circuits"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/curve"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/endusers"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/projects"
)

type projectPayload struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PublicAPIKey string `json:"publicApiKey"`
	CreatedAt    string `json:"createdAt"`
}

type createProjectRequest struct {
	Name string `json:"name"`
}

type stepPayload struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Description         string `json:"description"`
	EventName           string `json:"eventName"`
	CompletionThreshold int    `json:"completionThreshold"`
	StepNumber          int    `json:"stepNumber"`
}

type circuitPayload struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"projectId"`
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Active      bool          `json:"active"`
	EventName   string        `json:"eventName,omitempty"`
	ActivatedAt string        `json:"activatedAt,omitempty"`
	CreatedAt   string        `json:"createdAt"`
	UpdatedAt   string        `json:"updatedAt"`
	Steps       []stepPayload `json:"steps"`
}

type unlockPayload struct {
	Kind       string `json:"kind"`
	Label      string `json:"label"`
	StepNumber int    `json:"stepNumber,omitempty"`
}

type rewardPayload struct {
	ID                        string        `json:"id"`
	Name                      string        `json:"name"`
	Description               string        `json:"description"`
	StepID                    *string       `json:"stepId"`
	UnlockOnCircuitCompletion bool          `json:"unlockOnCircuitCompletion"`
	Unlock                    unlockPayload `json:"unlock"`
}

type stepRequest struct {
	Name                string `json:"name"`
	Description         string `json:"description"`
	EventName           string `json:"eventName"`
	CompletionThreshold int    `json:"completionThreshold"`
}

type createCircuitRequest struct {
	Name      string        `json:"name"`
	Type      string        `json:"type"`
	EventName string        `json:"eventName"`
	Steps     []stepRequest `json:"steps"`
	Curve     *curve.Params `json:"curve"`
}

type setStepsRequest struct {
	Steps []stepRequest `json:"steps"`
}

type stepOrderEntry struct {
	StepID     string `json:"stepId"`
	StepNumber int    `json:"stepNumber"`
}

type stepsOrderRequest struct {
	Order []stepOrderEntry `json:"order"`
}

type renameCircuitRequest struct {
	Name string `json:"name"`
}

type rewardRequest struct {
	Name                      string  `json:"name"`
	Description               string  `json:"description"`
	StepID                    *string `json:"stepId"`
	UnlockOnCircuitCompletion bool    `json:"unlockOnCircuitCompletion"`
}

type endUserPayload struct {
	ID            string                 `json:"id"`
	ExternalID    string                 `json:"externalId"`
	FullName      string                 `json:"fullName"`
	Email         string                 `json:"email"`
	Picture       string                 `json:"picture"`
	Metadata      map[string]interface{} `json:"metadata"`
	CurrentStreak int                    `json:"currentStreak"`
	LongestStreak int                    `json:"longestStreak"`
	LastLoginAt   string                 `json:"lastLoginAt,omitempty"`
	CreatedAt     string                 `json:"createdAt"`
}

type progressPayload struct {
	CircuitID      string  `json:"circuitId"`
	Status         string  `json:"status"`
	Value          float64 `json:"value"`
	CompletedSteps int     `json:"completedSteps"`
	StartedAt      string  `json:"startedAt"`
	CompletedAt    string  `json:"completedAt,omitempty"`
}

type stepCompletionPayload struct {
	CircuitID   string `json:"circuitId"`
	StepID      string `json:"stepId"`
	Count       int    `json:"count"`
	CompletedAt string `json:"completedAt,omitempty"`
}

type rewardGrantPayload struct {
	RewardID  string `json:"rewardId"`
	CircuitID string `json:"circuitId"`
	GrantedAt string `json:"grantedAt"`
}

type endUserDetailPayload struct {
	User     endUserPayload          `json:"user"`
	Progress []progressPayload       `json:"progress"`
	Steps    []stepCompletionPayload `json:"steps"`
	Rewards  []rewardGrantPayload    `json:"rewards"`
}

func formatTimestamp(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func formatOptionalTimestamp(value *time.Time) string {
	if value == nil {
		return ""
	}
	return formatTimestamp(*value)
}

func newProjectPayload(project projects.Project) projectPayload {
	return projectPayload{
		ID:           project.ID,
		Name:         project.Name,
		PublicAPIKey: project.PublicAPIKey,
		CreatedAt:    formatTimestamp(project.CreatedAt),
	}
}

func newStepPayload(step circuits.Step) stepPayload {
	return stepPayload{
		ID:                  step.ID,
		Name:                step.Name,
		Description:         step.Description,
		EventName:           step.EventName,
		CompletionThreshold: step.CompletionThreshold,
		StepNumber:          step.StepNumber,
	}
}

func newCircuitPayload(circuit circuits.Circuit) circuitPayload {
	steps := make([]stepPayload, 0, len(circuit.Steps))
	for _, step := range circuit.Steps {
		steps = append(steps, newStepPayload(step))
	}
	return circuitPayload{
		ID:          circuit.ID,
		ProjectID:   circuit.ProjectID,
		Name:        circuit.Name,
		Type:        string(circuit.Type),
		Active:      circuit.Active,
		EventName:   circuit.EventName,
		ActivatedAt: formatOptionalTimestamp(circuit.ActivatedAt),
		CreatedAt:   formatTimestamp(circuit.CreatedAt),
		UpdatedAt:   formatTimestamp(circuit.UpdatedAt),
		Steps:       steps,
	}
}

func newRewardPayload(reward circuits.Reward, circuit circuits.Circuit) rewardPayload {
	unlock := circuits.DescribeUnlock(reward, circuit.Type, circuit.Steps)
	return rewardPayload{
		ID:                        reward.ID,
		Name:                      reward.Name,
		Description:               reward.Description,
		StepID:                    reward.StepID,
		UnlockOnCircuitCompletion: reward.UnlockOnCircuitCompletion,
		Unlock: unlockPayload{
			Kind:       string(unlock.Kind),
			Label:      unlock.Label,
			StepNumber: unlock.StepNumber,
		},
	}
}

func (r stepRequest) input() circuits.StepInput {
	return circuits.StepInput{
		Name:                r.Name,
		Description:         r.Description,
		EventName:           r.EventName,
		CompletionThreshold: r.CompletionThreshold,
	}
}

func stepInputs(requests []stepRequest) []circuits.StepInput {
	inputs := make([]circuits.StepInput, 0, len(requests))
	for _, request := range requests {
		inputs = append(inputs, request.input())
	}
	return inputs
}

func (r createCircuitRequest) form() circuits.CircuitForm {
	return circuits.CircuitForm{
		Name:      r.Name,
		Type:      r.Type,
		EventName: r.EventName,
		Steps:     stepInputs(r.Steps),
		Curve:     r.Curve,
	}
}

func (r rewardRequest) form() circuits.RewardForm {
	return circuits.RewardForm{
		Name:                      r.Name,
		Description:               r.Description,
		StepID:                    r.StepID,
		UnlockOnCircuitCompletion: r.UnlockOnCircuitCompletion,
	}
}

func newEndUserPayload(user endusers.EndUser) endUserPayload {
	metadata := map[string]interface{}(user.Metadata)
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return endUserPayload{
		ID:            user.ID,
		ExternalID:    user.ExternalID,
		FullName:      user.FullName,
		Email:         user.Email,
		Picture:       user.Picture,
		Metadata:      metadata,
		CurrentStreak: user.CurrentStreak,
		LongestStreak: user.LongestStreak,
		LastLoginAt:   formatOptionalTimestamp(user.LastLoginAt),
		CreatedAt:     formatTimestamp(user.CreatedAt),
	}
}

func newEndUserDetailPayload(detail endusers.Detail) endUserDetailPayload {
	payload := endUserDetailPayload{
		User:     newEndUserPayload(detail.User),
		Progress: make([]progressPayload, 0, len(detail.Progress)),
		Steps:    make([]stepCompletionPayload, 0, len(detail.Steps)),
		Rewards:  make([]rewardGrantPayload, 0, len(detail.Rewards)),
	}
	for _, progress := range detail.Progress {
		status := endusers.StatusInProgress
		if progress.Completed() {
			status = endusers.StatusCompleted
		}
		payload.Progress = append(payload.Progress, progressPayload{
			CircuitID:      progress.CircuitID,
			Status:         string(status),
			Value:          progress.Value,
			CompletedSteps: progress.CompletedSteps,
			StartedAt:      formatTimestamp(progress.StartedAt),
			CompletedAt:    formatOptionalTimestamp(progress.CompletedAt),
		})
	}
	for _, completion := range detail.Steps {
		payload.Steps = append(payload.Steps, stepCompletionPayload{
			CircuitID:   completion.CircuitID,
			StepID:      completion.StepID,
			Count:       completion.Count,
			CompletedAt: formatOptionalTimestamp(completion.CompletedAt),
		})
	}
	for _, grant := range detail.Rewards {
		payload.Rewards = append(payload.Rewards, rewardGrantPayload{
			RewardID:  grant.RewardID,
			CircuitID: grant.CircuitID,
			GrantedAt: formatTimestamp(grant.GrantedAt),
		})
	}
	return payload
}
