package tracking

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/circuits"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/endusers"
	"gorm.io/gorm"
)

// application accumulates the outcome of one event across every circuit it matched.
type application struct {
	engine     *Engine
	tx         *gorm.DB
	user       endusers.EndUser
	eventName  string
	increment  float64
	occurredAt time.Time

	updated          bool
	stepCompleted    bool
	circuitCompleted bool
	alreadyCompleted bool
	locked           bool
	points           *float64 // total of the oldest matched points circuit
	rewards          []GrantedReward
	updatedCircuits  []string
}

func (a *application) response(matchedCount int) TrackResponse {
	response := TrackResponse{
		Success:          true,
		Updated:          a.updated,
		StepCompleted:    a.stepCompleted,
		CircuitCompleted: a.circuitCompleted,
		AlreadyCompleted: a.alreadyCompleted && !a.updated,
		Points:           a.points,
		Rewards:          a.rewards,
	}
	switch {
	case matchedCount == 0:
		response.Message = messageNoCircuit
	case a.updated:
	case response.AlreadyCompleted:
		response.Message = messageAlreadyDone
	case a.locked:
		response.Message = messageStepLocked
	}
	return response
}

func (a *application) apply(circuit circuits.Circuit) error {
	if len(circuit.Steps) == 0 {
		return nil
	}
	progress, found, err := a.loadProgress(circuit.ID)
	if err != nil {
		return err
	}
	if found && progress.Completed() {
		a.alreadyCompleted = true
		return nil
	}
	completions, err := a.loadCompletions(circuit.ID)
	if err != nil {
		return err
	}

	var newlyCompleted []string
	switch circuit.Type {
	case circuits.CircuitTypeObjective:
		newlyCompleted, err = a.applyObjective(circuit, completions)
	default:
		newlyCompleted, err = a.applyLevels(circuit, &progress, completions)
	}
	if err != nil || !a.touched(circuit.ID) {
		return err
	}

	completedCount := len(newlyCompleted)
	for _, step := range circuit.Steps {
		if completion, ok := completions[step.ID]; ok && completion.CompletedAt != nil {
			completedCount++
		}
	}
	progress.CompletedSteps = completedCount
	circuitDone := completedCount >= len(circuit.Steps)
	if circuitDone {
		stamp := a.occurredAt
		progress.CompletedAt = &stamp
		a.circuitCompleted = true
	}
	if len(newlyCompleted) > 0 {
		a.stepCompleted = true
	}
	if err := a.saveProgress(circuit.ID, progress, found); err != nil {
		return err
	}
	return a.grantRewards(circuit.ID, newlyCompleted, circuitDone)
}

// applyObjective advances the first incomplete step only. Events for later steps are locked out.
func (a *application) applyObjective(circuit circuits.Circuit, completions map[string]endusers.StepCompletion) ([]string, error) {
	var current *circuits.Step
	matchedDone := false
	for index := range circuit.Steps {
		step := circuit.Steps[index]
		completion, ok := completions[step.ID]
		done := ok && completion.CompletedAt != nil
		if done {
			if step.EventName == a.eventName {
				matchedDone = true
			}
			continue
		}
		if current == nil {
			current = &circuit.Steps[index]
		}
	}
	if current == nil || current.EventName != a.eventName {
		if matchedDone {
			a.alreadyCompleted = true
		} else {
			a.locked = true
		}
		return nil, nil
	}

	completion, exists := completions[current.ID]
	if !exists {
		completionID, err := a.engine.idProvider.NewID()
		if err != nil {
			return nil, err
		}
		completion = endusers.StepCompletion{
			ID:        completionID,
			CircuitID: circuit.ID,
			StepID:    current.ID,
			EndUserID: a.user.ID,
		}
	}
	completion.Count++
	threshold := current.CompletionThreshold
	if threshold < 1 {
		threshold = 1
	}
	var newlyCompleted []string
	if completion.Count >= threshold {
		stamp := a.occurredAt
		completion.CompletedAt = &stamp
		newlyCompleted = append(newlyCompleted, current.ID)
	}
	if err := a.saveCompletion(completion, exists); err != nil {
		return nil, err
	}
	a.markUpdated(circuit.ID)
	return newlyCompleted, nil
}

// applyLevels adds the event to the running total and completes every level the total reached.
func (a *application) applyLevels(circuit circuits.Circuit, progress *endusers.CircuitProgress, completions map[string]endusers.StepCompletion) ([]string, error) {
	if circuit.Type == circuits.CircuitTypePoints {
		progress.Value += a.increment
		// circuits arrive oldest first; the reported total is the oldest points circuit's
		if a.points == nil {
			total := progress.Value
			a.points = &total
		}
	} else {
		progress.Value++
	}
	a.markUpdated(circuit.ID)

	var newlyCompleted []string
	for _, step := range circuit.Steps {
		if float64(step.CompletionThreshold) > progress.Value {
			continue
		}
		completion, exists := completions[step.ID]
		if exists && completion.CompletedAt != nil {
			continue
		}
		if !exists {
			completionID, err := a.engine.idProvider.NewID()
			if err != nil {
				return nil, err
			}
			completion = endusers.StepCompletion{
				ID:        completionID,
				CircuitID: circuit.ID,
				StepID:    step.ID,
				EndUserID: a.user.ID,
			}
		}
		completion.Count = 1
		stamp := a.occurredAt
		completion.CompletedAt = &stamp
		if err := a.saveCompletion(completion, exists); err != nil {
			return nil, err
		}
		newlyCompleted = append(newlyCompleted, step.ID)
	}
	return newlyCompleted, nil
}

func (a *application) grantRewards(circuitID string, stepIDs []string, circuitDone bool) error {
	if len(stepIDs) == 0 && !circuitDone {
		return nil
	}
	query := a.tx.Where("circuit_id = ?", circuitID)
	switch {
	case len(stepIDs) > 0 && circuitDone:
		query = query.Where(a.tx.Where("unlock_on_circuit_completion = ?", true).
			Or("unlock_on_circuit_completion = ? AND step_id IN ?", false, stepIDs))
	case circuitDone:
		query = query.Where("unlock_on_circuit_completion = ?", true)
	default:
		query = query.Where("unlock_on_circuit_completion = ? AND step_id IN ?", false, stepIDs)
	}
	var rewards []circuits.Reward
	if err := query.Order("created_at ASC").Find(&rewards).Error; err != nil {
		return err
	}
	for _, reward := range rewards {
		var existing endusers.RewardGrant
		err := a.tx.Where("reward_id = ? AND end_user_id = ?", reward.ID, a.user.ID).Take(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		grantID, err := a.engine.idProvider.NewID()
		if err != nil {
			return err
		}
		grant := endusers.RewardGrant{
			ID:        grantID,
			RewardID:  reward.ID,
			CircuitID: circuitID,
			EndUserID: a.user.ID,
			GrantedAt: a.occurredAt,
		}
		if err := a.tx.Create(&grant).Error; err != nil {
			return err
		}
		a.rewards = append(a.rewards, GrantedReward{ID: reward.ID, Name: reward.Name, Description: reward.Description})
	}
	return nil
}

func (a *application) markUpdated(circuitID string) {
	a.updated = true
	if !a.touched(circuitID) {
		a.updatedCircuits = append(a.updatedCircuits, circuitID)
	}
}

func (a *application) touched(circuitID string) bool {
	for _, id := range a.updatedCircuits {
		if id == circuitID {
			return true
		}
	}
	return false
}

func (a *application) loadProgress(circuitID string) (endusers.CircuitProgress, bool, error) {
	var progress endusers.CircuitProgress
	err := a.tx.Where("circuit_id = ? AND end_user_id = ?", circuitID, a.user.ID).Take(&progress).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return endusers.CircuitProgress{CircuitID: circuitID, EndUserID: a.user.ID, StartedAt: a.occurredAt}, false, nil
	}
	return progress, err == nil, err
}

func (a *application) loadCompletions(circuitID string) (map[string]endusers.StepCompletion, error) {
	var rows []endusers.StepCompletion
	if err := a.tx.Where("circuit_id = ? AND end_user_id = ?", circuitID, a.user.ID).Find(&rows).Error; err != nil {
		return nil, err
	}
	completions := make(map[string]endusers.StepCompletion, len(rows))
	for _, row := range rows {
		completions[row.StepID] = row
	}
	return completions, nil
}

func (a *application) saveProgress(circuitID string, progress endusers.CircuitProgress, exists bool) error {
	if exists {
		return a.tx.Save(&progress).Error
	}
	progressID, err := a.engine.idProvider.NewID()
	if err != nil {
		return err
	}
	progress.ID = progressID
	progress.CircuitID = circuitID
	return a.tx.Create(&progress).Error
}

func (a *application) saveCompletion(completion endusers.StepCompletion, exists bool) error {
	if exists {
		return a.tx.Save(&completion).Error
	}
	return a.tx.Create(&completion).Error
}
