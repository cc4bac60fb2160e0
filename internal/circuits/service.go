package circuits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrCircuitNotFound indicates the circuit does not exist.
	ErrCircuitNotFound = errors.New("circuits: circuit not found")
	// ErrStepNotFound indicates the step is not part of the circuit.
	ErrStepNotFound = errors.New("circuits: step not found")
	// ErrRewardNotFound indicates the reward is not part of the circuit.
	ErrRewardNotFound = errors.New("circuits: reward not found")
	// ErrCircuitHasNoSteps blocks activating, or emptying, a circuit without steps.
	ErrCircuitHasNoSteps = errors.New("circuits: circuit has no steps")
	// ErrCircuitLocked rejects step mutations on an active circuit when locking is enabled.
	ErrCircuitLocked = errors.New("circuits: active circuit steps are read-only")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingProjectID  = errors.New("project identifier is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError tags a failure with an "operation.reason" code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew        = "circuits.service.new"
	opCreateCircuit     = "circuits.create_circuit"
	opListCircuits      = "circuits.list_circuits"
	opGetCircuit        = "circuits.get_circuit"
	opAddStep           = "circuits.add_step"
	opUpdateStep        = "circuits.update_step"
	opDeleteStep        = "circuits.delete_step"
	opSetSteps          = "circuits.set_steps"
	opUpdateStepsOrder  = "circuits.update_steps_order"
	opRenameCircuit     = "circuits.rename_circuit"
	opActivateCircuit   = "circuits.activate_circuit"
	opDeleteCircuit     = "circuits.delete_circuit"
	opListRewards       = "circuits.list_rewards"
	opAddReward         = "circuits.add_reward"
	opUpdateReward      = "circuits.update_reward"
	opDeleteReward      = "circuits.delete_reward"
	reasonInvalidForm   = "invalid_form"
	reasonNotFound      = "not_found"
	reasonQueryFailed   = "query_failed"
	reasonWriteFailed   = "write_failed"
	reasonIDGeneration  = "id_generation_failed"
	reasonMissingDB     = "missing_database"
	reasonLocked        = "circuit_locked"
	reasonNoSteps       = "no_steps"
	reasonInvalidOrder  = "invalid_order"
	reasonBaselineLevel = "baseline_protected"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Purger removes data owned by other packages when a circuit is deleted.
type Purger interface {
	PurgeCircuit(tx *gorm.DB, circuitID string) error
}

// ServiceConfig describes the dependencies of the circuit service.
type ServiceConfig struct {
	Database                *gorm.DB
	Clock                   func() time.Time
	IDProvider              ids.Provider
	Logger                  *zap.Logger
	Purgers                 []Purger
	LockActiveCircuits      bool
	EnforceUniqueEventNames bool
}

// Service persists circuits, their ordered steps and their rewards.
// Writes are last-write-wins; there is no version check between concurrent editors.
type Service struct {
	db                      *gorm.DB
	clock                   func() time.Time
	idProvider              ids.Provider
	logger                  *zap.Logger
	purgers                 []Purger
	lockActiveCircuits      bool
	enforceUniqueEventNames bool
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDB, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:                      cfg.Database,
		clock:                   clock,
		idProvider:              cfg.IDProvider,
		logger:                  logger,
		purgers:                 cfg.Purgers,
		lockActiveCircuits:      cfg.LockActiveCircuits,
		enforceUniqueEventNames: cfg.EnforceUniqueEventNames,
	}, nil
}

// CreateCircuit stores a new draft circuit with any steps the form provides.
func (s *Service) CreateCircuit(ctx context.Context, projectID string, form CircuitForm) (Circuit, error) {
	if err := s.ready(opCreateCircuit); err != nil {
		return Circuit{}, err
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return Circuit{}, newServiceError(opCreateCircuit, "missing_project_id", errMissingProjectID)
	}
	draft, err := form.Validate()
	if err != nil {
		return Circuit{}, newServiceError(opCreateCircuit, reasonInvalidForm, err)
	}

	circuitID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateCircuit, reasonIDGeneration, err)
		return Circuit{}, newServiceError(opCreateCircuit, reasonIDGeneration, err)
	}
	steps, err := s.materializeSteps(circuitID, draft.Type, draft.Steps, nil)
	if err != nil {
		s.logError(opCreateCircuit, reasonIDGeneration, err)
		return Circuit{}, newServiceError(opCreateCircuit, reasonIDGeneration, err)
	}
	if err := s.checkEventNames(steps); err != nil {
		return Circuit{}, newServiceError(opCreateCircuit, reasonInvalidForm, err)
	}

	circuit := Circuit{
		ID:        circuitID,
		ProjectID: projectID,
		Name:      draft.Name,
		Type:      draft.Type,
		EventName: draft.EventName,
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&circuit).Error; err != nil {
			return err
		}
		if len(steps) > 0 {
			return tx.Create(&steps).Error
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreateCircuit, reasonWriteFailed, txErr, zap.String("project_id", projectID))
		return Circuit{}, newServiceError(opCreateCircuit, reasonWriteFailed, txErr)
	}
	circuit.Steps = steps
	return circuit, nil
}

// ListCircuits returns the project's circuits with their ordered steps, newest first.
func (s *Service) ListCircuits(ctx context.Context, projectID string) ([]Circuit, error) {
	if err := s.ready(opListCircuits); err != nil {
		return nil, err
	}
	var circuits []Circuit
	err := s.db.WithContext(ctx).
		Preload("Steps", orderedSteps).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&circuits).Error
	if err != nil {
		s.logError(opListCircuits, reasonQueryFailed, err, zap.String("project_id", projectID))
		return nil, newServiceError(opListCircuits, reasonQueryFailed, err)
	}
	return circuits, nil
}

// GetCircuit loads a circuit and its ordered steps.
func (s *Service) GetCircuit(ctx context.Context, circuitID string) (Circuit, error) {
	if err := s.ready(opGetCircuit); err != nil {
		return Circuit{}, err
	}
	circuit, err := loadCircuit(s.db.WithContext(ctx), circuitID)
	if err != nil {
		return Circuit{}, s.wrapLoadError(opGetCircuit, circuitID, err)
	}
	return circuit, nil
}

// AddStep appends a step; the server assigns its durable id.
func (s *Service) AddStep(ctx context.Context, circuitID string, input StepInput) (Step, error) {
	if err := s.ready(opAddStep); err != nil {
		return Step{}, err
	}
	var created Step
	err := s.mutateCircuit(ctx, opAddStep, circuitID, func(tx *gorm.DB, circuit Circuit) error {
		draft, err := NewStepForm(circuit.Type, input).Validate()
		if err != nil {
			return newServiceError(opAddStep, reasonInvalidForm, err)
		}
		stepID, err := s.idProvider.NewID()
		if err != nil {
			return newServiceError(opAddStep, reasonIDGeneration, err)
		}
		step := draft.place(circuit.Type, len(circuit.Steps)+1)
		step.ID = stepID
		step.CircuitID = circuit.ID
		steps := AppendStep(circuit.Steps, step)
		if err := s.checkStructure(circuit.Type, steps); err != nil {
			return newServiceError(opAddStep, reasonInvalidForm, err)
		}
		created = steps[len(steps)-1]
		return tx.Create(&created).Error
	})
	if err != nil {
		return Step{}, err
	}
	return created, nil
}

// UpdateStep replaces the editable fields of a step in place.
func (s *Service) UpdateStep(ctx context.Context, circuitID, stepID string, input StepInput) (Step, error) {
	if err := s.ready(opUpdateStep); err != nil {
		return Step{}, err
	}
	var updated Step
	err := s.mutateCircuit(ctx, opUpdateStep, circuitID, func(tx *gorm.DB, circuit Circuit) error {
		existing, index, found := FindStep(circuit.Steps, stepID)
		if !found {
			return newServiceError(opUpdateStep, reasonNotFound, ErrStepNotFound)
		}
		draft, err := NewStepForm(circuit.Type, input).Validate()
		if err != nil {
			return newServiceError(opUpdateStep, reasonInvalidForm, err)
		}
		updated = draft.place(circuit.Type, existing.StepNumber)
		updated.ID = existing.ID
		updated.CircuitID = existing.CircuitID
		updated.CreatedAt = existing.CreatedAt

		steps := Renumber(circuit.Steps)
		steps[index] = updated
		if err := s.checkStructure(circuit.Type, steps); err != nil {
			return newServiceError(opUpdateStep, reasonInvalidForm, err)
		}
		return tx.Model(&Step{}).
			Where("step_id = ? AND circuit_id = ?", existing.ID, circuit.ID).
			Updates(map[string]interface{}{
				"name":                 updated.Name,
				"description":          updated.Description,
				"event_name":           updated.EventName,
				"completion_threshold": updated.CompletionThreshold,
				"updated_at":           s.clock().UTC(),
			}).Error
	})
	if err != nil {
		return Step{}, err
	}
	return updated, nil
}

// DeleteStep removes a step and renumbers the steps after it. Rewards keep their
// reference to the removed step and resolve to a placeholder afterwards.
func (s *Service) DeleteStep(ctx context.Context, circuitID, stepID string) error {
	if err := s.ready(opDeleteStep); err != nil {
		return err
	}
	return s.mutateCircuit(ctx, opDeleteStep, circuitID, func(tx *gorm.DB, circuit Circuit) error {
		_, index, found := FindStep(circuit.Steps, stepID)
		if !found {
			return newServiceError(opDeleteStep, reasonNotFound, ErrStepNotFound)
		}
		remaining, err := RemoveStep(circuit.Steps, circuit.Type, index)
		if errors.Is(err, ErrBaselineStepProtected) {
			return newServiceError(opDeleteStep, reasonBaselineLevel, err)
		}
		if err != nil {
			return newServiceError(opDeleteStep, reasonInvalidOrder, err)
		}
		if circuit.Active && len(remaining) == 0 {
			return newServiceError(opDeleteStep, reasonNoSteps, ErrCircuitHasNoSteps)
		}
		if err := tx.Where("step_id = ? AND circuit_id = ?", stepID, circuit.ID).Delete(&Step{}).Error; err != nil {
			return err
		}
		return persistStepNumbers(tx, circuit.Steps, remaining)
	})
}

// SetSteps replaces every step of the circuit. Level-based circuits reuse step ids
// by position so rewards tied to "level N" keep pointing at level N. Objective
// steps always get fresh ids, leaving rewards on replaced steps unresolved.
func (s *Service) SetSteps(ctx context.Context, circuitID string, inputs []StepInput) (Circuit, error) {
	if err := s.ready(opSetSteps); err != nil {
		return Circuit{}, err
	}
	var result Circuit
	err := s.mutateCircuit(ctx, opSetSteps, circuitID, func(tx *gorm.DB, circuit Circuit) error {
		problems := newValidationError()
		drafts := make([]StepDraft, 0, len(inputs))
		for index, input := range inputs {
			draft, err := NewStepForm(circuit.Type, input).Validate()
			var stepErr *ValidationError
			if errors.As(err, &stepErr) {
				problems.merge(fmt.Sprintf("steps[%d].", index), stepErr)
				continue
			}
			drafts = append(drafts, draft)
		}
		if err := problems.errOrNil(); err != nil {
			return newServiceError(opSetSteps, reasonInvalidForm, err)
		}
		if circuit.Active && len(drafts) == 0 {
			return newServiceError(opSetSteps, reasonNoSteps, ErrCircuitHasNoSteps)
		}
		if circuit.Type == CircuitTypePoints && len(drafts) == 0 {
			return newServiceError(opSetSteps, reasonBaselineLevel, ErrBaselineStepProtected)
		}

		existing := circuit.Steps
		if !circuit.Type.IsLevelBased() {
			existing = nil
		}
		steps, err := s.materializeSteps(circuit.ID, circuit.Type, drafts, existing)
		if err != nil {
			return newServiceError(opSetSteps, reasonIDGeneration, err)
		}
		if err := s.checkStructure(circuit.Type, steps); err != nil {
			return newServiceError(opSetSteps, reasonInvalidForm, err)
		}
		if err := tx.Where("circuit_id = ?", circuit.ID).Delete(&Step{}).Error; err != nil {
			return err
		}
		if len(steps) > 0 {
			if err := tx.Create(&steps).Error; err != nil {
				return err
			}
		}
		result = circuit
		result.Steps = steps
		return nil
	})
	if err != nil {
		return Circuit{}, err
	}
	return result, nil
}

// UpdateStepsOrder applies a full reorder of an OBJECTIVE circuit.
func (s *Service) UpdateStepsOrder(ctx context.Context, circuitID string, order []StepOrder) error {
	if err := s.ready(opUpdateStepsOrder); err != nil {
		return err
	}
	return s.mutateCircuit(ctx, opUpdateStepsOrder, circuitID, func(tx *gorm.DB, circuit Circuit) error {
		reordered, err := ApplyOrder(circuit.Steps, circuit.Type, order)
		if err != nil {
			return newServiceError(opUpdateStepsOrder, reasonInvalidOrder, err)
		}
		return persistStepNumbers(tx, circuit.Steps, reordered)
	})
}

// RenameCircuit changes the display name. The tracking event name is left untouched.
func (s *Service) RenameCircuit(ctx context.Context, circuitID, name string) error {
	if err := s.ready(opRenameCircuit); err != nil {
		return err
	}
	problems := newValidationError()
	trimmed := strings.TrimSpace(name)
	validateName(problems, "name", trimmed)
	if err := problems.errOrNil(); err != nil {
		return newServiceError(opRenameCircuit, reasonInvalidForm, err)
	}
	result := s.db.WithContext(ctx).
		Model(&Circuit{}).
		Where("circuit_id = ?", circuitID).
		Updates(map[string]interface{}{"name": trimmed, "updated_at": s.clock().UTC()})
	if result.Error != nil {
		s.logError(opRenameCircuit, reasonWriteFailed, result.Error, zap.String("circuit_id", circuitID))
		return newServiceError(opRenameCircuit, reasonWriteFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opRenameCircuit, reasonNotFound, ErrCircuitNotFound)
	}
	return nil
}

// ActivateCircuit moves a draft circuit to active. The transition is one-way and
// requires at least one step; activating an active circuit is a no-op.
func (s *Service) ActivateCircuit(ctx context.Context, circuitID string) error {
	if err := s.ready(opActivateCircuit); err != nil {
		return err
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		circuit, err := loadCircuit(tx, circuitID)
		if err != nil {
			return s.wrapLoadError(opActivateCircuit, circuitID, err)
		}
		if circuit.Active {
			return nil
		}
		if len(circuit.Steps) == 0 {
			return newServiceError(opActivateCircuit, reasonNoSteps, ErrCircuitHasNoSteps)
		}
		now := s.clock().UTC()
		return tx.Model(&Circuit{}).
			Where("circuit_id = ?", circuit.ID).
			Updates(map[string]interface{}{"active": true, "activated_at": now, "updated_at": now}).Error
	})
	return s.finish(opActivateCircuit, circuitID, txErr)
}

// DeleteCircuit removes the circuit, its steps, its rewards and any data registered purgers own.
func (s *Service) DeleteCircuit(ctx context.Context, circuitID string) error {
	if err := s.ready(opDeleteCircuit); err != nil {
		return err
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadCircuit(tx, circuitID); err != nil {
			return s.wrapLoadError(opDeleteCircuit, circuitID, err)
		}
		for _, purger := range s.purgers {
			if err := purger.PurgeCircuit(tx, circuitID); err != nil {
				return err
			}
		}
		if err := tx.Where("circuit_id = ?", circuitID).Delete(&Reward{}).Error; err != nil {
			return err
		}
		if err := tx.Where("circuit_id = ?", circuitID).Delete(&Step{}).Error; err != nil {
			return err
		}
		return tx.Where("circuit_id = ?", circuitID).Delete(&Circuit{}).Error
	})
	return s.finish(opDeleteCircuit, circuitID, txErr)
}

// ListRewards returns the circuit's rewards in creation order.
func (s *Service) ListRewards(ctx context.Context, circuitID string) ([]Reward, error) {
	if err := s.ready(opListRewards); err != nil {
		return nil, err
	}
	var rewards []Reward
	if err := s.db.WithContext(ctx).
		Where("circuit_id = ?", circuitID).
		Order("created_at ASC").
		Find(&rewards).Error; err != nil {
		s.logError(opListRewards, reasonQueryFailed, err, zap.String("circuit_id", circuitID))
		return nil, newServiceError(opListRewards, reasonQueryFailed, err)
	}
	return rewards, nil
}

// AddReward validates the form against the circuit's steps and stores the reward.
func (s *Service) AddReward(ctx context.Context, circuitID string, form RewardForm) (Reward, error) {
	if err := s.ready(opAddReward); err != nil {
		return Reward{}, err
	}
	var created Reward
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		circuit, err := loadCircuit(tx, circuitID)
		if err != nil {
			return s.wrapLoadError(opAddReward, circuitID, err)
		}
		draft, err := form.Validate(circuit.Steps)
		if err != nil {
			return newServiceError(opAddReward, reasonInvalidForm, err)
		}
		rewardID, err := s.idProvider.NewID()
		if err != nil {
			return newServiceError(opAddReward, reasonIDGeneration, err)
		}
		created = Reward{
			ID:                        rewardID,
			CircuitID:                 circuit.ID,
			Name:                      draft.Name,
			Description:               draft.Description,
			StepID:                    draft.StepID,
			UnlockOnCircuitCompletion: draft.UnlockOnCircuitCompletion,
		}
		return tx.Create(&created).Error
	})
	if err := s.finish(opAddReward, circuitID, txErr); err != nil {
		return Reward{}, err
	}
	return created, nil
}

// UpdateReward rewrites a reward. Switching to circuit completion clears the step reference.
func (s *Service) UpdateReward(ctx context.Context, circuitID, rewardID string, form RewardForm) (Reward, error) {
	if err := s.ready(opUpdateReward); err != nil {
		return Reward{}, err
	}
	var updated Reward
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		circuit, err := loadCircuit(tx, circuitID)
		if err != nil {
			return s.wrapLoadError(opUpdateReward, circuitID, err)
		}
		if err := tx.Where("reward_id = ? AND circuit_id = ?", rewardID, circuit.ID).Take(&updated).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newServiceError(opUpdateReward, reasonNotFound, ErrRewardNotFound)
			}
			return err
		}
		draft, err := form.Validate(circuit.Steps)
		if err != nil {
			return newServiceError(opUpdateReward, reasonInvalidForm, err)
		}
		updated.Name = draft.Name
		updated.Description = draft.Description
		updated.StepID = draft.StepID
		updated.UnlockOnCircuitCompletion = draft.UnlockOnCircuitCompletion
		return tx.Model(&Reward{}).
			Where("reward_id = ?", updated.ID).
			Updates(map[string]interface{}{
				"name":                         updated.Name,
				"description":                  updated.Description,
				"step_id":                      updated.StepID,
				"unlock_on_circuit_completion": updated.UnlockOnCircuitCompletion,
				"updated_at":                   s.clock().UTC(),
			}).Error
	})
	if err := s.finish(opUpdateReward, circuitID, txErr); err != nil {
		return Reward{}, err
	}
	return updated, nil
}

// DeleteReward removes a reward from the circuit.
func (s *Service) DeleteReward(ctx context.Context, circuitID, rewardID string) error {
	if err := s.ready(opDeleteReward); err != nil {
		return err
	}
	result := s.db.WithContext(ctx).
		Where("reward_id = ? AND circuit_id = ?", rewardID, circuitID).
		Delete(&Reward{})
	if result.Error != nil {
		s.logError(opDeleteReward, reasonWriteFailed, result.Error, zap.String("circuit_id", circuitID))
		return newServiceError(opDeleteReward, reasonWriteFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDeleteReward, reasonNotFound, ErrRewardNotFound)
	}
	return nil
}

func (s *Service) mutateCircuit(ctx context.Context, operation, circuitID string, apply func(tx *gorm.DB, circuit Circuit) error) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		circuit, err := loadCircuit(tx, circuitID)
		if err != nil {
			return s.wrapLoadError(operation, circuitID, err)
		}
		if s.lockActiveCircuits && circuit.Active {
			return newServiceError(operation, reasonLocked, ErrCircuitLocked)
		}
		return apply(tx, circuit)
	})
	return s.finish(operation, circuitID, txErr)
}

// finish passes service errors through and wraps raw storage errors.
func (s *Service) finish(operation, circuitID string, err error) error {
	if err == nil {
		return nil
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}
	s.logError(operation, reasonWriteFailed, err, zap.String("circuit_id", circuitID))
	return newServiceError(operation, reasonWriteFailed, err)
}

func (s *Service) wrapLoadError(operation, circuitID string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(operation, reasonNotFound, ErrCircuitNotFound)
	}
	s.logError(operation, reasonQueryFailed, err, zap.String("circuit_id", circuitID))
	return newServiceError(operation, reasonQueryFailed, err)
}

func (s *Service) ready(operation string) error {
	if s == nil || s.db == nil {
		return newServiceError(operation, reasonMissingDB, errMissingDatabase)
	}
	return nil
}

func (s *Service) materializeSteps(circuitID string, circuitType CircuitType, drafts []StepDraft, existing []Step) ([]Step, error) {
	steps := make([]Step, 0, len(drafts))
	for index, draft := range drafts {
		step := draft.place(circuitType, index+1)
		step.CircuitID = circuitID
		if index < len(existing) {
			step.ID = existing[index].ID
		} else {
			stepID, err := s.idProvider.NewID()
			if err != nil {
				return nil, err
			}
			step.ID = stepID
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (s *Service) checkStructure(circuitType CircuitType, steps []Step) error {
	if err := ValidateOrder(steps); err != nil {
		return err
	}
	if err := ValidateLevelThresholds(circuitType, steps); err != nil {
		return err
	}
	return s.checkEventNames(steps)
}

func (s *Service) checkEventNames(steps []Step) error {
	if !s.enforceUniqueEventNames {
		return nil
	}
	return ValidateUniqueEventNames(steps)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("circuits service error", attrs...)
}

func loadCircuit(db *gorm.DB, circuitID string) (Circuit, error) {
	var circuit Circuit
	err := db.Preload("Steps", orderedSteps).
		Where("circuit_id = ?", circuitID).
		Take(&circuit).Error
	return circuit, err
}

func orderedSteps(db *gorm.DB) *gorm.DB {
	return db.Order("step_number ASC")
}

// persistStepNumbers writes the numbers of steps whose position changed.
func persistStepNumbers(tx *gorm.DB, before []Step, after []Step) error {
	previous := make(map[string]int, len(before))
	for _, step := range before {
		previous[step.ID] = step.StepNumber
	}
	for _, step := range after {
		if previous[step.ID] == step.StepNumber {
			continue
		}
		if err := tx.Model(&Step{}).
			Where("step_id = ?", step.ID).
			Update("step_number", step.StepNumber).Error; err != nil {
			return err
		}
	}
	return nil
}
