package tracking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/circuits"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/endusers"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/projects"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrUnknownAPIKey indicates the request carried no valid public key.
	ErrUnknownAPIKey = errors.New("tracking: unknown api key")
	// ErrInvalidRequest indicates missing or malformed request fields.
	ErrInvalidRequest = errors.New("tracking: invalid request")

	errMissingDatabase    = errors.New("database handle is required")
	errMissingIDProvider  = errors.New("id provider is required")
	errMissingKeyResolver = errors.New("key resolver is required")
	noOpLogger            = zap.NewNop()
)

// KeyResolver maps a public api key to its project.
type KeyResolver interface {
	ResolveAPIKey(ctx context.Context, key string) (projects.Project, error)
}

// EngineConfig describes the dependencies of the tracking engine.
type EngineConfig struct {
	Database    *gorm.DB
	IDProvider  ids.Provider
	KeyResolver KeyResolver
	Publisher   Publisher
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Engine applies integrator events to end user progress.
type Engine struct {
	db          *gorm.DB
	idProvider  ids.Provider
	keyResolver KeyResolver
	publisher   Publisher
	clock       func() time.Time
	logger      *zap.Logger
}

// NewEngine validates the configuration and constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	if cfg.KeyResolver == nil {
		return nil, errMissingKeyResolver
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Engine{
		db:          cfg.Database,
		idProvider:  cfg.IDProvider,
		keyResolver: cfg.KeyResolver,
		publisher:   cfg.Publisher,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Track records one event. Rejected requests return a response with Success false and an error
// wrapping ErrUnknownAPIKey or ErrInvalidRequest.
func (e *Engine) Track(ctx context.Context, request TrackRequest) (TrackResponse, error) {
	externalID := strings.TrimSpace(request.UserID)
	eventName := strings.TrimSpace(request.EventName)

	if strings.TrimSpace(request.APIKey) == "" {
		return TrackResponse{Message: messageInvalidAPIKey}, ErrUnknownAPIKey
	}
	project, err := e.keyResolver.ResolveAPIKey(ctx, request.APIKey)
	if err != nil {
		if errors.Is(err, projects.ErrUnknownAPIKey) {
			return TrackResponse{Message: messageInvalidAPIKey}, ErrUnknownAPIKey
		}
		e.logger.Error("tracking key resolution failed", zap.Error(err))
		return TrackResponse{Message: messageInternalFailed}, err
	}
	if externalID == "" || eventName == "" {
		return TrackResponse{Message: messageMissingFields}, fmt.Errorf("%w: userId and eventName are required", ErrInvalidRequest)
	}
	increment := 1.0
	if request.Value != nil {
		increment = *request.Value
		if math.IsNaN(increment) || math.IsInf(increment, 0) || increment <= 0 {
			return TrackResponse{Message: messageInvalidValue}, fmt.Errorf("%w: value must be positive", ErrInvalidRequest)
		}
	}
	occurredAt := e.clock().UTC()
	if request.Timestamp != nil && !request.Timestamp.IsZero() {
		occurredAt = request.Timestamp.UTC()
	}

	var (
		response TrackResponse
		event    ProgressEvent
	)
	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := e.touchEndUser(tx, project.ID, externalID, request, occurredAt)
		if err != nil {
			return err
		}
		matched, err := listeningCircuits(tx, project.ID, eventName)
		if err != nil {
			return err
		}
		run := &application{
			engine:     e,
			tx:         tx,
			user:       user,
			eventName:  eventName,
			increment:  increment,
			occurredAt: occurredAt,
		}
		for _, circuit := range matched {
			if err := run.apply(circuit); err != nil {
				return err
			}
		}
		response = run.response(len(matched))
		event = ProgressEvent{
			ProjectID:        project.ID,
			EndUserID:        user.ID,
			ExternalUserID:   user.ExternalID,
			EventName:        eventName,
			CircuitIDs:       run.updatedCircuits,
			StepCompleted:    response.StepCompleted,
			CircuitCompleted: response.CircuitCompleted,
			OccurredAt:       occurredAt,
		}
		return nil
	})
	if txErr != nil {
		e.logger.Error("tracking transaction failed",
			zap.String("project_id", project.ID),
			zap.String("event_name", eventName),
			zap.Error(txErr),
		)
		return TrackResponse{Message: messageInternalFailed}, txErr
	}

	if response.Updated && e.publisher != nil {
		e.publisher.PublishProgress(event)
	}
	return response, nil
}

func (e *Engine) touchEndUser(tx *gorm.DB, projectID, externalID string, request TrackRequest, at time.Time) (endusers.EndUser, error) {
	var user endusers.EndUser
	err := tx.Where("project_id = ? AND external_id = ?", projectID, externalID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		userID, idErr := e.idProvider.NewID()
		if idErr != nil {
			return endusers.EndUser{}, idErr
		}
		user = endusers.EndUser{ID: userID, ProjectID: projectID, ExternalID: externalID}
		applyProfile(&user, request)
		endusers.RecordActivity(&user, at)
		return user, tx.Create(&user).Error
	}
	if err != nil {
		return endusers.EndUser{}, err
	}
	applyProfile(&user, request)
	endusers.RecordActivity(&user, at)
	return user, tx.Save(&user).Error
}

func applyProfile(user *endusers.EndUser, request TrackRequest) {
	if value := strings.TrimSpace(request.FullName); value != "" {
		user.FullName = value
	}
	if value := strings.TrimSpace(request.Email); value != "" {
		user.Email = value
	}
	if value := strings.TrimSpace(request.Picture); value != "" {
		user.Picture = value
	}
	if len(request.Metadata) > 0 {
		if user.Metadata == nil {
			user.Metadata = datatypes.JSONMap{}
		}
		for key, value := range request.Metadata {
			user.Metadata[key] = value
		}
	}
}

// listeningCircuits returns the active circuits of the project that react to eventName:
// OBJECTIVE circuits through their steps and level circuits through their own event name.
func listeningCircuits(tx *gorm.DB, projectID, eventName string) ([]circuits.Circuit, error) {
	objectiveIDs := tx.Model(&circuits.Step{}).Select("circuit_id").Where("event_name = ?", eventName)
	var matched []circuits.Circuit
	err := tx.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).
		Where("project_id = ? AND active = ?", projectID, true).
		Where(
			tx.Where("circuit_type = ? AND circuit_id IN (?)", circuits.CircuitTypeObjective, objectiveIDs).
				Or("circuit_type IN ? AND event_name = ?",
					[]circuits.CircuitType{circuits.CircuitTypePoints, circuits.CircuitTypeActions}, eventName),
		).
		Order("created_at ASC").Order("circuit_id ASC").
		Find(&matched).Error
	return matched, err
}
