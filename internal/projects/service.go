package projects

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/ids"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const publicKeyPrefix = "pk_"

var (
	// ErrProjectNotFound indicates the project does not exist or belongs to another owner.
	ErrProjectNotFound = errors.New("projects: project not found")
	// ErrInvalidProjectName indicates an empty or oversized project name.
	ErrInvalidProjectName = errors.New("projects: invalid project name")
	// ErrUnknownAPIKey indicates no project uses the presented public key.
	ErrUnknownAPIKey = errors.New("projects: unknown api key")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// Project scopes circuits and end users. Operators select a project explicitly on every request.
type Project struct {
	ID           string    `gorm:"column:project_id;primaryKey;size:190;not null"`
	OwnerID      string    `gorm:"column:owner_id;size:190;not null;index"`
	Name         string    `gorm:"column:name;size:320;not null"`
	PublicAPIKey string    `gorm:"column:public_api_key;size:64;not null;uniqueIndex"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Project) TableName() string {
	return "projects"
}

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
	opServiceNew    = "projects.service.new"
	opCreate        = "projects.create"
	opListForOwner  = "projects.list_for_owner"
	opGet           = "projects.get"
	opAuthorize     = "projects.authorize"
	opResolveAPIKey = "projects.resolve_api_key"
	opRotateAPIKey  = "projects.rotate_api_key"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the project service.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider ids.Provider
	Logger     *zap.Logger
	KeySource  func() (string, error)
}

// Service manages projects and their public tracking keys.
type Service struct {
	db         *gorm.DB
	idProvider ids.Provider
	logger     *zap.Logger
	keySource  func() (string, error)
}

// NewService constructs the project service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	keySource := cfg.KeySource
	if keySource == nil {
		keySource = newPublicKey
	}
	return &Service{db: cfg.Database, idProvider: cfg.IDProvider, logger: logger, keySource: keySource}, nil
}

// Create stores a project owned by ownerID with a fresh public key.
func (s *Service) Create(ctx context.Context, ownerID, name string) (Project, error) {
	if s == nil || s.db == nil {
		return Project{}, newServiceError(opCreate, "missing_database", errMissingDatabase)
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || len(trimmed) > 320 {
		return Project{}, newServiceError(opCreate, "invalid_name", ErrInvalidProjectName)
	}
	projectID, err := s.idProvider.NewID()
	if err != nil {
		return Project{}, newServiceError(opCreate, "id_generation_failed", err)
	}
	key, err := s.keySource()
	if err != nil {
		return Project{}, newServiceError(opCreate, "key_generation_failed", err)
	}
	project := Project{ID: projectID, OwnerID: ownerID, Name: trimmed, PublicAPIKey: key}
	if err := s.db.WithContext(ctx).Create(&project).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("owner_id", ownerID))
		return Project{}, newServiceError(opCreate, "insert_failed", err)
	}
	return project, nil
}

// ListForOwner returns the operator's projects ordered by name.
func (s *Service) ListForOwner(ctx context.Context, ownerID string) ([]Project, error) {
	if s == nil || s.db == nil {
		return nil, newServiceError(opListForOwner, "missing_database", errMissingDatabase)
	}
	var projects []Project
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("name ASC").Find(&projects).Error; err != nil {
		s.logError(opListForOwner, "query_failed", err, zap.String("owner_id", ownerID))
		return nil, newServiceError(opListForOwner, "query_failed", err)
	}
	return projects, nil
}

// Get loads a project regardless of owner. Offline tooling uses it; HTTP handlers go through Authorize.
func (s *Service) Get(ctx context.Context, projectID string) (Project, error) {
	if s == nil || s.db == nil {
		return Project{}, newServiceError(opGet, "missing_database", errMissingDatabase)
	}
	var project Project
	err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Project{}, newServiceError(opGet, "not_found", ErrProjectNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("project_id", projectID))
		return Project{}, newServiceError(opGet, "query_failed", err)
	}
	return project, nil
}

// Authorize loads the project when ownerID owns it. Foreign projects are reported as not found.
func (s *Service) Authorize(ctx context.Context, ownerID, projectID string) (Project, error) {
	if s == nil || s.db == nil {
		return Project{}, newServiceError(opAuthorize, "missing_database", errMissingDatabase)
	}
	var project Project
	err := s.db.WithContext(ctx).Where("project_id = ? AND owner_id = ?", projectID, ownerID).Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Project{}, newServiceError(opAuthorize, "not_found", ErrProjectNotFound)
	}
	if err != nil {
		s.logError(opAuthorize, "query_failed", err, zap.String("project_id", projectID))
		return Project{}, newServiceError(opAuthorize, "query_failed", err)
	}
	return project, nil
}

// ResolveAPIKey maps a public tracking key to its project.
func (s *Service) ResolveAPIKey(ctx context.Context, key string) (Project, error) {
	if s == nil || s.db == nil {
		return Project{}, newServiceError(opResolveAPIKey, "missing_database", errMissingDatabase)
	}
	trimmed := strings.TrimSpace(key)
	if !strings.HasPrefix(trimmed, publicKeyPrefix) {
		return Project{}, newServiceError(opResolveAPIKey, "unknown_key", ErrUnknownAPIKey)
	}
	var project Project
	err := s.db.WithContext(ctx).Where("public_api_key = ?", trimmed).Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Project{}, newServiceError(opResolveAPIKey, "unknown_key", ErrUnknownAPIKey)
	}
	if err != nil {
		s.logError(opResolveAPIKey, "query_failed", err)
		return Project{}, newServiceError(opResolveAPIKey, "query_failed", err)
	}
	return project, nil
}

// RotateAPIKey replaces the project's public key; the previous key stops working immediately.
func (s *Service) RotateAPIKey(ctx context.Context, ownerID, projectID string) (Project, error) {
	project, err := s.Authorize(ctx, ownerID, projectID)
	if err != nil {
		return Project{}, err
	}
	key, err := s.keySource()
	if err != nil {
		return Project{}, newServiceError(opRotateAPIKey, "key_generation_failed", err)
	}
	if err := s.db.WithContext(ctx).Model(&Project{}).
		Where("project_id = ?", project.ID).
		Update("public_api_key", key).Error; err != nil {
		s.logError(opRotateAPIKey, "update_failed", err, zap.String("project_id", projectID))
		return Project{}, newServiceError(opRotateAPIKey, "update_failed", err)
	}
	project.PublicAPIKey = key
	return project, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	logger := s.logger
	if logger == nil {
		logger = noOpLogger
	}
	attrs := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	logger.Error("projects service error", attrs...)
}

func newPublicKey() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return publicKeyPrefix + hex.EncodeToString(value[:]), nil
}
