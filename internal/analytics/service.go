package analytics

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/circuits"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/endusers"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingDependencies = errors.New("analytics: database and circuit loader are required")

// CircuitLoader loads a circuit with its ordered steps.
type CircuitLoader interface {
	GetCircuit(ctx context.Context, circuitID string) (circuits.Circuit, error)
}

// ServiceConfig describes the dependencies of the analytics service.
type ServiceConfig struct {
	Database *gorm.DB
	Circuits CircuitLoader
	Logger   *zap.Logger
}

// Service computes circuit reports from stored progress.
type Service struct {
	db       *gorm.DB
	circuits CircuitLoader
	logger   *zap.Logger
}

// NewService constructs the analytics service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil || cfg.Circuits == nil {
		return nil, errMissingDependencies
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, circuits: cfg.Circuits, logger: logger}, nil
}

// CircuitReport loads the circuit's progress and completions and computes its report.
func (s *Service) CircuitReport(ctx context.Context, circuitID string) (Report, error) {
	circuit, err := s.circuits.GetCircuit(ctx, circuitID)
	if err != nil {
		return Report{}, err
	}
	db := s.db.WithContext(ctx)
	var progresses []endusers.CircuitProgress
	if err := db.Where("circuit_id = ?", circuitID).Find(&progresses).Error; err != nil {
		s.logger.Error("analytics progress query failed", zap.String("circuit_id", circuitID), zap.Error(err))
		return Report{}, fmt.Errorf("analytics: load progress: %w", err)
	}
	var completions []endusers.StepCompletion
	if err := db.Where("circuit_id = ? AND completed_at IS NOT NULL", circuitID).Find(&completions).Error; err != nil {
		s.logger.Error("analytics completion query failed", zap.String("circuit_id", circuitID), zap.Error(err))
		return Report{}, fmt.Errorf("analytics: load completions: %w", err)
	}
	return Compute(circuit, progresses, completions), nil
}
