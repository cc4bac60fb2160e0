package main

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/analytics"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/circuits"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/database"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/endusers"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/operators"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/projects"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/server"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/tracking"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stackOptions struct {
	LockActiveCircuits      bool
	EnforceUniqueEventNames bool
}

// stack holds every service sharing one database handle.
type stack struct {
	db        *gorm.DB
	logger    *zap.Logger
	operators *operators.Service
	projects  *projects.Service
	circuits  *circuits.Service
	endUsers  *endusers.Service
	tracking  *tracking.Engine
	analytics *analytics.Service
	realtime  *server.RealtimeDispatcher
}

func openStack(databasePath, logLevel, logFormat string, options stackOptions) (*stack, error) {
	logger, err := logging.NewLogger(logLevel, logFormat)
	if err != nil {
		return nil, err
	}
	db, err := database.OpenSQLite(databasePath, logger)
	if err != nil {
		return nil, err
	}

	idProvider := ids.NewUUIDProvider()
	built := &stack{db: db, logger: logger, realtime: server.NewRealtimeDispatcher()}

	if built.operators, err = operators.NewService(operators.ServiceConfig{Database: db, Clock: time.Now, Logger: logger}); err != nil {
		return nil, err
	}
	if built.projects, err = projects.NewService(projects.ServiceConfig{Database: db, IDProvider: idProvider, Logger: logger}); err != nil {
		return nil, err
	}
	if built.endUsers, err = endusers.NewService(endusers.ServiceConfig{Database: db, Logger: logger}); err != nil {
		return nil, err
	}
	if built.circuits, err = circuits.NewService(circuits.ServiceConfig{
		Database:                db,
		Clock:                   time.Now,
		IDProvider:              idProvider,
		Logger:                  logger,
		Purgers:                 []circuits.Purger{built.endUsers},
		LockActiveCircuits:      options.LockActiveCircuits,
		EnforceUniqueEventNames: options.EnforceUniqueEventNames,
	}); err != nil {
		return nil, err
	}
	if built.tracking, err = tracking.NewEngine(tracking.EngineConfig{
		Database:    db,
		IDProvider:  idProvider,
		KeyResolver: built.projects,
		Publisher:   built.realtime,
		Clock:       time.Now,
		Logger:      logger,
	}); err != nil {
		return nil, err
	}
	if built.analytics, err = analytics.NewService(analytics.ServiceConfig{Database: db, Circuits: built.circuits, Logger: logger}); err != nil {
		return nil, err
	}
	return built, nil
}

func (s *stack) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = s.logger.Sync()
}

// lookupProject checks ownership when ownerID is set and otherwise only confirms the project exists.
func (s *stack) lookupProject(ctx context.Context, ownerID, projectID string) (projects.Project, error) {
	if ownerID == "" {
		return s.projects.Get(ctx, projectID)
	}
	return s.projects.Authorize(ctx, ownerID, projectID)
}
