package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/circuits"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationCompactStepNumbers    = "2026-10-01_compact_step_numbers"
	migrationStripOwnerProviderIDs = "2026-10-08_strip_owner_provider_ids"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationCompactStepNumbers, apply: compactStepNumbers},
		{name: migrationStripOwnerProviderIDs, apply: stripOwnerProviderIDs},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(migration.apply); err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// compactStepNumbers closes gaps and duplicates in step numbering left by older builds
// that deleted steps without renumbering.
func compactStepNumbers(db *gorm.DB) error {
	var steps []circuits.Step
	if err := db.Order("circuit_id ASC").Order("step_number ASC").Order("created_at ASC").Find(&steps).Error; err != nil {
		return err
	}
	position := 0
	currentCircuit := ""
	for _, step := range steps {
		if step.CircuitID != currentCircuit {
			currentCircuit = step.CircuitID
			position = 0
		}
		position++
		if step.StepNumber == position {
			continue
		}
		if err := db.Model(&circuits.Step{}).
			Where("step_id = ?", step.ID).
			Update("step_number", position).Error; err != nil {
			return err
		}
	}
	return nil
}

// stripOwnerProviderIDs rewrites "provider:subject" owner ids to the bare subject the
// operator identity service resolves to.
func stripOwnerProviderIDs(db *gorm.DB) error {
	return db.Exec("UPDATE projects SET owner_id = substr(owner_id, instr(owner_id, ':') + 1) WHERE instr(owner_id, ':') > 0").Error
}
