package operators

import (
	"strings"
	"time"
)

// Identity maps an operator login (provider + subject) to the canonical operator id that owns projects.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	OperatorID  string    `gorm:"column:operator_id;size:190;not null;index"`
	Email       string    `gorm:"column:operator_email;size:320"`
	DisplayName string    `gorm:"column:operator_display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing operator identities.
func (Identity) TableName() string {
	return "operator_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
