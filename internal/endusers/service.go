package endusers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

var (
	// ErrEndUserNotFound indicates the end user does not exist in the project.
	ErrEndUserNotFound = errors.New("endusers: end user not found")
	// ErrUnsupportedFormat indicates an unknown export format.
	ErrUnsupportedFormat = errors.New("endusers: unsupported export format")
	// ErrInvalidFilter indicates a filter combination that cannot be evaluated.
	ErrInvalidFilter = errors.New("endusers: invalid filter")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
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
	opList         = "endusers.list"
	opGet          = "endusers.get"
	opExport       = "endusers.export"
	opPurgeCircuit = "endusers.purge_circuit"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Format selects the export rendering.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat maps a query value to a Format, defaulting to CSV.
func ParseFormat(value string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatCSV:
		return FormatCSV, true
	case FormatMarkdown, "md":
		return FormatMarkdown, true
	case FormatHTML:
		return FormatHTML, true
	default:
		return "", false
	}
}

// Filter narrows an end user listing. CircuitID is required when Status is set.
type Filter struct {
	ProjectID     string
	Search        string
	CircuitID     string
	Status        ProgressStatus
	MetadataKey   string
	MetadataValue string
	MinStreak     int
	Limit         int
	Offset        int
}

// Page is one slice of a filtered listing with the total match count.
type Page struct {
	Users []EndUser
	Total int64
}

// Detail bundles an end user with its progress records.
type Detail struct {
	User     EndUser
	Progress []CircuitProgress
	Steps    []StepCompletion
	Rewards  []RewardGrant
}

// ServiceConfig describes the dependencies of the end user service.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service reads end users and their progress. Writes happen in the tracking engine.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs the end user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError("endusers.service.new", "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// List returns one page of the project's end users matching the filter, most recently active first.
func (s *Service) List(ctx context.Context, filter Filter) (Page, error) {
	if s == nil || s.db == nil {
		return Page{}, newServiceError(opList, "missing_database", errMissingDatabase)
	}
	query, err := s.filtered(ctx, filter)
	if err != nil {
		return Page{}, newServiceError(opList, "invalid_filter", err)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		s.logError(opList, "count_failed", err, zap.String("project_id", filter.ProjectID))
		return Page{}, newServiceError(opList, "query_failed", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var users []EndUser
	if err := query.Order("last_login_at DESC").Order("external_id ASC").
		Limit(limit).Offset(offset).
		Find(&users).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("project_id", filter.ProjectID))
		return Page{}, newServiceError(opList, "query_failed", err)
	}
	return Page{Users: users, Total: total}, nil
}

// Get loads an end user of the project along with its progress, step completions and rewards.
func (s *Service) Get(ctx context.Context, projectID, endUserID string) (Detail, error) {
	if s == nil || s.db == nil {
		return Detail{}, newServiceError(opGet, "missing_database", errMissingDatabase)
	}
	db := s.db.WithContext(ctx)
	var user EndUser
	err := db.Where("project_id = ? AND end_user_id = ?", projectID, endUserID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Detail{}, newServiceError(opGet, "not_found", ErrEndUserNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("end_user_id", endUserID))
		return Detail{}, newServiceError(opGet, "query_failed", err)
	}

	detail := Detail{User: user}
	if err := db.Where("end_user_id = ?", user.ID).Order("started_at ASC").Find(&detail.Progress).Error; err != nil {
		return Detail{}, newServiceError(opGet, "query_failed", err)
	}
	if err := db.Where("end_user_id = ?", user.ID).Order("circuit_id ASC").Find(&detail.Steps).Error; err != nil {
		return Detail{}, newServiceError(opGet, "query_failed", err)
	}
	if err := db.Where("end_user_id = ?", user.ID).Order("granted_at ASC").Find(&detail.Rewards).Error; err != nil {
		return Detail{}, newServiceError(opGet, "query_failed", err)
	}
	return detail, nil
}

// Export renders every end user matching the filter as a table in the given format.
// Pagination fields of the filter are ignored.
func (s *Service) Export(ctx context.Context, filter Filter, format Format) (string, error) {
	if s == nil || s.db == nil {
		return "", newServiceError(opExport, "missing_database", errMissingDatabase)
	}
	query, err := s.filtered(ctx, filter)
	if err != nil {
		return "", newServiceError(opExport, "invalid_filter", err)
	}
	var users []EndUser
	if err := query.Order("external_id ASC").Find(&users).Error; err != nil {
		s.logError(opExport, "query_failed", err, zap.String("project_id", filter.ProjectID))
		return "", newServiceError(opExport, "query_failed", err)
	}
	rendered, err := RenderTable(users, format)
	if err != nil {
		return "", newServiceError(opExport, "unsupported_format", err)
	}
	return rendered, nil
}

// RenderTable formats end users as a CSV, Markdown or HTML table.
func RenderTable(users []EndUser, format Format) (string, error) {
	writer := table.NewWriter()
	writer.AppendHeader(table.Row{"External ID", "Name", "Email", "Current streak", "Longest streak", "Last activity"})
	for _, user := range users {
		lastActivity := ""
		if user.LastLoginAt != nil {
			lastActivity = user.LastLoginAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		writer.AppendRow(table.Row{user.ExternalID, user.FullName, user.Email, user.CurrentStreak, user.LongestStreak, lastActivity})
	}
	switch format {
	case FormatCSV:
		return writer.RenderCSV(), nil
	case FormatMarkdown:
		return writer.RenderMarkdown(), nil
	case FormatHTML:
		return writer.RenderHTML(), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// PurgeCircuit deletes every progress record of a circuit inside the caller's transaction.
func (s *Service) PurgeCircuit(tx *gorm.DB, circuitID string) error {
	for _, model := range []interface{}{&RewardGrant{}, &StepCompletion{}, &CircuitProgress{}} {
		if err := tx.Where("circuit_id = ?", circuitID).Delete(model).Error; err != nil {
			s.logError(opPurgeCircuit, "delete_failed", err, zap.String("circuit_id", circuitID))
			return newServiceError(opPurgeCircuit, "delete_failed", err)
		}
	}
	return nil
}

func (s *Service) filtered(ctx context.Context, filter Filter) (*gorm.DB, error) {
	db := s.db.WithContext(ctx)
	query := db.Model(&EndUser{}).Where("project_id = ?", filter.ProjectID)

	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		pattern := "%" + search + "%"
		query = query.Where(
			"LOWER(full_name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(external_id) LIKE ?",
			pattern, pattern, pattern,
		)
	}

	if key := strings.TrimSpace(filter.MetadataKey); key != "" {
		query = query.Where(datatypes.JSONQuery("metadata").Equals(filter.MetadataValue, key))
	}

	if filter.MinStreak > 0 {
		query = query.Where("current_streak >= ?", filter.MinStreak)
	}

	if filter.Status != "" {
		circuitID := strings.TrimSpace(filter.CircuitID)
		if circuitID == "" {
			return nil, fmt.Errorf("%w: status requires a circuit", ErrInvalidFilter)
		}
		participants := db.Model(&CircuitProgress{}).Select("end_user_id").Where("circuit_id = ?", circuitID)
		switch filter.Status {
		case StatusNotStarted:
			query = query.Where("end_user_id NOT IN (?)", participants)
		case StatusInProgress:
			query = query.Where("end_user_id IN (?)", participants.Where("completed_at IS NULL"))
		case StatusCompleted:
			query = query.Where("end_user_id IN (?)", participants.Where("completed_at IS NOT NULL"))
		default:
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, filter.Status)
		}
	} else if circuitID := strings.TrimSpace(filter.CircuitID); circuitID != "" {
		query = query.Where("end_user_id IN (?)",
			db.Model(&CircuitProgress{}).Select("end_user_id").Where("circuit_id = ?", circuitID))
	}

	return query, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	logger := noOpLogger
	if s != nil && s.logger != nil {
		logger = s.logger
	}
	attrs := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	logger.Error("endusers service error", attrs...)
}
