package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/analytics"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/blueprint"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/circuits"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/curve"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/endusers"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/projects"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/tracking"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	operatorIDContextKey = "circuits_operator_id"
	projectContextKey    = "circuits_project"
	circuitContextKey    = "circuits_circuit"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingOperatorResolver = errors.New("operator resolver dependency required")
	errMissingProjectsService  = errors.New("projects service dependency required")
	errMissingCircuitsService  = errors.New("circuits service dependency required")
	errMissingEndUsersService  = errors.New("end users service dependency required")
	errMissingTrackingEngine   = errors.New("tracking engine dependency required")
	errMissingAnalyticsService = errors.New("analytics service dependency required")
)

// SessionValidator authenticates operator requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// OperatorResolver maps session claims to the canonical operator id.
type OperatorResolver interface {
	ResolveOperatorID(ctx context.Context, claims auth.SessionClaims) (string, error)
}

type Dependencies struct {
	Sessions       SessionValidator
	Operators      OperatorResolver
	Projects       *projects.Service
	Circuits       *circuits.Service
	EndUsers       *endusers.Service
	Tracking       *tracking.Engine
	Analytics      *analytics.Service
	Realtime       *RealtimeDispatcher
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errMissingSessionValidator
	case deps.Operators == nil:
		return nil, errMissingOperatorResolver
	case deps.Projects == nil:
		return nil, errMissingProjectsService
	case deps.Circuits == nil:
		return nil, errMissingCircuitsService
	case deps.EndUsers == nil:
		return nil, errMissingEndUsersService
	case deps.Tracking == nil:
		return nil, errMissingTrackingEngine
	case deps.Analytics == nil:
		return nil, errMissingAnalyticsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		sessions:  deps.Sessions,
		operators: deps.Operators,
		projects:  deps.Projects,
		circuits:  deps.Circuits,
		endUsers:  deps.EndUsers,
		tracking:  deps.Tracking,
		analytics: deps.Analytics,
		realtime:  realtime,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/track", handler.handleTrack)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/curves/preview", handler.handleCurvePreview)
	protected.GET("/projects", handler.handleListProjects)
	protected.POST("/projects", handler.handleCreateProject)

	project := protected.Group("/projects/:projectID")
	project.Use(handler.loadProject)
	project.POST("/api-key/rotate", handler.handleRotateAPIKey)
	project.GET("/circuits", handler.handleListCircuits)
	project.POST("/circuits", handler.handleCreateCircuit)
	project.POST("/circuits/import", handler.handleImportCircuit)
	project.GET("/users", handler.handleListUsers)
	project.GET("/users/export", handler.handleExportUsers)
	project.GET("/users/:endUserID", handler.handleGetUser)
	project.GET("/events", handler.handleProjectEvents)

	circuit := protected.Group("/circuits/:circuitID")
	circuit.Use(handler.loadCircuit)
	circuit.GET("", handler.handleGetCircuit)
	circuit.PATCH("", handler.handleRenameCircuit)
	circuit.DELETE("", handler.handleDeleteCircuit)
	circuit.POST("/activate", handler.handleActivateCircuit)
	circuit.POST("/steps", handler.handleAddStep)
	circuit.PUT("/steps", handler.handleSetSteps)
	circuit.PATCH("/steps/order", handler.handleUpdateStepsOrder)
	circuit.PATCH("/steps/:stepID", handler.handleUpdateStep)
	circuit.DELETE("/steps/:stepID", handler.handleDeleteStep)
	circuit.GET("/rewards", handler.handleListRewards)
	circuit.POST("/rewards", handler.handleAddReward)
	circuit.PATCH("/rewards/:rewardID", handler.handleUpdateReward)
	circuit.DELETE("/rewards/:rewardID", handler.handleDeleteReward)
	circuit.GET("/analytics", handler.handleAnalytics)

	return router, nil
}

// corsMiddleware allows the configured origins, or echoes any origin when none are configured,
// with credentials so the session cookie travels.
func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Api-Key"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		config.AllowOrigins = allowedOrigins
	} else {
		config.AllowOriginFunc = func(string) bool { return true }
	}
	return cors.New(config)
}

type httpHandler struct {
	sessions  SessionValidator
	operators OperatorResolver
	projects  *projects.Service
	circuits  *circuits.Service
	endUsers  *endusers.Service
	tracking  *tracking.Engine
	analytics *analytics.Service
	realtime  *RealtimeDispatcher
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	operatorID, err := h.operators.ResolveOperatorID(c.Request.Context(), claims)
	if err != nil || operatorID == "" {
		h.logger.Warn("operator resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(operatorIDContextKey, operatorID)
	c.Next()
}

func (h *httpHandler) loadProject(c *gin.Context) {
	project, err := h.projects.Authorize(c.Request.Context(), c.GetString(operatorIDContextKey), c.Param("projectID"))
	if err != nil {
		h.respondError(c, err)
		c.Abort()
		return
	}
	c.Set(projectContextKey, project)
	c.Next()
}

// loadCircuit resolves the circuit and checks that the operator owns its project.
// Circuits of other operators are reported as missing.
func (h *httpHandler) loadCircuit(c *gin.Context) {
	ctx := c.Request.Context()
	circuit, err := h.circuits.GetCircuit(ctx, c.Param("circuitID"))
	if err != nil {
		h.respondError(c, err)
		c.Abort()
		return
	}
	if _, err := h.projects.Authorize(ctx, c.GetString(operatorIDContextKey), circuit.ProjectID); err != nil {
		if errors.Is(err, projects.ErrProjectNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.respondError(c, err)
		c.Abort()
		return
	}
	c.Set(circuitContextKey, circuit)
	c.Next()
}

func currentProject(c *gin.Context) projects.Project {
	value, _ := c.Get(projectContextKey)
	project, _ := value.(projects.Project)
	return project
}

func currentCircuit(c *gin.Context) circuits.Circuit {
	value, _ := c.Get(circuitContextKey)
	circuit, _ := value.(circuits.Circuit)
	return circuit
}

type codedError interface {
	Code() string
}

// respondError maps service errors onto status codes. The body always carries "error";
// service errors add their "code" and validation failures add "fields".
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, label := classifyError(err)
	body := gin.H{"error": label}

	var coded codedError
	if errors.As(err, &coded) {
		body["code"] = coded.Code()
	}
	var circuitValidation *circuits.ValidationError
	var curveValidation *curve.ValidationError
	switch {
	case errors.As(err, &circuitValidation):
		body["fields"] = circuitValidation.Fields
	case errors.As(err, &curveValidation):
		body["fields"] = curveValidation.Fields
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, body)
}

func classifyError(err error) (int, string) {
	var circuitValidation *circuits.ValidationError
	var curveValidation *curve.ValidationError
	switch {
	case errors.As(err, &circuitValidation), errors.As(err, &curveValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, circuits.ErrCircuitNotFound),
		errors.Is(err, circuits.ErrStepNotFound),
		errors.Is(err, circuits.ErrRewardNotFound),
		errors.Is(err, projects.ErrProjectNotFound),
		errors.Is(err, endusers.ErrEndUserNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, circuits.ErrCircuitHasNoSteps),
		errors.Is(err, circuits.ErrBaselineStepProtected),
		errors.Is(err, circuits.ErrReorderNotSupported),
		errors.Is(err, circuits.ErrCircuitLocked):
		return http.StatusConflict, "conflict"
	case errors.Is(err, circuits.ErrInvalidStepOrder),
		errors.Is(err, circuits.ErrStepIndexOutOfRange),
		errors.Is(err, projects.ErrInvalidProjectName),
		errors.Is(err, endusers.ErrInvalidFilter),
		errors.Is(err, endusers.ErrUnsupportedFormat),
		errors.Is(err, blueprint.ErrInvalidBlueprint):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": message})
}
