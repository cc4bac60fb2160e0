package integration_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/analytics"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/circuits"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/database"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/endusers"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/operators"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/projects"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/server"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/tracking"
	circuitssdk "github.com/MarcoPoloResearchLab/circuits/backend/sdk/go"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	sessionSigningSecret = "integration-secret"
	sessionCookieName    = "app_session"
	sessionIssuer        = "tauth"
	sessionUserID        = "google:operator-abc"
)

func newIntegrationServer(testContext *testing.T) *httptest.Server {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	db, err := database.OpenSQLite(filepath.Join(testContext.TempDir(), "integration.db"), logger)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	idProvider := ids.NewUUIDProvider()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(sessionSigningSecret),
		Issuer:        sessionIssuer,
		CookieName:    sessionCookieName,
	})
	if err != nil {
		testContext.Fatalf("failed to construct session validator: %v", err)
	}
	operatorService, err := operators.NewService(operators.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build operator service: %v", err)
	}
	projectService, err := projects.NewService(projects.ServiceConfig{Database: db, IDProvider: idProvider, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build project service: %v", err)
	}
	endUserService, err := endusers.NewService(endusers.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build end user service: %v", err)
	}
	circuitService, err := circuits.NewService(circuits.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
		Purgers:    []circuits.Purger{endUserService},
	})
	if err != nil {
		testContext.Fatalf("failed to build circuit service: %v", err)
	}
	dispatcher := server.NewRealtimeDispatcher()
	engine, err := tracking.NewEngine(tracking.EngineConfig{
		Database:    db,
		IDProvider:  idProvider,
		KeyResolver: projectService,
		Publisher:   dispatcher,
		Logger:      logger,
	})
	if err != nil {
		testContext.Fatalf("failed to build tracking engine: %v", err)
	}
	analyticsService, err := analytics.NewService(analytics.ServiceConfig{Database: db, Circuits: circuitService, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build analytics service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:  sessionValidator,
		Operators: operatorService,
		Projects:  projectService,
		Circuits:  circuitService,
		EndUsers:  endUserService,
		Tracking:  engine,
		Analytics: analyticsService,
		Realtime:  dispatcher,
		Logger:    logger,
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return testServer
}

func TestPointsCircuitFlow(testContext *testing.T) {
	testServer := newIntegrationServer(testContext)
	ctx := context.Background()

	operator := circuitssdk.New(testServer.URL)
	operator.BearerToken = mustMintSessionToken(testContext, sessionSigningSecret, sessionUserID, time.Now())

	project, err := operator.CreateProject(ctx, "Coffee shop")
	if err != nil {
		testContext.Fatalf("failed to create project: %v", err)
	}

	thresholds, err := operator.PreviewCurve(ctx, circuitssdk.CurveParams{NumberOfSteps: 4, Curve: "linear", StartValue: 10, MaxValue: 100})
	if err != nil {
		testContext.Fatalf("failed to preview curve: %v", err)
	}
	circuit, err := operator.CreateCircuit(ctx, project.ID, circuitssdk.CircuitInput{
		Name:      "Loyalty",
		Type:      "POINTS",
		EventName: "purchase",
		Curve:     &circuitssdk.CurveParams{NumberOfSteps: 4, Curve: "linear", StartValue: 10, MaxValue: 100},
	})
	if err != nil {
		testContext.Fatalf("failed to create circuit: %v", err)
	}
	for index, step := range circuit.Steps {
		if step.CompletionThreshold != thresholds[index] {
			testContext.Fatalf("created thresholds differ from the preview at %d: %d vs %d", index, step.CompletionThreshold, thresholds[index])
		}
	}
	lastStep := circuit.Steps[len(circuit.Steps)-1].ID
	if _, err := operator.AddReward(ctx, circuit.ID, circuitssdk.RewardInput{Name: "Free coffee", StepID: &lastStep}); err != nil {
		testContext.Fatalf("failed to add reward: %v", err)
	}
	if _, err := operator.ActivateCircuit(ctx, circuit.ID); err != nil {
		testContext.Fatalf("failed to activate circuit: %v", err)
	}

	integrator := circuitssdk.New(testServer.URL)
	integrator.APIKey = project.PublicAPIKey

	value := 45.0
	result, err := integrator.Track(ctx, circuitssdk.TrackEvent{UserID: "customer-1", EventName: "purchase", Value: &value})
	if err != nil {
		testContext.Fatalf("track failed: %v", err)
	}
	if !result.Updated || !result.StepCompleted || result.CircuitCompleted || result.Points == nil || *result.Points != 45 {
		testContext.Fatalf("unexpected first result: %+v", result)
	}

	value = 60
	result, err = integrator.Track(ctx, circuitssdk.TrackEvent{UserID: "customer-1", EventName: "purchase", Value: &value})
	if err != nil {
		testContext.Fatalf("track failed: %v", err)
	}
	if !result.CircuitCompleted || len(result.Rewards) != 1 || result.Rewards[0].Name != "Free coffee" {
		testContext.Fatalf("expected completion with the level reward, got %+v", result)
	}

	integrator.APIKey = "pk_wrong"
	_, err = integrator.Track(ctx, circuitssdk.TrackEvent{UserID: "customer-1", EventName: "purchase"})
	var apiErr *circuitssdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		testContext.Fatalf("expected 401 for a wrong key, got %v", err)
	}
}

func TestEditorAgainstServer(testContext *testing.T) {
	testServer := newIntegrationServer(testContext)
	ctx := context.Background()

	operator := circuitssdk.New(testServer.URL)
	operator.BearerToken = mustMintSessionToken(testContext, sessionSigningSecret, sessionUserID, time.Now())
	project, err := operator.CreateProject(ctx, "Shop")
	if err != nil {
		testContext.Fatalf("failed to create project: %v", err)
	}
	circuit, err := operator.CreateCircuit(ctx, project.ID, circuitssdk.CircuitInput{
		Name: "Onboarding",
		Type: "OBJECTIVE",
		Steps: []circuitssdk.StepInput{
			{Name: "Sign up", CompletionThreshold: 1},
			{Name: "Verify email", CompletionThreshold: 1},
		},
	})
	if err != nil {
		testContext.Fatalf("failed to create circuit: %v", err)
	}

	editor := circuitssdk.NewEditor(operator, circuit)
	added, err := editor.AddStep(ctx, circuitssdk.StepInput{Name: "First order", CompletionThreshold: 1})
	if err != nil {
		testContext.Fatalf("editor add failed: %v", err)
	}
	if err := editor.MoveStep(ctx, 2, 0); err != nil {
		testContext.Fatalf("editor move failed: %v", err)
	}

	stored, err := operator.GetCircuit(ctx, circuit.ID)
	if err != nil {
		testContext.Fatalf("failed to reload circuit: %v", err)
	}
	if stored.Steps[0].ID != added.ID || stored.Steps[0].StepNumber != 1 || len(stored.Steps) != 3 {
		testContext.Fatalf("server order does not match the editor: %+v", stored.Steps)
	}
	local := editor.Steps()
	for index := range local {
		if local[index].ID != stored.Steps[index].ID {
			testContext.Fatalf("editor and server diverged at %d", index)
		}
	}

	// A step deleted behind the editor's back makes the next edit fail and roll back.
	if err := operator.DeleteStep(ctx, circuit.ID, stored.Steps[2].ID); err != nil {
		testContext.Fatalf("failed to delete step: %v", err)
	}
	before := editor.Steps()
	if _, err := editor.UpdateStep(ctx, before[2].ID, circuitssdk.StepInput{Name: "Renamed", CompletionThreshold: 1}); err == nil {
		testContext.Fatalf("expected the update of a deleted step to fail")
	}
	if mutation := editor.Mutation(); mutation.State != circuitssdk.MutationRolledBack {
		testContext.Fatalf("expected a rollback, got %+v", mutation)
	}
	if editor.Steps()[2].Name != before[2].Name {
		testContext.Fatalf("expected the local step to be restored")
	}
}

func mustMintSessionToken(testContext *testing.T, signingSecret, userID string, now time.Time) string {
	testContext.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(signingSecret))
	if err != nil {
		testContext.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
