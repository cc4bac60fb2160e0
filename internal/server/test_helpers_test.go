package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/analytics"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/circuits"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/database"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/endusers"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/operators"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/projects"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/tracking"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "tauth"
	testCookieName    = "app_session"
)

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%d", p.next), nil
}

type apiFixture struct {
	server     *httptest.Server
	issuer     *auth.TokenIssuer
	dispatcher *RealtimeDispatcher
	keys       int
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	fixture := &apiFixture{dispatcher: NewRealtimeDispatcher()}
	idProvider := &sequenceIDProvider{}
	logger := zap.NewNop()

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}
	fixture.issuer, err = auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	operatorService, err := operators.NewService(operators.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build operator service: %v", err)
	}
	projectService, err := projects.NewService(projects.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
		KeySource: func() (string, error) {
			fixture.keys++
			return fmt.Sprintf("pk_%032d", fixture.keys), nil
		},
	})
	if err != nil {
		t.Fatalf("failed to build project service: %v", err)
	}
	endUserService, err := endusers.NewService(endusers.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build end user service: %v", err)
	}
	circuitService, err := circuits.NewService(circuits.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
		Purgers:    []circuits.Purger{endUserService},
	})
	if err != nil {
		t.Fatalf("failed to build circuit service: %v", err)
	}
	engine, err := tracking.NewEngine(tracking.EngineConfig{
		Database:    db,
		IDProvider:  idProvider,
		KeyResolver: projectService,
		Publisher:   fixture.dispatcher,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("failed to build tracking engine: %v", err)
	}
	analyticsService, err := analytics.NewService(analytics.ServiceConfig{Database: db, Circuits: circuitService, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build analytics service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:  validator,
		Operators: operatorService,
		Projects:  projectService,
		Circuits:  circuitService,
		EndUsers:  endUserService,
		Tracking:  engine,
		Analytics: analyticsService,
		Realtime:  fixture.dispatcher,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("failed to build http handler: %v", err)
	}
	fixture.server = httptest.NewServer(handler)
	t.Cleanup(fixture.server.Close)
	return fixture
}

func (f *apiFixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := f.issuer.IssueSessionToken(context.Background(), auth.OperatorIdentity{
		UserID: userID,
		Email:  userID + "@example.com",
	})
	if err != nil {
		t.Fatalf("failed to issue session token: %v", err)
	}
	return token
}

// do sends body as JSON unless it is already a []byte, and decodes a JSON response into out when out is non-nil.
func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}, out interface{}) *http.Response {
	t.Helper()
	var reader io.Reader = http.NoBody
	switch typed := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(typed)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { _ = response.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode %s %s response: %v", method, path, err)
		}
	}
	return response
}

func (f *apiFixture) createProject(t *testing.T, token, name string) projectPayload {
	t.Helper()
	var project projectPayload
	response := f.do(t, http.MethodPost, "/projects", token, createProjectRequest{Name: name}, &project)
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected project status: %d", response.StatusCode)
	}
	return project
}

func (f *apiFixture) createActiveCircuit(t *testing.T, token, projectID string, request createCircuitRequest) circuitPayload {
	t.Helper()
	var circuit circuitPayload
	response := f.do(t, http.MethodPost, "/projects/"+projectID+"/circuits", token, request, &circuit)
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected circuit status: %d", response.StatusCode)
	}
	response = f.do(t, http.MethodPost, "/circuits/"+circuit.ID+"/activate", token, nil, &circuit)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected activation status: %d", response.StatusCode)
	}
	return circuit
}
