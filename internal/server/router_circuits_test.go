package server

import (
	"net/http"
	"testing"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/blueprint"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/curve"
)

func TestCreateCircuitFromCurve(t *testing.T) {
	fixture := newAPIFixture(t)
	token := fixture.token(t, "google:operator-1")
	project := fixture.createProject(t, token, "Shop")

	var circuit circuitPayload
	response := fixture.do(t, http.MethodPost, "/projects/"+project.ID+"/circuits", token, createCircuitRequest{
		Name:      "Loyalty",
		Type:      "POINTS",
		EventName: "purchase",
		Curve:     &curve.Params{NumberOfSteps: 4, Curve: curve.ShapeLinear, StartValue: 10, MaxValue: 100},
	}, &circuit)
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", response.StatusCode)
	}
	if circuit.Active {
		t.Fatalf("new circuits start inactive")
	}
	want := []int{10, 40, 70, 100}
	if len(circuit.Steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(circuit.Steps))
	}
	for index, step := range circuit.Steps {
		if step.CompletionThreshold != want[index] || step.StepNumber != index+1 {
			t.Fatalf("unexpected step %d: %+v", index, step)
		}
	}
}

func TestCreateCircuitValidationReportsFields(t *testing.T) {
	fixture := newAPIFixture(t)
	token := fixture.token(t, "google:operator-1")
	project := fixture.createProject(t, token, "Shop")

	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	response := fixture.do(t, http.MethodPost, "/projects/"+project.ID+"/circuits", token, createCircuitRequest{
		Name: "x",
		Type: "OBJECTIVE",
	}, &body)
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", response.StatusCode)
	}
	if body.Error != "invalid_request" || len(body.Fields) == 0 {
		t.Fatalf("expected field errors, got %+v", body)
	}
}

func TestStepEditingRenumbersSteps(t *testing.T) {
	fixture := newAPIFixture(t)
	token := fixture.token(t, "google:operator-1")
	project := fixture.createProject(t, token, "Shop")

	var circuit circuitPayload
	fixture.do(t, http.MethodPost, "/projects/"+project.ID+"/circuits", token, createCircuitRequest{
		Name: "Onboarding",
		Type: "OBJECTIVE",
		Steps: []stepRequest{
			{Name: "Sign up", CompletionThreshold: 1},
			{Name: "Verify email", CompletionThreshold: 1},
		},
	}, &circuit)

	var added stepPayload
	response := fixture.do(t, http.MethodPost, "/circuits/"+circuit.ID+"/steps", token, stepRequest{Name: "First order", CompletionThreshold: 1}, &added)
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", response.StatusCode)
	}
	if added.StepNumber != 3 || added.EventName != "first_order" {
		t.Fatalf("unexpected step: %+v", added)
	}

	response = fixture.do(t, http.MethodDelete, "/circuits/"+circuit.ID+"/steps/"+circuit.Steps[1].ID, token, nil, nil)
	if response.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", response.StatusCode)
	}

	var reloaded circuitPayload
	fixture.do(t, http.MethodGet, "/circuits/"+circuit.ID, token, nil, &reloaded)
	if len(reloaded.Steps) != 2 {
		t.Fatalf("expected 2 steps after delete, got %d", len(reloaded.Steps))
	}
	if reloaded.Steps[1].ID != added.ID || reloaded.Steps[1].StepNumber != 2 {
		t.Fatalf("expected steps renumbered contiguously, got %+v", reloaded.Steps)
	}
}

func TestRewardUnlockDescriptions(t *testing.T) {
	fixture := newAPIFixture(t)
	token := fixture.token(t, "google:operator-1")
	project := fixture.createProject(t, token, "Shop")

	var circuit circuitPayload
	fixture.do(t, http.MethodPost, "/projects/"+project.ID+"/circuits", token, createCircuitRequest{
		Name:  "Onboarding",
		Type:  "OBJECTIVE",
		Steps: []stepRequest{{Name: "Sign up", CompletionThreshold: 1}, {Name: "First order", CompletionThreshold: 1}},
	}, &circuit)

	stepID := circuit.Steps[1].ID
	var onStep rewardPayload
	response := fixture.do(t, http.MethodPost, "/circuits/"+circuit.ID+"/rewards", token, rewardRequest{Name: "Coupon", StepID: &stepID}, &onStep)
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", response.StatusCode)
	}
	if onStep.Unlock.Kind != "step" || onStep.Unlock.Label != "First order" || onStep.Unlock.StepNumber != 2 {
		t.Fatalf("unexpected unlock: %+v", onStep.Unlock)
	}

	var onCompletion rewardPayload
	fixture.do(t, http.MethodPost, "/circuits/"+circuit.ID+"/rewards", token, rewardRequest{Name: "Badge", UnlockOnCircuitCompletion: true}, &onCompletion)
	if onCompletion.Unlock.Kind != "circuit_completion" {
		t.Fatalf("unexpected unlock: %+v", onCompletion.Unlock)
	}

	var listed struct {
		Rewards []rewardPayload `json:"rewards"`
	}
	fixture.do(t, http.MethodGet, "/circuits/"+circuit.ID+"/rewards", token, nil, &listed)
	if len(listed.Rewards) != 2 {
		t.Fatalf("expected 2 rewards, got %d", len(listed.Rewards))
	}
}

func TestForeignCircuitIsNotFound(t *testing.T) {
	fixture := newAPIFixture(t)
	owner := fixture.token(t, "google:operator-1")
	stranger := fixture.token(t, "google:operator-2")
	project := fixture.createProject(t, owner, "Shop")
	circuit := fixture.createActiveCircuit(t, owner, project.ID, createCircuitRequest{
		Name:  "Onboarding",
		Type:  "OBJECTIVE",
		Steps: []stepRequest{{Name: "Sign up", CompletionThreshold: 1}},
	})

	if response := fixture.do(t, http.MethodGet, "/circuits/"+circuit.ID, stranger, nil, nil); response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for a foreign circuit, got %d", response.StatusCode)
	}
	if response := fixture.do(t, http.MethodGet, "/projects/"+project.ID+"/circuits", stranger, nil, nil); response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for a foreign project, got %d", response.StatusCode)
	}
}

func TestImportCircuitBlueprint(t *testing.T) {
	fixture := newAPIFixture(t)
	token := fixture.token(t, "google:operator-1")
	project := fixture.createProject(t, token, "Shop")

	var imported struct {
		Circuit circuitPayload  `json:"circuit"`
		Rewards []rewardPayload `json:"rewards"`
	}
	response := fixture.do(t, http.MethodPost, "/projects/"+project.ID+"/circuits/import", token, []byte(blueprint.Example), &imported)
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", response.StatusCode)
	}
	if imported.Circuit.ID == "" || len(imported.Circuit.Steps) == 0 {
		t.Fatalf("expected an imported circuit with steps, got %+v", imported.Circuit)
	}

	response = fixture.do(t, http.MethodPost, "/projects/"+project.ID+"/circuits/import", token, []byte("name: [unclosed"), nil)
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed yaml, got %d", response.StatusCode)
	}
}

func TestCurvePreview(t *testing.T) {
	fixture := newAPIFixture(t)
	token := fixture.token(t, "google:operator-1")

	var body struct {
		Thresholds []int `json:"thresholds"`
	}
	response := fixture.do(t, http.MethodPost, "/curves/preview", token, curve.Params{
		NumberOfSteps: 4, Curve: curve.ShapeLinear, StartValue: 10, MaxValue: 100,
	}, &body)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	if len(body.Thresholds) != 4 || body.Thresholds[3] != 100 {
		t.Fatalf("unexpected thresholds: %v", body.Thresholds)
	}

	response = fixture.do(t, http.MethodPost, "/curves/preview", token, curve.Params{
		NumberOfSteps: 0, Curve: curve.ShapeLinear, StartValue: 10, MaxValue: 100,
	}, nil)
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid params, got %d", response.StatusCode)
	}
}
