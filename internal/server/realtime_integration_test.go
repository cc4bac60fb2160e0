package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/tracking"
)

func TestProjectEventsStreamEmitsProgress(t *testing.T) {
	fixture := newAPIFixture(t)
	token := fixture.token(t, "google:operator-1")
	project := fixture.createProject(t, token, "Shop")
	circuit := fixture.createActiveCircuit(t, token, project.ID, onboardingRequest())

	streamRequest, err := http.NewRequest(http.MethodGet, fixture.server.URL+"/projects/"+project.ID+"/events", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamRequest.Header.Set("Authorization", "Bearer "+token)
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}

	type readResult struct {
		line string
		err  error
	}
	lines := make(chan readResult, 16)
	go func() {
		reader := bufio.NewReader(streamResp.Body)
		for {
			line, err := reader.ReadString('\n')
			lines <- readResult{line: line, err: err}
			if err != nil {
				return
			}
		}
	}()

	deadline := time.After(5 * time.Second)
	currentEventType := ""
	nextData := func(wantType string) string {
		for {
			select {
			case <-deadline:
				t.Fatalf("timed out waiting for %s event", wantType)
			case res := <-lines:
				if res.err != nil {
					t.Fatalf("failed to read stream: %v", res.err)
				}
				line := strings.TrimSpace(res.line)
				switch {
				case strings.HasPrefix(line, "event:"):
					currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				case strings.HasPrefix(line, "data:") && currentEventType == wantType:
					return strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				}
			}
		}
	}

	// The initial heartbeat confirms the subscription is registered.
	nextData(realtimeEventHeartbeat)

	var tracked tracking.TrackResponse
	fixture.do(t, http.MethodPost, "/track", "", tracking.TrackRequest{
		APIKey: project.PublicAPIKey, UserID: "u-1", EventName: "sign_up",
	}, &tracked)
	if !tracked.StepCompleted {
		t.Fatalf("expected the first step to complete, got %+v", tracked)
	}

	var payload struct {
		Source         string   `json:"source"`
		ExternalUserID string   `json:"externalUserId"`
		EventName      string   `json:"eventName"`
		CircuitIDs     []string `json:"circuitIds"`
		StepCompleted  bool     `json:"stepCompleted"`
	}
	if err := json.Unmarshal([]byte(nextData(RealtimeEventProgress)), &payload); err != nil {
		t.Fatalf("failed to decode event payload: %v", err)
	}
	if payload.Source != realtimeSourceBackend || payload.ExternalUserID != "u-1" || payload.EventName != "sign_up" {
		t.Fatalf("unexpected progress payload: %+v", payload)
	}
	if len(payload.CircuitIDs) != 1 || payload.CircuitIDs[0] != circuit.ID || !payload.StepCompleted {
		t.Fatalf("unexpected circuit identifiers: %+v", payload)
	}
}
