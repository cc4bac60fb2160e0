package circuitssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal circuits HTTP API client. Operator calls use BearerToken;
// Track uses APIKey.
type Client struct {
	BaseURL     string
	BearerToken string
	APIKey      string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project is a tenant owning circuits and end users.
type Project struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PublicAPIKey string `json:"publicApiKey"`
	CreatedAt    string `json:"createdAt"`
}

// Step is one stage of a circuit.
type Step struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Description         string `json:"description"`
	EventName           string `json:"eventName"`
	CompletionThreshold int    `json:"completionThreshold"`
	StepNumber          int    `json:"stepNumber"`
}

// Circuit is a progression journey and its ordered steps.
type Circuit struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Active      bool   `json:"active"`
	EventName   string `json:"eventName,omitempty"`
	ActivatedAt string `json:"activatedAt,omitempty"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
	Steps       []Step `json:"steps"`
}

// StepInput is the editable part of a step.
type StepInput struct {
	Name                string `json:"name"`
	Description         string `json:"description,omitempty"`
	EventName           string `json:"eventName,omitempty"`
	CompletionThreshold int    `json:"completionThreshold"`
}

// CurveParams drives threshold generation for POINTS and ACTIONS circuits.
type CurveParams struct {
	NumberOfSteps int     `json:"numberOfSteps"`
	Curve         string  `json:"curve"`
	StartValue    int     `json:"startValue"`
	MaxValue      int     `json:"maxValue"`
	Exponent      float64 `json:"exponent,omitempty"`
}

// CircuitInput creates a circuit from explicit steps or a curve.
type CircuitInput struct {
	Name      string       `json:"name"`
	Type      string       `json:"type"`
	EventName string       `json:"eventName,omitempty"`
	Steps     []StepInput  `json:"steps,omitempty"`
	Curve     *CurveParams `json:"curve,omitempty"`
}

// StepOrder places one step at a 1-based position.
type StepOrder struct {
	StepID     string `json:"stepId"`
	StepNumber int    `json:"stepNumber"`
}

// Unlock describes when a reward is granted.
type Unlock struct {
	Kind       string `json:"kind"`
	Label      string `json:"label"`
	StepNumber int    `json:"stepNumber,omitempty"`
}

// Reward is granted on a step or on circuit completion.
type Reward struct {
	ID                        string  `json:"id"`
	Name                      string  `json:"name"`
	Description               string  `json:"description"`
	StepID                    *string `json:"stepId"`
	UnlockOnCircuitCompletion bool    `json:"unlockOnCircuitCompletion"`
	Unlock                    Unlock  `json:"unlock"`
}

// RewardInput is the editable part of a reward.
type RewardInput struct {
	Name                      string  `json:"name"`
	Description               string  `json:"description,omitempty"`
	StepID                    *string `json:"stepId,omitempty"`
	UnlockOnCircuitCompletion bool    `json:"unlockOnCircuitCompletion"`
}

// TrackEvent is one integrator event.
type TrackEvent struct {
	UserID    string         `json:"userId"`
	EventName string         `json:"eventName"`
	Value     *float64       `json:"value,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	FullName  string         `json:"fullName,omitempty"`
	Email     string         `json:"email,omitempty"`
	Picture   string         `json:"picture,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// GrantedReward is a reward handed out by a tracked event.
type GrantedReward struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TrackResult is the ingestion outcome.
type TrackResult struct {
	Success          bool            `json:"success"`
	Updated          bool            `json:"updated"`
	StepCompleted    bool            `json:"stepCompleted"`
	CircuitCompleted bool            `json:"circuitCompleted"`
	AlreadyCompleted bool            `json:"alreadyCompleted"`
	Points           *float64        `json:"points,omitempty"`
	Rewards          []GrantedReward `json:"rewards,omitempty"`
	Message          string          `json:"message,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project owned by the session operator.
func (c *Client) CreateProject(ctx context.Context, name string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", map[string]any{"name": name}, &resp)
	return resp, err
}

// CreateCircuit creates an inactive circuit in the project.
func (c *Client) CreateCircuit(ctx context.Context, projectID string, input CircuitInput) (Circuit, error) {
	var resp Circuit
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%s/circuits", url.PathEscape(projectID)), input, &resp)
	return resp, err
}

// GetCircuit fetches a circuit with its ordered steps.
func (c *Client) GetCircuit(ctx context.Context, circuitID string) (Circuit, error) {
	var resp Circuit
	err := c.do(ctx, http.MethodGet, c.circuitPath(circuitID, ""), nil, &resp)
	return resp, err
}

// RenameCircuit changes the display name.
func (c *Client) RenameCircuit(ctx context.Context, circuitID, name string) (Circuit, error) {
	var resp Circuit
	err := c.do(ctx, http.MethodPatch, c.circuitPath(circuitID, ""), map[string]any{"name": name}, &resp)
	return resp, err
}

// ActivateCircuit starts listening to events for the circuit.
func (c *Client) ActivateCircuit(ctx context.Context, circuitID string) (Circuit, error) {
	var resp Circuit
	err := c.do(ctx, http.MethodPost, c.circuitPath(circuitID, "activate"), nil, &resp)
	return resp, err
}

// DeleteCircuit removes the circuit, its steps, rewards and progress.
func (c *Client) DeleteCircuit(ctx context.Context, circuitID string) error {
	return c.do(ctx, http.MethodDelete, c.circuitPath(circuitID, ""), nil, nil)
}

// AddStep appends a step; the server assigns its id.
func (c *Client) AddStep(ctx context.Context, circuitID string, input StepInput) (Step, error) {
	var resp Step
	err := c.do(ctx, http.MethodPost, c.circuitPath(circuitID, "steps"), input, &resp)
	return resp, err
}

// UpdateStep edits a step in place.
func (c *Client) UpdateStep(ctx context.Context, circuitID, stepID string, input StepInput) (Step, error) {
	var resp Step
	err := c.do(ctx, http.MethodPatch, c.circuitPath(circuitID, "steps/"+url.PathEscape(stepID)), input, &resp)
	return resp, err
}

// DeleteStep removes a step; the remaining steps are renumbered.
func (c *Client) DeleteStep(ctx context.Context, circuitID, stepID string) error {
	return c.do(ctx, http.MethodDelete, c.circuitPath(circuitID, "steps/"+url.PathEscape(stepID)), nil, nil)
}

// SetSteps replaces every step of the circuit.
func (c *Client) SetSteps(ctx context.Context, circuitID string, inputs []StepInput) (Circuit, error) {
	var resp Circuit
	err := c.do(ctx, http.MethodPut, c.circuitPath(circuitID, "steps"), map[string]any{"steps": inputs}, &resp)
	return resp, err
}

// UpdateStepsOrder persists a full ordering of an OBJECTIVE circuit.
func (c *Client) UpdateStepsOrder(ctx context.Context, circuitID string, order []StepOrder) (Circuit, error) {
	var resp Circuit
	err := c.do(ctx, http.MethodPatch, c.circuitPath(circuitID, "steps/order"), map[string]any{"order": order}, &resp)
	return resp, err
}

// ListRewards returns the rewards of a circuit with their unlock descriptions.
func (c *Client) ListRewards(ctx context.Context, circuitID string) ([]Reward, error) {
	var resp struct {
		Rewards []Reward `json:"rewards"`
	}
	err := c.do(ctx, http.MethodGet, c.circuitPath(circuitID, "rewards"), nil, &resp)
	return resp.Rewards, err
}

// AddReward attaches a reward to a step or to circuit completion.
func (c *Client) AddReward(ctx context.Context, circuitID string, input RewardInput) (Reward, error) {
	var resp Reward
	err := c.do(ctx, http.MethodPost, c.circuitPath(circuitID, "rewards"), input, &resp)
	return resp, err
}

// UpdateReward edits a reward.
func (c *Client) UpdateReward(ctx context.Context, circuitID, rewardID string, input RewardInput) (Reward, error) {
	var resp Reward
	err := c.do(ctx, http.MethodPatch, c.circuitPath(circuitID, "rewards/"+url.PathEscape(rewardID)), input, &resp)
	return resp, err
}

// DeleteReward removes a reward.
func (c *Client) DeleteReward(ctx context.Context, circuitID, rewardID string) error {
	return c.do(ctx, http.MethodDelete, c.circuitPath(circuitID, "rewards/"+url.PathEscape(rewardID)), nil, nil)
}

// PreviewCurve returns the thresholds the server would generate.
func (c *Client) PreviewCurve(ctx context.Context, params CurveParams) ([]int, error) {
	var resp struct {
		Thresholds []int `json:"thresholds"`
	}
	err := c.do(ctx, http.MethodPost, "curves/preview", params, &resp)
	return resp.Thresholds, err
}

// Track sends an event with the client's APIKey.
func (c *Client) Track(ctx context.Context, event TrackEvent) (TrackResult, error) {
	body := struct {
		APIKey string `json:"apiKey"`
		TrackEvent
	}{APIKey: c.APIKey, TrackEvent: event}
	var resp TrackResult
	err := c.do(ctx, http.MethodPost, "track", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) circuitPath(circuitID, suffix string) string {
	path := "circuits/" + url.PathEscape(circuitID)
	if suffix != "" {
		path += "/" + strings.TrimLeft(suffix, "/")
	}
	return path
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
