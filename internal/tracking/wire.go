package tracking

import "time"

// TrackRequest is one integrator event. UserID is the integrator's own user identifier.
type TrackRequest struct {
	APIKey    string                 `json:"apiKey"`
	UserID    string                 `json:"userId"`
	EventName string                 `json:"eventName"`
	Value     *float64               `json:"value,omitempty"`
	Timestamp *time.Time             `json:"timestamp,omitempty"`
	FullName  string                 `json:"fullName,omitempty"`
	Email     string                 `json:"email,omitempty"`
	Picture   string                 `json:"picture,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// TrackResponse is the public ingestion result. The five booleans are always present.
type TrackResponse struct {
	Success          bool            `json:"success"`
	Updated          bool            `json:"updated"`
	StepCompleted    bool            `json:"stepCompleted"`
	CircuitCompleted bool            `json:"circuitCompleted"`
	AlreadyCompleted bool            `json:"alreadyCompleted"`
	Points           *float64        `json:"points,omitempty"`
	Rewards          []GrantedReward `json:"rewards,omitempty"`
	Message          string          `json:"message,omitempty"`
}

// GrantedReward describes a reward handed out by the current event.
type GrantedReward struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ProgressEvent is published after an event changed an end user's progress.
type ProgressEvent struct {
	ProjectID        string
	EndUserID        string
	ExternalUserID   string
	EventName        string
	CircuitIDs       []string
	StepCompleted    bool
	CircuitCompleted bool
	OccurredAt       time.Time
}

// Publisher receives progress events once the tracking transaction committed.
type Publisher interface {
	PublishProgress(event ProgressEvent)
}

const (
	messageInvalidAPIKey  = "invalid api key"
	messageMissingFields  = "userId and eventName are required"
	messageInvalidValue   = "value must be a positive number"
	messageNoCircuit      = "no active circuit listens to this event"
	messageStepLocked     = "step locked"
	messageAlreadyDone    = "already completed"
	messageInternalFailed = "tracking failed"
)
