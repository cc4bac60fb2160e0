package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/tracking"
)

const (
	RealtimeEventProgress  = "progress"
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "circuits-backend"
	realtimeHeartbeatEvery = 25 * time.Second
)

// RealtimeMessage is one progress notification for operators watching a project.
type RealtimeMessage struct {
	ProjectID        string
	EventType        string
	EndUserID        string
	ExternalUserID   string
	EventName        string
	CircuitIDs       []string
	StepCompleted    bool
	CircuitCompleted bool
	Timestamp        time.Time
}

// RealtimeDispatcher fans progress messages out to per-project subscribers.
// Slow subscribers miss messages rather than block publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, projectID string) (<-chan RealtimeMessage, func()) {
	if projectID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(projectID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(projectID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.ProjectID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.ProjectID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// PublishProgress implements tracking.Publisher.
func (d *RealtimeDispatcher) PublishProgress(event tracking.ProgressEvent) {
	d.Publish(RealtimeMessage{
		ProjectID:        event.ProjectID,
		EventType:        RealtimeEventProgress,
		EndUserID:        event.EndUserID,
		ExternalUserID:   event.ExternalUserID,
		EventName:        event.EventName,
		CircuitIDs:       event.CircuitIDs,
		StepCompleted:    event.StepCompleted,
		CircuitCompleted: event.CircuitCompleted,
		Timestamp:        event.OccurredAt,
	})
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(projectID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[projectID]; !ok {
		d.subscribers[projectID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[projectID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(projectID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[projectID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, projectID)
		}
	}
	d.mu.Unlock()
}

type realtimeEventPayload struct {
	Source           string   `json:"source"`
	EndUserID        string   `json:"endUserId"`
	ExternalUserID   string   `json:"externalUserId"`
	EventName        string   `json:"eventName"`
	CircuitIDs       []string `json:"circuitIds"`
	StepCompleted    bool     `json:"stepCompleted"`
	CircuitCompleted bool     `json:"circuitCompleted"`
	Timestamp        string   `json:"timestamp"`
}

func newRealtimeEventPayload(message RealtimeMessage) realtimeEventPayload {
	circuitIDs := message.CircuitIDs
	if circuitIDs == nil {
		circuitIDs = []string{}
	}
	return realtimeEventPayload{
		Source:           realtimeSourceBackend,
		EndUserID:        message.EndUserID,
		ExternalUserID:   message.ExternalUserID,
		EventName:        message.EventName,
		CircuitIDs:       circuitIDs,
		StepCompleted:    message.StepCompleted,
		CircuitCompleted: message.CircuitCompleted,
		Timestamp:        message.Timestamp.UTC().Format(time.RFC3339),
	}
}
