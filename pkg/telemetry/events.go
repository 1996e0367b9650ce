package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the deployctl system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// PhaseID is the associated phase ID, if applicable.
	PhaseID string `json:"phase_id,omitempty"`

	// Domain is the associated snapshot domain, if applicable.
	Domain string `json:"domain,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted            = "run.started"
	EventTypeRunCompleted          = "run.completed"
	EventTypeRunFailed             = "run.failed"
	EventTypePhaseStarted          = "phase.started"
	EventTypePhaseCompleted        = "phase.completed"
	EventTypePhaseSkipped          = "phase.skipped"
	EventTypePhaseFailed           = "phase.failed"
	EventTypeRollbackStarted       = "rollback.started"
	EventTypeRollbackCompleted     = "rollback.completed"
	EventTypePreflightFailed       = "preflight.failed"
	EventTypeSnapshotCaptured      = "snapshot.captured"
	EventTypeDriftDetected         = "drift.detected"
	EventTypeVerificationStarted   = "verification.started"
	EventTypeVerificationCompleted = "verification.completed"
	EventTypeRaceCompleted         = "race.completed"
	EventTypeError                 = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, kind, environment string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "orchestrator",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s started (%s, env=%s)", runID, kind, environment),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"kind":        kind,
			"environment": environment,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "orchestrator",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed with status: %s", runID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "orchestrator",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishPhaseStarted publishes a phase started event.
func (ep *EventPublisher) PublishPhaseStarted(runID, phaseID string, ordinal int) error {
	return ep.Publish(Event{
		Type:    EventTypePhaseStarted,
		Source:  "orchestrator",
		RunID:   runID,
		PhaseID: phaseID,
		Message: fmt.Sprintf("Phase %s started (ordinal %d)", phaseID, ordinal),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"ordinal": ordinal,
		},
	})
}

// PublishPhaseCompleted publishes a phase completed event.
func (ep *EventPublisher) PublishPhaseCompleted(runID, phaseID string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypePhaseCompleted,
		Source:  "orchestrator",
		RunID:   runID,
		PhaseID: phaseID,
		Message: fmt.Sprintf("Phase %s completed", phaseID),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	})
}

// PublishPhaseSkipped publishes a phase skipped event.
func (ep *EventPublisher) PublishPhaseSkipped(runID, phaseID string) error {
	return ep.Publish(Event{
		Type:    EventTypePhaseSkipped,
		Source:  "orchestrator",
		RunID:   runID,
		PhaseID: phaseID,
		Message: fmt.Sprintf("Phase %s skipped", phaseID),
		Level:   EventLevelInfo,
	})
}

// PublishPhaseFailed publishes a phase failed event.
func (ep *EventPublisher) PublishPhaseFailed(runID, phaseID string, exitStatus int) error {
	return ep.Publish(Event{
		Type:    EventTypePhaseFailed,
		Source:  "orchestrator",
		RunID:   runID,
		PhaseID: phaseID,
		Message: fmt.Sprintf("Phase %s failed with status %d", phaseID, exitStatus),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"exit_status": exitStatus,
		},
	})
}

// PublishRollbackCompleted publishes a rollback completed event.
func (ep *EventPublisher) PublishRollbackCompleted(runID, phaseID string, exitStatus int, actionsFailed int) error {
	return ep.Publish(Event{
		Type:    EventTypeRollbackCompleted,
		Source:  "rollback",
		RunID:   runID,
		PhaseID: phaseID,
		Message: fmt.Sprintf("Rollback for phase %s completed (original status %d)", phaseID, exitStatus),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"exit_status":    exitStatus,
			"actions_failed": actionsFailed,
		},
	})
}

// PublishDriftDetected publishes a drift detected event.
func (ep *EventPublisher) PublishDriftDetected(runID, domain string) error {
	return ep.Publish(Event{
		Type:    EventTypeDriftDetected,
		Source:  "verify",
		RunID:   runID,
		Domain:  domain,
		Message: fmt.Sprintf("Drift detected in domain %s", domain),
		Level:   EventLevelWarning,
	})
}

// PublishVerificationCompleted publishes a verification completed event.
func (ep *EventPublisher) PublishVerificationCompleted(runID, target string, idempotent bool) error {
	verdict := "idempotent"
	level := EventLevelInfo
	if !idempotent {
		verdict = "drifted"
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeVerificationCompleted,
		Source:  "verify",
		RunID:   runID,
		Message: fmt.Sprintf("Verification of %s completed: %s", target, verdict),
		Level:   level,
		Data: map[string]interface{}{
			"target":  target,
			"verdict": verdict,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-time.After(ep.config.FlushInterval):
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Drain the buffer before shutting down
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						ep.flushBatch(batch)
					}
					return
				}
			}
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}

// FilterByPhaseID creates a filter that only allows events for a specific phase.
func FilterByPhaseID(phaseID string) EventFilter {
	return func(event Event) bool {
		return event.PhaseID == phaseID
	}
}
