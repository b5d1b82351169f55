package events

import (
	"time"

	"github.com/SAP-F-2025/tryout-runtime/internal/models"
	"github.com/google/uuid"
)

// EventType represents the session runtime transitions published downstream
type EventType string

const (
	// Timer events
	EventAttemptTimeWarning EventType = "attempt.time_warning"
	EventAttemptExpired     EventType = "attempt.expired"
	EventAttemptSubmitted   EventType = "attempt.submitted"

	// Proctoring events
	EventAttemptCancelled    EventType = "attempt.cancelled"
	EventWarningLevelChanged EventType = "proctoring.warning_level_changed"
	EventProctoringViolation EventType = "proctoring.violation_detected"
)

const (
	eventSource  = "tryout-runtime"
	eventVersion = "1.0"
)

// SessionEvent is the envelope for every published event
type SessionEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Version   string                 `json:"version"`
	Data      interface{}            `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Timer event payloads

type TimeWarningEvent struct {
	SessionID   string `json:"session_id"`
	ViewID      string `json:"view_id"`
	RemainingMs int64  `json:"remaining_ms"`
}

type AttemptExpiredEvent struct {
	SessionID string    `json:"session_id"`
	ViewID    string    `json:"view_id"`
	ExpiredAt time.Time `json:"expired_at"`
}

type AttemptSubmittedEvent struct {
	SessionID string               `json:"session_id"`
	ViewID    string               `json:"view_id"`
	Reason    models.CloseReason   `json:"reason"`
	Result    *models.SubmitResult `json:"result,omitempty"`
}

// Proctoring event payloads

type AttemptCancelledEvent struct {
	SessionID         string `json:"session_id"`
	ViewID            string `json:"view_id"`
	WarningLevel      int    `json:"warning_level"`
	TotalViolations   int    `json:"total_violations"`
	HighSeverityCount int    `json:"high_severity_count"`
}

type WarningLevelChangedEvent struct {
	SessionID    string `json:"session_id"`
	ViewID       string `json:"view_id"`
	WarningLevel int    `json:"warning_level"`
}

type ViolationDetectedEvent struct {
	SessionID string           `json:"session_id"`
	ViewID    string           `json:"view_id"`
	Violation models.Violation `json:"violation"`
}

// NewSessionEvent wraps a payload in the common envelope
func NewSessionEvent(eventType EventType, data interface{}, at time.Time) *SessionEvent {
	return &SessionEvent{
		ID:        GenerateEventID(),
		Type:      eventType,
		Timestamp: at,
		Source:    eventSource,
		Version:   eventVersion,
		Data:      data,
	}
}

// GenerateEventID returns a unique event identifier
func GenerateEventID() string {
	return uuid.NewString()
}
