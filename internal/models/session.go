package models

import (
	"time"
)

type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "NOT_STARTED"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusCancelled  SessionStatus = "CANCELLED"
	SessionStatusExpired    SessionStatus = "EXPIRED"
)

// CloseReason tells the client why a view stopped accepting input.
type CloseReason string

const (
	CloseReasonSubmitted CloseReason = "submitted"
	CloseReasonExpired   CloseReason = "expired"
	CloseReasonCancelled CloseReason = "cancelled"
	CloseReasonDisposed  CloseReason = "disposed"
)

// SessionDetail is the subset of the session-detail endpoint the runtime
// needs to drive the countdown.
type SessionDetail struct {
	ID              string        `json:"id" validate:"required"`
	TryoutID        string        `json:"tryoutId"`
	Title           string        `json:"title"`
	Status          SessionStatus `json:"status"`
	StartedAt       time.Time     `json:"startedAt"`
	DurationMinutes int           `json:"durationMinutes"`
	RemainingTimeMs *int64        `json:"remainingTimeMs,omitempty"`
	RequireWebcam   bool          `json:"requireWebcam"`
}

// DurationSeconds converts the exam duration; non-positive values mean the
// detail has not been loaded yet.
func (d SessionDetail) DurationSeconds() int {
	if d.DurationMinutes <= 0 {
		return 0
	}
	return d.DurationMinutes * 60
}

// ServerRemaining returns the server computed remaining time, or zero when
// absent or not positive.
func (d SessionDetail) ServerRemaining() time.Duration {
	if d.RemainingTimeMs == nil || *d.RemainingTimeMs <= 0 {
		return 0
	}
	return time.Duration(*d.RemainingTimeMs) * time.Millisecond
}

// SubmitResult is the canonical payload of the submit endpoint. The response
// body is always {"message": ..., "data": SubmitResult}.
type SubmitResult struct {
	SessionID      string        `json:"sessionId"`
	Status         SessionStatus `json:"status"`
	Score          *float64      `json:"score,omitempty"`
	TotalQuestions int           `json:"totalQuestions"`
	Answered       int           `json:"answered"`
	SubmittedAt    time.Time     `json:"submittedAt"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}
