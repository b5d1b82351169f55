package models

import (
	"time"
)

type Severity string

const (
	SeverityInfo   Severity = "INFO"
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// MaxWarningLevel is the warning level at which an attempt is cancelled.
const MaxWarningLevel = 3

// Rank orders severities from least (0) to most severe (3).
// Unknown values rank below INFO.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return -1
	}
}

func (s Severity) IsValid() bool {
	return s.Rank() >= 0
}

// AtLeast reports whether s is as severe as other or more.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Violation is a single proctoring signal detected in a captured frame.
type Violation struct {
	Message   string    `json:"message" validate:"required"`
	Severity  Severity  `json:"severity" validate:"required,severity"`
	Timestamp time.Time `json:"timestamp"`
}

// AnalysisResult is the response of the analyze-face endpoint for one frame.
type AnalysisResult struct {
	Violations   []Violation `json:"violations" validate:"dive"`
	WarningLevel *int        `json:"warningLevel" validate:"omitempty,min=0,max=3"`
	ShouldCancel bool        `json:"shouldCancel"`
	Message      string      `json:"message,omitempty"`
}

// AnalyzeFaceRequest carries one captured webcam frame.
type AnalyzeFaceRequest struct {
	SessionID  string    `json:"sessionId"`
	Image      string    `json:"image"` // base64 encoded JPEG
	CapturedAt time.Time `json:"capturedAt"`
}
