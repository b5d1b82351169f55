package session

import (
	"context"

	"github.com/SAP-F-2025/tryout-runtime/internal/models"
	"github.com/SAP-F-2025/tryout-runtime/internal/proctoring"
)

// Backend is the part of the tryout API a view talks to. *client.Client
// satisfies it.
type Backend interface {
	GetSession(ctx context.Context, sessionID string) (*models.SessionDetail, error)
	SubmitAttempt(ctx context.Context, sessionID string) (*models.SubmitResult, error)
	CancelAttempt(ctx context.Context, sessionID string, reason string) error
	proctoring.Analyzer
}

// FrameSource grabs one still frame from the webcam.
type FrameSource interface {
	Capture(ctx context.Context) ([]byte, error)
}

type FrameSourceFunc func(ctx context.Context) ([]byte, error)

func (f FrameSourceFunc) Capture(ctx context.Context) ([]byte, error) {
	return f(ctx)
}
