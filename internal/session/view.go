package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SAP-F-2025/tryout-runtime/internal/cache"
	"github.com/SAP-F-2025/tryout-runtime/internal/client"
	"github.com/SAP-F-2025/tryout-runtime/internal/events"
	"github.com/SAP-F-2025/tryout-runtime/internal/models"
	"github.com/SAP-F-2025/tryout-runtime/internal/oneshot"
	"github.com/SAP-F-2025/tryout-runtime/internal/proctoring"
	"github.com/SAP-F-2025/tryout-runtime/internal/timer"
	"github.com/SAP-F-2025/tryout-runtime/internal/validator"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultAnalysisInterval = 5 * time.Second
	DefaultGuardTTL         = 24 * time.Hour

	actionSubmit = "submit"
	actionCancel = "cancel"

	cancelReason = "proctoring violation limit reached"
)

type Options struct {
	Backend   Backend
	Guard     cache.Guard
	Publisher events.EventPublisher
	Validator *validator.Validator
	Clock     clockwork.Clock
	Logger    *slog.Logger

	TickInterval      time.Duration
	CriticalThreshold time.Duration
	AnalysisInterval  time.Duration
	GuardTTL          time.Duration
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Guard == nil {
		o.Guard = cache.NewMemoryGuard(o.Clock)
	}
	if o.Validator == nil {
		o.Validator = validator.New()
	}
	if o.AnalysisInterval <= 0 {
		o.AnalysisInterval = DefaultAnalysisInterval
	}
	if o.GuardTTL <= 0 {
		o.GuardTTL = DefaultGuardTTL
	}
	return o
}

// Snapshot is everything a renderer needs for one view.
type Snapshot struct {
	ViewID      string               `json:"viewId"`
	AttemptID   string               `json:"attemptId"`
	Title       string               `json:"title,omitempty"`
	Timer       timer.Snapshot       `json:"timer"`
	Proctoring  proctoring.State     `json:"proctoring"`
	Capturing   bool                 `json:"capturing"`
	Closed      bool                 `json:"closed"`
	CloseReason models.CloseReason   `json:"closeReason,omitempty"`
	Result      *models.SubmitResult `json:"result,omitempty"`
	LastError   string               `json:"lastError,omitempty"`
	MountedAt   time.Time            `json:"mountedAt"`
}

// View is one mount of an exam attempt. It owns the countdown and the
// proctoring monitor, and turns their terminal signals into a single submit
// or cancel call on the backend.
type View struct {
	id        string
	attemptID string
	opts      Options
	logger    *slog.Logger
	mountedAt time.Time

	countdown *timer.Countdown
	monitor   *proctoring.Monitor

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	detail        models.SessionDetail
	closed        bool
	closeReason   models.CloseReason
	result        *models.SubmitResult
	lastErr       string
	disposing     bool
	captureCancel context.CancelFunc
	captureDone   chan struct{}
	frames        *FrameBuffer

	bg       sync.WaitGroup
	inFlight atomic.Bool
	disposed oneshot.Latch
}

// Mount fetches the session detail for attemptID and starts a new view on
// it. Every call returns a view with its own ID and state.
func Mount(ctx context.Context, attemptID string, opts Options) (*View, error) {
	if attemptID == "" {
		return nil, ErrInvalidAttemptID
	}
	opts = opts.withDefaults()

	detail, err := fetchDetail(ctx, opts, attemptID)
	if err != nil {
		return nil, err
	}
	switch detail.Status {
	case models.SessionStatusCompleted, models.SessionStatusCancelled, models.SessionStatusExpired:
		return nil, fmt.Errorf("%w: status %s", ErrAttemptNotActive, detail.Status)
	}

	v := newView(attemptID, *detail, opts)
	v.countdown.Start(v.ctx)

	v.logger.Info("View mounted",
		"duration_minutes", detail.DurationMinutes,
		"require_webcam", detail.RequireWebcam)
	return v, nil
}

func fetchDetail(ctx context.Context, opts Options, attemptID string) (*models.SessionDetail, error) {
	detail, err := opts.Backend.GetSession(ctx, attemptID)
	if err != nil {
		if client.IsStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAttemptNotFound, attemptID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if detail.ID == "" {
		detail.ID = attemptID
	}
	if err := opts.Validator.Validate(detail); err != nil {
		return nil, fmt.Errorf("invalid session detail: %w", err)
	}
	return detail, nil
}

func newView(attemptID string, detail models.SessionDetail, opts Options) *View {
	id := uuid.NewString()
	logger := opts.Logger.With("view_id", id, "session_id", attemptID)
	ctx, cancel := context.WithCancel(context.Background())

	v := &View{
		id:        id,
		attemptID: attemptID,
		opts:      opts,
		logger:    logger,
		mountedAt: opts.Clock.Now(),
		ctx:       ctx,
		cancel:    cancel,
		detail:    detail,
	}

	timerOpts := timer.FromSession(detail)
	timerOpts.OnCritical = v.handleCritical
	timerOpts.OnExpire = v.handleExpire
	timerOpts.Clock = opts.Clock
	timerOpts.TickInterval = opts.TickInterval
	timerOpts.CriticalThreshold = opts.CriticalThreshold
	timerOpts.Logger = logger
	v.countdown = timer.New(timerOpts)

	v.monitor = proctoring.NewMonitor(proctoring.Config{
		SessionID:      attemptID,
		OnLevelChanged: v.handleLevelChanged,
		OnViolation:    v.handleViolation,
		OnCancelled:    v.handleCancelled,
		Clock:          opts.Clock,
		Logger:         logger,
	})
	return v
}

func (v *View) ID() string        { return v.id }
func (v *View) AttemptID() string { return v.attemptID }

func (v *View) Timer() timer.Snapshot {
	return v.countdown.Snapshot()
}

func (v *View) Proctoring() proctoring.State {
	return v.monitor.Snapshot()
}

func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	snap := Snapshot{
		ViewID:      v.id,
		AttemptID:   v.attemptID,
		Title:       v.detail.Title,
		Capturing:   v.captureCancel != nil,
		Closed:      v.closed,
		CloseReason: v.closeReason,
		LastError:   v.lastErr,
		MountedAt:   v.mountedAt,
	}
	if v.result != nil {
		result := *v.result
		snap.Result = &result
	}
	v.mu.Unlock()

	snap.Timer = v.countdown.Snapshot()
	snap.Proctoring = v.monitor.Snapshot()
	return snap
}

// Closed reports whether the view has left the exam, and why.
func (v *View) Closed() (bool, models.CloseReason) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed, v.closeReason
}

// Refresh re-reads the session detail. A countdown still waiting for its
// duration leaves the loading state here.
func (v *View) Refresh(ctx context.Context) error {
	if closed, _ := v.Closed(); closed {
		return ErrViewClosed
	}
	detail, err := fetchDetail(ctx, v.opts, v.attemptID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.detail = *detail
	v.mu.Unlock()

	v.countdown.Load(detail.StartedAt, detail.DurationSeconds(), detail.ServerRemaining())
	return nil
}

// StartMonitoring flags proctoring as active for analysis pushed from an
// external capture loop.
func (v *View) StartMonitoring() error {
	if closed, _ := v.Closed(); closed || v.monitor.Cancelled() {
		return ErrViewClosed
	}
	v.monitor.StartMonitoring()
	return nil
}

func (v *View) StopMonitoring() {
	v.monitor.StopMonitoring()
}

// ApplyAnalysis feeds one analyze-face result into the monitor. Malformed
// entries are logged and recorded as received; an unknown severity never
// counts as high.
func (v *View) ApplyAnalysis(result models.AnalysisResult) error {
	if closed, _ := v.Closed(); closed || v.monitor.Cancelled() {
		return ErrViewClosed
	}
	if err := v.opts.Validator.Validate(&result); err != nil {
		var invalid validator.ValidationErrors
		errors.As(err, &invalid)
		v.logger.Warn("Analysis result is malformed, recording as received",
			"fields", invalid.Fields(), "error", err)
	}
	v.monitor.Apply(result)
	return nil
}

// Submit finishes the attempt on request of the student. It shares its
// guard with the automatic submit on expiry, so the backend sees at most
// one submit per attempt. Submitting an already submitted view returns the
// stored result.
func (v *View) Submit(ctx context.Context) (*models.SubmitResult, error) {
	v.mu.Lock()
	if v.closed {
		result, reason := v.result, v.closeReason
		v.mu.Unlock()
		if result != nil && (reason == models.CloseReasonSubmitted || reason == models.CloseReasonExpired) {
			copied := *result
			return &copied, nil
		}
		return nil, ErrViewClosed
	}
	v.mu.Unlock()

	if v.monitor.Cancelled() {
		return nil, ErrViewClosed
	}
	return v.submit(ctx, models.CloseReasonSubmitted)
}

// Dispose tears the view down: capture loop, then monitor, then timer. No
// callback runs and no backend call starts once Dispose has returned.
func (v *View) Dispose() {
	v.disposed.Fire(func() {
		v.mu.Lock()
		v.disposing = true
		v.mu.Unlock()

		v.stopCapture()
		v.monitor.StopMonitoring()
		v.countdown.Stop()
		v.bg.Wait()

		v.mu.Lock()
		if !v.closed {
			v.closed = true
			v.closeReason = models.CloseReasonDisposed
		}
		v.mu.Unlock()

		v.cancel()
		v.logger.Info("View disposed")
	})
}

func (v *View) submit(ctx context.Context, reason models.CloseReason) (*models.SubmitResult, error) {
	key := v.guardKey(actionSubmit)
	if !v.acquire(ctx, key) {
		return nil, ErrAttemptAlreadySubmitted
	}

	result, err := v.opts.Backend.SubmitAttempt(ctx, v.attemptID)
	if err != nil {
		v.release(ctx, key)
		v.setLastError(err)
		v.logger.Error("Failed to submit attempt", "reason", reason, "error", err)
		return nil, fmt.Errorf("failed to submit attempt: %w", err)
	}

	if !v.close(reason, result) {
		return result, nil
	}
	v.logger.Info("Attempt submitted", "reason", reason, "status", result.Status)
	v.publish(events.EventAttemptSubmitted, events.AttemptSubmittedEvent{
		SessionID: v.attemptID,
		ViewID:    v.id,
		Reason:    reason,
		Result:    result,
	})
	return result, nil
}

func (v *View) cancelAttempt(ctx context.Context) {
	state := v.monitor.Snapshot()
	key := v.guardKey(actionCancel)
	if v.acquire(ctx, key) {
		if err := v.opts.Backend.CancelAttempt(ctx, v.attemptID, cancelReason); err != nil {
			v.setLastError(err)
			v.logger.Error("Failed to cancel attempt", "error", err)
		}
	} else {
		v.logger.Info("Attempt cancellation already sent")
	}

	if !v.close(models.CloseReasonCancelled, nil) {
		return
	}
	v.publish(events.EventAttemptCancelled, events.AttemptCancelledEvent{
		SessionID:         v.attemptID,
		ViewID:            v.id,
		WarningLevel:      state.WarningLevel,
		TotalViolations:   state.TotalViolations,
		HighSeverityCount: state.HighSeverityCount,
	})
}

// close moves the view to its terminal state and stops both engines. It
// reports false if the view was already closed.
func (v *View) close(reason models.CloseReason, result *models.SubmitResult) bool {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return false
	}
	v.closed = true
	v.closeReason = reason
	v.result = result
	v.mu.Unlock()

	v.stopCapture()
	v.monitor.StopMonitoring()
	v.countdown.Stop()
	return true
}

// Engine callbacks. Timer callbacks run on the tick goroutine, so anything
// that may block or stop the countdown is handed to goAsync.

func (v *View) handleCritical() {
	remaining := v.countdown.Snapshot().RemainingMs
	v.goAsync(func() {
		v.publish(events.EventAttemptTimeWarning, events.TimeWarningEvent{
			SessionID:   v.attemptID,
			ViewID:      v.id,
			RemainingMs: remaining,
		})
	})
}

func (v *View) handleExpire() {
	expiredAt := v.opts.Clock.Now()
	v.goAsync(func() {
		v.publish(events.EventAttemptExpired, events.AttemptExpiredEvent{
			SessionID: v.attemptID,
			ViewID:    v.id,
			ExpiredAt: expiredAt,
		})
		if v.monitor.Cancelled() {
			return
		}
		if _, err := v.submit(v.ctx, models.CloseReasonExpired); err != nil {
			v.logger.Warn("Automatic submit did not complete", "error", err)
		}
	})
}

func (v *View) handleLevelChanged(level int) {
	v.publish(events.EventWarningLevelChanged, events.WarningLevelChangedEvent{
		SessionID:    v.attemptID,
		ViewID:       v.id,
		WarningLevel: level,
	})
}

func (v *View) handleViolation(violation models.Violation) {
	v.publish(events.EventProctoringViolation, events.ViolationDetectedEvent{
		SessionID: v.attemptID,
		ViewID:    v.id,
		Violation: violation,
	})
}

func (v *View) handleCancelled() {
	v.goAsync(func() {
		v.cancelAttempt(v.ctx)
	})
}

// goAsync runs fn on a tracked goroutine unless the view is being disposed.
func (v *View) goAsync(fn func()) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.disposing {
		return false
	}
	v.bg.Add(1)
	go func() {
		defer v.bg.Done()
		fn()
	}()
	return true
}

func (v *View) guardKey(action string) string {
	return fmt.Sprintf("attempt:%s:%s", v.attemptID, action)
}

// acquire treats a failing guard store as acquired: the guard must never
// block a submission.
func (v *View) acquire(ctx context.Context, key string) bool {
	ok, err := v.opts.Guard.Acquire(ctx, key, v.opts.GuardTTL)
	if err != nil {
		v.logger.Warn("Guard unavailable, proceeding", "key", key, "error", err)
		return true
	}
	return ok
}

func (v *View) release(ctx context.Context, key string) {
	if err := v.opts.Guard.Release(context.WithoutCancel(ctx), key); err != nil {
		v.logger.Warn("Failed to release guard", "key", key, "error", err)
	}
}

func (v *View) setLastError(err error) {
	v.mu.Lock()
	v.lastErr = err.Error()
	v.mu.Unlock()
}

func (v *View) publish(eventType events.EventType, data interface{}) {
	if v.opts.Publisher == nil {
		return
	}
	event := events.NewSessionEvent(eventType, data, v.opts.Clock.Now())
	if err := v.opts.Publisher.Publish(v.ctx, event); err != nil {
		v.logger.Warn("Failed to publish session event", "event_type", eventType, "error", err)
	}
}
