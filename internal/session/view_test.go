package session

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SAP-F-2025/tryout-runtime/internal/cache"
	"github.com/SAP-F-2025/tryout-runtime/internal/client"
	"github.com/SAP-F-2025/tryout-runtime/internal/events"
	"github.com/SAP-F-2025/tryout-runtime/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) GetSession(ctx context.Context, sessionID string) (*models.SessionDetail, error) {
	args := m.Called(ctx, sessionID)
	detail, _ := args.Get(0).(*models.SessionDetail)
	return detail, args.Error(1)
}

func (m *MockBackend) SubmitAttempt(ctx context.Context, sessionID string) (*models.SubmitResult, error) {
	args := m.Called(ctx, sessionID)
	result, _ := args.Get(0).(*models.SubmitResult)
	return result, args.Error(1)
}

func (m *MockBackend) CancelAttempt(ctx context.Context, sessionID string, reason string) error {
	args := m.Called(ctx, sessionID, reason)
	return args.Error(0)
}

func (m *MockBackend) AnalyzeFace(ctx context.Context, sessionID string, frame []byte) (*models.AnalysisResult, error) {
	args := m.Called(ctx, sessionID, frame)
	result, _ := args.Get(0).(*models.AnalysisResult)
	return result, args.Error(1)
}

type fixture struct {
	backend   *MockBackend
	clock     *clockwork.FakeClock
	publisher *events.MockEventPublisher
	opts      Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	backend := new(MockBackend)
	publisher := events.NewMockEventPublisher(nil)
	return &fixture{
		backend:   backend,
		clock:     clock,
		publisher: publisher,
		opts: Options{
			Backend:          backend,
			Guard:            cache.NewMemoryGuard(clock),
			Publisher:        publisher,
			Clock:            clock,
			AnalysisInterval: 5 * time.Second,
		},
	}
}

func (f *fixture) session(id string, startedAgo time.Duration, minutes int) *models.SessionDetail {
	return &models.SessionDetail{
		ID:              id,
		Title:           "Tryout UTBK 1",
		Status:          models.SessionStatusInProgress,
		StartedAt:       f.clock.Now().Add(-startedAgo),
		DurationMinutes: minutes,
	}
}

func (f *fixture) mount(t *testing.T, attemptID string) *View {
	t.Helper()
	v, err := Mount(context.Background(), attemptID, f.opts)
	require.NoError(t, err)
	t.Cleanup(v.Dispose)
	return v
}

func submitResult(id string) *models.SubmitResult {
	score := 71.0
	return &models.SubmitResult{SessionID: id, Status: models.SessionStatusCompleted, Score: &score}
}

func level(n int) *int { return &n }

func eventTypes(p *events.MockEventPublisher) []events.EventType {
	var types []events.EventType
	for _, e := range p.GetPublishedEvents() {
		types = append(types, e.Type)
	}
	return types
}

func TestMount_ExpiredAttemptSubmitsOnce(t *testing.T) {
	f := newFixture(t)
	f.backend.On("GetSession", mock.Anything, "a-1").Return(f.session("a-1", 2*time.Hour, 60), nil)
	f.backend.On("SubmitAttempt", mock.Anything, "a-1").Return(submitResult("a-1"), nil).Once()

	v := f.mount(t, "a-1")

	require.Eventually(t, func() bool {
		return len(f.publisher.EventsOfType(events.EventAttemptSubmitted)) == 1
	}, time.Second, 5*time.Millisecond)

	snap := v.Snapshot()
	assert.True(t, snap.Closed)
	assert.Equal(t, models.CloseReasonExpired, snap.CloseReason)
	assert.True(t, snap.Timer.IsExpired)
	require.NotNil(t, snap.Result)
	assert.Equal(t, models.SessionStatusCompleted, snap.Result.Status)

	// a manual submit after the automatic one returns the stored result
	result, err := v.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a-1", result.SessionID)

	f.backend.AssertNumberOfCalls(t, "SubmitAttempt", 1)
	assert.Equal(t, []events.EventType{events.EventAttemptExpired, events.EventAttemptSubmitted}, eventTypes(f.publisher))
}

func TestMount_TwoViewsOfOneAttemptSubmitOnce(t *testing.T) {
	f := newFixture(t)
	f.backend.On("GetSession", mock.Anything, "a-1").Return(f.session("a-1", 0, 60), nil)
	f.backend.On("SubmitAttempt", mock.Anything, "a-1").Return(submitResult("a-1"), nil).Once()

	first := f.mount(t, "a-1")
	second := f.mount(t, "a-1")
	assert.NotEqual(t, first.ID(), second.ID())

	_, err := first.Submit(context.Background())
	require.NoError(t, err)

	_, err = second.Submit(context.Background())
	assert.ErrorIs(t, err, ErrAttemptAlreadySubmitted)

	f.backend.AssertNumberOfCalls(t, "SubmitAttempt", 1)
}

func TestView_SubmitFailureReleasesGuard(t *testing.T) {
	f := newFixture(t)
	f.backend.On("GetSession", mock.Anything, "a-1").Return(f.session("a-1", 0, 60), nil)
	f.backend.On("SubmitAttempt", mock.Anything, "a-1").Return(nil, errors.New("connection reset")).Once()
	f.backend.On("SubmitAttempt", mock.Anything, "a-1").Return(submitResult("a-1"), nil).Once()

	v := f.mount(t, "a-1")

	_, err := v.Submit(context.Background())
	require.Error(t, err)
	closed, _ := v.Closed()
	assert.False(t, closed)
	assert.Contains(t, v.Snapshot().LastError, "connection reset")

	result, err := v.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a-1", result.SessionID)

	closed, reason := v.Closed()
	assert.True(t, closed)
	assert.Equal(t, models.CloseReasonSubmitted, reason)
	assert.False(t, v.Timer().IsExpired)
}

func TestView_ProctoringCancelClosesView(t *testing.T) {
	f := newFixture(t)
	f.backend.On("GetSession", mock.Anything, "a-1").Return(f.session("a-1", 0, 60), nil)
	f.backend.On("CancelAttempt", mock.Anything, "a-1", mock.Anything).Return(nil).Once()

	v := f.mount(t, "a-1")
	require.NoError(t, v.StartMonitoring())

	require.NoError(t, v.ApplyAnalysis(models.AnalysisResult{
		Violations:   []models.Violation{{Message: "No face detected", Severity: models.SeverityHigh}},
		WarningLevel: level(2),
	}))
	require.NoError(t, v.ApplyAnalysis(models.AnalysisResult{
		Violations:   []models.Violation{{Message: "Phone detected", Severity: models.SeverityHigh}},
		WarningLevel: level(3),
		ShouldCancel: true,
	}))

	require.Eventually(t, func() bool {
		return len(f.publisher.EventsOfType(events.EventAttemptCancelled)) == 1
	}, time.Second, 5*time.Millisecond)

	snap := v.Snapshot()
	assert.Equal(t, models.CloseReasonCancelled, snap.CloseReason)
	assert.True(t, snap.Proctoring.Cancelled)
	assert.False(t, snap.Proctoring.IsMonitoring)
	assert.Equal(t, 2, snap.Proctoring.HighSeverityCount)

	err := v.ApplyAnalysis(models.AnalysisResult{WarningLevel: level(3), ShouldCancel: true})
	assert.ErrorIs(t, err, ErrViewClosed)
	_, err = v.Submit(context.Background())
	assert.ErrorIs(t, err, ErrViewClosed)

	f.backend.AssertNumberOfCalls(t, "CancelAttempt", 1)
	f.backend.AssertNotCalled(t, "SubmitAttempt", mock.Anything, mock.Anything)

	types := eventTypes(f.publisher)
	assert.Contains(t, types, events.EventWarningLevelChanged)
	assert.Contains(t, types, events.EventProctoringViolation)
	assert.Equal(t, events.EventAttemptCancelled, types[len(types)-1])
}

func TestView_ApplyAnalysisKeepsMalformedViolations(t *testing.T) {
	f := newFixture(t)
	f.backend.On("GetSession", mock.Anything, "a-1").Return(f.session("a-1", 0, 60), nil)

	v := f.mount(t, "a-1")

	require.NoError(t, v.ApplyAnalysis(models.AnalysisResult{
		Violations: []models.Violation{
			{Message: "x", Severity: "SEVERE"},
			{Message: "Looking away", Severity: models.SeverityMedium},
			{Severity: models.SeverityHigh},
		},
		WarningLevel: level(1),
	}))

	state := v.Proctoring()
	assert.Equal(t, 3, state.TotalViolations)
	assert.Equal(t, 1, state.HighSeverityCount, "unknown severity is not counted as high")
	assert.Equal(t, 1, state.WarningLevel)
	assert.False(t, state.Cancelled)
}

func TestView_MaxWarningLevelCancelsWithoutFlag(t *testing.T) {
	f := newFixture(t)
	f.backend.On("GetSession", mock.Anything, "a-1").Return(f.session("a-1", 0, 60), nil)
	f.backend.On("CancelAttempt", mock.Anything, "a-1", mock.Anything).Return(nil).Once()

	v := f.mount(t, "a-1")
	require.NoError(t, v.StartMonitoring())

	require.NoError(t, v.ApplyAnalysis(models.AnalysisResult{
		Violations: []models.Violation{
			{Message: "Multiple faces detected", Severity: models.SeverityHigh},
			{Message: "Looking away", Severity: models.SeverityLow},
		},
		WarningLevel: level(3),
	}))

	require.Eventually(t, func() bool {
		return len(f.publisher.EventsOfType(events.EventAttemptCancelled)) == 1
	}, time.Second, 5*time.Millisecond)

	state := v.Proctoring()
	assert.Equal(t, 2, state.TotalViolations)
	assert.Equal(t, 1, state.HighSeverityCount)
	assert.Equal(t, 3, state.WarningLevel)
	assert.True(t, state.Cancelled)

	assert.ErrorIs(t, v.ApplyAnalysis(models.AnalysisResult{WarningLevel: level(3)}), ErrViewClosed)
	assert.Never(t, func() bool {
		return len(f.publisher.EventsOfType(events.EventAttemptCancelled)) > 1
	}, 50*time.Millisecond, 10*time.Millisecond)
	f.backend.AssertNumberOfCalls(t, "CancelAttempt", 1)
}

func TestView_DisposeStopsTimerCallbacks(t *testing.T) {
	f := newFixture(t)
	f.backend.On("GetSession", mock.Anything, "a-1").Return(f.session("a-1", 0, 10), nil)

	v := f.mount(t, "a-1")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))

	v.Dispose()

	f.clock.Advance(time.Hour)
	assert.Never(t, func() bool {
		return len(f.publisher.GetPublishedEvents()) > 0
	}, 100*time.Millisecond, 10*time.Millisecond)

	closed, reason := v.Closed()
	assert.True(t, closed)
	assert.Equal(t, models.CloseReasonDisposed, reason)
	f.backend.AssertNotCalled(t, "SubmitAttempt", mock.Anything, mock.Anything)
}

func TestView_CriticalPublishesTimeWarning(t *testing.T) {
	f := newFixture(t)
	f.backend.On("GetSession", mock.Anything, "a-1").Return(f.session("a-1", 57*time.Minute, 60), nil)

	v := f.mount(t, "a-1")

	assert.True(t, v.Timer().IsCritical)
	require.Eventually(t, func() bool {
		return len(f.publisher.EventsOfType(events.EventAttemptTimeWarning)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestView_RefreshLeavesLoadingState(t *testing.T) {
	f := newFixture(t)
	loading := &models.SessionDetail{ID: "a-1", Status: models.SessionStatusNotStarted}
	f.backend.On("GetSession", mock.Anything, "a-1").Return(loading, nil).Once()
	f.backend.On("GetSession", mock.Anything, "a-1").Return(f.session("a-1", 0, 90), nil).Once()

	v := f.mount(t, "a-1")
	assert.True(t, v.Timer().IsLoading)

	require.NoError(t, v.Refresh(context.Background()))

	snap := v.Timer()
	assert.False(t, snap.IsLoading)
	assert.Equal(t, "90:00", snap.FormattedTime)
}

func TestMount_Errors(t *testing.T) {
	f := newFixture(t)
	f.backend.On("GetSession", mock.Anything, "missing").Return(nil, &client.APIError{StatusCode: http.StatusNotFound})
	done := f.session("done", time.Hour, 60)
	done.Status = models.SessionStatusCompleted
	f.backend.On("GetSession", mock.Anything, "done").Return(done, nil)
	f.backend.On("GetSession", mock.Anything, "broken").Return(&models.SessionDetail{ID: "broken", DurationMinutes: 30}, nil)

	_, err := Mount(context.Background(), "", f.opts)
	assert.ErrorIs(t, err, ErrInvalidAttemptID)

	_, err = Mount(context.Background(), "missing", f.opts)
	assert.ErrorIs(t, err, ErrAttemptNotFound)
	assert.True(t, IsNotFound(err))

	_, err = Mount(context.Background(), "done", f.opts)
	assert.ErrorIs(t, err, ErrAttemptNotActive)
	assert.True(t, IsConflict(err))

	_, err = Mount(context.Background(), "broken", f.opts)
	assert.True(t, IsValidation(err), "started at is required once the duration is known")
}

func TestView_CaptureSkipsWhileAnalysisInFlight(t *testing.T) {
	f := newFixture(t)
	f.backend.On("GetSession", mock.Anything, "a-1").Return(f.session("a-1", 0, 60), nil)

	var analyses atomic.Int32
	release := make(chan struct{})
	f.backend.On("AnalyzeFace", mock.Anything, "a-1", mock.Anything).
		Run(func(mock.Arguments) {
			if analyses.Add(1) == 1 {
				<-release
			}
		}).
		Return(&models.AnalysisResult{WarningLevel: level(0)}, nil)

	v := f.mount(t, "a-1")

	var captures atomic.Int32
	source := FrameSourceFunc(func(ctx context.Context) ([]byte, error) {
		captures.Add(1)
		return []byte{0xff, 0xd8}, nil
	})
	require.NoError(t, v.StartCapture(source))
	assert.ErrorIs(t, v.StartCapture(source), ErrCaptureRunning)
	assert.True(t, v.Proctoring().IsMonitoring)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 2))

	f.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return analyses.Load() == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < 3; i++ {
		f.clock.Advance(5 * time.Second)
	}
	assert.Never(t, func() bool { return analyses.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, int32(1), captures.Load())

	close(release)
	require.Eventually(t, func() bool {
		f.clock.Advance(5 * time.Second)
		return analyses.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	v.StopCapture()
	assert.False(t, v.Snapshot().Capturing)
	assert.False(t, v.Proctoring().IsMonitoring)
}

func TestView_CaptureFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.backend.On("GetSession", mock.Anything, "a-1").Return(f.session("a-1", 0, 60), nil)

	v := f.mount(t, "a-1")

	var captures atomic.Int32
	require.NoError(t, v.StartCapture(FrameSourceFunc(func(ctx context.Context) ([]byte, error) {
		captures.Add(1)
		return nil, errors.New("camera busy")
	})))

	require.Eventually(t, func() bool {
		f.clock.Advance(5 * time.Second)
		return captures.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	closed, _ := v.Closed()
	assert.False(t, closed)
	f.backend.AssertNotCalled(t, "AnalyzeFace", mock.Anything, mock.Anything, mock.Anything)
}

func TestView_FrameCaptureAnalyzesPushedFrames(t *testing.T) {
	f := newFixture(t)
	f.backend.On("GetSession", mock.Anything, "a-1").Return(f.session("a-1", 0, 60), nil)

	frame := []byte{0xff, 0xd8, 0xff, 0xe0}
	var analyses atomic.Int32
	f.backend.On("AnalyzeFace", mock.Anything, "a-1", frame).
		Run(func(mock.Arguments) { analyses.Add(1) }).
		Return(&models.AnalysisResult{
			Violations:   []models.Violation{{Message: "Looking away", Severity: models.SeverityLow}},
			WarningLevel: level(1),
		}, nil)

	v := f.mount(t, "a-1")
	assert.ErrorIs(t, v.PushFrame(frame), ErrCaptureNotRunning)

	require.NoError(t, v.StartFrameCapture())
	assert.ErrorIs(t, v.StartFrameCapture(), ErrCaptureRunning)
	assert.True(t, v.Snapshot().Capturing)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 2))

	f.clock.Advance(5 * time.Second)
	assert.Never(t, func() bool { return analyses.Load() > 0 }, 50*time.Millisecond, 10*time.Millisecond,
		"nothing is analyzed before a frame arrives")

	require.NoError(t, v.PushFrame(frame))
	require.Eventually(t, func() bool {
		f.clock.Advance(5 * time.Second)
		return analyses.Load() == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return v.Proctoring().TotalViolations == 1
	}, time.Second, 5*time.Millisecond)

	f.clock.Advance(5 * time.Second)
	assert.Never(t, func() bool { return analyses.Load() > 1 }, 50*time.Millisecond, 10*time.Millisecond,
		"a frame is analyzed once")

	v.StopCapture()
	assert.False(t, v.Snapshot().Capturing)
	assert.ErrorIs(t, v.PushFrame(frame), ErrCaptureNotRunning)
}

func TestFrameBuffer_HandsOutNewestFrameOnce(t *testing.T) {
	buf := NewFrameBuffer()
	ctx := context.Background()

	_, err := buf.Capture(ctx)
	assert.ErrorIs(t, err, ErrNoFrame)

	buf.Put([]byte("first"))
	buf.Put([]byte("second"))
	frame, err := buf.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), frame)

	_, err = buf.Capture(ctx)
	assert.ErrorIs(t, err, ErrNoFrame)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	buf.Put([]byte("third"))
	_, err = buf.Capture(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}
