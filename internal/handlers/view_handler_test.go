package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SAP-F-2025/tryout-runtime/internal/cache"
	"github.com/SAP-F-2025/tryout-runtime/internal/client"
	"github.com/SAP-F-2025/tryout-runtime/internal/models"
	"github.com/SAP-F-2025/tryout-runtime/internal/session"
	"github.com/SAP-F-2025/tryout-runtime/internal/utils"
	"github.com/SAP-F-2025/tryout-runtime/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

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
	return m.Called(ctx, sessionID, reason).Error(0)
}

func (m *MockBackend) AnalyzeFace(ctx context.Context, sessionID string, frame []byte) (*models.AnalysisResult, error) {
	args := m.Called(ctx, sessionID, frame)
	result, _ := args.Get(0).(*models.AnalysisResult)
	return result, args.Error(1)
}

type testServer struct {
	router  *gin.Engine
	backend *MockBackend
	clock   *clockwork.FakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	backend := new(MockBackend)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := session.NewRegistry(session.Options{
		Backend: backend,
		Guard:   cache.NewMemoryGuard(clock),
		Clock:   clock,
		Logger:  logger,
	})
	t.Cleanup(registry.Close)

	router := gin.New()
	NewHandlerManager(registry, validator.New(), utils.NewSlogLogger(logger)).SetupRoutes(router)

	return &testServer{router: router, backend: backend, clock: clock}
}

func (s *testServer) activeSession(id string) *models.SessionDetail {
	return &models.SessionDetail{
		ID:              id,
		Status:          models.SessionStatusInProgress,
		StartedAt:       s.clock.Now().Add(-15 * time.Minute),
		DurationMinutes: 60,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Details json.RawMessage `json:"details"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func (s *testServer) mountView(t *testing.T, attemptID string) session.Snapshot {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/views", MountViewRequest{AttemptID: attemptID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &snap))
	return snap
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestViewHandler_MountAndGet(t *testing.T) {
	s := newTestServer(t)
	s.backend.On("GetSession", mock.Anything, "a-1").Return(s.activeSession("a-1"), nil)

	snap := s.mountView(t, "a-1")
	assert.NotEmpty(t, snap.ViewID)
	assert.Equal(t, "a-1", snap.AttemptID)
	assert.Equal(t, "45:00", snap.Timer.FormattedTime)

	w := s.do(t, http.MethodGet, "/api/v1/views/"+snap.ViewID+"/timer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decode(t, w).Data), `"formattedTime":"45:00"`)

	w = s.do(t, http.MethodGet, "/api/v1/views/"+snap.ViewID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "View retrieved", decode(t, w).Message)
}

func TestViewHandler_MountErrors(t *testing.T) {
	s := newTestServer(t)
	s.backend.On("GetSession", mock.Anything, "missing").Return(nil, &client.APIError{StatusCode: http.StatusNotFound})
	s.backend.On("GetSession", mock.Anything, "down").Return(nil, &client.APIError{StatusCode: http.StatusServiceUnavailable})

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"missing attempt id", MountViewRequest{}, http.StatusBadRequest},
		{"malformed body", "not-an-object", http.StatusBadRequest},
		{"unknown attempt", MountViewRequest{AttemptID: "missing"}, http.StatusNotFound},
		{"backend unavailable", MountViewRequest{AttemptID: "down"}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/views", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestViewHandler_UnknownView(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/views/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/views/9b2f6c1e-5d7a-4c1b-8e0f-2a3b4c5d6e7f", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/api/v1/views/9b2f6c1e-5d7a-4c1b-8e0f-2a3b4c5d6e7f", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestViewHandler_SubmitOnce(t *testing.T) {
	s := newTestServer(t)
	s.backend.On("GetSession", mock.Anything, "a-1").Return(s.activeSession("a-1"), nil)
	s.backend.On("SubmitAttempt", mock.Anything, "a-1").
		Return(&models.SubmitResult{SessionID: "a-1", Status: models.SessionStatusCompleted, Answered: 12}, nil).Once()

	first := s.mountView(t, "a-1")
	second := s.mountView(t, "a-1")

	w := s.do(t, http.MethodPost, "/api/v1/views/"+first.ViewID+"/submit", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result models.SubmitResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &result))
	assert.Equal(t, 12, result.Answered)

	w = s.do(t, http.MethodPost, "/api/v1/views/"+second.ViewID+"/submit", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	s.backend.AssertNumberOfCalls(t, "SubmitAttempt", 1)
}

func TestViewHandler_AnalysisEscalatesToCancel(t *testing.T) {
	s := newTestServer(t)
	s.backend.On("GetSession", mock.Anything, "a-1").Return(s.activeSession("a-1"), nil)
	s.backend.On("CancelAttempt", mock.Anything, "a-1", mock.Anything).Return(nil).Once()

	snap := s.mountView(t, "a-1")
	base := "/api/v1/views/" + snap.ViewID

	w := s.do(t, http.MethodPost, base+"/monitoring/start", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, base+"/analysis", map[string]interface{}{
		"violations": []map[string]interface{}{
			{"message": "No face detected", "severity": "HIGH"},
		},
		"warningLevel": 1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(decode(t, w).Data), `"warningLevel":1`)

	w = s.do(t, http.MethodPost, base+"/analysis", map[string]interface{}{
		"violations": []map[string]interface{}{{"message": "x", "severity": "EXTREME"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(decode(t, w).Data), `"totalViolations":2`)
	assert.Contains(t, string(decode(t, w).Data), `"highSeverityCount":1`)

	w = s.do(t, http.MethodPost, base+"/analysis", map[string]interface{}{
		"warningLevel": 3,
		"shouldCancel": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		w := s.do(t, http.MethodGet, base, nil)
		var view session.Snapshot
		if err := json.Unmarshal(decode(t, w).Data, &view); err != nil {
			return false
		}
		return view.Closed && view.CloseReason == models.CloseReasonCancelled
	}, time.Second, 5*time.Millisecond)

	w = s.do(t, http.MethodPost, base+"/submit", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	s.backend.AssertNumberOfCalls(t, "CancelAttempt", 1)
}

func TestViewHandler_FrameCapture(t *testing.T) {
	s := newTestServer(t)
	s.backend.On("GetSession", mock.Anything, "a-1").Return(s.activeSession("a-1"), nil)

	frame := []byte("jpeg-frame")
	var analyses atomic.Int32
	s.backend.On("AnalyzeFace", mock.Anything, "a-1", frame).
		Run(func(mock.Arguments) { analyses.Add(1) }).
		Return(&models.AnalysisResult{}, nil)

	snap := s.mountView(t, "a-1")
	base := "/api/v1/views/" + snap.ViewID
	push := PushFrameRequest{Image: base64.StdEncoding.EncodeToString(frame)}

	w := s.do(t, http.MethodPost, base+"/capture/frames", push)
	assert.Equal(t, http.StatusConflict, w.Code, "frames need a running capture loop")

	w = s.do(t, http.MethodPost, base+"/capture/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(decode(t, w).Data), `"capturing":true`)

	w = s.do(t, http.MethodPost, base+"/capture/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, base+"/capture/frames", PushFrameRequest{Image: "%%%"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.clock.BlockUntilContext(ctx, 2))

	w = s.do(t, http.MethodPost, base+"/capture/frames", push)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		s.clock.Advance(5 * time.Second)
		return analyses.Load() == 1
	}, time.Second, 5*time.Millisecond)

	w = s.do(t, http.MethodPost, base+"/capture/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decode(t, w).Data), `"capturing":false`)
}

func TestViewHandler_Dispose(t *testing.T) {
	s := newTestServer(t)
	s.backend.On("GetSession", mock.Anything, "a-1").Return(s.activeSession("a-1"), nil)

	snap := s.mountView(t, "a-1")

	w := s.do(t, http.MethodDelete, "/api/v1/views/"+snap.ViewID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/views/"+snap.ViewID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
