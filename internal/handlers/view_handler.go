package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/SAP-F-2025/tryout-runtime/internal/client"
	"github.com/SAP-F-2025/tryout-runtime/internal/models"
	"github.com/SAP-F-2025/tryout-runtime/internal/session"
	"github.com/SAP-F-2025/tryout-runtime/internal/utils"
	"github.com/SAP-F-2025/tryout-runtime/internal/validator"
	"github.com/gin-gonic/gin"
)

// ViewRegistry is the part of session.Registry the handlers use
type ViewRegistry interface {
	Mount(ctx context.Context, attemptID string) (*session.View, error)
	Get(viewID string) (*session.View, error)
	Dispose(viewID string) error
}

type ViewHandler struct {
	BaseHandler
	registry  ViewRegistry
	validator *validator.Validator
}

func NewViewHandler(
	registry ViewRegistry,
	validator *validator.Validator,
	logger utils.Logger,
) *ViewHandler {
	return &ViewHandler{
		BaseHandler: NewBaseHandler(logger),
		registry:    registry,
		validator:   validator,
	}
}

// MountView opens a new view on an attempt
// @Summary Mount view
// @Tags views
// @Accept json
// @Produce json
// @Param request body MountViewRequest true "Attempt to mount"
// @Success 201 {object} SuccessResponse{data=session.Snapshot}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /views [post]
func (h *ViewHandler) MountView(c *gin.Context) {
	var req MountViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.LogRequest(c, "Mounting view", "attempt_id", req.AttemptID)

	view, err := h.registry.Mount(c.Request.Context(), req.AttemptID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.bindView(c, view.ID(), view.AttemptID())

	h.RespondWithSuccess(c, http.StatusCreated, "View mounted", view.Snapshot())
}

// GetView returns the combined timer, proctoring and close state
// @Router /views/{id} [get]
func (h *ViewHandler) GetView(c *gin.Context) {
	view, ok := h.lookup(c)
	if !ok {
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "View retrieved", view.Snapshot())
}

// GetTimer returns the countdown snapshot
// @Router /views/{id}/timer [get]
func (h *ViewHandler) GetTimer(c *gin.Context) {
	view, ok := h.lookup(c)
	if !ok {
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "Timer retrieved", view.Timer())
}

// GetProctoring returns the escalation state
// @Router /views/{id}/proctoring [get]
func (h *ViewHandler) GetProctoring(c *gin.Context) {
	view, ok := h.lookup(c)
	if !ok {
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "Proctoring state retrieved", view.Proctoring())
}

// RefreshView re-reads the session detail from the backend
// @Router /views/{id}/refresh [post]
func (h *ViewHandler) RefreshView(c *gin.Context) {
	view, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := view.Refresh(c.Request.Context()); err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "View refreshed", view.Snapshot())
}

// StartMonitoring marks proctoring as active
// @Router /views/{id}/monitoring/start [post]
func (h *ViewHandler) StartMonitoring(c *gin.Context) {
	view, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := view.StartMonitoring(); err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "Monitoring started", view.Proctoring())
}

// StopMonitoring marks proctoring as paused
// @Router /views/{id}/monitoring/stop [post]
func (h *ViewHandler) StopMonitoring(c *gin.Context) {
	view, ok := h.lookup(c)
	if !ok {
		return
	}
	view.StopMonitoring()
	h.RespondWithSuccess(c, http.StatusOK, "Monitoring stopped", view.Proctoring())
}

// ApplyAnalysis feeds one analyze-face result into the view
// @Accept json
// @Param result body models.AnalysisResult true "Analysis result"
// @Success 200 {object} SuccessResponse{data=proctoring.State}
// @Router /views/{id}/analysis [post]
func (h *ViewHandler) ApplyAnalysis(c *gin.Context) {
	view, ok := h.lookup(c)
	if !ok {
		return
	}

	var result models.AnalysisResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	if err := view.ApplyAnalysis(result); err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "Analysis applied", view.Proctoring())
}

// StartCapture starts sampling pushed frames for face analysis
// @Success 200 {object} SuccessResponse{data=session.Snapshot}
// @Failure 409 {object} ErrorResponse
// @Router /views/{id}/capture/start [post]
func (h *ViewHandler) StartCapture(c *gin.Context) {
	view, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := view.StartFrameCapture(); err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "Capture started", view.Snapshot())
}

// PushFrame hands the newest webcam frame to the capture loop
// @Accept json
// @Param request body PushFrameRequest true "Base64 encoded frame"
// @Success 202 {object} SuccessResponse
// @Failure 409 {object} ErrorResponse
// @Router /views/{id}/capture/frames [post]
func (h *ViewHandler) PushFrame(c *gin.Context) {
	view, ok := h.lookup(c)
	if !ok {
		return
	}

	var req PushFrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		h.handleServiceError(c, err)
		return
	}

	frame, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Image is not valid base64", err)
		return
	}
	if err := view.PushFrame(frame); err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusAccepted, "Frame queued", nil)
}

// StopCapture stops the capture loop
// @Router /views/{id}/capture/stop [post]
func (h *ViewHandler) StopCapture(c *gin.Context) {
	view, ok := h.lookup(c)
	if !ok {
		return
	}
	view.StopCapture()
	h.RespondWithSuccess(c, http.StatusOK, "Capture stopped", view.Snapshot())
}

// SubmitView submits the attempt behind the view
// @Success 200 {object} SuccessResponse{data=models.SubmitResult}
// @Failure 409 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /views/{id}/submit [post]
func (h *ViewHandler) SubmitView(c *gin.Context) {
	view, ok := h.lookup(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Submitting attempt", "attempt_id", view.AttemptID())

	result, err := view.Submit(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "Attempt submitted", result)
}

// DisposeView tears the view down
// @Router /views/{id} [delete]
func (h *ViewHandler) DisposeView(c *gin.Context) {
	viewID, ok := ParseViewIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.registry.Dispose(viewID); err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "View disposed", nil)
}

func (h *ViewHandler) lookup(c *gin.Context) (*session.View, bool) {
	viewID, ok := ParseViewIDParam(c, "id")
	if !ok {
		return nil, false
	}
	h.bindView(c, viewID, "")
	view, err := h.registry.Get(viewID)
	if err != nil {
		h.handleServiceError(c, err)
		return nil, false
	}
	h.bindView(c, "", view.AttemptID())
	return view, true
}

func (h *ViewHandler) handleServiceError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		h.RespondWithError(c, http.StatusBadRequest, "Validation failed", err, validationErrors)
		return
	}

	var apiErr *client.APIError
	switch {
	case errors.Is(err, session.ErrInvalidAttemptID):
		h.RespondWithError(c, http.StatusBadRequest, "Attempt ID is required", err)
	case errors.Is(err, session.ErrViewNotFound):
		h.RespondWithError(c, http.StatusNotFound, "View not found", err)
	case errors.Is(err, session.ErrAttemptNotFound):
		h.RespondWithError(c, http.StatusNotFound, "Attempt not found", err)
	case errors.Is(err, session.ErrAttemptAlreadySubmitted):
		h.RespondWithError(c, http.StatusConflict, "Attempt already submitted", err)
	case errors.Is(err, session.ErrAttemptNotActive):
		h.RespondWithError(c, http.StatusConflict, "Attempt is not active", err)
	case errors.Is(err, session.ErrViewClosed):
		h.RespondWithError(c, http.StatusConflict, "View is closed", err)
	case errors.Is(err, session.ErrCaptureRunning):
		h.RespondWithError(c, http.StatusConflict, "Capture already running", err)
	case errors.Is(err, session.ErrCaptureNotRunning):
		h.RespondWithError(c, http.StatusConflict, "Capture is not running", err)
	case errors.As(err, &apiErr):
		h.RespondWithError(c, http.StatusBadGateway, "Backend request failed", err, map[string]interface{}{
			"status_code": apiErr.StatusCode,
		})
	case errors.Is(err, context.DeadlineExceeded):
		h.RespondWithError(c, http.StatusGatewayTimeout, "Backend request timed out", err)
	default:
		h.RespondWithError(c, http.StatusInternalServerError, "Internal server error", err)
	}
}
