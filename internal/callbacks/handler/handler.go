// Package handler exposes the callback API over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callback_backend/internal/callbacks/service"
	"callback_backend/internal/callbacks/transport"
	"callback_backend/platform/httpkit"
	"callback_backend/platform/validator"
)

const (
	msgInvalidRequest  = "invalid request"
	msgRequestNotFound = "Request not found"
)

// Handler handles HTTP requests for the callback lifecycle.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new callbacks handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RequestCallback accepts a visitor callback submission.
// POST /api/v1/request_callback
func (h *Handler) RequestCallback(c *gin.Context) {
	var req transport.RequestCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}

	// Phone validation happens inside the service, after the rate-limit and
	// CAPTCHA guards have run.
	result, err := h.svc.RequestCallback(c.Request.Context(), service.RequestInput{
		VisitorNumber: req.VisitorNumber,
		Name:          req.Name,
		Email:         req.Email,
		CaptchaToken:  req.RecaptchaToken,
		ClientIP:      c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.RequestCallbackResponse{
		Success:   true,
		RequestID: result.RequestID.String(),
		Message:   result.Message,
	})
}

// GetStatus returns the current status of a callback request.
// GET /api/v1/status/:requestId
func (h *Handler) GetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("requestId"))
	if err != nil {
		httpkit.Error(c, http.StatusNotFound, msgRequestNotFound, nil)
		return
	}

	req, err := h.svc.GetStatus(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.StatusResponse{
		Success:   true,
		Status:    string(req.Status),
		Message:   req.StatusMessage,
		UpdatedAt: req.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// StatusCallback receives provider status events. The signature middleware
// runs first; by the time this handler executes the delivery is authentic
// (or verification is disabled by configuration).
// POST /api/v1/twilio/status_callback?request_id=<id>
func (h *Handler) StatusCallback(c *gin.Context) {
	rawID := c.Query("request_id")
	if rawID == "" {
		c.String(http.StatusBadRequest, "")
		return
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		c.String(http.StatusBadRequest, "")
		return
	}

	err = h.svc.HandleProviderEvent(c.Request.Context(), service.WebhookInput{
		RequestID:  id,
		CallStatus: c.PostForm("CallStatus"),
		CallSID:    c.PostForm("CallSid"),
		ClientIP:   c.ClientIP(),
	})
	if httpkit.HandleError(c, err) {
		return
	}

	c.String(http.StatusOK, "")
}
