package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callback_backend/platform/logger"
)

const signatureHeader = "X-Twilio-Signature"

// SignatureValidator checks a provider webhook signature against the exact
// request URL and form parameters.
type SignatureValidator interface {
	ValidateSignature(url string, params map[string]string, signature string) bool
}

// SignatureAuditor records rejected deliveries in the audit log.
type SignatureAuditor interface {
	RecordInvalidSignature(ctx context.Context, requestID *uuid.UUID, payload map[string]any)
}

// SignatureMiddleware verifies the provider's authenticity signature before
// any status event is acted on. A tampered or missing signature is rejected
// with 403 and audited; the target request is never touched. When no
// validator is configured the delivery proceeds with a warning, which keeps
// older deployments without provider credentials working.
func SignatureMiddleware(validator SignatureValidator, auditor SignatureAuditor, publicBaseURL string, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if validator == nil {
			log.Warn("webhook signature validator not configured, skipping verification")
			c.Next()
			return
		}

		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		params := make(map[string]string, len(c.Request.PostForm))
		for key := range c.Request.PostForm {
			params[key] = c.Request.PostForm.Get(key)
		}

		// The provider signs the full public URL, including the query string.
		url := publicBaseURL + c.Request.URL.RequestURI()
		signature := c.GetHeader(signatureHeader)

		if !validator.ValidateSignature(url, params, signature) {
			var requestID *uuid.UUID
			if id, err := uuid.Parse(c.Query("request_id")); err == nil {
				requestID = &id
			}

			log.WebhookRejected(c.Query("request_id"), "invalid signature", c.ClientIP())
			auditor.RecordInvalidSignature(c.Request.Context(), requestID, map[string]any{
				"url":                url,
				"signature_provided": signature != "",
				"remote_addr":        c.ClientIP(),
			})
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		c.Next()
	}
}
