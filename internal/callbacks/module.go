// Package callbacks provides the callback request bounded context module.
// This file defines the module that encapsulates all setup and route
// registration for the callback lifecycle.
package callbacks

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"callback_backend/internal/callbacks/handler"
	"callback_backend/internal/callbacks/repository"
	"callback_backend/internal/callbacks/service"
	"callback_backend/internal/events"
	apphttp "callback_backend/internal/http"
	"callback_backend/internal/telephony"
	"callback_backend/platform/logger"
	"callback_backend/platform/validator"
)

// Module is the callbacks bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	gateway telephony.Gateway
	baseURL string
	log     *logger.Logger
}

// NewModule creates and initializes the callbacks module with all its
// dependencies. gateway, limiter and expiry may be nil when the matching
// infrastructure is not configured; the engine degrades accordingly.
func NewModule(pool *pgxpool.Pool, gateway telephony.Gateway, hours service.HoursOracle, limiter service.RateLimiter, captcha service.CaptchaVerifier, expiry service.ExpiryScheduler, bus events.Bus, cfg service.Config, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, gateway, hours, limiter, captcha, expiry, bus, cfg, log)

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
		gateway: gateway,
		baseURL: cfg.PublicBaseURL,
		log:     log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "callbacks"
}

// Service exposes the lifecycle engine for the scheduler worker.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts callback routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.POST("/request_callback", m.handler.RequestCallback)
	ctx.V1.GET("/status/:requestId", m.handler.GetStatus)

	// Provider webhook: signature verification runs before the handler.
	var sigValidator handler.SignatureValidator
	if m.gateway != nil {
		sigValidator = m.gateway
	}
	ctx.V1.POST("/twilio/status_callback",
		handler.SignatureMiddleware(sigValidator, m.service, m.baseURL, m.log),
		m.handler.StatusCallback,
	)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
