// Package handler exposes the reconciliation engine over HTTP.
package handler

import (
	"net/http"

	"identity_bridge/internal/http/response"
	"identity_bridge/internal/reconcile/service"
	"identity_bridge/internal/reconcile/transport"
	"identity_bridge/platform/apperr"
	"identity_bridge/platform/logger"
	"identity_bridge/platform/validator"

	"github.com/gin-gonic/gin"
)

// Stable user-facing messages for the identity-provider extension hooks.
// Operator detail goes into the developer message only.
const (
	msgRegisterError = "There was an error registering, please try again."
	msgLoginError    = "There was an error logging in, please try again."
)

// Handler handles the inbound webhook and extension-hook requests.
type Handler struct {
	svc *service.Service
	val *validator.Validator
	log *logger.Logger
}

// New creates a new reconciliation handler.
func New(svc *service.Service, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{svc: svc, val: val, log: log}
}

// RegisterRoutes mounts the reconciliation endpoints.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/role-webhook", h.RoleWebhook)
	rg.POST("/verify-signup", h.VerifySignup)
	rg.POST("/provision", h.Provision)
}

// RoleWebhook processes a role-change webhook delivery.
// POST /role-webhook
// The delivery is always acknowledged with 200 so the sender never enters a
// redelivery storm; per-person outcomes are observability-only.
func (h *Handler) RoleWebhook(c *gin.Context) {
	var req transport.RoleWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("unparseable webhook delivery acknowledged", "error", err)
		response.OK(c, gin.H{})
		return
	}

	delivery := service.RoleChangeDelivery{Test: req.Test}
	for _, e := range req.Events {
		delivery.Events = append(delivery.Events, service.RoleChangeEvent{
			EntityType: e.EntityType,
			RoleName:   e.RoleName,
			PersonID:   e.EntityUUID,
		})
	}

	if _, err := h.svc.HandleRoleChangeBatch(c.Request.Context(), delivery); err != nil {
		h.log.Error("role change batch failed", "error", err)
	}

	response.OK(c, gin.H{})
}

// VerifySignup gates a prospective sign-up on membership directory state.
// POST /verify-signup
// Allowed signups answer 200 {}; everything else answers the 409 envelope.
func (h *Handler) VerifySignup(c *gin.Context) {
	var req transport.VerifySignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		conflict(c, msgRegisterError, "invalid request body")
		return
	}
	if err := h.val.Struct(req); err != nil {
		conflict(c, msgRegisterError, "invalid email")
		return
	}

	decision := h.svc.DecideSignupAllowed(c.Request.Context(), req.Email)
	if decision.Allowed {
		response.OK(c, gin.H{})
		return
	}

	conflict(c, msgRegisterError, msgRegisterError+" "+decision.DeveloperMessage)
}

// Provision links a completed sign-up to a membership person.
// POST /provision
// Failures answer the 409 envelope with a generic user message; the exact
// upstream failure stays in the developer message.
func (h *Handler) Provision(c *gin.Context) {
	var req transport.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		conflict(c, msgLoginError, "invalid request body")
		return
	}
	if err := h.val.Struct(req); err != nil {
		conflict(c, msgLoginError, "invalid request fields")
		return
	}

	claims, err := h.svc.HandlePostLoginProvision(c.Request.Context(), service.ProvisionRequest{
		ObjectID:   req.ObjectID,
		Email:      req.Email,
		GivenName:  req.GivenName,
		FamilyName: req.SurName,
	})
	if err != nil {
		conflict(c, msgLoginError, developerDetail(err))
		return
	}

	response.OK(c, transport.ProvisionResponse{
		PersonUUID:     claims.PersonUUID,
		UserIdentityID: claims.UserIdentityID,
	})
}

// developerDetail extracts the operator-facing message from a typed domain
// error; untyped errors fall back to their plain message.
func developerDetail(err error) string {
	if domainErr, ok := err.(*apperr.Error); ok {
		return domainErr.Message
	}
	return err.Error()
}

func conflict(c *gin.Context, userMessage, developerMessage string) {
	response.JSON(c, http.StatusConflict, transport.ConflictResponse{
		Version:          "1.0",
		Status:           http.StatusConflict,
		UserMessage:      userMessage,
		DeveloperMessage: developerMessage,
	})
}
