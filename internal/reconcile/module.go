// Package reconcile provides the composition root for the reconciliation
// bounded context.
package reconcile

import (
	"identity_bridge/internal/reconcile/handler"
	"identity_bridge/internal/reconcile/service"
	"identity_bridge/platform/logger"
	"identity_bridge/platform/validator"

	"github.com/gin-gonic/gin"
)

// Module wires the reconciliation engine and its HTTP handler.
type Module struct {
	service *service.Service
	handler *handler.Handler
}

// NewModule creates and initializes the reconciliation module.
func NewModule(directory service.MembershipDirectory, recorder service.LinkageRecorder, accounts service.AccountDirectory, val *validator.Validator, log *logger.Logger) *Module {
	svc := service.New(directory, recorder, accounts, log)
	h := handler.New(svc, val, log)

	return &Module{
		service: svc,
		handler: h,
	}
}

// Service returns the reconciliation engine.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts the reconciliation endpoints on the given group.
func (m *Module) RegisterRoutes(rg *gin.RouterGroup) {
	m.handler.RegisterRoutes(rg)
}
