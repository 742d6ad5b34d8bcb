package handlers

import (
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tavolohq/tavolo/internal/middleware"
	"github.com/tavolohq/tavolo/internal/services"
	"github.com/tavolohq/tavolo/pkg/errors"
	"github.com/tavolohq/tavolo/pkg/response"
)

// SubscriptionHandler gives tenants visibility over their delivery targets.
type SubscriptionHandler struct {
	service *services.SubscriptionService
}

// NewSubscriptionHandler constructs a subscription handler.
func NewSubscriptionHandler(service *services.SubscriptionService) (*SubscriptionHandler, error) {
	if service == nil {
		return nil, stderrors.New("subscription handler: service is required")
	}
	return &SubscriptionHandler{service: service}, nil
}

// List returns all delivery targets for the tenant.
func (h *SubscriptionHandler) List(c *gin.Context) {
	restaurantID := c.GetString(middleware.CtxRestaurantIDKey)
	if restaurantID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	items, err := h.service.List(requestContext(c), restaurantID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, items)
}

// Deactivate retires a delivery target manually.
func (h *SubscriptionHandler) Deactivate(c *gin.Context) {
	restaurantID := c.GetString(middleware.CtxRestaurantIDKey)
	if restaurantID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	if err := h.service.Deactivate(requestContext(c), restaurantID, id); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deactivated": true})
}
