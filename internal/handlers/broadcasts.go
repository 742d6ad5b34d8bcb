package handlers

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tavolohq/tavolo/internal/middleware"
	"github.com/tavolohq/tavolo/internal/services"
	"github.com/tavolohq/tavolo/pkg/errors"
	"github.com/tavolohq/tavolo/pkg/response"
)

// BroadcastHandler exposes the push broadcast trigger and its audit trail.
type BroadcastHandler struct {
	service *services.BroadcastService
}

// NewBroadcastHandler constructs a broadcast handler.
func NewBroadcastHandler(service *services.BroadcastService) (*BroadcastHandler, error) {
	if service == nil {
		return nil, stderrors.New("broadcast handler: service is required")
	}
	return &BroadcastHandler{service: service}, nil
}

type broadcastRequest struct {
	Title    string `json:"title" validate:"required,max=120"`
	Message  string `json:"message" validate:"required,max=1000"`
	URL      string `json:"url" validate:"omitempty,url"`
	ImageURL string `json:"image_url" validate:"omitempty,url"`
	Icon     string `json:"icon" validate:"omitempty,url"`
	Badge    string `json:"badge" validate:"omitempty,url"`
	Color    string `json:"color" validate:"omitempty,hexcolor"`
	Debug    bool   `json:"debug"`
}

type broadcastResponse struct {
	SentCount      int                    `json:"sent_count"`
	TotalAttempted int                    `json:"total_attempted"`
	Errors         []services.TargetError `json:"errors"`
	DebugInfo      []services.TargetTrace `json:"debug_info,omitempty"`
	NotificationID string                 `json:"notification_id,omitempty"`
}

// Send triggers a broadcast to every active subscription of the tenant.
func (h *BroadcastHandler) Send(c *gin.Context) {
	restaurantID := c.GetString(middleware.CtxRestaurantIDKey)
	if restaurantID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	var payload broadcastRequest
	if !bindAndValidate(c, &payload) {
		return
	}

	result, err := h.service.Broadcast(requestContext(c), restaurantID, services.BroadcastInput{
		Title:    payload.Title,
		Message:  payload.Message,
		URL:      payload.URL,
		ImageURL: payload.ImageURL,
		Icon:     payload.Icon,
		Badge:    payload.Badge,
		Color:    payload.Color,
		Debug:    payload.Debug,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, broadcastResponse{
		SentCount:      result.SentCount,
		TotalAttempted: result.TotalAttempted,
		Errors:         result.Errors,
		DebugInfo:      result.DebugInfo,
		NotificationID: result.NotificationID,
	})
}

// List returns recent broadcast audit records for the tenant.
func (h *BroadcastHandler) List(c *gin.Context) {
	restaurantID := c.GetString(middleware.CtxRestaurantIDKey)
	if restaurantID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	limit := 25
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	items, err := h.service.ListRecent(requestContext(c), restaurantID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, items)
}
