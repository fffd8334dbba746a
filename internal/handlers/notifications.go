package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/datapult/datapult/internal/notifications"
	appErrors "github.com/datapult/datapult/pkg/errors"
	"github.com/datapult/datapult/pkg/response"
)

// NotificationHandler accepts dispatch requests from sibling services and
// hands them to the delivery pipeline.
type NotificationHandler struct {
	notify *notifications.Service
}

func NewNotificationHandler(notify *notifications.Service) *NotificationHandler {
	return &NotificationHandler{notify: notify}
}

type dispatchRequest struct {
	Type      string         `json:"type" validate:"required"`
	Recipient string         `json:"recipient" validate:"required,email"`
	Data      map[string]any `json:"data"`
}

// POST /api/notifications
//
// Returns 202 once the request is accepted and recorded. Delivery outcomes
// live in the delivery log, not in this response's status code.
func (h *NotificationHandler) Dispatch(c *gin.Context) {
	var req dispatchRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if !notifications.ValidType(req.Type) {
		response.Error(c, appErrors.NewBadRequest("Unknown notification type"))
		return
	}

	entry, err := h.notify.Deliver(requestContext(c), notifications.Message{
		Type:      req.Type,
		Recipient: req.Recipient,
		Data:      req.Data,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"delivery": entry})
}
