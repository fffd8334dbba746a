package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/datapult/datapult/internal/middleware"
	"github.com/datapult/datapult/internal/models"
	"github.com/datapult/datapult/internal/services"
	appErrors "github.com/datapult/datapult/pkg/errors"
	"github.com/datapult/datapult/pkg/response"
)

// InviteHandler serves the administrative invitation surface.
type InviteHandler struct {
	invites *services.InviteService
}

func NewInviteHandler(invites *services.InviteService) *InviteHandler {
	return &InviteHandler{invites: invites}
}

type createInviteRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Role     string `json:"role" validate:"omitempty,oneof=user admin"`
	TTLHours int    `json:"ttl_hours" validate:"omitempty,min=1,max=720"`
}

type inviteIssuedResponse struct {
	Invite *models.Invitation `json:"invite"`
	Token  string             `json:"token"`
	Link   string             `json:"link,omitempty"`
}

// POST /api/invites
func (h *InviteHandler) Create(c *gin.Context) {
	var req createInviteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	input := services.CreateInvitationInput{
		Email: req.Email,
		Role:  req.Role,
	}
	if req.TTLHours > 0 {
		input.TTL = time.Duration(req.TTLHours) * time.Hour
	}
	if actorID := c.GetString(middleware.CtxUserIDKey); actorID != "" {
		input.InvitedByID = &actorID
	}

	invite, token, link, err := h.invites.Create(requestContext(c), input)
	if err != nil {
		response.Error(c, translateInviteError(err))
		return
	}

	response.Success(c, http.StatusCreated, inviteIssuedResponse{Invite: invite, Token: token, Link: link})
}

// GET /api/invites
func (h *InviteHandler) List(c *gin.Context) {
	opts := services.ListInvitationsOptions{
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "per_page", 0),
		Status:   strings.TrimSpace(c.Query("status")),
		Email:    c.Query("email"),
	}

	invites, total, err := h.invites.List(requestContext(c), opts)
	if err != nil {
		response.Error(c, translateInviteError(err))
		return
	}

	meta := &response.Meta{
		Page:    opts.Page,
		PerPage: len(invites),
		Total:   int(total),
	}
	response.SuccessWithMeta(c, http.StatusOK, gin.H{"invites": invites}, meta)
}

// POST /api/invites/:id/resend
func (h *InviteHandler) Resend(c *gin.Context) {
	inviteID := strings.TrimSpace(c.Param("id"))
	if inviteID == "" {
		response.Error(c, appErrors.NewBadRequest("invitation id is required"))
		return
	}

	invite, token, link, err := h.invites.Resend(requestContext(c), inviteID)
	if err != nil {
		response.Error(c, translateInviteError(err))
		return
	}

	response.Success(c, http.StatusOK, inviteIssuedResponse{Invite: invite, Token: token, Link: link})
}

// DELETE /api/invites/:id
func (h *InviteHandler) Revoke(c *gin.Context) {
	inviteID := strings.TrimSpace(c.Param("id"))
	if inviteID == "" {
		response.Error(c, appErrors.NewBadRequest("invitation id is required"))
		return
	}

	if err := h.invites.Revoke(requestContext(c), inviteID); err != nil {
		response.Error(c, translateInviteError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// translateInviteError maps invitation sentinels onto the API error taxonomy.
func translateInviteError(err error) error {
	switch {
	case errors.Is(err, services.ErrInviteNotFound):
		return appErrors.ErrNotFound
	case errors.Is(err, services.ErrInviteAlreadyUsed):
		return appErrors.NewBadRequest("Invitation has already been accepted")
	case errors.Is(err, services.ErrInviteExpired):
		return appErrors.NewBadRequest("Invitation has expired")
	case errors.Is(err, services.ErrInviteAlreadyPending):
		return appErrors.NewConflict("An active invitation already exists for this email")
	case errors.Is(err, services.ErrInviteEmailInUse):
		return appErrors.NewConflict("An account already exists for this email address")
	default:
		return err
	}
}
