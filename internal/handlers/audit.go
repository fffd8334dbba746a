package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/datapult/datapult/internal/services"
	"github.com/datapult/datapult/pkg/response"
)

// AuditHandler exposes the administrative audit trail.
type AuditHandler struct {
	audit *services.AuditService
}

func NewAuditHandler(audit *services.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// GET /api/audit
func (h *AuditHandler) List(c *gin.Context) {
	filters := services.AuditFilters{
		ActorID: strings.TrimSpace(c.Query("actor_id")),
		Action:  strings.TrimSpace(c.Query("action")),
		Result:  strings.TrimSpace(c.Query("result")),
	}
	if s := c.Query("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			filters.Since = &t
		}
	}
	if u := c.Query("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			filters.Until = &t
		}
	}

	opts := services.AuditListOptions{
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "per_page", 0),
		Filters:  filters,
	}

	entries, total, err := h.audit.List(requestContext(c), opts)
	if err != nil {
		response.Error(c, err)
		return
	}

	meta := &response.Meta{Page: opts.Page, PerPage: len(entries), Total: int(total)}
	response.SuccessWithMeta(c, http.StatusOK, gin.H{"entries": entries}, meta)
}
