package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arogyalock/consent-api/internal/handler"
	"github.com/arogyalock/consent-api/internal/middleware"
	"github.com/arogyalock/consent-api/internal/service/audit"
	"github.com/arogyalock/consent-api/internal/service/emergency"
)

type Handler struct {
	emergencySvc *emergency.Service
}

func NewHandler(emergencySvc *emergency.Service) *Handler {
	return &Handler{emergencySvc: emergencySvc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/admin/emergency-kill-switch", h.SetKillSwitch)
	r.GET("/admin/emergency-kill-switch", h.GetKillSwitch)
}

type killSwitchRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetKillSwitch flips the process-wide break-glass kill switch: enabled
// means break-glass access is refused. The flip is itself audited as a
// privileged administrative event.
func (h *Handler) SetKillSwitch(c *gin.Context) {
	actor := middleware.ActorFromContext(c)
	var req killSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	if err := h.emergencySvc.SetDisabled(c, actor, *req.Enabled); err != nil {
		if errors.Is(err, audit.ErrAuditUnavailable) {
			c.JSON(http.StatusServiceUnavailable, handler.NewErrorResponse("audit trail unavailable"))
			return
		}
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("internal server error"))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"enabled": *req.Enabled}))
}

func (h *Handler) GetKillSwitch(c *gin.Context) {
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"enabled": h.emergencySvc.Disabled()}))
}
