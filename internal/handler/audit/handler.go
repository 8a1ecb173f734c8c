package audit

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arogyalock/consent-api/internal/handler"
	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/service/audit"
	apperrors "github.com/arogyalock/consent-api/pkg/errors"
)

type Handler struct {
	service *audit.Service
}

func NewHandler(service *audit.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit", h.Query)
	r.GET("/audit/stats", h.GetStats)
}

// Query pages through the trail newest-first. The `before` parameter is
// a keyset cursor: pass the created_at of the last record seen to resume.
func (h *Handler) Query(c *gin.Context) {
	var filter model.AuditFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.Error(apperrors.NewBadRequest("invalid audit filter", err))
		return
	}

	records, err := h.service.Query(c, &filter)
	if err != nil {
		c.Error(apperrors.NewInternal(err))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(records))
}

func (h *Handler) GetStats(c *gin.Context) {
	var filter model.AuditFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.Error(apperrors.NewBadRequest("invalid audit filter", err))
		return
	}

	stats, err := h.service.GetAggregateStats(c, &filter)
	if err != nil {
		c.Error(apperrors.NewInternal(err))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(stats))
}
