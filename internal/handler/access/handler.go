package access

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arogyalock/consent-api/internal/handler"
	"github.com/arogyalock/consent-api/internal/middleware"
	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/service/access"
	"github.com/arogyalock/consent-api/internal/service/audit"
	"github.com/arogyalock/consent-api/internal/service/emergency"
	"github.com/arogyalock/consent-api/pkg/validator"
)

type Handler struct {
	service *access.Service
}

func NewHandler(service *access.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/access/evaluate", h.Evaluate)
}

// Evaluate answers an access question. The decision outcome rides in the
// response body with HTTP 200: REQUIRES_CONSENT and DENY are answers,
// not transport errors.
func (h *Handler) Evaluate(c *gin.Context) {
	actor := middleware.ActorFromContext(c)
	var req model.EvaluateAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	decision, err := h.service.Evaluate(c, actor, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(decision))
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, validator.ErrInvalidScope):
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
	case errors.Is(err, emergency.ErrServiceDisabled):
		c.JSON(http.StatusServiceUnavailable, handler.NewErrorResponse("emergency access is disabled"))
	case errors.Is(err, emergency.ErrSubjectNotFound):
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("subject not found"))
	case errors.Is(err, audit.ErrAuditUnavailable):
		c.JSON(http.StatusServiceUnavailable, handler.NewErrorResponse("audit trail unavailable"))
	default:
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("internal server error"))
	}
}
