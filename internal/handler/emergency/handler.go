package emergency

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arogyalock/consent-api/internal/handler"
	"github.com/arogyalock/consent-api/internal/middleware"
	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/service/audit"
	"github.com/arogyalock/consent-api/internal/service/emergency"
)

const headerDeviceFingerprint = "X-Device-Fingerprint"

type Handler struct {
	service *emergency.Service
}

func NewHandler(service *emergency.Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes wires the unauthenticated break-glass route.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/emergency/:handle", h.Access)
}

// RegisterRoutes wires the authenticated review route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/emergency/events", h.ListEvents)
}

type accessResponse struct {
	View               *model.EmergencyView `json:"view"`
	EventID            string               `json:"event_id"`
	DurationCapSeconds int                  `json:"duration_cap_seconds"`
}

// Access is the anonymous break-glass path. The accessor is identified
// only by a device fingerprint; with no header the client IP stands in.
func (h *Handler) Access(c *gin.Context) {
	fingerprint := c.GetHeader(headerDeviceFingerprint)
	if fingerprint == "" {
		fingerprint = "ip:" + c.ClientIP()
	}

	view, event, err := h.service.Access(c, c.Param("handle"), fingerprint)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(&accessResponse{
		View:               view,
		EventID:            event.ID.String(),
		DurationCapSeconds: event.DurationCapSeconds,
	}))
}

// ListEvents lets a subject review break-glass disclosures of their own
// record.
func (h *Handler) ListEvents(c *gin.Context) {
	actor := middleware.ActorFromContext(c)
	if actor.Role != model.RolePatient {
		c.JSON(http.StatusForbidden, handler.NewErrorResponse("only subjects may review their disclosures"))
		return
	}

	events, err := h.service.ListEventsForSubject(c, actor.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("internal server error"))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(events))
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
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
