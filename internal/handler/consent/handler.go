package consent

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arogyalock/consent-api/internal/handler"
	"github.com/arogyalock/consent-api/internal/middleware"
	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/service/audit"
	"github.com/arogyalock/consent-api/internal/service/consent"
	"github.com/arogyalock/consent-api/pkg/validator"
)

type Handler struct {
	service *consent.Service
}

func NewHandler(service *consent.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	consent := r.Group("/consent")
	{
		consent.POST("/request", h.Request)
		consent.GET("/:id", h.Get)
		consent.POST("/:id/respond", h.Respond)
		consent.POST("/:id/revoke", h.Revoke)
	}
	r.GET("/consents", h.List)
}

func (h *Handler) Request(c *gin.Context) {
	actor := middleware.ActorFromContext(c)
	var req model.RequestConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	// A requester may only file requests as themselves.
	if req.RequesterID != actor.ID {
		c.JSON(http.StatusForbidden, handler.NewErrorResponse("requester_id must match the authenticated actor"))
		return
	}

	artifact, err := h.service.Request(c, actor, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(artifact))
}

func (h *Handler) Respond(c *gin.Context) {
	actor := middleware.ActorFromContext(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid artifact id"))
		return
	}

	var req model.RespondConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	artifact, err := h.service.Respond(c, id, actor, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(artifact))
}

func (h *Handler) Revoke(c *gin.Context) {
	actor := middleware.ActorFromContext(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid artifact id"))
		return
	}

	artifact, err := h.service.Revoke(c, id, actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(artifact))
}

func (h *Handler) Get(c *gin.Context) {
	actor := middleware.ActorFromContext(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid artifact id"))
		return
	}

	artifact, err := h.service.Get(c, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if artifact.SubjectID != actor.ID && artifact.RequesterID != actor.ID {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("consent artifact not found"))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(artifact))
}

// List returns the caller's own artifacts: subjects see requests about
// them, everyone sees requests they filed.
func (h *Handler) List(c *gin.Context) {
	actor := middleware.ActorFromContext(c)

	var artifacts []*model.ConsentArtifact
	var err error
	if actor.Role == model.RolePatient {
		artifacts, err = h.service.ListForSubject(c, actor.ID)
	} else {
		artifacts, err = h.service.ListForRequester(c, actor.ID)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(artifacts))
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, consent.ErrNotFound):
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("consent artifact not found"))
	case errors.Is(err, consent.ErrDuplicateActiveGrant):
		c.JSON(http.StatusConflict, handler.NewErrorResponse("an active grant already covers this request"))
	case errors.Is(err, consent.ErrInvalidState):
		c.JSON(http.StatusConflict, handler.NewErrorResponse("artifact state does not permit this transition"))
	case errors.Is(err, consent.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, handler.NewErrorResponse("only the subject may act on this artifact"))
	case errors.Is(err, audit.ErrAuditUnavailable):
		c.JSON(http.StatusServiceUnavailable, handler.NewErrorResponse("audit trail unavailable"))
	case errors.Is(err, validator.ErrInvalidScope):
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("internal server error"))
	}
}
