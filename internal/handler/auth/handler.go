package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arogyalock/consent-api/internal/handler"
	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/service/identity"
)

type Handler struct {
	service *identity.Service
}

func NewHandler(service *identity.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/login", h.Login)
		auth.POST("/code", h.IssueCode)
		auth.POST("/code/verify", h.VerifyCode)
		auth.POST("/assertion", h.VerifyAssertion)
	}
}

func (h *Handler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	token, err := h.service.VerifyPassword(c, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(token))
}

func (h *Handler) IssueCode(c *gin.Context) {
	var req model.IssueCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	if err := h.service.IssueCode(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	// Always the same response: the caller cannot probe which identifiers
	// exist.
	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(gin.H{"status": "code issued"}))
}

func (h *Handler) VerifyCode(c *gin.Context) {
	var req model.VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	token, err := h.service.VerifyCode(c, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(token))
}

func (h *Handler) VerifyAssertion(c *gin.Context) {
	var req model.AssertionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	token, err := h.service.VerifyAssertion(c, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(token))
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredential):
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid credential"))
	case errors.Is(err, identity.ErrCodeExpired):
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("code expired"))
	case errors.Is(err, identity.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, handler.NewErrorResponse("too many code requests"))
	default:
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("internal server error"))
	}
}
