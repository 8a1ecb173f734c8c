package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arogyalock/consent-api/internal/handler"
	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/pkg/auth"
)

const actorContextKey = "actor"

type AuthMiddleware struct {
	tokens auth.JWTService
}

func NewAuthMiddleware(tokens auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Authenticate verifies the bearer token and sets the verified actor in
// context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing authorization header"))
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid authorization format"))
			c.Abort()
			return
		}

		claims, err := m.tokens.ValidateAccessToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("invalid token"))
			c.Abort()
			return
		}

		c.Set(actorContextKey, &model.Actor{
			ID:         claims.ActorID,
			Role:       claims.Role,
			Identifier: claims.Identifier,
		})
		c.Next()
	}
}

// RequireRole restricts a route to the given roles.
func (m *AuthMiddleware) RequireRole(roles ...model.ActorRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := ActorFromContext(c)
		if actor == nil {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("authentication required"))
			c.Abort()
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, handler.NewErrorResponse("insufficient role"))
		c.Abort()
	}
}

// ActorFromContext returns the verified actor, or nil on unauthenticated
// routes.
func ActorFromContext(c *gin.Context) *model.Actor {
	v, ok := c.Get(actorContextKey)
	if !ok {
		return nil
	}
	actor, ok := v.(*model.Actor)
	if !ok {
		return nil
	}
	return actor
}
