package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"waitlist_backend/internal/models"
	"waitlist_backend/internal/response"
)

const (
	userIDKey = "userID"
	roleKey   = "role"
)

// AuthMiddleware проверяет валидность access токена
func AuthMiddleware(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			// Браузерный WebSocket не умеет ставить заголовки, поэтому принимаем токен из query.
			if q := c.Query("token"); q != "" {
				authHeader = "Bearer " + q
			}
		}
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorResponse{
				Code:    "NO_AUTH_HEADER",
				Message: "Требуется авторизация",
			})
			return
		}

		claims, err := tokens.ParseAccess(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorResponse{
				Code:    "INVALID_TOKEN",
				Message: "Неверный или просроченный токен",
			})
			return
		}

		SetUser(c, claims)
		c.Next()
	}
}

// RequireAdmin пропускает только администраторов.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Role(c) != models.PriorityAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorResponse{
				Code:    "ADMIN_ONLY",
				Message: "Действие доступно только администратору",
			})
			return
		}
		c.Next()
	}
}

func SetUser(c *gin.Context, claims Claims) {
	c.Set(userIDKey, claims.UserID)
	c.Set(roleKey, claims.Role)
}

func UserID(c *gin.Context) uint {
	return c.GetUint(userIDKey)
}

func Role(c *gin.Context) models.Priority {
	if v, ok := c.Get(roleKey); ok {
		if role, ok := v.(models.Priority); ok {
			return role
		}
	}
	return models.PriorityStudent
}

func IsAdmin(c *gin.Context) bool {
	return Role(c) == models.PriorityAdmin
}
