package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tnqbao/gau-repo-evaluator/config"
	"github.com/tnqbao/gau-repo-evaluator/utils"
)

func AuthMiddleware(config *config.EnvConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := utils.ExtractToken(c)
		if tokenStr == "" {
			tokenStr = c.Query("access_token")
		}

		if tokenStr == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization token is required"})
			c.Abort()
			return
		}

		parsedToken, err := utils.ParseToken(tokenStr, config)
		if err != nil || !parsedToken.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		claims, ok := parsedToken.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			c.Abort()
			return
		}
		if err := utils.InjectClaimsToContext(c, claims); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid claims"})
			c.Abort()
			return
		}

		c.Next()
	}
}

const AdminPermission = "admin"

// RequirePermission must run after AuthMiddleware.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("permission") != permission {
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient permission"})
			c.Abort()
			return
		}
		c.Next()
	}
}
