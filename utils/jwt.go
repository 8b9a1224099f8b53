package utils

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tnqbao/gau-repo-evaluator/config"
)

func ExtractToken(c *gin.Context) string {
	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token
	}
	parts := strings.Fields(c.GetHeader("Authorization"))
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}

func ParseToken(tokenString string, cfg *config.EnvConfig) (*jwt.Token, error) {
	secret := []byte(cfg.JWT.SecretKey)
	return jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{cfg.JWT.Algorithm}))
}

// InjectClaimsToContext stores the caller identity. Evaluations are
// attributed to "sub", falling back to "user_id".
func InjectClaimsToContext(c *gin.Context, claims jwt.MapClaims) error {
	subject, _ := claims["sub"].(string)
	if subject == "" {
		subject, _ = claims["user_id"].(string)
	}
	if subject == "" {
		return errors.New("token has no subject")
	}
	c.Set("user_id", subject)

	if permission, ok := claims["permission"].(string); ok {
		c.Set("permission", permission)
	} else {
		c.Set("permission", "")
	}
	return nil
}

// IssueToken signs a token for subject. Used by the CLI and tests.
func IssueToken(cfg *config.EnvConfig, subject string, claims jwt.MapClaims) (string, error) {
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims["sub"] = subject
	method := jwt.GetSigningMethod(cfg.JWT.Algorithm)
	if method == nil {
		method = jwt.SigningMethodHS256
	}
	return jwt.NewWithClaims(method, claims).SignedString([]byte(cfg.JWT.SecretKey))
}
