package middlewares

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-repo-evaluator/config"
)

func CORSMiddleware(config *config.EnvConfig) gin.HandlerFunc {
	var origins []string
	for _, domain := range strings.Split(config.CORS.AllowDomains, ",") {
		if domain = strings.TrimSpace(domain); domain != "" {
			origins = append(origins, domain)
		}
	}

	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
