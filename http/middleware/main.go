package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-repo-evaluator/http/controller"
)

type Middlewares struct {
	RequestIDMiddleware gin.HandlerFunc
	CORSMiddleware      gin.HandlerFunc
	AuthMiddleware      gin.HandlerFunc
	AdminMiddleware     gin.HandlerFunc
}

func NewMiddlewares(ctrl *controller.Controller) (*Middlewares, error) {
	env := ctrl.Config.EnvConfig

	return &Middlewares{
		RequestIDMiddleware: RequestIDMiddleware(),
		CORSMiddleware:      CORSMiddleware(env),
		AuthMiddleware:      AuthMiddleware(env),
		AdminMiddleware:     RequirePermission(AdminPermission),
	}, nil
}
